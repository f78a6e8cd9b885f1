package entities

import (
	"errors"
	"fmt"
	"time"
)

// MessageRole represents the role of a transcript message sender
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// PlaceholderContent is the content of a user message whose transcription
// has not completed yet.
const PlaceholderContent = "…"

// Message represents one turn of the visible interview transcript
type Message struct {
	ID        string      `json:"id" bson:"id" yaml:"id"`
	Role      MessageRole `json:"role" bson:"role" yaml:"role"`
	Content   string      `json:"content" bson:"content" yaml:"content"`
	Timestamp int64       `json:"timestamp" bson:"timestamp" yaml:"timestamp"` // unix milliseconds
}

// NewMessage creates a message stamped with the given time
func NewMessage(id string, role MessageRole, content string, at time.Time) Message {
	return Message{
		ID:        id,
		Role:      role,
		Content:   content,
		Timestamp: at.UnixMilli(),
	}
}

// IsPlaceholder reports whether the message is a user turn still waiting
// for its transcription.
func (m Message) IsPlaceholder() bool {
	return m.Role == MessageRoleUser && m.Content == PlaceholderContent
}

// InterviewMode selects the question bank and interviewer persona
type InterviewMode string

const (
	ModeInternet   InterviewMode = "internet"
	ModeCivil      InterviewMode = "civil"
	ModeBehavioral InterviewMode = "behavioral"
	ModeResume     InterviewMode = "resume"
	ModeTech       InterviewMode = "tech"
)

// InterviewRound selects the interviewer style
type InterviewRound string

const (
	RoundHR       InterviewRound = "hr"
	RoundBusiness InterviewRound = "business"
	RoundPressure InterviewRound = "pressure"
	RoundFinal    InterviewRound = "final"
)

// TurnDetection decides who closes the candidate's turn
type TurnDetection string

const (
	// TurnDetectionAutomatic lets the upstream voice-activity detector close
	// turns and starts recording as soon as the interviewer finishes.
	TurnDetectionAutomatic TurnDetection = "automatic"
	// TurnDetectionManual requires explicit begin/stop answer actions.
	TurnDetectionManual TurnDetection = "manual"
)

// ErrInvalidSettings is returned by Settings.Validate
var ErrInvalidSettings = errors.New("invalid interview settings")

// Settings is the session configuration chosen before the interview starts
type Settings struct {
	Mode          InterviewMode  `json:"mode" bson:"mode" yaml:"mode"`
	Position      string         `json:"position,omitempty" bson:"position,omitempty" yaml:"position"`
	Company       string         `json:"company,omitempty" bson:"company,omitempty" yaml:"company"`
	Round         InterviewRound `json:"round,omitempty" bson:"round,omitempty" yaml:"round"`
	Duration      int            `json:"duration" bson:"duration" yaml:"duration"` // minutes
	Category      string         `json:"category,omitempty" bson:"category,omitempty" yaml:"category"`
	TechStack     string         `json:"techStack,omitempty" bson:"tech_stack,omitempty" yaml:"tech_stack"`
	ResumeContent string         `json:"resumeContent,omitempty" bson:"resume_content,omitempty" yaml:"resume_content"`
	TurnDetection TurnDetection  `json:"turnDetection,omitempty" bson:"turn_detection,omitempty" yaml:"turn_detection"`
}

// DurationSeconds returns the countdown budget of the session
func (s Settings) DurationSeconds() int {
	return s.Duration * 60
}

// Automatic reports whether turns are closed by voice-activity detection.
// An unset mode counts as automatic.
func (s Settings) Automatic() bool {
	return s.TurnDetection != TurnDetectionManual
}

// Validate validates the settings
func (s Settings) Validate() error {
	switch s.Mode {
	case ModeInternet, ModeCivil, ModeBehavioral, ModeResume, ModeTech:
	case "":
		return fmt.Errorf("%w: mode is required", ErrInvalidSettings)
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidSettings, s.Mode)
	}

	switch s.Round {
	case "", RoundHR, RoundBusiness, RoundPressure, RoundFinal:
	default:
		return fmt.Errorf("%w: unknown round %q", ErrInvalidSettings, s.Round)
	}

	switch s.TurnDetection {
	case "", TurnDetectionAutomatic, TurnDetectionManual:
	default:
		return fmt.Errorf("%w: unknown turn detection %q", ErrInvalidSettings, s.TurnDetection)
	}

	if s.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive, got %d", ErrInvalidSettings, s.Duration)
	}

	return nil
}

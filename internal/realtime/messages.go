package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType defines the type of a realtime protocol event
type EventType string

// Client to upstream events
const (
	EventSessionUpdate          EventType = "session.update"
	EventResponseCreate         EventType = "response.create"
	EventInputAudioBufferAppend EventType = "input_audio_buffer.append"
	EventInputAudioBufferCommit EventType = "input_audio_buffer.commit"
)

// Upstream to client events
const (
	EventSessionCreated             EventType = "session.created"
	EventSessionUpdated             EventType = "session.updated"
	EventResponseAudioDelta         EventType = "response.audio.delta"
	EventResponseTranscriptDelta    EventType = "response.audio_transcript.delta"
	EventResponseTranscriptDone     EventType = "response.audio_transcript.done"
	EventResponseDone               EventType = "response.done"
	EventInputTranscriptionComplete EventType = "conversation.item.input_audio_transcription.completed"
	EventSpeechStarted              EventType = "input_audio_buffer.speech_started"
	EventSpeechStopped              EventType = "input_audio_buffer.speech_stopped"
	EventError                      EventType = "error"
)

// ErrProtocolParse is returned when a message does not match the expected structure
var ErrProtocolParse = errors.New("protocol parse error")

// SessionUpdate configures the upstream session
type SessionUpdate struct {
	Type    EventType     `json:"type"`
	Session SessionConfig `json:"session"`
}

// SessionConfig is the payload of session.update
type SessionConfig struct {
	Modalities              []string                 `json:"modalities"`
	Instructions            string                   `json:"instructions"`
	Voice                   string                   `json:"voice"`
	InputAudioFormat        string                   `json:"input_audio_format"`
	OutputAudioFormat       string                   `json:"output_audio_format"`
	InputAudioTranscription *InputAudioTranscription `json:"input_audio_transcription,omitempty"`
	// TurnDetection is serialized as null for manual turn control
	TurnDetection *TurnDetection `json:"turn_detection"`
}

// InputAudioTranscription selects the transcription model
type InputAudioTranscription struct {
	Model string `json:"model"`
}

// TurnDetection configures server-side voice-activity detection
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms"`
	SilenceDurationMS int     `json:"silence_duration_ms"`
	CreateResponse    bool    `json:"create_response"`
}

// ResponseCreate asks upstream to produce the next utterance
type ResponseCreate struct {
	Type     EventType        `json:"type"`
	Response *ResponseOptions `json:"response,omitempty"`
}

// ResponseOptions carries ad hoc instructions for one response
type ResponseOptions struct {
	Modalities   []string `json:"modalities,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
}

// InputAudioBufferAppend streams one encoded audio frame upstream
type InputAudioBufferAppend struct {
	Type  EventType `json:"type"`
	Audio string    `json:"audio"`
}

// InputAudioBufferCommit closes the current input buffer
type InputAudioBufferCommit struct {
	Type EventType `json:"type"`
}

// ErrorDetail is the error payload of an error event
type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ServerEvent is the union of the upstream events the client interprets
type ServerEvent struct {
	Type       EventType    `json:"type"`
	EventID    string       `json:"event_id,omitempty"`
	ItemID     string       `json:"item_id,omitempty"`
	Delta      string       `json:"delta,omitempty"`
	Transcript string       `json:"transcript,omitempty"`
	Error      *ErrorDetail `json:"error,omitempty"`
}

// Known reports whether the event type is interpreted by the client
func (e *ServerEvent) Known() bool {
	switch e.Type {
	case EventSessionCreated, EventSessionUpdated,
		EventResponseAudioDelta, EventResponseTranscriptDelta, EventResponseTranscriptDone,
		EventResponseDone, EventInputTranscriptionComplete,
		EventSpeechStarted, EventSpeechStopped, EventError:
		return true
	}
	return false
}

// ParseServerEvent decodes and validates an upstream message
func ParseServerEvent(data []byte) (*ServerEvent, error) {
	var event ServerEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON format: %w", ErrProtocolParse, err)
	}
	if event.Type == "" {
		return nil, fmt.Errorf("%w: message missing type field", ErrProtocolParse)
	}

	switch event.Type {
	case EventResponseAudioDelta:
		if event.Delta == "" {
			return nil, fmt.Errorf("%w: %s requires delta", ErrProtocolParse, event.Type)
		}
	case EventError:
		if event.Error == nil {
			return nil, fmt.Errorf("%w: error event missing error payload", ErrProtocolParse)
		}
	}

	return &event, nil
}

// NewSessionUpdate creates a session.update event
func NewSessionUpdate(config SessionConfig) *SessionUpdate {
	return &SessionUpdate{Type: EventSessionUpdate, Session: config}
}

// NewResponseCreate creates a response.create event. Empty instructions omit
// the response payload.
func NewResponseCreate(instructions string) *ResponseCreate {
	msg := &ResponseCreate{Type: EventResponseCreate}
	if instructions != "" {
		msg.Response = &ResponseOptions{
			Modalities:   []string{"audio", "text"},
			Instructions: instructions,
		}
	}
	return msg
}

// NewInputAudioBufferAppend creates an input_audio_buffer.append event
func NewInputAudioBufferAppend(frame string) *InputAudioBufferAppend {
	return &InputAudioBufferAppend{Type: EventInputAudioBufferAppend, Audio: frame}
}

// NewInputAudioBufferCommit creates an input_audio_buffer.commit event
func NewInputAudioBufferCommit() *InputAudioBufferCommit {
	return &InputAudioBufferCommit{Type: EventInputAudioBufferCommit}
}

// NewErrorEvent creates a synthetic error event delivered to a client
func NewErrorEvent(message string) []byte {
	payload, _ := json.Marshal(ServerEvent{
		Type:  EventError,
		Error: &ErrorDetail{Message: message},
	})
	return payload
}

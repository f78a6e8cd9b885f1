package entities

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ReportDimension is one scored axis of the interview report
type ReportDimension struct {
	Name    string `json:"name" bson:"name"`
	Score   int    `json:"score" bson:"score"`
	Comment string `json:"comment" bson:"comment"`
}

// Report is the scored evaluation produced after the session ends
type Report struct {
	TotalScore     int               `json:"totalScore" bson:"total_score"`
	Dimensions     []ReportDimension `json:"dimensions" bson:"dimensions"`
	Suggestions    []string          `json:"suggestions" bson:"suggestions"`
	Highlights     []string          `json:"highlights" bson:"highlights"`
	OverallComment string            `json:"overallComment" bson:"overall_comment"`
}

// InterviewResult represents a finished interview stored for later display
type InterviewResult struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Messages  []Message          `json:"messages" bson:"messages"`
	Settings  Settings           `json:"settings" bson:"settings"`
	Report    *Report            `json:"report,omitempty" bson:"report,omitempty"`
	CreatedAt time.Time          `json:"created_at" bson:"created_at"`
}

// NewInterviewResult creates a result from the handed-off transcript
func NewInterviewResult(messages []Message, settings Settings, report *Report) *InterviewResult {
	return &InterviewResult{
		ID:        primitive.NewObjectID(),
		Messages:  messages,
		Settings:  settings,
		Report:    report,
		CreatedAt: time.Now(),
	}
}

// CandidateTurns counts the user messages in the transcript
func (r *InterviewResult) CandidateTurns() int {
	n := 0
	for _, m := range r.Messages {
		if m.Role == MessageRoleUser {
			n++
		}
	}
	return n
}

// Validate validates the result data
func (r *InterviewResult) Validate() error {
	if r.ID.IsZero() {
		return errors.New("id is required")
	}
	if r.CreatedAt.IsZero() {
		return errors.New("created_at is required")
	}
	return r.Settings.Validate()
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// QueryResult is the answer to one natural-language question.
// SQL and Data are the tool service's payload, surfaced verbatim.
type QueryResult struct {
	Question  string    `json:"question" yaml:"question"`
	SQL       string    `json:"sql" yaml:"sql"`
	Data      any       `json:"data" yaml:"data"` // array of records or a single object
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// TranscriptEntryKind identifies what a chat transcript entry represents.
type TranscriptEntryKind string

const (
	TranscriptKindQuestion TranscriptEntryKind = "question"
	TranscriptKindResult   TranscriptEntryKind = "result"
	TranscriptKindError    TranscriptEntryKind = "error"
	TranscriptKindStatus   TranscriptEntryKind = "status"
)

// TranscriptEntry is one immutable line of a workspace's conversation.
// A result entry owns its QueryResult.
type TranscriptEntry struct {
	ID          uuid.UUID           `json:"id" yaml:"id"`
	WorkspaceID string              `json:"-" yaml:"-"`
	Kind        TranscriptEntryKind `json:"kind" yaml:"kind"`
	Text        string              `json:"text,omitempty" yaml:"text,omitempty"`
	Result      *QueryResult        `json:"result,omitempty" yaml:"result,omitempty"`
	CreatedAt   time.Time           `json:"created_at" yaml:"created_at"`
}

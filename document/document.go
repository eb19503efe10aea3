// Package document defines Document instances and validates payloads
// against a Form.
package document

import (
	"slices"
	"time"

	formflow "github.com/goliatone/go-formflow"
	"github.com/goliatone/go-formflow/field"
)

// HistoryRecord is one entry of a document's transition history.
// The creation entry has an empty TransitionID and From.
type HistoryRecord struct {
	TransitionID string    `json:"transition_id,omitempty"`
	From         string    `json:"from,omitempty"`
	Phase        string    `json:"phase"`
	Actor        string    `json:"actor"`
	At           time.Time `json:"at"`
}

// Document is an instance of a Form moving through its Workflow.
// Version is the optimistic concurrency stamp; it starts at 1 and grows by
// one on every commit.
type Document struct {
	ID        string          `json:"id"`
	Form      formflow.Ref    `json:"form"`
	Workflow  formflow.Ref    `json:"workflow"`
	Phase     string          `json:"phase"`
	Values    field.ValueMap  `json:"values"`
	History   []HistoryRecord `json:"history"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.Values = d.Values.Clone()
	out.History = slices.Clone(d.History)
	return &out
}

// LastRecord returns the most recent history entry.
func (d *Document) LastRecord() (HistoryRecord, bool) {
	if len(d.History) == 0 {
		return HistoryRecord{}, false
	}
	return d.History[len(d.History)-1], true
}

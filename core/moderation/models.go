package moderation

import (
	"time"

	"github.com/nithadya/classsync/core"
)

type ContentType string

const (
	ContentNote       ContentType = "note"
	ContentQuestion   ContentType = "question"
	ContentAnswer     ContentType = "answer"
	ContentFlashcard  ContentType = "flashcard"
	ContentPost       ContentType = "post"
	ContentSubmission ContentType = "submission"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Verdict is a classifier's answer.
type Verdict struct {
	IsFlagged   bool    `json:"isFlagged"`
	Category    string  `json:"category"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

// Result is what callers of Moderate act on.
type Result struct {
	Allowed bool     `json:"allowed"`
	Reason  string   `json:"reason,omitempty"`
	Verdict *Verdict `json:"verdict,omitempty"`
}

// FlaggedContent is content held for an admin, flagged automatically or reported by a user.
type FlaggedContent struct {
	ID          string      `json:"id"`
	ContentID   string      `json:"content_id"`
	ContentType ContentType `json:"content_type"`
	Content     string      `json:"content"`
	Reason      string      `json:"reason"`
	Status      Status      `json:"status"`
	ReportedBy  string      `json:"reported_by,omitempty"`
	Analysis    *Verdict    `json:"ai_analysis,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	ReviewedBy  string      `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time  `json:"reviewed_at,omitempty"`
}

// NewReport is a user's report on a piece of content.
type NewReport struct {
	ContentID   string      `json:"content_id" validate:"required"`
	ContentType ContentType `json:"content_type" validate:"required,oneof=note question answer flashcard post submission"`
	Content     string      `json:"content" validate:"required,notblank"`
	Reason      string      `json:"reason" validate:"required,notblank,max=500"`
}

func (nr *NewReport) Clean() {
	nr.ContentID = core.CleanString(nr.ContentID)
	nr.ContentType = ContentType(core.CleanString(string(nr.ContentType), true /* lower */))
	nr.Content = core.CleanString(nr.Content)
	nr.Reason = core.CleanString(nr.Reason)
}

// Resolution is an admin's decision on a flag.
type Resolution struct {
	Status Status `json:"status" validate:"required,oneof=approved rejected"`
}

type QueryFilter struct {
	Status      Status      `query:"status"`
	ContentType ContentType `query:"content_type"`
}

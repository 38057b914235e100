package points

import (
	"time"

	"github.com/nithadya/classsync/core"
)

// LedgerEntry is an immutable point-earning event.
type LedgerEntry struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Kind         ActionKind `json:"action_kind"`
	Points       int        `json:"points_awarded"`
	OccurredAt   time.Time  `json:"occurred_at"` // UTC
	AwardedBy    string     `json:"awarded_by,omitempty"`
	SubmissionID string     `json:"submission_id,omitempty"`
}

type LedgerFilter struct {
	UserID string
	Since  time.Time // inclusive; zero means no lower bound
}

// UserScore is the per-user aggregate of the ledger.
type UserScore struct {
	UserID             string    `json:"user_id"`
	TotalPoints        int       `json:"total_points"`
	NotesUploaded      int       `json:"notes_uploaded"`
	QuestionsAnswered  int       `json:"questions_answered"`
	FlashcardsCreated  int       `json:"flashcards_created"`
	CollaborativePosts int       `json:"collaborative_posts"`
	AnswersUpvoted     int       `json:"answers_upvoted"`
	Level              Level     `json:"level"`
	LastUpdated        time.Time `json:"last_updated"` // UTC

	// Version is bumped by every committed write; 0 means the row does not exist yet.
	Version int64 `json:"-"`
}

// NewUserScore returns the empty score a user starts with.
func NewUserScore(userID string) UserScore {
	return UserScore{UserID: userID, Level: LevelBeginner}
}

// WithLevel returns s with Level derived from TotalPoints.
func (s UserScore) WithLevel() UserScore {
	s.Level = Classify(s.TotalPoints)
	return s
}

// Apply returns s with e added: points, the matching category counter, and lastUpdated = now.
func (s UserScore) Apply(e LedgerEntry, now time.Time) UserScore {
	s.TotalPoints += e.Points
	switch e.Kind {
	case ActionNoteUpload:
		s.NotesUploaded++
	case ActionQuestionAnswer:
		s.QuestionsAnswered++
	case ActionFlashcardCreated:
		s.FlashcardsCreated++
	case ActionCollaborativePost:
		s.CollaborativePosts++
	case ActionUpvoteReceived:
		s.AnswersUpvoted++
	}
	s.LastUpdated = now
	return s.WithLevel()
}

// ScoreChange describes one committed UserScore mutation.
type ScoreChange struct {
	UserID    string    `json:"user_id"`
	OldPoints int       `json:"old_points"`
	NewPoints int       `json:"new_points"`
	OldLevel  Level     `json:"old_level"`
	NewLevel  Level     `json:"new_level"`
	Version   int64     `json:"version"`
	At        time.Time `json:"at"`
}

func newScoreChange(before, after UserScore) ScoreChange {
	oldLevel := before.Level
	if oldLevel == "" {
		oldLevel = Classify(before.TotalPoints)
	}
	return ScoreChange{
		UserID:    after.UserID,
		OldPoints: before.TotalPoints,
		NewPoints: after.TotalPoints,
		OldLevel:  oldLevel,
		NewLevel:  after.Level,
		Version:   after.Version,
		At:        after.LastUpdated,
	}
}

// SubmissionType is the kind of learner artifact a submission holds.
type SubmissionType string

const (
	SubmissionNote      SubmissionType = "note"
	SubmissionQuestion  SubmissionType = "question"
	SubmissionFlashcard SubmissionType = "flashcard"
	SubmissionPost      SubmissionType = "post"
)

type SubmissionStatus string

const (
	StatusPending  SubmissionStatus = "pending"
	StatusReviewed SubmissionStatus = "reviewed"
)

// Submission is a learner-authored artifact awaiting a contributor's review.
type Submission struct {
	ID            string           `json:"id"`
	UserID        string           `json:"user_id"`
	UserName      string           `json:"user_name,omitempty"`
	Type          SubmissionType   `json:"type"`
	Title         string           `json:"title"`
	Content       string           `json:"content"`
	PointsAwarded *int             `json:"points_awarded"`
	Status        SubmissionStatus `json:"status"`
	ReviewedBy    string           `json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time       `json:"reviewed_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

func (s Submission) IsReviewed() bool {
	return s.Status == StatusReviewed
}

// NewSubmission contains information needed to create a Submission.
type NewSubmission struct {
	Type    SubmissionType `json:"type" validate:"required,oneof=note question flashcard post"`
	Title   string         `json:"title" validate:"required,notblank,singleline,max=200"`
	Content string         `json:"content" validate:"required,notblank,max=20000"`
}

func (ns *NewSubmission) Clean() {
	ns.Type = SubmissionType(core.CleanString(string(ns.Type), true /* lower */))
	ns.Title = core.CleanString(ns.Title)
	ns.Content = core.CleanString(ns.Content)
}

// ReviewSubmission is the body of a review.
type ReviewSubmission struct {
	PointsAwarded *int `json:"points_awarded" validate:"required"`
}

type SubmissionFilter struct {
	Search     string           `query:"search"` // title or learner name
	Status     SubmissionStatus `query:"status"`
	Type       SubmissionType   `query:"type"`
	UserID     string           `query:"user_id"`
	ReviewedBy string           `query:"-"`
}

func (sf *SubmissionFilter) Clean() {
	sf.Search = core.CleanString(sf.Search)
	sf.Status = SubmissionStatus(core.CleanString(string(sf.Status), true /* lower */))
	sf.Type = SubmissionType(core.CleanString(string(sf.Type), true /* lower */))
}

// ReviewerStats sums the reviews done by one contributor.
type ReviewerStats struct {
	ReviewerID         string `json:"reviewer_id"`
	TotalReviews       int    `json:"total_reviews"`
	TotalPointsAwarded int    `json:"total_points_awarded"`
	NotesReviewed      int    `json:"notes_reviewed"`
	QuestionsReviewed  int    `json:"questions_reviewed"`
	FlashcardsReviewed int    `json:"flashcards_reviewed"`
	PostsReviewed      int    `json:"posts_reviewed"`
}

// ManualAward is the body of a manual point grant.
type ManualAward struct {
	UserID string `json:"user_id" validate:"required"`
	Amount *int   `json:"amount" validate:"required"`
}

// Mismatch is a score row whose total disagrees with its ledger.
type Mismatch struct {
	UserID       string `json:"user_id"`
	TotalPoints  int    `json:"total_points"`
	LedgerPoints int    `json:"ledger_points"`
}

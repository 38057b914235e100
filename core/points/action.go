package points

import (
	"strings"
)

// ActionKind is a point-earning action.
type ActionKind string

const (
	ActionNoteUpload        ActionKind = "NOTE_UPLOAD"
	ActionQuestionAnswer    ActionKind = "QUESTION_ANSWER"
	ActionCollaborativePost ActionKind = "COLLABORATIVE_POST"
	ActionUpvoteReceived    ActionKind = "UPVOTE_RECEIVED"
	ActionFlashcardCreated  ActionKind = "FLASHCARD_CREATED"

	// variable amounts, granted by a contributor or an admin
	ActionManualAward        ActionKind = "MANUAL_AWARD"
	ActionSubmissionReviewed ActionKind = "SUBMISSION_REVIEWED"
)

const (
	MinAward = 0
	MaxAward = 100
)

// pointValues is the fixed action -> points table.
var pointValues = map[ActionKind]int{
	ActionNoteUpload:        50,
	ActionQuestionAnswer:    30,
	ActionCollaborativePost: 20,
	ActionUpvoteReceived:    5,
	ActionFlashcardCreated:  10,
}

// RecordableKinds lists the kinds callers may record, in table order.
var RecordableKinds = []ActionKind{
	ActionNoteUpload,
	ActionQuestionAnswer,
	ActionCollaborativePost,
	ActionUpvoteReceived,
	ActionFlashcardCreated,
}

// Points returns the fixed value of k. ok is false for kinds outside the table.
func (k ActionKind) Points() (int, bool) {
	pts, ok := pointValues[k]
	return pts, ok
}

func (k ActionKind) Recordable() bool {
	_, ok := pointValues[k]
	return ok
}

// Granted reports whether k carries a variable amount picked by a reviewer.
func (k ActionKind) Granted() bool {
	return k == ActionManualAward || k == ActionSubmissionReviewed
}

func (k ActionKind) Valid() bool {
	return k.Recordable() || k.Granted()
}

// ParseActionKind accepts any casing and "-" for "_". Only recordable kinds are returned.
func ParseActionKind(s string) (ActionKind, error) {
	k := ActionKind(strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", "_"))
	if !k.Recordable() {
		return "", ErrInvalidActionKind
	}
	return k, nil
}

// ClampAward bounds a granted amount to [MinAward, MaxAward]. clamped is true when amount was out of range.
func ClampAward(amount int) (pts int, clamped bool) {
	switch {
	case amount < MinAward:
		return MinAward, true
	case amount > MaxAward:
		return MaxAward, true
	}
	return amount, false
}

package points

import (
	"context"

	"github.com/nithadya/classsync/core/moderation"
	"github.com/nithadya/classsync/core/user"
)

type (
	// Repository persists the ledger, the scores and the submissions.
	// Writes on a UserScore are versioned: they fail with ErrConcurrentUpdate when
	// the stored version is not the one the caller read.
	Repository interface {
		InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (LedgerEntry, error)
		QueryLedgerEntries(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error)
		// SumLedgerPoints returns the total points per user, over the whole ledger.
		SumLedgerPoints(ctx context.Context) (map[string]int, error)

		// GetScore returns ErrScoreNotFound when the user has no row yet.
		GetScore(ctx context.Context, userID string) (UserScore, error)
		// CreateScore inserts score with version 1; ErrConcurrentUpdate if a row already exists.
		CreateScore(ctx context.Context, score UserScore) (UserScore, error)
		// UpdateScore writes score if the stored version is score.Version, and bumps it.
		UpdateScore(ctx context.Context, score UserScore) (UserScore, error)
		QueryScores(ctx context.Context) ([]UserScore, error)

		CreateSubmission(ctx context.Context, sub Submission) (Submission, error)
		// GetSubmission returns ErrSubmissionNotFound when id is unknown.
		GetSubmission(ctx context.Context, id string) (Submission, error)
		// MarkSubmissionReviewed flips a pending submission to reviewed.
		// It returns ErrAlreadyReviewed, and changes nothing, when the submission is not pending anymore.
		MarkSubmissionReviewed(ctx context.Context, sub Submission) (Submission, error)
		// QuerySubmissions returns the matches, newest first. Search is left to the caller.
		QuerySubmissions(ctx context.Context, filter SubmissionFilter) ([]Submission, error)
	}

	// Store is a Repository able to run several calls as one transaction.
	Store interface {
		Repository
		// WithinTx runs fn in a transaction committed when fn returns nil.
		// The Repository given to fn is bound to the transaction.
		WithinTx(ctx context.Context, fn func(repo Repository) error) error
	}

	// UserDirectory resolves identities. *user.Service implements it.
	UserDirectory interface {
		GetByID(ctx context.Context, id string) (user.User, error)
		DisplayNames(ctx context.Context, ids []string) (map[string]string, error)
	}

	// Moderator screens learner content. *moderation.Service implements it.
	Moderator interface {
		Moderate(ctx context.Context, content string, contentType moderation.ContentType, contentID string) moderation.Result
	}
)

package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/nithadya/classsync/core/points"
)

const (
	ledgerColumns     = `id, user_id, action_kind, points, occurred_at, awarded_by, submission_id`
	scoreColumns      = `user_id, total_points, notes_uploaded, questions_answered, flashcards_created, collaborative_posts, answers_upvoted, last_updated, version`
	submissionColumns = `id, user_id, type, title, content, points_awarded, status, reviewed_by, reviewed_at, created_at, updated_at`

	pqUniqueViolation   = "23505"
	pqSerializationFail = "40001"
)

type (
	ledgerRow struct {
		ID           string      `db:"id"`
		UserID       string      `db:"user_id"`
		Kind         string      `db:"action_kind"`
		Points       int         `db:"points"`
		OccurredAt   time.Time   `db:"occurred_at"`
		AwardedBy    null.String `db:"awarded_by"`
		SubmissionID null.String `db:"submission_id"`
	}

	scoreRow struct {
		UserID             string    `db:"user_id"`
		TotalPoints        int       `db:"total_points"`
		NotesUploaded      int       `db:"notes_uploaded"`
		QuestionsAnswered  int       `db:"questions_answered"`
		FlashcardsCreated  int       `db:"flashcards_created"`
		CollaborativePosts int       `db:"collaborative_posts"`
		AnswersUpvoted     int       `db:"answers_upvoted"`
		LastUpdated        time.Time `db:"last_updated"`
		Version            int64     `db:"version"`
	}

	submissionRow struct {
		ID            string      `db:"id"`
		UserID        string      `db:"user_id"`
		Type          string      `db:"type"`
		Title         string      `db:"title"`
		Content       string      `db:"content"`
		PointsAwarded null.Int    `db:"points_awarded"`
		Status        string      `db:"status"`
		ReviewedBy    null.String `db:"reviewed_by"`
		ReviewedAt    null.Time   `db:"reviewed_at"`
		CreatedAt     time.Time   `db:"created_at"`
		UpdatedAt     time.Time   `db:"updated_at"`
	}
)

func toLedgerRow(e points.LedgerEntry) ledgerRow {
	return ledgerRow{
		ID:           e.ID,
		UserID:       e.UserID,
		Kind:         string(e.Kind),
		Points:       e.Points,
		OccurredAt:   e.OccurredAt.UTC(),
		AwardedBy:    null.NewString(e.AwardedBy, e.AwardedBy != ""),
		SubmissionID: null.NewString(e.SubmissionID, e.SubmissionID != ""),
	}
}

func (r ledgerRow) entry() points.LedgerEntry {
	return points.LedgerEntry{
		ID:           r.ID,
		UserID:       r.UserID,
		Kind:         points.ActionKind(r.Kind),
		Points:       r.Points,
		OccurredAt:   r.OccurredAt.UTC(),
		AwardedBy:    r.AwardedBy.String,
		SubmissionID: r.SubmissionID.String,
	}
}

func toScoreRow(s points.UserScore) scoreRow {
	return scoreRow{
		UserID:             s.UserID,
		TotalPoints:        s.TotalPoints,
		NotesUploaded:      s.NotesUploaded,
		QuestionsAnswered:  s.QuestionsAnswered,
		FlashcardsCreated:  s.FlashcardsCreated,
		CollaborativePosts: s.CollaborativePosts,
		AnswersUpvoted:     s.AnswersUpvoted,
		LastUpdated:        s.LastUpdated.UTC(),
		Version:            s.Version,
	}
}

// score derives Level, which is not stored.
func (r scoreRow) score() points.UserScore {
	return points.UserScore{
		UserID:             r.UserID,
		TotalPoints:        r.TotalPoints,
		NotesUploaded:      r.NotesUploaded,
		QuestionsAnswered:  r.QuestionsAnswered,
		FlashcardsCreated:  r.FlashcardsCreated,
		CollaborativePosts: r.CollaborativePosts,
		AnswersUpvoted:     r.AnswersUpvoted,
		LastUpdated:        r.LastUpdated.UTC(),
		Version:            r.Version,
	}.WithLevel()
}

func toSubmissionRow(sub points.Submission) submissionRow {
	row := submissionRow{
		ID:         sub.ID,
		UserID:     sub.UserID,
		Type:       string(sub.Type),
		Title:      sub.Title,
		Content:    sub.Content,
		Status:     string(sub.Status),
		ReviewedBy: null.NewString(sub.ReviewedBy, sub.ReviewedBy != ""),
		ReviewedAt: null.TimeFromPtr(sub.ReviewedAt),
		CreatedAt:  sub.CreatedAt.UTC(),
		UpdatedAt:  sub.UpdatedAt.UTC(),
	}
	if sub.PointsAwarded != nil {
		row.PointsAwarded = null.IntFrom(*sub.PointsAwarded)
	}
	return row
}

func (r submissionRow) submission() points.Submission {
	sub := points.Submission{
		ID:         r.ID,
		UserID:     r.UserID,
		Type:       points.SubmissionType(r.Type),
		Title:      r.Title,
		Content:    r.Content,
		Status:     points.SubmissionStatus(r.Status),
		ReviewedBy: r.ReviewedBy.String,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
	if r.PointsAwarded.Valid {
		pts := r.PointsAwarded.Int
		sub.PointsAwarded = &pts
	}
	if r.ReviewedAt.Valid {
		at := r.ReviewedAt.Time.UTC()
		sub.ReviewedAt = &at
	}
	return sub
}

// isPQError reports whether err is a postgres error with code.
func isPQError(err error, code string) bool {
	pqErr, ok := errors.Cause(err).(*pq.Error)
	return ok && string(pqErr.Code) == code
}

// pointsRepository runs its queries on ext, the DB or a transaction.
type pointsRepository struct {
	ext sqlx.ExtContext
}

type pointsStore struct {
	pointsRepository
	db *sqlx.DB
}

var _ points.Store = (*pointsStore)(nil) // interface compliance check

func NewPointsStore(db *sqlx.DB) points.Store {
	return &pointsStore{pointsRepository: pointsRepository{ext: db}, db: db}
}

// WithinTx runs fn in a read committed transaction. Conflicts are caught by the versioned
// writes of fn; a serialization failure reported by postgres is surfaced as points.ErrConcurrentUpdate.
func (store *pointsStore) WithinTx(ctx context.Context, fn func(repo points.Repository) error) (err error) {
	tx, err := store.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&pointsRepository{ext: tx}); err != nil {
		if isPQError(err, pqSerializationFail) {
			return points.ErrConcurrentUpdate
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		if isPQError(err, pqSerializationFail) {
			return points.ErrConcurrentUpdate
		}
		return errors.Wrap(err, "committing transaction")
	}
	return nil
}

func (repo *pointsRepository) InsertLedgerEntry(ctx context.Context, entry points.LedgerEntry) (points.LedgerEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	row := toLedgerRow(entry)
	q := `INSERT INTO ledger_entry (` + ledgerColumns + `)
		VALUES (:id, :user_id, :action_kind, :points, :occurred_at, :awarded_by, :submission_id)`
	if _, err := sqlx.NamedExecContext(ctx, repo.ext, q, row); err != nil {
		if isPQError(err, pqUniqueViolation) && entry.SubmissionID != "" {
			// one ledger entry per submission
			return points.LedgerEntry{}, points.ErrAlreadyReviewed
		}
		return points.LedgerEntry{}, errors.Wrap(err, "inserting ledger entry")
	}
	return row.entry(), nil
}

func (repo *pointsRepository) QueryLedgerEntries(ctx context.Context, filter points.LedgerFilter) ([]points.LedgerEntry, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.UserID != "" {
		where = append(where, `user_id = ?`)
		args = append(args, filter.UserID)
	}
	if !filter.Since.IsZero() {
		where = append(where, `occurred_at >= ?`)
		args = append(args, filter.Since.UTC())
	}
	q := `SELECT ` + ledgerColumns + ` FROM ledger_entry`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY occurred_at ASC, id ASC`

	var rows []ledgerRow
	if err := sqlx.SelectContext(ctx, repo.ext, &rows, repo.ext.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying ledger entries")
	}
	entries := make([]points.LedgerEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.entry())
	}
	return entries, nil
}

func (repo *pointsRepository) SumLedgerPoints(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		UserID string `db:"user_id"`
		Total  int    `db:"total"`
	}
	q := `SELECT user_id, COALESCE(SUM(points), 0) AS total FROM ledger_entry GROUP BY user_id`
	if err := sqlx.SelectContext(ctx, repo.ext, &rows, q); err != nil {
		return nil, errors.Wrap(err, "summing ledger points")
	}
	sums := make(map[string]int, len(rows))
	for _, r := range rows {
		sums[r.UserID] = r.Total
	}
	return sums, nil
}

func (repo *pointsRepository) GetScore(ctx context.Context, userID string) (points.UserScore, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return points.UserScore{}, points.ErrScoreNotFound
	}
	var row scoreRow
	err := sqlx.GetContext(ctx, repo.ext, &row, `SELECT `+scoreColumns+` FROM user_score WHERE user_id = $1`, userID)
	if err == sql.ErrNoRows {
		return points.UserScore{}, points.ErrScoreNotFound
	} else if err != nil {
		return points.UserScore{}, errors.Wrap(err, "finding score")
	}
	return row.score(), nil
}

func (repo *pointsRepository) CreateScore(ctx context.Context, score points.UserScore) (points.UserScore, error) {
	score.Version = 1
	row := toScoreRow(score)
	q := `INSERT INTO user_score (` + scoreColumns + `)
		VALUES (:user_id, :total_points, :notes_uploaded, :questions_answered, :flashcards_created,
			:collaborative_posts, :answers_upvoted, :last_updated, :version)
		ON CONFLICT (user_id) DO NOTHING`
	res, err := sqlx.NamedExecContext(ctx, repo.ext, q, row)
	if err != nil {
		return points.UserScore{}, errors.Wrap(err, "inserting score")
	}
	if n, err := res.RowsAffected(); err != nil {
		return points.UserScore{}, errors.Wrap(err, "inserting score")
	} else if n == 0 {
		return points.UserScore{}, points.ErrConcurrentUpdate
	}
	return row.score(), nil
}

func (repo *pointsRepository) UpdateScore(ctx context.Context, score points.UserScore) (points.UserScore, error) {
	row := toScoreRow(score)
	q := `UPDATE user_score SET total_points = $1, notes_uploaded = $2, questions_answered = $3,
		flashcards_created = $4, collaborative_posts = $5, answers_upvoted = $6, last_updated = $7,
		version = version + 1
		WHERE user_id = $8 AND version = $9`
	res, err := repo.ext.ExecContext(ctx, q,
		row.TotalPoints, row.NotesUploaded, row.QuestionsAnswered, row.FlashcardsCreated,
		row.CollaborativePosts, row.AnswersUpvoted, row.LastUpdated, row.UserID, row.Version)
	if err != nil {
		return points.UserScore{}, errors.Wrap(err, "updating score")
	}
	if n, err := res.RowsAffected(); err != nil {
		return points.UserScore{}, errors.Wrap(err, "updating score")
	} else if n == 0 {
		return points.UserScore{}, points.ErrConcurrentUpdate
	}
	row.Version++
	return row.score(), nil
}

func (repo *pointsRepository) QueryScores(ctx context.Context) ([]points.UserScore, error) {
	var rows []scoreRow
	if err := sqlx.SelectContext(ctx, repo.ext, &rows, `SELECT `+scoreColumns+` FROM user_score ORDER BY user_id`); err != nil {
		return nil, errors.Wrap(err, "querying scores")
	}
	scores := make([]points.UserScore, 0, len(rows))
	for _, r := range rows {
		scores = append(scores, r.score())
	}
	return scores, nil
}

func (repo *pointsRepository) CreateSubmission(ctx context.Context, sub points.Submission) (points.Submission, error) {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	row := toSubmissionRow(sub)
	q := `INSERT INTO submission (` + submissionColumns + `)
		VALUES (:id, :user_id, :type, :title, :content, :points_awarded, :status, :reviewed_by, :reviewed_at, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, repo.ext, q, row); err != nil {
		return points.Submission{}, errors.Wrap(err, "inserting submission")
	}
	return row.submission(), nil
}

func (repo *pointsRepository) GetSubmission(ctx context.Context, id string) (points.Submission, error) {
	if _, err := uuid.Parse(id); err != nil {
		return points.Submission{}, points.ErrSubmissionNotFound
	}
	var row submissionRow
	err := sqlx.GetContext(ctx, repo.ext, &row, `SELECT `+submissionColumns+` FROM submission WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return points.Submission{}, points.ErrSubmissionNotFound
	} else if err != nil {
		return points.Submission{}, errors.Wrap(err, "finding submission")
	}
	return row.submission(), nil
}

// MarkSubmissionReviewed only touches a pending row, so of two concurrent reviews one updates nothing.
func (repo *pointsRepository) MarkSubmissionReviewed(ctx context.Context, sub points.Submission) (points.Submission, error) {
	row := toSubmissionRow(sub)
	q := `UPDATE submission SET status = $1, points_awarded = $2, reviewed_by = $3, reviewed_at = $4, updated_at = $5
		WHERE id = $6 AND status = $7
		RETURNING ` + submissionColumns
	var updated submissionRow
	err := sqlx.GetContext(ctx, repo.ext, &updated, q,
		string(points.StatusReviewed), row.PointsAwarded, row.ReviewedBy, row.ReviewedAt, row.UpdatedAt,
		row.ID, string(points.StatusPending))
	if err == sql.ErrNoRows {
		if _, err = repo.GetSubmission(ctx, sub.ID); err != nil {
			return points.Submission{}, err
		}
		return points.Submission{}, points.ErrAlreadyReviewed
	} else if err != nil {
		return points.Submission{}, errors.Wrap(err, "reviewing submission")
	}
	return updated.submission(), nil
}

func (repo *pointsRepository) QuerySubmissions(ctx context.Context, filter points.SubmissionFilter) ([]points.Submission, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Status != "" {
		where = append(where, `status = ?`)
		args = append(args, string(filter.Status))
	}
	if filter.Type != "" {
		where = append(where, `type = ?`)
		args = append(args, string(filter.Type))
	}
	if filter.UserID != "" {
		where = append(where, `user_id = ?`)
		args = append(args, filter.UserID)
	}
	if filter.ReviewedBy != "" {
		where = append(where, `reviewed_by = ?`)
		args = append(args, filter.ReviewedBy)
	}
	q := `SELECT ` + submissionColumns + ` FROM submission`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, id DESC`

	var rows []submissionRow
	if err := sqlx.SelectContext(ctx, repo.ext, &rows, repo.ext.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying submissions")
	}
	subs := make([]points.Submission, 0, len(rows))
	for _, r := range rows {
		subs = append(subs, r.submission())
	}
	return subs, nil
}

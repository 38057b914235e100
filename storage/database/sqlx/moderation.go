package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/nithadya/classsync/core/moderation"
)

const flagColumns = `id, content_id, content_type, content, reason, status, reported_by, ai_analysis, created_at, reviewed_by, reviewed_at`

type flagRow struct {
	ID          string      `db:"id"`
	ContentID   string      `db:"content_id"`
	ContentType string      `db:"content_type"`
	Content     string      `db:"content"`
	Reason      string      `db:"reason"`
	Status      string      `db:"status"`
	ReportedBy  null.String `db:"reported_by"`
	Analysis    null.JSON   `db:"ai_analysis"`
	CreatedAt   time.Time   `db:"created_at"`
	ReviewedBy  null.String `db:"reviewed_by"`
	ReviewedAt  null.Time   `db:"reviewed_at"`
}

func toFlagRow(fc moderation.FlaggedContent) (flagRow, error) {
	row := flagRow{
		ID:          fc.ID,
		ContentID:   fc.ContentID,
		ContentType: string(fc.ContentType),
		Content:     fc.Content,
		Reason:      fc.Reason,
		Status:      string(fc.Status),
		ReportedBy:  null.NewString(fc.ReportedBy, fc.ReportedBy != ""),
		CreatedAt:   fc.CreatedAt.UTC(),
		ReviewedBy:  null.NewString(fc.ReviewedBy, fc.ReviewedBy != ""),
		ReviewedAt:  null.TimeFromPtr(fc.ReviewedAt),
	}
	if fc.Analysis != nil {
		data, err := json.Marshal(fc.Analysis)
		if err != nil {
			return flagRow{}, errors.Wrap(err, "encoding analysis")
		}
		row.Analysis = null.JSONFrom(data)
	}
	return row, nil
}

func (r flagRow) flaggedContent() (moderation.FlaggedContent, error) {
	fc := moderation.FlaggedContent{
		ID:          r.ID,
		ContentID:   r.ContentID,
		ContentType: moderation.ContentType(r.ContentType),
		Content:     r.Content,
		Reason:      r.Reason,
		Status:      moderation.Status(r.Status),
		ReportedBy:  r.ReportedBy.String,
		CreatedAt:   r.CreatedAt.UTC(),
		ReviewedBy:  r.ReviewedBy.String,
	}
	if r.ReviewedAt.Valid {
		at := r.ReviewedAt.Time.UTC()
		fc.ReviewedAt = &at
	}
	if r.Analysis.Valid {
		var v moderation.Verdict
		if err := json.Unmarshal(r.Analysis.JSON, &v); err != nil {
			return moderation.FlaggedContent{}, errors.Wrap(err, "decoding analysis")
		}
		fc.Analysis = &v
	}
	return fc, nil
}

type moderationRepository struct {
	db *sqlx.DB
}

var _ moderation.Repository = (*moderationRepository)(nil) // interface compliance check

func NewModerationRepository(db *sqlx.DB) moderation.Repository {
	return &moderationRepository{db: db}
}

func (repo *moderationRepository) CreateFlaggedContent(ctx context.Context, fc moderation.FlaggedContent) (moderation.FlaggedContent, error) {
	fc.ID = uuid.New().String()
	row, err := toFlagRow(fc)
	if err != nil {
		return moderation.FlaggedContent{}, err
	}
	q := `INSERT INTO flagged_content (` + flagColumns + `)
		VALUES (:id, :content_id, :content_type, :content, :reason, :status, :reported_by, :ai_analysis, :created_at, :reviewed_by, :reviewed_at)`
	if _, err = repo.db.NamedExecContext(ctx, q, row); err != nil {
		return moderation.FlaggedContent{}, errors.Wrap(err, "inserting flagged content")
	}
	return fc, nil
}

func (repo *moderationRepository) GetFlaggedContent(ctx context.Context, id string) (moderation.FlaggedContent, error) {
	if _, err := uuid.Parse(id); err != nil {
		return moderation.FlaggedContent{}, moderation.ErrNotFound
	}
	var row flagRow
	err := repo.db.GetContext(ctx, &row, `SELECT `+flagColumns+` FROM flagged_content WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return moderation.FlaggedContent{}, moderation.ErrNotFound
	} else if err != nil {
		return moderation.FlaggedContent{}, errors.Wrap(err, "finding flagged content")
	}
	return row.flaggedContent()
}

func (repo *moderationRepository) QueryFlaggedContent(ctx context.Context, filter moderation.QueryFilter) ([]moderation.FlaggedContent, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Status != "" {
		where = append(where, `status = ?`)
		args = append(args, string(filter.Status))
	}
	if filter.ContentType != "" {
		where = append(where, `content_type = ?`)
		args = append(args, string(filter.ContentType))
	}
	q := `SELECT ` + flagColumns + ` FROM flagged_content`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, id ASC`

	var rows []flagRow
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying flagged content")
	}
	flags := make([]moderation.FlaggedContent, 0, len(rows))
	for _, r := range rows {
		fc, err := r.flaggedContent()
		if err != nil {
			return nil, err
		}
		flags = append(flags, fc)
	}
	return flags, nil
}

func (repo *moderationRepository) UpdateFlaggedContent(ctx context.Context, fc moderation.FlaggedContent) (moderation.FlaggedContent, error) {
	row, err := toFlagRow(fc)
	if err != nil {
		return moderation.FlaggedContent{}, err
	}
	q := `UPDATE flagged_content SET status = :status, reviewed_by = :reviewed_by, reviewed_at = :reviewed_at WHERE id = :id`
	res, err := repo.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return moderation.FlaggedContent{}, errors.Wrap(err, "updating flagged content")
	}
	if n, err := res.RowsAffected(); err != nil {
		return moderation.FlaggedContent{}, errors.Wrap(err, "updating flagged content")
	} else if n == 0 {
		return moderation.FlaggedContent{}, moderation.ErrNotFound
	}
	return fc, nil
}

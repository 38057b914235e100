package inmemdb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/nithadya/classsync/core/points"
)

type (
	// pointsRepository reads through the writes staged by tx, when it runs inside WithinTx.
	pointsRepository struct {
		db *pointsTables
		tx *pointsTx
	}

	// pointsTx holds the writes of a transaction until commit.
	pointsTx struct {
		ledger      []points.LedgerEntry
		scores      map[string]scoreWrite
		submissions map[string]submissionWrite
	}

	scoreWrite struct {
		score    points.UserScore
		expected int64 // stored version the write was based on; 0 to create
	}

	submissionWrite struct {
		sub    points.Submission
		create bool
	}
)

var _ points.Store = (*pointsRepository)(nil) // interface compliance check

func NewPointsStore(db *DB) points.Store {
	return &pointsRepository{db: db.points}
}

// WithinTx stages the writes of fn and applies them at once if none of the rows they are based on changed meanwhile.
// A submission reviewed meanwhile fails the commit with points.ErrAlreadyReviewed,
// a score written meanwhile with points.ErrConcurrentUpdate.
func (repo *pointsRepository) WithinTx(ctx context.Context, fn func(repo points.Repository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &pointsTx{
		scores:      make(map[string]scoreWrite),
		submissions: make(map[string]submissionWrite),
	}
	if err := fn(&pointsRepository{db: repo.db, tx: tx}); err != nil {
		return err
	}
	return repo.commit(tx)
}

func (repo *pointsRepository) commit(tx *pointsTx) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	for id, w := range tx.submissions {
		stored, exists := repo.db.submissions[id]
		if w.create {
			if exists {
				return points.ErrConcurrentUpdate
			}
			continue
		}
		if !exists {
			return points.ErrSubmissionNotFound
		}
		if stored.IsReviewed() {
			return points.ErrAlreadyReviewed
		}
	}
	for userID, w := range tx.scores {
		stored, exists := repo.db.scores[userID]
		if (w.expected == 0 && exists) || (w.expected != 0 && (!exists || stored.Version != w.expected)) {
			return points.ErrConcurrentUpdate
		}
	}

	repo.db.ledger = append(repo.db.ledger, tx.ledger...)
	for id, w := range tx.submissions {
		repo.db.submissions[id] = w.sub
	}
	for userID, w := range tx.scores {
		repo.db.scores[userID] = w.score
	}
	return nil
}

func (repo *pointsRepository) InsertLedgerEntry(_ context.Context, entry points.LedgerEntry) (points.LedgerEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if repo.tx != nil {
		repo.tx.ledger = append(repo.tx.ledger, entry)
		return entry, nil
	}

	repo.db.Lock()
	defer repo.db.Unlock()
	repo.db.ledger = append(repo.db.ledger, entry)
	return entry, nil
}

func (repo *pointsRepository) ledger() []points.LedgerEntry {
	repo.db.RLock()
	entries := make([]points.LedgerEntry, len(repo.db.ledger))
	copy(entries, repo.db.ledger)
	repo.db.RUnlock()

	if repo.tx != nil {
		entries = append(entries, repo.tx.ledger...)
	}
	return entries
}

func (repo *pointsRepository) QueryLedgerEntries(_ context.Context, filter points.LedgerFilter) ([]points.LedgerEntry, error) {
	var entries []points.LedgerEntry
	for _, e := range repo.ledger() {
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		if !filter.Since.IsZero() && e.OccurredAt.Before(filter.Since) {
			continue
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].OccurredAt.Before(entries[j].OccurredAt)
	})
	return entries, nil
}

func (repo *pointsRepository) SumLedgerPoints(_ context.Context) (map[string]int, error) {
	sums := make(map[string]int)
	for _, e := range repo.ledger() {
		sums[e.UserID] += e.Points
	}
	return sums, nil
}

func (repo *pointsRepository) GetScore(_ context.Context, userID string) (points.UserScore, error) {
	if repo.tx != nil {
		if w, ok := repo.tx.scores[userID]; ok {
			return w.score, nil
		}
	}

	repo.db.RLock()
	defer repo.db.RUnlock()
	if s, ok := repo.db.scores[userID]; ok {
		return s, nil
	}
	return points.UserScore{}, points.ErrScoreNotFound
}

func (repo *pointsRepository) CreateScore(ctx context.Context, score points.UserScore) (points.UserScore, error) {
	score.Version = 1
	if repo.tx != nil {
		if _, err := repo.GetScore(ctx, score.UserID); err != points.ErrScoreNotFound {
			return points.UserScore{}, points.ErrConcurrentUpdate
		}
		repo.tx.scores[score.UserID] = scoreWrite{score: score}
		return score, nil
	}

	repo.db.Lock()
	defer repo.db.Unlock()
	if _, exists := repo.db.scores[score.UserID]; exists {
		return points.UserScore{}, points.ErrConcurrentUpdate
	}
	repo.db.scores[score.UserID] = score
	return score, nil
}

func (repo *pointsRepository) UpdateScore(ctx context.Context, score points.UserScore) (points.UserScore, error) {
	expected := score.Version
	score.Version++
	if repo.tx != nil {
		current, err := repo.GetScore(ctx, score.UserID)
		if err != nil || current.Version != expected {
			return points.UserScore{}, points.ErrConcurrentUpdate
		}
		w := scoreWrite{score: score, expected: expected}
		if staged, ok := repo.tx.scores[score.UserID]; ok {
			w.expected = staged.expected
		}
		repo.tx.scores[score.UserID] = w
		return score, nil
	}

	repo.db.Lock()
	defer repo.db.Unlock()
	if current, ok := repo.db.scores[score.UserID]; !ok || current.Version != expected {
		return points.UserScore{}, points.ErrConcurrentUpdate
	}
	repo.db.scores[score.UserID] = score
	return score, nil
}

func (repo *pointsRepository) QueryScores(_ context.Context) ([]points.UserScore, error) {
	repo.db.RLock()
	byUser := make(map[string]points.UserScore, len(repo.db.scores))
	for id, s := range repo.db.scores {
		byUser[id] = s
	}
	repo.db.RUnlock()

	if repo.tx != nil {
		for id, w := range repo.tx.scores {
			byUser[id] = w.score
		}
	}
	scores := make([]points.UserScore, 0, len(byUser))
	for _, s := range byUser {
		scores = append(scores, s)
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].UserID < scores[j].UserID })
	return scores, nil
}

func (repo *pointsRepository) CreateSubmission(_ context.Context, sub points.Submission) (points.Submission, error) {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	sub.UserName = ""
	if repo.tx != nil {
		repo.tx.submissions[sub.ID] = submissionWrite{sub: sub, create: true}
		return sub, nil
	}

	repo.db.Lock()
	defer repo.db.Unlock()
	repo.db.submissions[sub.ID] = sub
	return sub, nil
}

func (repo *pointsRepository) GetSubmission(_ context.Context, id string) (points.Submission, error) {
	if repo.tx != nil {
		if w, ok := repo.tx.submissions[id]; ok {
			return w.sub, nil
		}
	}

	repo.db.RLock()
	defer repo.db.RUnlock()
	if sub, ok := repo.db.submissions[id]; ok {
		return sub, nil
	}
	return points.Submission{}, points.ErrSubmissionNotFound
}

func (repo *pointsRepository) MarkSubmissionReviewed(ctx context.Context, sub points.Submission) (points.Submission, error) {
	current, err := repo.GetSubmission(ctx, sub.ID)
	if err != nil {
		return points.Submission{}, err
	}
	if current.IsReviewed() {
		return points.Submission{}, points.ErrAlreadyReviewed
	}

	reviewed := current
	reviewed.Status = points.StatusReviewed
	reviewed.PointsAwarded = sub.PointsAwarded
	reviewed.ReviewedBy = sub.ReviewedBy
	reviewed.ReviewedAt = sub.ReviewedAt
	reviewed.UpdatedAt = sub.UpdatedAt

	if repo.tx != nil {
		w := repo.tx.submissions[sub.ID] // keeps create when staged by this tx
		w.sub = reviewed
		repo.tx.submissions[sub.ID] = w
		return reviewed, nil
	}

	repo.db.Lock()
	defer repo.db.Unlock()
	if repo.db.submissions[sub.ID].IsReviewed() {
		return points.Submission{}, points.ErrAlreadyReviewed
	}
	repo.db.submissions[sub.ID] = reviewed
	return reviewed, nil
}

func (repo *pointsRepository) QuerySubmissions(_ context.Context, filter points.SubmissionFilter) ([]points.Submission, error) {
	repo.db.RLock()
	byID := make(map[string]points.Submission, len(repo.db.submissions))
	for id, sub := range repo.db.submissions {
		byID[id] = sub
	}
	repo.db.RUnlock()

	if repo.tx != nil {
		for id, w := range repo.tx.submissions {
			byID[id] = w.sub
		}
	}

	subs := make([]points.Submission, 0, len(byID))
	for _, sub := range byID {
		if filter.Status != "" && sub.Status != filter.Status {
			continue
		}
		if filter.Type != "" && sub.Type != filter.Type {
			continue
		}
		if filter.UserID != "" && sub.UserID != filter.UserID {
			continue
		}
		if filter.ReviewedBy != "" && sub.ReviewedBy != filter.ReviewedBy {
			continue
		}
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool {
		if !subs[i].CreatedAt.Equal(subs[j].CreatedAt) {
			return subs[i].CreatedAt.After(subs[j].CreatedAt)
		}
		return subs[i].ID > subs[j].ID
	})
	return subs, nil
}

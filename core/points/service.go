package points

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/nithadya/classsync/core"
	"github.com/nithadya/classsync/core/moderation"
	"github.com/nithadya/classsync/core/user"
)

var NowFunc = time.Now // mockable

const maxRetryDelay = time.Second

var errContentFlagged = errors.New("content was flagged by moderation")

type Service struct {
	store     Store
	users     UserDirectory
	notifier  Notifier
	moderator Moderator // optional
	logger    core.Logger

	leaderboardCap int
	maxAttempts    int
	baseDelay      time.Duration
}

func NewService(store Store, users UserDirectory, notifier Notifier, moderator Moderator, logger core.Logger, conf *core.Config) *Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(store, "store"),
		vala.IsNotNil(users, "users"),
		vala.IsNotNil(logger, "logger"),
		vala.IsNotNil(conf, "conf"),
	).CheckAndPanic()

	if notifier == nil {
		notifier = Notifiers{}
	}
	svc := &Service{
		store:          store,
		users:          users,
		notifier:       notifier,
		moderator:      moderator,
		logger:         logger,
		leaderboardCap: conf.Points.LeaderboardCap,
		maxAttempts:    conf.Points.MaxAttempts,
		baseDelay:      conf.Points.RetryBaseDelay,
	}
	if svc.leaderboardCap <= 0 {
		svc.leaderboardCap = DefaultLeaderboardCap
	}
	if svc.maxAttempts <= 0 {
		svc.maxAttempts = 5
	}
	if svc.baseDelay <= 0 {
		svc.baseDelay = 10 * time.Millisecond
	}
	return svc
}

// Record appends an action of userID to the ledger and folds it into the user's score.
func (svc *Service) Record(ctx context.Context, userID string, kind ActionKind, occurredAt time.Time) (LedgerEntry, error) {
	pts, ok := kind.Points()
	if !ok {
		return LedgerEntry{}, ErrInvalidActionKind
	}
	if _, err := svc.resolveUser(ctx, userID); err != nil {
		return LedgerEntry{}, err
	}
	entry, _, err := svc.apply(ctx, LedgerEntry{
		UserID:     userID,
		Kind:       kind,
		Points:     pts,
		OccurredAt: occurredAt,
	}, nil)
	return entry, err
}

// RecordAction records kind for userID now. Recording for someone else takes CapRecordForOthers.
func (svc *Service) RecordAction(ctx context.Context, actor user.Principal, userID string, kind ActionKind) (UserScore, error) {
	if userID == "" {
		userID = actor.UserID
	}
	if !actor.IsSelf(userID) && !actor.Can(user.CapRecordForOthers) {
		return UserScore{}, ErrForbidden
	}
	pts, ok := kind.Points()
	if !ok {
		return UserScore{}, ErrInvalidActionKind
	}
	if _, err := svc.resolveUser(ctx, userID); err != nil {
		return UserScore{}, err
	}
	_, score, err := svc.apply(ctx, LedgerEntry{UserID: userID, Kind: kind, Points: pts}, nil)
	return score, err
}

// ApplyLedgerEntry folds an already built entry into the user's score.
// Fixed kinds get their table value, granted kinds are clamped.
func (svc *Service) ApplyLedgerEntry(ctx context.Context, entry LedgerEntry) (UserScore, error) {
	if !entry.Kind.Valid() {
		return UserScore{}, ErrInvalidActionKind
	}
	if pts, ok := entry.Kind.Points(); ok {
		entry.Points = pts
	} else {
		entry.Points = svc.clamp(entry.Points, entry.UserID)
	}
	if _, err := svc.resolveUser(ctx, entry.UserID); err != nil {
		return UserScore{}, err
	}
	_, score, err := svc.apply(ctx, entry, nil)
	return score, err
}

// AwardManualPoints grants amount, clamped to [MinAward, MaxAward], to userID.
func (svc *Service) AwardManualPoints(ctx context.Context, awardedBy user.Principal, userID string, amount int) (UserScore, error) {
	if !awardedBy.Can(user.CapAwardPoints) {
		return UserScore{}, ErrForbidden
	}
	if _, err := svc.resolveUser(ctx, userID); err != nil {
		return UserScore{}, err
	}
	_, score, err := svc.apply(ctx, LedgerEntry{
		UserID:    userID,
		Kind:      ActionManualAward,
		Points:    svc.clamp(amount, userID),
		AwardedBy: awardedBy.UserID,
	}, nil)
	return score, err
}

// GetLeaderboard ranks the population of filter.TimeRange and returns the rows matching filter.Search.
func (svc *Service) GetLeaderboard(ctx context.Context, filter LeaderboardFilter) ([]Row, error) {
	if err := filter.Clean(); err != nil {
		return nil, err
	}
	scores, err := svc.population(ctx, filter.TimeRange)
	if err != nil {
		return nil, err
	}
	names, err := svc.users.DisplayNames(ctx, userIDs(scores))
	if err != nil {
		return nil, errors.Wrap(err, "resolving display names")
	}
	return BuildView(scores, names, filter, svc.limit(filter.Limit)), nil
}

// GetUserRank returns the all-time standing of userID. A user who never scored ranks with a zero score.
func (svc *Service) GetUserRank(ctx context.Context, userID string, metric Metric) (UserRank, error) {
	ranked, err := svc.rankedWith(ctx, userID, metric)
	if err != nil {
		return UserRank{}, err
	}
	rs := rankOf(ranked, userID)
	return UserRank{
		Rank:       rs.Rank,
		TotalUsers: len(ranked),
		Percentile: percentile(rs.Rank, len(ranked)),
		Score:      rs.UserScore,
	}, nil
}

// GetNearby returns the all-time rows ranked within span places of userID.
func (svc *Service) GetNearby(ctx context.Context, userID string, span int, metric Metric) ([]Row, error) {
	if span < 0 {
		span = 0
	}
	if span > svc.leaderboardCap {
		span = svc.leaderboardCap
	}
	ranked, err := svc.rankedWith(ctx, userID, metric)
	if err != nil {
		return nil, err
	}
	rank := rankOf(ranked, userID).Rank
	lo, hi := rank-span-1, rank+span
	if lo < 0 {
		lo = 0
	}
	if hi > len(ranked) {
		hi = len(ranked)
	}
	window := ranked[lo:hi]

	ids := make([]string, len(window))
	for i, rs := range window {
		ids[i] = rs.UserID
	}
	names, err := svc.users.DisplayNames(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "resolving display names")
	}
	rows := make([]Row, len(window))
	for i, rs := range window {
		name := names[rs.UserID]
		if name == "" {
			name = user.AnonymousName
		}
		rows[i] = Row{RankedScore: rs, DisplayName: name}
	}
	return rows, nil
}

// CreateSubmission stores a learner's artifact as pending, once moderation lets it through.
func (svc *Service) CreateSubmission(ctx context.Context, learnerID string, ns NewSubmission, validate *validator.Validate) (Submission, error) {
	ns.Clean()
	if err := validate.Struct(ns); err != nil {
		return Submission{}, err
	}
	learner, err := svc.resolveUser(ctx, learnerID)
	if err != nil {
		return Submission{}, err
	}

	now := NowFunc().UTC()
	sub := Submission{
		ID:        uuid.NewString(),
		UserID:    learner.ID,
		Type:      ns.Type,
		Title:     ns.Title,
		Content:   ns.Content,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if svc.moderator != nil {
		res := svc.moderator.Moderate(ctx, sub.Title+"\n\n"+sub.Content, moderation.ContentType(sub.Type), sub.ID)
		if !res.Allowed {
			return Submission{}, core.NewValidationError(errContentFlagged, core.FieldError{Field: "content", Error: res.Reason})
		}
	}

	if sub, err = svc.store.CreateSubmission(ctx, sub); err != nil {
		return Submission{}, err
	}
	sub.UserName = learner.DisplayName()
	return sub, nil
}

// ListSubmissions returns the submissions matching filter, newest first.
// filter.Search matches the title or the learner's display name.
func (svc *Service) ListSubmissions(ctx context.Context, reviewer user.Principal, filter SubmissionFilter) ([]Submission, error) {
	if !reviewer.Can(user.CapReviewSubmissions) {
		return nil, ErrForbidden
	}
	filter.Clean()
	search := filter.Search
	filter.Search = ""

	subs, err := svc.store.QuerySubmissions(ctx, filter)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(subs))
	for _, sub := range subs {
		ids = append(ids, sub.UserID)
	}
	names, err := svc.users.DisplayNames(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "resolving display names")
	}

	matches := make([]Submission, 0, len(subs))
	for _, sub := range subs {
		sub.UserName = names[sub.UserID]
		if search == "" || core.ContainsFold(sub.Title, search) || core.ContainsFold(sub.UserName, search) {
			matches = append(matches, sub)
		}
	}
	return matches, nil
}

// ReviewSubmission marks a pending submission reviewed and credits its author with the awarded points,
// clamped to [MinAward, MaxAward], in one transaction. Reviewing twice fails with ErrAlreadyReviewed.
func (svc *Service) ReviewSubmission(ctx context.Context, reviewer user.Principal, id string, pointsAwarded int) (Submission, UserScore, error) {
	if !reviewer.Can(user.CapReviewSubmissions) {
		return Submission{}, UserScore{}, ErrForbidden
	}
	sub, err := svc.store.GetSubmission(ctx, id)
	if err != nil {
		return Submission{}, UserScore{}, err
	}
	if sub.IsReviewed() {
		return Submission{}, UserScore{}, ErrAlreadyReviewed
	}

	pts := svc.clamp(pointsAwarded, sub.UserID)
	var reviewed Submission
	markReviewed := func(repo Repository) error {
		now := NowFunc().UTC()
		pending := sub
		pending.Status = StatusReviewed
		pending.PointsAwarded = &pts
		pending.ReviewedBy = reviewer.UserID
		pending.ReviewedAt = &now
		pending.UpdatedAt = now

		var err error
		reviewed, err = repo.MarkSubmissionReviewed(ctx, pending)
		return err
	}
	_, score, err := svc.apply(ctx, LedgerEntry{
		UserID:       sub.UserID,
		Kind:         ActionSubmissionReviewed,
		Points:       pts,
		AwardedBy:    reviewer.UserID,
		SubmissionID: sub.ID,
	}, markReviewed)
	if err != nil {
		return Submission{}, UserScore{}, err
	}
	return reviewed, score, nil
}

// ReviewerStats sums the reviews of reviewerID, or of the caller when reviewerID is empty.
func (svc *Service) ReviewerStats(ctx context.Context, reviewer user.Principal, reviewerID string) (ReviewerStats, error) {
	if !reviewer.Can(user.CapReviewSubmissions) {
		return ReviewerStats{}, ErrForbidden
	}
	if reviewerID == "" {
		reviewerID = reviewer.UserID
	}
	subs, err := svc.store.QuerySubmissions(ctx, SubmissionFilter{Status: StatusReviewed, ReviewedBy: reviewerID})
	if err != nil {
		return ReviewerStats{}, err
	}

	stats := ReviewerStats{ReviewerID: reviewerID}
	for _, sub := range subs {
		stats.TotalReviews++
		if sub.PointsAwarded != nil {
			stats.TotalPointsAwarded += *sub.PointsAwarded
		}
		switch sub.Type {
		case SubmissionNote:
			stats.NotesReviewed++
		case SubmissionQuestion:
			stats.QuestionsReviewed++
		case SubmissionFlashcard:
			stats.FlashcardsReviewed++
		case SubmissionPost:
			stats.PostsReviewed++
		}
	}
	return stats, nil
}

// Reconcile lists the users whose score total differs from their ledger sum.
// With repair, each of them has its score rebuilt from the ledger.
func (svc *Service) Reconcile(ctx context.Context, repair bool) ([]Mismatch, error) {
	scores, err := svc.store.QueryScores(ctx)
	if err != nil {
		return nil, err
	}
	sums, err := svc.store.SumLedgerPoints(ctx)
	if err != nil {
		return nil, err
	}

	mismatches := make([]Mismatch, 0)
	for _, s := range scores {
		if sum := sums[s.UserID]; sum != s.TotalPoints {
			mismatches = append(mismatches, Mismatch{UserID: s.UserID, TotalPoints: s.TotalPoints, LedgerPoints: sum})
		}
		delete(sums, s.UserID)
	}
	for userID, sum := range sums {
		// ledger entries without a score row
		mismatches = append(mismatches, Mismatch{UserID: userID, LedgerPoints: sum})
	}
	sort.Slice(mismatches, func(i, j int) bool {
		return mismatches[i].UserID < mismatches[j].UserID
	})

	for _, m := range mismatches {
		svc.logger.Warn(fmt.Sprintf("score of user %s is %d, ledger says %d", m.UserID, m.TotalPoints, m.LedgerPoints))
		if !repair {
			continue
		}
		if err = svc.rebuild(ctx, m.UserID); err != nil {
			return mismatches, errors.Wrapf(err, "rebuilding score of user %s", m.UserID)
		}
	}
	return mismatches, nil
}

// rebuild replaces the score of userID with the aggregate of its ledger entries.
// The score is read before the ledger: an entry applied in between bumps the version
// and fails the write, so the rebuild is retried instead of dropping that entry.
func (svc *Service) rebuild(ctx context.Context, userID string) error {
	return svc.withRetry(ctx, func(repo Repository) error {
		current, err := repo.GetScore(ctx, userID)
		missing := errors.Cause(err) == ErrScoreNotFound
		if err != nil && !missing {
			return err
		}

		entries, err := repo.QueryLedgerEntries(ctx, LedgerFilter{UserID: userID})
		if err != nil {
			return err
		}
		rebuilt := NewUserScore(userID)
		if ws := WindowScores(entries); len(ws) == 1 {
			rebuilt = ws[0]
		}

		if missing {
			_, err = repo.CreateScore(ctx, rebuilt)
			return err
		}
		rebuilt.Version = current.Version
		_, err = repo.UpdateScore(ctx, rebuilt)
		return err
	})
}

// apply commits entry and its effect on the user's score, after prepare if given, in one transaction.
// The transaction is retried as a whole on conflicts; the notifier hears about the committed change only.
func (svc *Service) apply(ctx context.Context, entry LedgerEntry, prepare func(repo Repository) error) (LedgerEntry, UserScore, error) {
	var (
		saved  LedgerEntry
		score  UserScore
		change ScoreChange
	)
	err := svc.withRetry(ctx, func(repo Repository) error {
		if prepare != nil {
			if err := prepare(repo); err != nil {
				return err
			}
		}
		var err error
		saved, score, change, err = applyEntry(ctx, repo, entry, NowFunc().UTC())
		return err
	})
	if err != nil {
		return LedgerEntry{}, UserScore{}, err
	}
	svc.notifier.Notify(change)
	return saved, score, nil
}

// applyEntry inserts entry and writes the resulting score, versioned against the one read.
func applyEntry(ctx context.Context, repo Repository, entry LedgerEntry, now time.Time) (LedgerEntry, UserScore, ScoreChange, error) {
	before, err := repo.GetScore(ctx, entry.UserID)
	if errors.Cause(err) == ErrScoreNotFound {
		before = NewUserScore(entry.UserID)
	} else if err != nil {
		return LedgerEntry{}, UserScore{}, ScoreChange{}, err
	}

	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = now
	}
	entry.OccurredAt = entry.OccurredAt.UTC()
	saved, err := repo.InsertLedgerEntry(ctx, entry)
	if err != nil {
		return LedgerEntry{}, UserScore{}, ScoreChange{}, err
	}

	after := before.Apply(saved, now)
	if before.Version == 0 {
		after, err = repo.CreateScore(ctx, after)
	} else {
		after, err = repo.UpdateScore(ctx, after)
	}
	if err != nil {
		return LedgerEntry{}, UserScore{}, ScoreChange{}, err
	}
	return saved, after, newScoreChange(before, after), nil
}

// withRetry runs fn in a transaction, again after a backoff each time it loses a versioned write.
func (svc *Service) withRetry(ctx context.Context, fn func(repo Repository) error) error {
	for attempt := 1; ; attempt++ {
		err := svc.store.WithinTx(ctx, fn)
		if errors.Cause(err) != ErrConcurrentUpdate {
			return err
		}
		if attempt >= svc.maxAttempts {
			svc.logger.Warn(fmt.Sprintf("giving up on score update after %d attempts", attempt), err)
			return ErrAggregationFailed
		}

		timer := time.NewTimer(svc.backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// backoff doubles from baseDelay on every attempt, with the upper half jittered.
func (svc *Service) backoff(attempt int) time.Duration {
	d := svc.baseDelay << uint(attempt-1)
	if d <= 0 || d > maxRetryDelay {
		d = maxRetryDelay
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

func (svc *Service) clamp(amount int, userID string) int {
	pts, clamped := ClampAward(amount)
	if clamped {
		svc.logger.Warn(fmt.Sprintf("award of %d points to user %s clamped to %d", amount, userID, pts))
	}
	return pts
}

func (svc *Service) limit(requested int) int {
	if requested <= 0 || requested > svc.leaderboardCap {
		return svc.leaderboardCap
	}
	return requested
}

func (svc *Service) resolveUser(ctx context.Context, userID string) (user.User, error) {
	if userID == "" {
		return user.User{}, ErrUnknownUser
	}
	usr, err := svc.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return user.User{}, ErrUnknownUser
		}
		return user.User{}, errors.Wrap(err, "resolving user")
	}
	return usr, nil
}

// population returns the scores r ranks: the stored aggregates for RangeAll,
// otherwise the aggregates of the ledger entries in the window.
func (svc *Service) population(ctx context.Context, r TimeRange) ([]UserScore, error) {
	if r == RangeAll || r == "" {
		return svc.store.QueryScores(ctx)
	}
	entries, err := svc.store.QueryLedgerEntries(ctx, LedgerFilter{Since: r.Since(NowFunc().UTC())})
	if err != nil {
		return nil, err
	}
	return WindowScores(entries), nil
}

// rankedWith ranks the all-time population, with userID added at zero if it never scored.
func (svc *Service) rankedWith(ctx context.Context, userID string, metric Metric) ([]RankedScore, error) {
	if metric == "" {
		metric = MetricPoints
	}
	if _, err := svc.resolveUser(ctx, userID); err != nil {
		return nil, err
	}
	scores, err := svc.store.QueryScores(ctx)
	if err != nil {
		return nil, err
	}
	found := false
	for _, s := range scores {
		if s.UserID == userID {
			found = true
			break
		}
	}
	if !found {
		zero := NewUserScore(userID)
		zero.LastUpdated = NowFunc().UTC()
		scores = append(scores, zero)
	}
	return ComputeRanks(scores, metric), nil
}

func userIDs(scores []UserScore) []string {
	ids := make([]string, len(scores))
	for i, s := range scores {
		ids[i] = s.UserID
	}
	return ids
}

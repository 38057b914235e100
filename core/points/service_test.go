package points_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nithadya/classsync/core"
	"github.com/nithadya/classsync/core/moderation"
	"github.com/nithadya/classsync/core/points"
	"github.com/nithadya/classsync/core/user"
	inmemdb "github.com/nithadya/classsync/storage/database/inmem"
	testutil "github.com/nithadya/classsync/tests"
)

type fixture struct {
	svc     *points.Service
	store   points.Store
	usrRepo user.Repository
	hub     *points.Hub
	logger  *testutil.Logger

	learner     user.User
	contributor user.User
	admin       user.User
}

func setup(t *testing.T, moderator points.Moderator, confFns ...func(conf *core.Config)) fixture {
	t.Helper()

	db, err := inmemdb.Open()
	require.NoError(t, err)

	conf := core.NewTestConfig()
	for _, fn := range confFns {
		fn(conf)
	}

	f := fixture{
		store:   inmemdb.NewPointsStore(db),
		usrRepo: inmemdb.NewUserRepository(db),
		logger:  new(testutil.Logger),
	}
	f.hub = points.NewHub(64, f.logger)
	f.svc = points.NewService(f.store, user.NewService(f.usrRepo), f.hub, moderator, f.logger, conf)

	f.learner = testutil.CreateUser(t, f.usrRepo, "Lina Learner", "lina", "lina@test.cd", "", []string{user.RoleLearner}, true)
	f.contributor = testutil.CreateUser(t, f.usrRepo, "Carl Contributor", "carl", "carl@test.cd", "", []string{user.RoleContributor}, true)
	f.admin = testutil.CreateUser(t, f.usrRepo, "Ada Admin", "ada", "ada@test.cd", "", []string{user.RoleAdmin}, true)
	return f
}

func drain(sub *points.Subscription) []points.Event {
	var events []points.Event
	for {
		select {
		case ev := <-sub.Events():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestService_scenarioA(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	self := f.learner.Principal()

	_, err := f.svc.RecordAction(ctx, self, f.learner.ID, points.ActionNoteUpload)
	require.NoError(t, err)
	_, err = f.svc.RecordAction(ctx, self, f.learner.ID, points.ActionUpvoteReceived)
	require.NoError(t, err)
	score, err := f.svc.RecordAction(ctx, self, "", points.ActionUpvoteReceived) // "" is self
	require.NoError(t, err)

	assert.Equal(t, 60, score.TotalPoints)
	assert.Equal(t, 1, score.NotesUploaded)
	assert.Equal(t, 2, score.AnswersUpvoted)
	assert.Equal(t, points.LevelBeginner, score.Level)
	assert.Equal(t, int64(3), score.Version)

	entries, err := f.store.QueryLedgerEntries(ctx, points.LedgerFilter{UserID: f.learner.ID})
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestService_scenarioB(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	// 9 x 100 + 95 = 995
	for i := 0; i < 9; i++ {
		_, err := f.svc.AwardManualPoints(ctx, f.admin.Principal(), f.learner.ID, 100)
		require.NoError(t, err)
	}
	score, err := f.svc.AwardManualPoints(ctx, f.admin.Principal(), f.learner.ID, 95)
	require.NoError(t, err)
	require.Equal(t, 995, score.TotalPoints)

	sub := f.hub.Subscribe(f.learner.ID)
	defer f.hub.Unsubscribe(sub)

	score, err = f.svc.RecordAction(ctx, f.learner.Principal(), f.learner.ID, points.ActionCollaborativePost)
	require.NoError(t, err)
	assert.Equal(t, 1015, score.TotalPoints)
	assert.Equal(t, 1, score.CollaborativePosts)
	assert.Equal(t, points.LevelIntermediate, score.Level)

	events := drain(sub)
	require.Len(t, events, 2)
	assert.Equal(t, points.EventPointsEarned, events[0].Kind)
	assert.Equal(t, 20, events[0].Delta)
	assert.Equal(t, points.EventLevelUp, events[1].Kind)
	assert.Equal(t, points.LevelBeginner, events[1].FromLevel)
	assert.Equal(t, points.LevelIntermediate, events[1].Level)
}

func TestService_RecordAction_errors(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		actor   user.Principal
		userID  string
		kind    points.ActionKind
		wantErr error
	}{
		{name: "invalid kind", actor: f.learner.Principal(), userID: f.learner.ID, kind: "LOGIN", wantErr: points.ErrInvalidActionKind},
		{name: "granted kind", actor: f.learner.Principal(), userID: f.learner.ID, kind: points.ActionManualAward, wantErr: points.ErrInvalidActionKind},
		{name: "for someone else", actor: f.learner.Principal(), userID: f.contributor.ID, kind: points.ActionNoteUpload, wantErr: points.ErrForbidden},
		{name: "contributor for someone else", actor: f.contributor.Principal(), userID: f.learner.ID, kind: points.ActionNoteUpload, wantErr: points.ErrForbidden},
		{name: "unknown user", actor: f.admin.Principal(), userID: "ghost", kind: points.ActionNoteUpload, wantErr: points.ErrUnknownUser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.RecordAction(ctx, tt.actor, tt.userID, tt.kind)
			assert.Equal(t, tt.wantErr, err)
		})
	}

	score, err := f.svc.RecordAction(ctx, f.admin.Principal(), f.learner.ID, points.ActionFlashcardCreated)
	require.NoError(t, err)
	assert.Equal(t, 10, score.TotalPoints)

	scores, err := f.store.QueryScores(ctx)
	require.NoError(t, err)
	assert.Len(t, scores, 1, "failed calls must not write")
}

func TestService_Record(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 8, 0, 0, 0, time.FixedZone("WAT", 3600))

	entry, err := f.svc.Record(ctx, f.learner.ID, points.ActionQuestionAnswer, at)
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, 30, entry.Points)
	assert.Equal(t, at.UTC(), entry.OccurredAt)

	// no dedup: the same call twice makes two entries
	_, err = f.svc.Record(ctx, f.learner.ID, points.ActionQuestionAnswer, at)
	require.NoError(t, err)

	sums, err := f.store.SumLedgerPoints(ctx)
	require.NoError(t, err)
	assert.Equal(t, 60, sums[f.learner.ID])

	_, err = f.svc.Record(ctx, "ghost", points.ActionQuestionAnswer, at)
	assert.Equal(t, points.ErrUnknownUser, err)
	_, err = f.svc.Record(ctx, f.learner.ID, points.ActionSubmissionReviewed, at)
	assert.Equal(t, points.ErrInvalidActionKind, err)
}

func TestService_ApplyLedgerEntry(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	// fixed kinds take the table value whatever the entry says
	score, err := f.svc.ApplyLedgerEntry(ctx, points.LedgerEntry{UserID: f.learner.ID, Kind: points.ActionNoteUpload, Points: 9999})
	require.NoError(t, err)
	assert.Equal(t, 50, score.TotalPoints)

	score, err = f.svc.ApplyLedgerEntry(ctx, points.LedgerEntry{UserID: f.learner.ID, Kind: points.ActionManualAward, Points: 500})
	require.NoError(t, err)
	assert.Equal(t, 150, score.TotalPoints)

	_, err = f.svc.ApplyLedgerEntry(ctx, points.LedgerEntry{UserID: f.learner.ID, Kind: "LOGIN"})
	assert.Equal(t, points.ErrInvalidActionKind, err)
}

func TestService_AwardManualPoints(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	_, err := f.svc.AwardManualPoints(ctx, f.learner.Principal(), f.learner.ID, 10)
	assert.Equal(t, points.ErrForbidden, err)

	score, err := f.svc.AwardManualPoints(ctx, f.contributor.Principal(), f.learner.ID, 150)
	require.NoError(t, err)
	assert.Equal(t, 100, score.TotalPoints)
	assert.Len(t, f.logger.Entries("WARN"), 1)

	score, err = f.svc.AwardManualPoints(ctx, f.contributor.Principal(), f.learner.ID, -20)
	require.NoError(t, err)
	assert.Equal(t, 100, score.TotalPoints)
	assert.Len(t, f.logger.Entries("WARN"), 2)

	entries, err := f.store.QueryLedgerEntries(ctx, points.LedgerFilter{UserID: f.learner.ID})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, points.ActionManualAward, e.Kind)
		assert.Equal(t, f.contributor.ID, e.AwardedBy)
	}

	_, err = f.svc.AwardManualPoints(ctx, f.admin.Principal(), "ghost", 10)
	assert.Equal(t, points.ErrUnknownUser, err)
}

func TestService_concurrentAwards(t *testing.T) {
	const workers, perWorker = 8, 5
	f := setup(t, nil, func(conf *core.Config) { conf.Points.MaxAttempts = 100 })
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := f.svc.AwardManualPoints(ctx, f.admin.Principal(), f.learner.ID, 10)
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rank, err := f.svc.GetUserRank(ctx, f.learner.ID, points.MetricPoints)
	require.NoError(t, err)
	assert.Equal(t, workers*perWorker*10, rank.Score.TotalPoints)
	assert.Equal(t, int64(workers*perWorker), rank.Score.Version)

	mismatches, err := f.svc.Reconcile(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

// conflictStore fails every versioned write.
type conflictStore struct {
	points.Store
	attempts int
}

func (s *conflictStore) WithinTx(_ context.Context, _ func(repo points.Repository) error) error {
	s.attempts++
	return points.ErrConcurrentUpdate
}

func TestService_retriesRunOut(t *testing.T) {
	db, err := inmemdb.Open()
	require.NoError(t, err)
	usrRepo := inmemdb.NewUserRepository(db)
	learner := testutil.CreateUser(t, usrRepo, "L", "l", "l@test.cd", "", nil, true)

	conf := core.NewTestConfig()
	conf.Points.MaxAttempts = 3
	store := &conflictStore{Store: inmemdb.NewPointsStore(db)}
	svc := points.NewService(store, user.NewService(usrRepo), nil, nil, new(testutil.Logger), conf)

	_, err = svc.RecordAction(context.Background(), learner.Principal(), learner.ID, points.ActionNoteUpload)
	assert.Equal(t, points.ErrAggregationFailed, err)
	assert.Equal(t, 3, store.attempts)
}

func TestService_submissions(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	validate, _ := testutil.NewValidator()

	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	defer func() { points.NowFunc = time.Now }()

	create := func(at time.Time, typ points.SubmissionType, title string) points.Submission {
		points.NowFunc = func() time.Time { return at }
		sub, err := f.svc.CreateSubmission(ctx, f.learner.ID, points.NewSubmission{Type: typ, Title: title, Content: "some content"}, validate)
		require.NoError(t, err)
		return sub
	}
	note := create(t0, points.SubmissionNote, "Photosynthesis notes")
	question := create(t0.Add(time.Minute), points.SubmissionQuestion, "What is ATP?")
	points.NowFunc = time.Now

	assert.Equal(t, points.StatusPending, note.Status)
	assert.Equal(t, "Lina Learner", note.UserName)
	assert.Nil(t, note.PointsAwarded)

	_, err := f.svc.CreateSubmission(ctx, f.learner.ID, points.NewSubmission{Type: "essay", Title: " ", Content: ""}, validate)
	assert.Error(t, err)

	t.Run("list", func(t *testing.T) {
		_, err := f.svc.ListSubmissions(ctx, f.learner.Principal(), points.SubmissionFilter{})
		assert.Equal(t, points.ErrForbidden, err)

		subs, err := f.svc.ListSubmissions(ctx, f.contributor.Principal(), points.SubmissionFilter{})
		require.NoError(t, err)
		require.Len(t, subs, 2)
		assert.Equal(t, question.ID, subs[0].ID, "newest first")

		subs, err = f.svc.ListSubmissions(ctx, f.contributor.Principal(), points.SubmissionFilter{Search: "PHOTO"})
		require.NoError(t, err)
		require.Len(t, subs, 1)
		assert.Equal(t, note.ID, subs[0].ID)

		subs, err = f.svc.ListSubmissions(ctx, f.contributor.Principal(), points.SubmissionFilter{Search: "lina"})
		require.NoError(t, err)
		assert.Len(t, subs, 2)

		subs, err = f.svc.ListSubmissions(ctx, f.contributor.Principal(), points.SubmissionFilter{Type: "question"})
		require.NoError(t, err)
		assert.Len(t, subs, 1)
	})

	t.Run("review", func(t *testing.T) {
		_, _, err := f.svc.ReviewSubmission(ctx, f.learner.Principal(), note.ID, 40)
		assert.Equal(t, points.ErrForbidden, err)

		_, _, err = f.svc.ReviewSubmission(ctx, f.contributor.Principal(), "nope", 40)
		assert.Equal(t, points.ErrSubmissionNotFound, err)

		reviewed, score, err := f.svc.ReviewSubmission(ctx, f.contributor.Principal(), note.ID, 40)
		require.NoError(t, err)
		assert.Equal(t, points.StatusReviewed, reviewed.Status)
		require.NotNil(t, reviewed.PointsAwarded)
		assert.Equal(t, 40, *reviewed.PointsAwarded)
		assert.Equal(t, f.contributor.ID, reviewed.ReviewedBy)
		assert.NotNil(t, reviewed.ReviewedAt)
		assert.Equal(t, 40, score.TotalPoints)

		_, _, err = f.svc.ReviewSubmission(ctx, f.admin.Principal(), note.ID, 10)
		assert.Equal(t, points.ErrAlreadyReviewed, err)

		_, score, err = f.svc.ReviewSubmission(ctx, f.admin.Principal(), question.ID, 250)
		require.NoError(t, err)
		assert.Equal(t, 140, score.TotalPoints, "clamped to 100")

		entries, err := f.store.QueryLedgerEntries(ctx, points.LedgerFilter{UserID: f.learner.ID})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, points.ActionSubmissionReviewed, entries[0].Kind)
		assert.Equal(t, note.ID, entries[0].SubmissionID)
	})

	t.Run("stats", func(t *testing.T) {
		_, err := f.svc.ReviewerStats(ctx, f.learner.Principal(), "")
		assert.Equal(t, points.ErrForbidden, err)

		stats, err := f.svc.ReviewerStats(ctx, f.contributor.Principal(), "")
		require.NoError(t, err)
		assert.Equal(t, points.ReviewerStats{
			ReviewerID: f.contributor.ID, TotalReviews: 1, TotalPointsAwarded: 40, NotesReviewed: 1,
		}, stats)

		stats, err = f.svc.ReviewerStats(ctx, f.contributor.Principal(), f.admin.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.QuestionsReviewed)
		assert.Equal(t, 100, stats.TotalPointsAwarded)
	})
}

func TestService_concurrentReviews(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	validate, _ := testutil.NewValidator()

	sub, err := f.svc.CreateSubmission(ctx, f.learner.ID, points.NewSubmission{Type: points.SubmissionPost, Title: "Study group", Content: "Thursday"}, validate)
	require.NoError(t, err)

	reviewers := []user.Principal{f.contributor.Principal(), f.admin.Principal()}
	errs := make([]error, len(reviewers))
	var wg sync.WaitGroup
	for i, r := range reviewers {
		wg.Add(1)
		go func(i int, r user.Principal) {
			defer wg.Done()
			_, _, errs[i] = f.svc.ReviewSubmission(ctx, r, sub.ID, 30)
		}(i, r)
	}
	wg.Wait()

	var ok, already int
	for _, err := range errs {
		switch err {
		case nil:
			ok++
		case points.ErrAlreadyReviewed:
			already++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, already)

	entries, err := f.store.QueryLedgerEntries(ctx, points.LedgerFilter{UserID: f.learner.ID})
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	rank, err := f.svc.GetUserRank(ctx, f.learner.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 30, rank.Score.TotalPoints)
}

type fakeClassifier struct {
	verdict moderation.Verdict
	err     error
}

func (c fakeClassifier) Classify(context.Context, string, moderation.ContentType) (moderation.Verdict, error) {
	return c.verdict, c.err
}

func TestService_CreateSubmission_moderation(t *testing.T) {
	validate, _ := testutil.NewValidator()
	ctx := context.Background()
	ns := points.NewSubmission{Type: points.SubmissionNote, Title: "Notes", Content: "chapter one"}

	t.Run("flagged", func(t *testing.T) {
		db, err := inmemdb.Open()
		require.NoError(t, err)
		modRepo := inmemdb.NewModerationRepository(db)
		modSvc := moderation.NewService(fakeClassifier{verdict: moderation.Verdict{IsFlagged: true, Category: "spam", Confidence: .9}}, modRepo, new(testutil.Logger))

		f := setup(t, modSvc)
		_, err = f.svc.CreateSubmission(ctx, f.learner.ID, ns, validate)
		vErr, ok := err.(*core.ValidationError)
		require.True(t, ok, "want *core.ValidationError, got %v", err)
		assert.Equal(t, []core.FieldError{{Field: "content", Error: "Automatically flagged for spam"}}, vErr.Fields)

		flags, err := modRepo.QueryFlaggedContent(ctx, moderation.QueryFilter{})
		require.NoError(t, err)
		require.Len(t, flags, 1)
		assert.Equal(t, moderation.ContentNote, flags[0].ContentType)

		subs, err := f.store.QuerySubmissions(ctx, points.SubmissionFilter{})
		require.NoError(t, err)
		assert.Empty(t, subs)
	})

	t.Run("classifier down", func(t *testing.T) {
		db, err := inmemdb.Open()
		require.NoError(t, err)
		modSvc := moderation.NewService(fakeClassifier{err: errors.New("timeout")}, inmemdb.NewModerationRepository(db), new(testutil.Logger))

		f := setup(t, modSvc)
		sub, err := f.svc.CreateSubmission(ctx, f.learner.ID, ns, validate)
		require.NoError(t, err)
		assert.Equal(t, points.StatusPending, sub.Status)
	})

	t.Run("unknown learner", func(t *testing.T) {
		f := setup(t, nil)
		_, err := f.svc.CreateSubmission(ctx, "ghost", ns, validate)
		assert.Equal(t, points.ErrUnknownUser, err)
	})
}

func TestService_leaderboard(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	// learner: 50 (40 days ago) + 20 (2 days ago) = 70 all time, 20 this week
	// contributor: 30 (10 days ago): 30 all time, 30 this month
	// admin: 5 + 5 (today): 10
	_, err := f.svc.Record(ctx, f.learner.ID, points.ActionNoteUpload, now.AddDate(0, 0, -40))
	require.NoError(t, err)
	_, err = f.svc.Record(ctx, f.learner.ID, points.ActionCollaborativePost, now.AddDate(0, 0, -2))
	require.NoError(t, err)
	_, err = f.svc.Record(ctx, f.contributor.ID, points.ActionQuestionAnswer, now.AddDate(0, 0, -10))
	require.NoError(t, err)
	_, err = f.svc.Record(ctx, f.admin.ID, points.ActionUpvoteReceived, now)
	require.NoError(t, err)
	_, err = f.svc.Record(ctx, f.admin.ID, points.ActionUpvoteReceived, now)
	require.NoError(t, err)

	type row struct {
		id   string
		rank int
		pts  int
	}
	flatten := func(rows []points.Row) []row {
		out := make([]row, 0, len(rows))
		for _, r := range rows {
			out = append(out, row{r.UserID, r.Rank, r.TotalPoints})
		}
		return out
	}

	tests := []struct {
		name    string
		filter  points.LeaderboardFilter
		want    []row
		wantErr bool
	}{
		{
			name: "all time",
			want: []row{{f.learner.ID, 1, 70}, {f.contributor.ID, 2, 30}, {f.admin.ID, 3, 10}},
		},
		{
			name:   "this month",
			filter: points.LeaderboardFilter{TimeRange: points.RangeMonth},
			want:   []row{{f.contributor.ID, 1, 30}, {f.learner.ID, 2, 20}, {f.admin.ID, 3, 10}},
		},
		{
			name:   "this week",
			filter: points.LeaderboardFilter{TimeRange: points.RangeWeek},
			want:   []row{{f.learner.ID, 1, 20}, {f.admin.ID, 2, 10}},
		},
		{
			name:   "search, no renumbering",
			filter: points.LeaderboardFilter{Search: "ADA"},
			want:   []row{{f.admin.ID, 3, 10}},
		},
		{
			name:   "by upvotes received is not a metric",
			filter: points.LeaderboardFilter{Metric: "upvotes"},
			wantErr: true,
		},
		{
			name:   "by notes",
			filter: points.LeaderboardFilter{Metric: points.MetricNotes, Limit: 1},
			want:   []row{{f.learner.ID, 1, 70}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := f.svc.GetLeaderboard(ctx, tt.filter)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, flatten(rows))
		})
	}

	t.Run("user rank", func(t *testing.T) {
		rank, err := f.svc.GetUserRank(ctx, f.contributor.ID, points.MetricPoints)
		require.NoError(t, err)
		assert.Equal(t, 2, rank.Rank)
		assert.Equal(t, 3, rank.TotalUsers)
		assert.InDelta(t, 33.33, rank.Percentile, .01)
		assert.Equal(t, 30, rank.Score.TotalPoints)

		newbie := testutil.CreateUser(t, f.usrRepo, "Newbie", "newbie", "new@test.cd", "", nil, true)
		rank, err = f.svc.GetUserRank(ctx, newbie.ID, points.MetricPoints)
		require.NoError(t, err)
		assert.Equal(t, 4, rank.Rank)
		assert.Equal(t, 4, rank.TotalUsers)
		assert.Equal(t, 0.0, rank.Percentile)
		assert.Equal(t, points.LevelBeginner, rank.Score.Level)

		_, err = f.svc.GetUserRank(ctx, "ghost", points.MetricPoints)
		assert.Equal(t, points.ErrUnknownUser, err)
	})

	t.Run("nearby", func(t *testing.T) {
		rows, err := f.svc.GetNearby(ctx, f.contributor.ID, 1, points.MetricPoints)
		require.NoError(t, err)
		assert.Equal(t, []row{{f.learner.ID, 1, 70}, {f.contributor.ID, 2, 30}, {f.admin.ID, 3, 10}}, flatten(rows))

		rows, err = f.svc.GetNearby(ctx, f.learner.ID, 1, points.MetricPoints)
		require.NoError(t, err)
		assert.Equal(t, []row{{f.learner.ID, 1, 70}, {f.contributor.ID, 2, 30}}, flatten(rows))
		assert.Equal(t, "Lina Learner", rows[0].DisplayName)
	})
}

func TestService_Reconcile(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	_, err := f.svc.RecordAction(ctx, f.learner.Principal(), f.learner.ID, points.ActionNoteUpload)
	require.NoError(t, err)

	mismatches, err := f.svc.Reconcile(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, mismatches)

	// entries written behind the aggregator's back
	_, err = f.store.InsertLedgerEntry(ctx, points.LedgerEntry{UserID: f.learner.ID, Kind: points.ActionQuestionAnswer, Points: 30, OccurredAt: time.Now().UTC()})
	require.NoError(t, err)
	_, err = f.store.InsertLedgerEntry(ctx, points.LedgerEntry{UserID: f.admin.ID, Kind: points.ActionFlashcardCreated, Points: 10, OccurredAt: time.Now().UTC()})
	require.NoError(t, err)

	want := map[string]points.Mismatch{
		f.learner.ID: {UserID: f.learner.ID, TotalPoints: 50, LedgerPoints: 80},
		f.admin.ID:   {UserID: f.admin.ID, TotalPoints: 0, LedgerPoints: 10},
	}
	mismatches, err = f.svc.Reconcile(ctx, true)
	require.NoError(t, err)
	require.Len(t, mismatches, 2)
	for _, m := range mismatches {
		assert.Equal(t, want[m.UserID], m)
	}

	mismatches, err = f.svc.Reconcile(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, mismatches)

	rank, err := f.svc.GetUserRank(ctx, f.learner.ID, points.MetricPoints)
	require.NoError(t, err)
	assert.Equal(t, 80, rank.Score.TotalPoints)
	assert.Equal(t, 1, rank.Score.QuestionsAnswered)
	assert.Equal(t, 1, rank.Score.NotesUploaded)
}

// interleavingStore runs interleave once, right after the first ledger read made inside a transaction.
type interleavingStore struct {
	points.Store
	interleave func()
	fired      bool
}

func (s *interleavingStore) WithinTx(ctx context.Context, fn func(repo points.Repository) error) error {
	return s.Store.WithinTx(ctx, func(repo points.Repository) error {
		return fn(interleavingRepo{Repository: repo, store: s})
	})
}

type interleavingRepo struct {
	points.Repository
	store *interleavingStore
}

func (r interleavingRepo) QueryLedgerEntries(ctx context.Context, filter points.LedgerFilter) ([]points.LedgerEntry, error) {
	entries, err := r.Repository.QueryLedgerEntries(ctx, filter)
	if !r.store.fired {
		r.store.fired = true
		r.store.interleave()
	}
	return entries, err
}

func TestService_Reconcile_concurrentApply(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	_, err := f.svc.RecordAction(ctx, f.learner.Principal(), f.learner.ID, points.ActionNoteUpload)
	require.NoError(t, err)
	_, err = f.store.InsertLedgerEntry(ctx, points.LedgerEntry{UserID: f.learner.ID, Kind: points.ActionQuestionAnswer, Points: 30, OccurredAt: time.Now().UTC()})
	require.NoError(t, err)

	// an entry applied between the ledger read and the score write of the rebuild
	store := &interleavingStore{Store: f.store}
	store.interleave = func() {
		_, err := f.svc.RecordAction(ctx, f.learner.Principal(), f.learner.ID, points.ActionFlashcardCreated)
		require.NoError(t, err)
	}
	svc := points.NewService(store, user.NewService(f.usrRepo), nil, nil, f.logger, core.NewTestConfig())

	mismatches, err := svc.Reconcile(ctx, true)
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, points.Mismatch{UserID: f.learner.ID, TotalPoints: 50, LedgerPoints: 80}, mismatches[0])
	assert.True(t, store.fired)

	score, err := f.store.GetScore(ctx, f.learner.ID)
	require.NoError(t, err)
	assert.Equal(t, 90, score.TotalPoints)
	assert.Equal(t, 1, score.FlashcardsCreated)
	assert.Equal(t, 1, score.QuestionsAnswered)

	mismatches, err = f.svc.Reconcile(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

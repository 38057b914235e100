package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nithadya/classsync/core"
	"github.com/nithadya/classsync/core/points"
	testutil "github.com/nithadya/classsync/tests"
)

type reconcilerFunc func(ctx context.Context, repair bool) ([]points.Mismatch, error)

func (f reconcilerFunc) Reconcile(ctx context.Context, repair bool) ([]points.Mismatch, error) {
	return f(ctx, repair)
}

func TestScheduler(t *testing.T) {
	tests := []struct {
		name     string
		result   []points.Mismatch
		err      error
		wantLogs map[string]int
	}{
		{name: "clean", wantLogs: map[string]int{"WARN": 0, "ERROR": 0}},
		{name: "repaired", result: []points.Mismatch{{UserID: "u1", TotalPoints: 10, LedgerPoints: 20}}, wantLogs: map[string]int{"WARN": 1}},
		{name: "failing", err: errors.New("db down"), wantLogs: map[string]int{"ERROR": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			rec := reconcilerFunc(func(_ context.Context, repair bool) ([]points.Mismatch, error) {
				assert.True(t, repair)
				atomic.AddInt32(&calls, 1)
				return tt.result, tt.err
			})
			conf := core.NewTestConfig()
			conf.Points.ReconcileInterval = 20 * time.Millisecond
			logger := new(testutil.Logger)

			s := New(rec, logger, conf)
			require.NoError(t, s.Start())
			assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 1 }, time.Second, 5*time.Millisecond)
			for level, n := range tt.wantLogs {
				if n > 0 {
					assert.Eventually(t, func() bool { return len(logger.Entries(level)) > 0 }, time.Second, 5*time.Millisecond)
				}
			}
			s.Stop()

			for level, n := range tt.wantLogs {
				if n == 0 {
					assert.Empty(t, logger.Entries(level))
				}
			}
		})
	}
}

func TestScheduler_disabled(t *testing.T) {
	conf := core.NewTestConfig()
	conf.Points.ReconcileInterval = 0
	rec := reconcilerFunc(func(context.Context, bool) ([]points.Mismatch, error) {
		t.Error("reconcile must not run")
		return nil, nil
	})

	s := New(rec, new(testutil.Logger), conf)
	require.NoError(t, s.Start())
	time.Sleep(30 * time.Millisecond)
	s.Stop()
}

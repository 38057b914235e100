package pubsub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nithadya/classsync/core/points"
	testutil "github.com/nithadya/classsync/tests"
)

func TestRedisBus_relay(t *testing.T) {
	change := points.ScoreChange{
		UserID:    "u1",
		OldPoints: 995,
		NewPoints: 1015,
		OldLevel:  points.LevelBeginner,
		NewLevel:  points.LevelIntermediate,
		Version:   11,
		At:        time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC),
	}
	remote, err := encode("api-2", change)
	require.NoError(t, err)
	own, err := encode("api-1", change)
	require.NoError(t, err)

	tests := []struct {
		name      string
		payload   string
		want      []points.ScoreChange
		wantWarns int
	}{
		{name: "from another instance", payload: string(remote), want: []points.ScoreChange{change}},
		{name: "own change", payload: string(own)},
		{name: "garbage", payload: "{", wantWarns: 1},
		{name: "no user", payload: `{"origin":"api-2","change":{"new_points":5}}`, wantWarns: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := new(testutil.Logger)
			bus := &RedisBus{channel: "test", origin: "api-1", logger: logger}

			var got []points.ScoreChange
			bus.relay(tt.payload, points.NotifierFunc(func(c points.ScoreChange) { got = append(got, c) }))

			assert.Equal(t, tt.want, got)
			assert.Len(t, logger.Entries("WARN"), tt.wantWarns)
		})
	}
}

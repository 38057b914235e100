package points

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeRanks(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	scores := []UserScore{
		{UserID: "c", TotalPoints: 100, NotesUploaded: 1, LastUpdated: t0.Add(2 * time.Minute)},
		{UserID: "a", TotalPoints: 300, NotesUploaded: 0, LastUpdated: t0.Add(5 * time.Minute)},
		{UserID: "d", TotalPoints: 100, NotesUploaded: 2, LastUpdated: t0.Add(time.Minute)},
		{UserID: "b", TotalPoints: 100, NotesUploaded: 2, LastUpdated: t0.Add(time.Minute)},
	}

	tests := []struct {
		metric Metric
		want   []string
	}{
		// 100s: d & b reached it first, then b < d on userID
		{metric: MetricPoints, want: []string{"a", "b", "d", "c"}},
		// 0 notes for a: last
		{metric: MetricNotes, want: []string{"b", "d", "c", "a"}},
		// all zero: lastUpdated then userID
		{metric: MetricPosts, want: []string{"b", "d", "c", "a"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.metric), func(t *testing.T) {
			ranked := ComputeRanks(scores, tt.metric)
			require.Len(t, ranked, len(tt.want))
			for i, rs := range ranked {
				assert.Equal(t, tt.want[i], rs.UserID, "position %d", i)
				assert.Equal(t, i+1, rs.Rank)
			}
		})
	}

	assert.Equal(t, "c", scores[0].UserID, "input must not be reordered")
}

func TestComputeRanks_permutation(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	scores := make([]UserScore, 200)
	for i := range scores {
		scores[i] = UserScore{
			UserID:      fmt.Sprintf("user-%03d", i),
			TotalPoints: rnd.Intn(5) * 10, // plenty of ties
			LastUpdated: t0.Add(time.Duration(rnd.Intn(3)) * time.Second),
		}
	}

	ranked := ComputeRanks(scores, MetricPoints)
	ranks := make([]int, len(ranked))
	for i, rs := range ranked {
		ranks[i] = rs.Rank
	}
	sort.Ints(ranks)
	for i, r := range ranks {
		require.Equal(t, i+1, r)
	}

	// same input, shuffled: same output
	shuffled := append([]UserScore(nil), scores...)
	rnd.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	again := ComputeRanks(shuffled, MetricPoints)
	for i := range ranked {
		assert.Equal(t, ranked[i].UserID, again[i].UserID)
	}
}

func TestParseMetric(t *testing.T) {
	for in, want := range map[string]Metric{"": MetricPoints, "POINTS": MetricPoints, " notes": MetricNotes, "posts": MetricPosts} {
		got, ok := ParseMetric(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseMetric("karma")
	assert.False(t, ok)
}

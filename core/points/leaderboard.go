package points

import (
	"strings"
	"time"

	"github.com/nithadya/classsync/core"
	"github.com/nithadya/classsync/core/user"
)

// TimeRange selects which ledger events count toward a leaderboard.
type TimeRange string

const (
	RangeAll   TimeRange = "all"
	RangeMonth TimeRange = "month"
	RangeWeek  TimeRange = "week"
)

const DefaultLeaderboardCap = 100

// ParseTimeRange defaults to RangeAll on an empty string.
func ParseTimeRange(s string) (TimeRange, bool) {
	switch r := TimeRange(strings.ToLower(strings.TrimSpace(s))); r {
	case "":
		return RangeAll, true
	case RangeAll, RangeMonth, RangeWeek:
		return r, true
	}
	return "", false
}

// Since returns the start of the window ending at now. RangeAll returns the zero time.
func (r TimeRange) Since(now time.Time) time.Time {
	switch r {
	case RangeWeek:
		return now.AddDate(0, 0, -7)
	case RangeMonth:
		return now.AddDate(0, 0, -30)
	}
	return time.Time{}
}

type LeaderboardFilter struct {
	Search    string    `query:"search"`
	TimeRange TimeRange `query:"time_range"`
	Metric    Metric    `query:"metric"`
	Limit     int       `query:"limit"`
}

func (lf *LeaderboardFilter) Clean() error {
	lf.Search = core.CleanString(lf.Search)

	tr, ok := ParseTimeRange(string(lf.TimeRange))
	if !ok {
		return core.NewValidationError(errInvalidTimeRange, core.FieldError{Field: "time_range", Error: errInvalidTimeRange.Error()})
	}
	lf.TimeRange = tr

	m, ok := ParseMetric(string(lf.Metric))
	if !ok {
		return core.NewValidationError(errInvalidMetric, core.FieldError{Field: "metric", Error: errInvalidMetric.Error()})
	}
	lf.Metric = m

	if lf.Limit < 0 {
		lf.Limit = 0
	}
	return nil
}

// Row is one leaderboard line.
type Row struct {
	RankedScore
	DisplayName string `json:"display_name"`
}

// UserRank is one user's standing.
type UserRank struct {
	Rank       int       `json:"rank"`
	TotalUsers int       `json:"total_users"`
	Percentile float64   `json:"percentile"`
	Score      UserScore `json:"score"`
}

// WindowScores aggregates entries per user, as Apply would have from zero.
// Version is left at 0 since windowed scores are never written back.
func WindowScores(entries []LedgerEntry) []UserScore {
	byUser := make(map[string]*UserScore)
	order := make([]string, 0)
	for _, e := range entries {
		s, ok := byUser[e.UserID]
		if !ok {
			ns := NewUserScore(e.UserID)
			s = &ns
			byUser[e.UserID] = s
			order = append(order, e.UserID)
		}
		at := s.LastUpdated
		if e.OccurredAt.After(at) {
			at = e.OccurredAt
		}
		*s = s.Apply(e, at)
	}
	scores := make([]UserScore, 0, len(order))
	for _, id := range order {
		scores = append(scores, *byUser[id])
	}
	return scores
}

// BuildView ranks scores on filter.Metric, then keeps the rows whose display name contains
// filter.Search (case-insensitive), in rank order, up to limit rows.
// Searching does not renumber: a row keeps the rank it has in the whole population.
// names maps userID to display name; missing users show as anonymous.
func BuildView(scores []UserScore, names map[string]string, filter LeaderboardFilter, limit int) []Row {
	if limit <= 0 {
		limit = DefaultLeaderboardCap
	}
	metric := filter.Metric
	if metric == "" {
		metric = MetricPoints
	}

	rows := make([]Row, 0, minInt(len(scores), limit))
	for _, rs := range ComputeRanks(scores, metric) {
		name, ok := names[rs.UserID]
		if !ok || name == "" {
			name = user.AnonymousName
		}
		if !core.ContainsFold(name, filter.Search) {
			continue
		}
		rows = append(rows, Row{RankedScore: rs, DisplayName: name})
		if len(rows) == limit {
			break
		}
	}
	return rows
}

// rankOf finds userID among ranked, or returns nil.
func rankOf(ranked []RankedScore, userID string) *RankedScore {
	for i := range ranked {
		if ranked[i].UserID == userID {
			return &ranked[i]
		}
	}
	return nil
}

// percentile is the share of the population ranked strictly below rank.
func percentile(rank, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(total-rank) / float64(total) * 100
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

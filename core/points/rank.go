package points

import (
	"sort"
	"strings"
)

// Metric is the UserScore field a ranking sorts on.
type Metric string

const (
	MetricPoints     Metric = "points"
	MetricNotes      Metric = "notes"
	MetricQuestions  Metric = "questions"
	MetricFlashcards Metric = "flashcards"
	MetricPosts      Metric = "posts"
)

// ParseMetric defaults to MetricPoints on an empty string.
func ParseMetric(s string) (Metric, bool) {
	switch m := Metric(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return MetricPoints, true
	case MetricPoints, MetricNotes, MetricQuestions, MetricFlashcards, MetricPosts:
		return m, true
	}
	return "", false
}

// Value reads m off s.
func (m Metric) Value(s UserScore) int {
	switch m {
	case MetricNotes:
		return s.NotesUploaded
	case MetricQuestions:
		return s.QuestionsAnswered
	case MetricFlashcards:
		return s.FlashcardsCreated
	case MetricPosts:
		return s.CollaborativePosts
	}
	return s.TotalPoints
}

// RankedScore is a UserScore with its 1-based rank.
type RankedScore struct {
	UserScore
	Rank int `json:"rank"`
}

// ComputeRanks orders scores and numbers them 1..N. The order is total:
//  1. metric, descending
//  2. lastUpdated, ascending: whoever got there first ranks higher
//  3. userID, ascending
//
// Ties on all three cannot happen since userIDs are unique. scores is not modified.
func ComputeRanks(scores []UserScore, metric Metric) []RankedScore {
	ranked := make([]RankedScore, len(scores))
	for i, s := range scores {
		ranked[i] = RankedScore{UserScore: s}
	}
	sort.Slice(ranked, func(i, j int) bool {
		return rankLess(ranked[i].UserScore, ranked[j].UserScore, metric)
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}

func rankLess(a, b UserScore, metric Metric) bool {
	if va, vb := metric.Value(a), metric.Value(b); va != vb {
		return va > vb
	}
	if !a.LastUpdated.Equal(b.LastUpdated) {
		return a.LastUpdated.Before(b.LastUpdated)
	}
	return a.UserID < b.UserID
}

package points

import (
	"fmt"
	"sync"
	"time"

	"github.com/nithadya/classsync/core"
)

type EventKind string

const (
	EventPointsEarned EventKind = "points_earned"
	EventLevelUp      EventKind = "level_up"
)

// AllUsers subscribes to every user's events.
const AllUsers = "*"

// Event is a live notification for one user.
type Event struct {
	Kind      EventKind `json:"kind"`
	UserID    string    `json:"user_id"`
	Delta     int       `json:"delta,omitempty"`
	Points    int       `json:"points"`
	FromLevel Level     `json:"from_level,omitempty"`
	Level     Level     `json:"level"`
	Version   int64     `json:"version"`
	At        time.Time `json:"at"`
}

// Events derives the notifications of c: "points earned" when points went up,
// "level up" when the level changed. Both may be returned.
func (c ScoreChange) Events() []Event {
	events := make([]Event, 0, 2)
	if delta := c.NewPoints - c.OldPoints; delta > 0 {
		events = append(events, Event{
			Kind:    EventPointsEarned,
			UserID:  c.UserID,
			Delta:   delta,
			Points:  c.NewPoints,
			Level:   c.NewLevel,
			Version: c.Version,
			At:      c.At,
		})
	}
	if c.NewLevel != c.OldLevel {
		events = append(events, Event{
			Kind:      EventLevelUp,
			UserID:    c.UserID,
			Points:    c.NewPoints,
			FromLevel: c.OldLevel,
			Level:     c.NewLevel,
			Version:   c.Version,
			At:        c.At,
		})
	}
	return events
}

// Notifier receives committed score changes. Notify must not block.
type Notifier interface {
	Notify(change ScoreChange)
}

// Notifiers fans a change out to each of its members.
type Notifiers []Notifier

func (ns Notifiers) Notify(change ScoreChange) {
	for _, n := range ns {
		if n != nil {
			n.Notify(change)
		}
	}
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(change ScoreChange)

func (f NotifierFunc) Notify(change ScoreChange) { f(change) }

// Subscription is a registered listener. Events are dropped when its buffer is full.
type Subscription struct {
	UserID string

	events chan Event
	once   sync.Once
}

// Events is closed by Hub.Unsubscribe.
func (sub *Subscription) Events() <-chan Event {
	return sub.events
}

// Hub is the in-process, per-user pub/sub for score changes.
type Hub struct {
	mu          sync.RWMutex
	subs        map[string]map[*Subscription]struct{}
	lastVersion map[string]int64
	bufferSize  int
	logger      core.Logger
}

var _ Notifier = (*Hub)(nil)

func NewHub(bufferSize int, logger core.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Hub{
		subs:        make(map[string]map[*Subscription]struct{}),
		lastVersion: make(map[string]int64),
		bufferSize:  bufferSize,
		logger:      logger,
	}
}

// Subscribe registers a listener for userID, or for everyone with AllUsers.
// The caller must Unsubscribe when done.
func (h *Hub) Subscribe(userID string) *Subscription {
	sub := &Subscription{
		UserID: userID,
		events: make(chan Event, h.bufferSize),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.subs[userID]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.subs[userID] = subs
	}
	subs[sub] = struct{}{}
	return sub
}

// Unsubscribe removes sub and closes its channel. Calling it twice is a no-op.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	if subs, ok := h.subs[sub.UserID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.subs, sub.UserID)
		}
	}
	h.mu.Unlock()
	sub.once.Do(func() { close(sub.events) })
}

// Subscribers counts the listeners of userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// Notify delivers the events of change. A change not newer than the last one seen for
// the user is stale and dropped, which keeps per-user delivery in commit order.
func (h *Hub) Notify(change ScoreChange) {
	events := change.Events()
	if len(events) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if change.Version > 0 {
		if last := h.lastVersion[change.UserID]; change.Version <= last {
			return
		}
		h.lastVersion[change.UserID] = change.Version
	}

	for _, key := range []string{change.UserID, AllUsers} {
		for sub := range h.subs[key] {
			for _, ev := range events {
				select {
				case sub.events <- ev:
				default:
					if h.logger != nil {
						h.logger.Warn(fmt.Sprintf("dropping %s event for user %s: buffer full", ev.Kind, ev.UserID))
					}
				}
			}
		}
	}
}

// Coalesce merges a burst of events the way a client shows them:
//   - events already seen (same user, kind and version) are dropped
//   - the "points earned" events of a user become one, with the deltas summed
//   - the "level up" events of a user become one, from the first level to the last
//
// Merged events keep the position of their first occurrence and the latest points, level and version.
func Coalesce(events []Event) []Event {
	type mergeKey struct {
		userID string
		kind   EventKind
	}
	type seenKey struct {
		mergeKey
		version int64
	}
	seen := make(map[seenKey]bool, len(events))
	index := make(map[mergeKey]int, len(events))
	merged := make([]Event, 0, len(events))
	for _, ev := range events {
		mk := mergeKey{ev.UserID, ev.Kind}
		if ev.Version > 0 {
			sk := seenKey{mk, ev.Version}
			if seen[sk] {
				continue
			}
			seen[sk] = true
		}

		i, ok := index[mk]
		if !ok {
			index[mk] = len(merged)
			merged = append(merged, ev)
			continue
		}
		m := &merged[i]
		if ev.Kind == EventPointsEarned {
			m.Delta += ev.Delta
		}
		if ev.Version >= m.Version {
			m.Points = ev.Points
			m.Level = ev.Level
			m.Version = ev.Version
			m.At = ev.At
		}
	}
	return merged
}

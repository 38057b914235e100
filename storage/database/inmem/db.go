package inmemdb

import (
	"sync"

	"github.com/nithadya/classsync/core/moderation"
	"github.com/nithadya/classsync/core/points"
	"github.com/nithadya/classsync/core/user"
)

type (
	// DB is a process-local database for tests and demos.
	DB struct {
		user       *userTable
		points     *pointsTables
		moderation *flagTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	pointsTables struct {
		sync.RWMutex
		ledger      []points.LedgerEntry
		scores      map[string]points.UserScore
		submissions map[string]points.Submission
	}

	flagTable struct {
		sync.RWMutex
		table map[string]*moderation.FlaggedContent
	}
)

func Open() (*DB, error) {
	db := &DB{
		user: &userTable{table: make(map[string]*user.User)},
		points: &pointsTables{
			scores:      make(map[string]points.UserScore),
			submissions: make(map[string]points.Submission),
		},
		moderation: &flagTable{table: make(map[string]*moderation.FlaggedContent)},
	}
	return db, nil
}

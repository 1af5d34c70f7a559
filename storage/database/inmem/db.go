package inmemdb

import (
	"sync"

	"github.com/trezcool/jitu/core/attempt"
	"github.com/trezcool/jitu/core/period"
	"github.com/trezcool/jitu/core/progress"
)

type (
	// DB keeps every table behind one lock, so multi-table operations are atomic like a transaction.
	DB struct {
		mutex sync.RWMutex

		periods     map[string]*period.Period
		questions   map[string][]period.Question // {periodID: questions by position}
		attempts    map[string]*attempt.Attempt
		answers     map[string]map[string]attempt.Answer // {attemptID: {questionID: answer}}
		results     map[string]attempt.Result
		sessions    map[string]learnerSession
		completions map[completionKey]progress.Completion
	}

	learnerSession struct {
		key       string
		expiresAt int64 // unix nano
	}

	completionKey struct {
		learnerID string
		cohortID  string
	}
)

func Open() (*DB, error) {
	db := &DB{
		periods:     make(map[string]*period.Period),
		questions:   make(map[string][]period.Question),
		attempts:    make(map[string]*attempt.Attempt),
		answers:     make(map[string]map[string]attempt.Answer),
		results:     make(map[string]attempt.Result),
		sessions:    make(map[string]learnerSession),
		completions: make(map[completionKey]progress.Completion),
	}
	return db, nil
}

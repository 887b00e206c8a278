package domain

import (
	"errors"
	"time"
)

// Outcome classifies a single delivery attempt.
type Outcome string

const (
	OutcomeSuccess            Outcome = "success"
	OutcomeCredentialsInvalid Outcome = "credentials_invalid"
	OutcomeFailed             Outcome = "failed"
	OutcomeSkipped            Outcome = "skipped"
)

// OutcomeOf maps a delivery error onto an Outcome.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrCredentialsInvalid):
		return OutcomeCredentialsInvalid
	default:
		return OutcomeFailed
	}
}

// PublicationEvent describes one delivery attempt. PostID is empty for
// ad-hoc threads that were never stored.
type PublicationEvent struct {
	PostID    string    `json:"postId,omitempty"`
	Platform  Platform  `json:"platform"`
	Outcome   Outcome   `json:"outcome"`
	Delivered int       `json:"delivered"`
	Total     int       `json:"total"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Attempt is one post/platform pair processed in a due-batch.
type Attempt struct {
	PostID   string   `json:"postId"`
	Platform Platform `json:"platform"`
	Outcome  Outcome  `json:"outcome"`
	Error    string   `json:"error,omitempty"`
}

// BatchReport summarizes a due-batch.
type BatchReport struct {
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Due       int           `json:"due"`
	Attempts  []Attempt     `json:"attempts"`
}

// Count returns how many attempts ended with outcome o.
func (r BatchReport) Count(o Outcome) int {
	n := 0
	for _, a := range r.Attempts {
		if a.Outcome == o {
			n++
		}
	}
	return n
}

type nopSink struct{}

func (nopSink) Emit(PublicationEvent) {}

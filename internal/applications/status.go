package applications

import (
	"fmt"
	"strings"

	apierrors "github.com/eternisai/marketplace-sync/internal/errors"
)

// Status is the lifecycle state of a job application.
type Status string

const (
	StatusPending     Status = "pending"
	StatusShortlisted Status = "shortlisted"
	StatusInterviewed Status = "interviewed"
	StatusAccepted    Status = "accepted"
	StatusRejected    Status = "rejected"
	StatusFilled      Status = "filled"
)

// Rank values of the status ordering. Statuses with RankTerminal never change.
const (
	RankPending  = 0
	RankActive   = 1
	RankTerminal = 2
)

var ranks = map[Status]int{
	StatusPending:     RankPending,
	StatusShortlisted: RankActive,
	StatusInterviewed: RankActive,
	StatusAccepted:    RankActive,
	StatusRejected:    RankTerminal,
	StatusFilled:      RankTerminal,
}

// steps orders the statuses sharing a rank. An application never moves to a
// lower step within its rank.
var steps = map[Status]int{
	StatusShortlisted: 1,
	StatusInterviewed: 2,
	StatusAccepted:    3,
}

// ParseStatus normalizes s and returns the matching status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := ranks[st]; !ok {
		return "", fmt.Errorf("%w: unknown application status %q", apierrors.ErrMalformedEvent, s)
	}
	return st, nil
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := ranks[s]
	return ok
}

// Rank returns the position of s in the status ordering, or -1 for unknown statuses.
func (s Status) Rank() int {
	r, ok := ranks[s]
	if !ok {
		return -1
	}
	return r
}

// Before reports whether s comes strictly before other in the status ordering:
// a lower rank, or a lower step inside the same rank.
func (s Status) Before(other Status) bool {
	if s.Rank() != other.Rank() {
		return s.Rank() < other.Rank()
	}
	return steps[s] < steps[other]
}

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	return s.Rank() == RankTerminal
}

// GoodNews reports whether s is a status worth celebrating for the candidate.
func (s Status) GoodNews() bool {
	switch s {
	case StatusShortlisted, StatusInterviewed, StatusAccepted:
		return true
	}
	return false
}

// Label returns the user-facing French label of s.
func (s Status) Label() string {
	switch s {
	case StatusPending:
		return "en attente"
	case StatusShortlisted:
		return "présélectionnée"
	case StatusInterviewed:
		return "entretien"
	case StatusAccepted:
		return "acceptée"
	case StatusRejected:
		return "refusée"
	case StatusFilled:
		return "pourvue"
	}
	return string(s)
}

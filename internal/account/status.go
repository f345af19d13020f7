package account

import (
	"fmt"
	"strings"

	"github.com/ayo6706/account-cqrs/internal/domain"
)

// Status describes the account lifecycle label used by command decisions.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusClosed    Status = "closed"
)

// statusTransitions lists every permitted (from, to) pair. Missing pairs are denied.
var statusTransitions = map[Status]map[Status]struct{}{
	StatusActive: {
		StatusSuspended: {},
		StatusClosed:    {},
	},
	StatusSuspended: {
		StatusActive: {},
		StatusClosed: {},
	},
	StatusClosed: {},
}

// Statuses returns the closed set of known statuses.
func Statuses() []Status {
	return []Status{StatusActive, StatusSuspended, StatusClosed}
}

// ParseStatus canonicalizes a status label.
func ParseStatus(value string) (Status, error) {
	switch s := Status(strings.ToLower(strings.TrimSpace(value))); s {
	case StatusActive, StatusSuspended, StatusClosed:
		return s, nil
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidStatus, value)
	}
}

// CanTransition reports whether the lifecycle table allows from -> to.
func CanTransition(from, to Status) bool {
	next, ok := statusTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// AllowsMutation reports whether balance-changing commands are accepted.
func (s Status) AllowsMutation() bool {
	return s == StatusActive
}

func (s Status) String() string {
	return string(s)
}

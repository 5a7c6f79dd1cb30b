package models

import (
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusNew       Status = "new"
	StatusViewed    Status = "viewed"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var (
	ErrInvalidStatus     = errors.New("invalid status")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// rank orders the forward path; cancelled sits outside it.
var rank = map[Status]int{
	StatusNew:       0,
	StatusViewed:    1,
	StatusPreparing: 2,
	StatusReady:     3,
	StatusCompleted: 4,
}

// ActiveStatuses are shown on the display.
var ActiveStatuses = []Status{StatusNew, StatusViewed, StatusPreparing, StatusReady}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if st == StatusCancelled {
		return st, nil
	}
	if _, ok := rank[st]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusCancelled }

func (s Status) Active() bool {
	_, ok := rank[s]
	return ok && !s.Terminal()
}

// CheckTransition reports whether an order may move from -> to. Forward moves
// of any distance are allowed, repeating the current status is a no-op
// (changed == false), backward moves and moves out of a terminal status fail.
func CheckTransition(from, to Status) (changed bool, err error) {
	if _, err := ParseStatus(string(to)); err != nil {
		return false, err
	}
	if from == to {
		return false, nil
	}
	if from.Terminal() {
		return false, fmt.Errorf("%w: %s is final", ErrInvalidTransition, from)
	}
	if to == StatusCancelled {
		return true, nil
	}
	if rank[to] < rank[from] {
		return false, fmt.Errorf("%w: %s -> %s moves backward", ErrInvalidTransition, from, to)
	}
	return true, nil
}

// Apply moves o to status `to` at `now`, stamping the matching timestamps.
func (o *Order) Apply(to Status, now time.Time) (bool, error) {
	changed, err := CheckTransition(o.Status, to)
	if err != nil || !changed {
		return false, err
	}

	t := now
	switch to {
	case StatusViewed:
		o.ViewedAt = &t
	case StatusPreparing:
		o.StartedAt = &t
		if o.ViewedAt == nil {
			o.ViewedAt = &t
		}
	case StatusReady:
		o.ReadyAt = &t
		if o.StartedAt != nil {
			secs := int(now.Sub(*o.StartedAt) / time.Second)
			o.PrepTime = &secs
		}
	case StatusCompleted, StatusCancelled:
		o.CompletedAt = &t
	}
	o.Status = to
	o.UpdatedAt = now
	return true, nil
}

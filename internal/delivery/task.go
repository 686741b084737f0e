package delivery

import (
	"fmt"
	"strings"
)

// Priority names one of the two dispatch queues.
type Priority int

const (
	High Priority = iota
	Low
)

// Priorities lists every priority in dequeue preference order.
var Priorities = []Priority{High, Low}

func (p Priority) String() string {
	switch p {
	case High:
		return "high"
	case Low:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ParsePriority accepts "high" or "low" in any case.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return High, nil
	case "low":
		return Low, nil
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

// Task is one delivery of a shared request to one target.
type Task struct {
	Target    string
	Request   *SharedRequest
	Remaining int // attempts left, including the next one
	Priority  Priority
	Attempt   int // 1-based number of the next attempt
}

// NewTask creates the first-attempt task for target.
func NewTask(target string, req *SharedRequest, budget int, p Priority) *Task {
	if budget < 1 {
		budget = 1
	}
	return &Task{
		Target:    target,
		Request:   req,
		Remaining: budget,
		Priority:  p,
		Attempt:   1,
	}
}

// next returns the copy that is re-enqueued after a failed attempt.
func (t *Task) next(remaining int) *Task {
	n := *t
	n.Remaining = remaining
	n.Attempt = t.Attempt + 1
	return &n
}

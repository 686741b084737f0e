package delivery

import (
	"context"
	"time"
)

const DLQType = "delivery.dlq"

// DeadLetterTask is the part of a task worth keeping after it is dropped. The
// body is left out; targets are usually replayed from the original caller.
type DeadLetterTask struct {
	Target    string              `json:"target"`
	Method    string              `json:"method"`
	Priority  Priority            `json:"priority"`
	RequestID string              `json:"request_id,omitempty"`
	Header    map[string][]string `json:"header,omitempty"`
	BodyBytes int                 `json:"body_bytes"`
}

type DeadLetter struct {
	Type            string         `json:"type"`                       // "delivery.dlq"
	Version         string         `json:"version"`                    // schema version
	At              string         `json:"at"`                         // RFC3339 time the DLQ was emitted
	Reason          string         `json:"reason"`                     // human/debug text
	Attempt         int            `json:"attempt"`                    // deliveries made before dropping
	RequeueFailures int            `json:"requeue_failures,omitempty"` // budget spent on a full queue
	HTTPStatus      int            `json:"http_status,omitempty"`
	LastError       string         `json:"last_error,omitempty"`
	Task            DeadLetterTask `json:"task"`
}

// DeadLetterSink receives tasks dropped after exhausting their budget.
type DeadLetterSink interface {
	Publish(ctx context.Context, dl DeadLetter) error
}

func NewDeadLetter(t *Task, attempt, httpStatus int, lastErr, reason string) DeadLetter {
	dt := DeadLetterTask{
		Target:   t.Target,
		Priority: t.Priority,
	}
	if r := t.Request; r != nil {
		dt.Method = r.Method
		dt.RequestID = r.RequestID
		dt.Header = r.Header.Clone()
		dt.BodyBytes = len(r.Body)
	}
	return DeadLetter{
		Type:       DLQType,
		Version:    "v1",
		At:         time.Now().Format(time.RFC3339Nano),
		Reason:     reason,
		Attempt:    attempt,
		HTTPStatus: httpStatus,
		LastError:  lastErr,
		Task:       dt,
	}
}

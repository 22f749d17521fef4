package app

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Operation tracks one façade action from start to its single notification.
type Operation struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Status   string // "success" or "error"
	Message  string
	Err      error
}

// NewOperation starts tracking an action named name.
func NewOperation(name string, now time.Time) *Operation {
	return &Operation{Name: name, Started: now}
}

func (op *Operation) succeed(now time.Time, message string) {
	op.Duration = now.Sub(op.Started)
	op.Status = "success"
	op.Message = message
}

func (op *Operation) fail(now time.Time, err error) {
	op.Duration = now.Sub(op.Started)
	op.Status = "error"
	op.Err = err
	op.Message = err.Error()
}

// Failed reports whether the action ended in an error.
func (op *Operation) Failed() bool {
	return op.Status == "error"
}

// Notifier receives exactly one notification per finished façade action.
type Notifier interface {
	Success(op *Operation)
	Error(op *Operation)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) Success(*Operation) {}
func (NopNotifier) Error(*Operation)   {}

// WriterNotifier prints notifications as single lines, errors prefixed with "error:".
type WriterNotifier struct {
	Out io.Writer
	Err io.Writer
}

func (n *WriterNotifier) Success(op *Operation) {
	fmt.Fprintln(n.Out, op.Message)
}

func (n *WriterNotifier) Error(op *Operation) {
	fmt.Fprintf(n.Err, "error: %s: %s\n", op.Name, op.Message)
}

// RecordingNotifier keeps every notification, for tests and batch callers.
type RecordingNotifier struct {
	mu  sync.Mutex
	ops []*Operation
}

func (n *RecordingNotifier) Success(op *Operation) { n.add(op) }
func (n *RecordingNotifier) Error(op *Operation)   { n.add(op) }

func (n *RecordingNotifier) add(op *Operation) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ops = append(n.ops, op)
}

// Operations returns a copy of every received notification in order.
func (n *RecordingNotifier) Operations() []*Operation {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*Operation(nil), n.ops...)
}

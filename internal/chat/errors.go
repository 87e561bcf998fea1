package chat

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound = errors.New("chat: session not found")
	// ErrSessionTableMismatch is returned when an existing session is reopened
	// for a different table.
	ErrSessionTableMismatch = errors.New("chat: session is bound to another table")
	ErrEmptyMessage         = errors.New("chat: message is empty")
)

type ErrorKind string

const (
	KindModelTimeout         ErrorKind = "ModelTimeout"
	KindToolTimeout          ErrorKind = "ToolTimeout"
	KindIterationCapExceeded ErrorKind = "IterationCapExceeded"
)

// OrchestrationError ends a turn with a degraded reply. It never corrupts the
// stored conversation.
type OrchestrationError struct {
	Kind ErrorKind
	Err  error
}

func (e *OrchestrationError) Error() string {
	if e.Err == nil {
		return "chat: " + string(e.Kind)
	}
	return fmt.Sprintf("chat: %s: %v", e.Kind, e.Err)
}

func (e *OrchestrationError) Unwrap() error {
	return e.Err
}

// degradedAnswers are the fixed replies for a turn that could not complete.
var degradedAnswers = map[ErrorKind]string{
	KindIterationCapExceeded: "I apologize, but I reached the maximum number of processing steps. Please try rephrasing your question.",
	KindModelTimeout:         "I apologize, but the language model took too long to respond. Please try again.",
	KindToolTimeout:          "I apologize, but a database lookup took too long to finish. Please try a simpler question.",
}

package sqlguard

import (
	"errors"
	"fmt"
)

// Reason is a stable tag describing why a statement was refused. The values
// are part of the tool protocol and must not change.
type Reason string

const (
	ReasonMultiStatement      Reason = "MultiStatement"
	ReasonWriteOperation      Reason = "WriteOperation"
	ReasonUnknownTable        Reason = "UnknownTable"
	ReasonUnknownColumn       Reason = "UnknownColumn"
	ReasonDisallowedConstruct Reason = "DisallowedConstruct"
	ReasonSyntaxError         Reason = "SyntaxError"
)

var Reasons = []Reason{
	ReasonMultiStatement,
	ReasonWriteOperation,
	ReasonUnknownTable,
	ReasonUnknownColumn,
	ReasonDisallowedConstruct,
	ReasonSyntaxError,
}

type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return string(r.Reason)
	}
	return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
}

func reject(reason Reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// ReasonOf extracts the rejection reason from err.
func ReasonOf(err error) (Reason, bool) {
	var rejection *Rejection
	if errors.As(err, &rejection) {
		return rejection.Reason, true
	}
	return "", false
}

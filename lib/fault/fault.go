// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fault

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind identifies the stage of a worker task that failed.
type Kind string

const (
	// Connection means a session could not be established or
	// authenticated.
	Connection Kind = "connection"
	// Command means a remote command could not be executed or its
	// transport failed, or a command the caller required to succeed
	// exited non-zero.
	Command Kind = "command"
	// Probe means disk usage could not be measured.
	Probe Kind = "probe"
	// Locator means the cache directory could not be enumerated or its
	// entries could not be attributed to jobs.
	Locator Kind = "locator"
	// Remediation means the kill or clean step failed.
	Remediation Kind = "remediation"
	// Timeout means the pass deadline expired before the task finished.
	Timeout Kind = "timeout"
	// Canceled means the pass was interrupted before the task finished.
	Canceled Kind = "canceled"
)

// Connection reasons. They refine Connection faults for reporting and
// never change control flow.
const (
	ReasonAuthentication = "authentication"
	ReasonNetwork        = "network"
	ReasonHostKey        = "host-key"
	ReasonCredential     = "credential"
)

// Error is a tagged failure from one worker task.
type Error struct {
	Kind   Kind   `json:"kind" yaml:"kind"`
	Host   string `json:"host" yaml:"host"`
	Op     string `json:"op,omitempty" yaml:"op,omitempty"`
	JobID  string `json:"job_id,omitempty" yaml:"job_id,omitempty"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`

	// Message is the rendered cause, kept so the fault survives
	// serialization. Err is not serialized.
	Message string `json:"message" yaml:"message"`
	Err     error  `json:"-" yaml:"-"`
}

// New builds a fault of the given kind. err may be nil when the stage
// detected the failure itself; op then doubles as the message.
func New(kind Kind, host, op string, err error) *Error {
	fault := &Error{Kind: kind, Host: host, Op: op, Err: err}
	if err != nil {
		fault.Message = err.Error()
	} else {
		fault.Message = op
	}
	return fault
}

// WithJob returns the fault tagged with a job identifier.
func (e *Error) WithJob(jobID string) *Error {
	e.JobID = jobID
	return e
}

// WithReason returns the fault tagged with a refining reason.
func (e *Error) WithReason(reason string) *Error {
	e.Reason = reason
	return e
}

func (e *Error) Error() string {
	var builder strings.Builder
	builder.WriteString(string(e.Kind))
	if e.Reason != "" {
		builder.WriteString("/")
		builder.WriteString(e.Reason)
	}
	builder.WriteString(" error on ")
	builder.WriteString(e.Host)
	if e.JobID != "" {
		fmt.Fprintf(&builder, " (job %s)", e.JobID)
	}
	if e.Op != "" && e.Op != e.Message {
		builder.WriteString(": ")
		builder.WriteString(e.Op)
	}
	if e.Message != "" {
		builder.WriteString(": ")
		builder.WriteString(e.Message)
	}
	return builder.String()
}

func (e *Error) Unwrap() error { return e.Err }

// As returns the first *Error in err's chain, or nil.
func As(err error) *Error {
	var fault *Error
	if errors.As(err, &fault) {
		return fault
	}
	return nil
}

// KindOf returns the kind of the first fault in err's chain, or "" if
// err carries none.
func KindOf(err error) Kind {
	if fault := As(err); fault != nil {
		return fault.Kind
	}
	return ""
}

// Is reports whether err carries a fault of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// FromContext converts a context error into a Timeout or Canceled
// fault. Returns nil when ctxErr is nil.
func FromContext(host, op string, ctxErr error) *Error {
	switch {
	case ctxErr == nil:
		return nil
	case errors.Is(ctxErr, context.DeadlineExceeded):
		return New(Timeout, host, op, ctxErr)
	default:
		return New(Canceled, host, op, ctxErr)
	}
}

// Classify wraps err as a fault for host. An existing fault passes
// through unchanged, unless ctx has expired, in which case the expiry
// wins: a command that failed because its connection was torn down by
// the deadline is reported as a timeout, not as a transport failure.
func Classify(ctx context.Context, host, op string, kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if existing := As(err); existing != nil && (existing.Kind == Timeout || existing.Kind == Canceled) {
			return existing
		}
		timeout := FromContext(host, op, ctxErr)
		timeout.Message = err.Error()
		return timeout
	}
	if existing := As(err); existing != nil {
		return existing
	}
	return New(kind, host, op, err)
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/bureau-foundation/cacheguard/lib/fault"
)

// Transport selects how a target is reached.
type Transport string

const (
	// TransportSSH reaches the worker over SSH.
	TransportSSH Transport = "ssh"
	// TransportLocal runs commands on the controller host.
	TransportLocal Transport = "local"
)

// DefaultSSHPort is used when a target does not name a port.
const DefaultSSHPort = 22

// Target is a fully resolved worker: where it is and which credential
// reaches it. Targets are values; nothing mutates one after resolution.
type Target struct {
	Host      string    `json:"host" yaml:"host"`
	Port      int       `json:"port,omitempty" yaml:"port,omitempty"`
	Transport Transport `json:"transport,omitempty" yaml:"transport,omitempty"`

	// Credential is omitted from serialized reports.
	Credential Credential `json:"-" yaml:"-"`
}

// Credential identifies how to authenticate to a target. KeyFile is a
// path, never key material.
type Credential struct {
	User     string
	KeyFile  string
	UseAgent bool
}

// Address returns host:port for dialing.
func (t Target) Address() string {
	port := t.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

// Result is the outcome of one command that ran to completion.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Err returns a Command fault if the command exited non-zero. The
// first line of stderr is kept as the message; yarn and hadoop tools
// write INFO chatter to stderr even on success, so stderr alone never
// signals failure.
func (r Result) Err(host, op string) error {
	if r.ExitCode == 0 {
		return nil
	}
	detail := firstLine(r.Stderr)
	if detail == "" {
		detail = firstLine(r.Stdout)
	}
	if detail == "" {
		return fault.New(fault.Command, host, op, fmt.Errorf("exit status %d", r.ExitCode))
	}
	return fault.New(fault.Command, host, op, fmt.Errorf("exit status %d: %s", r.ExitCode, detail))
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if index := strings.IndexByte(s, '\n'); index >= 0 {
		s = s[:index]
	}
	return strings.TrimSpace(s)
}

// Session runs commands on one worker. A Session is owned by a single
// task and is not safe for concurrent Run calls from unrelated tasks.
type Session interface {
	// Host returns the worker this session is connected to.
	Host() string

	// Run executes command through the worker's shell and waits for it.
	// The error is non-nil only when the command could not be run or
	// its transport failed.
	Run(ctx context.Context, command string) (Result, error)

	// Close releases the connection. Safe to call more than once.
	Close() error
}

// Dialer opens sessions.
type Dialer interface {
	Open(ctx context.Context, target Target) (Session, error)
}

// Router dispatches to a dialer per transport, so one fleet can mix
// SSH workers with a local one.
type Router struct {
	SSH   Dialer
	Local Dialer
}

// Open implements Dialer.
func (r Router) Open(ctx context.Context, target Target) (Session, error) {
	switch target.Transport {
	case TransportLocal:
		if r.Local == nil {
			return nil, fault.New(fault.Connection, target.Host, "open", fmt.Errorf("local transport not configured"))
		}
		return r.Local.Open(ctx, target)
	case TransportSSH, "":
		if r.SSH == nil {
			return nil, fault.New(fault.Connection, target.Host, "open", fmt.Errorf("ssh transport not configured"))
		}
		return r.SSH.Open(ctx, target)
	default:
		return nil, fault.New(fault.Connection, target.Host, "open", fmt.Errorf("unknown transport %q", target.Transport))
	}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package remotetest provides a scripted in-memory remote.Dialer for
// tests of the probe, locator, remediator, and orchestrator.
//
// Each host gets a [Host] script: an optional open error, and a list of
// handlers matched by command prefix. Unmatched commands exit 127 like
// a shell that cannot find them. Every command is recorded.
//
//	dialer := remotetest.NewDialer()
//	dialer.Host("w1").On("df ", remote.Result{Stdout: dfOutput})
//	dialer.Host("w3").OpenErr = errors.New("connection refused")
package remotetest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bureau-foundation/cacheguard/lib/fault"
	"github.com/bureau-foundation/cacheguard/lib/remote"
)

// Handler answers commands that start with Prefix.
type Handler struct {
	Prefix  string
	Respond func(command string) (remote.Result, error)
}

// Host scripts one worker.
type Host struct {
	// OpenErr, when set, makes Open fail with a Connection fault
	// wrapping it.
	OpenErr error
	// OpenReason tags the Connection fault produced from OpenErr.
	OpenReason string
	// BeforeOpen, when set, runs inside Open before the session is
	// returned. Tests use it to block until the context ends.
	BeforeOpen func(ctx context.Context) error

	mu       sync.Mutex
	handlers []Handler
	commands []string
	opened   int
	closed   int
}

// On answers commands starting with prefix with a fixed result.
func (h *Host) On(prefix string, result remote.Result) *Host {
	return h.OnFunc(prefix, func(string) (remote.Result, error) { return result, nil })
}

// OnFunc answers commands starting with prefix with respond.
func (h *Host) OnFunc(prefix string, respond func(command string) (remote.Result, error)) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers = append(h.handlers, Handler{Prefix: prefix, Respond: respond})
	return h
}

// Commands returns the commands run on this host, in order.
func (h *Host) Commands() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.commands...)
}

// Ran reports whether any command starting with prefix was run.
func (h *Host) Ran(prefix string) bool {
	for _, command := range h.Commands() {
		if strings.HasPrefix(command, prefix) {
			return true
		}
	}
	return false
}

// Sessions returns how many sessions were opened and closed.
func (h *Host) Sessions() (opened, closed int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.opened, h.closed
}

func (h *Host) run(command string) (remote.Result, error) {
	h.mu.Lock()
	h.commands = append(h.commands, command)
	var match *Handler
	for index := range h.handlers {
		if strings.HasPrefix(command, h.handlers[index].Prefix) {
			match = &h.handlers[index]
			break
		}
	}
	h.mu.Unlock()

	if match == nil {
		return remote.Result{ExitCode: 127, Stderr: fmt.Sprintf("sh: %s: command not found", firstWord(command))}, nil
	}
	return match.Respond(command)
}

func firstWord(command string) string {
	if fields := strings.Fields(command); len(fields) > 0 {
		return fields[0]
	}
	return command
}

// Dialer is a scripted remote.Dialer. Hosts without a script accept
// connections and answer every command with exit 127.
type Dialer struct {
	mu     sync.Mutex
	hosts  map[string]*Host
	active int
	peak   int
}

// NewDialer returns an empty scripted dialer.
func NewDialer() *Dialer {
	return &Dialer{hosts: make(map[string]*Host)}
}

// Host returns the script for host, creating it on first use.
func (d *Dialer) Host(host string) *Host {
	d.mu.Lock()
	defer d.mu.Unlock()
	script, ok := d.hosts[host]
	if !ok {
		script = &Host{}
		d.hosts[host] = script
	}
	return script
}

// PeakSessions returns the largest number of sessions open at once.
func (d *Dialer) PeakSessions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peak
}

// Open implements remote.Dialer.
func (d *Dialer) Open(ctx context.Context, target remote.Target) (remote.Session, error) {
	script := d.Host(target.Host)

	if script.BeforeOpen != nil {
		if err := script.BeforeOpen(ctx); err != nil {
			return nil, fault.Classify(ctx, target.Host, "open", fault.Connection, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fault.FromContext(target.Host, "open", err)
	}
	if script.OpenErr != nil {
		connectionFault := fault.New(fault.Connection, target.Host, "dial "+target.Address(), script.OpenErr)
		if script.OpenReason != "" {
			connectionFault.WithReason(script.OpenReason)
		}
		return nil, connectionFault
	}

	d.mu.Lock()
	d.active++
	if d.active > d.peak {
		d.peak = d.active
	}
	d.mu.Unlock()

	script.mu.Lock()
	script.opened++
	script.mu.Unlock()

	return &session{dialer: d, script: script, host: target.Host}, nil
}

type session struct {
	dialer *Dialer
	script *Host
	host   string
	once   sync.Once
}

func (s *session) Host() string { return s.host }

func (s *session) Run(ctx context.Context, command string) (remote.Result, error) {
	if err := ctx.Err(); err != nil {
		return remote.Result{}, fault.FromContext(s.host, command, err)
	}
	return s.script.run(command)
}

func (s *session) Close() error {
	s.once.Do(func() {
		s.dialer.mu.Lock()
		s.dialer.active--
		s.dialer.mu.Unlock()

		s.script.mu.Lock()
		s.script.closed++
		s.script.mu.Unlock()
	})
	return nil
}

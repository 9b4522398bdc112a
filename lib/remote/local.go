// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"errors"
	"os/exec"

	"github.com/bureau-foundation/cacheguard/lib/fault"
)

// LocalDialer opens sessions that run commands on the controller host.
type LocalDialer struct {
	// Shell is the interpreter used for sh -c. Defaults to /bin/sh.
	Shell string
}

// Open implements Dialer. It never fails.
func (d LocalDialer) Open(ctx context.Context, target Target) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fault.FromContext(target.Host, "open", err)
	}
	shell := d.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	return &LocalSession{host: target.Host, shell: shell}, nil
}

// LocalSession runs commands on the controller host. Probes recognize
// it and measure the filesystem directly instead of parsing df.
type LocalSession struct {
	host  string
	shell string
}

func (s *LocalSession) Host() string { return s.host }

func (s *LocalSession) Run(ctx context.Context, command string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fault.FromContext(s.host, command, err)
	}

	stdout := &cappedBuffer{limit: maxOutputBytes}
	stderr := &cappedBuffer{limit: maxOutputBytes}
	cmd := exec.CommandContext(ctx, s.shell, "-c", command)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, fault.FromContext(s.host, command, ctxErr)
	}

	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		result.ExitCode = exitError.ExitCode()
		return result, nil
	}
	return result, fault.New(fault.Command, s.host, command, err)
}

func (s *LocalSession) Close() error { return nil }

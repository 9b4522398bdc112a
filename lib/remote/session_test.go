// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"strings"
	"testing"

	"github.com/bureau-foundation/cacheguard/lib/fault"
)

func TestTargetAddress(t *testing.T) {
	if got := (Target{Host: "worker01"}).Address(); got != "worker01:22" {
		t.Errorf("Address() = %q, want worker01:22", got)
	}
	if got := (Target{Host: "worker02", Port: 2222}).Address(); got != "worker02:2222" {
		t.Errorf("Address() = %q, want worker02:2222", got)
	}
	if got := (Target{Host: "fe80::1"}).Address(); got != "[fe80::1]:22" {
		t.Errorf("Address() = %q, want bracketed IPv6", got)
	}
}

func TestResultErr(t *testing.T) {
	if err := (Result{ExitCode: 0, Stderr: "INFO client.RMProxy: Connecting"}).Err("w1", "yarn"); err != nil {
		t.Errorf("exit 0 with INFO stderr produced %v", err)
	}

	err := (Result{ExitCode: 1, Stderr: "df: /missing: No such file or directory\nmore"}).Err("w1", "df")
	if err == nil {
		t.Fatal("exit 1 produced no error")
	}
	if !fault.Is(err, fault.Command) {
		t.Errorf("kind = %q, want command", fault.KindOf(err))
	}
	if !strings.Contains(err.Error(), "No such file or directory") || strings.Contains(err.Error(), "more") {
		t.Errorf("error = %q, want only the first stderr line", err)
	}
}

func TestRouterDispatch(t *testing.T) {
	router := Router{Local: LocalDialer{}}

	session, err := router.Open(context.Background(), Target{Host: "self", Transport: TransportLocal})
	if err != nil {
		t.Fatalf("local open: %v", err)
	}
	session.Close()

	_, err = router.Open(context.Background(), Target{Host: "w1"})
	if !fault.Is(err, fault.Connection) {
		t.Errorf("ssh without dialer: err = %v, want connection fault", err)
	}

	_, err = router.Open(context.Background(), Target{Host: "w1", Transport: "telnet"})
	if !fault.Is(err, fault.Connection) {
		t.Errorf("unknown transport: err = %v, want connection fault", err)
	}
}

func TestLocalSessionRun(t *testing.T) {
	session, err := LocalDialer{}.Open(context.Background(), Target{Host: "self"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer session.Close()

	result, err := session.Run(context.Background(), "echo out; echo err >&2; exit 3")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(result.Stdout) != "out" || strings.TrimSpace(result.Stderr) != "err" {
		t.Errorf("result = %+v", result)
	}
	if result.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", result.ExitCode)
	}
}

func TestLocalSessionCancelled(t *testing.T) {
	session, _ := LocalDialer{}.Open(context.Background(), Target{Host: "self"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := session.Run(ctx, "true")
	if !fault.Is(err, fault.Canceled) {
		t.Errorf("err = %v, want canceled fault", err)
	}
}

func TestCappedBuffer(t *testing.T) {
	buffer := &cappedBuffer{limit: 4}
	n, err := buffer.Write([]byte("abcdef"))
	if err != nil || n != 6 {
		t.Fatalf("Write = (%d, %v), want (6, nil)", n, err)
	}
	buffer.Write([]byte("gh"))
	if buffer.String() != "abcd" {
		t.Errorf("String() = %q, want abcd", buffer.String())
	}
}

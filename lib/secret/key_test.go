// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"os"
	"path/filepath"
	"testing"
)

func writeKey(t *testing.T, content string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		t.Fatalf("writing key: %v", err)
	}
	if err := os.Chmod(path, mode); err != nil {
		t.Fatalf("chmod key: %v", err)
	}
	return path
}

func TestReadKeyFileTrims(t *testing.T) {
	path := writeKey(t, "\n  private-key-material \n", 0o600)

	buffer, err := ReadKeyFile(path)
	if err != nil {
		t.Fatalf("ReadKeyFile failed: %v", err)
	}
	defer buffer.Close()

	if got := string(buffer.Bytes()); got != "private-key-material" {
		t.Errorf("key = %q, want trimmed material", got)
	}
}

func TestReadKeyFileRejectsOpenPermissions(t *testing.T) {
	path := writeKey(t, "private-key-material", 0o644)
	if _, err := ReadKeyFile(path); err == nil {
		t.Fatal("ReadKeyFile accepted a world-readable key")
	}
}

func TestReadKeyFileRejectsEmpty(t *testing.T) {
	path := writeKey(t, "  \n", 0o600)
	if _, err := ReadKeyFile(path); err == nil {
		t.Fatal("ReadKeyFile accepted an empty key")
	}
}

func TestReadKeyFileMissing(t *testing.T) {
	if _, err := ReadKeyFile(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("ReadKeyFile accepted a missing file")
	}
}

func TestReadKeyFileRejectsDirectory(t *testing.T) {
	if _, err := ReadKeyFile(t.TempDir()); err == nil {
		t.Fatal("ReadKeyFile accepted a directory")
	}
}

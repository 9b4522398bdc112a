// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"fmt"
	"os"
)

// maxKeyFileSize bounds how much of a key file is read. OpenSSH keys,
// including 16384-bit RSA, are well under this.
const maxKeyFileSize = 64 << 10

// ReadKeyFile loads a private key file into a protected Buffer. The
// file must be a regular file not accessible by group or other.
// Leading and trailing whitespace is trimmed.
func ReadKeyFile(path string) (*Buffer, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("key file %s is not a regular file", path)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return nil, fmt.Errorf("key file %s has permissions %04o; it must not be accessible by group or other",
			path, info.Mode().Perm())
	}
	if info.Size() > maxKeyFileSize {
		return nil, fmt.Errorf("key file %s is %d bytes, larger than any private key", path, info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	defer Zero(data)
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("key file %s is empty", path)
	}
	return Protect(trimmed)
}

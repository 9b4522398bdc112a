// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Buffer is key material held in a locked anonymous mapping. A Buffer
// must not be copied.
type Buffer struct {
	mu     sync.Mutex
	region []byte
}

// Protect moves source into a new Buffer. source is zeroed whether or
// not the move succeeds.
func Protect(source []byte) (*Buffer, error) {
	defer Zero(source)
	if len(source) == 0 {
		return nil, errors.New("secret: nothing to protect")
	}

	region, err := unix.Mmap(-1, 0, len(source), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: mmap: %w", err)
	}
	if err := lock(region); err != nil {
		unix.Munmap(region)
		return nil, err
	}
	copy(region, source)
	return &Buffer{region: region}, nil
}

// lock pins region in RAM and keeps it out of core dumps.
func lock(region []byte) error {
	if err := unix.Mlock(region); err != nil {
		return fmt.Errorf("secret: mlock: %w", err)
	}
	if err := unix.Madvise(region, unix.MADV_DONTDUMP); err != nil {
		unix.Munlock(region)
		return fmt.Errorf("secret: madvise: %w", err)
	}
	return nil
}

// Bytes aliases the mapping. It panics after Close; callers must not
// keep the slice past Close.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.region == nil {
		panic("secret: buffer used after Close")
	}
	return b.region
}

// Close wipes and releases the mapping. Later calls return nil.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.region == nil {
		return nil
	}
	region := b.region
	b.region = nil

	Zero(region)
	return errors.Join(unix.Munlock(region), unix.Munmap(region))
}

// Zero overwrites data with zeros.
func Zero(data []byte) {
	clear(data)
}

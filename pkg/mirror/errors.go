// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package mirror

import "github.com/pkg/errors"

// Sentinel error kinds surfaced by the engine. Callers classify with
// errors.Is; wrapped context is added at each propagation site.
var (
	// ErrConfig covers configuration parse and lookup failures.
	ErrConfig = errors.New("configuration error")
	// ErrLockHeld is returned when another run holds var/apt-mirror.lock.
	ErrLockHeld = errors.New("apt-mirror is already running")
	// ErrNetwork covers transport failures and non-2xx responses.
	ErrNetwork = errors.New("network error")
	// ErrSizeMismatch is a completed transfer whose length differs from the
	// declared size.
	ErrSizeMismatch = errors.New("size mismatch")
	// ErrChecksumMismatch is a completed transfer whose digest differs from
	// the declared digest.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrDecompression is corrupt gzip/bzip2/xz input.
	ErrDecompression = errors.New("decompression failed")
	// ErrToolMissing is an absent external diff tool.
	ErrToolMissing = errors.New("external tool missing")
)

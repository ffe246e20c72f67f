// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package hashext provides extensions to the standard crypto/hash package.
package hashext

import (
	"crypto"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// blockSize is the read granularity for streaming digests. Files are never
// loaded into memory whole.
const blockSize = 8 * 1024

// TypedHash is a hash.Hash annotated with its algorithm.
type TypedHash struct {
	hash.Hash
	Algorithm crypto.Hash
}

// NewTypedHash constructs a new TypedHash.
func NewTypedHash(algo crypto.Hash) TypedHash {
	return TypedHash{Hash: algo.New(), Algorithm: algo}
}

// HexSum returns the current digest as a lowercase hex string.
func (t TypedHash) HexSum() string {
	return hex.EncodeToString(t.Sum(nil))
}

// MultiHash feeds writes to several hash instances at once, letting a single
// pass over a payload produce digests under every algorithm of interest.
type MultiHash []TypedHash

// NewMultiHash creates a new MultiHash.
func NewMultiHash(hs ...crypto.Hash) MultiHash {
	var m MultiHash
	for _, algo := range hs {
		m = append(m, NewTypedHash(algo))
	}
	return m
}

func (m MultiHash) Write(p []byte) (int, error) {
	for _, th := range m {
		if n, err := th.Write(p); err != nil {
			return n, err
		}
	}
	return len(p), nil
}

// HexSum returns the hex digest for the given algorithm, or "" if the
// algorithm is not part of the MultiHash.
func (m MultiHash) HexSum(algo crypto.Hash) string {
	for _, th := range m {
		if th.Algorithm == algo {
			return th.HexSum()
		}
	}
	return ""
}

// Reset calls Hash.Reset on all contained hashes.
func (m MultiHash) Reset() {
	for _, th := range m {
		th.Reset()
	}
}

// EqualHex compares two hex digests case-insensitively.
func EqualHex(a, b string) bool {
	return strings.EqualFold(a, b)
}

// FileSum streams the file at path through algo and returns the hex digest.
func FileSum(path string, algo crypto.Hash) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "opening file for digest")
	}
	defer f.Close()
	th := NewTypedHash(algo)
	buf := make([]byte, blockSize)
	if _, err := io.CopyBuffer(th, f, buf); err != nil {
		return "", errors.Wrap(err, "hashing file")
	}
	return th.HexSum(), nil
}

// VerifyFile streams the file at path and reports whether its algo digest
// equals expected. The comparison is case-insensitive.
func VerifyFile(path string, algo crypto.Hash, expected string) (bool, error) {
	sum, err := FileSum(path, algo)
	if err != nil {
		return false, err
	}
	return EqualHex(sum, expected), nil
}

// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package mirror

import (
	"compress/bzip2"
	"compress/gzip"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
)

// Decompress expands a .gz/.bz2/.xz file into a sibling file with the suffix
// stripped and returns the sibling's path. Files without a recognised suffix
// are returned unchanged. Corrupt input yields ErrDecompression.
func Decompress(path string) (string, error) {
	var ext string
	for _, candidate := range []string{".gz", ".bz2", ".xz"} {
		if strings.HasSuffix(path, candidate) {
			ext = candidate
			break
		}
	}
	if ext == "" {
		return path, nil
	}

	in, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "opening compressed file")
	}
	defer in.Close()

	var r io.Reader
	switch ext {
	case ".gz":
		gz, err := gzip.NewReader(in)
		if err != nil {
			return "", errors.Wrapf(ErrDecompression, "%s: %v", path, err)
		}
		defer gz.Close()
		r = gz
	case ".bz2":
		r = bzip2.NewReader(in)
	case ".xz":
		xzr, err := xz.NewReader(in)
		if err != nil {
			return "", errors.Wrapf(ErrDecompression, "%s: %v", path, err)
		}
		r = xzr
	}

	target := strings.TrimSuffix(path, ext)
	out, err := os.Create(target)
	if err != nil {
		return "", errors.Wrap(err, "creating decompressed file")
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(target)
		return "", errors.Wrapf(ErrDecompression, "%s: %v", path, err)
	}
	if err := out.Close(); err != nil {
		return "", errors.Wrap(err, "closing decompressed file")
	}
	return target, nil
}

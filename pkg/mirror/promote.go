// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package mirror

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// promoteFile publishes skel/<rel> at mirror/<rel>. An existing destination
// whose (size, mtime, mode) triple matches the source is left alone. With
// unlink set, a differing destination is byte-compared and unlinked before
// the copy so hardlinked siblings keep their old bytes. A hardlink is
// preferred over a copy when the trees share a filesystem.
func promoteFile(src, dst string, unlink bool) error {
	srcStat, err := os.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "stat source")
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errors.Wrap(err, "creating mirror directory")
	}
	if dstStat, err := os.Stat(dst); err == nil {
		if dstStat.Size() == srcStat.Size() &&
			dstStat.ModTime().Equal(srcStat.ModTime()) &&
			dstStat.Mode() == srcStat.Mode() {
			return nil
		}
		if unlink {
			differ, err := filesDiffer(src, dst)
			if err != nil {
				return err
			}
			if differ {
				if err := os.Remove(dst); err != nil {
					return errors.Wrap(err, "unlinking destination")
				}
			}
		}
	}
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	return copyPreserving(src, dst)
}

// copyPreserving copies src to dst keeping mtime and mode, creating parent
// directories on demand.
func copyPreserving(src, dst string) error {
	st, err := os.Stat(src)
	if err != nil {
		return errors.Wrap(err, "stat source")
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errors.Wrap(err, "creating directory")
	}
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "opening source")
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, st.Mode())
	if err != nil {
		return errors.Wrap(err, "creating destination")
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrap(err, "copying")
	}
	if err := out.Close(); err != nil {
		return errors.Wrap(err, "closing destination")
	}
	if err := os.Chmod(dst, st.Mode()); err != nil {
		return errors.Wrap(err, "preserving mode")
	}
	return errors.Wrap(os.Chtimes(dst, st.ModTime(), st.ModTime()), "preserving mtime")
}

// filesDiffer streams both files and reports whether their bytes differ.
func filesDiffer(a, b string) (bool, error) {
	sa, err := os.Stat(a)
	if err != nil {
		return false, errors.Wrap(err, "stat")
	}
	sb, err := os.Stat(b)
	if err != nil {
		return false, errors.Wrap(err, "stat")
	}
	if sa.Size() != sb.Size() {
		return true, nil
	}
	fa, err := os.Open(a)
	if err != nil {
		return false, errors.Wrap(err, "open")
	}
	defer fa.Close()
	fb, err := os.Open(b)
	if err != nil {
		return false, errors.Wrap(err, "open")
	}
	defer fb.Close()
	bufA := make([]byte, 8*1024)
	bufB := make([]byte, 8*1024)
	for {
		na, errA := io.ReadFull(fa, bufA)
		nb, errB := io.ReadFull(fb, bufB)
		if !bytes.Equal(bufA[:na], bufB[:nb]) {
			return true, nil
		}
		if errA == io.EOF || errA == io.ErrUnexpectedEOF {
			return false, nil
		}
		if errA != nil {
			return false, errors.Wrap(errA, "reading")
		}
		if errB != nil {
			return false, errors.Wrap(errB, "reading")
		}
	}
}

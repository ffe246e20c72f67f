// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// FileEntry is one file advertised by a Release document, bound to every
// digest published for it.
type FileEntry struct {
	Size    int64
	Digests map[Algo]string
}

// Strongest returns the strongest advertised digest for the entry.
func (e FileEntry) Strongest() (Algo, string, bool) {
	for _, algo := range Strength {
		if digest, ok := e.Digests[algo]; ok {
			return algo, digest, true
		}
	}
	return "", "", false
}

// Release is a parsed Release or InRelease document.
type Release struct {
	AcquireByHash bool
	Files         map[string]FileEntry
}

// Strongest returns the strongest algorithm advertised anywhere in the
// document; acquisition uses it for by-hash path construction.
func (r *Release) Strongest() (Algo, bool) {
	seen := map[Algo]bool{}
	for _, entry := range r.Files {
		for algo := range entry.Digests {
			seen[algo] = true
		}
	}
	for _, algo := range Strength {
		if seen[algo] {
			return algo, true
		}
	}
	return "", false
}

// ParseRelease reads a Release/InRelease document. Digest blocks start with a
// bare "SHA512:"/"SHA256:"/"SHA1:"/"MD5Sum:" line followed by indented
// "<hex> <size> <name>" rows; any non-indented, non-empty line ends the
// block. Clearsigned InRelease armor is tolerated and the trailing signature
// ignored.
func ParseRelease(r io.Reader) (*Release, error) {
	doc := &Release{Files: map[string]FileEntry{}}
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var block Algo
	for s.Scan() {
		line := s.Text()
		if strings.HasPrefix(line, "-----BEGIN PGP SIGNED MESSAGE-----") {
			// Skip the armor header lines up to the blank separator.
			for s.Scan() && strings.TrimSpace(s.Text()) != "" {
			}
			continue
		}
		if strings.HasPrefix(line, "-----BEGIN PGP SIGNATURE-----") {
			break
		}
		indented := strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")
		if !indented {
			block = ""
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				continue
			}
			if trimmed == "Acquire-By-Hash: yes" {
				doc.AcquireByHash = true
				continue
			}
			for _, algo := range Strength {
				if trimmed == string(algo)+":" {
					block = algo
					break
				}
			}
			continue
		}
		if block == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			continue
		}
		size, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		name := fields[2]
		entry, ok := doc.Files[name]
		if !ok {
			entry = FileEntry{Size: size, Digests: map[Algo]string{}}
		}
		entry.Size = size
		entry.Digests[block] = fields[0]
		doc.Files[name] = entry
	}
	if err := s.Err(); err != nil {
		return nil, errors.Wrap(err, "reading Release document")
	}
	return doc, nil
}

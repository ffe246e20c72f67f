// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// PackageEntry is one binary package record from a Packages index, carrying
// only the fields the mirroring pipeline needs. Unknown fields are discarded.
type PackageEntry struct {
	Package  string
	Filename string
	Size     int64
	// Algo/Digest hold the strongest digest advertised in the stanza;
	// both empty when the stanza declares none.
	Algo   Algo
	Digest string
}

// ParsePackages extracts package records from a decompressed Packages index.
func ParsePackages(r io.Reader) ([]PackageEntry, error) {
	var entries []PackageEntry
	sr := NewStanzaReader(r)
	for {
		stanza, err := sr.Next()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "parsing Packages index")
		}
		filename := stanza.Get("Filename")
		if filename == "" {
			continue
		}
		entry := PackageEntry{
			Package:  stanza.Get("Package"),
			Filename: filename,
		}
		if size := stanza.Get("Size"); size != "" {
			n, err := strconv.ParseInt(size, 10, 64)
			if err != nil {
				continue
			}
			entry.Size = n
		}
		for _, algo := range Strength {
			if digest := stanza.Get(algo.PackagesField()); digest != "" {
				entry.Algo, entry.Digest = algo, digest
				break
			}
		}
		entries = append(entries, entry)
	}
}

// SourceFile is one file row of a source package stanza.
type SourceFile struct {
	Name   string
	Size   int64
	Algo   Algo
	Digest string
}

// SourceEntry is one source package record from a Sources index.
type SourceEntry struct {
	Package   string
	Directory string
	Files     []SourceFile
}

// ParseSources extracts source records from a decompressed Sources index.
// File rows are taken from the strongest checksum field present in each
// stanza (Checksums-Sha512 down to the historical Files block).
func ParseSources(r io.Reader) ([]SourceEntry, error) {
	var entries []SourceEntry
	sr := NewStanzaReader(r)
	for {
		stanza, err := sr.Next()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "parsing Sources index")
		}
		entry := SourceEntry{
			Package:   stanza.Get("Package"),
			Directory: stanza.Get("Directory"),
		}
		if entry.Package == "" {
			continue
		}
		for _, algo := range Strength {
			rows := stanza.Lines(algo.SourcesField())
			if len(rows) == 0 {
				continue
			}
			for _, row := range rows {
				fields := strings.Fields(row)
				// Files rows carry "<digest> <size> <name>"; extra columns
				// (section/priority in old-style Files) are not emitted by
				// Sources indexes and are ignored.
				if len(fields) < 3 {
					continue
				}
				size, err := strconv.ParseInt(fields[1], 10, 64)
				if err != nil {
					continue
				}
				entry.Files = append(entry.Files, SourceFile{
					Name:   fields[len(fields)-1],
					Size:   size,
					Algo:   algo,
					Digest: fields[0],
				})
			}
			break
		}
		if len(entry.Files) > 0 {
			entries = append(entries, entry)
		}
	}
}

// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package control parses deb822-style control data: Release documents and
// Packages/Sources index stanzas.
package control

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Stanza is one deb822 paragraph: a case-preserving field map where
// continuation lines are joined with newlines.
type Stanza struct {
	Fields map[string]string
}

// Get returns the trimmed single-line value of a field.
func (s Stanza) Get(field string) string {
	return strings.TrimSpace(s.Fields[field])
}

// Lines returns the value of a multiline field split into its non-empty rows.
func (s Stanza) Lines(field string) []string {
	var rows []string
	for _, line := range strings.Split(s.Fields[field], "\n") {
		if line = strings.TrimSpace(line); line != "" {
			rows = append(rows, line)
		}
	}
	return rows
}

// StanzaReader streams stanzas out of an index file without holding the whole
// document in memory. Description fields in real-world Packages files can be
// very long, hence the generous line buffer.
type StanzaReader struct {
	s    *bufio.Scanner
	done bool
}

// NewStanzaReader constructs a StanzaReader over r.
func NewStanzaReader(r io.Reader) *StanzaReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &StanzaReader{s: s}
}

// Next returns the next stanza, or io.EOF when the input is exhausted.
func (sr *StanzaReader) Next() (Stanza, error) {
	if sr.done {
		return Stanza{}, io.EOF
	}
	stanza := Stanza{Fields: map[string]string{}}
	var lastField string
	for {
		if !sr.s.Scan() {
			sr.done = true
			if err := sr.s.Err(); err != nil {
				return Stanza{}, errors.Wrap(err, "scanning stanza")
			}
			if len(stanza.Fields) == 0 {
				return Stanza{}, io.EOF
			}
			return stanza, nil
		}
		line := sr.s.Text()
		if strings.TrimSpace(line) == "" {
			if len(stanza.Fields) == 0 {
				continue
			}
			return stanza, nil
		}
		if line[0] == ' ' || line[0] == '\t' {
			// Continuation line.
			if lastField == "" {
				continue
			}
			stanza.Fields[lastField] += "\n" + strings.TrimSpace(line)
			continue
		}
		field, value, found := strings.Cut(line, ":")
		if !found {
			// Not a field line; discard.
			continue
		}
		lastField = field
		stanza.Fields[field] = strings.TrimSpace(value)
	}
}

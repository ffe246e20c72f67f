// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package mirror

import (
	"fmt"
	re "regexp"
)

// releaseNames are the documents requested for every RepoSpec. Release.gpg
// is optional; the absence of both InRelease and Release is a per-repo
// warning.
var releaseNames = []string{"InRelease", "Release", "Release.gpg"}

// BaseURL is the directory holding the repo's release documents: the dists/
// tree for component repositories, the distribution directory itself for
// flat ones.
func (r RepoSpec) BaseURL() string {
	if r.Flat() {
		return fmt.Sprintf("%s/%s/", r.URI, r.Distribution)
	}
	return fmt.Sprintf("%s/dists/%s/", r.URI, r.Distribution)
}

// Key identifies the repo in warnings and progress output.
func (r RepoSpec) Key() string {
	if r.Kind == BinaryRepo {
		return fmt.Sprintf("%s:%s:%s", r.URI, r.Distribution, r.Arch)
	}
	return fmt.Sprintf("%s:%s", r.URI, r.Distribution)
}

const compressedSuffix = `(\.(gz|bz2|xz))?$`

// indexMatcher matches Release-advertised filenames that are index files
// this repo wants: Packages/Contents for binary repos, Sources (and
// Contents-source) for source repos.
type indexMatcher struct {
	patterns []*re.Regexp
}

func newIndexMatcher(r RepoSpec, contents bool) *indexMatcher {
	var exprs []string
	switch {
	case r.Kind == BinaryRepo && r.Flat():
		exprs = append(exprs, `^Packages`)
		if contents {
			exprs = append(exprs, `^Contents-[^/]+`)
		}
	case r.Kind == BinaryRepo:
		for _, comp := range r.Components {
			comp := re.QuoteMeta(comp)
			arch := re.QuoteMeta(r.Arch)
			exprs = append(exprs,
				`^`+comp+`/binary-`+arch+`/Packages`,
				`^`+comp+`/binary-all/Packages`,
			)
			if contents {
				exprs = append(exprs,
					`^`+comp+`/Contents-`+arch,
					`^`+comp+`/Contents-all`,
					`^Contents-`+arch,
					`^Contents-all`,
				)
			}
		}
	case r.Flat():
		exprs = append(exprs, `^Sources`)
		if contents {
			exprs = append(exprs, `^Contents-source`)
		}
	default:
		for _, comp := range r.Components {
			comp := re.QuoteMeta(comp)
			exprs = append(exprs, `^`+comp+`/source/Sources`)
			if contents {
				exprs = append(exprs, `^`+comp+`/Contents-source`, `^Contents-source`)
			}
		}
	}
	m := &indexMatcher{}
	for _, expr := range exprs {
		m.patterns = append(m.patterns, re.MustCompile(expr+compressedSuffix))
	}
	return m
}

func (m *indexMatcher) match(filename string) bool {
	for _, p := range m.patterns {
		if p.MatchString(filename) {
			return true
		}
	}
	return false
}

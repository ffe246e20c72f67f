// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package mirror

import "github.com/google/apt-mirror/pkg/control"

// Stage tags a fetch task with the pipeline stage that planned it.
type Stage string

const (
	// StageRelease covers InRelease/Release/Release.gpg documents.
	StageRelease Stage = "release"
	// StageIndex covers Packages/Sources/Contents indexes.
	StageIndex Stage = "index"
	// StageArchive covers package artifacts enumerated by indexes.
	StageArchive Stage = "archive"
)

// FetchTask is one planned download. Tasks are immutable once handed to the
// fetcher; all bookkeeping happens in the engine's tables.
type FetchTask struct {
	// URL is the absolute source location.
	URL string
	// Size is the expected length; 0 means unknown and unenforced.
	Size int64
	// Algo/Digest declare the expected checksum; empty means unverified.
	Algo   control.Algo
	Digest string
	// CanonicalPath is the relative path the file must ultimately occupy.
	CanonicalPath string
	// HashPath, when set, is the by-hash relative path the payload is
	// fetched at instead of the canonical path.
	HashPath string
	Stage    Stage
}

// localPath is the skel-relative path the fetcher writes to.
func (t FetchTask) localPath() string {
	if t.HashPath != "" {
		return t.HashPath
	}
	return t.CanonicalPath
}

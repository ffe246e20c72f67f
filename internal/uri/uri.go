// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package uri normalises repository URIs into filesystem-safe relative paths.
package uri

import (
	re "regexp"
	"strings"
)

var (
	schemeRE   = re.MustCompile(`^\w+://`)
	userinfoRE = re.MustCompile(`^[^/@]+@`)
	slashRunRE = re.MustCompile(`/+`)
)

// Sanitize strips the scheme and any embedded userinfo from uri, yielding the
// relative path under which the resource is stored in the mirror trees.
// When tilde is set, '~' is percent-encoded for filesystems that treat it
// specially. Sanitize is idempotent.
func Sanitize(uri string, tilde bool) string {
	p := schemeRE.ReplaceAllString(uri, "")
	p = userinfoRE.ReplaceAllString(p, "")
	if tilde {
		p = strings.ReplaceAll(p, "~", "%7E")
	}
	return p
}

// Collapse replaces runs of '/' with a single '/', keeping exactly one
// "scheme://" prefix intact if present. Collapse is idempotent.
func Collapse(path string) string {
	var scheme string
	if m := schemeRE.FindString(path); m != "" {
		scheme = m
		path = path[len(m):]
	}
	return scheme + slashRunRE.ReplaceAllString(path, "/")
}

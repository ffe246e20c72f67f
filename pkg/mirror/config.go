// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package mirror

import (
	"bufio"
	"log"
	"os"
	"os/exec"
	re "regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/apt-mirror/internal/uri"
	"github.com/pkg/errors"
)

// RepoKind distinguishes binary and source repositories.
type RepoKind int

const (
	// BinaryRepo mirrors .deb artifacts for one architecture.
	BinaryRepo RepoKind = iota
	// SourceRepo mirrors source packages.
	SourceRepo
)

// RepoSpec is one remote source taken from a deb/deb-src line. Immutable
// once parsed.
type RepoSpec struct {
	Kind         RepoKind
	URI          string
	Distribution string
	// Components is empty for flat-layout repositories.
	Components []string
	// Arch is set for binary repositories only.
	Arch string
}

// Flat reports whether the repository uses the flat layout (no dists/ tree).
func (r RepoSpec) Flat() bool { return len(r.Components) == 0 }

// Config carries every recognised mirror.list option plus the parsed
// repository and cleanup lists.
type Config struct {
	BasePath        string
	MirrorPath      string
	SkelPath        string
	VarPath         string
	DiffStoragePath string

	DefaultArch string
	NThreads    int
	LimitRate   string

	RetryAttempts          int
	RetryDelay             time.Duration
	VerifyChecksums        bool
	ResumePartialDownloads bool

	UseProxy           bool
	HTTPProxy          string
	HTTPSProxy         string
	ProxyUser          string
	ProxyPassword      string
	NoCheckCertificate bool

	Tilde     bool
	AutoClean bool
	Contents  bool
	Unlink    bool

	EnableDiffs      bool
	DiffAlgorithm    string
	MaxDiffSizeRatio float64

	RunPostMirror    bool
	PostMirrorScript string
	CleanScript      string

	ProgressUpdateInterval time.Duration

	Repos     []RepoSpec
	CleanDirs []string
	SkipClean []string
}

// DefaultConfig returns the built-in option values.
func DefaultConfig() *Config {
	return &Config{
		BasePath:               "/var/spool/apt-mirror",
		MirrorPath:             "$base_path/mirror",
		SkelPath:               "$base_path/skel",
		VarPath:                "$base_path/var",
		DiffStoragePath:        "$base_path/diffs",
		NThreads:               20,
		LimitRate:              "100m",
		RetryAttempts:          5,
		RetryDelay:             2 * time.Second,
		VerifyChecksums:        true,
		ResumePartialDownloads: true,
		Contents:               true,
		EnableDiffs:            true,
		DiffAlgorithm:          "xdelta3",
		MaxDiffSizeRatio:       0.5,
		RunPostMirror:          true,
		PostMirrorScript:       "$var_path/postmirror.sh",
		CleanScript:            "$var_path/clean.sh",
		ProgressUpdateInterval: time.Second,
	}
}

var (
	setRE     = re.MustCompile(`^set\s+(\S+)\s+(.+)$`)
	debRE     = re.MustCompile(`^(deb-src|deb)(?:-(\S+))?\s+(?:\[([^\]]+)\]\s+)?(\S+)\s+(\S+)\s*(.*)$`)
	cleanRE   = re.MustCompile(`^(clean|skip-clean)\s+(\S+)`)
	archOptRE = re.MustCompile(`arch=([^,\s]+)`)
)

// ParseConfig reads a mirror.list document from path. Unknown directives and
// keys are warned and skipped; a missing file is fatal.
func ParseConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrConfig, "config file not found: %s", path)
	}
	defer f.Close()

	c := DefaultConfig()
	s := bufio.NewScanner(f)
	lineNum := 0
	for s.Scan() {
		lineNum++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if m := setRE.FindStringSubmatch(line); m != nil {
			c.set(m[1], strings.Trim(m[2], `"'`))
			continue
		}
		if m := debRE.FindStringSubmatch(line); m != nil {
			c.addRepo(m)
			continue
		}
		if m := cleanRE.FindStringSubmatch(line); m != nil {
			sanitized := uri.Sanitize(m[2], c.Tilde)
			if m[1] == "clean" {
				c.CleanDirs = append(c.CleanDirs, sanitized)
			} else {
				c.SkipClean = append(c.SkipClean, sanitized)
			}
			continue
		}
		log.Printf("Warning: unrecognized line %d: %s", lineNum, line)
	}
	if err := s.Err(); err != nil {
		return nil, errors.Wrap(err, "reading config")
	}
	if err := c.resolveVars(); err != nil {
		return nil, err
	}
	if c.DefaultArch == "" {
		c.DefaultArch = probeArch()
	}
	for i := range c.Repos {
		if c.Repos[i].Kind == BinaryRepo && c.Repos[i].Arch == "" {
			c.Repos[i].Arch = c.DefaultArch
		}
	}
	return c, nil
}

func (c *Config) addRepo(m []string) {
	kind, arch, options, repoURI, dist := m[1], m[2], m[3], m[4], m[5]
	components := strings.Fields(m[6])
	spec := RepoSpec{URI: repoURI, Distribution: dist, Components: components}
	if kind == "deb" {
		spec.Kind = BinaryRepo
		if am := archOptRE.FindStringSubmatch(options); am != nil {
			arch = am[1]
		}
		spec.Arch = arch
	} else {
		spec.Kind = SourceRepo
	}
	c.Repos = append(c.Repos, spec)
}

func parseBool(value string) (bool, bool) {
	switch strings.ToLower(value) {
	case "1", "yes", "on", "true":
		return true, true
	case "0", "no", "off", "false":
		return false, true
	}
	return false, false
}

func (c *Config) set(key, value string) {
	b, isBool := parseBool(value)
	switch key {
	case "base_path":
		c.BasePath = value
	case "mirror_path":
		c.MirrorPath = value
	case "skel_path":
		c.SkelPath = value
	case "var_path":
		c.VarPath = value
	case "diff_storage_path":
		c.DiffStoragePath = value
	case "defaultarch":
		c.DefaultArch = value
	case "nthreads":
		if n, err := strconv.Atoi(value); err == nil {
			c.NThreads = n
		}
	case "limit_rate":
		c.LimitRate = value
	case "retry_attempts":
		if n, err := strconv.Atoi(value); err == nil {
			c.RetryAttempts = n
		}
	case "retry_delay":
		if secs, err := strconv.ParseFloat(value, 64); err == nil {
			c.RetryDelay = time.Duration(secs * float64(time.Second))
		}
	case "verify_checksums":
		c.VerifyChecksums = b
	case "resume_partial_downloads":
		c.ResumePartialDownloads = b
	case "use_proxy":
		c.UseProxy = isBool && b
	case "http_proxy":
		c.HTTPProxy = value
	case "https_proxy":
		c.HTTPSProxy = value
	case "proxy_user":
		c.ProxyUser = value
	case "proxy_password":
		c.ProxyPassword = value
	case "no_check_certificate":
		c.NoCheckCertificate = b
	case "_tilde":
		c.Tilde = b
	case "_autoclean":
		c.AutoClean = b
	case "_contents":
		c.Contents = b
	case "unlink":
		c.Unlink = b
	case "enable_diffs":
		c.EnableDiffs = b
	case "diff_algorithm":
		c.DiffAlgorithm = value
	case "max_diff_size_ratio":
		if ratio, err := strconv.ParseFloat(value, 64); err == nil {
			c.MaxDiffSizeRatio = ratio
		}
	case "run_postmirror":
		c.RunPostMirror = b
	case "postmirror_script":
		c.PostMirrorScript = value
	case "cleanscript":
		c.CleanScript = value
	case "progress_update_interval":
		if secs, err := strconv.ParseFloat(value, 64); err == nil {
			c.ProgressUpdateInterval = time.Duration(secs * float64(time.Second))
		}
	default:
		log.Printf("Warning: unknown config key: %s", key)
	}
}

// resolveVars substitutes $base_path/$mirror_path/$skel_path/$var_path in
// every path-valued option as a bounded fixed point. Divergence (a value
// still holding a variable after 16 rounds) is an error, not a loop.
func (c *Config) resolveVars() error {
	targets := []*string{
		&c.MirrorPath, &c.SkelPath, &c.VarPath, &c.DiffStoragePath,
		&c.PostMirrorScript, &c.CleanScript, &c.BasePath,
	}
	for round := 0; round < 16; round++ {
		changed := false
		for _, t := range targets {
			next := strings.NewReplacer(
				"$base_path", c.BasePath,
				"$mirror_path", c.MirrorPath,
				"$skel_path", c.SkelPath,
				"$var_path", c.VarPath,
			).Replace(*t)
			if next != *t {
				*t = next
				changed = true
			}
		}
		if !changed {
			return nil
		}
	}
	for _, t := range targets {
		for _, name := range []string{"$base_path", "$mirror_path", "$skel_path", "$var_path"} {
			if strings.Contains(*t, name) {
				return errors.Wrapf(ErrConfig, "variable substitution did not converge: %s", *t)
			}
		}
	}
	return nil
}

// RateLimit parses limit_rate into bytes per second. Suffixes k/m/g are
// binary multiples as in wget; 0 or empty disables limiting.
func (c *Config) RateLimit() int64 {
	v := strings.ToLower(strings.TrimSpace(c.LimitRate))
	if v == "" || v == "0" {
		return 0
	}
	mult := int64(1)
	switch v[len(v)-1] {
	case 'k':
		mult, v = 1<<10, v[:len(v)-1]
	case 'm':
		mult, v = 1<<20, v[:len(v)-1]
	case 'g':
		mult, v = 1<<30, v[:len(v)-1]
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return 0
	}
	return n * mult
}

// ProxyURL returns the proxy to use, or "" when proxying is off.
func (c *Config) ProxyURL() string {
	if !c.UseProxy {
		return ""
	}
	if c.HTTPProxy != "" {
		return c.HTTPProxy
	}
	return c.HTTPSProxy
}

func probeArch() string {
	out, err := exec.Command("dpkg", "--print-architecture").Output()
	if err != nil {
		return "amd64"
	}
	arch := strings.TrimSpace(string(out))
	if arch == "" {
		return "amd64"
	}
	return arch
}

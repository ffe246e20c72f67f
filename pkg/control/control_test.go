// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestStanzaReader(t *testing.T) {
	input := "Package: hello\n" +
		"Description: greeter\n" +
		" extended line one\n" +
		" extended line two\n" +
		"\n" +
		"\n" +
		"Package: world\n"
	sr := NewStanzaReader(strings.NewReader(input))
	first, err := sr.Next()
	if err != nil {
		t.Fatal(err)
	}
	if got := first.Get("Package"); got != "hello" {
		t.Errorf("Package = %q", got)
	}
	want := []string{"greeter", "extended line one", "extended line two"}
	if diff := cmp.Diff(want, first.Lines("Description")); diff != "" {
		t.Errorf("Description mismatch (-want +got):\n%s", diff)
	}
	second, err := sr.Next()
	if err != nil {
		t.Fatal(err)
	}
	if got := second.Get("Package"); got != "world" {
		t.Errorf("Package = %q", got)
	}
	if _, err := sr.Next(); err != io.EOF {
		t.Errorf("expected EOF, got %v", err)
	}
}

const releaseDoc = `Origin: Ubuntu
Suite: stable
Acquire-By-Hash: yes
MD5Sum:
 11111111111111111111111111111111 1234 main/binary-amd64/Packages.gz
SHA256:
 aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa 1234 main/binary-amd64/Packages.gz
 bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb 99 main/source/Sources.gz
Components: main
`

func TestParseRelease(t *testing.T) {
	doc, err := ParseRelease(strings.NewReader(releaseDoc))
	if err != nil {
		t.Fatal(err)
	}
	if !doc.AcquireByHash {
		t.Error("AcquireByHash = false, want true")
	}
	entry, ok := doc.Files["main/binary-amd64/Packages.gz"]
	if !ok {
		t.Fatal("Packages.gz entry missing")
	}
	if entry.Size != 1234 {
		t.Errorf("Size = %d, want 1234", entry.Size)
	}
	if len(entry.Digests) != 2 {
		t.Errorf("digest count = %d, want 2", len(entry.Digests))
	}
	algo, digest, ok := entry.Strongest()
	if !ok || algo != SHA256 || digest != strings.Repeat("a", 64) {
		t.Errorf("Strongest = %v %q %v", algo, digest, ok)
	}
	if strongest, ok := doc.Strongest(); !ok || strongest != SHA256 {
		t.Errorf("doc.Strongest = %v %v", strongest, ok)
	}
}

func TestParseReleaseOrderIndependent(t *testing.T) {
	reordered := `SHA256:
 aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa 1234 main/binary-amd64/Packages.gz
 bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb 99 main/source/Sources.gz
Acquire-By-Hash: yes
Origin: Ubuntu
MD5Sum:
 11111111111111111111111111111111 1234 main/binary-amd64/Packages.gz
`
	a, err := ParseRelease(strings.NewReader(releaseDoc))
	if err != nil {
		t.Fatal(err)
	}
	b, err := ParseRelease(strings.NewReader(reordered))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(a.Files, b.Files); diff != "" {
		t.Errorf("files differ across orderings (-a +b):\n%s", diff)
	}
}

func TestParseReleaseClearsigned(t *testing.T) {
	armored := "-----BEGIN PGP SIGNED MESSAGE-----\n" +
		"Hash: SHA256\n" +
		"\n" +
		"Acquire-By-Hash: yes\n" +
		"SHA256:\n" +
		" cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc 7 Release\n" +
		"-----BEGIN PGP SIGNATURE-----\n" +
		"iQIzBAEBCAAdFiEE\n" +
		"-----END PGP SIGNATURE-----\n"
	doc, err := ParseRelease(strings.NewReader(armored))
	if err != nil {
		t.Fatal(err)
	}
	if !doc.AcquireByHash {
		t.Error("AcquireByHash = false, want true")
	}
	if _, ok := doc.Files["Release"]; !ok {
		t.Error("Release entry missing")
	}
}

func TestParsePackages(t *testing.T) {
	input := `Package: hello
Version: 2.10-3
Filename: pool/main/h/hello/hello_2.10-3_amd64.deb
Size: 5678
MD5sum: 99999999999999999999999999999999
SHA256: dddddddddddddddddddddddddddddddddddddddddddddddddddddddddddddddd

Package: partial
Size: 10

Package: nohash
Filename: pool/main/n/nohash/nohash_1_amd64.deb
Size: 42
`
	entries, err := ParsePackages(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	want := []PackageEntry{
		{
			Package:  "hello",
			Filename: "pool/main/h/hello/hello_2.10-3_amd64.deb",
			Size:     5678,
			Algo:     SHA256,
			Digest:   strings.Repeat("d", 64),
		},
		{
			Package:  "nohash",
			Filename: "pool/main/n/nohash/nohash_1_amd64.deb",
			Size:     42,
		},
	}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestParseSources(t *testing.T) {
	input := `Package: hello
Directory: pool/main/h/hello
Files:
 99999999999999999999999999999999 1000 hello_2.10-3.dsc
Checksums-Sha256:
 eeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee 1000 hello_2.10-3.dsc
 ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff 2000 hello_2.10-3.debian.tar.xz
`
	entries, err := ParseSources(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entry count = %d, want 1", len(entries))
	}
	entry := entries[0]
	if entry.Directory != "pool/main/h/hello" {
		t.Errorf("Directory = %q", entry.Directory)
	}
	want := []SourceFile{
		{Name: "hello_2.10-3.dsc", Size: 1000, Algo: SHA256, Digest: strings.Repeat("e", 64)},
		{Name: "hello_2.10-3.debian.tar.xz", Size: 2000, Algo: SHA256, Digest: strings.Repeat("f", 64)},
	}
	if diff := cmp.Diff(want, entry.Files); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
}

func TestAlgoFields(t *testing.T) {
	if got := MD5Sum.PackagesField(); got != "MD5sum" {
		t.Errorf("MD5Sum.PackagesField = %q", got)
	}
	if got := SHA512.SourcesField(); got != "Checksums-Sha512" {
		t.Errorf("SHA512.SourcesField = %q", got)
	}
	if got := MD5Sum.SourcesField(); got != "Files" {
		t.Errorf("MD5Sum.SourcesField = %q", got)
	}
}

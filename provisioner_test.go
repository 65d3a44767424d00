package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestProvisionerUnthreadedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.elf")

	p, err := New(path, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.SetSize(64); err != nil {
		t.Fatalf("SetSize: %v", err)
	}
	buf, err := p.Buffer()
	if err != nil {
		t.Fatalf("Buffer: %v", err)
	}
	if len(buf) != 64 {
		t.Fatalf("buffer length = %d, want 64", len(buf))
	}
	want := bytes.Repeat([]byte{0x7f}, 64)
	copy(buf, want)

	if err := p.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("written file content mismatch")
	}
}

func TestProvisionerThreadedSetSizeOverlapsCreation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.elf")

	p, err := New(path, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.SetSize(32); err != nil {
		t.Fatalf("SetSize: %v", err)
	}
	buf, err := p.Buffer()
	if err != nil {
		t.Fatalf("Buffer: %v", err)
	}
	if len(buf) != 32 {
		t.Fatalf("buffer length = %d, want 32", len(buf))
	}
	if err := p.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
}

func TestProvisionerSetSizeTwiceIsError(t *testing.T) {
	dir := t.TempDir()
	p, err := New(filepath.Join(dir, "out.elf"), false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.SetSize(16); err != nil {
		t.Fatalf("SetSize: %v", err)
	}
	if err := p.SetSize(16); err == nil {
		t.Fatal("expected an error calling SetSize twice")
	}
}

// TestProvisionerUnlinkReplaceRenamesExistingAside exercises §4.1's
// unlink-and-replace mode: an existing regular file at the output path is
// renamed to a sidecar, not truncated in place, and the sidecar is deleted
// once Finish completes.
func TestProvisionerUnlinkReplaceRenamesExistingAside(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.elf")
	if err := os.WriteFile(path, []byte("stale contents"), 0o644); err != nil {
		t.Fatalf("seeding existing output: %v", err)
	}

	p, err := New(path, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.mode != ModeUnlinkReplace {
		t.Fatalf("mode = %v, want ModeUnlinkReplace for a plain regular file", p.mode)
	}
	if err := p.SetSize(8); err != nil {
		t.Fatalf("SetSize: %v", err)
	}
	buf, err := p.Buffer()
	if err != nil {
		t.Fatalf("Buffer: %v", err)
	}
	copy(buf, []byte("fresh!!!"))
	if err := p.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "fresh!!!" {
		t.Fatalf("output content = %q, want %q", got, "fresh!!!")
	}

	sidecar := path + ".old"
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(sidecar); os.IsNotExist(err) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("sidecar %q was not removed within the deadline", sidecar)
}

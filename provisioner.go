package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// This file implements §4.1's output file provisioner: the one component
// that touches the filesystem directly. Grounded on elf_complete.go's
// write-the-whole-program-to-one-file pattern (build a buffer, then
// os.WriteFile it), generalized here to the spec's mmap-or-heap-buffer,
// optionally-threaded design — the teacher never memory-maps its own
// output, so this component is new rather than adapted, but keeps the
// teacher's direct os.* calling style throughout.

// FileMode picks how the provisioner opens its target path, decided once
// in New from the target's existing filesystem entry.
type FileMode int

const (
	// ModeUnlinkReplace renames any existing file to a sidecar name and
	// deletes it asynchronously, then creates a fresh file at the
	// original path. Safe for ordinary regular-file outputs: readers
	// that already have the old file open (a running process, say) keep
	// seeing the old bytes until they reopen.
	ModeUnlinkReplace FileMode = iota
	// ModeUpdateInPlace writes into the existing file without unlinking
	// it first. Required for character/block devices, sockets, and
	// FIFOs, where truncating or replacing the directory entry would
	// either fail or corrupt whatever the path actually names.
	ModeUpdateInPlace
)

// Provisioner owns the output file's lifecycle: creation (including
// renaming an existing file aside), sizing, optional memory mapping, and
// the final flush/unmap/chmod/sidecar-delete sequence. Not safe for
// concurrent use by more than one goroutine; the emit orchestration (§5)
// calls into it from a single coordinating goroutine while per-group
// writers only ever see the byte slice it hands back from Buffer.
type Provisioner struct {
	path     string
	mode     FileMode
	threaded bool

	file *os.File
	buf  []byte
	size int64

	mapped bool

	sidecarPath string

	createErr chan error
}

// New inspects path's current filesystem entry to pick a creation
// policy. A nonexistent path is treated as plain-file: there is nothing
// to preserve or avoid truncating.
func New(path string, threaded bool) (*Provisioner, error) {
	mode := ModeUnlinkReplace
	if fi, err := os.Lstat(path); err == nil {
		switch {
		case fi.Mode()&os.ModeDevice != 0, fi.Mode()&os.ModeSocket != 0, fi.Mode()&os.ModeNamedPipe != 0:
			mode = ModeUpdateInPlace
		}
	}
	return &Provisioner{path: path, mode: mode, threaded: threaded}, nil
}

// SetSize fixes the output's length, exactly once. In threaded mode file
// creation and mapping run on a background goroutine so they overlap
// with the caller's own layout work; SetSize returns immediately and the
// first call that actually needs the buffer (Buffer) blocks on it. In
// single-threaded mode the size is simply recorded; creation happens
// inline on the first Buffer call.
func (p *Provisioner) SetSize(size int64) error {
	if p.size != 0 {
		return &InternalError{Msg: "SetSize called more than once on a Provisioner"}
	}
	p.size = size
	if !p.threaded {
		return nil
	}
	p.createErr = make(chan error, 1)
	go func() {
		p.createErr <- p.create()
	}()
	return nil
}

// Buffer returns the mutable byte slice every section/part/group
// splitter partitions. It blocks until background creation (if any)
// completes, creating the file inline first if SetSize never kicked one
// off.
func (p *Provisioner) Buffer() ([]byte, error) {
	if p.createErr != nil {
		if err := <-p.createErr; err != nil {
			return nil, err
		}
		p.createErr = nil
	} else if p.buf == nil {
		if err := p.create(); err != nil {
			return nil, err
		}
	}
	return p.buf, nil
}

// create opens (or reopens, per mode) the target file, sets its length,
// and maps it writable, falling back to a heap buffer when set_len or
// mmap fails — a pipe or other non-seekable target, for instance. In
// unlink-and-replace mode, any file already at path is renamed aside
// first so that a fresh directory entry (and fresh inode) backs the
// mapping; Finish deletes the sidecar afterward, asynchronously.
func (p *Provisioner) create() error {
	if p.mode == ModeUnlinkReplace {
		if _, err := os.Lstat(p.path); err == nil {
			sidecar := p.path + ".old"
			if err := os.Rename(p.path, sidecar); err != nil {
				return &ConfigError{Msg: fmt.Sprintf("renaming existing output %q aside: %v", p.path, err)}
			}
			p.sidecarPath = sidecar
		}
	}
	flags := os.O_RDWR | os.O_CREATE
	if p.mode == ModeUnlinkReplace {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(p.path, flags, 0o666)
	if err != nil {
		return &ConfigError{Msg: fmt.Sprintf("opening output file %q: %v", p.path, err)}
	}
	p.file = f

	if err := f.Truncate(p.size); err != nil {
		p.buf = make([]byte, p.size)
		return nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(p.size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		p.buf = make([]byte, p.size)
		return nil
	}
	p.buf = data
	p.mapped = true
	return nil
}

// Finish flushes the written buffer to disk, releases the mapping,
// best-effort chmods the result executable, and — in unlink-and-replace
// mode — starts the sidecar delete of whatever the path used to name.
// Allocation verification (§4.3's validate_empty, run per group) is the
// caller's job before Finish is reached. The mapping must be released
// before this returns: the file stays locked against reopen-for-exec
// while mapped writable on some platforms.
func (p *Provisioner) Finish() error {
	if p.mapped {
		if err := unix.Msync(p.buf, unix.MS_SYNC); err != nil {
			return &InternalError{Msg: fmt.Sprintf("msync output file: %v", err)}
		}
		if err := unix.Munmap(p.buf); err != nil {
			return &InternalError{Msg: fmt.Sprintf("munmap output file: %v", err)}
		}
		p.mapped = false
	} else if p.buf != nil {
		if _, err := p.file.WriteAt(p.buf, 0); err != nil {
			return &InternalError{Msg: fmt.Sprintf("writing heap buffer to output file: %v", err)}
		}
	}

	if p.file != nil {
		if err := p.file.Close(); err != nil {
			return &InternalError{Msg: fmt.Sprintf("closing output file: %v", err)}
		}
	}

	// Best-effort: an output meant to stay a library (no x bit needed)
	// should not fail the whole link over a chmod denial.
	_ = os.Chmod(p.path, 0o777)

	if p.sidecarPath != "" {
		p.deleteSidecarAsync()
	}
	return nil
}

// deleteSidecarAsync removes the renamed-aside previous output without
// waiting for the unlink to complete: the spec's "reliance on the host
// OS blocking process exit until outstanding unlink syscalls complete"
// is explicit, so Finish never joins this goroutine.
func (p *Provisioner) deleteSidecarAsync() {
	sidecar := p.sidecarPath
	go func() {
		_ = os.Remove(sidecar)
	}()
}

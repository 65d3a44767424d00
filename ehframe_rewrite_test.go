package main

import (
	"debug/elf"
	"encoding/binary"
	"testing"
)

// buildEhFrameFixture assembles one CIE (8 bytes: length=4, cie_id=0)
// followed by two minimal FDEs (12 bytes each: length=8, cie_pointer,
// pc_begin), both pointing back at the CIE. The first FDE's pc_begin
// relocation resolves to a live address; the second's targets a symbol
// with no merged resolution, standing in for a discarded target.
func buildEhFrameFixture() (data []byte, relocations []RawRelocation) {
	data = make([]byte, 8+12+12)

	binary.LittleEndian.PutUint32(data[0:4], 4) // CIE length
	binary.LittleEndian.PutUint32(data[4:8], 0) // cie_id == 0 marks a CIE

	fde1Off := 8
	binary.LittleEndian.PutUint32(data[fde1Off:fde1Off+4], 8)     // FDE length
	binary.LittleEndian.PutUint32(data[fde1Off+4:fde1Off+8], 12)  // cie_pointer -> CIE at offset 0

	fde2Off := 20
	binary.LittleEndian.PutUint32(data[fde2Off:fde2Off+4], 8)
	binary.LittleEndian.PutUint32(data[fde2Off+4:fde2Off+8], 24) // cie_pointer -> CIE at offset 0

	relocations = []RawRelocation{
		{OffsetInSection: uint64(fde1Off + fdePCBeginOffset), RType: uint32(elf.R_X86_64_PC32), Symbol: 1},
		{OffsetInSection: uint64(fde2Off + fdePCBeginOffset), RType: uint32(elf.R_X86_64_PC32), Symbol: 2},
	}
	return data, relocations
}

func TestRewriteEhFrameKeepsLiveDropsDiscarded(t *testing.T) {
	arch, err := NewArchitecture(ArchX86_64)
	if err != nil {
		t.Fatalf("NewArchitecture: %v", err)
	}
	data, relocations := buildEhFrameFixture()

	layout := &Layout{
		Resolutions: map[SymbolID]*Resolution{
			1: {RawValue: 0x401500, ValueFlags: ValueAddress},
			// symbol 2 has no resolution: its FDE's target was discarded.
		},
	}
	tw := &TableWriter{
		ehFrame:      byteCursor{buf: make([]byte, 8+12)},
		ehFrameHdr:   byteCursor{buf: make([]byte, 8)},
		ehFrameStart: 0x5000,
	}

	ehFrameHdrAddress := uint64(0x6000)
	if err := RewriteEhFrame(layout, arch, tw, data, relocations, ehFrameHdrAddress); err != nil {
		t.Fatalf("RewriteEhFrame: %v", err)
	}

	if r := tw.ehFrame.remaining(); r != 0 {
		t.Fatalf(".eh_frame cursor has %d bytes unconsumed, want fully sized for CIE+live FDE only", r)
	}
	if r := tw.ehFrameHdr.remaining(); r != 0 {
		t.Fatalf(".eh_frame_hdr cursor has %d bytes unconsumed, want exactly one entry written", r)
	}

	kept := tw.ehFrame.buf
	keptCIELen := binary.LittleEndian.Uint32(kept[0:4])
	if keptCIELen != 4 {
		t.Fatalf("kept CIE length = %d, want 4 (CIE copied verbatim)", keptCIELen)
	}
	keptFDELen := binary.LittleEndian.Uint32(kept[8:12])
	if keptFDELen != 8 {
		t.Fatalf("kept FDE length = %d, want 8 (only the live FDE was kept)", keptFDELen)
	}

	framePtr := int32(binary.LittleEndian.Uint32(tw.ehFrameHdr.buf[0:4]))
	wantFramePtr := int32(int64(0x401500) - int64(ehFrameHdrAddress))
	if framePtr != wantFramePtr {
		t.Fatalf("frame_ptr = %d, want %d", framePtr, wantFramePtr)
	}

	if tw.ehFrameStart != 0x5000+20 {
		t.Fatalf("ehFrameStart advanced to %#x, want %#x", tw.ehFrameStart, 0x5000+20)
	}
}

func TestRewriteEhFrameRejectsTruncatedEntry(t *testing.T) {
	arch, err := NewArchitecture(ArchX86_64)
	if err != nil {
		t.Fatalf("NewArchitecture: %v", err)
	}
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data[0:4], 100) // claims far more data than is present
	binary.LittleEndian.PutUint32(data[4:8], 0)

	tw := &TableWriter{ehFrame: byteCursor{buf: make([]byte, 64)}}
	layout := &Layout{Resolutions: map[SymbolID]*Resolution{}}
	if err := RewriteEhFrame(layout, arch, tw, data, nil, 0); err == nil {
		t.Fatal("expected an error for an entry whose length exceeds the remaining section data")
	}
}

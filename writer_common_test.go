package main

import (
	"debug/elf"
	"testing"
)

type fakeAccessor struct {
	bytes []byte
	err   error
}

func (f *fakeAccessor) SectionBytes(file *FileLayout, slot LoadedSlot) ([]byte, error) {
	return f.bytes, f.err
}

func TestOutputSlotSlicesGroupShare(t *testing.T) {
	key := PartKey{SectionID: 1, Alignment: 16}
	parts := GroupPartMap{key: make([]byte, 32)}
	slot := LoadedSlot{Key: key, GroupOffset: 8, InputSize: 4}
	got, err := outputSlot(parts, slot)
	if err != nil {
		t.Fatalf("outputSlot: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("len(got) = %d, want 4", len(got))
	}
}

func TestOutputSlotMissingPartIsError(t *testing.T) {
	parts := GroupPartMap{}
	slot := LoadedSlot{Key: PartKey{SectionID: 1, Alignment: 16}, InputSize: 4}
	if _, err := outputSlot(parts, slot); err == nil {
		t.Fatal("expected an error for a slot whose part is absent from the group's part map")
	}
}

func TestOutputSlotOverrunIsError(t *testing.T) {
	key := PartKey{SectionID: 1, Alignment: 16}
	parts := GroupPartMap{key: make([]byte, 4)}
	slot := LoadedSlot{Key: key, GroupOffset: 2, InputSize: 4}
	if _, err := outputSlot(parts, slot); err == nil {
		t.Fatal("expected an error for a slot overrunning its group's share")
	}
}

func TestCopyAndRelocateSlotAppliesRelocations(t *testing.T) {
	arch, err := NewArchitecture(ArchX86_64)
	if err != nil {
		t.Fatalf("NewArchitecture: %v", err)
	}
	key := PartKey{SectionID: 1, Alignment: 16}
	parts := GroupPartMap{key: make([]byte, 8)}
	layout := &Layout{
		Resolutions: map[SymbolID]*Resolution{
			1: {RawValue: 0x401000, ValueFlags: ValueAddress},
		},
	}
	slot := LoadedSlot{
		Key:            key,
		InputSize:      8,
		SectionAddress: 0x2000,
		Relocations: []RawRelocation{
			{OffsetInSection: 0, RType: uint32(elf.R_X86_64_64), Symbol: 1},
		},
	}
	accessor := &fakeAccessor{bytes: make([]byte, 8)}
	file := &FileLayout{Name: "a.o"}
	tw := &TableWriter{arch: arch, layout: layout}

	if err := copyAndRelocateSlot(accessor, layout, arch, tw, file, slot, parts, true); err != nil {
		t.Fatalf("copyAndRelocateSlot: %v", err)
	}
	got := littleEndian.Uint64(parts[key])
	if got != 0x401000 {
		t.Fatalf("relocated output = %#x, want %#x", got, 0x401000)
	}
}

func TestCopyAndRelocateSlotRejectsSizeMismatch(t *testing.T) {
	arch, err := NewArchitecture(ArchX86_64)
	if err != nil {
		t.Fatalf("NewArchitecture: %v", err)
	}
	key := PartKey{SectionID: 1, Alignment: 16}
	parts := GroupPartMap{key: make([]byte, 8)}
	layout := &Layout{Resolutions: map[SymbolID]*Resolution{}}
	slot := LoadedSlot{Key: key, InputSize: 8}
	accessor := &fakeAccessor{bytes: make([]byte, 4)} // disagrees with slot.InputSize
	tw := &TableWriter{arch: arch, layout: layout}

	if err := copyAndRelocateSlot(accessor, layout, arch, tw, &FileLayout{Name: "a.o"}, slot, parts, true); err == nil {
		t.Fatal("expected an error when the accessor's byte count disagrees with the layout")
	}
}

func TestWriteSymbolRangeSkipsSymbolsMissingFromMeta(t *testing.T) {
	tw := &TableWriter{symtab: byteCursor{buf: make([]byte, 24)}}
	layout := &Layout{Resolutions: map[SymbolID]*Resolution{}}
	meta := map[SymbolID]SymbolMeta{
		1: {Name: "defined", InSymtab: true, NameOffset: 5},
		// symbol 2 is in range but absent from meta: must be skipped silently.
	}
	if err := writeSymbolRange(tw, layout, 1, 2, meta, nil); err != nil {
		t.Fatalf("writeSymbolRange: %v", err)
	}
	if r := tw.symtab.remaining(); r != 0 {
		t.Fatalf("symtab cursor has %d bytes left, want exactly one entry consumed", r)
	}
}

func TestWriteSymbolRangeWritesDynsymAndVersym(t *testing.T) {
	tw := &TableWriter{
		dynsym:     byteCursor{buf: make([]byte, 24)},
		gnuVersion: byteCursor{buf: make([]byte, 2)},
	}
	dynIdx := uint32(3)
	layout := &Layout{
		Resolutions: map[SymbolID]*Resolution{
			1: {RawValue: 0x1000, DynamicSymbolIndex: &dynIdx},
		},
	}
	meta := map[SymbolID]SymbolMeta{
		1: {Name: "foo", InDynsym: true},
	}
	versionOf := func(SymbolID) uint16 { return 7 }
	if err := writeSymbolRange(tw, layout, 1, 1, meta, versionOf); err != nil {
		t.Fatalf("writeSymbolRange: %v", err)
	}
	if got := littleEndian.Uint16(tw.gnuVersion.buf); got != 7 {
		t.Fatalf("versym = %d, want 7", got)
	}
	if tw.dynsym.remaining() != 0 {
		t.Fatal("dynsym cursor not fully consumed")
	}
}

func TestWriteCopyRelocation(t *testing.T) {
	arch, err := NewArchitecture(ArchX86_64)
	if err != nil {
		t.Fatalf("NewArchitecture: %v", err)
	}
	dynIdx := uint32(9)
	layout := &Layout{
		Resolutions: map[SymbolID]*Resolution{
			1: {RawValue: 0x404000, DynamicSymbolIndex: &dynIdx},
		},
	}
	tw := &TableWriter{arch: arch, relaDynGeneral: byteCursor{buf: make([]byte, 24)}}
	if err := writeCopyRelocation(tw, layout, 1); err != nil {
		t.Fatalf("writeCopyRelocation: %v", err)
	}
	offset := littleEndian.Uint64(tw.relaDynGeneral.buf[0:8])
	if offset != 0x404000 {
		t.Fatalf("r_offset = %#x, want %#x", offset, 0x404000)
	}
}

func TestWriteCopyRelocationRequiresDynamicSymbolIndex(t *testing.T) {
	layout := &Layout{
		Resolutions: map[SymbolID]*Resolution{
			1: {RawValue: 0x404000},
		},
	}
	tw := &TableWriter{relaDynGeneral: byteCursor{buf: make([]byte, 24)}}
	if err := writeCopyRelocation(tw, layout, 1); err == nil {
		t.Fatal("expected an error for a copy-relocated symbol with no dynamic symbol index")
	}
}

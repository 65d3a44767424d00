package main

import "debug/elf"

// This file implements §4.5's .dynamic entry table: a static, ordered list
// of entry writers, each gated by a predicate, iterated in order at emit
// time. Grounded on the teacher's buildDynamicSection/updatePLTGOT
// (elf_complete.go), which append (tag, value) pairs to a growable
// buffer one at a time; generalized here into a declarative table so the
// slot count (needed at layout time, before any value is known) and the
// emission order (needed at write time) come from the same list instead
// of two hand-synchronized code paths.

// DynamicTag is one (d_tag, d_val) pair as written into .dynamic.
type DynamicTag struct {
	Tag int64
	Val uint64
}

// DynamicInputs bundles everything a dynamic-entry predicate or value
// function needs to consult. All fields are read-only snapshots taken from
// the Layout and the emission arguments.
type DynamicInputs struct {
	Layout *Layout

	HasInit, HasFini           bool
	InitAddr, FiniAddr         uint64
	HasInitArray, HasFiniArray bool
	InitArrayAddr, InitArraySize uint64
	FiniArrayAddr, FiniArraySize uint64

	HasVerdef, HasVerneed bool
	VerdefCount, VerneedCount uint64

	HasDynsym bool
	// HasGNUHash reports whether .gnu.hash is actually being built this
	// emission (EmitConfig.HashSymbols is non-empty), independent of
	// HasDynsym: a .dynsym can exist with no hash table built against it,
	// and DT_GNU_HASH must never point at an empty, unwritten section.
	HasGNUHash bool

	RelativeRelocationCount uint64

	StaticTLS bool

	ExecStack bool
}

// dynamicEntrySpec is one row of the declarative table: a tag, a predicate
// over the inputs, and a value function (called only when the predicate
// holds).
type dynamicEntrySpec struct {
	tag     elf.DynTag
	present func(in *DynamicInputs) bool
	value   func(in *DynamicInputs) uint64
}

func sectionAddr(in *DynamicInputs, id SectionID) uint64 {
	if s, err := in.Layout.SectionByID(id); err == nil {
		return s.MemAddress
	}
	return 0
}

func sectionSize(in *DynamicInputs, id SectionID) uint64 {
	if s, err := in.Layout.SectionByID(id); err == nil {
		return s.FileSize
	}
	return 0
}

func partEntrySize(in *DynamicInputs, id SectionID) uint64 {
	if meta, ok := in.Layout.OutputSections[id]; ok {
		return meta.EntrySize
	}
	return 0
}

// dynamicEntryTable is the static, ordered list named by §4.5. Its length
// (including the trailing NULL) fixes the .dynamic section's slot count at
// layout time; at emit time it is walked in order, skipping any entry
// whose predicate is false.
var dynamicEntryTable = []dynamicEntrySpec{
	{elf.DT_INIT, func(in *DynamicInputs) bool { return in.HasInit }, func(in *DynamicInputs) uint64 { return in.InitAddr }},
	{elf.DT_FINI, func(in *DynamicInputs) bool { return in.HasFini }, func(in *DynamicInputs) uint64 { return in.FiniAddr }},
	{elf.DT_INIT_ARRAY, func(in *DynamicInputs) bool { return in.HasInitArray }, func(in *DynamicInputs) uint64 { return in.InitArrayAddr }},
	{elf.DT_INIT_ARRAYSZ, func(in *DynamicInputs) bool { return in.HasInitArray }, func(in *DynamicInputs) uint64 { return in.InitArraySize }},
	{elf.DT_FINI_ARRAY, func(in *DynamicInputs) bool { return in.HasFiniArray }, func(in *DynamicInputs) uint64 { return in.FiniArrayAddr }},
	{elf.DT_FINI_ARRAYSZ, func(in *DynamicInputs) bool { return in.HasFiniArray }, func(in *DynamicInputs) uint64 { return in.FiniArraySize }},
	{elf.DT_STRTAB, func(in *DynamicInputs) bool { return true }, func(in *DynamicInputs) uint64 { return sectionAddr(in, in.Layout.DynstrSectionID) }},
	{elf.DT_STRSZ, func(in *DynamicInputs) bool { return true }, func(in *DynamicInputs) uint64 { return sectionSize(in, in.Layout.DynstrSectionID) }},
	{elf.DT_SYMTAB, func(in *DynamicInputs) bool { return in.HasDynsym }, func(in *DynamicInputs) uint64 { return sectionAddr(in, dynsymSectionID) }},
	{elf.DT_SYMENT, func(in *DynamicInputs) bool { return in.HasDynsym }, func(in *DynamicInputs) uint64 { return 24 }},
	{elf.DT_VERDEF, func(in *DynamicInputs) bool { return in.HasVerdef }, func(in *DynamicInputs) uint64 { return sectionAddr(in, gnuVersionDSectionID) }},
	{elf.DT_VERDEFNUM, func(in *DynamicInputs) bool { return in.HasVerdef }, func(in *DynamicInputs) uint64 { return in.VerdefCount }},
	{elf.DT_VERNEED, func(in *DynamicInputs) bool { return in.HasVerneed }, func(in *DynamicInputs) uint64 { return sectionAddr(in, gnuVersionRSectionID) }},
	{elf.DT_VERNEEDNUM, func(in *DynamicInputs) bool { return in.HasVerneed }, func(in *DynamicInputs) uint64 { return in.VerneedCount }},
	{elf.DT_VERSYM, func(in *DynamicInputs) bool { return in.HasDynsym }, func(in *DynamicInputs) uint64 { return sectionAddr(in, gnuVersionSectionID) }},
	{elf.DT_DEBUG, func(in *DynamicInputs) bool { return in.Layout.OutputKind.IsExecutable() }, func(in *DynamicInputs) uint64 { return 0 }},
	{elf.DT_JMPREL, func(in *DynamicInputs) bool { return sectionSize(in, relaPltSectionID) > 0 }, func(in *DynamicInputs) uint64 { return sectionAddr(in, relaPltSectionID) }},
	{elf.DT_PLTGOT, func(in *DynamicInputs) bool { return sectionSize(in, pltGotSectionID) > 0 || sectionSize(in, gotSectionID) > 0 }, func(in *DynamicInputs) uint64 { return sectionAddr(in, gotSectionID) }},
	{elf.DT_PLTREL, func(in *DynamicInputs) bool { return sectionSize(in, relaPltSectionID) > 0 }, func(in *DynamicInputs) uint64 { return uint64(elf.DT_RELA) }},
	{elf.DT_PLTRELSZ, func(in *DynamicInputs) bool { return sectionSize(in, relaPltSectionID) > 0 }, func(in *DynamicInputs) uint64 { return sectionSize(in, relaPltSectionID) }},
	{elf.DT_RELA, func(in *DynamicInputs) bool { return sectionSize(in, relaDynSectionID) > 0 }, func(in *DynamicInputs) uint64 { return sectionAddr(in, relaDynSectionID) }},
	{elf.DT_RELASZ, func(in *DynamicInputs) bool { return sectionSize(in, relaDynSectionID) > 0 }, func(in *DynamicInputs) uint64 { return sectionSize(in, relaDynSectionID) }},
	{elf.DT_RELAENT, func(in *DynamicInputs) bool { return sectionSize(in, relaDynSectionID) > 0 }, func(in *DynamicInputs) uint64 { return 24 }},
	{elf.DT_RELACOUNT, func(in *DynamicInputs) bool { return sectionSize(in, relaDynSectionID) > 0 }, func(in *DynamicInputs) uint64 { return in.RelativeRelocationCount }},
	{elf.DT_GNU_HASH, func(in *DynamicInputs) bool { return in.HasGNUHash }, func(in *DynamicInputs) uint64 { return sectionAddr(in, gnuHashSectionID) }},
	{elf.DT_FLAGS, func(in *DynamicInputs) bool { return true }, func(in *DynamicInputs) uint64 {
		var flags uint64 = uint64(elf.DF_BIND_NOW)
		if !in.Layout.OutputKind.IsExecutable() && in.StaticTLS {
			flags |= uint64(elf.DF_STATIC_TLS)
		}
		return flags
	}},
	{elf.DT_FLAGS_1, func(in *DynamicInputs) bool { return true }, func(in *DynamicInputs) uint64 {
		var flags uint64 = uint64(elf.DF_1_NOW)
		if in.Layout.OutputKind.Tag == KindExecutable && in.Layout.OutputKind.PIE {
			flags |= uint64(elf.DF_1_PIE)
		}
		return flags
	}},
	{elf.DT_NULL, func(in *DynamicInputs) bool { return true }, func(in *DynamicInputs) uint64 { return 0 }},
}

// DynamicEntrySlotCount is the fixed number of .dynamic slots the layout
// pass must reserve: the full table length including the always-present
// terminating DT_NULL, regardless of how many predicates end up false.
// DT_NEEDED is deliberately excluded from this table: its count is not
// fixed by a predicate list but by the number of linked shared objects, so
// the layout pass reserves one extra slot per entry in Layout.NeededLibs
// and each shared-object writer takes one via writeNeededEntry, ahead of
// the epilogue writer's walk of this declarative table.
func DynamicEntrySlotCount() int { return len(dynamicEntryTable) }

// writeNeededEntry takes one .dynamic slot for a DT_NEEDED tag naming a
// linked shared object by its already-allocated .dynstr offset. Called by
// the shared-object writer (§4.4), once per needed library, before the
// epilogue writer walks the declarative table above.
func (tw *TableWriter) writeNeededEntry(sonameOffset uint32) error {
	slot, err := tw.dynamic.take(16, ".dynamic (DT_NEEDED)")
	if err != nil {
		return err
	}
	writeDynamicTag(slot, int64(elf.DT_NEEDED), uint64(sonameOffset))
	return nil
}

// WriteDynamicTable iterates the declarative table in order, writing one
// (tag, value) pair per entry whose predicate holds, into the next slot of
// the epilogue's .dynamic cursor. Entries whose predicate is false are
// skipped entirely — the wire layout therefore only contains present
// entries, terminated by DT_NULL, even though the slot count reserved at
// layout time is fixed.
func (tw *TableWriter) WriteDynamicTable(in *DynamicInputs) error {
	for _, spec := range dynamicEntryTable {
		if !spec.present(in) {
			continue
		}
		slot, err := tw.dynamic.take(16, ".dynamic")
		if err != nil {
			return err
		}
		writeDynamicTag(slot, int64(spec.tag), spec.value(in))
	}
	return nil
}

func writeDynamicTag(dst []byte, tag int64, val uint64) {
	littleEndian.PutUint64(dst[0:8], uint64(tag))
	littleEndian.PutUint64(dst[8:16], val)
}

package main

import "fmt"

// InputAccessor is the opaque boundary between this core and whatever
// reads object/archive/shared-object files off disk. The per-file writers
// only ever ask it for one section's raw bytes at a time; how an input is
// opened, mapped, or cached is entirely the caller's business.
type InputAccessor interface {
	SectionBytes(file *FileLayout, slot LoadedSlot) ([]byte, error)
}

// outputSlot returns the group-relative output bytes a slot owns: its
// file's sub-range of the group's shared part slice.
func outputSlot(parts GroupPartMap, slot LoadedSlot) ([]byte, error) {
	part, ok := parts[slot.Key]
	if !ok {
		return nil, &InternalError{Msg: fmt.Sprintf("group part map has no entry for %s", partName(slot.Key))}
	}
	end := slot.GroupOffset + slot.InputSize
	if end > uint64(len(part)) {
		return nil, &InternalError{Msg: fmt.Sprintf("slot for %s overruns its group's share", partName(slot.Key))}
	}
	return part[slot.GroupOffset:end], nil
}

// copyAndRelocateSlot copies one ordinary (non-debug, non-eh_frame) input
// section's bytes into its output position, then applies every relocation
// against it in place.
func copyAndRelocateSlot(accessor InputAccessor, layout *Layout, arch Architecture, tw *TableWriter, file *FileLayout, slot LoadedSlot, parts GroupPartMap, targetIsDefined bool) error {
	in, err := accessor.SectionBytes(file, slot)
	if err != nil {
		return err
	}
	if uint64(len(in)) != slot.InputSize {
		return &InvalidInputError{Context: file.Name, Msg: "section accessor returned a size that disagrees with the layout"}
	}
	out, err := outputSlot(parts, slot)
	if err != nil {
		return err
	}
	copy(out, in)
	skipNext := false
	for _, rel := range slot.Relocations {
		if skipNext {
			skipNext = false
			continue
		}
		r, err := ApplyRelocation(layout, arch, tw, slot.SectionAddress, slot.SectionFlags, targetIsDefined, out, rel.OffsetInSection, rel)
		if err != nil {
			return fmt.Errorf("%s: %w", file.Name, err)
		}
		skipNext = r.SkipNext
	}
	return nil
}

// copyAndRelocateDebugSlot is copyAndRelocateSlot's §4.4 debug-info
// variant: no relaxation, no new GOT/PLT entries, and tombstone
// substitution when the referenced section was discarded.
func copyAndRelocateDebugSlot(accessor InputAccessor, layout *Layout, arch Architecture, file *FileLayout, slot LoadedSlot, parts GroupPartMap, tombstone uint64, sectionDiscarded bool) error {
	in, err := accessor.SectionBytes(file, slot)
	if err != nil {
		return err
	}
	out, err := outputSlot(parts, slot)
	if err != nil {
		return err
	}
	copy(out, in)
	for _, rel := range slot.Relocations {
		if err := ApplyDebugRelocation(layout, arch, out, rel.OffsetInSection, rel, tombstone, sectionDiscarded); err != nil {
			return fmt.Errorf("%s: %w", file.Name, err)
		}
	}
	return nil
}

// writeSymbolRange writes one file's slice of the merged symbol table into
// .symtab (for symbols meta marks InSymtab) and .dynsym (for symbols meta
// marks InDynsym whose resolution carries a dynamic-symbol index), plus the
// matching .gnu.version Versym slot for every dynsym row. When versionOf is
// nil, every dynsym row gets VER_NDX_GLOBAL. Symbols absent from meta are
// skipped.
func writeSymbolRange(tw *TableWriter, layout *Layout, first SymbolID, count int, meta map[SymbolID]SymbolMeta, versionOf func(SymbolID) uint16) error {
	for i := 0; i < count; i++ {
		id := first + SymbolID(i)
		m, ok := meta[id]
		if !ok {
			continue
		}
		res := layout.Resolutions[id]
		var value, size uint64
		if res != nil {
			value = res.RawValue
			if m.IsTLS {
				value -= layout.TLS.Start
			}
			size = m.Size
		}

		if m.InSymtab {
			slot, err := tw.symtab.take(24, ".symtab")
			if err != nil {
				return err
			}
			writeSym64(slot, m.NameOffset, symInfo(m.Bind, m.Type), 0, m.Shndx, value, size)
		}

		if m.InDynsym && res != nil && res.DynamicSymbolIndex != nil {
			dslot, err := tw.dynsym.take(24, ".dynsym")
			if err != nil {
				return err
			}
			writeSym64(dslot, m.NameOffset, symInfo(m.Bind, m.Type), 0, m.Shndx, value, size)
			idx := verNdxGlobal
			if versionOf != nil {
				idx = int(versionOf(id))
			}
			if err := tw.writeVersym(uint16(idx)); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeCopyRelocation emits a COPY relocation at a symbol's .bss address,
// for a dynamic symbol defined by a needed shared object but referenced by
// an executable in a way that requires a materialized copy (§4.4's
// CopyRelocatedSymbols list).
func writeCopyRelocation(tw *TableWriter, layout *Layout, id SymbolID) error {
	res, ok := layout.Resolutions[id]
	if !ok || res.DynamicSymbolIndex == nil {
		return &InternalError{Msg: "copy-relocated symbol has no dynamic symbol index"}
	}
	slot, err := tw.relaDynGeneral.take(24, ".rela.dyn (general, COPY)")
	if err != nil {
		return err
	}
	writeRela64(slot, res.RawValue, *res.DynamicSymbolIndex, tw.arch.DynamicRelocationType(DynRelCopy), 0)
	return nil
}

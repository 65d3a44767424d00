package main

// This file implements §4.4's object-file writer: the per-file pass run
// for every regular relocatable object contributed to the link, copying
// its loaded sections into their output position, relocating them, and
// processing its slice of the merged symbol table (COPY relocations are
// written by the shared-object writer, not here). Grounded on the teacher's per-function
// code-generation pass in codegen.go, which also walks one unit at a time
// writing into a shared output buffer by section; generalized here from
// "append bytes for this function" to "copy, relocate, and register
// symbols for this file's slots".

// ObjectWriteInputs bundles the context WriteObjectFile needs beyond the
// file itself: the group's part map, the table writer it shares with
// every other file in the group, and a handful of whole-output facts no
// single file can derive on its own.
type ObjectWriteInputs struct {
	Layout            *Layout
	Arch              Architecture
	TableWriter       *TableWriter
	Accessor          InputAccessor
	Parts             GroupPartMap
	EhFrameHdrAddress uint64
	DebugTombstone    uint64
	DiscardedSections map[SectionID]bool
	VersionOf         func(SymbolID) uint16
}

// WriteObjectFile runs the full per-file pass for one relocatable object.
func WriteObjectFile(in ObjectWriteInputs, file *FileLayout) error {
	for _, slot := range file.Slots {
		var err error
		switch {
		case slot.IsEhFrame:
			var data []byte
			data, err = in.Accessor.SectionBytes(file, slot)
			if err == nil {
				err = RewriteEhFrame(in.Layout, in.Arch, in.TableWriter, data, slot.Relocations, in.EhFrameHdrAddress)
			}
		case slot.IsDebugInfo:
			discarded := in.DiscardedSections[slot.Key.SectionID]
			tombstone := in.DebugTombstone
			if meta, ok := in.Layout.OutputSections[slot.Key.SectionID]; ok && (meta.Name == ".debug_loc" || meta.Name == ".debug_ranges") {
				// Both sections end their lists with a zero entry.
				tombstone = 1
			}
			err = copyAndRelocateDebugSlot(in.Accessor, in.Layout, in.Arch, file, slot, in.Parts, tombstone, discarded)
		default:
			err = copyAndRelocateSlot(in.Accessor, in.Layout, in.Arch, in.TableWriter, file, slot, in.Parts, true)
		}
		if err != nil {
			return err
		}
	}

	for i := 0; i < file.SymbolCount; i++ {
		id := file.FirstSymbol + SymbolID(i)
		if res, ok := in.Layout.Resolutions[id]; ok {
			if err := in.TableWriter.ProcessResolution(res); err != nil {
				return err
			}
		}
	}
	return writeSymbolRange(in.TableWriter, in.Layout, file.FirstSymbol, file.SymbolCount, in.Layout.SymbolMeta, in.VersionOf)
}

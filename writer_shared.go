package main

// This file implements §4.4's shared-object writer: the per-file pass run
// for every DT_NEEDED dependency. A shared object contributes no bytes of
// its own to the output (its code and data stay out-of-process, loaded at
// run time) — its work here is its DT_NEEDED entry, its copy relocations
// and symbol rows, and registering the version names this output actually
// binds against it, for later inclusion in .gnu.version_r.
// Grounded on the teacher's module-import resolution in modules.go, which
// likewise walks an external dependency's exported names without copying
// any of its bytes into the output module.

// WriteSharedObjectFile writes this needed shared object's DT_NEEDED entry,
// any copy relocations its symbols triggered, and its slice of the merged
// symbol table — undefined references this output resolved against it
// still get a .dynsym row via writeSymbolRange — and returns the Verneed
// record for its version references, if any.
func WriteSharedObjectFile(in ObjectWriteInputs, file *FileLayout) (VerneedRecord, bool, error) {
	if err := in.TableWriter.writeNeededEntry(file.SonameStrOffset); err != nil {
		return VerneedRecord{}, false, err
	}

	for _, id := range file.CopyRelocatedSymbols {
		if err := writeCopyRelocation(in.TableWriter, in.Layout, id); err != nil {
			return VerneedRecord{}, false, err
		}
	}

	if err := writeSymbolRange(in.TableWriter, in.Layout, file.FirstSymbol, file.SymbolCount, in.Layout.SymbolMeta, in.VersionOf); err != nil {
		return VerneedRecord{}, false, err
	}

	if len(file.VersionRefs) == 0 {
		return VerneedRecord{}, false, nil
	}
	aux := make([]VerneedAux, len(file.VersionRefs))
	for i, ref := range file.VersionRefs {
		aux[i] = VerneedAux{
			NameOffset: ref.NameOffset,
			Hash:       GNUHashName(ref.Name),
			OutputNdx:  ref.OutputNdx,
		}
	}
	return VerneedRecord{FileNameOffset: file.SonameStrOffset, Aux: aux}, true, nil
}

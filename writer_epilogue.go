package main

import "encoding/binary"

// This file implements §4.4's epilogue writer: the fixed, whole-output
// closing structures — .dynamic, .gnu.hash, .gnu.version_d/_r, and the
// section header table — written once by a pseudo-file at the end of the
// last group's file list. Grounded on the teacher's finalizeSections pass
// (elf_complete.go), which likewise appends the dynamic-linking tables
// only after every other section's final size is known.

// EpilogueInputs bundles everything WriteEpilogueFile needs.
type EpilogueInputs struct {
	Layout *Layout
	Dyn    *DynamicInputs

	HashSymbols     []GNUHashSymbol
	HashSymbolBase  uint32
	HashBucketCount uint32
	HashBloomShift  uint32

	VerdefEntries  []VerdefRecord
	VerneedRecords []VerneedRecord

	SectionIndex map[SectionID]uint16
}

// EpilogueSectionIDs names which output section the section header table
// itself lives in (the rest of the epilogue's tables are addressed
// through the group's ordinary TableWriter cursors).
type EpilogueSectionIDs struct {
	SectionHeaders SectionID
}

// WriteEpilogueFile writes every whole-output closing table.
func WriteEpilogueFile(in EpilogueInputs, tw *TableWriter, parts GroupPartMap, ids EpilogueSectionIDs) error {
	if err := tw.WriteDynamicTable(in.Dyn); err != nil {
		return err
	}

	if len(in.HashSymbols) > 0 {
		ht, err := BuildGNUHashTable(in.HashSymbols, in.HashSymbolBase, in.HashBucketCount, in.HashBloomShift)
		if err != nil {
			return err
		}
		dst, err := tw.gnuHash.takeAll(".gnu.hash")
		if err != nil {
			return err
		}
		if err := ht.Write(dst); err != nil {
			return err
		}
	}

	if len(in.VerdefEntries) > 0 {
		dst, err := tw.gnuVersionD.takeAll(".gnu.version_d")
		if err != nil {
			return err
		}
		if err := WriteVerdefTable(dst, in.VerdefEntries); err != nil {
			return err
		}
	}

	if len(in.VerneedRecords) > 0 {
		dst, err := tw.gnuVersionR.takeAll(".gnu.version_r")
		if err != nil {
			return err
		}
		if err := WriteVerneedTable(dst, in.VerneedRecords); err != nil {
			return err
		}
	}

	if dst, ok := firstPart(parts, ids.SectionHeaders); ok {
		if err := WriteSectionHeaders(dst, in.Layout, in.SectionIndex); err != nil {
			return err
		}
	}
	return nil
}

const shdrNullEntrySize = shdrEntrySize

// WriteSectionHeaders encodes the Elf64_Shdr array: a leading all-zero
// null entry (SHN_UNDEF, required by the ELF format), followed by one
// entry per Layout.Sections, in the same order section indices were
// assigned (sectionIndex). Each entry's sh_name is meta.NameOffset, the
// same .shstrtab byte offset WriteShstrtab laid the section's name out at.
func WriteSectionHeaders(dst []byte, layout *Layout, sectionIndex map[SectionID]uint16) error {
	need := shdrEntrySize * (len(layout.Sections) + 1)
	if len(dst) < need {
		return &InternalError{Msg: "section header allocation shorter than section count requires"}
	}
	for i := range dst[:shdrNullEntrySize] {
		dst[i] = 0
	}
	off := shdrEntrySize
	for _, s := range layout.Sections {
		meta, ok := layout.OutputSections[s.SectionID]
		if !ok {
			return &InternalError{Msg: "section has no OutputSectionMeta entry"}
		}
		linkIdx := sectionIndex[meta.LinkSection]
		binary.LittleEndian.PutUint32(dst[off:off+4], meta.NameOffset)
		binary.LittleEndian.PutUint32(dst[off+4:off+8], uint32(meta.Type))
		binary.LittleEndian.PutUint64(dst[off+8:off+16], uint64(s.Flags))
		binary.LittleEndian.PutUint64(dst[off+16:off+24], s.MemAddress)
		binary.LittleEndian.PutUint64(dst[off+24:off+32], s.FileOffset)
		binary.LittleEndian.PutUint64(dst[off+32:off+40], s.FileSize)
		binary.LittleEndian.PutUint32(dst[off+40:off+44], uint32(linkIdx))
		binary.LittleEndian.PutUint32(dst[off+44:off+48], meta.Info)
		binary.LittleEndian.PutUint64(dst[off+48:off+56], uint64(partAlignmentFor(layout, s.SectionID)))
		binary.LittleEndian.PutUint64(dst[off+56:off+64], meta.EntrySize)
		off += shdrEntrySize
	}
	return nil
}

// partAlignmentFor returns the alignment of a section's first part, for
// sh_addralign — sections are split into parts by alignment (buffer.go),
// so a section's own alignment is simply its highest-alignment part.
func partAlignmentFor(layout *Layout, id SectionID) uint64 {
	var best uint64
	for _, key := range layout.PartOrder {
		if key.SectionID == id && key.Alignment > best {
			best = key.Alignment
		}
	}
	if best == 0 {
		return 1
	}
	return best
}

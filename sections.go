package main

import "encoding/binary"

// littleEndian is the one byte order this core ever writes: ELF64 little
// endian is the only wire format in scope.
var littleEndian = binary.LittleEndian

// Well-known output section identifiers. Layout (the upstream pass that
// produces the Layout value this package consumes) assigns a fixed
// SectionID to each section with a role fixed enough to be addressed by
// name rather than looked up through OutputSections by string — the
// linker-internal sections .got/.plt.got/.rela.plt/.rela.dyn/.dynsym/
// .gnu.hash/.gnu.version*/.dynamic, whose identity is needed throughout
// the dynamic-table and hash/version emitters regardless of which input
// files happen to be present. Ordinary input-contributed sections
// (.text, .data, .rodata, ...) get SectionIDs dynamically instead and are
// never referenced by a fixed constant.
const (
	gotSectionID SectionID = -(iota + 1)
	pltGotSectionID
	relaPltSectionID
	relaDynSectionID
	dynsymSectionID
	symtabSectionID
	gnuHashSectionID
	gnuVersionSectionID
	gnuVersionDSectionID
	gnuVersionRSectionID
	dynamicSectionID
	bssSectionID
	tbssSectionID
	elfHeaderSectionID
	programHeadersSectionID
	sectionHeadersSectionID
	interpSectionID
	commentSectionID
	noteGNUPropertySectionID
	noteGNUBuildIDSectionID
)

// .rela.dyn holds two logically distinct halves back to back — relative
// relocations first, then general ones — so that DT_RELACOUNT (the count
// of purely-relative entries) is simply "everything before the general
// half" per SPEC_FULL.md's supplemented-features note. Both halves share
// relaDynSectionID (the physical section, addressed as a whole for
// DT_RELA/DT_RELASZ); the part splitter (§4.2) tells them apart by the
// synthetic alignment tag below rather than by a distinct SectionID,
// since they are one ELF section, not two.
const (
	relaDynRelativeAlignTag uint64 = 16
	relaDynGeneralAlignTag  uint64 = 8
)

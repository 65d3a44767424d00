package main

import (
	"debug/elf"
	"fmt"
)

// SectionID identifies an output section. SymbolID identifies a symbol in
// the merged resolution map. Both are assigned upstream, by the layout
// pass that produced the Layout value this package consumes.
type SectionID int

// SymbolID identifies a symbol in the merged resolution map.
type SymbolID int

// Arch is the target instruction-set architecture. Only architectures with
// a registered Architecture implementation (arch.go) can be emitted for.
type Arch int

const (
	ArchX86_64 Arch = iota
	ArchARM64
)

func (a Arch) String() string {
	switch a {
	case ArchX86_64:
		return "x86_64"
	case ArchARM64:
		return "aarch64"
	default:
		return "unknown"
	}
}

// OutputKindTag distinguishes the three ELF output shapes this core emits.
type OutputKindTag int

const (
	KindStaticExecutable OutputKindTag = iota
	KindExecutable
	KindSharedObject
)

// OutputKind is e_type plus the PIE bit, which together decide whether the
// output needs RELATIVE relocations and where DF_1_PIE/DT_DEBUG go.
type OutputKind struct {
	Tag OutputKindTag
	PIE bool
}

func (k OutputKind) IsExecutable() bool {
	return k.Tag == KindStaticExecutable || k.Tag == KindExecutable
}

func (k OutputKind) IsStaticExecutable() bool {
	return k.Tag == KindStaticExecutable
}

func (k OutputKind) IsSharedObject() bool {
	return k.Tag == KindSharedObject
}

// IsRelocatable reports whether addresses in this output are subject to
// base-address relocation at load time (PIE executables and shared
// objects), which is when Absolute-form relocations turn into RELATIVE
// dynamic relocations instead of being resolved at link time.
func (k OutputKind) IsRelocatable() bool {
	return k.Tag == KindSharedObject || (k.Tag == KindExecutable && k.PIE)
}

// ELFType returns e_type: ET_DYN for relocatable outputs, ET_EXEC otherwise.
func (k OutputKind) ELFType() elf.Type {
	if k.IsRelocatable() {
		return elf.ET_DYN
	}
	return elf.ET_EXEC
}

// ValueFlags describes the kind of value a Resolution carries.
type ValueFlags uint32

const (
	ValueAbsolute ValueFlags = 1 << iota
	ValueAddress
	ValueDynamic
	ValueIfunc
	ValueCanBypassGOT
)

func (v ValueFlags) Has(f ValueFlags) bool { return v&f != 0 }

// ResolutionFlags describes what output structures a symbol needs.
type ResolutionFlags uint32

const (
	ResGOT ResolutionFlags = 1 << iota
	ResPLT
	ResExportDynamic
	ResGotTLSOffset
	ResGotTLSModule
	ResGotTLSDescriptor
	ResCopyRelocation
)

func (r ResolutionFlags) Has(f ResolutionFlags) bool { return r&f != 0 }

// Resolution is the fully resolved location and kind of a symbol in the
// output. It is immutable during emission; the merged resolution map in
// Layout owns one per symbol that was referenced anywhere.
type Resolution struct {
	RawValue        uint64
	GOTAddress      *uint64
	PLTAddress      *uint64
	ValueFlags      ValueFlags
	ResolutionFlags ResolutionFlags
	// DynamicSymbolIndex is nil when the symbol has no .dynsym entry.
	DynamicSymbolIndex *uint32
}

func (r *Resolution) HasGOT() bool { return r.GOTAddress != nil }
func (r *Resolution) HasPLT() bool { return r.PLTAddress != nil }

// DynamicSymbolIndexOrErr mirrors the source linker's dynamic_symbol_index(),
// which fails when a relocation that requires a dynamic symbol was resolved
// to a symbol with none allocated.
func (r *Resolution) DynamicSymbolIndexOrErr() (uint32, error) {
	if r.DynamicSymbolIndex == nil {
		return 0, fmt.Errorf("resolution has no dynamic symbol index")
	}
	return *r.DynamicSymbolIndex, nil
}

// Address returns the resolution's address, failing if it carries no
// meaningful address (e.g. an absolute non-address constant).
func (r *Resolution) Address() (uint64, error) {
	if !r.ValueFlags.Has(ValueAddress) && !r.ValueFlags.Has(ValueAbsolute) {
		return 0, fmt.Errorf("resolution has no address")
	}
	return r.RawValue, nil
}

// SectionAlloc is one entry of the layout's section-allocation table:
// (section_id, file_offset, file_size), sorted by file_offset.
type SectionAlloc struct {
	SectionID SectionID
	Name      string
	FileOffset uint64
	FileSize   uint64
	// MemAddress is the section's load address (0 for non-loaded sections).
	MemAddress uint64
	Flags      SectionFlags
}

// SectionFlags is a small subset of sh_flags relevant to emission decisions.
type SectionFlags uint32

const (
	SectionWrite SectionFlags = 1 << iota
	SectionAlloc_
	SectionExec
	SectionTLS
)

func (f SectionFlags) Has(g SectionFlags) bool { return f&g != 0 }

// PartKey names a (section, alignment) pair, the smallest allocation unit.
type PartKey struct {
	SectionID SectionID
	Alignment uint64
}

// PartLayout gives a part's position in the file and in memory.
type PartLayout struct {
	FileOffset uint64
	FileSize   uint64
	MemOffset  uint64
	MemSize    uint64
}

// GroupLayout is one shard of input files processed by one writer task. It
// owns a contiguous sub-range of every part it contributes to, given as
// byte counts the group splitter (buffer.go) uses to peel prefixes.
type GroupLayout struct {
	ID           int
	FileSizes    map[PartKey]uint64
	MemSizes     map[PartKey]uint64
	DynstrStart  uint64
	StrtabStart  uint64
	EhFrameStart uint64
	// Files lists the object/shared-object inputs this group writes.
	Files []FileLayout
	// FirstSymbol and SymbolCount give the
	// [FirstSymbol, FirstSymbol+SymbolCount) range of Layout's
	// merged resolution map that belongs to symbols defined or referenced
	// by this group's files.
	FirstSymbol SymbolID
	SymbolCount int
}

// FileKind distinguishes the per-file writer variants of §4.4.
type FileKind int

const (
	FileKindObject FileKind = iota
	FileKindPrelude
	FileKindEpilogue
	FileKindSharedObject
)

// LoadedSlot is a section-sized region of a FileLayout that is copied
// verbatim from an input object's section bytes (after relocation).
type LoadedSlot struct {
	Key PartKey
	// GroupOffset is this file's byte offset within its group's share of
	// Key's part (GroupPartMap[Key]), since a group's part slice covers
	// every file in the group, not just this one.
	GroupOffset uint64
	InputSize   uint64
	Relocations []RawRelocation
	IsDebugInfo bool
	IsEhFrame   bool
	// SectionFlags/SectionAddress are this input section's own output
	// placement, needed by the relocation engine's PC-relative forms.
	SectionFlags   SectionFlags
	SectionAddress uint64
}

// FileLayout is one input file's contribution: which slots it writes and
// where, keyed by PartKey so the table/part writers can find the right
// sub-slice.
type FileLayout struct {
	Kind  FileKind
	Name  string
	Slots []LoadedSlot
	// FirstSymbol/SymbolCount give this file's slice of the symbol id
	// space, for the "process every resolution in the file's symbol id
	// range" step of the object/shared-object writers.
	FirstSymbol SymbolID
	SymbolCount int
	// Soname/SonameStrOffset are valid for shared-object files: the
	// soname's already-allocated .dynstr offset.
	Soname          string
	SonameStrOffset uint32
	// VersionRefs lists, for a shared-object file, every version this
	// output actually references from it (a subset of that library's own
	// .gnu.version_d), with the Versym index the layout pass assigned it
	// in this output's .gnu.version_r.
	VersionRefs          []SharedObjectVersionRef
	CopyRelocatedSymbols []SymbolID
}

// SharedObjectVersionRef is one version name this output references from
// a needed shared object, with its pre-allocated .dynstr offset and the
// Versym index layout assigned it.
type SharedObjectVersionRef struct {
	Name       string
	NameOffset uint32
	OutputNdx  uint16
}

// SymbolMeta is the per-symbol metadata the per-file writers need to
// build .dynsym/.symtab rows: everything about a symbol except its
// Resolution (address/GOT/PLT), which lives in Layout.Resolutions.
type SymbolMeta struct {
	Name             string
	NameOffset       uint32 // pre-allocated offset into .dynstr or .strtab
	Bind, Type       byte
	Shndx            uint16
	Size             uint64
	IsWeak           bool
	IsTLS            bool
	IsDynamicWeakRef bool // DYNAMIC weak reference, resolved by no linked .so
	InSymtab         bool // layout decided this symbol keeps a .symtab row (strip-all clears this for all but dynsym-required ones)
	InDynsym         bool
}

// RawRelocation is a relocation record as read from the input object: its
// offset within the section, the raw r_type, the target symbol, and the
// addend.
type RawRelocation struct {
	OffsetInSection uint64
	RType           uint32
	Symbol          SymbolID
	Addend          int64
}

// SegmentLayout is one program-header entry.
type SegmentLayout struct {
	Type     elf.ProgType
	Flags    elf.ProgFlag
	Offset   uint64
	VAddr    uint64
	PAddr    uint64
	FileSize uint64
	MemSize  uint64
	Align    uint64
}

// TLSRange is the TLS segment's start/end load addresses.
type TLSRange struct {
	Start uint64
	End   uint64
}

func (t TLSRange) Contains(addr uint64) bool {
	return addr >= t.Start && addr <= t.End
}

// VersionDefEntry is one entry a shared object's .gnu.version_d advertised,
// consulted when building our own .gnu.version_r against it.
type VersionDefEntry struct {
	Name  string
	Index uint16
}

// OutputSectionMeta is layout metadata about one output section needed
// during emission but not already captured in SectionAlloc.
type OutputSectionMeta struct {
	Name        string
	NameOffset  uint32 // pre-allocated offset into .shstrtab
	Type        elf.SectionType
	EntrySize   uint64
	LinkSection SectionID
	Info        uint32
}

// MergedStringTable is a pre-merged, pre-deduplicated string pool (used for
// .dynstr/.strtab/.shstrtab construction); Buckets are written out in
// order, parallel per bucket, by the prelude writer.
type MergedStringTable struct {
	Buckets [][]byte
}

// Layout is the read-only aggregate produced by the upstream layout pass:
// everything this package's writers need to know about where things go.
// It never changes during emission; concurrent group writers only ever
// read it.
type Layout struct {
	Arch       Arch
	OutputKind OutputKind

	Sections []SectionAlloc
	Segments []SegmentLayout
	Groups   []*GroupLayout

	Resolutions map[SymbolID]*Resolution
	SymbolMeta  map[SymbolID]SymbolMeta

	OutputSections map[SectionID]OutputSectionMeta
	PartOrder      []PartKey // output order: segment order, then descending alignment
	Parts          map[PartKey]PartLayout

	MergedStrings map[SectionID]*MergedStringTable

	TLS TLSRange

	// GOTBaseAddress is the reference point GOT-base-relative relocation
	// forms (e.g. AArch64's GOTREL forms) subtract from a GOT entry
	// address; conventionally the address of the `.got` section itself.
	GOTBaseAddress uint64
	// TLSLDGotAddress is the single shared GOT slot holding the current
	// module's id for all local-dynamic TLS accesses, or nil if no
	// local-dynamic TLS reference exists in this output.
	TLSLDGotAddress *uint64

	EntryAddress uint64

	Interpreter string
	SONAME      string
	RPaths      []string
	NeededLibs  []string

	ExecStack bool

	ShStrTabSectionID SectionID
	DynstrSectionID   SectionID
	StrtabSectionID   SectionID

	EhFrameSectionID    SectionID
	EhFrameHdrSectionID SectionID
}

func (l *Layout) SectionByID(id SectionID) (*SectionAlloc, error) {
	for i := range l.Sections {
		if l.Sections[i].SectionID == id {
			return &l.Sections[i], nil
		}
	}
	return nil, fmt.Errorf("no such section id %d", id)
}

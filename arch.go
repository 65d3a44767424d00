package main

import "debug/elf"

// RelInfo describes the canonical operation a raw r_type performs, independent
// of architecture: the width and bit-range of the patch, its signedness,
// and whether it is PC-relative. The relocation engine (relocation.go)
// only ever deals in RelInfo; architecture modules translate raw r_type
// values into one.
type RelInfo struct {
	Name       string
	ByteSize   int  // 1, 2, 4 or 8
	BitOffset  int  // first bit written, within the first byte
	BitSize    int  // number of bits written
	Signed     bool
	PCRelative bool
	// Kind selects which of the enumerated value forms (§4.6) the
	// relocation engine computes for this r_type.
	Kind RelocationKind
}

// RelocationKind is the closed set of value forms the relocation engine
// knows how to compute, named directly after the originating linker's
// enumeration (see relocation.go's Relocate for the formula each one
// expands to).
type RelocationKind int

const (
	RelAbsolute RelocationKind = iota
	RelAbsoluteAArch64
	RelRelative
	RelGotRelative
	RelGotRelGotBase
	RelGot
	RelSymRelGotBase
	RelPltRelGotBase
	RelPltRelative
	RelTlsGd
	RelTlsGdGot
	RelTlsGdGotBase
	RelTlsLd
	RelTlsLdGot
	RelTlsLdGotBase
	RelDtpOff
	RelGotTpOff
	RelGotTpOffGot
	RelGotTpOffGotBase
	RelTpOff
	RelTpOffAArch64
	RelTlsDesc
	RelTlsDescGot
	RelTlsDescGotBase
	RelNone
	RelTlsDescCall
)

// RelaxationResult is what an architecture's relaxation hook returns when
// it decides to rewrite a relocation in place instead of applying it via
// the general value-form machinery.
type RelaxationResult struct {
	// NewRelInfo replaces the relocation's effective type, when the
	// relaxation changed which bytes are patched and how.
	NewRelInfo RelInfo
	// OffsetDelta is added to the relocation's offset-in-section, for
	// relaxations that shift the patch site (e.g. removing an opcode byte).
	OffsetDelta int64
	// AddendDelta is added to the relocation's addend.
	AddendDelta int64
	// SkipNext, when true, tells the relocation engine to drop the
	// relocation immediately following this one (the relaxation consumed
	// the instruction pair it used to target).
	SkipNext bool
}

// RelaxInput bundles everything an architecture needs to decide whether a
// relocation can be relaxed.
type RelaxInput struct {
	RType           uint32
	ValueFlags      ValueFlags
	OutputKind      OutputKind
	SectionFlags    SectionFlags
	TargetIsDefined bool
}

// Architecture is the capability set every target ISA implements. It is
// selected once per Layout (a single output is single-arch) and consulted
// per relocation, never per byte, so virtual dispatch through an interface
// is not a performance concern.
type Architecture interface {
	Arch() Arch

	// ELFMachine is the e_machine value for this architecture's ELF header.
	ELFMachine() elf.Machine

	// RelocationFromRaw translates a raw r_type into its canonical RelInfo.
	RelocationFromRaw(rType uint32) (RelInfo, error)

	// RelTypeToString names a raw r_type, for diagnostics.
	RelTypeToString(rType uint32) string

	// Relaxation returns a relaxation for this relocation, if one applies.
	// A nil result means "apply normally".
	Relaxation(in RelaxInput) *RelaxationResult

	// PageMask returns the architecture's page-relative addressing mask
	// for the named family (place, symbol+addend, GOT, GOT-entry); most
	// architectures other than those with page-relative addressing (e.g.
	// AArch64's ADRP/LDR pairs) return ^uint64(0) (no masking).
	PageMask(family PageMaskFamily) uint64

	// WritePLTEntry encodes one PLT stub at pltSlot (already positioned at
	// the right cursor) referencing the GOT entry at gotAddr.
	WritePLTEntry(pltSlot []byte, pltAddr, gotAddr uint64) error

	// DynamicRelocationType returns the r_type used for a given dynamic
	// relocation family (GLOB_DAT, RELATIVE, IRELATIVE, JUMP_SLOT, COPY,
	// TPOFF, DTPMOD, DTPOFF, TLSDESC).
	DynamicRelocationType(family DynRelFamily) uint32

	// PatchValue writes value into out at the bit-range named by info.
	PatchValue(out []byte, info RelInfo, value uint64) error
}

// PageMaskFamily names one of the four page-masking contexts §4.6 lists.
type PageMaskFamily int

const (
	PageMaskPlace PageMaskFamily = iota
	PageMaskSymbolAddend
	PageMaskGOT
	PageMaskGOTEntry
)

// DynRelFamily names a dynamic-relocation purpose, independent of the
// architecture-specific r_type that implements it.
type DynRelFamily int

const (
	DynRelGlobDat DynRelFamily = iota
	DynRelRelative
	DynRelIRelative
	DynRelJumpSlot
	DynRelCopy
	DynRelTPOff
	DynRelDTPMod
	DynRelDTPOff
	DynRelTLSDesc
)

// NewArchitecture returns the Architecture implementation for a, or an
// error if a has none registered.
func NewArchitecture(a Arch) (Architecture, error) {
	switch a {
	case ArchX86_64:
		return newX86_64(), nil
	case ArchARM64:
		return newARM64(), nil
	default:
		return nil, &ConfigError{Msg: "no architecture module registered for " + a.String()}
	}
}

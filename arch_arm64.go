package main

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
)

// arm64 implements Architecture for AArch64. Instruction encoding follows
// the teacher's arm64_codegen.go/arm64_instructions.go convention of
// packing fixed 32-bit instruction words with shifted bit-fields, rather
// than x86's variable-length byte streams.
type arm64 struct{}

func newARM64() Architecture { return arm64{} }

func (arm64) Arch() Arch { return ArchARM64 }

func (arm64) ELFMachine() elf.Machine { return elf.EM_AARCH64 }

// RelocationFromRaw maps each AArch64 psABI relocation type to its byte
// shape and to the value form (Kind) the engine computes for it,
// cross-checked against original_source/libwild/src/elf_writer.rs's
// value-form formulas (the AArch64-specific Absolute/TpOff variants exist
// because AArch64's TCB layout differs from x86-64's).
func (arm64) RelocationFromRaw(rType uint32) (RelInfo, error) {
	switch elf.R_AARCH64(rType) {
	case elf.R_AARCH64_ABS64:
		return RelInfo{Name: "R_AARCH64_ABS64", ByteSize: 8, BitSize: 64, Signed: false, Kind: RelAbsoluteAArch64}, nil
	case elf.R_AARCH64_PREL64:
		return RelInfo{Name: "R_AARCH64_PREL64", ByteSize: 8, BitSize: 64, Signed: true, PCRelative: true, Kind: RelRelative}, nil
	case elf.R_AARCH64_PREL32:
		return RelInfo{Name: "R_AARCH64_PREL32", ByteSize: 4, BitSize: 32, Signed: true, PCRelative: true, Kind: RelRelative}, nil
	case elf.R_AARCH64_CALL26, elf.R_AARCH64_JUMP26:
		// 26-bit word-aligned branch immediate packed into bits [25:0];
		// branches conventionally resolve through the PLT address.
		return RelInfo{Name: "R_AARCH64_CALL26", ByteSize: 4, BitSize: 26, Signed: true, PCRelative: true, Kind: RelPltRelative}, nil
	case elf.R_AARCH64_ADR_PREL_PG_HI21:
		return RelInfo{Name: "R_AARCH64_ADR_PG_HI21", ByteSize: 4, BitSize: 21, Signed: true, PCRelative: true, Kind: RelRelative}, nil
	case elf.R_AARCH64_ADR_GOT_PAGE:
		return RelInfo{Name: "R_AARCH64_ADR_GOT_PAGE", ByteSize: 4, BitSize: 21, Signed: true, PCRelative: true, Kind: RelGotRelative}, nil
	case elf.R_AARCH64_TLSIE_ADR_GOTTPREL_PAGE21:
		return RelInfo{Name: "R_AARCH64_TLSIE_ADR_GOTTPREL_PAGE21", ByteSize: 4, BitSize: 21, Signed: true, PCRelative: true, Kind: RelGotTpOff}, nil
	case elf.R_AARCH64_TLSDESC_ADR_PAGE21:
		return RelInfo{Name: "R_AARCH64_TLSDESC_ADR_PAGE21", ByteSize: 4, BitSize: 21, Signed: true, PCRelative: true, Kind: RelTlsDesc}, nil
	case elf.R_AARCH64_ADD_ABS_LO12_NC:
		return RelInfo{Name: "R_AARCH64_ADD_ABS_LO12_NC", ByteSize: 4, BitSize: 12, Signed: false, Kind: RelAbsoluteAArch64}, nil
	case elf.R_AARCH64_LD64_GOT_LO12_NC:
		return RelInfo{Name: "R_AARCH64_LD64_GOT_LO12_NC", ByteSize: 4, BitSize: 12, Signed: false, Kind: RelGot}, nil
	case elf.R_AARCH64_TLSIE_LD64_GOTTPREL_LO12_NC:
		return RelInfo{Name: "R_AARCH64_TLSIE_LD64_GOTTPREL_LO12_NC", ByteSize: 4, BitSize: 12, Signed: false, Kind: RelGotTpOffGot}, nil
	case elf.R_AARCH64_TLSDESC_LD64_LO12_NC, elf.R_AARCH64_TLSDESC_ADD_LO12_NC:
		return RelInfo{Name: "R_AARCH64_TLSDESC_LO12_NC", ByteSize: 4, BitSize: 12, Signed: false, Kind: RelTlsDescGot}, nil
	case elf.R_AARCH64_TLS_DTPREL64:
		return RelInfo{Name: "R_AARCH64_TLS_DTPREL64", ByteSize: 8, BitSize: 64, Signed: false, Kind: RelDtpOff}, nil
	case elf.R_AARCH64_TLS_TPREL64:
		return RelInfo{Name: "R_AARCH64_TLS_TPREL64", ByteSize: 8, BitSize: 64, Signed: false, Kind: RelTpOffAArch64}, nil
	case elf.R_AARCH64_TLS_DTPMOD64:
		// Linker-internal only, see the x86-64 module's identical note.
		return RelInfo{Name: "R_AARCH64_TLS_DTPMOD64", ByteSize: 8, BitSize: 64, Signed: false, Kind: RelNone}, nil
	default:
		return RelInfo{}, &InvalidInputError{Context: "aarch64", Msg: fmt.Sprintf("unsupported r_type %d", rType)}
	}
}

func (arm64) RelTypeToString(rType uint32) string {
	return elf.R_AARCH64(rType).String()
}

// Relaxation implements the ADRP+LDR -> ADRP+ADD relaxation: a GOT load of
// a symbol that turned out to be locally defined and GOT-bypassable
// becomes a direct address computation, dropping the indirection (and the
// GOT slot that would otherwise need allocating) exactly the way the
// x86_64 GOTPCRELX relaxation does. The LD64_GOT_LO12_NC low-12 relocation
// becomes ADD_ABS_LO12_NC over the same bytes; OffsetDelta is 0 because
// both instructions are 4 bytes at the same site, only the opcode differs
// (a detail the relocation engine's byte-level patch step, not this
// struct, is responsible for once it sees this relaxed RelInfo).
func (arm64) Relaxation(in RelaxInput) *RelaxationResult {
	if elf.R_AARCH64(in.RType) != elf.R_AARCH64_LD64_GOT_LO12_NC {
		return nil
	}
	if !in.TargetIsDefined || !in.ValueFlags.Has(ValueCanBypassGOT) {
		return nil
	}
	return &RelaxationResult{
		NewRelInfo: RelInfo{Name: "R_AARCH64_ABS_LO12_NC-relaxed", ByteSize: 4, BitSize: 12, Signed: false, Kind: RelAbsoluteAArch64},
	}
}

func (arm64) PageMask(family PageMaskFamily) uint64 {
	switch family {
	case PageMaskPlace, PageMaskSymbolAddend, PageMaskGOT, PageMaskGOTEntry:
		// ADRP computes PC & ~0xFFF vs (PC+imm) & ~0xFFF; all four families
		// share AArch64's 4K page granularity.
		return ^uint64(0xFFF)
	default:
		return ^uint64(0)
	}
}

// WritePLTEntry encodes the standard AArch64 lazy-PLT stub:
//
//	adrp x16, GOT[n]@PAGE
//	ldr  x17, [x16, GOT[n]@PAGEOFF]
//	add  x16, x16, GOT[n]@PAGEOFF
//	br   x17
func (arm64) WritePLTEntry(pltSlot []byte, pltAddr, gotAddr uint64) error {
	if len(pltSlot) < 16 {
		return &InternalError{Msg: "aarch64 PLT slot smaller than 16 bytes"}
	}
	page := func(a uint64) uint64 { return a &^ 0xFFF }
	pageOff := uint32(gotAddr & 0xFFF)

	adrpPage := int64(page(gotAddr)) - int64(page(pltAddr))
	immlo := uint32((adrpPage >> 12) & 0x3)
	immhi := uint32((adrpPage >> 14) & 0x7FFFF)
	adrp := (0x90000000) | (immlo << 29) | (immhi << 5) | 16 // Xd = x16
	binary.LittleEndian.PutUint32(pltSlot[0:4], adrp)

	// ldr x17, [x16, #pageOff]  (LDR (immediate), 64-bit, unsigned offset)
	ldr := uint32(0xF9400000) | ((pageOff / 8) << 10) | (16 << 5) | 17
	binary.LittleEndian.PutUint32(pltSlot[4:8], ldr)

	// add x16, x16, #pageOff
	add := uint32(0x91000000) | (pageOff << 10) | (16 << 5) | 16
	binary.LittleEndian.PutUint32(pltSlot[8:12], add)

	// br x17
	br := uint32(0xD61F0000) | (17 << 5)
	binary.LittleEndian.PutUint32(pltSlot[12:16], br)
	return nil
}

func (arm64) DynamicRelocationType(family DynRelFamily) uint32 {
	switch family {
	case DynRelGlobDat:
		return uint32(elf.R_AARCH64_GLOB_DAT)
	case DynRelRelative:
		return uint32(elf.R_AARCH64_RELATIVE)
	case DynRelIRelative:
		return uint32(elf.R_AARCH64_IRELATIVE)
	case DynRelJumpSlot:
		return uint32(elf.R_AARCH64_JUMP_SLOT)
	case DynRelCopy:
		return uint32(elf.R_AARCH64_COPY)
	case DynRelTPOff:
		return uint32(elf.R_AARCH64_TLS_TPREL64)
	case DynRelDTPMod:
		return uint32(elf.R_AARCH64_TLS_DTPMOD64)
	case DynRelDTPOff:
		return uint32(elf.R_AARCH64_TLS_DTPREL64)
	case DynRelTLSDesc:
		return uint32(elf.R_AARCH64_TLSDESC)
	default:
		return 0
	}
}

func (arm64) PatchValue(out []byte, info RelInfo, value uint64) error {
	switch info.ByteSize {
	case 4:
		if info.BitSize == 32 {
			if len(out) < 4 {
				return &InternalError{Msg: "aarch64 patch target shorter than relocation width"}
			}
			binary.LittleEndian.PutUint32(out, uint32(value))
			return nil
		}
		// Sub-word immediate packed into an existing instruction word: read
		// the word, clear the target bits, OR in the new field.
		if len(out) < 4 {
			return &InternalError{Msg: "aarch64 patch target shorter than one instruction"}
		}
		word := binary.LittleEndian.Uint32(out)
		switch info.BitSize {
		case 26: // CALL26/JUMP26: bits [25:0], word-aligned immediate.
			imm := uint32(value>>2) & 0x3FFFFFF
			word = (word &^ 0x3FFFFFF) | imm
		case 21: // ADRP-style: immlo[1:0]@29, immhi[20:2]@5
			imm := uint32(value >> 12)
			immlo := imm & 0x3
			immhi := (imm >> 2) & 0x7FFFF
			word = (word &^ (0x3 << 29)) &^ (0x7FFFF << 5)
			word |= (immlo << 29) | (immhi << 5)
		case 12: // ADD/LDST unsigned-offset immediate, bits [21:10].
			imm := uint32(value) & 0xFFF
			word = (word &^ (0xFFF << 10)) | (imm << 10)
		default:
			return &InternalError{Msg: fmt.Sprintf("aarch64 unsupported immediate width %d", info.BitSize)}
		}
		binary.LittleEndian.PutUint32(out, word)
		return nil
	case 8:
		if len(out) < 8 {
			return &InternalError{Msg: "aarch64 patch target shorter than relocation width"}
		}
		binary.LittleEndian.PutUint64(out, value)
		return nil
	default:
		return &InternalError{Msg: "aarch64 unsupported relocation width"}
	}
}

package main

import "encoding/binary"

// currentExeTLSMod is the module id the loader assigns the executable's
// own TLS block; static PIE/non-PIE executables can bake this in directly
// instead of emitting a DTPMOD relocation, since there is exactly one
// possible module for code built into the executable itself.
const currentExeTLSMod = 1

// byteCursor is an affine view over one table's pre-allocated byte range:
// each take* call narrows it, and nothing else can ever see the bytes it
// already handed out. This is the cursor-ownership discipline named in
// spec §9, reusing buffer.go's slice-peeling idiom at entry granularity
// instead of whole-part granularity.
type byteCursor struct {
	buf []byte
	pos int
}

func (c *byteCursor) take(n int, what string) ([]byte, error) {
	if c.pos+n > len(c.buf) {
		return nil, &AllocationError{Section: what, Allocated: uint64(len(c.buf)), Remaining: int64(len(c.buf) - c.pos - n), suggest: !verifyAllocationsEnvSet()}
	}
	s := c.buf[c.pos : c.pos+n]
	c.pos += n
	return s, nil
}

func (c *byteCursor) remaining() int { return len(c.buf) - c.pos }

// takeAll hands out every remaining byte, for tables the epilogue writer
// fills in a single bulk write rather than one fixed-size entry at a time.
func (c *byteCursor) takeAll(what string) ([]byte, error) {
	return c.take(c.remaining(), what)
}

// TableWriter is a per-group handle bundling the cursors into every table
// a group's files might write into. It is constructed from that group's
// GroupPartMap and dropped when the group finishes (§3's table-cursor-set
// lifecycle). Grounded on the teacher's DynamicSections (elf_complete.go),
// whose dynsym/dynstr/hash/rela/plt/got fields are the same growable
// byte-buffer-per-table shape, generalized here from "one program, append
// only" to "N groups, each pre-allocated a disjoint byte range".
type TableWriter struct {
	arch   Architecture
	layout *Layout
	group  *GroupLayout

	got             byteCursor // 8-byte machine-word entries
	pltGot          byteCursor // fixed-size instruction stubs (16 bytes both arches)
	relaPlt         byteCursor // Rela64, 24 bytes
	relaDynRelative byteCursor // Rela64, 24 bytes
	relaDynGeneral  byteCursor // Rela64, 24 bytes
	dynsym          byteCursor // Sym64, 24 bytes
	dynstr          byteCursor
	symtab          byteCursor // Sym64, 24 bytes
	strtab          byteCursor
	ehFrame         byteCursor
	ehFrameHdr      byteCursor // 8-byte (frame_ptr int32, frame_info_ptr int32) entries
	dynamic         byteCursor // 16-byte (tag int64, val uint64) entries
	gnuVersion      byteCursor // 2-byte Versym entries
	gnuVersionD     byteCursor
	gnuVersionR     byteCursor
	gnuHash         byteCursor
	noteBuildID     byteCursor
	noteProperty    byteCursor

	dynstrBase   uint64
	strtabBase   uint64
	ehFrameStart uint64

	relativeCount uint64
}

const pltStubSize = 16

// NewTableWriter builds a TableWriter from a group's part map, looking up
// each table's byte range by the exact PartKey the layout pass assigned
// it. Exact PartKey lookup (rather than a SectionID-only scan) matters for
// .rela.dyn: its relative and general halves are two distinct parts of
// the same physical section (distinguished by the synthetic alignment tag
// the layout pass gives each half), and a SectionID-only match would
// alias one cursor onto the other's bytes.
func NewTableWriter(arch Architecture, layout *Layout, group *GroupLayout, parts GroupPartMap, ids TableSectionIDs) *TableWriter {
	get := func(key PartKey) []byte { return parts[key] }
	return &TableWriter{
		arch:            arch,
		layout:          layout,
		group:           group,
		got:             byteCursor{buf: get(ids.GOT)},
		pltGot:          byteCursor{buf: get(ids.PLTGOT)},
		relaPlt:         byteCursor{buf: get(ids.RelaPlt)},
		relaDynRelative: byteCursor{buf: get(ids.RelaDynRelative)},
		relaDynGeneral:  byteCursor{buf: get(ids.RelaDynGeneral)},
		dynsym:          byteCursor{buf: get(ids.Dynsym)},
		dynstr:          byteCursor{buf: get(ids.Dynstr)},
		symtab:          byteCursor{buf: get(ids.Symtab)},
		strtab:          byteCursor{buf: get(ids.Strtab)},
		ehFrame:         byteCursor{buf: get(ids.EhFrame)},
		ehFrameHdr:      byteCursor{buf: get(ids.EhFrameHdr)},
		dynamic:         byteCursor{buf: get(ids.Dynamic)},
		gnuVersion:      byteCursor{buf: get(ids.GnuVersion)},
		gnuVersionD:     byteCursor{buf: get(ids.GnuVersionD)},
		gnuVersionR:     byteCursor{buf: get(ids.GnuVersionR)},
		gnuHash:         byteCursor{buf: get(ids.GnuHash)},
		noteBuildID:     byteCursor{buf: get(ids.NoteBuildID)},
		noteProperty:    byteCursor{buf: get(ids.NoteProperty)},
		dynstrBase:      group.DynstrStart,
		strtabBase:      group.StrtabStart,
		ehFrameStart:    group.EhFrameStart,
	}
}

// TableSectionIDs names which output part each logical table lives in, so
// NewTableWriter can find the right sub-slice of a group's part map. Most
// fields name a whole section at its sole part (alignment is whatever the
// layout pass gave that section's one-and-only part); RelaDynRelative and
// RelaDynGeneral name two parts of the same SectionID, the synthetic
// alignment tag being the only thing that tells them apart.
type TableSectionIDs struct {
	GOT, PLTGOT, RelaPlt, RelaDynRelative, RelaDynGeneral PartKey
	Dynsym, Dynstr, Symtab, Strtab                        PartKey
	EhFrame, EhFrameHdr, Dynamic                          PartKey
	GnuVersion, GnuVersionD, GnuVersionR                   PartKey
	GnuHash, NoteBuildID, NoteProperty                     PartKey
}

func writeRela64(dst []byte, offset uint64, symIndex uint32, relType uint32, addend int64) {
	binary.LittleEndian.PutUint64(dst[0:8], offset)
	info := (uint64(symIndex) << 32) | uint64(relType)
	binary.LittleEndian.PutUint64(dst[8:16], info)
	binary.LittleEndian.PutUint64(dst[16:24], uint64(addend))
}

// writeSym64 encodes one Elf64_Sym entry.
func writeSym64(dst []byte, nameOff uint32, info, other byte, shndx uint16, value, size uint64) {
	binary.LittleEndian.PutUint32(dst[0:4], nameOff)
	dst[4] = info
	dst[5] = other
	binary.LittleEndian.PutUint16(dst[6:8], shndx)
	binary.LittleEndian.PutUint64(dst[8:16], value)
	binary.LittleEndian.PutUint64(dst[16:24], size)
}

func symInfo(bind, typ byte) byte { return (bind << 4) | (typ & 0xf) }

// ---- write_* primitives (§4.3) ----

func (tw *TableWriter) writeDynamicSymbolRelocation(place uint64, addend int64, symIndex uint32) error {
	slot, err := tw.relaDynGeneral.take(24, ".rela.dyn (general)")
	if err != nil {
		return err
	}
	writeRela64(slot, place, symIndex, tw.arch.DynamicRelocationType(DynRelGlobDat), addend)
	return nil
}

func (tw *TableWriter) writeAddressRelocation(place uint64, relativeAddress uint64) error {
	slot, err := tw.relaDynRelative.take(24, ".rela.dyn (relative)")
	if err != nil {
		return err
	}
	writeRela64(slot, place, 0, tw.arch.DynamicRelocationType(DynRelRelative), int64(relativeAddress))
	tw.relativeCount++
	return nil
}

func (tw *TableWriter) writeIfuncRelocation(res *Resolution) error {
	slot, err := tw.relaPlt.take(24, ".rela.plt")
	if err != nil {
		return err
	}
	writeRela64(slot, *res.GOTAddress, 0, tw.arch.DynamicRelocationType(DynRelIRelative), int64(res.RawValue))
	return nil
}

func (tw *TableWriter) writeTPOffRelocation(place uint64, symIndex uint32, addend int64) error {
	slot, err := tw.relaDynGeneral.take(24, ".rela.dyn (general, TPOFF)")
	if err != nil {
		return err
	}
	writeRela64(slot, place, symIndex, tw.arch.DynamicRelocationType(DynRelTPOff), addend)
	return nil
}

func (tw *TableWriter) writeDTPModRelocation(place uint64, symIndex uint32) error {
	slot, err := tw.relaDynGeneral.take(24, ".rela.dyn (general, DTPMOD)")
	if err != nil {
		return err
	}
	writeRela64(slot, place, symIndex, tw.arch.DynamicRelocationType(DynRelDTPMod), 0)
	return nil
}

func (tw *TableWriter) writeDTPOffRelocation(place uint64, symIndex uint32) error {
	slot, err := tw.relaDynGeneral.take(24, ".rela.dyn (general, DTPOFF)")
	if err != nil {
		return err
	}
	writeRela64(slot, place, symIndex, tw.arch.DynamicRelocationType(DynRelDTPOff), 0)
	return nil
}

func (tw *TableWriter) writeTLSDescRelocation(place uint64, symIndex uint32, addend int64) error {
	slot, err := tw.relaDynGeneral.take(24, ".rela.dyn (general, TLSDESC)")
	if err != nil {
		return err
	}
	writeRela64(slot, place, symIndex, tw.arch.DynamicRelocationType(DynRelTLSDesc), addend)
	return nil
}

// RelativeCount returns the number of RELATIVE entries this group's table
// writer has appended to .rela.dyn so far, for DT_RELACOUNT (which counts
// only the relative half, summed across every group, after fan-out).
func (tw *TableWriter) RelativeCount() uint64 { return tw.relativeCount }

func (tw *TableWriter) takeGOTEntry() ([]byte, error) {
	return tw.got.take(8, ".got")
}

func (tw *TableWriter) writePLTEntry(gotAddr, pltAddr uint64) error {
	slot, err := tw.pltGot.take(pltStubSize, ".plt.got")
	if err != nil {
		return err
	}
	return tw.arch.WritePLTEntry(slot, pltAddr, gotAddr)
}

// ---- process_resolution (§4.3) — the GOT/PLT driver ----

func (tw *TableWriter) ProcessResolution(res *Resolution) error {
	if !res.HasGOT() {
		return nil
	}
	switch {
	case res.ResolutionFlags.Has(ResGotTLSOffset):
		return tw.processGotTLSOffset(res)
	case res.ResolutionFlags.Has(ResGotTLSModule):
		return tw.processGotTLSModule(res)
	case res.ResolutionFlags.Has(ResGotTLSDescriptor):
		return tw.processGotTLSDescriptor(res)
	}

	gotEntry, err := tw.takeGOTEntry()
	if err != nil {
		return err
	}
	gotAddr := *res.GOTAddress

	switch {
	case res.ValueFlags.Has(ValueDynamic) ||
		(res.ResolutionFlags.Has(ResExportDynamic) && !res.ValueFlags.Has(ValueCanBypassGOT) && !res.ValueFlags.Has(ValueIfunc)):
		symIdx, err := res.DynamicSymbolIndexOrErr()
		if err != nil {
			return err
		}
		if err := tw.writeDynamicSymbolRelocation(gotAddr, 0, symIdx); err != nil {
			return err
		}
	case res.ValueFlags.Has(ValueIfunc):
		if err := tw.writeIfuncRelocation(res); err != nil {
			return err
		}
	default:
		binary.LittleEndian.PutUint64(gotEntry, res.RawValue)
		if res.ValueFlags.Has(ValueAddress) && tw.layout.OutputKind.IsRelocatable() {
			if err := tw.writeAddressRelocation(gotAddr, res.RawValue); err != nil {
				return err
			}
		}
	}

	if res.HasPLT() {
		if err := tw.writePLTEntry(gotAddr, *res.PLTAddress); err != nil {
			return err
		}
	}
	return nil
}

// processGotTLSOffset implements §4.3's GOT_TLS_OFFSET variant, following
// original_source/libwild/src/elf_writer.rs's process_got_tls_offset
// exactly — see SPEC_FULL.md's Open Question resolution for why the two
// branches use different dynamic-symbol-index conventions.
func (tw *TableWriter) processGotTLSOffset(res *Resolution) error {
	entry, err := tw.takeGOTEntry()
	if err != nil {
		return err
	}
	gotAddr := *res.GOTAddress

	if res.ValueFlags.Has(ValueDynamic) ||
		(res.ResolutionFlags.Has(ResExportDynamic) && !res.ValueFlags.Has(ValueCanBypassGOT)) {
		idx, err := res.DynamicSymbolIndexOrErr()
		if err != nil {
			return err
		}
		return tw.writeTPOffRelocation(gotAddr, idx, 0)
	}

	address := res.RawValue
	if address == 0 {
		binary.LittleEndian.PutUint64(entry, 0)
		return nil
	}
	// TLS_MODULE_BASE can point at the very end of .tbss, so equality at
	// tls.End is permitted.
	if !tw.layout.TLS.Contains(address) {
		return &ConfigError{Msg: "GotTlsOffset resolves to address outside the TLS segment"}
	}
	if tw.layout.OutputKind.IsExecutable() {
		binary.LittleEndian.PutUint64(entry, address-tw.layout.TLS.End)
		return nil
	}
	return tw.writeTPOffRelocation(gotAddr, 0, int64(address-tw.layout.TLS.Start))
}

func (tw *TableWriter) processGotTLSModule(res *Resolution) error {
	moduleEntry, err := tw.takeGOTEntry()
	if err != nil {
		return err
	}
	gotAddr := *res.GOTAddress
	if tw.layout.OutputKind.IsExecutable() {
		binary.LittleEndian.PutUint64(moduleEntry, currentExeTLSMod)
	} else {
		var dynIdx uint32
		if res.DynamicSymbolIndex != nil {
			dynIdx = *res.DynamicSymbolIndex
		}
		if err := tw.writeDTPModRelocation(gotAddr, dynIdx); err != nil {
			return err
		}
	}

	offsetEntry, err := tw.takeGOTEntry()
	if err != nil {
		return err
	}
	if res.DynamicSymbolIndex != nil {
		if !res.ValueFlags.Has(ValueCanBypassGOT) {
			return tw.writeDTPOffRelocation(gotAddr+8, *res.DynamicSymbolIndex)
		}
		return nil
	}
	address, err := res.Address()
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(offsetEntry, address-tw.layout.TLS.Start)
	return nil
}

func (tw *TableWriter) processGotTLSDescriptor(res *Resolution) error {
	if _, err := tw.takeGOTEntry(); err != nil {
		return err
	}
	if _, err := tw.takeGOTEntry(); err != nil {
		return err
	}
	if tw.layout.OutputKind.IsStaticExecutable() {
		return &ConfigError{Msg: "cannot create a dynamic TLSDESC relocation for a static executable"}
	}
	var dynIdx uint32
	if res.DynamicSymbolIndex != nil {
		dynIdx = *res.DynamicSymbolIndex
	}
	var addend int64
	if res.DynamicSymbolIndex == nil {
		addend = int64(res.RawValue - tw.layout.TLS.Start)
	}
	gotAddr := *res.GOTAddress
	return tw.writeTLSDescRelocation(gotAddr, dynIdx, addend)
}

// ---- validate_empty (§4.3, §8 invariant 2) ----

type namedCursor struct {
	name string
	c    *byteCursor
}

func (tw *TableWriter) validateEmpty() error {
	cursors := []namedCursor{
		{".got", &tw.got}, {".plt.got", &tw.pltGot}, {".rela.plt", &tw.relaPlt},
		{".rela.dyn (relative)", &tw.relaDynRelative}, {".rela.dyn (general)", &tw.relaDynGeneral},
		{".dynsym", &tw.dynsym}, {".dynstr", &tw.dynstr}, {".symtab", &tw.symtab}, {".strtab", &tw.strtab},
		{".eh_frame", &tw.ehFrame}, {".eh_frame_hdr", &tw.ehFrameHdr}, {".dynamic", &tw.dynamic},
		{".gnu.version", &tw.gnuVersion}, {".gnu.version_d", &tw.gnuVersionD}, {".gnu.version_r", &tw.gnuVersionR},
		{".gnu.hash", &tw.gnuHash}, {".note.gnu.build-id", &tw.noteBuildID}, {".note.gnu.property", &tw.noteProperty},
	}
	for _, nc := range cursors {
		if r := nc.c.remaining(); r != 0 {
			return newAllocationError(nc.name, uint64(len(nc.c.buf)), int64(r), verifyAllocationsEnvSet())
		}
	}
	return nil
}

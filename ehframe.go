package main

import (
	"encoding/binary"
	"sort"
)

// This file implements §4.7's .eh_frame rewriter. No teacher analogue
// exists (flapc never parses unwind tables); the length-prefixed-entry
// walk, CIE/FDE classification, and .eh_frame_hdr pointer arithmetic are
// grounded on original_source/libwild/src/elf_writer.rs's
// write_eh_frame_data, reproduced in the byte-buffer idiom the rest of
// this package uses (table-writer cursors instead of a growable Vec).

// ehFrameEntryPrefixLen is sizeof(length u32) + sizeof(cie_id/cie_pointer u32).
const ehFrameEntryPrefixLen = 8

// fdePCBeginOffset is the fixed byte offset of an FDE's pc_begin field
// from the start of the entry (length, cie_pointer, then pc_begin).
const fdePCBeginOffset = 8

// RewriteEhFrame walks one input .eh_frame section's raw bytes and
// relocations (relocations must be sorted by OffsetInSection, as they are
// in a well-formed relocatable object), copying live entries into the
// group's .eh_frame cursor and emitting one .eh_frame_hdr entry per kept
// FDE. ehFrameHdrAddress is that output section's load address.
func RewriteEhFrame(layout *Layout, arch Architecture, tw *TableWriter, data []byte, relocations []RawRelocation, ehFrameHdrAddress uint64) error {
	relIdx := 0
	inputPos := 0
	outputPos := uint64(0)
	cieOffsetConv := make(map[uint32]uint32)

	for inputPos+ehFrameEntryPrefixLen <= len(data) {
		length := binary.LittleEndian.Uint32(data[inputPos : inputPos+4])
		cieID := binary.LittleEndian.Uint32(data[inputPos+4 : inputPos+8])
		size := 4 + int(length)
		nextInputPos := inputPos + size
		if nextInputPos > len(data) {
			return &InvalidInputError{Context: ".eh_frame", Msg: "entry length exceeds remaining section data"}
		}

		shouldKeep := false
		var outputCIEOffset *uint32

		if cieID == 0 {
			cieOffsetConv[uint32(inputPos)] = uint32(outputPos)
			shouldKeep = true
		} else if relIdx < len(relocations) {
			rel := relocations[relIdx]
			if rel.OffsetInSection < uint64(nextInputPos) {
				isPCBegin := rel.OffsetInSection-uint64(inputPos) == fdePCBeginOffset
				if isPCBegin {
					res, ok := layout.Resolutions[rel.Symbol]
					if ok && res.ValueFlags.Has(ValueAddress) {
						addr := res.RawValue + uint64(rel.Addend)

						ciePointerPos := uint32(inputPos) + 4
						if cieID > ciePointerPos {
							return &InvalidInputError{Context: ".eh_frame", Msg: "FDE's CIE pointer precedes the start of the section"}
						}
						inputCIEPos := ciePointerPos - cieID
						outCIEPos, ok := cieOffsetConv[inputCIEPos]
						if !ok {
							return &InvalidInputError{Context: ".eh_frame", Msg: "FDE references a CIE at an offset with no CIE"}
						}

						framePtr := int64(addr) - int64(ehFrameHdrAddress)
						frameInfoPtr := int64(tw.ehFrameStart+outputPos) - int64(ehFrameHdrAddress)
						if framePtr > 1<<31-1 || framePtr < -(1<<31) {
							return &InvalidInputError{Context: ".eh_frame_hdr", Msg: "32-bit overflow computing frame_ptr"}
						}
						if frameInfoPtr > 1<<31-1 || frameInfoPtr < -(1<<31) {
							return &InvalidInputError{Context: ".eh_frame_hdr", Msg: "32-bit overflow computing frame_info_ptr"}
						}

						if err := tw.appendEhFrameHdrEntry(int32(framePtr), int32(frameInfoPtr)); err != nil {
							return err
						}

						v := uint32(outputPos) + 4 - outCIEPos
						outputCIEOffset = &v
						shouldKeep = true
					}
				}
			}
		}

		if shouldKeep {
			entryOut, err := tw.ehFrame.take(size, ".eh_frame")
			if err != nil {
				return err
			}
			copy(entryOut, data[inputPos:nextInputPos])
			if outputCIEOffset != nil {
				binary.LittleEndian.PutUint32(entryOut[4:8], *outputCIEOffset)
			}
			for relIdx < len(relocations) && relocations[relIdx].OffsetInSection < uint64(nextInputPos) {
				rel := relocations[relIdx]
				r, err := ApplyRelocation(layout, arch, tw, tw.ehFrameStart+outputPos, 0, true, entryOut, rel.OffsetInSection-uint64(inputPos), rel)
				if err != nil {
					return err
				}
				relIdx++
				if r.SkipNext && relIdx < len(relocations) {
					relIdx++
				}
			}
			outputPos += uint64(size)
		} else {
			for relIdx < len(relocations) && relocations[relIdx].OffsetInSection < uint64(nextInputPos) {
				relIdx++
			}
		}
		inputPos = nextInputPos
	}

	if remaining := len(data) - inputPos; remaining > 0 {
		tail, err := tw.ehFrame.take(remaining, ".eh_frame (terminator)")
		if err != nil {
			return err
		}
		copy(tail, data[inputPos:])
		outputPos += uint64(remaining)
	}

	tw.ehFrameStart += outputPos
	return nil
}

func (tw *TableWriter) appendEhFrameHdrEntry(framePtr, frameInfoPtr int32) error {
	slot, err := tw.ehFrameHdr.take(8, ".eh_frame_hdr")
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(slot[0:4], uint32(framePtr))
	binary.LittleEndian.PutUint32(slot[4:8], uint32(frameInfoPtr))
	return nil
}

// SortEhFrameHdrEntries sorts the .eh_frame_hdr entries table (everything
// after the fixed 12-byte header) by frame_ptr ascending.
// Per §5, this runs from a single thread after the parallel group fan-out
// completes, because groups wrote their entries into non-adjacent slots in
// whatever order their FDEs appeared.
func SortEhFrameHdrEntries(entries []byte) error {
	if len(entries)%8 != 0 {
		return &InternalError{Msg: ".eh_frame_hdr entries region is not a multiple of entry size"}
	}
	n := len(entries) / 8
	type entry struct{ framePtr, frameInfoPtr int32 }
	parsed := make([]entry, n)
	for i := 0; i < n; i++ {
		parsed[i].framePtr = int32(binary.LittleEndian.Uint32(entries[i*8 : i*8+4]))
		parsed[i].frameInfoPtr = int32(binary.LittleEndian.Uint32(entries[i*8+4 : i*8+8]))
	}
	sort.Slice(parsed, func(i, j int) bool { return parsed[i].framePtr < parsed[j].framePtr })
	for i, e := range parsed {
		binary.LittleEndian.PutUint32(entries[i*8:i*8+4], uint32(e.framePtr))
		binary.LittleEndian.PutUint32(entries[i*8+4:i*8+8], uint32(e.frameInfoPtr))
	}
	return nil
}

// WriteEhFrameHdrHeader encodes the fixed 12-byte .eh_frame_hdr header that
// precedes the sortable entries table. Emit calls it once every group has
// finished (the prelude writer does not write this header): a version byte,
// three DWARF encoding bytes, a PC-relative signed pointer back to
// .eh_frame, and an absolute fde_count, with entries starting at byte
// offset 12. The encodings used (pcrel|sdata4 for the eh_frame pointer,
// absolute udata4 for the count, datarel|sdata4 for the table) are the
// conventional GCC/LLVM-compatible eh_frame_hdr encoding.
func WriteEhFrameHdrHeader(dst []byte, ehFrameHdrAddress, ehFrameAddress uint64, fdeCount uint32) error {
	const (
		dwEhPEpcrel   = 0x10
		dwEhPEsdata4  = 0x0b
		dwEhPEdatarel = 0x30
		dwEhPEudata4  = 0x03
	)
	if len(dst) < 12 {
		return &InternalError{Msg: ".eh_frame_hdr header allocation shorter than 12 bytes"}
	}
	ehFramePtr := int64(ehFrameAddress) - int64(ehFrameHdrAddress)
	if ehFramePtr > 1<<31-1 || ehFramePtr < -(1<<31) {
		return &InvalidInputError{Context: ".eh_frame_hdr", Msg: "32-bit overflow computing eh_frame pointer"}
	}
	dst[0] = 1 // version
	dst[1] = dwEhPEpcrel | dwEhPEsdata4
	dst[2] = dwEhPEudata4
	dst[3] = dwEhPEdatarel | dwEhPEsdata4
	binary.LittleEndian.PutUint32(dst[4:8], uint32(int32(ehFramePtr)))
	binary.LittleEndian.PutUint32(dst[8:12], fdeCount)
	return nil
}

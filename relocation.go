package main

import "fmt"

// This file implements §4.6's relocation engine: given a raw relocation
// record and the merged resolution it targets, compute the patched value
// and hand it to the architecture module to write into the output bytes.
// Grounded on the teacher's PatchPCRelocations/PatchCallSites and the
// per-arch patch*PLTCalls functions in elf_complete.go (search-and-patch
// by instruction pattern), generalized from "patch this one placeholder"
// to "compute one of an enumerated set of value forms", with the exact
// forms and their arithmetic cross-checked against
// original_source/libwild/src/elf_writer.rs's apply_relocation.

// RelocationResult carries what ApplyRelocation decided beyond the bytes it
// patched: SkipNext is set when a relaxation consumed the following
// relocation, which the calling loop then drops.
type RelocationResult struct {
	SkipNext bool
}

// ApplyRelocation computes and patches one relocation's value into out
// (the destination section's output bytes, addressed so that out[0]
// corresponds to offsetInSection 0 within that section).
func ApplyRelocation(layout *Layout, arch Architecture, tw *TableWriter, sectionAddress uint64, sectionFlags SectionFlags, targetIsDefined bool, out []byte, offsetInSection uint64, rel RawRelocation) (RelocationResult, error) {
	res, ok := layout.Resolutions[rel.Symbol]
	if !ok {
		return RelocationResult{}, &InternalError{Msg: fmt.Sprintf("no merged resolution for symbol %d", rel.Symbol)}
	}

	addend := rel.Addend
	offset := offsetInSection
	var info RelInfo
	result := RelocationResult{}

	if relax := arch.Relaxation(RelaxInput{
		RType:           rel.RType,
		ValueFlags:      res.ValueFlags,
		OutputKind:      layout.OutputKind,
		SectionFlags:    sectionFlags,
		TargetIsDefined: targetIsDefined,
	}); relax != nil {
		info = relax.NewRelInfo
		offset = uint64(int64(offset) + relax.OffsetDelta)
		addend += relax.AddendDelta
		result.SkipNext = relax.SkipNext
	} else {
		var err error
		info, err = arch.RelocationFromRaw(rel.RType)
		if err != nil {
			return RelocationResult{}, err
		}
	}

	place := sectionAddress + offset

	value, err := computeRelocationValue(layout, arch, tw, res, info.Kind, place, addend, sectionFlags)
	if err != nil {
		return RelocationResult{}, err
	}

	if offset > uint64(len(out)) {
		return RelocationResult{}, &InternalError{Msg: "relocation offset falls outside the destination section"}
	}
	if err := arch.PatchValue(out[offset:], info, value); err != nil {
		return RelocationResult{}, err
	}
	return result, nil
}

func computeRelocationValue(layout *Layout, arch Architecture, tw *TableWriter, res *Resolution, kind RelocationKind, place uint64, addend int64, sectionFlags SectionFlags) (uint64, error) {
	m := func(f PageMaskFamily) uint64 { return arch.PageMask(f) }
	gotAddr := func() (uint64, error) {
		if res.GOTAddress == nil {
			return 0, &InternalError{Msg: "relocation requires a GOT address but resolution has none"}
		}
		return *res.GOTAddress, nil
	}
	pltAddr := func() (uint64, error) {
		if res.PLTAddress == nil {
			return 0, &InternalError{Msg: "relocation requires a PLT address but resolution has none"}
		}
		return *res.PLTAddress, nil
	}
	tlsldAddr := func() (uint64, error) {
		if layout.TLSLDGotAddress == nil {
			return 0, &InternalError{Msg: "local-dynamic TLS relocation but layout has no TLSLD GOT entry"}
		}
		return *layout.TLSLDGotAddress, nil
	}

	switch kind {
	case RelAbsolute:
		return writeAbsoluteRelocation(layout, tw, res, place, addend, sectionFlags)

	case RelAbsoluteAArch64:
		return (res.RawValue + uint64(addend)) & m(PageMaskSymbolAddend), nil

	case RelRelative:
		return ((res.RawValue + uint64(addend)) & m(PageMaskSymbolAddend)) - (place & m(PageMaskPlace)), nil

	case RelGotRelative:
		g, err := gotAddr()
		if err != nil {
			return 0, err
		}
		return (g & m(PageMaskGOTEntry)) + uint64(addend) - (place & m(PageMaskPlace)), nil

	case RelGotRelGotBase:
		g, err := gotAddr()
		if err != nil {
			return 0, err
		}
		return (g & m(PageMaskGOTEntry)) - (layout.GOTBaseAddress & m(PageMaskGOT)) + uint64(addend), nil

	case RelGot:
		g, err := gotAddr()
		if err != nil {
			return 0, err
		}
		return (g & m(PageMaskGOTEntry)) + uint64(addend), nil

	case RelSymRelGotBase:
		return ((res.RawValue + uint64(addend)) & m(PageMaskSymbolAddend)) - (layout.GOTBaseAddress & m(PageMaskGOT)), nil

	case RelPltRelGotBase:
		p, err := pltAddr()
		if err != nil {
			return 0, err
		}
		return p - (layout.GOTBaseAddress & m(PageMaskGOT)), nil

	case RelPltRelative:
		p, err := pltAddr()
		if err != nil {
			return 0, err
		}
		return p + uint64(addend) - (place & m(PageMaskPlace)), nil

	case RelTlsGd:
		g, err := gotAddr()
		if err != nil {
			return 0, err
		}
		return (g & m(PageMaskGOTEntry)) + uint64(addend) - (place & m(PageMaskPlace)), nil

	case RelTlsGdGot:
		g, err := gotAddr()
		if err != nil {
			return 0, err
		}
		return (g & m(PageMaskGOTEntry)) + uint64(addend), nil

	case RelTlsGdGotBase:
		g, err := gotAddr()
		if err != nil {
			return 0, err
		}
		return (g & m(PageMaskGOTEntry)) + uint64(addend) - (layout.GOTBaseAddress & m(PageMaskGOT)), nil

	case RelTlsLd:
		g, err := tlsldAddr()
		if err != nil {
			return 0, err
		}
		return (g & m(PageMaskGOTEntry)) + uint64(addend) - (place & m(PageMaskPlace)), nil

	case RelTlsLdGot:
		g, err := tlsldAddr()
		if err != nil {
			return 0, err
		}
		return (g & m(PageMaskGOTEntry)) + uint64(addend), nil

	case RelTlsLdGotBase:
		g, err := tlsldAddr()
		if err != nil {
			return 0, err
		}
		return (g & m(PageMaskGOTEntry)) + uint64(addend) - (layout.GOTBaseAddress & m(PageMaskGOT)), nil

	case RelDtpOff:
		if layout.OutputKind.IsSharedObject() {
			return res.RawValue - layout.TLS.Start + uint64(addend), nil
		}
		return res.RawValue - layout.TLS.End + uint64(addend), nil

	case RelGotTpOff:
		g, err := gotAddr()
		if err != nil {
			return 0, err
		}
		return (g & m(PageMaskGOTEntry)) + uint64(addend) - (place & m(PageMaskPlace)), nil

	case RelGotTpOffGot:
		g, err := gotAddr()
		if err != nil {
			return 0, err
		}
		return (g & m(PageMaskGOTEntry)) + uint64(addend), nil

	case RelGotTpOffGotBase:
		g, err := gotAddr()
		if err != nil {
			return 0, err
		}
		return (g & m(PageMaskGOTEntry)) + uint64(addend) - (layout.GOTBaseAddress & m(PageMaskGOT)), nil

	case RelTpOff:
		return res.RawValue - layout.TLS.End + uint64(addend), nil

	case RelTpOffAArch64:
		// AArch64's variant-I TCB layout measures TP offsets from the start
		// of the TLS block rather than its end.
		return res.RawValue - layout.TLS.Start + uint64(addend), nil

	case RelTlsDesc:
		g, err := gotAddr()
		if err != nil {
			return 0, err
		}
		return (g & m(PageMaskGOTEntry)) + uint64(addend) - (place & m(PageMaskPlace)), nil

	case RelTlsDescGot:
		g, err := gotAddr()
		if err != nil {
			return 0, err
		}
		return (g & m(PageMaskGOTEntry)) + uint64(addend), nil

	case RelTlsDescGotBase:
		g, err := gotAddr()
		if err != nil {
			return 0, err
		}
		return (g & m(PageMaskGOTEntry)) + uint64(addend) - (layout.GOTBaseAddress & m(PageMaskGOT)), nil

	case RelNone, RelTlsDescCall:
		return 0, nil

	default:
		return 0, &InternalError{Msg: "unhandled relocation kind"}
	}
}

// writeAbsoluteRelocation implements §4.6 step 6, the Absolute form's
// special-cased branches.
func writeAbsoluteRelocation(layout *Layout, tw *TableWriter, res *Resolution, place uint64, addend int64, sectionFlags SectionFlags) (uint64, error) {
	if res.ValueFlags.Has(ValueDynamic) && sectionFlags.Has(SectionWrite) {
		idx, err := res.DynamicSymbolIndexOrErr()
		if err != nil {
			return 0, err
		}
		if err := tw.writeDynamicSymbolRelocation(place, addend, idx); err != nil {
			return 0, err
		}
		return 0, nil
	}
	if layout.OutputKind.IsRelocatable() && !res.ValueFlags.Has(ValueAbsolute) {
		address := res.RawValue + uint64(addend)
		if err := tw.writeAddressRelocation(place, address); err != nil {
			return 0, err
		}
		return 0, nil
	}
	if res.ValueFlags.Has(ValueIfunc) {
		if res.PLTAddress == nil {
			return 0, &InternalError{Msg: "IFUNC absolute relocation but resolution has no PLT address"}
		}
		return *res.PLTAddress + uint64(addend), nil
	}
	return res.RawValue + uint64(addend), nil
}

// ApplyDebugRelocation implements §4.4's debug-info relocation variant:
// no new GOT/PLT allocation, no relaxation, and a tombstone value in place
// of any resolution whose target section was discarded.
func ApplyDebugRelocation(layout *Layout, arch Architecture, out []byte, offsetInSection uint64, rel RawRelocation, tombstone uint64, sectionDiscarded bool) error {
	info, err := arch.RelocationFromRaw(rel.RType)
	if err != nil {
		return err
	}

	var value uint64
	if sectionDiscarded {
		value = tombstone
	} else {
		res, ok := layout.Resolutions[rel.Symbol]
		if !ok {
			return &InternalError{Msg: fmt.Sprintf("no merged resolution for debug-info symbol %d", rel.Symbol)}
		}
		switch info.Kind {
		case RelAbsolute, RelAbsoluteAArch64:
			value = res.RawValue + uint64(rel.Addend)
		case RelDtpOff:
			value = res.RawValue - layout.TLS.End + uint64(rel.Addend)
		default:
			return &InvalidInputError{Context: "debug relocation", Msg: fmt.Sprintf("unsupported debug relocation kind for r_type %d", rel.RType)}
		}
	}

	if offsetInSection > uint64(len(out)) {
		return &InternalError{Msg: "debug relocation offset falls outside the destination section"}
	}
	return arch.PatchValue(out[offsetInSection:], info, value)
}

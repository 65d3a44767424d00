package main

import "testing"

func TestValidateEmptyDetectsLeftoverBytes(t *testing.T) {
	tw := &TableWriter{got: byteCursor{buf: make([]byte, 8)}}
	if err := tw.validateEmpty(); err == nil {
		t.Fatal("expected an error: .got cursor has 8 unconsumed bytes")
	}
	if _, err := tw.takeGOTEntry(); err != nil {
		t.Fatalf("takeGOTEntry: %v", err)
	}
	if err := tw.validateEmpty(); err != nil {
		t.Fatalf("validateEmpty after full consumption: %v", err)
	}
}

func newResolutionTestLayout() *Layout {
	return &Layout{
		OutputKind: OutputKind{Tag: KindExecutable, PIE: false},
		TLS:        TLSRange{Start: 0x100, End: 0x200},
	}
}

// TestProcessResolutionDefaultPath exercises §8's plain absolute-value GOT
// entry form: no dynamic symbol, no ifunc, no address relocation (since the
// output here is not relocatable).
func TestProcessResolutionDefaultPath(t *testing.T) {
	arch, err := NewArchitecture(ArchX86_64)
	if err != nil {
		t.Fatalf("NewArchitecture: %v", err)
	}
	tw := &TableWriter{
		arch:   arch,
		layout: newResolutionTestLayout(),
		got:    byteCursor{buf: make([]byte, 8)},
	}
	gotAddr := uint64(0x3000)
	res := &Resolution{
		RawValue:   0x401000,
		GOTAddress: &gotAddr,
		ValueFlags: ValueAbsolute,
	}
	if err := tw.ProcessResolution(res); err != nil {
		t.Fatalf("ProcessResolution: %v", err)
	}
	got := littleEndian.Uint64(tw.got.buf)
	if got != res.RawValue {
		t.Fatalf(".got entry = %#x, want %#x", got, res.RawValue)
	}
	if r := tw.relaDynRelative.remaining(); r != 0 {
		t.Fatalf("no relocation should have been written for a non-relocatable output, got %d bytes", r)
	}
}

func TestProcessResolutionSkipsSymbolsWithoutGOT(t *testing.T) {
	tw := &TableWriter{layout: newResolutionTestLayout()}
	res := &Resolution{RawValue: 0x1000}
	if err := tw.ProcessResolution(res); err != nil {
		t.Fatalf("ProcessResolution with no GOT: %v", err)
	}
}

func TestProcessGotTLSOffsetStaticExecutableBranch(t *testing.T) {
	tw := &TableWriter{
		layout: newResolutionTestLayout(),
		got:    byteCursor{buf: make([]byte, 8)},
	}
	gotAddr := uint64(0x3000)
	res := &Resolution{
		RawValue:        0x150,
		GOTAddress:      &gotAddr,
		ResolutionFlags: ResGotTLSOffset,
	}
	if err := tw.processGotTLSOffset(res); err != nil {
		t.Fatalf("processGotTLSOffset: %v", err)
	}
	want := res.RawValue - tw.layout.TLS.End
	if got := littleEndian.Uint64(tw.got.buf); got != want {
		t.Fatalf(".got entry = %#x, want %#x", got, want)
	}
}

func TestProcessGotTLSOffsetRejectsAddressOutsideTLS(t *testing.T) {
	tw := &TableWriter{
		layout: newResolutionTestLayout(),
		got:    byteCursor{buf: make([]byte, 8)},
	}
	gotAddr := uint64(0x3000)
	res := &Resolution{
		RawValue:        0xffffffff, // well outside [0x100, 0x200]
		GOTAddress:      &gotAddr,
		ResolutionFlags: ResGotTLSOffset,
	}
	if err := tw.processGotTLSOffset(res); err == nil {
		t.Fatal("expected an error for a GotTlsOffset resolution outside the TLS segment")
	}
}

func TestProcessGotTLSOffsetZeroAddressIsNoop(t *testing.T) {
	tw := &TableWriter{
		layout: newResolutionTestLayout(),
		got:    byteCursor{buf: make([]byte, 8)},
	}
	gotAddr := uint64(0x3000)
	res := &Resolution{
		RawValue:        0,
		GOTAddress:      &gotAddr,
		ResolutionFlags: ResGotTLSOffset,
	}
	if err := tw.processGotTLSOffset(res); err != nil {
		t.Fatalf("processGotTLSOffset: %v", err)
	}
	if got := littleEndian.Uint64(tw.got.buf); got != 0 {
		t.Fatalf(".got entry = %#x, want 0", got)
	}
}

package main

import "testing"

func TestWriteVerdefTableChaining(t *testing.T) {
	entries := []VerdefRecord{
		{Name: "LIBFOO_1.0", Flags: verFlagBase, Index: 1, AuxNames: []uint32{10}},
		{Name: "LIBFOO_2.0", Index: 2, AuxNames: []uint32{20}},
	}
	const verdefSize, verdauxSize = 20, 8
	size := 2 * (verdefSize + verdauxSize)
	dst := make([]byte, size)
	if err := WriteVerdefTable(dst, entries); err != nil {
		t.Fatalf("WriteVerdefTable: %v", err)
	}

	vdNext0 := littleEndian.Uint32(dst[16:20])
	if vdNext0 != verdefSize+verdauxSize {
		t.Fatalf("first vd_next = %d, want %d", vdNext0, verdefSize+verdauxSize)
	}
	vdNext1 := littleEndian.Uint32(dst[verdefSize+verdauxSize+16 : verdefSize+verdauxSize+20])
	if vdNext1 != 0 {
		t.Fatalf("last vd_next = %d, want 0", vdNext1)
	}

	hash0 := littleEndian.Uint32(dst[8:12])
	if hash0 != GNUHashName("LIBFOO_1.0") {
		t.Fatalf("vd_hash = %d, want %d", hash0, GNUHashName("LIBFOO_1.0"))
	}

	idx0 := littleEndian.Uint16(dst[4:6])
	if idx0 != 1 {
		t.Fatalf("vd_ndx = %d, want 1", idx0)
	}
	auxName0 := littleEndian.Uint32(dst[verdefSize : verdefSize+4])
	if auxName0 != 10 {
		t.Fatalf("first verdaux name offset = %d, want 10", auxName0)
	}
}

func TestWriteVerdefTableTooSmall(t *testing.T) {
	entries := []VerdefRecord{{Name: "X", AuxNames: []uint32{0}}}
	if err := WriteVerdefTable(make([]byte, 4), entries); err == nil {
		t.Fatal("expected an error for a destination too small for its entries")
	}
}

func TestWriteVerneedTableChaining(t *testing.T) {
	records := []VerneedRecord{
		{FileNameOffset: 5, Aux: []VerneedAux{{NameOffset: 30, Hash: GNUHashName("V1"), OutputNdx: 2}, {NameOffset: 40, Hash: GNUHashName("V2"), OutputNdx: 3}}},
		{FileNameOffset: 15, Aux: []VerneedAux{{NameOffset: 50, Hash: GNUHashName("V3"), OutputNdx: 4}}},
	}
	const verneedSize, vernauxSize = 16, 16
	size := (verneedSize + 2*vernauxSize) + (verneedSize + vernauxSize)
	dst := make([]byte, size)
	if err := WriteVerneedTable(dst, records); err != nil {
		t.Fatalf("WriteVerneedTable: %v", err)
	}

	vnCount0 := littleEndian.Uint16(dst[2:4])
	if vnCount0 != 2 {
		t.Fatalf("first vn_cnt = %d, want 2", vnCount0)
	}
	firstEntrySize := uint32(verneedSize + 2*vernauxSize)
	vnNext0 := littleEndian.Uint32(dst[12:16])
	if vnNext0 != firstEntrySize {
		t.Fatalf("first vn_next = %d, want %d", vnNext0, firstEntrySize)
	}

	secondOff := int(firstEntrySize)
	vnNext1 := littleEndian.Uint32(dst[secondOff+12 : secondOff+16])
	if vnNext1 != 0 {
		t.Fatalf("last vn_next = %d, want 0", vnNext1)
	}

	firstAuxOff := verneedSize
	vnaNext0 := littleEndian.Uint32(dst[firstAuxOff+12 : firstAuxOff+16])
	if vnaNext0 != vernauxSize {
		t.Fatalf("first vna_next = %d, want %d (non-last aux in chain)", vnaNext0, vernauxSize)
	}
	secondAuxOff := firstAuxOff + vernauxSize
	vnaNext1 := littleEndian.Uint32(dst[secondAuxOff+12 : secondAuxOff+16])
	if vnaNext1 != 0 {
		t.Fatalf("second vna_next = %d, want 0 (last aux in first record's chain)", vnaNext1)
	}
}

func TestWriteVersym(t *testing.T) {
	tw := &TableWriter{gnuVersion: byteCursor{buf: make([]byte, 4)}}
	if err := tw.writeVersym(verNdxGlobal); err != nil {
		t.Fatalf("writeVersym: %v", err)
	}
	if err := tw.writeVersym(5); err != nil {
		t.Fatalf("writeVersym: %v", err)
	}
	if got := littleEndian.Uint16(tw.gnuVersion.buf[0:2]); got != verNdxGlobal {
		t.Fatalf("first versym = %d, want %d", got, verNdxGlobal)
	}
	if got := littleEndian.Uint16(tw.gnuVersion.buf[2:4]); got != 5 {
		t.Fatalf("second versym = %d, want 5", got)
	}
	if r := tw.gnuVersion.remaining(); r != 0 {
		t.Fatalf("cursor not fully consumed: %d bytes left", r)
	}
}

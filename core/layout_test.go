package core

import (
	"bytes"
	"testing"
)

func TestCatalogRootRoundTrip(t *testing.T) {
	want := CatalogRoot{
		Version:         1,
		Admin:           [32]byte{1, 2, 3},
		TotalCartridges: 42,
		PageCount:       3,
		LatestPageIndex: 2,
		Bump:            255,
	}
	got, err := DecodeCatalogRoot(EncodeCatalogRoot(want))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
}

func TestDecodeCatalogRootRejectsBadDiscriminator(t *testing.T) {
	b := EncodeCatalogRoot(CatalogRoot{})
	b[0] = 'X'
	if _, err := DecodeCatalogRoot(b); err == nil {
		t.Fatal("expected discriminator mismatch error")
	}
}

func TestDecodeCatalogRootRejectsShortBuffer(t *testing.T) {
	if _, err := DecodeCatalogRoot(make([]byte, 4)); err == nil {
		t.Fatal("expected short buffer error")
	}
}

func TestCatalogPageRoundTrip(t *testing.T) {
	entries := make([]CatalogEntry, PageCap)
	entries[0] = CatalogEntry{ContentID: [32]byte{9}, BlobSize: 123, Flags: FlagRetired}
	want := CatalogPage{PageIndex: 1, EntryCount: 1, Bump: 254, Entries: entries}

	encoded := EncodeCatalogPage(want)
	if len(encoded) != CatalogPageLen(PageCap) {
		t.Fatalf("unexpected encoded length: %d", len(encoded))
	}
	got, err := DecodeCatalogPage(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.PageIndex != want.PageIndex || got.EntryCount != want.EntryCount || got.Bump != want.Bump {
		t.Fatalf("header mismatch: got %+v", got)
	}
	if len(got.ValidEntries()) != 1 || !got.ValidEntries()[0].Retired() {
		t.Fatalf("expected one retired valid entry, got %+v", got.ValidEntries())
	}
}

func TestPageCapacityDerivedFromBytes(t *testing.T) {
	raw := EncodeCatalogPage(CatalogPage{Entries: make([]CatalogEntry, 16)})
	if got := PageCapacity(raw); got != 16 {
		t.Fatalf("expected capacity 16, got %d", got)
	}
}

func TestCartridgeManifestRoundTrip(t *testing.T) {
	want := CartridgeManifest{
		ContentID:   [32]byte{1},
		BlobSize:    5,
		ChunkSize:   4,
		ChunkCount:  2,
		SHA256:      [32]byte{2},
		Finalized:   true,
		CreatedSlot: 7,
		Publisher:   [32]byte{3},
		Metadata:    []byte(`{"k":"v"}`),
		Bump:        250,
	}
	got, err := DecodeCartridgeManifest(EncodeCartridgeManifest(want))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	got2 := got
	got2.Metadata = nil
	want2 := want
	want2.Metadata = nil
	if got2 != want2 {
		t.Fatalf("header mismatch: got %+v want %+v", got2, want2)
	}
	if !bytes.Equal(got.Metadata, want.Metadata) {
		t.Fatalf("metadata mismatch: got %q want %q", got.Metadata, want.Metadata)
	}
}

func TestCartridgeManifestEmptyMetadata(t *testing.T) {
	want := CartridgeManifest{ContentID: [32]byte{5}, ChunkSize: 1, ChunkCount: 1}
	got, err := DecodeCartridgeManifest(EncodeCartridgeManifest(want))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(got.Metadata) != 0 {
		t.Fatalf("expected empty metadata, got %q", got.Metadata)
	}
}

func TestCartridgeChunkRoundTrip(t *testing.T) {
	data := make([]byte, 4)
	copy(data, []byte("hell"))
	want := CartridgeChunk{ContentID: [32]byte{1}, ChunkIndex: 0, DataLen: 4, Written: true, Bump: 1, Data: data}
	got, err := DecodeCartridgeChunk(EncodeCartridgeChunk(want), 4)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.ChunkIndex != want.ChunkIndex || got.DataLen != want.DataLen || got.Written != want.Written {
		t.Fatalf("header mismatch: got %+v", got)
	}
	if !bytes.Equal(got.Data, want.Data) {
		t.Fatalf("data mismatch: got %q want %q", got.Data, want.Data)
	}
}

func TestCartridgeChunkLastChunkShorterThanChunkSize(t *testing.T) {
	// S1 from spec §8: 5-byte blob, chunk_size=4 -> chunks carry "hell", "o".
	data := make([]byte, 4)
	copy(data, []byte("o"))
	c := CartridgeChunk{ContentID: [32]byte{1}, ChunkIndex: 1, DataLen: 1, Written: true, Data: data}
	got, err := DecodeCartridgeChunk(EncodeCartridgeChunk(c), 4)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.DataLen != 1 || string(got.Data[:got.DataLen]) != "o" {
		t.Fatalf("expected trailing chunk payload 'o', got %q (len %d)", got.Data, got.DataLen)
	}
}

func TestChunkCount(t *testing.T) {
	cases := []struct {
		blobSize  uint64
		chunkSize uint32
		want      uint32
	}{
		{0, 4, 0},
		{4, 4, 1},
		{5, 4, 2},
		{8, 4, 2},
		{9, 4, 3},
	}
	for _, c := range cases {
		if got := ChunkCount(c.blobSize, c.chunkSize); got != c.want {
			t.Errorf("ChunkCount(%d,%d) = %d, want %d", c.blobSize, c.chunkSize, got, c.want)
		}
	}
}

func TestExpectedChunkDataLen(t *testing.T) {
	// 5-byte blob, chunk_size=4, chunk_count=2: chunk 0 full, chunk 1 trailing 1 byte.
	if got := ExpectedChunkDataLen(0, 2, 5, 4); got != 4 {
		t.Fatalf("chunk 0: got %d want 4", got)
	}
	if got := ExpectedChunkDataLen(1, 2, 5, 4); got != 1 {
		t.Fatalf("chunk 1: got %d want 1", got)
	}
}

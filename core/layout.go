// Package core implements the cartridge-vault on-ledger data model: the
// byte-exact account layouts of spec §3, address derivation, the in-process
// on-ledger program (the six state transitions of spec §4.4), and the
// client publish/fetch pipelines, chunk cache and transport layer of §4.5–§4.8.
package core

import (
	"encoding/binary"
	"errors"
)

// MaxBlobSize is the largest blob the catalog will accept, per spec §1/§3.3.
const MaxBlobSize = 6 * 1024 * 1024

// PageCap is the fixed capacity of a CatalogPage. spec.md §9 notes the
// constant appears as both 16 and 32 in different source strata; the
// on-ledger program's value wins and clients must read the live bound from
// the decoded page rather than hard-code it (see PageCapacity).
const PageCap = 16

// EntrySize is the fixed byte size of one CatalogEntry (spec §3.2).
const EntrySize = 120

// Discriminators are fixed 8-byte constants distinguishing account kinds
// sharing the same address space (spec §3, glossary).
var (
	discCatalogRoot       = [8]byte{'C', 'A', 'T', 'R', 'O', 'O', 'T', 0}
	discCatalogPage       = [8]byte{'C', 'A', 'T', 'P', 'A', 'G', 'E', 0}
	discCartridgeManifest = [8]byte{'C', 'R', 'T', 'M', 'A', 'N', 'F', 0}
	discCartridgeChunk    = [8]byte{'C', 'R', 'T', 'C', 'H', 'K', 0, 0}
)

// FlagRetired marks bit 0 of a CatalogEntry's flags byte (spec §3.2).
const FlagRetired = 1 << 0

// --- CatalogRoot --------------------------------------------------------

// CatalogRootLen is the fixed encoded length of a CatalogRoot account.
const CatalogRootLen = 8 + 1 + 32 + 8 + 4 + 4 + 1

// CatalogRoot is the singleton root of the catalog (spec §3.1).
type CatalogRoot struct {
	Version          uint8
	Admin            [32]byte
	TotalCartridges  uint64
	PageCount        uint32
	LatestPageIndex  uint32
	Bump             uint8
}

// EncodeCatalogRoot writes r in the byte-exact layout of spec §3.1.
func EncodeCatalogRoot(r CatalogRoot) []byte {
	b := make([]byte, CatalogRootLen)
	off := 0
	off += copy(b[off:], discCatalogRoot[:])
	b[off] = r.Version
	off++
	off += copy(b[off:], r.Admin[:])
	binary.LittleEndian.PutUint64(b[off:], r.TotalCartridges)
	off += 8
	binary.LittleEndian.PutUint32(b[off:], r.PageCount)
	off += 4
	binary.LittleEndian.PutUint32(b[off:], r.LatestPageIndex)
	off += 4
	b[off] = r.Bump
	return b
}

// DecodeCatalogRoot validates and reads a CatalogRoot (spec §4.2).
func DecodeCatalogRoot(b []byte) (CatalogRoot, error) {
	var r CatalogRoot
	if len(b) < CatalogRootLen {
		return r, wrapErr(KindLayout, "catalog root: short buffer", errShortBuffer)
	}
	if !hasDiscriminator(b, discCatalogRoot) {
		return r, wrapErr(KindLayout, "catalog root: discriminator mismatch", errBadDiscriminator)
	}
	off := 8
	r.Version = b[off]
	off++
	copy(r.Admin[:], b[off:off+32])
	off += 32
	r.TotalCartridges = binary.LittleEndian.Uint64(b[off:])
	off += 8
	r.PageCount = binary.LittleEndian.Uint32(b[off:])
	off += 4
	r.LatestPageIndex = binary.LittleEndian.Uint32(b[off:])
	off += 4
	r.Bump = b[off]
	return r, nil
}

// --- CatalogEntry / CatalogPage -----------------------------------------

// CatalogEntry is one slot of a CatalogPage (spec §3.2).
type CatalogEntry struct {
	ContentID        [32]byte
	ManifestAddress  [32]byte
	BlobSize         uint64
	SHA256           [32]byte
	CreatedSlot      uint64
	Flags            uint8
}

// Retired reports whether FlagRetired is set.
func (e CatalogEntry) Retired() bool { return e.Flags&FlagRetired != 0 }

func encodeCatalogEntry(e CatalogEntry) []byte {
	b := make([]byte, EntrySize)
	off := 0
	off += copy(b[off:], e.ContentID[:])
	off += copy(b[off:], e.ManifestAddress[:])
	binary.LittleEndian.PutUint64(b[off:], e.BlobSize)
	off += 8
	off += copy(b[off:], e.SHA256[:])
	binary.LittleEndian.PutUint64(b[off:], e.CreatedSlot)
	off += 8
	b[off] = e.Flags
	// remaining 7 bytes are padding, left zero
	return b
}

func decodeCatalogEntry(b []byte) CatalogEntry {
	var e CatalogEntry
	off := 0
	copy(e.ContentID[:], b[off:off+32])
	off += 32
	copy(e.ManifestAddress[:], b[off:off+32])
	off += 32
	e.BlobSize = binary.LittleEndian.Uint64(b[off:])
	off += 8
	copy(e.SHA256[:], b[off:off+32])
	off += 32
	e.CreatedSlot = binary.LittleEndian.Uint64(b[off:])
	off += 8
	e.Flags = b[off]
	return e
}

// CatalogPageHeaderLen is the fixed header length before the entries array.
const CatalogPageHeaderLen = 8 + 4 + 4 + 1 + 7

// CatalogPageLen returns the total encoded length of a page with the given
// capacity (spec §3.2: header + PAGE_CAP * 120).
func CatalogPageLen(cap int) int { return CatalogPageHeaderLen + cap*EntrySize }

// CatalogPage is a fixed-capacity append-only array of entries (spec §3.2).
type CatalogPage struct {
	PageIndex  uint32
	EntryCount uint32
	Bump       uint8
	Entries    []CatalogEntry // len == capacity; [0,EntryCount) valid
}

// Capacity returns the live PAGE_CAP bound for this decoded page. Clients
// must use this instead of hard-coding 16 or 32 (spec §9 open question).
func (p CatalogPage) Capacity() int { return len(p.Entries) }

// PageCapacity derives a page's capacity from its decoded account bytes
// without assuming a client-side constant.
func PageCapacity(raw []byte) int {
	if len(raw) <= CatalogPageHeaderLen {
		return 0
	}
	return (len(raw) - CatalogPageHeaderLen) / EntrySize
}

// EncodeCatalogPage writes p using the capacity implied by len(p.Entries).
func EncodeCatalogPage(p CatalogPage) []byte {
	cap := len(p.Entries)
	b := make([]byte, CatalogPageLen(cap))
	off := 0
	off += copy(b[off:], discCatalogPage[:])
	binary.LittleEndian.PutUint32(b[off:], p.PageIndex)
	off += 4
	binary.LittleEndian.PutUint32(b[off:], p.EntryCount)
	off += 4
	b[off] = p.Bump
	off += 1 + 7 // bump + 7 bytes padding
	for i, e := range p.Entries {
		copy(b[off+i*EntrySize:], encodeCatalogEntry(e))
	}
	return b
}

// DecodeCatalogPage validates and reads a CatalogPage. Entries at
// [EntryCount, capacity) are decoded but callers must ignore them per spec
// §3.2's invariant; DecodeCatalogPage returns them anyway for completeness
// and leaves filtering to ValidEntries.
func DecodeCatalogPage(b []byte) (CatalogPage, error) {
	var p CatalogPage
	if len(b) < CatalogPageHeaderLen {
		return p, wrapErr(KindLayout, "catalog page: short buffer", errShortBuffer)
	}
	if !hasDiscriminator(b, discCatalogPage) {
		return p, wrapErr(KindLayout, "catalog page: discriminator mismatch", errBadDiscriminator)
	}
	off := 8
	p.PageIndex = binary.LittleEndian.Uint32(b[off:])
	off += 4
	p.EntryCount = binary.LittleEndian.Uint32(b[off:])
	off += 4
	p.Bump = b[off]
	off += 1 + 7
	cap := PageCapacity(b)
	if p.EntryCount > uint32(cap) {
		return p, wrapErr(KindLayout, "catalog page: entry_count exceeds capacity", errBadLength)
	}
	p.Entries = make([]CatalogEntry, cap)
	for i := 0; i < cap; i++ {
		start := off + i*EntrySize
		if start+EntrySize > len(b) {
			return p, wrapErr(KindLayout, "catalog page: truncated entries array", errShortBuffer)
		}
		p.Entries[i] = decodeCatalogEntry(b[start : start+EntrySize])
	}
	return p, nil
}

// ValidEntries returns entries[0:EntryCount], the only entries spec §3.2
// guarantees are initialised.
func (p CatalogPage) ValidEntries() []CatalogEntry {
	n := int(p.EntryCount)
	if n > len(p.Entries) {
		n = len(p.Entries)
	}
	return p.Entries[:n]
}

// --- CartridgeManifest ----------------------------------------------------

const manifestMetadataCap = 256

// CartridgeManifestLen is the fixed encoded length (spec §3.3).
const CartridgeManifestLen = 8 + 32 + 8 + 4 + 4 + 32 + 1 + 7 + 8 + 32 + 2 + 1 + 5 + manifestMetadataCap

// CartridgeManifest is the per-blob manifest account (spec §3.3).
type CartridgeManifest struct {
	ContentID   [32]byte
	BlobSize    uint64
	ChunkSize   uint32
	ChunkCount  uint32
	SHA256      [32]byte
	Finalized   bool
	CreatedSlot uint64
	Publisher   [32]byte
	Metadata    []byte // len <= 256, the meaningful prefix only
	Bump        uint8
}

// EncodeCartridgeManifest writes m in the byte-exact layout of spec §3.3.
func EncodeCartridgeManifest(m CartridgeManifest) []byte {
	b := make([]byte, CartridgeManifestLen)
	off := 0
	off += copy(b[off:], discCartridgeManifest[:])
	off += copy(b[off:], m.ContentID[:])
	binary.LittleEndian.PutUint64(b[off:], m.BlobSize)
	off += 8
	binary.LittleEndian.PutUint32(b[off:], m.ChunkSize)
	off += 4
	binary.LittleEndian.PutUint32(b[off:], m.ChunkCount)
	off += 4
	off += copy(b[off:], m.SHA256[:])
	if m.Finalized {
		b[off] = 1
	}
	off += 1 + 7 // finalized + finalized_padding
	binary.LittleEndian.PutUint64(b[off:], m.CreatedSlot)
	off += 8
	off += copy(b[off:], m.Publisher[:])
	binary.LittleEndian.PutUint16(b[off:], uint16(len(m.Metadata)))
	off += 2
	b[off] = m.Bump
	off += 1 + 5 // bump + metadata_padding
	copy(b[off:], m.Metadata)
	return b
}

// DecodeCartridgeManifest validates and reads a CartridgeManifest.
func DecodeCartridgeManifest(b []byte) (CartridgeManifest, error) {
	var m CartridgeManifest
	if len(b) < CartridgeManifestLen {
		return m, wrapErr(KindLayout, "manifest: short buffer", errShortBuffer)
	}
	if !hasDiscriminator(b, discCartridgeManifest) {
		return m, wrapErr(KindLayout, "manifest: discriminator mismatch", errBadDiscriminator)
	}
	off := 8
	copy(m.ContentID[:], b[off:off+32])
	off += 32
	m.BlobSize = binary.LittleEndian.Uint64(b[off:])
	off += 8
	m.ChunkSize = binary.LittleEndian.Uint32(b[off:])
	off += 4
	m.ChunkCount = binary.LittleEndian.Uint32(b[off:])
	off += 4
	copy(m.SHA256[:], b[off:off+32])
	off += 32
	m.Finalized = b[off] != 0
	off += 1 + 7
	m.CreatedSlot = binary.LittleEndian.Uint64(b[off:])
	off += 8
	copy(m.Publisher[:], b[off:off+32])
	off += 32
	metaLen := binary.LittleEndian.Uint16(b[off:])
	off += 2
	if metaLen > manifestMetadataCap {
		return m, wrapErr(KindLayout, "manifest: metadata_len exceeds 256", errBadLength)
	}
	m.Bump = b[off]
	off += 1 + 5
	m.Metadata = append([]byte(nil), b[off:off+int(metaLen)]...)
	return m, nil
}

// --- CartridgeChunk -------------------------------------------------------

// CartridgeChunkHeaderLen is the fixed header length before the data array
// (spec §3.4): discriminator(8) + content_id(32) + chunk_index(4) +
// data_len(4) + written(1) + bump(1) + padding(6) = 56 bytes.
const CartridgeChunkHeaderLen = 8 + 32 + 4 + 4 + 1 + 1 + 6

// CartridgeChunkLen returns the total encoded length for a given declared
// chunk_size (header + fixed data array), resolving spec §9's chunk-layout
// open question in favor of the fixed-size-array variant (see DESIGN.md).
func CartridgeChunkLen(chunkSize uint32) int { return CartridgeChunkHeaderLen + int(chunkSize) }

// CartridgeChunk is one chunk account (spec §3.4).
type CartridgeChunk struct {
	ContentID  [32]byte
	ChunkIndex uint32
	DataLen    uint32
	Written    bool
	Bump       uint8
	Data       []byte // len == chunk_size; Data[:DataLen] is payload, rest zero
}

// EncodeCartridgeChunk writes c using len(c.Data) as the declared chunk_size.
func EncodeCartridgeChunk(c CartridgeChunk) []byte {
	b := make([]byte, CartridgeChunkHeaderLen+len(c.Data))
	off := 0
	off += copy(b[off:], discCartridgeChunk[:])
	off += copy(b[off:], c.ContentID[:])
	binary.LittleEndian.PutUint32(b[off:], c.ChunkIndex)
	off += 4
	binary.LittleEndian.PutUint32(b[off:], c.DataLen)
	off += 4
	if c.Written {
		b[off] = 1
	}
	off++
	b[off] = c.Bump
	off += 1 + 6 // bump + padding
	copy(b[off:], c.Data[:c.DataLen])
	return b
}

// DecodeCartridgeChunk validates and reads a CartridgeChunk. chunkSize is
// the manifest's declared chunk_size, needed because the on-disk data array
// is fixed-size and carries no self-describing length (spec §9 decision:
// fixed-array variant, see DESIGN.md).
func DecodeCartridgeChunk(b []byte, chunkSize uint32) (CartridgeChunk, error) {
	var c CartridgeChunk
	want := CartridgeChunkLen(chunkSize)
	if len(b) < want {
		return c, wrapErr(KindLayout, "chunk: short buffer", errShortBuffer)
	}
	if !hasDiscriminator(b, discCartridgeChunk) {
		return c, wrapErr(KindLayout, "chunk: discriminator mismatch", errBadDiscriminator)
	}
	off := 8
	copy(c.ContentID[:], b[off:off+32])
	off += 32
	c.ChunkIndex = binary.LittleEndian.Uint32(b[off:])
	off += 4
	c.DataLen = binary.LittleEndian.Uint32(b[off:])
	off += 4
	if c.DataLen > chunkSize {
		return c, wrapErr(KindLayout, "chunk: data_len exceeds chunk_size", errBadLength)
	}
	c.Written = b[off] != 0
	off++
	c.Bump = b[off]
	off += 1 + 6
	c.Data = append([]byte(nil), b[off:off+int(chunkSize)]...)
	return c, nil
}

// --- shared helpers --------------------------------------------------------

var (
	errShortBuffer      = errors.New("buffer shorter than minimum layout length")
	errBadDiscriminator = errors.New("discriminator does not match expected constant")
	errBadLength        = errors.New("declared length exceeds its bound")
)

func hasDiscriminator(b []byte, want [8]byte) bool {
	for i := 0; i < 8; i++ {
		if b[i] != want[i] {
			return false
		}
	}
	return true
}

// ChunkCount computes ceil(blobSize / chunkSize), the rule used by both
// create_manifest (spec §4.4) and the publish pipeline (spec §4.5 step 5).
func ChunkCount(blobSize uint64, chunkSize uint32) uint32 {
	if chunkSize == 0 {
		return 0
	}
	n := blobSize / uint64(chunkSize)
	if blobSize%uint64(chunkSize) != 0 {
		n++
	}
	return uint32(n)
}

// ExpectedChunkDataLen returns the data_len a chunk at idx must carry, per
// the invariants of spec §3.4.
func ExpectedChunkDataLen(idx, chunkCount uint32, blobSize uint64, chunkSize uint32) uint32 {
	if idx == chunkCount-1 {
		last := blobSize - uint64(chunkSize)*uint64(chunkCount-1)
		return uint32(last)
	}
	return chunkSize
}

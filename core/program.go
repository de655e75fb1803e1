package core

import (
	"bufio"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// ProgramConfig mirrors the teacher's LedgerConfig shape: an optional WAL
// path for durability, plus the program identifier every address is derived
// under (spec §6: "a single program ID is baked in").
type ProgramConfig struct {
	ProgramID [32]byte
	WALPath   string // empty disables persistence (in-memory only)
	Logger    *logrus.Logger
}

// walRecord is one append-only journal entry, replayed in order on startup —
// the same bufio.Scanner-over-JSON-lines replay pattern the teacher's
// NewLedger uses for its block WAL.
type walRecord struct {
	Address [32]byte
	Data    []byte
	Deleted bool
}

// Program is the in-process, mutex-guarded on-ledger authoritative store:
// it holds every account's raw encoded bytes keyed by derived address and
// enforces the six state transitions of spec §4.4. It stands in for the
// external ledger program spec §1 takes as given; both the publish/fetch
// pipelines and a real JSON-RPC client talk to it only through the
// Transport interface (core/transport.go), so the program itself is
// reusable as a local fake transport in tests.
type Program struct {
	mu        sync.Mutex
	accounts  map[[32]byte][]byte
	programID [32]byte
	wal       *os.File
	log       *logrus.Logger
	slot      uint64
}

// NewProgram opens (or creates) the program state, replaying its WAL if
// cfg.WALPath is set, exactly mirroring the teacher's NewLedger: open WAL,
// replay records, leave the file open for subsequent appends.
func NewProgram(cfg ProgramConfig) (*Program, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	p := &Program{
		accounts:  make(map[[32]byte][]byte),
		programID: cfg.ProgramID,
		log:       cfg.Logger,
	}
	if cfg.WALPath == "" {
		return p, nil
	}
	f, err := os.OpenFile(cfg.WALPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open program wal: %w", err)
	}
	p.wal = f
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxBlobSize+4096)
	for scanner.Scan() {
		var rec walRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("program wal unmarshal: %w", err)
		}
		if rec.Deleted {
			delete(p.accounts, rec.Address)
			continue
		}
		p.accounts[rec.Address] = rec.Data
	}
	if err := scanner.Err(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("program wal scan: %w", err)
	}
	p.log.Infof("program: replayed %d accounts from %s", len(p.accounts), cfg.WALPath)
	return p, nil
}

// Close releases the WAL file handle, if any.
func (p *Program) Close() error {
	if p.wal == nil {
		return nil
	}
	return p.wal.Close()
}

// ProgramID returns the program identifier every address is derived under.
func (p *Program) ProgramID() [32]byte { return p.programID }

// nextSlot advances and returns a monotonically increasing logical slot
// counter, standing in for the ledger slot recorded at manifest creation and
// finalization (spec §3.3/§3.2 created_slot fields). Only CreateManifest and
// FinalizeCartridge advance it; the counter is not persisted in the WAL.
func (p *Program) nextSlot() uint64 {
	p.slot++
	return p.slot
}

func (p *Program) persist(addr [32]byte, data []byte) error {
	p.accounts[addr] = data
	if p.wal == nil {
		return nil
	}
	rec := walRecord{Address: addr, Data: data}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = p.wal.Write(b)
	return err
}

func (p *Program) get(addr [32]byte) ([]byte, bool) {
	b, ok := p.accounts[addr]
	return b, ok
}

// --- initialize_catalog --------------------------------------------------

// InitializeCatalog creates the singleton CatalogRoot (spec §4.4). Signer
// becomes admin. Fails with Conflict if it already exists.
func (p *Program) InitializeCatalog(admin [32]byte) (address [32]byte, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	addr, bump := DeriveCatalogRoot(p.programID)
	if _, ok := p.get(addr); ok {
		return addr, ErrRootExists
	}
	root := CatalogRoot{Version: 1, Admin: admin, Bump: bump}
	if err := p.persist(addr, EncodeCatalogRoot(root)); err != nil {
		return addr, wrapErr(KindTransport, "persist catalog root", err)
	}
	p.log.Infof("program: catalog initialized, admin=%x", admin)
	return addr, nil
}

func (p *Program) readRoot() (addr [32]byte, root CatalogRoot, err error) {
	addr, _ = DeriveCatalogRoot(p.programID)
	raw, ok := p.get(addr)
	if !ok {
		return addr, root, ErrRootMissing
	}
	root, err = DecodeCatalogRoot(raw)
	return addr, root, err
}

// --- create_catalog_page --------------------------------------------------

// CreateCatalogPage allocates a new empty page (spec §4.4). signer must be
// the current admin; pageIndex must equal root.page_count.
func (p *Program) CreateCatalogPage(signer [32]byte, pageIndex uint32) (address [32]byte, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rootAddr, root, err := p.readRoot()
	if err != nil {
		return address, err
	}
	if signer != root.Admin {
		return address, ErrUnauthorized
	}
	if pageIndex != root.PageCount {
		return address, ErrPageIndexInvalid
	}
	pageAddr, bump := DeriveCatalogPage(pageIndex, p.programID)
	if _, ok := p.get(pageAddr); ok {
		return pageAddr, newErr(KindConflict, "catalog page already exists")
	}
	page := CatalogPage{PageIndex: pageIndex, EntryCount: 0, Bump: bump, Entries: make([]CatalogEntry, PageCap)}
	if err := p.persist(pageAddr, EncodeCatalogPage(page)); err != nil {
		return pageAddr, wrapErr(KindTransport, "persist catalog page", err)
	}
	root.PageCount++
	root.LatestPageIndex = pageIndex
	if err := p.persist(rootAddr, EncodeCatalogRoot(root)); err != nil {
		return pageAddr, wrapErr(KindTransport, "persist catalog root", err)
	}
	p.log.Infof("program: catalog page %d created", pageIndex)
	return pageAddr, nil
}

// UpdateAdmin rotates root.admin (spec §4.4). signer must be current admin.
func (p *Program) UpdateAdmin(signer [32]byte, newAdmin [32]byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rootAddr, root, err := p.readRoot()
	if err != nil {
		return err
	}
	if signer != root.Admin {
		return ErrUnauthorized
	}
	root.Admin = newAdmin
	if err := p.persist(rootAddr, EncodeCatalogRoot(root)); err != nil {
		return wrapErr(KindTransport, "persist catalog root", err)
	}
	p.log.Infof("program: admin rotated to %x", newAdmin)
	return nil
}

// --- create_manifest -------------------------------------------------------

// CreateManifest validates and allocates a CartridgeManifest (spec §4.4).
func (p *Program) CreateManifest(publisher [32]byte, contentID [32]byte, blobSize uint64, chunkSize uint32, declaredSha256 [32]byte, metadata []byte) (address [32]byte, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if blobSize == 0 || blobSize > MaxBlobSize {
		return address, ErrBlobTooLarge
	}
	if chunkSize == 0 {
		return address, newErr(KindInput, "chunk_size must be > 0")
	}
	if declaredSha256 != contentID {
		return address, ErrBadShaCommitment
	}
	if len(metadata) > manifestMetadataCap {
		return address, ErrBadMetadataLen
	}

	addr, bump := DeriveManifest(contentID, p.programID)
	if _, ok := p.get(addr); ok {
		return addr, ErrManifestExists
	}

	m := CartridgeManifest{
		ContentID:   contentID,
		BlobSize:    blobSize,
		ChunkSize:   chunkSize,
		ChunkCount:  ChunkCount(blobSize, chunkSize),
		SHA256:      contentID,
		Finalized:   false,
		CreatedSlot: p.nextSlot(),
		Publisher:   publisher,
		Metadata:    append([]byte(nil), metadata...),
		Bump:        bump,
	}
	if err := p.persist(addr, EncodeCartridgeManifest(m)); err != nil {
		return addr, wrapErr(KindTransport, "persist manifest", err)
	}
	p.log.Infof("program: manifest created content_id=%x chunk_count=%d", contentID, m.ChunkCount)
	return addr, nil
}

func (p *Program) readManifest(contentID [32]byte) (addr [32]byte, m CartridgeManifest, err error) {
	addr, _ = DeriveManifest(contentID, p.programID)
	raw, ok := p.get(addr)
	if !ok {
		return addr, m, ErrManifestMissing
	}
	m, err = DecodeCartridgeManifest(raw)
	return addr, m, err
}

// ReadManifest is the public read path used by the fetch pipeline (spec
// §4.6 step 1).
func (p *Program) ReadManifest(contentID [32]byte) (CartridgeManifest, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, m, err := p.readManifest(contentID)
	if err != nil {
		if e, ok := err.(*Error); ok && e.Kind == KindMissing {
			return CartridgeManifest{}, false, nil
		}
		return CartridgeManifest{}, false, err
	}
	return m, true, nil
}

// --- write_chunk -----------------------------------------------------------

// WriteChunk validates and writes a chunk (spec §4.4). Writing out of order
// is permitted; writing the same index twice fails with Conflict.
func (p *Program) WriteChunk(publisher [32]byte, contentID [32]byte, chunkIndex uint32, payload []byte) (address [32]byte, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, m, err := p.readManifest(contentID)
	if err != nil {
		return address, err
	}
	if publisher != m.Publisher {
		return address, ErrUnauthorized
	}
	if m.Finalized {
		return address, ErrManifestFinalized
	}
	if chunkIndex >= m.ChunkCount {
		return address, ErrChunkIndexRange
	}

	addr, bump := DeriveChunk(contentID, chunkIndex, p.programID)
	chunkSize := m.ChunkSize
	if raw, ok := p.get(addr); ok {
		c, derr := DecodeCartridgeChunk(raw, chunkSize)
		if derr == nil && c.Written {
			return addr, ErrChunkWritten
		}
	}

	want := ExpectedChunkDataLen(chunkIndex, m.ChunkCount, m.BlobSize, chunkSize)
	if uint32(len(payload)) != want {
		return addr, ErrBadChunkLength
	}

	data := make([]byte, chunkSize)
	copy(data, payload)
	c := CartridgeChunk{
		ContentID:  contentID,
		ChunkIndex: chunkIndex,
		DataLen:    want,
		Written:    true,
		Bump:       bump,
		Data:       data,
	}
	if err := p.persist(addr, EncodeCartridgeChunk(c)); err != nil {
		return addr, wrapErr(KindTransport, "persist chunk", err)
	}
	p.log.Debugf("program: chunk %d/%d written for %x", chunkIndex, m.ChunkCount, contentID)
	return addr, nil
}

// ReadChunk is the public read path used by the fetch pipeline (spec §4.6
// step 3+5). chunkSize must come from the manifest.
func (p *Program) ReadChunk(contentID [32]byte, chunkIndex uint32, chunkSize uint32) (CartridgeChunk, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	addr, _ := DeriveChunk(contentID, chunkIndex, p.programID)
	raw, ok := p.get(addr)
	if !ok {
		return CartridgeChunk{}, false, nil
	}
	c, err := DecodeCartridgeChunk(raw, chunkSize)
	if err != nil {
		return CartridgeChunk{}, false, err
	}
	return c, true, nil
}

// --- finalize_cartridge -----------------------------------------------------

// FinalizeCartridge validates all chunks are written and appends a catalog
// entry (spec §4.4). Fails with Conflict(PageFull) if the target page has
// no room (the administrator must create a new page first, spec §4.5 step 7).
func (p *Program) FinalizeCartridge(publisher [32]byte, contentID [32]byte, pageIndex uint32) (manifestAddr [32]byte, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	mAddr, m, err := p.readManifest(contentID)
	if err != nil {
		return mAddr, err
	}
	if publisher != m.Publisher {
		return mAddr, ErrUnauthorized
	}
	if m.Finalized {
		return mAddr, ErrManifestFinalized
	}

	for i := uint32(0); i < m.ChunkCount; i++ {
		addr, _ := DeriveChunk(contentID, i, p.programID)
		raw, ok := p.get(addr)
		if !ok {
			return mAddr, &Error{Kind: KindMissing, Message: "chunk missing at finalize", Indices: []uint32{i}}
		}
		c, derr := DecodeCartridgeChunk(raw, m.ChunkSize)
		if derr != nil {
			return mAddr, derr
		}
		if !c.Written {
			return mAddr, &Error{Kind: KindMissing, Message: "chunk not written at finalize", Indices: []uint32{i}}
		}
	}

	rootAddr, root, err := p.readRoot()
	if err != nil {
		return mAddr, err
	}
	if pageIndex != root.LatestPageIndex {
		return mAddr, ErrPageIndexMismatch
	}
	pageAddr, _ := DeriveCatalogPage(pageIndex, p.programID)
	rawPage, ok := p.get(pageAddr)
	if !ok {
		return mAddr, newErr(KindMissing, "catalog page does not exist")
	}
	page, err := DecodeCatalogPage(rawPage)
	if err != nil {
		return mAddr, err
	}
	if int(page.EntryCount) >= page.Capacity() {
		return mAddr, ErrPageFull
	}

	m.Finalized = true
	if err := p.persist(mAddr, EncodeCartridgeManifest(m)); err != nil {
		return mAddr, wrapErr(KindTransport, "persist finalized manifest", err)
	}

	slot := p.nextSlot()
	entry := CatalogEntry{
		ContentID:       contentID,
		ManifestAddress: mAddr,
		BlobSize:        m.BlobSize,
		SHA256:          m.SHA256,
		CreatedSlot:     slot,
		Flags:           0,
	}
	page.Entries[page.EntryCount] = entry
	page.EntryCount++
	if err := p.persist(pageAddr, EncodeCatalogPage(page)); err != nil {
		return mAddr, wrapErr(KindTransport, "persist catalog page", err)
	}

	root.TotalCartridges++
	if err := p.persist(rootAddr, EncodeCatalogRoot(root)); err != nil {
		return mAddr, wrapErr(KindTransport, "persist catalog root", err)
	}

	p.log.Infof("program: finalized %x into page %d entry %d", contentID, pageIndex, lastEntryIndex(page))
	return mAddr, nil
}

func lastEntryIndex(page CatalogPage) uint32 {
	if page.EntryCount == 0 {
		return 0
	}
	return page.EntryCount - 1
}

// ReadRoot is the public read path for CatalogRoot.
func (p *Program) ReadRoot() (CatalogRoot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, root, err := p.readRoot()
	return root, err
}

// ReadPage is the public read path for a CatalogPage by index.
func (p *Program) ReadPage(pageIndex uint32) (CatalogPage, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	addr, _ := DeriveCatalogPage(pageIndex, p.programID)
	raw, ok := p.get(addr)
	if !ok {
		return CatalogPage{}, false, nil
	}
	page, err := DecodeCatalogPage(raw)
	return page, true, err
}

// VerifyBlob recomputes SHA-256 over ordered chunk payloads and compares it
// to want. It is an exported helper only: FinalizeCartridge checks each
// chunk's written flag instead of hashing, and Fetch hashes the
// reconstructed blob with sha256.Sum256 directly.
func VerifyBlob(chunks [][]byte, want [32]byte) bool {
	h := sha256.New()
	for _, c := range chunks {
		h.Write(c)
	}
	var got [32]byte
	copy(got[:], h.Sum(nil))
	return got == want
}

package core

import (
	"crypto/sha256"
	"path/filepath"
	"testing"
)

func newTestProgram(t *testing.T) *Program {
	t.Helper()
	p, err := NewProgram(ProgramConfig{ProgramID: [32]byte{42}})
	if err != nil {
		t.Fatalf("NewProgram failed: %v", err)
	}
	return p
}

func TestInitializeCatalogThenConflict(t *testing.T) {
	p := newTestProgram(t)
	admin := [32]byte{1}
	if _, err := p.InitializeCatalog(admin); err != nil {
		t.Fatalf("first InitializeCatalog failed: %v", err)
	}
	if _, err := p.InitializeCatalog(admin); err != ErrRootExists {
		t.Fatalf("expected ErrRootExists, got %v", err)
	}
}

func TestCreateCatalogPageRequiresAdminAndSequentialIndex(t *testing.T) {
	p := newTestProgram(t)
	admin := [32]byte{1}
	other := [32]byte{2}
	if _, err := p.InitializeCatalog(admin); err != nil {
		t.Fatalf("InitializeCatalog failed: %v", err)
	}

	if _, err := p.CreateCatalogPage(other, 0); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := p.CreateCatalogPage(admin, 1); err != ErrPageIndexInvalid {
		t.Fatalf("expected ErrPageIndexInvalid for out-of-order page, got %v", err)
	}
	if _, err := p.CreateCatalogPage(admin, 0); err != nil {
		t.Fatalf("CreateCatalogPage(0) failed: %v", err)
	}
	root, err := p.ReadRoot()
	if err != nil {
		t.Fatalf("ReadRoot failed: %v", err)
	}
	if root.PageCount != 1 || root.LatestPageIndex != 0 {
		t.Fatalf("unexpected root after page creation: %+v", root)
	}
}

func TestUpdateAdminRotatesSigner(t *testing.T) {
	p := newTestProgram(t)
	admin := [32]byte{1}
	newAdmin := [32]byte{2}
	if _, err := p.InitializeCatalog(admin); err != nil {
		t.Fatalf("InitializeCatalog failed: %v", err)
	}
	if err := p.UpdateAdmin(admin, newAdmin); err != nil {
		t.Fatalf("UpdateAdmin failed: %v", err)
	}
	if err := p.UpdateAdmin(admin, newAdmin); err != ErrUnauthorized {
		t.Fatalf("expected old admin to be unauthorized after rotation, got %v", err)
	}
	if err := p.UpdateAdmin(newAdmin, admin); err != nil {
		t.Fatalf("new admin should be able to rotate back: %v", err)
	}
}

func publishAndFinalizeTiny(t *testing.T, p *Program) (publisher, contentID [32]byte) {
	t.Helper()
	admin := [32]byte{1}
	publisher = [32]byte{9}
	if _, err := p.InitializeCatalog(admin); err != nil {
		t.Fatalf("InitializeCatalog failed: %v", err)
	}
	if _, err := p.CreateCatalogPage(admin, 0); err != nil {
		t.Fatalf("CreateCatalogPage failed: %v", err)
	}
	blob := []byte("hello")
	contentID = sha256.Sum256(blob)
	const chunkSize = 4
	if _, err := p.CreateManifest(publisher, contentID, uint64(len(blob)), chunkSize, contentID, nil); err != nil {
		t.Fatalf("CreateManifest failed: %v", err)
	}
	if _, err := p.WriteChunk(publisher, contentID, 0, []byte("hell")); err != nil {
		t.Fatalf("WriteChunk(0) failed: %v", err)
	}
	if _, err := p.WriteChunk(publisher, contentID, 1, []byte("o")); err != nil {
		t.Fatalf("WriteChunk(1) failed: %v", err)
	}
	if _, err := p.FinalizeCartridge(publisher, contentID, 0); err != nil {
		t.Fatalf("FinalizeCartridge failed: %v", err)
	}
	return publisher, contentID
}

func TestCreateManifestRejectsBadShaCommitment(t *testing.T) {
	p := newTestProgram(t)
	publisher := [32]byte{9}
	contentID := [32]byte{1}
	wrongSha := [32]byte{2}
	if _, err := p.CreateManifest(publisher, contentID, 5, 4, wrongSha, nil); err != ErrBadShaCommitment {
		t.Fatalf("expected ErrBadShaCommitment, got %v", err)
	}
}

func TestCreateManifestRejectsOversizeBlob(t *testing.T) {
	p := newTestProgram(t)
	contentID := [32]byte{1}
	if _, err := p.CreateManifest([32]byte{9}, contentID, MaxBlobSize+1, 4, contentID, nil); err != ErrBlobTooLarge {
		t.Fatalf("expected ErrBlobTooLarge, got %v", err)
	}
}

func TestCreateManifestConflictOnDuplicate(t *testing.T) {
	p := newTestProgram(t)
	contentID := [32]byte{1}
	if _, err := p.CreateManifest([32]byte{9}, contentID, 4, 4, contentID, nil); err != nil {
		t.Fatalf("first CreateManifest failed: %v", err)
	}
	if _, err := p.CreateManifest([32]byte{9}, contentID, 4, 4, contentID, nil); err != ErrManifestExists {
		t.Fatalf("expected ErrManifestExists, got %v", err)
	}
}

func TestWriteChunkRejectsWrongLengthAndDoubleWrite(t *testing.T) {
	p := newTestProgram(t)
	publisher := [32]byte{9}
	contentID := [32]byte{1}
	if _, err := p.CreateManifest(publisher, contentID, 5, 4, contentID, nil); err != nil {
		t.Fatalf("CreateManifest failed: %v", err)
	}
	if _, err := p.WriteChunk(publisher, contentID, 0, []byte("xx")); err != ErrBadChunkLength {
		t.Fatalf("expected ErrBadChunkLength, got %v", err)
	}
	if _, err := p.WriteChunk(publisher, contentID, 0, []byte("hell")); err != nil {
		t.Fatalf("WriteChunk failed: %v", err)
	}
	if _, err := p.WriteChunk(publisher, contentID, 0, []byte("hell")); err != ErrChunkWritten {
		t.Fatalf("expected ErrChunkWritten on duplicate index, got %v", err)
	}
}

func TestWriteChunkRejectsOutOfRangeIndex(t *testing.T) {
	p := newTestProgram(t)
	publisher := [32]byte{9}
	contentID := [32]byte{1}
	if _, err := p.CreateManifest(publisher, contentID, 5, 4, contentID, nil); err != nil {
		t.Fatalf("CreateManifest failed: %v", err)
	}
	if _, err := p.WriteChunk(publisher, contentID, 2, []byte("o")); err != ErrChunkIndexRange {
		t.Fatalf("expected ErrChunkIndexRange, got %v", err)
	}
}

func TestFinalizeRejectsBeforeAllChunksWritten(t *testing.T) {
	p := newTestProgram(t)
	admin := [32]byte{1}
	publisher := [32]byte{9}
	contentID := [32]byte{3}
	if _, err := p.InitializeCatalog(admin); err != nil {
		t.Fatalf("InitializeCatalog failed: %v", err)
	}
	if _, err := p.CreateCatalogPage(admin, 0); err != nil {
		t.Fatalf("CreateCatalogPage failed: %v", err)
	}
	if _, err := p.CreateManifest(publisher, contentID, 5, 4, contentID, nil); err != nil {
		t.Fatalf("CreateManifest failed: %v", err)
	}
	if _, err := p.WriteChunk(publisher, contentID, 0, []byte("hell")); err != nil {
		t.Fatalf("WriteChunk failed: %v", err)
	}
	if _, err := p.FinalizeCartridge(publisher, contentID, 0); err == nil {
		t.Fatal("expected finalize to fail with a missing chunk")
	}
}

func TestFinalizeFullPublishCycleAppendsCatalogEntry(t *testing.T) {
	p := newTestProgram(t)
	_, contentID := publishAndFinalizeTiny(t, p)

	page, ok, err := p.ReadPage(0)
	if err != nil {
		t.Fatalf("ReadPage failed: %v", err)
	}
	if !ok {
		t.Fatal("expected page 0 to exist")
	}
	entries := page.ValidEntries()
	if len(entries) != 1 || entries[0].ContentID != contentID {
		t.Fatalf("unexpected catalog entries: %+v", entries)
	}

	root, err := p.ReadRoot()
	if err != nil {
		t.Fatalf("ReadRoot failed: %v", err)
	}
	if root.TotalCartridges != 1 {
		t.Fatalf("expected TotalCartridges=1, got %d", root.TotalCartridges)
	}
}

func TestFinalizeRejectsSecondTime(t *testing.T) {
	p := newTestProgram(t)
	publisher, contentID := publishAndFinalizeTiny(t, p)
	if _, err := p.FinalizeCartridge(publisher, contentID, 0); err != ErrManifestFinalized {
		t.Fatalf("expected ErrManifestFinalized, got %v", err)
	}
}

func TestWriteChunkRejectsAfterFinalize(t *testing.T) {
	p := newTestProgram(t)
	publisher, contentID := publishAndFinalizeTiny(t, p)
	if _, err := p.WriteChunk(publisher, contentID, 0, []byte("hell")); err != ErrManifestFinalized {
		t.Fatalf("expected ErrManifestFinalized, got %v", err)
	}
}

func TestFinalizeRejectsWhenPageFull(t *testing.T) {
	p := newTestProgram(t)
	admin := [32]byte{1}
	if _, err := p.InitializeCatalog(admin); err != nil {
		t.Fatalf("InitializeCatalog failed: %v", err)
	}
	if _, err := p.CreateCatalogPage(admin, 0); err != nil {
		t.Fatalf("CreateCatalogPage failed: %v", err)
	}
	for i := 0; i < PageCap; i++ {
		publisher := [32]byte{9}
		contentID := [32]byte{byte(i + 10)}
		if _, err := p.CreateManifest(publisher, contentID, 1, 1, contentID, nil); err != nil {
			t.Fatalf("CreateManifest[%d] failed: %v", i, err)
		}
		if _, err := p.WriteChunk(publisher, contentID, 0, []byte("x")); err != nil {
			t.Fatalf("WriteChunk[%d] failed: %v", i, err)
		}
		if _, err := p.FinalizeCartridge(publisher, contentID, 0); err != nil {
			t.Fatalf("FinalizeCartridge[%d] failed: %v", i, err)
		}
	}
	publisher := [32]byte{9}
	contentID := [32]byte{99}
	if _, err := p.CreateManifest(publisher, contentID, 1, 1, contentID, nil); err != nil {
		t.Fatalf("CreateManifest (overflow) failed: %v", err)
	}
	if _, err := p.WriteChunk(publisher, contentID, 0, []byte("x")); err != nil {
		t.Fatalf("WriteChunk (overflow) failed: %v", err)
	}
	if _, err := p.FinalizeCartridge(publisher, contentID, 0); err != ErrPageFull {
		t.Fatalf("expected ErrPageFull once the page's %d slots are used, got %v", PageCap, err)
	}
}

func TestProgramWALReplay(t *testing.T) {
	dir := t.TempDir()
	walPath := filepath.Join(dir, "catalog.wal")

	p1, err := NewProgram(ProgramConfig{ProgramID: [32]byte{1}, WALPath: walPath})
	if err != nil {
		t.Fatalf("NewProgram failed: %v", err)
	}
	publisher, contentID := publishAndFinalizeTiny(t, p1)
	if err := p1.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	p2, err := NewProgram(ProgramConfig{ProgramID: [32]byte{1}, WALPath: walPath})
	if err != nil {
		t.Fatalf("reopen NewProgram failed: %v", err)
	}
	defer p2.Close()

	m, found, err := p2.ReadManifest(contentID)
	if err != nil {
		t.Fatalf("ReadManifest after replay failed: %v", err)
	}
	if !found || !m.Finalized || m.Publisher != publisher {
		t.Fatalf("replayed manifest mismatch: found=%v %+v", found, m)
	}
}

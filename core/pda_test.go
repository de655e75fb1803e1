package core

import "testing"

func TestDeriveIsDeterministic(t *testing.T) {
	programID := [32]byte{7}
	id := [32]byte{1, 2, 3}
	addr1, bump1 := DeriveManifest(id, programID)
	addr2, bump2 := DeriveManifest(id, programID)
	if addr1 != addr2 || bump1 != bump2 {
		t.Fatalf("Derive is not deterministic: (%x,%d) != (%x,%d)", addr1, bump1, addr2, bump2)
	}
}

func TestDeriveAddressesAreOffCurve(t *testing.T) {
	programID := [32]byte{9}
	for i := uint32(0); i < 50; i++ {
		addr, _ := DeriveChunk([32]byte{byte(i)}, i, programID)
		if addr[0]&0x80 != 0 {
			t.Fatalf("address %x has high bit set at index %d", addr, i)
		}
	}
}

func TestDeriveDistinctSeedsYieldDistinctAddresses(t *testing.T) {
	programID := [32]byte{1}
	id := [32]byte{2}
	root, _ := DeriveCatalogRoot(programID)
	manifest, _ := DeriveManifest(id, programID)
	chunk, _ := DeriveChunk(id, 0, programID)
	page, _ := DeriveCatalogPage(0, programID)

	seen := map[[32]byte]string{}
	for addr, name := range map[[32]byte]string{root: "root", manifest: "manifest", chunk: "chunk", page: "page"} {
		if other, dup := seen[addr]; dup {
			t.Fatalf("%s and %s derived the same address %x", name, other, addr)
		}
		seen[addr] = name
	}
}

func TestDeriveChunkVariesByIndex(t *testing.T) {
	programID := [32]byte{3}
	id := [32]byte{4}
	a0, _ := DeriveChunk(id, 0, programID)
	a1, _ := DeriveChunk(id, 1, programID)
	if a0 == a1 {
		t.Fatal("expected distinct addresses for distinct chunk indices")
	}
}

func TestDeriveVariesByProgramID(t *testing.T) {
	id := [32]byte{1}
	a, _ := DeriveManifest(id, [32]byte{1})
	b, _ := DeriveManifest(id, [32]byte{2})
	if a == b {
		t.Fatal("expected distinct addresses for distinct program ids")
	}
}

package wallet

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStoreLoadMissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "seeds.json"), nil)

	seeds := store.LoadAll()
	if len(seeds) != 1 {
		t.Fatalf("expected 1 seed, got %d", len(seeds))
	}
	if seeds[0] != GenesisSeed {
		t.Errorf("expected genesis seed, got %s", seeds[0])
	}
}

func TestStoreLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seeds.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	store := NewStore(path, nil)

	seeds := store.LoadAll()
	if len(seeds) != 1 || seeds[0] != GenesisSeed {
		t.Errorf("corrupt file should yield genesis seed only, got %v", seeds)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seeds.json")
	store := NewStore(path, nil)

	w1, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	w2, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	saved := []string{GenesisSeed, w1.Seed(), w2.Seed()}
	if err := store.SaveAll(saved); err != nil {
		t.Fatalf("SaveAll failed: %v", err)
	}

	loaded := store.LoadAll()
	if len(loaded) != len(saved) {
		t.Fatalf("expected %d seeds, got %d", len(saved), len(loaded))
	}
	for i := range saved {
		if loaded[i] != saved[i] {
			t.Errorf("seed %d: expected %s, got %s", i, saved[i], loaded[i])
		}
	}
}

func TestStoreOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seeds.json")
	store := NewStore(path, nil)

	if err := store.SaveAll([]string{GenesisSeed}); err != nil {
		t.Fatal(err)
	}
	w, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SaveAll([]string{GenesisSeed, w.Seed()}); err != nil {
		t.Fatal(err)
	}

	loaded := store.LoadAll()
	if len(loaded) != 2 {
		t.Fatalf("expected 2 seeds after overwrite, got %d", len(loaded))
	}

	// No temp files should survive the rename.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the seed file in the directory, found %d entries", len(entries))
	}
}

func TestFromSeedDeterministic(t *testing.T) {
	a, err := FromSeed(GenesisSeed)
	if err != nil {
		t.Fatal(err)
	}
	b, err := FromSeed(GenesisSeed)
	if err != nil {
		t.Fatal(err)
	}
	if a.Account() != b.Account() {
		t.Errorf("same seed produced different accounts: %s vs %s", a.Account(), b.Account())
	}
}

func TestFromSeedInvalid(t *testing.T) {
	if _, err := FromSeed("zz-not-hex"); err == nil {
		t.Error("expected error for invalid seed")
	}
}

package worker

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestNewHashPoolDefaultConcurrency(t *testing.T) {
	p := NewHashPool(0)
	if p.concurrency != runtime.NumCPU() {
		t.Errorf("expected concurrency %d, got %d", runtime.NumCPU(), p.concurrency)
	}

	p2 := NewHashPool(-1)
	if p2.concurrency != runtime.NumCPU() {
		t.Errorf("expected concurrency %d for -1, got %d", runtime.NumCPU(), p2.concurrency)
	}
}

func TestNewHashPoolExplicitConcurrency(t *testing.T) {
	p := NewHashPool(4)
	if p.concurrency != 4 {
		t.Errorf("expected concurrency 4, got %d", p.concurrency)
	}
}

func TestHashEmpty(t *testing.T) {
	p := NewHashPool(2)
	results := p.Hash(t.TempDir(), nil)
	if results != nil {
		t.Errorf("expected nil results for empty input, got %v", results)
	}
}

func writeFiles(t *testing.T, root string, names ...string) {
	t.Helper()
	for i, name := range names {
		full := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(full), 0o700); err != nil {
			t.Fatal(err)
		}
		content := []byte(name + string(rune('a'+i)))
		if err := os.WriteFile(full, content, 0o600); err != nil {
			t.Fatal(err)
		}
	}
}

func TestHashPreservesOrderAndComputesDigests(t *testing.T) {
	root := t.TempDir()
	names := []string{"a.txt", "b.txt", "c.txt", "d.txt"}
	writeFiles(t, root, names...)

	p := NewHashPool(4)
	results := p.Hash(root, names)

	if len(results) != len(names) {
		t.Fatalf("expected %d results, got %d", len(names), len(results))
	}
	for i, r := range results {
		if r.Err != nil {
			t.Errorf("result[%d] unexpected error: %v", i, r.Err)
		}
		if r.Index != i {
			t.Errorf("result[%d].Index = %d, expected %d", i, r.Index, i)
		}
		if r.Entry.Path != names[i] {
			t.Errorf("result[%d].Entry.Path = %q, expected %q", i, r.Entry.Path, names[i])
		}
		if r.Entry.SHA256 == "" {
			t.Errorf("result[%d] missing digest", i)
		}
		if r.Entry.Oversized || r.Entry.Binary {
			t.Errorf("result[%d] unexpectedly flagged oversized=%v binary=%v", i, r.Entry.Oversized, r.Entry.Binary)
		}
	}
}

func TestHashCapturesErrorsPerPath(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "exists.txt")

	p := NewHashPool(2)
	results := p.Hash(root, []string{"exists.txt", "missing.txt"})

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Err != nil {
		t.Errorf("expected no error for existing file, got %v", results[0].Err)
	}
	if results[1].Err == nil {
		t.Error("expected stat error for missing file")
	}
}

func TestHashDetectsOversizedFiles(t *testing.T) {
	root := t.TempDir()
	full := filepath.Join(root, "big.bin")
	if err := os.WriteFile(full, make([]byte, OversizedFileBytes+1), 0o600); err != nil {
		t.Fatal(err)
	}

	p := NewHashPool(1)
	results := p.Hash(root, []string{"big.bin"})

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if !results[0].Entry.Oversized {
		t.Error("expected oversized entry")
	}
	if results[0].Entry.SHA256 != "" {
		t.Error("expected no digest for oversized file")
	}
}

func TestHashDetectsBinaryContent(t *testing.T) {
	root := t.TempDir()
	full := filepath.Join(root, "bin.dat")
	if err := os.WriteFile(full, []byte{0x01, 0x00, 0x02}, 0o600); err != nil {
		t.Fatal(err)
	}

	p := NewHashPool(1)
	results := p.Hash(root, []string{"bin.dat"})

	if len(results) != 1 || !results[0].Entry.Binary {
		t.Fatalf("expected binary entry, got %+v", results)
	}
}

func TestHashSingleFile(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "only.txt")

	p := NewHashPool(4)
	results := p.Hash(root, []string{"only.txt"})
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("expected 1 clean result, got %+v", results)
	}
}

func TestHashMoreWorkersThanFiles(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.txt", "b.txt")

	p := NewHashPool(100)
	results := p.Hash(root, []string{"a.txt", "b.txt"})
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
}

func TestIsBinaryDetectsNulByte(t *testing.T) {
	if IsBinary([]byte("hello")) {
		t.Error("plain text should not be flagged binary")
	}
	if !IsBinary([]byte{'a', 0, 'b'}) {
		t.Error("NUL byte should be flagged binary")
	}
}

package jsonl

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestWriter_AppendsOneLinePerRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	w := New(path)
	defer w.Close()

	type rec struct {
		Kind string `json:"kind"`
		N    int    `json:"n"`
	}
	for i := 0; i < 3; i++ {
		if err := w.Write(rec{Kind: "trade", N: i}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var lines int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var got rec
		if err := json.Unmarshal(sc.Bytes(), &got); err != nil {
			t.Fatalf("line %d not valid JSON: %v", lines, err)
		}
		if got.N != lines {
			t.Fatalf("line %d out of order: %+v", lines, got)
		}
		lines++
	}
	if lines != 3 {
		t.Fatalf("line count mismatch: got %d want 3", lines)
	}
}

func TestWriter_NilIsNoOp(t *testing.T) {
	var w *Writer
	if err := w.Write(map[string]string{"k": "v"}); err != nil {
		t.Fatalf("nil writer must accept writes: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("nil writer must accept close: %v", err)
	}
}

func TestNew_BlankPathReturnsNil(t *testing.T) {
	if New("  ") != nil {
		t.Fatalf("expected nil writer for blank path")
	}
}

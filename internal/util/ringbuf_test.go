package util

import (
	"path/filepath"
	"testing"
)

func TestRingBufferPushAndSnapshot(t *testing.T) {
	r := NewRingBuffer[int](3)

	if r.Len() != 0 {
		t.Fatalf("empty Len = %d", r.Len())
	}

	r.Push(1)
	r.Push(2)
	got := r.Snapshot()
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("Snapshot = %v", got)
	}
}

func TestRingBufferOverwritesOldest(t *testing.T) {
	r := NewRingBuffer[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}

	got := r.Snapshot()
	want := []int{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("Snapshot = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Snapshot = %v, want %v", got, want)
		}
	}
}

func TestRingBufferReplace(t *testing.T) {
	r := NewRingBuffer[int](3)
	r.Push(9)
	r.Push(9)

	r.Replace([]int{1, 2})
	got := r.Snapshot()
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("Snapshot after Replace = %v", got)
	}

	// Over capacity keeps the newest.
	r.Replace([]int{1, 2, 3, 4, 5})
	got = r.Snapshot()
	if len(got) != 3 || got[0] != 3 || got[2] != 5 {
		t.Fatalf("Snapshot after oversized Replace = %v", got)
	}
}

func TestJSONFileRoundTrip(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	path := filepath.Join(t.TempDir(), "nested", "dir", "out.json")
	if err := WriteJSONFile(path, payload{Name: "x", Count: 3}); err != nil {
		t.Fatalf("WriteJSONFile: %v", err)
	}

	var got payload
	ok, err := ReadJSONFile(path, &got)
	if err != nil || !ok {
		t.Fatalf("ReadJSONFile: ok=%v err=%v", ok, err)
	}
	if got.Name != "x" || got.Count != 3 {
		t.Errorf("got %+v", got)
	}
}

func TestReadJSONFileMissing(t *testing.T) {
	var got map[string]int
	ok, err := ReadJSONFile(filepath.Join(t.TempDir(), "absent.json"), &got)
	if err != nil {
		t.Fatalf("missing file should not error, got %v", err)
	}
	if ok {
		t.Error("ok should be false for a missing file")
	}
}

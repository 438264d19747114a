package util

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRingBufferOverwritesOldest(t *testing.T) {
	rb := NewRingBuffer[int](3)
	for i := 1; i <= 5; i++ {
		rb.Push(i)
	}
	got := rb.Snapshot()
	want := []int{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("snapshot[%d] = %d, want %d", i, got[i], want[i])
		}
	}
	if rb.Len() != 3 {
		t.Fatalf("Len = %d, want 3", rb.Len())
	}
}

func TestRingBufferTail(t *testing.T) {
	rb := NewRingBuffer[string](4)
	rb.Push("a")
	rb.Push("b")
	rb.Push("c")

	tail := rb.Tail(2)
	if len(tail) != 2 || tail[0] != "b" || tail[1] != "c" {
		t.Fatalf("Tail(2) = %v", tail)
	}
	if all := rb.Tail(10); len(all) != 3 {
		t.Fatalf("Tail(10) returned %d items", len(all))
	}
}

func TestResolvePath(t *testing.T) {
	abs := filepath.Join(string(filepath.Separator), "etc", "me.png")
	if got := ResolvePath("peer", abs); got != abs {
		t.Fatalf("absolute path rewritten: %s", got)
	}
	if got := ResolvePath("peer", "me.png"); got != filepath.Join("peer", "me.png") {
		t.Fatalf("relative path = %s", got)
	}
}

func TestValidateDisplayName(t *testing.T) {
	if _, err := ValidateDisplayName("   "); err == nil {
		t.Fatal("expected error for blank name")
	}
	if _, err := ValidateDisplayName("bad\x00name"); err == nil {
		t.Fatal("expected error for control character")
	}
	name, err := ValidateDisplayName("  Alice's phone ")
	if err != nil {
		t.Fatal(err)
	}
	if name != "Alice's phone" {
		t.Fatalf("name = %q", name)
	}
}

func TestSecondsOr(t *testing.T) {
	if got := SecondsOr(0, time.Minute); got != time.Minute {
		t.Fatalf("SecondsOr(0) = %s", got)
	}
	if got := SecondsOr(5, time.Minute); got != 5*time.Second {
		t.Fatalf("SecondsOr(5) = %s", got)
	}
}

func TestWriteJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.json")
	if err := WriteJSONFile(path, map[string]int{"a": 1}); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "{\n  \"a\": 1\n}" {
		t.Fatalf("unexpected content %q", b)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("temp file left behind")
	}
}

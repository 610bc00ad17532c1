package common

import (
	"bytes"
	"testing"
)

// RequireMatchesIterator drains it and compares each entry to the
// expected batch using testing.T helpers. Fails immediately on mismatch.
func RequireMatchesIterator(t *testing.T, iter EntryIterator, expected []*Entry) {
	t.Helper()

	for i := range expected {
		entry, err := iter.Next()
		if err != nil {
			t.Fatalf("unexpected iterator error: %v", err)
		}
		if entry == nil {
			t.Fatalf("iterator exhausted at index %d", i)
		}
		if !entriesEqual(entry, expected[i]) {
			t.Fatalf("entry mismatch at %d: got %s want %s", i, describe(entry), describe(expected[i]))
		}
	}

	entry, err := iter.Next()
	if err != nil {
		t.Fatalf("unexpected iterator error at end: %v", err)
	}
	if entry != nil {
		t.Fatalf("expected iterator to be exhausted, got %s", describe(entry))
	}
}

func entriesEqual(a, b *Entry) bool {
	if a.Type != b.Type || !bytes.Equal(a.Key, b.Key) {
		return false
	}
	return a.Type == EntryTypeDelete || bytes.Equal(a.Value, b.Value)
}

func describe(e *Entry) string {
	if e.IsTombstone() {
		return "DEL " + string(e.Key)
	}
	return "PUT " + string(e.Key) + "=" + string(e.Value)
}

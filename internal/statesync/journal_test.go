package statesync

import "testing"

func TestJournalEvictsOldest(t *testing.T) {
	j := NewJournal(3)
	for seq := uint64(1); seq <= 5; seq++ {
		j.Record(seq, []byte{byte(seq)})
	}
	size, oldest, newest := j.Window()
	if size != 3 || oldest != 3 || newest != 5 {
		t.Fatalf("unexpected window: size=%d oldest=%d newest=%d", size, oldest, newest)
	}
	if _, ok := j.Lookup(2); ok {
		t.Fatal("evicted sequence still retrievable")
	}
	raw, ok := j.Lookup(4)
	if !ok || raw[0] != 4 {
		t.Fatalf("expected sequence 4, got %v ok=%v", raw, ok)
	}
}

func TestJournalIgnoresNonMonotonicRecord(t *testing.T) {
	j := NewJournal(4)
	j.Record(5, []byte{5})
	j.Record(3, []byte{3})
	if _, ok := j.Lookup(3); ok {
		t.Fatal("out-of-order record should be ignored")
	}
	if size, _, _ := j.Window(); size != 1 {
		t.Fatalf("expected single frame, got %d", size)
	}
}

func TestJournalEmptyWindow(t *testing.T) {
	j := NewJournal(2)
	if size, oldest, newest := j.Window(); size != 0 || oldest != 0 || newest != 0 {
		t.Fatalf("unexpected empty window: %d %d %d", size, oldest, newest)
	}
	if _, ok := j.Lookup(1); ok {
		t.Fatal("lookup on empty journal should fail")
	}
}

package journal

import "testing"

func TestRevertToSnapshot(t *testing.T) {
	j := New()
	x := 0
	set := func(v int) {
		prev := x
		j.Append(func() { x = prev })
		x = v
	}

	set(1)
	outer := j.Snapshot()
	set(2)
	inner := j.Snapshot()
	set(3)

	j.RevertToSnapshot(inner)
	if x != 2 {
		t.Fatalf("after inner revert x = %d, want 2", x)
	}
	j.RevertToSnapshot(outer)
	if x != 1 {
		t.Fatalf("after outer revert x = %d, want 1", x)
	}
	if j.Len() != 1 {
		t.Errorf("Len() = %d, want 1", j.Len())
	}
}

func TestResetMakesChangesPermanent(t *testing.T) {
	j := New()
	x := 0
	j.Snapshot()
	j.Append(func() { x = 0 })
	x = 5
	j.Reset()

	id := j.Snapshot()
	j.RevertToSnapshot(id)
	if x != 5 {
		t.Errorf("x = %d after reset and empty revert, want 5", x)
	}
}

func TestRevertUnknownSnapshotPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	New().RevertToSnapshot(3)
}

func TestNilJournal(t *testing.T) {
	var j *Journal
	j.Append(func() { t.Error("nil journal ran an undo") })
	j.RevertToSnapshot(j.Snapshot())
	j.Reset()
}

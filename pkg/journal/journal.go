// Package journal records undo operations so a group of state changes can be
// rolled back as a unit, in the manner of go-ethereum's StateDB journal.
package journal

import "fmt"

// Journal is a stack of undo closures with numbered snapshots.
// A nil *Journal is valid and records nothing.
type Journal struct {
	entries   []func()
	snapshots []int
}

// New returns an empty journal.
func New() *Journal {
	return &Journal{}
}

// Append records undo. Undo must restore exactly the state that existed
// before the change it pairs with.
func (j *Journal) Append(undo func()) {
	if j == nil {
		return
	}
	j.entries = append(j.entries, undo)
}

// Snapshot returns an identifier for the current journal position.
func (j *Journal) Snapshot() int {
	if j == nil {
		return 0
	}
	j.snapshots = append(j.snapshots, len(j.entries))
	return len(j.snapshots) - 1
}

// RevertToSnapshot undoes every change recorded after snapshot id was taken,
// newest first, and drops id and all later snapshots.
func (j *Journal) RevertToSnapshot(id int) {
	if j == nil {
		return
	}
	if id < 0 || id >= len(j.snapshots) {
		panic(fmt.Sprintf("journal: snapshot %d cannot be reverted", id))
	}
	mark := j.snapshots[id]
	for i := len(j.entries) - 1; i >= mark; i-- {
		j.entries[i]()
		j.entries[i] = nil
	}
	j.entries = j.entries[:mark]
	j.snapshots = j.snapshots[:id]
}

// Reset forgets every entry, making the current state permanent.
func (j *Journal) Reset() {
	if j == nil {
		return
	}
	j.entries = j.entries[:0]
	j.snapshots = j.snapshots[:0]
}

// Len returns the number of recorded undo entries.
func (j *Journal) Len() int {
	if j == nil {
		return 0
	}
	return len(j.entries)
}

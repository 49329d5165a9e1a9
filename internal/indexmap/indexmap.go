// Package indexmap implements the Index Mapper: the
// single source of truth for the bijection between runtime step positions
// (after removals) and original step positions (as written on disk).
// Every StepFinding, AssertionCandidate, and StepSnapshot in the final
// report refers to an index through this package, never a raw slice
// position.
package indexmap

import "github.com/webtestkit/improve/internal/errs"

// Map maintains runtimeIndexToOriginal (dense on the current runtime-step
// array) and its inverse.
type Map struct {
	runtimeToOriginal []int
	originalToRuntime map[int]int
}

// Identity builds the initial 1:1 map for n original steps, before any
// removal.
func Identity(n int) *Map {
	m := &Map{
		runtimeToOriginal: make([]int, n),
		originalToRuntime: make(map[int]int, n),
	}
	for i := 0; i < n; i++ {
		m.runtimeToOriginal[i] = i
		m.originalToRuntime[i] = i
	}
	return m
}

// AfterRemoveStaleAssertions rebuilds the map after stripping the original
// step indexes in staleOriginalIndexes from the sequence.
// staleOriginalIndexes are indexes into the *original* step array.
func (m *Map) AfterRemoveStaleAssertions(staleOriginalIndexes []int) {
	stale := make(map[int]bool, len(staleOriginalIndexes))
	for _, idx := range staleOriginalIndexes {
		stale[idx] = true
	}
	var newRuntimeToOriginal []int
	for _, orig := range m.runtimeToOriginal {
		if stale[orig] {
			continue
		}
		newRuntimeToOriginal = append(newRuntimeToOriginal, orig)
	}
	m.rebuild(newRuntimeToOriginal)
}

// AfterRuntimeFailingRemoval drops removedRuntimeIndexes (indexes into the
// *current* runtime array, at the time of removal) from the map in a single
// pass over the pre-removal positions, so no removal shifts the positions
// of the others.
func (m *Map) AfterRuntimeFailingRemoval(removedRuntimeIndexes []int) {
	removed := make(map[int]bool, len(removedRuntimeIndexes))
	for _, idx := range removedRuntimeIndexes {
		removed[idx] = true
	}
	var newRuntimeToOriginal []int
	for i, orig := range m.runtimeToOriginal {
		if removed[i] {
			continue
		}
		newRuntimeToOriginal = append(newRuntimeToOriginal, orig)
	}
	m.rebuild(newRuntimeToOriginal)
}

func (m *Map) rebuild(runtimeToOriginal []int) {
	m.runtimeToOriginal = runtimeToOriginal
	m.originalToRuntime = make(map[int]int, len(runtimeToOriginal))
	for runtimeIdx, origIdx := range runtimeToOriginal {
		m.originalToRuntime[origIdx] = runtimeIdx
	}
}

// ToOriginal returns the original index for a current runtime index. It
// returns an *errs.InvariantError if runtimeIndex is out of range — a
// fatal internal error: the engine aborts rather than continue.
func (m *Map) ToOriginal(runtimeIndex int) (int, error) {
	if runtimeIndex < 0 || runtimeIndex >= len(m.runtimeToOriginal) {
		return 0, errs.NewInvariantError("index_mapping", "runtime index out of range")
	}
	return m.runtimeToOriginal[runtimeIndex], nil
}

// ToRuntime returns the current runtime index for an original index, and
// false if that original step was removed.
func (m *Map) ToRuntime(originalIndex int) (int, bool) {
	idx, ok := m.originalToRuntime[originalIndex]
	return idx, ok
}

// RemapSnapshotIndexes remaps a set of runtime snapshot keys captured
// *before* removedRuntimeIndexes were spliced out, by counting how many
// prior removals precede each surviving key. Keys in removedRuntimeIndexes are dropped entirely.
func RemapSnapshotIndexes(keys []int, removedRuntimeIndexes []int) map[int]int {
	removed := make(map[int]bool, len(removedRuntimeIndexes))
	for _, r := range removedRuntimeIndexes {
		removed[r] = true
	}
	sortedRemoved := append([]int(nil), removedRuntimeIndexes...)
	insertionSort(sortedRemoved)

	out := make(map[int]int, len(keys))
	for _, k := range keys {
		if removed[k] {
			continue
		}
		shift := 0
		for _, r := range sortedRemoved {
			if r < k {
				shift++
			}
		}
		out[k] = k - shift
	}
	return out
}

func insertionSort(a []int) {
	for i := 1; i < len(a); i++ {
		for j := i; j > 0 && a[j-1] > a[j]; j-- {
			a[j-1], a[j] = a[j], a[j-1]
		}
	}
}

// Len reports the current runtime step count.
func (m *Map) Len() int { return len(m.runtimeToOriginal) }

// RuntimeToOriginal returns a copy of the current runtime->original slice,
// useful for report assembly and tests.
func (m *Map) RuntimeToOriginal() []int {
	out := make([]int, len(m.runtimeToOriginal))
	copy(out, m.runtimeToOriginal)
	return out
}

/*
allocator.go - Record identifier allocation

PURPOSE:
  Computes the next PREFIX-MMYY-SSS identifier for a record type from a
  snapshot of its table. Allocation is a pure function of
  (snapshot, prefix, now): no I/O, no hidden state.

ALGORITHM:
  1. MMYY comes from now.
  2. A table with only a header (or nothing) starts the partition at 001.
  3. Otherwise look at the LAST row only, column 1.
  4. Same prefix and same MMYY: last serial + 1.
  5. Anything else (new month, foreign prefix, unparseable ID): 001.

LAST ROW, NOT MAX:
  Only the last row is examined. This relies on the table being append
  ordered with one logical writer; out-of-order rows are not detected.

CONCURRENCY:
  Two callers holding the same snapshot get the same answer. Without
  serialization around allocate+append (see submit.go, strict mode) they
  will both write it. Allocation itself does nothing to prevent this.

RE-ALLOCATION:
  After a conditional append rejects a candidate, AllocateAfter moves past
  both the rejected serial and the highest serial of the partition in the
  fresh snapshot. Only strict mode calls it.

OVERFLOW:
  Serial 999 is followed by 1000. The identifier widens to four digits and
  stops matching WellFormed; no wrap or error is produced.

EXAMPLE:
  last row "C-0325-041", now 2025-03-18  -> C-0325-042
  last row "C-0325-041", now 2025-04-01  -> C-0425-001
*/
package record

import "time"

// Allocate returns the identifier the next row in snap should carry.
func Allocate(snap Snapshot, prefix string, now time.Time) ID {
	candidate := NewID(prefix, now, 1)

	if snap.Len() < 2 {
		return candidate
	}

	last, _ := snap.Last()
	prev, err := ParseID(last.RecordID())
	if err != nil || !prev.SamePartition(candidate) {
		return candidate
	}
	return prev.Next()
}

// AllocateAfter picks a replacement for rejected, an identifier the store
// refused as already taken. It never returns a serial at or below rejected or
// below any serial of the same partition present in snap, so a malformed or
// out-of-order last row cannot hand back the same candidate again.
func AllocateAfter(snap Snapshot, rejected ID, now time.Time) ID {
	id := Allocate(snap, rejected.Prefix, now)
	if !id.SamePartition(rejected) {
		return id
	}
	high := rejected.Serial
	for _, r := range snap.Records() {
		if prev, err := ParseID(r.RecordID()); err == nil && prev.SamePartition(rejected) && prev.Serial > high {
			high = prev.Serial
		}
	}
	if id.Serial <= high {
		id.Serial = high + 1
	}
	return id
}

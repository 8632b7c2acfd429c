package mdf4

import "github.com/cespare/xxhash/v2"

// textDeduper avoids emitting the same TX block twice when a writer adds
// many channels that share a name, unit, or comment string.
//
// Grounded on pkg/mcf/dedup.go's tensorDeduper: a content hash narrows the
// candidate set, then an exact comparison against the candidates settles
// collisions. There strings are byte ranges on disk compared via
// ReadAt+bytes.Equal; here the strings are already held in memory, so the
// settling comparison is a plain string equality instead of a file-range
// read-back.
type textDeduper struct {
	seen map[uint64][]textEntry
}

type textEntry struct {
	value  string
	offset uint64
}

func newTextDeduper() *textDeduper {
	return &textDeduper{seen: make(map[uint64][]textEntry)}
}

// writeText returns the offset of a TX block carrying s, reusing a
// previously written block when one with identical content already
// exists. An empty string is treated as "absent" (offset 0, no block
// written), matching resolveText's zero-link convention.
func (d *textDeduper) writeText(sink ByteSink, s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}

	sum := xxhash.Sum64String(s)
	for _, candidate := range d.seen[sum] {
		if candidate.value == s {
			return candidate.offset, nil
		}
	}

	offset, err := writeTextBlock(sink, s)
	if err != nil {
		return 0, err
	}
	d.seen[sum] = append(d.seen[sum], textEntry{value: s, offset: offset})
	return offset, nil
}

package mdf4

import "io"

// RecordIterator yields the raw bytes of each record in a channel
// group's logical data stream, striding through its fragments in order.
// It is lazy, finite, restartable (via Reset), and holds no per-record
// allocation beyond one reused buffer, per spec.md §4.E/§9.
type RecordIterator struct {
	source     ByteSource
	fragments  []DataFragment
	recordSize uint32
	cycleCount uint64

	fragIdx    int
	fragOffset uint64 // byte offset within the current fragment
	produced   uint64
	buf        []byte
}

// NewRecordIterator builds an iterator over a channel group's fragments.
func NewRecordIterator(source ByteSource, fragments []DataFragment, recordSize uint32, cycleCount uint64) *RecordIterator {
	return &RecordIterator{
		source:     source,
		fragments:  fragments,
		recordSize: recordSize,
		cycleCount: cycleCount,
		buf:        make([]byte, recordSize),
	}
}

// Reset rewinds the iterator to the first record.
func (it *RecordIterator) Reset() {
	it.fragIdx = 0
	it.fragOffset = 0
	it.produced = 0
}

// Next returns the next record's bytes (valid until the following call
// to Next), or false once cycleCount records have been produced.
//
// A record that straddles a fragment boundary is assembled from two (or
// more) range reads, per spec.md §4.G.
func (it *RecordIterator) Next() ([]byte, bool, error) {
	if it.produced >= it.cycleCount {
		return nil, false, nil
	}

	filled := 0
	for filled < int(it.recordSize) {
		if it.fragIdx >= len(it.fragments) {
			return nil, false, &InvalidDataError{Context: "record stream exhausted before cycle count reached"}
		}
		frag := it.fragments[it.fragIdx]
		remaining := frag.Size - it.fragOffset
		if remaining == 0 {
			it.fragIdx++
			it.fragOffset = 0
			continue
		}

		need := int(it.recordSize) - filled
		take := need
		if uint64(take) > remaining {
			take = int(remaining)
		}

		n, err := it.source.ReadAt(frag.Offset+it.fragOffset, it.buf[filled:filled+take])
		if err != nil && err != io.EOF {
			return nil, false, wrapIO("read record", err)
		}
		if n == 0 {
			return nil, false, &InvalidDataError{Context: "short read assembling record"}
		}
		filled += n
		it.fragOffset += uint64(n)
	}

	it.produced++
	return it.buf, true, nil
}

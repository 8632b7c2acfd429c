package mdf4

import (
	"encoding/binary"
)

// blockHeaderSize is the size of the universal block envelope before its
// link array: a 4-byte tag, a 4-byte reserved field, an 8-byte total
// length, and an 8-byte link count.
const blockHeaderSize = 24

// blockAlign is the byte boundary every block's on-disk length and every
// block's start offset must land on.
const blockAlign = 8

// blockHeader is the universal on-disk envelope shared by every MDF4
// block type.
type blockHeader struct {
	Tag       [4]byte
	Reserved  uint32
	Length    uint64
	LinkCount uint64
}

// readBlockHeader decodes the 24-byte envelope at the start of data and
// returns it along with the link array that immediately follows it.
//
// It does not validate the tag; callers that expect a specific block
// type use expectTag to do so with a well-formed InvalidBlockError.
func readBlockHeader(data []byte, offset uint64) (blockHeader, []uint64, error) {
	if offset+blockHeaderSize > uint64(len(data)) {
		return blockHeader{}, nil, &InvalidDataError{Context: "block header truncated"}
	}
	raw := data[offset : offset+blockHeaderSize]

	var h blockHeader
	copy(h.Tag[:], raw[0:4])
	h.Reserved = binary.LittleEndian.Uint32(raw[4:8])
	h.Length = binary.LittleEndian.Uint64(raw[8:16])
	h.LinkCount = binary.LittleEndian.Uint64(raw[16:24])

	if h.Length%blockAlign != 0 {
		return blockHeader{}, nil, &InvalidDataError{Context: "block length not 8-byte aligned"}
	}
	if offset%blockAlign != 0 {
		return blockHeader{}, nil, &InvalidDataError{Context: "block offset not 8-byte aligned"}
	}

	linksStart := offset + blockHeaderSize
	linksEnd := linksStart + h.LinkCount*8
	if h.LinkCount > 0 && (linksEnd < linksStart || linksEnd > uint64(len(data))) {
		return blockHeader{}, nil, &InvalidDataError{Context: "block link array out of bounds"}
	}
	if offset+h.Length > uint64(len(data)) {
		return blockHeader{}, nil, &InvalidDataError{Context: "block length exceeds buffer"}
	}

	links := make([]uint64, h.LinkCount)
	for i := range links {
		links[i] = binary.LittleEndian.Uint64(data[linksStart+uint64(i)*8 : linksStart+uint64(i+1)*8])
	}
	return h, links, nil
}

// payloadOffset returns the absolute offset of the first payload byte
// following a block's header and link array.
func payloadOffset(offset uint64, linkCount uint64) uint64 {
	return offset + blockHeaderSize + linkCount*8
}

// expectTag verifies that a decoded header carries the expected tag,
// returning a well-formed InvalidBlockError otherwise.
func expectTag(h blockHeader, offset uint64, expected string) error {
	if string(h.Tag[:]) != expected {
		return &InvalidBlockError{Offset: offset, Expected: expected, Found: string(h.Tag[:])}
	}
	return nil
}

// planBlockSize computes the total on-disk length (header + links +
// payload, padded to the next 8-byte boundary) a block with the given
// link count and payload size will occupy.
func planBlockSize(linkCount int, payloadSize int) uint64 {
	raw := blockHeaderSize + uint64(linkCount)*8 + uint64(payloadSize)
	return alignUp(raw, blockAlign)
}

func alignUp(n uint64, align uint64) uint64 {
	if align <= 1 {
		return n
	}
	rem := n % align
	if rem == 0 {
		return n
	}
	return n + (align - rem)
}

// encodeBlockHeader writes the 24-byte envelope and the link array into
// dst, which must be at least blockHeaderSize+len(links)*8 bytes long.
func encodeBlockHeader(dst []byte, tag string, length uint64, links []uint64) {
	copy(dst[0:4], tag)
	binary.LittleEndian.PutUint32(dst[4:8], 0)
	binary.LittleEndian.PutUint64(dst[8:16], length)
	binary.LittleEndian.PutUint64(dst[16:24], uint64(len(links)))
	for i, l := range links {
		binary.LittleEndian.PutUint64(dst[24+i*8:24+i*8+8], l)
	}
}

// writeBlock emits a complete block (header, links, payload, and zero
// padding to the next 8-byte boundary) to sink at its current position
// and returns the absolute offset the block was written at.
func writeBlock(sink ByteSink, tag string, links []uint64, payload []byte) (uint64, error) {
	offset, err := sink.Tell()
	if err != nil {
		return 0, wrapIO("write block: tell", err)
	}
	total := planBlockSize(len(links), len(payload))
	header := make([]byte, blockHeaderSize+len(links)*8)
	encodeBlockHeader(header, tag, total, links)

	if err := sink.Write(header); err != nil {
		return 0, wrapIO("write block header", err)
	}
	if len(payload) > 0 {
		if err := sink.Write(payload); err != nil {
			return 0, wrapIO("write block payload", err)
		}
	}
	written := uint64(len(header) + len(payload))
	if pad := total - written; pad > 0 {
		if err := sink.Write(make([]byte, pad)); err != nil {
			return 0, wrapIO("write block padding", err)
		}
	}
	return offset, nil
}

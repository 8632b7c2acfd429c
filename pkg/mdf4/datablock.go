package mdf4

import "encoding/binary"

const (
	dataBlockTag     = "##DT"
	dataListBlockTag = "##DL"
)

// DataListFlagEqualLength marks a DL block whose fragments all share
// one length, stored once rather than per-fragment.
const DataListFlagEqualLength uint8 = 1 << 0

// DataFragment is one contiguous run of record bytes, either the sole
// payload of a DT block or one entry resolved from a DL list.
type DataFragment struct {
	Offset uint64 // absolute offset of the first data byte (after the DT header)
	Size   uint64 // length in bytes
}

// readDataBlock decodes a ##DT block's header and returns the absolute
// byte range of its raw record payload.
func readDataBlock(data []byte, offset uint64) (DataFragment, error) {
	h, _, err := readBlockHeader(data, offset)
	if err != nil {
		return DataFragment{}, err
	}
	if err := expectTag(h, offset, dataBlockTag); err != nil {
		return DataFragment{}, err
	}
	payload := payloadOffset(offset, h.LinkCount)
	size := h.Length - (payload - offset)
	return DataFragment{Offset: payload, Size: size}, nil
}

// resolveDataFragments follows a DG's data-block link, which may point
// at a single DT or at a DL chaining multiple fragments (DT or
// unsupported DZ blocks), per spec.md §3's "Data (DT)" section.
func resolveDataFragments(data []byte, link uint64) ([]DataFragment, error) {
	if link == 0 {
		return nil, nil
	}
	h, _, err := readBlockHeader(data, link)
	if err != nil {
		return nil, err
	}

	switch string(h.Tag[:]) {
	case dataBlockTag:
		frag, err := readDataBlock(data, link)
		if err != nil {
			return nil, err
		}
		return []DataFragment{frag}, nil
	case dataListBlockTag:
		return resolveDataList(data, link)
	case dzBlockTag:
		return nil, &UnsupportedFeatureError{What: "DZ compressed data"}
	default:
		return nil, &InvalidBlockError{Offset: link, Expected: dataBlockTag + "/" + dataListBlockTag, Found: string(h.Tag[:])}
	}
}

// resolveDataList walks a DL chain (next_dl_addr links) and resolves
// each referenced data block address into a fragment, in list order.
func resolveDataList(data []byte, offset uint64) ([]DataFragment, error) {
	var frags []DataFragment
	visited := make(map[uint64]bool)

	for offset != 0 {
		if visited[offset] {
			return nil, &InvalidDataError{Context: "cycle in data list chain"}
		}
		visited[offset] = true

		h, links, err := readBlockHeader(data, offset)
		if err != nil {
			return nil, err
		}
		if err := expectTag(h, offset, dataListBlockTag); err != nil {
			return nil, err
		}
		if len(links) < 1 {
			return nil, &InvalidDataError{Context: "DL block has no links"}
		}
		nextDL := links[0]
		blockAddrs := links[1:]

		payload := payloadOffset(offset, h.LinkCount)
		if payload+8 > uint64(len(data)) {
			return nil, &InvalidDataError{Context: "DL payload truncated"}
		}
		body := data[payload:]
		flags := body[0]
		blockCount := binary.LittleEndian.Uint32(body[4:8])
		if int(blockCount) != len(blockAddrs) {
			return nil, &InvalidDataError{Context: "DL block count does not match link count"}
		}

		cursor := 8
		var equalLength uint64
		var offsets []uint64
		if flags&DataListFlagEqualLength != 0 {
			if payload+uint64(cursor)+8 > uint64(len(data)) {
				return nil, &InvalidDataError{Context: "DL equal-length field truncated"}
			}
			equalLength = binary.LittleEndian.Uint64(body[cursor : cursor+8])
		} else {
			offsets = make([]uint64, blockCount)
			for i := range offsets {
				start := cursor + i*8
				if payload+uint64(start)+8 > uint64(len(data)) {
					return nil, &InvalidDataError{Context: "DL offsets truncated"}
				}
				offsets[i] = binary.LittleEndian.Uint64(body[start : start+8])
			}
		}

		for i, addr := range blockAddrs {
			bh, _, err := readBlockHeader(data, addr)
			if err != nil {
				return nil, err
			}
			switch string(bh.Tag[:]) {
			case dataBlockTag:
				frag, err := readDataBlock(data, addr)
				if err != nil {
					return nil, err
				}
				// Each block's own header length is authoritative even
				// when DataListFlagEqualLength is set: equalLength is the
				// length every fragment but the last is expected to have,
				// not a value to substitute for a block's real size.
				_ = equalLength
				_ = offsets // cumulative offsets describe logical position, not physical size
				frags = append(frags, frag)
			case dzBlockTag:
				return nil, &UnsupportedFeatureError{What: "DZ compressed data"}
			default:
				return nil, &InvalidBlockError{Offset: addr, Expected: dataBlockTag, Found: string(bh.Tag[:])}
			}
			_ = i
		}

		offset = nextDL
	}
	return frags, nil
}

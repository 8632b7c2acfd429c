package mdf4

import "encoding/binary"

const dzBlockTag = "##DZ"

// dzHeaderSize is the DZ block's total header size: the standard
// 24-byte envelope plus 24 DZ-specific bytes, before the compressed
// payload.
const dzHeaderSize = 48

// DzCompressionType enumerates a DZ block's zip_type field.
type DzCompressionType uint8

const (
	DzDeflate              DzCompressionType = 0
	DzTranspositionDeflate DzCompressionType = 1
)

// DzBlockInfo is the parsed DZ header, the input a Decompressor needs.
// The default walk path never reads a DZ header or payload (spec.md
// Non-goal): it reports UnsupportedFeatureError from the ##DZ tag alone,
// without sizes. Nothing in the package calls readDzBlockInfo.
type DzBlockInfo struct {
	Offset              uint64
	OriginalBlockType    [2]byte
	ZipType              DzCompressionType
	ZipParameter         uint32
	OriginalDataLength   uint64
	CompressedDataLength uint64
	CompressedDataOffset uint64
}

func readDzBlockInfo(data []byte, offset uint64) (DzBlockInfo, error) {
	h, _, err := readBlockHeader(data, offset)
	if err != nil {
		return DzBlockInfo{}, err
	}
	if err := expectTag(h, offset, dzBlockTag); err != nil {
		return DzBlockInfo{}, err
	}
	if offset+dzHeaderSize > uint64(len(data)) {
		return DzBlockInfo{}, &InvalidDataError{Context: "DZ header truncated"}
	}
	body := data[offset+blockHeaderSize : offset+dzHeaderSize]

	return DzBlockInfo{
		Offset:               offset,
		OriginalBlockType:    [2]byte{body[0], body[1]},
		ZipType:              DzCompressionType(body[2]),
		ZipParameter:         binary.LittleEndian.Uint32(body[4:8]),
		OriginalDataLength:   binary.LittleEndian.Uint64(body[8:16]),
		CompressedDataLength: binary.LittleEndian.Uint64(body[16:24]),
		CompressedDataOffset: offset + dzHeaderSize,
	}, nil
}

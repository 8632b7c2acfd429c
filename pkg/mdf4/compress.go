package mdf4

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// Decompressor is the collaborator interface for DZ payloads. It exists
// for forward compatibility with files that use compressed data lists;
// the walker never invokes it on the default Open/walk path (DZ remains
// a Non-goal per spec.md §1/§7 — opening such a file still surfaces
// UnsupportedFeatureError), but callers that need to reach into a DZ
// block directly can use it standalone.
type Decompressor interface {
	Decompress(info DzBlockInfo, compressed []byte) ([]byte, error)
}

// ZlibDecompressor implements Decompressor using klauspost/compress's
// zlib, a faster drop-in for compress/zlib already pulled into this
// module's dependency set.
type ZlibDecompressor struct{}

func (ZlibDecompressor) Decompress(info DzBlockInfo, compressed []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, &InvalidDataError{Context: fmt.Sprintf("DZ zlib reader: %v", err)}
	}
	defer func() { _ = r.Close() }()

	out := make([]byte, 0, info.OriginalDataLength)
	buf := bytes.NewBuffer(out)
	if _, err := io.Copy(buf, r); err != nil {
		return nil, &InvalidDataError{Context: fmt.Sprintf("DZ zlib decompress: %v", err)}
	}
	decoded := buf.Bytes()
	if uint64(len(decoded)) != info.OriginalDataLength {
		return nil, &InvalidDataError{Context: "DZ decompressed size mismatch"}
	}

	if info.ZipType == DzTranspositionDeflate {
		return inverseTranspose(decoded, int(info.ZipParameter))
	}
	return decoded, nil
}

// inverseTranspose reverses the MDF column-major transposition applied
// before deflate, restoring row-major (record-by-record) byte order.
// Ground: original_source/src/blocks/dz_block.rs's inverse_transpose.
func inverseTranspose(data []byte, columns int) ([]byte, error) {
	if columns <= 0 {
		return nil, &InvalidDataError{Context: "DZ transposition: zip_parameter (columns) must be > 0"}
	}
	total := len(data)
	rows := (total + columns - 1) / columns

	out := make([]byte, total)
	for col := 0; col < columns; col++ {
		for row := 0; row < rows; row++ {
			srcIdx := col*rows + row
			dstIdx := row*columns + col
			if srcIdx < total && dstIdx < total {
				out[dstIdx] = data[srcIdx]
			}
		}
	}
	return out, nil
}

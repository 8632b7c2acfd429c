package mdf4

// DataType enumerates a channel's raw on-disk representation, matching
// the ASAM MDF4 CN block's cn_data_type field.
type DataType uint8

const (
	DataTypeUnsignedLE DataType = 0
	DataTypeUnsignedBE DataType = 1
	DataTypeSignedLE   DataType = 2
	DataTypeSignedBE   DataType = 3
	DataTypeFloatLE    DataType = 4
	DataTypeFloatBE    DataType = 5
	DataTypeStringLatin1 DataType = 6
	DataTypeStringUTF8   DataType = 7
	DataTypeStringUTF16LE DataType = 8
	DataTypeStringUTF16BE DataType = 9
	DataTypeByteArray  DataType = 10
	DataTypeMIMESample DataType = 11
	DataTypeMIMEStream DataType = 12
	DataTypeCanonicalOpen    DataType = 13
	DataTypeComplexLE  DataType = 14
	DataTypeComplexBE  DataType = 15
)

// IsInteger reports whether dt decodes as an integer (signed or
// unsigned), constraining bit_count to 1..64.
func (dt DataType) IsInteger() bool {
	switch dt {
	case DataTypeUnsignedLE, DataTypeUnsignedBE, DataTypeSignedLE, DataTypeSignedBE:
		return true
	default:
		return false
	}
}

// IsFloat reports whether dt decodes as IEEE-754, constraining bit_count
// to exactly 32 or 64.
func (dt DataType) IsFloat() bool {
	return dt == DataTypeFloatLE || dt == DataTypeFloatBE
}

// IsSigned reports whether dt requires sign extension after bit
// extraction.
func (dt DataType) IsSigned() bool {
	return dt == DataTypeSignedLE || dt == DataTypeSignedBE
}

// IsBigEndian reports whether dt's multi-byte representation is
// big-endian on disk.
func (dt DataType) IsBigEndian() bool {
	switch dt {
	case DataTypeUnsignedBE, DataTypeSignedBE, DataTypeFloatBE, DataTypeStringUTF16BE, DataTypeComplexBE:
		return true
	default:
		return false
	}
}

// IsString reports whether dt is one of the string charset variants.
func (dt DataType) IsString() bool {
	switch dt {
	case DataTypeStringLatin1, DataTypeStringUTF8, DataTypeStringUTF16LE, DataTypeStringUTF16BE:
		return true
	default:
		return false
	}
}

// validBitCount reports whether bitCount is legal for dt, per spec: 1..64
// for integers, exactly 32 or 64 for floats. String/byte-array types are
// measured in whole bytes and are not checked here.
func (dt DataType) validBitCount(bitCount uint32) bool {
	switch {
	case dt.IsInteger():
		return bitCount >= 1 && bitCount <= 64
	case dt.IsFloat():
		return bitCount == 32 || bitCount == 64
	default:
		return true
	}
}

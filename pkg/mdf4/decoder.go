package mdf4

import (
	"math"
	"strings"
	"unicode/utf16"
)

// ExtractionPlan is the per-channel decode plan computed once per
// channel group, per spec.md §4.E: "the decoder computes, once, a
// per-channel extraction plan."
type ExtractionPlan struct {
	RecordIDSize uint32
	CGDataBytes  uint32

	ByteOffset uint32
	BitOffset  uint8
	BitCount   uint32
	DataType   DataType

	HasInvalidationBit bool
	AllValuesInvalid   bool
	PosInvalidationBit uint32

	Conversion *Conversion
}

// buildExtractionPlan derives a channel's plan from its CN block and
// owning CG/DG context.
func buildExtractionPlan(dg DataGroup, cg ChannelGroup, c Channel, conv *Conversion) ExtractionPlan {
	return ExtractionPlan{
		RecordIDSize:       uint32(dg.RecordIDSize),
		CGDataBytes:        cg.DataBytes,
		ByteOffset:         c.ByteOffset,
		BitOffset:          c.BitOffset,
		BitCount:           c.BitCount,
		DataType:           c.DataType,
		HasInvalidationBit: c.HasInvalidationBit(),
		AllValuesInvalid:   c.Flags&ChannelFlagAllValuesInvalid != 0,
		PosInvalidationBit: c.PosInvalidationBit,
		Conversion:         conv,
	}
}

// DecodedValue is the result of decoding one channel from one record:
// either a valid Value (possibly text-valued after conversion) or
// Invalid.
type DecodedValue struct {
	Valid bool
	Value Value
}

// Decode implements spec.md §4.E's five-step algorithm against one full
// physical record (record-id prefix + data bytes + invalidation bytes).
func (p ExtractionPlan) Decode(record []byte) (DecodedValue, error) {
	if !p.isValid(record) {
		return DecodedValue{Valid: false}, nil
	}

	raw, err := p.extractRaw(record)
	if err != nil {
		return DecodedValue{}, err
	}

	converted, err := p.Conversion.Apply(raw)
	if err != nil {
		return DecodedValue{}, err
	}
	return DecodedValue{Valid: true, Value: converted}, nil
}

// isValid implements step 1: invalidation-bit shortcuts per cn_flags,
// else a computed byte/bit lookup in the record's invalidation area.
// Ground: original_source/src/parsing/decoder.rs's check_value_validity.
func (p ExtractionPlan) isValid(record []byte) bool {
	if p.AllValuesInvalid {
		return false
	}
	if !p.HasInvalidationBit {
		return true
	}

	invalByteOffset := int(p.RecordIDSize) + int(p.CGDataBytes) + int(p.PosInvalidationBit>>3)
	invalBitIndex := uint(p.PosInvalidationBit & 0x07)
	if invalByteOffset >= len(record) {
		return true
	}
	bitSet := (record[invalByteOffset]>>invalBitIndex)&1 != 0
	return !bitSet
}

// extractRaw implements steps 2-4: bit extraction, sign extension, and
// charset/string decoding.
func (p ExtractionPlan) extractRaw(record []byte) (Value, error) {
	baseOffset := int(p.RecordIDSize) + int(p.ByteOffset)
	bitOffset := int(p.BitOffset)
	bitCount := int(p.BitCount)

	if p.DataType.IsString() || p.DataType == DataTypeByteArray || p.DataType == DataTypeMIMESample || p.DataType == DataTypeMIMEStream {
		numBytes := bitCount / 8
		if baseOffset+numBytes > len(record) {
			return Value{}, &InvalidDataError{Context: "record too short for channel"}
		}
		slice := record[baseOffset : baseOffset+numBytes]
		return p.decodeString(slice)
	}

	numBytes := max(1, ceilDiv(bitOffset+bitCount, 8))
	if baseOffset+numBytes > len(record) {
		return Value{}, &InvalidDataError{Context: "record too short for channel"}
	}
	slice := record[baseOffset : baseOffset+numBytes]

	raw := foldBytes(slice, p.DataType.IsBigEndian())

	switch {
	case p.DataType.IsFloat():
		if bitCount == 32 {
			return Value{Number: float64(math.Float32frombits(uint32(raw)))}, nil
		}
		if bitCount == 64 {
			return Value{Number: math.Float64frombits(raw)}, nil
		}
		return Value{}, &InvalidDataError{Context: "float channel with unsupported bit count"}

	case p.DataType.IsSigned():
		unsigned := maskShift(raw, bitOffset, bitCount)
		return Value{Number: float64(signExtend(unsigned, bitCount))}, nil

	default: // unsigned integer
		unsigned := maskShift(raw, bitOffset, bitCount)
		return Value{Number: float64(unsigned)}, nil
	}
}

func (p ExtractionPlan) decodeString(slice []byte) (Value, error) {
	switch p.DataType {
	case DataTypeStringLatin1:
		var sb strings.Builder
		for _, b := range slice {
			sb.WriteRune(rune(b))
		}
		return Value{Text: trimTrailingNUL(sb.String()), IsText: true}, nil

	case DataTypeStringUTF8:
		s := trimTrailingNUL(string(slice))
		return Value{Text: s, IsText: true}, nil

	case DataTypeStringUTF16LE, DataTypeStringUTF16BE:
		if len(slice)%2 != 0 {
			return Value{}, &InvalidDataError{Context: "UTF-16 channel with odd byte length"}
		}
		units := make([]uint16, len(slice)/2)
		for i := range units {
			b0, b1 := slice[2*i], slice[2*i+1]
			if p.DataType == DataTypeStringUTF16BE {
				units[i] = uint16(b0)<<8 | uint16(b1)
			} else {
				units[i] = uint16(b1)<<8 | uint16(b0)
			}
		}
		s := trimTrailingNUL(string(utf16.Decode(units)))
		return Value{Text: s, IsText: true}, nil

	default: // byte array / MIME sample / MIME stream: surfaced as raw bytes encoded as a string of raw bytes
		return Value{Text: string(slice), IsText: true}, nil
	}
}

func trimTrailingNUL(s string) string {
	return strings.TrimRight(s, "\x00")
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// foldBytes reconstructs a little/big-endian byte slice (of up to 8
// bytes) into a u64, matching original_source/parsing/decoder.rs's
// reversed-vs-plain fold.
func foldBytes(b []byte, bigEndian bool) uint64 {
	var raw uint64
	if bigEndian {
		for _, v := range b {
			raw = (raw << 8) | uint64(v)
		}
	} else {
		for i := len(b) - 1; i >= 0; i-- {
			raw = (raw << 8) | uint64(b[i])
		}
	}
	return raw
}

func maskShift(raw uint64, bitOffset, bitCount int) uint64 {
	shifted := raw >> uint(bitOffset)
	if bitCount >= 64 {
		return shifted
	}
	mask := (uint64(1) << uint(bitCount)) - 1
	return shifted & mask
}

func signExtend(unsigned uint64, bitCount int) int64 {
	if bitCount >= 64 {
		return int64(unsigned)
	}
	signBit := uint64(1) << uint(bitCount-1)
	if unsigned&signBit != 0 {
		mask := (uint64(1) << uint(bitCount)) - 1
		return int64(unsigned) | ^int64(mask)
	}
	return int64(unsigned)
}

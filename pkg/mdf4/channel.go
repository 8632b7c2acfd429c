package mdf4

import "encoding/binary"

const channelBlockTag = "##CN"

// channelLinkCount is the number of links carried by a CN block: next
// CN, composition, name (TX), source (SI), conversion (CC), data (for
// variable-length types), unit (TX), comment (MD).
const channelLinkCount = 8

// ChannelType enumerates a channel's cn_type field.
type ChannelType uint8

const (
	ChannelTypeFixedLength   ChannelType = 0
	ChannelTypeVLSD          ChannelType = 1
	ChannelTypeMaster        ChannelType = 2
	ChannelTypeVirtualMaster ChannelType = 3
	ChannelTypeSyncStream    ChannelType = 4
)

// SyncType enumerates a channel's cn_sync_type field.
type SyncType uint8

const (
	SyncNone     SyncType = 0
	SyncTime     SyncType = 1
	SyncAngle    SyncType = 2
	SyncDistance SyncType = 3
	SyncIndex    SyncType = 4
)

// Channel flag bits (cn_flags). Only the all-values-invalid and
// invalidation-bit-valid flags are consulted by the decoder; the rest
// are kept in Channel.Flags but otherwise inert to this library.
const (
	ChannelFlagAllValuesInvalid  uint32 = 1 << 0
	ChannelFlagInvalidBitValid   uint32 = 1 << 1
)

// Channel is a raw, decoded ##CN block: one signal within a record,
// located by byte/bit offset and bit count.
type Channel struct {
	Offset uint64

	NextChannel uint64
	Composition uint64
	Name        uint64
	Source      uint64
	Conversion  uint64
	Data        uint64
	Unit        uint64
	Comment     uint64

	Type      ChannelType
	Sync      SyncType
	DataType  DataType
	BitOffset uint8 // 0..7, within the starting byte

	ByteOffset          uint32 // within the record's data area
	BitCount            uint32
	Flags               uint32
	PosInvalidationBit  uint32

	Precision    uint8
	AttachmentNr uint16

	RangeMin      float64
	RangeMax      float64
	LimitMin      float64
	LimitMax      float64
	LimitExtMin   float64
	LimitExtMax   float64
}

// HasInvalidationBit reports whether this channel has a configured
// invalidation bit per its flags.
func (c Channel) HasInvalidationBit() bool {
	return c.Flags&ChannelFlagInvalidBitValid != 0
}

func readChannel(data []byte, offset uint64) (Channel, error) {
	h, links, err := readBlockHeader(data, offset)
	if err != nil {
		return Channel{}, err
	}
	if err := expectTag(h, offset, channelBlockTag); err != nil {
		return Channel{}, err
	}
	if len(links) < channelLinkCount {
		return Channel{}, &InvalidDataError{Context: "CN block has too few links"}
	}

	payload := payloadOffset(offset, h.LinkCount)
	if payload+72 > uint64(len(data)) {
		return Channel{}, &InvalidDataError{Context: "CN payload truncated"}
	}
	body := data[payload:]

	c := Channel{
		Offset:             offset,
		NextChannel:        links[0],
		Composition:        links[1],
		Name:               links[2],
		Source:             links[3],
		Conversion:         links[4],
		Data:               links[5],
		Unit:               links[6],
		Comment:            links[7],
		Type:               ChannelType(body[0]),
		Sync:               SyncType(body[1]),
		DataType:           DataType(body[2]),
		BitOffset:          body[3],
		ByteOffset:         binary.LittleEndian.Uint32(body[4:8]),
		BitCount:           binary.LittleEndian.Uint32(body[8:12]),
		Flags:              binary.LittleEndian.Uint32(body[12:16]),
		PosInvalidationBit: binary.LittleEndian.Uint32(body[16:20]),
		Precision:          body[20],
		AttachmentNr:       binary.LittleEndian.Uint16(body[22:24]),
		RangeMin:           decodeFloat64(body[24:32]),
		RangeMax:           decodeFloat64(body[32:40]),
		LimitMin:           decodeFloat64(body[40:48]),
		LimitMax:           decodeFloat64(body[48:56]),
		LimitExtMin:        decodeFloat64(body[56:64]),
		LimitExtMax:        decodeFloat64(body[64:72]),
	}

	if c.BitOffset > 7 {
		return Channel{}, &InvalidDataError{Context: "CN bit offset out of range"}
	}
	if !c.DataType.validBitCount(c.BitCount) {
		return Channel{}, &InvalidDataError{Context: "CN bit count invalid for its data type"}
	}

	return c, nil
}

func encodeChannelPayload(c Channel) []byte {
	buf := make([]byte, 72)
	buf[0] = byte(c.Type)
	buf[1] = byte(c.Sync)
	buf[2] = byte(c.DataType)
	buf[3] = c.BitOffset
	binary.LittleEndian.PutUint32(buf[4:8], c.ByteOffset)
	binary.LittleEndian.PutUint32(buf[8:12], c.BitCount)
	binary.LittleEndian.PutUint32(buf[12:16], c.Flags)
	binary.LittleEndian.PutUint32(buf[16:20], c.PosInvalidationBit)
	buf[20] = c.Precision
	binary.LittleEndian.PutUint16(buf[22:24], c.AttachmentNr)
	encodeFloat64(buf[24:32], c.RangeMin)
	encodeFloat64(buf[32:40], c.RangeMax)
	encodeFloat64(buf[40:48], c.LimitMin)
	encodeFloat64(buf[48:56], c.LimitMax)
	encodeFloat64(buf[56:64], c.LimitExtMin)
	encodeFloat64(buf[64:72], c.LimitExtMax)
	return buf
}

func channelLinks(c Channel) []uint64 {
	return []uint64{c.NextChannel, c.Composition, c.Name, c.Source, c.Conversion, c.Data, c.Unit, c.Comment}
}

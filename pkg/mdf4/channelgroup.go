package mdf4

import "encoding/binary"

const channelGroupBlockTag = "##CG"

// channelGroupLinkCount is the number of links carried by a CG block:
// next CG, first CN, acquisition name (TX), acquisition source (SI),
// first sample reduction, metadata (MD).
const channelGroupLinkCount = 6

// ChannelGroupFlagVLSD marks a channel group whose single channel
// carries variable-length records. Neither the reader nor the writer of
// this library consults it.
const ChannelGroupFlagVLSD uint16 = 1 << 0

// ChannelGroup is a raw, decoded ##CG block: a linked-list node within
// its DG, owning a chain of channels and a cycle count.
type ChannelGroup struct {
	Offset uint64

	NextChannelGrp   uint64
	FirstChannel     uint64
	AcqName          uint64
	AcqSource        uint64
	FirstSampleRed   uint64
	Comment          uint64

	RecordID            uint64
	CycleCount          uint64
	Flags               uint16
	PathSeparator       uint16
	DataBytes           uint32
	InvalidationBytes   uint32
}

// RecordSize is data_bytes + invalidation_bytes, the on-disk size of one
// record excluding any leading record-id prefix.
func (cg ChannelGroup) RecordSize() uint32 {
	return cg.DataBytes + cg.InvalidationBytes
}

func readChannelGroup(data []byte, offset uint64) (ChannelGroup, error) {
	h, links, err := readBlockHeader(data, offset)
	if err != nil {
		return ChannelGroup{}, err
	}
	if err := expectTag(h, offset, channelGroupBlockTag); err != nil {
		return ChannelGroup{}, err
	}
	if len(links) < channelGroupLinkCount {
		return ChannelGroup{}, &InvalidDataError{Context: "CG block has too few links"}
	}

	payload := payloadOffset(offset, h.LinkCount)
	if payload+32 > uint64(len(data)) {
		return ChannelGroup{}, &InvalidDataError{Context: "CG payload truncated"}
	}
	body := data[payload:]

	cg := ChannelGroup{
		Offset:            offset,
		NextChannelGrp:    links[0],
		FirstChannel:      links[1],
		AcqName:           links[2],
		AcqSource:         links[3],
		FirstSampleRed:    links[4],
		Comment:           links[5],
		RecordID:          binary.LittleEndian.Uint64(body[0:8]),
		CycleCount:        binary.LittleEndian.Uint64(body[8:16]),
		Flags:             binary.LittleEndian.Uint16(body[16:18]),
		PathSeparator:     binary.LittleEndian.Uint16(body[18:20]),
		DataBytes:         binary.LittleEndian.Uint32(body[24:28]),
		InvalidationBytes: binary.LittleEndian.Uint32(body[28:32]),
	}
	return cg, nil
}

func encodeChannelGroupPayload(cg ChannelGroup) []byte {
	buf := make([]byte, 32)
	binary.LittleEndian.PutUint64(buf[0:8], cg.RecordID)
	binary.LittleEndian.PutUint64(buf[8:16], cg.CycleCount)
	binary.LittleEndian.PutUint16(buf[16:18], cg.Flags)
	binary.LittleEndian.PutUint16(buf[18:20], cg.PathSeparator)
	binary.LittleEndian.PutUint32(buf[20:24], 0)
	binary.LittleEndian.PutUint32(buf[24:28], cg.DataBytes)
	binary.LittleEndian.PutUint32(buf[28:32], cg.InvalidationBytes)
	return buf
}

func channelGroupLinks(cg ChannelGroup) []uint64 {
	return []uint64{cg.NextChannelGrp, cg.FirstChannel, cg.AcqName, cg.AcqSource, cg.FirstSampleRed, cg.Comment}
}

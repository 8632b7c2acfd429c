package mdf4

import "encoding/binary"

const headerBlockTag = "##HD"

// headerLinkCount is the number of links carried by an HD block: first
// DG, first file-history, first channel hierarchy, first attachment,
// first event, file comment.
const headerLinkCount = 6

// HeaderBlock is the singleton root of the block graph, reached via the
// HD link implied immediately after the identification prefix.
type HeaderBlock struct {
	Offset uint64

	FirstDataGroup    uint64
	FirstFileHistory  uint64
	FirstChannelHier  uint64
	FirstAttachment   uint64
	FirstEvent        uint64
	Comment           uint64

	StartTimeNS   uint64 // nanoseconds since UNIX epoch
	UTCOffsetMin  int16
	DSTOffsetMin  int16
	TimeQuality   uint8
	Flags         uint8
}

func readHeaderBlock(data []byte, offset uint64) (HeaderBlock, error) {
	h, links, err := readBlockHeader(data, offset)
	if err != nil {
		return HeaderBlock{}, err
	}
	if err := expectTag(h, offset, headerBlockTag); err != nil {
		return HeaderBlock{}, err
	}
	if len(links) < headerLinkCount {
		return HeaderBlock{}, &InvalidDataError{Context: "HD block has too few links"}
	}

	payload := payloadOffset(offset, h.LinkCount)
	if payload+24 > uint64(len(data)) {
		return HeaderBlock{}, &InvalidDataError{Context: "HD payload truncated"}
	}
	body := data[payload:]

	return HeaderBlock{
		Offset:           offset,
		FirstDataGroup:   links[0],
		FirstFileHistory: links[1],
		FirstChannelHier: links[2],
		FirstAttachment:  links[3],
		FirstEvent:       links[4],
		Comment:          links[5],
		StartTimeNS:      binary.LittleEndian.Uint64(body[0:8]),
		UTCOffsetMin:     int16(binary.LittleEndian.Uint16(body[8:10])),
		DSTOffsetMin:     int16(binary.LittleEndian.Uint16(body[10:12])),
		TimeQuality:      body[12],
		Flags:            body[13],
	}, nil
}

// encodeHeaderBlockPayload serializes h's payload (not including the block
// envelope, which writeBlock adds).
func encodeHeaderBlockPayload(h HeaderBlock) []byte {
	buf := make([]byte, 16) // payload padded to 8-byte multiple
	binary.LittleEndian.PutUint64(buf[0:8], h.StartTimeNS)
	binary.LittleEndian.PutUint16(buf[8:10], uint16(h.UTCOffsetMin))
	binary.LittleEndian.PutUint16(buf[10:12], uint16(h.DSTOffsetMin))
	buf[12] = h.TimeQuality
	buf[13] = h.Flags
	return buf
}

func headerBlockLinks(h HeaderBlock) []uint64 {
	return []uint64{
		h.FirstDataGroup,
		h.FirstFileHistory,
		h.FirstChannelHier,
		h.FirstAttachment,
		h.FirstEvent,
		h.Comment,
	}
}

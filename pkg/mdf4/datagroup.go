package mdf4

const dataGroupBlockTag = "##DG"

// dataGroupLinkCount is the number of links carried by a DG block: next
// DG, first CG, data block (DT/DL/DZ), metadata.
const dataGroupLinkCount = 4

// DataGroup is a raw, decoded ##DG block: a linked-list node owning a
// record-id length and a chain of channel groups.
type DataGroup struct {
	Offset uint64

	NextDataGroup   uint64
	FirstChannelGrp uint64
	DataBlock       uint64
	Comment         uint64

	RecordIDSize uint8 // 0..8; 0 means no embedded record id
}

func readDataGroup(data []byte, offset uint64) (DataGroup, error) {
	h, links, err := readBlockHeader(data, offset)
	if err != nil {
		return DataGroup{}, err
	}
	if err := expectTag(h, offset, dataGroupBlockTag); err != nil {
		return DataGroup{}, err
	}
	if len(links) < dataGroupLinkCount {
		return DataGroup{}, &InvalidDataError{Context: "DG block has too few links"}
	}

	payload := payloadOffset(offset, h.LinkCount)
	if payload+1 > uint64(len(data)) {
		return DataGroup{}, &InvalidDataError{Context: "DG payload truncated"}
	}
	recordIDSize := data[payload]
	if recordIDSize > 8 {
		return DataGroup{}, &InvalidDataError{Context: "DG record id length out of range"}
	}

	return DataGroup{
		Offset:          offset,
		NextDataGroup:   links[0],
		FirstChannelGrp: links[1],
		DataBlock:       links[2],
		Comment:         links[3],
		RecordIDSize:    recordIDSize,
	}, nil
}

func encodeDataGroupPayload(dg DataGroup) []byte {
	buf := make([]byte, 8) // padded to 8-byte multiple
	buf[0] = dg.RecordIDSize
	return buf
}

func dataGroupLinks(dg DataGroup) []uint64 {
	return []uint64{dg.NextDataGroup, dg.FirstChannelGrp, dg.DataBlock, dg.Comment}
}

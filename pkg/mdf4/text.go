package mdf4

const (
	textBlockTag     = "##TX"
	metadataBlockTag = "##MD"
)

// resolveText follows a link expected to be either a TX (null-terminated
// UTF-8) or MD (null-terminated XML) block and returns its decoded
// string. A zero link yields "absent" (empty string, no error), per
// spec.md §4.B.
func resolveText(data []byte, link uint64) (string, error) {
	if link == 0 {
		return "", nil
	}
	h, _, err := readBlockHeader(data, link)
	if err != nil {
		return "", err
	}

	tag := string(h.Tag[:])
	if tag != textBlockTag && tag != metadataBlockTag {
		return "", &InvalidBlockError{Offset: link, Expected: textBlockTag + " or " + metadataBlockTag, Found: tag}
	}

	payload := payloadOffset(link, h.LinkCount)
	end := link + h.Length
	if end > uint64(len(data)) || payload > end {
		return "", &InvalidDataError{Context: "text block payload out of bounds"}
	}
	raw := data[payload:end]
	if n := indexZero(raw); n >= 0 {
		raw = raw[:n]
	}
	return string(raw), nil
}

func indexZero(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}

// writeTextBlock emits a TX block carrying s, null-terminated, padded to
// the next 8-byte boundary by writeBlock.
func writeTextBlock(sink ByteSink, s string) (uint64, error) {
	payload := append([]byte(s), 0)
	return writeBlock(sink, textBlockTag, nil, payload)
}

// writeMetadataBlock emits an MD block carrying xml, null-terminated.
func writeMetadataBlock(sink ByteSink, xml string) (uint64, error) {
	payload := append([]byte(xml), 0)
	return writeBlock(sink, metadataBlockTag, nil, payload)
}

const sourceInfoBlockTag = "##SI"

// sourceInfoLinkCount is the number of links carried by an SI block:
// name (TX), path (TX), comment (MD).
const sourceInfoLinkCount = 3

// SourceType enumerates SI's source_type field.
type SourceType uint8

const (
	SourceOther SourceType = 0
	SourceECU   SourceType = 1
	SourceBus   SourceType = 2
	SourceIO    SourceType = 3
	SourceTool  SourceType = 4
	SourceUser  SourceType = 5
)

// BusType enumerates SI's bus_type field.
type BusType uint8

const (
	BusNone      BusType = 0
	BusOther     BusType = 1
	BusCAN       BusType = 2
	BusLIN       BusType = 3
	BusMOST      BusType = 4
	BusFlexRay   BusType = 5
	BusKLine     BusType = 6
	BusEthernet  BusType = 7
	BusUSB       BusType = 8
)

// SourceInfo is a resolved ##SI block describing where a channel or
// channel group's data physically originates.
type SourceInfo struct {
	Offset  uint64
	Name    string
	Path    string
	Comment string
	Type    SourceType
	Bus     BusType
	Flags   uint8
}

// resolveSourceInfo follows a link expected to be an SI block. A zero
// link yields a nil SourceInfo and no error.
func resolveSourceInfo(data []byte, link uint64) (*SourceInfo, error) {
	if link == 0 {
		return nil, nil
	}
	h, links, err := readBlockHeader(data, link)
	if err != nil {
		return nil, err
	}
	if err := expectTag(h, link, sourceInfoBlockTag); err != nil {
		return nil, err
	}
	if len(links) < sourceInfoLinkCount {
		return nil, &InvalidDataError{Context: "SI block has too few links"}
	}

	payload := payloadOffset(link, h.LinkCount)
	if payload+2 > uint64(len(data)) {
		return nil, &InvalidDataError{Context: "SI payload truncated"}
	}
	body := data[payload:]

	name, err := resolveText(data, links[0])
	if err != nil {
		return nil, err
	}
	path, err := resolveText(data, links[1])
	if err != nil {
		return nil, err
	}
	comment, err := resolveText(data, links[2])
	if err != nil {
		return nil, err
	}

	return &SourceInfo{
		Offset:  link,
		Name:    name,
		Path:    path,
		Comment: comment,
		Type:    SourceType(body[0]),
		Bus:     BusType(body[1]),
	}, nil
}

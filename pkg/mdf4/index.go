package mdf4

import (
	"encoding/binary"
	"io"

	"github.com/go-mdf4/mdf4/internal/logger"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// FragmentInfo is a persisted (absolute_offset, length_bytes) pair
// describing one contiguous run of record bytes, per spec.md §4.G.
type FragmentInfo struct {
	Offset uint64 `json:"offset"`
	Size   uint64 `json:"size"`
}

// ChannelIndexEntry is everything needed to extract one channel's
// samples without reparsing CN/CC blocks: its bit position, and either
// an inlined simplified conversion or a file offset to fall back to a
// full CC lookup.
type ChannelIndexEntry struct {
	Name     string   `json:"name"`
	DataType DataType `json:"data_type"`

	ByteOffset uint32 `json:"byte_offset"`
	BitOffset  uint8  `json:"bit_offset"`
	BitCount   uint32 `json:"bit_count"`

	HasInvalidationBit bool   `json:"has_invalidation_bit"`
	PosInvalidationBit uint32 `json:"pos_invalidation_bit,omitempty"`
	AllValuesInvalid   bool   `json:"all_values_invalid,omitempty"`

	// Simplified holds an inlined Identity/Linear conversion, per
	// spec.md §4.G ("linear or none; other types force a full CC
	// lookup from the file").
	Simplified *SimplifiedConversion `json:"simplified,omitempty"`
	// ConversionOffset is the file offset of this channel's CC block,
	// set only when Simplified is nil.
	ConversionOffset uint64 `json:"conversion_offset,omitempty"`
}

// SimplifiedConversion is the inlined fast path for Identity/Linear
// channel conversions.
type SimplifiedConversion struct {
	Linear bool    `json:"linear"`
	A      float64 `json:"a,omitempty"`
	B      float64 `json:"b,omitempty"`
}

func (s *SimplifiedConversion) apply(x float64) float64 {
	if s == nil || !s.Linear {
		return x
	}
	return s.A + s.B*x
}

// ChannelGroupIndexEntry captures one channel group's fragment list and
// the per-channel extraction metadata within it.
type ChannelGroupIndexEntry struct {
	Fragments []FragmentInfo `json:"fragments"`

	RecordSize   uint32 `json:"record_size"` // record_id_size + data_bytes + invalidation_bytes
	DataBytes    uint32 `json:"data_bytes"`
	RecordIDSize uint8  `json:"record_id_size"`
	RecordID     uint64 `json:"record_id"`
	CycleCount   uint64 `json:"cycle_count"`

	Channels []ChannelIndexEntry `json:"channels"`
}

// FileIndex is the self-contained, serializable document produced by
// either construction mode of spec.md §4.G.
type FileIndex struct {
	BuildID string `json:"build_id"`

	Version     int    `json:"version"`
	ByteOrderLE bool   `json:"byte_order_le"`
	StartTimeNS uint64 `json:"start_time_ns"`

	Groups []ChannelGroupIndexEntry `json:"groups"`
}

// MarshalIndex serializes idx to its human-readable persisted form.
func MarshalIndex(idx *FileIndex) ([]byte, error) {
	out, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return nil, &InvalidDataError{Context: "index marshal: " + err.Error()}
	}
	return out, nil
}

// UnmarshalIndex restores a FileIndex from its persisted form.
func UnmarshalIndex(data []byte) (*FileIndex, error) {
	var idx FileIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, &InvalidDataError{Context: "index unmarshal: " + err.Error()}
	}
	return &idx, nil
}

// BuildIndexFromTree builds an index from an already-walked Tree,
// spec.md §4.G's "from parsed tree" mode. An optional Logger receives a
// Debug event per channel group indexed (tag, offset, fragment count);
// omitting it is equivalent to passing logger.NoOp().
func BuildIndexFromTree(tree *Tree, log ...logger.Logger) *FileIndex {
	l := resolveLogger(log)
	idx := &FileIndex{
		BuildID:     uuid.NewString(),
		Version:     tree.ID.VersionNumber,
		ByteOrderLE: tree.ID.ByteOrderLE,
		StartTimeNS: tree.Header.StartTimeNS,
	}

	for _, dgn := range tree.Groups {
		for _, cgn := range dgn.Groups {
			entry := ChannelGroupIndexEntry{
				Fragments:    append([]FragmentInfo(nil), toFragmentInfos(dgn.Fragments)...),
				RecordSize:   dgn.RecordSize(cgn),
				DataBytes:    cgn.Raw.DataBytes,
				RecordIDSize: dgn.Raw.RecordIDSize,
				RecordID:     cgn.Raw.RecordID,
				CycleCount:   cgn.Raw.CycleCount,
			}
			for _, ch := range cgn.Channels {
				entry.Channels = append(entry.Channels, buildChannelIndexEntry(ch))
			}
			l.Debug("block indexed", "tag", channelGroupBlockTag, "offset", cgn.Raw.Offset, "fragments", len(entry.Fragments), "channels", len(entry.Channels))
			idx.Groups = append(idx.Groups, entry)
		}
	}
	return idx
}

func toFragmentInfos(frags []DataFragment) []FragmentInfo {
	out := make([]FragmentInfo, len(frags))
	for i, f := range frags {
		out[i] = FragmentInfo{Offset: f.Offset, Size: f.Size}
	}
	return out
}

func buildChannelIndexEntry(ch ChannelNode) ChannelIndexEntry {
	entry := ChannelIndexEntry{
		Name:                ch.Name,
		DataType:            ch.Raw.DataType,
		ByteOffset:          ch.Raw.ByteOffset,
		BitOffset:           ch.Raw.BitOffset,
		BitCount:            ch.Raw.BitCount,
		HasInvalidationBit:  ch.Raw.HasInvalidationBit(),
		PosInvalidationBit:  ch.Raw.PosInvalidationBit,
		AllValuesInvalid:    ch.Raw.Flags&ChannelFlagAllValuesInvalid != 0,
	}

	switch {
	case ch.Conversion == nil:
		entry.Simplified = &SimplifiedConversion{Linear: false}
	case ch.Conversion.Type == ConversionIdentity:
		entry.Simplified = &SimplifiedConversion{Linear: false}
	case ch.Conversion.Type == ConversionLinear && len(ch.Conversion.Values) >= 2:
		entry.Simplified = &SimplifiedConversion{Linear: true, A: ch.Conversion.Values[0], B: ch.Conversion.Values[1]}
	default:
		entry.ConversionOffset = ch.Raw.Conversion
	}
	return entry
}

// BuildIndexStreaming builds an index with a single sequential pass over
// block headers, per spec.md §4.G's streaming mode: record bodies (DT
// payload bytes) are never read, and of a DL block only its envelope and
// fixed payload fields are read, so peak memory is bounded by one
// structural block's header and fixed-size payload, independent of file
// size.
func BuildIndexStreaming(source ByteSource, log ...logger.Logger) (*FileIndex, error) {
	l := resolveLogger(log)
	idBuf := make([]byte, idBlockSize)
	if _, err := source.ReadAt(0, idBuf); err != nil {
		return nil, wrapIO("streaming index: read identification", err)
	}
	id, err := readIdentification(idBuf)
	if err != nil {
		return nil, err
	}

	hdTag, _, hdLinkCount, hdLinks, err := readEnvelope(source, idBlockSize)
	if err != nil {
		return nil, err
	}
	if hdTag != headerBlockTag {
		return nil, &InvalidBlockError{Offset: idBlockSize, Expected: headerBlockTag, Found: hdTag}
	}
	if hdLinkCount < uint64(headerLinkCount) {
		return nil, &InvalidDataError{Context: "HD block has too few links"}
	}
	hdPayload, err := readPayloadAt(source, idBlockSize, hdLinkCount, 16)
	if err != nil {
		return nil, err
	}
	startTimeNS := binary.LittleEndian.Uint64(hdPayload[0:8])

	idx := &FileIndex{
		BuildID:     uuid.NewString(),
		Version:     id.VersionNumber,
		ByteOrderLE: id.ByteOrderLE,
		StartTimeNS: startTimeNS,
	}

	dgOffset := hdLinks[0]
	for dgOffset != 0 {
		tag, _, linkCount, links, err := readEnvelope(source, dgOffset)
		if err != nil {
			return nil, err
		}
		if tag != dataGroupBlockTag {
			return nil, &InvalidBlockError{Offset: dgOffset, Expected: dataGroupBlockTag, Found: tag}
		}
		l.Debug("block", "tag", dataGroupBlockTag, "offset", dgOffset)
		if linkCount < uint64(dataGroupLinkCount) {
			return nil, &InvalidDataError{Context: "DG block has too few links"}
		}
		dgPayload, err := readPayloadAt(source, dgOffset, linkCount, 8)
		if err != nil {
			return nil, err
		}
		recordIDSize := dgPayload[0]

		fragments, err := resolveFragmentsStreaming(source, links[2])
		if err != nil {
			return nil, err
		}

		cgOffset := links[1]
		for cgOffset != 0 {
			entry, nextCG, err := buildChannelGroupIndexStreaming(source, cgOffset, recordIDSize, fragments, l)
			if err != nil {
				return nil, err
			}
			idx.Groups = append(idx.Groups, entry)
			cgOffset = nextCG
		}

		dgOffset = links[0]
	}

	return idx, nil
}

func buildChannelGroupIndexStreaming(source ByteSource, offset uint64, recordIDSize uint8, fragments []FragmentInfo, l logger.Logger) (ChannelGroupIndexEntry, uint64, error) {
	tag, _, linkCount, links, err := readEnvelope(source, offset)
	if err != nil {
		return ChannelGroupIndexEntry{}, 0, err
	}
	if tag != channelGroupBlockTag {
		return ChannelGroupIndexEntry{}, 0, &InvalidBlockError{Offset: offset, Expected: channelGroupBlockTag, Found: tag}
	}
	l.Debug("block", "tag", channelGroupBlockTag, "offset", offset)
	if linkCount < uint64(channelGroupLinkCount) {
		return ChannelGroupIndexEntry{}, 0, &InvalidDataError{Context: "CG block has too few links"}
	}
	payload, err := readPayloadAt(source, offset, linkCount, 32)
	if err != nil {
		return ChannelGroupIndexEntry{}, 0, err
	}

	dataBytes := binary.LittleEndian.Uint32(payload[24:28])
	invalidationBytes := binary.LittleEndian.Uint32(payload[28:32])
	entry := ChannelGroupIndexEntry{
		Fragments:    fragments,
		RecordIDSize: recordIDSize,
		RecordID:     binary.LittleEndian.Uint64(payload[0:8]),
		CycleCount:   binary.LittleEndian.Uint64(payload[8:16]),
		DataBytes:    dataBytes,
		RecordSize:   uint32(recordIDSize) + dataBytes + invalidationBytes,
	}

	cnOffset := links[1]
	for cnOffset != 0 {
		chEntry, next, err := buildChannelIndexStreaming(source, cnOffset, l)
		if err != nil {
			return ChannelGroupIndexEntry{}, 0, err
		}
		entry.Channels = append(entry.Channels, chEntry)
		cnOffset = next
	}

	return entry, links[0], nil
}

func buildChannelIndexStreaming(source ByteSource, offset uint64, l logger.Logger) (ChannelIndexEntry, uint64, error) {
	tag, _, linkCount, links, err := readEnvelope(source, offset)
	if err != nil {
		return ChannelIndexEntry{}, 0, err
	}
	if tag != channelBlockTag {
		return ChannelIndexEntry{}, 0, &InvalidBlockError{Offset: offset, Expected: channelBlockTag, Found: tag}
	}
	l.Debug("block", "tag", channelBlockTag, "offset", offset)
	if linkCount < uint64(channelLinkCount) {
		return ChannelIndexEntry{}, 0, &InvalidDataError{Context: "CN block has too few links"}
	}
	payload, err := readPayloadAt(source, offset, linkCount, 72)
	if err != nil {
		return ChannelIndexEntry{}, 0, err
	}

	flags := binary.LittleEndian.Uint32(payload[12:16])
	entry := ChannelIndexEntry{
		DataType:            DataType(payload[2]),
		ByteOffset:          binary.LittleEndian.Uint32(payload[4:8]),
		BitOffset:           payload[3],
		BitCount:            binary.LittleEndian.Uint32(payload[8:12]),
		HasInvalidationBit:  flags&ChannelFlagInvalidBitValid != 0,
		PosInvalidationBit:  binary.LittleEndian.Uint32(payload[16:20]),
		AllValuesInvalid:    flags&ChannelFlagAllValuesInvalid != 0,
	}

	name, err := readTextStreaming(source, links[2])
	if err != nil {
		return ChannelIndexEntry{}, 0, err
	}
	entry.Name = name

	convOffset := links[4]
	if convOffset != 0 {
		simplified, err := buildSimplifiedConversionStreaming(source, convOffset)
		if err != nil {
			return ChannelIndexEntry{}, 0, err
		}
		if simplified != nil {
			entry.Simplified = simplified
		} else {
			entry.ConversionOffset = convOffset
		}
	} else {
		entry.Simplified = &SimplifiedConversion{Linear: false}
	}

	return entry, links[0], nil
}

// buildSimplifiedConversionStreaming returns a non-nil SimplifiedConversion
// only for Identity/Linear CC blocks; any other type returns (nil, nil) so
// the caller records a ConversionOffset instead, per spec.md §4.G.
func buildSimplifiedConversionStreaming(source ByteSource, offset uint64) (*SimplifiedConversion, error) {
	tag, _, linkCount, _, err := readEnvelope(source, offset)
	if err != nil {
		return nil, err
	}
	if tag != conversionBlockTag {
		return nil, &InvalidBlockError{Offset: offset, Expected: conversionBlockTag, Found: tag}
	}
	payload, err := readPayloadAt(source, offset, linkCount, 8)
	if err != nil {
		return nil, err
	}
	convType := ConversionType(payload[0])
	switch convType {
	case ConversionIdentity:
		return &SimplifiedConversion{Linear: false}, nil
	case ConversionLinear:
		valueCount := binary.LittleEndian.Uint16(payload[6:8])
		if valueCount < 2 {
			return nil, &InvalidDataError{Context: "linear conversion missing parameters"}
		}
		flags := binary.LittleEndian.Uint16(payload[2:4])
		cursor := 8
		if flags&0b10 != 0 {
			cursor += 16
		}
		extra, err := readPayloadAt(source, offset, linkCount, cursor+16)
		if err != nil {
			return nil, err
		}
		a := decodeFloat64(extra[cursor : cursor+8])
		b := decodeFloat64(extra[cursor+8 : cursor+16])
		return &SimplifiedConversion{Linear: true, A: a, B: b}, nil
	default:
		return nil, nil
	}
}

func readTextStreaming(source ByteSource, link uint64) (string, error) {
	if link == 0 {
		return "", nil
	}
	tag, length, linkCount, _, err := readEnvelope(source, link)
	if err != nil {
		return "", err
	}
	if tag != textBlockTag && tag != metadataBlockTag {
		return "", &InvalidBlockError{Offset: link, Expected: textBlockTag + " or " + metadataBlockTag, Found: tag}
	}
	payloadSize := int(length - blockHeaderSize - linkCount*8)
	if payloadSize < 0 {
		return "", &InvalidDataError{Context: "text block length underflow"}
	}
	payload, err := readPayloadAt(source, link, linkCount, payloadSize)
	if err != nil {
		return "", err
	}
	if n := indexZero(payload); n >= 0 {
		payload = payload[:n]
	}
	return string(payload), nil
}

// resolveFragmentsStreaming resolves a DG's data-block link to its
// fragment list by reading block envelopes plus each DL block's fixed
// payload fields (flags, block count, equal length) — DT payload bytes
// are never loaded.
func resolveFragmentsStreaming(source ByteSource, link uint64) ([]FragmentInfo, error) {
	if link == 0 {
		return nil, nil
	}
	tag, length, linkCount, _, err := readEnvelope(source, link)
	if err != nil {
		return nil, err
	}

	switch tag {
	case dataBlockTag:
		payloadStart := link + blockHeaderSize + linkCount*8
		return []FragmentInfo{{Offset: payloadStart, Size: length - (payloadStart - link)}}, nil

	case dataListBlockTag:
		var frags []FragmentInfo
		visited := make(map[uint64]bool)
		offset := link
		for offset != 0 {
			if visited[offset] {
				return nil, &InvalidDataError{Context: "cycle in data list chain"}
			}
			visited[offset] = true

			_, _, linkCount, links, err := readEnvelope(source, offset)
			if err != nil {
				return nil, err
			}
			if len(links) < 1 {
				return nil, &InvalidDataError{Context: "DL block has no links"}
			}
			nextDL := links[0]
			blockAddrs := links[1:]

			dlPayload, err := readPayloadAt(source, offset, linkCount, 8)
			if err != nil {
				return nil, err
			}
			flags := dlPayload[0]
			blockCount := binary.LittleEndian.Uint32(dlPayload[4:8])
			if int(blockCount) != len(blockAddrs) {
				return nil, &InvalidDataError{Context: "DL block count does not match link count"}
			}

			var equalLength uint64
			if flags&DataListFlagEqualLength != 0 {
				extra, err := readPayloadAt(source, offset, linkCount, 16)
				if err != nil {
					return nil, err
				}
				equalLength = binary.LittleEndian.Uint64(extra[8:16])
			}

			for _, addr := range blockAddrs {
				btag, blength, blinkCount, _, err := readEnvelope(source, addr)
				if err != nil {
					return nil, err
				}
				if btag != dataBlockTag {
					return nil, &InvalidBlockError{Offset: addr, Expected: dataBlockTag, Found: btag}
				}
				payloadStart := addr + blockHeaderSize + blinkCount*8
				// The block's own header length is authoritative even
				// under DataListFlagEqualLength: the final fragment may
				// legitimately be shorter than the declared equal length.
				size := blength - (payloadStart - addr)
				_ = equalLength
				frags = append(frags, FragmentInfo{Offset: payloadStart, Size: size})
			}

			offset = nextDL
		}
		return frags, nil

	case dzBlockTag:
		return nil, &UnsupportedFeatureError{What: "DZ compressed data"}
	default:
		return nil, &InvalidBlockError{Offset: link, Expected: dataBlockTag + "/" + dataListBlockTag, Found: tag}
	}
}

// readEnvelope reads a block's 24-byte header and its link array
// directly via ReadAt, without reading any payload bytes.
func readEnvelope(source ByteSource, offset uint64) (tag string, length uint64, linkCount uint64, links []uint64, err error) {
	hdr := make([]byte, blockHeaderSize)
	if _, rerr := source.ReadAt(offset, hdr); rerr != nil && rerr != io.EOF {
		return "", 0, 0, nil, wrapIO("read block envelope", rerr)
	}
	tag = string(hdr[0:4])
	length = binary.LittleEndian.Uint64(hdr[8:16])
	linkCount = binary.LittleEndian.Uint64(hdr[16:24])

	if linkCount > 0 {
		linkBuf := make([]byte, linkCount*8)
		if _, rerr := source.ReadAt(offset+blockHeaderSize, linkBuf); rerr != nil && rerr != io.EOF {
			return "", 0, 0, nil, wrapIO("read block links", rerr)
		}
		links = make([]uint64, linkCount)
		for i := range links {
			links[i] = binary.LittleEndian.Uint64(linkBuf[i*8 : i*8+8])
		}
	}
	return tag, length, linkCount, links, nil
}

// readPayloadAt reads exactly size bytes of a block's payload (the
// region immediately following its header and link array).
func readPayloadAt(source ByteSource, offset uint64, linkCount uint64, size int) ([]byte, error) {
	buf := make([]byte, size)
	start := offset + blockHeaderSize + linkCount*8
	if _, err := source.ReadAt(start, buf); err != nil && err != io.EOF {
		return nil, wrapIO("read block payload", err)
	}
	return buf, nil
}

// ExtractChannel implements spec.md §4.G's channel extraction algorithm:
// one range read per fragment, decoding whole records and keeping only
// the target channel's value.
func ExtractChannel(source ByteSource, idx *FileIndex, groupIdx, channelIdx int) ([]DecodedValue, error) {
	if groupIdx < 0 || groupIdx >= len(idx.Groups) {
		return nil, &InvalidDataError{Context: "group index out of range"}
	}
	group := idx.Groups[groupIdx]
	if channelIdx < 0 || channelIdx >= len(group.Channels) {
		return nil, &InvalidDataError{Context: "channel index out of range"}
	}
	ch := group.Channels[channelIdx]

	var conv *Conversion
	if ch.ConversionOffset != 0 {
		data, err := readWhole(source)
		if err != nil {
			return nil, err
		}
		conv, err = readConversion(data, ch.ConversionOffset, make(map[uint64]bool))
		if err != nil {
			return nil, err
		}
	} else if ch.Simplified != nil && ch.Simplified.Linear {
		conv = &Conversion{Type: ConversionLinear, Values: []float64{ch.Simplified.A, ch.Simplified.B}}
	}

	plan := ExtractionPlan{
		RecordIDSize:       uint32(group.RecordIDSize),
		CGDataBytes:        group.DataBytes,
		ByteOffset:         ch.ByteOffset,
		BitOffset:          ch.BitOffset,
		BitCount:           ch.BitCount,
		DataType:           ch.DataType,
		HasInvalidationBit: ch.HasInvalidationBit,
		AllValuesInvalid:   ch.AllValuesInvalid,
		PosInvalidationBit: ch.PosInvalidationBit,
		Conversion:         conv,
	}

	var stream []byte
	for _, f := range group.Fragments {
		buf := make([]byte, f.Size)
		n, err := source.ReadAt(f.Offset, buf)
		if err != nil && err != io.EOF {
			return nil, wrapIO("read fragment", err)
		}
		stream = append(stream, buf[:n]...)
	}
	fragments := []DataFragment{{Offset: 0, Size: uint64(len(stream))}}

	it := NewRecordIterator(&MemorySource{Data: stream}, fragments, group.RecordSize, group.CycleCount)
	out := make([]DecodedValue, 0, group.CycleCount)
	for {
		record, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		dv, err := plan.Decode(record)
		if err != nil {
			return nil, err
		}
		out = append(out, dv)
	}
	return out, nil
}

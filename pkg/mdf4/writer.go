package mdf4

import (
	"encoding/binary"
	"math"

	"github.com/go-mdf4/mdf4/internal/logger"
)

// writerState enumerates the writer's automaton, per spec.md §4.F:
// Empty -> Initialized -> AddingGroups -> WritingData(cg) -> (back to
// AddingGroups | Finalized).
type writerState int

const (
	stateEmpty writerState = iota
	stateInitialized
	stateAddingGroups
	stateWritingData
	stateFinalized
)

// DGHandle and CGHandle identify a data group / channel group added
// through the writer, stable for the writer's lifetime.
type DGHandle int
type CGHandle int

// ChannelConfig describes one channel to append via AddChannel.
type ChannelConfig struct {
	Name       string
	Unit       string
	Comment    string
	DataType   DataType
	BitCount   uint32
	Conversion *Conversion

	HasInvalidationBit bool
}

type writerChannel struct {
	cfg ChannelConfig

	byteOffset         uint32
	posInvalidationBit uint32
	offset             uint64 // file offset of the CN block, assigned at Finalize
	nextLinkPatch      uint64 // placeholder offset for this channel's "next CN" link
}

type writerChannelGroup struct {
	dg DGHandle

	recordID   uint64
	channels   []*writerChannel
	dataBytes  uint32
	invalBytes uint32

	cycleCount uint64
	dtOffset   uint64 // offset of the DT block for this CG, 0 until started
	dtLenPatch uint64 // offset of the DT length field, for finish_data_block
	dtBodyLen  uint64

	offset        uint64 // file offset of the CG block, assigned at Finalize
	nextLinkPatch uint64
	firstChLinkPatch uint64
}

type writerDataGroup struct {
	recordIDSize uint8
	groups       []CGHandle

	offset           uint64
	nextLinkPatch    uint64
	firstCGLinkPatch uint64
	dataLinkPatch    uint64
	dataOffset       uint64 // offset of this DG's DT block, 0 until one has finished
}

// Writer implements spec.md §4.F's state machine over a ByteSink.
//
// Grounded on pkg/mcf/writer.go's Writer/SectionWriter shape: a single
// active "open" write target, offset reservation followed by backpatch
// resolution, and a Finalise step that patches everything forward-
// referenced. Generalized here from one flat section directory to a
// graph of blocks linked by forward offsets: every forward link is
// written as a zero placeholder and patched with a direct seek once its
// target's offset becomes known, rather than deferred to a single pass.
type Writer struct {
	sink  ByteSink
	state writerState

	dataGroups []*writerDataGroup
	groups     []*writerChannelGroup

	openCG CGHandle // -1 when no data block is open

	hdOffset uint64

	dedup *textDeduper
	log   logger.Logger
}

// NewWriter allocates a writer targeting sink. Corresponds to spec.md
// §4.F's "new" transition. An optional Logger receives a Debug event for
// each ID, HD, DG, CG, CN, CC, and DT block written (tag and offset, plus
// length for ID and DT; TX blocks are not logged); omitting it is
// equivalent to passing logger.NoOp().
func NewWriter(sink ByteSink, log ...logger.Logger) *Writer {
	return &Writer{
		sink:   sink,
		state:  stateEmpty,
		openCG: -1,
		dedup:  newTextDeduper(),
		log:    resolveLogger(log),
	}
}

// InitMDFFile writes the ID and HD blocks, with all HD link fields as
// placeholders (spec.md §4.F "init_mdf_file").
func (w *Writer) InitMDFFile() error {
	if w.state != stateEmpty {
		return &InvalidStateError{Context: "InitMDFFile called out of order"}
	}
	if err := w.sink.Write(writeIdentification(Identification{})); err != nil {
		return wrapIO("write identification", err)
	}
	w.log.Debug("block written", "tag", "ID", "offset", uint64(0), "length", uint64(idBlockSize))

	offset, err := writeBlock(w.sink, headerBlockTag, make([]uint64, headerLinkCount), encodeHeaderBlockPayload(HeaderBlock{}))
	if err != nil {
		return err
	}
	w.log.Debug("block written", "tag", headerBlockTag, "offset", offset)
	w.hdOffset = offset
	w.state = stateInitialized
	return nil
}

// AddChannelGroup appends a new DG (if parent is -1) and a CG under it,
// per spec.md §4.F "add_channel_group".
func (w *Writer) AddChannelGroup(parent DGHandle, recordIDSize uint8) (DGHandle, CGHandle, error) {
	if w.state != stateInitialized && w.state != stateAddingGroups {
		return 0, 0, &InvalidStateError{Context: "AddChannelGroup called out of order"}
	}
	w.state = stateAddingGroups

	dgHandle := parent
	if dgHandle < 0 || int(dgHandle) >= len(w.dataGroups) {
		w.dataGroups = append(w.dataGroups, &writerDataGroup{recordIDSize: recordIDSize})
		dgHandle = DGHandle(len(w.dataGroups) - 1)
	}
	dg := w.dataGroups[dgHandle]

	cg := &writerChannelGroup{dg: dgHandle, recordID: uint64(len(dg.groups))}
	w.groups = append(w.groups, cg)
	cgHandle := CGHandle(len(w.groups) - 1)
	dg.groups = append(dg.groups, cgHandle)

	return dgHandle, cgHandle, nil
}

// AddChannel appends a channel at the tail of cg's channel list,
// packing it byte-aligned after the previous channel (spec.md §4.F
// "add_channel" default layout).
func (w *Writer) AddChannel(cg CGHandle, cfg ChannelConfig) error {
	if w.state != stateAddingGroups {
		return &InvalidStateError{Context: "AddChannel called out of order"}
	}
	if !cfg.DataType.validBitCount(cfg.BitCount) {
		return &ConversionError{Context: "channel bit count invalid for its data type"}
	}

	group := w.groups[cg]
	wc := &writerChannel{cfg: cfg, byteOffset: group.dataBytes}
	group.dataBytes += uint32(ceilDiv(int(cfg.BitCount), 8))

	if cfg.HasInvalidationBit {
		wc.posInvalidationBit = group.invalBytes * 8
		group.invalBytes = uint32(ceilDiv(int(wc.posInvalidationBit)+1, 8))
	}

	group.channels = append(group.channels, wc)
	return nil
}

// StartDataBlockForCG emits a DT header with a placeholder length, per
// spec.md §4.F "start_data_block_for_cg".
func (w *Writer) StartDataBlockForCG(cg CGHandle) error {
	if w.state != stateAddingGroups {
		return &InvalidStateError{Context: "StartDataBlockForCG called out of order"}
	}
	group := w.groups[cg]

	offset, err := w.sink.Tell()
	if err != nil {
		return wrapIO("start data block: tell", err)
	}
	header := make([]byte, blockHeaderSize)
	encodeBlockHeader(header, dataBlockTag, blockHeaderSize, nil)
	if err := w.sink.Write(header); err != nil {
		return wrapIO("write DT header", err)
	}

	group.dtOffset = offset
	group.dtLenPatch = offset + 8 // the Length field within the block header
	group.dtBodyLen = 0

	w.log.Debug("block opened", "tag", dataBlockTag, "offset", offset)
	w.openCG = cg
	w.state = stateWritingData
	return nil
}

// WriteRecord encodes one record for cg and appends it to the open data
// block. values must be given in the order channels were added; a
// Value with IsText==false and a NaN Number with no valid flag is not
// how invalidity is expressed — callers pass invalid explicitly via
// invalid[i].
func (w *Writer) WriteRecord(cg CGHandle, values []Value, invalid []bool) error {
	if w.state != stateWritingData || w.openCG != cg {
		return &InvalidStateError{Context: "WriteRecord called with no open data block for this group"}
	}
	group := w.groups[cg]
	if len(values) != len(group.channels) {
		return &ConversionError{Context: "value count does not match channel count"}
	}

	recordSize := uint32(w.dataGroups[group.dg].recordIDSize) + group.dataBytes + group.invalBytes
	record := make([]byte, recordSize)

	recordIDSize := w.dataGroups[group.dg].recordIDSize
	if recordIDSize > 0 {
		encodeUint(record[:recordIDSize], group.recordID)
	}

	dataArea := record[recordIDSize : uint32(recordIDSize)+group.dataBytes]
	invalArea := record[uint32(recordIDSize)+group.dataBytes:]

	for i, wc := range group.channels {
		if invalid != nil && i < len(invalid) && invalid[i] {
			if wc.cfg.HasInvalidationBit {
				setBit(invalArea, int(wc.posInvalidationBit))
			}
			continue
		}
		if err := encodeChannelValue(dataArea, wc, values[i]); err != nil {
			return err
		}
	}

	if err := w.sink.Write(record); err != nil {
		return wrapIO("write record", err)
	}
	group.dtBodyLen += uint64(len(record))
	group.cycleCount++
	return nil
}

// FinishDataBlock patches the open DT block's length field, per
// spec.md §4.F "finish_data_block".
func (w *Writer) FinishDataBlock(cg CGHandle) error {
	if w.state != stateWritingData || w.openCG != cg {
		return &InvalidStateError{Context: "FinishDataBlock called with no open data block for this group"}
	}
	group := w.groups[cg]

	total := planBlockSize(0, int(group.dtBodyLen))
	if err := w.patchNow(group.dtLenPatch, total); err != nil {
		return err
	}
	if pad := total - blockHeaderSize - group.dtBodyLen; pad > 0 {
		if err := w.sink.Write(make([]byte, pad)); err != nil {
			return wrapIO("pad data block", err)
		}
	}

	w.log.Debug("block written", "tag", dataBlockTag, "offset", group.dtOffset, "length", total)
	w.dataGroups[group.dg].dataOffset = group.dtOffset
	w.openCG = -1
	w.state = stateAddingGroups
	return nil
}

// Finalize emits every channel, channel group, and data group block,
// resolves all forward links, and flushes. Corresponds to spec.md §4.F
// "finalize".
func (w *Writer) Finalize() error {
	if w.state != stateAddingGroups && w.state != stateInitialized {
		return &InvalidStateError{Context: "Finalize called out of order"}
	}

	var firstDG uint64
	var prevDGOffset uint64

	for dgIdx, dg := range w.dataGroups {
		dgOffset, err := w.writeDataGroupPlaceholder(dg)
		if err != nil {
			return err
		}
		dg.offset = dgOffset

		if dgIdx == 0 {
			firstDG = dgOffset
		}
		if prevDGOffset != 0 {
			if err := w.patchNow(w.dataGroups[dgIdx-1].nextLinkPatch, dgOffset); err != nil {
				return err
			}
		}
		prevDGOffset = dgOffset

		var prevCGOffset uint64
		for cgIdx, cgHandle := range dg.groups {
			cgOffset, err := w.writeChannelGroup(w.groups[cgHandle])
			if err != nil {
				return err
			}
			w.groups[cgHandle].offset = cgOffset
			if cgIdx == 0 {
				if err := w.patchNow(dg.firstCGLinkPatch, cgOffset); err != nil {
					return err
				}
			}
			if prevCGOffset != 0 {
				if err := w.patchNow(w.groups[dg.groups[cgIdx-1]].nextLinkPatch, cgOffset); err != nil {
					return err
				}
			}
			prevCGOffset = cgOffset
		}

		if dg.dataOffset != 0 {
			if err := w.patchNow(dg.dataLinkPatch, dg.dataOffset); err != nil {
				return err
			}
		}
	}

	if err := w.patchNow(hdFirstDGPatchOffset(w.hdOffset), firstDG); err != nil {
		return err
	}

	if err := w.sink.Flush(); err != nil {
		return wrapIO("finalize flush", err)
	}
	w.state = stateFinalized
	return nil
}

// hdFirstDGPatchOffset returns the absolute offset of the HD block's
// first link (first data group), immediately after the 24-byte header.
func hdFirstDGPatchOffset(hdOffset uint64) uint64 {
	return hdOffset + blockHeaderSize
}

func (w *Writer) writeDataGroupPlaceholder(dg *writerDataGroup) (uint64, error) {
	offset, err := writeBlock(w.sink, dataGroupBlockTag, make([]uint64, dataGroupLinkCount), encodeDataGroupPayload(DataGroup{RecordIDSize: dg.recordIDSize}))
	if err != nil {
		return 0, err
	}
	dg.nextLinkPatch = offset + blockHeaderSize + 0*8
	dg.firstCGLinkPatch = offset + blockHeaderSize + 1*8
	dg.dataLinkPatch = offset + blockHeaderSize + 2*8
	w.log.Debug("block written", "tag", dataGroupBlockTag, "offset", offset)
	return offset, nil
}

func (w *Writer) writeChannelGroup(cg *writerChannelGroup) (uint64, error) {
	payload := encodeChannelGroupPayload(ChannelGroup{
		RecordID:          cg.recordID,
		CycleCount:        cg.cycleCount,
		DataBytes:         cg.dataBytes,
		InvalidationBytes: cg.invalBytes,
	})
	offset, err := writeBlock(w.sink, channelGroupBlockTag, make([]uint64, channelGroupLinkCount), payload)
	if err != nil {
		return 0, err
	}
	cg.nextLinkPatch = offset + blockHeaderSize + 0*8
	cg.firstChLinkPatch = offset + blockHeaderSize + 1*8
	w.log.Debug("block written", "tag", channelGroupBlockTag, "offset", offset)

	var firstCN uint64
	var prevOffset uint64
	for i, wc := range cg.channels {
		cnOffset, err := w.writeChannel(wc)
		if err != nil {
			return 0, err
		}
		wc.offset = cnOffset
		if i == 0 {
			firstCN = cnOffset
		}
		if prevOffset != 0 {
			if err := w.patchNow(cg.channels[i-1].nextLinkPatch, cnOffset); err != nil {
				return 0, err
			}
		}
		prevOffset = cnOffset
	}
	if firstCN != 0 {
		if err := w.patchNow(cg.firstChLinkPatch, firstCN); err != nil {
			return 0, err
		}
	}
	return offset, nil
}

func (w *Writer) writeChannel(wc *writerChannel) (uint64, error) {
	nameOffset, err := w.dedup.writeText(w.sink, wc.cfg.Name)
	if err != nil {
		return 0, err
	}
	unitOffset, err := w.dedup.writeText(w.sink, wc.cfg.Unit)
	if err != nil {
		return 0, err
	}
	commentOffset, err := w.dedup.writeText(w.sink, wc.cfg.Comment)
	if err != nil {
		return 0, err
	}
	convOffset, err := w.writeConversion(wc.cfg.Conversion)
	if err != nil {
		return 0, err
	}

	c := Channel{
		Type:               ChannelTypeFixedLength,
		DataType:           wc.cfg.DataType,
		ByteOffset:         wc.byteOffset,
		BitCount:           wc.cfg.BitCount,
		Name:               nameOffset,
		Unit:               unitOffset,
		Comment:            commentOffset,
		Conversion:         convOffset,
		PosInvalidationBit: wc.posInvalidationBit,
	}
	if wc.cfg.HasInvalidationBit {
		c.Flags |= ChannelFlagInvalidBitValid
	}

	offset, err := writeBlock(w.sink, channelBlockTag, channelLinks(c), encodeChannelPayload(c))
	if err != nil {
		return 0, err
	}
	wc.nextLinkPatch = offset + blockHeaderSize + 0*8
	w.log.Debug("block written", "tag", channelBlockTag, "offset", offset)
	return offset, nil
}

// writeConversion emits a CC block for conv, if any. Only Identity (a
// nil Conversion, or Type==ConversionIdentity) and Linear conversions
// are supported; anything else is an UnsupportedFeatureError, since
// spec.md §4.F's writer only needs to round-trip what the index builder
// can simplify (spec.md §4.G).
func (w *Writer) writeConversion(conv *Conversion) (uint64, error) {
	if conv == nil || conv.Type == ConversionIdentity {
		return 0, nil
	}
	if conv.Type != ConversionLinear || len(conv.Values) < 2 {
		return 0, &UnsupportedFeatureError{What: "writing non-linear channel conversions"}
	}

	payload := make([]byte, 8+16)
	payload[0] = byte(ConversionLinear)
	binary.LittleEndian.PutUint16(payload[4:6], 0) // ref count
	binary.LittleEndian.PutUint16(payload[6:8], 2) // value count
	binary.LittleEndian.PutUint64(payload[8:16], math.Float64bits(conv.Values[0]))
	binary.LittleEndian.PutUint64(payload[16:24], math.Float64bits(conv.Values[1]))

	offset, err := writeBlock(w.sink, conversionBlockTag, make([]uint64, conversionFixedLinkCount), payload)
	if err != nil {
		return 0, err
	}
	w.log.Debug("block written", "tag", conversionBlockTag, "offset", offset)
	return offset, nil
}

// patchNow seeks to a placeholder offset, writes an 8-byte little-endian
// value, and returns to the writer's current append position.
func (w *Writer) patchNow(offset uint64, value uint64) error {
	cur, err := w.sink.Tell()
	if err != nil {
		return wrapIO("patch: tell", err)
	}
	if err := w.sink.Seek(offset); err != nil {
		return wrapIO("patch: seek", err)
	}
	buf := make([]byte, 8)
	encodeUint(buf, value)
	if err := w.sink.Write(buf); err != nil {
		return wrapIO("patch: write", err)
	}
	return wrapIO("patch: seek back", w.sink.Seek(cur))
}

func encodeUint(dst []byte, v uint64) {
	for i := 0; i < len(dst) && i < 8; i++ {
		dst[i] = byte(v >> (8 * uint(i)))
	}
}

func setBit(b []byte, bitIndex int) {
	byteIdx := bitIndex / 8
	bit := uint(bitIndex % 8)
	if byteIdx < len(b) {
		b[byteIdx] |= 1 << bit
	}
}

// encodeChannelValue writes values[i] into dataArea at wc's byte offset,
// byte-aligned and little/big-endian per its data type — the inverse of
// decoder.go's extraction.
func encodeChannelValue(dataArea []byte, wc *writerChannel, v Value) error {
	numBytes := ceilDiv(int(wc.cfg.BitCount), 8)
	start := int(wc.byteOffset)
	if start+numBytes > len(dataArea) {
		return &ConversionError{Context: "channel value does not fit its record area"}
	}
	slice := dataArea[start : start+numBytes]

	switch {
	case wc.cfg.DataType.IsFloat():
		if wc.cfg.BitCount == 32 {
			putFloatBits(slice, uint64(math.Float32bits(float32(v.Number))), wc.cfg.DataType.IsBigEndian())
		} else {
			putFloatBits(slice, math.Float64bits(v.Number), wc.cfg.DataType.IsBigEndian())
		}
	case wc.cfg.DataType.IsSigned():
		putIntBits(slice, uint64(int64(v.Number)), wc.cfg.DataType.IsBigEndian())
	case wc.cfg.DataType.IsInteger():
		putIntBits(slice, uint64(v.Number), wc.cfg.DataType.IsBigEndian())
	default:
		copy(slice, []byte(v.Text))
	}
	return nil
}

func putIntBits(dst []byte, v uint64, bigEndian bool) {
	if bigEndian {
		for i := len(dst) - 1; i >= 0; i-- {
			dst[i] = byte(v)
			v >>= 8
		}
	} else {
		for i := 0; i < len(dst); i++ {
			dst[i] = byte(v)
			v >>= 8
		}
	}
}

func putFloatBits(dst []byte, v uint64, bigEndian bool) { putIntBits(dst, v, bigEndian) }

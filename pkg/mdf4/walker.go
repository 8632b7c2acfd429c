package mdf4

import "github.com/go-mdf4/mdf4/internal/logger"

// ChannelNode is a walked channel, fully resolved: its raw CN fields,
// decoded name/unit/comment, source info, and conversion chain.
type ChannelNode struct {
	Raw        Channel
	Name       string
	Unit       string
	Comment    string
	Source     *SourceInfo
	Conversion *Conversion // nil means identity
}

// ChannelGroupNode is a walked channel group: its raw CG fields plus the
// resolved channel list and acquisition metadata.
type ChannelGroupNode struct {
	Raw       ChannelGroup
	AcqName   string
	AcqSource *SourceInfo
	Channels  []ChannelNode
}

// DataGroupNode is a walked data group: its raw DG fields, resolved
// channel groups, and the data fragments backing its records.
type DataGroupNode struct {
	Raw       DataGroup
	Groups    []ChannelGroupNode
	Fragments []DataFragment
}

// Tree is the fully walked, in-memory representation of an MDF4 file
// produced by Walk, per spec.md §4.C: "a tree of raw entities keyed by
// their file offsets."
type Tree struct {
	ID      Identification
	Header  HeaderBlock
	History []FileHistoryBlock
	Groups  []DataGroupNode
}

// Walk parses source in full: ID, HD, then a linked walk of DG -> CG ->
// CN, resolving CC chains and text references eagerly. An optional
// Logger receives a Debug event for the ID, HD, and each DG, CG, and CN
// block (tag and offset, plus length for ID); omitting it is equivalent
// to passing logger.NoOp().
//
// Failure modes follow spec.md §4.C exactly: bad ID -> FileIdentifierError,
// unsupported version -> FileVersioningError, truncated blocks ->
// InvalidData, unexpected tag -> InvalidBlock.
func Walk(source ByteSource, log ...logger.Logger) (*Tree, error) {
	l := resolveLogger(log)

	data, err := readWhole(source)
	if err != nil {
		return nil, err
	}

	id, err := readIdentification(data)
	if err != nil {
		return nil, err
	}
	l.Debug("block", "tag", "ID", "offset", uint64(0), "length", uint64(idBlockSize))

	// The HD block immediately follows the 64-byte identification
	// prefix, 8-byte aligned.
	hd, err := readHeaderBlock(data, idBlockSize)
	if err != nil {
		return nil, err
	}
	l.Debug("block", "tag", headerBlockTag, "offset", uint64(idBlockSize))

	history, err := readFileHistoryChain(data, hd.FirstFileHistory)
	if err != nil {
		return nil, err
	}

	var groups []DataGroupNode
	dgOffset := hd.FirstDataGroup
	for dgOffset != 0 {
		dg, err := readDataGroup(data, dgOffset)
		if err != nil {
			return nil, err
		}
		l.Debug("block", "tag", dataGroupBlockTag, "offset", dgOffset)

		fragments, err := resolveDataFragments(data, dg.DataBlock)
		if err != nil {
			return nil, err
		}

		var cgNodes []ChannelGroupNode
		cgOffset := dg.FirstChannelGrp
		for cgOffset != 0 {
			cg, err := readChannelGroup(data, cgOffset)
			if err != nil {
				return nil, err
			}
			l.Debug("block", "tag", channelGroupBlockTag, "offset", cgOffset)

			acqName, err := resolveText(data, cg.AcqName)
			if err != nil {
				return nil, err
			}
			acqSource, err := resolveSourceInfo(data, cg.AcqSource)
			if err != nil {
				return nil, err
			}

			var chNodes []ChannelNode
			cnOffset := cg.FirstChannel
			for cnOffset != 0 {
				cn, err := readChannel(data, cnOffset)
				if err != nil {
					return nil, err
				}
				l.Debug("block", "tag", channelBlockTag, "offset", cnOffset)

				name, err := resolveText(data, cn.Name)
				if err != nil {
					return nil, err
				}
				unit, err := resolveText(data, cn.Unit)
				if err != nil {
					return nil, err
				}
				comment, err := resolveText(data, cn.Comment)
				if err != nil {
					return nil, err
				}
				source, err := resolveSourceInfo(data, cn.Source)
				if err != nil {
					return nil, err
				}

				var conv *Conversion
				if cn.Conversion != 0 {
					conv, err = readConversion(data, cn.Conversion, make(map[uint64]bool))
					if err != nil {
						return nil, err
					}
				}

				chNodes = append(chNodes, ChannelNode{
					Raw:        cn,
					Name:       name,
					Unit:       unit,
					Comment:    comment,
					Source:     source,
					Conversion: conv,
				})
				cnOffset = cn.NextChannel
			}

			cgNodes = append(cgNodes, ChannelGroupNode{
				Raw:       cg,
				AcqName:   acqName,
				AcqSource: acqSource,
				Channels:  chNodes,
			})
			cgOffset = cg.NextChannelGrp
		}

		if dg.RecordIDSize == 0 && len(cgNodes) != 1 {
			return nil, &InvalidDataError{Context: "DG with record-id length 0 must have exactly one CG"}
		}

		groups = append(groups, DataGroupNode{Raw: dg, Groups: cgNodes, Fragments: fragments})
		dgOffset = dg.NextDataGroup
	}

	return &Tree{ID: id, Header: hd, History: history, Groups: groups}, nil
}

// resolveLogger returns log[0] if given, else a no-op Logger. Walk,
// NewWriter, BuildIndexFromTree, and BuildIndexStreaming all take an
// optional trailing Logger this way, so existing callers that pass none
// keep compiling.
func resolveLogger(log []logger.Logger) logger.Logger {
	if len(log) > 0 && log[0] != nil {
		return log[0]
	}
	return logger.NoOp()
}

// readWhole drains source into a single buffer. The walker operates on
// a fully materialized tree (spec.md §4.C); only the streaming index
// builder (component G) is required to avoid this.
func readWhole(source ByteSource) ([]byte, error) {
	if total, ok := source.TotalLength(); ok {
		buf := make([]byte, total)
		if _, err := source.ReadAt(0, buf); err != nil {
			return nil, wrapIO("read whole file", err)
		}
		return buf, nil
	}

	// Unknown length: grow in chunks until a short read signals EOF.
	const chunk = 1 << 20
	var buf []byte
	for {
		tmp := make([]byte, chunk)
		n, err := source.ReadAt(uint64(len(buf)), tmp)
		buf = append(buf, tmp[:n]...)
		if n < chunk || err != nil {
			break
		}
	}
	return buf, nil
}

// ExtractionPlans builds one plan per channel in a channel group, per
// spec.md §4.E. Plans are rebuilt on every call, not cached.
func (dgn DataGroupNode) ExtractionPlans(cgn ChannelGroupNode) []ExtractionPlan {
	plans := make([]ExtractionPlan, len(cgn.Channels))
	for i, ch := range cgn.Channels {
		plans[i] = buildExtractionPlan(dgn.Raw, cgn.Raw, ch.Raw, ch.Conversion)
	}
	return plans
}

// RecordSize is the physical size in bytes of one record in this group:
// the DG's record-id prefix plus the CG's data and invalidation bytes.
func (dgn DataGroupNode) RecordSize(cgn ChannelGroupNode) uint32 {
	return uint32(dgn.Raw.RecordIDSize) + cgn.Raw.RecordSize()
}

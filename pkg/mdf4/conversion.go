package mdf4

import (
	"encoding/binary"
	"math"
)

const conversionBlockTag = "##CC"

// conversionFixedLinkCount is the number of links every CC block carries
// before its type-specific ref[] array: name, unit, comment, inverse.
const conversionFixedLinkCount = 4

// ConversionType enumerates the conversion kinds of spec.md §4.D. Codes
// follow spec.md's own table, not the differing numbering used by the
// Rust reference implementation this spec was distilled from.
type ConversionType uint8

const (
	ConversionIdentity       ConversionType = 0
	ConversionLinear         ConversionType = 1
	ConversionRational       ConversionType = 2
	ConversionAlgebraic      ConversionType = 3
	ConversionValueToValue   ConversionType = 4
	ConversionRangeToValue   ConversionType = 5
	ConversionValueToText    ConversionType = 7
	ConversionRangeToText    ConversionType = 8
	ConversionTextToValue    ConversionType = 9
	ConversionTextToText     ConversionType = 10
)

// Conversion is a raw, decoded ##CC block, plus its eagerly resolved
// text/chain references. The engine dispatches on Type; no open-ended
// subtype hierarchy is required (spec.md §9).
type Conversion struct {
	Offset uint64

	NameAddr    uint64
	UnitAddr    uint64
	CommentAddr uint64
	InverseAddr uint64
	Refs        []uint64

	Type      ConversionType
	Precision uint8
	Flags     uint16

	RangeMin float64
	RangeMax float64
	HasRange bool

	Values []float64 // val[]

	// Formula is populated only for ConversionAlgebraic, resolved from
	// Refs[0] (original_source/blocks/conversion/formula.rs).
	Formula string

	// Texts holds resolved text for ref entries known to point at TX/MD
	// blocks (table conversions' value/default text). Indexed the same
	// as Refs.
	Texts []string

	// Chain holds resolved nested conversions for ref entries that point
	// at further CC blocks (table conversions whose entries are partial
	// conversions rather than plain text).
	Chain []*Conversion
}

func readConversion(data []byte, offset uint64, visited map[uint64]bool) (*Conversion, error) {
	if visited[offset] {
		return nil, &InvalidDataError{Context: "cycle in conversion chain"}
	}
	visited[offset] = true

	h, links, err := readBlockHeader(data, offset)
	if err != nil {
		return nil, err
	}
	if err := expectTag(h, offset, conversionBlockTag); err != nil {
		return nil, err
	}
	if len(links) < conversionFixedLinkCount {
		return nil, &InvalidDataError{Context: "CC block has too few links"}
	}

	refs := append([]uint64(nil), links[conversionFixedLinkCount:]...)

	payload := payloadOffset(offset, h.LinkCount)
	if payload+8 > uint64(len(data)) {
		return nil, &InvalidDataError{Context: "CC payload truncated"}
	}
	body := data[payload:]

	convType := ConversionType(body[0])
	precision := body[1]
	flags := binary.LittleEndian.Uint16(body[2:4])
	refCount := binary.LittleEndian.Uint16(body[4:6])
	valueCount := binary.LittleEndian.Uint16(body[6:8])
	_ = refCount // ref count is implied by len(refs); kept for on-disk fidelity on write

	cursor := 8
	hasRange := flags&0b10 != 0
	var rangeMin, rangeMax float64
	if hasRange {
		if payload+uint64(cursor)+16 > uint64(len(data)) {
			return nil, &InvalidDataError{Context: "CC range fields truncated"}
		}
		rangeMin = decodeFloat64(body[cursor : cursor+8])
		rangeMax = decodeFloat64(body[cursor+8 : cursor+16])
		cursor += 16
	}

	values := make([]float64, valueCount)
	for i := range values {
		start := cursor + i*8
		if payload+uint64(start)+8 > uint64(len(data)) {
			return nil, &InvalidDataError{Context: "CC values truncated"}
		}
		values[i] = decodeFloat64(body[start : start+8])
	}

	c := &Conversion{
		Offset:    offset,
		NameAddr:  links[0],
		UnitAddr:  links[1],
		CommentAddr: links[2],
		InverseAddr: links[3],
		Refs:      refs,
		Type:      convType,
		Precision: precision,
		Flags:     flags,
		RangeMin:  rangeMin,
		RangeMax:  rangeMax,
		HasRange:  hasRange,
		Values:    values,
	}

	if err := c.resolveRefs(data, visited); err != nil {
		return nil, err
	}
	return c, nil
}

// resolveRefs eagerly resolves each ref entry to either text (TX/MD) or
// a nested conversion (CC), per spec.md §4.C: "plain-text references are
// resolved eagerly to strings" and table conversions may reference
// further CC blocks.
func (c *Conversion) resolveRefs(data []byte, visited map[uint64]bool) error {
	if c.Type == ConversionAlgebraic {
		if len(c.Refs) == 0 {
			return &ConversionError{Context: "algebraic conversion missing formula reference"}
		}
		formula, err := resolveText(data, c.Refs[0])
		if err != nil {
			return err
		}
		c.Formula = formula
		return nil
	}

	c.Texts = make([]string, len(c.Refs))
	c.Chain = make([]*Conversion, len(c.Refs))
	for i, ref := range c.Refs {
		if ref == 0 {
			continue
		}
		h, _, err := readBlockHeader(data, ref)
		if err != nil {
			return err
		}
		switch string(h.Tag[:]) {
		case textBlockTag, metadataBlockTag:
			s, err := resolveText(data, ref)
			if err != nil {
				return err
			}
			c.Texts[i] = s
		case conversionBlockTag:
			nested, err := readConversion(data, ref, visited)
			if err != nil {
				return err
			}
			c.Chain[i] = nested
		default:
			return &InvalidBlockError{Offset: ref, Expected: textBlockTag + "/" + metadataBlockTag + "/" + conversionBlockTag, Found: string(h.Tag[:])}
		}
	}
	return nil
}

// Value is a decoded channel value after 4.E's bit extraction, before
// conversion is applied.
type Value struct {
	Number float64
	Text   string
	IsText bool
}

// Apply runs the conversion chain over x, per spec.md §4.D's type table.
// A nil Conversion is identity. A string-producing stage is terminal;
// further chained conversions are not applied (spec.md §9).
func (c *Conversion) Apply(in Value) (Value, error) {
	if c == nil {
		return in, nil
	}
	if in.IsText {
		// Per spec.md §4.D, only Text->Value (9) and Text->Text (10)
		// accept a text input; everything else is identity on text.
		switch c.Type {
		case ConversionTextToValue, ConversionTextToText:
		default:
			return in, nil
		}
	}

	switch c.Type {
	case ConversionIdentity:
		return in, nil

	case ConversionLinear:
		if len(c.Values) < 2 {
			return Value{}, &ConversionError{Context: "linear conversion missing parameters"}
		}
		a, b := c.Values[0], c.Values[1]
		return Value{Number: a + b*in.Number}, nil

	case ConversionRational:
		if len(c.Values) < 6 {
			return Value{}, &ConversionError{Context: "rational conversion missing parameters"}
		}
		p := c.Values
		x := in.Number
		num := p[0]*x*x + p[1]*x + p[2]
		den := p[3]*x*x + p[4]*x + p[5]
		return Value{Number: num / den}, nil

	case ConversionAlgebraic:
		y, err := evalFormula(c.Formula, in.Number)
		if err != nil {
			return Value{}, err
		}
		return Value{Number: y}, nil

	case ConversionValueToValue:
		return c.applyValueToValue(in.Number)

	case ConversionRangeToValue:
		return c.applyRangeToValue(in.Number)

	case ConversionValueToText:
		return c.applyValueToText(in.Number)

	case ConversionRangeToText:
		return c.applyRangeToText(in.Number)

	case ConversionTextToValue:
		return c.applyTextToValue(in.Text)

	case ConversionTextToText:
		return c.applyTextToText(in.Text)

	default:
		return Value{}, &ConversionError{Context: "unknown conversion type"}
	}
}

// applyValueToValue implements type 4: val=[k0,v0,k1,v1,...,default].
func (c *Conversion) applyValueToValue(x float64) (Value, error) {
	n := len(c.Values)
	hasDefault := n%2 == 1
	pairs := n / 2
	for i := 0; i < pairs; i++ {
		k, v := c.Values[2*i], c.Values[2*i+1]
		if numericEqual(k, x) {
			return Value{Number: v}, nil
		}
	}
	if hasDefault {
		return Value{Number: c.Values[n-1]}, nil
	}
	return Value{Number: math.NaN()}, nil
}

// applyRangeToValue implements type 5: val=[lo0,hi0,v0,...,default].
func (c *Conversion) applyRangeToValue(x float64) (Value, error) {
	n := len(c.Values)
	hasDefault := n%3 == 1
	triples := n / 3
	for i := 0; i < triples; i++ {
		lo, hi, v := c.Values[3*i], c.Values[3*i+1], c.Values[3*i+2]
		if inRangeInclusive(x, lo, hi) {
			return Value{Number: v}, nil
		}
	}
	if hasDefault {
		return Value{Number: c.Values[n-1]}, nil
	}
	return Value{Number: math.NaN()}, nil
}

// applyValueToText implements type 7: val=[k0..kN-1], ref/text=[t0..tN-1,
// default_text]. A ref entry may point at a further CC block rather than
// plain text (a table of referenced partial conversions); such entries
// are applied recursively instead of read out of Texts.
func (c *Conversion) applyValueToText(x float64) (Value, error) {
	for i, k := range c.Values {
		if numericEqual(k, x) && i < len(c.Texts) {
			if i < len(c.Chain) && c.Chain[i] != nil {
				return c.Chain[i].Apply(Value{Number: x})
			}
			return Value{Text: c.Texts[i], IsText: true}, nil
		}
	}
	if len(c.Texts) > len(c.Values) {
		last := len(c.Texts) - 1
		if last < len(c.Chain) && c.Chain[last] != nil {
			return c.Chain[last].Apply(Value{Number: x})
		}
		return Value{Text: c.Texts[last], IsText: true}, nil
	}
	return Value{Text: "", IsText: true}, nil
}

// applyRangeToText implements type 8: val=[lo0,hi0,...], text=[t0..tN-1,
// default_text]. As with applyValueToText, a matched entry pointing at a
// nested CC block is applied recursively rather than read as text.
func (c *Conversion) applyRangeToText(x float64) (Value, error) {
	pairs := len(c.Values) / 2
	for i := 0; i < pairs; i++ {
		lo, hi := c.Values[2*i], c.Values[2*i+1]
		if inRangeInclusive(x, lo, hi) && i < len(c.Texts) {
			if i < len(c.Chain) && c.Chain[i] != nil {
				return c.Chain[i].Apply(Value{Number: x})
			}
			return Value{Text: c.Texts[i], IsText: true}, nil
		}
	}
	if len(c.Texts) > pairs {
		last := len(c.Texts) - 1
		if last < len(c.Chain) && c.Chain[last] != nil {
			return c.Chain[last].Apply(Value{Number: x})
		}
		return Value{Text: c.Texts[last], IsText: true}, nil
	}
	return Value{Text: "", IsText: true}, nil
}

// applyTextToValue implements type 9: val=[v0..vN-1,default],
// ref/text=[t0..tN-1].
func (c *Conversion) applyTextToValue(s string) (Value, error) {
	for i, t := range c.Texts {
		if t == s && i < len(c.Values) {
			return Value{Number: c.Values[i]}, nil
		}
	}
	if len(c.Values) > len(c.Texts) {
		return Value{Number: c.Values[len(c.Values)-1]}, nil
	}
	return Value{Number: math.NaN()}, nil
}

// applyTextToText implements type 10: ref/text=[k0,v0,...,default].
func (c *Conversion) applyTextToText(s string) (Value, error) {
	n := len(c.Texts)
	hasDefault := n%2 == 1
	pairs := n / 2
	for i := 0; i < pairs; i++ {
		k, v := c.Texts[2*i], c.Texts[2*i+1]
		if k == s {
			return Value{Text: v, IsText: true}, nil
		}
	}
	if hasDefault {
		return Value{Text: c.Texts[n-1], IsText: true}, nil
	}
	return Value{Text: "", IsText: true}, nil
}

// numericEqual implements spec.md §4.D's matching rule: bitwise equality
// for finite doubles, NaN never matches.
func numericEqual(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return false
	}
	return a == b
}

func inRangeInclusive(x, lo, hi float64) bool {
	if math.IsNaN(x) {
		return false
	}
	return x >= lo && x <= hi
}

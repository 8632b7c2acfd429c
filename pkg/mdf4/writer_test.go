package mdf4

import (
	"math"
	"testing"
)

// buildDemoFile writes two data groups, each with one channel group: a
// "time"+"sine" group with a linear conversion and an invalidation bit,
// and a second group with a bit-packed signed channel. Each data group
// carries its own data link, so independently-started blocks need
// separate data groups rather than sharing one.
func buildDemoFile(t *testing.T, cycles int) []byte {
	t.Helper()

	sink := &MemorySink{}
	w := NewWriter(sink)
	if err := w.InitMDFFile(); err != nil {
		t.Fatalf("InitMDFFile: %v", err)
	}

	_, cg1, err := w.AddChannelGroup(-1, 1)
	if err != nil {
		t.Fatalf("AddChannelGroup: %v", err)
	}
	if err := w.AddChannel(cg1, ChannelConfig{
		Name: "time", Unit: "s", DataType: DataTypeFloatLE, BitCount: 64,
	}); err != nil {
		t.Fatalf("AddChannel time: %v", err)
	}
	if err := w.AddChannel(cg1, ChannelConfig{
		Name: "sine", Unit: "V", DataType: DataTypeFloatLE, BitCount: 64,
		Conversion:         &Conversion{Type: ConversionLinear, Values: []float64{1, 2}},
		HasInvalidationBit: true,
	}); err != nil {
		t.Fatalf("AddChannel sine: %v", err)
	}

	_, cg2, err := w.AddChannelGroup(-1, 1)
	if err != nil {
		t.Fatalf("AddChannelGroup (second group): %v", err)
	}
	if err := w.AddChannel(cg2, ChannelConfig{
		Name: "status", DataType: DataTypeSignedLE, BitCount: 12,
	}); err != nil {
		t.Fatalf("AddChannel status: %v", err)
	}

	if err := w.StartDataBlockForCG(cg1); err != nil {
		t.Fatalf("StartDataBlockForCG cg1: %v", err)
	}
	for i := 0; i < cycles; i++ {
		tval := float64(i) * 0.5
		invalid := i%10 == 0
		if err := w.WriteRecord(cg1, []Value{{Number: tval}, {Number: math.Sin(tval)}}, []bool{false, invalid}); err != nil {
			t.Fatalf("WriteRecord cg1[%d]: %v", i, err)
		}
	}
	if err := w.FinishDataBlock(cg1); err != nil {
		t.Fatalf("FinishDataBlock cg1: %v", err)
	}

	if err := w.StartDataBlockForCG(cg2); err != nil {
		t.Fatalf("StartDataBlockForCG cg2: %v", err)
	}
	for i := 0; i < cycles; i++ {
		if err := w.WriteRecord(cg2, []Value{{Number: float64(i - cycles/2)}}, nil); err != nil {
			t.Fatalf("WriteRecord cg2[%d]: %v", i, err)
		}
	}
	if err := w.FinishDataBlock(cg2); err != nil {
		t.Fatalf("FinishDataBlock cg2: %v", err)
	}

	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return sink.Bytes()
}

func TestWriterRoundTripFloatAndLinearConversion(t *testing.T) {
	t.Parallel()

	const cycles = 30
	data := buildDemoFile(t, cycles)

	tree, err := Walk(&MemorySource{Data: data})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(tree.Groups) != 2 {
		t.Fatalf("expected 2 data groups, got %d", len(tree.Groups))
	}
	dgn := tree.Groups[0]
	if len(dgn.Groups) != 1 {
		t.Fatalf("expected 1 channel group in the first data group, got %d", len(dgn.Groups))
	}

	cg1 := dgn.Groups[0]
	if len(cg1.Channels) != 2 {
		t.Fatalf("expected 2 channels in cg1, got %d", len(cg1.Channels))
	}
	timeCh, sineCh := cg1.Channels[0], cg1.Channels[1]
	if timeCh.Name != "time" || sineCh.Name != "sine" {
		t.Fatalf("unexpected channel names: %q, %q", timeCh.Name, sineCh.Name)
	}
	if sineCh.Conversion == nil || sineCh.Conversion.Type != ConversionLinear {
		t.Fatalf("expected sine to carry a linear conversion, got %+v", sineCh.Conversion)
	}

	idx := BuildIndexFromTree(tree)
	source := &MemorySource{Data: data}

	timeValues, err := ExtractChannel(source, idx, 0, 0)
	if err != nil {
		t.Fatalf("ExtractChannel time: %v", err)
	}
	if len(timeValues) != cycles {
		t.Fatalf("expected %d time samples, got %d", cycles, len(timeValues))
	}
	for i, dv := range timeValues {
		if !dv.Valid {
			t.Fatalf("time[%d] unexpectedly invalid", i)
		}
		want := float64(i) * 0.5
		if math.Abs(dv.Value.Number-want) > 1e-9 {
			t.Fatalf("time[%d] = %v, want %v", i, dv.Value.Number, want)
		}
	}

	sineValues, err := ExtractChannel(source, idx, 0, 1)
	if err != nil {
		t.Fatalf("ExtractChannel sine: %v", err)
	}
	for i, dv := range sineValues {
		if i%10 == 0 {
			if dv.Valid {
				t.Fatalf("sine[%d] expected invalid, got valid %v", i, dv.Value.Number)
			}
			continue
		}
		if !dv.Valid {
			t.Fatalf("sine[%d] unexpectedly invalid", i)
		}
		want := 1 + 2*math.Sin(float64(i)*0.5)
		if math.Abs(dv.Value.Number-want) > 1e-9 {
			t.Fatalf("sine[%d] = %v, want %v", i, dv.Value.Number, want)
		}
	}
}

func TestWriterRoundTripBitPackedSigned(t *testing.T) {
	t.Parallel()

	const cycles = 20
	data := buildDemoFile(t, cycles)

	tree, err := Walk(&MemorySource{Data: data})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	idx := BuildIndexFromTree(tree)
	source := &MemorySource{Data: data}

	values, err := ExtractChannel(source, idx, 1, 0)
	if err != nil {
		t.Fatalf("ExtractChannel status: %v", err)
	}
	if len(values) != cycles {
		t.Fatalf("expected %d status samples, got %d", cycles, len(values))
	}
	for i, dv := range values {
		if !dv.Valid {
			t.Fatalf("status[%d] unexpectedly invalid", i)
		}
		want := float64(i - cycles/2)
		if dv.Value.Number != want {
			t.Fatalf("status[%d] = %v, want %v", i, dv.Value.Number, want)
		}
	}
}

func TestWriterInvalidStateTransitions(t *testing.T) {
	t.Parallel()

	w := NewWriter(&MemorySink{})
	if _, _, err := w.AddChannelGroup(-1, 0); err == nil {
		t.Fatalf("expected error adding a channel group before InitMDFFile")
	}

	if err := w.InitMDFFile(); err != nil {
		t.Fatalf("InitMDFFile: %v", err)
	}
	if err := w.InitMDFFile(); err == nil {
		t.Fatalf("expected error calling InitMDFFile twice")
	}

	_, cg, err := w.AddChannelGroup(-1, 0)
	if err != nil {
		t.Fatalf("AddChannelGroup: %v", err)
	}
	if err := w.WriteRecord(cg, nil, nil); err == nil {
		t.Fatalf("expected error writing a record with no open data block")
	}
	if err := w.FinishDataBlock(cg); err == nil {
		t.Fatalf("expected error finishing a data block that was never started")
	}
}

func TestBuildIndexStreamingMatchesFromTree(t *testing.T) {
	t.Parallel()

	const cycles = 40
	data := buildDemoFile(t, cycles)

	tree, err := Walk(&MemorySource{Data: data})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	treeIdx := BuildIndexFromTree(tree)

	streamed, err := BuildIndexStreaming(&MemorySource{Data: data})
	if err != nil {
		t.Fatalf("BuildIndexStreaming: %v", err)
	}

	if len(streamed.Groups) != len(treeIdx.Groups) {
		t.Fatalf("group count mismatch: streaming=%d tree=%d", len(streamed.Groups), len(treeIdx.Groups))
	}

	source := &MemorySource{Data: data}
	for gi := range treeIdx.Groups {
		for ci := range treeIdx.Groups[gi].Channels {
			want, err := ExtractChannel(source, treeIdx, gi, ci)
			if err != nil {
				t.Fatalf("ExtractChannel(tree, %d, %d): %v", gi, ci, err)
			}
			got, err := ExtractChannel(source, streamed, gi, ci)
			if err != nil {
				t.Fatalf("ExtractChannel(streaming, %d, %d): %v", gi, ci, err)
			}
			if len(want) != len(got) {
				t.Fatalf("group %d channel %d: length mismatch streaming=%d tree=%d", gi, ci, len(got), len(want))
			}
			for i := range want {
				if want[i].Valid != got[i].Valid {
					t.Fatalf("group %d channel %d sample %d: validity mismatch", gi, ci, i)
				}
				if want[i].Valid && want[i].Value.Number != got[i].Value.Number {
					t.Fatalf("group %d channel %d sample %d: %v != %v", gi, ci, i, got[i].Value.Number, want[i].Value.Number)
				}
			}
		}
	}
}

func TestMarshalUnmarshalIndexRoundTrip(t *testing.T) {
	t.Parallel()

	data := buildDemoFile(t, 5)
	tree, err := Walk(&MemorySource{Data: data})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	idx := BuildIndexFromTree(tree)

	marshaled, err := MarshalIndex(idx)
	if err != nil {
		t.Fatalf("MarshalIndex: %v", err)
	}
	restored, err := UnmarshalIndex(marshaled)
	if err != nil {
		t.Fatalf("UnmarshalIndex: %v", err)
	}
	if len(restored.Groups) != len(idx.Groups) {
		t.Fatalf("group count mismatch after round trip: got %d want %d", len(restored.Groups), len(idx.Groups))
	}
	if restored.Groups[0].Channels[1].Simplified == nil || !restored.Groups[0].Channels[1].Simplified.Linear {
		t.Fatalf("expected sine channel's linear conversion to survive marshal round trip")
	}
}

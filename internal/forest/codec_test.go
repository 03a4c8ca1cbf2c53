package forest

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func trainedForest(t *testing.T) *Forest {
	t.Helper()
	samples, labels := twoClassSet(30)
	f, err := Train(context.Background(), samples, labels, TrainOptions{Trees: 12, Seed: 21})
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	return f
}

func TestCodec_RoundTrip(t *testing.T) {
	f := trainedForest(t)

	var buf bytes.Buffer
	if err := Encode(&buf, f); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	back, err := Decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if back.FeatureCount() != f.FeatureCount() {
		t.Errorf("FeatureCount = %d, want %d", back.FeatureCount(), f.FeatureCount())
	}
	if back.TreeCount() != f.TreeCount() {
		t.Errorf("TreeCount = %d, want %d", back.TreeCount(), f.TreeCount())
	}

	for i := range f.trees {
		a, b := f.trees[i], back.trees[i]
		if len(a.nodes) != len(b.nodes) {
			t.Fatalf("Tree %d node counts differ: %d vs %d", i, len(a.nodes), len(b.nodes))
		}
		for j := range a.nodes {
			if a.nodes[j].isLeaf() != b.nodes[j].isLeaf() {
				t.Fatalf("Tree %d node %d kind differs", i, j)
			}
			if math.Abs(a.nodes[j].probability-b.nodes[j].probability) > 1e-6 {
				t.Errorf("Tree %d node %d probability %v vs %v", i, j, a.nodes[j].probability, b.nodes[j].probability)
			}
			if math.Abs(a.nodes[j].threshold-b.nodes[j].threshold) > 1e-6 {
				t.Errorf("Tree %d node %d threshold %v vs %v", i, j, a.nodes[j].threshold, b.nodes[j].threshold)
			}
		}
	}

	// Same predictions after the round trip.
	vec := []float64{0.9, 0.6, 100, 3}
	p1, err := f.Predict(vec)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	p2, err := back.Predict(vec)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if math.Abs(p1-p2) > 1e-9 {
		t.Errorf("Prediction changed across round trip: %v vs %v", p1, p2)
	}
}

func TestDecode_BadMagic(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("XXXX\x01\x04\x00\x00\x00\x01\x00\x00\x00")))
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("Got %v, want ErrCorrupt", err)
	}
}

func TestDecode_UnknownVersion(t *testing.T) {
	f := trainedForest(t)
	var buf bytes.Buffer
	if err := Encode(&buf, f); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	data := buf.Bytes()
	data[4] = 0xFF

	_, err := Decode(bytes.NewReader(data))
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("Got %v, want ErrCorrupt", err)
	}
}

func TestDecode_Truncated(t *testing.T) {
	f := trainedForest(t)
	var buf bytes.Buffer
	if err := Encode(&buf, f); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	data := buf.Bytes()

	// Cut the stream at several points mid-structure.
	for _, cut := range []int{2, 5, 9, 13, len(data) / 2, len(data) - 1} {
		_, err := Decode(bytes.NewReader(data[:cut]))
		if !errors.Is(err, ErrTruncated) {
			t.Errorf("Cut at %d: got %v, want ErrTruncated", cut, err)
		}
	}
}

func TestDecode_BadTag(t *testing.T) {
	f := trainedForest(t)
	var buf bytes.Buffer
	if err := Encode(&buf, f); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	data := buf.Bytes()
	data[13] = 0x7A // first node tag

	_, err := Decode(bytes.NewReader(data))
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("Got %v, want ErrCorrupt", err)
	}
}

func codecHeader(featureCount, treeCount uint32) []byte {
	buf := []byte{'N', 'C', 'R', 'F', codecVersion}
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], featureCount)
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint32(tmp[:], treeCount)
	buf = append(buf, tmp[:]...)
	return buf
}

func TestDecode_OversizedHeaderCounts(t *testing.T) {
	// A corrupt header must fail decoding, not drive allocations.
	tests := []struct {
		name     string
		features uint32
		trees    uint32
	}{
		{"huge tree count", 4, math.MaxUint32},
		{"huge feature count", math.MaxUint32, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(bytes.NewReader(codecHeader(tt.features, tt.trees)))
			if !errors.Is(err, ErrCorrupt) {
				t.Errorf("Got %v, want ErrCorrupt", err)
			}
		})
	}
}

func TestDecode_LyingTreeCount(t *testing.T) {
	// A plausible tree count with too few trees in the stream is truncation.
	data := append(codecHeader(4, 1000), tagLeaf)
	var prob [8]byte
	binary.LittleEndian.PutUint64(prob[:], math.Float64bits(0.5))
	data = append(data, prob[:]...)

	_, err := Decode(bytes.NewReader(data))
	if !errors.Is(err, ErrTruncated) {
		t.Errorf("Got %v, want ErrTruncated", err)
	}
}

func TestDecode_DeepTagStream(t *testing.T) {
	// An all-internal tag stream nests left forever; decoding must stop at
	// the depth bound instead of growing the stack.
	var buf bytes.Buffer
	buf.Write(codecHeader(4, 1))
	internal := make([]byte, 13) // tag 0, featureIndex 0, threshold 0.0
	for i := 0; i < maxDecodeDepth+2; i++ {
		buf.Write(internal)
	}

	_, err := Decode(&buf)
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("Got %v, want ErrCorrupt", err)
	}
}

func TestDecode_TrailingData(t *testing.T) {
	f := trainedForest(t)
	var buf bytes.Buffer
	if err := Encode(&buf, f); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	buf.WriteByte(0x00)

	_, err := Decode(bytes.NewReader(buf.Bytes()))
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("Got %v, want ErrCorrupt", err)
	}
}

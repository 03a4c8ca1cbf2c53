package forest

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Binary model layout (little-endian):
//
//	magic "NCRF" | version byte | featureCount uint32 | treeCount uint32
//	per tree, pre-order:
//	  tag 0x00: internal -> featureIndex uint32, threshold float64, left subtree, right subtree
//	  tag 0x01: leaf     -> probability float64
var (
	ErrCorrupt   = errors.New("forest: corrupt model data")
	ErrTruncated = errors.New("forest: truncated model data")
)

var codecMagic = [4]byte{'N', 'C', 'R', 'F'}

const codecVersion = byte(1)

const (
	tagInternal = byte(0)
	tagLeaf     = byte(1)
)

// Decode limits. Header counts and the tag stream are untrusted input; each
// quantity that drives an allocation or recursion is bounded so a corrupt
// stream fails with ErrCorrupt instead of exhausting memory or stack.
const (
	maxDecodeNodes    = 1 << 24
	maxDecodeTrees    = 1 << 20
	maxDecodeFeatures = 1 << 16
	maxDecodeDepth    = 1 << 16
)

// Encode writes the forest in the binary model layout.
func Encode(w io.Writer, f *Forest) error {
	bw := bufio.NewWriter(w)

	if _, err := bw.Write(codecMagic[:]); err != nil {
		return err
	}
	if err := bw.WriteByte(codecVersion); err != nil {
		return err
	}
	if err := writeUint32(bw, uint32(f.featureCount)); err != nil {
		return err
	}
	if err := writeUint32(bw, uint32(len(f.trees))); err != nil {
		return err
	}

	for i := range f.trees {
		if err := encodeSubtree(bw, &f.trees[i], 0); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return bw.Flush()
}

func encodeSubtree(w *bufio.Writer, t *Tree, idx int32) error {
	n := t.nodes[idx]
	if n.isLeaf() {
		if err := w.WriteByte(tagLeaf); err != nil {
			return err
		}
		return writeFloat64(w, n.probability)
	}

	if err := w.WriteByte(tagInternal); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(n.featureIndex)); err != nil {
		return err
	}
	if err := writeFloat64(w, n.threshold); err != nil {
		return err
	}
	if err := encodeSubtree(w, t, n.left); err != nil {
		return err
	}
	return encodeSubtree(w, t, n.right)
}

// Decode is the exact inverse of Encode. It returns ErrCorrupt when the tag
// stream or header is malformed and ErrTruncated when the stream ends
// mid-structure.
func Decode(r io.Reader) (*Forest, error) {
	br := bufio.NewReader(r)

	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, truncatedOr(err)
	}
	if magic != codecMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, magic[:])
	}
	version, err := br.ReadByte()
	if err != nil {
		return nil, truncatedOr(err)
	}
	if version != codecVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, version)
	}

	featureCount, err := readUint32(br)
	if err != nil {
		return nil, err
	}
	treeCount, err := readUint32(br)
	if err != nil {
		return nil, err
	}
	if featureCount == 0 || treeCount == 0 {
		return nil, fmt.Errorf("%w: empty model (features=%d trees=%d)", ErrCorrupt, featureCount, treeCount)
	}
	if featureCount > maxDecodeFeatures {
		return nil, fmt.Errorf("%w: feature count %d exceeds %d", ErrCorrupt, featureCount, maxDecodeFeatures)
	}
	if treeCount > maxDecodeTrees {
		return nil, fmt.Errorf("%w: tree count %d exceeds %d", ErrCorrupt, treeCount, maxDecodeTrees)
	}

	f := &Forest{
		featureCount: int(featureCount),
	}
	// Trees are appended as they decode, never preallocated from the header,
	// so a lying count surfaces as truncation rather than a giant allocation.
	for i := uint32(0); i < treeCount; i++ {
		d := &treeDecoder{r: br, featureCount: int32(featureCount)}
		if _, err := d.subtree(0); err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		f.trees = append(f.trees, Tree{nodes: d.nodes})
	}

	// Anything left over means the byte stream does not match the header.
	switch _, err := br.ReadByte(); err {
	case io.EOF:
	case nil:
		return nil, fmt.Errorf("%w: trailing data after last tree", ErrCorrupt)
	default:
		return nil, err
	}
	return f, nil
}

type treeDecoder struct {
	r            *bufio.Reader
	featureCount int32
	nodes        []node
}

func (d *treeDecoder) subtree(depth int) (int32, error) {
	if len(d.nodes) >= maxDecodeNodes {
		return 0, fmt.Errorf("%w: tree exceeds %d nodes", ErrCorrupt, maxDecodeNodes)
	}
	if depth > maxDecodeDepth {
		return 0, fmt.Errorf("%w: tree exceeds depth %d", ErrCorrupt, maxDecodeDepth)
	}

	tag, err := d.r.ReadByte()
	if err != nil {
		return 0, truncatedOr(err)
	}

	switch tag {
	case tagLeaf:
		prob, err := readFloat64(d.r)
		if err != nil {
			return 0, err
		}
		if prob < 0 || prob > 1 || math.IsNaN(prob) {
			return 0, fmt.Errorf("%w: leaf probability %v out of range", ErrCorrupt, prob)
		}
		idx := int32(len(d.nodes))
		d.nodes = append(d.nodes, node{left: noChild, right: noChild, probability: prob})
		return idx, nil

	case tagInternal:
		featureIndex, err := readUint32(d.r)
		if err != nil {
			return 0, err
		}
		if int32(featureIndex) >= d.featureCount {
			return 0, fmt.Errorf("%w: feature index %d out of range", ErrCorrupt, featureIndex)
		}
		threshold, err := readFloat64(d.r)
		if err != nil {
			return 0, err
		}

		idx := int32(len(d.nodes))
		d.nodes = append(d.nodes, node{
			featureIndex: int32(featureIndex),
			threshold:    threshold,
		})
		left, err := d.subtree(depth + 1)
		if err != nil {
			return 0, err
		}
		right, err := d.subtree(depth + 1)
		if err != nil {
			return 0, err
		}
		d.nodes[idx].left = left
		d.nodes[idx].right = right
		return idx, nil

	default:
		return 0, fmt.Errorf("%w: unknown node tag 0x%02x", ErrCorrupt, tag)
	}
}

func truncatedOr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ErrTruncated
	}
	return err
}

func writeUint32(w *bufio.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readUint32(r *bufio.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, truncatedOr(err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func writeFloat64(w *bufio.Writer, v float64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
	_, err := w.Write(buf[:])
	return err
}

func readFloat64(r *bufio.Reader) (float64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, truncatedOr(err)
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(buf[:])), nil
}

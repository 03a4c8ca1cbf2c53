// Package forest implements the classifier: an ensemble of axis-aligned
// binary decision trees trained with bootstrap aggregation. Trees are stored
// as append-only node arenas addressed by index, which keeps ownership flat
// and makes serialization a direct array walk.
package forest

import (
	"errors"
	"fmt"
)

// Training errors.
var (
	ErrEmptyTrainingSet = errors.New("forest: empty training set")
	ErrInvalidLabel     = errors.New("forest: labels must be 0.0 or 1.0")
	ErrSingleClass      = errors.New("forest: training set contains a single class")
)

// LabelCountError reports a sample/label length mismatch.
type LabelCountError struct {
	Samples int
	Labels  int
}

func (e *LabelCountError) Error() string {
	return fmt.Sprintf("forest: %d samples but %d labels", e.Samples, e.Labels)
}

// DimensionError reports a feature vector of the wrong length.
type DimensionError struct {
	Want int
	Got  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("forest: feature vector has %d features, model expects %d", e.Got, e.Want)
}

const noChild = int32(-1)

// node is one arena slot. Leaves have left == noChild and carry only the
// class probability.
type node struct {
	featureIndex int32
	threshold    float64
	left         int32
	right        int32
	probability  float64
}

func (n node) isLeaf() bool { return n.left == noChild }

// Tree is a single trained decision tree. Immutable after training.
type Tree struct {
	nodes []node
}

// NodeCount returns the number of arena slots (internal nodes plus leaves).
func (t *Tree) NodeCount() int { return len(t.nodes) }

// Depth returns the maximum root-to-leaf depth. A lone leaf has depth 0.
func (t *Tree) Depth() int {
	if len(t.nodes) == 0 {
		return 0
	}
	return t.depthFrom(0)
}

func (t *Tree) depthFrom(idx int32) int {
	n := t.nodes[idx]
	if n.isLeaf() {
		return 0
	}
	left := t.depthFrom(n.left)
	right := t.depthFrom(n.right)
	if right > left {
		left = right
	}
	return left + 1
}

// predict walks root to leaf: left when vec[featureIndex] <= threshold.
// The vector length is validated by the owning Forest, not per tree.
func (t *Tree) predict(vec []float64) float64 {
	idx := int32(0)
	for {
		n := t.nodes[idx]
		if n.isLeaf() {
			return n.probability
		}
		if vec[n.featureIndex] <= n.threshold {
			idx = n.left
		} else {
			idx = n.right
		}
	}
}

// Forest is an ensemble of independently trained trees over vectors of
// featureCount features. Read-only after construction, so a loaded instance
// may serve any number of concurrent Predict calls.
type Forest struct {
	trees        []Tree
	featureCount int
}

// TreeCount returns the ensemble size.
func (f *Forest) TreeCount() int { return len(f.trees) }

// FeatureCount returns the feature vector length the model was trained on.
func (f *Forest) FeatureCount() int { return f.featureCount }

// Predict returns the mean class probability over all trees (soft voting),
// always in [0,1]. It fails only when vec has the wrong length.
func (f *Forest) Predict(vec []float64) (float64, error) {
	if len(vec) != f.featureCount {
		return 0, &DimensionError{Want: f.featureCount, Got: len(vec)}
	}
	if len(f.trees) == 0 {
		return 0, errors.New("forest: empty ensemble")
	}

	var sum float64
	for i := range f.trees {
		sum += f.trees[i].predict(vec)
	}
	return sum / float64(len(f.trees)), nil
}

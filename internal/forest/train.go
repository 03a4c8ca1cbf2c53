package forest

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

// TrainOptions controls ensemble induction. Zero values fall back to the
// defaults below, so TrainOptions{} trains a reasonable forest.
type TrainOptions struct {
	Trees       int   // ensemble size (default 100)
	MaxDepth    int   // maximum tree depth (default 10)
	MinLeafSize int   // stop splitting below this sample count (default 2)
	MaxFeatures int   // random features considered per split (default ceil(sqrt(featureCount)))
	Seed        int64 // RNG seed; tree i uses Seed+i (default 1)
	Parallelism int   // concurrent tree builds (default GOMAXPROCS)
}

func (o TrainOptions) withDefaults(featureCount int) TrainOptions {
	if o.Trees <= 0 {
		o.Trees = 100
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = 10
	}
	if o.MinLeafSize <= 0 {
		o.MinLeafSize = 2
	}
	if o.MaxFeatures <= 0 || o.MaxFeatures > featureCount {
		o.MaxFeatures = int(math.Ceil(math.Sqrt(float64(featureCount))))
	}
	if o.Seed == 0 {
		o.Seed = 1
	}
	if o.Parallelism <= 0 {
		o.Parallelism = runtime.GOMAXPROCS(0)
	}
	return o
}

// Train builds an ensemble from labeled feature vectors. Each tree trains on
// its own bootstrap resample and considers a random feature subset per split,
// which decorrelates trees across the forest. Trees build concurrently; the
// result is deterministic for a fixed Seed because tree i always derives its
// RNG from Seed+i regardless of scheduling.
func Train(ctx context.Context, samples [][]float64, labels []float64, opts TrainOptions) (*Forest, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyTrainingSet
	}
	if len(samples) != len(labels) {
		return nil, &LabelCountError{Samples: len(samples), Labels: len(labels)}
	}

	featureCount := len(samples[0])
	for _, s := range samples {
		if len(s) != featureCount {
			return nil, &DimensionError{Want: featureCount, Got: len(s)}
		}
	}

	var sawPositive, sawNegative bool
	for i, l := range labels {
		switch l {
		case 0.0:
			sawNegative = true
		case 1.0:
			sawPositive = true
		default:
			return nil, fmt.Errorf("%w: got %v at index %d", ErrInvalidLabel, l, i)
		}
	}
	// A one-class model would predict a constant; fail loudly instead.
	if !sawPositive || !sawNegative {
		return nil, ErrSingleClass
	}

	opts = opts.withDefaults(featureCount)

	trees := make([]Tree, opts.Trees)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallelism)

	for i := 0; i < opts.Trees; i++ {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			b := &treeBuilder{
				samples:      samples,
				labels:       labels,
				featureCount: featureCount,
				maxDepth:     opts.MaxDepth,
				minLeafSize:  opts.MinLeafSize,
				maxFeatures:  opts.MaxFeatures,
				rng:          rand.New(rand.NewSource(opts.Seed + int64(i))),
			}
			trees[i] = b.grow()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Forest{trees: trees, featureCount: featureCount}, nil
}

type treeBuilder struct {
	samples      [][]float64
	labels       []float64
	featureCount int
	maxDepth     int
	minLeafSize  int
	maxFeatures  int
	rng          *rand.Rand
	nodes        []node
}

// grow trains one tree on a bootstrap resample of the full training set.
func (b *treeBuilder) grow() Tree {
	n := len(b.samples)
	indices := make([]int, n)
	for i := range indices {
		indices[i] = b.rng.Intn(n)
	}
	b.split(indices, 0)
	return Tree{nodes: b.nodes}
}

// split recursively partitions the subset, appending nodes to the arena and
// returning the new node's index.
func (b *treeBuilder) split(indices []int, depth int) int32 {
	positives := 0
	for _, idx := range indices {
		if b.labels[idx] == 1.0 {
			positives++
		}
	}

	pure := positives == 0 || positives == len(indices)
	if pure || len(indices) < b.minLeafSize || depth >= b.maxDepth {
		return b.leaf(positives, len(indices))
	}

	feature, threshold, ok := b.bestSplit(indices)
	if !ok {
		return b.leaf(positives, len(indices))
	}

	var left, right []int
	for _, idx := range indices {
		if b.samples[idx][feature] <= threshold {
			left = append(left, idx)
		} else {
			right = append(right, idx)
		}
	}

	self := int32(len(b.nodes))
	b.nodes = append(b.nodes, node{
		featureIndex: int32(feature),
		threshold:    threshold,
	})
	b.nodes[self].left = b.split(left, depth+1)
	b.nodes[self].right = b.split(right, depth+1)
	return self
}

func (b *treeBuilder) leaf(positives, total int) int32 {
	prob := 0.0
	if total > 0 {
		prob = float64(positives) / float64(total)
	}
	idx := int32(len(b.nodes))
	b.nodes = append(b.nodes, node{
		left:        noChild,
		right:       noChild,
		probability: prob,
	})
	return idx
}

// bestSplit searches a random feature subset for the (feature, threshold)
// pair with maximal Gini impurity reduction. Features and candidate
// thresholds are scanned in ascending order and only strictly better gains
// replace the incumbent, so ties resolve to the lowest feature index and
// then the lowest threshold; training stays deterministic for a fixed seed.
func (b *treeBuilder) bestSplit(indices []int) (feature int, threshold float64, ok bool) {
	candidates := b.rng.Perm(b.featureCount)[:b.maxFeatures]
	sort.Ints(candidates)

	total := len(indices)
	totalPos := 0
	for _, idx := range indices {
		if b.labels[idx] == 1.0 {
			totalPos++
		}
	}
	parentGini := giniImpurity(totalPos, total)

	type point struct {
		value    float64
		positive bool
	}
	points := make([]point, total)

	bestGain := 0.0
	for _, f := range candidates {
		for i, idx := range indices {
			points[i] = point{value: b.samples[idx][f], positive: b.labels[idx] == 1.0}
		}
		sort.Slice(points, func(i, j int) bool { return points[i].value < points[j].value })

		// Sweep distinct values; each closes a candidate threshold at which
		// everything seen so far goes left. The last value is skipped since
		// it would leave the right side empty.
		leftCount, leftPos := 0, 0
		for i := 0; i < total; {
			v := points[i].value
			for i < total && points[i].value == v {
				if points[i].positive {
					leftPos++
				}
				leftCount++
				i++
			}
			if i == total {
				break
			}

			rightCount := total - leftCount
			rightPos := totalPos - leftPos
			weighted := (float64(leftCount)*giniImpurity(leftPos, leftCount) +
				float64(rightCount)*giniImpurity(rightPos, rightCount)) / float64(total)

			if gain := parentGini - weighted; gain > bestGain {
				bestGain = gain
				feature = f
				threshold = v
				ok = true
			}
		}
	}
	return feature, threshold, ok
}

// giniImpurity for a binary subset with pos positives out of n.
func giniImpurity(pos, n int) float64 {
	if n == 0 {
		return 0
	}
	p := float64(pos) / float64(n)
	return 2 * p * (1 - p)
}

package forest

import (
	"math"
	"sort"
)

// A Node represents a splitting decision of the form "x[FeatureIndex] < Threshold ?" in a decision tree
type Node struct {
	// FeatureIndex indicates which feature is used in this splitting decision
	FeatureIndex int `json:"feature_index"`
	// Threshold indicates the cutoff value between the left and right subtrees
	Threshold float64 `json:"threshold"`
	// LeftChild is the index of the node (or output, if LeftIsLeaf) for the left subtree
	LeftChild int `json:"left_child"`
	// LeftIsLeaf indicates whether the left subtree is a leaf node
	LeftIsLeaf bool `json:"left_is_leaf"`
	// RightChild is the index of the node (or output, if RightIsLeaf) for the right subtree
	RightChild int `json:"right_child"`
	// RightIsLeaf indicates whether the right subtree is a leaf node
	RightIsLeaf bool `json:"right_is_leaf"`
}

// A Tree is a regression tree stored as a flat list of nodes. A tree whose
// root is a leaf has no nodes and a single output.
type Tree struct {
	// Nodes is a flat list of all internal nodes, Nodes[0] is the root
	Nodes []Node `json:"nodes"`
	// Outputs holds the prediction for each leaf
	Outputs []float64 `json:"outputs"`
	// FeatureSize is the length of feature vectors processed by this tree
	FeatureSize int `json:"feature_size"`
	// Depth is the maximum depth of any leaf in the tree
	Depth int `json:"depth"`
}

// Bin drops a feature vector down the tree and returns the index of the leaf it ends up in
func (t *Tree) Bin(x []float64) int {
	if len(x) != t.FeatureSize {
		panic("feature vector had incorrect length")
	}
	if len(t.Nodes) == 0 {
		return 0
	}
	cur := t.Nodes[0]
	for i := 0; i < t.Depth; i++ {
		if x[cur.FeatureIndex] < cur.Threshold {
			if cur.LeftIsLeaf {
				return cur.LeftChild
			}
			cur = t.Nodes[cur.LeftChild]
		} else {
			if cur.RightIsLeaf {
				return cur.RightChild
			}
			cur = t.Nodes[cur.RightChild]
		}
	}
	panic("tree traversal did not terminate")
}

// Evaluate returns the output of the leaf x falls into.
func (t *Tree) Evaluate(x []float64) float64 {
	return t.Outputs[t.Bin(x)]
}

// builder grows one tree with CART variance-reduction splits.
type builder struct {
	X      [][]float64
	y      []float64
	params Params
	tree   *Tree
	// scratch buffer reused when sorting candidate splits
	order []int
}

// grow returns the child reference for the subtree over idx: either a node
// index or, when leaf is true, an output index.
func (b *builder) grow(idx []int, depth int) (ref int, leaf bool) {
	if depth > b.tree.Depth {
		b.tree.Depth = depth
	}

	if b.shouldStop(idx, depth) {
		return b.leaf(idx), true
	}

	feature, threshold, ok := b.bestSplit(idx)
	if !ok {
		return b.leaf(idx), true
	}

	var left, right []int
	for _, i := range idx {
		if b.X[i][feature] < threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	pos := len(b.tree.Nodes)
	b.tree.Nodes = append(b.tree.Nodes, Node{FeatureIndex: feature, Threshold: threshold})

	lref, lleaf := b.grow(left, depth+1)
	rref, rleaf := b.grow(right, depth+1)

	n := &b.tree.Nodes[pos]
	n.LeftChild, n.LeftIsLeaf = lref, lleaf
	n.RightChild, n.RightIsLeaf = rref, rleaf

	return pos, false
}

func (b *builder) shouldStop(idx []int, depth int) bool {
	if b.params.MaxDepth > 0 && depth >= b.params.MaxDepth {
		return true
	}
	if len(idx) < b.params.MinSamplesSplit || len(idx) < 2*b.params.MinSamplesLeaf {
		return true
	}
	first := b.y[idx[0]]
	for _, i := range idx[1:] {
		if b.y[i] != first {
			return false
		}
	}
	return true
}

func (b *builder) leaf(idx []int) int {
	var sum float64
	for _, i := range idx {
		sum += b.y[i]
	}
	b.tree.Outputs = append(b.tree.Outputs, sum/float64(len(idx)))
	return len(b.tree.Outputs) - 1
}

// bestSplit scans every feature for the threshold that minimizes the summed
// squared error of both sides while keeping MinSamplesLeaf samples per side.
func (b *builder) bestSplit(idx []int) (feature int, threshold float64, ok bool) {
	n := len(idx)
	minLeaf := b.params.MinSamplesLeaf

	var totalSum, totalSq float64
	for _, i := range idx {
		totalSum += b.y[i]
		totalSq += b.y[i] * b.y[i]
	}
	// parent SSE; a split must improve on it
	bestScore := totalSq - totalSum*totalSum/float64(n)

	order := b.order[:n]
	for f := 0; f < b.tree.FeatureSize; f++ {
		copy(order, idx)
		sort.Slice(order, func(a, c int) bool { return b.X[order[a]][f] < b.X[order[c]][f] })

		var leftSum, leftSq float64
		for k := 0; k < n-1; k++ {
			yi := b.y[order[k]]
			leftSum += yi
			leftSq += yi * yi

			nl := k + 1
			nr := n - nl
			if nl < minLeaf || nr < minLeaf {
				continue
			}

			lo, hi := b.X[order[k]][f], b.X[order[k+1]][f]
			if lo == hi {
				continue
			}

			rightSum := totalSum - leftSum
			rightSq := totalSq - leftSq
			score := (leftSq - leftSum*leftSum/float64(nl)) + (rightSq - rightSum*rightSum/float64(nr))

			if score < bestScore-1e-12 {
				bestScore = score
				feature = f
				threshold = lo + (hi-lo)/2
				if threshold <= lo || math.IsInf(threshold, 0) {
					threshold = hi
				}
				ok = true
			}
		}
	}
	return feature, threshold, ok
}

package model

import (
	"fmt"
	"math"
	"math/rand"
)

const eulerGamma = 0.5772156649015329

// treeNode is one node of an isolation tree. Leaves carry the number of
// samples that reached them; internal nodes carry a split.
type treeNode struct {
	SplitCol int       `json:"col,omitempty"`
	SplitVal float64   `json:"val,omitempty"`
	Left     *treeNode `json:"left,omitempty"`
	Right    *treeNode `json:"right,omitempty"`
	Size     int       `json:"size,omitempty"`
}

func (n *treeNode) leaf() bool { return n.Left == nil && n.Right == nil }

// Forest is an ensemble of isolation trees. Training is fully determined
// by (Seed, Trees, SubsampleSize) and the input matrix, so two fits on
// identical data produce identical artifacts.
type Forest struct {
	Seed          int64       `json:"seed"`
	SubsampleSize int         `json:"subsampleSize"`
	Roots         []*treeNode `json:"trees"`
}

// TrainForest fits numTrees isolation trees on the matrix. Each tree gets
// its own subsample of up to subsampleSize rows and a rng derived from the
// base seed.
func TrainForest(matrix [][]float64, numTrees, subsampleSize int, seed int64) (*Forest, error) {
	if len(matrix) == 0 {
		return nil, fmt.Errorf("train forest: empty matrix")
	}
	if numTrees <= 0 {
		return nil, fmt.Errorf("train forest: need at least one tree, got %d", numTrees)
	}
	psi := subsampleSize
	if psi <= 0 || psi > len(matrix) {
		psi = len(matrix)
	}

	f := &Forest{
		Seed:          seed,
		SubsampleSize: psi,
		Roots:         make([]*treeNode, numTrees),
	}
	heightLimit := int(math.Ceil(math.Log2(float64(psi))))
	if heightLimit < 1 {
		heightLimit = 1
	}

	for t := 0; t < numTrees; t++ {
		rng := rand.New(rand.NewSource(seed + int64(t)))
		sample := subsample(matrix, psi, rng)
		f.Roots[t] = buildTree(sample, 0, heightLimit, rng)
	}
	return f, nil
}

// subsample draws n distinct rows via a partial Fisher-Yates shuffle of
// the index space.
func subsample(matrix [][]float64, n int, rng *rand.Rand) [][]float64 {
	idx := make([]int, len(matrix))
	for i := range idx {
		idx[i] = i
	}
	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		j := i + rng.Intn(len(idx)-i)
		idx[i], idx[j] = idx[j], idx[i]
		out[i] = matrix[idx[i]]
	}
	return out
}

func buildTree(rows [][]float64, depth, heightLimit int, rng *rand.Rand) *treeNode {
	if len(rows) <= 1 || depth >= heightLimit {
		return &treeNode{Size: len(rows)}
	}

	// Candidate columns are those with more than one distinct value.
	cols := len(rows[0])
	var candidates []int
	for j := 0; j < cols; j++ {
		lo, hi := columnRange(rows, j)
		if hi > lo {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return &treeNode{Size: len(rows)}
	}

	col := candidates[rng.Intn(len(candidates))]
	lo, hi := columnRange(rows, col)
	split := lo + rng.Float64()*(hi-lo)

	var left, right [][]float64
	for _, row := range rows {
		if row[col] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	return &treeNode{
		SplitCol: col,
		SplitVal: split,
		Left:     buildTree(left, depth+1, heightLimit, rng),
		Right:    buildTree(right, depth+1, heightLimit, rng),
	}
}

func columnRange(rows [][]float64, col int) (lo, hi float64) {
	lo, hi = rows[0][col], rows[0][col]
	for _, row := range rows[1:] {
		v := row[col]
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// pathLength walks the row down one tree, adding the average unsuccessful
// BST search depth at the leaf it lands in.
func pathLength(root *treeNode, row []float64) float64 {
	depth := 0.0
	n := root
	for !n.leaf() {
		if row[n.SplitCol] < n.SplitVal {
			n = n.Left
		} else {
			n = n.Right
		}
		depth++
	}
	return depth + avgPathLength(n.Size)
}

// avgPathLength is c(n), the expected path length of an unsuccessful
// search in a BST of n nodes.
func avgPathLength(n int) float64 {
	switch {
	case n > 2:
		h := math.Log(float64(n-1)) + eulerGamma
		return 2*h - 2*float64(n-1)/float64(n)
	case n == 2:
		return 1
	default:
		return 0
	}
}

// Score returns the anomaly score in (0, 1] for one row: higher means
// more isolated.
func (f *Forest) Score(row []float64) float64 {
	var total float64
	for _, root := range f.Roots {
		total += pathLength(root, row)
	}
	mean := total / float64(len(f.Roots))
	return math.Pow(2, -mean/avgPathLength(f.SubsampleSize))
}

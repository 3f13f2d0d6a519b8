package symptom

import "fmt"

type tree struct {
	left, right []int
	feature     []int
	threshold   []float64
	// proba[i] is the normalized class distribution at node i.
	proba [][]float64
}

func newTree(ta TreeArtifact, nFeatures, nClasses int) (tree, error) {
	n := len(ta.ChildrenLeft)
	if n == 0 {
		return tree{}, fmt.Errorf("no nodes")
	}
	if len(ta.ChildrenRight) != n || len(ta.Feature) != n || len(ta.Threshold) != n || len(ta.Value) != n {
		return tree{}, fmt.Errorf("node arrays have different lengths")
	}

	t := tree{
		left:      ta.ChildrenLeft,
		right:     ta.ChildrenRight,
		feature:   ta.Feature,
		threshold: ta.Threshold,
		proba:     make([][]float64, n),
	}

	for i := 0; i < n; i++ {
		if len(ta.Value[i]) != nClasses {
			return tree{}, fmt.Errorf("node %d has %d class values, want %d", i, len(ta.Value[i]), nClasses)
		}
		t.proba[i] = normalize(ta.Value[i])

		l, r := ta.ChildrenLeft[i], ta.ChildrenRight[i]
		if l == leaf {
			if r != leaf {
				return tree{}, fmt.Errorf("node %d has only one child", i)
			}
			continue
		}
		if l <= i || l >= n || r <= i || r >= n {
			return tree{}, fmt.Errorf("node %d has child out of range", i)
		}
		if f := ta.Feature[i]; f < 0 || f >= nFeatures {
			return tree{}, fmt.Errorf("node %d splits on feature %d of %d", i, f, nFeatures)
		}
	}
	return t, nil
}

// predict walks from the root to a leaf. Children always have a higher index
// than their parent (checked in newTree), so the walk terminates.
func (t *tree) predict(x []float64) []float64 {
	node := 0
	for t.left[node] != leaf {
		if x[t.feature[node]] <= t.threshold[node] {
			node = t.left[node]
		} else {
			node = t.right[node]
		}
	}
	return t.proba[node]
}

func normalize(v []float64) []float64 {
	out := make([]float64, len(v))
	var sum float64
	for _, x := range v {
		sum += x
	}
	if sum <= 0 {
		return out
	}
	for i, x := range v {
		out[i] = x / sum
	}
	return out
}

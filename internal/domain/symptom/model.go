// Package symptom turns a free-text, comma separated symptom list into a
// binary feature vector over a fixed vocabulary and asks a pre-trained
// random forest for the most likely condition.
//
// The model artifacts are JSON exports of a fitted vectorizer (its ordered
// feature names) and of a random forest whose trees use the same parallel
// array layout as a scikit-learn tree_: children_left, children_right,
// feature, threshold and per-node class distributions.
package symptom

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

var ErrInvalidModel = errors.New("invalid model artifact")

// VectorizerArtifact is the exported vectorizer.
type VectorizerArtifact struct {
	FeatureNames []string `json:"feature_names"`
}

// ForestArtifact is the exported random forest.
type ForestArtifact struct {
	Classes   []string       `json:"classes"`
	NFeatures int            `json:"n_features"`
	Trees     []TreeArtifact `json:"trees"`
}

// TreeArtifact is one decision tree. Node i is a leaf when
// ChildrenLeft[i] == -1. Value[i] holds the class distribution at node i,
// either raw counts or fractions.
type TreeArtifact struct {
	ChildrenLeft  []int       `json:"children_left"`
	ChildrenRight []int       `json:"children_right"`
	Feature       []int       `json:"feature"`
	Threshold     []float64   `json:"threshold"`
	Value         [][]float64 `json:"value"`
}

const leaf = -1

// Load reads both artifacts from disk. Any failure is fatal for the caller:
// there is no fallback model.
func Load(modelPath, vectorizerPath string) (*Classifier, error) {
	mf, err := os.Open(modelPath)
	if err != nil {
		return nil, fmt.Errorf("opening model: %w", err)
	}
	defer mf.Close()

	vf, err := os.Open(vectorizerPath)
	if err != nil {
		return nil, fmt.Errorf("opening vectorizer: %w", err)
	}
	defer vf.Close()

	return LoadFrom(mf, vf)
}

// LoadFrom decodes and validates the artifacts.
func LoadFrom(model, vectorizer io.Reader) (*Classifier, error) {
	var va VectorizerArtifact
	if err := json.NewDecoder(vectorizer).Decode(&va); err != nil {
		return nil, fmt.Errorf("%w: decoding vectorizer: %v", ErrInvalidModel, err)
	}
	var fa ForestArtifact
	if err := json.NewDecoder(model).Decode(&fa); err != nil {
		return nil, fmt.Errorf("%w: decoding model: %v", ErrInvalidModel, err)
	}
	return New(va, fa)
}

// New builds a classifier from already decoded artifacts.
func New(va VectorizerArtifact, fa ForestArtifact) (*Classifier, error) {
	if len(va.FeatureNames) == 0 {
		return nil, fmt.Errorf("%w: vectorizer has no features", ErrInvalidModel)
	}
	if fa.NFeatures != len(va.FeatureNames) {
		return nil, fmt.Errorf("%w: model expects %d features, vectorizer has %d",
			ErrInvalidModel, fa.NFeatures, len(va.FeatureNames))
	}
	if len(fa.Classes) == 0 {
		return nil, fmt.Errorf("%w: model has no classes", ErrInvalidModel)
	}
	if len(fa.Trees) == 0 {
		return nil, fmt.Errorf("%w: model has no trees", ErrInvalidModel)
	}

	seen := make(map[string]bool, len(va.FeatureNames))
	for _, name := range va.FeatureNames {
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate feature %q", ErrInvalidModel, name)
		}
		seen[name] = true
	}

	trees := make([]tree, 0, len(fa.Trees))
	for i, ta := range fa.Trees {
		t, err := newTree(ta, fa.NFeatures, len(fa.Classes))
		if err != nil {
			return nil, fmt.Errorf("%w: tree %d: %v", ErrInvalidModel, i, err)
		}
		trees = append(trees, t)
	}

	return &Classifier{
		vocabulary: append([]string(nil), va.FeatureNames...),
		classes:    append([]string(nil), fa.Classes...),
		trees:      trees,
	}, nil
}

package symptom

import (
	"errors"
	"strings"
)

// ErrInput is returned for a blank symptom description.
var ErrInput = errors.New("please enter your symptoms")

// Classifier is read-only after construction and safe for concurrent use.
type Classifier struct {
	vocabulary []string
	classes    []string
	trees      []tree
}

// Info summarizes a loaded model.
type Info struct {
	Features int
	Classes  []string
	Trees    int
}

// Vocabulary returns a copy of the ordered feature names.
func (c *Classifier) Vocabulary() []string {
	return append([]string(nil), c.vocabulary...)
}

func (c *Classifier) Describe() Info {
	return Info{
		Features: len(c.vocabulary),
		Classes:  append([]string(nil), c.classes...),
		Trees:    len(c.trees),
	}
}

// Tokens splits text on commas and trims and lowercases each piece. Empty
// pieces are dropped.
func Tokens(text string) []string {
	var out []string
	for _, part := range strings.Split(text, ",") {
		tok := strings.ToLower(strings.TrimSpace(part))
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// Vectorize returns a vector of len(Vocabulary()) where position i is 1 iff
// vocabulary[i] is one of the input tokens. Unknown tokens are ignored.
func (c *Classifier) Vectorize(text string) []float64 {
	present := make(map[string]bool)
	for _, tok := range Tokens(text) {
		present[tok] = true
	}
	x := make([]float64, len(c.vocabulary))
	for i, name := range c.vocabulary {
		if present[name] {
			x[i] = 1
		}
	}
	return x
}

// Predict returns the most probable class for the described symptoms. An
// input with no known symptom still yields a label.
func (c *Classifier) Predict(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrInput
	}
	return c.predictVector(c.Vectorize(text)), nil
}

// predictVector averages the class distributions of all trees and returns
// the arg-max class. Ties go to the lowest class index.
func (c *Classifier) predictVector(x []float64) string {
	avg := make([]float64, len(c.classes))
	for i := range c.trees {
		for k, p := range c.trees[i].predict(x) {
			avg[k] += p
		}
	}
	best := 0
	for k := 1; k < len(avg); k++ {
		if avg[k] > avg[best] {
			best = k
		}
	}
	return c.classes[best]
}

// Package strategy defines the Classifier interface that assigns a market
// stage to each week, and a Registry for selecting an implementation by
// name.
package strategy

import (
	"sort"

	"weinstein/internal/domain"
)

// Input is the weekly evidence a classifier looks at.
type Input struct {
	Close float64
	MA30  *float64
	Slope *float64
}

// InputFrom extracts classifier input from a weekly record. ok is false
// when the record has no close.
func InputFrom(w domain.WeeklyRecord) (Input, bool) {
	if w.Close == nil {
		return Input{}, false
	}
	return Input{Close: *w.Close, MA30: w.MA30, Slope: w.MA30Slope}, true
}

// Classifier assigns a stage to a week given the stage of the week before.
// prev is StageUnknown for the first classified week.
type Classifier interface {
	// Name returns the unique identifier for this classifier.
	Name() string

	// Classify returns the stage of the week described by in.
	Classify(in Input, prev domain.Stage) domain.Stage
}

// ClassifyHistory assigns stages to hist in order, feeding each result into
// the next week. Weeks without a close keep the previous stage. The slice
// is modified in place.
func ClassifyHistory(c Classifier, hist []domain.WeeklyRecord) {
	prev := domain.StageUnknown
	for i := range hist {
		in, ok := InputFrom(hist[i])
		if !ok {
			hist[i].Stage = prev
			continue
		}
		hist[i].Stage = c.Classify(in, prev)
		prev = hist[i].Stage
	}
}

// Registry holds a named collection of classifiers for lookup and
// enumeration.
type Registry struct {
	classifiers map[string]Classifier
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		classifiers: make(map[string]Classifier),
	}
}

// Register adds a classifier to the registry, keyed by its Name().
func (r *Registry) Register(c Classifier) {
	r.classifiers[c.Name()] = c
}

// Get retrieves a classifier by name.
func (r *Registry) Get(name string) (Classifier, bool) {
	c, ok := r.classifiers[name]
	return c, ok
}

// List returns a sorted slice of all registered classifier names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.classifiers))
	for name := range r.classifiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

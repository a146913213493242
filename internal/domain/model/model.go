// Package model defines the Model entity: a named generative model hosted by
// an Endpoint, and the reconciliation diff used to keep the stored set in
// sync with a probe's observed tag listing.
package model

import "math"

// Model is a named generative model advertised by an Endpoint's tag listing.
type Model struct {
	ID                int64
	EndpointID        int64
	Name              string
	ParameterSize     string
	QuantizationLevel string
	SizeMB            float64
	ModelType         string
	Capabilities      []string
}

// sizeToleranceMB is the tolerance within which two SizeMB values are
// considered unchanged during reconciliation (§4.4).
const sizeToleranceMB = 0.1

// Equal reports whether m and other describe the same observable model
// state, ignoring ID and EndpointID.
func (m Model) Equal(other Model) bool {
	return m.ParameterSize == other.ParameterSize &&
		m.QuantizationLevel == other.QuantizationLevel &&
		math.Abs(m.SizeMB-other.SizeMB) <= sizeToleranceMB
}

// Diff is the result of reconciling a stored Model set against an observed
// one, keyed by name.
type Diff struct {
	Add    []Model
	Update []Model
	Remove []Model
}

// Reconcile computes the add/update/remove sets needed to make stored match
// observed, both keyed by Name. observed entries keep the EndpointID and
// (when present) ID of their stored counterpart.
func Reconcile(stored, observed []Model) Diff {
	storedByName := make(map[string]Model, len(stored))
	for _, m := range stored {
		storedByName[m.Name] = m
	}

	seen := make(map[string]bool, len(observed))
	var diff Diff

	for _, obs := range observed {
		seen[obs.Name] = true
		old, exists := storedByName[obs.Name]
		if !exists {
			diff.Add = append(diff.Add, obs)
			continue
		}
		if !old.Equal(obs) {
			merged := obs
			merged.ID = old.ID
			merged.EndpointID = old.EndpointID
			diff.Update = append(diff.Update, merged)
		}
	}

	for _, old := range stored {
		if !seen[old.Name] {
			diff.Remove = append(diff.Remove, old)
		}
	}

	return diff
}

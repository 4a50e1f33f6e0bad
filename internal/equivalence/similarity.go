package equivalence

import (
	"github.com/aretw0/droidscout/pkg/domain"
	"github.com/corona10/goimagehash"
)

// HashBits is the width of the perceptual hash.
const HashBits = 64

// HashDistance is the Hamming distance between two perceptual hashes.
func HashDistance(a, b uint64) int {
	d, err := goimagehash.NewImageHash(a, goimagehash.PHash).
		Distance(goimagehash.NewImageHash(b, goimagehash.PHash))
	if err != nil {
		// Same kind on both sides; unreachable.
		return HashBits
	}
	return d
}

// Jaccard compares the structural feature sets of two screens.
// Identical fingerprints short-circuit to 1. Two empty sets are identical; one empty set matches nothing.
func Jaccard(a, b *domain.Snapshot) float64 {
	if a.HasFingerprint() && a.StructuralFingerprint == b.StructuralFingerprint {
		return 1
	}
	if len(a.Features) == 0 && len(b.Features) == 0 {
		return 1
	}
	if len(a.Features) == 0 || len(b.Features) == 0 {
		return 0
	}

	set := make(map[string]bool, len(a.Features))
	for _, f := range a.Features {
		set[f] = true
	}
	union := len(set)
	inter := 0
	seen := make(map[string]bool, len(b.Features))
	for _, f := range b.Features {
		if seen[f] {
			continue
		}
		seen[f] = true
		if set[f] {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}

// Weights balance structural and visual evidence in the composite score.
type Weights struct {
	Structural float64
	Visual     float64
}

// DefaultWeights relies on the perceptual hash only.
var DefaultWeights = Weights{Structural: 0, Visual: 1}

// Similarity is the composite score of two screens. It is symmetric in a and b.
func (w Weights) Similarity(a, b *domain.Snapshot) float64 {
	visual := 1 - float64(HashDistance(a.PerceptualHash, b.PerceptualHash))/HashBits
	return w.Structural*Jaccard(a, b) + w.Visual*visual
}

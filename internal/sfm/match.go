package sfm

import (
	"fmt"
	"log"
	"sort"

	"github.com/golang/geo/r3"
)

// DefaultMinCorrespondences is the minimum number of matched pairs required
// by the similarity solve (three non-collinear points fix a similarity).
const DefaultMinCorrespondences = 3

// MatcherConfig controls correspondence matching between a reconstruction and
// the ground truth.
type MatcherConfig struct {
	// UseIdentifiers selects frame-number matching when both sources carry
	// filename-derived identifiers. When false, or for entities without a
	// frame number, nearest-neighbour spatial matching is used.
	UseIdentifiers bool

	// DistanceThreshold is the maximum accepted nearest-neighbour distance.
	// Zero or negative means unlimited.
	DistanceThreshold float64

	// MinCorrespondences is the minimum number of matches required for the
	// downstream similarity solve.
	MinCorrespondences int
}

// DefaultMatcherConfig returns the matching defaults used by the CLI.
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		UseIdentifiers:     true,
		DistanceThreshold:  0,
		MinCorrespondences: DefaultMinCorrespondences,
	}
}

// Correspondence pairs a reconstructed entity with its matched ground truth
// entity. Indices refer to the input slices of the matching call.
type Correspondence struct {
	ReconIdx int
	TruthIdx int
	Distance float64 // spatial distance at match time, 0 for identifier matches
}

// CorrespondenceSet is the output of a matching pass. Every ground truth
// entity appears in at most one pair.
type CorrespondenceSet struct {
	Pairs          []Correspondence
	UnmatchedRecon []int
	UnmatchedTruth []int
}

// MatchedCount returns the number of matched pairs.
func (cs *CorrespondenceSet) MatchedCount() int { return len(cs.Pairs) }

// MatchCameras matches reconstructed cameras to ground truth cameras.
//
// The primary policy matches by frame number (both the ground truth writer and
// the reconstruction parsers derive frames from image filenames). Cameras
// without a usable frame number fall back to nearest-neighbour matching on
// position, bounded by the distance threshold. Reconstructed cameras with no
// acceptable ground truth partner are recorded as unmatched.
func MatchCameras(truth, recon []CameraPose, cfg MatcherConfig) (*CorrespondenceSet, error) {
	cs := &CorrespondenceSet{}
	claimed := make([]bool, len(truth))
	var spatial []int // recon indices deferred to spatial matching

	if cfg.UseIdentifiers {
		byFrame := make(map[int]int, len(truth))
		for i, t := range truth {
			if t.Frame >= 0 {
				if _, dup := byFrame[t.Frame]; dup {
					return nil, &MalformedInputError{
						EntityID: t.ID,
						Reason:   fmt.Sprintf("duplicate ground truth frame %d", t.Frame),
					}
				}
				byFrame[t.Frame] = i
			}
		}
		for i, r := range recon {
			ti, ok := byFrame[r.Frame]
			if r.Frame < 0 || !ok {
				spatial = append(spatial, i)
				continue
			}
			if claimed[ti] {
				// A second reconstruction of the same frame cannot claim
				// the ground truth camera again.
				cs.UnmatchedRecon = append(cs.UnmatchedRecon, i)
				continue
			}
			claimed[ti] = true
			cs.Pairs = append(cs.Pairs, Correspondence{ReconIdx: i, TruthIdx: ti})
		}
	} else {
		for i := range recon {
			spatial = append(spatial, i)
		}
	}

	if len(spatial) > 0 {
		truthPos := make([]r3.Vector, len(truth))
		for i, t := range truth {
			truthPos[i] = t.Position
		}
		reconPos := make([]r3.Vector, len(spatial))
		for i, ri := range spatial {
			reconPos[i] = recon[ri].Position
		}
		matchNearest(cs, claimed, truthPos, reconPos, spatial, cfg.DistanceThreshold)
	}

	for ti, c := range claimed {
		if !c {
			cs.UnmatchedTruth = append(cs.UnmatchedTruth, ti)
		}
	}
	sort.Ints(cs.UnmatchedRecon)

	min := cfg.MinCorrespondences
	if min <= 0 {
		min = DefaultMinCorrespondences
	}
	if len(cs.Pairs) < min {
		return nil, fmt.Errorf("%w: %d matches, need %d", ErrInsufficientCorrespondences, len(cs.Pairs), min)
	}
	log.Printf("[Matcher] Matched %d/%d cameras (%d reconstructed unmatched)",
		len(cs.Pairs), len(truth), len(cs.UnmatchedRecon))
	return cs, nil
}

// MatchPoints matches reconstructed points to ground truth points by nearest
// neighbour within the distance threshold. Point identifiers are not stable
// across SfM pipelines, so identifier matching is not attempted.
func MatchPoints(truth, recon []PointSample, cfg MatcherConfig) (*CorrespondenceSet, error) {
	cs := &CorrespondenceSet{}
	claimed := make([]bool, len(truth))

	truthPos := make([]r3.Vector, len(truth))
	for i, t := range truth {
		truthPos[i] = t.Position
	}
	reconPos := make([]r3.Vector, len(recon))
	reconIdx := make([]int, len(recon))
	for i, r := range recon {
		reconPos[i] = r.Position
		reconIdx[i] = i
	}
	matchNearest(cs, claimed, truthPos, reconPos, reconIdx, cfg.DistanceThreshold)

	for ti, c := range claimed {
		if !c {
			cs.UnmatchedTruth = append(cs.UnmatchedTruth, ti)
		}
	}

	min := cfg.MinCorrespondences
	if min <= 0 {
		min = DefaultMinCorrespondences
	}
	if len(cs.Pairs) < min {
		return nil, fmt.Errorf("%w: %d matches, need %d", ErrInsufficientCorrespondences, len(cs.Pairs), min)
	}
	return cs, nil
}

// matchNearest greedily assigns each reconstructed position to its nearest
// unclaimed ground truth position. Candidates are processed closest first so
// that duplicate claims resolve in favour of the better match.
func matchNearest(cs *CorrespondenceSet, claimed []bool, truthPos, reconPos []r3.Vector, reconIdx []int, threshold float64) {
	index := NewPointIndex(truthPos)

	type candidate struct {
		recon, truth int
		dist         float64
	}
	cands := make([]candidate, 0, len(reconPos))
	for i, p := range reconPos {
		ti, d := index.Nearest(p)
		if ti < 0 || (threshold > 0 && d > threshold) {
			cs.UnmatchedRecon = append(cs.UnmatchedRecon, reconIdx[i])
			continue
		}
		cands = append(cands, candidate{recon: reconIdx[i], truth: ti, dist: d})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })

	for _, c := range cands {
		if claimed[c.truth] {
			cs.UnmatchedRecon = append(cs.UnmatchedRecon, c.recon)
			continue
		}
		claimed[c.truth] = true
		cs.Pairs = append(cs.Pairs, Correspondence{ReconIdx: c.recon, TruthIdx: c.truth, Distance: c.dist})
	}
}

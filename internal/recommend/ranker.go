package recommend

import (
	"context"
	"math"
	"sort"
)

// Scoring weights. The similarity match dominates; tag overlap and
// relative popularity nudge the order.
const (
	weightMatch      = 0.7
	weightTagOverlap = 0.2
	weightPopularity = 0.1

	// defaultBase stands in for candidates with no match score.
	defaultBase = 0.4
)

// Ranker scores mapped candidates against the seed track's tag profile.
type Ranker struct {
	tags *TagService
}

// NewRanker creates a ranker.
func NewRanker(tags *TagService) *Ranker {
	return &Ranker{tags: tags}
}

// Rank scores every mapped candidate and sorts the result by score
// descending, then popularity descending with unknown popularity last,
// then name ascending. The base term is the candidate's raw match score
// from the similarity source; candidates without one (the top-tracks and
// charts strategies carry no scores) fall back to a flat prior, so a
// successful catalog mapping alone never inflates the score.
func (r *Ranker) Rank(ctx context.Context, mapped []Mapped, seedTags []string) []Ranked {
	mean, stddev := popularityStats(mapped)

	ranked := make([]Ranked, 0, len(mapped))
	for _, m := range mapped {
		base := m.Candidate.Match
		if base <= 0 {
			base = defaultBase
		}

		overlap := Jaccard(seedTags, r.tags.ArtistTags(ctx, m.artistName()))

		var popZ float64
		if stddev > 0 {
			if pop := m.popularity(); pop != nil {
				popZ = (float64(*pop) - mean) / stddev
			}
		}

		score := weightMatch*base + weightTagOverlap*overlap + weightPopularity*popZ
		ranked = append(ranked, Ranked{Mapped: m, Score: score, TagOverlap: overlap})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		pi, pj := ranked[i].popularity(), ranked[j].popularity()
		switch {
		case pi != nil && pj != nil && *pi != *pj:
			return *pi > *pj
		case pi != nil && pj == nil:
			return true
		case pi == nil && pj != nil:
			return false
		}
		return ranked[i].trackName() < ranked[j].trackName()
	})
	return ranked
}

// popularityStats computes mean and population standard deviation over
// candidates with a known popularity.
func popularityStats(mapped []Mapped) (mean, stddev float64) {
	var sum float64
	var n int
	for _, m := range mapped {
		if pop := m.popularity(); pop != nil {
			sum += float64(*pop)
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	mean = sum / float64(n)

	var sq float64
	for _, m := range mapped {
		if pop := m.popularity(); pop != nil {
			d := float64(*pop) - mean
			sq += d * d
		}
	}
	return mean, math.Sqrt(sq / float64(n))
}

func (m Mapped) popularity() *int {
	if m.Track == nil {
		return nil
	}
	return m.Track.Popularity
}

func (m Mapped) artistName() string {
	if m.Track != nil && m.Track.Artist != "" {
		return m.Track.Artist
	}
	return m.Candidate.Artist
}

func (m Mapped) trackName() string {
	if m.Track != nil && m.Track.Name != "" {
		return m.Track.Name
	}
	return m.Candidate.Name
}

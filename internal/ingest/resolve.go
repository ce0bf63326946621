package ingest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/JonMunkholm/simsync/internal/match"
	"github.com/JonMunkholm/simsync/internal/registry"
	"github.com/JonMunkholm/simsync/internal/schema"
)

// Outcome is the planned fate of one candidate.
type Outcome string

const (
	OutcomeCreate       Outcome = "create"
	OutcomeUpdate       Outcome = "update"
	OutcomeRenameOrMove Outcome = "renameOrMove"
	OutcomeAmbiguous    Outcome = "ambiguous"
)

// How an update was resolved.
const (
	ViaExactKey    = "exactKey"
	ViaInactiveKey = "inactiveKey"
	ViaAlias       = "alias"
	ViaFuzzy       = "fuzzy"
	ViaNoCandidate = "noCandidate"
	ViaSharedTop   = "sharedTop"
)

// ScoredMatch is one existing entity scored against a candidate.
type ScoredMatch struct {
	UID     string   `json:"uid"`
	Key     string   `json:"key"`
	Score   float64  `json:"matchScore"`
	Reasons []string `json:"reasons"`
}

// Resolution is the plan for one candidate. UID is empty for creates and
// ambiguous outcomes.
type Resolution struct {
	Candidate  Candidate     `json:"candidate"`
	Outcome    Outcome       `json:"outcome"`
	Via        string        `json:"via"`
	UID        string        `json:"uid,omitempty"`
	Reactivate bool          `json:"reactivate,omitempty"`
	Score      float64       `json:"score,omitempty"`
	Reasons    []string      `json:"reasons,omitempty"`
	Matches    []ScoredMatch `json:"matches,omitempty"`
}

// ResolveOptions holds the fuzzy thresholds. Scores are on a 0-100 scale.
type ResolveOptions struct {
	HighThreshold float64
	Margin        float64
	Floor         float64

	// KeyWeight is the share of the score taken by key similarity; the
	// rest comes from weighted label agreement.
	KeyWeight float64

	// RecentWindow limits fuzzy matching against inactive entities to
	// those deactivated within the window. Zero excludes inactive ones.
	RecentWindow time.Duration

	// Now is the reference time for RecentWindow.
	Now time.Time

	Workers int
}

// DefaultResolveOptions returns the stock thresholds.
func DefaultResolveOptions() ResolveOptions {
	return ResolveOptions{
		HighThreshold: 90,
		Margin:        5,
		Floor:         50,
		KeyWeight:     0.3,
		RecentWindow:  90 * 24 * time.Hour,
	}
}

// candidatesPerTask is the chunk size for parallel fuzzy scoring.
const candidatesPerTask = 32

// Resolve plans an outcome for every candidate against the registry. It
// reads the registry only. The order of the result follows the sorted
// candidates (plant, type, key).
//
// Order of precedence per candidate: exact active key, alias rule, exact
// inactive key, fuzzy match. Fuzzy matching only considers entities that no
// earlier step claimed in this run.
func Resolve(ctx context.Context, reg *registry.Registry, cands []Candidate, c *schema.Catalog, opts ResolveOptions) ([]Resolution, error) {
	sorted := make([]Candidate, len(cands))
	copy(sorted, cands)
	sortCandidates(sorted)

	out := make([]Resolution, len(sorted))
	claimed := make(map[string]bool)
	var fuzzy []int

	for i, cand := range sorted {
		out[i] = Resolution{Candidate: cand}
		ns := cand.Namespace()

		if e, ok := reg.ActiveByKey(ns, cand.Key); ok {
			out[i].Outcome, out[i].Via, out[i].UID = OutcomeUpdate, ViaExactKey, e.UID
			claimed[e.UID] = true
			continue
		}

		if a, ok := reg.Alias(ns, cand.Key); ok {
			if e, exists := reg.Entity(a.TargetUID); exists {
				out[i].Outcome, out[i].Via, out[i].UID = OutcomeUpdate, ViaAlias, e.UID
				out[i].Reactivate = !e.Active()
				out[i].Reasons = []string{fmt.Sprintf("alias %s -> %s", cand.Key, e.Key)}
				claimed[e.UID] = true
				continue
			}
		}

		if e, ok := latestInactive(reg.InNamespace(ns), cand.Key); ok {
			out[i].Outcome, out[i].Via, out[i].UID = OutcomeUpdate, ViaInactiveKey, e.UID
			out[i].Reactivate = true
			claimed[e.UID] = true
			continue
		}

		fuzzy = append(fuzzy, i)
	}

	if len(fuzzy) == 0 {
		return out, ctx.Err()
	}

	pools := make(map[registry.Namespace][]registry.EntityRecord)
	for _, i := range fuzzy {
		ns := out[i].Candidate.Namespace()
		if _, done := pools[ns]; done {
			continue
		}
		var pool []registry.EntityRecord
		for _, e := range reg.InNamespace(ns) {
			if claimed[e.UID] || !recent(e, opts) {
				continue
			}
			pool = append(pool, e)
		}
		pools[ns] = pool
	}

	ranked := make([][]ScoredMatch, len(fuzzy))
	err := forEachChunk(ctx, len(fuzzy), candidatesPerTask, opts.Workers, func(lo, hi int) error {
		for j := lo; j < hi; j++ {
			cand := out[fuzzy[j]].Candidate
			ranked[j] = rank(cand, pools[cand.Namespace()], c, opts)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fuzzy resolve: %w", err)
	}

	// First pass: tentative outcomes. A uid that is the confident top for
	// more than one candidate cannot be assigned to either.
	confidentFor := make(map[string]int)
	for j, i := range fuzzy {
		classify(&out[i], ranked[j], opts)
		if out[i].Outcome == OutcomeRenameOrMove {
			confidentFor[out[i].UID]++
		}
	}
	for j, i := range fuzzy {
		r := &out[i]
		if r.Outcome == OutcomeRenameOrMove && confidentFor[r.UID] > 1 {
			r.Outcome = OutcomeAmbiguous
			r.Via = ViaSharedTop
			r.UID = ""
			r.Reactivate = false
			r.Score = 0
			r.Reasons = nil
			r.Matches = aboveFloor(ranked[j], opts.Floor)
		}
	}

	return out, nil
}

// latestInactive finds the most recently updated inactive entity holding
// key; ties go to the smaller uid.
func latestInactive(es []registry.EntityRecord, key string) (registry.EntityRecord, bool) {
	var best registry.EntityRecord
	found := false
	for _, e := range es {
		if e.Active() || e.Key != key {
			continue
		}
		if !found || e.UpdatedAt.After(best.UpdatedAt) ||
			(e.UpdatedAt.Equal(best.UpdatedAt) && e.UID < best.UID) {
			best, found = e, true
		}
	}
	return best, found
}

func recent(e registry.EntityRecord, opts ResolveOptions) bool {
	if e.Active() {
		return true
	}
	if opts.RecentWindow <= 0 {
		return false
	}
	return opts.Now.Sub(e.UpdatedAt) <= opts.RecentWindow
}

// rank scores every pool entity against the candidate and orders them by
// score desc, uid asc.
func rank(cand Candidate, pool []registry.EntityRecord, c *schema.Catalog, opts ResolveOptions) []ScoredMatch {
	out := make([]ScoredMatch, 0, len(pool))
	for _, e := range pool {
		score, reasons := scoreMatch(cand, e, c, opts.KeyWeight)
		out = append(out, ScoredMatch{UID: e.UID, Key: e.Key, Score: score, Reasons: reasons})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].UID < out[j].UID
	})
	return out
}

// scoreMatch returns a 0-100 score. Key similarity is Levenshtein based;
// label agreement is weighted by catalog field weight over the labels the
// candidate carries.
func scoreMatch(cand Candidate, e registry.EntityRecord, c *schema.Catalog, keyWeight float64) (float64, []string) {
	keySim := match.Similarity(cand.Key, e.Key)
	reasons := []string{fmt.Sprintf("key %s ~ %s (%.0f%%)", cand.Key, e.Key, keySim*100)}

	fields := make([]string, 0, len(cand.Labels))
	for f := range cand.Labels {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var total, agree float64
	var same, differ []string
	for _, f := range fields {
		w := c.Weight(f)
		if w <= 0 {
			continue
		}
		total += w
		if existing, ok := e.Labels[f]; ok && match.Normalize(existing) == match.Normalize(cand.Labels[f]) {
			agree += w
			same = append(same, f)
		} else {
			differ = append(differ, f)
		}
	}

	var combined float64
	if total == 0 {
		combined = keySim
	} else {
		combined = keyWeight*keySim + (1-keyWeight)*(agree/total)
	}

	if len(same) > 0 {
		reasons = append(reasons, "same "+strings.Join(same, ", "))
	}
	if len(differ) > 0 {
		reasons = append(reasons, "different "+strings.Join(differ, ", "))
	}

	return math.Round(combined*1000) / 10, reasons
}

func classify(r *Resolution, ranked []ScoredMatch, opts ResolveOptions) {
	if len(ranked) == 0 || ranked[0].Score < opts.Floor {
		r.Outcome, r.Via = OutcomeCreate, ViaNoCandidate
		return
	}

	top := ranked[0]
	separated := len(ranked) == 1 || top.Score-ranked[1].Score > opts.Margin
	if top.Score >= opts.HighThreshold && separated {
		r.Outcome, r.Via = OutcomeRenameOrMove, ViaFuzzy
		r.UID = top.UID
		r.Score = top.Score
		r.Reasons = top.Reasons
		return
	}

	r.Outcome, r.Via = OutcomeAmbiguous, ViaFuzzy
	r.Matches = aboveFloor(ranked, opts.Floor)
}

func aboveFloor(ranked []ScoredMatch, floor float64) []ScoredMatch {
	var out []ScoredMatch
	for _, m := range ranked {
		if m.Score < floor {
			break
		}
		out = append(out, m)
	}
	return out
}

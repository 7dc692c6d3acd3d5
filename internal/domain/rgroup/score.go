package rgroup

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// labelPenalty is charged once per label holding a real substituent.
const labelPenalty = 0.1

// labelTally keeps exact integer counts for one label column.
type labelTally struct {
	n     int
	bits  map[int]int
	sumC  int
	sumC2 int
	real  int
	ids   map[string]int
}

func newLabelTally() *labelTally {
	return &labelTally{bits: make(map[int]int), ids: make(map[string]int)}
}

func (t *labelTally) clone() *labelTally {
	c := &labelTally{
		n:     t.n,
		sumC:  t.sumC,
		sumC2: t.sumC2,
		real:  t.real,
		bits:  make(map[int]int, len(t.bits)),
		ids:   make(map[string]int, len(t.ids)),
	}
	for b, v := range t.bits {
		c.bits[b] = v
	}
	for id, v := range t.ids {
		c.ids[id] = v
	}
	return c
}

func (t *labelTally) add(f *Fragment) {
	t.n++
	for _, b := range f.Fingerprint.OnBits() {
		c := t.bits[b]
		t.sumC2 += 2*c + 1
		t.sumC++
		t.bits[b] = c + 1
	}
	if !f.Hydrogen {
		t.real++
	}
	t.ids[f.Identity]++
}

func (t *labelTally) remove(f *Fragment) {
	t.n--
	for _, b := range f.Fingerprint.OnBits() {
		c := t.bits[b] - 1
		t.sumC2 -= 2*c + 1
		t.sumC--
		if c == 0 {
			delete(t.bits, b)
		} else {
			t.bits[b] = c
		}
	}
	if !f.Hydrogen {
		t.real--
	}
	if t.ids[f.Identity]--; t.ids[f.Identity] == 0 {
		delete(t.ids, f.Identity)
	}
}

// dispersion is sqrt(Σ p(1-p)) over bits, p the fraction of fragments with
// the bit set.
func (t *labelTally) dispersion() float64 {
	if t.n == 0 {
		return 0
	}
	v := float64(t.n*t.sumC - t.sumC2)
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v) / float64(t.n)
}

func (t *labelTally) distinct() float64 {
	if len(t.ids) == 0 {
		return 0
	}
	return float64(len(t.ids) - 1)
}

// ─────────────────────────────────────────────────────────────────────────────
// Scorer
// ─────────────────────────────────────────────────────────────────────────────

// scorer is an incremental score over the candidates decided so far. Lower
// is better. It is not safe for concurrent use; workers score on clones.
type scorer struct {
	method ScoreMethod
	labels map[LabelKey]*labelTally
}

func newScorer(method ScoreMethod) *scorer {
	return &scorer{method: method, labels: make(map[LabelKey]*labelTally)}
}

func (s *scorer) clone() *scorer {
	c := &scorer{method: s.method, labels: make(map[LabelKey]*labelTally, len(s.labels))}
	for k, t := range s.labels {
		c.labels[k] = t.clone()
	}
	return c
}

// add records every label entry of cand.
func (s *scorer) add(cand *Candidate) {
	for _, e := range cand.Entries {
		t, ok := s.labels[e.Label]
		if !ok {
			t = newLabelTally()
			s.labels[e.Label] = t
		}
		t.add(e.Fragment)
	}
}

// remove undoes add for the same candidate.
func (s *scorer) remove(cand *Candidate) {
	for _, e := range cand.Entries {
		t := s.labels[e.Label]
		t.remove(e.Fragment)
		if t.n == 0 {
			delete(s.labels, e.Label)
		}
	}
}

// score aggregates the per-label values in label order so the float sum is
// reproducible.
func (s *scorer) score() float64 {
	keys := make([]LabelKey, 0, len(s.labels))
	for k := range s.labels {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	vals := make([]float64, len(keys))
	penalty := 0.0
	for i, k := range keys {
		t := s.labels[k]
		switch s.method {
		case MatchScore:
			vals[i] = t.distinct()
		default:
			vals[i] = t.dispersion()
		}
		if t.real > 0 {
			penalty += labelPenalty
		}
	}
	return floats.Sum(vals) + penalty
}

// scoreWith is the score after tentatively adding cands.
func (s *scorer) scoreWith(cands ...*Candidate) float64 {
	for _, c := range cands {
		s.add(c)
	}
	v := s.score()
	for i := len(cands) - 1; i >= 0; i-- {
		s.remove(cands[i])
	}
	return v
}

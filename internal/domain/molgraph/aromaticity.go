package molgraph

import (
	"sort"

	"github.com/turtacn/KeyIP-RGD/pkg/errors"
)

// maxRingSize bounds ring perception; larger cycles are ignored for
// aromaticity.
const maxRingSize = 8

// ─────────────────────────────────────────────────────────────────────────────
// Ring perception
// ─────────────────────────────────────────────────────────────────────────────

// Rings returns, for every ring bond, the smallest cycle through it, as
// atom sequences in path order. Duplicate cycles are removed and the result
// is ordered by size then by smallest atom index.
func (g *Graph) Rings() [][]int {
	seen := make(map[string]bool)
	var rings [][]int
	for b, bond := range g.bonds {
		path := g.shortestPathAvoiding(bond.Begin, bond.End, b)
		if path == nil || len(path) > maxRingSize {
			continue
		}
		key := ringKey(path)
		if seen[key] {
			continue
		}
		seen[key] = true
		rings = append(rings, path)
	}
	sort.SliceStable(rings, func(i, j int) bool {
		if len(rings[i]) != len(rings[j]) {
			return len(rings[i]) < len(rings[j])
		}
		return minInt(rings[i]) < minInt(rings[j])
	})
	return rings
}

// shortestPathAvoiding runs a BFS from src to dst that may not use bond skip.
// It returns the path src..dst inclusive, or nil.
func (g *Graph) shortestPathAvoiding(src, dst, skip int) []int {
	prev := make([]int, len(g.atoms))
	for i := range prev {
		prev[i] = -2
	}
	prev[src] = -1
	queue := []int{src}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		if u == dst {
			break
		}
		for _, e := range g.adj[u] {
			if e.Bond == skip || prev[e.Atom] != -2 {
				continue
			}
			prev[e.Atom] = u
			queue = append(queue, e.Atom)
		}
	}
	if prev[dst] == -2 {
		return nil
	}
	var path []int
	for v := dst; v != -1; v = prev[v] {
		path = append(path, v)
	}
	return path
}

func ringKey(ring []int) string {
	s := append([]int(nil), ring...)
	sort.Ints(s)
	b := make([]byte, 0, len(s)*3)
	for _, v := range s {
		b = append(b, byte(v>>8), byte(v), ',')
	}
	return string(b)
}

func minInt(xs []int) int {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

// ringBonds returns the bond indices along a ring path.
func (g *Graph) ringBonds(ring []int) []int {
	out := make([]int, 0, len(ring))
	for k := range ring {
		b, _ := g.BondBetween(ring[k], ring[(k+1)%len(ring)])
		out = append(out, b)
	}
	return out
}

// InRing reports whether atom i belongs to any perceived ring.
func (g *Graph) InRing(i int) bool {
	for _, e := range g.adj[i] {
		if g.shortestPathAvoiding(i, e.Atom, e.Bond) != nil {
			return true
		}
	}
	return false
}

// ─────────────────────────────────────────────────────────────────────────────
// Kekulization
// ─────────────────────────────────────────────────────────────────────────────

// spareValence is the number of bonds atom i could still form given its
// current bonds and hydrogen count.
func (g *Graph) spareValence(i int) int {
	a := g.atoms[i]
	used := g.bondOrderSum(i) + a.HCount
	v, ok := defaultValence(a.Number, a.Charge, used)
	if !ok {
		return 0
	}
	return v - used
}

// kekulize assigns single/double orders to the bonds in bondSet so that
// every atom of atomSet with spare valence receives exactly one double bond.
// Bonds in bondSet must currently be single.
func (g *Graph) kekulize(atomSet map[int]bool, bondSet map[int]bool) error {
	var cands []int
	isCand := make(map[int]bool)
	for a := range atomSet {
		if g.atoms[a].Number == 0 {
			continue
		}
		if g.spareValence(a) >= 1 {
			cands = append(cands, a)
			isCand[a] = true
		}
	}
	sort.Ints(cands)
	matched := make(map[int]bool, len(cands))

	partners := func(u int) []Edge {
		var out []Edge
		for _, e := range g.adj[u] {
			if bondSet[e.Bond] && isCand[e.Atom] && !matched[e.Atom] {
				out = append(out, e)
			}
		}
		return out
	}

	var solve func() bool
	solve = func() bool {
		// pick the unmatched candidate with the fewest free partners
		best, bestN := -1, 0
		for _, u := range cands {
			if matched[u] {
				continue
			}
			n := len(partners(u))
			if best < 0 || n < bestN {
				best, bestN = u, n
			}
		}
		if best < 0 {
			return true
		}
		if bestN == 0 {
			return false
		}
		for _, e := range partners(best) {
			matched[best], matched[e.Atom] = true, true
			g.bonds[e.Bond].Order = BondDouble
			if solve() {
				return true
			}
			g.bonds[e.Bond].Order = BondSingle
			matched[best], matched[e.Atom] = false, false
		}
		return false
	}

	if !solve() {
		return errors.New(errors.ErrCodeKekulizationFailed, "cannot assign alternating bonds to aromatic system")
	}
	return nil
}

// kekulizeAromatic converts every bond flagged aromatic into an explicit
// single or double bond and clears the aromatic flags.
func (g *Graph) kekulizeAromatic() error {
	atomSet := make(map[int]bool)
	bondSet := make(map[int]bool)
	for b := range g.bonds {
		if !g.bonds[b].Aromatic {
			continue
		}
		bondSet[b] = true
		g.bonds[b].Order = BondSingle
		g.bonds[b].Aromatic = false
		atomSet[g.bonds[b].Begin] = true
		atomSet[g.bonds[b].End] = true
	}
	for i := range g.atoms {
		g.atoms[i].Aromatic = false
	}
	if len(bondSet) == 0 {
		return nil
	}
	return g.kekulize(atomSet, bondSet)
}

// ─────────────────────────────────────────────────────────────────────────────
// Aromaticity
// ─────────────────────────────────────────────────────────────────────────────

// PerceiveAromaticity recomputes aromatic flags on atoms and bonds from the
// Kekulé structure using a Hückel 4n+2 rule over single rings, then over
// rings fused to already aromatic rings, then over pairs of fused rings.
func (g *Graph) PerceiveAromaticity() {
	for i := range g.atoms {
		g.atoms[i].Aromatic = false
	}
	for b := range g.bonds {
		g.bonds[b].Aromatic = false
	}
	rings := g.Rings()
	done := make([]bool, len(rings))

	for changed := true; changed; {
		changed = false
		for r, ring := range rings {
			if done[r] || !g.isHuckel(ring) {
				continue
			}
			g.markAromatic(ring)
			done[r] = true
			changed = true
		}
	}

	// fused envelopes such as azulene
	for r1 := range rings {
		for r2 := r1 + 1; r2 < len(rings); r2++ {
			if done[r1] && done[r2] {
				continue
			}
			env := fusedEnvelope(g, rings[r1], rings[r2])
			if env == nil || !g.isHuckel(env) {
				continue
			}
			g.markAromatic(rings[r1])
			g.markAromatic(rings[r2])
			done[r1], done[r2] = true, true
		}
	}
}

func (g *Graph) markAromatic(ring []int) {
	for _, a := range ring {
		g.atoms[a].Aromatic = true
	}
	for _, b := range g.ringBonds(ring) {
		g.bonds[b].Aromatic = true
	}
}

// fusedEnvelope returns the perimeter of two rings sharing exactly one bond,
// or nil.
func fusedEnvelope(g *Graph, r1, r2 []int) []int {
	in2 := make(map[int]bool, len(r2))
	for _, a := range r2 {
		in2[a] = true
	}
	shared := 0
	for _, a := range r1 {
		if in2[a] {
			shared++
		}
	}
	if shared != 2 {
		return nil
	}
	union := make(map[int]bool)
	for _, a := range r1 {
		union[a] = true
	}
	for _, a := range r2 {
		union[a] = true
	}
	env := make([]int, 0, len(union))
	for a := range union {
		env = append(env, a)
	}
	sort.Ints(env)
	return env
}

// isHuckel reports whether the atoms of ring form a 4n+2 pi system.
func (g *Graph) isHuckel(ring []int) bool {
	inRing := make(map[int]bool, len(ring))
	for _, a := range ring {
		inRing[a] = true
	}
	total := 0
	for _, a := range ring {
		e := g.piElectrons(a, inRing)
		if e < 0 {
			return false
		}
		total += e
	}
	return total >= 2 && (total-2)%4 == 0
}

// piElectrons returns the electrons atom i contributes to the ring described
// by inRing, or -1 when the atom excludes aromaticity.
func (g *Graph) piElectrons(i int, inRing map[int]bool) int {
	a := g.atoms[i]
	if a.Number <= 1 {
		return -1
	}
	var endoDouble, exoDouble, exoAromatic bool
	exoPartner := -1
	for _, e := range g.adj[i] {
		bond := g.bonds[e.Bond]
		switch bond.Order {
		case BondTriple:
			return -1
		case BondDouble:
			if inRing[e.Atom] {
				endoDouble = true
			} else if bond.Aromatic {
				exoAromatic = true
			} else {
				exoDouble = true
				exoPartner = e.Atom
			}
		}
	}
	switch {
	case endoDouble, exoAromatic:
		return 1
	case exoDouble:
		switch g.atoms[exoPartner].Number {
		case 7, 8, 16:
			return 0
		}
		return -1
	}
	switch a.Number {
	case 7, 15:
		if a.Charge > 0 {
			return -1
		}
		return 2
	case 8, 16, 34:
		if a.Charge > 0 {
			return 1
		}
		return 2
	case 6:
		switch {
		case a.Charge < 0:
			return 2
		case a.Charge > 0:
			return 0
		}
	case 5:
		if a.Charge == 0 {
			return 0
		}
	}
	return -1
}

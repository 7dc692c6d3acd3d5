package molgraph

import (
	"slices"
	"sort"
	"strconv"
	"strings"
)

// CanonicalSMILES writes g as a SMILES string that depends only on the
// graph, not on its atom order. Aromatic atoms are written lowercase with
// implicit aromatic bonds. Dummy atoms are written "*" or "[*:n]".
func CanonicalSMILES(g *Graph) string {
	if g.NumAtoms() == 0 {
		return ""
	}
	ranks := canonicalRanks(g)
	w := &smilesWriter{g: g, ranks: ranks}
	return w.write()
}

// ─────────────────────────────────────────────────────────────────────────────
// Canonical ranking
// ─────────────────────────────────────────────────────────────────────────────

// canonicalRanks returns a total order of atoms. Atom invariants are refined
// by neighbour classes until stable; remaining ties are broken one at a time
// at the lowest atom index of the first tied class, refining after each.
func canonicalRanks(g *Graph) []int {
	n := g.NumAtoms()
	ranks := SymmetryClasses(g)
	for {
		r, ok := firstTie(ranks)
		if !ok {
			return ranks
		}
		pick := -1
		for i, x := range ranks {
			if x == r {
				pick = i
				break
			}
		}
		split := make([][]int, n)
		for i, x := range ranks {
			v := 2 * x
			if i == pick {
				v--
			}
			split[i] = []int{v}
		}
		ranks = refineRanks(g, denseRanks(split))
	}
}

// SymmetryClasses assigns each atom a class number such that atoms in
// different classes are never topologically equivalent. Atoms sharing a
// class are indistinguishable by iterated neighbour refinement of their
// atom invariants.
func SymmetryClasses(g *Graph) []int {
	keys := make([][]int, g.NumAtoms())
	for i := range keys {
		a := g.atoms[i]
		arom := 0
		if a.Aromatic {
			arom = 1
		}
		keys[i] = []int{a.Number, g.Degree(i), a.HCount, a.Charge, a.Isotope, a.MapNum, a.RLabel, arom}
	}
	return refineRanks(g, denseRanks(keys))
}

func refineRanks(g *Graph, ranks []int) []int {
	classes := countClasses(ranks)
	for {
		keys := make([][]int, len(ranks))
		for i := range ranks {
			nb := make([]int, 0, len(g.adj[i]))
			for _, e := range g.adj[i] {
				nb = append(nb, int(bondInvariant(g.bonds[e.Bond]))*(len(ranks)+1)+ranks[e.Atom])
			}
			sort.Ints(nb)
			keys[i] = append([]int{ranks[i]}, nb...)
		}
		next := denseRanks(keys)
		c := countClasses(next)
		if c == classes {
			return next
		}
		ranks, classes = next, c
	}
}

func denseRanks(keys [][]int) []int {
	idx := make([]int, len(keys))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return slices.Compare(keys[idx[a]], keys[idx[b]]) < 0 })
	ranks := make([]int, len(keys))
	r := 0
	for k, i := range idx {
		if k > 0 && slices.Compare(keys[idx[k-1]], keys[i]) != 0 {
			r++
		}
		ranks[i] = r
	}
	return ranks
}

func countClasses(ranks []int) int {
	seen := make(map[int]bool, len(ranks))
	for _, r := range ranks {
		seen[r] = true
	}
	return len(seen)
}

func firstTie(ranks []int) (int, bool) {
	count := make(map[int]int, len(ranks))
	for _, r := range ranks {
		count[r]++
	}
	best, found := 0, false
	for r, c := range count {
		if c > 1 && (!found || r < best) {
			best, found = r, true
		}
	}
	return best, found
}

// ─────────────────────────────────────────────────────────────────────────────
// Writer
// ─────────────────────────────────────────────────────────────────────────────

type smilesWriter struct {
	g     *Graph
	ranks []int

	visited  []bool
	children [][]int
	closures [][]int // ring-closure bond indices per atom
	isClose  map[int]bool

	written []bool
	digit   map[int]int // open ring bond → digit
	inUse   []bool
	sb      strings.Builder
}

func (w *smilesWriter) byRank(atoms []int) {
	sort.Slice(atoms, func(a, b int) bool { return w.ranks[atoms[a]] < w.ranks[atoms[b]] })
}

func (w *smilesWriter) write() string {
	n := w.g.NumAtoms()
	w.visited = make([]bool, n)
	w.children = make([][]int, n)
	w.closures = make([][]int, n)
	w.isClose = make(map[int]bool)
	w.written = make([]bool, n)
	w.digit = make(map[int]int)

	comps := w.g.Components(func(int) bool { return true })
	roots := make([]int, 0, len(comps))
	for _, c := range comps {
		root := c[0]
		for _, a := range c {
			if w.ranks[a] < w.ranks[root] {
				root = a
			}
		}
		roots = append(roots, root)
	}
	w.byRank(roots)

	for k, root := range roots {
		if k > 0 {
			w.sb.WriteByte('.')
		}
		w.walk(root, -1)
		w.emit(root, -1)
	}
	return w.sb.String()
}

// walk builds the DFS tree and collects ring-closure bonds.
func (w *smilesWriter) walk(u, parentBond int) {
	w.visited[u] = true
	nbrs := make([]int, 0, len(w.g.adj[u]))
	bondTo := make(map[int]int, len(w.g.adj[u]))
	for _, e := range w.g.adj[u] {
		if e.Bond == parentBond {
			continue
		}
		nbrs = append(nbrs, e.Atom)
		bondTo[e.Atom] = e.Bond
	}
	w.byRank(nbrs)
	for _, v := range nbrs {
		b := bondTo[v]
		if w.visited[v] {
			if !w.isClose[b] {
				w.isClose[b] = true
				w.closures[u] = append(w.closures[u], b)
				w.closures[v] = append(w.closures[v], b)
			}
			continue
		}
		w.children[u] = append(w.children[u], v)
		w.walk(v, b)
	}
}

func (w *smilesWriter) emit(u, parentBond int) {
	if parentBond >= 0 {
		w.sb.WriteString(w.bondSymbol(parentBond))
	}
	w.sb.WriteString(w.atomToken(u))
	w.written[u] = true

	ring := append([]int(nil), w.closures[u]...)
	sort.SliceStable(ring, func(a, b int) bool {
		pa, pb := w.g.bonds[ring[a]].Other(u), w.g.bonds[ring[b]].Other(u)
		ca, cb := w.written[pa], w.written[pb]
		if ca != cb {
			return ca
		}
		if ca {
			return w.digit[ring[a]] < w.digit[ring[b]]
		}
		return w.ranks[pa] < w.ranks[pb]
	})
	for _, b := range ring {
		if d, open := w.digit[b]; open {
			w.sb.WriteString(ringDigit(d))
			w.inUse[d] = false
			delete(w.digit, b)
			continue
		}
		d := w.freeDigit()
		w.digit[b] = d
		w.sb.WriteString(w.bondSymbol(b))
		w.sb.WriteString(ringDigit(d))
	}

	kids := w.children[u]
	for k, v := range kids {
		b, _ := w.g.BondBetween(u, v)
		if k < len(kids)-1 {
			w.sb.WriteByte('(')
			w.emit(v, b)
			w.sb.WriteByte(')')
		} else {
			w.emit(v, b)
		}
	}
}

func (w *smilesWriter) freeDigit() int {
	for d := 1; d < len(w.inUse); d++ {
		if !w.inUse[d] {
			w.inUse[d] = true
			return d
		}
	}
	if len(w.inUse) == 0 {
		w.inUse = append(w.inUse, true) // slot 0 unused
	}
	w.inUse = append(w.inUse, true)
	return len(w.inUse) - 1
}

func ringDigit(d int) string {
	if d < 10 {
		return strconv.Itoa(d)
	}
	return "%" + strconv.Itoa(d)
}

func (w *smilesWriter) bondSymbol(b int) string {
	bond := w.g.bonds[b]
	if bond.Aromatic {
		return ""
	}
	switch bond.Order {
	case BondDouble:
		return "="
	case BondTriple:
		return "#"
	}
	if w.g.atoms[bond.Begin].Aromatic && w.g.atoms[bond.End].Aromatic {
		return "-"
	}
	return ""
}

func (w *smilesWriter) atomToken(i int) string {
	a := w.g.atoms[i]
	sym := Symbol(a.Number)
	if a.Aromatic {
		sym = strings.ToLower(sym)
	}
	if w.bare(i) {
		return sym
	}
	var sb strings.Builder
	sb.WriteByte('[')
	if a.Isotope > 0 {
		sb.WriteString(strconv.Itoa(a.Isotope))
	}
	sb.WriteString(sym)
	if a.HCount > 0 && a.Number > 1 {
		sb.WriteByte('H')
		if a.HCount > 1 {
			sb.WriteString(strconv.Itoa(a.HCount))
		}
	}
	switch {
	case a.Charge == 1:
		sb.WriteByte('+')
	case a.Charge == -1:
		sb.WriteByte('-')
	case a.Charge > 1:
		sb.WriteString("+" + strconv.Itoa(a.Charge))
	case a.Charge < -1:
		sb.WriteString("-" + strconv.Itoa(-a.Charge))
	}
	if a.MapNum > 0 {
		sb.WriteString(":" + strconv.Itoa(a.MapNum))
	}
	sb.WriteByte(']')
	return sb.String()
}

// bare reports whether atom i can be written without brackets and read back
// with the same hydrogen count.
func (w *smilesWriter) bare(i int) bool {
	a := w.g.atoms[i]
	if a.Charge != 0 || a.Isotope != 0 || a.MapNum != 0 {
		return false
	}
	if a.Number == 0 {
		return true
	}
	e := elementByNumber[a.Number]
	if e == nil || !e.Organic {
		return false
	}
	if a.Aromatic && !e.Aromatic {
		return false
	}
	if a.Aromatic && (a.Number == 7 || a.Number == 15) && a.HCount > 0 {
		return false
	}
	used := w.g.bondOrderSum(i)
	v, ok := defaultValence(a.Number, 0, used)
	want := 0
	if ok {
		want = v - used
	}
	return want == a.HCount
}

// Package molgraph provides the molecular graph primitives used by the
// R-group decomposition engine: an arena-backed atom/bond graph, SMILES and
// V2000 molblock readers, ring and aromaticity perception, substructure
// matching, tautomer enumeration, circular fingerprints and a canonical
// SMILES writer.
//
// Atoms and bonds are addressed by stable integer indices into the arena.
// Derived graphs (tautomers, subgraphs) are new arenas; tautomers keep the
// atom indexing of their source so index sets remain valid across variants.
package molgraph

import (
	"fmt"
	"sort"

	"github.com/turtacn/KeyIP-RGD/pkg/errors"
)

// BondOrder is the Kekulé order of a bond.
type BondOrder int

const (
	BondSingle BondOrder = 1
	BondDouble BondOrder = 2
	BondTriple BondOrder = 3
)

// Atom is a vertex of the graph.
type Atom struct {
	// Number is the atomic number; 0 denotes a dummy atom ("*" or "R#").
	Number int
	Charge int
	Isotope int

	// MapNum is the SMILES atom-map number ([*:1]).
	MapNum int

	// RLabel is the R-group label taken from a molfile "M  RGP" record.
	RLabel int

	// HCount is the number of hydrogens not represented as atoms.
	HCount int

	Aromatic bool

	// fixedH marks a hydrogen count given explicitly by the input (bracket
	// atoms); such counts are never recomputed from valence.
	fixedH bool
}

// IsDummy reports whether the atom is a dummy/attachment atom.
func (a Atom) IsDummy() bool { return a.Number == 0 }

// Symbol returns the element symbol of the atom.
func (a Atom) Symbol() string { return Symbol(a.Number) }

// Bond is an edge of the graph.
type Bond struct {
	Begin    int
	End      int
	Order    BondOrder
	Aromatic bool
}

// Other returns the atom at the opposite end of the bond from atom.
func (b Bond) Other(atom int) int {
	if b.Begin == atom {
		return b.End
	}
	return b.Begin
}

// Edge is one adjacency entry: the neighbour atom and the connecting bond.
type Edge struct {
	Atom int
	Bond int
}

// Graph is an arena of atoms and bonds with adjacency lists.
type Graph struct {
	Name  string
	atoms []Atom
	bonds []Bond
	adj   [][]Edge
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{}
}

// ─────────────────────────────────────────────────────────────────────────────
// Construction
// ─────────────────────────────────────────────────────────────────────────────

// AddAtom appends a to the arena and returns its index.
func (g *Graph) AddAtom(a Atom) int {
	g.atoms = append(g.atoms, a)
	g.adj = append(g.adj, nil)
	return len(g.atoms) - 1
}

// AddBond connects atoms i and j and returns the bond index.
func (g *Graph) AddBond(i, j int, order BondOrder) (int, error) {
	return g.addBond(i, j, order, false)
}

func (g *Graph) addBond(i, j int, order BondOrder, aromatic bool) (int, error) {
	if i < 0 || j < 0 || i >= len(g.atoms) || j >= len(g.atoms) {
		return -1, errors.Newf(errors.ErrCodeMoleculeInvalidGraph, "bond %d-%d references a missing atom", i, j)
	}
	if i == j {
		return -1, errors.Newf(errors.ErrCodeMoleculeInvalidGraph, "atom %d bonded to itself", i)
	}
	if _, ok := g.BondBetween(i, j); ok {
		return -1, errors.Newf(errors.ErrCodeMoleculeInvalidGraph, "duplicate bond %d-%d", i, j)
	}
	if order < BondSingle || order > BondTriple {
		return -1, errors.Newf(errors.ErrCodeMoleculeInvalidGraph, "unsupported bond order %d", order)
	}
	g.bonds = append(g.bonds, Bond{Begin: i, End: j, Order: order, Aromatic: aromatic})
	b := len(g.bonds) - 1
	g.adj[i] = append(g.adj[i], Edge{Atom: j, Bond: b})
	g.adj[j] = append(g.adj[j], Edge{Atom: i, Bond: b})
	return b, nil
}

// Clone returns a deep copy of the graph.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		Name:  g.Name,
		atoms: append([]Atom(nil), g.atoms...),
		bonds: append([]Bond(nil), g.bonds...),
		adj:   make([][]Edge, len(g.adj)),
	}
	for i, edges := range g.adj {
		c.adj[i] = append([]Edge(nil), edges...)
	}
	return c
}

// Subgraph copies the atoms listed in atoms (in that order) and every bond
// between them into a new graph. The returned slice maps old atom indices to
// new ones (-1 for atoms not copied).
func (g *Graph) Subgraph(atoms []int) (*Graph, []int) {
	remap := make([]int, len(g.atoms))
	for i := range remap {
		remap[i] = -1
	}
	sub := New()
	sub.Name = g.Name
	for _, a := range atoms {
		remap[a] = sub.AddAtom(g.atoms[a])
	}
	for _, b := range g.bonds {
		i, j := remap[b.Begin], remap[b.End]
		if i < 0 || j < 0 {
			continue
		}
		// both ends exist and the source has no duplicates, so this cannot fail
		_, _ = sub.addBond(i, j, b.Order, b.Aromatic)
	}
	return sub, remap
}

// ─────────────────────────────────────────────────────────────────────────────
// Accessors
// ─────────────────────────────────────────────────────────────────────────────

// NumAtoms returns the number of atoms.
func (g *Graph) NumAtoms() int { return len(g.atoms) }

// NumBonds returns the number of bonds.
func (g *Graph) NumBonds() int { return len(g.bonds) }

// Atom returns a copy of atom i.
func (g *Graph) Atom(i int) Atom { return g.atoms[i] }

// Bond returns a copy of bond i.
func (g *Graph) Bond(i int) Bond { return g.bonds[i] }

// Neighbors returns the adjacency list of atom i. The slice must not be
// modified.
func (g *Graph) Neighbors(i int) []Edge { return g.adj[i] }

// Degree returns the number of explicit neighbours of atom i.
func (g *Graph) Degree(i int) int { return len(g.adj[i]) }

// BondBetween returns the bond joining i and j, if any.
func (g *Graph) BondBetween(i, j int) (int, bool) {
	if i < 0 || i >= len(g.adj) {
		return -1, false
	}
	for _, e := range g.adj[i] {
		if e.Atom == j {
			return e.Bond, true
		}
	}
	return -1, false
}

// IsHydrogen reports whether atom i is an explicit hydrogen atom.
func (g *Graph) IsHydrogen(i int) bool { return g.atoms[i].Number == 1 }

// HeavyDegree counts neighbours of i that are not hydrogen atoms.
func (g *Graph) HeavyDegree(i int) int {
	n := 0
	for _, e := range g.adj[i] {
		if !g.IsHydrogen(e.Atom) {
			n++
		}
	}
	return n
}

// TotalHydrogens returns implicit plus explicit-atom hydrogens on atom i.
func (g *Graph) TotalHydrogens(i int) int {
	n := g.atoms[i].HCount
	for _, e := range g.adj[i] {
		if g.IsHydrogen(e.Atom) {
			n++
		}
	}
	return n
}

// HeavyAtomCount counts atoms that are neither hydrogens nor dummies.
func (g *Graph) HeavyAtomCount() int {
	n := 0
	for _, a := range g.atoms {
		if a.Number > 1 {
			n++
		}
	}
	return n
}

// bondOrderSum sums Kekulé orders of all bonds at atom i.
func (g *Graph) bondOrderSum(i int) int {
	sum := 0
	for _, e := range g.adj[i] {
		sum += int(g.bonds[e.Bond].Order)
	}
	return sum
}

// ─────────────────────────────────────────────────────────────────────────────
// Mutation helpers (package-internal)
// ─────────────────────────────────────────────────────────────────────────────

func (g *Graph) setHCount(i, n int) {
	g.atoms[i].HCount = n
	g.atoms[i].fixedH = true
}

func (g *Graph) setBondOrder(b int, order BondOrder) {
	g.bonds[b].Order = order
}

// SetMapNum sets the atom-map number of atom i.
func (g *Graph) SetMapNum(i, n int) {
	g.atoms[i].MapNum = n
}

// assignImplicitHydrogens fills HCount for atoms whose count was not given
// explicitly, using the smallest allowed valence that accommodates the bonds.
func (g *Graph) assignImplicitHydrogens() {
	for i := range g.atoms {
		a := &g.atoms[i]
		if a.fixedH || a.Number <= 1 {
			continue
		}
		used := g.bondOrderSum(i)
		v, ok := defaultValence(a.Number, a.Charge, used)
		if !ok {
			a.HCount = 0
			continue
		}
		a.HCount = v - used
	}
}

// FoldExplicitHydrogens returns a copy in which hydrogen atoms with exactly
// one neighbour are removed and counted on that neighbour. Atom indices are
// renumbered; the returned slice maps old indices to new ones (-1 for removed
// hydrogens).
func (g *Graph) FoldExplicitHydrogens() (*Graph, []int) {
	keep := make([]int, 0, len(g.atoms))
	extra := make(map[int]int)
	for i, a := range g.atoms {
		if a.Number == 1 && len(g.adj[i]) == 1 && a.Isotope == 0 && a.MapNum == 0 {
			extra[g.adj[i][0].Atom]++
			continue
		}
		keep = append(keep, i)
	}
	if len(extra) == 0 {
		remap := make([]int, len(g.atoms))
		for i := range remap {
			remap[i] = i
		}
		return g.Clone(), remap
	}
	sub, remap := g.Subgraph(keep)
	for old, n := range extra {
		if j := remap[old]; j >= 0 {
			sub.atoms[j].HCount += n
			sub.atoms[j].fixedH = true
		}
	}
	return sub, remap
}

// ─────────────────────────────────────────────────────────────────────────────
// Connectivity
// ─────────────────────────────────────────────────────────────────────────────

// Components returns the connected components of the atoms for which keep
// returns true, each sorted ascending, ordered by their smallest atom.
func (g *Graph) Components(keep func(int) bool) [][]int {
	seen := make([]bool, len(g.atoms))
	var comps [][]int
	for start := range g.atoms {
		if seen[start] || !keep(start) {
			continue
		}
		comp := []int{start}
		seen[start] = true
		for k := 0; k < len(comp); k++ {
			for _, e := range g.adj[comp[k]] {
				if !seen[e.Atom] && keep(e.Atom) {
					seen[e.Atom] = true
					comp = append(comp, e.Atom)
				}
			}
		}
		sort.Ints(comp)
		comps = append(comps, comp)
	}
	return comps
}

// String implements fmt.Stringer with a short summary.
func (g *Graph) String() string {
	return fmt.Sprintf("Graph(%q, atoms=%d, bonds=%d)", g.Name, len(g.atoms), len(g.bonds))
}

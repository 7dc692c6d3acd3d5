package rgroup

import (
	"iter"
	"sort"

	"github.com/turtacn/KeyIP-RGD/internal/domain/molgraph"
)

// CutBond is a molecule bond leaving the matched core.
type CutBond struct {
	// Anchor is the core atom on the inner side.
	Anchor int
	// From is the molecule atom matched to Anchor.
	From int
	// Exit is the molecule atom on the outer side.
	Exit int
	// Bond is the molecule bond index.
	Bond int
	// Hydrogen marks an explicit hydrogen exit.
	Hydrogen bool
}

// Match is one embedding of a core in one variant of a molecule.
type Match struct {
	Core    *Core
	Variant int
	Graph   *molgraph.Graph

	// Atoms maps core atom index to molecule atom index; attachment dummies
	// map to -1.
	Atoms []int

	// Cuts are ordered by anchor, then exit atom.
	Cuts []CutBond

	inMatch []bool
	// explicit hydrogens folded into the cap of their anchor
	folded  []bool
	foldedH map[int]int
}

// freeHydrogens counts the hydrogens available as caps at a core anchor.
func (m *Match) freeHydrogens(anchor int) int {
	return m.Graph.Atom(m.Atoms[anchor]).HCount + m.foldedH[anchor]
}

// matchEngine finds core embeddings under the run options.
type matchEngine struct {
	opts    Options
	matcher molgraph.Matcher
}

// findMatches lazily yields accepted matches of core against every variant.
// At most MaxMatchesPerCore embeddings are examined per core and variant.
func (e matchEngine) findMatches(core *Core, variants []*molgraph.Graph) iter.Seq[*Match] {
	return func(yield func(*Match) bool) {
		for vi, v := range variants {
			examined := 0
			for emb := range e.matcher.Matches(core.query, v) {
				if examined >= e.opts.MaxMatchesPerCore {
					break
				}
				examined++
				m := e.build(core, vi, v, emb)
				if !e.accept(m) {
					continue
				}
				if !yield(m) {
					return
				}
			}
		}
	}
}

func (e matchEngine) build(core *Core, vi int, v *molgraph.Graph, emb []int) *Match {
	m := &Match{
		Core:    core,
		Variant: vi,
		Graph:   v,
		Atoms:   make([]int, core.Graph.NumAtoms()),
		inMatch: make([]bool, v.NumAtoms()),
		folded:  make([]bool, v.NumAtoms()),
		foldedH: make(map[int]int),
	}
	for i := range m.Atoms {
		m.Atoms[i] = -1
	}
	for qi, ci := range core.queryAtoms {
		m.Atoms[ci] = emb[qi]
		m.inMatch[emb[qi]] = true
	}
	for ci, mi := range m.Atoms {
		if mi < 0 {
			continue
		}
		for _, nb := range v.Neighbors(mi) {
			if m.inMatch[nb.Atom] {
				continue
			}
			isH := v.IsHydrogen(nb.Atom)
			if isH && e.opts.RemoveHydrogensPostMatch && v.Degree(nb.Atom) == 1 {
				m.folded[nb.Atom] = true
				m.foldedH[ci]++
				continue
			}
			m.Cuts = append(m.Cuts, CutBond{Anchor: ci, From: mi, Exit: nb.Atom, Bond: nb.Bond, Hydrogen: isH})
		}
	}
	sort.Slice(m.Cuts, func(i, j int) bool {
		if m.Cuts[i].Anchor != m.Cuts[j].Anchor {
			return m.Cuts[i].Anchor < m.Cuts[j].Anchor
		}
		return m.Cuts[i].Exit < m.Cuts[j].Exit
	})
	return m
}

// accept applies onlyMatchAtRGroups: heavy substituents may leave the core
// only at anchors with attachment points, and no more of them than points
// unless an unlabeled point may absorb several.
func (e matchEngine) accept(m *Match) bool {
	if !e.opts.OnlyMatchAtRGroups {
		return true
	}
	heavy := make(map[int]int)
	for _, c := range m.Cuts {
		if !c.Hydrogen {
			heavy[c.Anchor]++
		}
	}
	for anchor, n := range heavy {
		pts := m.Core.pointsAt[anchor]
		if len(pts) == 0 {
			return false
		}
		if n <= len(pts) {
			continue
		}
		unlabeled := false
		for _, k := range pts {
			if !m.Core.Points[k].Labeled() {
				unlabeled = true
			}
		}
		if !(unlabeled && e.opts.AllowMultipleRGroupsOnUnlabelled) {
			return false
		}
	}
	return true
}

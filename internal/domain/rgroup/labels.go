package rgroup

import (
	"fmt"
	"iter"
	"sort"
	"strings"
)

// LabelKey names an R-group column before final numbering. Fixed labels
// carry their number; labels minted for extra substituents are keyed by
// (core, anchor symmetry class, slot) and numbered at finalization, so
// equivalent anchors of a symmetric core share their columns.
type LabelKey struct {
	Fixed int
	Core  int
	Class int
	Slot  int
}

func fixedLabel(n int) LabelKey { return LabelKey{Fixed: n} }

func mintedLabel(core, class, slot int) LabelKey {
	return LabelKey{Core: core, Class: class, Slot: slot}
}

// IsFixed reports whether the key carries a fixed label number.
func (k LabelKey) IsFixed() bool { return k.Fixed > 0 }

// Less orders fixed labels first by number, then minted labels by (core,
// class, slot).
func (k LabelKey) Less(o LabelKey) bool {
	if k.IsFixed() != o.IsFixed() {
		return k.IsFixed()
	}
	if k.IsFixed() {
		return k.Fixed < o.Fixed
	}
	if k.Core != o.Core {
		return k.Core < o.Core
	}
	if k.Class != o.Class {
		return k.Class < o.Class
	}
	return k.Slot < o.Slot
}

func (k LabelKey) String() string {
	if k.IsFixed() {
		return fmt.Sprintf("R%d", k.Fixed)
	}
	return fmt.Sprintf("R?(%d,%d,%d)", k.Core, k.Class, k.Slot)
}

// LabelEntry binds one label to one fragment. Cut is the index into the
// match's cuts, or -1 for a hydrogen cap.
type LabelEntry struct {
	Label    LabelKey
	Fragment *Fragment
	Cut      int
}

// Candidate is one complete label assignment for one match of a molecule.
type Candidate struct {
	Match   *Match
	Entries []LabelEntry

	signature string
}

// Core returns the core of the candidate's match.
func (c *Candidate) Core() *Core { return c.Match.Core }

// cutLabels maps the cuts of fragment f to the candidate's labels.
func (c *Candidate) cutLabels(f *Fragment, numbering map[LabelKey]int) []int {
	byCut := make(map[int]int, len(c.Entries))
	for _, e := range c.Entries {
		if e.Cut >= 0 {
			byCut[e.Cut] = numbering[e.Label]
		}
	}
	out := make([]int, len(f.Cuts))
	for j, k := range f.Cuts {
		out[j] = byCut[k]
	}
	return out
}

// userSubstituents counts the real substituents placed on user-labeled
// points.
func (c *Candidate) userSubstituents() int {
	n := 0
	for _, e := range c.Entries {
		if e.Label.IsFixed() && !e.Fragment.Hydrogen && c.Core().IsUserLabel(e.Label.Fixed) {
			n++
		}
	}
	return n
}

// preferUserLabels keeps, in order, the candidates that place the most real
// substituents on user-labeled points. A labeled point never hands its
// substituent to a minted label while another match lets it keep it.
func preferUserLabels(cands []*Candidate) []*Candidate {
	best := 0
	counts := make([]int, len(cands))
	for i, c := range cands {
		counts[i] = c.userSubstituents()
		best = max(best, counts[i])
	}
	if best == 0 {
		return cands
	}
	out := make([]*Candidate, 0, len(cands))
	for i, c := range cands {
		if counts[i] == best {
			out = append(out, c)
		}
	}
	return out
}

func (c *Candidate) computeSignature() {
	var sb strings.Builder
	fmt.Fprintf(&sb, "core=%d", c.Match.Core.ID)
	for _, e := range c.Entries {
		fmt.Fprintf(&sb, "|%s:", e.Label)
		if e.Cut < 0 {
			sb.WriteString("H")
			continue
		}
		for _, a := range e.Fragment.Atoms {
			fmt.Fprintf(&sb, "%d,", a)
		}
		sb.WriteString(e.Fragment.Identity)
	}
	c.signature = sb.String()
}

// ─────────────────────────────────────────────────────────────────────────────
// Assigner
// ─────────────────────────────────────────────────────────────────────────────

// labelAssigner turns a match and its fragments into candidate assignments.
type labelAssigner struct {
	opts Options
	hcap *Fragment
}

// anchorChoice is one way of labeling the cuts and caps of a single anchor.
type anchorChoice []LabelEntry

// assign lazily yields every candidate of m, anchors combined in odometer
// order (last anchor varying fastest). Minted slots are numbered per
// symmetry class in ascending anchor order.
func (a labelAssigner) assign(m *Match, frags []*Fragment) iter.Seq[*Candidate] {
	return func(yield func(*Candidate) bool) {
		anchors := a.anchorsOf(m)
		per := make([][]anchorChoice, len(anchors))
		for i, anchor := range anchors {
			per[i] = a.anchorChoices(m, frags, anchor)
			if len(per[i]) == 0 {
				return
			}
		}
		idx := make([]int, len(anchors))
		for {
			var entries []LabelEntry
			slots := make(map[int]int)
			for i := range anchors {
				for _, e := range per[i][idx[i]] {
					if !e.Label.IsFixed() {
						slots[e.Label.Class]++
						e.Label.Slot = slots[e.Label.Class]
					}
					entries = append(entries, e)
				}
			}
			sort.SliceStable(entries, func(x, y int) bool { return entries[x].Label.Less(entries[y].Label) })
			cand := &Candidate{Match: m, Entries: entries}
			cand.computeSignature()
			if !yield(cand) {
				return
			}
			// odometer step
			k := len(idx) - 1
			for k >= 0 {
				idx[k]++
				if idx[k] < len(per[k]) {
					break
				}
				idx[k] = 0
				k--
			}
			if k < 0 {
				return
			}
		}
	}
}

// anchorsOf returns, ascending, every core atom that carries attachment
// points or has cuts.
func (a labelAssigner) anchorsOf(m *Match) []int {
	set := make(map[int]bool)
	for _, anchor := range m.Core.anchors {
		set[anchor] = true
	}
	for _, c := range m.Cuts {
		set[c.Anchor] = true
	}
	out := make([]int, 0, len(set))
	for anchor := range set {
		out = append(out, anchor)
	}
	sort.Ints(out)
	return out
}

// anchorChoices enumerates the labelings of one anchor. Labeled points take
// one exit or a hydrogen cap each; unlabeled points take the remaining exits
// (one each, or distributed when several per point are allowed); exits left
// over get minted labels.
func (a labelAssigner) anchorChoices(m *Match, frags []*Fragment, anchor int) []anchorChoice {
	core := m.Core
	var exits []int
	for k, c := range m.Cuts {
		if c.Anchor == anchor {
			exits = append(exits, k)
		}
	}
	var labeled, unlabeled []int
	for _, p := range core.pointsAt[anchor] {
		if core.Points[p].Labeled() {
			labeled = append(labeled, p)
		} else {
			unlabeled = append(unlabeled, p)
		}
	}
	if m.Atoms[anchor] < 0 {
		return nil
	}
	hydrogens := m.freeHydrogens(anchor)

	var out []anchorChoice
	used := make([]bool, len(exits))

	entryFor := func(label LabelKey, k int) LabelEntry {
		return LabelEntry{Label: label, Fragment: frags[exits[k]], Cut: exits[k]}
	}
	capFor := func(label LabelKey) LabelEntry {
		return LabelEntry{Label: label, Fragment: a.hcap, Cut: -1}
	}

	// unlabeled points and leftovers, given the labeled picks so far
	finish := func(prefix []LabelEntry, hLeft int) {
		var rest []int
		for k := range exits {
			if !used[k] {
				rest = append(rest, k)
			}
		}
		for _, tail := range a.unlabeledChoices(core, anchor, unlabeled, rest, hLeft, entryFor, capFor) {
			choice := append(append(anchorChoice(nil), prefix...), tail...)
			out = append(out, choice)
		}
	}

	var pickLabeled func(i int, prefix []LabelEntry, hLeft int)
	pickLabeled = func(i int, prefix []LabelEntry, hLeft int) {
		if i == len(labeled) {
			finish(prefix, hLeft)
			return
		}
		label := fixedLabel(core.labels[labeled[i]])
		for k := range exits {
			if used[k] {
				continue
			}
			used[k] = true
			pickLabeled(i+1, append(prefix, entryFor(label, k)), hLeft)
			used[k] = false
		}
		if hLeft > 0 {
			pickLabeled(i+1, append(prefix, capFor(label)), hLeft-1)
		}
	}
	pickLabeled(0, nil, hydrogens)
	return out
}

// unlabeledChoices distributes the remaining exits rest over the unlabeled
// points of an anchor.
func (a labelAssigner) unlabeledChoices(core *Core, anchor int, points, rest []int, hLeft int,
	entryFor func(LabelKey, int) LabelEntry, capFor func(LabelKey) LabelEntry) [][]LabelEntry {

	minted := func(owned []LabelEntry, extra []int) []LabelEntry {
		for s, k := range extra {
			owned = append(owned, entryFor(mintedLabel(core.ID, core.symmetry[anchor], s+1), k))
		}
		return owned
	}

	if len(points) == 0 {
		return [][]LabelEntry{minted(nil, rest)}
	}

	if !a.opts.AllowMultipleRGroupsOnUnlabelled {
		var out [][]LabelEntry
		taken := make([]bool, len(rest))
		var pick func(i int, acc []LabelEntry, h int)
		pick = func(i int, acc []LabelEntry, h int) {
			if i == len(points) {
				var left []int
				for j, k := range rest {
					if !taken[j] {
						left = append(left, k)
					}
				}
				out = append(out, minted(append([]LabelEntry(nil), acc...), left))
				return
			}
			label := fixedLabel(core.labels[points[i]])
			free := 0
			for j, k := range rest {
				if taken[j] {
					continue
				}
				free++
				taken[j] = true
				pick(i+1, append(acc, entryFor(label, k)), h)
				taken[j] = false
			}
			if free > 0 {
				return
			}
			if h > 0 {
				pick(i+1, append(acc, capFor(label)), h-1)
				return
			}
			pick(i+1, acc, h)
		}
		pick(0, nil, hLeft)
		return out
	}

	// every assignment of each remaining exit to one point; rest is ascending
	// by exit atom, so the first exit a point receives keeps its label
	var out [][]LabelEntry
	owner := make([]int, len(rest))
	for {
		var acc []LabelEntry
		h := hLeft
		slot := 0
		for pi, p := range points {
			label := fixedLabel(core.labels[p])
			first := true
			for j, k := range rest {
				if owner[j] != pi {
					continue
				}
				if first {
					acc = append(acc, entryFor(label, k))
					first = false
					continue
				}
				slot++
				acc = append(acc, entryFor(mintedLabel(core.ID, core.symmetry[anchor], slot), k))
			}
			if first && h > 0 {
				acc = append(acc, capFor(label))
				h--
			}
		}
		out = append(out, acc)

		j := len(owner) - 1
		for j >= 0 {
			owner[j]++
			if owner[j] < len(points) {
				break
			}
			owner[j] = 0
			j--
		}
		if j < 0 {
			return out
		}
	}
}

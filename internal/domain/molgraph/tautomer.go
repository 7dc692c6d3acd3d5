package molgraph

import "iter"

// DefaultMaxTautomers bounds the variants produced per molecule.
const DefaultMaxTautomers = 50

// TautomerEnumerator generates tautomers by repeated 1,3 hydrogen shifts
// D(H)–C=A → D=C–A(H). Donor and acceptor are N, O or S; a carbon donor or
// acceptor is allowed only opposite an oxygen outside aromatic systems
// (keto–enol). Shifts inside or next to aromatic rings re-kekulize the
// affected system and re-perceive aromaticity, which covers lactam–lactim
// and ring N–H migrations.
//
// Variants are produced breadth-first, deduplicated by canonical SMILES, and
// keep the atom indexing of the input.
type TautomerEnumerator struct {
	// MaxTautomers caps the number of yielded graphs, the input included.
	// Zero means DefaultMaxTautomers.
	MaxTautomers int
}

// Enumerate implements Enumerator. The first graph yielded is g itself.
func (t TautomerEnumerator) Enumerate(g *Graph) iter.Seq[*Graph] {
	limit := t.MaxTautomers
	if limit <= 0 {
		limit = DefaultMaxTautomers
	}
	return func(yield func(*Graph) bool) {
		seen := map[string]bool{CanonicalSMILES(g): true}
		if !yield(g) {
			return
		}
		count := 1
		queue := []*Graph{g}
		for len(queue) > 0 && count < limit {
			cur := queue[0]
			queue = queue[1:]
			for _, s := range hydrogenShifts(cur) {
				next, ok := applyShift(cur, s)
				if !ok {
					continue
				}
				key := CanonicalSMILES(next)
				if seen[key] {
					continue
				}
				seen[key] = true
				if !yield(next) {
					return
				}
				count++
				if count >= limit {
					return
				}
				queue = append(queue, next)
			}
		}
	}
}

type shift struct {
	donor, carbon, acceptor int
	donorBond, acceptorBond int
}

func isShiftHetero(n int) bool { return n == 7 || n == 8 || n == 16 }

// hydrogenShifts lists candidate 1,3 shifts in ascending (donor, carbon,
// acceptor) order.
func hydrogenShifts(g *Graph) []shift {
	var out []shift
	for d := range g.atoms {
		da := g.atoms[d]
		if da.HCount < 1 || da.Charge != 0 {
			continue
		}
		if !isShiftHetero(da.Number) && da.Number != 6 {
			continue
		}
		for _, e1 := range g.adj[d] {
			c := e1.Atom
			b1 := g.bonds[e1.Bond]
			if g.atoms[c].Number != 6 || (b1.Order != BondSingle && !b1.Aromatic) {
				continue
			}
			for _, e2 := range g.adj[c] {
				acc := e2.Atom
				if acc == d {
					continue
				}
				b2 := g.bonds[e2.Bond]
				aa := g.atoms[acc]
				if aa.Charge != 0 || (b2.Order != BondDouble && !b2.Aromatic) {
					continue
				}
				switch {
				case isShiftHetero(da.Number) && isShiftHetero(aa.Number):
				case (da.Number == 6 && aa.Number == 8) || (da.Number == 8 && aa.Number == 6):
					if b1.Aromatic || b2.Aromatic || b2.Order != BondDouble {
						continue
					}
				default:
					continue
				}
				out = append(out, shift{donor: d, carbon: c, acceptor: acc, donorBond: e1.Bond, acceptorBond: e2.Bond})
			}
		}
	}
	return out
}

// applyShift moves one hydrogen from donor to acceptor on a copy of g.
func applyShift(g *Graph, s shift) (*Graph, bool) {
	h := g.Clone()
	touchesAromatic := h.bonds[s.donorBond].Aromatic || h.bonds[s.acceptorBond].Aromatic

	atomSet := make(map[int]bool)
	bondSet := make(map[int]bool)
	if touchesAromatic {
		for b := range h.bonds {
			if h.bonds[b].Aromatic {
				bondSet[b] = true
				h.bonds[b].Order = BondSingle
				h.bonds[b].Aromatic = false
				atomSet[h.bonds[b].Begin] = true
				atomSet[h.bonds[b].End] = true
			}
		}
		for i := range h.atoms {
			h.atoms[i].Aromatic = false
		}
	}

	h.setHCount(s.donor, h.atoms[s.donor].HCount-1)
	h.setHCount(s.acceptor, h.atoms[s.acceptor].HCount+1)
	if !bondSet[s.donorBond] {
		if h.bonds[s.donorBond].Order != BondSingle {
			return nil, false
		}
		h.setBondOrder(s.donorBond, BondDouble)
	}
	if !bondSet[s.acceptorBond] {
		if h.bonds[s.acceptorBond].Order != BondDouble {
			return nil, false
		}
		h.setBondOrder(s.acceptorBond, BondSingle)
	}

	if touchesAromatic {
		if err := h.kekulize(atomSet, bondSet); err != nil {
			return nil, false
		}
	}
	for _, i := range []int{s.donor, s.carbon, s.acceptor} {
		if !h.valenceOK(i) {
			return nil, false
		}
	}
	h.PerceiveAromaticity()
	return h, true
}

// valenceOK reports whether atom i sits exactly on an allowed valence.
func (g *Graph) valenceOK(i int) bool {
	a := g.atoms[i]
	used := g.bondOrderSum(i) + a.HCount
	v, ok := defaultValence(a.Number, a.Charge, used)
	return ok && v == used
}

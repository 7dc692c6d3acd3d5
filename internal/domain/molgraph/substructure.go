package molgraph

import "iter"

// SubstructureMatches lazily enumerates every embedding of query into target.
// Embeddings are not required to be induced: target may carry extra bonds
// between matched atoms.
//
// Atom rules: a query dummy matches any non-hydrogen target atom; other
// atoms need equal element and aromatic flag, and a non-zero query charge
// must match exactly. Hydrogen counts are ignored. Bond rules: both aromatic,
// or both non-aromatic with the same order.
//
// The search is a VF2-style backtracking over a breadth-first query order.
// All state lives in the closure, so concurrent calls are independent.
func SubstructureMatches(query, target *Graph) iter.Seq[[]int] {
	return func(yield func([]int) bool) {
		nq := query.NumAtoms()
		if nq == 0 || nq > target.NumAtoms() {
			return
		}
		order, parent := matchOrder(query)
		qmap := make([]int, nq)
		for i := range qmap {
			qmap[i] = -1
		}
		used := make([]bool, target.NumAtoms())

		var extend func(depth int) bool
		extend = func(depth int) bool {
			if depth == nq {
				return yield(append([]int(nil), qmap...))
			}
			q := order[depth]
			try := func(t int) bool {
				if used[t] || !atomsCompatible(query, q, target, t) || !bondsConsistent(query, q, target, t, qmap) {
					return true
				}
				qmap[q] = t
				used[t] = true
				ok := extend(depth + 1)
				used[t] = false
				qmap[q] = -1
				return ok
			}
			if p := parent[q]; p >= 0 {
				for _, e := range target.adj[qmap[p]] {
					if !try(e.Atom) {
						return false
					}
				}
				return true
			}
			for t := 0; t < target.NumAtoms(); t++ {
				if !try(t) {
					return false
				}
			}
			return true
		}
		extend(0)
	}
}

// HasSubstructure reports whether query embeds in target.
func HasSubstructure(query, target *Graph) bool {
	for range SubstructureMatches(query, target) {
		return true
	}
	return false
}

// matchOrder returns a breadth-first visiting order of query atoms, each
// component rooted at its most connected atom, and for every atom the
// earlier-visited neighbour it is reached from (-1 for roots).
func matchOrder(q *Graph) ([]int, []int) {
	n := q.NumAtoms()
	parent := make([]int, n)
	seen := make([]bool, n)
	order := make([]int, 0, n)
	for len(order) < n {
		root := -1
		for i := 0; i < n; i++ {
			if !seen[i] && (root < 0 || q.Degree(i) > q.Degree(root)) {
				root = i
			}
		}
		seen[root] = true
		parent[root] = -1
		start := len(order)
		order = append(order, root)
		for k := start; k < len(order); k++ {
			u := order[k]
			for _, e := range q.adj[u] {
				if !seen[e.Atom] {
					seen[e.Atom] = true
					parent[e.Atom] = u
					order = append(order, e.Atom)
				}
			}
		}
	}
	return order, parent
}

func atomsCompatible(q *Graph, qi int, t *Graph, ti int) bool {
	qa, ta := q.atoms[qi], t.atoms[ti]
	if t.Degree(ti) < q.Degree(qi) {
		return false
	}
	if qa.Number == 0 {
		return ta.Number != 1
	}
	if qa.Number != ta.Number || qa.Aromatic != ta.Aromatic {
		return false
	}
	return qa.Charge == 0 || qa.Charge == ta.Charge
}

func bondsCompatible(qb, tb Bond) bool {
	if qb.Aromatic || tb.Aromatic {
		return qb.Aromatic && tb.Aromatic
	}
	return qb.Order == tb.Order
}

// bondsConsistent checks every bond from qi to an already mapped query atom.
func bondsConsistent(q *Graph, qi int, t *Graph, ti int, qmap []int) bool {
	for _, e := range q.adj[qi] {
		tj := qmap[e.Atom]
		if tj < 0 {
			continue
		}
		tb, ok := t.BondBetween(ti, tj)
		if !ok || !bondsCompatible(q.bonds[e.Bond], t.bonds[tb]) {
			return false
		}
	}
	return true
}

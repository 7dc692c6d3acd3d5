package rgroup

import (
	"sort"

	"github.com/turtacn/KeyIP-RGD/internal/domain/molgraph"
	"github.com/turtacn/KeyIP-RGD/pkg/errors"
)

// AttachmentPoint is a position on a core where substituents are cut away.
type AttachmentPoint struct {
	// Anchor is the core atom the substituent bonds to.
	Anchor int `json:"anchor"`

	// Dummy is the core dummy atom standing in for the substituent, or -1
	// when the point is declared without one.
	Dummy int `json:"dummy"`

	// Label is the R-group number; 0 marks an unlabeled point.
	Label int `json:"label"`
}

// Labeled reports whether the point carries a user label.
func (p AttachmentPoint) Labeled() bool { return p.Label > 0 }

// Core is a registered scaffold. It is immutable once registered.
type Core struct {
	ID     int
	Graph  *molgraph.Graph
	Points []AttachmentPoint
	SMILES string

	// query is Graph without attachment dummies; queryAtoms maps query atom
	// index to core atom index.
	query      *molgraph.Graph
	queryAtoms []int

	// labels holds the effective label of each point, fixed at freeze.
	labels []int

	// pointsAt lists point indices per anchor, labeled first by ascending
	// label, then unlabeled in declaration order.
	pointsAt map[int][]int
	anchors  []int

	// symmetry holds the topological class of each core atom, with user
	// labels on the attachment dummies told apart.
	symmetry []int
}

// PointLabel returns the effective label of point k: the user label, or the
// label fixed for an unlabeled point when the registry was frozen.
func (c *Core) PointLabel(k int) int { return c.labels[k] }

// Anchors returns the anchor atoms in ascending order.
func (c *Core) Anchors() []int { return c.anchors }

// IsUserLabel reports whether label n was given by the caller rather than
// numbered for an unlabeled point.
func (c *Core) IsUserLabel(n int) bool {
	for _, p := range c.Points {
		if p.Labeled() && p.Label == n {
			return true
		}
	}
	return false
}

// AttachmentPointsFromDummies derives attachment points from the degree-one
// dummy atoms of g. The label is taken from the atom map number, the molfile
// RGP label or the isotope, in that order. Dummies of higher degree are left
// in the core as wildcard atoms.
func AttachmentPointsFromDummies(g *molgraph.Graph) []AttachmentPoint {
	var points []AttachmentPoint
	for i := 0; i < g.NumAtoms(); i++ {
		a := g.Atom(i)
		if !a.IsDummy() || g.Degree(i) != 1 {
			continue
		}
		label := a.MapNum
		if label == 0 {
			label = a.RLabel
		}
		if label == 0 {
			label = a.Isotope
		}
		points = append(points, AttachmentPoint{Anchor: g.Neighbors(i)[0].Atom, Dummy: i, Label: label})
	}
	return points
}

// newCore validates a core definition.
func newCore(id int, g *molgraph.Graph, points []AttachmentPoint) (*Core, error) {
	if g == nil || g.NumAtoms() == 0 {
		return nil, errors.New(errors.ErrCodeInvalidCore, "core graph is empty")
	}
	if len(points) == 0 {
		return nil, errors.New(errors.ErrCodeInvalidCore, "core has no attachment points")
	}

	dummies := make(map[int]bool)
	for _, p := range points {
		if p.Dummy >= 0 {
			dummies[p.Dummy] = true
		}
	}

	seenLabel := make(map[int]bool)
	for k, p := range points {
		if p.Anchor < 0 || p.Anchor >= g.NumAtoms() {
			return nil, errors.Newf(errors.ErrCodeInvalidCore, "attachment point %d: anchor %d out of range", k, p.Anchor)
		}
		if dummies[p.Anchor] {
			return nil, errors.Newf(errors.ErrCodeInvalidCore, "attachment point %d: anchor %d is an attachment dummy", k, p.Anchor)
		}
		if p.Label < 0 {
			return nil, errors.Newf(errors.ErrCodeInvalidCore, "attachment point %d: negative label %d", k, p.Label)
		}
		if p.Labeled() {
			if seenLabel[p.Label] {
				return nil, errors.Newf(errors.ErrCodeInvalidCore, "duplicate label R%d", p.Label)
			}
			seenLabel[p.Label] = true
		}
		if p.Dummy >= 0 {
			if p.Dummy >= g.NumAtoms() || !g.Atom(p.Dummy).IsDummy() {
				return nil, errors.Newf(errors.ErrCodeInvalidCore, "attachment point %d: atom %d is not a dummy", k, p.Dummy)
			}
			if _, ok := g.BondBetween(p.Anchor, p.Dummy); !ok {
				return nil, errors.Newf(errors.ErrCodeInvalidCore, "attachment point %d: dummy %d is not bonded to anchor %d", k, p.Dummy, p.Anchor)
			}
		}
	}

	c := &Core{
		ID:       id,
		Graph:    g,
		Points:   append([]AttachmentPoint(nil), points...),
		pointsAt: make(map[int][]int),
		labels:   make([]int, len(points)),
	}
	for k, p := range points {
		c.labels[k] = p.Label
	}

	keep := make([]int, 0, g.NumAtoms())
	for i := 0; i < g.NumAtoms(); i++ {
		if !dummies[i] {
			keep = append(keep, i)
		}
	}
	c.query, _ = g.Subgraph(keep)
	c.queryAtoms = keep

	for k, p := range points {
		c.pointsAt[p.Anchor] = append(c.pointsAt[p.Anchor], k)
	}
	for a, ks := range c.pointsAt {
		sort.SliceStable(ks, func(i, j int) bool {
			pi, pj := points[ks[i]], points[ks[j]]
			if pi.Labeled() != pj.Labeled() {
				return pi.Labeled()
			}
			return pi.Label < pj.Label
		})
		c.pointsAt[a] = ks
		c.anchors = append(c.anchors, a)
	}
	sort.Ints(c.anchors)

	var dummyAtoms, dummyLabels []int
	for _, p := range points {
		if p.Dummy >= 0 {
			dummyAtoms = append(dummyAtoms, p.Dummy)
			dummyLabels = append(dummyLabels, p.Label)
		}
	}
	c.symmetry = molgraph.SymmetryClasses(g.WithMapNums(dummyAtoms, dummyLabels))

	c.SMILES = c.renderSMILES()
	return c, nil
}

// renderSMILES writes the core with its attachment dummies carrying their
// effective labels. Points without a dummy are not drawn.
func (c *Core) renderSMILES() string {
	var atoms, nums []int
	for k, p := range c.Points {
		if p.Dummy >= 0 {
			atoms = append(atoms, p.Dummy)
			nums = append(nums, c.labels[k])
		}
	}
	return molgraph.CanonicalSMILES(c.Graph.WithMapNums(atoms, nums))
}

// ─────────────────────────────────────────────────────────────────────────────
// Registry
// ─────────────────────────────────────────────────────────────────────────────

// registry owns the cores of one run. It is frozen by the first molecule
// registration; after that it is read-only.
type registry struct {
	cores    []*Core
	frozen   bool
	maxFixed int
}

func (r *registry) add(g *molgraph.Graph, points []AttachmentPoint) (*Core, error) {
	if r.frozen {
		return nil, errors.InvalidState("cores cannot be added after molecules have been registered")
	}
	c, err := newCore(len(r.cores), g, points)
	if err != nil {
		return nil, err
	}
	r.cores = append(r.cores, c)
	return c, nil
}

// freeze numbers unlabeled points after the largest user label, in core
// order then ascending anchor.
func (r *registry) freeze() {
	if r.frozen {
		return
	}
	r.frozen = true
	next := 0
	for _, c := range r.cores {
		for _, p := range c.Points {
			if p.Label > next {
				next = p.Label
			}
		}
	}
	for _, c := range r.cores {
		for _, a := range c.anchors {
			for _, k := range c.pointsAt[a] {
				if !c.Points[k].Labeled() {
					next++
					c.labels[k] = next
				}
			}
		}
		c.SMILES = c.renderSMILES()
	}
	r.maxFixed = next
}

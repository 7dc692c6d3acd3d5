package molgraph

import "github.com/turtacn/KeyIP-RGD/pkg/errors"

// Attachment describes one broken bond of a fragment: Atom is the fragment
// side atom in the source graph and Bond the source bond that was cut.
type Attachment struct {
	Atom int
	Bond int
}

// ExtractFragment copies atoms into a new graph and appends one dummy atom
// per attachment, bonded to the copy of its Atom with the order of the cut
// bond. It returns the fragment and the index of each attachment dummy.
func (g *Graph) ExtractFragment(atoms []int, attachments []Attachment) (*Graph, []int, error) {
	sub, remap := g.Subgraph(atoms)
	dummies := make([]int, len(attachments))
	for k, at := range attachments {
		if at.Atom < 0 || at.Atom >= len(remap) || remap[at.Atom] < 0 {
			return nil, nil, errors.Newf(errors.ErrCodeMoleculeInvalidGraph, "attachment atom %d is not part of the fragment", at.Atom)
		}
		if at.Bond < 0 || at.Bond >= len(g.bonds) {
			return nil, nil, errors.Newf(errors.ErrCodeMoleculeInvalidGraph, "attachment bond %d out of range", at.Bond)
		}
		b := g.bonds[at.Bond]
		d := sub.AddAtom(Atom{Number: 0, fixedH: true})
		if _, err := sub.addBond(remap[at.Atom], d, b.Order, false); err != nil {
			return nil, nil, err
		}
		dummies[k] = d
	}
	return sub, dummies, nil
}

// WithMapNums returns a copy of g with the map number of each atom in atoms
// set to the matching entry of nums.
func (g *Graph) WithMapNums(atoms, nums []int) *Graph {
	c := g.Clone()
	for k, a := range atoms {
		c.atoms[a].MapNum = nums[k]
	}
	return c
}

package molgraph

import (
	"bufio"
	"strconv"
	"strings"

	"github.com/turtacn/KeyIP-RGD/pkg/errors"
)

// ParseMolBlock reads an MDL V2000 connection table. The first line is taken
// as the molecule name. Supported property records are M  CHG, M  ISO and
// M  RGP; R# atoms become dummy atoms carrying the RGP label. Bond type 4 is
// read as aromatic and kekulized like aromatic SMILES input.
func ParseMolBlock(block string) (*Graph, error) {
	lines := splitLines(block)
	countsAt := -1
	for i, l := range lines {
		if strings.Contains(l, "V2000") {
			countsAt = i
			break
		}
		if strings.Contains(l, "V3000") {
			return nil, errors.New(errors.ErrCodeMoleculeInvalidMolBlock, "V3000 molfiles are not supported")
		}
	}
	if countsAt < 0 {
		return nil, errors.New(errors.ErrCodeMoleculeInvalidMolBlock, "missing V2000 counts line")
	}

	counts := lines[countsAt]
	nAtoms, err1 := fixedInt(counts, 0, 3)
	nBonds, err2 := fixedInt(counts, 3, 6)
	if err1 != nil || err2 != nil {
		f := strings.Fields(counts)
		if len(f) < 2 {
			return nil, errors.Newf(errors.ErrCodeMoleculeInvalidMolBlock, "bad counts line %q", counts)
		}
		var e1, e2 error
		nAtoms, e1 = strconv.Atoi(f[0])
		nBonds, e2 = strconv.Atoi(f[1])
		if e1 != nil || e2 != nil {
			return nil, errors.Newf(errors.ErrCodeMoleculeInvalidMolBlock, "bad counts line %q", counts)
		}
	}
	if countsAt+1+nAtoms+nBonds > len(lines) {
		return nil, errors.Newf(errors.ErrCodeMoleculeInvalidMolBlock, "truncated molblock: want %d atoms and %d bonds", nAtoms, nBonds)
	}

	g := New()
	if countsAt >= 3 {
		g.Name = strings.TrimSpace(lines[countsAt-3])
	}

	for k := 0; k < nAtoms; k++ {
		line := lines[countsAt+1+k]
		f := strings.Fields(line)
		if len(f) < 4 {
			return nil, errors.Newf(errors.ErrCodeMoleculeInvalidMolBlock, "bad atom line %d: %q", k+1, line)
		}
		num := AtomicNumber(f[3])
		if num < 0 {
			return nil, errors.Newf(errors.ErrCodeMoleculeInvalidMolBlock, "unknown element %q on atom %d", f[3], k+1)
		}
		a := Atom{Number: num}
		if num == 0 {
			a.fixedH = true
		}
		// legacy charge column: 1=+3 2=+2 3=+1 5=-1 6=-2 7=-3
		if len(f) > 5 {
			if c, err := strconv.Atoi(f[5]); err == nil && c > 0 && c < 8 && c != 4 {
				a.Charge = 4 - c
			}
		}
		g.AddAtom(a)
	}

	for k := 0; k < nBonds; k++ {
		line := lines[countsAt+1+nAtoms+k]
		i, j, typ, err := bondFields(line)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrCodeMoleculeInvalidMolBlock, "bad bond line %d", k+1)
		}
		var order BondOrder
		aromatic := false
		switch typ {
		case 1, 2, 3:
			order = BondOrder(typ)
		case 4:
			order, aromatic = BondSingle, true
		default:
			return nil, errors.Newf(errors.ErrCodeMoleculeInvalidMolBlock, "unsupported bond type %d on bond %d", typ, k+1)
		}
		if _, err := g.addBond(i-1, j-1, order, aromatic); err != nil {
			return nil, errors.Wrapf(err, errors.ErrCodeMoleculeInvalidMolBlock, "bond %d", k+1)
		}
	}

	chargeSeen := false
	for _, line := range lines[countsAt+1+nAtoms+nBonds:] {
		if strings.HasPrefix(line, "M  END") {
			break
		}
		if len(line) < 6 || !strings.HasPrefix(line, "M  ") {
			continue
		}
		tag := line[3:6]
		switch tag {
		case "CHG", "ISO", "RGP":
		default:
			continue
		}
		pairs, err := propertyPairs(line)
		if err != nil {
			return nil, err
		}
		if tag == "CHG" && !chargeSeen {
			// M  CHG supersedes every atom-block charge
			for i := range g.atoms {
				g.atoms[i].Charge = 0
			}
			chargeSeen = true
		}
		for _, p := range pairs {
			idx := p[0] - 1
			if idx < 0 || idx >= len(g.atoms) {
				return nil, errors.Newf(errors.ErrCodeMoleculeInvalidMolBlock, "M  %s references atom %d", tag, p[0])
			}
			switch tag {
			case "CHG":
				g.atoms[idx].Charge = p[1]
			case "ISO":
				g.atoms[idx].Isotope = p[1]
			case "RGP":
				g.atoms[idx].RLabel = p[1]
			}
		}
	}

	if err := g.kekulizeAromatic(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeKekulizationFailed, "cannot kekulize molblock")
	}
	g.assignImplicitHydrogens()
	g.PerceiveAromaticity()
	return g, nil
}

func splitLines(s string) []string {
	var out []string
	sc := bufio.NewScanner(strings.NewReader(s))
	sc.Buffer(make([]byte, 0, 1024), 1<<20)
	for sc.Scan() {
		out = append(out, strings.TrimRight(sc.Text(), "\r"))
	}
	return out
}

func fixedInt(line string, from, to int) (int, error) {
	if len(line) < to {
		return 0, strconv.ErrSyntax
	}
	return strconv.Atoi(strings.TrimSpace(line[from:to]))
}

// bondFields reads the first three columns of a bond line, preferring the
// fixed-width layout and falling back to whitespace splitting.
func bondFields(line string) (int, int, int, error) {
	i, e1 := fixedInt(line, 0, 3)
	j, e2 := fixedInt(line, 3, 6)
	t, e3 := fixedInt(line, 6, 9)
	if e1 == nil && e2 == nil && e3 == nil {
		return i, j, t, nil
	}
	f := strings.Fields(line)
	if len(f) < 3 {
		return 0, 0, 0, errors.Newf(errors.ErrCodeMoleculeInvalidMolBlock, "short bond line %q", line)
	}
	var err error
	if i, err = strconv.Atoi(f[0]); err != nil {
		return 0, 0, 0, err
	}
	if j, err = strconv.Atoi(f[1]); err != nil {
		return 0, 0, 0, err
	}
	if t, err = strconv.Atoi(f[2]); err != nil {
		return 0, 0, 0, err
	}
	return i, j, t, nil
}

// propertyPairs parses "M  XXX  n a1 v1 a2 v2 ..." into (atom, value) pairs.
func propertyPairs(line string) ([][2]int, error) {
	f := strings.Fields(line[6:])
	if len(f) == 0 {
		return nil, errors.Newf(errors.ErrCodeMoleculeInvalidMolBlock, "empty property line %q", line)
	}
	n, err := strconv.Atoi(f[0])
	if err != nil || len(f) < 1+2*n {
		return nil, errors.Newf(errors.ErrCodeMoleculeInvalidMolBlock, "bad property line %q", line)
	}
	out := make([][2]int, 0, n)
	for k := 0; k < n; k++ {
		a, e1 := strconv.Atoi(f[1+2*k])
		v, e2 := strconv.Atoi(f[2+2*k])
		if e1 != nil || e2 != nil {
			return nil, errors.Newf(errors.ErrCodeMoleculeInvalidMolBlock, "bad property line %q", line)
		}
		out = append(out, [2]int{a, v})
	}
	return out, nil
}

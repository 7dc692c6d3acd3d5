package molgraph

import (
	"strconv"
	"strings"

	"github.com/turtacn/KeyIP-RGD/pkg/errors"
)

// ParseSMILES reads a SMILES string into a graph. Stereo marks are accepted
// and discarded. Aromatic input is kekulized, implicit hydrogens are assigned
// and aromaticity is re-perceived, so aromatic and Kekulé spellings of the
// same molecule produce the same graph flags.
func ParseSMILES(smiles string) (*Graph, error) {
	s := strings.TrimSpace(smiles)
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		s = s[:i] // trailing title
	}
	if s == "" {
		return nil, errors.New(errors.ErrCodeMoleculeInvalidSMILES, "empty SMILES")
	}
	p := &smilesParser{src: s, g: New(), prev: -1, rings: make(map[int]ringOpen)}
	if err := p.parse(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMoleculeInvalidSMILES, "cannot parse SMILES").WithDetail(s)
	}
	g := p.g
	g.Name = s
	if err := g.kekulizeAromatic(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeKekulizationFailed, "cannot kekulize SMILES").WithDetail(s)
	}
	g.assignImplicitHydrogens()
	g.PerceiveAromaticity()
	return g, nil
}

// MustParseSMILES is ParseSMILES that panics on error. For tests and
// package-level fixtures only.
func MustParseSMILES(smiles string) *Graph {
	g, err := ParseSMILES(smiles)
	if err != nil {
		panic(err)
	}
	return g
}

type ringOpen struct {
	atom     int
	order    BondOrder
	explicit bool
	aromatic bool
}

type smilesParser struct {
	src   string
	pos   int
	g     *Graph
	prev  int
	stack []int
	rings map[int]ringOpen

	// pending bond before the next atom or ring digit
	order    BondOrder
	explicit bool
	aromatic bool
}

func (p *smilesParser) fail(format string, args ...interface{}) error {
	return errors.Newf(errors.ErrCodeMoleculeInvalidSMILES, "position %d: "+format, append([]interface{}{p.pos}, args...)...)
}

func (p *smilesParser) resetBond() {
	p.order, p.explicit, p.aromatic = BondSingle, false, false
}

func (p *smilesParser) parse() error {
	p.resetBond()
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == '(':
			if p.prev < 0 {
				return p.fail("branch without preceding atom")
			}
			p.stack = append(p.stack, p.prev)
			p.pos++
		case c == ')':
			if len(p.stack) == 0 {
				return p.fail("unbalanced ')'")
			}
			p.prev = p.stack[len(p.stack)-1]
			p.stack = p.stack[:len(p.stack)-1]
			p.pos++
		case c == '.':
			p.prev = -1
			p.resetBond()
			p.pos++
		case strings.IndexByte("-=#$:/\\", c) >= 0:
			p.readBond(c)
			p.pos++
		case c >= '0' && c <= '9' || c == '%':
			if err := p.readRing(); err != nil {
				return err
			}
		case c == '[':
			a, err := p.readBracket()
			if err != nil {
				return err
			}
			if err := p.attach(a); err != nil {
				return err
			}
		default:
			a, err := p.readOrganic()
			if err != nil {
				return err
			}
			if err := p.attach(a); err != nil {
				return err
			}
		}
	}
	if len(p.stack) != 0 {
		return p.fail("unbalanced '('")
	}
	if len(p.rings) != 0 {
		return p.fail("unclosed ring bond")
	}
	return nil
}

func (p *smilesParser) readBond(c byte) {
	p.explicit = true
	p.aromatic = false
	switch c {
	case '=':
		p.order = BondDouble
	case '#':
		p.order = BondTriple
	case '$':
		p.order = BondTriple
	case ':':
		p.order = BondSingle
		p.aromatic = true
	default:
		p.order = BondSingle
	}
}

func (p *smilesParser) bondFor(i, j int, order BondOrder, explicit, aromatic bool) (BondOrder, bool) {
	if explicit {
		return order, aromatic
	}
	ai, aj := p.g.atoms[i], p.g.atoms[j]
	if ai.Aromatic && aj.Aromatic {
		return BondSingle, true
	}
	return BondSingle, false
}

func (p *smilesParser) attach(a Atom) error {
	idx := p.g.AddAtom(a)
	if p.prev >= 0 {
		order, arom := p.bondFor(p.prev, idx, p.order, p.explicit, p.aromatic)
		if _, err := p.g.addBond(p.prev, idx, order, arom); err != nil {
			return err
		}
	}
	p.prev = idx
	p.resetBond()
	return nil
}

func (p *smilesParser) readRing() error {
	if p.prev < 0 {
		return p.fail("ring bond without preceding atom")
	}
	var num int
	if p.src[p.pos] == '%' {
		if p.pos+3 > len(p.src) {
			return p.fail("truncated %%nn ring label")
		}
		n, err := strconv.Atoi(p.src[p.pos+1 : p.pos+3])
		if err != nil {
			return p.fail("bad ring label %q", p.src[p.pos:p.pos+3])
		}
		num = n
		p.pos += 3
	} else {
		num = int(p.src[p.pos] - '0')
		p.pos++
	}
	open, ok := p.rings[num]
	if !ok {
		p.rings[num] = ringOpen{atom: p.prev, order: p.order, explicit: p.explicit, aromatic: p.aromatic}
		p.resetBond()
		return nil
	}
	delete(p.rings, num)
	order, explicit, arom := p.order, p.explicit, p.aromatic
	if !explicit && open.explicit {
		order, explicit, arom = open.order, true, open.aromatic
	}
	order, arom = p.bondFor(open.atom, p.prev, order, explicit, arom)
	if _, err := p.g.addBond(open.atom, p.prev, order, arom); err != nil {
		return err
	}
	p.resetBond()
	return nil
}

var organicTwoLetter = map[string]bool{"Cl": true, "Br": true}

func (p *smilesParser) readOrganic() (Atom, error) {
	c := p.src[p.pos]
	if c == '*' {
		p.pos++
		return Atom{Number: 0, fixedH: true}, nil
	}
	if p.pos+1 < len(p.src) && organicTwoLetter[p.src[p.pos:p.pos+2]] {
		sym := p.src[p.pos : p.pos+2]
		p.pos += 2
		return Atom{Number: AtomicNumber(sym)}, nil
	}
	switch c {
	case 'B', 'C', 'N', 'O', 'P', 'S', 'F', 'I':
		p.pos++
		return Atom{Number: AtomicNumber(string(c))}, nil
	case 'b', 'c', 'n', 'o', 'p', 's':
		p.pos++
		return Atom{Number: AtomicNumber(strings.ToUpper(string(c))), Aromatic: true}, nil
	}
	return Atom{}, p.fail("unexpected character %q", c)
}

func (p *smilesParser) readBracket() (Atom, error) {
	end := strings.IndexByte(p.src[p.pos:], ']')
	if end < 0 {
		return Atom{}, p.fail("unterminated bracket atom")
	}
	body := p.src[p.pos+1 : p.pos+end]
	p.pos += end + 1

	a := Atom{fixedH: true}
	i := 0
	for i < len(body) && body[i] >= '0' && body[i] <= '9' {
		i++
	}
	if i > 0 {
		a.Isotope, _ = strconv.Atoi(body[:i])
	}

	// element symbol
	rest := body[i:]
	if rest == "" {
		return Atom{}, p.fail("bracket atom without element")
	}
	switch {
	case rest[0] == '*':
		a.Number = 0
		rest = rest[1:]
	case rest[0] >= 'a' && rest[0] <= 'z':
		sym := strings.ToUpper(rest[:1])
		n := 1
		if len(rest) > 1 && rest[:2] == "se" {
			sym, n = "Se", 2
		}
		a.Number = AtomicNumber(sym)
		a.Aromatic = true
		rest = rest[n:]
	default:
		n := 1
		if len(rest) > 1 && rest[1] >= 'a' && rest[1] <= 'z' && AtomicNumber(rest[:2]) >= 0 {
			n = 2
		}
		a.Number = AtomicNumber(rest[:n])
		rest = rest[n:]
	}
	if a.Number < 0 {
		return Atom{}, p.fail("unknown element in [%s]", body)
	}

	// chirality
	for len(rest) > 0 && rest[0] == '@' {
		rest = rest[1:]
	}

	// hydrogens
	if len(rest) > 0 && rest[0] == 'H' {
		rest = rest[1:]
		a.HCount = 1
		j := 0
		for j < len(rest) && rest[j] >= '0' && rest[j] <= '9' {
			j++
		}
		if j > 0 {
			a.HCount, _ = strconv.Atoi(rest[:j])
			rest = rest[j:]
		}
	}

	// charge
	if len(rest) > 0 && (rest[0] == '+' || rest[0] == '-') {
		sign := 1
		if rest[0] == '-' {
			sign = -1
		}
		ch := rest[0]
		rest = rest[1:]
		mag := 1
		j := 0
		for j < len(rest) && rest[j] >= '0' && rest[j] <= '9' {
			j++
		}
		if j > 0 {
			mag, _ = strconv.Atoi(rest[:j])
			rest = rest[j:]
		} else {
			for len(rest) > 0 && rest[0] == ch {
				mag++
				rest = rest[1:]
			}
		}
		a.Charge = sign * mag
	}

	// atom map
	if len(rest) > 0 && rest[0] == ':' {
		m, err := strconv.Atoi(rest[1:])
		if err != nil {
			return Atom{}, p.fail("bad atom map in [%s]", body)
		}
		a.MapNum = m
		rest = ""
	}
	if rest != "" {
		return Atom{}, p.fail("unexpected %q in [%s]", rest, body)
	}
	return a, nil
}

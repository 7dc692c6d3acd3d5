package molgraph

// element describes the per-element data the graph layer needs.
type element struct {
	Symbol     string
	Number     int
	Valences   []int // allowed neutral valences, ascending
	Organic    bool  // member of the SMILES organic subset
	Aromatic   bool  // may be written lowercase in SMILES
	Heteroatom bool
}

var elements = []element{
	{Symbol: "*", Number: 0},
	{Symbol: "H", Number: 1, Valences: []int{1}},
	{Symbol: "He", Number: 2},
	{Symbol: "Li", Number: 3, Valences: []int{1}},
	{Symbol: "Be", Number: 4, Valences: []int{2}},
	{Symbol: "B", Number: 5, Valences: []int{3}, Organic: true, Aromatic: true},
	{Symbol: "C", Number: 6, Valences: []int{4}, Organic: true, Aromatic: true},
	{Symbol: "N", Number: 7, Valences: []int{3, 5}, Organic: true, Aromatic: true, Heteroatom: true},
	{Symbol: "O", Number: 8, Valences: []int{2}, Organic: true, Aromatic: true, Heteroatom: true},
	{Symbol: "F", Number: 9, Valences: []int{1}, Organic: true, Heteroatom: true},
	{Symbol: "Ne", Number: 10},
	{Symbol: "Na", Number: 11, Valences: []int{1}},
	{Symbol: "Mg", Number: 12, Valences: []int{2}},
	{Symbol: "Al", Number: 13, Valences: []int{3}},
	{Symbol: "Si", Number: 14, Valences: []int{4}},
	{Symbol: "P", Number: 15, Valences: []int{3, 5}, Organic: true, Aromatic: true, Heteroatom: true},
	{Symbol: "S", Number: 16, Valences: []int{2, 4, 6}, Organic: true, Aromatic: true, Heteroatom: true},
	{Symbol: "Cl", Number: 17, Valences: []int{1}, Organic: true, Heteroatom: true},
	{Symbol: "Ar", Number: 18},
	{Symbol: "K", Number: 19, Valences: []int{1}},
	{Symbol: "Ca", Number: 20, Valences: []int{2}},
	{Symbol: "Se", Number: 34, Valences: []int{2, 4, 6}, Aromatic: true, Heteroatom: true},
	{Symbol: "Br", Number: 35, Valences: []int{1}, Organic: true, Heteroatom: true},
	{Symbol: "I", Number: 53, Valences: []int{1}, Organic: true, Heteroatom: true},
}

var (
	elementBySymbol = map[string]*element{}
	elementByNumber = map[int]*element{}
)

func init() {
	for i := range elements {
		e := &elements[i]
		elementBySymbol[e.Symbol] = e
		elementByNumber[e.Number] = e
	}
	// Molfile R-group atoms are dummies.
	elementBySymbol["R#"] = elementBySymbol["*"]
	elementBySymbol["R"] = elementBySymbol["*"]
}

// AtomicNumber returns the atomic number for symbol, or -1 if unknown.
func AtomicNumber(symbol string) int {
	if e, ok := elementBySymbol[symbol]; ok {
		return e.Number
	}
	return -1
}

// Symbol returns the element symbol for an atomic number, "*" for dummies
// and "?" for unknown numbers.
func Symbol(number int) string {
	if e, ok := elementByNumber[number]; ok {
		return e.Symbol
	}
	return "?"
}

// defaultValence returns the smallest allowed valence of element number that
// is >= used, adjusted for formal charge. ok is false when no valence fits.
func defaultValence(number, charge, used int) (int, bool) {
	e, found := elementByNumber[number]
	if !found || len(e.Valences) == 0 {
		return used, false
	}
	for _, v := range e.Valences {
		v = adjustForCharge(number, charge, v)
		if v >= used {
			return v, true
		}
	}
	return used, false
}

// adjustForCharge applies the isoelectronic valence shift: N+ behaves like C
// (4), O+ like N (3), C- like N (3), C+ like B (3), O- like F (1).
func adjustForCharge(number, charge, valence int) int {
	if charge == 0 {
		return valence
	}
	switch number {
	case 7, 15, 8, 16, 34:
		// group 15/16: cation gains a bond, anion loses one
		valence += charge
	default:
		valence -= abs(charge)
	}
	if valence < 0 {
		return 0
	}
	return valence
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

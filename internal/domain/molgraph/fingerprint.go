package molgraph

import (
	"crypto/sha256"
	"encoding/binary"
	"math/bits"
	"sort"
)

// Default Morgan parameters.
const (
	DefaultMorganRadius = 2
	DefaultMorganBits   = 2048
)

// ─────────────────────────────────────────────────────────────────────────────
// Fingerprint
// ─────────────────────────────────────────────────────────────────────────────

// Fingerprint is a packed bit vector; bit i lives in byte i/8 at position
// i%8.
type Fingerprint struct {
	Bits      []byte `json:"bits"`
	Length    int    `json:"length"`
	NumOnBits int    `json:"num_on_bits"`
}

// NewFingerprint wraps packed bit data of the given length.
func NewFingerprint(data []byte, length int) Fingerprint {
	on := 0
	for _, b := range data {
		on += bits.OnesCount8(b)
	}
	return Fingerprint{Bits: data, Length: length, NumOnBits: on}
}

// GetBit reports whether bit index is set.
func (fp Fingerprint) GetBit(index int) bool {
	if index < 0 || index >= fp.Length {
		return false
	}
	return fp.Bits[index/8]&(1<<uint(index%8)) != 0
}

// OnBits returns the indices of set bits in ascending order.
func (fp Fingerprint) OnBits() []int {
	out := make([]int, 0, fp.NumOnBits)
	for i, b := range fp.Bits {
		for b != 0 {
			k := bits.TrailingZeros8(b)
			out = append(out, i*8+k)
			b &^= 1 << uint(k)
		}
	}
	return out
}

func setBit(data []byte, index int) {
	data[index/8] |= 1 << uint(index%8)
}

// ─────────────────────────────────────────────────────────────────────────────
// Morgan (circular) fingerprint
// ─────────────────────────────────────────────────────────────────────────────

// MorganFingerprinter hashes atom-centred environments up to Radius bonds
// into a Length-bit vector.
type MorganFingerprinter struct {
	Radius int
	Length int
}

// NewMorganFingerprinter returns a fingerprinter with the default radius 2
// and 2048 bits.
func NewMorganFingerprinter() MorganFingerprinter {
	return MorganFingerprinter{Radius: DefaultMorganRadius, Length: DefaultMorganBits}
}

// Fingerprint implements Fingerprinter.
func (m MorganFingerprinter) Fingerprint(g *Graph) Fingerprint {
	radius, n := m.Radius, m.Length
	if radius < 0 {
		radius = DefaultMorganRadius
	}
	if n <= 0 {
		n = DefaultMorganBits
	}
	data := make([]byte, (n+7)/8)

	inv := make([]uint64, g.NumAtoms())
	for i := range inv {
		inv[i] = atomInvariant(g, i)
		setBit(data, int(inv[i]%uint64(n)))
	}
	type nb struct {
		bond uint64
		inv  uint64
	}
	for r := 1; r <= radius; r++ {
		next := make([]uint64, len(inv))
		for i := range inv {
			nbs := make([]nb, 0, len(g.adj[i]))
			for _, e := range g.adj[i] {
				nbs = append(nbs, nb{bond: bondInvariant(g.bonds[e.Bond]), inv: inv[e.Atom]})
			}
			sort.Slice(nbs, func(a, b int) bool {
				if nbs[a].bond != nbs[b].bond {
					return nbs[a].bond < nbs[b].bond
				}
				return nbs[a].inv < nbs[b].inv
			})
			buf := make([]byte, 0, 16+16*len(nbs))
			buf = binary.BigEndian.AppendUint64(buf, uint64(r))
			buf = binary.BigEndian.AppendUint64(buf, inv[i])
			for _, x := range nbs {
				buf = binary.BigEndian.AppendUint64(buf, x.bond)
				buf = binary.BigEndian.AppendUint64(buf, x.inv)
			}
			next[i] = hashBytes(buf)
			setBit(data, int(next[i]%uint64(n)))
		}
		inv = next
	}
	return NewFingerprint(data, n)
}

func atomInvariant(g *Graph, i int) uint64 {
	a := g.atoms[i]
	ring := uint64(0)
	if g.InRing(i) {
		ring = 1
	}
	arom := uint64(0)
	if a.Aromatic {
		arom = 1
	}
	buf := make([]byte, 0, 56)
	buf = binary.BigEndian.AppendUint64(buf, uint64(a.Number))
	buf = binary.BigEndian.AppendUint64(buf, uint64(g.HeavyDegree(i)))
	buf = binary.BigEndian.AppendUint64(buf, uint64(g.TotalHydrogens(i)))
	buf = binary.BigEndian.AppendUint64(buf, uint64(int64(a.Charge)))
	buf = binary.BigEndian.AppendUint64(buf, uint64(a.Isotope))
	buf = binary.BigEndian.AppendUint64(buf, arom)
	buf = binary.BigEndian.AppendUint64(buf, ring)
	return hashBytes(buf)
}

func bondInvariant(b Bond) uint64 {
	if b.Aromatic {
		return 4
	}
	return uint64(b.Order)
}

func hashBytes(b []byte) uint64 {
	sum := sha256.Sum256(b)
	return binary.BigEndian.Uint64(sum[:8])
}

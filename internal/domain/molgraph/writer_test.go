package molgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalSMILES_SimpleForms(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"C", "C"},
		{"[*:1]C", "[*:1]C"},
		{"C[*:1]", "[*:1]C"},
		{"*C", "*C"},
		{"[NH4+]", "[NH4+]"},
		{"[H][H]", "[H][H]"},
		{"C#N", "C#N"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalSMILES(MustParseSMILES(tt.in)))
		})
	}
}

func TestCanonicalSMILES_OrderIndependent(t *testing.T) {
	groups := [][]string{
		{"CCO", "OCC", "C(O)C"},
		{"Cc1ccccc1", "c1ccccc1C", "c1cc(C)ccc1"},
		{"CC(=O)Nc1ccc(Cl)cc1", "Clc1ccc(NC(C)=O)cc1"},
		{"O=c1cccc[nH]1", "c1cc(=O)[nH]cc1"},
		{"[*:1]c1ccccc1", "c1ccc([*:1])cc1"},
	}
	for _, grp := range groups {
		t.Run(grp[0], func(t *testing.T) {
			want := CanonicalSMILES(MustParseSMILES(grp[0]))
			for _, s := range grp[1:] {
				assert.Equal(t, want, CanonicalSMILES(MustParseSMILES(s)), s)
			}
		})
	}
}

func TestCanonicalSMILES_RoundTrip(t *testing.T) {
	inputs := []string{
		"CCO",
		"Oc1ccccc1",
		"O=c1cccc[nH]1",
		"CC(=O)Nc1ccc(Cl)cc1",
		"C1CC1",
		"[*:1]c1ccccc1",
		"c1ccc2ccccc2c1",
		"C[N+](C)(C)C",
		"c1ccoc1",
		"c1ccc(-c2ccccc2)cc1",
		"CCO.Cl",
		"[2*]CC[1*]",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			first := CanonicalSMILES(MustParseSMILES(in))
			again, err := ParseSMILES(first)
			require.NoError(t, err, first)
			assert.Equal(t, first, CanonicalSMILES(again))
		})
	}
}

func TestCanonicalSMILES_BracketsAromaticNH(t *testing.T) {
	s := CanonicalSMILES(MustParseSMILES("c1cc[nH]c1"))
	assert.Contains(t, s, "[nH]")
}

func TestCanonicalSMILES_Empty(t *testing.T) {
	assert.Equal(t, "", CanonicalSMILES(New()))
}

func TestSymmetryClasses_MonosubstitutedRing(t *testing.T) {
	// atoms: 0 dummy, 1 ipso, 2..6 around the ring
	classes := SymmetryClasses(MustParseSMILES("[*:1]c1ccccc1"))
	require.Len(t, classes, 7)

	assert.Equal(t, classes[2], classes[6], "ortho")
	assert.Equal(t, classes[3], classes[5], "meta")
	distinct := map[int]bool{}
	for _, i := range []int{0, 1, 2, 3, 4} {
		distinct[classes[i]] = true
	}
	assert.Len(t, distinct, 5)
}

func TestSymmetryClasses_BenzeneIsOneClass(t *testing.T) {
	classes := SymmetryClasses(MustParseSMILES("c1ccccc1"))
	for _, c := range classes {
		assert.Equal(t, classes[0], c)
	}
}

package rgroup

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/KeyIP-RGD/internal/domain/molgraph"
	"github.com/turtacn/KeyIP-RGD/pkg/errors"
)

// 3,4-disubstituted 2-pyridone with R1/R2 attachment atoms.
const pyridoneCoreBlock = `
  Mrv2008 08072313382D

  9  9  0  0  0  0            999 V2000
    5.9823    5.0875    0.0000 C   0  0  0  0  0  0  0  0  0  0  0  0
    5.9823    4.2625    0.0000 C   0  0  0  0  0  0  0  0  0  0  0  0
    5.2679    3.8500    0.0000 C   0  0  0  0  0  0  0  0  0  0  0  0
    4.5534    4.2625    0.0000 C   0  0  0  0  0  0  0  0  0  0  0  0
    4.5534    5.0875    0.0000 N   0  0  0  0  0  0  0  0  0  0  0  0
    5.2679    5.5000    0.0000 C   0  0  0  0  0  0  0  0  0  0  0  0
    5.2679    6.3250    0.0000 O   0  0  0  0  0  0  0  0  0  0  0  0
    6.6968    3.8500    0.0000 R#  0  0  0  0  0  0  0  0  0  0  0  0
    5.2679    3.0250    0.0000 R#  0  0  0  0  0  0  0  0  0  0  0  0
  1  2  2  0  0  0  0
  2  3  1  0  0  0  0
  3  4  2  0  0  0  0
  4  5  1  0  0  0  0
  5  6  1  0  0  0  0
  6  7  2  0  0  0  0
  1  6  1  0  0  0  0
  2  8  1  0  0  0  0
  3  9  1  0  0  0  0
M  RGP  2   8   1   9   2
M  END`

const (
	hydroxypyridine = "Cc1cnc(O)cc1Cl"
	pyridone        = "CC1=CNC(=O)C=C1F"
)

func newDecomposition(t *testing.T, opts Options, options ...Option) *Decomposition {
	t.Helper()
	d, err := New(opts, options...)
	require.NoError(t, err)
	return d
}

func addCoreSMILES(t *testing.T, d *Decomposition, smiles string) int {
	t.Helper()
	id, err := d.AddCore(molgraph.MustParseSMILES(smiles))
	require.NoError(t, err)
	return id
}

func addSMILES(d *Decomposition, smiles string) (int, error) {
	return d.Add(context.Background(), molgraph.MustParseSMILES(smiles))
}

func tautomerOptions() Options {
	opts := DefaultOptions()
	opts.OnlyMatchAtRGroups = true
	opts.RemoveHydrogensPostMatch = true
	opts.RemoveAllHydrogenRGroups = true
	opts.DoTautomers = true
	return opts
}

// ─────────────────────────────────────────────────────────────────────────────
// Tautomer scenarios
// ─────────────────────────────────────────────────────────────────────────────

func TestDecomposition_PyridoneMolBlockCoreWithTautomers(t *testing.T) {
	d := newDecomposition(t, tautomerOptions())
	core, err := molgraph.ParseMolBlock(pyridoneCoreBlock)
	require.NoError(t, err)
	_, err = d.AddCore(core)
	require.NoError(t, err)

	idx, err := addSMILES(d, hydroxypyridine)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	idx, err = addSMILES(d, pyridone)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	ok, err := d.Process(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	rows, err := d.Rows()
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "[*:1]Cl", rows[0].RGroups[1].SMILES)
	assert.Equal(t, "[*:2]C", rows[0].RGroups[2].SMILES)
	assert.Equal(t, "[*:1]F", rows[1].RGroups[1].SMILES)
	assert.Equal(t, "[*:2]C", rows[1].RGroups[2].SMILES)
	for _, row := range rows {
		assert.Equal(t, 0, row.CoreID)
		assert.NotEmpty(t, row.CoreSMILES)
	}
}

func TestDecomposition_PyridoneTautomersWithUnrestrictedMatching(t *testing.T) {
	opts := DefaultOptions()
	opts.MatchingStrategy = GreedyChunks
	opts.ScoreMethod = FingerprintVariance
	opts.OnlyMatchAtRGroups = false
	opts.RemoveHydrogensPostMatch = true
	opts.RemoveAllHydrogenRGroups = true
	opts.AllowMultipleRGroupsOnUnlabelled = true
	opts.DoTautomers = true
	d := newDecomposition(t, opts)
	core, err := molgraph.ParseMolBlock(pyridoneCoreBlock)
	require.NoError(t, err)
	_, err = d.AddCore(core)
	require.NoError(t, err)

	idx, err := addSMILES(d, hydroxypyridine)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	idx, err = addSMILES(d, pyridone)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	ok, err := d.Process(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	res, err := d.Result()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, res.Columns())
	rows := res.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "[*:1]Cl", rows[0].RGroups[1].SMILES)
	assert.Equal(t, "[*:2]C", rows[0].RGroups[2].SMILES)
	assert.Equal(t, "[*:1]F", rows[1].RGroups[1].SMILES)
	assert.Equal(t, "[*:2]C", rows[1].RGroups[2].SMILES)
}

func TestDecomposition_PyridoneWithoutTautomersRejectsHydroxyForm(t *testing.T) {
	opts := tautomerOptions()
	opts.DoTautomers = false
	d := newDecomposition(t, opts)
	core, err := molgraph.ParseMolBlock(pyridoneCoreBlock)
	require.NoError(t, err)
	_, err = d.AddCore(core)
	require.NoError(t, err)

	_, err = addSMILES(d, hydroxypyridine)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNoMatch))

	idx, err := addSMILES(d, pyridone)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	ok, err := d.Process(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	rows, err := d.Rows()
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestDecomposition_UnlabeledCoreWithTautomers(t *testing.T) {
	d := newDecomposition(t, tautomerOptions())
	addCoreSMILES(t, d, "O=c1[nH]cc(*)c(*)c1")

	for want, smi := range []string{hydroxypyridine, pyridone} {
		idx, err := addSMILES(d, smi)
		require.NoError(t, err, smi)
		assert.Equal(t, want, idx)
	}

	ok, err := d.Process(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	res, err := d.Result()
	require.NoError(t, err)
	require.Len(t, res.Rows(), 2)
	assert.Equal(t, []int{1, 2}, res.Columns())

	// unlabeled points are numbered by ascending anchor: the methyl side first
	rows := res.Rows()
	assert.Equal(t, "[*:1]C", rows[0].RGroups[1].SMILES)
	assert.Equal(t, "[*:2]Cl", rows[0].RGroups[2].SMILES)
	assert.Equal(t, "[*:1]C", rows[1].RGroups[1].SMILES)
	assert.Equal(t, "[*:2]F", rows[1].RGroups[2].SMILES)
}

// ─────────────────────────────────────────────────────────────────────────────
// Registration
// ─────────────────────────────────────────────────────────────────────────────

func TestDecomposition_RejectsUnrelatedMolecule(t *testing.T) {
	d := newDecomposition(t, DefaultOptions())
	addCoreSMILES(t, d, "[*:1]c1ccccc1")

	_, err := addSMILES(d, "CCCCO")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNoMatch, errors.GetCode(err))
	assert.Equal(t, 0, d.NumMolecules())

	_, err = addSMILES(d, "Cc1ccccc1")
	require.NoError(t, err)
	ok, err := d.Process(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	rows, _ := d.Rows()
	assert.Len(t, rows, 1)
}

func TestDecomposition_OrderStability(t *testing.T) {
	opts := DefaultOptions()
	opts.OnlyMatchAtRGroups = true
	d := newDecomposition(t, opts)
	addCoreSMILES(t, d, "[*:1]c1ccccc1")

	inputs := []string{"Cc1ccccc1", "CCc1ccccc1", "Clc1ccccc1", "Oc1ccccc1"}
	for want, smi := range inputs {
		idx, err := addSMILES(d, smi)
		require.NoError(t, err)
		assert.Equal(t, want, idx)
	}
	_, err := d.Process(context.Background())
	require.NoError(t, err)

	rows, err := d.Rows()
	require.NoError(t, err)
	require.Len(t, rows, len(inputs))
	for i, row := range rows {
		assert.Equal(t, i, row.Index)
		assert.Equal(t, inputs[i], row.Name)
		assert.Contains(t, row.RGroups, 1, "label completeness")
	}
}

func TestDecomposition_AddBatchKeepsInputOrder(t *testing.T) {
	opts := DefaultOptions()
	opts.OnlyMatchAtRGroups = true
	inputs := []string{"Cc1ccccc1", "CCO", "CCc1ccccc1", "Clc1ccccc1", "Oc1ccccc1"}

	sequential := newDecomposition(t, opts)
	addCoreSMILES(t, sequential, "[*:1]c1ccccc1")
	for _, smi := range inputs {
		_, _ = addSMILES(sequential, smi)
	}
	_, err := sequential.Process(context.Background())
	require.NoError(t, err)
	want, err := sequential.Rows()
	require.NoError(t, err)

	d := newDecomposition(t, opts)
	addCoreSMILES(t, d, "[*:1]c1ccccc1")
	graphs := make([]*molgraph.Graph, 0, len(inputs)+1)
	for _, smi := range inputs {
		graphs = append(graphs, molgraph.MustParseSMILES(smi))
	}
	graphs = append(graphs, nil)

	indices, errs := d.AddBatch(context.Background(), graphs, 3)
	assert.Equal(t, []int{0, -1, 1, 2, 3, -1}, indices)
	assert.True(t, errors.IsCode(errs[1], errors.ErrCodeNoMatch))
	assert.True(t, errors.IsCode(errs[5], errors.ErrCodeMoleculeInvalidGraph))
	for _, i := range []int{0, 2, 3, 4} {
		assert.NoError(t, errs[i])
	}

	_, err = d.Process(context.Background())
	require.NoError(t, err)
	got, err := d.Rows()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	indices, errs = d.AddBatch(context.Background(), graphs[:1], 1)
	assert.Equal(t, []int{-1}, indices)
	assert.True(t, errors.IsCode(errs[0], errors.ErrCodeAlreadyFinalized))
}

func TestDecomposition_AddWithoutCores(t *testing.T) {
	d := newDecomposition(t, DefaultOptions())
	_, err := addSMILES(d, "CCO")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidState))
}

func TestDecomposition_AddEmptyMolecule(t *testing.T) {
	d := newDecomposition(t, DefaultOptions())
	addCoreSMILES(t, d, "[*:1]c1ccccc1")
	_, err := d.Add(context.Background(), molgraph.New())
	assert.True(t, errors.IsCode(err, errors.ErrCodeMoleculeInvalidGraph))
}

func TestDecomposition_InvalidCores(t *testing.T) {
	d := newDecomposition(t, DefaultOptions())

	_, err := d.AddCore(molgraph.MustParseSMILES("c1ccccc1"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidCore), "no attachment points")

	benzene := molgraph.MustParseSMILES("c1ccccc1")
	_, err = d.AddCore(benzene,
		AttachmentPoint{Anchor: 0, Dummy: -1, Label: 1},
		AttachmentPoint{Anchor: 3, Dummy: -1, Label: 1})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidCore), "duplicate labels")

	_, err = d.AddCore(benzene, AttachmentPoint{Anchor: 9, Dummy: -1, Label: 1})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidCore), "anchor out of range")

	_, err = d.AddCore(nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidCore), "nil graph")

	assert.Empty(t, d.Cores())
}

func TestDecomposition_DeclaredPointsWithoutDummies(t *testing.T) {
	d := newDecomposition(t, DefaultOptions())
	_, err := d.AddCore(molgraph.MustParseSMILES("c1ccncc1"), AttachmentPoint{Anchor: 0, Dummy: -1, Label: 3})
	require.NoError(t, err)

	_, err = addSMILES(d, "Cc1ccncc1")
	require.NoError(t, err)
	ok, err := d.Process(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	res, _ := d.Result()
	assert.Equal(t, []int{3}, res.Columns())
}

// ─────────────────────────────────────────────────────────────────────────────
// State machine
// ─────────────────────────────────────────────────────────────────────────────

func TestDecomposition_StateMachine(t *testing.T) {
	d := newDecomposition(t, DefaultOptions())
	addCoreSMILES(t, d, "[*:1]c1ccccc1")

	_, err := d.Rows()
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFinalized))

	_, err = addSMILES(d, "Cc1ccccc1")
	require.NoError(t, err)

	_, err = d.AddCore(molgraph.MustParseSMILES("[*:2]C1CCCCC1"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidState), "cores are frozen by the first molecule")

	assert.True(t, errors.IsCode(d.Configure(map[string]any{"chunkSize": 3}), errors.ErrCodeInvalidState))

	ok, err := d.Process(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = addSMILES(d, "CCc1ccccc1")
	assert.True(t, errors.IsCode(err, errors.ErrCodeAlreadyFinalized))
	assert.True(t, errors.IsCode(d.Configure(map[string]any{"chunkSize": 3}), errors.ErrCodeAlreadyFinalized))

	again, err := d.Process(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ok, again)
	rows, err := d.Rows()
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestDecomposition_Configure(t *testing.T) {
	d := newDecomposition(t, DefaultOptions())
	require.NoError(t, d.Configure(map[string]any{
		"matchingStrategy":   "Exhaustive",
		"score_method":       "match",
		"doTautomers":        true,
		"onlyMatchAtRGroups": "true",
	}))
	opts := d.Options()
	assert.Equal(t, Exhaustive, opts.MatchingStrategy)
	assert.Equal(t, MatchScore, opts.ScoreMethod)
	assert.True(t, opts.DoTautomers)
	assert.True(t, opts.OnlyMatchAtRGroups)

	err := d.Configure(map[string]any{"doTautomers": false, "useChirality": true})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidOption))
	assert.True(t, d.Options().DoTautomers, "rejected configure leaves options unchanged")
}

func TestNew_RejectsInvalidOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.ChunkSize = 0
	_, err := New(opts)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidOption))
}

// ─────────────────────────────────────────────────────────────────────────────
// Hydrogen handling
// ─────────────────────────────────────────────────────────────────────────────

func TestDecomposition_HydrogenPruning(t *testing.T) {
	for _, prune := range []bool{true, false} {
		opts := DefaultOptions()
		opts.OnlyMatchAtRGroups = true
		opts.RemoveAllHydrogenRGroups = prune
		d := newDecomposition(t, opts)
		addCoreSMILES(t, d, "[*:1]c1ccc([*:2])nc1")

		for _, smi := range []string{"Cc1cccnc1", "CCc1cccnc1"} {
			_, err := addSMILES(d, smi)
			require.NoError(t, err, smi)
		}
		ok, err := d.Process(context.Background())
		require.NoError(t, err)
		require.True(t, ok)

		res, err := d.Result()
		require.NoError(t, err)
		rows := res.Rows()
		require.Len(t, rows, 2)
		assert.Equal(t, "[*:1]C", rows[0].RGroups[1].SMILES)
		assert.Equal(t, "[*:1]CC", rows[1].RGroups[1].SMILES)

		if prune {
			assert.Equal(t, []int{1}, res.Columns())
			for _, row := range rows {
				assert.NotContains(t, row.RGroups, 2)
			}
			continue
		}
		assert.Equal(t, []int{1, 2}, res.Columns())
		for _, row := range rows {
			require.Contains(t, row.RGroups, 2)
			assert.True(t, row.RGroups[2].Hydrogen)
			assert.Equal(t, "[H][*:2]", row.RGroups[2].SMILES)
		}
	}
}

func TestDecomposition_ExplicitHydrogenOnAnchor(t *testing.T) {
	for _, fold := range []bool{true, false} {
		opts := DefaultOptions()
		opts.RemoveHydrogensPostMatch = fold
		d := newDecomposition(t, opts)
		addCoreSMILES(t, d, "[*:1]N(C)C")

		_, err := addSMILES(d, "[H]N(C)C")
		require.NoError(t, err)
		_, err = d.Process(context.Background())
		require.NoError(t, err)

		rows, err := d.Rows()
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.True(t, rows[0].RGroups[1].Hydrogen, "fold=%v", fold)
		assert.Equal(t, "[H][*:1]", rows[0].RGroups[1].SMILES, "fold=%v", fold)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Labeled points on symmetric cores
// ─────────────────────────────────────────────────────────────────────────────

func TestDecomposition_LabeledPointKeepsSubstituent(t *testing.T) {
	series := []string{"Cc1ccccc1", "CCc1ccccc1", "Clc1ccccc1", "Brc1ccccc1"}
	want := []string{"[*:1]C", "[*:1]CC", "[*:1]Cl", "[*:1]Br"}

	for _, s := range []MatchingStrategy{Greedy, GreedyChunks, Exhaustive, Pairwise, NoSymmetrization} {
		for _, prune := range []bool{false, true} {
			opts := DefaultOptions()
			opts.MatchingStrategy = s
			opts.RemoveAllHydrogenRGroups = prune
			d := newDecomposition(t, opts)
			addCoreSMILES(t, d, "[*:1]c1ccccc1")
			for _, smi := range series {
				_, err := addSMILES(d, smi)
				require.NoError(t, err, smi)
			}
			for _, m := range d.mols {
				assert.Len(t, m.candidates, 1, "%s: %s", s, m.name)
			}

			ok, err := d.Process(context.Background())
			require.NoError(t, err)
			require.True(t, ok)
			res, err := d.Result()
			require.NoError(t, err)
			assert.Equal(t, []int{1}, res.Columns(), "%s prune=%v", s, prune)
			rows := res.Rows()
			require.Len(t, rows, len(series))
			for i, row := range rows {
				require.Contains(t, row.RGroups, 1, "%s: %s", s, row.Name)
				assert.Equal(t, want[i], row.RGroups[1].SMILES, "%s: %s", s, row.Name)
				assert.False(t, row.RGroups[1].Hydrogen)
			}
		}
	}
}

func TestDecomposition_SymmetricAnchorsShareMintedLabel(t *testing.T) {
	d := newDecomposition(t, DefaultOptions())
	addCoreSMILES(t, d, "[*:1]c1ccccc1")
	series := []string{"Cc1cccc(Cl)c1", "Cc1cccc(Br)c1", "Cc1cccc(F)c1"}
	for _, smi := range series {
		_, err := addSMILES(d, smi)
		require.NoError(t, err, smi)
	}
	// either substituent on R1 with the other at meta; both meta carbons
	// give the same candidate
	for _, m := range d.mols {
		assert.Len(t, m.candidates, 2, m.name)
	}

	ok, err := d.Process(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	res, err := d.Result()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, res.Columns())
	for _, row := range res.Rows() {
		assert.Len(t, row.RGroups, 2, row.Name)
	}
}

func TestResult_RowsAreCopies(t *testing.T) {
	d := newDecomposition(t, DefaultOptions())
	addCoreSMILES(t, d, "[*:1]c1ccccc1")
	_, err := addSMILES(d, "Cc1ccccc1")
	require.NoError(t, err)
	_, err = d.Process(context.Background())
	require.NoError(t, err)
	res, err := d.Result()
	require.NoError(t, err)

	rows := res.Rows()
	rows[0].RGroups[1] = RGroup{Label: 1, SMILES: "[*:1]I"}
	delete(rows[0].RGroups, 1)
	row, err := res.Row(0)
	require.NoError(t, err)
	row.RGroups[7] = RGroup{Label: 7}

	again, err := res.Row(0)
	require.NoError(t, err)
	assert.Equal(t, "[*:1]C", again.RGroups[1].SMILES)
	assert.NotContains(t, again.RGroups, 7)
	assert.Equal(t, "[*:1]C", res.RowsAsColumns()["R1"][0])
}

// ─────────────────────────────────────────────────────────────────────────────
// Unlabeled points
// ─────────────────────────────────────────────────────────────────────────────

func TestDecomposition_UnlabeledPointCandidates(t *testing.T) {
	const core, mol = "O=C1CCC(*)CC1", "O=C1CCC(C)(Cl)CC1"

	t.Run("one substituent per point", func(t *testing.T) {
		d := newDecomposition(t, DefaultOptions())
		addCoreSMILES(t, d, core)
		_, err := addSMILES(d, mol)
		require.NoError(t, err)
		assert.Len(t, d.mols[0].candidates, 2)
	})

	t.Run("rejected when substituents must sit on points", func(t *testing.T) {
		opts := DefaultOptions()
		opts.OnlyMatchAtRGroups = true
		d := newDecomposition(t, opts)
		addCoreSMILES(t, d, core)
		_, err := addSMILES(d, mol)
		assert.True(t, errors.IsCode(err, errors.ErrCodeNoMatch))
	})

	t.Run("several substituents per point", func(t *testing.T) {
		opts := DefaultOptions()
		opts.OnlyMatchAtRGroups = true
		opts.AllowMultipleRGroupsOnUnlabelled = true
		d := newDecomposition(t, opts)
		addCoreSMILES(t, d, core)
		_, err := addSMILES(d, mol)
		require.NoError(t, err)
		require.Len(t, d.mols[0].candidates, 1)

		_, err = d.Process(context.Background())
		require.NoError(t, err)
		res, _ := d.Result()
		assert.Equal(t, []int{1, 2}, res.Columns())
		row, err := res.Row(0)
		require.NoError(t, err)
		assert.Equal(t, "[*:1]C", row.RGroups[1].SMILES)
		assert.Equal(t, "[*:2]Cl", row.RGroups[2].SMILES)
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Strategies
// ─────────────────────────────────────────────────────────────────────────────

var paraSeries = []string{"Cc1ccc(Cl)cc1", "Cc1ccc(Br)cc1", "CCc1ccc(Cl)cc1", "Clc1ccc(CC)cc1", "Fc1ccc(C)cc1"}

func runStrategy(t *testing.T, strategy MatchingStrategy, chunk int) *Result {
	t.Helper()
	opts := DefaultOptions()
	opts.MatchingStrategy = strategy
	opts.ChunkSize = chunk
	d := newDecomposition(t, opts)
	addCoreSMILES(t, d, "[*:1]c1ccc([*:2])cc1")
	for _, smi := range paraSeries {
		_, err := addSMILES(d, smi)
		require.NoError(t, err, smi)
	}
	for _, m := range d.mols {
		require.Len(t, m.candidates, 2, "the symmetric core admits both orientations")
	}
	ok, err := d.Process(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	res, err := d.Result()
	require.NoError(t, err)
	return res
}

func TestDecomposition_ChunksMatchExhaustive(t *testing.T) {
	exhaustive := runStrategy(t, Exhaustive, DefaultChunkSize)
	chunks := runStrategy(t, GreedyChunks, len(paraSeries))
	assert.Equal(t, exhaustive.Score(), chunks.Score())
	assert.Equal(t, exhaustive.Rows(), chunks.Rows())
}

func TestDecomposition_ExhaustiveIsOptimal(t *testing.T) {
	best := runStrategy(t, Exhaustive, DefaultChunkSize).Score()
	for _, s := range []MatchingStrategy{Greedy, GreedyChunks, Pairwise, NoSymmetrization} {
		res := runStrategy(t, s, 2)
		assert.GreaterOrEqual(t, res.Score(), best, string(s))
		assert.Len(t, res.Rows(), len(paraSeries), string(s))
	}
}

func TestDecomposition_ExhaustiveSeparatesAlkylsFromHalogens(t *testing.T) {
	res := runStrategy(t, Exhaustive, DefaultChunkSize)
	require.Equal(t, []int{1, 2}, res.Columns())

	alkylAt := -1
	for _, row := range res.Rows() {
		require.Len(t, row.RGroups, 2, row.Name)
		for label, g := range row.RGroups {
			if isHalogen(g.SMILES) {
				continue
			}
			if alkylAt < 0 {
				alkylAt = label
			}
			assert.Equal(t, alkylAt, label, "alkyl of %s", row.Name)
		}
	}
}

func isHalogen(smiles string) bool { return strings.ContainsAny(smiles, "FlBrI") }

func TestDecomposition_Deterministic(t *testing.T) {
	for _, s := range []MatchingStrategy{Greedy, GreedyChunks, Exhaustive, Pairwise} {
		a := runStrategy(t, s, 3)
		b := runStrategy(t, s, 3)
		assert.Equal(t, a.Rows(), b.Rows(), string(s))
		assert.Equal(t, a.Score(), b.Score(), string(s))
	}
}

func TestDecomposition_ParallelChunkScoringIsDeterministic(t *testing.T) {
	opts := DefaultOptions()
	opts.OnlyMatchAtRGroups = true
	opts.MatchingStrategy = Exhaustive
	var scores []float64
	for _, workers := range []int{1, 4} {
		opts.Concurrency = workers
		d := newDecomposition(t, opts)
		addCoreSMILES(t, d, "[*:1]c1ccc([*:2])cc1")
		for i := 0; i < 3; i++ {
			for _, smi := range paraSeries {
				_, err := addSMILES(d, smi)
				require.NoError(t, err)
			}
		}
		_, err := d.Process(context.Background())
		require.NoError(t, err)
		res, _ := d.Result()
		scores = append(scores, res.Score())
	}
	assert.Equal(t, scores[0], scores[1])
}

func TestDecomposition_CancelledProcessFinishesGreedily(t *testing.T) {
	opts := DefaultOptions()
	opts.OnlyMatchAtRGroups = true
	opts.MatchingStrategy = Exhaustive
	d := newDecomposition(t, opts)
	addCoreSMILES(t, d, "[*:1]c1ccc([*:2])cc1")
	for _, smi := range paraSeries {
		_, err := addSMILES(d, smi)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok, err := d.Process(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	res, err := d.Result()
	require.NoError(t, err)
	assert.True(t, res.TimedOut())
	assert.Len(t, res.Rows(), len(paraSeries))
}

// ─────────────────────────────────────────────────────────────────────────────
// Observer
// ─────────────────────────────────────────────────────────────────────────────

type mockObserver struct{ mock.Mock }

func (m *mockObserver) MoleculeRegistered(accepted bool, candidates int) {
	m.Called(accepted, candidates)
}

func (m *mockObserver) ChunkScored(combinations int64, elapsed time.Duration) {
	m.Called(combinations, elapsed)
}

func (m *mockObserver) ProcessCompleted(strategy MatchingStrategy, elapsed time.Duration, complete, timedOut bool) {
	m.Called(strategy, elapsed, complete, timedOut)
}

type ObserverSuite struct {
	suite.Suite
	obs *mockObserver
	d   *Decomposition
}

func (s *ObserverSuite) SetupTest() {
	s.obs = new(mockObserver)
	opts := DefaultOptions()
	opts.OnlyMatchAtRGroups = true
	d, err := New(opts, WithObserver(s.obs))
	s.Require().NoError(err)
	s.d = d
	_, err = d.AddCore(molgraph.MustParseSMILES("[*:1]c1ccccc1"))
	s.Require().NoError(err)
}

func (s *ObserverSuite) TestRegistrationEvents() {
	s.obs.On("MoleculeRegistered", true, 1).Once()
	s.obs.On("MoleculeRegistered", false, 0).Once()

	_, err := addSMILES(s.d, "Cc1ccccc1")
	s.Require().NoError(err)
	_, err = addSMILES(s.d, "CCCC")
	s.Require().Error(err)

	s.obs.AssertExpectations(s.T())
}

func (s *ObserverSuite) TestProcessEvents() {
	s.obs.On("MoleculeRegistered", true, mock.Anything)
	s.obs.On("ChunkScored", mock.Anything, mock.Anything)
	s.obs.On("ProcessCompleted", GreedyChunks, mock.Anything, true, false).Once()

	_, err := addSMILES(s.d, "Cc1ccccc1")
	s.Require().NoError(err)
	_, err = s.d.Process(context.Background())
	s.Require().NoError(err)

	s.obs.AssertCalled(s.T(), "ChunkScored", int64(1), mock.Anything)
	s.obs.AssertExpectations(s.T())
}

func TestObserverSuite(t *testing.T) {
	suite.Run(t, new(ObserverSuite))
}

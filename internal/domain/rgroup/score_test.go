package rgroup

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KeyIP-RGD/internal/domain/molgraph"
)

func fragmentWithBits(id string, data byte, hydrogen bool) *Fragment {
	return &Fragment{
		Identity:    id,
		Hydrogen:    hydrogen,
		Fingerprint: molgraph.NewFingerprint([]byte{data}, 8),
	}
}

func candidateOf(entries ...LabelEntry) *Candidate {
	return &Candidate{Entries: entries}
}

func TestLabelTally_Dispersion(t *testing.T) {
	full := fragmentWithBits("full", 0xFF, false)
	empty := fragmentWithBits("empty", 0x00, false)

	tl := newLabelTally()
	tl.add(full)
	tl.add(full)
	assert.Zero(t, tl.dispersion(), "identical fragments do not disperse")

	tl.add(empty)
	tl.remove(full)
	// eight bits, each set in half of two fragments: sqrt(8 * 1/4)
	assert.InDelta(t, math.Sqrt(2), tl.dispersion(), 1e-12)
	assert.Equal(t, 2, tl.n)
	assert.Equal(t, 2, tl.real)
	assert.Len(t, tl.ids, 2)
}

func TestScorer_AddRemoveRestoresScore(t *testing.T) {
	s := newScorer(FingerprintVariance)
	a := candidateOf(LabelEntry{Label: fixedLabel(1), Fragment: fragmentWithBits("a", 0x0F, false)})
	b := candidateOf(LabelEntry{Label: fixedLabel(1), Fragment: fragmentWithBits("b", 0xF0, false)})

	s.add(a)
	before := s.score()
	assert.InDelta(t, labelPenalty, before, 1e-12)

	with := s.scoreWith(b)
	assert.Greater(t, with, before)
	assert.Equal(t, before, s.score())
	assert.Len(t, s.labels, 1)

	s.remove(a)
	assert.Zero(t, s.score())
	assert.Empty(t, s.labels)
}

func TestScorer_HydrogenLabelsCarryNoPenalty(t *testing.T) {
	s := newScorer(FingerprintVariance)
	h := fragmentWithBits("*[H]", 0x01, true)
	s.add(candidateOf(LabelEntry{Label: fixedLabel(2), Fragment: h, Cut: -1}))
	s.add(candidateOf(LabelEntry{Label: fixedLabel(2), Fragment: h, Cut: -1}))
	assert.Zero(t, s.score())
}

func TestScorer_MatchMethod(t *testing.T) {
	s := newScorer(MatchScore)
	for _, id := range []string{"a", "a", "b", "c"} {
		s.add(candidateOf(LabelEntry{Label: fixedLabel(1), Fragment: fragmentWithBits(id, 0x01, false)}))
	}
	assert.InDelta(t, 2+labelPenalty, s.score(), 1e-12)
}

func TestScorer_CloneIsIndependent(t *testing.T) {
	s := newScorer(FingerprintVariance)
	a := candidateOf(LabelEntry{Label: fixedLabel(1), Fragment: fragmentWithBits("a", 0x0F, false)})
	s.add(a)

	c := s.clone()
	c.add(candidateOf(LabelEntry{Label: mintedLabel(0, 3, 1), Fragment: fragmentWithBits("b", 0xF0, false)}))
	require.Len(t, c.labels, 2)
	assert.Len(t, s.labels, 1)
	assert.NotEqual(t, s.score(), c.score())
}

func TestLabelKey_Less(t *testing.T) {
	keys := []LabelKey{fixedLabel(1), fixedLabel(4), mintedLabel(0, 2, 1), mintedLabel(0, 2, 2), mintedLabel(0, 5, 1), mintedLabel(1, 0, 1)}
	for i := range keys {
		for j := range keys {
			assert.Equal(t, i < j, keys[i].Less(keys[j]), "%s < %s", keys[i], keys[j])
		}
	}
	assert.Equal(t, "R4", fixedLabel(4).String())
	assert.False(t, mintedLabel(0, 1, 1).IsFixed())
}

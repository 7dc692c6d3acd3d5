package molgraph

import (
	"iter"
	"strings"
)

// Parser turns a textual molecule into a graph.
type Parser interface {
	Parse(text string) (*Graph, error)
}

// Matcher enumerates substructure embeddings of query in target. Each
// yielded slice maps query atom index to target atom index and is owned by
// the receiver.
type Matcher interface {
	Matches(query, target *Graph) iter.Seq[[]int]
}

// Enumerator yields tautomeric variants of g, starting with g itself.
// Variants keep the atom indexing of g.
type Enumerator interface {
	Enumerate(g *Graph) iter.Seq[*Graph]
}

// Fingerprinter computes a fixed-length bit fingerprint.
type Fingerprinter interface {
	Fingerprint(g *Graph) Fingerprint
}

// ─────────────────────────────────────────────────────────────────────────────
// Parsers
// ─────────────────────────────────────────────────────────────────────────────

// SMILESParser parses SMILES strings.
type SMILESParser struct{}

func (SMILESParser) Parse(text string) (*Graph, error) { return ParseSMILES(text) }

// MolBlockParser parses V2000 molblocks.
type MolBlockParser struct{}

func (MolBlockParser) Parse(text string) (*Graph, error) { return ParseMolBlock(text) }

// AutoParser dispatches to the molblock reader when the text contains a
// V2000 or V3000 marker and to the SMILES reader otherwise.
type AutoParser struct{}

func (AutoParser) Parse(text string) (*Graph, error) {
	if IsMolBlock(text) {
		return ParseMolBlock(text)
	}
	return ParseSMILES(text)
}

// IsMolBlock reports whether text looks like an MDL connection table.
func IsMolBlock(text string) bool {
	return strings.Contains(text, "V2000") || strings.Contains(text, "V3000")
}

// ─────────────────────────────────────────────────────────────────────────────
// Default collaborators
// ─────────────────────────────────────────────────────────────────────────────

// VF2Matcher is the default Matcher; see SubstructureMatches.
type VF2Matcher struct{}

func (VF2Matcher) Matches(query, target *Graph) iter.Seq[[]int] {
	return SubstructureMatches(query, target)
}

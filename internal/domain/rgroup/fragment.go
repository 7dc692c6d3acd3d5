package rgroup

import (
	"context"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/turtacn/KeyIP-RGD/internal/domain/molgraph"
	"github.com/turtacn/KeyIP-RGD/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-RGD/pkg/errors"
)

// Fragment is the substituent hanging off one or more cut bonds of a match.
// Atoms indexes into the match's variant graph; the fragment graph itself is
// kept only for rendering.
type Fragment struct {
	Atoms []int
	// Cuts indexes Match.Cuts; several entries mean a bridging substituent.
	Cuts []int

	// Hydrogen marks a hydrogen-only fragment ("no substituent").
	Hydrogen bool

	// Identity is the canonical SMILES with unlabeled attachment dummies.
	Identity    string
	Fingerprint molgraph.Fingerprint
	HeavyAtoms  int

	graph   *molgraph.Graph
	dummies []int
}

// render writes the fragment with cut k's dummy numbered labels[k].
func (f *Fragment) render(labels []int) string {
	if f.Hydrogen && len(labels) <= 1 {
		if len(labels) == 0 {
			return "[H]*"
		}
		return "[H][*:" + strconv.Itoa(labels[0]) + "]"
	}
	return molgraph.CanonicalSMILES(f.graph.WithMapNums(f.dummies, labels))
}

// hydrogenCap is the shared fragment for positions capped by an implicit or
// folded hydrogen.
func hydrogenCap(ctx context.Context, fps *fingerprintSource) *Fragment {
	g := molgraph.MustParseSMILES("[H]*")
	id := molgraph.CanonicalSMILES(g)
	return &Fragment{
		Hydrogen:    true,
		Identity:    id,
		Fingerprint: fps.get(ctx, id, g),
		graph:       g,
		dummies:     []int{1},
	}
}

// extractFragments cuts m's variant at every cut bond. The result is indexed
// like m.Cuts; cuts reaching the same component share one Fragment.
func extractFragments(ctx context.Context, m *Match, fps *fingerprintSource) ([]*Fragment, error) {
	g := m.Graph
	comps := g.Components(func(i int) bool { return !m.inMatch[i] && !m.folded[i] })
	compOf := make([]int, g.NumAtoms())
	for i := range compOf {
		compOf[i] = -1
	}
	for ci, comp := range comps {
		for _, a := range comp {
			compOf[a] = ci
		}
	}

	out := make([]*Fragment, len(m.Cuts))
	byComp := make(map[int]*Fragment)
	var order []int
	for k, c := range m.Cuts {
		ci := compOf[c.Exit]
		if ci < 0 {
			return nil, errors.Newf(errors.ErrCodeInternal, "cut %d exits into the matched core", k)
		}
		f, ok := byComp[ci]
		if !ok {
			f = &Fragment{Atoms: comps[ci]}
			byComp[ci] = f
			order = append(order, ci)
		}
		f.Cuts = append(f.Cuts, k)
		out[k] = f
	}

	for _, ci := range order {
		f := byComp[ci]
		atts := make([]molgraph.Attachment, len(f.Cuts))
		for j, k := range f.Cuts {
			atts[j] = molgraph.Attachment{Atom: m.Cuts[k].Exit, Bond: m.Cuts[k].Bond}
		}
		fg, dummies, err := g.ExtractFragment(f.Atoms, atts)
		if err != nil {
			return nil, err
		}
		f.graph, f.dummies = fg, dummies
		f.Hydrogen = true
		for _, a := range f.Atoms {
			if g.Atom(a).Number > 1 {
				f.HeavyAtoms++
			}
			if !g.IsHydrogen(a) {
				f.Hydrogen = false
			}
		}
		f.Identity = molgraph.CanonicalSMILES(fg)
		f.Fingerprint = fps.get(ctx, f.Identity, fg)
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Fingerprint source
// ─────────────────────────────────────────────────────────────────────────────

// FingerprintCache is a shared fingerprint store keyed by fragment identity.
// Get returns an error carrying errors.CodeCacheMiss when the key is absent.
type FingerprintCache interface {
	GetFingerprint(ctx context.Context, key string) (molgraph.Fingerprint, error)
	SetFingerprint(ctx context.Context, key string, fp molgraph.Fingerprint) error
}

const defaultMemoSize = 4096

// fingerprintSource computes fragment fingerprints through an in-process
// LRU and an optional shared cache. Cache failures fall back to computing.
type fingerprintSource struct {
	fpr    molgraph.Fingerprinter
	memo   *lru.Cache[string, molgraph.Fingerprint]
	remote FingerprintCache
	logger logging.Logger
}

func newFingerprintSource(fpr molgraph.Fingerprinter, remote FingerprintCache, logger logging.Logger) *fingerprintSource {
	memo, _ := lru.New[string, molgraph.Fingerprint](defaultMemoSize)
	return &fingerprintSource{fpr: fpr, memo: memo, remote: remote, logger: logger}
}

func (s *fingerprintSource) get(ctx context.Context, key string, g *molgraph.Graph) molgraph.Fingerprint {
	if fp, ok := s.memo.Get(key); ok {
		return fp
	}
	if s.remote != nil {
		fp, err := s.remote.GetFingerprint(ctx, key)
		if err == nil {
			s.memo.Add(key, fp)
			return fp
		}
		if !errors.IsNotFound(err) {
			s.logger.Warn("fingerprint cache read failed", logging.String("fragment", key), logging.Err(err))
		}
	}
	fp := s.fpr.Fingerprint(g)
	s.memo.Add(key, fp)
	if s.remote != nil {
		if err := s.remote.SetFingerprint(ctx, key, fp); err != nil {
			s.logger.Warn("fingerprint cache write failed", logging.String("fragment", key), logging.Err(err))
		}
	}
	return fp
}

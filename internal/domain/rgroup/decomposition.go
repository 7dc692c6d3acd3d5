// Package rgroup implements R-group decomposition: molecules are matched
// against registered cores, cut into substituent fragments, and one label
// assignment per molecule is chosen so that each label column holds
// chemically similar substituents across the whole set.
package rgroup

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/KeyIP-RGD/internal/domain/molgraph"
	"github.com/turtacn/KeyIP-RGD/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-RGD/pkg/errors"
)

// Observer receives engine events. Implementations must be safe for
// concurrent use.
type Observer interface {
	MoleculeRegistered(accepted bool, candidates int)
	ChunkScored(combinations int64, elapsed time.Duration)
	ProcessCompleted(strategy MatchingStrategy, elapsed time.Duration, complete, timedOut bool)
}

type nopObserver struct{}

func (nopObserver) MoleculeRegistered(bool, int)                                {}
func (nopObserver) ChunkScored(int64, time.Duration)                            {}
func (nopObserver) ProcessCompleted(MatchingStrategy, time.Duration, bool, bool) {}

type phase int

const (
	phaseAccepting phase = iota
	phaseOptimizing
	phaseFinalized
)

// Option customizes a Decomposition's collaborators.
type Option func(*Decomposition)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(d *Decomposition) { d.logger = l }
}

// WithFingerprintCache shares fragment fingerprints through c.
func WithFingerprintCache(c FingerprintCache) Option {
	return func(d *Decomposition) { d.cache = c }
}

// WithMatcher replaces the substructure matcher.
func WithMatcher(m molgraph.Matcher) Option {
	return func(d *Decomposition) { d.matcher = m }
}

// WithEnumerator replaces the tautomer enumerator.
func WithEnumerator(e molgraph.Enumerator) Option {
	return func(d *Decomposition) { d.enumerator = e }
}

// WithFingerprinter replaces the fragment fingerprinter.
func WithFingerprinter(f molgraph.Fingerprinter) Option {
	return func(d *Decomposition) { d.fingerprinter = f }
}

// WithObserver reports engine events to o.
func WithObserver(o Observer) Option {
	return func(d *Decomposition) { d.observer = o }
}

// Decomposition is one decomposition run. Cores are registered first, then
// molecules (concurrently if desired), then Process runs once and the
// result becomes readable.
type Decomposition struct {
	mu    sync.Mutex
	opts  Options
	phase phase
	reg   registry
	mols  []*entry

	logger        logging.Logger
	observer      Observer
	matcher       molgraph.Matcher
	enumerator    molgraph.Enumerator
	fingerprinter molgraph.Fingerprinter
	cache         FingerprintCache

	fps  *fingerprintSource
	hcap *Fragment

	once       sync.Once
	processOK  bool
	processErr error
	result     *Result
}

// New returns a decomposition in the accepting state. opts is validated.
func New(opts Options, options ...Option) (*Decomposition, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	d := &Decomposition{
		opts:          opts,
		logger:        logging.NewNopLogger(),
		observer:      nopObserver{},
		matcher:       molgraph.VF2Matcher{},
		fingerprinter: molgraph.NewMorganFingerprinter(),
	}
	for _, o := range options {
		o(d)
	}
	d.logger = d.logger.Named("rgroup")
	return d, nil
}

// Options returns the current options.
func (d *Decomposition) Options() Options {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opts
}

// Configure applies named options. It is only valid before the first
// molecule is added; unknown names are rejected.
func (d *Decomposition) Configure(values map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.phase != phaseAccepting {
		return errors.New(errors.ErrCodeAlreadyFinalized, "cannot configure a processed decomposition")
	}
	if len(d.mols) > 0 {
		return errors.InvalidState("options are fixed once molecules have been added")
	}
	return d.opts.Apply(values)
}

// AddCore registers a core. With no points given, they are derived from the
// degree-one dummy atoms of g.
func (d *Decomposition) AddCore(g *molgraph.Graph, points ...AttachmentPoint) (int, error) {
	if len(points) == 0 && g != nil {
		points = AttachmentPointsFromDummies(g)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.phase != phaseAccepting {
		return -1, errors.New(errors.ErrCodeAlreadyFinalized, "cannot add a core to a processed decomposition")
	}
	c, err := d.reg.add(g, points)
	if err != nil {
		return -1, err
	}
	d.logger.Debug("core registered", logging.Int("core", c.ID), logging.String("smiles", c.SMILES),
		logging.Int("points", len(c.Points)))
	return c.ID, nil
}

// Cores returns the registered cores.
func (d *Decomposition) Cores() []*Core {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Core(nil), d.reg.cores...)
}

// NumMolecules returns the number of registered molecules.
func (d *Decomposition) NumMolecules() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.mols)
}

// Add matches g against every core and registers it. It returns the
// molecule's registration index, or an error carrying ErrCodeNoMatch when
// no core yields an assignment. Add is safe for concurrent use.
func (d *Decomposition) Add(ctx context.Context, g *molgraph.Graph) (int, error) {
	if g == nil || g.NumAtoms() == 0 {
		return -1, errors.New(errors.ErrCodeMoleculeInvalidGraph, "molecule is empty")
	}
	opts, cores, err := d.prepare(ctx)
	if err != nil {
		return -1, err
	}
	cands, err := d.match(ctx, g, opts, cores)
	if err != nil {
		return -1, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.register(g.Name, cands)
}

// AddBatch registers mols in input order while matching up to workers of
// them at a time; workers ≤ 0 means no bound. indices[i] is the
// registration index of mols[i], or -1 with errs[i] set when it was
// rejected. Registration order, and so the result, does not depend on
// workers.
func (d *Decomposition) AddBatch(ctx context.Context, mols []*molgraph.Graph, workers int) (indices []int, errs []error) {
	indices = make([]int, len(mols))
	errs = make([]error, len(mols))
	for i := range indices {
		indices[i] = -1
	}

	opts, cores, err := d.prepare(ctx)
	if err != nil {
		for i := range errs {
			errs[i] = err
		}
		return indices, errs
	}

	found := make([][]*Candidate, len(mols))
	var g errgroup.Group
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, m := range mols {
		g.Go(func() error {
			if m == nil || m.NumAtoms() == 0 {
				errs[i] = errors.New(errors.ErrCodeMoleculeInvalidGraph, "molecule is empty")
				return nil
			}
			found[i], errs[i] = d.match(ctx, m, opts, cores)
			return nil
		})
	}
	_ = g.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	for i, m := range mols {
		if errs[i] != nil {
			continue
		}
		indices[i], errs[i] = d.register(m.Name, found[i])
	}
	return indices, errs
}

// prepare checks the phase, freezes the core registry and returns what
// matching needs.
func (d *Decomposition) prepare(ctx context.Context) (Options, []*Core, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.phase != phaseAccepting {
		return Options{}, nil, errors.New(errors.ErrCodeAlreadyFinalized, "cannot add a molecule to a processed decomposition")
	}
	if len(d.reg.cores) == 0 {
		return Options{}, nil, errors.InvalidState("no cores registered")
	}
	d.reg.freeze()
	if d.fps == nil {
		d.fps = newFingerprintSource(d.fingerprinter, d.cache, d.logger)
		d.hcap = hydrogenCap(ctx, d.fps)
	}
	return d.opts, d.reg.cores, nil
}

// match returns the candidates of g, or ErrCodeNoMatch when there are none.
func (d *Decomposition) match(ctx context.Context, g *molgraph.Graph, opts Options, cores []*Core) ([]*Candidate, error) {
	cands, err := d.candidates(ctx, g, opts, cores)
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 {
		d.observer.MoleculeRegistered(false, 0)
		d.logger.Debug("molecule rejected", logging.String("molecule", g.Name))
		return nil, errors.New(errors.ErrCodeNoMatch, "molecule matches no registered core").WithDetail(g.Name)
	}
	return cands, nil
}

// register appends a matched molecule. d.mu must be held.
func (d *Decomposition) register(name string, cands []*Candidate) (int, error) {
	if d.phase != phaseAccepting {
		return -1, errors.New(errors.ErrCodeAlreadyFinalized, "cannot add a molecule to a processed decomposition")
	}
	idx := len(d.mols)
	d.mols = append(d.mols, &entry{index: idx, name: name, candidates: cands})
	d.observer.MoleculeRegistered(true, len(cands))
	return idx, nil
}

// candidates runs matching, extraction and label assignment for one
// molecule against every core, deduplicating and honoring the candidate
// budget. Only candidates with the most substituents on user labels are
// kept.
func (d *Decomposition) candidates(ctx context.Context, g *molgraph.Graph, opts Options, cores []*Core) ([]*Candidate, error) {
	variants := []*molgraph.Graph{g}
	if opts.DoTautomers {
		enum := d.enumerator
		if enum == nil {
			enum = molgraph.TautomerEnumerator{MaxTautomers: opts.MaxTautomers}
		}
		variants = variants[:0]
		for v := range enum.Enumerate(g) {
			variants = append(variants, v)
			if len(variants) >= opts.MaxTautomers {
				break
			}
		}
		if len(variants) == 0 {
			variants = []*molgraph.Graph{g}
		}
	}

	engine := matchEngine{opts: opts, matcher: d.matcher}
	assigner := labelAssigner{opts: opts, hcap: d.hcap}
	seen := make(map[string]bool)
	var out []*Candidate
	for _, core := range cores {
		for m := range engine.findMatches(core, variants) {
			if err := ctx.Err(); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeTimeout, "molecule registration cancelled")
			}
			frags, err := extractFragments(ctx, m, d.fps)
			if err != nil {
				return nil, err
			}
			for cand := range assigner.assign(m, frags) {
				if seen[cand.signature] {
					continue
				}
				seen[cand.signature] = true
				out = append(out, cand)
				if len(out) >= opts.MaxCandidatesPerMolecule {
					d.logger.Debug("candidate budget reached", logging.String("molecule", g.Name),
						logging.Int("candidates", len(out)))
					return preferUserLabels(out), nil
				}
			}
		}
	}
	return preferUserLabels(out), nil
}

// Process runs the optimization once. It reports whether every registered
// molecule kept an assignment; later calls return the first outcome.
func (d *Decomposition) Process(ctx context.Context) (bool, error) {
	d.once.Do(func() {
		d.processOK, d.processErr = d.process(ctx)
	})
	return d.processOK, d.processErr
}

func (d *Decomposition) process(ctx context.Context) (bool, error) {
	d.mu.Lock()
	d.phase = phaseOptimizing
	d.reg.freeze()
	mols := append([]*entry(nil), d.mols...)
	opts := d.opts
	maxFixed := d.reg.maxFixed
	d.mu.Unlock()

	start := time.Now()
	opt := optimizer{opts: opts, logger: d.logger, observer: d.observer}
	out := opt.run(ctx, mols)
	res := finalize(mols, out, opts, maxFixed)
	elapsed := time.Since(start)

	// every registered molecule has a candidate and finalize keeps every
	// decided row, so this only fails if the optimizer leaves one undecided
	complete := len(res.rows) == len(mols)
	d.observer.ProcessCompleted(opts.MatchingStrategy, elapsed, complete, out.timedOut)
	d.logger.Info("decomposition processed",
		logging.String("strategy", string(opts.MatchingStrategy)),
		logging.String("score_method", string(opts.ScoreMethod)),
		logging.Int("molecules", len(mols)),
		logging.Int("rows", len(res.rows)),
		logging.Int("chunks", out.chunks),
		logging.Int64("combinations", out.scored),
		logging.Float64("score", out.score),
		logging.Bool("timed_out", out.timedOut),
		logging.Duration("elapsed", elapsed))
	if !complete {
		d.logger.Warn("decomposition incomplete",
			logging.String("code", string(errors.ErrCodeOptimizationIncomplete)),
			logging.Int("missing", len(mols)-len(res.rows)))
	}

	d.mu.Lock()
	d.result = res
	d.phase = phaseFinalized
	d.mu.Unlock()
	return complete, nil
}

// Result returns the result table; it fails with ErrCodeNotFinalized before
// Process has completed.
func (d *Decomposition) Result() (*Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.phase != phaseFinalized {
		return nil, errors.New(errors.ErrCodeNotFinalized, "decomposition has not been processed")
	}
	return d.result, nil
}

// Rows returns the decomposition rows in registration order.
func (d *Decomposition) Rows() ([]Row, error) {
	res, err := d.Result()
	if err != nil {
		return nil, err
	}
	return res.Rows(), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Finalization
// ─────────────────────────────────────────────────────────────────────────────

// finalize numbers minted labels after the fixed ones, prunes hydrogen-only
// columns when asked and renders the rows.
func finalize(mols []*entry, out outcome, opts Options, maxFixed int) *Result {
	type pick struct {
		mol  *entry
		cand *Candidate
	}
	var picks []pick
	for i, m := range mols {
		if c, ok := out.state.choice(i); ok {
			picks = append(picks, pick{mol: m, cand: m.candidates[c]})
		}
	}

	keys := make(map[LabelKey]bool)
	realAt := make(map[LabelKey]bool)
	for _, p := range picks {
		for _, e := range p.cand.Entries {
			keys[e.Label] = true
			if !e.Fragment.Hydrogen {
				realAt[e.Label] = true
			}
		}
	}
	var minted []LabelKey
	for k := range keys {
		if !k.IsFixed() {
			minted = append(minted, k)
		}
	}
	sort.Slice(minted, func(i, j int) bool { return minted[i].Less(minted[j]) })
	numbering := make(map[LabelKey]int, len(keys))
	for k := range keys {
		if k.IsFixed() {
			numbering[k] = k.Fixed
		}
	}
	for i, k := range minted {
		numbering[k] = maxFixed + i + 1
	}

	dropped := make(map[LabelKey]bool)
	if opts.RemoveAllHydrogenRGroups {
		for k := range keys {
			if !realAt[k] {
				dropped[k] = true
			}
		}
	}

	res := &Result{
		strategy:   opts.MatchingStrategy,
		method:     opts.ScoreMethod,
		score:      out.score,
		timedOut:   out.timedOut,
		registered: len(mols),
		byIndex:    make(map[int]int, len(picks)),
	}
	colSet := make(map[int]bool)
	for _, p := range picks {
		row := Row{
			Index:      p.mol.index,
			Name:       p.mol.name,
			CoreID:     p.cand.Core().ID,
			CoreSMILES: p.cand.Core().SMILES,
			RGroups:    make(map[int]RGroup),
		}
		for _, e := range p.cand.Entries {
			if dropped[e.Label] {
				continue
			}
			label := numbering[e.Label]
			var labels []int
			if e.Cut < 0 {
				labels = []int{label}
			} else {
				labels = p.cand.cutLabels(e.Fragment, numbering)
			}
			row.RGroups[label] = RGroup{
				Label:      label,
				SMILES:     e.Fragment.render(labels),
				Identity:   e.Fragment.Identity,
				Hydrogen:   e.Fragment.Hydrogen,
				HeavyAtoms: e.Fragment.HeavyAtoms,
			}
			colSet[label] = true
		}
		res.byIndex[row.Index] = len(res.rows)
		res.rows = append(res.rows, row)
	}
	for c := range colSet {
		res.columns = append(res.columns, c)
	}
	sort.Ints(res.columns)
	return res
}

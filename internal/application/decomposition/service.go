// Package decomposition runs decomposition jobs: it turns a JobRequest into
// an engine run and the engine result into a JobResult, storing and
// exporting the result when asked.
package decomposition

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/KeyIP-RGD/internal/config"
	"github.com/turtacn/KeyIP-RGD/internal/domain/molgraph"
	"github.com/turtacn/KeyIP-RGD/internal/domain/rgroup"
	"github.com/turtacn/KeyIP-RGD/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-RGD/internal/infrastructure/storage/minio"
	"github.com/turtacn/KeyIP-RGD/pkg/errors"
	rgtypes "github.com/turtacn/KeyIP-RGD/pkg/types/rgroup"
)

// Service runs decomposition jobs.
type Service interface {
	// Run executes req. Per-molecule failures become rejections in the
	// result; an error means the job as a whole could not run.
	Run(ctx context.Context, req *rgtypes.JobRequest) (*rgtypes.JobResult, error)

	// SetDefaults replaces the engine options jobs start from. Running jobs
	// keep the options they started with.
	SetDefaults(opts rgroup.Options) error
}

// JobObserver is told when a job starts; the returned func receives the
// final status.
type JobObserver interface {
	JobStarted() func(status string)
}

// ResultExporter uploads result renderings.
type ResultExporter interface {
	Export(ctx context.Context, runID string, artifacts ...minio.Artifact) ([]rgtypes.ExportRef, error)
}

// Config holds the service settings.
type Config struct {
	// Defaults are the engine options before a job's own options apply.
	Defaults rgroup.Options

	// Concurrency bounds molecules matched at once.
	Concurrency int

	// JobTimeout bounds a whole job, registration included. Zero disables it.
	JobTimeout time.Duration

	Fingerprinter molgraph.Fingerprinter
}

// NewConfig derives the service settings from the application config.
func NewConfig(c *config.Config) Config {
	return Config{
		Defaults:      c.Decomposition,
		Concurrency:   c.Worker.Concurrency,
		JobTimeout:    c.Worker.JobTimeout,
		Fingerprinter: molgraph.MorganFingerprinter{Radius: c.Fingerprint.Radius, Length: c.Fingerprint.Length},
	}
}

// Option wires an optional collaborator.
type Option func(*serviceImpl)

// WithFingerprintCache shares fragment fingerprints through c.
func WithFingerprintCache(c rgroup.FingerprintCache) Option {
	return func(s *serviceImpl) { s.cache = c }
}

// WithEngineObserver reports engine events to o.
func WithEngineObserver(o rgroup.Observer) Option {
	return func(s *serviceImpl) { s.observer = o }
}

// WithJobObserver reports job outcomes to o.
func WithJobObserver(o JobObserver) Option {
	return func(s *serviceImpl) { s.jobs = o }
}

// WithRunRepository stores runs of jobs that ask for it.
func WithRunRepository(r rgroup.RunRepository) Option {
	return func(s *serviceImpl) { s.runs = r }
}

// WithExporter exports results of jobs that ask for it.
func WithExporter(e ResultExporter) Option {
	return func(s *serviceImpl) { s.exporter = e }
}

// WithParser replaces the structure parser.
func WithParser(p molgraph.Parser) Option {
	return func(s *serviceImpl) { s.parser = p }
}

type nopJobObserver struct{}

func (nopJobObserver) JobStarted() func(string) { return func(string) {} }

type serviceImpl struct {
	cfg      Config
	mu       sync.RWMutex
	parser   molgraph.Parser
	cache    rgroup.FingerprintCache
	observer rgroup.Observer
	jobs     JobObserver
	runs     rgroup.RunRepository
	exporter ResultExporter
	logger   logging.Logger
	now      func() time.Time
}

// NewService creates a decomposition service.
func NewService(cfg Config, log logging.Logger, opts ...Option) Service {
	if log == nil {
		log = logging.NewNopLogger()
	}
	if cfg.Fingerprinter == nil {
		cfg.Fingerprinter = molgraph.NewMorganFingerprinter()
	}
	s := &serviceImpl{
		cfg:    cfg,
		parser: molgraph.AutoParser{},
		jobs:   nopJobObserver{},
		logger: log.Named("decomposition"),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *serviceImpl) defaults() rgroup.Options {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Defaults
}

func (s *serviceImpl) SetDefaults(opts rgroup.Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg.Defaults = opts
	s.mu.Unlock()
	s.logger.Info("engine defaults updated",
		logging.String("strategy", string(opts.MatchingStrategy)),
		logging.String("score_method", string(opts.ScoreMethod)))
	return nil
}

func (s *serviceImpl) Run(ctx context.Context, req *rgtypes.JobRequest) (*rgtypes.JobResult, error) {
	if req == nil {
		return nil, errors.New(errors.ErrCodeJobInvalid, "job request is nil")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}
	log := s.logger.With(logging.String("job_id", jobID))

	status := rgtypes.StatusFailed
	done := s.jobs.JobStarted()
	defer func() { done(string(status)) }()

	opts := s.defaults()
	if err := opts.Apply(req.Options); err != nil {
		return nil, err
	}
	if s.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
		defer cancel()
	}

	started := s.now()
	d, err := rgroup.New(opts, s.engineOptions(log)...)
	if err != nil {
		return nil, err
	}
	for i, in := range req.Cores {
		g, err := s.parse(in)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrCodeInvalidCore, "core %d cannot be parsed", i)
		}
		if _, err := d.AddCore(g); err != nil {
			return nil, err
		}
	}

	rejections, regToInput, err := s.register(ctx, d, req.Molecules)
	if err != nil {
		return nil, err
	}

	complete, err := d.Process(ctx)
	if err != nil {
		return nil, err
	}
	res, err := d.Result()
	if err != nil {
		return nil, err
	}

	status = rgtypes.StatusSucceeded
	if !complete || res.TimedOut() {
		status = rgtypes.StatusPartial
	}
	out, rows := toJobResult(jobID, status, res, regToInput)
	out.Rejections = rejections
	out.StartedAt = started

	run := rgroup.NewRun(jobID, string(status), opts, len(req.Molecules), res, started)
	out.RunID = run.ID.String()

	if req.Export {
		if s.exporter == nil {
			status = rgtypes.StatusFailed
			return nil, errors.InvalidState("result export is not configured")
		}
		refs, err := s.export(ctx, out)
		if err != nil {
			status = rgtypes.StatusFailed
			return nil, err
		}
		out.Exports = refs
	}
	if req.Persist {
		if s.runs == nil {
			status = rgtypes.StatusFailed
			return nil, errors.InvalidState("run persistence is not configured")
		}
		if err := s.runs.Save(ctx, run, rows); err != nil {
			status = rgtypes.StatusFailed
			return nil, err
		}
	}

	out.FinishedAt = s.now()
	log.Info("job finished",
		logging.String("run_id", out.RunID),
		logging.String("status", string(status)),
		logging.Int("molecules", len(req.Molecules)),
		logging.Int("rows", len(out.Rows)),
		logging.Int("rejected", len(rejections)),
		logging.Duration("elapsed", out.FinishedAt.Sub(started)))
	return out, nil
}

func (s *serviceImpl) engineOptions(log logging.Logger) []rgroup.Option {
	opts := []rgroup.Option{
		rgroup.WithLogger(log),
		rgroup.WithFingerprinter(s.cfg.Fingerprinter),
	}
	if s.cache != nil {
		opts = append(opts, rgroup.WithFingerprintCache(s.cache))
	}
	if s.observer != nil {
		opts = append(opts, rgroup.WithObserver(s.observer))
	}
	return opts
}

// parse reads one structure; a molblock wins over SMILES.
func (s *serviceImpl) parse(in rgtypes.StructureInput) (*molgraph.Graph, error) {
	text := in.SMILES
	if in.MolBlock != "" {
		text = in.MolBlock
	}
	g, err := s.parser.Parse(text)
	if err != nil {
		return nil, err
	}
	if in.Name != "" {
		g.Name = in.Name
	}
	return g, nil
}

// register parses and adds the molecules. It returns rejections in input
// order and the input index of every registration index.
func (s *serviceImpl) register(ctx context.Context, d *rgroup.Decomposition, mols []rgtypes.StructureInput) ([]rgtypes.Rejection, []int, error) {
	var rejections []rgtypes.Rejection
	reject := func(i int, err error) {
		rejections = append(rejections, rgtypes.Rejection{Index: i, Name: mols[i].Name, Error: rgtypes.NewErrorDetail(err)})
	}

	graphs := make([]*molgraph.Graph, 0, len(mols))
	inputOf := make([]int, 0, len(mols))
	parseErrs := make(map[int]error)
	for i, in := range mols {
		g, err := s.parse(in)
		if err != nil {
			parseErrs[i] = err
			continue
		}
		graphs = append(graphs, g)
		inputOf = append(inputOf, i)
	}

	indices, errs := d.AddBatch(ctx, graphs, s.cfg.Concurrency)
	if err := ctx.Err(); err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeTimeout, "job deadline reached while registering molecules")
	}

	regToInput := make([]int, 0, len(graphs))
	addErrs := make(map[int]error)
	for k, idx := range indices {
		if errs[k] != nil {
			addErrs[inputOf[k]] = errs[k]
			continue
		}
		if idx != len(regToInput) {
			return nil, nil, errors.Newf(errors.ErrCodeInternal, "registration index %d out of order", idx)
		}
		regToInput = append(regToInput, inputOf[k])
	}
	for i := range mols {
		if err, ok := parseErrs[i]; ok {
			reject(i, err)
		} else if err, ok := addErrs[i]; ok {
			reject(i, err)
		}
	}
	return rejections, regToInput, nil
}

// toJobResult renders res with rows re-indexed to input positions. The
// re-indexed domain rows are returned for storage.
func toJobResult(jobID string, status rgtypes.JobStatus, res *rgroup.Result, regToInput []int) (*rgtypes.JobResult, []rgroup.Row) {
	out := &rgtypes.JobResult{
		JobID:       jobID,
		Status:      status,
		Strategy:    string(res.Strategy()),
		ScoreMethod: string(res.ScoreMethod()),
		Score:       res.Score(),
		Complete:    res.Complete(),
		TimedOut:    res.TimedOut(),
	}
	for _, label := range res.Columns() {
		out.Columns = append(out.Columns, rgroup.ColumnName(label))
	}

	rows := res.Rows()
	for i := range rows {
		rows[i].Index = regToInput[rows[i].Index]
		row := rgtypes.Row{
			Index:   rows[i].Index,
			Name:    rows[i].Name,
			CoreID:  rows[i].CoreID,
			Core:    rows[i].CoreSMILES,
			RGroups: make(map[string]string, len(rows[i].RGroups)),
		}
		for label, g := range rows[i].RGroups {
			row.RGroups[rgroup.ColumnName(label)] = g.SMILES
		}
		out.Rows = append(out.Rows, row)
	}

	for _, cs := range res.Summary() {
		out.Summary = append(out.Summary, rgtypes.ColumnSummary{
			Column:           rgroup.ColumnName(cs.Label),
			Filled:           cs.Filled,
			Distinct:         cs.Distinct,
			MeanHeavyAtoms:   cs.MeanHeavyAtoms,
			StdDevHeavyAtoms: cs.StdDevHeavyAtoms,
		})
	}
	return out, rows
}

func (s *serviceImpl) export(ctx context.Context, out *rgtypes.JobResult) ([]rgtypes.ExportRef, error) {
	var table bytes.Buffer
	if err := out.WriteCSV(&table); err != nil {
		return nil, err
	}
	doc, err := json.Marshal(out)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal result")
	}
	return s.exporter.Export(ctx, out.RunID,
		minio.Artifact{Format: minio.FormatCSV, Data: table.Bytes()},
		minio.Artifact{Format: minio.FormatJSON, Data: doc})
}

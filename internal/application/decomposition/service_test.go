package decomposition

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KeyIP-RGD/internal/domain/rgroup"
	"github.com/turtacn/KeyIP-RGD/internal/infrastructure/storage/minio"
	"github.com/turtacn/KeyIP-RGD/internal/testutil"
	"github.com/turtacn/KeyIP-RGD/pkg/errors"
	rgtypes "github.com/turtacn/KeyIP-RGD/pkg/types/rgroup"
)

// MockRunRepository is a mock implementation of rgroup.RunRepository.
type MockRunRepository struct {
	mock.Mock
}

func (m *MockRunRepository) Save(ctx context.Context, run *rgroup.Run, rows []rgroup.Row) error {
	return m.Called(ctx, run, rows).Error(0)
}

func (m *MockRunRepository) FindByID(ctx context.Context, id uuid.UUID) (*rgroup.Run, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*rgroup.Run), args.Error(1)
}

func (m *MockRunRepository) FindByJobID(ctx context.Context, jobID string) (*rgroup.Run, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*rgroup.Run), args.Error(1)
}

func (m *MockRunRepository) Rows(ctx context.Context, runID uuid.UUID) ([]rgroup.Row, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]rgroup.Row), args.Error(1)
}

func (m *MockRunRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

// MockExporter is a mock implementation of ResultExporter.
type MockExporter struct {
	mock.Mock
}

func (m *MockExporter) Export(ctx context.Context, runID string, artifacts ...minio.Artifact) ([]rgtypes.ExportRef, error) {
	args := m.Called(ctx, runID, artifacts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]rgtypes.ExportRef), args.Error(1)
}

// recordingJobs captures final job statuses.
type recordingJobs struct {
	statuses []string
}

func (r *recordingJobs) JobStarted() func(string) {
	return func(status string) { r.statuses = append(r.statuses, status) }
}

func benzeneJob() *rgtypes.JobRequest {
	return &rgtypes.JobRequest{
		JobID: "job-1",
		Cores: []rgtypes.StructureInput{{Name: "phenyl", SMILES: "[*:1]c1ccccc1"}},
		Molecules: []rgtypes.StructureInput{
			{Name: "toluene", SMILES: "Cc1ccccc1"},
			{Name: "ethanol", SMILES: "CCO"},
			{Name: "broken", SMILES: "C(C"},
			{Name: "chlorobenzene", SMILES: "Clc1ccccc1"},
		},
		Options: map[string]any{"onlyMatchAtRGroups": true},
	}
}

func newTestService(opts ...Option) (Service, *recordingJobs) {
	jobs := &recordingJobs{}
	cfg := Config{Defaults: rgroup.DefaultOptions(), Concurrency: 2, JobTimeout: time.Minute}
	return NewService(cfg, nil, append([]Option{WithJobObserver(jobs)}, opts...)...), jobs
}

func TestService_Run(t *testing.T) {
	logger := testutil.NewMockLogger()
	jobs := &recordingJobs{}
	svc := NewService(Config{Defaults: rgroup.DefaultOptions(), Concurrency: 2}, logger, WithJobObserver(jobs))

	res, err := svc.Run(context.Background(), benzeneJob())
	require.NoError(t, err)

	assert.Equal(t, "job-1", res.JobID)
	assert.Equal(t, rgtypes.StatusSucceeded, res.Status)
	assert.True(t, res.Complete)
	assert.Equal(t, string(rgroup.GreedyChunks), res.Strategy)
	assert.Equal(t, []string{"R1"}, res.Columns)
	_, err = uuid.Parse(res.RunID)
	assert.NoError(t, err)

	require.Len(t, res.Rows, 2)
	assert.Equal(t, 0, res.Rows[0].Index)
	assert.Equal(t, "toluene", res.Rows[0].Name)
	assert.Equal(t, 3, res.Rows[1].Index)
	assert.Equal(t, "chlorobenzene", res.Rows[1].Name)
	for _, row := range res.Rows {
		assert.NotEmpty(t, row.RGroups["R1"])
		assert.NotEmpty(t, row.Core)
	}

	require.Len(t, res.Rejections, 2)
	assert.Equal(t, 1, res.Rejections[0].Index)
	assert.Equal(t, errors.ErrCodeNoMatch.String(), res.Rejections[0].Error.Code)
	assert.Equal(t, 2, res.Rejections[1].Index)
	assert.Equal(t, errors.ErrCodeMoleculeInvalidSMILES.String(), res.Rejections[1].Error.Code)

	require.Len(t, res.Summary, 1)
	assert.Equal(t, "R1", res.Summary[0].Column)
	assert.Equal(t, 1.0, res.Summary[0].Filled)
	assert.Equal(t, 2, res.Summary[0].Distinct)

	assert.False(t, res.FinishedAt.Before(res.StartedAt))
	assert.Equal(t, []string{"succeeded"}, jobs.statuses)
	assert.True(t, logger.HasMessage("info", "job finished"))
}

func TestService_RunAssignsJobID(t *testing.T) {
	svc, _ := newTestService()
	req := benzeneJob()
	req.JobID = ""

	res, err := svc.Run(context.Background(), req)
	require.NoError(t, err)
	_, err = uuid.Parse(res.JobID)
	assert.NoError(t, err)
}

func TestService_SetDefaults(t *testing.T) {
	svc, _ := newTestService()

	bad := rgroup.DefaultOptions()
	bad.ChunkSize = 0
	err := svc.SetDefaults(bad)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidOption))

	greedy := rgroup.DefaultOptions()
	greedy.MatchingStrategy = rgroup.Greedy
	require.NoError(t, svc.SetDefaults(greedy))

	res, err := svc.Run(context.Background(), benzeneJob())
	require.NoError(t, err)
	assert.Equal(t, string(rgroup.Greedy), res.Strategy)
}

func TestService_RunRowsAreIndependentOfConcurrency(t *testing.T) {
	var results []*rgtypes.JobResult
	for _, workers := range []int{1, 8} {
		svc := NewService(Config{Defaults: rgroup.DefaultOptions(), Concurrency: workers}, nil)
		req := benzeneJob()
		req.Molecules = append(req.Molecules,
			rgtypes.StructureInput{SMILES: "CCc1ccccc1"},
			rgtypes.StructureInput{SMILES: "Oc1ccccc1"},
			rgtypes.StructureInput{SMILES: "Brc1ccccc1"})
		res, err := svc.Run(context.Background(), req)
		require.NoError(t, err)
		results = append(results, res)
	}
	assert.Equal(t, results[0].Rows, results[1].Rows)
	assert.Equal(t, results[0].Score, results[1].Score)
}

func TestService_RunFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*rgtypes.JobRequest)
		code   errors.ErrorCode
	}{
		{"no molecules", func(r *rgtypes.JobRequest) { r.Molecules = nil }, errors.ErrCodeJobInvalid},
		{"unknown option", func(r *rgtypes.JobRequest) { r.Options = map[string]any{"useChirality": true} }, errors.ErrCodeInvalidOption},
		{"unparsable core", func(r *rgtypes.JobRequest) { r.Cores[0].SMILES = "c1cc" }, errors.ErrCodeInvalidCore},
		{"export without exporter", func(r *rgtypes.JobRequest) { r.Export = true }, errors.ErrCodeInvalidState},
		{"persist without repository", func(r *rgtypes.JobRequest) { r.Persist = true }, errors.ErrCodeInvalidState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, jobs := newTestService()
			req := benzeneJob()
			tt.mutate(req)

			res, err := svc.Run(context.Background(), req)
			assert.Nil(t, res)
			assert.True(t, errors.IsCode(err, tt.code), "got %v", err)
			if tt.code != errors.ErrCodeJobInvalid {
				assert.Equal(t, []string{"failed"}, jobs.statuses)
			}
		})
	}

	svc, _ := newTestService()
	_, err := svc.Run(context.Background(), nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeJobInvalid))
}

func TestService_RunPersists(t *testing.T) {
	repo := new(MockRunRepository)
	svc, _ := newTestService(WithRunRepository(repo))
	req := benzeneJob()
	req.Persist = true

	var saved *rgroup.Run
	repo.On("Save", mock.Anything, mock.AnythingOfType("*rgroup.Run"), mock.MatchedBy(func(rows []rgroup.Row) bool {
		return len(rows) == 2 && rows[0].Index == 0 && rows[1].Index == 3
	})).Run(func(args mock.Arguments) {
		saved = args.Get(1).(*rgroup.Run)
	}).Return(nil).Once()

	res, err := svc.Run(context.Background(), req)
	require.NoError(t, err)
	repo.AssertExpectations(t)

	require.NotNil(t, saved)
	assert.Equal(t, res.RunID, saved.ID.String())
	assert.Equal(t, "job-1", saved.JobID)
	assert.Equal(t, "succeeded", saved.Status)
	assert.Equal(t, 4, saved.Molecules)
	assert.Equal(t, 2, saved.Registered)
	assert.True(t, saved.Options.OnlyMatchAtRGroups)
}

func TestService_RunPersistError(t *testing.T) {
	repo := new(MockRunRepository)
	svc, jobs := newTestService(WithRunRepository(repo))
	req := benzeneJob()
	req.Persist = true

	repo.On("Save", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New(errors.ErrCodeDatabaseError, "connection refused"))

	_, err := svc.Run(context.Background(), req)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDatabaseError))
	assert.Equal(t, []string{"failed"}, jobs.statuses)
}

func TestService_RunExports(t *testing.T) {
	exp := new(MockExporter)
	svc, _ := newTestService(WithExporter(exp))
	req := benzeneJob()
	req.Export = true

	refs := []rgtypes.ExportRef{{Format: "csv", Bucket: "b", Key: "runs/x/result.csv"}}
	exp.On("Export", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(a []minio.Artifact) bool {
		return len(a) == 2 &&
			a[0].Format == minio.FormatCSV &&
			strings.HasPrefix(string(a[0].Data), "Index,Name,Core,R1\n0,toluene,") &&
			a[1].Format == minio.FormatJSON &&
			strings.Contains(string(a[1].Data), `"job_id":"job-1"`)
	})).Return(refs, nil).Once()

	res, err := svc.Run(context.Background(), req)
	require.NoError(t, err)
	exp.AssertExpectations(t)
	assert.Equal(t, refs, res.Exports)
	assert.Equal(t, res.RunID, exp.Calls[0].Arguments.String(1))
}

func TestService_RunDeadlineDuringRegistration(t *testing.T) {
	svc, jobs := newTestService()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Run(ctx, benzeneJob())
	assert.True(t, errors.IsCode(err, errors.ErrCodeTimeout))
	assert.Equal(t, []string{"failed"}, jobs.statuses)
}

package minio

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	apperrors "github.com/turtacn/KeyIP-RGD/pkg/errors"
)

type mockObjectAPI struct {
	mock.Mock
}

func (m *mockObjectAPI) BucketExists(ctx context.Context, bucket string) (bool, error) {
	args := m.Called(ctx, bucket)
	return args.Bool(0), args.Error(1)
}

func (m *mockObjectAPI) MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error {
	return m.Called(ctx, bucket, opts).Error(0)
}

func (m *mockObjectAPI) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	data, _ := io.ReadAll(r)
	args := m.Called(ctx, bucket, key, string(data), size, opts)
	return args.Get(0).(minio.UploadInfo), args.Error(1)
}

func (m *mockObjectAPI) RemoveObject(ctx context.Context, bucket, key string, opts minio.RemoveObjectOptions) error {
	return m.Called(ctx, bucket, key, opts).Error(0)
}

type ExporterTestSuite struct {
	suite.Suite
	api      *mockObjectAPI
	client   *Client
	exporter *ResultExporter
	ctx      context.Context
}

func (s *ExporterTestSuite) SetupTest() {
	s.api = new(mockObjectAPI)
	s.client = NewClientWithAPI(s.api, "rgd-results", "", nil)
	s.exporter = NewResultExporter(s.client, nil)
	s.ctx = context.Background()
}

func (s *ExporterTestSuite) TearDownTest() {
	s.api.AssertExpectations(s.T())
}

func (s *ExporterTestSuite) TestEnsureBucket_Creates() {
	s.api.On("BucketExists", s.ctx, "rgd-results").Return(false, nil)
	s.api.On("MakeBucket", s.ctx, "rgd-results", minio.MakeBucketOptions{Region: "us-east-1"}).Return(nil)
	s.Require().NoError(s.client.EnsureBucket(s.ctx))
}

func (s *ExporterTestSuite) TestEnsureBucket_Exists() {
	s.api.On("BucketExists", s.ctx, "rgd-results").Return(true, nil)
	s.Require().NoError(s.client.EnsureBucket(s.ctx))
	s.api.AssertNotCalled(s.T(), "MakeBucket", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ExporterTestSuite) TestEnsureBucket_Error() {
	s.api.On("BucketExists", s.ctx, "rgd-results").Return(false, errors.New("access denied"))
	err := s.client.EnsureBucket(s.ctx)
	s.True(apperrors.IsCode(err, apperrors.ErrCodeStorageError))
}

func (s *ExporterTestSuite) TestObjectKey() {
	s.Equal("runs/abc/result.csv", s.exporter.ObjectKey("abc", FormatCSV))
}

func (s *ExporterTestSuite) TestExport() {
	csvOpts := minio.PutObjectOptions{ContentType: "text/csv", UserMetadata: map[string]string{"run-id": "r1"}}
	jsonOpts := minio.PutObjectOptions{ContentType: "application/json", UserMetadata: map[string]string{"run-id": "r1"}}
	s.api.On("PutObject", s.ctx, "rgd-results", "runs/r1/result.csv", "Core,R1\n", int64(8), csvOpts).
		Return(minio.UploadInfo{Size: 8}, nil)
	s.api.On("PutObject", s.ctx, "rgd-results", "runs/r1/result.json", "{}", int64(2), jsonOpts).
		Return(minio.UploadInfo{Size: 2}, nil)

	refs, err := s.exporter.Export(s.ctx, "r1",
		Artifact{Format: FormatCSV, Data: []byte("Core,R1\n")},
		Artifact{Format: FormatJSON, Data: []byte("{}")})
	s.Require().NoError(err)
	s.Require().Len(refs, 2)
	s.Equal("runs/r1/result.csv", refs[0].Key)
	s.Equal("rgd-results", refs[0].Bucket)
	s.Equal(int64(8), refs[0].Size)
	s.Equal(FormatJSON, refs[1].Format)
}

func (s *ExporterTestSuite) TestExport_RollsBackOnFailure() {
	s.api.On("PutObject", s.ctx, "rgd-results", "runs/r2/result.csv", mock.Anything, mock.Anything, mock.Anything).
		Return(minio.UploadInfo{Size: 3}, nil)
	s.api.On("PutObject", s.ctx, "rgd-results", "runs/r2/result.json", mock.Anything, mock.Anything, mock.Anything).
		Return(minio.UploadInfo{}, errors.New("quota exceeded"))
	s.api.On("RemoveObject", s.ctx, "rgd-results", "runs/r2/result.csv", minio.RemoveObjectOptions{}).Return(nil)

	refs, err := s.exporter.Export(s.ctx, "r2",
		Artifact{Format: FormatCSV, Data: []byte("a,b")},
		Artifact{Format: FormatJSON, Data: []byte("{}")})
	s.Nil(refs)
	s.True(apperrors.IsCode(err, apperrors.ErrCodeStorageError))
	s.True(apperrors.IsRetryable(apperrors.GetCode(err)))
}

func (s *ExporterTestSuite) TestExport_Validation() {
	_, err := s.exporter.Export(s.ctx, "", Artifact{Format: FormatCSV})
	s.True(apperrors.IsCode(err, apperrors.ErrCodeValidation))

	_, err = s.exporter.Export(s.ctx, "r3", Artifact{Format: "xlsx"})
	s.True(apperrors.IsCode(err, apperrors.ErrCodeValidation))
}

func TestExporterTestSuite(t *testing.T) {
	suite.Run(t, new(ExporterTestSuite))
}

package decomposition

import (
	"bytes"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/turtacn/KeyIP-RGD/pkg/errors"
	rgtypes "github.com/turtacn/KeyIP-RGD/pkg/types/rgroup"
)

// LoadJobFile reads a job from a YAML (or JSON) file.
func LoadJobFile(path string) (*rgtypes.JobRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound("job file not found").WithDetail(path)
		}
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read job file").WithDetail(path)
	}
	req, err := DecodeJob(bytes.NewReader(data))
	if err != nil {
		if ae, ok := err.(*errors.AppError); ok && ae.Detail == "" {
			return nil, ae.WithDetail(path)
		}
		return nil, err
	}
	return req, nil
}

// DecodeJob reads one job document and validates it. Unknown fields are
// rejected.
func DecodeJob(r io.Reader) (*rgtypes.JobRequest, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var req rgtypes.JobRequest
	if err := dec.Decode(&req); err != nil {
		if err == io.EOF {
			return nil, errors.New(errors.ErrCodeJobInvalid, "job document is empty")
		}
		return nil, errors.Wrap(err, errors.ErrCodeJobInvalid, "malformed job document")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

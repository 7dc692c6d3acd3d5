// Package rgroup defines the wire types of decomposition jobs: the request a
// client submits (as a YAML file or a Kafka message) and the result the
// service returns. Only plain data lives here so that clients can import it
// without pulling in the engine.
package rgroup

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/turtacn/KeyIP-RGD/pkg/errors"
)

// ─────────────────────────────────────────────────────────────────────────────
// Structure inputs
// ─────────────────────────────────────────────────────────────────────────────

// StructureInput carries one structure as either SMILES or a V2000 molblock.
// When both are present the molblock wins.
type StructureInput struct {
	// Name is an optional label echoed back in result rows.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	SMILES string `json:"smiles,omitempty" yaml:"smiles,omitempty"`

	MolBlock string `json:"molblock,omitempty" yaml:"molblock,omitempty"`
}

// IsEmpty reports whether neither representation is set.
func (s StructureInput) IsEmpty() bool {
	return strings.TrimSpace(s.SMILES) == "" && strings.TrimSpace(s.MolBlock) == ""
}

// ─────────────────────────────────────────────────────────────────────────────
// JobRequest
// ─────────────────────────────────────────────────────────────────────────────

// JobRequest is one decomposition: cores, molecules and engine options.
type JobRequest struct {
	// JobID identifies the job across redeliveries. The service assigns one
	// when it is empty.
	JobID string `json:"job_id,omitempty" yaml:"job_id,omitempty"`

	Cores     []StructureInput `json:"cores" yaml:"cores"`
	Molecules []StructureInput `json:"molecules" yaml:"molecules"`

	// Options are engine options by name, in camelCase or snake_case, e.g.
	// {"matchingStrategy": "Exhaustive", "doTautomers": true}.
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`

	// Export asks the service to write the result table to object storage.
	Export bool `json:"export,omitempty" yaml:"export,omitempty"`

	// Persist asks the service to store the run in the database.
	Persist bool `json:"persist,omitempty" yaml:"persist,omitempty"`
}

// Validate checks structural completeness. Chemistry is checked later by the
// engine, molecule by molecule.
func (r *JobRequest) Validate() error {
	if len(r.Cores) == 0 {
		return errors.New(errors.ErrCodeJobInvalid, "job has no cores")
	}
	for i, c := range r.Cores {
		if c.IsEmpty() {
			return errors.Newf(errors.ErrCodeJobInvalid, "core %d has neither smiles nor molblock", i)
		}
	}
	if len(r.Molecules) == 0 {
		return errors.New(errors.ErrCodeJobInvalid, "job has no molecules")
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// JobResult
// ─────────────────────────────────────────────────────────────────────────────

// JobStatus is the terminal state of a job.
type JobStatus string

const (
	// StatusSucceeded means Process ran and every accepted molecule kept a row.
	StatusSucceeded JobStatus = "succeeded"

	// StatusPartial means Process ran but some molecule lost its assignment,
	// or the search fell back to greedy after a timeout.
	StatusPartial JobStatus = "partial"

	// StatusFailed means the job could not be run at all.
	StatusFailed JobStatus = "failed"
)

// ErrorDetail is the wire rendering of an AppError.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Row is one decomposed molecule. RGroups is keyed by column name ("R1").
type Row struct {
	Index   int               `json:"index"`
	Name    string            `json:"name,omitempty"`
	CoreID  int               `json:"core_id"`
	Core    string            `json:"core"`
	RGroups map[string]string `json:"rgroups"`
}

// Rejection is a molecule that did not enter the decomposition.
type Rejection struct {
	Index int         `json:"index"`
	Name  string      `json:"name,omitempty"`
	Error ErrorDetail `json:"error"`
}

// ColumnSummary describes one R column across all rows. Filled is the
// fraction of rows holding a non-hydrogen substituent.
type ColumnSummary struct {
	Column           string  `json:"column"`
	Filled           float64 `json:"filled"`
	Distinct         int     `json:"distinct"`
	MeanHeavyAtoms   float64 `json:"mean_heavy_atoms"`
	StdDevHeavyAtoms float64 `json:"stddev_heavy_atoms"`
}

// ExportRef locates an exported result object.
type ExportRef struct {
	Format string `json:"format"`
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Size   int64  `json:"size"`
}

// JobResult is what the service returns for a JobRequest.
type JobResult struct {
	JobID  string    `json:"job_id"`
	RunID  string    `json:"run_id"`
	Status JobStatus `json:"status"`

	Strategy    string  `json:"strategy,omitempty"`
	ScoreMethod string  `json:"score_method,omitempty"`
	Score       float64 `json:"score"`
	Complete    bool    `json:"complete"`
	TimedOut    bool    `json:"timed_out"`

	Columns    []string        `json:"columns,omitempty"`
	Rows       []Row           `json:"rows,omitempty"`
	Rejections []Rejection     `json:"rejections,omitempty"`
	Summary    []ColumnSummary `json:"summary,omitempty"`
	Exports    []ExportRef     `json:"exports,omitempty"`

	Error *ErrorDetail `json:"error,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// NewErrorDetail renders err, keeping the AppError code when present.
func NewErrorDetail(err error) ErrorDetail {
	return ErrorDetail{Code: errors.GetCode(err).String(), Message: err.Error()}
}

// WriteCSV writes a header (Index, Name, Core, R1, ...) and one record per
// row. Index is the molecule's position in the request.
func (r *JobResult) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := append([]string{"Index", "Name", "Core"}, r.Columns...)
	if err := cw.Write(header); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "write csv header")
	}
	for _, row := range r.Rows {
		rec := []string{strconv.Itoa(row.Index), row.Name, row.Core}
		for _, col := range r.Columns {
			rec = append(rec, row.RGroups[col])
		}
		if err := cw.Write(rec); err != nil {
			return errors.Wrap(err, errors.ErrCodeSerialization, "write csv row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "flush csv")
	}
	return nil
}

package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/turtacn/KeyIP-RGD/internal/domain/rgroup"
	"github.com/turtacn/KeyIP-RGD/internal/infrastructure/database/postgres"
	"github.com/turtacn/KeyIP-RGD/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-RGD/pkg/errors"
)

const runColumns = `id, job_id, status, options, strategy, score_method, score, complete, timed_out,
	molecules, registered, labels, created_at, finished_at`

type postgresRunRepo struct {
	conn *postgres.Connection
	log  logging.Logger
}

// NewPostgresRunRepo stores runs in rgd_runs and their rows in rgd_rows.
func NewPostgresRunRepo(conn *postgres.Connection, log logging.Logger) rgroup.RunRepository {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &postgresRunRepo{conn: conn, log: log.Named("run_repo")}
}

func (r *postgresRunRepo) Save(ctx context.Context, run *rgroup.Run, rows []rgroup.Row) error {
	tx, err := r.conn.DB().BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := insertRun(ctx, tx, run); err != nil {
		return err
	}
	if err := copyRows(ctx, tx, run.ID, rows); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to commit run")
	}
	r.log.Debug("run saved", logging.String("run_id", run.ID.String()), logging.Int("rows", len(rows)))
	return nil
}

func insertRun(ctx context.Context, q queryExecutor, run *rgroup.Run) error {
	opts, err := json.Marshal(run.Options)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode run options")
	}
	labels := make([]int64, len(run.Columns))
	for i, c := range run.Columns {
		labels[i] = int64(c)
	}

	_, err = q.ExecContext(ctx, `INSERT INTO rgd_runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		run.ID, run.JobID, run.Status, opts, string(run.Strategy), string(run.ScoreMethod), run.Score,
		run.Complete, run.TimedOut, run.Molecules, run.Registered, pq.Array(labels), run.CreatedAt, run.FinishedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Newf(errors.ErrCodeConflict, "run %s already exists", run.ID)
		}
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to insert run")
	}
	return nil
}

// copyRows bulk-loads rows with COPY FROM STDIN inside tx.
func copyRows(ctx context.Context, tx *sql.Tx, runID uuid.UUID, rows []rgroup.Row) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("rgd_rows",
		"run_id", "mol_index", "name", "core_id", "core_smiles", "rgroups"))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to prepare row copy")
	}
	defer stmt.Close()

	for _, row := range rows {
		groups, err := json.Marshal(row.RGroups)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode row")
		}
		// COPY text format would hex-encode []byte as bytea
		if _, err := stmt.ExecContext(ctx, runID, row.Index, row.Name, row.CoreID, row.CoreSMILES, string(groups)); err != nil {
			return errors.Wrapf(err, errors.ErrCodeDatabaseError, "failed to copy row %d", row.Index)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to flush row copy")
	}
	return nil
}

func (r *postgresRunRepo) FindByID(ctx context.Context, id uuid.UUID) (*rgroup.Run, error) {
	row := r.conn.DB().QueryRowContext(ctx, `SELECT `+runColumns+` FROM rgd_runs WHERE id = $1`, id)
	return scanRun(row, id.String())
}

func (r *postgresRunRepo) FindByJobID(ctx context.Context, jobID string) (*rgroup.Run, error) {
	row := r.conn.DB().QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM rgd_runs WHERE job_id = $1 ORDER BY finished_at DESC LIMIT 1`, jobID)
	return scanRun(row, jobID)
}

func (r *postgresRunRepo) Rows(ctx context.Context, runID uuid.UUID) ([]rgroup.Row, error) {
	rs, err := r.conn.DB().QueryContext(ctx,
		`SELECT mol_index, name, core_id, core_smiles, rgroups FROM rgd_rows WHERE run_id = $1 ORDER BY mol_index`, runID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query rows")
	}
	defer rs.Close()

	var out []rgroup.Row
	for rs.Next() {
		var (
			row    rgroup.Row
			groups []byte
		)
		if err := rs.Scan(&row.Index, &row.Name, &row.CoreID, &row.CoreSMILES, &groups); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan row")
		}
		if err := json.Unmarshal(groups, &row.RGroups); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode row")
		}
		out = append(out, row)
	}
	if err := rs.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate rows")
	}
	return out, nil
}

func (r *postgresRunRepo) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.conn.DB().ExecContext(ctx, `DELETE FROM rgd_runs WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to delete run")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("run not found").WithDetail(id.String())
	}
	return nil
}

func scanRun(row scanner, key string) (*rgroup.Run, error) {
	var (
		run      rgroup.Run
		opts     []byte
		strategy string
		method   string
		labels   []int64
	)
	err := row.Scan(
		&run.ID, &run.JobID, &run.Status, &opts, &strategy, &method, &run.Score, &run.Complete, &run.TimedOut,
		&run.Molecules, &run.Registered, pq.Array(&labels), &run.CreatedAt, &run.FinishedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("run not found").WithDetail(key)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan run")
	}
	if err := json.Unmarshal(opts, &run.Options); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode run options")
	}
	run.Strategy = rgroup.MatchingStrategy(strategy)
	run.ScoreMethod = rgroup.ScoreMethod(method)
	run.Columns = make([]int, len(labels))
	for i, l := range labels {
		run.Columns[i] = int(l)
	}
	return &run, nil
}

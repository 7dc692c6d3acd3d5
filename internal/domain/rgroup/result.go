package rgroup

import (
	"encoding/csv"
	"io"
	"maps"
	"strconv"

	"gonum.org/v1/gonum/stat"

	"github.com/turtacn/KeyIP-RGD/pkg/errors"
)

// RGroup is the substituent at one label of one row.
type RGroup struct {
	Label int `json:"label"`

	// SMILES carries numbered attachment markers, e.g. "Cl[*:1]".
	SMILES string `json:"smiles"`

	// Identity is the label-independent canonical form.
	Identity   string `json:"identity"`
	Hydrogen   bool   `json:"hydrogen"`
	HeavyAtoms int    `json:"heavy_atoms"`
}

// Row is the retained decomposition of one registered molecule.
type Row struct {
	Index      int            `json:"index"`
	Name       string         `json:"name,omitempty"`
	CoreID     int            `json:"core_id"`
	CoreSMILES string         `json:"core_smiles"`
	RGroups    map[int]RGroup `json:"rgroups"`
}

// Result is the finalized table of a decomposition run.
type Result struct {
	rows       []Row
	columns    []int
	byIndex    map[int]int
	registered int

	strategy MatchingStrategy
	method   ScoreMethod
	score    float64
	timedOut bool
}

// Rows returns copies of the rows in registration order. Molecules that
// kept no assignment have no row.
func (r *Result) Rows() []Row {
	out := make([]Row, len(r.rows))
	for i, row := range r.rows {
		out[i] = row.clone()
	}
	return out
}

// Row returns a copy of the row of the molecule registered at index.
func (r *Result) Row(index int) (Row, error) {
	i, ok := r.byIndex[index]
	if !ok {
		return Row{}, errors.NotFound("no row for molecule " + strconv.Itoa(index))
	}
	return r.rows[i].clone(), nil
}

func (row Row) clone() Row {
	row.RGroups = maps.Clone(row.RGroups)
	return row
}

// Columns returns the surviving labels in ascending order.
func (r *Result) Columns() []int { return append([]int(nil), r.columns...) }

// Registered is the number of molecules registered when Process ran.
func (r *Result) Registered() int { return r.registered }

// Complete reports whether every registered molecule has a row.
func (r *Result) Complete() bool { return len(r.rows) == r.registered }

// Score is the final global score; lower is better.
func (r *Result) Score() float64 { return r.score }

// Strategy is the matching strategy the result was optimized with.
func (r *Result) Strategy() MatchingStrategy { return r.strategy }

// ScoreMethod is the score the result was optimized for.
func (r *Result) ScoreMethod() ScoreMethod { return r.method }

// TimedOut reports whether the search budget ran out.
func (r *Result) TimedOut() bool { return r.timedOut }

// ColumnName names a label column ("R1", "R2", ...).
func ColumnName(label int) string { return "R" + strconv.Itoa(label) }

// RowsAsColumns pivots the table into "Core" and one column per label, each
// with one cell per row; absent substituents are empty cells.
func (r *Result) RowsAsColumns() map[string][]string {
	out := make(map[string][]string, len(r.columns)+1)
	core := make([]string, len(r.rows))
	for i, row := range r.rows {
		core[i] = row.CoreSMILES
	}
	out["Core"] = core
	for _, label := range r.columns {
		col := make([]string, len(r.rows))
		for i, row := range r.rows {
			if g, ok := row.RGroups[label]; ok {
				col[i] = g.SMILES
			}
		}
		out[ColumnName(label)] = col
	}
	return out
}

// ColumnSummary describes one label column.
type ColumnSummary struct {
	Label int `json:"label"`

	// Filled is the fraction of rows holding a real substituent.
	Filled float64 `json:"filled"`

	Distinct         int     `json:"distinct"`
	MeanHeavyAtoms   float64 `json:"mean_heavy_atoms"`
	StdDevHeavyAtoms float64 `json:"stddev_heavy_atoms"`
}

// Summary returns per-column statistics in column order.
func (r *Result) Summary() []ColumnSummary {
	out := make([]ColumnSummary, 0, len(r.columns))
	for _, label := range r.columns {
		s := ColumnSummary{Label: label}
		ids := make(map[string]bool)
		var sizes []float64
		filled := 0
		for _, row := range r.rows {
			g, ok := row.RGroups[label]
			if !ok {
				continue
			}
			ids[g.Identity] = true
			sizes = append(sizes, float64(g.HeavyAtoms))
			if !g.Hydrogen {
				filled++
			}
		}
		s.Distinct = len(ids)
		if len(r.rows) > 0 {
			s.Filled = float64(filled) / float64(len(r.rows))
		}
		if len(sizes) > 0 {
			s.MeanHeavyAtoms = stat.Mean(sizes, nil)
		}
		if len(sizes) > 1 {
			s.StdDevHeavyAtoms = stat.StdDev(sizes, nil)
		}
		out = append(out, s)
	}
	return out
}

// WriteCSV writes a header (Index, Name, Core, R1, ...) and one record per
// row.
func (r *Result) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := []string{"Index", "Name", "Core"}
	for _, label := range r.columns {
		header = append(header, ColumnName(label))
	}
	if err := cw.Write(header); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "write csv header")
	}
	for _, row := range r.rows {
		rec := []string{strconv.Itoa(row.Index), row.Name, row.CoreSMILES}
		for _, label := range r.columns {
			rec = append(rec, row.RGroups[label].SMILES)
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

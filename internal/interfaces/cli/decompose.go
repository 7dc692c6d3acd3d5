package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/KeyIP-RGD/internal/application/decomposition"
	"github.com/turtacn/KeyIP-RGD/pkg/errors"
	rgtypes "github.com/turtacn/KeyIP-RGD/pkg/types/rgroup"
)

type decomposeOptions struct {
	Cores     []string
	Molecules []string
	MolsFile  string
	Set       []string
	Persist   bool
	Export    bool
	OutFile   string
}

// NewDecomposeCmd runs one decomposition job in process.
func NewDecomposeCmd() *cobra.Command {
	opts := &decomposeOptions{}

	cmd := &cobra.Command{
		Use:   "decompose [job-file]",
		Short: "Decompose a series of molecules around one or more cores",
		Long: "Runs a decomposition job read from a YAML or JSON job file, from flags, or both.\n" +
			"Flag inputs are appended to the job file's cores and molecules. A --core or\n" +
			"--mol value starting with @ names a file holding a SMILES string or a molblock.",
		Example: "  rgd decompose job.yaml -o csv\n" +
			"  rgd decompose --core '[*:1]c1ccccc1' --mol Cc1ccccc1 --mol Clc1ccccc1 -o table\n" +
			"  rgd decompose --core @core.mol --mols-file series.smi --set matchingStrategy=Exhaustive",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecompose(cmd, args, opts)
		},
	}

	f := cmd.Flags()
	f.StringArrayVar(&opts.Cores, "core", nil, "core structure (SMILES, or @file); repeatable")
	f.StringArrayVar(&opts.Molecules, "mol", nil, "molecule (SMILES, or @file); repeatable")
	f.StringVar(&opts.MolsFile, "mols-file", "", "SMILES file with one \"SMILES [name]\" per line")
	f.StringArrayVar(&opts.Set, "set", nil, "engine option as key=value; repeatable")
	f.BoolVar(&opts.Persist, "persist", false, "store the run in PostgreSQL")
	f.BoolVar(&opts.Export, "export", false, "upload CSV and JSON renderings to object storage")
	f.StringVar(&opts.OutFile, "out", "", "write the result to this file instead of stdout")
	return cmd
}

func runDecompose(cmd *cobra.Command, args []string, opts *decomposeOptions) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	jobFile := ""
	if len(args) == 1 {
		jobFile = args[0]
	}
	req, err := opts.request(jobFile)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	rt, err := openBackends(ctx, cliCtx.Config, cliCtx.Logger, backendNeeds{Persist: req.Persist, Export: req.Export})
	if err != nil {
		return err
	}
	defer rt.Close()

	res, err := rt.Service().Run(ctx, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.OutFile != "" {
		f, err := os.Create(opts.OutFile)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create output file").WithDetail(opts.OutFile)
		}
		defer f.Close()
		out = f
	}
	return writeResult(out, cliCtx.OutputFormat, resultView{res})
}

// request merges the job file with the flag inputs.
func (o *decomposeOptions) request(jobFile string) (*rgtypes.JobRequest, error) {
	req := &rgtypes.JobRequest{}
	if jobFile != "" {
		loaded, err := decomposition.LoadJobFile(jobFile)
		if err != nil {
			return nil, err
		}
		req = loaded
	}

	for _, v := range o.Cores {
		in, err := structureArg(v)
		if err != nil {
			return nil, err
		}
		req.Cores = append(req.Cores, in)
	}
	for _, v := range o.Molecules {
		in, err := structureArg(v)
		if err != nil {
			return nil, err
		}
		req.Molecules = append(req.Molecules, in)
	}
	if o.MolsFile != "" {
		mols, err := readSMILESFile(o.MolsFile)
		if err != nil {
			return nil, err
		}
		req.Molecules = append(req.Molecules, mols...)
	}

	if len(o.Set) > 0 && req.Options == nil {
		req.Options = make(map[string]any, len(o.Set))
	}
	for _, kv := range o.Set {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, errors.Newf(errors.ErrCodeInvalidOption, "option %q is not key=value", kv)
		}
		req.Options[strings.TrimSpace(key)] = optionValue(strings.TrimSpace(value))
	}

	req.Persist = req.Persist || o.Persist
	req.Export = req.Export || o.Export
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// structureArg reads an @file argument or takes the value as SMILES.
func structureArg(v string) (rgtypes.StructureInput, error) {
	path, isFile := strings.CutPrefix(v, "@")
	if !isFile {
		return rgtypes.StructureInput{SMILES: v}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return rgtypes.StructureInput{}, errors.Wrap(err, errors.ErrCodeNotFound, "cannot read structure file").WithDetail(path)
	}
	text := string(data)
	if strings.Contains(text, "V2000") || strings.Contains(text, "V3000") {
		return rgtypes.StructureInput{Name: firstLine(text), MolBlock: text}, nil
	}
	return smilesLine(strings.TrimSpace(text)), nil
}

// readSMILESFile reads "SMILES [name]" lines, skipping blanks and # comments.
func readSMILESFile(path string) ([]rgtypes.StructureInput, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeNotFound, "cannot open SMILES file").WithDetail(path)
	}
	defer f.Close()
	return parseSMILESLines(f)
}

func parseSMILESLines(r io.Reader) ([]rgtypes.StructureInput, error) {
	var out []rgtypes.StructureInput
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, smilesLine(line))
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read SMILES lines")
	}
	return out, nil
}

func smilesLine(line string) rgtypes.StructureInput {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return rgtypes.StructureInput{}
	}
	in := rgtypes.StructureInput{SMILES: fields[0]}
	if len(fields) > 1 {
		in.Name = strings.Join(fields[1:], " ")
	}
	return in
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}

// optionValue types a --set value the way a JSON job document would.
func optionValue(v string) any {
	switch strings.ToLower(v) {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return n
	}
	return v
}

// ─────────────────────────────────────────────────────────────────────────────
// Result rendering
// ─────────────────────────────────────────────────────────────────────────────

// resultView renders a JobResult as text or a table; CSV and JSON come from
// the embedded result.
type resultView struct {
	*rgtypes.JobResult
}

func (v resultView) TableHeaders() []string {
	return append([]string{"#", "Name", "Core"}, v.Columns...)
}

func (v resultView) TableRows() [][]string {
	rows := make([][]string, 0, len(v.Rows))
	for _, r := range v.Rows {
		cells := []string{strconv.Itoa(r.Index), r.Name, r.Core}
		for _, col := range v.Columns {
			cells = append(cells, r.RGroups[col])
		}
		rows = append(rows, cells)
	}
	return rows
}

func (v resultView) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "job %s  run %s\n", v.JobID, v.RunID)
	fmt.Fprintf(&sb, "status %s  strategy %s  score %.4f (%s)", v.Status, v.Strategy, v.Score, v.ScoreMethod)
	if v.TimedOut {
		sb.WriteString("  timed out")
	}
	sb.WriteString("\n\n")
	sb.WriteString(FormatTable(v.TableHeaders(), v.TableRows()))

	if len(v.Rejections) > 0 {
		sb.WriteString("\nrejected:\n")
		for _, r := range v.Rejections {
			fmt.Fprintf(&sb, "  #%d %s: %s\n", r.Index, r.Name, r.Error.Message)
		}
	}
	if len(v.Summary) > 0 {
		sb.WriteString("\ncolumns:\n")
		for _, c := range v.Summary {
			fmt.Fprintf(&sb, "  %-4s filled %3.0f%%  distinct %d  heavy atoms %.1f±%.1f\n",
				c.Column, c.Filled*100, c.Distinct, c.MeanHeavyAtoms, c.StdDevHeavyAtoms)
		}
	}
	for _, e := range v.Exports {
		fmt.Fprintf(&sb, "exported %s to %s/%s (%d bytes)\n", e.Format, e.Bucket, e.Key, e.Size)
	}
	return sb.String()
}

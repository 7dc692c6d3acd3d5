package rgroup

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/turtacn/KeyIP-RGD/pkg/errors"
)

// MatchingStrategy selects how Process searches the per-molecule candidates.
type MatchingStrategy string

const (
	Greedy           MatchingStrategy = "Greedy"
	GreedyChunks     MatchingStrategy = "GreedyChunks"
	Exhaustive       MatchingStrategy = "Exhaustive"
	Pairwise         MatchingStrategy = "Pairwise"
	NoSymmetrization MatchingStrategy = "NoSymmetrization"
)

// IsValid reports whether s is a known strategy.
func (s MatchingStrategy) IsValid() bool {
	switch s {
	case Greedy, GreedyChunks, Exhaustive, Pairwise, NoSymmetrization:
		return true
	}
	return false
}

// ParseMatchingStrategy resolves a strategy name case-insensitively.
func ParseMatchingStrategy(s string) (MatchingStrategy, error) {
	for _, m := range []MatchingStrategy{Greedy, GreedyChunks, Exhaustive, Pairwise, NoSymmetrization} {
		if strings.EqualFold(string(m), strings.TrimSpace(s)) {
			return m, nil
		}
	}
	return "", errors.Newf(errors.ErrCodeInvalidOption, "unknown matching strategy %q", s)
}

// ScoreMethod selects the global score. Lower scores are better for every
// method.
type ScoreMethod string

const (
	// FingerprintVariance sums, per label, the bitwise dispersion of the
	// Morgan fingerprints of the fragments at that label.
	FingerprintVariance ScoreMethod = "FingerprintVariance"

	// MatchScore counts, per label, distinct fragment identities minus one.
	MatchScore ScoreMethod = "Match"
)

// IsValid reports whether m is a known score method.
func (m ScoreMethod) IsValid() bool {
	return m == FingerprintVariance || m == MatchScore
}

// ParseScoreMethod resolves a score method name case-insensitively.
func ParseScoreMethod(s string) (ScoreMethod, error) {
	for _, m := range []ScoreMethod{FingerprintVariance, MatchScore} {
		if strings.EqualFold(string(m), strings.TrimSpace(s)) {
			return m, nil
		}
	}
	return "", errors.Newf(errors.ErrCodeInvalidOption, "unknown score method %q", s)
}

// Defaults for the search budgets.
const (
	DefaultChunkSize                = 5
	DefaultMaxMatchesPerCore        = 1000
	DefaultMaxCandidatesPerMolecule = 256
	DefaultMaxTautomers             = 50
)

// Options is the explicit configuration record of a decomposition run.
type Options struct {
	MatchingStrategy MatchingStrategy `mapstructure:"matching_strategy" yaml:"matching_strategy" json:"matching_strategy"`
	ScoreMethod      ScoreMethod      `mapstructure:"score_method" yaml:"score_method" json:"score_method"`

	// OnlyMatchAtRGroups rejects matches whose substituents leave the core
	// anywhere but at attachment points.
	OnlyMatchAtRGroups bool `mapstructure:"only_match_at_rgroups" yaml:"only_match_at_rgroups" json:"only_match_at_rgroups"`

	// RemoveHydrogensPostMatch folds explicit hydrogens on matched atoms into
	// hydrogen caps.
	RemoveHydrogensPostMatch bool `mapstructure:"remove_hydrogens_post_match" yaml:"remove_hydrogens_post_match" json:"remove_hydrogens_post_match"`

	// RemoveAllHydrogenRGroups drops labels that hold only hydrogen in every
	// row.
	RemoveAllHydrogenRGroups bool `mapstructure:"remove_all_hydrogen_rgroups" yaml:"remove_all_hydrogen_rgroups" json:"remove_all_hydrogen_rgroups"`

	// AllowMultipleRGroupsOnUnlabelled lets one unlabeled point absorb
	// several substituents, each under its own label.
	AllowMultipleRGroupsOnUnlabelled bool `mapstructure:"allow_multiple_rgroups_on_unlabelled" yaml:"allow_multiple_rgroups_on_unlabelled" json:"allow_multiple_rgroups_on_unlabelled"`

	// DoTautomers matches tautomeric variants of each molecule as well.
	DoTautomers bool `mapstructure:"do_tautomers" yaml:"do_tautomers" json:"do_tautomers"`

	ChunkSize                int           `mapstructure:"chunk_size" yaml:"chunk_size" json:"chunk_size"`
	MaxMatchesPerCore        int           `mapstructure:"max_matches_per_core" yaml:"max_matches_per_core" json:"max_matches_per_core"`
	MaxCandidatesPerMolecule int           `mapstructure:"max_candidates_per_molecule" yaml:"max_candidates_per_molecule" json:"max_candidates_per_molecule"`
	MaxTautomers             int           `mapstructure:"max_tautomers" yaml:"max_tautomers" json:"max_tautomers"`
	Timeout                  time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`

	// Concurrency bounds the workers scoring chunk combinations. Zero means
	// one per CPU.
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency" json:"concurrency"`
}

// DefaultOptions returns GreedyChunks with FingerprintVariance and the
// default budgets; all boolean switches are off.
func DefaultOptions() Options {
	return Options{
		MatchingStrategy:         GreedyChunks,
		ScoreMethod:              FingerprintVariance,
		ChunkSize:                DefaultChunkSize,
		MaxMatchesPerCore:        DefaultMaxMatchesPerCore,
		MaxCandidatesPerMolecule: DefaultMaxCandidatesPerMolecule,
		MaxTautomers:             DefaultMaxTautomers,
	}
}

// Validate checks enumerations and numeric ranges.
func (o Options) Validate() error {
	if !o.MatchingStrategy.IsValid() {
		return errors.Newf(errors.ErrCodeInvalidOption, "unknown matching strategy %q", o.MatchingStrategy)
	}
	if !o.ScoreMethod.IsValid() {
		return errors.Newf(errors.ErrCodeInvalidOption, "unknown score method %q", o.ScoreMethod)
	}
	if o.ChunkSize < 1 {
		return errors.New(errors.ErrCodeInvalidOption, "chunkSize must be at least 1")
	}
	if o.MaxMatchesPerCore < 1 || o.MaxCandidatesPerMolecule < 1 || o.MaxTautomers < 1 {
		return errors.New(errors.ErrCodeInvalidOption, "search budgets must be positive")
	}
	if o.Timeout < 0 || o.Concurrency < 0 {
		return errors.New(errors.ErrCodeInvalidOption, "timeout and concurrency must not be negative")
	}
	return nil
}

// normalizeKey folds camelCase and snake_case option names together.
func normalizeKey(k string) string {
	return strings.ToLower(strings.ReplaceAll(strings.ReplaceAll(k, "_", ""), "-", ""))
}

// Apply sets the options named in values. Keys may be camelCase or
// snake_case; unknown keys and ill-typed values are rejected and leave o
// unchanged.
func (o *Options) Apply(values map[string]any) error {
	next := *o
	for k, v := range values {
		if err := next.set(normalizeKey(k), v); err != nil {
			return errors.Wrapf(err, errors.ErrCodeInvalidOption, "option %q", k)
		}
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*o = next
	return nil
}

func (o *Options) set(key string, v any) error {
	var err error
	switch key {
	case "matchingstrategy":
		var s string
		if s, err = asString(v); err == nil {
			o.MatchingStrategy, err = ParseMatchingStrategy(s)
		}
	case "scoremethod":
		var s string
		if s, err = asString(v); err == nil {
			o.ScoreMethod, err = ParseScoreMethod(s)
		}
	case "onlymatchatrgroups":
		o.OnlyMatchAtRGroups, err = asBool(v)
	case "removehydrogenspostmatch":
		o.RemoveHydrogensPostMatch, err = asBool(v)
	case "removeallhydrogenrgroups":
		o.RemoveAllHydrogenRGroups, err = asBool(v)
	case "allowmultiplergroupsonunlabelled", "allowmultiplergroupsonunlabeled":
		o.AllowMultipleRGroupsOnUnlabelled, err = asBool(v)
	case "dotautomers":
		o.DoTautomers, err = asBool(v)
	case "chunksize":
		o.ChunkSize, err = asInt(v)
	case "maxmatchespercore":
		o.MaxMatchesPerCore, err = asInt(v)
	case "maxcandidatespermolecule":
		o.MaxCandidatesPerMolecule, err = asInt(v)
	case "maxtautomers":
		o.MaxTautomers, err = asInt(v)
	case "timeout":
		o.Timeout, err = asDuration(v)
	case "concurrency":
		o.Concurrency, err = asInt(v)
	default:
		return errors.New(errors.ErrCodeInvalidOption, "unknown option")
	}
	return err
}

func asString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case MatchingStrategy:
		return string(x), nil
	case ScoreMethod:
		return string(x), nil
	case fmt.Stringer:
		return x.String(), nil
	}
	return "", errors.Newf(errors.ErrCodeInvalidOption, "want string, got %T", v)
}

func asBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return false, errors.Newf(errors.ErrCodeInvalidOption, "want bool, got %q", x)
		}
		return b, nil
	}
	return false, errors.Newf(errors.ErrCodeInvalidOption, "want bool, got %T", v)
}

func asInt(v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int32:
		return int(x), nil
	case int64:
		return int(x), nil
	case uint:
		return int(x), nil
	case float64:
		if x != float64(int(x)) {
			return 0, errors.Newf(errors.ErrCodeInvalidOption, "want integer, got %v", x)
		}
		return int(x), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, errors.Newf(errors.ErrCodeInvalidOption, "want integer, got %q", x)
		}
		return n, nil
	}
	return 0, errors.Newf(errors.ErrCodeInvalidOption, "want integer, got %T", v)
}

// asDuration accepts a time.Duration, a Go duration string or a number of
// seconds.
func asDuration(v any) (time.Duration, error) {
	switch x := v.(type) {
	case time.Duration:
		return x, nil
	case string:
		d, err := time.ParseDuration(strings.TrimSpace(x))
		if err != nil {
			return 0, errors.Newf(errors.ErrCodeInvalidOption, "want duration, got %q", x)
		}
		return d, nil
	case int:
		return time.Duration(x) * time.Second, nil
	case int64:
		return time.Duration(x) * time.Second, nil
	case float64:
		return time.Duration(x * float64(time.Second)), nil
	}
	return 0, errors.Newf(errors.ErrCodeInvalidOption, "want duration, got %T", v)
}

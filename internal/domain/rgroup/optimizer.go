package rgroup

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/KeyIP-RGD/internal/infrastructure/monitoring/logging"
)

// maxChunkCombinations caps the combinations scored for a single chunk. A
// chunk whose product of candidate counts would exceed it is cut short and
// the remaining molecules move to the next chunk.
const maxChunkCombinations = 1 << 22

// parallelThreshold is the smallest chunk scored by more than one worker.
const parallelThreshold = 256

// entry is a registered molecule with its candidate assignments.
type entry struct {
	index      int
	name       string
	candidates []*Candidate
}

// searchState is an immutable snapshot of the decisions made so far; with
// returns an extended copy.
type searchState struct {
	chosen []int
}

func newSearchState(n int) searchState {
	chosen := make([]int, n)
	for i := range chosen {
		chosen[i] = -1
	}
	return searchState{chosen: chosen}
}

func (s searchState) with(decisions map[int]int) searchState {
	next := searchState{chosen: append([]int(nil), s.chosen...)}
	for mol, cand := range decisions {
		next.chosen[mol] = cand
	}
	return next
}

// choice returns the candidate chosen for molecule i, if decided.
func (s searchState) choice(i int) (int, bool) {
	c := s.chosen[i]
	return c, c >= 0
}

// outcome is the result of one optimization pass.
type outcome struct {
	state    searchState
	score    float64
	timedOut bool
	chunks   int
	scored   int64
}

// optimizer picks one candidate per molecule.
type optimizer struct {
	opts     Options
	logger   logging.Logger
	observer Observer
}

func (o optimizer) workers() int {
	if o.opts.Concurrency > 0 {
		return o.opts.Concurrency
	}
	return runtime.GOMAXPROCS(0)
}

// run searches under the configured strategy. Expiry of the timeout or of
// ctx is not an error: the pass completes greedily from the best decisions
// found so far.
func (o optimizer) run(ctx context.Context, mols []*entry) outcome {
	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}

	sc := newScorer(o.opts.ScoreMethod)
	out := outcome{state: newSearchState(len(mols))}

	var pending []int
	for i, m := range mols {
		if len(m.candidates) > 0 {
			pending = append(pending, i)
		}
	}

	switch o.opts.MatchingStrategy {
	case NoSymmetrization:
		first := make(map[int]int, len(pending))
		for _, i := range pending {
			first[i] = 0
			sc.add(mols[i].candidates[0])
		}
		out.state = out.state.with(first)
	case Greedy:
		o.chunked(ctx, mols, pending, 1, sc, &out)
	case Exhaustive:
		o.chunked(ctx, mols, pending, len(pending), sc, &out)
	case Pairwise:
		o.chunked(ctx, mols, pending, 1, sc, &out)
		o.pairwise(ctx, mols, pending, sc, &out)
	default:
		o.chunked(ctx, mols, pending, o.opts.ChunkSize, sc, &out)
	}
	out.score = sc.score()
	return out
}

// chunked decides pending molecules chunk by chunk, each chunk by the best
// combination of its molecules' candidates given prior chunks. After expiry
// the chunk size drops to one.
func (o optimizer) chunked(ctx context.Context, mols []*entry, pending []int, size int, sc *scorer, out *outcome) {
	if size < 1 {
		size = 1
	}
	for len(pending) > 0 {
		if !out.timedOut && ctx.Err() != nil {
			out.timedOut = true
			o.logger.Warn("decomposition search budget exhausted, finishing greedily",
				logging.Int("remaining", len(pending)))
		}
		n := size
		if out.timedOut {
			n = 1
		}
		chunk := takeChunk(mols, pending, n)
		pending = pending[len(chunk):]

		evalCtx := ctx
		if out.timedOut {
			evalCtx = context.Background()
		}
		start := time.Now()
		picks, scored, expired := o.bestCombination(evalCtx, mols, chunk, sc)
		o.observer.ChunkScored(scored, time.Since(start))
		out.chunks++
		out.scored += scored
		if expired {
			out.timedOut = true
		}

		decisions := make(map[int]int, len(chunk))
		for j, mi := range chunk {
			decisions[mi] = picks[j]
			sc.add(mols[mi].candidates[picks[j]])
		}
		out.state = out.state.with(decisions)
	}
}

// takeChunk returns up to n leading molecules of pending whose combination
// count stays within maxChunkCombinations; at least one is taken.
func takeChunk(mols []*entry, pending []int, n int) []int {
	total := 1
	k := 0
	for k < len(pending) && k < n {
		c := len(mols[pending[k]].candidates)
		if k > 0 && total*c > maxChunkCombinations {
			break
		}
		total *= c
		k++
	}
	return pending[:k]
}

// best is a scored combination; lower score wins, then lower ordinal.
type best struct {
	score   float64
	ordinal int
	found   bool
}

func (b best) better(o best) bool {
	if !o.found {
		return b.found
	}
	if !b.found {
		return false
	}
	if b.score != o.score {
		return b.score < o.score
	}
	return b.ordinal < o.ordinal
}

// bestCombination scores every combination of the chunk's candidates in
// odometer order, last molecule varying fastest, split over workers that
// each score on their own clone of sc. expired reports that ctx ended the
// scan early; the best combination seen is still returned, or the first
// combination when none was scored.
func (o optimizer) bestCombination(ctx context.Context, mols []*entry, chunk []int, sc *scorer) ([]int, int64, bool) {
	radix := make([]int, len(chunk))
	total := 1
	for j, mi := range chunk {
		radix[j] = len(mols[mi].candidates)
		total *= radix[j]
	}

	workers := o.workers()
	if total < parallelThreshold || workers < 1 {
		workers = 1
	}
	if workers > total {
		workers = total
	}
	span := (total + workers - 1) / workers

	results := make([]best, workers)
	counts := make([]int64, workers)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		w := w
		lo, hi := w*span, min((w+1)*span, total)
		local := sc.clone()
		g.Go(func() error {
			idx := decodeOrdinal(lo, radix)
			cands := make([]*Candidate, len(chunk))
			for ord := lo; ord < hi; ord++ {
				if (ord-lo)&0xff == 0 && gctx.Err() != nil {
					return gctx.Err()
				}
				for j, mi := range chunk {
					cands[j] = mols[mi].candidates[idx[j]]
				}
				cur := best{score: local.scoreWith(cands...), ordinal: ord, found: true}
				counts[w]++
				if cur.better(results[w]) {
					results[w] = cur
				}
				advance(idx, radix)
			}
			return nil
		})
	}
	expired := g.Wait() != nil

	var winner best
	var scored int64
	for w := range results {
		scored += counts[w]
		if results[w].better(winner) {
			winner = results[w]
		}
	}
	return decodeOrdinal(winner.ordinal, radix), scored, expired
}

// decodeOrdinal converts an odometer ordinal into per-position indices.
func decodeOrdinal(ord int, radix []int) []int {
	idx := make([]int, len(radix))
	for j := len(radix) - 1; j >= 0; j-- {
		idx[j] = ord % radix[j]
		ord /= radix[j]
	}
	return idx
}

func advance(idx, radix []int) {
	for j := len(idx) - 1; j >= 0; j-- {
		idx[j]++
		if idx[j] < radix[j] {
			return
		}
		idx[j] = 0
	}
}

// pairwise improves a complete state by re-deciding pairs of molecules
// jointly until no pair lowers the score or the budget ends.
func (o optimizer) pairwise(ctx context.Context, mols []*entry, pending []int, sc *scorer, out *outcome) {
	improved := true
	for improved && !out.timedOut {
		improved = false
		for a := 0; a < len(pending); a++ {
			for b := a + 1; b < len(pending); b++ {
				if ctx.Err() != nil {
					out.timedOut = true
					return
				}
				i, j := pending[a], pending[b]
				ci, _ := out.state.choice(i)
				cj, _ := out.state.choice(j)
				current := sc.score()
				sc.remove(mols[i].candidates[ci])
				sc.remove(mols[j].candidates[cj])

				picks, scored, _ := o.bestCombination(context.Background(), mols, []int{i, j}, sc)
				out.scored += scored
				ni, nj := picks[0], picks[1]
				sc.add(mols[i].candidates[ni])
				sc.add(mols[j].candidates[nj])
				if (ni != ci || nj != cj) && sc.score() < current {
					out.state = out.state.with(map[int]int{i: ni, j: nj})
					improved = true
					continue
				}
				sc.remove(mols[i].candidates[ni])
				sc.remove(mols[j].candidates[nj])
				sc.add(mols[i].candidates[ci])
				sc.add(mols[j].candidates[cj])
			}
		}
	}
}

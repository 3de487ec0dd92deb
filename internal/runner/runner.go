// Package runner replays generated targets against the engine under named
// profiles and records the best evaluation each session reached.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"usitune/internal/profile"
	"usitune/internal/target"
	"usitune/internal/usi"
)

// Options configures one runner pass. Common engine options are applied
// before the profile's own options on every session.
type Options struct {
	Engine     string
	Threads    int
	HashMB     int
	MultiPV    int
	MinThinkMs int
	ByoyomiMs  int
	OutDir     string // when set, raw session lines go to <tag>__<profile>.log
	Parallel   int    // max concurrent sessions; <=1 means strictly sequential
}

// Runner drives engine sessions. Every Run spawns a fresh process; no state
// is shared between invocations.
type Runner struct {
	opts Options
	log  *zap.Logger
}

// New returns a Runner.
func New(opts Options, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Threads <= 0 {
		opts.Threads = 1
	}
	if opts.ByoyomiMs <= 0 {
		opts.ByoyomiMs = 10000
	}
	return &Runner{opts: opts, log: log}
}

// Run evaluates one (target, profile) pair through a full session. A
// protocol timeout is not an error: the result carries a null score and the
// caller proceeds. Only a broken session setup (missing binary, dead pipe)
// is returned as an error.
func (r *Runner) Run(ctx context.Context, tgt target.Target, prof profile.Profile) (EvalResult, error) {
	res := EvalResult{Tag: tgt.Tag, Profile: prof.Name}

	sess, err := usi.Open(r.opts.Engine, prof.Env, r.log)
	if err != nil {
		return res, err
	}
	defer sess.Close()

	if err := sess.Handshake(); err != nil {
		return res, fmt.Errorf("session %s/%s: %w", tgt.Tag, prof.Name, err)
	}
	for _, opt := range r.commonOptions() {
		if err := sess.Send(opt.Command()); err != nil {
			return res, err
		}
	}
	for _, opt := range prof.Options {
		if err := sess.Send(opt.Command()); err != nil {
			return res, err
		}
	}
	if err := sess.Ready(); err != nil {
		return res, fmt.Errorf("session %s/%s: %w", tgt.Tag, prof.Name, err)
	}
	if err := sess.NewGame(); err != nil {
		return res, err
	}
	if err := sess.SetPosition(tgt.PrePosition); err != nil {
		return res, err
	}

	start := time.Now()
	move, lines := sess.Go(r.opts.ByoyomiMs)
	res.ElapsedMs = time.Since(start).Milliseconds()
	res.Bestmove = move

	if r.opts.OutDir != "" {
		r.persistSessionLog(tgt.Tag, prof.Name, lines)
	}

	if move == "" {
		// Decision timeout. Null score, surfaced in logs only.
		r.log.Warn("no decision from engine",
			zap.String("tag", tgt.Tag), zap.String("profile", prof.Name))
		return res, nil
	}

	if best, ok := bestInfo(lines); ok {
		cp := best.ScoreCP
		res.EvalCP = &cp
		res.Depth = best.Depth
		res.Seldepth = best.Seldepth
	}
	return res, nil
}

// bestInfo keeps the evaluation at the highest depth seen; a later report at
// the same depth replaces the earlier one.
func bestInfo(lines []string) (usi.Info, bool) {
	var best usi.Info
	found := false
	for _, line := range lines {
		inf, ok := usi.ParseInfo(line)
		if !ok {
			continue
		}
		if !found || inf.Depth >= best.Depth {
			best = inf
			found = true
		}
	}
	return best, found
}

// RunAll evaluates the full (target x profile) grid. Pairs are generated in
// order; with Parallel > 1 independent pairs run concurrently, which is safe
// because every session owns its own process and result slot.
func (r *Runner) RunAll(ctx context.Context, batch *target.Batch, profiles []profile.Profile) ([]EvalResult, error) {
	type job struct {
		idx  int
		tgt  target.Target
		prof profile.Profile
	}
	var jobs []job
	for _, prof := range profiles {
		for _, tgt := range batch.Targets {
			jobs = append(jobs, job{idx: len(jobs), tgt: tgt, prof: prof})
		}
	}

	results := make([]EvalResult, len(jobs))

	if r.opts.Parallel <= 1 {
		for _, j := range jobs {
			res, err := r.Run(ctx, j.tgt, j.prof)
			if err != nil {
				return nil, err
			}
			results[j.idx] = res
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Parallel)
	for _, j := range jobs {
		j := j
		g.Go(func() error {
			res, err := r.Run(gctx, j.tgt, j.prof)
			if err != nil {
				return err
			}
			results[j.idx] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Runner) commonOptions() []profile.Option {
	opts := []profile.Option{
		profile.Scalar("Threads", strconv.Itoa(r.opts.Threads)),
	}
	if r.opts.HashMB > 0 {
		opts = append(opts, profile.Scalar("USI_Hash", strconv.Itoa(r.opts.HashMB)))
	}
	if r.opts.MultiPV > 0 {
		opts = append(opts, profile.Scalar("MultiPV", strconv.Itoa(r.opts.MultiPV)))
	}
	if r.opts.MinThinkMs > 0 {
		opts = append(opts, profile.Scalar("MinimumThinkingTime", strconv.Itoa(r.opts.MinThinkMs)))
	}
	return opts
}

func (r *Runner) persistSessionLog(tag, prof string, lines []string) {
	if err := os.MkdirAll(r.opts.OutDir, 0o755); err != nil {
		r.log.Warn("failed to create session log dir", zap.Error(err))
		return
	}
	path := filepath.Join(r.opts.OutDir, fmt.Sprintf("%s__%s.log", tag, prof))
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		r.log.Warn("failed to write session log", zap.String("path", path), zap.Error(err))
	}
}

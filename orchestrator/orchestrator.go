// Package orchestrator drives reconciliation across every configured
// account, region and resource kind.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/lassie/internal/awsclient"
	"github.com/yairfalse/lassie/internal/config"
	"github.com/yairfalse/lassie/internal/kinds"
	"github.com/yairfalse/lassie/internal/logsource"
	"github.com/yairfalse/lassie/internal/telemetry"
	"github.com/yairfalse/lassie/pkg/trail"
	"github.com/yairfalse/lassie/reconciler"
)

// ErrCancelled marks triples that were not started because the run was
// stopped.
var ErrCancelled = errors.New("run cancelled before triple started")

// Driver runs the reconciler for every (account, region, kind) triple.
type Driver struct {
	env        Environment
	opts       Options
	reconciler *reconciler.Reconciler
	metrics    *telemetry.Metrics
	logger     *telemetry.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// New creates a driver. metrics may be nil.
func New(env Environment, opts Options, metrics *telemetry.Metrics) *Driver {
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	return &Driver{
		env:        env,
		opts:       opts,
		reconciler: reconciler.New(trail.NewExtractor(), opts.Retry, metrics),
		metrics:    metrics,
		logger:     telemetry.NewLogger("orchestrator"),
		tracer:     telemetry.Tracer(),
		now:        time.Now,
	}
}

// slot is one planned triple.
type slot struct {
	index int
	def   kinds.Definition
	err   error
}

// pair is the unit of scheduling: one account and region with its triples.
type pair struct {
	account config.Account
	region  string
	slots   []slot
}

// Run reconciles every triple and returns the report. Triple failures are
// recorded in the report; the error is only set when the run could not
// start at all.
func (d *Driver) Run(ctx context.Context, accounts []config.Account) (*Report, error) {
	ctx, span := d.tracer.Start(ctx, "orchestrator.Run", trace.WithAttributes(
		attribute.Int("accounts", len(accounts)),
	))
	defer span.End()

	scratch, err := logsource.NewScratch(d.opts.ScratchDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := scratch.Cleanup(); err != nil {
			d.logger.Error().Err(err).Msg("failed to clean up scratch storage")
		}
	}()

	report := &Report{StartDate: d.opts.Start, StartedAt: d.now()}
	pairs := d.plan(accounts, report)

	d.logger.WithContext(ctx).Info().
		Int("accounts", len(accounts)).
		Int("triples", len(report.Triples)).
		Int("parallelism", d.opts.Parallelism).
		Time("start_date", d.opts.Start).
		Msg("starting reconciliation")

	limiters := awsclient.NewLimiters(d.opts.RateLimit.RequestsPerSecond, d.opts.RateLimit.Burst)
	ids := &accountIDs{ids: make(map[string]string)}

	var g errgroup.Group
	g.SetLimit(d.opts.Parallelism)
	for _, p := range pairs {
		g.Go(func() error {
			d.runPair(ctx, p, scratch, limiters, ids, report)
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = d.now()
	d.logger.WithContext(ctx).Info().
		Int("failed", report.FailedCount()).
		Dur("duration", report.FinishedAt.Sub(report.StartedAt)).
		Msg("reconciliation finished")

	return report, nil
}

// plan resolves kind names and lays out one report slot per triple in
// configuration order. Unknown kinds fail their slots up front.
func (d *Driver) plan(accounts []config.Account, report *Report) []pair {
	var pairs []pair
	for _, account := range accounts {
		defs := make([]kinds.Definition, len(account.Kinds))
		errs := make([]error, len(account.Kinds))
		for i, name := range account.Kinds {
			defs[i], errs[i] = kinds.Lookup(name)
		}

		for _, region := range account.Regions {
			p := pair{account: account, region: region}
			for i, name := range account.Kinds {
				result := reconciler.Result{
					Account: account.Label(),
					Region:  region,
					Kind:    name,
					DryRun:  account.DryRun || d.opts.DryRun,
				}
				if errs[i] == nil {
					result.Kind = defs[i].Name
				} else {
					result.Err = errs[i]
				}
				p.slots = append(p.slots, slot{index: len(report.Triples), def: defs[i], err: errs[i]})
				report.Triples = append(report.Triples, result)
			}
			pairs = append(pairs, p)
		}
	}
	return pairs
}

// runPair reconciles the kinds of one (account, region) pair. The log batch
// is released when the pair is done, whatever happened.
func (d *Driver) runPair(ctx context.Context, p pair, scratch *logsource.Scratch, limiters *awsclient.Limiters, ids *accountIDs, report *Report) {
	logger := d.logger.WithContext(ctx).With().
		Str("account", p.account.Label()).
		Str("region", p.region).
		Logger()

	if err := ctx.Err(); err != nil {
		d.failPair(ctx, p, report, ErrCancelled)
		return
	}

	cfg, err := d.env.Config(ctx, p.account, p.region, limiters.For(p.account.Label()))
	if err != nil {
		logger.Error().Err(err).Msg("failed to configure client")
		d.failPair(ctx, p, report, err)
		return
	}

	accountID, err := ids.resolve(ctx, p.account, func(ctx context.Context) (string, error) {
		var id string
		err := d.opts.Retry.Do(ctx, func(ctx context.Context) error {
			var err error
			id, err = d.env.AccountID(ctx, cfg)
			return err
		}, func(attempt int, err error, wait time.Duration) {
			logger.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("caller identity failed, retrying")
		})
		return id, err
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to resolve account id")
		d.failPair(ctx, p, report, err)
		return
	}
	scope := kinds.Scope{AccountID: accountID, Region: p.region}

	built := make(map[int]kinds.Kind, len(p.slots))
	var eventNames []string
	for _, s := range p.slots {
		if s.err != nil {
			continue
		}
		k := d.env.Kind(s.def, cfg, scope)
		built[s.index] = k
		eventNames = append(eventNames, k.Rule().EventName)
	}
	if len(built) == 0 {
		return
	}

	source, err := d.env.Source(cfg, p.account, scratch, d.opts.MaxDays, d.opts.Retry)
	if err != nil {
		d.failPair(ctx, p, report, err)
		return
	}
	batch, err := source.Acquire(ctx, logsource.Request{
		AccountID:  accountID,
		Region:     p.region,
		Start:      d.opts.Start,
		End:        d.now(),
		EventNames: eventNames,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to acquire audit logs")
		d.failPair(ctx, p, report, fmt.Errorf("acquire logs: %w", err))
		return
	}
	defer func() {
		if err := batch.Release(); err != nil {
			logger.Warn().Err(err).Msg("failed to release log batch")
		}
	}()

	logger.Info().Int("documents", len(batch.Documents)).Msg("reconciling region")

	task := reconciler.Task{
		Account:   p.account.Label(),
		AccountID: accountID,
		Region:    p.region,
		OwnerTag:  p.account.OwnerTag,
		DryRun:    p.account.DryRun || d.opts.DryRun,
	}
	for _, s := range p.slots {
		k, ok := built[s.index]
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			report.set(s.index, d.failed(ctx, report.get(s.index), ErrCancelled))
			continue
		}

		result := d.reconciler.Reconcile(ctx, task, batch.Documents, k)
		report.set(s.index, result)
	}
}

// failPair records err on every slot of the pair that has not failed yet.
func (d *Driver) failPair(ctx context.Context, p pair, report *Report, err error) {
	for _, s := range p.slots {
		if s.err != nil {
			continue
		}
		report.set(s.index, d.failed(ctx, report.get(s.index), err))
	}
}

func (d *Driver) failed(ctx context.Context, result reconciler.Result, err error) reconciler.Result {
	result.Err = err
	if d.metrics != nil {
		d.metrics.RecordTripleFailure(ctx, result.Kind)
	}
	return result
}

// accountIDs caches caller-identity lookups so each account is resolved
// once, however many regions it has.
type accountIDs struct {
	mu  sync.Mutex
	ids map[string]string
}

func (a *accountIDs) resolve(ctx context.Context, account config.Account, lookup func(context.Context) (string, error)) (string, error) {
	if account.AccountID != "" {
		return account.AccountID, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if id, ok := a.ids[account.Label()]; ok {
		return id, nil
	}
	id, err := lookup(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve account id: %w", err)
	}
	a.ids[account.Label()] = id
	return id, nil
}

// Package engine implements the claim → fire → complete acquisition protocol
// and misfire handling on top of a jobstore.Store. It is the Go analogue of
// the teacher's Executor: where Executor polls Storage for jobs a goroutine
// can take over, Engine polls a Store for triggers a scheduler instance can
// acquire, resolves each fired trigger's job through a ClassResolver, and
// dispatches execution across a bounded worker pool.
package engine

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/stiez/opensymphony-quartz-backup/internal/clock"
	"github.com/stiez/opensymphony-quartz-backup/jobstore"
)

type Engine struct {
	store    jobstore.Store
	resolver jobstore.ClassResolver
	config   Config
	clock    clock.Clock
	logger   zerolog.Logger
	metrics  *Metrics

	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

type Option func(*Engine)

func WithClock(c clock.Clock) Option       { return func(e *Engine) { e.clock = c } }
func WithLogger(l zerolog.Logger) Option   { return func(e *Engine) { e.logger = l } }
func WithMetrics(m *Metrics) Option        { return func(e *Engine) { e.metrics = m } }

// NewEngine wires a Store and ClassResolver into a running acquisition loop.
// config.InstanceId must be set; everything else falls back to Config's
// defaults, the same instantiation-time defaulting the teacher's NewExecutor
// applies to ExecutorConfig.
func NewEngine(store jobstore.Store, resolver jobstore.ClassResolver, config Config, opts ...Option) (*Engine, error) {
	if config.InstanceId == "" {
		return nil, errors.New("engine: config.InstanceId must not be empty")
	}
	config = config.withDefaults()

	e := &Engine{
		store:    store,
		resolver: resolver,
		config:   config,
		clock:    clock.Real{},
		logger:   zerolog.Nop(),
		sem:      semaphore.NewWeighted(int64(config.MaxConcurrentAcquisitions)),
		limiter:  rate.NewLimiter(rate.Every(config.AcquireRateLimit), 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run polls AcquireAndFire at the configured rate until ctx is canceled,
// logging (never propagating) per-tick errors — the same never-fail-the-loop
// policy the teacher's Executor.sweepJobs follows.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if err := e.limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}
		if _, err := e.AcquireAndFire(ctx); err != nil {
			e.logger.Error().Err(err).Msg("engine: acquire-and-fire tick failed")
			if e.metrics != nil {
				e.metrics.acquireErrors.Inc()
			}
		}
	}
}

// AcquireAndFire runs one claim → fire → dispatch cycle and returns the
// trigger keys it successfully handed off for execution.
func (e *Engine) AcquireAndFire(ctx context.Context) ([]jobstore.Key, error) {
	now := e.clock.Now()
	claimed, err := e.store.AcquireNextTriggers(ctx, e.config.InstanceId, now, e.config.AcquisitionTimeWindow, e.config.AcquireBatchSize)
	if err != nil {
		return nil, errors.Wrap(err, "engine: acquire next triggers")
	}
	if len(claimed) == 0 {
		return nil, nil
	}
	if e.metrics != nil {
		e.metrics.triggersAcquired.Add(float64(len(claimed)))
	}

	for _, t := range claimed {
		if err := Triggered(t, now); err != nil {
			return nil, errors.Wrapf(err, "engine: advance trigger %s", t.Key)
		}
	}

	results, err := e.store.TriggersFired(ctx, e.config.InstanceId, claimed)
	if err != nil {
		return nil, errors.Wrap(err, "engine: triggers fired")
	}
	if e.metrics != nil {
		e.metrics.triggersFired.Add(float64(len(results)))
	}

	group, gctx := errgroup.WithContext(ctx)
	var dispatched []jobstore.Key
	for _, res := range results {
		res := res
		if res.Err != nil {
			e.logger.Warn().Err(res.Err).Str("trigger", res.Trigger.Key.String()).Msg("engine: trigger lost the fire race")
			continue
		}
		dispatched = append(dispatched, res.Trigger.Key)
		group.Go(func() error {
			if err := e.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer e.sem.Release(1)
			e.dispatch(gctx, res)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return dispatched, errors.Wrap(err, "engine: dispatch fired triggers")
	}
	return dispatched, nil
}

// dispatch resolves and runs one fired trigger's job, then reports the
// outcome back through TriggeredJobComplete. A JobFactory resolution failure
// or a Runnable.Execute error both resolve to InstructionSetTriggerError, the
// same "mark the trigger ERROR, don't fail the whole batch" policy the
// teacher's worker pool applies when a job panics or returns an error.
func (e *Engine) dispatch(ctx context.Context, res *jobstore.FireResult) {
	triggerKey := res.Trigger.Key
	jobKey := res.Trigger.JobKey

	if res.JobDetail == nil {
		e.completeOrLog(ctx, triggerKey, jobKey, jobstore.InstructionSetTriggerError, nil)
		return
	}

	factory, err := e.resolver.Resolve(res.JobDetail.JobClass)
	if err != nil {
		e.logger.Error().Err(err).Str("job_class", res.JobDetail.JobClass).Msg("engine: resolve job class")
		e.completeOrLog(ctx, triggerKey, jobKey, jobstore.InstructionSetTriggerError, nil)
		return
	}
	runnable, err := factory.NewJob(ctx)
	if err != nil {
		e.logger.Error().Err(err).Str("job_class", res.JobDetail.JobClass).Msg("engine: construct job instance")
		e.completeOrLog(ctx, triggerKey, jobKey, jobstore.InstructionSetTriggerError, nil)
		return
	}

	dataMap := res.Trigger.JobDataMap
	if dataMap == nil {
		dataMap = res.JobDetail.JobDataMap
	}

	instruction := jobstore.InstructionNoop
	if err := runnable.Execute(ctx, dataMap); err != nil {
		e.logger.Error().Err(err).Str("trigger", triggerKey.String()).Msg("engine: job execution failed")
		instruction = jobstore.InstructionSetTriggerError
	}
	e.completeOrLog(ctx, triggerKey, jobKey, instruction, nil)
}

func (e *Engine) completeOrLog(ctx context.Context, triggerKey, jobKey jobstore.Key, instruction jobstore.CompletionInstruction, dataMap map[string]any) {
	if err := e.store.TriggeredJobComplete(ctx, triggerKey, jobKey, instruction, dataMap); err != nil {
		e.logger.Error().Err(err).Str("trigger", triggerKey.String()).Msg("engine: triggered job complete")
	}
}

package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"pagepress/internal/entitlement"
	"pagepress/internal/export"
	"pagepress/internal/layout"
)

// Status 单个批量任务的生命周期状态。
// Terminal states (Success/Failed) never change afterwards.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusRetrying Status = "retrying"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
)

// JobResult 每个输入项恰好对应一条结果，顺序与输入一致。
type JobResult struct {
	Index       int
	Spec        InputSpec
	Status      Status
	Attempts    int
	Artifact    []byte
	ArtifactKey string
	Reason      string
}

// Progress 每个任务落定后上报一次。
type Progress struct {
	Completed    int
	Total        int
	CurrentIndex int
}

// Options 控制一次批量运行。
type Options struct {
	MaxAttempts      int
	BaseDelay        time.Duration
	ConcurrencyLimit int
	Format           export.Format
	Geometry         layout.Geometry
	Tier             entitlement.Tier
	OnProgress       func(Progress)
}

func (o *Options) normalize() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.ConcurrencyLimit <= 0 {
		o.ConcurrencyLimit = 1
	}
	if !o.Format.Valid() {
		o.Format = export.FormatPDF
	}
	if o.Geometry.PageW <= 0 {
		o.Geometry = layout.A4
	}
	if o.Tier == "" {
		o.Tier = entitlement.TierFree
	}
}

// Orchestrator 驱动一组相互独立的生成任务。
type Orchestrator struct {
	gen    Generator
	store  Store
	quota  entitlement.Source
	logger *slog.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator 构造批量编排器。
func NewOrchestrator(gen Generator, store Store, quota entitlement.Source, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		gen:    gen,
		store:  store,
		quota:  quota,
		logger: logger,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run 执行整批任务并返回与输入同序的结果。
// The batch as a whole can only fail before it starts (insufficient
// quota or empty input); once running, individual failures are
// recorded per job and never abort their siblings. Cancellation stops
// launching new jobs; jobs already in flight finish and report their
// terminal result, never-started jobs settle as Failed("canceled").
func (o *Orchestrator) Run(ctx context.Context, userID uint, specs []InputSpec, opts Options) ([]JobResult, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("batch: no input specs")
	}
	opts.normalize()

	remaining, err := o.quota.Remaining(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("batch: check quota: %w", err)
	}
	if remaining < len(specs) {
		return nil, insufficientQuota(len(specs), remaining)
	}

	results := make([]JobResult, len(specs))
	for i, spec := range specs {
		results[i] = JobResult{Index: i, Spec: spec, Status: StatusPending}
	}

	var (
		completed      atomic.Int64
		quotaExhausted atomic.Bool
		progressMu     sync.Mutex
	)
	settle := func(i int, r JobResult) {
		results[i] = r
		done := int(completed.Add(1))
		if opts.OnProgress != nil {
			progressMu.Lock()
			opts.OnProgress(Progress{Completed: done, Total: len(specs), CurrentIndex: i})
			progressMu.Unlock()
		}
	}

	runOne := func(i int) {
		spec := specs[i]
		log := o.logger.With(slog.Int("job_index", i), slog.String("job_name", spec.Name))

		switch {
		case ctx.Err() != nil:
			settle(i, JobResult{Index: i, Spec: spec, Status: StatusFailed, Reason: "canceled"})
			return
		case quotaExhausted.Load():
			// 批内配额已耗尽，不再浪费生成调用。
			settle(i, JobResult{Index: i, Spec: spec, Status: StatusFailed, Reason: ReasonQuotaExhausted})
			return
		}

		r := o.runJob(ctx, i, spec, opts, log)
		if r.Status == StatusFailed && r.Reason == ReasonQuotaExhausted {
			quotaExhausted.Store(true)
		}
		settle(i, r)
	}

	if opts.ConcurrencyLimit == 1 {
		for i := range specs {
			runOne(i)
		}
		return results, nil
	}

	sem := semaphore.NewWeighted(int64(opts.ConcurrencyLimit))
	var wg sync.WaitGroup
	for i := range specs {
		// Acquire outside the goroutine so job launch order follows
		// input order; a canceled context settles the job directly.
		if err := sem.Acquire(ctx, 1); err != nil {
			settle(i, JobResult{Index: i, Spec: specs[i], Status: StatusFailed, Reason: "canceled"})
			continue
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			runOne(i)
		}(i)
	}
	wg.Wait()
	return results, nil
}

// runJob 以有界重试执行一个任务单元：生成内容 → 导出 → 落盘。
func (o *Orchestrator) runJob(ctx context.Context, index int, spec InputSpec, opts Options, log *slog.Logger) JobResult {
	r := JobResult{Index: index, Spec: spec, Status: StatusRunning}

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		r.Attempts = attempt

		err := o.attempt(ctx, index, spec, opts, &r)
		if err == nil {
			r.Status = StatusSuccess
			r.Reason = ""
			return r
		}

		if !IsTransient(err) {
			log.Warn("batch job failed", slog.Int("attempt", attempt), slog.Any("error", err))
			r.Status = StatusFailed
			r.Reason = failureReason(err)
			return r
		}
		r.Reason = err.Error()
		if attempt == opts.MaxAttempts {
			break
		}

		delay := opts.BaseDelay << (attempt - 1)
		log.Info("batch job retrying",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)
		r.Status = StatusRetrying
		if err := o.sleep(ctx, delay); err != nil {
			r.Status = StatusFailed
			r.Reason = "canceled"
			return r
		}
		r.Status = StatusRunning
	}

	log.Warn("batch job exhausted retries", slog.Int("attempts", r.Attempts))
	r.Status = StatusFailed
	return r
}

func (o *Orchestrator) attempt(ctx context.Context, index int, spec InputSpec, opts Options, r *JobResult) error {
	m, err := o.gen.Generate(ctx, spec)
	if err != nil {
		return err
	}

	data, err := export.Export(m, opts.Format, opts.Geometry, opts.Tier)
	if err != nil {
		// 布局/序列化错误对该任务是终态，不重试。
		return err
	}

	name := artifactName(index, spec, opts.Format)
	key, err := o.store.Save(ctx, name, data, opts.Format.ContentType())
	if err != nil {
		return Transient(fmt.Errorf("save artifact %q: %w", name, err))
	}

	r.Artifact = data
	r.ArtifactKey = key
	return nil
}

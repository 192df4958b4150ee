package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"realty_pipeline/config"
	"realty_pipeline/models"
)

// Upserter reconciles one partition's deduplicated batch against the
// store and reports its counts.
type Upserter interface {
	ProcessBatch(ctx context.Context, batch map[string]*models.Listing) models.Counts
}

// RunRecorder persists pipeline run records in the canonical store.
type RunRecorder interface {
	CreatePipelineRun(ctx context.Context, run *models.PipelineRun) error
	UpdatePipelineRun(ctx context.Context, run *models.PipelineRun) error
}

// OpsRecorder mirrors runs and log lines into the operational DB.
type OpsRecorder interface {
	CreateRun(run *models.PipelineRun, pgRunID *int64) (int64, error)
	UpdateRun(localID int64, run *models.PipelineRun) error
	Log(runID *int64, level models.LogLevel, message, scope string) error
}

// Transformer recomputes the derived analytics after ingest.
type Transformer interface {
	RunTransforms(ctx context.Context) error
}

// Orchestrator drives paginated fetches across a market's postal
// codes with a bounded worker pool, pushes each partition's batch
// through normalize, dedup and upsert, and assembles the run report.
type Orchestrator struct {
	cfg        *config.Config
	fetcher    Fetcher
	listings   Upserter
	precedence Precedence

	runs      RunRecorder
	ops       OpsRecorder
	analytics Transformer

	mu     sync.Mutex
	rng    *rand.Rand
	paused bool

	// sleep is the backoff suspension point, replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(cfg *config.Config, fetcher Fetcher, listings Upserter) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		fetcher:    fetcher,
		listings:   listings,
		precedence: ParsePrecedence(cfg.DedupPrecedence),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:      sleepCtx,
	}
}

// SetRecorders injects the run ledger and the ops mirror. Either may
// be nil; the pipeline itself does not depend on them.
func (o *Orchestrator) SetRecorders(runs RunRecorder, ops OpsRecorder) {
	o.runs = runs
	o.ops = ops
}

func (o *Orchestrator) SetAnalytics(t Transformer) {
	o.analytics = t
}

// SetRand replaces the jitter source, making backoff deterministic.
func (o *Orchestrator) SetRand(rng *rand.Rand) {
	o.mu.Lock()
	o.rng = rng
	o.mu.Unlock()
}

// RunAll ingests every configured market, then recomputes analytics
// when configured to. Per-market failures do not stop later markets.
func (o *Orchestrator) RunAll(ctx context.Context) error {
	if o.IsPaused() {
		log.Println("Pipeline is paused, skipping run")
		return nil
	}

	var firstErr error
	for id := range o.cfg.Markets {
		if _, err := o.RunMarket(ctx, id); err != nil {
			log.Printf("Market %s: run error: %v", id, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if o.analytics != nil && o.cfg.Scheduler.TransformAfterScrape {
		if err := o.analytics.RunTransforms(ctx); err != nil {
			log.Printf("Transform error: %v", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// RunMarket runs one ingest over a market's postal codes and returns
// the per-partition report. A non-nil error means the run was aborted
// by a fatal fetch failure; partial partition failures are reported
// in the RunReport only.
func (o *Orchestrator) RunMarket(ctx context.Context, marketID string) (*models.RunReport, error) {
	market, ok := o.cfg.Markets[marketID]
	if !ok {
		return nil, fmt.Errorf("unknown market: %s", marketID)
	}

	run := &models.PipelineRun{
		Source:    models.SourceRealtyInUS,
		StartedAt: time.Now(),
		Status:    models.RunStatusRunning,
	}
	var pgRunID *int64
	if o.runs != nil {
		if err := o.runs.CreatePipelineRun(ctx, run); err != nil {
			log.Printf("Warning: failed to create run record: %v", err)
		} else {
			pgRunID = &run.ID
		}
	}
	var opsRunID int64
	if o.ops != nil {
		if id, err := o.ops.CreateRun(run, pgRunID); err != nil {
			log.Printf("Warning: failed to mirror run record: %v", err)
		} else {
			opsRunID = id
		}
	}

	o.log(pgRunID, models.LogLevelInfo,
		fmt.Sprintf("Starting ingest for %s (%d postal codes)", market.Name, len(market.PostalCodes)), marketID)

	report, fatalErr := o.runPartitions(ctx, market)

	status := report.Status()
	if fatalErr != nil {
		status = models.RunStatusFailed
		run.ErrorMessage = fatalErr.Error()
	}

	now := time.Now()
	run.FinishedAt = &now
	run.Status = status
	run.Fetched = report.Totals.Fetched
	run.Inserted = report.Totals.Inserted
	run.Updated = report.Totals.Updated
	run.Unchanged = report.Totals.Unchanged
	run.RecordsFailed = report.Totals.Failed
	run.ZipsFailed = report.FailedPartitions()
	run.Metadata, _ = json.Marshal(report.Partitions)

	if o.runs != nil && pgRunID != nil {
		if err := o.runs.UpdatePipelineRun(context.WithoutCancel(ctx), run); err != nil {
			log.Printf("Warning: failed to update run record: %v", err)
		}
	}
	if o.ops != nil && opsRunID != 0 {
		if err := o.ops.UpdateRun(opsRunID, run); err != nil {
			log.Printf("Warning: failed to update run mirror: %v", err)
		}
	}

	o.log(pgRunID, models.LogLevelInfo,
		fmt.Sprintf("Run %s: fetched %d, inserted %d, updated %d, unchanged %d, failed %d (%d zips failed)",
			status, run.Fetched, run.Inserted, run.Updated, run.Unchanged, run.RecordsFailed, run.ZipsFailed),
		marketID)

	return report, fatalErr
}

// runPartitions fans out over postal codes with a bounded worker
// pool. A fatal fetch failure cancels outstanding partitions; a
// single partition exhausting its retries does not.
func (o *Orchestrator) runPartitions(ctx context.Context, market *config.MarketConfig) (*models.RunReport, error) {
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	maxInFlight := o.cfg.Fetch.MaxConcurrent
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	sem := make(chan struct{}, maxInFlight)

	report := &models.RunReport{}
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		fatalErr error
	)

	for _, zip := range market.PostalCodes {
		wg.Add(1)
		go func(zip string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			p := o.runPartition(runCtx, market, zip)

			mu.Lock()
			defer mu.Unlock()
			if p.Status == models.PartitionFailed {
				var apiErr *APIError
				if errors.As(p.err, &apiErr) && apiErr.Fatal() {
					if fatalErr == nil {
						fatalErr = fmt.Errorf("zip %s: %w", zip, p.err)
						cancelRun()
					}
				}
			}
			report.Append(p.PartitionReport)
		}(zip)
	}

	wg.Wait()
	return report, fatalErr
}

type partitionResult struct {
	models.PartitionReport
	err error
}

// runPartition is one postal code's fetch → normalize → dedup →
// upsert unit of work. The upsert phase runs detached from run
// cancellation so an in-flight write is never interrupted mid-row.
func (o *Orchestrator) runPartition(ctx context.Context, market *config.MarketConfig, zip string) partitionResult {
	p := partitionResult{PartitionReport: models.PartitionReport{
		PostalCode: zip,
		Status:     models.PartitionPending,
	}}

	if err := ctx.Err(); err != nil {
		p.Status = models.PartitionFailed
		p.Error = "run aborted before fetch"
		p.err = err
		return p
	}

	p.Status = models.PartitionFetching
	raw, pages, err := o.fetchPartition(ctx, market, zip)
	p.Pages = pages
	if err != nil {
		log.Printf("Zip %s: fetch failed: %v", zip, err)
		p.Status = models.PartitionFailed
		p.Error = err.Error()
		p.err = err
		return p
	}

	p.Counts.Fetched = len(raw)

	listings := make([]*models.Listing, 0, len(raw))
	for _, r := range raw {
		l, err := ParseListing(r)
		if err != nil {
			log.Printf("Zip %s: skipping record: %v", zip, err)
			p.Counts.Failed++
			continue
		}
		listings = append(listings, l)
	}

	batch := Dedupe(listings, o.precedence)

	counts := o.listings.ProcessBatch(context.WithoutCancel(ctx), batch)
	p.Counts.Inserted = counts.Inserted
	p.Counts.Updated = counts.Updated
	p.Counts.Unchanged = counts.Unchanged
	p.Counts.Failed += counts.Failed

	p.Status = models.PartitionSucceeded
	log.Printf("Zip %s: %d fetched over %d pages, %d inserted, %d updated, %d unchanged, %d failed",
		zip, p.Counts.Fetched, pages, counts.Inserted, counts.Updated, counts.Unchanged, p.Counts.Failed)
	return p
}

// fetchPartition pages through one postal code until the API signals
// exhaustion or the configured page cap is hit.
func (o *Orchestrator) fetchPartition(ctx context.Context, market *config.MarketConfig, zip string) ([]json.RawMessage, int, error) {
	pageSize := market.PageSize
	if pageSize <= 0 {
		pageSize = o.cfg.Fetch.PageSize
	}
	maxPages := market.MaxPages
	if maxPages <= 0 {
		maxPages = o.cfg.Fetch.MaxPages
	}
	status := market.Status
	if len(status) == 0 {
		status = []string{models.StatusForSale}
	}

	var all []json.RawMessage
	pages := 0

	for page := 0; page < maxPages; page++ {
		q := PageQuery{
			PostalCode: zip,
			Status:     status,
			Offset:     page * pageSize,
			Limit:      pageSize,
		}

		result, err := o.fetchPageWithRetry(ctx, q)
		if err != nil {
			return nil, pages, err
		}
		pages++

		all = append(all, result.Results...)
		if !result.HasMore(q.Offset+pageSize, pageSize) {
			break
		}
	}

	return all, pages, nil
}

// fetchPageWithRetry retries transient failures with capped
// exponential backoff, honors the server's rate-limit pause, and
// gives up immediately on fatal failures.
func (o *Orchestrator) fetchPageWithRetry(ctx context.Context, q PageQuery) (*SearchPage, error) {
	for attempt := 0; ; attempt++ {
		result, err := o.fetcher.FetchPage(ctx, q)
		if err == nil {
			return result, nil
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			// Caller cancellation or a bad request build; not retryable.
			return nil, err
		}
		if apiErr.Fatal() {
			return nil, err
		}
		if attempt >= o.cfg.Fetch.Retries {
			return nil, fmt.Errorf("retries exhausted after %d attempts: %w", attempt+1, err)
		}

		delay := o.nextDelay(attempt)
		if apiErr.Kind == FailureRateLimit && apiErr.RetryAfter > 0 {
			delay = apiErr.RetryAfter
		}
		log.Printf("Zip %s offset %d: %v, retrying in %s", q.PostalCode, q.Offset, apiErr, delay)

		if err := o.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (o *Orchestrator) nextDelay(attempt int) time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return backoffDelay(attempt, o.cfg.Fetch.BackoffBase, o.cfg.Fetch.BackoffMax, o.rng)
}

// RunTransform recomputes the derived analytics on demand.
func (o *Orchestrator) RunTransform(ctx context.Context) error {
	if o.analytics == nil {
		return fmt.Errorf("analytics not configured")
	}
	return o.analytics.RunTransforms(ctx)
}

func (o *Orchestrator) HandleCommand(cmd *models.Command, params *models.CommandParams) error {
	if params == nil {
		params = &models.CommandParams{}
	}

	ctx := context.Background()

	switch cmd.Command {
	case models.CmdRunScrape:
		if params.Market != "" {
			_, err := o.RunMarket(ctx, params.Market)
			return err
		}
		return o.RunAll(ctx)
	case models.CmdRunTransform:
		return o.RunTransform(ctx)
	case models.CmdPause:
		o.setPaused(true)
		log.Println("Pipeline paused")
	case models.CmdResume:
		o.setPaused(false)
		log.Println("Pipeline resumed")
	}

	return nil
}

func (o *Orchestrator) setPaused(v bool) {
	o.mu.Lock()
	o.paused = v
	o.mu.Unlock()
}

func (o *Orchestrator) IsPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

func (o *Orchestrator) log(runID *int64, level models.LogLevel, message, scope string) {
	log.Printf("[%s] %s: %s", level, scope, message)
	if o.ops != nil {
		o.ops.Log(runID, level, message, scope)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Package pipeline wires the Threshold Engine, Deduplicator, Episode
// Clusterer, Situation Builder and Scorer into a single tick-driven Driver.
// All stages run in order on one tick-loop goroutine, started and drained
// through an errgroup.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platformbuilds/alertcorr/internal/config"
	"github.com/platformbuilds/alertcorr/internal/dedup"
	"github.com/platformbuilds/alertcorr/internal/episode"
	"github.com/platformbuilds/alertcorr/internal/history"
	"github.com/platformbuilds/alertcorr/internal/metrics"
	"github.com/platformbuilds/alertcorr/internal/models"
	"github.com/platformbuilds/alertcorr/internal/scorer"
	"github.com/platformbuilds/alertcorr/internal/situation"
	"github.com/platformbuilds/alertcorr/internal/threshold"
	"github.com/platformbuilds/alertcorr/internal/utils"
)

// tickLatencySampleSize bounds the tick-duration percentile tracker.
const tickLatencySampleSize = 512

// ErrQueueFull is returned by Ingest/IngestRawEvent when the bounded ingress
// queue has no room; callers must apply their own backpressure.
var ErrQueueFull = errors.New("pipeline: ingress queue full")

// ErrAlreadyStarted and ErrNotStarted guard the Driver's start/stop lifecycle.
var (
	ErrAlreadyStarted = errors.New("pipeline: already started")
	ErrNotStarted     = errors.New("pipeline: not started")
)

const ingressQueueCapacity = 8192

// Metrics summarises one tick for subscribers.
type Metrics struct {
	TickIndex           int64
	TickTimeMs          int64
	DurationMs          int64
	Overran             bool
	AlertsIngested      int
	RawEventsDropped    int
	SituationsPublished int
	EpisodesActive      int
}

// Subscriber is called with a tick's published situations and metrics.
// Driver calls subscribers at most once per tick, synchronously, in the
// order they registered.
type Subscriber func(situations []*models.Situation, m Metrics)

// Driver owns the pipeline's in-memory state and tick loop.
type Driver struct {
	logger *slog.Logger

	mu  sync.RWMutex
	cfg config.PipelineConfig

	threshold *threshold.Engine
	dedup     *dedup.Deduplicator
	episodes  *episode.Clusterer

	hints models.GraphHints

	situations map[string]*models.Situation // last published, by situation id
	lastSeenMs map[string]int64              // situation id -> last tick it was regenerated

	recorder *history.Recorder
	miner    *history.Miner
	latency  *utils.LatencyTracker

	ingress    chan models.Alert
	rawIngress chan rawEventEnvelope

	subMu       sync.Mutex
	subscribers []Subscriber

	pendingMu     sync.Mutex
	pendingConfig *config.PartialConfig
	pendingHints  *models.GraphHints

	tickIndex      int64
	lastRawDropped int64

	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

type rawEventEnvelope struct {
	event models.RawEvent
}

// New constructs a Driver with the given initial config. logger may be nil.
func New(cfg config.PipelineConfig, logger *slog.Logger, rules []threshold.Rule, recorder *history.Recorder, store history.Store) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = history.NewRecorder(500)
	}
	if store == nil {
		store = history.NoopStore{}
	}

	return &Driver{
		logger:     logger,
		cfg:        cfg,
		threshold:  threshold.NewEngine(rules, logger),
		dedup:      dedup.New(cfg.DedupTTLMs, cfg.FlapDropThreshold, cfg.DedupMaxAgeMs),
		episodes:   episode.New(cfg.EpisodeGapMs),
		situations: make(map[string]*models.Situation),
		lastSeenMs: make(map[string]int64),
		recorder:   recorder,
		miner:      history.NewMiner(store),
		latency:    utils.NewLatencyTracker(tickLatencySampleSize),
		ingress:    make(chan models.Alert, ingressQueueCapacity),
		rawIngress: make(chan rawEventEnvelope, ingressQueueCapacity),
	}
}

// Ingest enqueues an alert for processing on the next tick. It never
// blocks: a full queue yields ErrQueueFull.
func (d *Driver) Ingest(a models.Alert) error {
	select {
	case d.ingress <- a:
		return nil
	default:
		return ErrQueueFull
	}
}

// IngestRawEvent enqueues a raw event to be matched against the Threshold
// Engine's rule pack on the next tick.
func (d *Driver) IngestRawEvent(ev models.RawEvent) error {
	select {
	case d.rawIngress <- rawEventEnvelope{event: ev}:
		return nil
	default:
		return ErrQueueFull
	}
}

// UpdateGraphHints replaces the topology used by the Scorer's graph
// proximity term. The swap takes effect at the start of the next tick, not
// mid-tick.
func (d *Driver) UpdateGraphHints(hints models.GraphHints) {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	h := hints
	d.pendingHints = &h
}

// UpdateConfig validates and schedules a partial config update for
// application at the next tick boundary. It returns an error immediately if
// the resulting config would be invalid, without mutating the running
// config.
func (d *Driver) UpdateConfig(partial config.PartialConfig) error {
	d.mu.RLock()
	_, err := d.cfg.Merge(partial)
	d.mu.RUnlock()
	if err != nil {
		return err
	}

	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	d.pendingConfig = &partial
	return nil
}

// Subscribe registers a callback invoked once per tick with that tick's
// published situations and metrics. It returns an unsubscribe function.
func (d *Driver) Subscribe(fn Subscriber) func() {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	d.subscribers = append(d.subscribers, fn)
	idx := len(d.subscribers) - 1

	return func() {
		d.subMu.Lock()
		defer d.subMu.Unlock()
		if idx < len(d.subscribers) {
			d.subscribers[idx] = nil
		}
	}
}

// TickLatency returns the given percentile (0-100) of recent tick processing
// durations, backed by a bounded rolling sample.
func (d *Driver) TickLatency(percentile float64) time.Duration {
	return d.latency.Percentile(percentile)
}

// CurrentSituations returns a synchronous snapshot of the most recently
// published situations.
func (d *Driver) CurrentSituations() []*models.Situation {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*models.Situation, 0, len(d.situations))
	for _, s := range d.situations {
		out = append(out, s)
	}
	return out
}

// Start launches the tick loop. Calling Start twice without an intervening
// Stop returns ErrAlreadyStarted; calling it again after Stop restarts the
// loop cleanly.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.running = true
	hop := d.cfg.HopMs
	d.mu.Unlock()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer close(d.done)
		d.runLoop(gctx, time.Duration(hop)*time.Millisecond)
		return nil
	})

	go func() {
		_ = g.Wait()
	}()

	return nil
}

// Stop cancels the tick loop and waits for it to exit or ctx to expire.
func (d *Driver) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return ErrNotStarted
	}
	cancel := d.cancel
	done := d.done
	d.running = false
	d.mu.Unlock()

	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Driver) runLoop(ctx context.Context, hop time.Duration) {
	ticker := time.NewTicker(hop)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			d.tick(t.UnixMilli())
		}
	}
}

// tick runs one full pass of the pipeline at time now (epoch ms). now is
// threaded explicitly through every stage so business logic never calls
// time.Now() itself.
func (d *Driver) tick(now int64) {
	start := time.Now()

	d.mu.Lock()
	d.applyPending()
	cfg := d.cfg
	d.tickIndex++
	tickIndex := d.tickIndex
	d.mu.Unlock()

	alertsIn, rawDropped := d.drainQueues(now)

	var dedupSuppressed, dedupFlapped, dedupRateLimited int
	for _, a := range alertsIn {
		a.EnsureID()
		result := d.dedup.Process(now, a, cfg.MaxAlertsPerMinute)
		switch {
		case result.FlapDropped:
			dedupFlapped++
			continue
		case result.Suppressed:
			dedupSuppressed++
			continue
		case result.RateLimited:
			dedupRateLimited++
			continue
		}
		d.episodes.Ingest(result.Alert)
	}
	d.dedup.Cleanup(now)
	d.episodes.Evict(now, cfg.WindowMs)
	d.threshold.Cleanup(now, cfg.DedupMaxAgeMs)

	metrics.IncAlertsIngested(len(alertsIn))
	metrics.IncRawEventsDropped(rawDropped)
	metrics.IncDedupDropped("suppressed", dedupSuppressed)
	metrics.IncDedupDropped("flap", dedupFlapped)
	metrics.IncDedupDropped("rate_limited", dedupRateLimited)

	d.mu.Lock()
	hints := d.hints
	prior := d.situations
	d.mu.Unlock()

	live := d.episodes.Live()
	situations := situation.Build(now, live, prior)
	for _, s := range situations {
		scorer.Score(s, hints, cfg.MaxLeadMs, scorer.DefaultWeights)
	}

	published := d.applyLifecycle(now, situations, cfg)

	d.recorder.Record(published)
	if err := d.miner.Flush(d.recorder); err != nil {
		d.logger.Warn("failed to flush history store", slog.Any("error", err))
	}

	duration := time.Since(start)
	overran := duration > 10*time.Duration(cfg.HopMs)*time.Millisecond
	d.latency.Observe(duration)
	metrics.ObserveTick(duration, overran)
	metrics.SetEpisodesActive(len(live))
	metrics.SetSituationsPublished(len(published))

	if overran {
		d.logger.Warn("tick overran budget",
			slog.Int64("tick_index", tickIndex),
			slog.Duration("duration", duration),
			slog.Int64("hop_ms", cfg.HopMs),
		)
	}

	m := Metrics{
		TickIndex:           tickIndex,
		TickTimeMs:          now,
		DurationMs:          duration.Milliseconds(),
		Overran:             overran,
		AlertsIngested:      len(alertsIn),
		RawEventsDropped:    rawDropped,
		SituationsPublished: len(published),
		EpisodesActive:      len(live),
	}
	d.publish(published, m)
}

func (d *Driver) applyPending() {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()

	if d.pendingConfig != nil {
		if next, err := d.cfg.Merge(*d.pendingConfig); err == nil {
			d.cfg = next
			d.dedup = dedup.New(next.DedupTTLMs, next.FlapDropThreshold, next.DedupMaxAgeMs)
		}
		d.pendingConfig = nil
	}
	if d.pendingHints != nil {
		d.hints = *d.pendingHints
		d.pendingHints = nil
	}
}

func (d *Driver) drainQueues(now int64) (alerts []models.Alert, rawDropped int) {
	for {
		select {
		case a := <-d.ingress:
			alerts = append(alerts, a)
			continue
		default:
		}
		break
	}

	for {
		select {
		case env := <-d.rawIngress:
			produced := d.threshold.Evaluate(now, env.event)
			alerts = append(alerts, produced...)
			continue
		default:
		}
		break
	}

	total := d.threshold.MalformedDropped()
	rawDropped = int(total - d.lastRawDropped)
	d.lastRawDropped = total
	return alerts, rawDropped
}

// applyLifecycle publishes this tick's freshly built situations, dropping
// any whose window started more than maxSituationLifetime ago, and records a
// fresh lastSeen for the rest. A situation that was not rebuilt this tick is
// not carried into the published set; only its lastSeen entry is kept, until
// it has been quiet for longer than quietThreshold.
func (d *Driver) applyLifecycle(now int64, fresh []*models.Situation, cfg config.PipelineConfig) []*models.Situation {
	d.mu.Lock()
	defer d.mu.Unlock()

	next := make(map[string]*models.Situation, len(fresh))
	for _, s := range fresh {
		if now-s.Window.StartMs > cfg.MaxSituationLifetimeMs {
			continue
		}
		next[s.ID] = s
		d.lastSeenMs[s.ID] = now
	}

	for id, last := range d.lastSeenMs {
		if _, ok := next[id]; ok {
			continue
		}
		if now-last > cfg.QuietThresholdMs {
			delete(d.lastSeenMs, id)
		}
	}

	d.situations = next

	out := make([]*models.Situation, 0, len(next))
	for _, s := range next {
		out = append(out, s)
	}
	return out
}

func (d *Driver) publish(situations []*models.Situation, m Metrics) {
	d.subMu.Lock()
	subs := make([]Subscriber, 0, len(d.subscribers))
	for _, s := range d.subscribers {
		if s != nil {
			subs = append(subs, s)
		}
	}
	d.subMu.Unlock()

	for _, fn := range subs {
		fn(situations, m)
	}
}

// Package worker implements the buffered worker pool that persists analysis
// results asynchronously. This decouples HTTP request handling from storage
// writes, providing:
// - Backpressure handling via load shedding
// - Batch inserts for efficient ClickHouse writes
// - Graceful shutdown with flush guarantees

package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Watchlist escalation levels keyed by cumulative suspect-hit count.
var watchlistThresholds = map[int64]string{
	10:  "REVIEW",
	50:  "PRIORITY",
	100: "URGENT",
}

// Prometheus metrics
var (
	resultsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nocheat_results_enqueued_total",
		Help: "Total number of analysis results enqueued for persistence",
	})

	resultsPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nocheat_results_persisted_total",
		Help: "Total number of analysis results persisted by workers",
	})

	resultsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nocheat_results_failed_total",
		Help: "Total number of analysis results that failed persistence",
	})

	sinkQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nocheat_sink_queue_depth",
		Help: "Current depth of the result sink queue",
	})

	batchInsertDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nocheat_batch_insert_duration_seconds",
		Help:    "Duration of batch inserts to ClickHouse",
		Buckets: prometheus.DefBuckets,
	})

	resultsLoadShed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nocheat_results_load_shed_total",
		Help: "Total number of analysis results dropped due to load shedding",
	})

	watchlistEscalations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nocheat_watchlist_escalations_total",
		Help: "Total number of watchlist escalations by level",
	}, []string{"level"})
)

// Job represents one persisted analysis result.
type Job struct {
	RequestID string
	PlayerID  string
	Score     float64
	Flags     []string
	Timestamp time.Time
}

// PoolConfig configures the result sink pool. ClickHouse, Postgres and Redis
// are each optional; a nil backend skips the corresponding side effects.
type PoolConfig struct {
	WorkerCount           int
	QueueSize             int
	BatchSize             int
	FlushInterval         time.Duration
	SuspectScoreThreshold float64
	ClickHouse            driver.Conn
	Postgres              *pgxpool.Pool
	Redis                 *redis.Client
	Logger                *zap.Logger
}

// Pool manages a pool of workers for async result persistence.
type Pool struct {
	config   PoolConfig
	jobQueue chan Job
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *zap.SugaredLogger
}

// NewPool creates a new result sink pool.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 10000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.SuspectScoreThreshold <= 0 {
		cfg.SuspectScoreThreshold = 0.80
	}

	return &Pool{
		config:   cfg,
		jobQueue: make(chan Job, cfg.QueueSize),
		logger:   cfg.Logger.Sugar(),
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)

	for i := 0; i < p.config.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	go p.reportQueueDepth()

	p.logger.Infow("Result sink started",
		"workers", p.config.WorkerCount,
		"queueSize", p.config.QueueSize,
		"batchSize", p.config.BatchSize,
	)
}

// Stop gracefully shuts down the pool. The queue is closed first and workers
// drain it to the closed-channel flush, so every enqueued result is processed
// before Stop returns; the context is canceled only afterwards, for the
// background reporters. Context cancellation from the parent remains the
// abnormal-abort path that drops queued work.
func (p *Pool) Stop() {
	p.logger.Info("Stopping result sink...")
	close(p.jobQueue)
	p.wg.Wait()
	p.cancel()
	p.logger.Info("Result sink stopped")
}

// Enqueue adds a result to the queue. Returns false when the queue is full
// or the pool is shutting down; the result is dropped, never blocked on.
func (p *Pool) Enqueue(job Job) bool {
	if job.Timestamp.IsZero() {
		job.Timestamp = time.Now()
	}

	// Protect against sending on closed channel
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warnw("Failed to enqueue result (sink stopped)", "error", r)
		}
	}()

	select {
	case p.jobQueue <- job:
		resultsEnqueued.Inc()
		return true
	default:
		resultsLoadShed.Inc()
		return false
	}
}

// QueueDepth returns current queue size.
func (p *Pool) QueueDepth() int {
	return len(p.jobQueue)
}

// worker processes results from the queue in batches.
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	batch := make([]Job, 0, p.config.BatchSize)
	ticker := time.NewTicker(p.config.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}

		start := time.Now()
		if err := p.processBatch(batch); err != nil {
			p.logger.Errorw("Batch persistence failed",
				"worker", id,
				"batchSize", len(batch),
				"error", err,
			)
			resultsFailed.Add(float64(len(batch)))
		} else {
			resultsPersisted.Add(float64(len(batch)))
		}
		batchInsertDuration.Observe(time.Since(start).Seconds())

		batch = batch[:0]
	}

	for {
		select {
		case job, ok := <-p.jobQueue:
			if !ok {
				// Channel closed, flush remaining
				flush()
				return
			}

			batch = append(batch, job)
			if len(batch) >= p.config.BatchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-p.ctx.Done():
			flush()
			return
		}
	}
}

// processBatch persists a batch of results.
func (p *Pool) processBatch(batch []Job) error {
	if len(batch) == 0 {
		return nil
	}

	ctx := context.Background()

	if p.config.ClickHouse != nil {
		if err := p.insertBatch(ctx, batch); err != nil {
			return err
		}
	}

	if p.config.Redis != nil {
		// Must copy batch because the slice is reused in the worker loop
		batchCopy := make([]Job, len(batch))
		copy(batchCopy, batch)
		go p.processBatchSideEffects(ctx, batchCopy)
	}

	return nil
}

// insertBatch writes a batch of results to ClickHouse.
func (p *Pool) insertBatch(ctx context.Context, batch []Job) error {
	chBatch, err := p.config.ClickHouse.PrepareBatch(ctx, `
		INSERT INTO anticheat.analysis_results (
			request_id, player_id, suspicion_score, flags, analyzed_at
		)
	`)
	if err != nil {
		return err
	}

	for _, job := range batch {
		err := chBatch.Append(
			parseOrGenerateUUID(job.RequestID),
			job.PlayerID,
			job.Score,
			job.Flags,
			job.Timestamp,
		)
		if err != nil {
			p.logger.Warnw("Failed to append result to batch", "error", err, "player_id", job.PlayerID)
			continue
		}
	}

	if err := chBatch.Send(); err != nil {
		p.logger.Errorw("Failed to send batch to ClickHouse", "error", err, "batchSize", len(batch))
		return err
	}

	return nil
}

// processBatchSideEffects updates Redis counters for a batch of results and
// escalates players whose suspect-hit count crosses a watchlist threshold.
func (p *Pool) processBatchSideEffects(ctx context.Context, batch []Job) {
	if len(batch) == 0 {
		return
	}

	// Phase 1: Segregation & Pipelining
	pipe := p.config.Redis.Pipeline()

	type suspectCheck struct {
		playerID string
		cmd      *redis.IntCmd
	}
	var suspectChecks []suspectCheck

	for _, job := range batch {
		if job.PlayerID == "" {
			continue
		}

		for _, flag := range job.Flags {
			pipe.Incr(ctx, "player:"+job.PlayerID+":flags:"+flag)
		}

		if job.Score >= p.config.SuspectScoreThreshold {
			cmd := pipe.Incr(ctx, "player:"+job.PlayerID+":suspect_hits")
			suspectChecks = append(suspectChecks, suspectCheck{playerID: job.PlayerID, cmd: cmd})
		}
	}

	_, err := pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		p.logger.Errorw("Redis pipeline failed", "error", err)
	}

	// Phase 2: Escalation Verification
	type potentialEscalation struct {
		playerID     string
		level        string
		sIsMemberCmd *redis.BoolCmd
	}
	var potentialEscalations []potentialEscalation

	verifyPipe := p.config.Redis.Pipeline()

	for _, check := range suspectChecks {
		val, err := check.cmd.Result()
		if err != nil {
			continue
		}
		if level, ok := watchlistThresholds[val]; ok {
			key := "player:" + check.playerID + ":watchlist_levels"
			cmd := verifyPipe.SIsMember(ctx, key, level)
			potentialEscalations = append(potentialEscalations, potentialEscalation{
				playerID:     check.playerID,
				level:        level,
				sIsMemberCmd: cmd,
			})
		}
	}

	if len(potentialEscalations) > 0 {
		_, err := verifyPipe.Exec(ctx)
		if err != nil && err != redis.Nil {
			p.logger.Errorw("Redis verification pipeline failed", "error", err)
		}
	}

	// Phase 3: Bulk Persistence
	type escalationToPersist struct {
		playerID string
		level    string
	}
	var newEscalations []escalationToPersist

	for _, check := range potentialEscalations {
		// If SIsMember returned false (not member), it's a new escalation
		if !check.sIsMemberCmd.Val() {
			newEscalations = append(newEscalations, escalationToPersist{
				playerID: check.playerID,
				level:    check.level,
			})
		}
	}

	if len(newEscalations) == 0 {
		return
	}

	if p.config.Postgres != nil {
		var sb strings.Builder
		sb.WriteString("INSERT INTO watchlist_entries (player_id, level, created_at) VALUES ")
		vals := []interface{}{}
		now := time.Now()

		for i, esc := range newEscalations {
			n := i * 3
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "($%d, $%d, $%d)", n+1, n+2, n+3)
			vals = append(vals, esc.playerID, esc.level, now)
		}
		sb.WriteString(" ON CONFLICT (player_id, level) DO NOTHING")

		if _, err := p.config.Postgres.Exec(ctx, sb.String(), vals...); err != nil {
			p.logger.Errorw("Failed to bulk insert watchlist entries", "error", err, "count", len(newEscalations))
		}
	}

	persistPipe := p.config.Redis.Pipeline()
	for _, esc := range newEscalations {
		persistPipe.SAdd(ctx, "player:"+esc.playerID+":watchlist_levels", esc.level)
		watchlistEscalations.WithLabelValues(esc.level).Inc()
		p.logger.Infow("Player escalated to watchlist", "player", esc.playerID, "level", esc.level)
	}
	_, err = persistPipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		p.logger.Errorw("Redis persistence pipeline failed", "error", err)
	}
}

func (p *Pool) reportQueueDepth() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sinkQueueDepth.Set(float64(len(p.jobQueue)))
		case <-p.ctx.Done():
			return
		}
	}
}

func parseOrGenerateUUID(s string) uuid.UUID {
	if id, err := uuid.Parse(s); err == nil {
		return id
	}
	// Generate deterministic UUID from string
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(s))
}

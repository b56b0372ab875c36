// Package requestlog persists the Request Log and Attempt Record tables
// through a bounded, drop-oldest queue drained by a dedicated worker, the
// same "bounded MPSC queue draining on a dedicated worker" shape the
// teacher's request-log store used, now carrying this gateway's schema and
// adding the batch cost-resolution caches and retention sweep the original
// Rust log writer implemented.
package requestlog

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/cligateway/hub/internal/cost"
	"github.com/cligateway/hub/internal/logging"
	"github.com/cligateway/hub/internal/metrics"
)

const (
	queueCapacity        = 512
	writeBatchMax        = 50
	cleanupMinInterval   = 10 * time.Minute
	insertRetryMaxTries  = 8
	insertRetryBaseDelay = 20 * time.Millisecond
	insertRetryMaxDelay  = 500 * time.Millisecond
	cacheTTL             = 5 * time.Minute
	multiplierCacheMax   = 256
	priceCacheMax        = 512
)

// Entry is one Request Log row, upserted on TraceID.
type Entry struct {
	TraceID             string
	CLIKey              string
	SessionID           string
	Method              string
	Path                string
	Query               string
	RequestedModel      string
	FinalProviderID     string
	Status              string
	ErrorCode           string
	TotalDurationMs     int64
	TimeToFirstByteMs   int64
	SpecialSettingsJSON string
	ExcludedFromStats   bool
	Usage               cost.Usage
	UsageJSON           string
	CostUSDFemto        *int64
	CostMultiplier      float64
	CreatedAtMs         int64
	CreatedAtSec        int64
}

// AttemptRecord is one Attempt Record row, keyed by (trace_id, attempt_index).
type AttemptRecord struct {
	TraceID            string
	AttemptIndex       int
	ProviderID         string
	ProviderName       string
	BaseURL            string
	Outcome            string
	UpstreamStatus     *int
	Decision           string
	ErrorCategory      string
	ErrorCode          string
	AttemptStartedMs   int64
	AttemptDurationMs  int64
	CircuitStateBefore string
	CircuitStateAfter  string
	FailureCount       int
	FailureThreshold   int
	SessionReuse       bool
}

// Query defines request log listing filters for the admin logs endpoint.
type Query struct {
	Limit      int
	Offset     int
	CLIKey     string
	Status     string
	Provider   string
	Since      *time.Time
}

// ListResult is a paginated request log query response.
type ListResult struct {
	Data  []Entry
	Total int
}

// Writer accepts Request Log and Attempt Record writes without blocking the
// request plane.
type Writer interface {
	Enqueue(entry Entry)
	EnqueueAttempt(rec AttemptRecord)
	Close() error
}

// Reader loads request log entries from persistent storage.
type Reader interface {
	List(ctx context.Context, query Query) (ListResult, error)
}

// NoopWriter discards all writes; useful in tests.
type NoopWriter struct{}

func (NoopWriter) Enqueue(Entry)               {}
func (NoopWriter) EnqueueAttempt(AttemptRecord) {}
func (NoopWriter) Close() error                { return nil }

type cachedFloat struct {
	value  float64
	expiry time.Time
}

type cachedString struct {
	value  string
	ok     bool
	expiry time.Time
}

// batchCache mirrors the original log writer's InsertBatchCache: a
// TTL-checked lookup cache that, once it grows past its entry cap, is
// cleared outright rather than evicted LRU-style.
type batchCache struct {
	multiplier map[string]cachedFloat
	price      map[string]cachedString
}

func newBatchCache() *batchCache {
	return &batchCache{
		multiplier: make(map[string]cachedFloat),
		price:      make(map[string]cachedString),
	}
}

// LookupMultiplier resolves a provider's cost_multiplier. LookupPrice
// resolves a (cli_key, model) price_json blob, already alias-resolved by the
// caller. Both are injected by the server wiring (backed by the catalog
// reader) to avoid a dependency cycle between requestlog and catalog.
type LookupMultiplier func(providerID string) (float64, bool)
type LookupPrice func(cliKey, model string) (string, bool)

type logItem struct {
	entry   *Entry
	attempt *AttemptRecord
}

// SQLWriter persists entries to SQLite/Postgres via a bounded channel and a
// dedicated drain goroutine.
type SQLWriter struct {
	db      *sql.DB
	dialect string

	queue  chan logItem
	done   chan struct{}
	cancel context.CancelFunc

	cache           *batchCache
	lookupMult      LookupMultiplier
	lookupPrice     LookupPrice
	retentionDays   int
	lastCleanup     time.Time
}

// Option configures a SQLWriter at construction time.
type Option func(*SQLWriter)

// WithLookupMultiplier injects the provider cost_multiplier resolver.
func WithLookupMultiplier(f LookupMultiplier) Option {
	return func(w *SQLWriter) { w.lookupMult = f }
}

// WithLookupPrice injects the (cli_key, model) price_json resolver.
func WithLookupPrice(f LookupPrice) Option {
	return func(w *SQLWriter) { w.lookupPrice = f }
}

// WithRetentionDays overrides how long request_logs rows are kept (default
// 30 days; 0 disables the sweep).
func WithRetentionDays(days int) Option {
	return func(w *SQLWriter) { w.retentionDays = days }
}

func NewSQLiteWriter(dsn string, opts ...Option) (*SQLWriter, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "cligateway-requests.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite request log writer: %w", err)
	}
	return newWriter(db, "sqlite", opts...)
}

func NewPostgresWriter(dsn string, opts ...Option) (*SQLWriter, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres request log writer: %w", err)
	}
	return newWriter(db, "postgres", opts...)
}

func newWriter(db *sql.DB, dialect string, opts ...Option) (*SQLWriter, error) {
	w := &SQLWriter{
		db:            db,
		dialect:       dialect,
		queue:         make(chan logItem, queueCapacity),
		done:          make(chan struct{}),
		cache:         newBatchCache(),
		retentionDays: 30,
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.drainLoop(ctx)
	return w, nil
}

func (w *SQLWriter) init() error {
	if err := w.db.Ping(); err != nil {
		return fmt.Errorf("ping %s request log writer: %w", w.dialect, err)
	}

	ddl := []string{requestLogsDDL(w.dialect), attemptsDDL(w.dialect)}
	for _, stmt := range ddl {
		if _, err := w.db.Exec(stmt); err != nil {
			return fmt.Errorf("initialize request log schema: %w", err)
		}
	}
	return nil
}

func requestLogsDDL(dialect string) string {
	idType := "INTEGER PRIMARY KEY"
	tsType := "TIMESTAMP"
	if dialect == "postgres" {
		idType = "BIGSERIAL PRIMARY KEY"
		tsType = "TIMESTAMPTZ"
	}
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS request_logs (
	id %s,
	trace_id TEXT NOT NULL UNIQUE,
	cli_key TEXT NOT NULL,
	session_id TEXT,
	method TEXT NOT NULL,
	path TEXT NOT NULL,
	query TEXT,
	requested_model TEXT,
	final_provider_id TEXT,
	status TEXT NOT NULL,
	error_code TEXT,
	total_duration_ms INTEGER NOT NULL,
	ttfb_ms INTEGER NOT NULL,
	special_settings_json TEXT,
	excluded_from_stats INTEGER NOT NULL DEFAULT 0,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cache_read_input_tokens INTEGER NOT NULL DEFAULT 0,
	cache_creation_input_tokens_5m INTEGER NOT NULL DEFAULT 0,
	cache_creation_input_tokens_1h INTEGER NOT NULL DEFAULT 0,
	usage_json TEXT,
	cost_usd_femto INTEGER,
	cost_multiplier REAL NOT NULL DEFAULT 1.0,
	created_at_ms INTEGER NOT NULL,
	created_at %s NOT NULL
);`, idType, tsType)
}

func attemptsDDL(dialect string) string {
	idType := "INTEGER PRIMARY KEY"
	if dialect == "postgres" {
		idType = "BIGSERIAL PRIMARY KEY"
	}
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS attempts (
	id %s,
	trace_id TEXT NOT NULL,
	attempt_index INTEGER NOT NULL,
	provider_id TEXT NOT NULL,
	provider_name TEXT NOT NULL,
	base_url TEXT NOT NULL,
	outcome TEXT NOT NULL,
	upstream_status INTEGER,
	decision TEXT NOT NULL,
	error_category TEXT,
	error_code TEXT,
	attempt_started_ms INTEGER NOT NULL,
	attempt_duration_ms INTEGER NOT NULL,
	circuit_state_before TEXT NOT NULL,
	circuit_state_after TEXT NOT NULL,
	failure_count INTEGER NOT NULL,
	failure_threshold INTEGER NOT NULL,
	session_reuse INTEGER NOT NULL DEFAULT 0,
	UNIQUE(trace_id, attempt_index)
);`, idType)
}

// Enqueue pushes a Request Log row, dropping the oldest queued item if the
// channel is already full.
func (w *SQLWriter) Enqueue(entry Entry) {
	if entry.CreatedAtMs == 0 {
		now := time.Now().UTC()
		entry.CreatedAtMs = now.UnixMilli()
		entry.CreatedAtSec = now.Unix()
	}
	w.push(logItem{entry: &entry})
}

// EnqueueAttempt pushes an Attempt Record row with the same backpressure
// policy as Enqueue.
func (w *SQLWriter) EnqueueAttempt(rec AttemptRecord) {
	w.push(logItem{attempt: &rec})
}

func (w *SQLWriter) push(item logItem) {
	select {
	case w.queue <- item:
	default:
		select {
		case <-w.queue:
			metrics.LogWriterDropped.Inc()
		default:
		}
		select {
		case w.queue <- item:
		default:
			metrics.LogWriterDropped.Inc()
		}
	}
}

func (w *SQLWriter) drainLoop(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.drainAll()
			return
		case item := <-w.queue:
			batch := []logItem{item}
			batch = w.fillBatch(batch)
			w.writeBatch(batch)
			w.maybeCleanup()
		case <-ticker.C:
			w.maybeCleanup()
		}
	}
}

func (w *SQLWriter) fillBatch(batch []logItem) []logItem {
	for len(batch) < writeBatchMax {
		select {
		case item := <-w.queue:
			batch = append(batch, item)
		default:
			return batch
		}
	}
	return batch
}

func (w *SQLWriter) drainAll() {
	for {
		var batch []logItem
		for len(batch) < writeBatchMax {
			select {
			case item := <-w.queue:
				batch = append(batch, item)
			default:
				goto flush
			}
		}
	flush:
		if len(batch) == 0 {
			return
		}
		w.writeBatch(batch)
	}
}

func (w *SQLWriter) writeBatch(batch []logItem) {
	err := w.withRetry(func() error {
		tx, err := w.db.Begin()
		if err != nil {
			return err
		}
		for _, item := range batch {
			if item.entry != nil {
				if err := w.upsertEntry(tx, *item.entry); err != nil {
					tx.Rollback()
					return err
				}
			}
			if item.attempt != nil {
				if err := w.insertAttempt(tx, *item.attempt); err != nil {
					tx.Rollback()
					return err
				}
			}
		}
		return tx.Commit()
	})
	if err != nil {
		logging.Logger.Error("request log batch write failed", "error", err, "batch_size", len(batch))
	}
}

func (w *SQLWriter) withRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < insertRetryMaxTries; attempt++ {
		err = fn()
		if err == nil || !isBusyErr(err) {
			return err
		}
		time.Sleep(retryDelay(attempt))
	}
	return err
}

func retryDelay(attempt int) time.Duration {
	shift := attempt
	if shift > 20 {
		shift = 20
	}
	d := insertRetryBaseDelay * time.Duration(math.Pow(2, float64(shift)))
	if d > insertRetryMaxDelay {
		d = insertRetryMaxDelay
	}
	return d
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

func (w *SQLWriter) upsertEntry(tx *sql.Tx, e Entry) error {
	femto, ok := w.resolveCost(e)
	if ok {
		e.CostUSDFemto = &femto
	}

	placeholders := "?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?"
	onConflict := `ON CONFLICT(trace_id) DO UPDATE SET
		cli_key=excluded.cli_key, session_id=excluded.session_id, method=excluded.method,
		path=excluded.path, query=excluded.query, requested_model=excluded.requested_model,
		final_provider_id=excluded.final_provider_id, status=excluded.status, error_code=excluded.error_code,
		total_duration_ms=excluded.total_duration_ms, ttfb_ms=excluded.ttfb_ms,
		special_settings_json=excluded.special_settings_json, excluded_from_stats=excluded.excluded_from_stats,
		input_tokens=excluded.input_tokens, output_tokens=excluded.output_tokens,
		cache_read_input_tokens=excluded.cache_read_input_tokens,
		cache_creation_input_tokens_5m=excluded.cache_creation_input_tokens_5m,
		cache_creation_input_tokens_1h=excluded.cache_creation_input_tokens_1h,
		usage_json=excluded.usage_json, cost_usd_femto=excluded.cost_usd_femto,
		cost_multiplier=excluded.cost_multiplier`

	query := fmt.Sprintf(`INSERT INTO request_logs(
		trace_id, cli_key, session_id, method, path, query, requested_model, final_provider_id,
		status, error_code, total_duration_ms, ttfb_ms, special_settings_json, excluded_from_stats,
		input_tokens, output_tokens, cache_read_input_tokens, cache_creation_input_tokens_5m,
		cache_creation_input_tokens_1h, usage_json, cost_usd_femto, cost_multiplier, created_at_ms, created_at
	) VALUES(%s,?,?,?) %s`, placeholders, onConflict)
	if w.dialect == "postgres" {
		query = bindPostgres(fmt.Sprintf(`INSERT INTO request_logs(
		trace_id, cli_key, session_id, method, path, query, requested_model, final_provider_id,
		status, error_code, total_duration_ms, ttfb_ms, special_settings_json, excluded_from_stats,
		input_tokens, output_tokens, cache_read_input_tokens, cache_creation_input_tokens_5m,
		cache_creation_input_tokens_1h, usage_json, cost_usd_femto, cost_multiplier, created_at_ms, created_at
	) VALUES(%s,?,?,?)
	ON CONFLICT(trace_id) DO UPDATE SET
		cli_key=excluded.cli_key, session_id=excluded.session_id, method=excluded.method,
		path=excluded.path, query=excluded.query, requested_model=excluded.requested_model,
		final_provider_id=excluded.final_provider_id, status=excluded.status, error_code=excluded.error_code,
		total_duration_ms=excluded.total_duration_ms, ttfb_ms=excluded.ttfb_ms,
		special_settings_json=excluded.special_settings_json, excluded_from_stats=excluded.excluded_from_stats,
		input_tokens=excluded.input_tokens, output_tokens=excluded.output_tokens,
		cache_read_input_tokens=excluded.cache_read_input_tokens,
		cache_creation_input_tokens_5m=excluded.cache_creation_input_tokens_5m,
		cache_creation_input_tokens_1h=excluded.cache_creation_input_tokens_1h,
		usage_json=excluded.usage_json, cost_usd_femto=excluded.cost_usd_femto,
		cost_multiplier=excluded.cost_multiplier`, placeholders))
	}

	createdAt := time.UnixMilli(e.CreatedAtMs).UTC()
	_, err := tx.Exec(query,
		e.TraceID, e.CLIKey, nullableString(e.SessionID), e.Method, e.Path, nullableString(e.Query),
		nullableString(e.RequestedModel), nullableString(e.FinalProviderID), e.Status, nullableString(e.ErrorCode),
		e.TotalDurationMs, e.TimeToFirstByteMs, nullableString(e.SpecialSettingsJSON), boolToInt(e.ExcludedFromStats),
		e.Usage.InputTokens, e.Usage.OutputTokens, e.Usage.CacheReadInputTokens,
		e.Usage.CacheCreationInputTokens5m, e.Usage.CacheCreationInputTokens1h,
		nullableString(e.UsageJSON), nullableInt64(e.CostUSDFemto), e.CostMultiplier, e.CreatedAtMs, createdAt,
	)
	if err != nil {
		return fmt.Errorf("upsert request log: %w", err)
	}

	if e.CostUSDFemto != nil {
		metrics.CostFemtoTotal.WithLabelValues(e.CLIKey, e.RequestedModel).Add(float64(*e.CostUSDFemto))
	}
	metrics.RequestsTotal.WithLabelValues(e.CLIKey, e.Status).Inc()
	metrics.RequestDuration.WithLabelValues(e.CLIKey).Observe(float64(e.TotalDurationMs) / 1000.0)
	return nil
}

// resolveCost implements the Cost Resolver's batch-cache lookups: the
// provider cost_multiplier and the (cli_key, model) price_json are each
// cached for cacheTTL, and the caches are cleared outright (not LRU-evicted)
// once they grow past their entry cap.
func (w *SQLWriter) resolveCost(e Entry) (int64, bool) {
	if e.Status != "success" && e.Status != "2xx" {
		return 0, false
	}
	if e.ErrorCode != "" {
		return 0, false
	}
	if w.lookupPrice == nil {
		return 0, false
	}

	multiplier := e.CostMultiplier
	if multiplier <= 0 && w.lookupMult != nil {
		multiplier = w.cachedMultiplier(e.FinalProviderID)
	}
	if multiplier <= 0 {
		multiplier = 1.0
	}

	priceJSON := w.cachedPrice(e.CLIKey, e.RequestedModel)
	if priceJSON == "" {
		return 0, false
	}
	return cost.Calculate(e.Usage, priceJSON, multiplier)
}

func (w *SQLWriter) cachedMultiplier(providerID string) float64 {
	now := time.Now()
	if v, ok := w.cache.multiplier[providerID]; ok && v.expiry.After(now) {
		return v.value
	}
	val, ok := w.lookupMult(providerID)
	if !ok {
		val = 1.0
	}
	if len(w.cache.multiplier) >= multiplierCacheMax {
		w.cache.multiplier = make(map[string]cachedFloat)
	}
	w.cache.multiplier[providerID] = cachedFloat{value: val, expiry: now.Add(cacheTTL)}
	return val
}

func (w *SQLWriter) cachedPrice(cliKey, model string) string {
	key := cliKey + "|" + model
	now := time.Now()
	if v, ok := w.cache.price[key]; ok && v.expiry.After(now) {
		if v.ok {
			return v.value
		}
		return ""
	}
	priceJSON, ok := w.lookupPrice(cliKey, model)
	if len(w.cache.price) >= priceCacheMax {
		w.cache.price = make(map[string]cachedString)
	}
	w.cache.price[key] = cachedString{value: priceJSON, ok: ok, expiry: now.Add(cacheTTL)}
	if !ok {
		return ""
	}
	return priceJSON
}

func (w *SQLWriter) insertAttempt(tx *sql.Tx, a AttemptRecord) error {
	query := `INSERT INTO attempts(
		trace_id, attempt_index, provider_id, provider_name, base_url, outcome, upstream_status,
		decision, error_category, error_code, attempt_started_ms, attempt_duration_ms,
		circuit_state_before, circuit_state_after, failure_count, failure_threshold, session_reuse
	) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	ON CONFLICT(trace_id, attempt_index) DO NOTHING`
	if w.dialect == "postgres" {
		query = bindPostgres(`INSERT INTO attempts(
		trace_id, attempt_index, provider_id, provider_name, base_url, outcome, upstream_status,
		decision, error_category, error_code, attempt_started_ms, attempt_duration_ms,
		circuit_state_before, circuit_state_after, failure_count, failure_threshold, session_reuse
	) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	ON CONFLICT(trace_id, attempt_index) DO NOTHING`)
	}
	_, err := tx.Exec(query,
		a.TraceID, a.AttemptIndex, a.ProviderID, a.ProviderName, a.BaseURL, a.Outcome, nullableInt(a.UpstreamStatus),
		a.Decision, nullableString(a.ErrorCategory), nullableString(a.ErrorCode), a.AttemptStartedMs, a.AttemptDurationMs,
		a.CircuitStateBefore, a.CircuitStateAfter, a.FailureCount, a.FailureThreshold, boolToInt(a.SessionReuse),
	)
	if err != nil {
		return fmt.Errorf("insert attempt record: %w", err)
	}
	if a.ErrorCode != "" {
		metrics.ProviderErrors.WithLabelValues(a.ProviderID, a.ErrorCode).Inc()
	}
	metrics.AttemptsTotal.WithLabelValues(a.ProviderID, a.Outcome).Inc()
	return nil
}

// maybeCleanup runs the retention sweep at most once per cleanupMinInterval.
func (w *SQLWriter) maybeCleanup() {
	if w.retentionDays <= 0 {
		return
	}
	now := time.Now()
	if now.Sub(w.lastCleanup) < cleanupMinInterval {
		return
	}
	w.lastCleanup = now

	cutoff := now.AddDate(0, 0, -w.retentionDays).UnixMilli()
	query := "DELETE FROM request_logs WHERE created_at_ms < ?"
	if w.dialect == "postgres" {
		query = bindPostgres(query)
	}
	if _, err := w.db.Exec(query, cutoff); err != nil {
		logging.Logger.Warn("request log retention sweep failed", "error", err)
	}
}

// List returns paginated request log entries with optional filters, for the
// /admin/logs endpoint.
func (w *SQLWriter) List(ctx context.Context, query Query) (ListResult, error) {
	if query.Limit <= 0 {
		query.Limit = 50
	}
	if query.Limit > 200 {
		query.Limit = 200
	}
	if query.Offset < 0 {
		query.Offset = 0
	}

	whereClauses := make([]string, 0)
	args := make([]interface{}, 0)

	if query.CLIKey != "" {
		whereClauses = append(whereClauses, "cli_key = ?")
		args = append(args, query.CLIKey)
	}
	if query.Status != "" {
		whereClauses = append(whereClauses, "status = ?")
		args = append(args, query.Status)
	}
	if query.Provider != "" {
		whereClauses = append(whereClauses, "final_provider_id = ?")
		args = append(args, query.Provider)
	}
	if query.Since != nil {
		whereClauses = append(whereClauses, "created_at_ms >= ?")
		args = append(args, query.Since.UnixMilli())
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM request_logs" + whereSQL
	if w.dialect == "postgres" {
		countQuery = bindPostgres(countQuery)
	}

	var total int
	if err := w.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return ListResult{}, fmt.Errorf("count request logs: %w", err)
	}

	listQuery := `SELECT trace_id, cli_key, session_id, method, path, query, requested_model, final_provider_id,
		status, error_code, total_duration_ms, ttfb_ms, special_settings_json, excluded_from_stats,
		input_tokens, output_tokens, cache_read_input_tokens, cache_creation_input_tokens_5m,
		cache_creation_input_tokens_1h, usage_json, cost_usd_femto, cost_multiplier, created_at_ms
		FROM request_logs` + whereSQL + " ORDER BY created_at_ms DESC LIMIT ? OFFSET ?"
	listArgs := append(args, query.Limit, query.Offset)
	if w.dialect == "postgres" {
		listQuery = bindPostgres(listQuery)
	}

	rows, err := w.db.QueryContext(ctx, listQuery, listArgs...)
	if err != nil {
		return ListResult{}, fmt.Errorf("list request logs: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			e                   Entry
			sessionID           sql.NullString
			queryStr            sql.NullString
			requestedModel      sql.NullString
			finalProviderID     sql.NullString
			errorCode           sql.NullString
			specialSettings     sql.NullString
			usageJSON           sql.NullString
			costFemto           sql.NullInt64
			excludedFromStats   int
		)
		if err := rows.Scan(&e.TraceID, &e.CLIKey, &sessionID, &e.Method, &e.Path, &queryStr, &requestedModel,
			&finalProviderID, &e.Status, &errorCode, &e.TotalDurationMs, &e.TimeToFirstByteMs, &specialSettings,
			&excludedFromStats, &e.Usage.InputTokens, &e.Usage.OutputTokens, &e.Usage.CacheReadInputTokens,
			&e.Usage.CacheCreationInputTokens5m, &e.Usage.CacheCreationInputTokens1h, &usageJSON, &costFemto,
			&e.CostMultiplier, &e.CreatedAtMs); err != nil {
			return ListResult{}, fmt.Errorf("scan request log row: %w", err)
		}
		e.SessionID = sessionID.String
		e.Query = queryStr.String
		e.RequestedModel = requestedModel.String
		e.FinalProviderID = finalProviderID.String
		e.ErrorCode = errorCode.String
		e.SpecialSettingsJSON = specialSettings.String
		e.UsageJSON = usageJSON.String
		e.ExcludedFromStats = excludedFromStats != 0
		if costFemto.Valid {
			v := costFemto.Int64
			e.CostUSDFemto = &v
		}
		e.CreatedAtSec = e.CreatedAtMs / 1000
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return ListResult{}, fmt.Errorf("iterate request logs: %w", err)
	}

	return ListResult{Data: entries, Total: total}, nil
}

func bindPostgres(query string) string {
	var (
		builder strings.Builder
		index   = 1
	)
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			builder.WriteString(fmt.Sprintf("$%d", index))
			index++
			continue
		}
		builder.WriteByte(query[i])
	}
	return builder.String()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Close stops the drain goroutine, flushing any queued items first.
func (w *SQLWriter) Close() error {
	if w == nil {
		return nil
	}
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
	if w.db == nil {
		return nil
	}
	return w.db.Close()
}

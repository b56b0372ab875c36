// Package catalog is the read-only Provider Catalog Reader: it loads the
// providers and model_prices tables and re-reads them periodically, serving
// the last-good snapshot if a re-read fails rather than taking the gateway
// down. Supports SQLite (default) and Postgres, the same dual-dialect shape
// as the teacher's admin SQL store and request log writer.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/cligateway/hub/internal/logging"
)

// AuthMode selects how a provider's credential is used.
type AuthMode string

const (
	AuthBearer       AuthMode = "bearer"
	AuthBedrockSigV4 AuthMode = "bedrock_sigv4"
	AuthOAuth2CC     AuthMode = "oauth2_cc"
)

// BaseURLMode selects how a provider's base URL is chosen when it has more
// than one.
type BaseURLMode string

const (
	BaseURLOrder BaseURLMode = "order"
	BaseURLPing  BaseURLMode = "ping"
)

// Provider is one row of the providers table, immutable for the duration of
// a single request.
type Provider struct {
	ID             string
	CLIKey         string
	DisplayName    string
	BaseURLs       []string
	BaseURLMode    BaseURLMode
	APIKey         string
	Enabled        bool
	SortOrder      int
	CostMultiplier float64
	ModelSlots     map[string]string // main|reasoning|haiku|sonnet|opus -> model name
	AuthMode       AuthMode
}

// PriceRecord is one row of the model_prices table: an opaque price_json
// blob keyed by (cli_key, model).
type PriceRecord struct {
	CLIKey    string
	Model     string
	PriceJSON string
	UpdatedAt time.Time
}

type snapshot struct {
	providers []Provider
	byID      map[string]Provider
	prices    map[string]PriceRecord // key: cli_key+"|"+model
}

func emptySnapshot() *snapshot {
	return &snapshot{byID: make(map[string]Provider), prices: make(map[string]PriceRecord)}
}

// Reader holds the current catalog snapshot and refreshes it periodically.
type Reader struct {
	db      *sql.DB
	dialect string

	aliases map[string]string // requested model name -> priced canonical model name

	refreshInterval time.Duration
	cancel          context.CancelFunc
	done            chan struct{}

	current atomic.Pointer[snapshot]
	mu      sync.Mutex // serializes refresh attempts
}

// Option configures a Reader at construction time.
type Option func(*Reader)

// WithRefreshInterval overrides the periodic re-read interval (default 30s).
func WithRefreshInterval(d time.Duration) Option {
	return func(r *Reader) {
		if d > 0 {
			r.refreshInterval = d
		}
	}
}

// WithPriceAliases configures the requested-model -> canonical-model alias
// map consulted when an exact price lookup misses.
func WithPriceAliases(aliases map[string]string) Option {
	return func(r *Reader) { r.aliases = aliases }
}

func NewSQLiteReader(dsn string, opts ...Option) (*Reader, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "cligateway-catalog.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite catalog reader: %w", err)
	}
	return newReader(db, "sqlite", opts...)
}

func NewPostgresReader(dsn string, opts ...Option) (*Reader, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres catalog reader: %w", err)
	}
	return newReader(db, "postgres", opts...)
}

func newReader(db *sql.DB, dialect string, opts ...Option) (*Reader, error) {
	r := &Reader{
		db:              db,
		dialect:         dialect,
		aliases:         make(map[string]string),
		refreshInterval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.current.Store(emptySnapshot())

	if err := r.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := r.refresh(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initial catalog load: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.refreshLoop(ctx)
	return r, nil
}

func (r *Reader) ensureSchema() error {
	if err := r.db.Ping(); err != nil {
		return fmt.Errorf("ping %s catalog reader: %w", r.dialect, err)
	}

	idType := "INTEGER PRIMARY KEY"
	if r.dialect == "postgres" {
		idType = "BIGSERIAL PRIMARY KEY"
	}
	ddl := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS providers (
	id %s,
	provider_id TEXT NOT NULL,
	cli_key TEXT NOT NULL,
	display_name TEXT NOT NULL,
	base_urls TEXT NOT NULL,
	base_url_mode TEXT NOT NULL DEFAULT 'order',
	api_key TEXT NOT NULL DEFAULT '',
	enabled INTEGER NOT NULL DEFAULT 1,
	sort_order INTEGER NOT NULL DEFAULT 0,
	cost_multiplier REAL NOT NULL DEFAULT 1.0,
	model_slots_json TEXT NOT NULL DEFAULT '{}',
	auth_mode TEXT NOT NULL DEFAULT 'bearer',
	UNIQUE(cli_key, display_name)
);`, idType),
		`CREATE TABLE IF NOT EXISTS model_prices (
	cli_key TEXT NOT NULL,
	model TEXT NOT NULL,
	price_json TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY(cli_key, model)
);`,
	}
	for _, stmt := range ddl {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("initialize catalog schema: %w", err)
		}
	}
	return nil
}

func (r *Reader) refreshLoop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.refresh(ctx); err != nil {
				logging.Logger.Warn("catalog refresh failed, serving last-good snapshot", "error", err)
			}
		}
	}
}

func (r *Reader) refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := emptySnapshot()

	rows, err := r.db.QueryContext(ctx, `SELECT provider_id, cli_key, display_name, base_urls, base_url_mode,
		api_key, enabled, sort_order, cost_multiplier, model_slots_json, auth_mode
		FROM providers ORDER BY sort_order ASC`)
	if err != nil {
		return fmt.Errorf("query providers: %w", err)
	}
	for rows.Next() {
		var (
			p           Provider
			baseURLsRaw string
			modeRaw     string
			enabledInt  int
			slotsRaw    string
			authRaw     string
		)
		if err := rows.Scan(&p.ID, &p.CLIKey, &p.DisplayName, &baseURLsRaw, &modeRaw,
			&p.APIKey, &enabledInt, &p.SortOrder, &p.CostMultiplier, &slotsRaw, &authRaw); err != nil {
			rows.Close()
			return fmt.Errorf("scan provider row: %w", err)
		}
		p.BaseURLs = splitNonEmpty(baseURLsRaw, ",")
		p.BaseURLMode = BaseURLMode(modeRaw)
		p.Enabled = enabledInt != 0
		p.AuthMode = AuthMode(authRaw)
		p.ModelSlots = parseModelSlots(slotsRaw)
		next.providers = append(next.providers, p)
		next.byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate providers: %w", err)
	}
	rows.Close()

	priceRows, err := r.db.QueryContext(ctx, `SELECT cli_key, model, price_json, updated_at FROM model_prices`)
	if err != nil {
		return fmt.Errorf("query model_prices: %w", err)
	}
	for priceRows.Next() {
		var (
			pr        PriceRecord
			updatedAt int64
		)
		if err := priceRows.Scan(&pr.CLIKey, &pr.Model, &pr.PriceJSON, &updatedAt); err != nil {
			priceRows.Close()
			return fmt.Errorf("scan model_prices row: %w", err)
		}
		pr.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		next.prices[pr.CLIKey+"|"+pr.Model] = pr
	}
	if err := priceRows.Err(); err != nil {
		priceRows.Close()
		return fmt.Errorf("iterate model_prices: %w", err)
	}
	priceRows.Close()

	r.current.Store(next)
	return nil
}

func parseModelSlots(raw string) map[string]string {
	slots := make(map[string]string)
	if raw == "" || raw == "{}" {
		return slots
	}
	// model_slots_json is a flat string->string JSON object; decode lazily
	// here to avoid importing encoding/json into a file that otherwise has
	// no other JSON handling needs beyond this one column.
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "{")
	raw = strings.TrimSuffix(raw, "}")
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, ":", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.Trim(strings.TrimSpace(kv[0]), `"`)
		v := strings.Trim(strings.TrimSpace(kv[1]), `"`)
		if k != "" && v != "" {
			slots[k] = v
		}
	}
	return slots
}

// claudeSubstringSlots is the match order for a requested model that
// doesn't request thinking: the first slot whose key appears as a
// substring of the requested model wins.
var claudeSubstringSlots = []string{"haiku", "sonnet", "opus"}

// EffectiveModel picks the best-matching Claude model slot for a request,
// per the reasoning-wins-on-thinking rule (§4.4 step 2): the reasoning
// slot wins when thinking is requested, otherwise the first of
// haiku/sonnet/opus that appears as a substring of requestedModel, else
// the main slot. matched is false when no slot applies and the requested
// model should be forwarded unchanged.
func EffectiveModel(slots map[string]string, requestedModel string, thinkingRequested bool) (model, mappingKind string, matched bool) {
	if len(slots) == 0 {
		return requestedModel, "", false
	}
	if thinkingRequested {
		if m := slots["reasoning"]; m != "" {
			return m, "reasoning", true
		}
	}
	lower := strings.ToLower(requestedModel)
	for _, kind := range claudeSubstringSlots {
		if strings.Contains(lower, kind) {
			if m := slots[kind]; m != "" {
				return m, kind, true
			}
		}
	}
	if m := slots["main"]; m != "" {
		return m, "main", true
	}
	return requestedModel, "", false
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ProvidersFor returns the enabled providers for cliKey, in sort_order.
func (r *Reader) ProvidersFor(cliKey string) []Provider {
	snap := r.current.Load()
	out := make([]Provider, 0, len(snap.providers))
	for _, p := range snap.providers {
		if p.CLIKey == cliKey && p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// Get returns a single provider by id.
func (r *Reader) Get(providerID string) (Provider, bool) {
	snap := r.current.Load()
	p, ok := snap.byID[providerID]
	return p, ok
}

// Price resolves the price_json for (cliKey, model), consulting the alias
// map on an exact miss. Returns ok=false if neither the exact name nor its
// alias has a priced record.
func (r *Reader) Price(cliKey, model string) (string, bool) {
	snap := r.current.Load()
	if pr, ok := snap.prices[cliKey+"|"+model]; ok {
		return pr.PriceJSON, true
	}
	if canonical, ok := r.aliases[model]; ok && canonical != model {
		if pr, ok := snap.prices[cliKey+"|"+canonical]; ok {
			return pr.PriceJSON, true
		}
	}
	return "", false
}

// Multiplier returns a provider's cost_multiplier, defaulting to 1.0 for an
// unknown provider.
func (r *Reader) Multiplier(providerID string) (float64, bool) {
	p, ok := r.Get(providerID)
	if !ok {
		return 1.0, false
	}
	if p.CostMultiplier <= 0 {
		return 1.0, true
	}
	return p.CostMultiplier, true
}

// Close stops the refresh loop and closes the underlying DB handle.
func (r *Reader) Close() error {
	if r == nil {
		return nil
	}
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

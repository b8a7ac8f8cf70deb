package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"

	"github.com/maxzysparks/SightCoin/pkg/audit"
	"github.com/maxzysparks/SightCoin/pkg/hardening"
	"github.com/maxzysparks/SightCoin/pkg/ledger"
	"github.com/maxzysparks/SightCoin/pkg/ledgerbus"
	"github.com/maxzysparks/SightCoin/pkg/metrics"
	"github.com/maxzysparks/SightCoin/pkg/policy"
	"github.com/maxzysparks/SightCoin/pkg/ratelimit"
	"github.com/maxzysparks/SightCoin/pkg/store"
	"github.com/maxzysparks/SightCoin/pkg/stream"
	"github.com/maxzysparks/SightCoin/pkg/telemetry"
)

type Server struct {
	// engineMu serializes engine calls; the engine expects a sequenced
	// execution environment and only defends against reentrancy itself.
	engineMu sync.Mutex
	Engine   *policy.Engine

	DB                  gatewayDB
	Cache               store.Cache
	Audit               auditStore
	Metrics             *metrics.Registry
	Events              *stream.Hub
	RateLimiter         ratelimit.Limiter
	RateLimitEnabled    bool
	RateLimitPerWindow  int
	RateLimitWindow     time.Duration
	AuthMode            string
	AuthSecret          string
	MaxRequestBodyBytes int64
	IdempotencyTTL      time.Duration
	MovementConsumer    ledgerbus.Consumer
	MetricsInterval     time.Duration
}

type auditStore interface {
	Append(ctx context.Context, e audit.Entry) error
	Recent(ctx context.Context, limit int) ([]audit.Entry, error)
}

type gatewayDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type gatewayDBCloser interface {
	gatewayDB
	Close()
}

type gatewayInitTelemetryFunc func(ctx context.Context, service string) (func(context.Context) error, error)
type gatewayOpenDBFunc func(ctx context.Context) (gatewayDBCloser, error)
type gatewayOpenRedisFunc func(ctx context.Context) (*redis.Client, error)
type gatewayListenFunc func(server *http.Server) error
type gatewayStartLoopsFunc func(s *Server)

// Testable variables for main()
var (
	logFatalf      = log.Fatalf
	initTelemetryG = telemetry.Init
	openDBFnG      = func(ctx context.Context) (gatewayDBCloser, error) { return store.NewPostgresPool(ctx) }
	openRedisFnG   = store.NewRedis
	listenFnG      = func(server *http.Server) error { return server.ListenAndServe() }
	startLoopsFnG  = func(s *Server) {
		go s.metricsLoop(context.Background())
		if s.MovementConsumer != nil {
			go s.movementLoop(context.Background())
		}
	}
)

func main() {
	if err := runGateway(initTelemetryG, openDBFnG, openRedisFnG, listenFnG, startLoopsFnG); err != nil {
		logFatalf("gateway: %v", err)
	}
}

func runGateway(
	initTelemetry gatewayInitTelemetryFunc,
	openDB gatewayOpenDBFunc,
	openRedis gatewayOpenRedisFunc,
	listen gatewayListenFunc,
	startLoops gatewayStartLoopsFunc,
) error {
	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, "gateway")
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	s := &Server{
		Metrics:             metrics.NewRegistry(),
		Events:              stream.NewHub(),
		AuthMode:            env("AUTH_MODE", "oidc_hs256"),
		AuthSecret:          env("OIDC_HS256_SECRET", ""),
		MaxRequestBodyBytes: int64(envInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
		IdempotencyTTL:      envDurationSec("IDEMPOTENCY_TTL_SEC", 86400),
		MetricsInterval:     envDurationSec("METRICS_INTERVAL_SEC", 15),
	}
	if s.MaxRequestBodyBytes <= 0 {
		s.MaxRequestBodyBytes = 1 << 20
	}

	runtimeEnv := env("ENVIRONMENT", env("APP_ENV", ""))
	if strings.EqualFold(s.AuthMode, "off") && env("ALLOW_INSECURE_AUTH_OFF", "false") != "true" {
		return errors.New("AUTH_MODE=off is disabled unless ALLOW_INSECURE_AUTH_OFF=true")
	}
	if err := hardening.ValidateProduction(hardening.Options{
		Service:               "gateway",
		Environment:           runtimeEnv,
		AuthMode:              s.AuthMode,
		StrictProdSecurity:    env("STRICT_PROD_SECURITY", "true"),
		DatabaseRequireTLS:    env("DATABASE_REQUIRE_TLS", ""),
		RedisAddr:             env("REDIS_ADDR", ""),
		RedisRequireTLS:       env("REDIS_REQUIRE_TLS", ""),
		RedisTLSInsecure:      env("REDIS_TLS_INSECURE", ""),
		RedisAllowInsecureTLS: env("REDIS_ALLOW_INSECURE_TLS", ""),
		CORSAllowedOrigins:    env("CORS_ALLOWED_ORIGINS", ""),
		RequiredServiceSecrets: []hardening.EnvRequirement{
			{Name: "OIDC_HS256_SECRET", Value: s.AuthSecret},
		},
	}); err != nil {
		return err
	}

	pool, err := openDB(ctx)
	if err != nil {
		log.Printf("database unavailable, audit log held in memory: %v", err)
		s.Audit = audit.NewMemoryLog(envInt("AUDIT_MEMORY_CAPACITY", 4096))
	} else {
		defer pool.Close()
		s.DB = pool
		s.Audit = &audit.Writer{
			DB:       pool,
			HashSalt: []byte(env("AUDIT_HASH_SALT", "")),
			Redact:   strings.EqualFold(env("AUDIT_REDACT", "false"), "true"),
		}
	}

	redisClient, err := openRedis(ctx)
	if err != nil {
		log.Printf("redis unavailable, falling back to in-memory cache/limits: %v", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	s.Cache = store.NewCache(ctx, redisClient)

	s.RateLimitEnabled = env("RATE_LIMIT_ENABLED", "true") == "true"
	s.RateLimitPerWindow = envInt("RATE_LIMIT_PER_MINUTE", 240)
	s.RateLimitWindow = envDurationSec("RATE_LIMIT_WINDOW_SEC", 60)
	if s.RateLimitWindow <= 0 {
		s.RateLimitWindow = time.Minute
	}
	if s.RateLimitEnabled {
		if redisClient != nil {
			s.RateLimiter = ratelimit.NewRedis(redisClient, s.RateLimitWindow)
		} else {
			s.RateLimiter = ratelimit.NewInMemory(s.RateLimitWindow)
		}
	}

	engine, err := buildEngine(auditFan{s: s})
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	s.Engine = engine

	if brokers := env("LEDGER_EVENTS_BROKERS", ""); strings.TrimSpace(brokers) != "" {
		consumer, err := ledgerbus.NewKafkaConsumer(ledgerbus.KafkaConfig{
			Brokers: strings.Split(brokers, ","),
			Topic:   env("LEDGER_EVENTS_TOPIC", "ledger.movements"),
			GroupID: env("LEDGER_EVENTS_GROUP", "sightcoin-gateway"),
		})
		if err != nil {
			return fmt.Errorf("ledger bus: %w", err)
		}
		s.MovementConsumer = consumer
		defer consumer.Close()
	}

	r := s.routes()

	if startLoops != nil {
		startLoops(s)
	}

	addr := env("ADDR", ":8080")
	log.Printf("gateway listening on %s", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 15),
		WriteTimeout:      envDurationSec("HTTP_WRITE_TIMEOUT_SEC", 30),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	if listen == nil {
		return errors.New("listen function required")
	}
	return listen(server)
}

// buildEngine assembles the policy engine from environment configuration.
// LEDGER_URL selects the external balance ledger; without it balances are
// held in process, which is only useful for development.
func buildEngine(auditor policy.Auditor) (*policy.Engine, error) {
	cfg := policy.Config{
		MaxSupply:          envUint64("MAX_SUPPLY", 0),
		MintLimitPerTx:     envUint64("MINT_LIMIT_PER_TX", 0),
		TransferLimitPerTx: envUint64("TRANSFER_LIMIT_PER_TX", 0),
		Holding:            env("HOLDING_ACCOUNT", ""),
		NativeToken:        env("NATIVE_TOKEN", ""),
		InitialAdmin:       env("INITIAL_ADMIN", ""),
	}
	start, err := envTime("MINT_WINDOW_START")
	if err != nil {
		return nil, err
	}
	end, err := envTime("MINT_WINDOW_END")
	if err != nil {
		return nil, err
	}
	if start.IsZero() {
		start = time.Now().UTC()
	}
	if end.IsZero() {
		end = start.Add(envDurationSec("MINT_WINDOW_SEC", 90*86400))
	}
	cfg.WindowStart = start
	cfg.WindowEnd = end

	var lgr ledger.Ledger
	if base := env("LEDGER_URL", ""); strings.TrimSpace(base) != "" {
		lgr = &ledger.HTTPLedger{
			Client:     telemetry.InstrumentClient(&http.Client{Timeout: time.Millisecond * time.Duration(envInt("LEDGER_TIMEOUT_MS", 3000))}),
			BaseURL:    strings.TrimRight(base, "/"),
			AuthHeader: env("LEDGER_AUTH_HEADER", ""),
			AuthToken:  env("LEDGER_AUTH_TOKEN", ""),
			Retries:    envInt("LEDGER_RETRIES", 1),
			RetryDelay: time.Millisecond * time.Duration(envInt("LEDGER_RETRY_DELAY_MS", 50)),
		}
	} else {
		log.Printf("LEDGER_URL not set, using in-process ledger")
		lgr = ledger.NewInMemory()
	}
	return policy.New(cfg, lgr, ledger.NewInMemoryCustody(), auditor)
}

// auditFan gives the engine one Append target that reaches the audit store,
// the event stream and the metrics registry.
type auditFan struct{ s *Server }

func (f auditFan) Append(ctx context.Context, e audit.Entry) error {
	s := f.s
	if s.Audit != nil {
		if err := s.Audit.Append(ctx, e); err != nil {
			log.Printf("audit append: %v", err)
		}
	}
	if s.Metrics != nil {
		s.Metrics.IncOperation(e.Kind, e.Outcome)
		if e.Outcome == audit.OutcomeDenied {
			s.Metrics.IncReason(e.Reason)
		}
	}
	if s.Events != nil {
		s.Events.Publish(stream.NewEvent(stream.TypeAudit, e))
	}
	return nil
}

func (s *Server) metricsLoop(ctx context.Context) {
	interval := s.MetricsInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshGauges()
		}
	}
}

func (s *Server) refreshGauges() {
	if s.Engine == nil || s.Metrics == nil {
		return
	}
	s.Metrics.SetGauge("total_issued", float64(s.Engine.TotalIssued()))
	s.Metrics.SetGauge("max_supply", float64(s.Engine.MaxSupply()))
	paused := 0.0
	if s.Engine.Paused() {
		paused = 1
	}
	s.Metrics.SetGauge("paused", paused)
}

// movementLoop replays external ledger movements through the engine's
// transfer hook. Movements the hook rejects are audited as denied so
// operators can see direct ledger activity that violated policy.
func (s *Server) movementLoop(ctx context.Context) {
	for {
		msg, err := s.MovementConsumer.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("ledger bus read: %v", err)
			time.Sleep(time.Second)
			continue
		}
		s.handleMovement(ctx, msg.Value)
	}
}

func (s *Server) handleMovement(ctx context.Context, raw []byte) {
	evt, err := ledgerbus.DecodeBalanceEvent(raw)
	if err != nil {
		log.Printf("ledger bus: %v", err)
		return
	}
	if s.Metrics != nil {
		s.Metrics.IncLedgerMovement()
	}
	s.engineMu.Lock()
	verr := s.Engine.VerifyMovement(evt.From, evt.To, evt.Amount)
	s.engineMu.Unlock()
	if verr == nil {
		return
	}
	entry := audit.Entry{
		ID:           uuid.NewString(),
		Kind:         policy.KindMovement,
		Actor:        evt.From,
		Subject:      evt.To,
		Counterparty: evt.From,
		Amount:       evt.Amount,
		Outcome:      audit.OutcomeDenied,
		Reason:       policy.Reason(verr),
		At:           evt.At,
	}
	_ = auditFan{s: s}.Append(ctx, entry)
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envUint64(k string, def uint64) uint64 {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.ParseUint(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func envDurationSec(k string, def int) time.Duration {
	return time.Second * time.Duration(envInt(k, def))
}

func envTime(k string) (time.Time, error) {
	raw := strings.TrimSpace(os.Getenv(k))
	if raw == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", k, err)
	}
	return ts.UTC(), nil
}

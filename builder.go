package authclient

import (
	"context"
	"errors"
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/authclient/internal/audit"
	"github.com/MrEthical07/authclient/internal/flows"
	internalmetrics "github.com/MrEthical07/authclient/internal/metrics"
	"github.com/MrEthical07/authclient/internal/recoverylink"
	"github.com/MrEthical07/authclient/jwt"
	"github.com/MrEthical07/authclient/password"
	"github.com/MrEthical07/authclient/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles a Manager. Configure it during initialization, call Build
// once, and discard it.
type Builder struct {
	config      Config
	backend     Backend
	logger      *slog.Logger
	auditSink   AuditSink
	credentials session.Store
	inspector   *jwt.Inspector
	redis       redis.UniversalClient
	registry    *recoverylink.Registry
	now         func() time.Time

	built bool
}

// New returns a Builder over DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithBackend sets the identity backend. Required.
func (b *Builder) WithBackend(backend Backend) *Builder {
	b.backend = backend
	return b
}

// WithLogger sets the logger; slog.Default is used otherwise.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets where audit events go when Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithCredentialStore sets the local credential store that SignOut clears.
// Backends that persist tokens themselves should share the same store.
func (b *Builder) WithCredentialStore(store session.Store) *Builder {
	b.credentials = store
	return b
}

// WithInspector overrides the recovery token inspector built from
// Config.Recovery.
func (b *Builder) WithInspector(inspector *jwt.Inspector) *Builder {
	b.inspector = inspector
	return b
}

// WithRedis enables Redis-backed attempt guards for scoped flows.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithConsumedLinkRegistry shares a consumed-link registry between Managers
// of one process (e.g. one Manager per connection).
func (b *Builder) WithConsumedLinkRegistry(registry *recoverylink.Registry) *Builder {
	b.registry = registry
	return b
}

// WithMetricsEnabled toggles in-process metrics.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the backend latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

func (b *Builder) withClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// NewConsumedLinkRegistry returns a registry for WithConsumedLinkRegistry.
func NewConsumedLinkRegistry() *recoverylink.Registry {
	return recoverylink.NewRegistry(nil)
}

// Build validates the configuration and returns a Manager. The Manager is
// not started; call Start (or any operation) to fetch the session.
func (b *Builder) Build() (*Manager, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.backend == nil {
		return nil, ErrBackendRequired
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	// -------- PASSWORD --------
	hasher, err := password.NewHasher(password.HashConfig{
		Memory:      cfg.Password.HashMemory,
		Time:        cfg.Password.HashTime,
		Parallelism: cfg.Password.HashParallelism,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		return nil, err
	}
	policy := password.DefaultPolicy()
	policy.MinLength = cfg.Password.MinLength
	policy.ProductName = cfg.Password.ProductName
	policy.Blocklist = append([]string(nil), cfg.Password.Blocklist...)

	// -------- RECOVERY TOKENS --------
	inspector := b.inspector
	if inspector == nil {
		inspector, err = jwt.NewInspector(jwt.Config{
			SigningMethod: jwt.SigningMethod(cfg.Recovery.TokenSigningMethod),
			Key:           []byte(cfg.Recovery.TokenKey),
			Leeway:        cfg.Recovery.TokenLeeway,
		})
		if err != nil {
			return nil, err
		}
	}
	registry := b.registry
	if registry == nil {
		registry = recoverylink.NewRegistry(now)
	}

	m := &Manager{
		config:      cfg,
		backend:     b.backend,
		logger:      logger.With("component", "authclient"),
		metrics:     internalmetrics.New(internalmetrics.Config{Enabled: cfg.Metrics.Enabled, EnableLatencyHistograms: cfg.Metrics.EnableLatencyHistograms}),
		inspector:   inspector,
		registry:    registry,
		hasher:      hasher,
		policy:      policy,
		credentials: b.credentials,
		redis:       b.redis,
		now:         now,
		afterFunc: func(d time.Duration, fn func()) stopper {
			return time.AfterFunc(d, fn)
		},
		state:    initialState(),
		watchers: map[uint64]func(State){},
		ops:      make(chan struct{}, 1),
		initDone: make(chan struct{}),
		done:     make(chan struct{}),
	}

	// -------- AUDIT --------
	m.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	// -------- FLOWS --------
	m.flows = flows.Deps{
		Establish: flows.EstablishRecoveryDeps{
			Now:            now,
			Inspect:        m.inspectRecoveryToken,
			IsConsumed:     registry.IsConsumed,
			MarkConsumed:   registry.MarkConsumed,
			Exchange:       m.exchangeRecovery,
			SignOutCurrent: m.signOutForRecovery,
			IsLinkInvalid:  func(err error) bool { return errors.Is(err, ErrRecoveryLinkInvalid) },
			MetricInc:      func(id int) { m.metrics.Inc(internalmetrics.MetricID(id)) },
			EmitAudit:      m.emitAudit,
			Metrics: flows.EstablishRecoveryMetrics{
				Established: int(MetricRecoveryEstablished),
				AutoLogin:   int(MetricRecoveryAutoLogin),
				LinkInvalid: int(MetricRecoveryLinkInvalid),
			},
			Events: flows.EstablishRecoveryEvents{
				Established: AuditEventRecoveryEstablished,
				Rejected:    AuditEventRecoveryRejected,
			},
			Errors: flows.EstablishRecoveryErrors{
				NotReady:    ErrUnexpected,
				LinkInvalid: ErrRecoveryLinkInvalid,
			},
		},
		SignOut: flows.SignOutCleanupDeps{
			RemoteSignOut: func(ctx context.Context) error {
				start := m.now()
				defer m.observeBackend(start)
				return m.backend.SignOut(ctx)
			},
			MetricInc:      func(id int) { m.metrics.Inc(internalmetrics.MetricID(id)) },
			CleanupFailure: int(MetricSignOutCleanupFailure),
		},
	}
	if m.credentials != nil {
		m.flows.SignOut.ClearCredentials = m.credentials.Clear
	}

	b.built = true
	return m, nil
}

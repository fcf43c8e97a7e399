// Package fixture wires the entitlement services on an in-memory database
// with the default catalog seeded.
package fixture

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/entitlements/internal/audit/domain"
	auditrepo "github.com/smallbiznis/entitlements/internal/audit/repository"
	auditservice "github.com/smallbiznis/entitlements/internal/audit/service"
	"github.com/smallbiznis/entitlements/internal/authorization"
	"github.com/smallbiznis/entitlements/internal/clock"
	"github.com/smallbiznis/entitlements/internal/config"
	entitlementdomain "github.com/smallbiznis/entitlements/internal/entitlement/domain"
	entitlementservice "github.com/smallbiznis/entitlements/internal/entitlement/service"
	"github.com/smallbiznis/entitlements/internal/entitlementsvc"
	featuredomain "github.com/smallbiznis/entitlements/internal/feature/domain"
	featurerepo "github.com/smallbiznis/entitlements/internal/feature/repository"
	featureservice "github.com/smallbiznis/entitlements/internal/feature/service"
	"github.com/smallbiznis/entitlements/internal/keylock"
	"github.com/smallbiznis/entitlements/internal/observability/metrics"
	plandomain "github.com/smallbiznis/entitlements/internal/plan/domain"
	planrepo "github.com/smallbiznis/entitlements/internal/plan/repository"
	planservice "github.com/smallbiznis/entitlements/internal/plan/service"
	"github.com/smallbiznis/entitlements/internal/seed"
	subscriptiondomain "github.com/smallbiznis/entitlements/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/entitlements/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/entitlements/internal/subscription/service"
	"github.com/smallbiznis/entitlements/internal/testutil/testdb"
	usagedomain "github.com/smallbiznis/entitlements/internal/usage/domain"
	"github.com/smallbiznis/entitlements/internal/usage/liveevents"
	usageservice "github.com/smallbiznis/entitlements/internal/usage/service"
	usagestore "github.com/smallbiznis/entitlements/internal/usage/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Start is the fixed instant every fixture clock starts at.
var Start = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type Env struct {
	DB            *gorm.DB
	Clock         *clock.FakeClock
	Config        *config.EntitlementsConfigHolder
	Node          *snowflake.Node
	Locker        keylock.Locker
	Store         usagedomain.CounterStore
	Hub           *liveevents.Hub
	SubRepo       subscriptiondomain.Repository
	Audit         auditdomain.Service
	Authz         authorization.Service
	Features      featuredomain.Service
	Plans         plandomain.Service
	Subscriptions subscriptiondomain.Service
	Entitlements  entitlementdomain.Service
	Usage         usagedomain.Service
	Service       *entitlementsvc.Service
}

type options struct {
	cfg    config.EntitlementsConfig
	store  func(db *gorm.DB, clk clock.Clock) usagedomain.CounterStore
	locker keylock.Locker
}

type Option func(*options)

func WithConfig(cfg config.EntitlementsConfig) Option {
	return func(o *options) { o.cfg = cfg }
}

func WithMemoryStore() Option {
	return func(o *options) {
		o.store = func(*gorm.DB, clock.Clock) usagedomain.CounterStore { return usagestore.NewMemoryStore() }
	}
}

// WithStore wraps the default SQL store, so tests can inject failures.
func WithStore(wrap func(usagedomain.CounterStore) usagedomain.CounterStore) Option {
	return func(o *options) {
		o.store = func(db *gorm.DB, clk clock.Clock) usagedomain.CounterStore {
			return wrap(usagestore.NewSQLStore(db, clk))
		}
	}
}

func WithLocker(locker keylock.Locker) Option {
	return func(o *options) { o.locker = locker }
}

func New(t testing.TB, opts ...Option) *Env {
	t.Helper()

	o := options{
		cfg: DefaultConfig(),
		store: func(db *gorm.DB, clk clock.Clock) usagedomain.CounterStore {
			return usagestore.NewSQLStore(db, clk)
		},
		locker: keylock.NewMemoryLocker(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	db := testdb.Open(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(Start)
	holder := config.NewStaticEntitlementsConfigHolder(o.cfg)
	log := zap.NewNop()
	noop := metrics.NewNoop()

	env := &Env{
		DB:      db,
		Clock:   clk,
		Config:  holder,
		Node:    node,
		Locker:  o.locker,
		Store:   o.store(db, clk),
		Hub:     liveevents.NewHub(),
		SubRepo: subscriptionrepo.Provide(),
	}

	env.Audit = auditservice.New(auditservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Repo:  auditrepo.Provide(),
		Clock: clk,
	})
	enforcer, err := authorization.NewEnforcer(db)
	require.NoError(t, err)
	env.Authz = authorization.NewService(authorization.Params{
		Log:      log,
		Enforcer: enforcer,
		AuditSvc: env.Audit,
	})
	env.Features = featureservice.New(featureservice.Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Repo:     featurerepo.Provide(),
		Clock:    clk,
		Config:   holder,
		AuditSvc: env.Audit,
	})
	env.Plans = planservice.New(planservice.Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Repo:       planrepo.Provide(),
		FeatureSvc: env.Features,
		Clock:      clk,
		Config:     holder,
		AuditSvc:   env.Audit,
	})
	env.Subscriptions = subscriptionservice.New(subscriptionservice.Params{
		DB:    db,
		Log:   log,
		Repo:  env.SubRepo,
		Clock: clk,
	})
	env.Entitlements = entitlementservice.New(entitlementservice.Params{
		DB:         db,
		Log:        log,
		Clock:      clk,
		Config:     holder,
		Locker:     env.Locker,
		SubRepo:    env.SubRepo,
		FeatureSvc: env.Features,
		PlanSvc:    env.Plans,
		AuditSvc:   env.Audit,
		Metrics:    noop,
	})
	env.Usage = usageservice.New(usageservice.Params{
		DB:           db,
		Log:          log,
		Clock:        clk,
		Cfg:          config.Config{Scheduler: config.SchedulerConfig{ResetConcurrency: 4}},
		Config:       holder,
		Locker:       env.Locker,
		Store:        env.Store,
		SubRepo:      env.SubRepo,
		FeatureSvc:   env.Features,
		Entitlements: env.Entitlements,
		AuditSvc:     env.Audit,
		Metrics:      noop,
		Hub:          env.Hub,
	})

	env.Service = entitlementsvc.New(entitlementsvc.Params{
		Log:           log,
		Authz:         env.Authz,
		Features:      env.Features,
		Plans:         env.Plans,
		Subscriptions: env.Subscriptions,
		Entitlements:  env.Entitlements,
		Usage:         env.Usage,
		Audit:         env.Audit,
	})

	require.NoError(t, seed.EnsureCatalog(context.Background(), env.Features, env.Plans, log))
	return env
}

// Provision creates a tenant on planCode and returns its id.
func (e *Env) Provision(t testing.TB, planCode string) snowflake.ID {
	t.Helper()

	tenantID := e.Node.Generate()
	_, err := e.Entitlements.Provision(context.Background(), entitlementdomain.ProvisionRequest{
		TenantID: tenantID,
		PlanCode: planCode,
	})
	require.NoError(t, err)
	return tenantID
}

// DefaultConfig is the config New starts from. Concurrency tests wait on the
// single sqlite connection as well as the key lock, hence the long lock timeout.
func DefaultConfig() config.EntitlementsConfig {
	cfg := config.DefaultEntitlementsConfig()
	cfg.LockTimeout = 5 * time.Second
	return cfg
}

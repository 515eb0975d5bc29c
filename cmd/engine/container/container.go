package container

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/runlet/engine/blob"
	"github.com/runlet/engine/cmd/engine/trigger"
	"github.com/runlet/engine/common/bootstrap"
	"github.com/runlet/engine/common/metrics"
	"github.com/runlet/engine/common/repository"
	"github.com/runlet/engine/credits"
	"github.com/runlet/engine/monitor"
	"github.com/runlet/engine/nodes"
	"github.com/runlet/engine/nodes/security"
	"github.com/runlet/engine/runtime"
	"github.com/runlet/engine/steps"
	"github.com/runlet/engine/store"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	// Components
	Components *bootstrap.Components

	// Engine
	Registry *runtime.Registry
	Runtime  *runtime.Runtime
	Metrics  *metrics.Engine

	// Stores
	Executions  store.ExecutionStore
	Deployments store.DeploymentStore
	Credits     credits.Manager
	Objects     blob.Store
	Presigner   *blob.Presigner

	// Cron trigger dispatcher; started by main after routes are up
	Dispatcher *trigger.CronDispatcher
}

// NewContainer initializes all services and repositories once.
//
// Redis-backed collaborators are used when Redis is available and fall back
// to in-process implementations otherwise, so the engine also runs in a
// single-binary dev setup. The same applies to Postgres-backed stores.
func NewContainer(components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	log := components.Logger
	devMode := cfg.Engine.Mode == runtime.ModeDev

	presigner := blob.NewPresigner(
		cfg.Blob.SigningSecret,
		cfg.Blob.PublicBaseURL,
		cfg.Blob.DefaultExpiry,
		cfg.Blob.MaxExpiry,
	)

	var objects blob.Store
	if components.Redis != nil {
		objects = blob.NewRedis(blob.RedisStoreOpts{
			Redis:     components.Redis,
			Presigner: presigner,
			MaxBytes:  cfg.Blob.MaxObjectBytes,
			Logger:    log,
		})
	} else {
		objects = blob.NewMemory(presigner)
	}

	// Credit gating is bypassed in dev mode and when enforcement is off;
	// usage is still recorded either way.
	var creditManager credits.Manager
	if components.Redis != nil {
		creditManager = credits.NewRedis(credits.RedisManagerOpts{
			Redis:   components.Redis,
			DevMode: devMode || !cfg.Credits.Enforce,
		})
	} else {
		creditManager = credits.NewMemory(devMode || !cfg.Credits.Enforce)
	}

	var executions store.ExecutionStore
	var deployments store.DeploymentStore
	if components.DB != nil {
		executions = repository.NewExecutionRepository(components.DB)
		deployments = repository.NewWorkflowRepository(components.DB)
	} else {
		executions = store.NewMemory()
		deployments = store.NewMemoryDeployments()
	}

	var broadcaster monitor.Broadcaster = monitor.Nop{}
	if components.Redis != nil {
		broadcaster = monitor.NewRedis(monitor.RedisBroadcasterOpts{
			Redis: components.Redis,
			Log:   log,
		})
	}

	engineMetrics := metrics.NewEngine(prometheus.DefaultRegisterer)

	stepFactory := steps.DirectFactory()
	if cfg.Engine.DurableSteps && components.Redis != nil {
		cache := steps.NewRedisCache(components.Redis, cfg.Engine.StepCacheTTL)
		stepFactory = steps.DurableFactory(cache, log, engineMetrics)
	}

	registry, err := nodes.Registry(nodes.Config{
		Guard:        security.NewGuard(),
		DefaultModel: cfg.Engine.Env["OPENAI_MODEL"],
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build node registry: %w", err)
	}

	rt, err := runtime.New(runtime.Opts{
		Registry:    registry,
		Store:       objects,
		Secrets:     runtime.EnvSecrets{Prefix: "SECRET_"},
		Credits:     creditManager,
		Executions:  executions,
		Broadcaster: broadcaster,
		Steps:       stepFactory,
		Env:         cfg.Engine.Env,
		Mode:        cfg.Engine.Mode,
		Logger:      log,
		Metrics:     engineMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build runtime: %w", err)
	}

	dispatcher := trigger.NewCronDispatcher(trigger.CronDispatcherOpts{
		Deployments: deployments,
		Runtime:     rt,
		Logger:      log.Named("cron"),
	})

	return &Container{
		Components:  components,
		Registry:    registry,
		Runtime:     rt,
		Metrics:     engineMetrics,
		Executions:  executions,
		Deployments: deployments,
		Credits:     creditManager,
		Objects:     objects,
		Presigner:   presigner,
		Dispatcher:  dispatcher,
	}, nil
}

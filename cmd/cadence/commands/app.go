package commands

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/teranos/cadence/am"
	"github.com/teranos/cadence/campaign"
	"github.com/teranos/cadence/internal/httpclient"
	"github.com/teranos/cadence/insight"
	"github.com/teranos/cadence/pulse/async"
	"github.com/teranos/cadence/pulse/budget"
	"github.com/teranos/cadence/pulse/schedule"
	"github.com/teranos/cadence/report"
	"github.com/teranos/cadence/webhook"
)

// app holds the wired runtime for one command invocation
type app struct {
	cfg       *am.Config
	jobs      *async.Store
	campaigns *campaign.Store
	webhooks  *webhook.Store
	runs      *schedule.RunStore
	registry  *async.HandlerRegistry
	runner    *async.Runner
	loop      *schedule.Loop
}

// newApp wires every handler into a runner and a scheduler loop over conn.
// Metrics are registered with reg; nil leaves the runner uninstrumented.
func newApp(cfg *am.Config, conn *sql.DB, reg prometheus.Registerer, log *zap.SugaredLogger) (*app, error) {
	a := &app{
		cfg:       cfg,
		jobs:      async.NewStore(conn),
		campaigns: campaign.NewStore(conn),
		webhooks:  webhook.NewStore(conn),
		runs:      schedule.NewRunStore(conn),
		registry:  async.NewHandlerRegistry(),
	}

	deliverer, err := campaign.NewDeliverer(campaign.DeliveryConfig{
		Mode:         cfg.Delivery.Mode,
		Endpoint:     cfg.Delivery.Endpoint,
		APIKey:       cfg.Delivery.APIKey,
		Timeout:      cfg.Delivery.Timeout(),
		AllowPrivate: cfg.HTTP.AllowPrivateTargets,
		UserAgent:    cfg.HTTP.UserAgent,
		PerSecond:    cfg.Campaign.DeliveriesPerSecond,
	}, log)
	if err != nil {
		return nil, err
	}
	engine := campaign.NewEngine(a.campaigns, log)
	a.registry.Register(campaign.NewDispatcher(a.campaigns, engine, deliverer, cfg.Campaign.InstanceBatch, log))

	client := httpclient.New(httpclient.Options{
		Timeout:      cfg.Delivery.Timeout(),
		AllowPrivate: cfg.HTTP.AllowPrivateTargets,
		UserAgent:    cfg.HTTP.UserAgent,
	})
	a.registry.Register(webhook.NewReplayHandler(a.webhooks, client, log))

	// Without an endpoint insight jobs have no handler and follow the
	// unknown-type policy
	if cfg.Insight.Endpoint != "" {
		insightClient := httpclient.New(httpclient.Options{
			Timeout:      cfg.Insight.Timeout(),
			AllowPrivate: cfg.HTTP.AllowPrivateTargets,
			UserAgent:    cfg.HTTP.UserAgent,
		})
		gen, err := insight.NewHTTPGenerator(insightClient, cfg.Insight.Endpoint, cfg.Insight.APIKey)
		if err != nil {
			return nil, err
		}
		a.registry.Register(insight.NewHandler(gen, log,
			insight.WithRateLimit(budget.NewLimiter(cfg.Insight.MaxCallsPerMinute)),
			insight.WithDailyLimit(budget.NewStore(conn), cfg.Insight.DailyLimit),
		))
	} else {
		log.Debugw("insight.endpoint not set, insight_generation jobs have no handler")
	}

	a.registry.Register(async.NewRetentionHandler(a.jobs, cfg.Retention.CompletedJobDays, log))
	a.registry.Register(report.NewHandler(a.jobs, a.campaigns, cfg.Pulse.Workers, log))

	runnerOpts := []async.RunnerOption{
		async.WithLogger(log),
		async.WithFailFastUnknownTypes(cfg.Pulse.FailFastUnknownTypes),
	}
	if reg != nil {
		runnerOpts = append(runnerOpts, async.WithMetrics(async.NewMetrics(reg)))
	}
	a.runner = async.NewRunner(a.jobs, a.registry, runnerOpts...)

	a.loop = schedule.NewLoop(a.runner, schedule.Config{
		Workers:   cfg.Pulse.Workers,
		BatchSize: cfg.Pulse.BatchSize,
		Interval:  cfg.Pulse.TickerInterval(),
		Lease:     cfg.Pulse.LeaseTimeout(),
	},
		schedule.WithReaper(a.jobs),
		schedule.WithEnqueuer(campaign.NewTrigger(a.campaigns, a.jobs, cfg.Pulse.MaxRetries, log)),
		schedule.WithRunStore(a.runs),
		schedule.WithLogger(log),
	)
	return a, nil
}

// applyReload adjusts the running loop to a reloaded configuration. Only
// pool sizes change live; everything else needs a restart.
func (a *app) applyReload(cfg *am.Config) error {
	a.loop.SetWorkers(cfg.Pulse.Workers)
	a.loop.SetBatchSize(cfg.Pulse.BatchSize)
	return nil
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"perpscan/config"
	"perpscan/internal/analysis"
	"perpscan/internal/exchange"
	"perpscan/internal/models"
	"perpscan/internal/notify"
	"perpscan/internal/pairs"
	"perpscan/logger"
)

// State names the stage the orchestrator is currently in. Exposed for
// logging and for the periodic report.
type State string

const (
	StateIdle         State = "idle"
	StateResolving    State = "resolving"
	StateFetching     State = "fetching"
	StateAnalyzing    State = "analyzing"
	StateNotifying    State = "notifying"
	StateShuttingDown State = "shutting_down"
)

// Cron spec for the daily common-pair refresh, midnight UTC.
const pairRefreshSpec = "0 0 * * *"

// Orchestrator drives the poll/analyze/notify cycle on a cron schedule.
// A cycle that fires while the previous one is still running is dropped.
type Orchestrator struct {
	cfg      *config.Config
	adapters []exchange.Adapter
	resolver *pairs.Resolver
	notifier *notify.Notifier
	log      *logger.Entry

	cycleMu sync.Mutex

	stateMu sync.RWMutex
	state   State
}

func NewOrchestrator(cfg *config.Config, adapters []exchange.Adapter, resolver *pairs.Resolver, notifier *notify.Notifier) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		adapters: adapters,
		resolver: resolver,
		notifier: notifier,
		log:      logger.GetLogger().WithComponent("scheduler"),
		state:    StateIdle,
	}
}

func (o *Orchestrator) State() State {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.stateMu.Lock()
	o.state = s
	o.stateMu.Unlock()
}

// Run schedules cycles per the configured cron expression and blocks until
// ctx is cancelled. Cron times are interpreted in UTC. With the daily
// cadence a separate midnight entry recomputes the common-pair set.
func (o *Orchestrator) Run(ctx context.Context) error {
	c := cron.New(cron.WithLocation(time.UTC))

	if _, err := c.AddFunc(o.cfg.Schedule.NotificationTime, func() {
		if err := o.RunCycle(ctx); err != nil {
			o.log.WithError(err).Error("scheduled cycle failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid notification_time '%s': %w", o.cfg.Schedule.NotificationTime, err)
	}

	if o.cfg.Schedule.CommonPairsUpdate == config.CadenceDaily {
		if _, err := c.AddFunc(pairRefreshSpec, func() {
			if err := o.refreshPairs(ctx); err != nil {
				o.log.WithError(err).Error("common pair refresh failed")
			}
		}); err != nil {
			return fmt.Errorf("registering pair refresh: %w", err)
		}
	}

	o.log.WithFields(logger.Fields{
		"notification_time":   o.cfg.Schedule.NotificationTime,
		"common_pairs_update": o.cfg.Schedule.CommonPairsUpdate,
		"exchanges":           len(o.adapters),
	}).Info("scheduler started")

	c.Start()
	<-ctx.Done()

	o.setState(StateShuttingDown)
	o.log.Info("scheduler shutting down, waiting for running jobs")
	<-c.Stop().Done()
	o.log.Info("scheduler stopped")
	return nil
}

// RunCycle executes one full cycle. Safe to call directly for one-shot
// runs; overlapping invocations are dropped, not queued.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	if !o.cycleMu.TryLock() {
		o.log.Warn("previous cycle still running, skipping this trigger")
		return nil
	}
	defer o.cycleMu.Unlock()
	defer o.setState(StateIdle)

	cycleID := uuid.NewString()[:8]
	log := o.log.WithFields(logger.Fields{"cycle_id": cycleID})
	start := time.Now()
	log.Info("cycle started")

	o.setState(StateResolving)
	key := pairs.Key(o.cfg.EnabledExchangeNames())
	pairSet, cached := o.resolver.Load(key, start)

	o.setState(StateFetching)
	snapshots := o.fetchAll(ctx, log)
	if len(snapshots) < pairs.MinExchanges {
		return o.abort(ctx, log, fmt.Sprintf("only %d of %d exchanges responded, need at least %d", len(snapshots), len(o.adapters), pairs.MinExchanges))
	}

	if !cached {
		var err error
		pairSet, err = o.resolver.Store(snapshots, start)
		if err != nil {
			var insufficient *pairs.InsufficientExchangesError
			if errors.As(err, &insufficient) {
				return o.abort(ctx, log, err.Error())
			}
			return o.abort(ctx, log, fmt.Sprintf("resolving common pairs: %v", err))
		}
	}
	log.WithFields(logger.Fields{"pairs": len(pairSet.Pairs), "cached": cached}).Info("common pair set resolved")

	o.setState(StateAnalyzing)
	filtered := analysis.FilterToPairs(snapshots, pairSet)
	divergences := analysis.TopFundingDivergence(filtered, analysis.DivergenceParams{
		MinVolumeUSD: o.cfg.Analysis.FRDivergence.MinVolumeUSD,
		TopN:         o.cfg.Analysis.FRDivergence.TopN,
	})
	ratios := analysis.LowOIRatio(filtered, analysis.RatioParams{
		BaseExchange: o.cfg.Analysis.OIRatio.BaseExchange,
		MinVolumeUSD: o.cfg.Analysis.OIRatio.MinVolumeUSD,
		MaxVolumeUSD: o.cfg.Analysis.OIRatio.MaxVolumeUSD,
		MaxOIRatio:   o.cfg.Analysis.OIRatio.MaxOIRatio,
		TopN:         o.cfg.Analysis.OIRatio.TopN,
	})

	o.setState(StateNotifying)
	names := make([]string, 0, len(snapshots))
	for name := range snapshots {
		names = append(names, name)
	}
	sort.Strings(names)
	if err := o.notifier.SendMarketAlert(ctx, divergences, ratios, names, o.cfg.Analysis.OIRatio.BaseExchange); err != nil {
		logger.IncrementCycleAborted()
		log.WithError(err).Error("alert delivery failed")
		return err
	}

	logger.IncrementCycleCompleted()
	log.WithFields(logger.Fields{
		"duration":    time.Since(start).Round(time.Millisecond).String(),
		"exchanges":   len(snapshots),
		"divergences": len(divergences),
		"ratios":      len(ratios),
	}).Info("cycle completed")
	return nil
}

// fetchAll queries every adapter concurrently and returns snapshots keyed
// by exchange name. A failing exchange is logged and left out; the cycle
// carries on with whoever answered.
func (o *Orchestrator) fetchAll(ctx context.Context, log *logger.Entry) map[string][]models.MarketSnapshot {
	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		snapshots = make(map[string][]models.MarketSnapshot, len(o.adapters))
	)

	for _, adapter := range o.adapters {
		wg.Add(1)
		go func(a exchange.Adapter) {
			defer wg.Done()
			start := time.Now()
			markets, err := a.FetchMarkets(ctx)
			if err != nil {
				log.WithError(err).WithFields(logger.Fields{"exchange": a.Name()}).Error("exchange fetch failed")
				return
			}
			mu.Lock()
			snapshots[a.Name()] = markets
			mu.Unlock()
			logger.LogPerformanceEntry(log, "scheduler", "fetch_markets", time.Since(start), logger.Fields{
				"exchange": a.Name(),
				"markets":  len(markets),
			})
		}(adapter)
	}
	wg.Wait()
	return snapshots
}

// refreshPairs recomputes and persists the common-pair set outside the
// regular cycle, so the first cycle after midnight starts from fresh data.
// It shares the cycle mutex: the resolver step must stay the only pair-cache
// writer, so a refresh that fires mid-cycle is dropped like any other
// overlapping trigger.
func (o *Orchestrator) refreshPairs(ctx context.Context) error {
	if !o.cycleMu.TryLock() {
		o.log.Warn("cycle in progress, skipping pair refresh")
		return nil
	}
	defer o.cycleMu.Unlock()

	log := o.log.WithFields(logger.Fields{"job": "pair_refresh"})
	snapshots := o.fetchAll(ctx, log)
	set, err := o.resolver.Store(snapshots, time.Now())
	if err != nil {
		return err
	}
	log.WithFields(logger.Fields{"pairs": len(set.Pairs)}).Info("common pair set refreshed")
	return nil
}

func (o *Orchestrator) abort(ctx context.Context, log *logger.Entry, reason string) error {
	logger.IncrementCycleAborted()
	log.WithFields(logger.Fields{"reason": reason}).Error("cycle aborted")
	if err := o.notifier.SendError(ctx, reason); err != nil {
		log.WithError(err).Warn("error notification failed")
	}
	return errors.New(reason)
}

package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"sharedcal/internal/ics"
	appLog "sharedcal/internal/log"
)

// RefresherOptions configures the periodic refresh.
type RefresherOptions struct {
	// Schedule is a standard five-field cron expression, e.g. "*/15 * * * *".
	Schedule string
	// Sources are imported into the store before each reload. May be empty.
	Sources []ics.Source
	Fetcher *ics.Fetcher
	// Location is used both for the cron schedule and for converting timed
	// ICS events to local dates.
	Location *time.Location
}

// Refresher periodically imports the ICS subscriptions and reloads the
// controller.
type Refresher struct {
	host    *Controller
	opts    RefresherOptions
	cron    *cron.Cron
	running sync.Mutex
}

// NewRefresher validates the schedule. Nothing runs until Start.
func NewRefresher(c *Controller, opts RefresherOptions) (*Refresher, error) {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if len(opts.Sources) > 0 && opts.Fetcher == nil {
		return nil, errors.New("host: refresher: ics sources configured without a fetcher")
	}
	if _, err := cron.ParseStandard(opts.Schedule); err != nil {
		return nil, fmt.Errorf("host: refresher: schedule %q: %w", opts.Schedule, err)
	}

	r := &Refresher{host: c, opts: opts}
	r.cron = cron.New(
		cron.WithLocation(opts.Location),
		cron.WithLogger(cronLogger{}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{})),
	)
	return r, nil
}

// Start schedules RunOnce. Jobs use ctx, so cancelling it aborts an
// in-flight run; call Stop to end the schedule.
func (r *Refresher) Start(ctx context.Context) error {
	_, err := r.cron.AddFunc(r.opts.Schedule, func() {
		if err := r.RunOnce(ctx); err != nil {
			appLog.Error("scheduled refresh failed", err)
		}
	})
	if err != nil {
		return fmt.Errorf("host: refresher: %w", err)
	}
	r.cron.Start()
	appLog.Info("refresher started", "schedule", r.opts.Schedule, "ics_sources", len(r.opts.Sources))
	return nil
}

// Stop ends the schedule and waits for a running job to finish.
func (r *Refresher) Stop() {
	<-r.cron.Stop().Done()
	appLog.Info("refresher stopped")
}

// RunOnce imports every source and then reloads the controller. Source
// failures are logged and do not prevent the reload.
func (r *Refresher) RunOnce(ctx context.Context) error {
	r.running.Lock()
	defer r.running.Unlock()

	start := time.Now()
	if n, err := r.SyncICS(ctx); err != nil {
		appLog.Error("ics sync incomplete", err, "created", n)
	}
	if err := r.host.Refresh(ctx); err != nil {
		return err
	}
	appLog.Info("refresh completed", "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// SyncICS fetches, parses and imports every source. It returns how many
// events were created and the first error met, if any.
func (r *Refresher) SyncICS(ctx context.Context) (int, error) {
	if len(r.opts.Sources) == 0 {
		return 0, nil
	}

	var firstErr error
	keep := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	results, errs := r.opts.Fetcher.FetchAll(ctx, r.opts.Sources)
	for _, err := range errs {
		keep(err)
	}

	created := 0
	for _, res := range results {
		items, err := ics.ParseICS(res.Source, res.Body, r.opts.Location)
		if err != nil {
			appLog.Error("ics parse failed", err, "id", res.Source.ID)
			keep(err)
			continue
		}
		rep, err := ics.Import(ctx, r.host.store, items)
		if err != nil {
			keep(err)
			continue
		}
		for _, e := range rep.Errors {
			keep(e)
		}
		created += rep.Created
	}
	return created, firstErr
}

// cronLogger routes cron's own messages to the application log.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}

package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/huangang/taskreport/internal/metrics"
	"github.com/huangang/taskreport/internal/models"
	"github.com/huangang/taskreport/internal/schedule"
	"github.com/huangang/taskreport/pkg/logger"
	"github.com/robfig/cron/v3"
)

var ErrRunInProgress = errors.New("report is already running")

// HistoryCleaner removes delivery history past its retention.
type HistoryCleaner interface {
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

// TickResult counts what one evaluation pass did. Outcomes of local runs land
// in Succeeded and Failed only through DispatchAndWait.
type TickResult struct {
	Evaluated       int   `json:"evaluated"`
	Due             int   `json:"due"`
	SkippedInFlight int   `json:"skipped_in_flight"`
	SkippedHoliday  int   `json:"skipped_holiday"`
	Started         int   `json:"started"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	Enqueued        int   `json:"enqueued"`
	Err             error `json:"-"`
}

type DispatcherOptions struct {
	Store     ConfigStore
	Pipeline  *ReportPipeline
	Evaluator *schedule.Evaluator
	Calendar  WorkdayCalendar
	InFlight  InFlight
	Queue     TaskQueue // runs locally through a SyncQueue when nil
	History   HistoryCleaner
	Metrics   *metrics.Metrics

	Workers   int
	Cron      string
	Retention time.Duration
}

// Dispatcher evaluates all active report configurations on every tick and hands
// the due ones to a bounded pool of runs that outlives the tick.
type Dispatcher struct {
	store     ConfigStore
	pipeline  *ReportPipeline
	evaluator *schedule.Evaluator
	calendar  WorkdayCalendar
	inflight  InFlight
	queue     TaskQueue
	history   HistoryCleaner
	metrics   *metrics.Metrics

	workers   int
	cronSpec  string
	retention time.Duration

	cronScheduler *cron.Cron
	ticking       sync.Mutex
	slots         chan struct{}
	runs          sync.WaitGroup
	now           func() time.Time
}

func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	d := &Dispatcher{
		store:     opts.Store,
		pipeline:  opts.Pipeline,
		evaluator: opts.Evaluator,
		calendar:  opts.Calendar,
		inflight:  opts.InFlight,
		queue:     opts.Queue,
		history:   opts.History,
		metrics:   opts.Metrics,
		workers:   opts.Workers,
		cronSpec:  opts.Cron,
		retention: opts.Retention,
		now:       time.Now,
	}
	if d.evaluator == nil {
		d.evaluator = schedule.NewEvaluator(time.Local)
	}
	if d.calendar == nil {
		d.calendar = NewHolidayService()
	}
	if d.inflight == nil {
		d.inflight = NewMemoryInFlight()
	}
	if d.workers <= 0 {
		d.workers = 4
	}
	if d.cronSpec == "" {
		d.cronSpec = "* * * * *"
	}
	if d.queue == nil {
		d.queue = NewSyncQueue()
	}
	if q, ok := d.queue.(*SyncQueue); ok && q.processor == nil {
		q.SetProcessor(d.ProcessTask)
	}
	d.slots = make(chan struct{}, d.workers)
	return d
}

// Start registers the tick and the history cleanup on cron.
func (d *Dispatcher) Start() error {
	d.cronScheduler = cron.New(cron.WithLocation(d.evaluator.Location()))

	if _, err := d.cronScheduler.AddFunc(d.cronSpec, d.tick); err != nil {
		return fmt.Errorf("invalid scheduler cron %q: %w", d.cronSpec, err)
	}
	if d.history != nil && d.retention > 0 {
		if _, err := d.cronScheduler.AddFunc("30 3 * * *", d.cleanupHistory); err != nil {
			return err
		}
	}

	d.cronScheduler.Start()
	logger.Infof("[Dispatcher] Scheduler started (cron %q, %d workers, zone %s)", d.cronSpec, d.workers, d.evaluator.Location())
	return nil
}

// Stop stops cron and waits for the running tick and every run it started.
func (d *Dispatcher) Stop() {
	if d.cronScheduler != nil {
		<-d.cronScheduler.Stop().Done()
	}
	d.runs.Wait()
	logger.Infof("[Dispatcher] Scheduler stopped")
}

func (d *Dispatcher) tick() {
	// cron starts a new goroutine per entry; a slow tick must not overlap the next one
	if !d.ticking.TryLock() {
		logger.Warnf("[Dispatcher] Previous tick still running, skipping")
		return
	}
	defer d.ticking.Unlock()

	res := d.EvaluateAndDispatch(context.Background(), d.now())
	if res.Err != nil {
		return
	}
	if res.Due > 0 || res.SkippedInFlight > 0 {
		logger.Infof("[Dispatcher] Tick: evaluated=%d due=%d started=%d enqueued=%d failed=%d in_flight=%d holiday=%d",
			res.Evaluated, res.Due, res.Started, res.Enqueued, res.Failed, res.SkippedInFlight, res.SkippedHoliday)
	}
}

func (d *Dispatcher) cleanupHistory() {
	n, err := d.history.Cleanup(context.Background(), d.retention)
	if err != nil {
		logger.Errorf("[Dispatcher] Failed to clean delivery history: %v", err)
		return
	}
	if n > 0 {
		logger.Infof("[Dispatcher] Removed %d delivery history rows older than %s", n, d.retention)
	}
}

// EvaluateAndDispatch starts every active configuration that is due at now and
// returns without waiting for the runs. Errors of one configuration never
// abort the others.
func (d *Dispatcher) EvaluateAndDispatch(ctx context.Context, now time.Time) TickResult {
	return d.dispatch(ctx, now, nil)
}

// DispatchAndWait is EvaluateAndDispatch followed by waiting for the local
// runs it started, so Succeeded and Failed are filled in.
func (d *Dispatcher) DispatchAndWait(ctx context.Context, now time.Time) TickResult {
	w := &tickRuns{}
	res := d.dispatch(ctx, now, w)
	w.wg.Wait()
	res.Succeeded = int(w.succeeded.Load())
	res.Failed += int(w.failed.Load())
	return res
}

// tickRuns collects the outcome of the runs one tick started.
type tickRuns struct {
	wg                sync.WaitGroup
	succeeded, failed atomic.Int32
}

func (w *tickRuns) done(err error) {
	if err != nil {
		w.failed.Add(1)
	} else {
		w.succeeded.Add(1)
	}
	w.wg.Done()
}

func (d *Dispatcher) dispatch(ctx context.Context, now time.Time, w *tickRuns) TickResult {
	start := time.Now()
	defer func() { d.metrics.Tick(time.Since(start)) }()

	var res TickResult
	configs, err := d.store.ListActive(ctx)
	if err != nil {
		logger.Errorf("[Dispatcher] Failed to load active report configurations: %v", err)
		res.Err = err
		return res
	}

	async := d.queue.IsAsync()
	for i := range configs {
		c := &configs[i]
		res.Evaluated++

		rule, err := c.Rule()
		if err != nil || rule.Validate() != nil {
			// no usable schedule, manual runs only
			continue
		}
		if d.inflight.Held(ctx, c.ID) {
			res.SkippedInFlight++
			continue
		}
		if rule.Period == schedule.PeriodDaily && c.HolidayCountry != "" &&
			!d.calendar.IsWorkday(now.In(d.evaluator.Location()), c.HolidayCountry) {
			res.SkippedHoliday++
			continue
		}
		if !d.evaluator.IsDue(rule, c.LastFiredAt, now) {
			continue
		}
		res.Due++
		if !d.inflight.TryAcquire(ctx, c.ID) {
			res.SkippedInFlight++
			continue
		}

		task := &ReportTask{
			ConfigID:    c.ID,
			Trigger:     models.DeliveryTriggerSchedule,
			ScheduledAt: now,
			LockOwner:   d.inflight.Owner(),
		}
		if async {
			if err := d.queue.Enqueue(ctx, task); err != nil {
				logger.Errorf("[Dispatcher] Failed to enqueue report %d: %v", c.ID, err)
				d.inflight.Release(ctx, c.ID)
				d.metrics.Report(metrics.StatusFailed)
				res.Failed++
				continue
			}
			d.metrics.Report(metrics.StatusEnqueued)
			res.Enqueued++
			continue
		}

		d.startRun(context.WithoutCancel(ctx), task, w)
		res.Started++
	}
	return res
}

// startRun hands task to the pool. The slot is taken inside the goroutine so
// the tick never blocks on busy workers; the in-flight lock already bounds the
// goroutines to one per configuration.
func (d *Dispatcher) startRun(ctx context.Context, task *ReportTask, w *tickRuns) {
	d.runs.Add(1)
	if w != nil {
		w.wg.Add(1)
	}
	go func() {
		defer d.runs.Done()
		d.slots <- struct{}{}
		defer func() { <-d.slots }()

		// the sync queue calls ProcessTask, which releases the lock
		err := d.queue.Enqueue(ctx, task)
		if err != nil {
			logger.Warnf("[Dispatcher] Report %d failed: %v", task.ConfigID, err)
		}
		if w != nil {
			w.done(err)
		}
	}()
}

// Wait blocks until every run started so far has finished.
func (d *Dispatcher) Wait() {
	d.runs.Wait()
}

// runGuarded runs the pipeline and recovers panics outside of it.
func (d *Dispatcher) runGuarded(ctx context.Context, c *models.ReportMailConfiguration, now time.Time, trigger string) (err error) {
	d.metrics.InFlightInc()
	defer d.metrics.InFlightDec()
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[Dispatcher] Panic while running report %d: %v\n%s", c.ID, r, debug.Stack())
			d.metrics.Report(metrics.StatusFailed)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	_, err = d.pipeline.Run(ctx, c, now, trigger)
	return err
}

// ProcessTask runs a task taken from the queue. The configuration is reloaded
// and, for scheduled runs, evaluated again so a redelivered task never sends twice.
func (d *Dispatcher) ProcessTask(ctx context.Context, task *ReportTask) error {
	// the lock may belong to the node that enqueued the task
	defer d.inflight.ReleaseAs(ctx, task.ConfigID, task.LockOwner)

	c, err := d.store.Get(ctx, task.ConfigID)
	if errors.Is(err, ErrConfigNotFound) {
		logger.Warnf("[Dispatcher] Report %d was deleted before it ran", task.ConfigID)
		return nil
	}
	if err != nil {
		return err
	}

	now := task.ScheduledAt
	if now.IsZero() {
		now = d.now()
	}
	if task.Trigger == models.DeliveryTriggerSchedule {
		rule, err := c.Rule()
		if !c.Active || err != nil || rule.Validate() != nil || !d.evaluator.IsDue(rule, c.LastFiredAt, now) {
			logger.Infof("[Dispatcher] Report %d no longer due, task dropped", c.ID)
			return nil
		}
	}
	return d.runGuarded(ctx, c, now, task.Trigger)
}

// SendNow runs the pipeline of one configuration immediately, regardless of its
// schedule. LastFiredAt is left unchanged.
func (d *Dispatcher) SendNow(ctx context.Context, id uint) (*RunResult, error) {
	c, err := d.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.inflight.TryAcquire(ctx, id) {
		return nil, ErrRunInProgress
	}
	defer d.inflight.Release(ctx, id)

	d.metrics.InFlightInc()
	defer d.metrics.InFlightDec()
	return d.pipeline.Run(ctx, c, d.now(), models.DeliveryTriggerManual)
}

// Upcoming returns the next fire instant of c, false when it never fires.
func (d *Dispatcher) Upcoming(c *models.ReportMailConfiguration, after time.Time) (time.Time, bool) {
	rule, err := c.Rule()
	if err != nil || !c.Active {
		return time.Time{}, false
	}
	return d.evaluator.Next(rule, after)
}

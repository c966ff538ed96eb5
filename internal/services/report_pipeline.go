package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/huangang/taskreport/internal/docgen"
	"github.com/huangang/taskreport/internal/metrics"
	"github.com/huangang/taskreport/internal/models"
	"github.com/huangang/taskreport/internal/schedule"
	"github.com/huangang/taskreport/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// Stage is the state of one configuration inside the report pipeline.
type Stage string

const (
	StageIdle       Stage = "IDLE"
	StageGenerating Stage = "GENERATING"
	StageRendering  Stage = "RENDERING"
	StageDelivering Stage = "DELIVERING"
)

// StageError tells which stage a run failed in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// RunResult describes one pipeline run.
type RunResult struct {
	RunID       string
	ConfigID    uint
	Status      string // models.DeliveryStatus*
	Report      *docgen.RenderedReport
	Recipients  []Recipient
	PeriodStart time.Time
	PeriodEnd   time.Time
	Entries     int
	Committed   bool
}

type PipelineDeps struct {
	Store      ConfigStore
	Directory  TeamDirectory
	Content    ContentSource
	Sink       DeliverySink
	Summarizer Summarizer       // optional
	History    DeliveryRecorder // optional
	Evaluator  *schedule.Evaluator
	Metrics    *metrics.Metrics
}

// ReportPipeline runs GENERATING, RENDERING and DELIVERING for one configuration.
// A failure in any stage returns the configuration to IDLE without touching
// LastFiredAt, so a scheduled run is retried on the next tick.
type ReportPipeline struct {
	store      ConfigStore
	recipients *RecipientResolver
	content    ContentSource
	sink       DeliverySink
	summarizer Summarizer
	history    DeliveryRecorder
	evaluator  *schedule.Evaluator
	metrics    *metrics.Metrics

	mu     sync.RWMutex
	stages map[uint]Stage
}

func NewReportPipeline(deps PipelineDeps) *ReportPipeline {
	evaluator := deps.Evaluator
	if evaluator == nil {
		evaluator = schedule.NewEvaluator(time.Local)
	}
	return &ReportPipeline{
		store:      deps.Store,
		recipients: NewRecipientResolver(deps.Directory),
		content:    deps.Content,
		sink:       deps.Sink,
		summarizer: deps.Summarizer,
		history:    deps.History,
		evaluator:  evaluator,
		metrics:    deps.Metrics,
		stages:     make(map[uint]Stage),
	}
}

// Stage returns the current stage of a configuration.
func (p *ReportPipeline) Stage(configID uint) Stage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if s, ok := p.stages[configID]; ok {
		return s
	}
	return StageIdle
}

// Active returns the configurations currently outside IDLE.
func (p *ReportPipeline) Active() map[uint]Stage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[uint]Stage, len(p.stages))
	for id, s := range p.stages {
		out[id] = s
	}
	return out
}

func (p *ReportPipeline) setStage(configID uint, s Stage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s == StageIdle {
		delete(p.stages, configID)
		return
	}
	p.stages[configID] = s
}

// Window returns the content window of a run of c at now. Configurations without
// a schedule cover the week before now, or the time since they last fired.
func (p *ReportPipeline) Window(c *models.ReportMailConfiguration, now time.Time) (time.Time, time.Time) {
	rule, err := c.Rule()
	if err == nil && rule.Validate() == nil {
		return p.evaluator.Window(rule, c.LastFiredAt, now)
	}
	return p.evaluator.Window(schedule.Rule{Period: schedule.PeriodWeekly}, c.LastFiredAt, now)
}

// Generate assembles and renders a report without delivering it.
func (p *ReportPipeline) Generate(ctx context.Context, c *models.ReportMailConfiguration, format docgen.Format, now time.Time) (*docgen.RenderedReport, error) {
	from, to := p.Window(c, now)
	content, err := p.generate(ctx, c, from, to, now)
	if err != nil {
		return nil, &StageError{Stage: StageGenerating, Err: err}
	}
	report, err := p.render(c, format, content, now)
	if err != nil {
		return nil, &StageError{Stage: StageRendering, Err: err}
	}
	return report, nil
}

// Run executes the full pipeline. Scheduled runs commit LastFiredAt with a
// compare-and-set against the snapshot in c; manual runs leave it alone.
func (p *ReportPipeline) Run(ctx context.Context, c *models.ReportMailConfiguration, now time.Time, trigger string) (*RunResult, error) {
	log := logger.Component("pipeline")
	result := &RunResult{RunID: uuid.NewString(), ConfigID: c.ID, Status: models.DeliveryStatusFailed}
	result.PeriodStart, result.PeriodEnd = p.Window(c, now)
	format := c.Format()

	defer p.setStage(c.ID, StageIdle)

	runErr := p.safeRun(ctx, c, now, format, result)
	if runErr == nil && trigger == models.DeliveryTriggerSchedule {
		if err := p.store.MarkFired(ctx, c.ID, c.LastFiredAt, now); err != nil {
			if errors.Is(err, ErrFireConflict) {
				log.Warn().Uint("config_id", c.ID).Str("run_id", result.RunID).
					Msg("report delivered but configuration changed meanwhile, last fired time not updated")
			} else {
				runErr = fmt.Errorf("failed to commit fired time: %w", err)
			}
		} else {
			result.Committed = true
		}
	}

	if runErr != nil {
		result.Status = models.DeliveryStatusFailed
		p.metrics.Report(metrics.StatusFailed)
		log.Error().Err(runErr).Uint("config_id", c.ID).Str("name", c.Name).Str("run_id", result.RunID).Msg("report run failed")
	} else {
		p.metrics.Report(result.Status)
		log.Info().Uint("config_id", c.ID).Str("name", c.Name).Str("run_id", result.RunID).
			Str("status", result.Status).Int("recipients", len(result.Recipients)).Msg("report run finished")
	}
	p.record(ctx, c, trigger, format, result, runErr)
	return result, runErr
}

// safeRun turns a panic inside a stage into a StageError of that stage.
func (p *ReportPipeline) safeRun(ctx context.Context, c *models.ReportMailConfiguration, now time.Time, format docgen.Format, result *RunResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[Pipeline] Panic in report %d: %v\n%s", c.ID, r, debug.Stack())
			err = &StageError{Stage: p.Stage(c.ID), Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return p.run(ctx, c, now, format, result)
}

func (p *ReportPipeline) run(ctx context.Context, c *models.ReportMailConfiguration, now time.Time, format docgen.Format, result *RunResult) error {
	p.setStage(c.ID, StageGenerating)
	start := time.Now()
	var (
		content    *docgen.Content
		recipients []Recipient
	)
	// content and recipients come from independent tables
	g, gctx := errgroup.WithContext(ctx)
	g.Go(recoverAsError(func() (err error) {
		content, err = p.generate(gctx, c, result.PeriodStart, result.PeriodEnd, now)
		return err
	}))
	g.Go(recoverAsError(func() (err error) {
		recipients, err = p.recipients.Resolve(gctx, c)
		return err
	}))
	if err := g.Wait(); err != nil {
		return &StageError{Stage: StageGenerating, Err: err}
	}
	result.Entries = content.EntryCount()
	result.Recipients = recipients
	p.metrics.ObserveStage(string(StageGenerating), time.Since(start))

	if len(recipients) == 0 {
		result.Status = models.DeliveryStatusSkipped
		logger.Warnf("[Pipeline] Report %q (id %d) has no recipients with an email address, nothing sent", c.Name, c.ID)
		return nil
	}

	p.setStage(c.ID, StageRendering)
	start = time.Now()
	report, err := p.render(c, format, content, now)
	if err != nil {
		return &StageError{Stage: StageRendering, Err: err}
	}
	result.Report = report
	p.metrics.ObserveStage(string(StageRendering), time.Since(start))

	if err := ctx.Err(); err != nil {
		return &StageError{Stage: StageDelivering, Err: err}
	}

	p.setStage(c.ID, StageDelivering)
	start = time.Now()
	subject, body := composeMessage(c.MailSubject, c.MailText, newMailTemplateData(c.Name, content, format, now), content.Summary)
	err = p.sink.Send(ctx, &Message{
		SenderName: c.MailSenderName,
		Subject:    subject,
		Body:       body,
		Recipients: Addresses(recipients),
		Attachment: report.Data,
		Format:     report.Format,
		FileName:   report.FileName(),
	})
	if err != nil {
		return &StageError{Stage: StageDelivering, Err: err}
	}
	p.metrics.ObserveStage(string(StageDelivering), time.Since(start))

	result.Status = models.DeliveryStatusSent
	return nil
}

// recoverAsError keeps a panic in an errgroup goroutine from taking the
// process down; safeRun only covers the calling goroutine.
func recoverAsError(f func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[Pipeline] Panic while generating: %v\n%s", r, debug.Stack())
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return f()
	}
}

func (p *ReportPipeline) generate(ctx context.Context, c *models.ReportMailConfiguration, from, to, now time.Time) (*docgen.Content, error) {
	content, err := p.content.Assemble(ctx, c.ReportingTeams, from, to)
	if err != nil {
		return nil, err
	}
	content.Title = c.Name
	content.GeneratedAt = now
	if rule, err := c.Rule(); err == nil && rule.Validate() == nil {
		content.Subtitle = rule.String()
	}

	if p.summarizer != nil {
		summary, err := p.summarizer.Summarize(ctx, content)
		if err != nil {
			logger.Warnf("[Pipeline] Summary for report %q failed, continuing without: %v", c.Name, err)
		} else {
			content.Summary = summary
		}
	}
	return content, nil
}

func (p *ReportPipeline) render(c *models.ReportMailConfiguration, format docgen.Format, content *docgen.Content, now time.Time) (*docgen.RenderedReport, error) {
	renderer, err := docgen.Build(format)
	if err != nil {
		return nil, err
	}
	data, err := renderer.Render(content)
	if err != nil {
		return nil, err
	}
	return &docgen.RenderedReport{Format: format, Data: data, ConfigID: c.ID, GeneratedAt: now}, nil
}

func (p *ReportPipeline) record(ctx context.Context, c *models.ReportMailConfiguration, trigger string, format docgen.Format, result *RunResult, runErr error) {
	if p.history == nil {
		return
	}
	d := &models.ReportDelivery{
		ConfigID:       c.ID,
		ConfigName:     c.Name,
		RunID:          result.RunID,
		Trigger:        trigger,
		Format:         string(format),
		PeriodStart:    result.PeriodStart,
		PeriodEnd:      result.PeriodEnd,
		EntryCount:     result.Entries,
		RecipientCount: len(result.Recipients),
		Status:         result.Status,
	}
	if result.Report != nil {
		d.AttachmentSize = len(result.Report.Data)
	}
	if runErr != nil {
		d.Error = runErr.Error()
		var stageErr *StageError
		if errors.As(runErr, &stageErr) {
			d.FailedStage = string(stageErr.Stage)
		}
	} else if result.Status == models.DeliveryStatusSent {
		delivered := time.Now()
		d.DeliveredAt = &delivered
	}
	// history must be written even when the run was cancelled
	if err := p.history.Record(context.WithoutCancel(ctx), d); err != nil {
		logger.Warnf("[Pipeline] Failed to record delivery of report %d: %v", c.ID, err)
	}
}

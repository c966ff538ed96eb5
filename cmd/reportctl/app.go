package main

import (
	"fmt"

	"github.com/huangang/taskreport/internal/config"
	"github.com/huangang/taskreport/internal/docgen"
	"github.com/huangang/taskreport/internal/models"
	"github.com/huangang/taskreport/internal/schedule"
	"github.com/huangang/taskreport/internal/services"
)

// app is the subset of the server wiring the CLI needs. Reports always run
// in process; the database lock keeps them apart from a running server.
type app struct {
	cfg        *config.Config
	configs    *services.ReportConfigService
	pipeline   *services.ReportPipeline
	dispatcher *services.Dispatcher
	evaluator  *schedule.Evaluator
}

func loadApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	db, err := models.Open(&cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := models.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	if err := docgen.LoadPDFFont(cfg.Report.PDFFont); err != nil {
		return nil, err
	}

	var summarizer services.Summarizer
	if cfg.AI.Enabled {
		summarizer = services.NewLLMSummarizer(cfg.AI)
	}

	evaluator := schedule.NewEvaluator(cfg.Scheduler.Location())
	configs := services.NewReportConfigService(db)
	pipeline := services.NewReportPipeline(services.PipelineDeps{
		Store:      configs,
		Directory:  services.NewTeamDirectoryService(db),
		Content:    services.NewProgressContentSource(db),
		Sink:       services.NewEmailService(cfg.SMTP),
		Summarizer: summarizer,
		History:    services.NewDeliveryLogService(db),
		Evaluator:  evaluator,
	})
	dispatcher := services.NewDispatcher(services.DispatcherOptions{
		Store:     configs,
		Pipeline:  pipeline,
		Evaluator: evaluator,
		InFlight:  services.NewDBInFlight(db, cfg.Scheduler.Instance+"/reportctl", cfg.Scheduler.LockTTL),
		Workers:   cfg.Scheduler.Workers,
	})

	return &app{
		cfg:        cfg,
		configs:    configs,
		pipeline:   pipeline,
		dispatcher: dispatcher,
		evaluator:  evaluator,
	}, nil
}

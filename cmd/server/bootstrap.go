package main

import (
	"github.com/huangang/taskreport/internal/config"
	"github.com/huangang/taskreport/internal/docgen"
	"github.com/huangang/taskreport/internal/handlers"
	"github.com/huangang/taskreport/internal/metrics"
	"github.com/huangang/taskreport/internal/models"
	"github.com/huangang/taskreport/internal/schedule"
	"github.com/huangang/taskreport/internal/services"
	"github.com/huangang/taskreport/pkg/logger"
	"gorm.io/gorm"
)

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	db         *gorm.DB
	metrics    *metrics.Metrics
	mail       *services.EmailService
	configs    *services.ReportConfigService
	directory  *services.TeamDirectoryService
	holidays   *services.HolidayService
	deliveries *services.DeliveryLogService
	pipeline   *services.ReportPipeline
	dispatcher *services.Dispatcher
	taskQueue  services.TaskQueue
	worker     *services.Worker
}

// bootstrap initializes all application dependencies: database, services, scheduler.
func bootstrap(cfg *config.Config) *appServices {
	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}
	db := models.GetDB()

	m := metrics.New()
	handlers.RegisterDBGauges(m, db)

	configs := services.NewReportConfigService(db)
	m.RegisterGauge("active_configs", "Number of active report configurations.", func() float64 {
		return float64(configs.CountActive())
	})

	directory := services.NewTeamDirectoryService(db)
	holidays := services.NewHolidayService()
	deliveries := services.NewDeliveryLogService(db)
	mail := services.NewEmailService(cfg.SMTP)
	if !mail.Enabled() {
		logger.Warn().Msg("SMTP is disabled, scheduled reports will fail at delivery")
	}

	if cfg.Report.PDFFont != "" {
		if err := docgen.LoadPDFFont(cfg.Report.PDFFont); err != nil {
			logger.Fatalf("Failed to load PDF font: %v", err)
		}
		logger.Info().Str("font", cfg.Report.PDFFont).Msg("PDF reports use a custom font")
	}

	var summarizer services.Summarizer
	if cfg.AI.Enabled {
		summarizer = services.NewLLMSummarizer(cfg.AI)
		logger.Info().Str("provider", cfg.AI.Provider).Msg("Report summaries enabled")
	}

	evaluator := schedule.NewEvaluator(cfg.Scheduler.Location())
	pipeline := services.NewReportPipeline(services.PipelineDeps{
		Store:      configs,
		Directory:  directory,
		Content:    services.NewProgressContentSource(db),
		Sink:       mail,
		Summarizer: summarizer,
		History:    deliveries,
		Evaluator:  evaluator,
		Metrics:    m,
	})

	// Uses Redis if enabled, otherwise the dispatcher runs the sync queue in its own pool
	taskQueue := services.NewTaskQueue(cfg)

	var inflight services.InFlight
	if cfg.Scheduler.Lock == "database" || taskQueue.IsAsync() {
		inflight = services.NewDBInFlight(db, cfg.Scheduler.Instance, cfg.Scheduler.LockTTL)
	}

	dispatcher := services.NewDispatcher(services.DispatcherOptions{
		Store:     configs,
		Pipeline:  pipeline,
		Evaluator: evaluator,
		Calendar:  holidays,
		InFlight:  inflight,
		Queue:     taskQueue,
		History:   deliveries,
		Metrics:   m,
		Workers:   cfg.Scheduler.Workers,
		Cron:      cfg.Scheduler.Cron,
		Retention: cfg.Scheduler.HistoryRetention,
	})

	// Start async worker if Redis is enabled
	var worker *services.Worker
	if cfg.Redis.Enabled {
		worker = services.NewWorker(&cfg.Redis, cfg.Scheduler.Workers)
		if worker != nil {
			worker.SetProcessor(dispatcher.ProcessTask)
			if err := worker.Start(); err != nil {
				logger.Fatalf("Failed to start report worker: %v", err)
			}
		}
	}

	if cfg.Scheduler.Enabled {
		if err := dispatcher.Start(); err != nil {
			logger.Fatalf("Failed to start report scheduler: %v", err)
		}
		logger.Info().
			Str("cron", cfg.Scheduler.Cron).
			Str("timezone", evaluator.Location().String()).
			Int("workers", cfg.Scheduler.Workers).
			Msg("Report scheduler started")
	}

	return &appServices{
		db:         db,
		metrics:    m,
		mail:       mail,
		configs:    configs,
		directory:  directory,
		holidays:   holidays,
		deliveries: deliveries,
		pipeline:   pipeline,
		dispatcher: dispatcher,
		taskQueue:  taskQueue,
		worker:     worker,
	}
}

// shutdown gracefully stops all services. Runs already started finish first.
func (s *appServices) shutdown() {
	s.dispatcher.Stop()
	logger.Info().Msg("Report scheduler stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		s.taskQueue.Close()
	}
}

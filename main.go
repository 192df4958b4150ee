package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"realty_pipeline/config"
	"realty_pipeline/httputil"
	"realty_pipeline/logging"
	"realty_pipeline/models"
	"realty_pipeline/scheduler"
	"realty_pipeline/scraper"
	"realty_pipeline/services"
	"realty_pipeline/storage"
	"realty_pipeline/workers"
)

var (
	scrapeNow    = flag.Bool("scrape", false, "Run one ingest and exit")
	transformNow = flag.Bool("transform", false, "Recompute analytics and exit")
	marketID     = flag.String("market", "", "Limit -scrape to one market")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logFile, err := logging.Setup(cfg.LogFile)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting realty_pipeline...")
	log.Printf("Loaded %d market configs", len(cfg.Markets))
	for id, m := range cfg.Markets {
		log.Printf("  - %s (%s): %d postal codes", m.Name, id, len(m.PostalCodes))
	}

	ctx := context.Background()

	pgStore, err := storage.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer pgStore.Close()
	log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.Database.URL))

	analytics := services.NewAnalyticsService(pgStore)

	// Transform-only mode needs no API client or ops DB.
	if *transformNow {
		if err := analytics.RunTransforms(ctx); err != nil {
			log.Fatalf("Transform failed: %v", err)
		}
		log.Println("Transform complete!")
		return
	}

	clients := httputil.NewClients(cfg.API.Timeout)
	fetcher := scraper.NewRealtyClient(cfg.API, clients.API)

	photoService := services.NewPhotoService(pgStore)
	listingService := services.NewListingService(pgStore, photoService)

	opsStore, err := storage.NewOpsStore(cfg.OpsDBPath)
	if err != nil {
		log.Fatalf("Failed to open ops database: %v", err)
	}
	defer opsStore.Close()
	log.Printf("Ops database: %s", cfg.OpsDBPath)

	orchestrator := scraper.NewOrchestrator(cfg, fetcher, listingService)
	orchestrator.SetRecorders(pgStore, opsStore)
	orchestrator.SetAnalytics(analytics)

	if *scrapeNow {
		log.Println("Running ingest...")
		if *marketID != "" {
			if _, err := orchestrator.RunMarket(ctx, *marketID); err != nil {
				log.Fatalf("Ingest failed: %v", err)
			}
		} else if err := orchestrator.RunAll(ctx); err != nil {
			log.Fatalf("Ingest failed: %v", err)
		}
		log.Println("Ingest complete!")
		return
	}

	// Daemon mode
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sched := scheduler.New(cfg, orchestrator, opsStore)

	opsLog := func(level models.LogLevel, scope, message string) {
		opsStore.Log(nil, level, message, scope)
	}

	var photoTrig, enrichTrig scheduler.Triggerable

	if cfg.Media.Enabled {
		var uploader workers.Uploader = workers.NewNoOpUploader()
		if cfg.S3.Bucket != "" {
			s3up, err := storage.NewS3Uploader(ctx, storage.S3Config{
				Bucket:          cfg.S3.Bucket,
				Region:          cfg.S3.Region,
				Endpoint:        cfg.S3.Endpoint,
				AccessKeyID:     cfg.S3.AccessKey,
				SecretAccessKey: cfg.S3.SecretKey,
				Prefix:          cfg.S3.Prefix,
			})
			if err != nil {
				log.Fatalf("Failed to init S3 uploader: %v", err)
			}
			uploader = s3up
		}
		photoWorker := workers.NewPhotoWorker(photoService, uploader, clients.Page)
		photoWorker.SetLogFunc(opsLog)
		go photoWorker.Run(ctx, cfg.Media.BatchSize, cfg.Media.Interval)
		photoTrig = photoWorker
		log.Println("Photo worker started")
	}

	if cfg.Enrichment.Enabled {
		enrichmentWorker := workers.NewEnrichmentWorker(pgStore, photoService, clients.Page, cfg.Enrichment.MaxAttempts)
		enrichmentWorker.SetLogFunc(opsLog)
		go enrichmentWorker.Run(ctx, cfg.Enrichment.BatchSize, cfg.Enrichment.Interval)
		enrichTrig = enrichmentWorker
		log.Println("Enrichment worker started")
	}

	sched.SetWorkers(photoTrig, enrichTrig)

	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	sched.Stop()
	cancel()
	log.Println("Goodbye!")
}

// maskConnectionString masks the password before it reaches the logs.
func maskConnectionString(connStr string) string {
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}

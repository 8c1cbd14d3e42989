package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"calidad/internal/api"
	"calidad/internal/config"
	"calidad/internal/etl"
	"calidad/internal/pipeline"
	"calidad/internal/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	once := flag.Bool("once", false, "run the pipeline once and exit")
	fromFile := flag.String("from-file", "", "backfill from a local .xlsx/.csv instead of the remote source (implies -once)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	db, err := storage.Open(cfg.Database.Driver, cfg.Database.ConnString())
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer db.Close()

	rules := etl.CalidadRules()
	if cfg.Source.FileName != "" {
		rules.SourceFile = cfg.Source.FileName
	}
	dataType := cfg.Source.DataType
	if dataType == "" {
		dataType = rules.DataType
	}
	rules.DataType = dataType

	records := storage.NewRecordStore(db, etl.CalidadFilterFields())
	runs := storage.NewRunLogStore(db)

	runner := &pipeline.Runner{
		Graph:   cfg.Graph,
		Source:  cfg.Source,
		Rules:   rules,
		Records: records,
		Runs:    runs,
	}

	ctx := context.Background()

	if *fromFile != "" {
		if _, err := runner.RunFromFile(ctx, dataType, *fromFile); err != nil {
			log.Fatalf("pipeline: %v", err)
		}
		return
	}
	if *once {
		if _, err := runner.Run(ctx, dataType); err != nil {
			log.Fatalf("pipeline: %v", err)
		}
		return
	}

	sched := &pipeline.Scheduler{
		Runner:   runner,
		DataType: dataType,
		WatchDir: cfg.Source.WatchDir,
	}
	if cfg.Scheduler.Enabled {
		sched.CronSpec = cfg.Scheduler.Cron
	}
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("scheduler: %v", err)
	}

	server := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      api.NewServer(cfg.API, records, runs, runner).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	go func() {
		log.Printf("api: listening on %s", cfg.API.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("api: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("shutting down")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("api shutdown: %v", err)
	}
	// A load mid-transaction finishes (or rolls back) before we close the DB.
	runner.WaitRunning(shutdownCtx)
}

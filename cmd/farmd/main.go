package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/printfarm/farmd/internal/auth"
	"github.com/printfarm/farmd/internal/config"
	"github.com/printfarm/farmd/internal/controller"
	"github.com/printfarm/farmd/internal/db"
	"github.com/printfarm/farmd/internal/events"
	"github.com/printfarm/farmd/internal/graph"
	"github.com/printfarm/farmd/internal/scheduler"
)

func main() {
	configPath := flag.String("config", "config/farmd.yaml", "path to farmd config")
	flag.Parse()

	cfg, err := config.LoadControllerConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open db: %v", err)
	}
	defer database.Close()

	if err := database.Init(); err != nil {
		log.Fatalf("failed to init db: %v", err)
	}

	eventMgr := events.New(database)
	defer eventMgr.Close()

	sched := scheduler.New(database, eventMgr, cfg.Scheduler)

	if cfg.SeedPath != "" {
		if err := applySeed(database, sched, cfg.SeedPath); err != nil {
			log.Fatalf("failed to seed from %s: %v", cfg.SeedPath, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sched.Run(ctx)

	server := controller.NewServer(database, auth.NewAuthenticator(cfg.APIToken), sched)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	fmt.Printf("farmd listening on %s (TLS: %v)\n", cfg.Addr, cfg.CertPath != "")
	if cfg.CertPath != "" && cfg.KeyPath != "" {
		err = httpServer.ListenAndServeTLS(cfg.CertPath, cfg.KeyPath)
	} else {
		err = httpServer.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

// applySeed loads the fixture and routes its dependencies through the
// scheduler so each edge is validated like an API request.
func applySeed(database *db.DB, sched *scheduler.Scheduler, path string) error {
	seed, err := db.LoadSeed(path)
	if err != nil {
		return err
	}
	if err := database.ApplySeed(seed, time.Now()); err != nil {
		return err
	}

	deps, err := seed.Dependencies()
	if err != nil {
		return err
	}
	ctx := context.Background()
	for _, d := range deps {
		_, err := sched.AddDependency(ctx, d.JobID, d.DependsOnID, d.Type)
		var rejection graph.Rejection
		switch {
		case errors.As(err, &rejection):
			if rejection != graph.RejectDuplicate {
				log.Printf("Seed: dependency %s -> %s rejected: %v", d.JobID, d.DependsOnID, rejection)
			}
		case err != nil:
			return fmt.Errorf("dependency %s -> %s: %w", d.JobID, d.DependsOnID, err)
		}
	}
	log.Printf("Seed: applied %d projects, %d printers, %d jobs from %s", len(seed.Projects), len(seed.Printers), len(seed.Jobs), path)
	return nil
}

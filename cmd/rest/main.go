package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rrbip/batirama-connect-sub002/internal/bootstrap"
	"github.com/rrbip/batirama-connect-sub002/internal/config"
	"github.com/rrbip/batirama-connect-sub002/internal/server"
	"github.com/rrbip/batirama-connect-sub002/internal/tracer"
	"github.com/rrbip/batirama-connect-sub002/pkg/database"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load Configuration
	cfg := config.Load()

	// 2. Initialize Database
	gormDB, err := database.NewGormDBFromDSN(cfg.Database.Connection, database.Options{
		Verbose:      cfg.Database.Verbose,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	})
	if err != nil {
		log.Panicf("Unable to connect to GORM DB: %v", err)
	}

	// 3. Bootstrap Dependencies (Container)
	container, err := bootstrap.NewContainer(ctx, gormDB, cfg)
	if err != nil {
		log.Fatalf("Unable to build container: %v", err)
	}
	defer container.Close()

	shutdownTracer := tracer.InitTracer(cfg.Tracing, container.Logger)
	defer shutdownTracer(context.Background())

	// 4. Start Background Services
	go func() {
		container.Logger.Info("MAIN", "Starting consumer service", nil)
		if err := container.ConsumerService.Consume(ctx); err != nil {
			container.Logger.Error("MAIN", "Consumer stopped", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	// 5. Initialize Server
	srv := server.New(cfg, container)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			container.Logger.Warn("MAIN", "Server shutdown failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	// 6. Run Server
	if err := srv.Run(); err != nil {
		container.Logger.Error("MAIN", "Server stopped", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dpc/sniper/internal/auctionhouse"
	"github.com/dpc/sniper/internal/bidding"
	"github.com/dpc/sniper/internal/clock"
	"github.com/dpc/sniper/internal/config"
	"github.com/dpc/sniper/internal/eventlog"
	"github.com/dpc/sniper/internal/health"
	"github.com/dpc/sniper/internal/httpui"
	"github.com/dpc/sniper/internal/leader"
	"github.com/dpc/sniper/internal/persistence"
	pgpersist "github.com/dpc/sniper/internal/persistence/postgres"
	"github.com/dpc/sniper/internal/progress"
	"github.com/dpc/sniper/internal/servicecontrol"
	"github.com/dpc/sniper/internal/telemetry"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

// backends bundles the three stores a persistence driver brings with it,
// plus the event log reader/writer, a ping function for health checks and
// a close function for process shutdown.
type backends struct {
	persistence   persistence.Persistence
	log           eventlogReaderWriter
	progressStore progress.Store
	biddingStore  bidding.StateStore
	ping          func(ctx context.Context) error
	close         func() error
}

type eventlogReaderWriter interface {
	eventlog.Reader
	eventlog.Writer
}

func openBackends(ctx context.Context, cfg config.Config) (*backends, error) {
	switch cfg.Persistence.Driver {
	case "memory":
		p := persistence.NewInMemory()
		return &backends{
			persistence:   p,
			log:           eventlog.NewInMemory(),
			progressStore: progress.NewInMemoryStore(),
			biddingStore:  bidding.NewInMemoryStateStore(),
			ping:          func(ctx context.Context) error { return nil },
			close:         func() error { return nil },
		}, nil
	case "postgres":
		p, err := pgpersist.Open(ctx, cfg.Persistence.Postgres)
		if err != nil {
			return nil, fmt.Errorf("opening postgres persistence: %w", err)
		}
		if err := p.Migrate(ctx, eventlog.Schema, progress.Schema, bidding.Schema); err != nil {
			_ = p.Close()
			return nil, err
		}
		return &backends{
			persistence:   p,
			log:           eventlog.NewPostgres(p.DB()),
			progressStore: progress.NewPostgresStore(p.DB()),
			biddingStore:  bidding.NewPostgresStateStore(p.DB()),
			ping:          p.Ping,
			close:         p.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported persistence driver %q", cfg.Persistence.Driver)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger

	be, err := openBackends(ctx, *cfg)
	if err != nil {
		return fmt.Errorf("opening persistence (driver=%s): %w", cfg.Persistence.Driver, err)
	}
	defer func() {
		if closeErr := be.close(); closeErr != nil {
			logger.Error("persistence close error", slog.Any("error", closeErr))
		}
	}()

	logger.InfoContext(ctx, "persistence backend ready", slog.String("driver", cfg.Persistence.Driver))

	healthHandler := health.NewHandler(clock.Real{}, health.Checker{Name: "persistence", Check: be.ping})

	client := auctionhouse.NewNopClient(cfg.AuctionHouse.PollInterval)

	control := servicecontrol.New(be.persistence, be.progressStore, logger)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httpui.New(be.persistence, be.log, healthHandler, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var handles []*servicecontrol.Handle

	startWorkers := func(ctx context.Context) []*servicecontrol.Handle {
		biddingHandler := bidding.NewHandler(be.biddingStore)
		biddingHandle := control.SpawnLogFollower(ctx, wrapEventLoop{id: bidding.ServiceID, handle: biddingHandler.HandleEvent}, be.log)

		sender := auctionhouse.NewSender(client)
		senderHandle := control.SpawnLogFollower(ctx, wrapEventLoop{id: "auction-house-sender", handle: sender.HandleEvent}, be.log)

		receiver := auctionhouse.NewReceiver(client, be.persistence, be.log)
		receiverHandle := control.SpawnLoop(ctx, "auction-house-receiver", receiver)

		return []*servicecontrol.Handle{biddingHandle, senderHandle, receiverHandle}
	}

	runDirect := func(ctx context.Context) {
		handles = startWorkers(ctx)
		healthHandler.SetReady(true)
		logger.InfoContext(ctx, "sniper is running", slog.String("version", version))
		<-ctx.Done()
		healthHandler.SetReady(false)
	}

	go func() {
		logger.InfoContext(ctx, "starting http server", slog.String("addr", cfg.Server.Addr))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && listenErr != http.ErrServerClosed {
			logger.ErrorContext(ctx, "http server error", slog.Any("error", listenErr))
		}
	}()

	if cfg.LeaderElection.Enabled {
		logger.InfoContext(ctx, "leader election enabled, waiting for leadership...")
		if leaderErr := leader.Run(ctx, leader.Config(cfg.LeaderElection), logger, runDirect, func() {
			logger.Info("lost leadership, shutting down...")
			cancel()
		}); leaderErr != nil {
			return fmt.Errorf("leader election: %w", leaderErr)
		}
	} else {
		runDirect(ctx)
	}

	logger.Info("shutting down...")
	control.SendStopToAll()
	var workerErr error
	if len(handles) > 0 {
		workerErr = servicecontrol.JoinAll(handles...)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return workerErr
}

// wrapEventLoop adapts a bound HandleEvent method into an
// servicecontrol.EventLoopService without requiring every handler type to
// declare its own ID method.
type wrapEventLoop struct {
	id     progress.ServiceID
	handle func(ctx context.Context, tx persistence.Transaction, event eventlog.Event) ([]eventlog.Event, error)
}

func (w wrapEventLoop) ID() progress.ServiceID { return w.id }

func (w wrapEventLoop) HandleEvent(ctx context.Context, tx persistence.Transaction, event eventlog.Event) ([]eventlog.Event, error) {
	return w.handle(ctx, tx, event)
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"chaindir/internal/delegation"
	"chaindir/internal/directory/service"
	"chaindir/internal/directory/store"
	"chaindir/internal/platform/config"
	"chaindir/internal/platform/httpserver"
	"chaindir/internal/platform/logger"
	"chaindir/internal/platform/metrics"
	platformredis "chaindir/internal/platform/redis"
	"chaindir/internal/replication/inbound"
	"chaindir/internal/replication/outbound"
	"chaindir/internal/replication/syncstate"
	httptransport "chaindir/internal/transport/http"
	"chaindir/internal/transport/kafka"
	"chaindir/pkg/domain"
	adminmw "chaindir/pkg/platform/middleware/admin"
)

// disabledTransport stands in when no brokers are configured: local
// mutations still apply, fan-out counts as a publish failure.
type disabledTransport struct{}

func (disabledTransport) Send(context.Context, domain.DomainID, domain.Address, []byte) error {
	return errors.New("kafka transport is not configured")
}

// main wires dependencies and keeps the replica lifecycle small. Business
// logic lives in the internal packages.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "chaindir: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()
	home := domain.DomainID(cfg.HomeDomain)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sender domain.Address
	if cfg.SenderAddress != "" {
		parsed, err := domain.ParseAddress(cfg.SenderAddress)
		if err != nil {
			return fmt.Errorf("parse sender address: %w", err)
		}
		sender = parsed
	} else {
		log.Warn("no sender address configured; peers will reject our envelopes")
	}

	directoryStore, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	syncState, closeSync, err := openSyncState(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSync()

	var transport outbound.Transport = disabledTransport{}
	var producer *kafka.Producer
	if len(cfg.KafkaBrokers) > 0 {
		if err := kafka.EnsureTopic(ctx, cfg.KafkaBrokers, home); err != nil {
			return err
		}
		producer, err = kafka.NewProducer(cfg.KafkaBrokers)
		if err != nil {
			return err
		}
		defer producer.Close()
		transport = producer
	}

	replicator := outbound.NewReplicator(home, sender, transport,
		outbound.WithLogger(log),
		outbound.WithMetrics(m),
	)
	verifier := delegation.NewTokenService(cfg.DelegationKey, "chaindir")
	svc := service.New(home, directoryStore,
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithReplicator(replicator),
		service.WithVerifier(verifier),
	)
	router := inbound.NewRouter(svc, syncState,
		inbound.WithLogger(log),
		inbound.WithMetrics(m),
	)

	guard, err := adminmw.NewTokenGuard(cfg.AdminToken)
	if err != nil {
		return fmt.Errorf("admin token guard: %w", err)
	}
	handler := httptransport.NewHandler(svc, router, log)
	adminHandler := httptransport.NewAdminHandler(router, replicator, guard, log)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler, adminHandler, guard, log))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting chaindir replica", "addr", cfg.Addr, "home_domain", cfg.HomeDomain)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if len(cfg.KafkaBrokers) > 0 {
		consumer, err := kafka.NewConsumer(
			cfg.KafkaBrokers,
			home,
			fmt.Sprintf("chaindir-%d", cfg.HomeDomain),
			router,
			kafka.WithConsumerLogger(log),
		)
		if err != nil {
			return err
		}
		g.Go(func() error {
			defer consumer.Close()
			if err := consumer.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("kafka consumer: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Server) (store.Store, func(), error) {
	if cfg.PostgresDSN == "" {
		return store.NewInMemory(), func() {}, nil
	}
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	pg := store.NewPostgres(db)
	if err := pg.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return pg, func() { db.Close() }, nil
}

func openSyncState(ctx context.Context, cfg config.Server) (syncstate.State, func(), error) {
	client, err := platformredis.Connect(ctx, cfg.Redis())
	if err != nil {
		return nil, nil, err
	}
	if client == nil {
		return syncstate.NewInMemory(), func() {}, nil
	}
	return syncstate.NewRedis(client), func() { client.Close() }, nil
}

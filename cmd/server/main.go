package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/veilmeet/roulette/internal/collab"
	"github.com/veilmeet/roulette/internal/config"
	"github.com/veilmeet/roulette/internal/matchmaking"
	"github.com/veilmeet/roulette/internal/messaging"
	"github.com/veilmeet/roulette/internal/moderation"
	"github.com/veilmeet/roulette/internal/pairing"
	"github.com/veilmeet/roulette/internal/registry"
	"github.com/veilmeet/roulette/internal/relay"
	"github.com/veilmeet/roulette/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	serverConfig := ws.ServerConfig{
		ListenAddr:     cfg.ListenAddr,
		WorkerPoolSize: cfg.WorkerPoolSize,
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
	}

	// --- Block store (Redis, optional) ---
	var blocks collab.BlockStore = collab.NopBlockStore{}
	var redisBlocks *collab.RedisBlockStore
	if cfg.Redis.Addr != "" {
		redisBlocks, err = collab.NewRedisBlockStore(cfg.Redis.Addr)
		if err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		blocks = redisBlocks
	} else {
		log.Printf("REDIS_ADDR not set, block filtering disabled")
	}

	// --- Identity store (Postgres, optional) ---
	var identity collab.IdentityStore
	var pgIdentity *collab.PostgresIdentityStore
	if cfg.Postgres.DSN != "" {
		pgIdentity, err = collab.NewPostgresIdentityStore(cfg.Postgres.DSN)
		if err != nil {
			log.Fatalf("failed to connect to Postgres: %v", err)
		}
		if err := pgIdentity.Migrate(); err != nil {
			log.Fatalf("failed to migrate accounts schema: %v", err)
		}
		identity = pgIdentity
	} else {
		log.Printf("POSTGRES_DSN not set, all sessions are anonymous")
	}

	// --- Moderator (NATS, optional; falls back to the in-process filter) ---
	var mod collab.Moderator
	var natsClient *messaging.NATSClient
	if cfg.NATS.URL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATS.URL
		natsClient, err = messaging.NewNATSClient(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		mod = collab.NewNATSModerator(natsClient, cfg.NATS.ModerationTimeout)
	} else {
		log.Printf("NATS_URL not set, using in-process content filter")
		mod = collab.NewLocalModerator(moderation.NewFilter())
	}

	log.Printf("veilmeet coordination core starting")
	log.Printf("  listen_addr:     %s", serverConfig.ListenAddr)
	log.Printf("  worker_pool:     %d", serverConfig.WorkerPoolSize)
	log.Printf("  max_connections: %d", serverConfig.MaxConnections)
	log.Printf("  read_timeout:    %s", serverConfig.ReadTimeout)
	log.Printf("  write_timeout:   %s", serverConfig.WriteTimeout)
	log.Printf("  requeue_delay:   %s", cfg.Matchmaking.RequeueDelay)

	// --- Core wiring ---
	reg := registry.New()
	queue := matchmaking.NewQueue()
	pairs := pairing.NewManager(queue)
	handler := relay.NewHandler(reg, queue, pairs, blocks, identity, mod, cfg.Matchmaking.RequeueDelay)

	dispatcher := ws.NewMessageDispatcher(nil)
	handler.Register(dispatcher)

	server := ws.NewServer(serverConfig, reg, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	// The unregister hook is the single authoritative disconnect trigger:
	// driver stop, dequeue and unpair all complete before Unregister returns.
	reg.SetUnregisterHook(handler.OnDisconnect)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)

		handler.Shutdown()
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}

		if natsClient != nil {
			natsClient.Close()
		}
		if redisBlocks != nil {
			_ = redisBlocks.Close()
		}
		if pgIdentity != nil {
			_ = pgIdentity.Close()
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

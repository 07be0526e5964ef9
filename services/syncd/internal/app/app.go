// Package app wires the sync daemon: entity store, API client, TTL gate,
// event bus, fetch engine, staging storage, upload manager, and the Redis
// job queue driving upload workers.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"coursecache/pkg/api"
	"coursecache/pkg/cache"
	"coursecache/pkg/events"
	"coursecache/pkg/queue"
	"coursecache/pkg/storage"
	"coursecache/pkg/store"
	"coursecache/pkg/upload"
	"coursecache/pkg/usecase"
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string

	CanvasBaseURL string
	CanvasToken   string
	UserID        string
	ActAsUserID   string

	RedisAddr     string
	RedisPassword string
	CacheTTL      time.Duration

	AMQPURL      string
	AMQPExchange string

	UploadStream  string
	UploadGroup   string
	UploadWorkers int

	StagingDir     string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	Logger *slog.Logger
}

// App is the assembled sync daemon core.
type App struct {
	Store   *store.EntityStore
	Client  *api.Client
	Engine  *usecase.Engine
	Bus     events.Bus
	Uploads *upload.Manager
	Queue   *queue.RedisJobQueue

	cacheTTL time.Duration
	workers  int
	log      *slog.Logger
	closers  []func() error
}

// New constructs the application core.
func New(cfg Config) (*App, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	entities, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("init entity store: %w", err)
	}

	var clientOpts []api.Option
	if cfg.ActAsUserID != "" {
		clientOpts = append(clientOpts, api.WithActAsUser(cfg.ActAsUserID))
	}
	client := api.NewClient(cfg.CanvasBaseURL, cfg.CanvasToken, clientOpts...)

	a := &App{
		Store:    entities,
		Client:   client,
		cacheTTL: cfg.CacheTTL,
		workers:  cfg.UploadWorkers,
		log:      log,
	}

	var bus events.Bus
	if cfg.AMQPURL != "" {
		exchange := cfg.AMQPExchange
		if exchange == "" {
			exchange = "coursecache.events"
		}
		amqpBus, err := events.NewAMQPBus(cfg.AMQPURL, exchange)
		if err != nil {
			return nil, fmt.Errorf("init event bus: %w", err)
		}
		a.closers = append(a.closers, amqpBus.Close)
		bus = amqpBus
	} else {
		bus = events.NewMemoryBus()
	}
	a.Bus = bus

	engineOpts := []usecase.Option{
		usecase.WithBus(bus),
		usecase.WithLogger(log),
	}
	if cfg.RedisAddr != "" {
		engineOpts = append(engineOpts, usecase.WithGate(cache.NewGate(cfg.RedisAddr, cfg.RedisPassword)))
	}
	if cfg.CacheTTL > 0 {
		engineOpts = append(engineOpts, usecase.WithTTL(cfg.CacheTTL))
	}
	a.Engine = usecase.New(client, entities, engineOpts...)

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		bucket := cfg.MinioBucket
		if bucket == "" {
			bucket = "coursecache-staging"
		}
		objects, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, bucket, cfg.MinioUseSSL)
	} else {
		objects, err = storage.NewFileStore(cfg.StagingDir)
	}
	if err != nil {
		return nil, fmt.Errorf("init staging store: %w", err)
	}

	session := upload.Session{
		UserID:      cfg.UserID,
		BaseURL:     cfg.CanvasBaseURL,
		ActAsUserID: cfg.ActAsUserID,
	}
	a.Uploads = upload.NewManager(entities, objects, upload.Config{
		Session: session,
		Client:  client,
		Tokens: func(userID string) (string, error) {
			if userID != cfg.UserID {
				return "", fmt.Errorf("unknown session user %s", userID)
			}
			return cfg.CanvasToken, nil
		},
	}, upload.WithBus(bus), upload.WithLogger(log))

	if cfg.RedisAddr != "" {
		stream := cfg.UploadStream
		if stream == "" {
			stream = "coursecache:uploads"
		}
		group := cfg.UploadGroup
		if group == "" {
			group = "upload-workers"
		}
		a.Queue, err = queue.NewRedisJobQueue(queue.RedisQueueConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Stream:   stream,
			Group:    group,
		})
		if err != nil {
			return nil, fmt.Errorf("init upload queue: %w", err)
		}
	}

	return a, nil
}

// Run starts the upload machinery: the state machine loop, the queue
// consumers, and a resume pass over rows left non-terminal by a previous
// process. Blocks until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if a.Queue != nil {
		a.Queue.Start(ctx, a.workers, func(ctx context.Context, job queue.JobStatus) error {
			return a.Uploads.Start(ctx, job.FileID)
		})
	}
	go func() {
		if err := a.Uploads.Resume(ctx); err != nil {
			a.log.Warn("upload resume pass failed", "error", err)
		}
	}()
	a.Uploads.Run(ctx)
	return ctx.Err()
}

// CacheTTL returns the configured freshness window; zero means the gate's
// default.
func (a *App) CacheTTL() time.Duration { return a.cacheTTL }

// Close releases broker connections.
func (a *App) Close() error {
	var firstErr error
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

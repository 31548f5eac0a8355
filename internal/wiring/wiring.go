// Package wiring turns a config.Config into connected infrastructure shared by
// the master and worker binaries.
package wiring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"minutebars/internal/config"
	"minutebars/internal/domain"
	"minutebars/internal/infra/blob"
	"minutebars/internal/infra/connect"
	"minutebars/internal/infra/etcd"
	"minutebars/internal/infra/kafka"
	"minutebars/internal/infra/memory"
	"minutebars/internal/infra/mongo"
	"minutebars/internal/infra/postgres"
	"minutebars/internal/infra/rabbitmq"
	"minutebars/internal/infra/redis"
	"minutebars/internal/infra/sqlstore"

	goredis "github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// ErrNoEtcd is returned when an etcd-backed component is requested without
// configured endpoints.
var ErrNoEtcd = errors.New("no etcd endpoints configured")

// Resources opens infrastructure on first use and closes all of it in reverse
// order.
type Resources struct {
	cfg    *config.Config
	policy connect.Policy
	logger *slog.Logger

	mu      sync.Mutex
	etcd    *clientv3.Client
	redis   *goredis.Client
	closers []closer
}

type closer struct {
	name  string
	close func(context.Context) error
}

// New creates Resources for cfg. Nothing is dialed yet.
func New(cfg *config.Config, logger *slog.Logger) *Resources {
	return &Resources{
		cfg:    cfg,
		policy: connect.Policy{Attempts: cfg.ConnectAttempts, Delay: cfg.RetryDelay},
		logger: logger,
	}
}

func (r *Resources) onClose(name string, fn func(context.Context) error) {
	r.closers = append(r.closers, closer{name: name, close: fn})
}

// HasEtcd reports whether etcd endpoints are configured.
func (r *Resources) HasEtcd() bool {
	return len(r.cfg.Etcd.Endpoints) > 0
}

// Etcd returns the shared etcd client.
func (r *Resources) Etcd(ctx context.Context) (*clientv3.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.etcdLocked(ctx)
}

func (r *Resources) etcdLocked(ctx context.Context) (*clientv3.Client, error) {
	if r.etcd != nil {
		return r.etcd, nil
	}
	if !r.HasEtcd() {
		return nil, ErrNoEtcd
	}
	client, err := etcd.NewClient(ctx, r.cfg.Etcd.Endpoints, r.cfg.Etcd.Timeout, r.policy, r.logger)
	if err != nil {
		return nil, err
	}
	r.etcd = client
	r.onClose("etcd", func(context.Context) error { return client.Close() })
	return client, nil
}

func (r *Resources) redisLocked(ctx context.Context) (*goredis.Client, error) {
	if r.redis != nil {
		return r.redis, nil
	}
	client, err := redis.NewClient(ctx, redis.ClientConfig{
		Addr:     r.cfg.Redis.Addr,
		Username: r.cfg.Redis.Username,
		Password: r.cfg.Redis.Password,
		DB:       r.cfg.Redis.DB,
		Connect:  r.policy,
	}, r.logger)
	if err != nil {
		return nil, err
	}
	r.redis = client
	r.onClose("redis", func(context.Context) error { return client.Close() })
	return client, nil
}

// Queue opens the configured broker session.
func (r *Resources) Queue(ctx context.Context) (domain.TaskQueue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		q   domain.TaskQueue
		err error
	)
	b := r.cfg.Broker
	switch b.Kind {
	case "memory":
		q = memory.NewQueue()
	case "rabbitmq":
		q, err = rabbitmq.Dial(ctx, rabbitmq.Config{URL: b.RabbitMQ.URL, Quorum: b.RabbitMQ.Quorum, Connect: r.policy}, r.logger)
	case "redis":
		var client *goredis.Client
		if client, err = r.redisLocked(ctx); err == nil {
			q = redis.NewQueue(client, redis.QueueConfig{
				Group:     b.Streams.Group,
				ClaimIdle: b.Streams.ClaimIdle,
				Block:     b.Streams.Block,
			}, r.logger)
		}
	case "kafka":
		q, err = kafka.Dial(ctx, kafka.Config{Brokers: b.Kafka.Brokers, GroupID: b.Kafka.GroupID, Connect: r.policy}, r.logger)
	default:
		return nil, fmt.Errorf("unknown broker kind %q", b.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s broker: %w", b.Kind, err)
	}
	r.onClose("broker", func(context.Context) error { return q.Close() })
	return q, nil
}

// AckLog opens the configured acknowledgment log.
func (r *Resources) AckLog(ctx context.Context) (domain.AckLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.cfg.AckLog.Kind {
	case "memory":
		return memory.NewAckLog(), nil
	case "etcd":
		client, err := r.etcdLocked(ctx)
		if err != nil {
			return nil, err
		}
		return etcd.NewEtcdAckLog(client), nil
	case "redis":
		client, err := r.redisLocked(ctx)
		if err != nil {
			return nil, err
		}
		return redis.NewAckLog(client, r.cfg.AckLog.TTL), nil
	default:
		return nil, fmt.Errorf("unknown ack log kind %q", r.cfg.AckLog.Kind)
	}
}

// Sink opens the configured bar sink.
func (r *Resources) Sink(ctx context.Context) (domain.BarSink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		sink domain.BarSink
		err  error
	)
	s := r.cfg.Sink
	switch s.Kind {
	case "memory":
		sink = memory.NewSink()
	case "mongo":
		sink, err = mongo.NewSink(ctx, mongo.Config{
			URI:        s.Mongo.URI,
			Database:   s.Mongo.Database,
			Collection: s.Mongo.Collection,
			Connect:    r.policy,
		}, r.logger)
	case "postgres":
		sink, err = postgres.NewSink(ctx, s.Postgres.DSN, r.policy, r.logger)
	case "gorm":
		sink, err = r.openGorm(ctx)
	default:
		return nil, fmt.Errorf("unknown sink kind %q", s.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s sink: %w", s.Kind, err)
	}
	r.onClose("sink", sink.Close)
	return sink, nil
}

func (r *Resources) openGorm(ctx context.Context) (*sqlstore.Sink, error) {
	g := r.cfg.Sink.Gorm
	db, err := sqlstore.Open(g.Dialect, g.DSN, r.logger.Handler())
	if err != nil {
		return nil, err
	}
	if g.Dialect == "sqlite" {
		// sqlite allows a single writer.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return sqlstore.NewSink(ctx, db, g.BatchSize)
}

// Archive opens the raw-body archive, or returns nil when none is configured.
func (r *Resources) Archive(ctx context.Context) (domain.RawArchive, error) {
	if r.cfg.Archive.URL == "" {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	archive, err := blob.Open(ctx, r.cfg.Archive.URL)
	if err != nil {
		return nil, err
	}
	r.onClose("archive", func(context.Context) error { return archive.Close() })
	return archive, nil
}

// Runs returns the run repository: etcd when configured, memory otherwise.
func (r *Resources) Runs(ctx context.Context) (domain.RunRepository, error) {
	if !r.HasEtcd() {
		return memory.NewRunRepository(), nil
	}
	client, err := r.Etcd(ctx)
	if err != nil {
		return nil, err
	}
	return etcd.NewEtcdRunRepository(client, r.logger), nil
}

// Locker returns the dispatch locker: etcd when configured, in-process otherwise.
func (r *Resources) Locker(ctx context.Context) (domain.Locker, error) {
	if !r.HasEtcd() {
		return memory.NewLocker(), nil
	}
	client, err := r.Etcd(ctx)
	if err != nil {
		return nil, err
	}
	return etcd.NewEtcdLocker(client), nil
}

// Close releases everything opened so far, newest first.
func (r *Resources) Close(ctx context.Context) error {
	r.mu.Lock()
	closers := r.closers
	r.closers = nil
	r.etcd, r.redis = nil, nil
	r.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].close(ctx); err != nil {
			r.logger.Error("failed to close resource", "resource", closers[i].name, "error", err)
			errs = append(errs, fmt.Errorf("close %s: %w", closers[i].name, err))
		}
	}
	return errors.Join(errs...)
}

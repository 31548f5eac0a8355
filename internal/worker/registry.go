// internal/worker/registry.go
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"minutebars/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// Registry announces a downloader's presence in etcd under a lease, so the
// master can tell whether anybody serves the url queue.
type Registry struct {
	client  *clientv3.Client
	logger  *slog.Logger
	leaseID clientv3.LeaseID
	key     string
	value   string
	cancel  context.CancelFunc
}

// NewRegistry creates a new worker registry.
func NewRegistry(client *clientv3.Client, logger *slog.Logger) *Registry {
	return &Registry{
		client: client,
		logger: logger.With("component", "registry"),
	}
}

// Register puts /minutebars/workers/{workerID} = host under a lease of ttl
// seconds and keeps the lease alive until Deregister.
func (r *Registry) Register(ctx context.Context, workerID, host string, ttl int64) error {
	r.key = domain.WorkerRegistryPrefix + workerID
	r.value = host

	leaseResp, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("failed to grant lease: %w", err)
	}
	r.leaseID = leaseResp.ID

	if _, err = r.client.Put(ctx, r.key, r.value, clientv3.WithLease(r.leaseID)); err != nil {
		return fmt.Errorf("failed to put worker registration key: %w", err)
	}

	kaCtx, cancel := context.WithCancel(context.Background())
	keepAliveCh, err := r.client.KeepAlive(kaCtx, r.leaseID)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to start keep-alive: %w", err)
	}
	r.cancel = cancel

	go func() {
		for ka := range keepAliveCh {
			r.logger.Debug("lease keep-alive refreshed", "lease_id", ka.ID, "ttl", ka.TTL)
		}
		// closed: lease revoked, expired, or keep-alive cancelled
		r.logger.Warn("keep-alive channel closed, worker registration may have expired")
	}()

	r.logger.Info("worker registered successfully", "key", r.key, "host", r.value)
	return nil
}

// Deregister revokes the lease, which deletes the registration key.
func (r *Registry) Deregister(ctx context.Context) error {
	r.logger.Info("deregistering worker", "key", r.key)
	if r.cancel != nil {
		r.cancel()
	}
	if _, err := r.client.Revoke(ctx, r.leaseID); err != nil {
		return fmt.Errorf("failed to revoke lease: %w", err)
	}
	return nil
}

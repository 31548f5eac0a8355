// internal/master/discovery.go
package master

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"minutebars/internal/domain"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// WorkerDiscovery tracks the downloader workers registered in etcd. The master
// never talks to workers directly; it only warns when a run would start with
// nobody to serve the url queue.
type WorkerDiscovery struct {
	client  *clientv3.Client
	logger  *slog.Logger
	workers map[string]string // key -> hostname
	mu      sync.RWMutex
}

// NewWorkerDiscovery creates a new discovery service.
func NewWorkerDiscovery(client *clientv3.Client, logger *slog.Logger) *WorkerDiscovery {
	return &WorkerDiscovery{
		client:  client,
		logger:  logger.With("component", "worker-discovery"),
		workers: make(map[string]string),
	}
}

// WatchWorkers watches etcd for worker registrations and deregistrations.
// This is a blocking call and should be run in a goroutine.
func (d *WorkerDiscovery) WatchWorkers(ctx context.Context) {
	d.logger.Info("starting to watch for workers")

	rev, err := d.loadInitialWorkers(ctx)
	if err != nil {
		d.logger.Error("failed to perform initial worker load", "error", err)
	}

	opts := []clientv3.OpOption{clientv3.WithPrefix()}
	if rev > 0 {
		opts = append(opts, clientv3.WithRev(rev+1))
	}
	watchChan := d.client.Watch(ctx, domain.WorkerRegistryPrefix, opts...)

	for watchResp := range watchChan {
		for _, event := range watchResp.Events {
			d.apply(event.Type, string(event.Kv.Key), string(event.Kv.Value))
		}
	}
	d.logger.Info("stopped watching for workers")
}

func (d *WorkerDiscovery) apply(typ mvccpb.Event_EventType, key, host string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch typ {
	case clientv3.EventTypePut:
		if _, ok := d.workers[key]; !ok {
			d.logger.Info("new worker discovered", "id", key, "host", host)
		}
		d.workers[key] = host
	case clientv3.EventTypeDelete:
		// lease expired or graceful shutdown
		d.logger.Info("worker deregistered", "id", key, "host", d.workers[key])
		delete(d.workers, key)
	}
}

func (d *WorkerDiscovery) loadInitialWorkers(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := d.client.Get(ctx, domain.WorkerRegistryPrefix, clientv3.WithPrefix())
	if err != nil {
		return 0, err
	}

	for _, kv := range resp.Kvs {
		d.apply(clientv3.EventTypePut, string(kv.Key), string(kv.Value))
	}
	return resp.Header.Revision, nil
}

// GetWorkers returns a snapshot of the registered worker hosts.
func (d *WorkerDiscovery) GetWorkers() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	hosts := make([]string, 0, len(d.workers))
	for _, host := range d.workers {
		hosts = append(hosts, host)
	}
	return hosts
}

// WorkerCount returns the number of registered workers.
func (d *WorkerDiscovery) WorkerCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.workers)
}

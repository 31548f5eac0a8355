package master

import (
	"testing"

	"minutebars/internal/domain"

	"github.com/stretchr/testify/assert"
	clientv3 "go.etcd.io/etcd/client/v3"
)

func TestWorkerDiscovery_TracksRegistrations(t *testing.T) {
	d := NewWorkerDiscovery(nil, discardLogger())
	assert.Zero(t, d.WorkerCount())

	d.apply(clientv3.EventTypePut, domain.WorkerRegistryPrefix+"w1", "host-a")
	d.apply(clientv3.EventTypePut, domain.WorkerRegistryPrefix+"w2", "host-b")
	d.apply(clientv3.EventTypePut, domain.WorkerRegistryPrefix+"w1", "host-a")
	assert.Equal(t, 2, d.WorkerCount())
	assert.ElementsMatch(t, []string{"host-a", "host-b"}, d.GetWorkers())

	d.apply(clientv3.EventTypeDelete, domain.WorkerRegistryPrefix+"w1", "")
	assert.Equal(t, 1, d.WorkerCount())
	assert.Equal(t, []string{"host-b"}, d.GetWorkers())
}

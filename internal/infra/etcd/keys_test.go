package etcd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "/minutebars/runs/r1/expected", expectedKey("r1"))
	assert.Equal(t, "/minutebars/runs/r1/acks/", acksPrefix("r1"))
	assert.Equal(t, "/minutebars/history/", RunHistoryDir)
	assert.Equal(t, "/minutebars/locks/", LockPrefix)
	assert.Equal(t, "/minutebars/leader", LeaderElectionKey)
}

//go:build integration

// Package testutils provides shared test infrastructure for integration tests.
package testutils

import (
	"context"
	"fmt"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Env is a started container and the address it is reachable on.
type Env struct {
	Container testcontainers.Container
	Endpoint  string
}

// start runs req and resolves the mapped address of port. The container is
// terminated when the test finishes.
func start(t *testing.T, ctx context.Context, req testcontainers.ContainerRequest, port string) *Env {
	t.Helper()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start %s container: %v", req.Image, err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("get container host: %v", err)
	}
	mapped, err := c.MappedPort(ctx, port)
	if err != nil {
		t.Fatalf("get container port: %v", err)
	}

	return &Env{Container: c, Endpoint: fmt.Sprintf("%s:%s", host, mapped.Port())}
}

// StartRabbitMQ starts a RabbitMQ broker; the URL is amqp://guest:guest@<Endpoint>/.
func StartRabbitMQ(t *testing.T, ctx context.Context) *Env {
	return start(t, ctx, testcontainers.ContainerRequest{
		Image:        "rabbitmq:3.13-alpine",
		ExposedPorts: []string{"5672/tcp"},
		WaitingFor:   wait.ForLog("Server startup complete"),
	}, "5672")
}

// StartRedis starts a Redis server.
func StartRedis(t *testing.T, ctx context.Context) *Env {
	return start(t, ctx, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}, "6379")
}

// StartPostgres starts PostgreSQL with user, password and database "minutebars".
func StartPostgres(t *testing.T, ctx context.Context) *Env {
	return start(t, ctx, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "minutebars",
			"POSTGRES_PASSWORD": "minutebars",
			"POSTGRES_DB":       "minutebars",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}, "5432")
}

// StartMongo starts a MongoDB server.
func StartMongo(t *testing.T, ctx context.Context) *Env {
	return start(t, ctx, testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForLog("Waiting for connections"),
	}, "27017")
}

// StartEtcd starts a single-node etcd.
func StartEtcd(t *testing.T, ctx context.Context) *Env {
	return start(t, ctx, testcontainers.ContainerRequest{
		Image:        "quay.io/coreos/etcd:v3.6.6",
		ExposedPorts: []string{"2379/tcp"},
		Cmd: []string{
			"etcd",
			"--listen-client-urls=http://0.0.0.0:2379",
			"--advertise-client-urls=http://0.0.0.0:2379",
		},
		WaitingFor: wait.ForListeningPort("2379/tcp"),
	}, "2379")
}

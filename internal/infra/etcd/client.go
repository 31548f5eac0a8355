package etcd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"minutebars/internal/infra/connect"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// KeyPrefix is the root of every key this service writes.
const KeyPrefix = "/minutebars/"

// NewClient creates an etcd client and waits until the first endpoint answers.
func NewClient(ctx context.Context, endpoints []string, timeout time.Duration, policy connect.Policy, logger *slog.Logger) (*clientv3.Client, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: timeout,
	})
	if err != nil {
		return nil, err
	}

	_, err = connect.Retry(ctx, policy, logger, "etcd", func(ctx context.Context) (*clientv3.StatusResponse, error) {
		statusCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return cli.Status(statusCtx, endpoints[0])
	})
	if err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("etcd is unreachable: %w", err)
	}
	return cli, nil
}

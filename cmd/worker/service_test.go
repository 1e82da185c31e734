package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-backend/pkg/logger"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type runnerFunc func(context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }

func blockingRunner() runner {
	return runnerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
}

func newWorker(t *testing.T, db pinger, consumers map[string]runner) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Logger:    logger.Nop(),
		DB:        db,
		Redis:     stubPinger{},
		PubSub:    stubPinger{},
		Consumers: consumers,
	})
	require.NoError(t, err)
	return svc
}

func TestRunFailsWhenDependencyDown(t *testing.T) {
	svc := newWorker(t, stubPinger{err: errors.New("refused")}, map[string]runner{"c": blockingRunner()})
	err := svc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database ping failed")
}

func TestRunReturnsConsumerFailure(t *testing.T) {
	boom := errors.New("subscription deleted")
	svc := newWorker(t, stubPinger{}, map[string]runner{
		"ok":     blockingRunner(),
		"broken": runnerFunc(func(context.Context) error { return boom }),
	})
	err := svc.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestRunStopsOnCancel(t *testing.T) {
	svc := newWorker(t, stubPinger{}, map[string]runner{"c": blockingRunner()})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := svc.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewServiceRequiresConsumers(t *testing.T) {
	_, err := NewService(ServiceParams{
		Logger: logger.Nop(),
		DB:     stubPinger{},
		Redis:  stubPinger{},
		PubSub: stubPinger{},
	})
	require.Error(t, err)
}

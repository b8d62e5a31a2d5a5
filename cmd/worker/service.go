package main

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/lumenpay/settlement-backend/pkg/logger"
)

type pinger interface {
	Ping(context.Context) error
}

type consumer interface {
	Name() string
	Run(ctx context.Context) error
}

type flusher interface {
	Flush(ctx context.Context) error
}

type ServiceParams struct {
	Logger       *logger.Logger
	Dependencies map[string]pinger
	Consumers    []consumer
	// Flushers drain buffered output once every consumer has stopped.
	Flushers []flusher
}

// Service runs the settlement event consumers side by side. The first
// consumer to fail stops the others.
type Service struct {
	logg      *logger.Logger
	deps      map[string]pinger
	consumers []consumer
	flushers  []flusher
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if len(params.Consumers) == 0 {
		return nil, errors.New("at least one consumer is required")
	}
	for _, c := range params.Consumers {
		if c == nil {
			return nil, errors.New("nil consumer")
		}
	}
	return &Service{
		logg:      params.Logger,
		deps:      params.Dependencies,
		consumers: params.Consumers,
		flushers:  params.Flushers,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for name, dep := range s.deps {
		if dep == nil {
			continue
		}
		if err := dep.Ping(ctx); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, c := range s.consumers {
		group.Go(func() error {
			consumerCtx := s.logg.WithField(groupCtx, "consumer", c.Name())
			s.logg.Info(consumerCtx, "consumer started")
			if err := c.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s consumer: %w", c.Name(), err)
			}
			s.logg.Info(consumerCtx, "consumer stopped")
			return nil
		})
	}
	err := group.Wait()

	// the run context is done by now
	for _, f := range s.flushers {
		if flushErr := f.Flush(context.WithoutCancel(ctx)); flushErr != nil {
			s.logg.Error(ctx, "flush on shutdown failed", flushErr)
		}
	}

	if err != nil {
		s.logg.Error(ctx, "consumer stopped unexpectedly", err)
		return err
	}
	return ctx.Err()
}

package history

import (
	"context"
	"fmt"

	"github.com/slok/postsched/internal/log"
	"github.com/slok/postsched/internal/model"
	"github.com/slok/postsched/internal/storage"
)

// ServiceConfig is the configuration for the history service.
type ServiceConfig struct {
	Results storage.ResultReader
	Logger  log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Results == nil {
		return fmt.Errorf("result reader is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Service lists recorded upload results with optional filtering.
type Service struct {
	results storage.ResultReader
	logger  log.Logger
}

// NewService creates a new history service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		results: cfg.Results,
		logger:  cfg.Logger,
	}, nil
}

// Request represents the history request parameters.
type Request struct {
	// Owner only keeps the results of this owner.
	Owner string
	// FailedOnly only keeps failed results.
	FailedOnly bool
	// Last keeps only the N most recent results, 0 keeps all.
	Last int
}

// Run lists the results in append order. Undecodable records are only returned
// when no filter is set.
func (s *Service) Run(ctx context.Context, req Request) ([]model.LogEntry, error) {
	if req.Last < 0 {
		return nil, fmt.Errorf("last can't be negative: %w", model.ErrNotValid)
	}

	entries, err := s.results.ListResults(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list results: %w", err)
	}

	filtering := req.Owner != "" || req.FailedOnly
	if filtering {
		filtered := make([]model.LogEntry, 0, len(entries))
		for _, e := range entries {
			if e.Raw != "" {
				continue
			}
			if req.Owner != "" && e.Owner != req.Owner {
				continue
			}
			if req.FailedOnly && e.Outcome.Success {
				continue
			}
			filtered = append(filtered, e)
		}
		entries = filtered
	}

	if req.Last > 0 && len(entries) > req.Last {
		entries = entries[len(entries)-req.Last:]
	}

	s.logger.Debugf("found %d results", len(entries))
	return entries, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"product-trace/internal/trace"
	"product-trace/internal/trace/cache"

	"github.com/prometheus/client_golang/prometheus"
)

type Repository interface {
	Create(ctx context.Context, name, manufacturer, imageRef, status, details string) (trace.Product, error)
	AppendEvent(ctx context.Context, productID int64, status, details, location string) (trace.StatusEvent, error)
	GetByID(ctx context.Context, id int64) (trace.Product, error)
	List(ctx context.Context) ([]trace.Product, error)
	Delete(ctx context.Context, id int64) error
}

type Publisher interface {
	Publish(ctx context.Context, event trace.TraceEvent) error
}

// Cache is the optional read-through cache in front of product lookups.
type Cache interface {
	Get(ctx context.Context, id int64) (trace.Product, error)
	Set(ctx context.Context, p trace.Product) error
	Invalidate(ctx context.Context, id int64) error
}

// Authorizer is the admin gate. Mutating calls carry the candidate key and
// the check runs here, in the same call that performs the mutation.
type Authorizer interface {
	Authorize(candidate string) bool
}

type Metrics struct {
	Created  prometheus.Counter
	Appended prometheus.Counter
	Deleted  prometheus.Counter
}

type Service struct {
	repo      Repository
	publisher Publisher
	cache     Cache
	gate      Authorizer
	logger    *slog.Logger
	metrics   Metrics
	opTimeout time.Duration
}

func New(repo Repository, publisher Publisher, c Cache, gate Authorizer, logger *slog.Logger, metrics Metrics, opTimeout time.Duration) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		cache:     c,
		gate:      gate,
		logger:    logger,
		metrics:   metrics,
		opTimeout: opTimeout,
	}
}

// CreateProduct validates the input, allocates an id and records the product
// together with its creation event. Both become visible atomically.
func (s *Service) CreateProduct(ctx context.Context, adminKey string, in trace.CreateProductInput) (trace.Product, error) {
	if !s.gate.Authorize(adminKey) {
		return trace.Product{}, trace.ErrUnauthorized
	}

	in.Name = strings.TrimSpace(in.Name)
	in.Manufacturer = strings.TrimSpace(in.Manufacturer)
	in.InitialStatus = strings.TrimSpace(in.InitialStatus)
	in.InitialDetails = strings.TrimSpace(in.InitialDetails)
	switch {
	case in.Name == "":
		return trace.Product{}, fmt.Errorf("%w: name is required", trace.ErrInvalidInput)
	case in.Manufacturer == "":
		return trace.Product{}, fmt.Errorf("%w: manufacturer is required", trace.ErrInvalidInput)
	case in.InitialStatus == "":
		return trace.Product{}, fmt.Errorf("%w: initialStatus is required", trace.ErrInvalidInput)
	case in.InitialDetails == "":
		return trace.Product{}, fmt.Errorf("%w: initialDetails is required", trace.ErrInvalidInput)
	}

	opCtx, cancel := s.bound(ctx)
	defer cancel()
	product, err := s.repo.Create(opCtx, in.Name, in.Manufacturer, in.ImageRef, in.InitialStatus, in.InitialDetails)
	if err != nil {
		return trace.Product{}, fmt.Errorf("repo create: %w", err)
	}

	s.publish(ctx, trace.TraceEvent{
		EventType: trace.EventCreated,
		ProductID: product.ID,
		Status:    in.InitialStatus,
		Timestamp: time.Now().UTC(),
	})
	s.metrics.Created.Inc()
	return product, nil
}

// AppendStatus records one more status event for an existing product.
func (s *Service) AppendStatus(ctx context.Context, adminKey string, productID int64, status, details, location string) (trace.StatusEvent, error) {
	if !s.gate.Authorize(adminKey) {
		return trace.StatusEvent{}, trace.ErrUnauthorized
	}

	status = strings.TrimSpace(status)
	details = strings.TrimSpace(details)
	location = strings.TrimSpace(location)
	switch {
	case status == "":
		return trace.StatusEvent{}, fmt.Errorf("%w: status is required", trace.ErrInvalidInput)
	case details == "":
		return trace.StatusEvent{}, fmt.Errorf("%w: details is required", trace.ErrInvalidInput)
	}

	opCtx, cancel := s.bound(ctx)
	defer cancel()
	event, err := s.repo.AppendEvent(opCtx, productID, status, details, location)
	if err != nil {
		if errors.Is(err, trace.ErrNotFound) {
			return trace.StatusEvent{}, trace.ErrNotFound
		}
		return trace.StatusEvent{}, fmt.Errorf("repo append: %w", err)
	}

	s.invalidate(ctx, productID)
	s.publish(ctx, trace.TraceEvent{
		EventType: trace.EventAppended,
		ProductID: productID,
		Status:    status,
		Timestamp: event.Timestamp,
	})
	s.metrics.Appended.Inc()
	return event, nil
}

// DeleteProduct removes a product and its history. Ids are never reused.
func (s *Service) DeleteProduct(ctx context.Context, adminKey string, productID int64) error {
	if !s.gate.Authorize(adminKey) {
		return trace.ErrUnauthorized
	}

	opCtx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.repo.Delete(opCtx, productID); err != nil {
		if errors.Is(err, trace.ErrNotFound) {
			return trace.ErrNotFound
		}
		return fmt.Errorf("repo delete: %w", err)
	}

	s.invalidate(ctx, productID)
	s.publish(ctx, trace.TraceEvent{
		EventType: trace.EventDeleted,
		ProductID: productID,
		Timestamp: time.Now().UTC(),
	})
	s.metrics.Deleted.Inc()
	return nil
}

// GetProduct looks up a product with its full history. A missing product is
// an expected outcome of a lookup, reported as absent rather than an error.
func (s *Service) GetProduct(ctx context.Context, id int64) (trace.Product, bool, error) {
	product, err := s.fetch(ctx, id)
	if errors.Is(err, trace.ErrNotFound) {
		return trace.Product{}, false, nil
	}
	if err != nil {
		return trace.Product{}, false, err
	}
	return product, true, nil
}

// ListProducts returns the complete catalog, each entry carrying its current
// status. The full set is returned on every call.
func (s *Service) ListProducts(ctx context.Context) ([]trace.Product, error) {
	opCtx, cancel := s.bound(ctx)
	defer cancel()
	list, err := s.repo.List(opCtx)
	if err != nil {
		return nil, fmt.Errorf("repo list: %w", err)
	}
	return list, nil
}

// History returns the ordered event sequence for a product.
func (s *Service) History(ctx context.Context, id int64) ([]trace.StatusEvent, error) {
	product, err := s.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	return product.History, nil
}

// CurrentStatus is the last element of the history, derived on every call.
func (s *Service) CurrentStatus(ctx context.Context, id int64) (trace.StatusEvent, error) {
	product, err := s.fetch(ctx, id)
	if err != nil {
		return trace.StatusEvent{}, err
	}
	current := product.Current()
	if current == nil {
		return trace.StatusEvent{}, trace.ErrNotFound
	}
	return *current, nil
}

// fetch reads through the cache when one is configured. Cache failures are
// logged and the store is consulted; a broken cache never breaks reads.
func (s *Service) fetch(ctx context.Context, id int64) (trace.Product, error) {
	if s.cache != nil {
		product, err := s.cache.Get(ctx, id)
		if err == nil {
			return product, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.Error("product cache read failed", "product_id", id, "error", err)
		}
	}

	opCtx, cancel := s.bound(ctx)
	defer cancel()
	product, err := s.repo.GetByID(opCtx, id)
	if errors.Is(err, trace.ErrNotFound) {
		return trace.Product{}, trace.ErrNotFound
	}
	if err != nil {
		return trace.Product{}, fmt.Errorf("repo get: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, product); err != nil {
			s.logger.Error("product cache write failed", "product_id", id, "error", err)
		}
	}
	return product, nil
}

func (s *Service) invalidate(ctx context.Context, id int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.logger.Error("product cache invalidation failed", "product_id", id, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, event trace.TraceEvent) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("publish trace event failed",
			"event_type", event.EventType,
			"product_id", event.ProductID,
			"error", err,
		)
	}
}

func (s *Service) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// Package cache is an explicit read-through cache in front of the query
// service. Entries hold a full product document and are removed whenever a
// write to the same id goes through this process, so a cached read never
// outlives a locally observed mutation.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"product-trace/internal/trace"
)

const (
	productKeyPrefix = "trace:product:"

	dialTimeout  = 5 * time.Second
	readTimeout  = 3 * time.Second
	writeTimeout = 3 * time.Second
	pingTimeout  = 2 * time.Second
)

// ErrMiss is returned by Get when no entry exists for the id.
var ErrMiss = errors.New("cache miss")

// The API model hides ledger coordinates (product id, seq) from its JSON
// form, so entries use their own encoding. Every field survives the round
// trip: a cached read must be indistinguishable from a storage read.
type cachedProduct struct {
	ID           int64         `json:"id"`
	Name         string        `json:"name"`
	Manufacturer string        `json:"manufacturer"`
	ImageRef     string        `json:"image_ref"`
	CreatedAt    time.Time     `json:"created_at"`
	History      []cachedEvent `json:"history,omitempty"`
}

type cachedEvent struct {
	ProductID int64     `json:"product_id"`
	Seq       int64     `json:"seq"`
	Status    string    `json:"status"`
	Details   string    `json:"details"`
	Location  string    `json:"location,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func encodeProduct(p trace.Product) ([]byte, error) {
	doc := cachedProduct{
		ID:           p.ID,
		Name:         p.Name,
		Manufacturer: p.Manufacturer,
		ImageRef:     p.ImageRef,
		CreatedAt:    p.CreatedAt,
	}
	for _, e := range p.History {
		doc.History = append(doc.History, cachedEvent{
			ProductID: e.ProductID,
			Seq:       e.Seq,
			Status:    e.Status,
			Details:   e.Details,
			Location:  e.Location,
			Timestamp: e.Timestamp,
		})
	}
	return json.Marshal(doc)
}

func decodeProduct(raw []byte) (trace.Product, error) {
	var doc cachedProduct
	if err := json.Unmarshal(raw, &doc); err != nil {
		return trace.Product{}, err
	}
	p := trace.Product{
		ID:           doc.ID,
		Name:         doc.Name,
		Manufacturer: doc.Manufacturer,
		ImageRef:     doc.ImageRef,
		CreatedAt:    doc.CreatedAt,
	}
	for _, e := range doc.History {
		p.History = append(p.History, trace.StatusEvent{
			ProductID: e.ProductID,
			Seq:       e.Seq,
			Status:    e.Status,
			Details:   e.Details,
			Location:  e.Location,
			Timestamp: e.Timestamp,
		})
	}
	return p, nil
}

type ProductCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewProductCache connects to redis, verifies connectivity and returns the
// cache. The TTL bounds staleness for writes performed by other processes,
// which never invalidate this instance's entries.
func NewProductCache(redisURL string, ttl time.Duration) (*ProductCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opts.DialTimeout = dialTimeout
	opts.ReadTimeout = readTimeout
	opts.WriteTimeout = writeTimeout

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &ProductCache{client: client, ttl: ttl}, nil
}

func (c *ProductCache) Get(ctx context.Context, id int64) (trace.Product, error) {
	raw, err := c.client.Get(ctx, productKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return trace.Product{}, ErrMiss
	}
	if err != nil {
		return trace.Product{}, fmt.Errorf("cache get: %w", err)
	}

	p, err := decodeProduct(raw)
	if err != nil {
		return trace.Product{}, fmt.Errorf("cache decode: %w", err)
	}
	return p, nil
}

func (c *ProductCache) Set(ctx context.Context, p trace.Product) error {
	raw, err := encodeProduct(p)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.client.Set(ctx, productKey(p.ID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Invalidate removes the entry for id. Called after every successful write.
func (c *ProductCache) Invalidate(ctx context.Context, id int64) error {
	if err := c.client.Del(ctx, productKey(id)).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}

func (c *ProductCache) Close() error {
	return c.client.Close()
}

func productKey(id int64) string {
	return productKeyPrefix + strconv.FormatInt(id, 10)
}

package storage

import (
	"fmt"
	"strings"
	"time"
)

// Package storage remembers which ParseHub runs have already been delivered.

// Delivery records a run whose results were handed to the publishers.
type Delivery struct {
	RunToken    string    `json:"run_token"`
	JobToken    string    `json:"job_token"`
	MD5Sum      string    `json:"md5sum,omitempty"`
	DeliveredAt time.Time `json:"delivered_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Store tracks delivered run tokens.
type Store interface {
	Close() error
	Delivered(runToken string) (bool, error)
	MarkDelivered(d Delivery) error
}

// Options controls retention characteristics for concrete store implementations.
type Options struct {
	DeliveryTTL     time.Duration
	CleanupInterval time.Duration
}

const (
	defaultDeliveryTTL     = 30 * 24 * time.Hour
	defaultCleanupInterval = 12 * time.Hour
)

// NewStore creates the configured storage backend.
func NewStore(typ, path string, opts Options) (Store, error) {
	typ = strings.TrimSpace(strings.ToLower(typ))
	opts = normalizeOptions(opts)

	switch typ {
	case "", "none", "disabled":
		return noopStore{}, nil
	case "bbolt":
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("bbolt storage requires a path")
		}
		return openBolt(path, opts)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", typ)
	}
}

func normalizeOptions(opts Options) Options {
	if opts.DeliveryTTL <= 0 {
		opts.DeliveryTTL = defaultDeliveryTTL
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = defaultCleanupInterval
	}
	return opts
}

type noopStore struct{}

func (noopStore) Close() error                   { return nil }
func (noopStore) Delivered(string) (bool, error) { return false, nil }
func (noopStore) MarkDelivered(Delivery) error   { return nil }

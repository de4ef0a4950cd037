// Package repository persists encoded save envelopes in named slots.
package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/queuefight/queuefight-server/internal/config"
)

var (
	// ErrSlotNotFound is returned when a slot has never been written.
	ErrSlotNotFound = errors.New("save slot not found")
	// ErrInvalidSlot is returned for slot names outside [A-Za-z0-9_-]{1,64}.
	ErrInvalidSlot = errors.New("invalid save slot name")
)

var slotPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// SlotInfo describes a stored slot.
type SlotInfo struct {
	Slot      string
	Size      int
	UpdatedAt time.Time
}

// Store is a save slot backend. Put overwrites an existing slot.
type Store interface {
	Put(ctx context.Context, slot string, data []byte) error
	Get(ctx context.Context, slot string) ([]byte, error)
	List(ctx context.Context) ([]SlotInfo, error)
	Delete(ctx context.Context, slot string) error
	Close() error
}

// ValidateSlot rejects slot names that are unsafe as file names or keys.
func ValidateSlot(slot string) error {
	if !slotPattern.MatchString(slot) {
		return fmt.Errorf("%w: %q", ErrInvalidSlot, slot)
	}
	return nil
}

// Open builds the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		store Store
		err   error
	)
	switch cfg.Backend {
	case config.BackendFile, "":
		logger.Info("using file save store", zap.String("dir", cfg.Dir))
		store, err = NewFileStore(cfg.Dir)
	case config.BackendSQLite:
		logger.Info("using sqlite save store", zap.String("path", cfg.SQLitePath))
		store, err = OpenSQLite(ctx, cfg.SQLitePath)
	case config.BackendPostgres:
		logger.Info("using postgres save store", zap.Int32("max_conns", cfg.Postgres.MaxConns))
		store, err = OpenPostgres(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

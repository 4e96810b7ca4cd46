// Package redis implements the run registry on Redis so that the
// coordinating process and remote workers share cancellation state.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/intel-archiver/internal/runregistry"
)

const defaultTTL = 7 * 24 * time.Hour

// Config selects the Redis server and key layout.
type Config struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Registry stores one JSON record per run plus a pointer to the current run.
type Registry struct {
	client goredis.UniversalClient
	owned  bool
	prefix string
	ttl    time.Duration
}

// New connects to cfg.Addr.
func New(cfg Config) (*Registry, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	r := NewWithClient(client, cfg.Prefix, cfg.TTL)
	r.owned = true
	return r, nil
}

// NewWithClient wraps an existing client. Records expire after ttl.
func NewWithClient(client goredis.UniversalClient, prefix string, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Registry{client: client, prefix: prefix, ttl: ttl}
}

// Close closes an owned client.
func (r *Registry) Close() error {
	if !r.owned {
		return nil
	}
	return r.client.Close()
}

func (r *Registry) currentKey() string {
	return r.prefix + "current"
}

func (r *Registry) runKey(runID string) string {
	return r.prefix + "run:" + runID
}

// Begin records runID as the running current run. The check and the write
// happen in one optimistic transaction on the current pointer.
func (r *Registry) Begin(ctx context.Context, runID string, at time.Time) error {
	rec := runregistry.Record{
		RunID:     runID,
		State:     runregistry.StateRunning,
		StartedAt: at,
		UpdatedAt: at,
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	err = r.client.Watch(ctx, func(tx *goredis.Tx) error {
		cur, found, err := r.currentWith(ctx, tx)
		if err != nil {
			return err
		}
		if found && cur.State == runregistry.StateRunning {
			return runregistry.ErrRunInProgress
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, r.runKey(runID), payload, r.ttl)
			pipe.Set(ctx, r.currentKey(), runID, r.ttl)
			return nil
		})
		return err
	}, r.currentKey())
	if err != nil {
		if errors.Is(err, runregistry.ErrRunInProgress) {
			return err
		}
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// Current returns the current run.
func (r *Registry) Current(ctx context.Context) (runregistry.Record, bool, error) {
	return r.currentWith(ctx, r.client)
}

func (r *Registry) currentWith(ctx context.Context, c goredis.Cmdable) (runregistry.Record, bool, error) {
	runID, err := c.Get(ctx, r.currentKey()).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return runregistry.Record{}, false, nil
		}
		return runregistry.Record{}, false, fmt.Errorf("get current run: %w", err)
	}
	return r.getWith(ctx, c, runID)
}

// Get returns the record for runID.
func (r *Registry) Get(ctx context.Context, runID string) (runregistry.Record, bool, error) {
	return r.getWith(ctx, r.client, runID)
}

func (r *Registry) getWith(ctx context.Context, c goredis.Cmdable, runID string) (runregistry.Record, bool, error) {
	val, err := c.Get(ctx, r.runKey(runID)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return runregistry.Record{}, false, nil
		}
		return runregistry.Record{}, false, fmt.Errorf("get run %s: %w", runID, err)
	}
	var rec runregistry.Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return runregistry.Record{}, false, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return rec, true, nil
}

// SetBranches records the fan-out width.
func (r *Registry) SetBranches(ctx context.Context, runID string, n int, at time.Time) error {
	return r.update(ctx, runID, func(rec runregistry.Record) runregistry.Record {
		return runregistry.ApplyBranches(rec, n, at)
	})
}

// BranchDone counts one finished branch.
func (r *Registry) BranchDone(ctx context.Context, runID string, at time.Time) error {
	return r.update(ctx, runID, func(rec runregistry.Record) runregistry.Record {
		return runregistry.ApplyBranchDone(rec, at)
	})
}

// Cancel flags runID as cancelled.
func (r *Registry) Cancel(ctx context.Context, runID string, at time.Time) error {
	return r.update(ctx, runID, func(rec runregistry.Record) runregistry.Record {
		return runregistry.ApplyCancel(rec, at)
	})
}

// Finish moves runID into a terminal state.
func (r *Registry) Finish(ctx context.Context, runID string, state runregistry.State, errText string, at time.Time) error {
	return r.update(ctx, runID, func(rec runregistry.Record) runregistry.Record {
		return runregistry.ApplyFinish(rec, state, errText, at)
	})
}

// IsCancelled reports the cancellation flag of runID.
func (r *Registry) IsCancelled(ctx context.Context, runID string) (bool, error) {
	rec, _, err := r.Get(ctx, runID)
	if err != nil {
		return false, err
	}
	return rec.Cancelled, nil
}

func (r *Registry) update(ctx context.Context, runID string, fn func(runregistry.Record) runregistry.Record) error {
	key := r.runKey(runID)
	err := r.client.Watch(ctx, func(tx *goredis.Tx) error {
		rec, found, err := r.getWith(ctx, tx, runID)
		if err != nil {
			return err
		}
		if !found {
			return runregistry.ErrRunNotFound
		}
		payload, err := json.Marshal(fn(rec))
		if err != nil {
			return fmt.Errorf("marshal run record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, payload, r.ttl)
			return nil
		})
		return err
	}, key)
	if err != nil {
		if errors.Is(err, runregistry.ErrRunNotFound) {
			return err
		}
		return fmt.Errorf("update run %s: %w", runID, err)
	}
	return nil
}

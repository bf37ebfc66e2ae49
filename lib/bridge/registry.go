// Copyright 2026 The Custos Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/custos-security/custos/lib/clock"
)

// Health classifies how recently a bridge has been heard from.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthDegraded  Health = "degraded"
	HealthUnhealthy Health = "unhealthy"
)

// Idle thresholds. A bridge that has not pinged or fetched a
// credential within DegradedAfter is degraded; past UnhealthyAfter it
// is unhealthy. Unhealthy bridges are reported, never evicted —
// eviction would turn a slow bridge into a missing one.
const (
	DegradedAfter  = 60 * time.Second
	UnhealthyAfter = 120 * time.Second
)

// CheckInterval is how often Run logs the health of tracked bridges.
const CheckInterval = 30 * time.Second

// Registry tracks the last request time per bridge id. Health is
// computed on demand from the injected clock, so tests can drive
// threshold transitions without sleeping.
type Registry struct {
	clk    clock.Clock
	logger *slog.Logger

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

// NewRegistry creates a registry. A nil clock means the wall clock; a
// nil logger means slog.Default().
func NewRegistry(clk clock.Clock, logger *slog.Logger) *Registry {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		clk:      clk,
		logger:   logger,
		lastSeen: make(map[string]time.Time),
	}
}

// Touch records a request from the given bridge id.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSeen[id] = r.clk.Now()
}

// Forget drops a bridge id from tracking.
func (r *Registry) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lastSeen, id)
}

// Health returns the health of one bridge id. An id the registry has
// never heard from is unhealthy.
func (r *Registry) Health(id string) Health {
	r.mu.Lock()
	defer r.mu.Unlock()
	last, ok := r.lastSeen[id]
	if !ok {
		return HealthUnhealthy
	}
	return healthForIdle(r.clk.Now().Sub(last))
}

// Snapshot returns the status of every tracked bridge, sorted by id.
// The result carries no credential material.
func (r *Registry) Snapshot() []ConnectionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clk.Now()
	statuses := make([]ConnectionStatus, 0, len(r.lastSeen))
	for id, last := range r.lastSeen {
		idle := now.Sub(last)
		statuses = append(statuses, ConnectionStatus{
			BridgeID:    id,
			State:       string(healthForIdle(idle)),
			IdleSeconds: int64(idle / time.Second),
		})
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].BridgeID < statuses[j].BridgeID
	})
	return statuses
}

// Run logs degraded and unhealthy bridges every CheckInterval until
// ctx is cancelled. Purely observational: health never gates a
// dispense.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, status := range r.Snapshot() {
				if status.State == string(HealthHealthy) {
					continue
				}
				r.logger.Warn("bridge connection degraded",
					"bridge_id", status.BridgeID,
					"state", status.State,
					"idle_seconds", status.IdleSeconds,
				)
			}
		}
	}
}

func healthForIdle(idle time.Duration) Health {
	switch {
	case idle < DegradedAfter:
		return HealthHealthy
	case idle < UnhealthyAfter:
		return HealthDegraded
	default:
		return HealthUnhealthy
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// recoverySteps is the number of monotonic progress updates from outage
// to full restoration.
const recoverySteps = 5

// RecoveryConfig tunes the scheduler timing. Tests shrink both values.
type RecoveryConfig struct {
	// InitialDelay is the wait before recovery begins. Default 5s.
	InitialDelay time.Duration

	// StepInterval is the wait between progress updates. Default 5s.
	StepInterval time.Duration
}

func (c *RecoveryConfig) applyDefaults() {
	if c.InitialDelay == 0 {
		c.InitialDelay = 5 * time.Second
	}
	if c.StepInterval == 0 {
		c.StepInterval = 5 * time.Second
	}
}

// RecoveryScheduler drives blackout incidents back to full power: after an
// initial delay it applies five monotonic progress steps to the affected
// zones, broadcasting each, then resolves the incident. Each incident's
// task carries its own cancellation, released when the incident is
// resolved manually or the scheduler shuts down.
type RecoveryScheduler struct {
	incidents Store[Incident]
	zones     Store[PowerZone]
	hub       *Hub
	locks     *KeyedMutex
	logger    *slog.Logger
	cfg       RecoveryConfig

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewRecoveryScheduler(incidents Store[Incident], zones Store[PowerZone], hub *Hub,
	locks *KeyedMutex, logger *slog.Logger, cfg RecoveryConfig) *RecoveryScheduler {

	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &RecoveryScheduler{
		incidents: incidents,
		zones:     zones,
		hub:       hub,
		locks:     locks,
		logger:    logger,
		cfg:       cfg,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Schedule starts the recovery task for an incident. Scheduling the same
// incident twice replaces the earlier task.
func (s *RecoveryScheduler) Schedule(incidentID string) {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if prev, ok := s.cancels[incidentID]; ok {
		prev()
	}
	s.cancels[incidentID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(incidentID, cancel)
		s.run(ctx, incidentID)
	}()
}

// Cancel stops the recovery task for an incident, if one is running.
// Called when the incident is resolved manually.
func (s *RecoveryScheduler) Cancel(incidentID string) {
	s.mu.Lock()
	cancel, ok := s.cancels[incidentID]
	delete(s.cancels, incidentID)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// Shutdown cancels all tasks and waits for them to exit.
func (s *RecoveryScheduler) Shutdown() {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = make(map[string]context.CancelFunc)
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *RecoveryScheduler) release(incidentID string, cancel context.CancelFunc) {
	cancel()
	s.mu.Lock()
	delete(s.cancels, incidentID)
	s.mu.Unlock()
}

func (s *RecoveryScheduler) run(ctx context.Context, incidentID string) {
	if !s.sleep(ctx, s.cfg.InitialDelay) {
		return
	}

	incident, err := s.incidents.Get(ctx, incidentID)
	if err != nil {
		// Already resolved; nothing to recover.
		return
	}
	incident.Status = IncidentRecovering
	if err := s.incidents.Upsert(ctx, incident); err != nil {
		s.logger.Error("recovery start failed", "incident_id", incidentID, "error", err)
		return
	}
	s.logger.Info("recovery started", "incident_id", incidentID, "zones", len(incident.AffectedZones))

	for step := 1; step <= recoverySteps; step++ {
		if !s.sleep(ctx, s.cfg.StepInterval) {
			return
		}

		// The incident disappearing mid-recovery means a manual resolve won.
		incident, err = s.incidents.Get(ctx, incidentID)
		if errors.Is(err, ErrNotFound) {
			return
		}
		if err != nil {
			s.logger.Error("recovery read failed", "incident_id", incidentID, "error", err)
			return
		}

		progress := float64(step) * 100 / recoverySteps
		incident.RecoveryPercent = progress
		if err := s.incidents.Upsert(ctx, incident); err != nil {
			s.logger.Error("recovery update failed", "incident_id", incidentID, "error", err)
			return
		}

		zoneStates := s.applyProgress(ctx, incident.AffectedZones, progress)
		s.hub.Publish(Event{Type: "recovery_progress", Data: map[string]any{
			"incident_id":      incidentID,
			"recovery_percent": progress,
			"zones":            zoneStates,
		}})
	}

	s.resolve(ctx, incident)
}

// applyProgress sets each affected zone's allocation to the recovery
// percentage and derives its power state.
func (s *RecoveryScheduler) applyProgress(ctx context.Context, zoneIDs []string, progress float64) []map[string]any {
	states := make([]map[string]any, 0, len(zoneIDs))
	for _, zoneID := range zoneIDs {
		unlock := s.locks.Lock(zoneID)
		zone, err := s.zones.Get(ctx, zoneID)
		if err != nil {
			unlock()
			continue
		}
		zone.AllocationPercent = progress
		zone.PowerState = PowerStateForAllocation(progress)
		if progress < 100 {
			zone.PowerState = recoveringState(progress)
		}
		err = s.zones.Upsert(ctx, zone)
		unlock()
		if err != nil {
			s.logger.Error("recovery zone update failed", "zone_id", zoneID, "error", err)
			continue
		}
		states = append(states, map[string]any{
			"zone_id":            zoneID,
			"power_state":        zone.PowerState,
			"allocation_percent": zone.AllocationPercent,
		})
	}
	return states
}

// recoveringState mirrors PowerStateForAllocation without the NO_POWER
// floor: a zone under recovery always has at least backup power.
func recoveringState(progress float64) string {
	switch {
	case progress >= 90:
		return PowerFull
	case progress >= 50:
		return PowerReduced
	default:
		return PowerBackup
	}
}

func (s *RecoveryScheduler) resolve(ctx context.Context, incident Incident) {
	RestoreZones(ctx, s.zones, s.locks, s.logger, incident.AffectedZones)

	if err := s.incidents.Delete(ctx, incident.ID); err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.Error("incident delete failed", "incident_id", incident.ID, "error", err)
	}
	s.hub.Publish(Event{Type: "blackout_resolved", Data: map[string]any{
		"incident_id": incident.ID,
		"zones":       incident.AffectedZones,
	}})
	s.logger.Info("recovery complete", "incident_id", incident.ID)
}

// RestoreZones returns the given zones to full power. Shared by scheduled
// and manual resolution.
func RestoreZones(ctx context.Context, zones Store[PowerZone], locks *KeyedMutex,
	logger *slog.Logger, zoneIDs []string) {

	for _, zoneID := range zoneIDs {
		unlock := locks.Lock(zoneID)
		if zone, err := zones.Get(ctx, zoneID); err == nil {
			zone.PowerState = PowerFull
			zone.AllocationPercent = 100
			if err := zones.Upsert(ctx, zone); err != nil {
				logger.Error("zone restore failed", "zone_id", zoneID, "error", err)
			}
		}
		unlock()
	}
}

// sleep waits for d or until cancellation; reports whether the full wait
// elapsed.
func (s *RecoveryScheduler) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

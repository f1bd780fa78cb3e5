// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dashboard

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, incidents Store[Incident], zones Store[PowerZone]) *RecoveryScheduler {
	t.Helper()
	scheduler := NewRecoveryScheduler(incidents, zones, NewHub(slog.Default()), &KeyedMutex{},
		slog.Default(), RecoveryConfig{
			InitialDelay: 5 * time.Millisecond,
			StepInterval: 5 * time.Millisecond,
		})
	t.Cleanup(scheduler.Shutdown)
	return scheduler
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestRecoveryRestoresZonesAndResolves(t *testing.T) {
	ctx := context.Background()
	zones := NewMemoryStore(
		PowerZone{ID: "zone_hospital", Priority: "CRITICAL", CapacityMW: 40, CurrentLoadMW: 35,
			PowerState: PowerBackup, AllocationPercent: 40},
	)
	incidents := NewMemoryStore(
		Incident{ID: "inc-1", Kind: "blackout", Status: IncidentActive,
			AffectedZones: []string{"zone_hospital"}, CapacityLostMW: 35},
	)

	scheduler := newTestScheduler(t, incidents, zones)
	scheduler.Schedule("inc-1")

	waitFor(t, 2*time.Second, func() bool {
		_, err := incidents.Get(ctx, "inc-1")
		return err != nil
	})

	zone, err := zones.Get(ctx, "zone_hospital")
	require.NoError(t, err)
	assert.Equal(t, PowerFull, zone.PowerState)
	assert.Equal(t, 100.0, zone.AllocationPercent)
}

func TestRecoveryCancelStopsProgress(t *testing.T) {
	ctx := context.Background()
	zones := NewMemoryStore(
		PowerZone{ID: "zone_port", Priority: "HIGH", CapacityMW: 60, CurrentLoadMW: 55,
			PowerState: PowerNone, AllocationPercent: 0},
	)
	incidents := NewMemoryStore(
		Incident{ID: "inc-2", Kind: "blackout", Status: IncidentActive,
			AffectedZones: []string{"zone_port"}, CapacityLostMW: 55},
	)

	scheduler := NewRecoveryScheduler(incidents, zones, NewHub(slog.Default()), &KeyedMutex{},
		slog.Default(), RecoveryConfig{
			InitialDelay: time.Hour, // cancelled long before it fires
			StepInterval: time.Hour,
		})
	t.Cleanup(scheduler.Shutdown)

	scheduler.Schedule("inc-2")
	scheduler.Cancel("inc-2")
	scheduler.Shutdown()

	incident, err := incidents.Get(ctx, "inc-2")
	require.NoError(t, err)
	assert.Equal(t, IncidentActive, incident.Status)
	zone, err := zones.Get(ctx, "zone_port")
	require.NoError(t, err)
	assert.Equal(t, PowerNone, zone.PowerState)
}

// A manual resolve mid-recovery deletes the incident; the next step
// observes that and stops without resurrecting it.
func TestRecoveryStopsWhenIncidentDisappears(t *testing.T) {
	ctx := context.Background()
	zones := NewMemoryStore(
		PowerZone{ID: "zone_education", Priority: "MEDIUM", CapacityMW: 30, CurrentLoadMW: 25,
			PowerState: PowerReduced, AllocationPercent: 60},
	)
	incidents := NewMemoryStore(
		Incident{ID: "inc-3", Kind: "blackout", Status: IncidentActive,
			AffectedZones: []string{"zone_education"}, CapacityLostMW: 25},
	)

	scheduler := newTestScheduler(t, incidents, zones)
	scheduler.Schedule("inc-3")

	// Wait until recovery has started, then yank the incident.
	waitFor(t, 2*time.Second, func() bool {
		incident, err := incidents.Get(ctx, "inc-3")
		return err != nil || incident.Status == IncidentRecovering
	})
	incidents.Delete(ctx, "inc-3")
	scheduler.Shutdown()

	_, err := incidents.Get(ctx, "inc-3")
	assert.ErrorIs(t, err, ErrNotFound)
}

// failingZoneStore rejects every Upsert; Get still serves the seed data.
type failingZoneStore struct {
	*MemoryStore[PowerZone]
	upserts int
}

func (f *failingZoneStore) Upsert(_ context.Context, _ PowerZone) error {
	f.upserts++
	return errors.New("disk full")
}

// An upsert failure on one zone is logged and the restore continues to the
// remaining zones.
func TestRestoreZonesLogsUpsertFailure(t *testing.T) {
	ctx := context.Background()
	store := &failingZoneStore{MemoryStore: NewMemoryStore(
		PowerZone{ID: "zone_a", CapacityMW: 10},
		PowerZone{ID: "zone_b", CapacityMW: 10},
	)}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	RestoreZones(ctx, store, &KeyedMutex{}, logger, []string{"zone_a", "zone_b"})

	assert.Equal(t, 2, store.upserts)
	assert.Contains(t, buf.String(), "zone restore failed")
	assert.Contains(t, buf.String(), "zone_a")
	assert.Contains(t, buf.String(), "zone_b")
}

func TestPowerStateForAllocation(t *testing.T) {
	tests := []struct {
		percent float64
		want    string
	}{
		{100, PowerFull},
		{90, PowerFull},
		{89.9, PowerReduced},
		{50, PowerReduced},
		{49.9, PowerBackup},
		{0.1, PowerBackup},
		{0, PowerNone},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PowerStateForAllocation(tt.percent), "%.1f", tt.percent)
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package dashboard is the transport layer of CityPulse: the gin HTTP API,
// the websocket broadcast hub, the entity stores, and the background
// recovery scheduler. Pipelines stay transport-agnostic; this package seeds
// them, projects their final state into responses, and applies their side
// effects to the stores.
package dashboard

import (
	"time"
)

// Power delivery states for a power zone.
const (
	PowerFull       = "FULL"
	PowerReduced    = "REDUCED"
	PowerBackup     = "BACKUP"
	PowerNone       = "NO_POWER"
	PowerRecovering = "RECOVERING"
)

// Incident lifecycle states.
const (
	IncidentActive        = "ACTIVE"
	IncidentRecovering    = "RECOVERING"
	IncidentMitigated     = "MITIGATED"
	IncidentInvestigating = "INVESTIGATING"
	IncidentResolved      = "RESOLVED"
)

// Light pole operational states.
const (
	PoleOnline      = "ONLINE"
	PoleOffline     = "OFFLINE"
	PoleMaintenance = "MAINTENANCE"
)

// PowerZone is one electrical supply zone of the city grid.
type PowerZone struct {
	ID                  string  `json:"id" yaml:"id"`
	Name                string  `json:"name" yaml:"name"`
	Priority            string  `json:"priority" yaml:"priority"`
	CapacityMW          float64 `json:"capacity_mw" yaml:"capacity_mw"`
	CurrentLoadMW       float64 `json:"current_load_mw" yaml:"current_load_mw"`
	BackupAvailable     bool    `json:"backup_available" yaml:"backup_available"`
	BackupCapacityMW    float64 `json:"backup_capacity_mw" yaml:"backup_capacity_mw"`
	BackupDurationHours float64 `json:"backup_duration_hours" yaml:"backup_duration_hours"`
	PowerState          string  `json:"power_state" yaml:"power_state"`
	AllocationPercent   float64 `json:"allocation_percent" yaml:"allocation_percent"`
}

func (z PowerZone) EntityID() string { return z.ID }

// CyberZone is one monitored network zone with its security posture.
type CyberZone struct {
	ID             string   `json:"id" yaml:"id"`
	Name           string   `json:"name" yaml:"name"`
	ZoneType       string   `json:"zone_type" yaml:"zone_type"`
	SecurityState  string   `json:"security_state" yaml:"security_state"`
	CriticalAssets []string `json:"critical_assets" yaml:"critical_assets"`
}

func (z CyberZone) EntityID() string { return z.ID }

// LightZone groups street-light poles under one lighting control area.
type LightZone struct {
	ID      string      `json:"id" yaml:"id"`
	Name    string      `json:"name" yaml:"name"`
	Weather string      `json:"weather" yaml:"weather"`
	Poles   []LightPole `json:"poles" yaml:"poles"`
}

func (z LightZone) EntityID() string { return z.ID }

// LightPole is one controllable street light.
type LightPole struct {
	ID         string `json:"id" yaml:"id"`
	Status     string `json:"status" yaml:"status"`
	Brightness int    `json:"brightness" yaml:"brightness"`
}

// Incident is one active grid or security incident. Blackout incidents
// carry the grid fields; cyber incidents carry the attack fields.
type Incident struct {
	ID                     string    `json:"id"`
	Kind                   string    `json:"kind"`
	Status                 string    `json:"status"`
	Cause                  string    `json:"cause,omitempty"`
	Severity               string    `json:"severity"`
	AffectedZones          []string  `json:"affected_zones"`
	CapacityLostMW         float64   `json:"capacity_lost_mw,omitempty"`
	CascadeRisk            float64   `json:"cascade_risk,omitempty"`
	EstimatedRecoveryHours float64   `json:"estimated_recovery_hours,omitempty"`
	RecoveryPercent        float64   `json:"recovery_percent"`
	AttackType             string    `json:"attack_type,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
}

func (i Incident) EntityID() string { return i.ID }

// SecurityEvent is one normalized event surfaced on the dashboard feed.
type SecurityEvent struct {
	Timestamp   string `json:"timestamp"`
	ZoneID      string `json:"zone_id"`
	SourceIP    string `json:"source_ip"`
	EventType   string `json:"event_type"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// ===== Request types =====
//
// gin's binding tags run go-playground/validator before the handler body;
// entity existence is checked separately against the stores so unknown ids
// never reach a pipeline.

// BlackoutSimulationRequest triggers a blackout scenario.
type BlackoutSimulationRequest struct {
	Cause          string   `json:"cause" binding:"required"`
	Weather        string   `json:"weather" binding:"omitempty,oneof=clear rain storm heatwave flooding cyclone"`
	AffectedZones  []string `json:"affected_zones" binding:"required,min=1"`
	CapacityLostMW float64  `json:"capacity_lost_mw" binding:"omitempty,gt=0"`
}

// ManualAllocationRequest overrides one zone's power allocation.
type ManualAllocationRequest struct {
	ZoneID            string  `json:"zone_id" binding:"required"`
	AllocationPercent float64 `json:"allocation_percent"`
}

// CyberSimulationRequest triggers an attack scenario against one zone.
type CyberSimulationRequest struct {
	ZoneID     string `json:"zone_id" binding:"required"`
	AttackType string `json:"attack_type" binding:"required,oneof=ransomware brute_force ddos data_exfiltration apt"`
	Severity   string `json:"severity" binding:"omitempty,oneof=LOW MEDIUM HIGH CRITICAL"`
}

// WeatherSimulationRequest runs the lighting pipeline for a zone under a
// given weather condition.
type WeatherSimulationRequest struct {
	ZoneID    string `json:"zone_id" binding:"required"`
	Condition string `json:"condition" binding:"required,oneof=clear rain storm heatwave flooding cyclone fog"`
}

// OverrideRequest manually sets one pole's output.
type OverrideRequest struct {
	PoleID     string `json:"pole_id" binding:"required"`
	Brightness int    `json:"brightness" binding:"min=0,max=100"`
	Status     string `json:"status" binding:"omitempty,oneof=ONLINE OFFLINE MAINTENANCE"`
}

// ===== Seed data =====

// DefaultPowerZones returns the Mumbai grid model used when no YAML seed
// is configured.
func DefaultPowerZones() []PowerZone {
	return []PowerZone{
		{
			ID: "zone_defence", Name: "Defence Establishment", Priority: "CRITICAL",
			CapacityMW: 50, CurrentLoadMW: 45,
			BackupAvailable: true, BackupCapacityMW: 50, BackupDurationHours: 72,
			PowerState: PowerFull, AllocationPercent: 100,
		},
		{
			ID: "zone_airport", Name: "Chhatrapati Shivaji Maharaj International Airport", Priority: "HIGH",
			CapacityMW: 100, CurrentLoadMW: 80,
			BackupAvailable: true, BackupCapacityMW: 80, BackupDurationHours: 48,
			PowerState: PowerFull, AllocationPercent: 100,
		},
		{
			ID: "zone_hospital", Name: "KEM Hospital Complex", Priority: "CRITICAL",
			CapacityMW: 40, CurrentLoadMW: 35,
			BackupAvailable: true, BackupCapacityMW: 40, BackupDurationHours: 96,
			PowerState: PowerFull, AllocationPercent: 100,
		},
		{
			ID: "zone_bkc_commercial", Name: "BKC Commercial District", Priority: "MEDIUM",
			CapacityMW: 150, CurrentLoadMW: 120,
			BackupAvailable: true, BackupCapacityMW: 60, BackupDurationHours: 12,
			PowerState: PowerFull, AllocationPercent: 100,
		},
		{
			ID: "zone_education", Name: "Education Hub Powai", Priority: "MEDIUM",
			CapacityMW: 30, CurrentLoadMW: 25,
			BackupAvailable: true, BackupCapacityMW: 15, BackupDurationHours: 8,
			PowerState: PowerFull, AllocationPercent: 100,
		},
		{
			ID: "zone_residential_andheri", Name: "Andheri Residential", Priority: "LOW",
			CapacityMW: 100, CurrentLoadMW: 90,
			PowerState: PowerFull, AllocationPercent: 100,
		},
		{
			ID: "zone_residential_borivali", Name: "Borivali Residential", Priority: "LOW",
			CapacityMW: 80, CurrentLoadMW: 70,
			PowerState: PowerFull, AllocationPercent: 100,
		},
		{
			ID: "zone_port", Name: "Mumbai Port Trust", Priority: "HIGH",
			CapacityMW: 60, CurrentLoadMW: 55,
			BackupAvailable: true, BackupCapacityMW: 40, BackupDurationHours: 24,
			PowerState: PowerFull, AllocationPercent: 100,
		},
	}
}

// DefaultCyberZones returns the monitored network zones.
func DefaultCyberZones() []CyberZone {
	return []CyberZone{
		{
			ID: "airport_zone", Name: "CSM International Airport", ZoneType: "airport_zone",
			SecurityState:  "GREEN",
			CriticalAssets: []string{"radar_systems", "navigation", "passenger_data", "baggage_control"},
		},
		{
			ID: "hospital_zone", Name: "KEM Hospital Network", ZoneType: "hospital_zone",
			SecurityState:  "GREEN",
			CriticalAssets: []string{"patient_records", "life_support", "pharmacy_systems", "diagnostics"},
		},
		{
			ID: "defence_zone", Name: "Defence Establishment Network", ZoneType: "defence_zone",
			SecurityState:  "GREEN",
			CriticalAssets: []string{"classified_systems", "communications", "surveillance"},
		},
		{
			ID: "education_zone", Name: "Education Hub Network", ZoneType: "education_zone",
			SecurityState:  "GREEN",
			CriticalAssets: []string{"student_records", "research_data", "exam_systems"},
		},
		{
			ID: "commercial_zone", Name: "BKC Commercial Network", ZoneType: "commercial_zone",
			SecurityState:  "GREEN",
			CriticalAssets: []string{"payment_gateways", "trading_systems"},
		},
	}
}

// DefaultLightZones returns the street-lighting model.
func DefaultLightZones() []LightZone {
	return []LightZone{
		{
			ID: "airport_zone", Name: "CSM Airport Perimeter", Weather: "clear",
			Poles: []LightPole{
				{ID: "AIR-01", Status: PoleOnline, Brightness: 85},
				{ID: "AIR-02", Status: PoleOnline, Brightness: 85},
				{ID: "AIR-03", Status: PoleOnline, Brightness: 85},
			},
		},
		{
			ID: "hospital_zone", Name: "KEM Hospital Area", Weather: "clear",
			Poles: []LightPole{
				{ID: "HOS-01", Status: PoleOnline, Brightness: 85},
				{ID: "HOS-02", Status: PoleOnline, Brightness: 85},
			},
		},
		{
			ID: "residential_zone", Name: "Dadar Residential", Weather: "clear",
			Poles: []LightPole{
				{ID: "RES-01", Status: PoleOnline, Brightness: 85},
				{ID: "RES-02", Status: PoleMaintenance, Brightness: 0},
			},
		},
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the CityPulse YAML configuration: server settings,
// pipeline tunables, and the zone seed data. A missing file yields the
// built-in Mumbai model so the server always starts.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/CityPulse/services/dashboard"
)

// Config is the full file-backed configuration.
type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	LLM struct {
		// Backend selects the text-generation provider: openai, ollama,
		// or disabled.
		Backend string `yaml:"backend"`
	} `yaml:"llm"`

	Storage struct {
		// BadgerPath is the incident store directory. Empty keeps
		// incidents in memory only.
		BadgerPath string `yaml:"badger_path"`
	} `yaml:"storage"`

	Weaviate struct {
		// URL of the decision history deployment. Empty disables the
		// vector store and history falls back to the in-memory matcher.
		URL string `yaml:"url"`
	} `yaml:"weaviate"`

	Pipelines struct {
		// Seed fixes the synthetic telemetry generators; zero keeps them
		// time-based.
		Seed int64 `yaml:"seed"`

		// JudgeTimeoutSeconds bounds the terminal LLM call per pipeline.
		JudgeTimeoutSeconds int `yaml:"judge_timeout_seconds"`

		// FatalStages lists stage names whose failure aborts a run.
		FatalStages []string `yaml:"fatal_stages"`
	} `yaml:"pipelines"`

	Recovery struct {
		InitialDelaySeconds int `yaml:"initial_delay_seconds"`
		StepIntervalSeconds int `yaml:"step_interval_seconds"`
	} `yaml:"recovery"`

	PowerZones []dashboard.PowerZone `yaml:"power_zones"`
	CyberZones []dashboard.CyberZone `yaml:"cyber_zones"`
	LightZones []dashboard.LightZone `yaml:"light_zones"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.LLM.Backend = "disabled"
	cfg.Pipelines.JudgeTimeoutSeconds = 20
	cfg.Recovery.InitialDelaySeconds = 5
	cfg.Recovery.StepIntervalSeconds = 5
	cfg.PowerZones = dashboard.DefaultPowerZones()
	cfg.CyberZones = dashboard.DefaultCyberZones()
	cfg.LightZones = dashboard.DefaultLightZones()
	return cfg
}

// Load reads the YAML file at path over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Pipelines.JudgeTimeoutSeconds < 0 {
		return fmt.Errorf("pipelines.judge_timeout_seconds must be non-negative")
	}

	seen := make(map[string]bool)
	for _, zone := range c.PowerZones {
		if zone.ID == "" {
			return fmt.Errorf("power zone with empty id")
		}
		if seen[zone.ID] {
			return fmt.Errorf("duplicate power zone id %q", zone.ID)
		}
		seen[zone.ID] = true
		if zone.CapacityMW <= 0 {
			return fmt.Errorf("power zone %s: capacity_mw must be positive", zone.ID)
		}
	}
	return nil
}

// JudgeTimeout returns the configured judge timeout as a duration.
func (c *Config) JudgeTimeout() time.Duration {
	return time.Duration(c.Pipelines.JudgeTimeoutSeconds) * time.Second
}

// RecoveryConfig converts the recovery timing settings.
func (c *Config) RecoveryConfig() dashboard.RecoveryConfig {
	return dashboard.RecoveryConfig{
		InitialDelay: time.Duration(c.Recovery.InitialDelaySeconds) * time.Second,
		StepInterval: time.Duration(c.Recovery.StepIntervalSeconds) * time.Second,
	}
}

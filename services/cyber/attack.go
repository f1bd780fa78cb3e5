// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cyber

import (
	"fmt"
	"math/rand"
	"time"
)

// AttackTelemetry synthesizes the telemetry signature of a simulated
// attack for drill runs. Each attack type produces a distinct volume,
// timing, and event-type mix so the downstream detectors exercise their
// real paths.
func AttackTelemetry(rng *rand.Rand, attackType, severity string) []any {
	now := time.Now().UTC()
	baseIP := fmt.Sprintf("10.%d.%d.%d", rng.Intn(256), rng.Intn(256), 1+rng.Intn(254))

	event := func(ts time.Time, src, dst, eventType, sev, description string, port int) map[string]any {
		return map[string]any{
			"timestamp":      ts.Format(time.RFC3339),
			"source_ip":      src,
			"destination_ip": dst,
			"event_type":     eventType,
			"severity":       sev,
			"description":    description,
			"port":           port,
		}
	}

	var telemetry []any
	switch attackType {
	case "ransomware":
		types := []string{"file_encryption", "anomalous_traffic", "suspicious_process"}
		ports := []int{445, 3389, 135}
		for i := 0; i < 10; i++ {
			telemetry = append(telemetry, event(
				now.Add(-time.Duration(i*5)*time.Second), baseIP,
				fmt.Sprintf("192.168.1.%d", 1+rng.Intn(254)),
				types[rng.Intn(len(types))], severity,
				"Potential ransomware activity detected - files being encrypted",
				ports[rng.Intn(len(ports))]))
		}

	case "brute_force":
		ports := []int{22, 3389, 21}
		for i := 0; i < 20; i++ {
			sev := "MEDIUM"
			if i > 10 {
				sev = "HIGH"
			}
			telemetry = append(telemetry, event(
				now.Add(-time.Duration(i*2)*time.Second), baseIP, "192.168.1.10",
				"failed_login", sev,
				fmt.Sprintf("Failed login attempt %d from %s", i+1, baseIP),
				ports[rng.Intn(len(ports))]))
		}

	case "ddos":
		for i := 0; i < 50; i++ {
			telemetry = append(telemetry, event(
				now.Add(-time.Duration(i*100)*time.Millisecond),
				fmt.Sprintf("10.%d.%d.%d", rng.Intn(256), rng.Intn(256), 1+rng.Intn(254)),
				"192.168.1.1", "anomalous_traffic", severity,
				"High volume traffic detected - possible DDoS", 80))
		}

	case "data_exfiltration":
		types := []string{"large_data_transfer", "anomalous_traffic", "unauthorized_access"}
		ports := []int{443, 8080, 1337}
		for i := 0; i < 15; i++ {
			telemetry = append(telemetry, event(
				now.Add(-time.Duration(i*10)*time.Second), "192.168.1.50", baseIP,
				types[rng.Intn(len(types))], severity,
				"Unusual data transfer to external IP detected",
				ports[rng.Intn(len(ports))]))
		}

	case "apt":
		types := []string{"port_scan", "lateral_movement", "privilege_escalation"}
		for i := 0; i < 8; i++ {
			telemetry = append(telemetry, event(
				now.Add(-time.Duration(i*5)*time.Minute), baseIP,
				fmt.Sprintf("192.168.%d.%d", 1+rng.Intn(10), 1+rng.Intn(254)),
				types[rng.Intn(len(types))], "CRITICAL",
				"APT activity detected - sophisticated attack pattern",
				1024+rng.Intn(64512)))
		}

	default:
		types := []string{"suspicious_activity", "anomalous_traffic", "policy_violation"}
		for i := 0; i < 10; i++ {
			telemetry = append(telemetry, event(
				now.Add(-time.Duration(i*3)*time.Second), baseIP,
				fmt.Sprintf("192.168.1.%d", 1+rng.Intn(254)),
				types[rng.Intn(len(types))], severity,
				fmt.Sprintf("Security event detected: %s", attackType),
				1+rng.Intn(65535)))
		}
	}

	return telemetry
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lighting

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/AleutianAI/CityPulse/services/pipeline"
)

// DefaultBrightness is applied when no explicit brightness figure can be
// parsed from the decision output.
const DefaultBrightness = 85

var brightnessPattern = regexp.MustCompile(`(\d{1,3})\s*%`)

// ControlStage translates the decision analysis into a concrete lighting
// action. The decision text is free-form, so parsing is defensive: the
// first percentage found in the recommendations wins, anything unparsable
// falls back to DefaultBrightness.
type ControlStage struct{}

func NewControlStage() *ControlStage { return &ControlStage{} }

func (s *ControlStage) Name() string { return "control_executor" }

func (s *ControlStage) Run(_ context.Context, state *pipeline.State) pipeline.Result {
	analysis := state.Map("decision_analysis")

	brightness := DefaultBrightness
	parsed := false
	for _, raw := range pipeline.MapSlice(analysis, "operational_recommendations") {
		text, ok := raw.(string)
		if !ok {
			continue
		}
		if v, ok := parseBrightness(text); ok {
			brightness = v
			parsed = true
			break
		}
	}

	riskLevel := pipeline.MapString(analysis, "risk_level", "LOW")

	action := map[string]any{
		"action_type":        "set_brightness",
		"brightness_percent": brightness,
		"zone_id":            state.String("zone_id", "unknown"),
		"derived_from":       map[string]any{"risk_level": riskLevel, "parsed_from_text": parsed},
	}
	state.Set("control_action", action)

	return pipeline.Success(fmt.Sprintf("brightness set to %d%%", brightness),
		"brightness_percent", brightness, "parsed", parsed)
}

// parseBrightness extracts the first "NN%" figure from free text and
// accepts it only when it is a plausible brightness value.
func parseBrightness(text string) (int, bool) {
	m := brightnessPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.Atoi(m[1])
	if err != nil || v < 0 || v > 100 {
		return 0, false
	}
	return v, true
}

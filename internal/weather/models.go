package weather

import (
	"errors"
	"fmt"
	"time"
)

// Weather errors.
var (
	ErrProviderUnavailable = errors.New("weather provider unavailable")
	ErrNoDataForLocation   = errors.New("no weather data for location")
	ErrInvalidCoordinates  = errors.New("invalid coordinates")
)

// Observation represents weather data at a specific point and time.
type Observation struct {
	// Location coordinates
	Lat float64
	Lon float64

	// Temperature in Celsius
	Temperature float64

	// Humidity percentage (0-100)
	Humidity float64

	// Wind data
	WindSpeed float64 // m/s
	WindGust  float64 // m/s (optional, 0 if not available)

	// Weather condition
	Condition   Condition
	Description string

	// Visibility in meters, 0 when the provider did not report it
	Visibility float64

	// Timestamps
	ObservedAt time.Time
	FetchedAt  time.Time
}

// Condition represents the general weather condition.
type Condition string

const (
	ConditionClear        Condition = "CLEAR"
	ConditionClouds       Condition = "CLOUDS"
	ConditionRain         Condition = "RAIN"
	ConditionDrizzle      Condition = "DRIZZLE"
	ConditionThunderstorm Condition = "THUNDERSTORM"
	ConditionSnow         Condition = "SNOW"
	ConditionMist         Condition = "MIST"
	ConditionFog          Condition = "FOG"
	ConditionHaze         Condition = "HAZE"
	ConditionUnknown      Condition = "UNKNOWN"
)

// RiskLevel grades running conditions.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
	RiskUnknown  RiskLevel = "unknown"
)

// Snapshot is the per-request weather annotation.
type Snapshot struct {
	Condition    Condition `json:"condition"`
	TemperatureC *float64  `json:"temperature_c"`
	Advisory     bool      `json:"advisory"`
	Description  string    `json:"description,omitempty"`
	RiskLevel    RiskLevel `json:"risk_level"`
	ObservedAt   time.Time `json:"observed_at,omitempty"`
}

// UnknownSnapshot is used when no weather could be fetched. It never carries an advisory.
func UnknownSnapshot() Snapshot {
	return Snapshot{Condition: ConditionUnknown, RiskLevel: RiskUnknown}
}

// Known reports whether the snapshot came from an observation.
func (s Snapshot) Known() bool {
	return s.Condition != ConditionUnknown
}

// Warning returns the advisory text for moderate and high risk, or "".
func (s Snapshot) Warning() string {
	desc := s.Description
	if desc == "" {
		desc = string(s.Condition)
	}
	switch s.RiskLevel {
	case RiskHigh:
		return fmt.Sprintf("weather advisory: outdoor running not recommended (%s)", desc)
	case RiskModerate:
		return "weather advisory: " + desc
	}
	return ""
}

// Thresholds grading an observation.
const (
	highHeatC          = 35.0
	highColdC          = -10.0
	highVisibilityM    = 200.0
	highWindMS         = 17.0
	moderateHeatC      = 30.0
	moderateColdC      = 0.0
	moderateVisibility = 1000.0
	moderateWindMS     = 10.0
)

// Assess grades an observation for running.
func Assess(obs *Observation) Snapshot {
	if obs == nil {
		return UnknownSnapshot()
	}

	temp := obs.Temperature
	snap := Snapshot{
		Condition:    obs.Condition,
		TemperatureC: &temp,
		Description:  obs.Description,
		ObservedAt:   obs.ObservedAt,
	}

	wind := obs.WindSpeed
	if obs.WindGust > wind {
		wind = obs.WindGust
	}
	visibility := obs.Visibility
	reportedVisibility := visibility > 0

	switch {
	case obs.Condition == ConditionThunderstorm,
		obs.Condition == ConditionSnow,
		temp >= highHeatC,
		temp <= highColdC,
		reportedVisibility && visibility < highVisibilityM,
		wind >= highWindMS:
		snap.RiskLevel = RiskHigh
	case obs.Condition == ConditionRain,
		obs.Condition == ConditionFog,
		temp >= moderateHeatC,
		temp <= moderateColdC,
		reportedVisibility && visibility < moderateVisibility,
		wind >= moderateWindMS:
		snap.RiskLevel = RiskModerate
	default:
		snap.RiskLevel = RiskLow
	}

	snap.Advisory = snap.RiskLevel == RiskHigh || snap.RiskLevel == RiskModerate
	return snap
}

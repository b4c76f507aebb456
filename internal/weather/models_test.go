package weather_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnervision/runnervision/internal/weather"
)

func TestAssess(t *testing.T) {
	tests := []struct {
		name     string
		obs      weather.Observation
		expected weather.RiskLevel
	}{
		{"clear mild", weather.Observation{Condition: weather.ConditionClear, Temperature: 18, WindSpeed: 3, Visibility: 10000}, weather.RiskLow},
		{"clouds no visibility report", weather.Observation{Condition: weather.ConditionClouds, Temperature: 12}, weather.RiskLow},
		{"drizzle is low", weather.Observation{Condition: weather.ConditionDrizzle, Temperature: 12}, weather.RiskLow},
		{"rain", weather.Observation{Condition: weather.ConditionRain, Temperature: 15}, weather.RiskModerate},
		{"fog", weather.Observation{Condition: weather.ConditionFog, Temperature: 8}, weather.RiskModerate},
		{"hot", weather.Observation{Condition: weather.ConditionClear, Temperature: 31}, weather.RiskModerate},
		{"freezing", weather.Observation{Condition: weather.ConditionClear, Temperature: 0}, weather.RiskModerate},
		{"poor visibility", weather.Observation{Condition: weather.ConditionMist, Temperature: 10, Visibility: 800}, weather.RiskModerate},
		{"windy", weather.Observation{Condition: weather.ConditionClear, Temperature: 15, WindSpeed: 11}, weather.RiskModerate},
		{"gusty", weather.Observation{Condition: weather.ConditionClear, Temperature: 15, WindSpeed: 8, WindGust: 18}, weather.RiskHigh},
		{"thunderstorm", weather.Observation{Condition: weather.ConditionThunderstorm, Temperature: 22}, weather.RiskHigh},
		{"snow", weather.Observation{Condition: weather.ConditionSnow, Temperature: -2}, weather.RiskHigh},
		{"heatwave", weather.Observation{Condition: weather.ConditionClear, Temperature: 36}, weather.RiskHigh},
		{"deep cold", weather.Observation{Condition: weather.ConditionClear, Temperature: -12}, weather.RiskHigh},
		{"dense fog", weather.Observation{Condition: weather.ConditionFog, Temperature: 5, Visibility: 150}, weather.RiskHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := weather.Assess(&tt.obs)
			assert.Equal(t, tt.expected, snap.RiskLevel)
			assert.Equal(t, tt.expected != weather.RiskLow, snap.Advisory)
			require.NotNil(t, snap.TemperatureC)
			assert.Equal(t, tt.obs.Temperature, *snap.TemperatureC)
		})
	}
}

func TestAssess_Nil(t *testing.T) {
	assert.Equal(t, weather.UnknownSnapshot(), weather.Assess(nil))
}

func TestUnknownSnapshot(t *testing.T) {
	snap := weather.UnknownSnapshot()
	assert.Equal(t, weather.ConditionUnknown, snap.Condition)
	assert.False(t, snap.Advisory)
	assert.False(t, snap.Known())
	assert.Nil(t, snap.TemperatureC)
	assert.Empty(t, snap.Warning())
}

func TestSnapshot_Warning(t *testing.T) {
	high := weather.Snapshot{Condition: weather.ConditionThunderstorm, Description: "thunderstorm with heavy rain", RiskLevel: weather.RiskHigh}
	assert.Equal(t, "weather advisory: outdoor running not recommended (thunderstorm with heavy rain)", high.Warning())

	moderate := weather.Snapshot{Condition: weather.ConditionRain, RiskLevel: weather.RiskModerate}
	assert.Equal(t, "weather advisory: RAIN", moderate.Warning())

	low := weather.Snapshot{Condition: weather.ConditionClear, RiskLevel: weather.RiskLow}
	assert.Empty(t, low.Warning())
}

package models

import (
	"testing"

	"relay-backend/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSupportMode(t *testing.T) {
	mode, err := ParseSupportMode("  limited_mainnet ")
	require.NoError(t, err)
	assert.Equal(t, SupportModeLimitedMainnet, mode)

	_, err = ParseSupportMode("PREMIUM")
	assert.Error(t, err)
}

func TestSupportModeCompiledDefaults(t *testing.T) {
	prev := config.AppConfig
	config.AppConfig = nil
	defer func() { config.AppConfig = prev }()

	assert.Equal(t, int64(-2_000_000), SupportModeLimitedTestnet.FloorMicros())
	assert.Equal(t, int64(-500_000), SupportModeLimitedMainnet.FloorMicros())
	assert.Equal(t, int64(0), SupportModeFullMainnet.FloorMicros())

	assert.Equal(t, int64(10_000_000), SupportModeLimitedTestnet.StartingCreditMicros())
	assert.Equal(t, int64(1_000_000), SupportModeLimitedMainnet.StartingCreditMicros())
	assert.Equal(t, int64(0), SupportModeFullMainnet.StartingCreditMicros())
}

func TestSupportModeConfigOverrides(t *testing.T) {
	prev := config.AppConfig
	defer func() { config.AppConfig = prev }()

	config.AppConfig = &config.Config{
		GasTank: config.GasTankConfig{
			FloorMicros:          map[string]int64{"limited_mainnet": -250_000},
			StartingCreditMicros: map[string]int64{"LIMITED_TESTNET": 25_000_000},
		},
	}

	// Listed modes take the configured value, keys case-insensitive.
	assert.Equal(t, int64(-250_000), SupportModeLimitedMainnet.FloorMicros())
	assert.Equal(t, int64(25_000_000), SupportModeLimitedTestnet.StartingCreditMicros())

	// Unlisted modes keep the compiled defaults.
	assert.Equal(t, int64(-2_000_000), SupportModeLimitedTestnet.FloorMicros())
	assert.Equal(t, int64(0), SupportModeFullMainnet.FloorMicros())
	assert.Equal(t, int64(1_000_000), SupportModeLimitedMainnet.StartingCreditMicros())
}

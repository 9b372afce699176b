package dynfilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeEnv(vals map[string]string) func(string) string {
	return func(k string) string { return vals[k] }
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("X", fakeEnv(nil))
	require.NoError(t, err)
	assert.Equal(t, uint64(defaultThreshold), cfg.Threshold)
	assert.Equal(t, PolicyAbsolute, cfg.Policy)
	assert.False(t, cfg.ContinueDespiteFailure)
	assert.False(t, cfg.CreateReport)
	assert.False(t, cfg.CreateFilterFile)
}

func TestLoadConfig_Threshold(t *testing.T) {
	cfg, err := LoadConfig("X", fakeEnv(map[string]string{"X_THRESHOLD": "42"}))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), cfg.Threshold)
}

func TestLoadConfig_ZeroThresholdIsFatal(t *testing.T) {
	_, err := LoadConfig("X", fakeEnv(map[string]string{"X_THRESHOLD": "0"}))
	assert.Error(t, err)
}

func TestLoadConfig_BadThresholdIsFatal(t *testing.T) {
	_, err := LoadConfig("X", fakeEnv(map[string]string{"X_THRESHOLD": "not-a-number"}))
	assert.Error(t, err)
}

func TestLoadConfig_Method(t *testing.T) {
	cfg, err := LoadConfig("X", fakeEnv(map[string]string{"X_METHOD": "relative"}))
	require.NoError(t, err)
	assert.Equal(t, PolicyRelative, cfg.Policy)

	_, err = LoadConfig("X", fakeEnv(map[string]string{"X_METHOD": "nonsense"}))
	assert.Error(t, err)
}

func TestLoadConfig_Booleans(t *testing.T) {
	cfg, err := LoadConfig("X", fakeEnv(map[string]string{
		"X_CONTINUE_DESPITE_FAILURE": "true",
		"X_CREATE_REPORT":            "1",
		"X_CREATE_FILTER_FILE":       "YES",
	}))
	require.NoError(t, err)
	assert.True(t, cfg.ContinueDespiteFailure)
	assert.True(t, cfg.CreateReport)
	assert.True(t, cfg.CreateFilterFile)
}

func TestPolicy_String(t *testing.T) {
	assert.Equal(t, "absolute", PolicyAbsolute.String())
	assert.Equal(t, "relative", PolicyRelative.String())
	assert.Equal(t, "unknown", Policy(99).String())
}

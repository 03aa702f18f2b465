package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "MONGO_DB", "SAMPLE_INTERVAL", "JWT_EXPIRY", "REDIS_ADDR", "LOG_FORMAT"} {
		t.Setenv(key, "")
	}

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "fleet_dispatch", cfg.Mongo.Database)
	assert.Equal(t, 30*time.Second, cfg.Trips.SampleInterval)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenExpiry)
	assert.Equal(t, "drivers/+/location", cfg.MQTT.Topic)
	assert.Empty(t, cfg.Redis.Addr)
	assert.False(t, cfg.LogJSON)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SAMPLE_INTERVAL", "5s")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("MQTT_FORWARD_FIXES", "true")
	t.Setenv("LOG_FORMAT", "JSON")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Trips.SampleInterval)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.True(t, cfg.MQTT.ForwardFixes)
	assert.True(t, cfg.LogJSON)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("SAMPLE_INTERVAL", "often")
	t.Setenv("REDIS_DB", "zero")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Trips.SampleInterval)
	assert.Equal(t, 0, cfg.Redis.DB)
}

func TestLoad_DotEnvFile(t *testing.T) {
	// restored by t.Setenv once the test ends
	t.Setenv("OTP_TTL", "")
	os.Unsetenv("OTP_TTL")
	t.Setenv("AMQP_EXCHANGE", "from-env")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("OTP_TTL=90s\nAMQP_EXCHANGE=from-file\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Auth.OTPTTL)
	// variables already set are not overridden
	assert.Equal(t, "from-env", cfg.AMQP.Exchange)
}

func TestSetupLogging(t *testing.T) {
	defer log.SetLevel(log.GetLevel())

	cfg := &Config{LogLevel: "debug", LogJSON: true}
	cfg.SetupLogging()
	assert.Equal(t, log.DebugLevel, log.GetLevel())
	assert.IsType(t, &log.JSONFormatter{}, log.StandardLogger().Formatter)

	cfg = &Config{LogLevel: "chatty"}
	cfg.SetupLogging()
	assert.Equal(t, log.InfoLevel, log.GetLevel())
}

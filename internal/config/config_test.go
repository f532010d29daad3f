package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 50, cfg.QueueCapacity)
	assert.False(t, cfg.QueueBlockOnFull)
	assert.Equal(t, 2*time.Second, cfg.QueueBlockTimeout)
	assert.True(t, cfg.SeedMenu)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("QUEUE_CAPACITY", "3")
	t.Setenv("QUEUE_BLOCK_ON_FULL", "true")
	t.Setenv("QUEUE_BLOCK_TIMEOUT", "150ms")
	t.Setenv("STATION_WAIT", "1s")
	t.Setenv("KAFKA_BROKERS", "kafka:9092")
	t.Setenv("SEED_MENU", "false")

	cfg := Load()
	assert.Equal(t, ":9999", cfg.HTTPAddr)
	assert.Equal(t, 3, cfg.QueueCapacity)
	assert.True(t, cfg.QueueBlockOnFull)
	assert.Equal(t, 150*time.Millisecond, cfg.QueueBlockTimeout)
	assert.Equal(t, time.Second, cfg.StationWait)
	assert.Equal(t, "kafka:9092", cfg.KafkaBrokers)
	assert.False(t, cfg.SeedMenu)
	require.NoError(t, cfg.Validate())
}

func TestLoad_IgnoresMalformedValues(t *testing.T) {
	t.Setenv("QUEUE_CAPACITY", "lots")
	t.Setenv("QUEUE_BLOCK_TIMEOUT", "soon")

	cfg := Load()
	assert.Equal(t, 50, cfg.QueueCapacity)
	assert.Equal(t, 2*time.Second, cfg.QueueBlockTimeout)
}

func TestValidate(t *testing.T) {
	cfg := Load()
	cfg.QueueCapacity = -1
	cfg.EventBuffer = 0
	cfg.QueueBlockOnFull = true
	cfg.QueueBlockTimeout = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QUEUE_CAPACITY")
	assert.Contains(t, err.Error(), "EVENT_BUFFER")
	assert.Contains(t, err.Error(), "QUEUE_BLOCK_TIMEOUT")
}

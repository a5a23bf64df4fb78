package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  handover_submitted_topic: "packet.handover.submitted"
redis:
  host: "localhost"
  port: 6379
custody:
  grpc_addr: ":50051"
  http_addr: ":8080"
  strict_baseline: false
  snapshot_ttl_seconds: 600
  sync_rate_limit_per_minute: 30
agent:
  device_id: "tablet-7"
  queue_backend: "redis"
  queue_id: "center-12"
  api_transport: "grpc"
  api_addr: "localhost:50051"
  gps_latitude: -17.82
  gps_longitude: 31.05
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "packet.handover.submitted", cfg.Kafka.HandoverSubmittedTopic)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, ":8080", cfg.Custody.HTTPAddr)
	require.False(t, cfg.Custody.StrictBaselineEnabled())
	require.Equal(t, 30, cfg.Custody.SyncRateLimitPerMinute)
	require.Equal(t, "redis", cfg.Agent.QueueBackend)
	require.Equal(t, "grpc", cfg.Agent.APITransport)
	require.NotNil(t, cfg.Agent.GPSLatitude)
	require.InDelta(t, -17.82, *cfg.Agent.GPSLatitude, 1e-9)
}

func TestLoadConfig_Defaults(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte("custody: {}\n"), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	// strict_baseline не задан, значит включён
	require.True(t, cfg.Custody.StrictBaselineEnabled())
	require.Nil(t, cfg.Agent.GPSLatitude)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

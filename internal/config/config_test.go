package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9000\n"))
	require.NoError(t, err)

	require.Equal(t, 9000, cfg.Server.Port)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, 120*time.Second, cfg.Liveness.SessionTTL)
	require.Equal(t, 5.0, cfg.Liveness.CenterMaxYaw)
	require.Equal(t, 15.0, cfg.Liveness.SideMinYaw)
	require.Equal(t, 0.5, cfg.Liveness.ConsistencyFloor)
	require.Equal(t, 0.995, cfg.Liveness.DuplicationCeiling)
	require.Equal(t, 0.7, cfg.Recognition.Threshold)
	require.Equal(t, "buffalo_l", cfg.Vision.ModelVersion)
	require.Equal(t, 512, cfg.Vision.EmbeddingDim)
	require.Equal(t, 4, cfg.Camera.QueueSize)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FA_API_KEYS", "alpha, beta")
	t.Setenv("FA_DB_DRIVER", "postgres")
	t.Setenv("FA_RECOGNITION_THRESHOLD", "0.82")
	t.Setenv("FA_SESSION_TTL", "45s")

	cfg, err := Load(writeConfig(t, "database:\n  driver: sqlite\n"))
	require.NoError(t, err)

	require.Equal(t, []string{"alpha", "beta"}, cfg.Server.APIKeys)
	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, 0.82, cfg.Recognition.Threshold)
	require.Equal(t, 45*time.Second, cfg.Liveness.SessionTTL)
}

func TestLoadCameraDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
camera:
  default_fps: 3
cameras:
  - name: gate
    url: rtsp://10.0.0.5/stream
`))
	require.NoError(t, err)
	require.Len(t, cfg.Cameras, 1)
	require.Equal(t, 3, cfg.Cameras[0].FPS)
	require.Equal(t, "rtsp", cfg.Cameras[0].Type)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	cases := map[string]string{
		"driver":  "database:\n  driver: mysql\n",
		"bands":   "liveness:\n  center_max_yaw: 20\n  side_min_yaw: 10\n",
		"ceiling": "liveness:\n  consistency_floor: 0.9\n  duplication_ceiling: 0.8\n",
		"tz":      "attendance:\n  timezone: Mars/Olympus\n",
		"camera":  "cameras:\n  - name: gate\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

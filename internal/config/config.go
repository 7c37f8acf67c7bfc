package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	NATS        NATSConfig        `yaml:"nats"`
	MinIO       MinIOConfig       `yaml:"minio"`
	Vision      VisionConfig      `yaml:"vision"`
	Liveness    LivenessConfig    `yaml:"liveness"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Attendance  AttendanceConfig  `yaml:"attendance"`
	Camera      CameraConfig      `yaml:"camera"`
	Cameras     []CameraSource    `yaml:"cameras"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Port    int      `yaml:"port"`
	APIKeys []string `yaml:"api_keys"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // postgres, sqlite
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
	// Path is the SQLite database file, ":memory:" for a throwaway store.
	Path         string        `yaml:"path"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	WriteRetries int           `yaml:"write_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Enabled reports whether photo storage is configured.
func (m MinIOConfig) Enabled() bool {
	return m.Endpoint != ""
}

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	ModelVersion       string  `yaml:"model_version"`
	EmbeddingDim       int     `yaml:"embedding_dim"`
	// MirrorYaw flips the yaw sign for mirrored (selfie) camera feeds.
	MirrorYaw bool `yaml:"mirror_yaw"`
}

type LivenessConfig struct {
	SessionTTL         time.Duration `yaml:"session_ttl"`
	SessionRetention   time.Duration `yaml:"session_retention"`
	MaxDiscards        int           `yaml:"max_discards"`
	CenterMaxYaw       float64       `yaml:"center_max_yaw"`
	SideMinYaw         float64       `yaml:"side_min_yaw"`
	MinQuality         float64       `yaml:"min_quality"`
	ConsistencyFloor   float64       `yaml:"consistency_floor"`
	DuplicationCeiling float64       `yaml:"duplication_ceiling"`
}

type RecognitionConfig struct {
	Threshold    float64       `yaml:"threshold"`
	TieEpsilon   float64       `yaml:"tie_epsilon"`
	MinQuality   float64       `yaml:"min_quality"`
	CacheRefresh time.Duration `yaml:"cache_refresh"`
}

type AttendanceConfig struct {
	Timezone string `yaml:"timezone"`
}

type CameraConfig struct {
	QueueSize    int           `yaml:"queue_size"`
	FrameTimeout time.Duration `yaml:"frame_timeout"`
	BackoffBase  time.Duration `yaml:"backoff_base"`
	BackoffMax   time.Duration `yaml:"backoff_max"`
	MaxRetries   int           `yaml:"max_retries"`
	FrameWidth   int           `yaml:"frame_width"`
	DefaultFPS   int           `yaml:"default_fps"`
}

// CameraSource is a camera started together with the service.
type CameraSource struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
	Type string `yaml:"type"` // rtsp, http, device
	FPS  int    `yaml:"fps"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
// An empty path skips the file and builds the config from the environment alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Liveness.SideMinYaw < c.Liveness.CenterMaxYaw {
		return fmt.Errorf("liveness.side_min_yaw (%.1f) must not be below center_max_yaw (%.1f)",
			c.Liveness.SideMinYaw, c.Liveness.CenterMaxYaw)
	}
	if c.Liveness.DuplicationCeiling <= c.Liveness.ConsistencyFloor {
		return fmt.Errorf("liveness.duplication_ceiling must exceed consistency_floor")
	}
	if c.Recognition.Threshold <= 0 || c.Recognition.Threshold > 1 {
		return fmt.Errorf("recognition.threshold must be in (0, 1]")
	}
	if _, err := time.LoadLocation(c.Attendance.Timezone); err != nil {
		return fmt.Errorf("attendance.timezone: %w", err)
	}
	for i, cam := range c.Cameras {
		if cam.Name == "" || cam.URL == "" {
			return fmt.Errorf("cameras[%d]: name and url are required", i)
		}
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "faceattend.db"
	}
	if cfg.Database.WriteTimeout == 0 {
		cfg.Database.WriteTimeout = 3 * time.Second
	}
	if cfg.Database.WriteRetries == 0 {
		cfg.Database.WriteRetries = 3
	}
	if cfg.Database.RetryBackoff == 0 {
		cfg.Database.RetryBackoff = 200 * time.Millisecond
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "faceattend"
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.ModelVersion == "" {
		cfg.Vision.ModelVersion = "buffalo_l"
	}
	if cfg.Vision.EmbeddingDim == 0 {
		cfg.Vision.EmbeddingDim = 512
	}
	if cfg.Liveness.SessionTTL == 0 {
		cfg.Liveness.SessionTTL = 120 * time.Second
	}
	if cfg.Liveness.SessionRetention == 0 {
		cfg.Liveness.SessionRetention = 10 * time.Minute
	}
	if cfg.Liveness.MaxDiscards == 0 {
		cfg.Liveness.MaxDiscards = 30
	}
	if cfg.Liveness.CenterMaxYaw == 0 {
		cfg.Liveness.CenterMaxYaw = 5
	}
	if cfg.Liveness.SideMinYaw == 0 {
		cfg.Liveness.SideMinYaw = 15
	}
	if cfg.Liveness.MinQuality == 0 {
		cfg.Liveness.MinQuality = 0.6
	}
	if cfg.Liveness.ConsistencyFloor == 0 {
		cfg.Liveness.ConsistencyFloor = 0.5
	}
	if cfg.Liveness.DuplicationCeiling == 0 {
		cfg.Liveness.DuplicationCeiling = 0.995
	}
	if cfg.Recognition.Threshold == 0 {
		cfg.Recognition.Threshold = 0.7
	}
	if cfg.Recognition.TieEpsilon == 0 {
		cfg.Recognition.TieEpsilon = 1e-6
	}
	if cfg.Recognition.MinQuality == 0 {
		cfg.Recognition.MinQuality = 0.5
	}
	if cfg.Attendance.Timezone == "" {
		cfg.Attendance.Timezone = "Local"
	}
	if cfg.Camera.QueueSize == 0 {
		cfg.Camera.QueueSize = 4
	}
	if cfg.Camera.FrameTimeout == 0 {
		cfg.Camera.FrameTimeout = 2 * time.Second
	}
	if cfg.Camera.BackoffBase == 0 {
		cfg.Camera.BackoffBase = time.Second
	}
	if cfg.Camera.BackoffMax == 0 {
		cfg.Camera.BackoffMax = 30 * time.Second
	}
	if cfg.Camera.MaxRetries == 0 {
		cfg.Camera.MaxRetries = 3
	}
	if cfg.Camera.FrameWidth == 0 {
		cfg.Camera.FrameWidth = 640
	}
	if cfg.Camera.DefaultFPS == 0 {
		cfg.Camera.DefaultFPS = 5
	}
	for i := range cfg.Cameras {
		if cfg.Cameras[i].FPS == 0 {
			cfg.Cameras[i].FPS = cfg.Camera.DefaultFPS
		}
		if cfg.Cameras[i].Type == "" {
			cfg.Cameras[i].Type = "rtsp"
		}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FA_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FA_API_KEYS"); v != "" {
		cfg.Server.APIKeys = splitList(v)
	}
	if v := os.Getenv("FA_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("FA_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("FA_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("FA_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("FA_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("FA_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("FA_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("FA_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FA_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("FA_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("FA_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("FA_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("FA_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("FA_MODEL_VERSION"); v != "" {
		cfg.Vision.ModelVersion = v
	}
	if v := os.Getenv("FA_RECOGNITION_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Recognition.Threshold = f
		}
	}
	if v := os.Getenv("FA_SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Liveness.SessionTTL = d
		}
	}
	if v := os.Getenv("FA_TIMEZONE"); v != "" {
		cfg.Attendance.Timezone = v
	}
	if v := os.Getenv("FA_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile = "vidscribe.yaml"
	DefaultDotEnvFile = ".env"
	defaultModelDir   = "vosk_models/large_pt_br_model"
)

type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"` // auto, text, json
	TraceExporter  string `yaml:"trace_exporter"` // none, stdout, otlp
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type PipelineConfig struct {
	Input      string `yaml:"input"`
	Waveform   string `yaml:"waveform"`
	Output     string `yaml:"output"`
	Vocabulary string `yaml:"vocabulary"`
	// LockTimeoutMS bounds how long a run waits for another run sharing the same waveform.
	LockTimeoutMS int `yaml:"lock_timeout_ms"`
}

type MediaConfig struct {
	FFmpegBinary  string `yaml:"ffmpeg_binary"`
	FFprobeBinary string `yaml:"ffprobe_binary"`
	Probe         bool   `yaml:"probe"`
}

type STTConfig struct {
	Mode          string `yaml:"mode"` // vosk, exec, mock
	ModelPath     string `yaml:"model_path"`
	Command       string `yaml:"command"`
	ChunkFrames   int    `yaml:"chunk_frames"`
	SegmentChunks int    `yaml:"segment_chunks"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	SubjectPrefix  string   `yaml:"subject_prefix"`
	// Embedded starts an in-process server on Port and connects to it instead of Servers.
	Embedded bool `yaml:"embedded"`
	Port     int  `yaml:"port"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRuns       int    `yaml:"max_runs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type Config struct {
	Environment string           `yaml:"environment"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
	Media       MediaConfig      `yaml:"media"`
	STT         STTConfig        `yaml:"stt"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
}

// DefaultModelPath resolves the bundled model directory next to the running executable.
func DefaultModelPath() string {
	exe, err := os.Executable()
	if err != nil {
		return defaultModelDir
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(exe), defaultModelDir)
}

func Default() Config {
	return Config{
		Environment: "development",
		Telemetry: TelemetryConfig{
			ServiceName:   "vidscribe",
			LogLevel:      "info",
			LogFormat:     "auto",
			TraceExporter: "none",
			OTLPInsecure:  true,
		},
		Pipeline: PipelineConfig{
			Input:         "your_video.mp4",
			Waveform:      "audio.wav",
			Output:        "transcription.txt",
			Vocabulary:    "words.txt",
			LockTimeoutMS: 0,
		},
		Media: MediaConfig{
			FFmpegBinary:  "ffmpeg",
			FFprobeBinary: "ffprobe",
			Probe:         true,
		},
		STT: STTConfig{
			Mode:          "vosk",
			ModelPath:     DefaultModelPath(),
			ChunkFrames:   4000,
			SegmentChunks: 4,
		},
		Bus: BusConfig{
			Enabled:        false,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			SubjectPrefix:  "vidscribe",
			Port:           4222,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/vidscribe-runs.db",
			RetentionMode: "persistent",
			RetentionDays: 30,
			MaxRuns:       1000,
		},
	}
}

// Load reads the YAML file at path (when non-empty) over Default, applies
// the optional .env file and VIDSCRIBE_* environment overrides, then validates.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := loadDotEnv(DefaultDotEnvFile); err != nil {
		return cfg, err
	}
	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadDotEnv populates unset variables from a .env file. Existing variables win.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.Environment, "VIDSCRIBE_ENVIRONMENT")
	overrideString(&cfg.Telemetry.ServiceName, "VIDSCRIBE_TELEMETRY_SERVICE_NAME")
	overrideString(&cfg.Telemetry.LogLevel, "VIDSCRIBE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFormat, "VIDSCRIBE_TELEMETRY_LOG_FORMAT")
	overrideString(&cfg.Telemetry.TraceExporter, "VIDSCRIBE_TELEMETRY_TRACE_EXPORTER")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VIDSCRIBE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VIDSCRIBE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VIDSCRIBE_TELEMETRY_PROMETHEUS_BIND")
	overrideString(&cfg.Pipeline.Input, "VIDSCRIBE_PIPELINE_INPUT")
	overrideString(&cfg.Pipeline.Waveform, "VIDSCRIBE_PIPELINE_WAVEFORM")
	overrideString(&cfg.Pipeline.Output, "VIDSCRIBE_PIPELINE_OUTPUT")
	overrideString(&cfg.Pipeline.Vocabulary, "VIDSCRIBE_PIPELINE_VOCABULARY")
	overrideInt(&cfg.Pipeline.LockTimeoutMS, "VIDSCRIBE_PIPELINE_LOCK_TIMEOUT_MS")
	overrideString(&cfg.Media.FFmpegBinary, "VIDSCRIBE_MEDIA_FFMPEG_BINARY")
	overrideString(&cfg.Media.FFprobeBinary, "VIDSCRIBE_MEDIA_FFPROBE_BINARY")
	overrideBool(&cfg.Media.Probe, "VIDSCRIBE_MEDIA_PROBE")
	overrideString(&cfg.STT.Mode, "VIDSCRIBE_STT_MODE")
	overrideString(&cfg.STT.ModelPath, "VIDSCRIBE_STT_MODEL_PATH")
	overrideString(&cfg.STT.Command, "VIDSCRIBE_STT_COMMAND")
	overrideInt(&cfg.STT.ChunkFrames, "VIDSCRIBE_STT_CHUNK_FRAMES")
	overrideInt(&cfg.STT.SegmentChunks, "VIDSCRIBE_STT_SEGMENT_CHUNKS")
	overrideBool(&cfg.Bus.Enabled, "VIDSCRIBE_BUS_ENABLED")
	overrideStringSlice(&cfg.Bus.Servers, "VIDSCRIBE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VIDSCRIBE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VIDSCRIBE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VIDSCRIBE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VIDSCRIBE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VIDSCRIBE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Bus.SubjectPrefix, "VIDSCRIBE_BUS_SUBJECT_PREFIX")
	overrideBool(&cfg.Bus.Embedded, "VIDSCRIBE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VIDSCRIBE_BUS_PORT")
	overrideString(&cfg.EventStore.Path, "VIDSCRIBE_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "VIDSCRIBE_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "VIDSCRIBE_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxRuns, "VIDSCRIBE_EVENT_STORE_MAX_RUNS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "VIDSCRIBE_EVENT_STORE_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	switch cfg.Telemetry.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	switch cfg.Telemetry.LogFormat {
	case "auto", "text", "json":
	default:
		return errors.New("telemetry.log_format must be one of auto|text|json")
	}
	switch cfg.Telemetry.TraceExporter {
	case "none", "stdout":
	case "otlp":
		if strings.TrimSpace(cfg.Telemetry.OTLPEndpoint) == "" {
			return errors.New("telemetry.otlp_endpoint must be set when trace_exporter=otlp")
		}
	default:
		return errors.New("telemetry.trace_exporter must be one of none|stdout|otlp")
	}
	if cfg.Pipeline.Waveform == "" {
		return errors.New("pipeline.waveform must not be empty")
	}
	if cfg.Pipeline.Output == "" {
		return errors.New("pipeline.output must not be empty")
	}
	if cfg.Pipeline.LockTimeoutMS < 0 {
		return errors.New("pipeline.lock_timeout_ms must be >= 0")
	}
	if cfg.Media.FFmpegBinary == "" {
		return errors.New("media.ffmpeg_binary must not be empty")
	}
	switch cfg.STT.Mode {
	case "vosk", "mock":
	case "exec":
		if cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
	default:
		return errors.New("stt.mode must be one of vosk|exec|mock")
	}
	if cfg.STT.ModelPath == "" {
		return errors.New("stt.model_path must not be empty")
	}
	if cfg.STT.ChunkFrames <= 0 {
		return errors.New("stt.chunk_frames must be positive")
	}
	if cfg.STT.Mode == "mock" && cfg.STT.SegmentChunks <= 0 {
		return errors.New("stt.segment_chunks must be positive when mode=mock")
	}
	if cfg.Bus.Enabled {
		if !cfg.Bus.Embedded && len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when the bus is enabled")
		}
		if cfg.Bus.Embedded && (cfg.Bus.Port < -1 || cfg.Bus.Port > 65535) {
			return errors.New("bus.port must be a valid TCP port (-1 picks a random one)")
		}
		if cfg.Bus.SubjectPrefix == "" {
			return errors.New("bus.subject_prefix must not be empty when the bus is enabled")
		}
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "persistent":
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.EventStore.RetentionMode != "ephemeral" && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	return nil
}

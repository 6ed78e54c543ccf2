package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	StdoutTraces bool   `yaml:"stdout_traces"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	EventStore  EventStoreConfig  `yaml:"event_store"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Frame       FrameConfig       `yaml:"frame"`
	Transcript  TranscriptConfig  `yaml:"transcript"`
	Vision      VisionConfig      `yaml:"vision"`
	Speech      SpeechConfig      `yaml:"speech"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Player      PlayerConfig      `yaml:"player"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	// Presence heartbeats, only used when the bus is enabled.
	HeartbeatIntervalMS int `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeoutMS  int `yaml:"heartbeat_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRuns       int    `yaml:"max_runs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// CredentialsConfig names the environment variables holding secrets. Values
// never live in the YAML file itself.
type CredentialsConfig struct {
	EnvFile      string `yaml:"env_file"`
	VisionKeyEnv string `yaml:"vision_key_env"`
	SpeechKeyEnv string `yaml:"speech_key_env"`
	VoiceIDEnv   string `yaml:"voice_id_env"`
}

type FrameConfig struct {
	Path           string `yaml:"path"`
	MIMEType       string `yaml:"mime_type"`
	RetryBackoffMS int    `yaml:"retry_backoff_ms"`
	MaxRetries     int    `yaml:"max_retries"` // 0 retries forever
}

type TranscriptConfig struct {
	Backend       string `yaml:"backend"` // memory, redis
	MaxTurns      int    `yaml:"max_turns"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisKey      string `yaml:"redis_key"`
}

type VisionConfig struct {
	Mode         string  `yaml:"mode"` // mock, openai, ollama, exec
	Endpoint     string  `yaml:"endpoint"`
	Command      string  `yaml:"command"`
	Model        string  `yaml:"model"`
	Persona      string  `yaml:"persona"`
	SystemPrompt string  `yaml:"system_prompt"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
	TimeoutMS    int     `yaml:"timeout_ms"`
	MockText     string  `yaml:"mock_text"`
}

type SpeechConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Mode         string `yaml:"mode"` // mock, elevenlabs, exec
	Endpoint     string `yaml:"endpoint"`
	Command      string `yaml:"command"`
	Model        string `yaml:"model"`
	OutputFormat string `yaml:"output_format"`
	SampleRate   int    `yaml:"sample_rate"`
	Channels     int    `yaml:"channels"`
	TimeoutMS    int    `yaml:"timeout_ms"`
}

type ArchiveConfig struct {
	Root     string `yaml:"root"`
	Filename string `yaml:"filename"`
}

type PlayerConfig struct {
	Mode    string `yaml:"mode"` // none, exec, portaudio
	Command string `yaml:"command"`
}

type PipelineConfig struct {
	IntervalMS    int  `yaml:"interval_ms"`
	FailFast      bool `yaml:"fail_fast"`
	MaxIterations int  `yaml:"max_iterations"`
}

func Default() Config {
	return Config{
		RuntimeName: "narrator",
		Environment: "development",
		HTTP: HTTPConfig{
			Enabled: true,
			Bind:    "127.0.0.1",
			Port:    8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,

			HeartbeatIntervalMS: 5000,
			HeartbeatTimeoutMS:  15000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/narrator-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxRuns:       1000,
		},
		Credentials: CredentialsConfig{
			EnvFile:      ".env",
			VisionKeyEnv: "OPENAI_API_KEY",
			SpeechKeyEnv: "ELEVENLABS_API_KEY",
			VoiceIDEnv:   "ELEVENLABS_VOICE_ID",
		},
		Frame: FrameConfig{
			Path:           "frames/frame.jpg",
			RetryBackoffMS: 100,
			MaxRetries:     0,
		},
		Transcript: TranscriptConfig{
			Backend:   "memory",
			MaxTurns:  0,
			RedisAddr: "localhost:6379",
			RedisKey:  "narrator:transcript",
		},
		Vision: VisionConfig{
			Mode:        "mock",
			Endpoint:    "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			Persona:     "scottish",
			MaxTokens:   500,
			Temperature: 0.9,
			TimeoutMS:   60000,
			MockText:    "",
		},
		Speech: SpeechConfig{
			Enabled:      true,
			Mode:         "mock",
			Endpoint:     "https://api.elevenlabs.io/v1",
			Model:        "eleven_multilingual_v2",
			OutputFormat: "pcm_24000",
			SampleRate:   24000,
			Channels:     1,
			TimeoutMS:    45000,
		},
		Archive: ArchiveConfig{
			Root:     "narration",
			Filename: "audio.wav",
		},
		Player: PlayerConfig{
			Mode:    "none",
			Command: "ffplay -nodisp -autoexit -loglevel quiet",
		},
		Pipeline: PipelineConfig{
			IntervalMS:    3000,
			FailFast:      false,
			MaxIterations: 0,
		},
	}
}

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

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "NARRATOR_RUNTIME_NAME")
	overrideString(&cfg.Environment, "NARRATOR_RUNTIME_ENVIRONMENT")
	overrideBool(&cfg.HTTP.Enabled, "NARRATOR_HTTP_ENABLED")
	overrideString(&cfg.HTTP.Bind, "NARRATOR_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "NARRATOR_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "NARRATOR_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "NARRATOR_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "NARRATOR_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.StdoutTraces, "NARRATOR_TELEMETRY_STDOUT_TRACES")
	overrideBool(&cfg.Bus.Enabled, "NARRATOR_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "NARRATOR_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "NARRATOR_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "NARRATOR_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "NARRATOR_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "NARRATOR_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "NARRATOR_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "NARRATOR_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "NARRATOR_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Bus.HeartbeatIntervalMS, "NARRATOR_BUS_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Bus.HeartbeatTimeoutMS, "NARRATOR_BUS_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "NARRATOR_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "NARRATOR_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "NARRATOR_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxRuns, "NARRATOR_EVENT_STORE_MAX_RUNS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "NARRATOR_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Credentials.EnvFile, "NARRATOR_CREDENTIALS_ENV_FILE")
	overrideString(&cfg.Frame.Path, "NARRATOR_FRAME_PATH")
	overrideString(&cfg.Frame.MIMEType, "NARRATOR_FRAME_MIME_TYPE")
	overrideInt(&cfg.Frame.RetryBackoffMS, "NARRATOR_FRAME_RETRY_BACKOFF_MS")
	overrideInt(&cfg.Frame.MaxRetries, "NARRATOR_FRAME_MAX_RETRIES")
	overrideString(&cfg.Transcript.Backend, "NARRATOR_TRANSCRIPT_BACKEND")
	overrideInt(&cfg.Transcript.MaxTurns, "NARRATOR_TRANSCRIPT_MAX_TURNS")
	overrideString(&cfg.Transcript.RedisAddr, "NARRATOR_TRANSCRIPT_REDIS_ADDR")
	overrideString(&cfg.Transcript.RedisPassword, "NARRATOR_TRANSCRIPT_REDIS_PASSWORD")
	overrideInt(&cfg.Transcript.RedisDB, "NARRATOR_TRANSCRIPT_REDIS_DB")
	overrideString(&cfg.Transcript.RedisKey, "NARRATOR_TRANSCRIPT_REDIS_KEY")
	overrideString(&cfg.Vision.Mode, "NARRATOR_VISION_MODE")
	overrideString(&cfg.Vision.Endpoint, "NARRATOR_VISION_ENDPOINT")
	overrideString(&cfg.Vision.Command, "NARRATOR_VISION_COMMAND")
	overrideString(&cfg.Vision.Model, "NARRATOR_VISION_MODEL")
	overrideString(&cfg.Vision.Persona, "NARRATOR_VISION_PERSONA")
	overrideString(&cfg.Vision.SystemPrompt, "NARRATOR_VISION_SYSTEM_PROMPT")
	overrideInt(&cfg.Vision.MaxTokens, "NARRATOR_VISION_MAX_TOKENS")
	overrideFloat(&cfg.Vision.Temperature, "NARRATOR_VISION_TEMPERATURE")
	overrideInt(&cfg.Vision.TimeoutMS, "NARRATOR_VISION_TIMEOUT_MS")
	overrideBool(&cfg.Speech.Enabled, "NARRATOR_SPEECH_ENABLED")
	overrideString(&cfg.Speech.Mode, "NARRATOR_SPEECH_MODE")
	overrideString(&cfg.Speech.Endpoint, "NARRATOR_SPEECH_ENDPOINT")
	overrideString(&cfg.Speech.Command, "NARRATOR_SPEECH_COMMAND")
	overrideString(&cfg.Speech.Model, "NARRATOR_SPEECH_MODEL")
	overrideString(&cfg.Speech.OutputFormat, "NARRATOR_SPEECH_OUTPUT_FORMAT")
	overrideInt(&cfg.Speech.SampleRate, "NARRATOR_SPEECH_SAMPLE_RATE")
	overrideInt(&cfg.Speech.Channels, "NARRATOR_SPEECH_CHANNELS")
	overrideInt(&cfg.Speech.TimeoutMS, "NARRATOR_SPEECH_TIMEOUT_MS")
	overrideString(&cfg.Archive.Root, "NARRATOR_ARCHIVE_ROOT")
	overrideString(&cfg.Archive.Filename, "NARRATOR_ARCHIVE_FILENAME")
	overrideString(&cfg.Player.Mode, "NARRATOR_PLAYER_MODE")
	overrideString(&cfg.Player.Command, "NARRATOR_PLAYER_COMMAND")
	overrideInt(&cfg.Pipeline.IntervalMS, "NARRATOR_PIPELINE_INTERVAL_MS")
	overrideBool(&cfg.Pipeline.FailFast, "NARRATOR_PIPELINE_FAIL_FAST")
	overrideInt(&cfg.Pipeline.MaxIterations, "NARRATOR_PIPELINE_MAX_ITERATIONS")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Enabled && (cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535) {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch strings.ToLower(cfg.Telemetry.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Bus.HeartbeatIntervalMS <= 0 {
			return errors.New("bus.heartbeat_interval_ms must be positive")
		}
		if cfg.Bus.HeartbeatTimeoutMS < cfg.Bus.HeartbeatIntervalMS {
			return errors.New("bus.heartbeat_timeout_ms must be at least the heartbeat interval")
		}
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionMode != "ephemeral" && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Frame.Path == "" {
		return errors.New("frame.path must not be empty")
	}
	if cfg.Frame.RetryBackoffMS <= 0 {
		return errors.New("frame.retry_backoff_ms must be positive")
	}
	if cfg.Frame.MaxRetries < 0 {
		return errors.New("frame.max_retries must be >= 0")
	}
	switch cfg.Transcript.Backend {
	case "memory":
	case "redis":
		if cfg.Transcript.RedisAddr == "" {
			return errors.New("transcript.redis_addr must be set when backend=redis")
		}
		if cfg.Transcript.RedisKey == "" {
			return errors.New("transcript.redis_key must be set when backend=redis")
		}
	default:
		return errors.New("transcript.backend must be one of memory|redis")
	}
	if cfg.Transcript.MaxTurns < 0 {
		return errors.New("transcript.max_turns must be >= 0")
	}
	switch cfg.Vision.Mode {
	case "mock":
	case "openai", "ollama":
		if cfg.Vision.Endpoint == "" {
			return fmt.Errorf("vision.endpoint must be set when mode=%s", cfg.Vision.Mode)
		}
		if cfg.Vision.Model == "" {
			return fmt.Errorf("vision.model must be set when mode=%s", cfg.Vision.Mode)
		}
	case "exec":
		if cfg.Vision.Command == "" {
			return errors.New("vision.command must be set when mode=exec")
		}
	default:
		return errors.New("vision.mode must be one of mock|openai|ollama|exec")
	}
	if cfg.Vision.MaxTokens <= 0 {
		return errors.New("vision.max_tokens must be positive")
	}
	if cfg.Vision.TimeoutMS < 0 {
		return errors.New("vision.timeout_ms must be >= 0")
	}
	if cfg.Vision.SystemPrompt == "" {
		switch cfg.Vision.Persona {
		case "attenborough", "scottish":
		default:
			return errors.New("vision.persona must be one of attenborough|scottish when no system_prompt is set")
		}
	}
	if cfg.Speech.Enabled {
		switch cfg.Speech.Mode {
		case "mock":
		case "elevenlabs":
			if cfg.Speech.Endpoint == "" {
				return errors.New("speech.endpoint must be set when mode=elevenlabs")
			}
		case "exec":
			if cfg.Speech.Command == "" {
				return errors.New("speech.command must be set when mode=exec")
			}
		default:
			return errors.New("speech.mode must be one of mock|elevenlabs|exec")
		}
		if cfg.Speech.SampleRate <= 0 {
			return errors.New("speech.sample_rate must be positive")
		}
		if cfg.Speech.Channels <= 0 {
			return errors.New("speech.channels must be positive")
		}
		if cfg.Speech.TimeoutMS < 0 {
			return errors.New("speech.timeout_ms must be >= 0")
		}
	}
	if cfg.Archive.Root == "" {
		return errors.New("archive.root must not be empty")
	}
	if cfg.Archive.Filename == "" || strings.ContainsAny(cfg.Archive.Filename, `/\`) {
		return errors.New("archive.filename must be a bare file name")
	}
	switch cfg.Player.Mode {
	case "none", "portaudio":
	case "exec":
		if cfg.Player.Command == "" {
			return errors.New("player.command must be set when mode=exec")
		}
	default:
		return errors.New("player.mode must be one of none|exec|portaudio")
	}
	if cfg.Pipeline.IntervalMS < 0 {
		return errors.New("pipeline.interval_ms must be >= 0")
	}
	if cfg.Pipeline.MaxIterations < 0 {
		return errors.New("pipeline.max_iterations must be >= 0")
	}
	return nil
}

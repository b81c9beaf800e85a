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
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type RecognizerConfig struct {
	Mode           string `yaml:"mode"` // mock, exec, none
	Command        string `yaml:"command"`
	ModelPath      string `yaml:"model_path"`
	Language       string `yaml:"language"`
	InterimResults bool   `yaml:"interim_results"`
	MockIntervalMS int    `yaml:"mock_interval_ms"`
}

type SessionConfig struct {
	PublishInterim bool `yaml:"publish_interim"`
}

type StoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type ExportConfig struct {
	DownloadDir    string `yaml:"download_dir"`
	FilenamePrefix string `yaml:"filename_prefix"`
}

type NotifyConfig struct {
	Mode    string `yaml:"mode"` // desktop, log
	AppName string `yaml:"app_name"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Recognizer  RecognizerConfig `yaml:"recognizer"`
	Session     SessionConfig    `yaml:"session"`
	Store       StoreConfig      `yaml:"transcript_store"`
	Export      ExportConfig     `yaml:"export"`
	Notify      NotifyConfig     `yaml:"notify"`
}

func Default() Config {
	return Config{
		RuntimeName: "scribe-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8090,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Recognizer: RecognizerConfig{
			Mode:           "mock",
			Language:       "en-US",
			InterimResults: true,
			MockIntervalMS: 1200,
		},
		Session: SessionConfig{
			PublishInterim: true,
		},
		Store: StoreConfig{
			Path:          "./data/scribe-transcripts.db",
			RetentionMode: "persistent",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Export: ExportConfig{
			DownloadDir:    "./downloads",
			FilenamePrefix: "transcript",
		},
		Notify: NotifyConfig{
			Mode:    "log",
			AppName: "Scribe",
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
	overrideString(&cfg.RuntimeName, "SCRIBE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "SCRIBE_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "SCRIBE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SCRIBE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "SCRIBE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SCRIBE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SCRIBE_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "SCRIBE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SCRIBE_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "SCRIBE_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "SCRIBE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SCRIBE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SCRIBE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SCRIBE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SCRIBE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SCRIBE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Recognizer.Mode, "SCRIBE_RECOGNIZER_MODE")
	overrideString(&cfg.Recognizer.Command, "SCRIBE_RECOGNIZER_COMMAND")
	overrideString(&cfg.Recognizer.ModelPath, "SCRIBE_RECOGNIZER_MODEL_PATH")
	overrideString(&cfg.Recognizer.Language, "SCRIBE_RECOGNIZER_LANGUAGE")
	overrideBool(&cfg.Recognizer.InterimResults, "SCRIBE_RECOGNIZER_INTERIM_RESULTS")
	overrideInt(&cfg.Recognizer.MockIntervalMS, "SCRIBE_RECOGNIZER_MOCK_INTERVAL_MS")
	overrideBool(&cfg.Session.PublishInterim, "SCRIBE_SESSION_PUBLISH_INTERIM")
	overrideString(&cfg.Store.Path, "SCRIBE_STORE_PATH")
	overrideString(&cfg.Store.RetentionMode, "SCRIBE_STORE_RETENTION_MODE")
	overrideInt(&cfg.Store.RetentionDays, "SCRIBE_STORE_RETENTION_DAYS")
	overrideInt(&cfg.Store.MaxSessions, "SCRIBE_STORE_MAX_SESSIONS")
	overrideBool(&cfg.Store.VacuumOnStart, "SCRIBE_STORE_VACUUM_ON_START")
	overrideString(&cfg.Export.DownloadDir, "SCRIBE_EXPORT_DOWNLOAD_DIR")
	overrideString(&cfg.Export.FilenamePrefix, "SCRIBE_EXPORT_FILENAME_PREFIX")
	overrideString(&cfg.Notify.Mode, "SCRIBE_NOTIFY_MODE")
	overrideString(&cfg.Notify.AppName, "SCRIBE_NOTIFY_APP_NAME")
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
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
		if cfg.Bus.StoreDir == "" {
			return errors.New("bus.store_dir must not be empty when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.Recognizer.Mode {
	case "mock", "exec", "none":
	default:
		return errors.New("recognizer.mode must be one of mock|exec|none")
	}
	if cfg.Recognizer.Mode == "exec" && cfg.Recognizer.Command == "" {
		return errors.New("recognizer.command must be set when mode=exec")
	}
	if cfg.Recognizer.Mode != "none" && cfg.Recognizer.Language == "" {
		return errors.New("recognizer.language must not be empty")
	}
	if cfg.Recognizer.Mode == "mock" && cfg.Recognizer.MockIntervalMS <= 0 {
		return errors.New("recognizer.mock_interval_ms must be positive")
	}
	switch cfg.Store.RetentionMode {
	case "ephemeral", "persistent":
	default:
		return errors.New("transcript_store.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.Store.RetentionMode == "persistent" && cfg.Store.Path == "" {
		return errors.New("transcript_store.path must not be empty")
	}
	if cfg.Store.RetentionDays < 0 {
		return errors.New("transcript_store.retention_days must be >= 0")
	}
	if cfg.Export.DownloadDir == "" {
		return errors.New("export.download_dir must not be empty")
	}
	if cfg.Export.FilenamePrefix == "" {
		return errors.New("export.filename_prefix must not be empty")
	}
	switch cfg.Notify.Mode {
	case "desktop", "log":
	default:
		return errors.New("notify.mode must be one of desktop|log")
	}
	if cfg.Notify.AppName == "" {
		return errors.New("notify.app_name must not be empty")
	}
	return nil
}

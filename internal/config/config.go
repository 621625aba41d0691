package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"ratecal/internal/calibration"
	apperrors "ratecal/internal/errors"
)

// EnvPrefix namespaces every environment override, e.g. RATECAL_SERVER_PORT.
const EnvPrefix = "RATECAL"

// Config represents the complete application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" envconfig:"SERVER"`
	Logging     LoggingConfig     `yaml:"logging" envconfig:"LOGGING"`
	Paths       PathsConfig       `yaml:"paths" envconfig:"PATHS"`
	WebSocket   WebSocketConfig   `yaml:"websocket" envconfig:"WEBSOCKET"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" envconfig:"TELEMETRY"`
	Sheets      SheetsConfig      `yaml:"sheets" envconfig:"SHEETS"`
	Calibration CalibrationConfig `yaml:"calibration" envconfig:"CALIBRATION"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int             `yaml:"port" envconfig:"PORT" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" envconfig:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration   `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"gt=0"`
	IdleTimeout     time.Duration   `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" validate:"gt=0"`
	MaxHeaderBytes  int             `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES" validate:"gt=0"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
	RunTimeout      time.Duration   `yaml:"run_timeout" envconfig:"RUN_TIMEOUT" validate:"gt=0"`
	MaxUploadBytes  int64           `yaml:"max_upload_bytes" envconfig:"MAX_UPLOAD_BYTES" validate:"gt=0"`
	MaxRuns         int             `yaml:"max_runs" envconfig:"MAX_RUNS" validate:"min=1"`
	MaxActiveRuns   int             `yaml:"max_active_runs" envconfig:"MAX_ACTIVE_RUNS" validate:"gte=0"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" validate:"gt=0"`
	Burst   int     `yaml:"burst" envconfig:"BURST" validate:"min=1"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn error"`
	Output   string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=stdout file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" validate:"required_unless=Output stdout"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	ReportsDir string `yaml:"reports_dir" envconfig:"REPORTS_DIR" validate:"required"`
	LogsDir    string `yaml:"logs_dir" envconfig:"LOGS_DIR" validate:"required"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE" validate:"min=1"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE" validate:"min=1"`
	PingPeriod      time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD" validate:"gt=0"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT" validate:"gtfield=PingPeriod"`
	AllowedOrigins  []string      `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
}

// TelemetryConfig controls tracing and metrics export
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name" envconfig:"SERVICE_NAME" validate:"required"`
	TracingEnabled bool   `yaml:"tracing_enabled" envconfig:"TRACING_ENABLED"`
	MetricsEnabled bool   `yaml:"metrics_enabled" envconfig:"METRICS_ENABLED"`
}

// SheetsConfig holds Google Sheets access for the sheets input source
type SheetsConfig struct {
	CredentialsFile string `yaml:"credentials_file" envconfig:"CREDENTIALS_FILE"`
	APIKey          string `yaml:"api_key" envconfig:"API_KEY"`
}

// CalibrationConfig describes the dataset layout and the calibration options.
type CalibrationConfig struct {
	RatingVariables []string          `yaml:"rating_variables" envconfig:"RATING_VARIABLES" validate:"dive,required"`
	ActualField     string            `yaml:"actual_field" envconfig:"ACTUAL_FIELD" validate:"required"`
	ExpectedField   string            `yaml:"expected_field" envconfig:"EXPECTED_FIELD" validate:"required,nefield=ActualField"`
	WeightField     string            `yaml:"weight_field" envconfig:"WEIGHT_FIELD"`
	Mode            string            `yaml:"mode" envconfig:"MODE" validate:"oneof=sequential joint"`
	Grouped         bool              `yaml:"grouped" envconfig:"GROUPED"`
	Credibility     CredibilityConfig `yaml:"credibility" envconfig:"CREDIBILITY"`
	GuardLower      float64           `yaml:"guard_lower" envconfig:"GUARD_LOWER" validate:"gt=0,lte=1"`
	GuardUpper      float64           `yaml:"guard_upper" envconfig:"GUARD_UPPER" validate:"gte=1"`
	Penalty         float64           `yaml:"penalty" envconfig:"PENALTY" validate:"gte=0"`
	ProgressEvery   int64             `yaml:"progress_every" envconfig:"PROGRESS_EVERY" validate:"gte=0"`
	Optimizer       OptimizerConfig   `yaml:"optimizer" envconfig:"OPTIMIZER"`
}

// CredibilityConfig mirrors calibration.CredibilityOptions
type CredibilityConfig struct {
	Enabled         bool    `yaml:"enabled" envconfig:"ENABLED"`
	FullCredibility float64 `yaml:"full_credibility" envconfig:"FULL_CREDIBILITY" validate:"gt=0"`
	MaxStep         float64 `yaml:"max_step" envconfig:"MAX_STEP" validate:"gte=0,lt=1"`
	DefaultLower    float64 `yaml:"default_lower" envconfig:"DEFAULT_LOWER" validate:"gt=0"`
	DefaultUpper    float64 `yaml:"default_upper" envconfig:"DEFAULT_UPPER" validate:"gtefield=DefaultLower"`
}

// OptimizerConfig mirrors calibration.OptimizerOptions
type OptimizerConfig struct {
	Strategy          string  `yaml:"strategy" envconfig:"STRATEGY" validate:"oneof=cmaes guess neldermead"`
	MaxIterations     int     `yaml:"max_iterations" envconfig:"MAX_ITERATIONS" validate:"min=1"`
	PopulationSize    int     `yaml:"population_size" envconfig:"POPULATION_SIZE" validate:"min=1"`
	Tolerance         float64 `yaml:"tolerance" envconfig:"TOLERANCE" validate:"gte=0"`
	MutationMin       float64 `yaml:"mutation_min" envconfig:"MUTATION_MIN" validate:"gte=0"`
	MutationMax       float64 `yaml:"mutation_max" envconfig:"MUTATION_MAX" validate:"gtefield=MutationMin,lte=2"`
	Recombination     float64 `yaml:"recombination" envconfig:"RECOMBINATION" validate:"gte=0,lte=1"`
	Seed              uint64  `yaml:"seed" envconfig:"SEED"`
	Polish            bool    `yaml:"polish" envconfig:"POLISH"`
	Init              string  `yaml:"init" envconfig:"INIT" validate:"oneof=midpoint random"`
	AbsoluteTolerance float64 `yaml:"absolute_tolerance" envconfig:"ABSOLUTE_TOLERANCE" validate:"gte=0"`
	Updating          string  `yaml:"updating" envconfig:"UPDATING" validate:"oneof=immediate deferred"`
	Workers           int     `yaml:"workers" envconfig:"WORKERS" validate:"min=-1,ne=0"`
}

// Load builds the configuration from defaults, an optional YAML file and
// RATECAL_* environment variables, in increasing precedence. An empty path
// searches the usual locations.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = getConfigFilePath()
	}
	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFromFile overlays a YAML file on cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return apperrors.NewParsingError(fmt.Sprintf("parse %s", filePath), err)
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks struct constraints and the cross-field rules of the
// calibration section.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return apperrors.NewConfigurationError("invalid fields: "+strings.Join(fields, ", ")).
				WithContext("fields", fields)
		}
		return apperrors.NewAppError(apperrors.ErrTypeConfiguration, "validate config", err)
	}
	if c.Calibration.Mode == string(calibration.ModeSequential) && c.Calibration.Grouped {
		return apperrors.NewConfigurationError("grouped deviation only applies to joint mode")
	}
	return c.Calibration.Options().Validate()
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	locations := []string{
		"ratecal.yaml",
		"config.yaml",
		"configs/ratecal.yaml",
		"configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// DatasetSpec returns the dataset description of the calibration section.
func (c CalibrationConfig) DatasetSpec() calibration.DatasetSpec {
	return calibration.DatasetSpec{
		RatingVariables: append([]string(nil), c.RatingVariables...),
		ActualField:     c.ActualField,
		ExpectedField:   c.ExpectedField,
		WeightField:     c.WeightField,
		Mode:            calibration.Mode(c.Mode),
		Grouped:         c.Grouped,
	}
}

// Options converts the calibration section to driver options.
func (c CalibrationConfig) Options() calibration.Options {
	return calibration.Options{
		Credibility: calibration.CredibilityOptions{
			Enabled:         c.Credibility.Enabled,
			FullCredibility: c.Credibility.FullCredibility,
			MaxStep:         c.Credibility.MaxStep,
			DefaultInterval: calibration.Interval{Lower: c.Credibility.DefaultLower, Upper: c.Credibility.DefaultUpper},
		},
		GuardBand:     calibration.GuardBand{Lower: c.GuardLower, Upper: c.GuardUpper},
		Penalty:       c.Penalty,
		ProgressEvery: c.ProgressEvery,
		Optimizer: calibration.OptimizerOptions{
			Strategy:          c.Optimizer.Strategy,
			MaxIterations:     c.Optimizer.MaxIterations,
			PopulationSize:    c.Optimizer.PopulationSize,
			Tolerance:         c.Optimizer.Tolerance,
			Mutation:          calibration.MutationRange{Min: c.Optimizer.MutationMin, Max: c.Optimizer.MutationMax},
			Recombination:     c.Optimizer.Recombination,
			Seed:              c.Optimizer.Seed,
			Polish:            c.Optimizer.Polish,
			Init:              c.Optimizer.Init,
			AbsoluteTolerance: c.Optimizer.AbsoluteTolerance,
			Updating:          c.Optimizer.Updating,
			Workers:           c.Optimizer.Workers,
		},
	}
}

// Default returns default configuration
func Default() *Config {
	opts := calibration.DefaultOptions()
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
			ShutdownTimeout: 30 * time.Second,
			RunTimeout:      2 * time.Hour,
			MaxUploadBytes:  32 << 20,
			MaxRuns:         100,
			MaxActiveRuns:   4,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     100,
				Burst:   50,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "stdout",
			FilePath: "logs/ratecal.log",
		},
		Paths: PathsConfig{
			ReportsDir: "reports",
			LogsDir:    "logs",
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingPeriod:      30 * time.Second,
			PongWait:        60 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "ratecal",
			TracingEnabled: false,
			MetricsEnabled: true,
		},
		Calibration: CalibrationConfig{
			ActualField:   "actual",
			ExpectedField: "expected",
			Mode:          string(calibration.ModeSequential),
			Credibility: CredibilityConfig{
				Enabled:         opts.Credibility.Enabled,
				FullCredibility: opts.Credibility.FullCredibility,
				MaxStep:         opts.Credibility.MaxStep,
				DefaultLower:    opts.Credibility.DefaultInterval.Lower,
				DefaultUpper:    opts.Credibility.DefaultInterval.Upper,
			},
			GuardLower:    opts.GuardBand.Lower,
			GuardUpper:    opts.GuardBand.Upper,
			Penalty:       opts.Penalty,
			ProgressEvery: opts.ProgressEvery,
			Optimizer: OptimizerConfig{
				Strategy:          opts.Optimizer.Strategy,
				MaxIterations:     opts.Optimizer.MaxIterations,
				PopulationSize:    opts.Optimizer.PopulationSize,
				Tolerance:         opts.Optimizer.Tolerance,
				MutationMin:       opts.Optimizer.Mutation.Min,
				MutationMax:       opts.Optimizer.Mutation.Max,
				Recombination:     opts.Optimizer.Recombination,
				Seed:              opts.Optimizer.Seed,
				Polish:            opts.Optimizer.Polish,
				Init:              opts.Optimizer.Init,
				AbsoluteTolerance: opts.Optimizer.AbsoluteTolerance,
				Updating:          opts.Optimizer.Updating,
				Workers:           opts.Optimizer.Workers,
			},
		},
	}
}

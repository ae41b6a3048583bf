package app

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/vk/stagegrid/internal/scheduler"
	"gopkg.in/yaml.v3"
)

// validate is the validator instance for application configuration.
// Initialized in init() with custom validators.
var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("listen_addr", validateListenAddr)
}

// validateListenAddr accepts host:port pairs with a port in 0-65535; port 0
// asks the kernel for a free one.
func validateListenAddr(fl validator.FieldLevel) bool {
	_, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 0 && n <= 65535
}

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// DefinitionsPath is a .hcl file or a directory of them.
	DefinitionsPath string `yaml:"definitions_path" validate:"required"`
	// DBPath is the SQLite file runs are persisted to. Empty keeps records
	// in memory.
	DBPath     string `yaml:"db_path"`
	ListenAddr string `yaml:"listen_addr" validate:"omitempty,listen_addr"`

	LogFormat string `yaml:"log_format" validate:"oneof=text json"`
	LogLevel  string `yaml:"log_level" validate:"oneof=debug info warn error"`

	MaxInFlight    int           `yaml:"max_in_flight" validate:"gte=0"`
	CancelTimeout  time.Duration `yaml:"cancel_timeout" validate:"gte=0"`
	DispatchPolicy string        `yaml:"dispatch_policy" validate:"oneof=declaration lexical"`
	Retention      time.Duration `yaml:"retention" validate:"gte=0"`

	WatchDefinitions bool `yaml:"watch_definitions"`

	// Secrets are org-level values stages may request by name. They are
	// read-only while runs execute. Environment variables prefixed with
	// SecretEnvPrefix are layered over them.
	Secrets map[string]string `yaml:"secrets"`
}

// SecretEnvPrefix marks environment variables that carry org-level secrets,
// e.g. STAGEGRID_SECRET_DEPLOY_TOKEN provides the secret DEPLOY_TOKEN.
const SecretEnvPrefix = "STAGEGRID_SECRET_"

// DefaultConfig returns the configuration used when neither a file nor a
// flag sets a value.
func DefaultConfig() Config {
	return Config{
		ListenAddr:     ":8080",
		LogFormat:      "text",
		LogLevel:       "info",
		CancelTimeout:  scheduler.DefaultCancelTimeout,
		DispatchPolicy: string(scheduler.DispatchDeclaration),
		Retention:      scheduler.DefaultRetention,
	}
}

// LoadConfigFile overlays the YAML file at path onto cfg. Keys missing from
// the file keep their current value.
func LoadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// NewConfig validates cfg and returns a copy of it.
func NewConfig(cfg Config) (*Config, error) {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return nil, fmt.Errorf("invalid configuration: %s fails %q (value %v)", fe.Field(), fe.Tag(), fe.Value())
		}
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/iancoleman/strcase"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

const configFileENV = "CONFIG_FILE"

const defaultConfigFile = "/config/stacks.yaml"

type Config struct {
	DatabaseBusyTimeout       time.Duration `koanf:"database_busy_timeout" default:"5s"`
	DatabaseConnectRetryCount int           `koanf:"database_connect_retry_count" default:"5"`
	DatabaseConnectRetryDelay time.Duration `koanf:"database_connect_retry_delay" default:"2s"`
	DatabaseDebug             bool          `koanf:"database_debug"`
	DatabaseFilePath          string        `koanf:"database_file_path" validate:"required"`
	DatabaseMaxRetries        int           `koanf:"database_max_retries" default:"5"`
	Hostname                  string        `koanf:"hostname"`
	ServerHost                string        `koanf:"server_host" default:"0.0.0.0"`
	ServerPort                int           `koanf:"server_port" default:"3689" validate:"min=1,max=65535"`

	// Filesystem locations used by scans and thumbnail generation.
	ThumbnailDir string `koanf:"thumbnail_dir" default:"/config/thumbnails" validate:"required"`
	TrashDir     string `koanf:"trash_dir" default:"/config/trash" validate:"required"`
	ScratchDir   string `koanf:"scratch_dir"`

	ScanBatchSize          int           `koanf:"scan_batch_size" default:"200" validate:"min=1"`
	ScanSchedule           string        `koanf:"scan_schedule"`
	ThumbnailConcurrency   int           `koanf:"thumbnail_concurrency" default:"4" validate:"min=1"`
	JobEventBuffer         int           `koanf:"job_event_buffer" default:"64" validate:"min=1"`
	JobShutdownGracePeriod time.Duration `koanf:"job_shutdown_grace_period" default:"10s"`
	GenerateKoreaderHashes bool          `koanf:"generate_koreader_hashes"`
}

// New builds the config from defaults, then the YAML file named by
// CONFIG_FILE (if it exists), then environment variables.
func New() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, errors.WithStack(err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	cfg.Hostname = hostname

	k := koanf.New(".")

	path := os.Getenv(configFileENV)
	if path == "" {
		path = defaultConfigFile
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "failed to load config file %s", path)
		}
	}

	known := knownKeys()
	err = k.Load(env.Provider("", ".", func(s string) string {
		key := strings.ToLower(s)
		if _, ok := known[key]; !ok {
			return ""
		}
		return key
	}), nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errors.WithStack(err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.ScratchDir == "" {
		cfg.ScratchDir = filepath.Join(os.TempDir(), "stacks")
	}

	return cfg, nil
}

// NewForTest returns a defaulted config pointing at an in-memory database.
func NewForTest() *Config {
	cfg := &Config{}
	_ = defaults.Set(cfg)
	cfg.DatabaseFilePath = ":memory:"
	cfg.ServerHost = "127.0.0.1"
	cfg.Hostname = "test"
	cfg.ThumbnailDir = filepath.Join(os.TempDir(), "stacks-test", "thumbnails")
	cfg.TrashDir = filepath.Join(os.TempDir(), "stacks-test", "trash")
	cfg.ScratchDir = filepath.Join(os.TempDir(), "stacks-test", "scratch")
	return cfg
}

func (cfg *Config) validate() error {
	err := validator.New().Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return errors.WithStack(err)
	}

	missing := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		key := toSnakeCase(fe.StructField())
		if fe.Tag() == "required" {
			missing = append(missing, strings.ToUpper(key)+" ("+key+")")
			continue
		}
		return errors.Errorf("invalid config: %s (%s) failed %q", strings.ToUpper(key), key, fe.Tag())
	}
	return errors.Errorf("missing required config: %s", strings.Join(missing, ", "))
}

func knownKeys() map[string]struct{} {
	keys := map[string]struct{}{}
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("koanf")
		if tag == "" {
			tag = toSnakeCase(t.Field(i).Name)
		}
		keys[tag] = struct{}{}
	}
	return keys
}

func toSnakeCase(s string) string {
	return strcase.ToSnake(s)
}

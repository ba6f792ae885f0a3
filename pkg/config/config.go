package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Engine is the top-level configuration for every scheduler process.
type Engine struct {
	Logging Logging `json:"logging" yaml:"logging"`
	Store   Store   `json:"store" yaml:"store"`
	Queue   Queue   `json:"queue" yaml:"queue"`
	Loader  Loader  `json:"loader" yaml:"loader"`
	Janitor Janitor `json:"janitor" yaml:"janitor"`
	Worker  Worker  `json:"worker" yaml:"worker"`
}

func (e Engine) Validate() error {
	var errs []string

	if e.Store.DatabaseURL == "" {
		errs = append(errs, "store.databaseUrl cannot be blank")
	}
	if e.Queue.RedisURL == "" {
		errs = append(errs, "queue.redisUrl cannot be blank")
	}
	if e.Queue.Name == "" {
		errs = append(errs, "queue.name cannot be blank")
	}
	if e.Loader.BatchSize < 1 {
		errs = append(errs, "loader.batchSize must be greater than or equal to 1")
	}
	if e.Loader.SyncInterval <= 0 {
		errs = append(errs, "loader.syncInterval must be positive")
	}
	if e.Janitor.BatchSize < 1 {
		errs = append(errs, "janitor.batchSize must be greater than or equal to 1")
	}
	if e.Janitor.MaxProcessLimit < e.Janitor.BatchSize {
		errs = append(errs, "janitor.maxProcessLimit must be greater than or equal to janitor.batchSize")
	}
	if e.Worker.PollInterval <= 0 {
		errs = append(errs, "worker.pollInterval must be positive")
	}
	if e.Worker.MockSuccessRate < 0 || e.Worker.MockSuccessRate > 1 {
		errs = append(errs, "worker.mockSuccessRate must be between 0 and 1")
	}

	if len(errs) != 0 {
		return fmt.Errorf("config is invalid: %s", strings.Join(errs, ", "))
	}

	return nil
}

type Logging struct {
	Encoder         string `json:"encoder" yaml:"encoder"`
	LogLevel        string `json:"level" yaml:"level"`
	StacktraceLevel string `json:"stacktraceLevel" yaml:"stacktraceLevel"`
}

// Store connection parameters for the transactional state backend.
type Store struct {
	DatabaseURL string `json:"databaseUrl" yaml:"databaseUrl"`
}

func (s Store) MarshalJSON() ([]byte, error) {
	type alias Store
	redacted := alias(s)

	if u, err := url.Parse(redacted.DatabaseURL); err == nil {
		redacted.DatabaseURL = u.Redacted()
	}
	return json.Marshal(redacted)
}

// Queue parameters for the worker payload FIFO.
type Queue struct {
	RedisURL string `json:"redisUrl" yaml:"redisUrl"`
	// Name of the list holding worker payloads.
	Name string `json:"name" yaml:"name"`
	// PopTimeout bounds each blocking pop before the dispenser reports empty.
	PopTimeout time.Duration `json:"popTimeout" yaml:"popTimeout"`
}

type Loader struct {
	// BatchSize is the number of pending tasks claimed per sync pass.
	BatchSize int `json:"batchSize" yaml:"batchSize"`
	// SyncInterval is the idle wait between sync passes that found no work.
	SyncInterval time.Duration `json:"syncInterval" yaml:"syncInterval"`
}

type Janitor struct {
	// BatchSize caps the rows claimed per sweep iteration.
	BatchSize int `json:"batchSize" yaml:"batchSize"`
	// MaxProcessLimit caps the total rows handled in one sweep.
	MaxProcessLimit int `json:"maxProcessLimit" yaml:"maxProcessLimit"`
	// SweepInterval controls how often RunOnce fires in the long-running command.
	SweepInterval time.Duration `json:"sweepInterval" yaml:"sweepInterval"`
}

type Worker struct {
	// Adapter names the vendor adapter loaded from the factory registry.
	Adapter string `json:"adapter" yaml:"adapter"`
	// PollInterval is the sleep applied after an empty dispenser poll.
	PollInterval time.Duration `json:"pollInterval" yaml:"pollInterval"`
	// MockSuccessRate is consumed by the mock adapter only.
	MockSuccessRate float64 `json:"mockSuccessRate" yaml:"mockSuccessRate"`
}

// Defaults returns an Engine populated with every non-required setting.
func Defaults() Engine {
	return Engine{
		Queue: Queue{
			RedisURL:   "redis://localhost:6379/0",
			Name:       "creep:tasks",
			PopTimeout: 5 * time.Second,
		},
		Loader:  Loader{BatchSize: 1, SyncInterval: time.Second},
		Janitor: Janitor{BatchSize: 100, MaxProcessLimit: 1000, SweepInterval: 30 * time.Second},
		Worker: Worker{
			Adapter:         "mock",
			PollInterval:    time.Second,
			MockSuccessRate: 0.8,
		},
	}
}

func LoadFromFile(filename string) (Engine, error) {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return Engine{}, err
	}

	cfg := Defaults()
	switch ext := filepath.Ext(filename); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(bs, &cfg)
	case ".json":
		err = json.Unmarshal(bs, &cfg)
	default:
		return Engine{}, fmt.Errorf("file extension %q is not allowed", ext)
	}

	return cfg, err
}

// PrefixedEnv collects environment variables beginning with prefix into a map,
// stripping the prefix and lowercasing the remainder of each key.
func PrefixedEnv(prefix string) map[string]string {
	normalized := strings.ToUpper(prefix)

	out := map[string]string{}
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, normalized) {
			continue
		}
		out[strings.ToLower(strings.TrimPrefix(key, normalized))] = value
	}

	return out
}

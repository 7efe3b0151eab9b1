// Package config loads habitsync's YAML configuration and validates it
// against an embedded CUE schema.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/habitsync/internal/mutation"
	"github.com/roach88/habitsync/internal/retry"
	"github.com/roach88/habitsync/internal/store"
)

//go:embed schema.cue
var schemaSource string

// Config is the full process configuration. Durations are milliseconds.
type Config struct {
	Database       string            `yaml:"database" json:"database"`
	Listen         string            `yaml:"listen" json:"listen"`
	Endpoint       Endpoint          `yaml:"endpoint" json:"endpoint"`
	Retry          Retry             `yaml:"retry" json:"retry"`
	Probe          Probe             `yaml:"probe" json:"probe"`
	Bridge         Bridge            `yaml:"bridge" json:"bridge"`
	PayloadSchemas map[string]string `yaml:"payload_schemas" json:"payload_schemas,omitempty"`

	// dir is the directory of the loaded file; relative schema paths
	// resolve against it.
	dir string
}

// Endpoint is the server that receives delivered mutations.
type Endpoint struct {
	BaseURL   string `yaml:"base_url" json:"base_url"`
	TimeoutMS int    `yaml:"timeout_ms" json:"timeout_ms"`
}

// Retry mirrors retry.Policy.
type Retry struct {
	Ceiling  int   `yaml:"ceiling" json:"ceiling"`
	DelaysMS []int `yaml:"delays_ms" json:"delays_ms"`
}

// Probe configures the connectivity prober. An empty URL disables it.
type Probe struct {
	URL        string `yaml:"url" json:"url"`
	IntervalMS int    `yaml:"interval_ms" json:"interval_ms"`
}

// Bridge configures the background worker.
type Bridge struct {
	IntervalMS int    `yaml:"interval_ms" json:"interval_ms"`
	SignalFile string `yaml:"signal_file" json:"signal_file"`
}

// Default returns the built-in configuration.
func Default() Config {
	delays := make([]int, len(retry.DefaultDelays))
	for i, d := range retry.DefaultDelays {
		delays[i] = int(d / time.Millisecond)
	}
	return Config{
		Database: "habitsync.db",
		Listen:   "127.0.0.1:8787",
		Endpoint: Endpoint{TimeoutMS: 10000},
		Retry:    Retry{Ceiling: retry.DefaultCeiling, DelaysMS: delays},
		Probe:    Probe{IntervalMS: 15000},
		Bridge:   Bridge{IntervalMS: 30000},
	}
}

// Load reads path over the defaults and validates the result. An empty
// path returns the validated defaults.
// Unknown keys are rejected so typos surface instead of being ignored.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, Validate(cfg)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	cfg.dir = filepath.Dir(path)

	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// ValidationError is one schema violation.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every violation found (not fail-fast).
type ValidationErrors []ValidationError

func (es ValidationErrors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks cfg against the CUE schema, then the cross-field rules
// the schema cannot express.
func Validate(cfg Config) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(cfg))

	var errs ValidationErrors
	if err := v.Validate(cue.Concrete(true)); err != nil {
		for _, e := range cueerrors.Errors(err) {
			format, args := e.Msg()
			errs = append(errs, ValidationError{
				Field:   strings.Join(e.Path(), "."),
				Message: fmt.Sprintf(format, args...),
			})
		}
	}
	if err := cfg.RetryPolicy().Validate(); err != nil {
		errs = append(errs, ValidationError{Field: "retry", Message: err.Error()})
	}

	if len(errs) > 0 {
		sort.SliceStable(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
		return errs
	}
	return nil
}

// RetryPolicy converts the retry section.
func (c Config) RetryPolicy() retry.Policy {
	delays := make([]time.Duration, len(c.Retry.DelaysMS))
	for i, ms := range c.Retry.DelaysMS {
		delays[i] = time.Duration(ms) * time.Millisecond
	}
	return retry.Policy{Ceiling: c.Retry.Ceiling, Delays: delays}
}

// EndpointTimeout is the per-attempt delivery timeout.
func (c Config) EndpointTimeout() time.Duration {
	return time.Duration(c.Endpoint.TimeoutMS) * time.Millisecond
}

// ProbeInterval is the pause between connectivity probes.
func (c Config) ProbeInterval() time.Duration {
	return time.Duration(c.Probe.IntervalMS) * time.Millisecond
}

// BridgeInterval is the pause between background batches.
func (c Config) BridgeInterval() time.Duration {
	return time.Duration(c.Bridge.IntervalMS) * time.Millisecond
}

// SignalPath is where the bridge writes batch signals for the foreground.
// It defaults to a file next to a SQLite database; Postgres deployments
// must set it explicitly, otherwise it is empty and signals are dropped.
func (c Config) SignalPath() string {
	if c.Bridge.SignalFile != "" {
		return c.Bridge.SignalFile
	}
	if store.DialectFor(c.Database) != store.DialectSQLite {
		return ""
	}
	return c.Database + ".signal"
}

// LockPath is the file held by the foreground coordinator. Empty for
// Postgres, where there is no local database file to sit beside.
func (c Config) LockPath() string {
	if store.DialectFor(c.Database) != store.DialectSQLite {
		return ""
	}
	return c.Database + ".lock"
}

// Schemas loads the configured per-kind payload schemas. Returns nil when
// none are configured.
func (c Config) Schemas() (*mutation.SchemaRegistry, error) {
	if len(c.PayloadSchemas) == 0 {
		return nil, nil
	}

	kinds := make([]string, 0, len(c.PayloadSchemas))
	for k := range c.PayloadSchemas {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	reg := mutation.NewSchemaRegistry()
	for _, k := range kinds {
		path := c.PayloadSchemas[k]
		if !filepath.IsAbs(path) && c.dir != "" {
			path = filepath.Join(c.dir, path)
		}
		if err := reg.RegisterFile(mutation.NormalizeKind(k), path); err != nil {
			return nil, fmt.Errorf("payload schema for kind %q: %w", k, err)
		}
	}
	return reg, nil
}

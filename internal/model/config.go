package model

import (
	"io"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	ServiceModeManual = "manual"
	ServiceModeServe  = "serve"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}
	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

type Config struct {
	Version int     `json:"version" yaml:"version"` // fixed 0 for now
	Service Service `json:"service" yaml:"service"`
	Tools   Tools   `json:"tools" yaml:"tools"`
}

// Service level settings: serve runs the HTTP front-end, manual is the
// oneshot CLI mode.
type Service struct {
	Mode      string     `json:"mode" yaml:"mode"`     // "serve" | "manual"
	Listen    string     `json:"listen" yaml:"listen"` // serve mode bind address
	Verbose   *bool      `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	HistoryDB *string    `json:"history_db,omitempty" yaml:"history_db,omitempty"` // sqlite journal of terminal jobs
	Retention *Retention `json:"retention,omitempty" yaml:"retention,omitempty"`   // terminal job eviction
}

// Retention configures the janitor sweeping old terminal jobs.
type Retention struct {
	Cron   string `json:"cron" yaml:"cron"`       // 5 field cron expression or @macro
	MaxAge string `json:"max_age" yaml:"max_age"` // Go duration, e.g. "24h"
}

// Tools configures one entry per analysis kind. A missing entry means
// defaults, enabled.
type Tools struct {
	Lint           *Tool `json:"lint,omitempty" yaml:"lint,omitempty"`
	StaticAnalysis *Tool `json:"static_analysis,omitempty" yaml:"static_analysis,omitempty"`
	BasedPyright   *Tool `json:"basedpyright,omitempty" yaml:"basedpyright,omitempty"`
}

// Tool is per analysis binary tuning.
type Tool struct {
	Enabled     *bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Binary      *string `json:"binary,omitempty" yaml:"binary,omitempty"`             // path or name, default per tool
	Timeout     *string `json:"timeout,omitempty" yaml:"timeout,omitempty"`           // Go duration, default 30s
	MaxAttempts *int    `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"` // default 3
	AutoInstall *bool   `json:"autoinstall,omitempty" yaml:"autoinstall,omitempty"`   // pip bootstrap when missing
}

const (
	DefaultToolTimeout = 30 * time.Second
	DefaultMaxAttempts = 3
)

// DefaultConfig is written on the first run when no config file exists.
func DefaultConfig() Config {
	return Config{
		Version: 0,
		Service: Service{
			Mode:   ServiceModeServe,
			Listen: ":8675",
		},
	}
}

// LoadConfig validates YAML from r against the embedded CUE schema and
// decodes it into Config.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("mallard.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}
	return out, nil
}

// Get dereferences an optional config field.
func Get[T any](pt *T) T {
	var zero T
	if pt == nil {
		return zero
	}
	return *pt
}

package model

import (
	"fmt"
	"io"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"
	"github.com/spf13/viper"
	yamlv3 "gopkg.in/yaml.v3"

	_ "embed"
)

const (
	LogFormatJSON = "json"
	LogFormatText = "text"
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
	Version   int       `json:"version" yaml:"version"`
	Service   Service   `json:"service" yaml:"service"`
	Tool      Tool      `json:"tool" yaml:"tool"`
	Retention Retention `json:"retention" yaml:"retention"`
}

// Service configures the HTTP front end and logging.
type Service struct {
	Verbose   bool      `json:"verbose" yaml:"verbose"`
	LogFormat string    `json:"log_format" yaml:"log_format"` // "json" | "text"
	Listen    string    `json:"listen" yaml:"listen"`
	RateLimit RateLimit `json:"rate_limit" yaml:"rate_limit"`
}

// RateLimit is the per client token bucket of the API.
type RateLimit struct {
	RPS   float64 `json:"rps" yaml:"rps"`
	Burst int     `json:"burst" yaml:"burst"`
}

// Tool describes how gh-repo-stats is executed.
type Tool struct {
	Path        string            `json:"path" yaml:"path"`
	Args        []string          `json:"args" yaml:"args"` // prepended to the generated arguments
	Env         map[string]string `json:"env" yaml:"env"`
	Timeout     string            `json:"timeout" yaml:"timeout"`           // empty means no timeout
	GracePeriod string            `json:"grace_period" yaml:"grace_period"` // between terminate and kill
	WorkDir     string            `json:"work_dir" yaml:"work_dir"`         // parent of per job temp dirs
}

// Retention drops finished jobs from memory. Disabled by default.
type Retention struct {
	Enabled  bool     `json:"enabled" yaml:"enabled"`
	MaxAge   string   `json:"max_age" yaml:"max_age"`
	Schedule Schedule `json:"schedule" yaml:"schedule"`
}

// Schedule is either a cron expression or an ISO 8601 duration, cron wins.
type Schedule struct {
	Cron     string `json:"cron" yaml:"cron"`
	Duration string `json:"duration" yaml:"duration"`
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
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

// DefaultConfig is the configuration of an empty document.
func DefaultConfig() Config {
	cfg, err := LoadConfig(strings.NewReader("{}"))
	if err != nil {
		panic(err)
	}
	return cfg
}

type envKey struct {
	key string
	get func(v *viper.Viper, key string) any
}

func getString(v *viper.Viper, key string) any  { return v.GetString(key) }
func getBool(v *viper.Viper, key string) any    { return v.GetBool(key) }
func getInt(v *viper.Viper, key string) any     { return v.GetInt(key) }
func getFloat64(v *viper.Viper, key string) any { return v.GetFloat64(key) }

// envKeys can be overridden from the environment, environment values are
// strings so they get converted before the schema sees them.
var envKeys = []envKey{
	{"service.verbose", getBool},
	{"service.log_format", getString},
	{"service.listen", getString},
	{"service.rate_limit.rps", getFloat64},
	{"service.rate_limit.burst", getInt},
	{"tool.path", getString},
	{"tool.timeout", getString},
	{"tool.grace_period", getString},
	{"tool.work_dir", getString},
	{"retention.enabled", getBool},
	{"retention.max_age", getString},
	{"retention.schedule.cron", getString},
	{"retention.schedule.duration", getString},
}

// BindEnv makes every overridable key visible to v, so AllSettings reports
// environment values even when the config file does not mention the key.
func BindEnv(v *viper.Viper) error {
	for _, k := range envKeys {
		if err := v.BindEnv(k.key); err != nil {
			return fmt.Errorf("binding %s: %w", k.key, err)
		}
	}
	return nil
}

// Load runs the merged viper settings through the CUE schema.
func Load(v *viper.Viper) (Config, error) {
	settings := v.AllSettings()
	for _, k := range envKeys {
		if !v.IsSet(k.key) {
			continue
		}
		setNested(settings, strings.Split(k.key, "."), k.get(v, k.key))
	}

	b, err := yamlv3.Marshal(settings)
	if err != nil {
		return Config{}, fmt.Errorf("marshaling settings: %w", err)
	}
	return LoadConfig(strings.NewReader(string(b)))
}

func setNested(m map[string]any, path []string, value any) {
	for _, p := range path[:len(path)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[p] = next
		}
		m = next
	}
	m[path[len(path)-1]] = value
}

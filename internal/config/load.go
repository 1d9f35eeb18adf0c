package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. POLICYOPT_OPTIMIZER or
// POLICYOPT_PARAMS_STEPSIZE.
const EnvPrefix = "POLICYOPT"

// NewViper returns a viper instance with every Job key bound to its
// environment variable. Callers may bind flags on top of it.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range keys(reflect.TypeOf(Job{}), "") {
		_ = v.BindEnv(key)
	}
	return v
}

// Load reads a YAML, JSON or TOML job file (by extension) on top of
// Defaults. An empty path reads only the environment. The result is not
// validated.
func Load(path string) (Job, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Job{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	return Decode(v)
}

// Decode unmarshals the settings held by v on top of Defaults.
func Decode(v *viper.Viper) (Job, error) {
	job := Defaults()
	if err := v.Unmarshal(&job); err != nil {
		return Job{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return job, nil
}

// keys walks the mapstructure tags of t, nesting struct fields with dots.
func keys(t reflect.Type, prefix string) []string {
	var out []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := strings.Split(f.Tag.Get("mapstructure"), ",")[0]
		if name == "" {
			name = f.Name
		}
		key := strings.ToLower(prefix + name)
		if f.Type.Kind() == reflect.Struct {
			out = append(out, keys(f.Type, key+".")...)
			continue
		}
		out = append(out, key)
	}
	return out
}

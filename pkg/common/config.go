package common

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	jsonparser "github.com/knadh/koanf/parsers/json"
	yamlparser "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

//go:embed config.default.yaml
var defaultConfig []byte

const (
	ConfigPathEnv   = "CONFIG_PATH"
	ConfigEnvPrefix = "CONCEPTSTORE_"
)

// ConfigManager layers the embedded defaults, an optional config file and
// CONCEPTSTORE_* environment variables, in that order.
type ConfigManager[T any] struct {
	kf *koanf.Koanf
}

func NewConfigManager[T any]() (*ConfigManager[T], error) {
	cm := &ConfigManager[T]{kf: koanf.New(".")}

	if err := cm.kf.Load(rawbytes.Provider(defaultConfig), yamlparser.Parser()); err != nil {
		return nil, fmt.Errorf("load default config: %w", err)
	}

	if path := os.Getenv(ConfigPathEnv); path != "" {
		if err := cm.LoadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cm.loadEnv(os.Environ()); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}

	return cm, nil
}

// LoadFile merges a JSON or YAML file over the current configuration
func (cm *ConfigManager[T]) LoadFile(path string) error {
	var parser koanf.Parser = yamlparser.Parser()
	if strings.EqualFold(filepath.Ext(path), ".json") {
		parser = jsonparser.Parser()
	}

	if err := cm.kf.Load(file.Provider(path), parser); err != nil {
		return fmt.Errorf("load config file %s: %w", path, err)
	}
	return nil
}

// loadEnv maps CONCEPTSTORE_GATEWAY_HTTP_PORT onto gateway.http.port.
// Segments match existing keys case-insensitively so camelCase keys can
// be set from upper-case variable names.
func (cm *ConfigManager[T]) loadEnv(environ []string) error {
	known := make(map[string]string)
	for _, key := range cm.kf.Keys() {
		known[strings.ToLower(key)] = key
	}

	overrides := make(map[string]interface{})
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, ConfigEnvPrefix) {
			continue
		}

		path := strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(name, ConfigEnvPrefix), "_", "."))
		if path == "" {
			continue
		}
		if key, ok := known[path]; ok {
			path = key
		}

		setNested(overrides, strings.Split(path, "."), value)
	}

	if len(overrides) == 0 {
		return nil
	}

	raw, err := json.Marshal(overrides)
	if err != nil {
		return err
	}
	return cm.kf.Load(rawbytes.Provider(raw), jsonparser.Parser())
}

func setNested(m map[string]interface{}, parts []string, value string) {
	for _, part := range parts[:len(parts)-1] {
		next, ok := m[part].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			m[part] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = value
}

func (cm *ConfigManager[T]) GetConfig() T {
	var config T
	if err := cm.Unmarshal("", &config); err != nil {
		panic(fmt.Sprintf("unable to decode config: %v", err))
	}
	return config
}

func (cm *ConfigManager[T]) Unmarshal(path string, out interface{}) error {
	return cm.kf.UnmarshalWithConf(path, out, koanf.UnmarshalConf{
		Tag: "key",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           out,
			TagName:          "key",
			WeaklyTypedInput: true,
		},
	})
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"bankload/internal/scenario"
	"bankload/internal/sink"

	"gopkg.in/yaml.v3"
)

// FileConfig は設定ファイルの構造
type FileConfig struct {
	Scenario ScenarioConfig `yaml:"scenario" json:"scenario"`
	Sink     SinkConfig     `yaml:"sink" json:"sink"`
}

// ScenarioConfig はシナリオ設定
type ScenarioConfig struct {
	Name           string  `yaml:"name" json:"name"`
	Description    string  `yaml:"description" json:"description"`
	Host           string  `yaml:"host" json:"host"`
	Duration       string  `yaml:"duration" json:"duration"`
	Users          int     `yaml:"users" json:"users"`
	SpawnRate      float64 `yaml:"spawn_rate" json:"spawn_rate"`
	RequestTimeout string  `yaml:"request_timeout" json:"request_timeout"`
	Seed           uint64  `yaml:"seed" json:"seed"`

	Classes []ClassConfig  `yaml:"classes" json:"classes"`
	Actions map[string]int `yaml:"actions" json:"actions"`
}

// ClassConfig はクライアントクラス設定
type ClassConfig struct {
	Name    string `yaml:"name" json:"name"`
	Weight  int    `yaml:"weight" json:"weight"`
	WaitMin string `yaml:"wait_min" json:"wait_min"`
	WaitMax string `yaml:"wait_max" json:"wait_max"`
}

// SinkConfig は結果保存先の設定
type SinkConfig struct {
	RedisAddr string `yaml:"redis_addr" json:"redis_addr"`
	Password  string `yaml:"password" json:"password"`
	DB        int    `yaml:"db" json:"db"`
	Key       string `yaml:"key" json:"key"`
	Keep      int    `yaml:"keep" json:"keep"`
}

// LoadFile は設定ファイルを読み込む
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config FileConfig
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	return &config, nil
}

// ToScenarioConfig はFileConfigをscenario.Configに変換する
func (f *FileConfig) ToScenarioConfig() (scenario.Config, error) {
	sc := f.Scenario

	// デフォルト値の設定
	config := scenario.DefaultConfig()

	if sc.Name != "" {
		config.Name = sc.Name
	}
	if sc.Description != "" {
		config.Description = sc.Description
	}
	if sc.Host != "" {
		config.Host = sc.Host
	}
	if sc.Duration != "" {
		d, err := time.ParseDuration(sc.Duration)
		if err != nil {
			return config, fmt.Errorf("invalid duration: %w", err)
		}
		config.Duration = d
	}
	if sc.Users > 0 {
		config.Users = sc.Users
	}
	if sc.SpawnRate > 0 {
		config.SpawnRate = sc.SpawnRate
	}
	if sc.RequestTimeout != "" {
		d, err := time.ParseDuration(sc.RequestTimeout)
		if err != nil {
			return config, fmt.Errorf("invalid request_timeout: %w", err)
		}
		config.RequestTimeout = d
	}
	if sc.Seed != 0 {
		config.Seed = sc.Seed
	}

	// クラス設定
	if len(sc.Classes) > 0 {
		classes, err := parseClasses(sc.Classes)
		if err != nil {
			return config, err
		}
		config.Classes = classes
	}

	// アクション重み
	if len(sc.Actions) > 0 {
		config.ActionWeights = make(map[string]int, len(sc.Actions))
		for name, weight := range sc.Actions {
			config.ActionWeights[name] = weight
		}
	}

	return config, nil
}

// ToSinkConfig はRedis設定をsink.Configに変換する
// redis_addr が空なら保存しない
func (f *FileConfig) ToSinkConfig() (sink.Config, bool) {
	s := f.Sink
	if s.RedisAddr == "" {
		return sink.Config{}, false
	}

	config := sink.DefaultConfig()
	config.Addr = s.RedisAddr
	config.Password = s.Password
	config.DB = s.DB
	if s.Key != "" {
		config.Key = s.Key
	}
	if s.Keep > 0 {
		config.Keep = s.Keep
	}
	return config, true
}

// parseClasses はクラス設定をパースする
func parseClasses(classes []ClassConfig) ([]scenario.ClientClass, error) {
	var result []scenario.ClientClass

	for _, c := range classes {
		class := scenario.ClientClass{Name: c.Name, Weight: c.Weight}

		// 既知のクラス名は待機時間の省略を許す
		switch c.Name {
		case scenario.RegularUser().Name:
			base := scenario.RegularUser()
			class.WaitMin, class.WaitMax = base.WaitMin, base.WaitMax
		case scenario.PowerUser().Name:
			base := scenario.PowerUser()
			class.WaitMin, class.WaitMax = base.WaitMin, base.WaitMax
		}

		if c.WaitMin != "" {
			d, err := time.ParseDuration(c.WaitMin)
			if err != nil {
				return nil, fmt.Errorf("class %s: invalid wait_min: %w", c.Name, err)
			}
			class.WaitMin = d
		}
		if c.WaitMax != "" {
			d, err := time.ParseDuration(c.WaitMax)
			if err != nil {
				return nil, fmt.Errorf("class %s: invalid wait_max: %w", c.Name, err)
			}
			class.WaitMax = d
		}

		if err := class.Validate(); err != nil {
			return nil, err
		}
		result = append(result, class)
	}

	return result, nil
}

// Validate は設定を検証する
func (f *FileConfig) Validate() error {
	sc := f.Scenario

	if sc.Users < 0 {
		return fmt.Errorf("users must be non-negative")
	}

	if sc.SpawnRate < 0 {
		return fmt.Errorf("spawn_rate must be non-negative")
	}

	for i, c := range sc.Classes {
		if c.Name == "" {
			return fmt.Errorf("classes[%d].name is required", i)
		}
		if c.Weight < 0 {
			return fmt.Errorf("classes[%d].weight must be non-negative", i)
		}
	}

	known := scenario.ActionNames()
	for name, weight := range sc.Actions {
		if !slices.Contains(known, name) {
			return fmt.Errorf("unknown action: %s", name)
		}
		if weight < 0 {
			return fmt.Errorf("actions.%s must be non-negative", name)
		}
	}

	if f.Sink.Keep < 0 {
		return fmt.Errorf("sink.keep must be non-negative")
	}

	return nil
}

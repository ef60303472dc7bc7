package scenario

import (
	"time"
)

// SmokeScenario は疎通確認用のシナリオを返す
// 1ユーザーのみ、短時間
func SmokeScenario() Config {
	return Config{
		Name:           "smoke",
		Description:    "Single user sanity check of every endpoint",
		Host:           "http://localhost:8080",
		Duration:       15 * time.Second,
		Users:          1,
		SpawnRate:      1,
		RequestTimeout: 10 * time.Second,
		Classes:        DefaultClasses(),
	}
}

// BaselineScenario は通常負荷のシナリオを返す
func BaselineScenario() Config {
	return Config{
		Name:           "baseline",
		Description:    "Steady load with regular and power users",
		Host:           "http://localhost:8080",
		Duration:       2 * time.Minute,
		Users:          50,
		SpawnRate:      5,
		RequestTimeout: 10 * time.Second,
		Classes:        DefaultClasses(),
	}
}

// StressScenario は高負荷シナリオを返す
// 多数のユーザーを短時間で起動する
func StressScenario() Config {
	return Config{
		Name:           "stress",
		Description:    "High concurrency stress test",
		Host:           "http://localhost:8080",
		Duration:       5 * time.Minute,
		Users:          500,
		SpawnRate:      50,
		RequestTimeout: 15 * time.Second,
		Classes:        DefaultClasses(),
	}
}

// SoakScenario は長時間実行のシナリオを返す
func SoakScenario() Config {
	return Config{
		Name:           "soak",
		Description:    "Long running moderate load for leak detection",
		Host:           "http://localhost:8080",
		Duration:       1 * time.Hour,
		Users:          100,
		SpawnRate:      2,
		RequestTimeout: 10 * time.Second,
		Classes:        DefaultClasses(),
	}
}

// QuickScenario はクイックテスト用シナリオを返す
// 短時間での動作確認用
func QuickScenario() Config {
	return Config{
		Name:           "quick",
		Description:    "Quick test for verification",
		Host:           "http://localhost:8080",
		Duration:       30 * time.Second,
		Users:          10,
		SpawnRate:      5,
		RequestTimeout: 10 * time.Second,
		Classes:        DefaultClasses(),
	}
}

// GetPreset は名前からプリセットシナリオを取得する
func GetPreset(name string) (Config, bool) {
	presets := map[string]func() Config{
		"smoke":    SmokeScenario,
		"baseline": BaselineScenario,
		"stress":   StressScenario,
		"soak":     SoakScenario,
		"quick":    QuickScenario,
	}

	if fn, ok := presets[name]; ok {
		return fn(), true
	}
	return Config{}, false
}

// ListPresets は利用可能なプリセット名を返す
func ListPresets() []string {
	return []string{"smoke", "baseline", "stress", "soak", "quick"}
}

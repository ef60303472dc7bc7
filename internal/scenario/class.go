package scenario

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// ClientClass はクライアントの種類
// 違いは人口比の重みとアクション間の待機時間のみ
type ClientClass struct {
	Name    string        `json:"name"`
	Weight  int           `json:"weight"`
	WaitMin time.Duration `json:"wait_min"`
	WaitMax time.Duration `json:"wait_max"`
}

// RegularUser は通常ユーザー
func RegularUser() ClientClass {
	return ClientClass{
		Name:    "RegularUser",
		Weight:  10,
		WaitMin: 1 * time.Second,
		WaitMax: 3 * time.Second,
	}
}

// PowerUser は操作間隔の短いユーザー
func PowerUser() ClientClass {
	return ClientClass{
		Name:    "PowerUser",
		Weight:  3,
		WaitMin: 500 * time.Millisecond,
		WaitMax: 1500 * time.Millisecond,
	}
}

// DefaultClasses は標準の2クラスを返す
func DefaultClasses() []ClientClass {
	return []ClientClass{RegularUser(), PowerUser()}
}

// Validate はクラス定義を検証する
func (c ClientClass) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("class name is required")
	}
	if c.Weight < 0 {
		return fmt.Errorf("class %s: weight must be non-negative", c.Name)
	}
	if c.WaitMin < 0 || c.WaitMax < c.WaitMin {
		return fmt.Errorf("class %s: invalid wait range %v-%v", c.Name, c.WaitMin, c.WaitMax)
	}
	return nil
}

// Wait は待機範囲内の一様乱数を返す
func (c ClientClass) Wait(rng *rand.Rand) time.Duration {
	span := c.WaitMax - c.WaitMin
	if span <= 0 {
		return c.WaitMin
	}
	return c.WaitMin + time.Duration(rng.Int64N(int64(span)+1))
}

package scenario

import (
	"errors"
	"math/rand/v2"
	"sort"
)

// ErrNoWeight はすべての重みが0以下のときに返される
var ErrNoWeight = errors.New("no item has a positive weight")

// Picker は累積重みによる重み付きランダム選択を行う
// 構築後は読み取り専用で、複数のゴルーチンから共有できる
type Picker[T any] struct {
	items      []T
	cumulative []int
	total      int
}

// NewPicker は重み関数からPickerを作成する
// 重みが0以下の要素は選択対象から外す
func NewPicker[T any](items []T, weight func(T) int) (*Picker[T], error) {
	p := &Picker[T]{}
	for _, item := range items {
		w := weight(item)
		if w <= 0 {
			continue
		}
		p.total += w
		p.items = append(p.items, item)
		p.cumulative = append(p.cumulative, p.total)
	}
	if p.total == 0 {
		return nil, ErrNoWeight
	}
	return p, nil
}

// Pick は重みに比例した確率で1つ選ぶ
func (p *Picker[T]) Pick(rng *rand.Rand) T {
	n := rng.IntN(p.total)
	// cumulative[i] > n となる最初のi
	i := sort.SearchInts(p.cumulative, n+1)
	return p.items[i]
}

// Items は選択対象の要素を返す
func (p *Picker[T]) Items() []T {
	out := make([]T, len(p.items))
	copy(out, p.items)
	return out
}

// TotalWeight は重みの合計を返す
func (p *Picker[T]) TotalWeight() int {
	return p.total
}

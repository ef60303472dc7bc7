package events

import (
	"strings"
	"sync"
)

const defaultBufferSize = 100

// AllTypes はバスに流れる全イベントタイプ
var AllTypes = []EventType{
	EventRunStarted,
	EventRunCompleted,
	EventSessionStarted,
	EventSessionStopped,
	EventActionFailed,
}

// subscription は購読チャネルと受け取るタイプの組
// types が nil なら全タイプを受け取る
type subscription struct {
	ch    chan Event
	types map[EventType]struct{}
}

func (s subscription) wants(t EventType) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Bus はタイプ別に購読できるイベントバス
type Bus struct {
	mu          sync.RWMutex
	subscribers map[<-chan Event]subscription
	bufferSize  int
	closed      bool
}

// NewBus は新しいイベントバスを作成する
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[<-chan Event]subscription),
		bufferSize:  defaultBufferSize,
	}
}

// Subscribe は指定タイプのイベントを受け取るチャネルを返す
// 引数なしなら全イベント、空スライスを展開して渡すと何も受け取らない
// Close 済みのバスでは閉じたチャネルを返す
func (b *Bus) Subscribe(types ...EventType) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	if b.closed {
		close(ch)
		return ch
	}

	sub := subscription{ch: ch}
	if types != nil {
		sub.types = make(map[EventType]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}
	b.subscribers[ch] = sub
	return ch
}

// Unsubscribe は購読を解除してチャネルを閉じる
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(sub.ch)
	}
}

// Publish は対象タイプを購読している全チャネルへ送る
// バッファが埋まっている購読者には届けずに捨てる
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if !sub.wants(event.Type) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
}

// SubscriberCount は現在の購読者数を返す
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close は全購読チャネルを閉じ、以降の Subscribe を無効にする
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for ch, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, ch)
	}
}

// ExcludeTypes は excluded を除いたタイプ一覧を返す
// 名前の大文字小文字は区別しない。未知の名前は無視する
func ExcludeTypes(excluded []string) []EventType {
	if len(excluded) == 0 {
		return nil
	}

	skip := make(map[EventType]struct{}, len(excluded))
	for _, name := range excluded {
		for _, part := range strings.Split(name, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part != "" {
				skip[EventType(part)] = struct{}{}
			}
		}
	}

	types := make([]EventType, 0, len(AllTypes))
	for _, t := range AllTypes {
		if _, ok := skip[t]; !ok {
			types = append(types, t)
		}
	}
	return types
}

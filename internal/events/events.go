// Package events は実行とセッションの通知を配信するイベント機構を提供する
package events

import "time"

// EventType はイベントの種類
type EventType string

const (
	// EventRunStarted はユーザー起動開始時に発行される
	EventRunStarted EventType = "run_started"
	// EventRunCompleted は実行が止まり結果が確定した時に発行される
	EventRunCompleted EventType = "run_completed"
	// EventSessionStarted はユーザーが登録とログインを終えた時に発行される
	EventSessionStarted EventType = "session_started"
	// EventSessionStopped はユーザーが実行から離脱した時に発行される
	EventSessionStopped EventType = "session_stopped"
	// EventActionFailed は記録したリクエストが失敗と判定された時に発行される
	EventActionFailed EventType = "action_failed"
)

// StopReason はセッションが離脱した理由
type StopReason string

const (
	// StopReasonAborted は登録またはログインの失敗
	StopReasonAborted StopReason = "aborted"
	// StopReasonFinished は実行終了による離脱
	StopReasonFinished StopReason = "finished"
)

// Event は実行またはセッションのイベント
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id,omitempty"`
	Data      EventData `json:"data,omitempty"`
}

// EventData はイベント固有のデータ
type EventData struct {
	Scenario string     `json:"scenario,omitempty"`
	Users    int        `json:"users,omitempty"`
	Class    string     `json:"class,omitempty"`
	Action   string     `json:"action,omitempty"`
	Status   int        `json:"status,omitempty"`
	Reason   StopReason `json:"reason,omitempty"`
	Duration string     `json:"duration,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// NewRunStartedEvent は実行開始イベントを作成する
func NewRunStartedEvent(scenario string, users int) Event {
	return Event{
		Type:      EventRunStarted,
		Timestamp: time.Now(),
		Data: EventData{
			Scenario: scenario,
			Users:    users,
		},
	}
}

// NewRunCompletedEvent は実行完了イベントを作成する
func NewRunCompletedEvent(scenario string, elapsed time.Duration) Event {
	return Event{
		Type:      EventRunCompleted,
		Timestamp: time.Now(),
		Data: EventData{
			Scenario: scenario,
			Duration: elapsed.String(),
		},
	}
}

// NewSessionStartedEvent はセッション開始イベントを作成する
func NewSessionStartedEvent(sessionID, class string) Event {
	return Event{
		Type:      EventSessionStarted,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data: EventData{
			Class: class,
		},
	}
}

// NewSessionStoppedEvent はセッション離脱イベントを作成する
func NewSessionStoppedEvent(sessionID string, reason StopReason, err error) Event {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	return Event{
		Type:      EventSessionStopped,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data: EventData{
			Reason: reason,
			Error:  errMsg,
		},
	}
}

// NewActionFailedEvent はアクション失敗イベントを作成する
// status 0 は応答なしを表す
func NewActionFailedEvent(sessionID, action string, status int, err error) Event {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	return Event{
		Type:      EventActionFailed,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data: EventData{
			Action: action,
			Status: status,
			Error:  errMsg,
		},
	}
}

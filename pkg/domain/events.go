package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventPageEnter      EventType = "page_enter"
	EventPageDiscovered EventType = "page_discovered"
	EventAction         EventType = "action"
	EventEdgeDemoted    EventType = "edge_demoted"
	EventRecovery       EventType = "recovery"
)

// Recovery outcomes reported in RecoveryEvent.Outcome.
const (
	RecoveryParent   = "parent"
	RecoveryAncestor = "ancestor_replay"
	RecoveryRestart  = "restart_replay"
	RecoveryAbandon  = "abandoned"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
}

// PageEvent reports entering or discovering a page.
type PageEvent struct {
	EventBase
	PageIndex int    `json:"page_index"`
	Container string `json:"container"`
	Depth     int    `json:"depth"`
}

// ActionEvent reports one dispatched gesture.
type ActionEvent struct {
	EventBase
	PageIndex int           `json:"page_index"`
	EdgeIndex int           `json:"edge_index"`
	Action    ActionKind    `json:"action"`
	Duration  time.Duration `json:"duration"`
	IsError   bool          `json:"is_error,omitempty"`
}

// RecoveryEvent reports how the explorer got back to a page.
type RecoveryEvent struct {
	EventBase
	PageIndex int    `json:"page_index"`
	Outcome   string `json:"outcome"`
	Attempts  int    `json:"attempts"`
}

// LifecycleHooks defines callbacks for exploration observability.
// Hooks run on the explorer goroutine and must not block.
type LifecycleHooks struct {
	OnPageEnter      func(context.Context, *PageEvent)
	OnPageDiscovered func(context.Context, *PageEvent)
	OnAction         func(context.Context, *ActionEvent)
	OnEdgeDemoted    func(context.Context, *ActionEvent)
	OnRecovery       func(context.Context, *RecoveryEvent)
}

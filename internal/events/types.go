package events

import "time"

// Event enumerates high-level topics inside the bot.
type Event string

const (
	EventPriceTick      Event = "price_tick"
	EventSignal         Event = "signal"
	EventPositionOpened Event = "position.opened"
	EventPositionClosed Event = "position.closed"
	EventReconciled     Event = "reconciled"
	EventBotState       Event = "bot.state"
)

// PriceTick is the payload for EventPriceTick.
type PriceTick struct {
	Asset string    `json:"asset"`
	Price float64   `json:"price"`
	Time  time.Time `json:"time"`
}

// PositionOpened is the payload for EventPositionOpened.
type PositionOpened struct {
	Asset       string  `json:"asset"`
	Side        string  `json:"side"`
	Size        float64 `json:"size"`
	EntryPrice  float64 `json:"entry_price"`
	CapitalUsed float64 `json:"capital_used"`
}

// PositionClosed is the payload for EventPositionClosed.
type PositionClosed struct {
	Asset       string  `json:"asset"`
	Side        string  `json:"side"`
	Size        float64 `json:"size"`
	ExitPrice   float64 `json:"exit_price"`
	RealizedPnL float64 `json:"realized_pnl"`
	PnLPct      float64 `json:"pnl_pct"`
	Reason      string  `json:"reason"`
}

// StateChange is the payload for EventBotState.
type StateChange struct {
	Running bool   `json:"running"`
	State   string `json:"state"`
}

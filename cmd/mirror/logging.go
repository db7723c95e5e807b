package main

import (
	"log"

	"poly-mirror/internal/jsonl"
)

type mirrorLogEvent struct {
	TsMs  int64  `json:"ts_ms"`
	Event string `json:"event"`

	Mode   string `json:"mode,omitempty"` // dry | live
	Target string `json:"target,omitempty"`

	CopyRatio         float64 `json:"copy_ratio,omitempty"`
	RetryLimit        int     `json:"retry_limit,omitempty"`
	OrderTimeoutSec   int     `json:"order_timeout_sec,omitempty"`
	PriceIncrementPct float64 `json:"price_increment_pct,omitempty"`

	// Observed settlement reference.
	TxHash string `json:"tx_hash,omitempty"`
	Block  uint64 `json:"block,omitempty"`

	// Copy order.
	TokenID string  `json:"token_id,omitempty"`
	Side    string  `json:"side,omitempty"`
	Price   float64 `json:"price,omitempty"`
	Size    float64 `json:"size,omitempty"`

	// Execution result.
	Status     string  `json:"status,omitempty"`
	Attempts   int     `json:"attempts,omitempty"`
	FinalPrice float64 `json:"final_price,omitempty"`
	OrderID    string  `json:"order_id,omitempty"`

	Reason string `json:"reason,omitempty"`
	Err    string `json:"err,omitempty"`

	UptimeMs int64 `json:"uptime_ms,omitempty"`
}

func mirrorMode(enableTrading bool) string {
	if enableTrading {
		return "live"
	}
	return "dry"
}

func logMirrorEvent(w *jsonl.Writer, ev mirrorLogEvent) {
	if w == nil {
		return
	}
	if err := w.Write(ev); err != nil {
		log.Printf("[warn] trade log write failed: %v", err)
	}
}

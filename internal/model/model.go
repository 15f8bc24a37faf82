// Package model содержит доменные сущности реестра наград.
package model

import "time"

// LedgerState описывает полное состояние кастодиального реестра.
type LedgerState struct {
	OwnerAddress   string
	Paused         bool
	MinAmount      int64
	MaxAmount      int64
	Balance        int64
	TotalDeposited int64
	TotalDisbursed int64
	TotalWithdrawn int64
}

// RewardRecord описывает факт выплаты награды за одну активность.
// Запись создаётся один раз и никогда не изменяется.
type RewardRecord struct {
	RewardID    string
	Recipient   string
	ActivityID  string
	Amount      int64
	ProcessedAt time.Time
}

// UserStats содержит агрегированную статистику наград получателя.
type UserStats struct {
	TotalRewards int64 `json:"total_rewards"`
	RewardCount  int64 `json:"reward_count"`
}

// LedgerStats содержит баланс реестра и накопительные счётчики.
type LedgerStats struct {
	Balance        int64 `json:"balance"`
	TotalDeposited int64 `json:"total_deposited"`
	TotalDisbursed int64 `json:"total_disbursed"`
	TotalWithdrawn int64 `json:"total_withdrawn"`
}

// BatchEntry описывает один элемент пакетной выплаты.
type BatchEntry struct {
	Recipient  string
	Amount     int64
	ActivityID string
}

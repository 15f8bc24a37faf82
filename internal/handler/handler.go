// Package handler содержит HTTP-обработчики API реестра наград.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ntroshkin/rewardledger-system/internal/middleware"
	"github.com/ntroshkin/rewardledger-system/internal/model"
	"github.com/ntroshkin/rewardledger-system/internal/repository"
	"github.com/ntroshkin/rewardledger-system/internal/service"
	"github.com/ntroshkin/rewardledger-system/internal/token"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Deposit(ctx context.Context, caller, from string, amount int64) error
	DisburseReward(ctx context.Context, caller, recipient string, amount int64, activityID string) (string, error)
	BatchDisburseRewards(ctx context.Context, caller string, recipients []string, amounts []int64, activityIDs []string) ([]string, error)
	Withdraw(ctx context.Context, caller string, amount int64) error
	WithdrawAll(ctx context.Context, caller string) (int64, error)
	EmergencyWithdraw(ctx context.Context, caller, asset string) (int64, error)
	Pause(ctx context.Context, caller string) error
	Unpause(ctx context.Context, caller string) error
	SetMinDisbursementAmount(ctx context.Context, caller string, newMin int64) error
	SetMaxDisbursementAmount(ctx context.Context, caller string, newMax int64) error
	TransferOwnership(ctx context.Context, caller, newOwner string) error
	GetLedgerState(ctx context.Context) (*model.LedgerState, error)
	GetLedgerStats(ctx context.Context) (*model.LedgerStats, error)
	GetUserStats(ctx context.Context, recipient string) (*model.UserStats, error)
	GetReward(ctx context.Context, rewardID string) (*model.RewardRecord, error)
	IsRewardProcessed(ctx context.Context, rewardID string) (bool, error)
	IsActivityRewardClaimed(ctx context.Context, recipient, activityID string) (bool, error)
	ComputeRewardID(recipient, activityID string) (string, error)
}

// Handler реализует HTTP-обработчики API реестра наград.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

// writeError отображает ошибки бизнес-логики на HTTP-статусы.
// Текст известных ошибок возвращается вызывающему, чтобы класс отказа
// был различим без разбора логов.
func (h *Handler) writeError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, repository.ErrNotOwner):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, repository.ErrLedgerPaused),
		errors.Is(err, repository.ErrLedgerNotPaused),
		errors.Is(err, repository.ErrRewardAlreadyProcessed):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, repository.ErrInsufficientBalance):
		http.Error(w, err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, repository.ErrAmountBelowMinimum),
		errors.Is(err, repository.ErrAmountAboveMaximum),
		errors.Is(err, repository.ErrInvalidBounds),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrBatchLengthMismatch),
		errors.Is(err, service.ErrBatchTooLarge):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, service.ErrInvalidRecipient),
		errors.Is(err, service.ErrInvalidAsset):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, repository.ErrRewardNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, token.ErrTransferFailed):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		h.logger.Error(op+" error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func principal(w http.ResponseWriter, r *http.Request) (string, bool) {
	p, ok := middleware.GetPrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return p, ok
}

type depositRequest struct {
	From   string `json:"from,omitempty"`
	Amount int64  `json:"amount"`
}

// Deposit пополняет кастодиальный баланс со счёта вызывающего или,
// для владельца, с указанного счёта.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}

	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.Deposit(r.Context(), caller, req.From, req.Amount); err != nil {
		h.writeError(w, err, "deposit")
		return
	}

	w.WriteHeader(http.StatusOK)
}

type disburseRequest struct {
	Recipient  string `json:"recipient"`
	Amount     int64  `json:"amount"`
	ActivityID string `json:"activity_id"`
}

type disburseResponse struct {
	RewardID string `json:"reward_id"`
}

// Disburse выплачивает одну награду и возвращает её идентификатор.
func (h *Handler) Disburse(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}

	var req disburseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	id, err := h.service.DisburseReward(r.Context(), caller, req.Recipient, req.Amount, req.ActivityID)
	if err != nil {
		h.writeError(w, err, "disburse")
		return
	}

	h.writeJSON(w, disburseResponse{RewardID: id})
}

type batchDisburseRequest struct {
	Recipients  []string `json:"recipients"`
	Amounts     []int64  `json:"amounts"`
	ActivityIDs []string `json:"activity_ids"`
}

type batchDisburseResponse struct {
	RewardIDs []string `json:"reward_ids"`
}

// BatchDisburse выплачивает пакет наград атомарно.
func (h *Handler) BatchDisburse(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}

	var req batchDisburseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	ids, err := h.service.BatchDisburseRewards(r.Context(), caller, req.Recipients, req.Amounts, req.ActivityIDs)
	if err != nil {
		h.writeError(w, err, "batch disburse")
		return
	}

	h.writeJSON(w, batchDisburseResponse{RewardIDs: ids})
}

type withdrawRequest struct {
	Amount int64 `json:"amount"`
}

// Withdraw выводит указанную сумму кастодиального баланса владельцу.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}

	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.Withdraw(r.Context(), caller, req.Amount); err != nil {
		h.writeError(w, err, "withdraw")
		return
	}

	w.WriteHeader(http.StatusOK)
}

type amountResponse struct {
	Amount int64 `json:"amount"`
}

// WithdrawAll выводит весь кастодиальный баланс владельцу.
func (h *Handler) WithdrawAll(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}

	amount, err := h.service.WithdrawAll(r.Context(), caller)
	if err != nil {
		h.writeError(w, err, "withdraw all")
		return
	}

	h.writeJSON(w, amountResponse{Amount: amount})
}

type emergencyWithdrawRequest struct {
	Asset string `json:"asset"`
}

// EmergencyWithdraw выводит владельцу весь баланс произвольного актива
// со счёта реестра.
func (h *Handler) EmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}

	var req emergencyWithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	amount, err := h.service.EmergencyWithdraw(r.Context(), caller, req.Asset)
	if err != nil {
		h.writeError(w, err, "emergency withdraw")
		return
	}

	h.writeJSON(w, amountResponse{Amount: amount})
}

// Pause приостанавливает денежные операции реестра.
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}

	if err := h.service.Pause(r.Context(), caller); err != nil {
		h.writeError(w, err, "pause")
		return
	}

	w.WriteHeader(http.StatusOK)
}

// Unpause возобновляет денежные операции реестра.
func (h *Handler) Unpause(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}

	if err := h.service.Unpause(r.Context(), caller); err != nil {
		h.writeError(w, err, "unpause")
		return
	}

	w.WriteHeader(http.StatusOK)
}

type boundRequest struct {
	Amount int64 `json:"amount"`
}

// SetMinBound устанавливает нижнюю границу выплаты.
func (h *Handler) SetMinBound(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}

	var req boundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.SetMinDisbursementAmount(r.Context(), caller, req.Amount); err != nil {
		h.writeError(w, err, "set min bound")
		return
	}

	w.WriteHeader(http.StatusOK)
}

// SetMaxBound устанавливает верхнюю границу выплаты.
func (h *Handler) SetMaxBound(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}

	var req boundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.SetMaxDisbursementAmount(r.Context(), caller, req.Amount); err != nil {
		h.writeError(w, err, "set max bound")
		return
	}

	w.WriteHeader(http.StatusOK)
}

type transferOwnershipRequest struct {
	NewOwner string `json:"new_owner"`
}

// TransferOwnership передаёт владение реестром новому адресу.
func (h *Handler) TransferOwnership(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}

	var req transferOwnershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.TransferOwnership(r.Context(), caller, req.NewOwner); err != nil {
		h.writeError(w, err, "transfer ownership")
		return
	}

	w.WriteHeader(http.StatusOK)
}

type ledgerStateResponse struct {
	OwnerAddress   string `json:"owner_address"`
	Paused         bool   `json:"paused"`
	MinAmount      int64  `json:"min_amount"`
	MaxAmount      int64  `json:"max_amount"`
	Balance        int64  `json:"balance"`
	TotalDeposited int64  `json:"total_deposited"`
	TotalDisbursed int64  `json:"total_disbursed"`
	TotalWithdrawn int64  `json:"total_withdrawn"`
}

// GetLedger возвращает текущее публичное состояние реестра.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.GetLedgerState(r.Context())
	if err != nil {
		h.writeError(w, err, "get ledger")
		return
	}

	h.writeJSON(w, ledgerStateResponse{
		OwnerAddress:   state.OwnerAddress,
		Paused:         state.Paused,
		MinAmount:      state.MinAmount,
		MaxAmount:      state.MaxAmount,
		Balance:        state.Balance,
		TotalDeposited: state.TotalDeposited,
		TotalDisbursed: state.TotalDisbursed,
		TotalWithdrawn: state.TotalWithdrawn,
	})
}

type balanceResponse struct {
	Balance int64 `json:"balance"`
}

// GetBalance возвращает текущий кастодиальный баланс.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetLedgerStats(r.Context())
	if err != nil {
		h.writeError(w, err, "get balance")
		return
	}

	h.writeJSON(w, balanceResponse{Balance: stats.Balance})
}

// GetStats возвращает баланс и накопительные счётчики реестра.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetLedgerStats(r.Context())
	if err != nil {
		h.writeError(w, err, "get stats")
		return
	}

	h.writeJSON(w, stats)
}

// GetUserStats возвращает агрегированную статистику наград получателя.
func (h *Handler) GetUserStats(w http.ResponseWriter, r *http.Request) {
	address := pathParam(r, "address")

	stats, err := h.service.GetUserStats(r.Context(), address)
	if err != nil {
		h.writeError(w, err, "get user stats")
		return
	}

	h.writeJSON(w, stats)
}

type rewardResponse struct {
	RewardID    string `json:"reward_id"`
	Recipient   string `json:"recipient"`
	ActivityID  string `json:"activity_id"`
	Amount      int64  `json:"amount"`
	ProcessedAt string `json:"processed_at"`
}

// GetReward возвращает запись о награде по её идентификатору.
func (h *Handler) GetReward(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "rewardID")

	rec, err := h.service.GetReward(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "get reward")
		return
	}

	h.writeJSON(w, rewardResponse{
		RewardID:    rec.RewardID,
		Recipient:   rec.Recipient,
		ActivityID:  rec.ActivityID,
		Amount:      rec.Amount,
		ProcessedAt: rec.ProcessedAt.Format(time.RFC3339),
	})
}

type processedResponse struct {
	Processed bool `json:"processed"`
}

// IsRewardProcessed сообщает, была ли выплачена награда с указанным идентификатором.
func (h *Handler) IsRewardProcessed(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "rewardID")

	processed, err := h.service.IsRewardProcessed(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "check reward")
		return
	}

	h.writeJSON(w, processedResponse{Processed: processed})
}

// CheckActivityReward сообщает, была ли выплачена награда за пару
// (получатель, активность) из параметров запроса.
func (h *Handler) CheckActivityReward(w http.ResponseWriter, r *http.Request) {
	recipient := r.URL.Query().Get("recipient")
	activityID := r.URL.Query().Get("activity_id")

	processed, err := h.service.IsActivityRewardClaimed(r.Context(), recipient, activityID)
	if err != nil {
		h.writeError(w, err, "check activity reward")
		return
	}

	h.writeJSON(w, processedResponse{Processed: processed})
}

// ComputeRewardID возвращает детерминированный идентификатор награды
// для пары (получатель, активность) из параметров запроса.
func (h *Handler) ComputeRewardID(w http.ResponseWriter, r *http.Request) {
	recipient := r.URL.Query().Get("recipient")
	activityID := r.URL.Query().Get("activity_id")

	id, err := h.service.ComputeRewardID(recipient, activityID)
	if err != nil {
		h.writeError(w, err, "compute reward id")
		return
	}

	h.writeJSON(w, disburseResponse{RewardID: id})
}

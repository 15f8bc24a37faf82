// Package service реализует бизнес-логику реестра наград.
package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ntroshkin/rewardledger-system/internal/audit"
	"github.com/ntroshkin/rewardledger-system/internal/metrics"
	"github.com/ntroshkin/rewardledger-system/internal/model"
	"github.com/ntroshkin/rewardledger-system/internal/repository"
	"github.com/ntroshkin/rewardledger-system/internal/rewardid"
	"github.com/ntroshkin/rewardledger-system/internal/validation"
)

// ErrInvalidAmount возвращается при нулевой или отрицательной сумме операции.
var (
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInvalidRecipient возвращается при некорректном адресе получателя.
	ErrInvalidRecipient = errors.New("invalid recipient address")
	// ErrInvalidAsset возвращается при некорректном адресе актива.
	ErrInvalidAsset = errors.New("invalid asset address")
	// ErrBatchLengthMismatch возвращается при разной длине массивов пакетной выплаты.
	ErrBatchLengthMismatch = errors.New("batch arrays length mismatch")
	// ErrBatchTooLarge возвращается при превышении максимального размера пакета.
	ErrBatchTooLarge = errors.New("batch too large")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	Deposit(ctx context.Context, caller, from string, amount int64, transfer repository.TransferFunc) error
	DisburseReward(ctx context.Context, caller, recipient, activityID string, amount int64, transfer repository.TransferFunc) (string, error)
	BatchDisburseRewards(ctx context.Context, caller string, entries []model.BatchEntry, transfer repository.BatchTransferFunc) ([]string, error)
	Withdraw(ctx context.Context, caller string, amount int64, transfer repository.TransferFunc) error
	WithdrawAll(ctx context.Context, caller string, transfer func(ctx context.Context, amount int64) error) (int64, error)
	SetPaused(ctx context.Context, caller string, paused bool) error
	SetMinAmount(ctx context.Context, caller string, newMin int64) (int64, error)
	SetMaxAmount(ctx context.Context, caller string, newMax int64) (int64, error)
	TransferOwnership(ctx context.Context, caller, newOwner string) (string, error)
	GetLedgerState(ctx context.Context) (*model.LedgerState, error)
	GetUserStats(ctx context.Context, recipient string) (*model.UserStats, error)
	GetReward(ctx context.Context, rewardID string) (*model.RewardRecord, error)
	IsRewardProcessed(ctx context.Context, rewardID string) (bool, error)
}

// TokenClient описывает контракт внешней системы хранения токенов.
type TokenClient interface {
	Transfer(ctx context.Context, asset, from, to string, amount int64) error
	TransferFrom(ctx context.Context, asset, from, to string, amount int64) error
	BalanceOf(ctx context.Context, asset, account string) (int64, error)
}

// Options содержит параметры сервиса, не меняющиеся после запуска.
type Options struct {
	RewardToken   string
	LedgerAddress string
	MaxBatchSize  int
}

// Service содержит бизнес-логику реестра наград.
type Service struct {
	repo   Repository
	tokens TokenClient
	audit  *audit.Emitter
	logger *zap.Logger
	opts   Options
}

// NewService создаёт новый сервис с указанным репозиторием и клиентом системы токенов.
func NewService(repo Repository, tokens TokenClient, emitter *audit.Emitter, logger *zap.Logger, opts Options) *Service {
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = 50
	}
	return &Service{
		repo:   repo,
		tokens: tokens,
		audit:  emitter,
		logger: logger,
		opts:   opts,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Deposit пополняет кастодиальный баланс реестра. Пустой from означает
// пополнение со счёта вызывающего; пополнение с чужого счёта разрешено
// только владельцу реестра.
func (s *Service) Deposit(ctx context.Context, caller, from string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if from == "" {
		from = caller
	}
	if !validation.IsValidAddress(from) {
		return ErrInvalidRecipient
	}

	err := s.repo.Deposit(ctx, caller, from, amount, func(ctx context.Context) error {
		return s.tokens.TransferFrom(ctx, s.opts.RewardToken, from, s.opts.LedgerAddress, amount)
	})
	if err != nil {
		return err
	}

	s.audit.Emit("deposit", caller,
		zap.String("from", from),
		zap.Int64("amount", amount),
	)
	metrics.Operations.WithLabelValues("deposit").Inc()

	return nil
}

// DisburseReward выплачивает награду получателю за указанную активность
// и возвращает идентификатор награды.
func (s *Service) DisburseReward(ctx context.Context, caller, recipient string, amount int64, activityID string) (string, error) {
	if !validation.IsValidAddress(recipient) {
		return "", ErrInvalidRecipient
	}
	if amount <= 0 {
		return "", ErrInvalidAmount
	}

	id, err := s.repo.DisburseReward(ctx, caller, recipient, activityID, amount, func(ctx context.Context) error {
		return s.tokens.Transfer(ctx, s.opts.RewardToken, s.opts.LedgerAddress, recipient, amount)
	})
	if err != nil {
		return "", err
	}

	s.audit.Emit("disburse_reward", caller,
		zap.String("recipient", recipient),
		zap.Int64("amount", amount),
		zap.String("activity_id", activityID),
		zap.String("reward_id", id),
	)
	metrics.Operations.WithLabelValues("disburse").Inc()
	metrics.DisbursedAmount.Add(float64(amount))

	return id, nil
}

// BatchDisburseRewards выплачивает награды по трём массивам одинаковой длины.
// Пакет атомарен: ошибка проверки любого элемента откатывает все выплаты.
// Пустой пакет проходит проверки владельца и паузы и завершается успешно
// с пустым результатом.
func (s *Service) BatchDisburseRewards(ctx context.Context, caller string, recipients []string, amounts []int64, activityIDs []string) ([]string, error) {
	if len(recipients) != len(amounts) || len(recipients) != len(activityIDs) {
		return nil, ErrBatchLengthMismatch
	}
	if len(recipients) > s.opts.MaxBatchSize {
		return nil, ErrBatchTooLarge
	}

	entries := make([]model.BatchEntry, 0, len(recipients))
	var total int64
	for i := range recipients {
		if !validation.IsValidAddress(recipients[i]) {
			return nil, ErrInvalidRecipient
		}
		if amounts[i] <= 0 {
			return nil, ErrInvalidAmount
		}
		if amounts[i] > math.MaxInt64-total {
			return nil, ErrInvalidAmount
		}
		total += amounts[i]
		entries = append(entries, model.BatchEntry{
			Recipient:  recipients[i],
			Amount:     amounts[i],
			ActivityID: activityIDs[i],
		})
	}

	ids, err := s.repo.BatchDisburseRewards(ctx, caller, entries, func(ctx context.Context, recipient string, amount int64) error {
		return s.tokens.Transfer(ctx, s.opts.RewardToken, s.opts.LedgerAddress, recipient, amount)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Emit("batch_disburse_rewards", caller,
		zap.Int("entries", len(entries)),
		zap.Int64("total_amount", total),
		zap.Strings("reward_ids", ids),
	)
	metrics.Operations.WithLabelValues("batch_disburse").Inc()
	metrics.DisbursedAmount.Add(float64(total))

	return ids, nil
}

// Withdraw выводит amount токенов из кастодиального баланса владельцу.
func (s *Service) Withdraw(ctx context.Context, caller string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	err := s.repo.Withdraw(ctx, caller, amount, func(ctx context.Context) error {
		return s.tokens.Transfer(ctx, s.opts.RewardToken, s.opts.LedgerAddress, caller, amount)
	})
	if err != nil {
		return err
	}

	s.audit.Emit("withdraw", caller, zap.Int64("amount", amount))
	metrics.Operations.WithLabelValues("withdraw").Inc()

	return nil
}

// WithdrawAll выводит весь кастодиальный баланс владельцу и возвращает сумму.
func (s *Service) WithdrawAll(ctx context.Context, caller string) (int64, error) {
	amount, err := s.repo.WithdrawAll(ctx, caller, func(ctx context.Context, amount int64) error {
		return s.tokens.Transfer(ctx, s.opts.RewardToken, s.opts.LedgerAddress, caller, amount)
	})
	if err != nil {
		return 0, err
	}

	s.audit.Emit("withdraw_all", caller, zap.Int64("amount", amount))
	metrics.Operations.WithLabelValues("withdraw").Inc()

	return amount, nil
}

// EmergencyWithdraw выводит владельцу весь баланс произвольного актива,
// оказавшегося на счёте реестра. Операция намеренно не затрагивает
// учёт наградного токена.
func (s *Service) EmergencyWithdraw(ctx context.Context, caller, asset string) (int64, error) {
	if !validation.IsValidAddress(asset) {
		return 0, ErrInvalidAsset
	}

	state, err := s.repo.GetLedgerState(ctx)
	if err != nil {
		return 0, err
	}
	if !strings.EqualFold(state.OwnerAddress, caller) {
		return 0, repository.ErrNotOwner
	}

	balance, err := s.tokens.BalanceOf(ctx, asset, s.opts.LedgerAddress)
	if err != nil {
		return 0, err
	}
	if balance <= 0 {
		return 0, repository.ErrInsufficientBalance
	}

	if err := s.tokens.Transfer(ctx, asset, s.opts.LedgerAddress, caller, balance); err != nil {
		return 0, err
	}

	s.audit.Emit("emergency_withdraw", caller,
		zap.String("asset", asset),
		zap.Int64("amount", balance),
	)
	metrics.Operations.WithLabelValues("emergency_withdraw").Inc()

	return balance, nil
}

// Pause приостанавливает денежные операции реестра.
func (s *Service) Pause(ctx context.Context, caller string) error {
	if err := s.repo.SetPaused(ctx, caller, true); err != nil {
		return err
	}
	s.audit.Emit("pause", caller)
	metrics.Operations.WithLabelValues("pause").Inc()
	return nil
}

// Unpause возобновляет денежные операции реестра.
func (s *Service) Unpause(ctx context.Context, caller string) error {
	if err := s.repo.SetPaused(ctx, caller, false); err != nil {
		return err
	}
	s.audit.Emit("unpause", caller)
	metrics.Operations.WithLabelValues("unpause").Inc()
	return nil
}

// SetMinDisbursementAmount устанавливает нижнюю границу выплаты.
func (s *Service) SetMinDisbursementAmount(ctx context.Context, caller string, newMin int64) error {
	old, err := s.repo.SetMinAmount(ctx, caller, newMin)
	if err != nil {
		return err
	}
	s.audit.Emit("set_min_disbursement", caller,
		zap.Int64("old_amount", old),
		zap.Int64("new_amount", newMin),
	)
	metrics.Operations.WithLabelValues("set_bounds").Inc()
	return nil
}

// SetMaxDisbursementAmount устанавливает верхнюю границу выплаты.
func (s *Service) SetMaxDisbursementAmount(ctx context.Context, caller string, newMax int64) error {
	old, err := s.repo.SetMaxAmount(ctx, caller, newMax)
	if err != nil {
		return err
	}
	s.audit.Emit("set_max_disbursement", caller,
		zap.Int64("old_amount", old),
		zap.Int64("new_amount", newMax),
	)
	metrics.Operations.WithLabelValues("set_bounds").Inc()
	return nil
}

// TransferOwnership передаёт владение реестром новому адресу.
func (s *Service) TransferOwnership(ctx context.Context, caller, newOwner string) error {
	if !validation.IsValidAddress(newOwner) {
		return ErrInvalidRecipient
	}

	old, err := s.repo.TransferOwnership(ctx, caller, newOwner)
	if err != nil {
		return err
	}

	s.audit.Emit("transfer_ownership", caller,
		zap.String("previous_owner", old),
		zap.String("new_owner", newOwner),
	)
	metrics.Operations.WithLabelValues("transfer_ownership").Inc()

	return nil
}

// GetLedgerState возвращает текущее состояние реестра.
func (s *Service) GetLedgerState(ctx context.Context) (*model.LedgerState, error) {
	return s.repo.GetLedgerState(ctx)
}

// GetLedgerStats возвращает баланс и накопительные счётчики реестра.
func (s *Service) GetLedgerStats(ctx context.Context) (*model.LedgerStats, error) {
	state, err := s.repo.GetLedgerState(ctx)
	if err != nil {
		return nil, err
	}
	return &model.LedgerStats{
		Balance:        state.Balance,
		TotalDeposited: state.TotalDeposited,
		TotalDisbursed: state.TotalDisbursed,
		TotalWithdrawn: state.TotalWithdrawn,
	}, nil
}

// GetUserStats возвращает агрегированную статистику наград получателя.
func (s *Service) GetUserStats(ctx context.Context, recipient string) (*model.UserStats, error) {
	if !validation.IsValidAddress(recipient) {
		return nil, ErrInvalidRecipient
	}
	return s.repo.GetUserStats(ctx, recipient)
}

// GetReward возвращает запись о награде по её идентификатору.
func (s *Service) GetReward(ctx context.Context, rewardID string) (*model.RewardRecord, error) {
	return s.repo.GetReward(ctx, rewardID)
}

// IsRewardProcessed сообщает, была ли выплачена награда с указанным идентификатором.
func (s *Service) IsRewardProcessed(ctx context.Context, rewardID string) (bool, error) {
	return s.repo.IsRewardProcessed(ctx, rewardID)
}

// IsActivityRewardClaimed сообщает, была ли выплачена награда за пару
// (получатель, активность).
func (s *Service) IsActivityRewardClaimed(ctx context.Context, recipient, activityID string) (bool, error) {
	if !validation.IsValidAddress(recipient) {
		return false, ErrInvalidRecipient
	}
	return s.repo.IsRewardProcessed(ctx, rewardid.Compute(recipient, activityID))
}

// ComputeRewardID вычисляет идентификатор награды без обращения к хранилищу.
func (s *Service) ComputeRewardID(recipient, activityID string) (string, error) {
	if !validation.IsValidAddress(recipient) {
		return "", ErrInvalidRecipient
	}
	return rewardid.Compute(recipient, activityID), nil
}

// RunBalanceReconciliation периодически сверяет учтённый баланс с балансом
// счёта реестра в системе токенов. Блокирует вызывающую горутину до отмены
// контекста.
func (s *Service) RunBalanceReconciliation(ctx context.Context, interval time.Duration) error {
	if s.tokens == nil || s.opts.LedgerAddress == "" {
		return nil
	}
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.reconcileBalance(ctx)
		}
	}
}

func (s *Service) reconcileBalance(ctx context.Context) {
	state, err := s.repo.GetLedgerState(ctx)
	if err != nil {
		return
	}

	metrics.CustodialBalance.Set(float64(state.Balance))

	live, err := s.tokens.BalanceOf(ctx, s.opts.RewardToken, s.opts.LedgerAddress)
	if err != nil {
		return
	}

	drift := live - state.Balance
	metrics.BalanceDrift.Set(float64(drift))

	if drift != 0 && s.logger != nil {
		s.logger.Warn("ledger balance drift detected",
			zap.Int64("recorded", state.Balance),
			zap.Int64("live", live),
			zap.Int64("drift", drift),
		)
	}
}

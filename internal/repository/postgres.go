// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/ntroshkin/rewardledger-system/internal/model"
	"github.com/ntroshkin/rewardledger-system/internal/rewardid"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotOwner возвращается, когда вызывающий не является владельцем реестра.
var (
	ErrNotOwner = errors.New("caller is not the ledger owner")
	// ErrLedgerPaused возвращается при попытке денежной операции на приостановленном реестре.
	ErrLedgerPaused = errors.New("ledger is paused")
	// ErrLedgerNotPaused возвращается при попытке снять приостановку с активного реестра.
	ErrLedgerNotPaused = errors.New("ledger is not paused")
	// ErrRewardAlreadyProcessed возвращается при повторной выплате за ту же пару (получатель, активность).
	ErrRewardAlreadyProcessed = errors.New("reward already processed for this activity")
	// ErrInsufficientBalance возвращается, когда кастодиального баланса не хватает на операцию.
	ErrInsufficientBalance = errors.New("insufficient ledger balance")
	// ErrAmountBelowMinimum возвращается, когда сумма выплаты меньше нижней границы.
	ErrAmountBelowMinimum = errors.New("amount below minimum disbursement")
	// ErrAmountAboveMaximum возвращается, когда сумма выплаты больше верхней границы.
	ErrAmountAboveMaximum = errors.New("amount exceeds maximum disbursement")
	// ErrInvalidBounds возвращается при нарушении инварианта min < max.
	ErrInvalidBounds = errors.New("min bound must be less than max bound")
	// ErrRewardNotFound возвращается, если награда с указанным идентификатором не найдена.
	ErrRewardNotFound = errors.New("reward not found")
)

// TransferFunc выполняет внешний перевод токенов. Для пополнения и вывода
// вызывается внутри транзакции: ошибка перевода откатывает изменения в БД.
// Для выплат перевод выполняется после фиксации транзакции, чтобы повтор
// после сбоя перевода отклонялся проверкой идемпотентности, а не выплачивался
// заново.
type TransferFunc func(ctx context.Context) error

// BatchTransferFunc выполняет внешний перевод токенов одному получателю пакета.
type BatchTransferFunc func(ctx context.Context, recipient string, amount int64) error

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий, инициализирует схему БД через
// миграции и создаёт запись реестра с начальными владельцем и границами, если её нет.
func NewPostgresRepository(dsn string, owner string, minAmount, maxAmount int64) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if err := r.ensureLedger(ctx, owner, minAmount, maxAmount); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) ensureLedger(ctx context.Context, owner string, minAmount, maxAmount int64) error {
	if minAmount <= 0 || minAmount >= maxAmount {
		return ErrInvalidBounds
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO ledger (id, owner_address, min_amount, max_amount)
		 VALUES (1, $1, $2, $3)
		 ON CONFLICT (id) DO NOTHING`,
		strings.ToLower(owner), minAmount, maxAmount,
	)
	if err != nil {
		return fmt.Errorf("ensure ledger row: %w", err)
	}
	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// lockLedger блокирует строку реестра на время транзакции.
// Блокировка сериализует все денежные операции между собой.
func (r *PostgresRepository) lockLedger(ctx context.Context, tx pgx.Tx) (*model.LedgerState, error) {
	var s model.LedgerState
	err := tx.QueryRow(ctx,
		`SELECT owner_address, paused, min_amount, max_amount,
		        balance, total_deposited, total_disbursed, total_withdrawn
		 FROM ledger WHERE id = 1 FOR UPDATE`,
	).Scan(&s.OwnerAddress, &s.Paused, &s.MinAmount, &s.MaxAmount,
		&s.Balance, &s.TotalDeposited, &s.TotalDisbursed, &s.TotalWithdrawn)
	if err != nil {
		return nil, fmt.Errorf("lock ledger row: %w", err)
	}
	return &s, nil
}

func requireOwner(s *model.LedgerState, caller string) error {
	if !strings.EqualFold(s.OwnerAddress, caller) {
		return ErrNotOwner
	}
	return nil
}

// Deposit пополняет кастодиальный баланс. Если from не совпадает с caller,
// операция разрешена только владельцу реестра.
func (r *PostgresRepository) Deposit(ctx context.Context, caller, from string, amount int64, transfer TransferFunc) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	state, err := r.lockLedger(ctx, tx)
	if err != nil {
		return err
	}

	if !strings.EqualFold(from, caller) {
		if err := requireOwner(state, caller); err != nil {
			return err
		}
	}

	if state.Paused {
		return ErrLedgerPaused
	}

	_, err = tx.Exec(ctx,
		`UPDATE ledger
		 SET balance = balance + $1,
		     total_deposited = total_deposited + $1,
		     updated_at = now()
		 WHERE id = 1`,
		amount,
	)
	if err != nil {
		return fmt.Errorf("update ledger: %w", err)
	}

	if err := transfer(ctx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// DisburseReward выплачивает награду получателю за указанную активность.
// Возвращает детерминированный идентификатор награды. Повторная выплата
// за ту же пару (получатель, активность) отклоняется без изменений состояния.
// Запись о награде фиксируется до внешнего перевода: если перевод не прошёл,
// награда остаётся учтённой как выплаченная, расхождение видно при сверке
// балансов, а повтор отклоняется как дубликат.
func (r *PostgresRepository) DisburseReward(ctx context.Context, caller, recipient, activityID string, amount int64, transfer TransferFunc) (string, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	state, err := r.lockLedger(ctx, tx)
	if err != nil {
		return "", err
	}

	if err := requireOwner(state, caller); err != nil {
		return "", err
	}
	if state.Paused {
		return "", ErrLedgerPaused
	}

	id, err := insertReward(ctx, tx, state, recipient, activityID, amount)
	if err != nil {
		return "", err
	}

	_, err = tx.Exec(ctx,
		`UPDATE ledger
		 SET balance = balance - $1,
		     total_disbursed = total_disbursed + $1,
		     updated_at = now()
		 WHERE id = 1`,
		amount,
	)
	if err != nil {
		return "", fmt.Errorf("update ledger: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit tx: %w", err)
	}

	if err := transfer(ctx); err != nil {
		return id, fmt.Errorf("reward %s recorded but transfer failed: %w", id, err)
	}

	return id, nil
}

// insertReward проверяет границы, идемпотентность и достаточность баланса,
// затем создаёт запись о награде. state.Balance уменьшается на сумму записи,
// чтобы последовательные вставки одного пакета видели остаток.
func insertReward(ctx context.Context, tx pgx.Tx, state *model.LedgerState, recipient, activityID string, amount int64) (string, error) {
	if amount < state.MinAmount {
		return "", ErrAmountBelowMinimum
	}
	if amount > state.MaxAmount {
		return "", ErrAmountAboveMaximum
	}

	id := rewardid.Compute(recipient, activityID)

	var exists bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM rewards WHERE reward_id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return "", fmt.Errorf("check reward: %w", err)
	}
	if exists {
		return "", ErrRewardAlreadyProcessed
	}

	if state.Balance < amount {
		return "", ErrInsufficientBalance
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO rewards (reward_id, recipient, activity_id, amount)
		 VALUES ($1, $2, $3, $4)`,
		id, strings.ToLower(recipient), activityID, amount,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return "", ErrRewardAlreadyProcessed
		}
		return "", fmt.Errorf("insert reward: %w", err)
	}

	state.Balance -= amount

	return id, nil
}

// BatchDisburseRewards выплачивает награды всем элементам пакета в одной
// транзакции. Сначала проверяется, что суммарная выплата не превышает баланс,
// затем каждый элемент проходит собственные проверки. Ошибка любой проверки
// откатывает весь пакет без частичных эффектов. Внешние переводы выполняются
// после фиксации транзакции: сбой перевода не откатывает уже учтённые записи,
// поэтому повтор пакета отклоняется как дубликат вместо повторной выплаты.
func (r *PostgresRepository) BatchDisburseRewards(ctx context.Context, caller string, entries []model.BatchEntry, transfer BatchTransferFunc) ([]string, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	state, err := r.lockLedger(ctx, tx)
	if err != nil {
		return nil, err
	}

	if err := requireOwner(state, caller); err != nil {
		return nil, err
	}
	if state.Paused {
		return nil, ErrLedgerPaused
	}

	// Пустой пакет проходит проверки владельца и паузы, как любой другой.
	if len(entries) == 0 {
		return []string{}, nil
	}

	var total int64
	for _, e := range entries {
		if e.Amount > math.MaxInt64-total {
			return nil, ErrAmountAboveMaximum
		}
		total += e.Amount
	}
	if state.Balance < total {
		return nil, ErrInsufficientBalance
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		id, err := insertReward(ctx, tx, state, e.Recipient, e.ActivityID, e.Amount)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	_, err = tx.Exec(ctx,
		`UPDATE ledger
		 SET balance = balance - $1,
		     total_disbursed = total_disbursed + $1,
		     updated_at = now()
		 WHERE id = 1`,
		total,
	)
	if err != nil {
		return nil, fmt.Errorf("update ledger: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	var transferErrs []error
	for _, e := range entries {
		if err := transfer(ctx, e.Recipient, e.Amount); err != nil {
			transferErrs = append(transferErrs, fmt.Errorf("transfer to %s: %w", e.Recipient, err))
		}
	}
	if len(transferErrs) > 0 {
		return ids, errors.Join(transferErrs...)
	}

	return ids, nil
}

// Withdraw выводит amount токенов из кастодиального баланса владельцу.
func (r *PostgresRepository) Withdraw(ctx context.Context, caller string, amount int64, transfer TransferFunc) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	state, err := r.lockLedger(ctx, tx)
	if err != nil {
		return err
	}

	if err := requireOwner(state, caller); err != nil {
		return err
	}
	if state.Paused {
		return ErrLedgerPaused
	}
	if state.Balance < amount {
		return ErrInsufficientBalance
	}

	_, err = tx.Exec(ctx,
		`UPDATE ledger
		 SET balance = balance - $1,
		     total_withdrawn = total_withdrawn + $1,
		     updated_at = now()
		 WHERE id = 1`,
		amount,
	)
	if err != nil {
		return fmt.Errorf("update ledger: %w", err)
	}

	if err := transfer(ctx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// WithdrawAll выводит весь кастодиальный баланс владельцу и возвращает
// выведенную сумму. Требует ненулевого баланса.
func (r *PostgresRepository) WithdrawAll(ctx context.Context, caller string, transfer func(ctx context.Context, amount int64) error) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	state, err := r.lockLedger(ctx, tx)
	if err != nil {
		return 0, err
	}

	if err := requireOwner(state, caller); err != nil {
		return 0, err
	}
	if state.Paused {
		return 0, ErrLedgerPaused
	}
	if state.Balance <= 0 {
		return 0, ErrInsufficientBalance
	}

	amount := state.Balance

	_, err = tx.Exec(ctx,
		`UPDATE ledger
		 SET balance = 0,
		     total_withdrawn = total_withdrawn + $1,
		     updated_at = now()
		 WHERE id = 1`,
		amount,
	)
	if err != nil {
		return 0, fmt.Errorf("update ledger: %w", err)
	}

	if err := transfer(ctx, amount); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return amount, nil
}

// SetPaused переводит реестр в указанный режим. Повторная установка того же
// режима отклоняется, чтобы текущее состояние переключателя всегда было
// однозначно наблюдаемо вызывающим.
func (r *PostgresRepository) SetPaused(ctx context.Context, caller string, paused bool) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	state, err := r.lockLedger(ctx, tx)
	if err != nil {
		return err
	}

	if err := requireOwner(state, caller); err != nil {
		return err
	}

	if paused && state.Paused {
		return ErrLedgerPaused
	}
	if !paused && !state.Paused {
		return ErrLedgerNotPaused
	}

	_, err = tx.Exec(ctx,
		`UPDATE ledger SET paused = $1, updated_at = now() WHERE id = 1`,
		paused,
	)
	if err != nil {
		return fmt.Errorf("update ledger: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// SetMinAmount устанавливает нижнюю границу выплаты. Инвариант min < max
// проверяется против текущего значения верхней границы внутри транзакции.
// Возвращает прежнее значение границы.
func (r *PostgresRepository) SetMinAmount(ctx context.Context, caller string, newMin int64) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	state, err := r.lockLedger(ctx, tx)
	if err != nil {
		return 0, err
	}

	if err := requireOwner(state, caller); err != nil {
		return 0, err
	}
	if newMin <= 0 || newMin >= state.MaxAmount {
		return 0, ErrInvalidBounds
	}

	_, err = tx.Exec(ctx,
		`UPDATE ledger SET min_amount = $1, updated_at = now() WHERE id = 1`,
		newMin,
	)
	if err != nil {
		return 0, fmt.Errorf("update ledger: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return state.MinAmount, nil
}

// SetMaxAmount устанавливает верхнюю границу выплаты. Инвариант min < max
// проверяется против текущего значения нижней границы внутри транзакции.
// Возвращает прежнее значение границы.
func (r *PostgresRepository) SetMaxAmount(ctx context.Context, caller string, newMax int64) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	state, err := r.lockLedger(ctx, tx)
	if err != nil {
		return 0, err
	}

	if err := requireOwner(state, caller); err != nil {
		return 0, err
	}
	if newMax <= state.MinAmount {
		return 0, ErrInvalidBounds
	}

	_, err = tx.Exec(ctx,
		`UPDATE ledger SET max_amount = $1, updated_at = now() WHERE id = 1`,
		newMax,
	)
	if err != nil {
		return 0, fmt.Errorf("update ledger: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return state.MaxAmount, nil
}

// TransferOwnership передаёт владение реестром новому адресу.
// Возвращает адрес прежнего владельца.
func (r *PostgresRepository) TransferOwnership(ctx context.Context, caller, newOwner string) (string, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	state, err := r.lockLedger(ctx, tx)
	if err != nil {
		return "", err
	}

	if err := requireOwner(state, caller); err != nil {
		return "", err
	}

	_, err = tx.Exec(ctx,
		`UPDATE ledger SET owner_address = $1, updated_at = now() WHERE id = 1`,
		strings.ToLower(newOwner),
	)
	if err != nil {
		return "", fmt.Errorf("update ledger: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit tx: %w", err)
	}

	return state.OwnerAddress, nil
}

// GetLedgerState возвращает текущее состояние реестра.
func (r *PostgresRepository) GetLedgerState(ctx context.Context) (*model.LedgerState, error) {
	var s model.LedgerState

	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`SELECT owner_address, paused, min_amount, max_amount,
			        balance, total_deposited, total_disbursed, total_withdrawn
			 FROM ledger WHERE id = 1`,
		).Scan(&s.OwnerAddress, &s.Paused, &s.MinAmount, &s.MaxAmount,
			&s.Balance, &s.TotalDeposited, &s.TotalDisbursed, &s.TotalWithdrawn)
	})
	if err != nil {
		return nil, fmt.Errorf("select ledger: %w", err)
	}

	return &s, nil
}

// GetUserStats возвращает агрегированную статистику наград получателя.
// Для получателя без наград возвращаются нулевые значения.
func (r *PostgresRepository) GetUserStats(ctx context.Context, recipient string) (*model.UserStats, error) {
	var stats model.UserStats

	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`SELECT COALESCE(SUM(amount), 0), COUNT(*)
			 FROM rewards WHERE recipient = $1`,
			strings.ToLower(recipient),
		).Scan(&stats.TotalRewards, &stats.RewardCount)
	})
	if err != nil {
		return nil, fmt.Errorf("select user stats: %w", err)
	}

	return &stats, nil
}

// GetReward возвращает запись о награде по её идентификатору.
func (r *PostgresRepository) GetReward(ctx context.Context, rewardID string) (*model.RewardRecord, error) {
	var rec model.RewardRecord

	err := r.pool.QueryRow(ctx,
		`SELECT reward_id, recipient, activity_id, amount, processed_at
		 FROM rewards WHERE reward_id = $1`,
		rewardID,
	).Scan(&rec.RewardID, &rec.Recipient, &rec.ActivityID, &rec.Amount, &rec.ProcessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRewardNotFound
		}
		return nil, fmt.Errorf("select reward: %w", err)
	}

	return &rec, nil
}

// IsRewardProcessed сообщает, была ли уже выплачена награда с указанным идентификатором.
func (r *PostgresRepository) IsRewardProcessed(ctx context.Context, rewardID string) (bool, error) {
	var exists bool

	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM rewards WHERE reward_id = $1)`,
			rewardID,
		).Scan(&exists)
	})
	if err != nil {
		return false, fmt.Errorf("check reward: %w", err)
	}

	return exists, nil
}

// Package audit эмитит структурированные записи обо всех успешных
// изменениях состояния реестра для внешней индексации.
package audit

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Emitter публикует события аудита в структурированный лог.
type Emitter struct {
	logger *zap.Logger
}

// NewEmitter создаёт эмиттер событий аудита поверх указанного логгера.
func NewEmitter(logger *zap.Logger) *Emitter {
	return &Emitter{
		logger: logger.Named("audit"),
	}
}

// Emit публикует одно событие аудита. Каждое событие получает уникальный
// идентификатор; отметка времени добавляется логгером.
func (e *Emitter) Emit(operation, principal string, fields ...zap.Field) {
	if e == nil || e.logger == nil {
		return
	}

	base := []zap.Field{
		zap.String("event_id", uuid.NewString()),
		zap.String("operation", operation),
		zap.String("principal", principal),
	}

	e.logger.Info("ledger event", append(base, fields...)...)
}

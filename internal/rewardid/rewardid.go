// Package rewardid вычисляет детерминированный идентификатор награды.
package rewardid

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Compute возвращает идентификатор награды для пары (получатель, активность).
// Идентификатор — чистая функция аргументов: одинаковые входы всегда дают
// одинаковый результат. Адрес получателя приводится к нижнему регистру,
// чтобы регистр hex-записи не порождал разные идентификаторы.
func Compute(recipient, activityID string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(recipient) + ":" + activityID))
	return hex.EncodeToString(sum[:])
}

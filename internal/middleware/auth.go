// Package middleware содержит HTTP middleware реестра наград.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

type contextKey string

const principalKey contextKey = "principal"

const bearerPrefix = "Bearer "

// AuthMiddleware выполняет проверку подписанного токена принципала
// в заголовке Authorization.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет токен авторизации и добавляет адрес принципала в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		principal, ok := a.parseToken(strings.TrimPrefix(header, bearerPrefix))
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IssueToken подписывает адрес принципала и возвращает токен для заголовка Authorization.
func (a *AuthMiddleware) IssueToken(address string) string {
	addr := strings.ToLower(address)
	return addr + "." + a.sign(addr)
}

func (a *AuthMiddleware) parseToken(token string) (string, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return "", false
	}

	address := parts[0]
	signature := parts[1]

	expected := a.sign(address)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return "", false
	}

	return address, true
}

func (a *AuthMiddleware) sign(address string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(address))
	return hex.EncodeToString(mac.Sum(nil))
}

// GetPrincipalFromContext извлекает адрес принципала из контекста запроса.
func GetPrincipalFromContext(ctx context.Context) (string, bool) {
	principal, ok := ctx.Value(principalKey).(string)
	return principal, ok
}

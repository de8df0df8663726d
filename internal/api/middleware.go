package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/annel0/slp-replay/internal/auth"
)

// ключи gin.Context
const (
	ctxSubject = "subject"
	ctxClaims  = "claims"
)

// requireScope проверяет Bearer-токен и наличие scope. ScopeAdmin
// покрывает остальные. Если авторизация выключена, пропускает всё.
func (rs *RestServer) requireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rs.authOn {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" {
			fail(c, http.StatusUnauthorized, "Отсутствует токен авторизации")
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			fail(c, http.StatusUnauthorized, "Неверный формат токена")
			return
		}

		claims, err := rs.auth.Validate(parts[1])
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidToken) {
				_ = c.Error(err)
			}
			fail(c, http.StatusUnauthorized, "Недействительный токен")
			return
		}
		if !claims.HasScope(scope) && !claims.HasScope(auth.ScopeAdmin) {
			fail(c, http.StatusForbidden, "Недостаточно прав доступа")
			return
		}

		c.Set(ctxSubject, claims.Subject)
		c.Set(ctxClaims, claims)
		c.Next()
	}
}

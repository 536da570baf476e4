package auth

import (
	"net/http"
	"strings"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const operatorHeader = "X-Operator"

// HashToken returns the bcrypt hash to put in OPERATOR_TOKEN_HASH.
func HashToken(token string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// RequireOperator only lets through requests whose bearer token matches tokenHash.
func RequireOperator(tokenHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenHash == "" {
				logger.Warn("operator endpoint called but no operator token is configured")
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if err := bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)); err != nil {
				logger.WithField("remote_addr", r.RemoteAddr).Warn("operator token mismatch")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			name := r.Header.Get(operatorHeader)
			if name == "" {
				name = "operator"
			}
			next.ServeHTTP(w, r.WithContext(WithOperator(r.Context(), &Operator{Name: name})))
		})
	}
}

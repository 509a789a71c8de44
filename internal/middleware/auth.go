package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName — имя сессионной куки.
const CookieName = "auth_token"

// TokenTTL — срок жизни сессии.
const TokenTTL = 24 * time.Hour

type ctxKey struct{}

// Claims — содержимое JWT сессии: адрес кошелька.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

// BuildToken подписывает JWT для адреса userID.
func BuildToken(userID, secret string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
		UserID: userID,
	})
	return token.SignedString([]byte(secret))
}

// SetLoginCookie выставляет сессионную куку для userID.
func SetLoginCookie(w http.ResponseWriter, userID, secret string) error {
	token, err := BuildToken(userID, secret)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Now().Add(TokenTTL),
	})
	return nil
}

func parseToken(raw, secret string) (string, bool) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid || claims.UserID == "" {
		return "", false
	}
	return claims.UserID, true
}

// WithAuth кладёт адрес из валидной куки в контекст. Запросы без куки
// проходят дальше анонимно; доступ закрывает RequireAuth.
func WithAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, err := r.Cookie(CookieName)
			if err == nil {
				if uid, ok := parseToken(c.Value, secret); ok {
					r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, uid))
				} else {
					sugar.Debugw("invalid session cookie", "uri", r.RequestURI)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth отвечает 401 на запросы без сессии.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetUserIDFromContext(r.Context()); !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetUserIDFromContext возвращает адрес владельца сессии.
func GetUserIDFromContext(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(ctxKey{}).(string)
	return uid, ok && uid != ""
}

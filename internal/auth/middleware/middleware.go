package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/uploadnest/uploadnest/internal/rbac"
)

const issuer = "uploadnest"

var ErrUnauthenticated = errors.New("unauthenticated")

type AuthService struct {
	hmac []byte
	ttl  time.Duration
}

func NewAuthService(secret string) *AuthService {
	return &AuthService{hmac: []byte(secret), ttl: 8 * time.Hour}
}

type Claims struct {
	Sub string `json:"sub"`
	Wid string `json:"wid"` // workspace id
	jwt.RegisteredClaims
}

func (a *AuthService) IssueJWT(sub, workspaceID string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Sub: sub,
		Wid: workspaceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(a.hmac)
}

func (a *AuthService) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.hmac, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}
	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || c.Sub == "" {
		return nil, ErrUnauthenticated
	}
	return c, nil
}

// Authenticate accepts either a session JWT or an sk_ API key as the bearer credential and puts
// the resulting Principal and its role into the request context. keys may be nil, in which case
// only session tokens are accepted.
func Authenticate(a *AuthService, keys *APIKeyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if !strings.HasPrefix(h, "Bearer ") {
				unauthorized(w, "missing bearer")
				return
			}
			cred := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))

			var (
				p    Principal
				role string
			)
			if strings.HasPrefix(cred, keyPrefix) && keys != nil {
				var err error
				p, err = keys.Authenticate(r.Context(), cred)
				if err != nil {
					log.Debug().Err(err).Msg("api key rejected")
					unauthorized(w, "invalid api key")
					return
				}
				role = rbac.RoleAPIKey
			} else {
				c, err := a.Parse(cred)
				if err != nil {
					log.Debug().Err(err).Msg("session token rejected")
					unauthorized(w, "bad token")
					return
				}
				p = Principal{OwnerID: c.Sub, WorkspaceID: c.Wid, Via: ViaSession}
				role = rbac.RoleMember
			}

			ctx := rbac.WithRole(WithPrincipal(r.Context(), p), role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

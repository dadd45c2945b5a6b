package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"chargehive/internal/apperr"
	"chargehive/internal/models"

	"github.com/dgrijalva/jwt-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func authRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/whoami", AuthRequired(testSecret), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"identity_id": c.GetString(ctxIdentityID),
			"type":        c.GetString(ctxIdentityType),
		})
	})
	r.GET("/provider", AuthRequired(testSecret), ProviderOnly(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func doGet(r *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthRequired(t *testing.T) {
	r := authRouter()

	t.Run("valid token", func(t *testing.T) {
		token := signToken(t, jwt.MapClaims{"sub": "user-1", "email": "u@example.com", "type": models.IdentityTypeUser}, testSecret)
		w := doGet(r, "/whoami", token)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "user-1")
	})

	t.Run("missing header", func(t *testing.T) {
		w := doGet(r, "/whoami", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := signToken(t, jwt.MapClaims{"sub": "user-1"}, "other-secret")
		w := doGet(r, "/whoami", token)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("missing subject", func(t *testing.T) {
		token := signToken(t, jwt.MapClaims{"email": "u@example.com"}, testSecret)
		w := doGet(r, "/whoami", token)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestProviderOnly(t *testing.T) {
	r := authRouter()

	providerToken := signToken(t, jwt.MapClaims{"sub": "prov-1", "type": models.IdentityTypeProvider}, testSecret)
	assert.Equal(t, http.StatusOK, doGet(r, "/provider", providerToken).Code)

	userToken := signToken(t, jwt.MapClaims{"sub": "user-1", "type": models.IdentityTypeUser}, testSecret)
	assert.Equal(t, http.StatusForbidden, doGet(r, "/provider", userToken).Code)
}

func TestStatusForKind(t *testing.T) {
	cases := map[apperr.Kind]int{
		apperr.KindValidation:   http.StatusBadRequest,
		apperr.KindNotFound:     http.StatusNotFound,
		apperr.KindConflict:     http.StatusConflict,
		apperr.KindExpired:      http.StatusGone,
		apperr.KindUnauthorized: http.StatusUnauthorized,
		apperr.KindChainFailure: http.StatusBadGateway,
		apperr.KindUpstream:     http.StatusServiceUnavailable,
		apperr.KindInternal:     http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, statusForKind(kind), string(kind))
	}
}

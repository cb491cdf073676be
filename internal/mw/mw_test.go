package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"

	"parking-booking-backend/internal/booking"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func perform(r http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestIdentity(t *testing.T) {
	r := gin.New()
	r.GET("/me", Identity(), func(c *gin.Context) {
		a := ActorFrom(c)
		c.JSON(http.StatusOK, gin.H{"id": a.ID, "role": a.Role})
	})

	testCases := []struct {
		name       string
		headers    map[string]string
		expectCode int
		expectBody string
	}{
		{name: "missing user", headers: nil, expectCode: http.StatusUnauthorized},
		{name: "unknown role", headers: map[string]string{HeaderUserID: "u1", HeaderUserRole: "root"}, expectCode: http.StatusUnauthorized},
		{name: "missing role", headers: map[string]string{HeaderUserID: "u1"}, expectCode: http.StatusUnauthorized},
		{name: "user", headers: map[string]string{HeaderUserID: "u1", HeaderUserRole: "user"}, expectCode: http.StatusOK, expectBody: `{"id":"u1","role":"user"}`},
		{name: "provider", headers: map[string]string{HeaderUserID: "o1", HeaderUserRole: "provider"}, expectCode: http.StatusOK, expectBody: `{"id":"o1","role":"provider"}`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := perform(r, http.MethodGet, "/me", tc.headers)
			assert.Equal(t, tc.expectCode, w.Code)
			if tc.expectBody != "" {
				assert.JSONEq(t, tc.expectBody, w.Body.String())
			}
		})
	}
}

func TestActorFromWithoutIdentity(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, booking.Actor{}, ActorFrom(c))
}

func TestRateLimiter_PerUser(t *testing.T) {
	r := gin.New()
	r.Use(RateLimiter(rate.Limit(0.001), 2))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	alice := map[string]string{HeaderUserID: "alice"}
	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/ping", alice).Code)
	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/ping", alice).Code)
	assert.Equal(t, http.StatusTooManyRequests, perform(r, http.MethodGet, "/ping", alice).Code)

	// Another user has their own bucket.
	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/ping", map[string]string{HeaderUserID: "bob"}).Code)
}

func TestCache(t *testing.T) {
	store := cache.New(time.Minute, time.Minute)
	calls := 0
	r := gin.New()
	r.GET("/spaces/:id", Cache(store, time.Minute), func(c *gin.Context) {
		calls++
		if c.Param("id") == "missing" {
			c.JSON(http.StatusNotFound, gin.H{"calls": calls})
			return
		}
		c.JSON(http.StatusOK, gin.H{"calls": calls})
	})

	first := perform(r, http.MethodGet, "/spaces/1", nil)
	assert.Equal(t, "MISS", first.Header().Get(HeaderCache))
	second := perform(r, http.MethodGet, "/spaces/1", nil)
	assert.Equal(t, "HIT", second.Header().Get(HeaderCache))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "application/json; charset=utf-8", second.Header().Get("Content-Type"))
	assert.Equal(t, 1, calls)

	store.Delete("/spaces/1")
	third := perform(r, http.MethodGet, "/spaces/1", nil)
	assert.Equal(t, "MISS", third.Header().Get(HeaderCache))
	assert.Equal(t, 2, calls)

	perform(r, http.MethodGet, "/spaces/missing", nil)
	perform(r, http.MethodGet, "/spaces/missing", nil)
	assert.Equal(t, 4, calls, "errors are not cached")
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := gin.New()
	r.Use(RequestLogger(zap.New(core)))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	perform(r, http.MethodGet, "/ok", map[string]string{HeaderUserID: "u1"})
	perform(r, http.MethodGet, "/boom", nil)

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, zap.InfoLevel, entries[0].Level)
		assert.Equal(t, "u1", entries[0].ContextMap()["user_id"])
		assert.Equal(t, zap.ErrorLevel, entries[1].Level)
		assert.EqualValues(t, http.StatusInternalServerError, entries[1].ContextMap()["status"])
	}
}

package middleware

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientIP(t *testing.T) {
	cases := []struct {
		name   string
		header map[string]string
		remote string
		want   string
	}{
		{"xff first hop", map[string]string{"X-Forwarded-For": " 10.0.0.5 , 172.16.0.1"}, "1.2.3.4:5", "10.0.0.5"},
		{"real ip", map[string]string{"X-Real-IP": "10.0.0.6"}, "1.2.3.4:5", "10.0.0.6"},
		{"forwarded", map[string]string{"Forwarded": `for="10.0.0.7";proto=http`}, "1.2.3.4:5", "10.0.0.7"},
		{"remote addr", nil, "192.168.4.20:51234", "192.168.4.20"},
		{"remote ipv6", nil, "[fe80::1]:80", "fe80::1"},
		{"remote no port", nil, "192.168.4.21", "192.168.4.21"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = c.remote
			for k, v := range c.header {
				r.Header.Set(k, v)
			}
			assert.Equal(t, c.want, ClientIP(r))
		})
	}
}

func TestWrapRateLimit(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := Wrap(ok, RateLimitConfig{Enabled: true, PerMinute: 2})

	do := func(ip string) int {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = ip + ":1000"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}
	assert.Equal(t, http.StatusOK, do("10.0.0.1"))
	assert.Equal(t, http.StatusOK, do("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1"))
	assert.Equal(t, http.StatusOK, do("10.0.0.2"))
}

func TestWrapDisabled(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := Wrap(ok, RateLimitConfig{Enabled: false, PerMinute: 1})
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestAllowList(t *testing.T) {
	a, err := NewAllowList([]string{" 192.168.4.0/24", "10.0.0.9", "", "::1"})
	require.NoError(t, err)
	assert.True(t, a.Allowed(net.ParseIP("192.168.4.77")))
	assert.True(t, a.Allowed(net.ParseIP("10.0.0.9")))
	assert.False(t, a.Allowed(net.ParseIP("10.0.0.10")))
	assert.True(t, a.Allowed(net.ParseIP("::1")))
	assert.False(t, a.Allowed(nil))

	var none *AllowList
	assert.True(t, none.Allowed(net.ParseIP("8.8.8.8")))

	_, err = NewAllowList([]string{"10.0.0/8"})
	assert.Error(t, err)
	_, err = NewAllowList([]string{"gateway"})
	assert.Error(t, err)
}

func TestAllowListWrapIgnoresForwardedHeaders(t *testing.T) {
	a, err := NewAllowList([]string{"127.0.0.1"})
	require.NoError(t, err)
	h := a.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	r := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	r.RemoteAddr = "127.0.0.1:4000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)

	r = httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	r.RemoteAddr = "192.168.4.20:4000"
	r.Header.Set("X-Forwarded-For", "127.0.0.1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

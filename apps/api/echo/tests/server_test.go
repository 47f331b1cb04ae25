package tests

import (
	"errors"
	"net/http"
	"testing"
)

func Test_home(t *testing.T) {
	env := setup(t)

	t.Run("Home", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/", "")
		env.app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("code = %d; want %d", rec.Code, http.StatusOK)
		}
	})
}

func Test_health(t *testing.T) {
	env := setup(t)

	env.run(t, []httpTest{
		{name: "Healthy", path: "/health", wantData: []byte(`{"status":"ok"}`)},
	})

	env.healthErr = errors.New("connection refused")
	env.run(t, []httpTest{
		{name: "Database down", path: "/health", wantCode: http.StatusServiceUnavailable, wantData: []byte(`{"status":"unavailable"}`)},
	})
}

package myMiddleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type staticValidator map[string]string

func (v staticValidator) ValidateToken(token string) (string, string, error) {
	id, ok := v[token]
	if !ok {
		return "", "", errors.New("bad token")
	}
	return id, "name-" + id, nil
}

func TestAuthMiddleware(t *testing.T) {
	am := NewAuthMiddleware(staticValidator{"good": "acc-1"})
	h := am.Handle(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, name, ok := UserFrom(r.Context())
		if !ok {
			t.Error("identity missing from context")
		}
		w.Write([]byte(id + "/" + name))
	}))

	tests := []struct {
		name   string
		header string
		query  string
		status int
		body   string
	}{
		{name: "bearer header", header: "Bearer good", status: http.StatusOK, body: "acc-1/name-acc-1"},
		{name: "lowercase scheme", header: "bearer good", status: http.StatusOK, body: "acc-1/name-acc-1"},
		{name: "query fallback", query: "?token=good", status: http.StatusOK, body: "acc-1/name-acc-1"},
		{name: "missing", status: http.StatusUnauthorized},
		{name: "invalid", header: "Bearer nope", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic good", status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/queue"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.body != "" && rec.Body.String() != tt.body {
				t.Fatalf("body = %q, want %q", rec.Body.String(), tt.body)
			}
		})
	}
}

func TestUserFromEmptyContext(t *testing.T) {
	if _, _, ok := UserFrom(httptest.NewRequest(http.MethodGet, "/", nil).Context()); ok {
		t.Fatal("UserFrom() reported an identity on a bare context")
	}
}

package account

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	myMiddleware "go-traderoom/internal/middleware"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type memStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
	wallets  []Wallet
}

func newMemStore() *memStore {
	return &memStore{accounts: make(map[string]*Account)}
}

func (m *memStore) CreateAccount(_ context.Context, a *Account) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.accounts {
		if existing.Username == a.Username {
			return nil, ErrUsernameTaken
		}
	}
	a.ID = uuid.NewString()
	a.CreatedAt = time.Now()
	cp := *a
	m.accounts[a.ID] = &cp
	return a, nil
}

func (m *memStore) GetByUsername(_ context.Context, username string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Username == username {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) GetByID(_ context.Context, id string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) UpdatePushToken(_ context.Context, id, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.PushToken = token
	return nil
}

func (m *memStore) CreateWallet(_ context.Context, w *Wallet) (*Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w.ID = uuid.NewString()
	m.wallets = append(m.wallets, *w)
	return w, nil
}

func (m *memStore) ListWallets(_ context.Context, accountID string) ([]Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Wallet{}
	for _, w := range m.wallets {
		if w.AccountID == accountID {
			out = append(out, w)
		}
	}
	return out, nil
}

func TestRegisterLoginValidate(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemStore(), "test-secret")

	acc, err := svc.Register(ctx, &RegisterRequest{Username: "alice", Password: "hunter22", DisplayName: "Alice's Shop"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if acc.Password == "hunter22" {
		t.Fatal("password stored in clear text")
	}
	if _, err := svc.Register(ctx, &RegisterRequest{Username: "alice", Password: "another1"}); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("duplicate Register() error = %v", err)
	}

	if _, err := svc.Login(ctx, &RegisterRequest{Username: "alice", Password: "wrong-pass"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Login(wrong password) error = %v", err)
	}
	if _, err := svc.Login(ctx, &RegisterRequest{Username: "nobody", Password: "hunter22"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Login(unknown) error = %v", err)
	}

	res, err := svc.Login(ctx, &RegisterRequest{Username: "alice", Password: "hunter22"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	id, name, err := svc.ValidateToken(res.AccessToken)
	if err != nil || id != acc.ID || name != "Alice's Shop" {
		t.Fatalf("ValidateToken() = %q, %q, %v", id, name, err)
	}

	other := NewService(newMemStore(), "different-secret")
	if _, _, err := other.ValidateToken(res.AccessToken); err == nil {
		t.Fatal("token accepted under another secret")
	}
}

func TestValidateTokenRejectsExpiredAndForeignAlg(t *testing.T) {
	svc := NewService(newMemStore(), "s3cret")

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ID: "acc-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	ss, _ := expired.SignedString([]byte("s3cret"))
	if _, _, err := svc.ValidateToken(ss); err == nil {
		t.Fatal("expired token accepted")
	}

	hs512 := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{ID: "acc-1"})
	ss, _ = hs512.SignedString([]byte("s3cret"))
	if _, _, err := svc.ValidateToken(ss); err == nil {
		t.Fatal("HS512 token accepted")
	}
}

func TestParticipantAndPushToken(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemStore(), "x")
	acc, _ := svc.Register(ctx, &RegisterRequest{Username: "bob", Password: "secret99"})

	if err := svc.SetPushToken(ctx, acc.ID, " ExponentPushToken[b] "); err != nil {
		t.Fatalf("SetPushToken() error = %v", err)
	}
	p, err := svc.Participant(ctx, acc.ID)
	if err != nil {
		t.Fatalf("Participant() error = %v", err)
	}
	if p.ID != acc.ID || p.Name != "bob" || p.PushToken != "ExponentPushToken[b]" {
		t.Fatalf("Participant() = %+v", p)
	}
	if _, err := svc.Participant(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Participant(missing) error = %v", err)
	}
}

func TestHandlerRegisterLoginAndWallets(t *testing.T) {
	svc := NewService(newMemStore(), "k")
	h := NewHandler(svc)

	body := `{"username":"carla","password":"password1","display_name":"Carla"}`
	rec := httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("Register status = %d: %s", rec.Code, rec.Body)
	}

	rec = httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body)))
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate Register status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"username":"carla","password":"nope"}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad Login status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"username":"carla","password":"password1"}`)))
	var login LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&login); err != nil || login.AccessToken == "" {
		t.Fatalf("Login response = %+v, %v", login, err)
	}

	authed := func(method, path string, payload []byte) *http.Request {
		req := httptest.NewRequest(method, path, bytes.NewReader(payload))
		return req.WithContext(myMiddleware.WithUser(req.Context(), login.ID, login.DisplayName))
	}

	rec = httptest.NewRecorder()
	h.AddWallet(rec, authed(http.MethodPost, "/api/wallets", []byte(`{"platform":"GCash","account_name":"Carla","account_number":"0917"}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("AddWallet status = %d: %s", rec.Code, rec.Body)
	}

	rec = httptest.NewRecorder()
	h.AddWallet(rec, authed(http.MethodPost, "/api/wallets", []byte(`{"platform":""}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid AddWallet status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ListWallets(rec, authed(http.MethodGet, "/api/wallets", nil))
	var wallets []Wallet
	json.NewDecoder(rec.Body).Decode(&wallets)
	if len(wallets) != 1 || wallets[0].Platform != "GCash" || wallets[0].AccountID != login.ID {
		t.Fatalf("wallets = %+v", wallets)
	}

	rec = httptest.NewRecorder()
	h.SetPushToken(rec, authed(http.MethodPut, "/api/me/push-token", []byte(`{"token":"tok-c"}`)))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("SetPushToken status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Me(rec, authed(http.MethodGet, "/api/me", nil))
	var me Account
	json.NewDecoder(rec.Body).Decode(&me)
	if me.PushToken != "tok-c" || me.Username != "carla" {
		t.Fatalf("Me() = %+v", me)
	}
}

package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go-traderoom/internal/room"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const tokenTTL = 24 * time.Hour

// Store is implemented by *Repository.
type Store interface {
	CreateAccount(ctx context.Context, a *Account) (*Account, error)
	GetByUsername(ctx context.Context, username string) (*Account, error)
	GetByID(ctx context.Context, id string) (*Account, error)
	UpdatePushToken(ctx context.Context, id, token string) error
	CreateWallet(ctx context.Context, w *Wallet) (*Wallet, error)
	ListWallets(ctx context.Context, accountID string) ([]Wallet, error)
}

type Service struct {
	repo      Store
	jwtSecret string
}

type Claims struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	jwt.RegisteredClaims
}

func NewService(repo Store, secret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: secret,
	}
}

func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*Account, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || len(req.Password) < 6 {
		return nil, errors.New("username and a password of at least 6 characters are required")
	}

	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	display := strings.TrimSpace(req.DisplayName)
	if display == "" {
		display = username
	}

	return s.repo.CreateAccount(ctx, &Account{
		Username:    username,
		Password:    string(hashedPwd),
		DisplayName: display,
	})
}

func (s *Service) Login(ctx context.Context, req *RegisterRequest) (*LoginResponse, error) {
	a, err := s.repo.GetByUsername(ctx, strings.TrimSpace(req.Username))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(a.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	ss, err := s.IssueToken(a)
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		AccessToken: ss,
		ID:          a.ID,
		Username:    a.Username,
		DisplayName: a.DisplayName,
	}, nil
}

// IssueToken signs an HS256 token for a.
func (s *Service) IssueToken(a *Account) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ID:          a.ID,
		DisplayName: a.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "go-traderoom",
			Subject:   a.ID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)),
		},
	})
	return token.SignedString([]byte(s.jwtSecret))
}

// ValidateToken returns the account id and display name carried by a token.
func (s *Service) ValidateToken(tokenString string) (string, string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		return "", "", err
	}
	if !token.Valid || claims.ID == "" {
		return "", "", errors.New("invalid token")
	}

	return claims.ID, claims.DisplayName, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Account, error) {
	return s.repo.GetByID(ctx, id)
}

// Participant resolves an account into its room identity.
func (s *Service) Participant(ctx context.Context, id string) (room.Participant, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return room.Participant{}, fmt.Errorf("load participant %s: %w", id, err)
	}
	return room.Participant{ID: a.ID, Name: a.DisplayName, PushToken: a.PushToken}, nil
}

func (s *Service) SetPushToken(ctx context.Context, id, token string) error {
	return s.repo.UpdatePushToken(ctx, id, strings.TrimSpace(token))
}

func (s *Service) AddWallet(ctx context.Context, accountID string, req *WalletRequest) (*Wallet, error) {
	if req.Platform == "" || req.AccountNumber == "" {
		return nil, errors.New("platform and account_number are required")
	}
	return s.repo.CreateWallet(ctx, &Wallet{
		AccountID:     accountID,
		Platform:      req.Platform,
		AccountName:   req.AccountName,
		AccountNumber: req.AccountNumber,
	})
}

func (s *Service) Wallets(ctx context.Context, accountID string) ([]Wallet, error) {
	return s.repo.ListWallets(ctx, accountID)
}

package account

import (
	"errors"
	"time"
)

var (
	ErrNotFound           = errors.New("account not found")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type Account struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Password    string    `json:"-"`
	DisplayName string    `json:"display_name"`
	PushToken   string    `json:"push_token,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Wallet is a payout account a merchant can quote in a payment request.
type Wallet struct {
	ID            string    `json:"id"`
	AccountID     string    `json:"account_id"`
	Platform      string    `json:"platform"`
	AccountName   string    `json:"account_name"`
	AccountNumber string    `json:"account_number"`
	CreatedAt     time.Time `json:"created_at"`
}

type RegisterRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

type PushTokenRequest struct {
	Token string `json:"token"`
}

type WalletRequest struct {
	Platform      string `json:"platform"`
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
}

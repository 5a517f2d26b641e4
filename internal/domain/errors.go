package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrMarketNotFound      = errors.New("market not found")
	ErrInvalidPrice        = errors.New("price must be between 1 and 9999 basis points")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient available balance")
	ErrAlreadyResolved     = errors.New("market already resolved")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrDecryption          = errors.New("intent decryption failed")
	ErrRelayFailure        = errors.New("deposit credit failed")
)

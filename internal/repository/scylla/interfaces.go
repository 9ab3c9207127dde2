package scylla

import (
	"context"
	"errors"
	"time"

	"growth-service/internal/model"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrUserAlreadyExists    = errors.New("user already exists")
	ErrReferralNotFound     = errors.New("referral not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrSettingNotFound      = errors.New("setting not found")
	ErrStaleTransition      = errors.New("state changed concurrently")
	ErrInsufficientBalance  = errors.New("insufficient referral balance")
)

// UserRepository manages user profiles and their referral wallets.
type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, telegramID int64) (*model.User, error)
	UpdateScore(ctx context.Context, telegramID int64, delta int) (*model.User, error)
	SetName(ctx context.Context, telegramID int64, name string) error
	SetAge(ctx context.Context, telegramID int64, age int) error
	SetPhone(ctx context.Context, telegramID int64, phoneHash string, phoneEncrypted []byte, keyID string, registeredAt time.Time) error
	SetGoal(ctx context.Context, telegramID int64, goal string) error
	SetLevel(ctx context.Context, telegramID int64, level string) error
	MarkLeadMagnetOpened(ctx context.Context, telegramID int64) error
	GetBalance(ctx context.Context, telegramID int64) (*model.ReferralBalance, error)
	CreditBalance(ctx context.Context, telegramID int64, amount int64) error
	DebitBalance(ctx context.Context, telegramID int64, amount int64) (int64, error)
}

// ReferralRepository persists the referral ledger. Status transitions are
// guarded so a row can only move forward through its lifecycle.
type ReferralRepository interface {
	CreateIfAbsent(ctx context.Context, referral *model.Referral) (bool, error)
	GetByReferred(ctx context.Context, referredID int64) (*model.Referral, error)
	ClaimPhoneHash(ctx context.Context, phoneHash string, referredID int64) (bool, int64, error)
	MarkValid(ctx context.Context, referral *model.Referral, phoneHash string, at time.Time) (bool, error)
	MarkFlagged(ctx context.Context, referral *model.Referral) (bool, error)
	MarkPaid(ctx context.Context, referral *model.Referral, reward int64, at time.Time) (bool, error)
	CountCreatedSince(ctx context.Context, referrerID int64, since time.Time) (int, error)
	StatsByReferrer(ctx context.Context, referrerID int64) (*model.ReferralStats, error)
}

// SubscriptionRepository persists per-user subscription state.
type SubscriptionRepository interface {
	Get(ctx context.Context, telegramID int64) (*model.Subscription, error)
	CreateIfAbsent(ctx context.Context, sub *model.Subscription) error
	Activate(ctx context.Context, telegramID int64, cardToken string, price int64, startedAt, expiresAt time.Time) error
	Expire(ctx context.Context, telegramID int64) (bool, error)
	Cancel(ctx context.Context, telegramID int64, at time.Time) (bool, error)
}

// UnitOfWork accumulates event appends and companion writes so they land
// atomically, then runs post-commit hooks exactly once on success.
type UnitOfWork interface {
	AppendEvent(event *model.Event)
	OnCommit(fn func())
	Commit(ctx context.Context) error
}

// EventRepository is the append-only event log.
type EventRepository interface {
	Begin() UnitOfWork
	Append(ctx context.Context, event *model.Event) error
	HasEvent(ctx context.Context, telegramID int64, eventType string) (bool, error)
	RecentByUser(ctx context.Context, telegramID int64, limit int) ([]*model.Event, error)
}

// SettingsRepository stores admin-tunable values as strings keyed by name.
type SettingsRepository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// PaymentRepository persists payment attempts and their settlement.
type PaymentRepository interface {
	Create(ctx context.Context, payment *model.Payment) error
	Get(ctx context.Context, paymentID string) (*model.Payment, error)
	Settle(ctx context.Context, paymentID string, status model.PaymentStatus, transactionID string) (bool, error)
}

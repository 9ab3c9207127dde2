package model

import (
	"errors"
	"time"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// -------------------- LEAD SEGMENTS --------------------

type Segment string

const (
	SegmentContentOnly Segment = "content_only"
	SegmentNurture     Segment = "nurture"
	SegmentHot         Segment = "hot"
)

// Segment thresholds applied to the cumulative lead score.
const (
	NurtureScoreThreshold = 30
	HotScoreThreshold     = 60
)

// SegmentForScore derives the segment tier from a cumulative score.
func SegmentForScore(score int) Segment {
	switch {
	case score >= HotScoreThreshold:
		return SegmentHot
	case score >= NurtureScoreThreshold:
		return SegmentNurture
	default:
		return SegmentContentOnly
	}
}

// -------------------- EVENT TYPES --------------------

const (
	EventLead                 = "lead"
	EventRegistrationComplete = "registration_complete"
	EventLeadMagnetOpen       = "lead_magnet_open"
	EventVSLView              = "vsl_view"
	EventVSL50                = "vsl_50"
	EventVSL90                = "vsl_90"
	EventOfferClick           = "offer_click"
	EventPaymentOpen          = "payment_open"
	EventPaymentSuccess       = "payment_success"
	EventPaymentFail          = "payment_fail"
	EventChurn                = "churn"
	EventReferralValid        = "referral_valid"
	EventReferralPaid         = "referral_paid"
)

// Event is an immutable fact about a user action. Events are appended, never
// mutated or deleted.
type Event struct {
	TelegramID int64             `db:"telegram_id"`
	EventType  string            `db:"event_type"`
	Payload    map[string]string `db:"payload"`
	CreatedAt  time.Time         `db:"created_at"`
}

// -------------------- USER MODEL --------------------

type UserStatus string

const (
	UserStarted    UserStatus = "started"
	UserRegistered UserStatus = "registered"
)

type User struct {
	UserBucket       int        `db:"user_bucket"`
	TelegramID       int64      `db:"telegram_id"`
	Name             string     `db:"name"`
	Age              int        `db:"age"`
	PhoneHash        string     `db:"phone_hash"`
	PhoneEncrypted   []byte     `db:"phone_encrypted"`
	PhoneKeyID       string     `db:"phone_key_id"`
	Source           string     `db:"source"`   // instagram, telegram, ...
	Campaign         string     `db:"campaign"` // lead_dars, lead_checklist, lead_vsl
	ReferrerID       int64      `db:"referrer_id"`
	Status           UserStatus `db:"user_status"`
	GoalTag          string     `db:"goal_tag"`  // make_money | get_clients | automate_business
	LevelTag         string     `db:"level_tag"` // beginner | freelancer | business
	LeadScore        int        `db:"lead_score"`
	LeadSegment      Segment    `db:"lead_segment"`
	LeadMagnetOpened bool       `db:"lead_magnet_opened"`
	CreatedAt        time.Time  `db:"created_at"`
	RegisteredAt     *time.Time `db:"registered_at"`
}

// -------------------- REFERRALS --------------------

type ReferralStatus string

const (
	ReferralPending ReferralStatus = "pending"
	ReferralValid   ReferralStatus = "valid"
	ReferralPaid    ReferralStatus = "paid"
	ReferralFlagged ReferralStatus = "flagged"
)

// CanTransitionTo reports whether the referral state machine permits the
// move. Paid and flagged are terminal.
func (s ReferralStatus) CanTransitionTo(next ReferralStatus) bool {
	switch s {
	case ReferralPending:
		return next == ReferralValid || next == ReferralFlagged
	case ReferralValid:
		return next == ReferralPaid
	default:
		return false
	}
}

// Transition validates and returns the next status.
func (s ReferralStatus) Transition(next ReferralStatus) (ReferralStatus, error) {
	if !s.CanTransitionTo(next) {
		return s, ErrInvalidTransition
	}
	return next, nil
}

func (s ReferralStatus) Terminal() bool {
	return s == ReferralPaid || s == ReferralFlagged
}

// Referral tracks one introduction. At most one non-flagged referral exists
// per referred identity; a phone hash backs at most one valid/paid referral.
type Referral struct {
	ReferrerID   int64          `db:"referrer_id"` // telegram_id of who referred
	ReferredID   int64          `db:"referred_id"` // telegram_id of referred user
	Status       ReferralStatus `db:"status"`
	RewardAmount int64          `db:"reward_amount"`
	PhoneHash    string         `db:"phone_hash"`
	CreatedAt    time.Time      `db:"created_at"`
	ValidatedAt  *time.Time     `db:"validated_at"`
	PaidAt       *time.Time     `db:"paid_at"`
}

// ReferralBalance is the per-user reward wallet, in monetary units (UZS).
type ReferralBalance struct {
	TelegramID  int64 `db:"telegram_id"`
	Balance     int64 `db:"balance"`
	TotalEarned int64 `db:"total_earned"`
	TotalUsed   int64 `db:"total_used"`
}

// ReferralStats is the read-only summary for a referrer.
type ReferralStats struct {
	TotalInvited   int   `json:"total_invited"`
	ValidReferrals int   `json:"valid_referrals"`
	PaidReferrals  int   `json:"paid_referrals"`
	Balance        int64 `json:"balance"`
}

// -------------------- SUBSCRIPTIONS --------------------

type SubscriptionStatus string

const (
	SubscriptionInactive  SubscriptionStatus = "inactive"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionExpired   SubscriptionStatus = "expired"
)

// CanTransitionTo reports whether the subscription state machine permits the
// move. Any state may re-activate (payment always wins); active may expire or
// be cancelled.
func (s SubscriptionStatus) CanTransitionTo(next SubscriptionStatus) bool {
	switch next {
	case SubscriptionActive:
		return true
	case SubscriptionExpired, SubscriptionCancelled:
		return s == SubscriptionActive
	default:
		return false
	}
}

func (s SubscriptionStatus) Transition(next SubscriptionStatus) (SubscriptionStatus, error) {
	if !s.CanTransitionTo(next) {
		return s, ErrInvalidTransition
	}
	return next, nil
}

type Subscription struct {
	TelegramID  int64              `db:"telegram_id"`
	Status      SubscriptionStatus `db:"status"`
	Plan        string             `db:"plan"`
	Price       int64              `db:"price"`
	CardToken   string             `db:"card_token"`
	StartedAt   *time.Time         `db:"started_at"`
	ExpiresAt   *time.Time         `db:"expires_at"`
	CancelledAt *time.Time         `db:"cancelled_at"`
	CreatedAt   time.Time          `db:"created_at"`
}

// ActiveAt reports whether the stored record claims coverage at the given
// instant. Callers wanting the lazily-expired view go through the
// subscription service instead.
func (s *Subscription) ActiveAt(now time.Time) bool {
	if s == nil || s.Status != SubscriptionActive {
		return false
	}
	return s.ExpiresAt != nil && s.ExpiresAt.After(now)
}

// -------------------- PAYMENTS --------------------

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

type Payment struct {
	PaymentID        string        `db:"payment_id"` // UUID
	TelegramID       int64         `db:"telegram_id"`
	Amount           int64         `db:"amount"`
	ReferralDiscount int64         `db:"referral_discount"`
	Provider         string        `db:"provider"` // click | payme
	Status           PaymentStatus `db:"status"`
	TransactionID    string        `db:"transaction_id"`
	CreatedAt        time.Time     `db:"created_at"`
	UpdatedAt        time.Time     `db:"updated_at"`
}

// -------------------- PRICING --------------------

// PriceQuote is a pure price computation; producing one mutates nothing.
type PriceQuote struct {
	BasePrice       int64 `json:"base_price"`
	ReferralBalance int64 `json:"referral_balance"`
	Discount        int64 `json:"discount"`
	FinalPrice      int64 `json:"final_price"`
}

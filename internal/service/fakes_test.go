package service

import (
	"context"
	"sync"
	"time"

	"growth-service/internal/model"
	"growth-service/internal/repository/scylla"
)

// In-memory repository fakes. They reproduce the guard semantics of the real
// repositories (idempotent inserts, one-way status moves, clamped debits) so
// service behavior under races and retries can be exercised without a
// database.

type fakeUserRepo struct {
	mu       sync.Mutex
	users    map[int64]*model.User
	balances map[int64]*model.ReferralBalance
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		users:    make(map[int64]*model.User),
		balances: make(map[int64]*model.ReferralBalance),
	}
}

func (f *fakeUserRepo) CreateUser(ctx context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[user.TelegramID]; ok {
		return scylla.ErrUserAlreadyExists
	}
	if user.Status == "" {
		user.Status = model.UserStarted
	}
	if user.LeadSegment == "" {
		user.LeadSegment = model.SegmentContentOnly
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	clone := *user
	f.users[user.TelegramID] = &clone
	f.balances[user.TelegramID] = &model.ReferralBalance{TelegramID: user.TelegramID}
	return nil
}

func (f *fakeUserRepo) GetUser(ctx context.Context, telegramID int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[telegramID]
	if !ok {
		return nil, scylla.ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

func (f *fakeUserRepo) UpdateScore(ctx context.Context, telegramID int64, delta int) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[telegramID]
	if !ok {
		return nil, scylla.ErrUserNotFound
	}
	user.LeadScore += delta
	if user.LeadScore < 0 {
		user.LeadScore = 0
	}
	user.LeadSegment = model.SegmentForScore(user.LeadScore)
	clone := *user
	return &clone, nil
}

func (f *fakeUserRepo) SetName(ctx context.Context, telegramID int64, name string) error {
	return f.mutate(telegramID, func(u *model.User) { u.Name = name })
}

func (f *fakeUserRepo) SetAge(ctx context.Context, telegramID int64, age int) error {
	return f.mutate(telegramID, func(u *model.User) { u.Age = age })
}

func (f *fakeUserRepo) SetPhone(ctx context.Context, telegramID int64, phoneHash string, phoneEncrypted []byte, keyID string, registeredAt time.Time) error {
	return f.mutate(telegramID, func(u *model.User) {
		u.PhoneHash = phoneHash
		u.PhoneEncrypted = phoneEncrypted
		u.PhoneKeyID = keyID
		u.Status = model.UserRegistered
		u.RegisteredAt = &registeredAt
	})
}

func (f *fakeUserRepo) SetGoal(ctx context.Context, telegramID int64, goal string) error {
	return f.mutate(telegramID, func(u *model.User) { u.GoalTag = goal })
}

func (f *fakeUserRepo) SetLevel(ctx context.Context, telegramID int64, level string) error {
	return f.mutate(telegramID, func(u *model.User) { u.LevelTag = level })
}

func (f *fakeUserRepo) MarkLeadMagnetOpened(ctx context.Context, telegramID int64) error {
	return f.mutate(telegramID, func(u *model.User) { u.LeadMagnetOpened = true })
}

func (f *fakeUserRepo) mutate(telegramID int64, fn func(*model.User)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[telegramID]
	if !ok {
		return scylla.ErrUserNotFound
	}
	fn(user)
	return nil
}

func (f *fakeUserRepo) GetBalance(ctx context.Context, telegramID int64) (*model.ReferralBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	balance, ok := f.balances[telegramID]
	if !ok {
		return &model.ReferralBalance{TelegramID: telegramID}, nil
	}
	clone := *balance
	return &clone, nil
}

func (f *fakeUserRepo) CreditBalance(ctx context.Context, telegramID int64, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	balance, ok := f.balances[telegramID]
	if !ok {
		balance = &model.ReferralBalance{TelegramID: telegramID}
		f.balances[telegramID] = balance
	}
	balance.Balance += amount
	balance.TotalEarned += amount
	return nil
}

func (f *fakeUserRepo) DebitBalance(ctx context.Context, telegramID int64, amount int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	balance, ok := f.balances[telegramID]
	if !ok || balance.Balance <= 0 || amount <= 0 {
		return 0, nil
	}
	debit := amount
	if debit > balance.Balance {
		debit = balance.Balance
	}
	balance.Balance -= debit
	balance.TotalUsed += debit
	return debit, nil
}

type fakeReferralRepo struct {
	mu        sync.Mutex
	referrals map[int64]*model.Referral
	claims    map[string]int64
}

func newFakeReferralRepo() *fakeReferralRepo {
	return &fakeReferralRepo{
		referrals: make(map[int64]*model.Referral),
		claims:    make(map[string]int64),
	}
}

func (f *fakeReferralRepo) CreateIfAbsent(ctx context.Context, referral *model.Referral) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.referrals[referral.ReferredID]; ok {
		return false, nil
	}
	referral.Status = model.ReferralPending
	if referral.CreatedAt.IsZero() {
		referral.CreatedAt = time.Now().UTC()
	}
	clone := *referral
	f.referrals[referral.ReferredID] = &clone
	return true, nil
}

func (f *fakeReferralRepo) GetByReferred(ctx context.Context, referredID int64) (*model.Referral, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	referral, ok := f.referrals[referredID]
	if !ok {
		return nil, scylla.ErrReferralNotFound
	}
	clone := *referral
	return &clone, nil
}

func (f *fakeReferralRepo) ClaimPhoneHash(ctx context.Context, phoneHash string, referredID int64) (bool, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if holder, ok := f.claims[phoneHash]; ok {
		return holder == referredID, holder, nil
	}
	f.claims[phoneHash] = referredID
	return true, referredID, nil
}

func (f *fakeReferralRepo) transition(referredID int64, from, to model.ReferralStatus, fn func(*model.Referral)) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	referral, ok := f.referrals[referredID]
	if !ok || referral.Status != from {
		return false, nil
	}
	referral.Status = to
	if fn != nil {
		fn(referral)
	}
	return true, nil
}

func (f *fakeReferralRepo) MarkValid(ctx context.Context, referral *model.Referral, phoneHash string, at time.Time) (bool, error) {
	return f.transition(referral.ReferredID, model.ReferralPending, model.ReferralValid, func(r *model.Referral) {
		r.PhoneHash = phoneHash
		r.ValidatedAt = &at
	})
}

func (f *fakeReferralRepo) MarkFlagged(ctx context.Context, referral *model.Referral) (bool, error) {
	return f.transition(referral.ReferredID, model.ReferralPending, model.ReferralFlagged, nil)
}

func (f *fakeReferralRepo) MarkPaid(ctx context.Context, referral *model.Referral, reward int64, at time.Time) (bool, error) {
	return f.transition(referral.ReferredID, model.ReferralValid, model.ReferralPaid, func(r *model.Referral) {
		r.RewardAmount = reward
		r.PaidAt = &at
	})
}

func (f *fakeReferralRepo) CountCreatedSince(ctx context.Context, referrerID int64, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, referral := range f.referrals {
		if referral.ReferrerID == referrerID && !referral.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (f *fakeReferralRepo) StatsByReferrer(ctx context.Context, referrerID int64) (*model.ReferralStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &model.ReferralStats{}
	for _, referral := range f.referrals {
		if referral.ReferrerID != referrerID {
			continue
		}
		stats.TotalInvited++
		switch referral.Status {
		case model.ReferralValid:
			stats.ValidReferrals++
		case model.ReferralPaid:
			stats.PaidReferrals++
		}
	}
	return stats, nil
}

type fakeSubscriptionRepo struct {
	mu   sync.Mutex
	subs map[int64]*model.Subscription
}

func newFakeSubscriptionRepo() *fakeSubscriptionRepo {
	return &fakeSubscriptionRepo{subs: make(map[int64]*model.Subscription)}
}

func (f *fakeSubscriptionRepo) Get(ctx context.Context, telegramID int64) (*model.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[telegramID]
	if !ok {
		return nil, scylla.ErrSubscriptionNotFound
	}
	clone := *sub
	return &clone, nil
}

func (f *fakeSubscriptionRepo) CreateIfAbsent(ctx context.Context, sub *model.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[sub.TelegramID]; ok {
		return nil
	}
	if sub.Status == "" {
		sub.Status = model.SubscriptionInactive
	}
	clone := *sub
	f.subs[sub.TelegramID] = &clone
	return nil
}

func (f *fakeSubscriptionRepo) Activate(ctx context.Context, telegramID int64, cardToken string, price int64, startedAt, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[telegramID]
	if !ok {
		sub = &model.Subscription{TelegramID: telegramID}
		f.subs[telegramID] = sub
	}
	sub.Status = model.SubscriptionActive
	sub.CardToken = cardToken
	sub.Price = price
	sub.StartedAt = &startedAt
	sub.ExpiresAt = &expiresAt
	return nil
}

func (f *fakeSubscriptionRepo) Expire(ctx context.Context, telegramID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[telegramID]
	if !ok || sub.Status != model.SubscriptionActive {
		return false, nil
	}
	sub.Status = model.SubscriptionExpired
	return true, nil
}

func (f *fakeSubscriptionRepo) Cancel(ctx context.Context, telegramID int64, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[telegramID]
	if !ok || sub.Status != model.SubscriptionActive {
		return false, nil
	}
	sub.Status = model.SubscriptionCancelled
	sub.CancelledAt = &at
	return true, nil
}

type fakeUnitOfWork struct {
	repo     *fakeEventRepo
	events   []*model.Event
	onCommit []func()
}

func (u *fakeUnitOfWork) AppendEvent(event *model.Event) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	u.events = append(u.events, event)
}

func (u *fakeUnitOfWork) OnCommit(fn func()) { u.onCommit = append(u.onCommit, fn) }

func (u *fakeUnitOfWork) Commit(ctx context.Context) error {
	u.repo.mu.Lock()
	u.repo.events = append(u.repo.events, u.events...)
	u.repo.mu.Unlock()
	for _, fn := range u.onCommit {
		fn()
	}
	return nil
}

type fakeEventRepo struct {
	mu     sync.Mutex
	events []*model.Event
}

func newFakeEventRepo() *fakeEventRepo { return &fakeEventRepo{} }

func (f *fakeEventRepo) Begin() scylla.UnitOfWork { return &fakeUnitOfWork{repo: f} }

func (f *fakeEventRepo) Append(ctx context.Context, event *model.Event) error {
	uow := f.Begin()
	uow.AppendEvent(event)
	return uow.Commit(ctx)
}

func (f *fakeEventRepo) HasEvent(ctx context.Context, telegramID int64, eventType string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, event := range f.events {
		if event.TelegramID == telegramID && event.EventType == eventType {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeEventRepo) RecentByUser(ctx context.Context, telegramID int64, limit int) ([]*model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Event
	for i := len(f.events) - 1; i >= 0 && len(out) < limit; i-- {
		if f.events[i].TelegramID == telegramID {
			out = append(out, f.events[i])
		}
	}
	return out, nil
}

func (f *fakeEventRepo) typesFor(telegramID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var types []string
	for _, event := range f.events {
		if event.TelegramID == telegramID {
			types = append(types, event.EventType)
		}
	}
	return types
}

type fakePaymentRepo struct {
	mu       sync.Mutex
	payments map[string]*model.Payment
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{payments: make(map[string]*model.Payment)}
}

func (f *fakePaymentRepo) Create(ctx context.Context, payment *model.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	payment.Status = model.PaymentPending
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	clone := *payment
	f.payments[payment.PaymentID] = &clone
	return nil
}

func (f *fakePaymentRepo) Get(ctx context.Context, paymentID string) (*model.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	payment, ok := f.payments[paymentID]
	if !ok {
		return nil, scylla.ErrPaymentNotFound
	}
	clone := *payment
	return &clone, nil
}

func (f *fakePaymentRepo) Settle(ctx context.Context, paymentID string, status model.PaymentStatus, transactionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	payment, ok := f.payments[paymentID]
	if !ok || payment.Status != model.PaymentPending {
		return false, nil
	}
	payment.Status = status
	payment.TransactionID = transactionID
	payment.UpdatedAt = time.Now().UTC()
	return true, nil
}

// stubSettings is a fixed-value SettingsProvider.
type stubSettings struct {
	reward int64
	base   int64
	values map[string]string
}

func (s *stubSettings) ReferralReward(ctx context.Context) int64 { return s.reward }
func (s *stubSettings) BasePrice(ctx context.Context) int64      { return s.base }

func (s *stubSettings) Set(ctx context.Context, key, value string) error {
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[key] = value
	return nil
}

func (s *stubSettings) Get(ctx context.Context, key string) (string, error) {
	value, ok := s.values[key]
	if !ok {
		return "", scylla.ErrSettingNotFound
	}
	return value, nil
}

package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"growth-service/internal/bucketing"
	"growth-service/internal/model"
	"growth-service/internal/util"
)

const casRetryLimit = 5

type userRepository struct {
	client  *ScyllaClient
	buckets *bucketing.Manager
}

func NewUserRepository(client *ScyllaClient, buckets *bucketing.Manager) UserRepository {
	return &userRepository{client: client, buckets: buckets}
}

func (r *userRepository) CreateUser(ctx context.Context, user *model.User) error {
	user.UserBucket = r.buckets.Bucket(user.TelegramID)
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if user.Status == "" {
		user.Status = model.UserStarted
	}
	if user.LeadSegment == "" {
		user.LeadSegment = model.SegmentContentOnly
	}

	applied, err := r.client.Prepared.CreateUser.Bind(
		user.UserBucket, user.TelegramID, user.Name, user.Age, user.PhoneHash,
		user.PhoneEncrypted, user.PhoneKeyID, user.Source, user.Campaign,
		user.ReferrerID, string(user.Status), user.GoalTag, user.LevelTag,
		user.LeadScore, string(user.LeadSegment), user.LeadMagnetOpened,
		user.CreatedAt, user.RegisteredAt,
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	if !applied {
		return ErrUserAlreadyExists
	}

	// A wallet row follows every user so credit/debit never has to create one.
	if err := r.client.ExecuteWithRetry(
		r.client.Prepared.CreateBalance.Bind(user.TelegramID).WithContext(ctx),
		execRetryLimit); err != nil {
		return fmt.Errorf("failed to create referral balance: %w", err)
	}

	util.Info("User created",
		util.Int64("telegram_id", user.TelegramID),
		util.Int("user_bucket", user.UserBucket),
		util.String("source", user.Source))
	return nil
}

func (r *userRepository) GetUser(ctx context.Context, telegramID int64) (*model.User, error) {
	bucket := r.buckets.Bucket(telegramID)
	user := &model.User{}
	var status, segment string

	err := r.client.ScanWithRetry(
		r.client.Prepared.GetUser.Bind(bucket, telegramID).WithContext(ctx),
		&user.UserBucket, &user.TelegramID, &user.Name, &user.Age,
		&user.PhoneHash, &user.PhoneEncrypted, &user.PhoneKeyID, &user.Source,
		&user.Campaign, &user.ReferrerID, &status, &user.GoalTag,
		&user.LevelTag, &user.LeadScore, &segment, &user.LeadMagnetOpened,
		&user.CreatedAt, &user.RegisteredAt,
	)
	if err == gocql.ErrNotFound {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.Status = model.UserStatus(status)
	user.LeadSegment = model.Segment(segment)
	return user, nil
}

// UpdateScore adds delta to the user's lead score and recomputes the segment.
// The write is conditioned on the score it read, so concurrent increments
// retry instead of overwriting each other. Scores never decrease below zero.
func (r *userRepository) UpdateScore(ctx context.Context, telegramID int64, delta int) (*model.User, error) {
	bucket := r.buckets.Bucket(telegramID)

	for attempt := 0; attempt < casRetryLimit; attempt++ {
		user, err := r.GetUser(ctx, telegramID)
		if err != nil {
			return nil, err
		}

		newScore := user.LeadScore + delta
		if newScore < 0 {
			newScore = 0
		}
		newSegment := model.SegmentForScore(newScore)

		applied, err := r.client.Prepared.UpdateScore.Bind(
			newScore, string(newSegment), bucket, telegramID, user.LeadScore,
		).WithContext(ctx).MapScanCAS(map[string]interface{}{})
		if err != nil {
			return nil, fmt.Errorf("failed to update lead score: %w", err)
		}
		if applied {
			user.LeadScore = newScore
			user.LeadSegment = newSegment
			return user, nil
		}

		util.Debug("Lead score CAS lost, retrying",
			util.Int64("telegram_id", telegramID),
			util.Int("attempt", attempt+1))
	}

	return nil, fmt.Errorf("update lead score for %d: %w", telegramID, ErrStaleTransition)
}

func (r *userRepository) SetName(ctx context.Context, telegramID int64, name string) error {
	bucket := r.buckets.Bucket(telegramID)
	if err := r.client.ExecuteWithRetry(
		r.client.Prepared.SetUserName.Bind(name, bucket, telegramID).WithContext(ctx),
		execRetryLimit); err != nil {
		return fmt.Errorf("failed to set user name: %w", err)
	}
	return nil
}

func (r *userRepository) SetAge(ctx context.Context, telegramID int64, age int) error {
	bucket := r.buckets.Bucket(telegramID)
	if err := r.client.ExecuteWithRetry(
		r.client.Prepared.SetUserAge.Bind(age, bucket, telegramID).WithContext(ctx),
		execRetryLimit); err != nil {
		return fmt.Errorf("failed to set user age: %w", err)
	}
	return nil
}

func (r *userRepository) SetPhone(ctx context.Context, telegramID int64, phoneHash string, phoneEncrypted []byte, keyID string, registeredAt time.Time) error {
	bucket := r.buckets.Bucket(telegramID)
	if err := r.client.ExecuteWithRetry(r.client.Prepared.SetUserPhone.Bind(
		phoneHash, phoneEncrypted, keyID, string(model.UserRegistered),
		registeredAt, bucket, telegramID,
	).WithContext(ctx), execRetryLimit); err != nil {
		return fmt.Errorf("failed to set user phone: %w", err)
	}
	return nil
}

func (r *userRepository) SetGoal(ctx context.Context, telegramID int64, goal string) error {
	bucket := r.buckets.Bucket(telegramID)
	if err := r.client.ExecuteWithRetry(
		r.client.Prepared.SetUserGoal.Bind(goal, bucket, telegramID).WithContext(ctx),
		execRetryLimit); err != nil {
		return fmt.Errorf("failed to set goal tag: %w", err)
	}
	return nil
}

func (r *userRepository) SetLevel(ctx context.Context, telegramID int64, level string) error {
	bucket := r.buckets.Bucket(telegramID)
	if err := r.client.ExecuteWithRetry(
		r.client.Prepared.SetUserLevel.Bind(level, bucket, telegramID).WithContext(ctx),
		execRetryLimit); err != nil {
		return fmt.Errorf("failed to set level tag: %w", err)
	}
	return nil
}

func (r *userRepository) MarkLeadMagnetOpened(ctx context.Context, telegramID int64) error {
	bucket := r.buckets.Bucket(telegramID)
	if err := r.client.ExecuteWithRetry(
		r.client.Prepared.MarkLeadMagnet.Bind(bucket, telegramID).WithContext(ctx),
		execRetryLimit); err != nil {
		return fmt.Errorf("failed to mark lead magnet opened: %w", err)
	}
	return nil
}

func (r *userRepository) GetBalance(ctx context.Context, telegramID int64) (*model.ReferralBalance, error) {
	balance := &model.ReferralBalance{}
	err := r.client.ScanWithRetry(
		r.client.Prepared.GetBalance.Bind(telegramID).WithContext(ctx),
		&balance.TelegramID, &balance.Balance, &balance.TotalEarned, &balance.TotalUsed,
	)
	if err == gocql.ErrNotFound {
		// Users created before the wallet table existed read as empty.
		return &model.ReferralBalance{TelegramID: telegramID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get referral balance: %w", err)
	}
	return balance, nil
}

func (r *userRepository) CreditBalance(ctx context.Context, telegramID int64, amount int64) error {
	if amount <= 0 {
		return nil
	}

	for attempt := 0; attempt < casRetryLimit; attempt++ {
		if err := r.client.ExecuteWithRetry(
			r.client.Prepared.CreateBalance.Bind(telegramID).WithContext(ctx),
			execRetryLimit); err != nil {
			return fmt.Errorf("failed to ensure referral balance: %w", err)
		}

		current, err := r.GetBalance(ctx, telegramID)
		if err != nil {
			return err
		}

		applied, err := r.client.Prepared.CreditBalance.Bind(
			current.Balance+amount, current.TotalEarned+amount,
			telegramID, current.Balance, current.TotalEarned,
		).WithContext(ctx).MapScanCAS(map[string]interface{}{})
		if err != nil {
			return fmt.Errorf("failed to credit referral balance: %w", err)
		}
		if applied {
			util.Info("Referral balance credited",
				util.Int64("telegram_id", telegramID),
				util.Int64("amount", amount),
				util.Int64("balance", current.Balance+amount))
			return nil
		}
	}

	return fmt.Errorf("credit balance for %d: %w", telegramID, ErrStaleTransition)
}

// DebitBalance withdraws up to amount from the wallet and returns how much
// was actually taken. It never drives the balance negative.
func (r *userRepository) DebitBalance(ctx context.Context, telegramID int64, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, nil
	}

	for attempt := 0; attempt < casRetryLimit; attempt++ {
		current, err := r.GetBalance(ctx, telegramID)
		if err != nil {
			return 0, err
		}
		if current.Balance <= 0 {
			return 0, nil
		}

		debit := amount
		if debit > current.Balance {
			debit = current.Balance
		}

		applied, err := r.client.Prepared.DebitBalance.Bind(
			current.Balance-debit, current.TotalUsed+debit,
			telegramID, current.Balance, current.TotalUsed,
		).WithContext(ctx).MapScanCAS(map[string]interface{}{})
		if err != nil {
			return 0, fmt.Errorf("failed to debit referral balance: %w", err)
		}
		if applied {
			util.Info("Referral balance debited",
				util.Int64("telegram_id", telegramID),
				util.Int64("amount", debit),
				util.Int64("balance", current.Balance-debit))
			return debit, nil
		}
	}

	return 0, fmt.Errorf("debit balance for %d: %w", telegramID, ErrStaleTransition)
}

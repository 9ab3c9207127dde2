package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"growth-service/internal/model"
	"growth-service/internal/util"
)

type referralRepository struct {
	client *ScyllaClient
}

func NewReferralRepository(client *ScyllaClient) ReferralRepository {
	return &referralRepository{client: client}
}

// CreateIfAbsent records a new pending referral, keyed by the referred user.
// Returns false when that user was already referred; the existing row wins.
func (r *referralRepository) CreateIfAbsent(ctx context.Context, referral *model.Referral) (bool, error) {
	if referral.CreatedAt.IsZero() {
		referral.CreatedAt = time.Now().UTC()
	}
	referral.Status = model.ReferralPending

	applied, err := r.client.Prepared.CreateReferral.Bind(
		referral.ReferredID, referral.ReferrerID,
		string(model.ReferralPending), referral.CreatedAt,
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return false, fmt.Errorf("failed to create referral: %w", err)
	}
	if !applied {
		return false, nil
	}

	// Denormalized view for per-referrer listing and velocity counting.
	if err := r.client.ExecuteWithRetry(r.client.Prepared.IndexReferral.Bind(
		referral.ReferrerID, referral.CreatedAt, referral.ReferredID,
		string(model.ReferralPending),
	).WithContext(ctx), execRetryLimit); err != nil {
		return false, fmt.Errorf("failed to index referral: %w", err)
	}

	util.Info("Referral created",
		util.Int64("referrer_id", referral.ReferrerID),
		util.Int64("referred_id", referral.ReferredID))
	return true, nil
}

func (r *referralRepository) GetByReferred(ctx context.Context, referredID int64) (*model.Referral, error) {
	referral := &model.Referral{}
	var status string

	err := r.client.ScanWithRetry(
		r.client.Prepared.GetReferral.Bind(referredID).WithContext(ctx),
		&referral.ReferredID, &referral.ReferrerID, &status,
		&referral.RewardAmount, &referral.PhoneHash, &referral.CreatedAt,
		&referral.ValidatedAt, &referral.PaidAt,
	)
	if err == gocql.ErrNotFound {
		return nil, ErrReferralNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get referral: %w", err)
	}

	referral.Status = model.ReferralStatus(status)
	return referral, nil
}

// ClaimPhoneHash reserves a phone hash for one referred user. Returns whether
// the claim applied and, if not, who holds it: a second account sharing a
// phone number is the self-referral signature.
func (r *referralRepository) ClaimPhoneHash(ctx context.Context, phoneHash string, referredID int64) (bool, int64, error) {
	previous := map[string]interface{}{}
	applied, err := r.client.Prepared.ClaimPhoneHash.Bind(
		phoneHash, referredID, time.Now().UTC(),
	).WithContext(ctx).MapScanCAS(previous)
	if err != nil {
		return false, 0, fmt.Errorf("failed to claim phone hash: %w", err)
	}
	if applied {
		return true, referredID, nil
	}

	holder, _ := previous["referred_id"].(int64)
	if holder == referredID {
		// Re-validation by the same account keeps its own claim.
		return true, holder, nil
	}
	return false, holder, nil
}

func (r *referralRepository) MarkValid(ctx context.Context, referral *model.Referral, phoneHash string, at time.Time) (bool, error) {
	applied, err := r.client.Prepared.MarkReferralValid.Bind(
		string(model.ReferralValid), phoneHash, at,
		referral.ReferredID, string(model.ReferralPending),
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return false, fmt.Errorf("failed to mark referral valid: %w", err)
	}
	if applied {
		r.syncIndex(ctx, referral, model.ReferralValid)
	}
	return applied, nil
}

func (r *referralRepository) MarkFlagged(ctx context.Context, referral *model.Referral) (bool, error) {
	applied, err := r.client.Prepared.MarkReferralFlag.Bind(
		string(model.ReferralFlagged),
		referral.ReferredID, string(model.ReferralPending),
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return false, fmt.Errorf("failed to flag referral: %w", err)
	}
	if applied {
		r.syncIndex(ctx, referral, model.ReferralFlagged)
	}
	return applied, nil
}

func (r *referralRepository) MarkPaid(ctx context.Context, referral *model.Referral, reward int64, at time.Time) (bool, error) {
	applied, err := r.client.Prepared.MarkReferralPaid.Bind(
		string(model.ReferralPaid), reward, at,
		referral.ReferredID, string(model.ReferralValid),
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return false, fmt.Errorf("failed to mark referral paid: %w", err)
	}
	if applied {
		r.syncIndex(ctx, referral, model.ReferralPaid)
	}
	return applied, nil
}

func (r *referralRepository) syncIndex(ctx context.Context, referral *model.Referral, status model.ReferralStatus) {
	if err := r.client.ExecuteWithRetry(r.client.Prepared.SyncIndexStatus.Bind(
		string(status), referral.ReferrerID, referral.CreatedAt, referral.ReferredID,
	).WithContext(ctx), execRetryLimit); err != nil {
		// The referrals table is the source of truth; the index heals on the
		// next status write.
		util.Warn("Failed to sync referral index status",
			util.Int64("referred_id", referral.ReferredID),
			util.String("status", string(status)),
			util.ErrorField(err))
	}
}

func (r *referralRepository) CountCreatedSince(ctx context.Context, referrerID int64, since time.Time) (int, error) {
	iter := r.client.Prepared.ListByReferrer.Bind(referrerID).WithContext(ctx).Iter()

	var createdAt time.Time
	var referredID int64
	var status string
	count := 0
	for iter.Scan(&createdAt, &referredID, &status) {
		if !createdAt.Before(since) {
			count++
		}
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("failed to count recent referrals: %w", err)
	}
	return count, nil
}

func (r *referralRepository) StatsByReferrer(ctx context.Context, referrerID int64) (*model.ReferralStats, error) {
	iter := r.client.Prepared.ListByReferrer.Bind(referrerID).WithContext(ctx).Iter()

	stats := &model.ReferralStats{}
	var createdAt time.Time
	var referredID int64
	var status string
	for iter.Scan(&createdAt, &referredID, &status) {
		stats.TotalInvited++
		switch model.ReferralStatus(status) {
		case model.ReferralValid:
			stats.ValidReferrals++
		case model.ReferralPaid:
			stats.PaidReferrals++
		}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to load referral stats: %w", err)
	}
	return stats, nil
}

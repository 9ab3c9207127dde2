package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"growth-service/internal/config"
	"growth-service/internal/util"
)

// PreparedStatements holds the statements used by the repositories. Writes
// that must win a race carry LWT conditions; everything else is a plain
// upsert.
type PreparedStatements struct {
	CreateUser        *gocql.Query
	GetUser           *gocql.Query
	UpdateScore       *gocql.Query
	SetUserName       *gocql.Query
	SetUserAge        *gocql.Query
	SetUserPhone      *gocql.Query
	SetUserGoal       *gocql.Query
	SetUserLevel      *gocql.Query
	MarkLeadMagnet    *gocql.Query
	CreateBalance     *gocql.Query
	GetBalance        *gocql.Query
	CreditBalance     *gocql.Query
	DebitBalance      *gocql.Query
	CreateReferral    *gocql.Query
	GetReferral       *gocql.Query
	MarkReferralValid *gocql.Query
	MarkReferralFlag  *gocql.Query
	MarkReferralPaid  *gocql.Query
	IndexReferral     *gocql.Query
	SyncIndexStatus   *gocql.Query
	ListByReferrer    *gocql.Query
	ClaimPhoneHash    *gocql.Query
	GetSubscription   *gocql.Query
	InitSubscription  *gocql.Query
	ActivateSub       *gocql.Query
	ExpireSub         *gocql.Query
	CancelSub         *gocql.Query
	InsertEvent       *gocql.Query
	InsertEventByType *gocql.Query
	HasEvent          *gocql.Query
	RecentEvents      *gocql.Query
	GetSetting        *gocql.Query
	SetSetting        *gocql.Query
	CreatePayment     *gocql.Query
	GetPayment        *gocql.Query
	SettlePayment     *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.MaxRoutingKeyInfo = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if !cfg.IsDevelopment() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 "/root/certs/ca.pem",
			CertPath:               "/root/certs/server.pem",
			KeyPath:                "/root/certs/server.key",
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.CreateUser = s.Session.Query(`
	INSERT INTO users (
		user_bucket, telegram_id, name, age, phone_hash, phone_encrypted,
		phone_key_id, source, campaign, referrer_id, user_status, goal_tag,
		level_tag, lead_score, lead_segment, lead_magnet_opened, created_at,
		registered_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`)

	prepared.GetUser = s.Session.Query(`
	SELECT user_bucket, telegram_id, name, age, phone_hash, phone_encrypted,
		phone_key_id, source, campaign, referrer_id, user_status, goal_tag,
		level_tag, lead_score, lead_segment, lead_magnet_opened, created_at,
		registered_at
	FROM users WHERE user_bucket = ? AND telegram_id = ?`)

	// Compare-and-set on the previous score keeps concurrent increments
	// from losing updates.
	prepared.UpdateScore = s.Session.Query(`
	UPDATE users SET lead_score = ?, lead_segment = ?
	WHERE user_bucket = ? AND telegram_id = ? IF lead_score = ?`)

	prepared.SetUserName = s.Session.Query(`
	UPDATE users SET name = ? WHERE user_bucket = ? AND telegram_id = ?`)

	prepared.SetUserAge = s.Session.Query(`
	UPDATE users SET age = ? WHERE user_bucket = ? AND telegram_id = ?`)

	prepared.SetUserPhone = s.Session.Query(`
	UPDATE users SET phone_hash = ?, phone_encrypted = ?, phone_key_id = ?,
		user_status = ?, registered_at = ?
	WHERE user_bucket = ? AND telegram_id = ?`)

	prepared.SetUserGoal = s.Session.Query(`
	UPDATE users SET goal_tag = ? WHERE user_bucket = ? AND telegram_id = ?`)

	prepared.SetUserLevel = s.Session.Query(`
	UPDATE users SET level_tag = ? WHERE user_bucket = ? AND telegram_id = ?`)

	prepared.MarkLeadMagnet = s.Session.Query(`
	UPDATE users SET lead_magnet_opened = true
	WHERE user_bucket = ? AND telegram_id = ?`)

	prepared.CreateBalance = s.Session.Query(`
	INSERT INTO referral_balances (telegram_id, balance, total_earned, total_used)
	VALUES (?, 0, 0, 0) IF NOT EXISTS`)

	prepared.GetBalance = s.Session.Query(`
	SELECT telegram_id, balance, total_earned, total_used
	FROM referral_balances WHERE telegram_id = ?`)

	prepared.CreditBalance = s.Session.Query(`
	UPDATE referral_balances SET balance = ?, total_earned = ?
	WHERE telegram_id = ? IF balance = ? AND total_earned = ?`)

	prepared.DebitBalance = s.Session.Query(`
	UPDATE referral_balances SET balance = ?, total_used = ?
	WHERE telegram_id = ? IF balance = ? AND total_used = ?`)

	// Uniqueness on the referred identity: the insert only applies once.
	prepared.CreateReferral = s.Session.Query(`
	INSERT INTO referrals (referred_id, referrer_id, status, reward_amount,
		phone_hash, created_at)
	VALUES (?, ?, ?, 0, '', ?) IF NOT EXISTS`)

	prepared.GetReferral = s.Session.Query(`
	SELECT referred_id, referrer_id, status, reward_amount, phone_hash,
		created_at, validated_at, paid_at
	FROM referrals WHERE referred_id = ?`)

	prepared.MarkReferralValid = s.Session.Query(`
	UPDATE referrals SET status = ?, phone_hash = ?, validated_at = ?
	WHERE referred_id = ? IF status = ?`)

	prepared.MarkReferralFlag = s.Session.Query(`
	UPDATE referrals SET status = ? WHERE referred_id = ? IF status = ?`)

	prepared.MarkReferralPaid = s.Session.Query(`
	UPDATE referrals SET status = ?, reward_amount = ?, paid_at = ?
	WHERE referred_id = ? IF status = ?`)

	prepared.IndexReferral = s.Session.Query(`
	INSERT INTO referrals_by_referrer (referrer_id, created_at, referred_id, status)
	VALUES (?, ?, ?, ?)`)

	prepared.SyncIndexStatus = s.Session.Query(`
	UPDATE referrals_by_referrer SET status = ?
	WHERE referrer_id = ? AND created_at = ? AND referred_id = ?`)

	prepared.ListByReferrer = s.Session.Query(`
	SELECT created_at, referred_id, status
	FROM referrals_by_referrer WHERE referrer_id = ?`)

	// One phone hash backs at most one valid/paid referral.
	prepared.ClaimPhoneHash = s.Session.Query(`
	INSERT INTO referral_phone_claims (phone_hash, referred_id, claimed_at)
	VALUES (?, ?, ?) IF NOT EXISTS`)

	prepared.GetSubscription = s.Session.Query(`
	SELECT telegram_id, status, plan, price, card_token, started_at,
		expires_at, cancelled_at, created_at
	FROM subscriptions WHERE telegram_id = ?`)

	prepared.InitSubscription = s.Session.Query(`
	INSERT INTO subscriptions (telegram_id, status, plan, price, created_at)
	VALUES (?, ?, ?, ?, ?) IF NOT EXISTS`)

	prepared.ActivateSub = s.Session.Query(`
	UPDATE subscriptions SET status = ?, card_token = ?, started_at = ?,
		expires_at = ?, price = ?
	WHERE telegram_id = ?`)

	prepared.ExpireSub = s.Session.Query(`
	UPDATE subscriptions SET status = ? WHERE telegram_id = ? IF status = ?`)

	prepared.CancelSub = s.Session.Query(`
	UPDATE subscriptions SET status = ?, cancelled_at = ?
	WHERE telegram_id = ? IF status = ?`)

	prepared.InsertEvent = s.Session.Query(`
	INSERT INTO events (telegram_id, created_at, event_type, payload)
	VALUES (?, ?, ?, ?)`)

	prepared.InsertEventByType = s.Session.Query(`
	INSERT INTO user_events_by_type (telegram_id, event_type, created_at)
	VALUES (?, ?, ?)`)

	prepared.HasEvent = s.Session.Query(`
	SELECT created_at FROM user_events_by_type
	WHERE telegram_id = ? AND event_type = ? LIMIT 1`)

	prepared.RecentEvents = s.Session.Query(`
	SELECT created_at, event_type, payload
	FROM events WHERE telegram_id = ? LIMIT ?`)

	prepared.GetSetting = s.Session.Query(`
	SELECT value FROM admin_settings WHERE key = ?`)

	prepared.SetSetting = s.Session.Query(`
	INSERT INTO admin_settings (key, value, updated_at) VALUES (?, ?, ?)`)

	prepared.CreatePayment = s.Session.Query(`
	INSERT INTO payments (payment_id, telegram_id, amount, referral_discount,
		provider, status, transaction_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, '', ?, ?)`)

	prepared.GetPayment = s.Session.Query(`
	SELECT payment_id, telegram_id, amount, referral_discount, provider,
		status, transaction_id, created_at, updated_at
	FROM payments WHERE payment_id = ?`)

	prepared.SettlePayment = s.Session.Query(`
	UPDATE payments SET status = ?, transaction_id = ?, updated_at = ?
	WHERE payment_id = ? IF status = ?`)

	s.Prepared = prepared
	s.isPrepared = true

	util.Info("Growth ledger ScyllaDB prepared statements created successfully")
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...)
}

func (s *ScyllaClient) Batch(typ gocql.BatchType) *gocql.Batch {
	return s.Session.NewBatch(typ)
}

func (s *ScyllaClient) ExecuteBatch(batch *gocql.Batch) error {
	return s.Session.ExecuteBatch(batch)
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

// Retry count for plain writes. Conditional writes never go through these
// helpers; their CAS loops own the retries.
const execRetryLimit = 3

func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

// ScanWithRetry retries transient read failures. A not-found result is a
// definitive answer and returns immediately.
func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		err := query.Scan(dest...)
		if err == nil || err == gocql.ErrNotFound {
			return err
		}
		lastErr = err
		if i < 2 {
			time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
		}
	}
	return lastErr
}

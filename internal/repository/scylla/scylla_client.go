package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"accounts-service/internal/config"
	"accounts-service/internal/util"
)

// PreparedStatements holds the statements on the hot paths. Uniqueness claims
// use LWT and are built per call, so they are not prepared here.
type PreparedStatements struct {
	CreateAccount        *gocql.Query
	GetAccountByID       *gocql.Query
	UpdateAccountProfile *gocql.Query
	UpdateLastLogin      *gocql.Query
	UpdatePassword       *gocql.Query
	SetVerified          *gocql.Query

	GetHandleOwner *gocql.Query
	GetEmailOwner  *gocql.Query

	CreateProfile        *gocql.Query
	GetProfileByAccount  *gocql.Query
	GetProfileByID       *gocql.Query
	GetReferralCodeOwner *gocql.Query
	IncrementReferred    *gocql.Query
	GetReferredCount     *gocql.Query

	InsertDeposit    *gocql.Query
	InsertWithdrawal *gocql.Query
	ListDeposits     *gocql.Query
	ListWithdrawals  *gocql.Query

	GetKYCRecord     *gocql.Query
	AttachKYCImage   *gocql.Query
	UpsertBankDetail *gocql.Query
	ListBankDetails  *gocql.Query
	InsertAddress    *gocql.Query
	ListAddresses    *gocql.Query
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

	prepared.CreateAccount = s.Session.Query(`
		INSERT INTO accounts (
			account_bucket, account_id, handle, name, email,
			password_hash, password_salt, pepper_version,
			is_verified, created_at, updated_at, last_login
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.GetAccountByID = s.Session.Query(`
		SELECT account_bucket, account_id, handle, name, email,
			password_hash, password_salt, pepper_version,
			is_verified, created_at, updated_at, last_login
		FROM accounts WHERE account_bucket = ? AND account_id = ?`)

	prepared.UpdateAccountProfile = s.Session.Query(`
		UPDATE accounts SET handle = ?, name = ?, email = ?, is_verified = ?, updated_at = ?
		WHERE account_bucket = ? AND account_id = ?`)

	prepared.UpdateLastLogin = s.Session.Query(`
		UPDATE accounts SET last_login = ? WHERE account_bucket = ? AND account_id = ?`)

	prepared.UpdatePassword = s.Session.Query(`
		UPDATE accounts SET password_hash = ?, password_salt = ?, pepper_version = ?, updated_at = ?
		WHERE account_bucket = ? AND account_id = ?`)

	prepared.SetVerified = s.Session.Query(`
		UPDATE accounts SET is_verified = ?, updated_at = ?
		WHERE account_bucket = ? AND account_id = ?`)

	prepared.GetHandleOwner = s.Session.Query(`
		SELECT account_bucket, account_id FROM handle_to_account WHERE handle = ?`)

	prepared.GetEmailOwner = s.Session.Query(`
		SELECT account_bucket, account_id FROM email_to_account WHERE email = ?`)

	prepared.CreateProfile = s.Session.Query(`
		INSERT INTO profiles (account_id, profile_id, referral_code, referred_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`)

	prepared.GetProfileByAccount = s.Session.Query(`
		SELECT account_id, profile_id, referral_code, referred_by, created_at, updated_at
		FROM profiles WHERE account_id = ?`)

	prepared.GetProfileByID = s.Session.Query(`
		SELECT profile_id, account_id FROM profiles_by_id WHERE profile_id = ?`)

	prepared.GetReferralCodeOwner = s.Session.Query(`
		SELECT code, profile_id, account_id FROM referral_codes WHERE code = ?`)

	prepared.IncrementReferred = s.Session.Query(`
		UPDATE referral_counters SET referred_count = referred_count + 1 WHERE profile_id = ?`)

	prepared.GetReferredCount = s.Session.Query(`
		SELECT referred_count FROM referral_counters WHERE profile_id = ?`)

	prepared.InsertDeposit = s.Session.Query(`
		INSERT INTO deposits (account_id, entry_id, amount, network, created_at)
		VALUES (?, ?, ?, ?, ?)`)

	prepared.InsertWithdrawal = s.Session.Query(`
		INSERT INTO withdrawals (account_id, entry_id, amount, wallet_address, verification_code, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)

	prepared.ListDeposits = s.Session.Query(`
		SELECT account_id, entry_id, amount, network, created_at
		FROM deposits WHERE account_id = ?`)

	prepared.ListWithdrawals = s.Session.Query(`
		SELECT account_id, entry_id, amount, wallet_address, verification_code, created_at
		FROM withdrawals WHERE account_id = ?`)

	prepared.GetKYCRecord = s.Session.Query(`
		SELECT account_id, pan_encrypted, pan_dek, pan_key_id, pan_fingerprint,
			document_name, document_image, created_at, updated_at
		FROM kyc_records WHERE account_id = ?`)

	prepared.AttachKYCImage = s.Session.Query(`
		UPDATE kyc_records SET document_name = ?, document_image = ?, updated_at = ?
		WHERE account_id = ?`)

	prepared.UpsertBankDetail = s.Session.Query(`
		INSERT INTO bank_details (account_id, vpa, name, merchant_ifsc, tpap, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)

	prepared.ListBankDetails = s.Session.Query(`
		SELECT account_id, vpa, name, merchant_ifsc, tpap, created_at, updated_at
		FROM bank_details WHERE account_id = ?`)

	prepared.InsertAddress = s.Session.Query(`
		INSERT INTO addresses (account_id, address_id, house_flat, road_street, landmark,
			city, pincode, state, address_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.ListAddresses = s.Session.Query(`
		SELECT account_id, address_id, house_flat, road_street, landmark,
			city, pincode, state, address_type, created_at, updated_at
		FROM addresses WHERE account_id = ?`)

	s.Prepared = prepared
	s.isPrepared = true

	util.Info("ScyllaDB prepared statements created successfully")
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

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if err := query.Scan(dest...); err != nil {
			lastErr = err
			if err == gocql.ErrNotFound {
				return err
			}
			if i < 2 {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"accounts-service/internal/bucketing"
	"accounts-service/internal/config"
	"accounts-service/internal/hashing"
	"accounts-service/internal/models"
	"accounts-service/internal/repository/scylla"
	"accounts-service/internal/service"
)

// In-memory repositories backing the real service stack, so the tests
// exercise the full request path from router to store.

type memStore struct {
	mu          sync.Mutex
	accounts    map[string]*models.Account
	byHandle    map[string]string
	byEmail     map[string]string
	profiles    map[string]*models.Profile
	codes       map[string]string // referral code -> profile ID
	counters    map[string]int64
	deposits    map[string][]models.Deposit
	withdrawals map[string][]models.Withdrawal
	nextEntry   int
}

func newMemStore() *memStore {
	return &memStore{
		accounts:    make(map[string]*models.Account),
		byHandle:    make(map[string]string),
		byEmail:     make(map[string]string),
		profiles:    make(map[string]*models.Profile),
		codes:       make(map[string]string),
		counters:    make(map[string]int64),
		deposits:    make(map[string][]models.Deposit),
		withdrawals: make(map[string][]models.Withdrawal),
	}
}

type memAccountRepo struct{ store *memStore }

func (r *memAccountRepo) CreateAccount(ctx context.Context, account *models.Account, profile *models.Profile) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, taken := r.store.byHandle[account.Handle]; taken {
		return scylla.ErrHandleTaken
	}
	if _, taken := r.store.byEmail[account.Email]; taken {
		return scylla.ErrEmailTaken
	}
	stored := *account
	stored.CreatedAt = time.Now().UTC()
	r.store.accounts[account.AccountID] = &stored
	r.store.byHandle[account.Handle] = account.AccountID
	r.store.byEmail[account.Email] = account.AccountID
	storedProfile := *profile
	r.store.profiles[account.AccountID] = &storedProfile
	return nil
}

func (r *memAccountRepo) GetAccountByID(ctx context.Context, bucket int, accountID string) (*models.Account, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	account, ok := r.store.accounts[accountID]
	if !ok {
		return nil, scylla.ErrNotFound
	}
	clone := *account
	return &clone, nil
}

func (r *memAccountRepo) GetAccountByHandle(ctx context.Context, handle string) (*models.Account, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	accountID, ok := r.store.byHandle[handle]
	if !ok {
		return nil, scylla.ErrNotFound
	}
	clone := *r.store.accounts[accountID]
	return &clone, nil
}

func (r *memAccountRepo) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	accountID, ok := r.store.byEmail[email]
	if !ok {
		return nil, scylla.ErrNotFound
	}
	clone := *r.store.accounts[accountID]
	return &clone, nil
}

func (r *memAccountRepo) UpdateAccountProfile(ctx context.Context, account *models.Account, oldHandle, oldEmail string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if account.Handle != oldHandle {
		if owner, taken := r.store.byHandle[account.Handle]; taken && owner != account.AccountID {
			return scylla.ErrHandleTaken
		}
	}
	if account.Email != oldEmail {
		if owner, taken := r.store.byEmail[account.Email]; taken && owner != account.AccountID {
			return scylla.ErrEmailTaken
		}
	}
	stored := *account
	r.store.accounts[account.AccountID] = &stored
	delete(r.store.byHandle, oldHandle)
	delete(r.store.byEmail, oldEmail)
	r.store.byHandle[account.Handle] = account.AccountID
	r.store.byEmail[account.Email] = account.AccountID
	return nil
}

func (r *memAccountRepo) UpdateVerification(ctx context.Context, bucket int, accountID string, verified bool) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	account, ok := r.store.accounts[accountID]
	if !ok {
		return scylla.ErrNotFound
	}
	account.IsVerified = verified
	return nil
}

func (r *memAccountRepo) UpdateLastLogin(ctx context.Context, bucket int, accountID string, at time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if account, ok := r.store.accounts[accountID]; ok {
		account.LastLogin = &at
	}
	return nil
}

func (r *memAccountRepo) UpdatePassword(ctx context.Context, bucket int, accountID, hash, salt string, pepperVersion int) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	account, ok := r.store.accounts[accountID]
	if !ok {
		return scylla.ErrNotFound
	}
	account.PasswordHash = hash
	account.PasswordSalt = salt
	account.PepperVersion = pepperVersion
	return nil
}

func (r *memAccountRepo) DeleteAccount(ctx context.Context, account *models.Account, profile *models.Profile) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.accounts, account.AccountID)
	delete(r.store.byHandle, account.Handle)
	delete(r.store.byEmail, account.Email)
	delete(r.store.profiles, account.AccountID)
	if profile != nil {
		delete(r.store.codes, profile.ReferralCode)
	}
	return nil
}

type memProfileRepo struct{ store *memStore }

func (r *memProfileRepo) ClaimReferralCode(ctx context.Context, code, profileID, accountID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, taken := r.store.codes[code]; taken {
		return scylla.ErrCodeTaken
	}
	r.store.codes[code] = profileID
	return nil
}

func (r *memProfileRepo) ReleaseReferralCode(ctx context.Context, code string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.codes, code)
	return nil
}

func (r *memProfileRepo) ResolveReferralCode(ctx context.Context, code string) (string, string, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	profileID, ok := r.store.codes[code]
	if !ok {
		return "", "", scylla.ErrNotFound
	}
	return profileID, "", nil
}

func (r *memProfileRepo) GetProfileByAccount(ctx context.Context, accountID string) (*models.Profile, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	profile, ok := r.store.profiles[accountID]
	if !ok {
		return nil, scylla.ErrNotFound
	}
	clone := *profile
	return &clone, nil
}

func (r *memProfileRepo) IncrementReferredCount(ctx context.Context, profileID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.counters[profileID]++
	return nil
}

func (r *memProfileRepo) GetReferredCount(ctx context.Context, profileID string) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.store.counters[profileID], nil
}

type memLedgerRepo struct{ store *memStore }

func (r *memLedgerRepo) AppendDeposit(ctx context.Context, deposit *models.Deposit) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.nextEntry++
	deposit.EntryID = fmt.Sprintf("entry-%d", r.store.nextEntry)
	deposit.CreatedAt = time.Now().UTC()
	r.store.deposits[deposit.AccountID] = append(r.store.deposits[deposit.AccountID], *deposit)
	return nil
}

func (r *memLedgerRepo) AppendWithdrawal(ctx context.Context, withdrawal *models.Withdrawal) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.nextEntry++
	withdrawal.EntryID = fmt.Sprintf("entry-%d", r.store.nextEntry)
	withdrawal.CreatedAt = time.Now().UTC()
	r.store.withdrawals[withdrawal.AccountID] = append(r.store.withdrawals[withdrawal.AccountID], *withdrawal)
	return nil
}

func (r *memLedgerRepo) ListDeposits(ctx context.Context, accountID string, limit int) ([]models.Deposit, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	entries := r.store.deposits[accountID]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return append([]models.Deposit(nil), entries...), nil
}

func (r *memLedgerRepo) ListWithdrawals(ctx context.Context, accountID string, limit int) ([]models.Withdrawal, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	entries := r.store.withdrawals[accountID]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return append([]models.Withdrawal(nil), entries...), nil
}

func (r *memLedgerRepo) SumDeposits(ctx context.Context, accountID string) (decimal.Decimal, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	total := decimal.Zero
	for _, entry := range r.store.deposits[accountID] {
		total = total.Add(entry.Amount)
	}
	return total, nil
}

func (r *memLedgerRepo) SumWithdrawals(ctx context.Context, accountID string) (decimal.Decimal, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	total := decimal.Zero
	for _, entry := range r.store.withdrawals[accountID] {
		total = total.Add(entry.Amount)
	}
	return total, nil
}

// memSessionStore serves both the service's session writes and the
// middleware's token lookups.
type memSessionStore struct {
	mu     sync.Mutex
	active map[string]string
	data   map[string]map[string]interface{}
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{
		active: make(map[string]string),
		data:   make(map[string]map[string]interface{}),
	}
}

func (s *memSessionStore) SetActiveSession(accountID, sessionID string, data map[string]interface{}, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.active[accountID]; ok {
		delete(s.data, old)
	}
	s.active[accountID] = sessionID
	s.data[sessionID] = data
	return nil
}

func (s *memSessionStore) InvalidateSession(accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sessionID, ok := s.active[accountID]; ok {
		delete(s.data, sessionID)
		delete(s.active, accountID)
	}
	return nil
}

func (s *memSessionStore) GetSessionData(sessionID string) (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.data[sessionID]
	if !ok {
		return nil, errors.New("key not found")
	}
	return data, nil
}

type memOTPStore struct {
	mu     sync.Mutex
	hashes map[string]string
	tokens map[string]string
}

func newMemOTPStore() *memOTPStore {
	return &memOTPStore{
		hashes: make(map[string]string),
		tokens: make(map[string]string),
	}
}

func (s *memOTPStore) StoreOTPHash(phone, otpHash string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hashes[phone] = otpHash
	return nil
}

func (s *memOTPStore) GetOTPHash(phone string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash, ok := s.hashes[phone]
	if !ok {
		return "", errors.New("key not found")
	}
	return hash, nil
}

func (s *memOTPStore) RecordFailedAttempt(phone string, otpTTL time.Duration) (bool, error) {
	return false, nil
}

func (s *memOTPStore) ClearOTP(phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hashes, phone)
	return nil
}

func (s *memOTPStore) StoreResetToken(token, accountID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = accountID
	return nil
}

func (s *memOTPStore) ConsumeResetToken(token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	accountID, ok := s.tokens[token]
	if !ok {
		return "", errors.New("key not found")
	}
	delete(s.tokens, token)
	return accountID, nil
}

type allowAllLimiter struct{}

func (allowAllLimiter) Allow(scope, subject string, limit int64, window time.Duration) (bool, error) {
	return true, nil
}

type noSearch struct{}

func (noSearch) SearchAccounts(ctx context.Context, queryText string, limit int) ([]*models.AccountDocument, error) {
	return nil, nil
}

type testEnv struct {
	router   chi.Router
	store    *memStore
	sessions *memSessionStore
	accounts *service.AccountService
}

func newTestEnv() *testEnv {
	cfg := &config.Config{
		Environment: "development",
		Hashing: config.HashingConfig{
			Argon2MemoryCost:   1024,
			Argon2TimeCost:     1,
			Argon2Parallelism:  1,
			PepperRotationDays: 30,
		},
		Bucketing: config.BucketingConfig{UserBuckets: 16, EventBuckets: 16},
	}

	store := newMemStore()
	sessions := newMemSessionStore()
	otps := newMemOTPStore()

	profileRepo := &memProfileRepo{store: store}
	accountRepo := &memAccountRepo{store: store}
	ledgerRepo := &memLedgerRepo{store: store}

	referrals := service.NewReferralService(profileRepo, nil)
	accounts := service.NewAccountService(accountRepo, ledgerRepo, referrals,
		hashing.NewHasher(cfg), bucketing.NewBucketingManager(cfg),
		sessions, otps, allowAllLimiter{}, nil, noSearch{})
	ledger := service.NewLedgerService(ledgerRepo, accounts, nil)

	logger := zap.NewNop()
	accountHandler := NewAccountHandler(accounts, referrals, logger, true)
	ledgerHandler := NewLedgerHandler(ledger, logger)

	auth := SessionAuth(sessions)
	router := chi.NewRouter()
	router.Route("/api/v1", func(r chi.Router) {
		accountHandler.RegisterRoutes(r, auth)
		ledgerHandler.RegisterRoutes(r, auth)
	})

	return &testEnv{router: router, store: store, sessions: sessions, accounts: accounts}
}

func (env *testEnv) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, Response) {
	t.Helper()

	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	var resp Response
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, resp
}

func (env *testEnv) register(t *testing.T, handle, email string) string {
	t.Helper()
	rec, resp := env.do(t, http.MethodPost, "/api/v1/accounts", "", map[string]string{
		"handle":   handle,
		"name":     "Test Account",
		"email":    email,
		"password": "correct-horse",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	data := resp.Data.(map[string]interface{})
	account := data["account"].(map[string]interface{})
	return account["account_id"].(string)
}

func (env *testEnv) login(t *testing.T, handle, password string) string {
	t.Helper()
	rec, resp := env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"handle":   handle,
		"password": password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	data := resp.Data.(map[string]interface{})
	return data["token"].(string)
}

func TestRegisterEndpoint(t *testing.T) {
	env := newTestEnv()

	env.register(t, "+919876543210", "asha@example.com")

	rec, resp := env.do(t, http.MethodPost, "/api/v1/accounts", "", map[string]string{
		"handle":   "+919876543210",
		"name":     "Other",
		"email":    "other@example.com",
		"password": "correct-horse",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate handle, got %d", rec.Code)
	}
	if resp.Success {
		t.Fatal("expected success=false")
	}

	rec, _ = env.do(t, http.MethodPost, "/api/v1/accounts", "", map[string]string{
		"handle":   "bad",
		"name":     "Other",
		"email":    "other@example.com",
		"password": "correct-horse",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad handle, got %d", rec.Code)
	}
}

func TestLoginEndpoint(t *testing.T) {
	env := newTestEnv()
	accountID := env.register(t, "+919876543210", "asha@example.com")

	rec, resp := env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"handle":   "+919876543210",
		"password": "wrong-password",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if resp.Message != "Invalid credentials." {
		t.Fatalf("expected invalid credentials message, got %q", resp.Message)
	}

	rec, resp = env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"handle":   "+919876543210",
		"password": "correct-horse",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unverified account, got %d", rec.Code)
	}
	if resp.Message != "Phone number is not verified." {
		t.Fatalf("expected not-verified message, got %q", resp.Message)
	}

	if err := (&memAccountRepo{store: env.store}).UpdateVerification(context.Background(), 0, accountID, true); err != nil {
		t.Fatalf("failed to flag verification: %v", err)
	}
	env.login(t, "+919876543210", "correct-horse")
}

func TestVerifyFlowOverHTTP(t *testing.T) {
	env := newTestEnv()
	env.register(t, "+919876543210", "asha@example.com")

	rec, resp := env.do(t, http.MethodPost, "/api/v1/auth/otp/request", "", map[string]string{
		"handle": "+919876543210",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	// Dev mode surfaces the OTP in the response.
	data := resp.Data.(map[string]interface{})
	otp := data["otp"].(string)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/auth/verify", "", map[string]string{
		"handle": "+919876543210",
		"otp":    otp,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	env.login(t, "+919876543210", "correct-horse")
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv()

	rec, _ := env.do(t, http.MethodGet, "/api/v1/accounts/me", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec, _ = env.do(t, http.MethodGet, "/api/v1/accounts/me", "not-a-session", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bogus token, got %d", rec.Code)
	}
}

func TestLedgerEndpoints(t *testing.T) {
	env := newTestEnv()
	accountID := env.register(t, "+919876543210", "asha@example.com")
	if err := (&memAccountRepo{store: env.store}).UpdateVerification(context.Background(), 0, accountID, true); err != nil {
		t.Fatalf("failed to flag verification: %v", err)
	}
	token := env.login(t, "+919876543210", "correct-horse")

	rec, _ := env.do(t, http.MethodPost, "/api/v1/ledger/deposits", token, map[string]interface{}{
		"amount":  "150.5",
		"network": "IMPS",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec, _ = env.do(t, http.MethodPost, "/api/v1/ledger/withdrawals", token, map[string]interface{}{
		"amount":            "30.2",
		"wallet_address":    "wallet12345abcde",
		"verification_code": "000000",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := env.store.withdrawals[accountID][0].VerificationCode; got != "000000" {
		t.Fatalf("expected verification code stored verbatim, got %q", got)
	}

	rec, resp := env.do(t, http.MethodGet, "/api/v1/ledger/balance", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	data := resp.Data.(map[string]interface{})
	if data["balance"] != "120.3" {
		t.Fatalf("expected balance 120.3, got %v", data["balance"])
	}

	rec, resp = env.do(t, http.MethodGet, "/api/v1/ledger/deposits?limit=10", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	entries := resp.Data.([]interface{})
	if len(entries) != 1 {
		t.Fatalf("expected 1 deposit, got %d", len(entries))
	}

	rec, _ = env.do(t, http.MethodGet, "/api/v1/ledger/deposits?limit=5000", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-range limit, got %d", rec.Code)
	}

	rec, _ = env.do(t, http.MethodPost, "/api/v1/ledger/deposits", token, map[string]interface{}{
		"amount":  "-5",
		"network": "IMPS",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative amount, got %d", rec.Code)
	}
}

func TestReferralEndpoint(t *testing.T) {
	env := newTestEnv()
	accountID := env.register(t, "+919876543210", "asha@example.com")

	profile := env.store.profiles[accountID]
	if profile == nil {
		t.Fatal("expected a stored profile")
	}

	rec, resp := env.do(t, http.MethodGet, "/api/v1/accounts/referrals/"+profile.ReferralCode, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	data := resp.Data.(map[string]interface{})
	if data["profile_id"] != profile.ProfileID {
		t.Fatalf("expected profile %q, got %v", profile.ProfileID, data["profile_id"])
	}

	rec, _ = env.do(t, http.MethodGet, "/api/v1/accounts/referrals/nosuchcode", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{service.ErrInvalidInput, http.StatusBadRequest},
		{service.ErrInvalidAmount, http.StatusBadRequest},
		{service.ErrInvalidAddress, http.StatusBadRequest},
		{service.ErrDuplicateHandle, http.StatusConflict},
		{service.ErrDuplicateEmail, http.StatusConflict},
		{service.ErrDuplicatePAN, http.StatusConflict},
		{service.ErrAccountNotFound, http.StatusNotFound},
		{service.ErrReferralNotFound, http.StatusNotFound},
		{service.ErrKYCNotFound, http.StatusNotFound},
		{service.ErrInvalidCredentials, http.StatusUnauthorized},
		{service.ErrNotVerified, http.StatusUnauthorized},
		{service.ErrRateLimited, http.StatusTooManyRequests},
		{service.ErrLookupUnavailable, http.StatusBadGateway},
		{errors.New("anything else"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := getStatusCode(tt.err); got != tt.want {
			t.Errorf("getStatusCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

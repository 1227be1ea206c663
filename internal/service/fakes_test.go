package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"accounts-service/internal/bucketing"
	"accounts-service/internal/config"
	"accounts-service/internal/encryption"
	"accounts-service/internal/hashing"
	"accounts-service/internal/models"
	"accounts-service/internal/repository/scylla"
)

// In-memory stand-ins for the ScyllaDB repositories and Redis caches. They
// keep the same uniqueness semantics the real claim tables enforce.

type fakeProfileRepo struct {
	mu       sync.Mutex
	codes    map[string]struct{ profileID, accountID string }
	profiles map[string]*models.Profile
	counters map[string]int64

	// claimFailures makes the next N ClaimReferralCode calls collide.
	claimFailures int
	claimCalls    int
}

func newFakeProfileRepo() *fakeProfileRepo {
	return &fakeProfileRepo{
		codes:    make(map[string]struct{ profileID, accountID string }),
		profiles: make(map[string]*models.Profile),
		counters: make(map[string]int64),
	}
}

func (f *fakeProfileRepo) ClaimReferralCode(ctx context.Context, code, profileID, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimCalls++
	if f.claimFailures > 0 {
		f.claimFailures--
		return scylla.ErrCodeTaken
	}
	if _, taken := f.codes[code]; taken {
		return scylla.ErrCodeTaken
	}
	f.codes[code] = struct{ profileID, accountID string }{profileID, accountID}
	return nil
}

func (f *fakeProfileRepo) ReleaseReferralCode(ctx context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.codes, code)
	return nil
}

func (f *fakeProfileRepo) ResolveReferralCode(ctx context.Context, code string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	claim, ok := f.codes[code]
	if !ok {
		return "", "", scylla.ErrNotFound
	}
	return claim.profileID, claim.accountID, nil
}

func (f *fakeProfileRepo) GetProfileByAccount(ctx context.Context, accountID string) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	profile, ok := f.profiles[accountID]
	if !ok {
		return nil, scylla.ErrNotFound
	}
	clone := *profile
	return &clone, nil
}

func (f *fakeProfileRepo) IncrementReferredCount(ctx context.Context, profileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[profileID]++
	return nil
}

func (f *fakeProfileRepo) GetReferredCount(ctx context.Context, profileID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counters[profileID], nil
}

type fakeAccountRepo struct {
	mu       sync.Mutex
	byID     map[string]*models.Account
	byHandle map[string]string
	byEmail  map[string]string
	profiles *fakeProfileRepo

	createErr error
}

func newFakeAccountRepo(profiles *fakeProfileRepo) *fakeAccountRepo {
	return &fakeAccountRepo{
		byID:     make(map[string]*models.Account),
		byHandle: make(map[string]string),
		byEmail:  make(map[string]string),
		profiles: profiles,
	}
}

func (f *fakeAccountRepo) CreateAccount(ctx context.Context, account *models.Account, profile *models.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if _, taken := f.byHandle[account.Handle]; taken {
		return scylla.ErrHandleTaken
	}
	if _, taken := f.byEmail[account.Email]; taken {
		return scylla.ErrEmailTaken
	}
	stored := *account
	stored.CreatedAt = time.Now().UTC()
	f.byID[account.AccountID] = &stored
	f.byHandle[account.Handle] = account.AccountID
	f.byEmail[account.Email] = account.AccountID
	if f.profiles != nil {
		storedProfile := *profile
		storedProfile.CreatedAt = stored.CreatedAt
		f.profiles.mu.Lock()
		f.profiles.profiles[account.AccountID] = &storedProfile
		f.profiles.mu.Unlock()
	}
	return nil
}

func (f *fakeAccountRepo) GetAccountByID(ctx context.Context, bucket int, accountID string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.byID[accountID]
	if !ok {
		return nil, scylla.ErrNotFound
	}
	clone := *account
	return &clone, nil
}

func (f *fakeAccountRepo) GetAccountByHandle(ctx context.Context, handle string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	accountID, ok := f.byHandle[handle]
	if !ok {
		return nil, scylla.ErrNotFound
	}
	clone := *f.byID[accountID]
	return &clone, nil
}

func (f *fakeAccountRepo) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	accountID, ok := f.byEmail[email]
	if !ok {
		return nil, scylla.ErrNotFound
	}
	clone := *f.byID[accountID]
	return &clone, nil
}

func (f *fakeAccountRepo) UpdateAccountProfile(ctx context.Context, account *models.Account, oldHandle, oldEmail string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if account.Handle != oldHandle {
		if owner, taken := f.byHandle[account.Handle]; taken && owner != account.AccountID {
			return scylla.ErrHandleTaken
		}
	}
	if account.Email != oldEmail {
		if owner, taken := f.byEmail[account.Email]; taken && owner != account.AccountID {
			return scylla.ErrEmailTaken
		}
	}
	stored := *account
	f.byID[account.AccountID] = &stored
	delete(f.byHandle, oldHandle)
	delete(f.byEmail, oldEmail)
	f.byHandle[account.Handle] = account.AccountID
	f.byEmail[account.Email] = account.AccountID
	return nil
}

func (f *fakeAccountRepo) UpdateVerification(ctx context.Context, bucket int, accountID string, verified bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.byID[accountID]
	if !ok {
		return scylla.ErrNotFound
	}
	account.IsVerified = verified
	return nil
}

func (f *fakeAccountRepo) UpdateLastLogin(ctx context.Context, bucket int, accountID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.byID[accountID]
	if !ok {
		return scylla.ErrNotFound
	}
	account.LastLogin = &at
	return nil
}

func (f *fakeAccountRepo) UpdatePassword(ctx context.Context, bucket int, accountID, hash, salt string, pepperVersion int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.byID[accountID]
	if !ok {
		return scylla.ErrNotFound
	}
	account.PasswordHash = hash
	account.PasswordSalt = salt
	account.PepperVersion = pepperVersion
	return nil
}

func (f *fakeAccountRepo) DeleteAccount(ctx context.Context, account *models.Account, profile *models.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, account.AccountID)
	delete(f.byHandle, account.Handle)
	delete(f.byEmail, account.Email)
	if f.profiles != nil {
		f.profiles.mu.Lock()
		delete(f.profiles.profiles, account.AccountID)
		if profile != nil {
			delete(f.profiles.codes, profile.ReferralCode)
		}
		f.profiles.mu.Unlock()
	}
	return nil
}

type fakeLedgerRepo struct {
	mu          sync.Mutex
	deposits    map[string][]models.Deposit
	withdrawals map[string][]models.Withdrawal
	nextEntry   int
}

func newFakeLedgerRepo() *fakeLedgerRepo {
	return &fakeLedgerRepo{
		deposits:    make(map[string][]models.Deposit),
		withdrawals: make(map[string][]models.Withdrawal),
	}
}

func (f *fakeLedgerRepo) AppendDeposit(ctx context.Context, deposit *models.Deposit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextEntry++
	deposit.EntryID = fmt.Sprintf("entry-%d", f.nextEntry)
	deposit.CreatedAt = time.Now().UTC()
	f.deposits[deposit.AccountID] = append(f.deposits[deposit.AccountID], *deposit)
	return nil
}

func (f *fakeLedgerRepo) AppendWithdrawal(ctx context.Context, withdrawal *models.Withdrawal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextEntry++
	withdrawal.EntryID = fmt.Sprintf("entry-%d", f.nextEntry)
	withdrawal.CreatedAt = time.Now().UTC()
	f.withdrawals[withdrawal.AccountID] = append(f.withdrawals[withdrawal.AccountID], *withdrawal)
	return nil
}

func (f *fakeLedgerRepo) ListDeposits(ctx context.Context, accountID string, limit int) ([]models.Deposit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := f.deposits[accountID]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return append([]models.Deposit(nil), entries...), nil
}

func (f *fakeLedgerRepo) ListWithdrawals(ctx context.Context, accountID string, limit int) ([]models.Withdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := f.withdrawals[accountID]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return append([]models.Withdrawal(nil), entries...), nil
}

func (f *fakeLedgerRepo) SumDeposits(ctx context.Context, accountID string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := decimal.Zero
	for _, entry := range f.deposits[accountID] {
		total = total.Add(entry.Amount)
	}
	return total, nil
}

func (f *fakeLedgerRepo) SumWithdrawals(ctx context.Context, accountID string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := decimal.Zero
	for _, entry := range f.withdrawals[accountID] {
		total = total.Add(entry.Amount)
	}
	return total, nil
}

type fakeKYCRepo struct {
	mu        sync.Mutex
	records   map[string]*models.KYCRecord
	pans      map[string]string
	bank      map[string]map[string]models.BankDetail
	addresses map[string][]models.Address

	createRecordErr error
}

func newFakeKYCRepo() *fakeKYCRepo {
	return &fakeKYCRepo{
		records:   make(map[string]*models.KYCRecord),
		pans:      make(map[string]string),
		bank:      make(map[string]map[string]models.BankDetail),
		addresses: make(map[string][]models.Address),
	}
}

func (f *fakeKYCRepo) ClaimPAN(ctx context.Context, fingerprint, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, taken := f.pans[fingerprint]; taken {
		return scylla.ErrPANTaken
	}
	f.pans[fingerprint] = accountID
	return nil
}

func (f *fakeKYCRepo) ReleasePAN(ctx context.Context, fingerprint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pans, fingerprint)
	return nil
}

func (f *fakeKYCRepo) CreateKYCRecord(ctx context.Context, record *models.KYCRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createRecordErr != nil {
		return f.createRecordErr
	}
	stored := *record
	stored.CreatedAt = time.Now().UTC()
	f.records[record.AccountID] = &stored
	return nil
}

func (f *fakeKYCRepo) GetKYCRecord(ctx context.Context, accountID string) (*models.KYCRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[accountID]
	if !ok {
		return nil, scylla.ErrNotFound
	}
	clone := *record
	return &clone, nil
}

func (f *fakeKYCRepo) AttachDocumentImage(ctx context.Context, accountID, documentName string, image []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[accountID]
	if !ok {
		return scylla.ErrNotFound
	}
	record.DocumentName = documentName
	record.DocumentImage = image
	return nil
}

func (f *fakeKYCRepo) UpsertBankDetail(ctx context.Context, detail *models.BankDetail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	perAccount, ok := f.bank[detail.AccountID]
	if !ok {
		perAccount = make(map[string]models.BankDetail)
		f.bank[detail.AccountID] = perAccount
	}
	stored := *detail
	if existing, seen := perAccount[detail.VPA]; seen {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	perAccount[detail.VPA] = stored
	return nil
}

func (f *fakeKYCRepo) ListBankDetails(ctx context.Context, accountID string) ([]models.BankDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	details := make([]models.BankDetail, 0, len(f.bank[accountID]))
	for _, detail := range f.bank[accountID] {
		details = append(details, detail)
	}
	return details, nil
}

func (f *fakeKYCRepo) CreateAddress(ctx context.Context, address *models.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if address.AddressID == "" {
		address.AddressID = fmt.Sprintf("addr-%d", len(f.addresses[address.AccountID])+1)
	}
	address.CreatedAt = time.Now().UTC()
	f.addresses[address.AccountID] = append(f.addresses[address.AccountID], *address)
	return nil
}

func (f *fakeKYCRepo) ListAddresses(ctx context.Context, accountID string) ([]models.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Address(nil), f.addresses[accountID]...), nil
}

type fakeSessionStore struct {
	mu          sync.Mutex
	active      map[string]string
	data        map[string]map[string]interface{}
	invalidated int
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{
		active: make(map[string]string),
		data:   make(map[string]map[string]interface{}),
	}
}

func (f *fakeSessionStore) SetActiveSession(accountID, sessionID string, data map[string]interface{}, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if old, ok := f.active[accountID]; ok {
		delete(f.data, old)
	}
	f.active[accountID] = sessionID
	f.data[sessionID] = data
	return nil
}

func (f *fakeSessionStore) InvalidateSession(accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated++
	if sessionID, ok := f.active[accountID]; ok {
		delete(f.data, sessionID)
		delete(f.active, accountID)
	}
	return nil
}

type fakeOTPStore struct {
	mu          sync.Mutex
	hashes      map[string]string
	attempts    map[string]int
	resetTokens map[string]string
}

func newFakeOTPStore() *fakeOTPStore {
	return &fakeOTPStore{
		hashes:      make(map[string]string),
		attempts:    make(map[string]int),
		resetTokens: make(map[string]string),
	}
}

func (f *fakeOTPStore) StoreOTPHash(phone, otpHash string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hashes[phone] = otpHash
	f.attempts[phone] = 0
	return nil
}

func (f *fakeOTPStore) GetOTPHash(phone string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hash, ok := f.hashes[phone]
	if !ok {
		return "", errors.New("key not found")
	}
	return hash, nil
}

func (f *fakeOTPStore) RecordFailedAttempt(phone string, otpTTL time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[phone]++
	if f.attempts[phone] >= 5 {
		delete(f.hashes, phone)
		return true, nil
	}
	return false, nil
}

func (f *fakeOTPStore) ClearOTP(phone string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.hashes, phone)
	delete(f.attempts, phone)
	return nil
}

func (f *fakeOTPStore) StoreResetToken(token, accountID string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetTokens[token] = accountID
	return nil
}

func (f *fakeOTPStore) ConsumeResetToken(token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	accountID, ok := f.resetTokens[token]
	if !ok {
		return "", errors.New("key not found")
	}
	delete(f.resetTokens, token)
	return accountID, nil
}

type fakeRateLimiter struct {
	mu         sync.Mutex
	denyScopes map[string]bool
	calls      map[string]int
}

func newFakeRateLimiter() *fakeRateLimiter {
	return &fakeRateLimiter{
		denyScopes: make(map[string]bool),
		calls:      make(map[string]int),
	}
}

func (f *fakeRateLimiter) Allow(scope, subject string, limit int64, window time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[scope]++
	return !f.denyScopes[scope], nil
}

type fakeSearcher struct {
	results []*models.AccountDocument
	err     error
	lastQ   string
	lastN   int
}

func (f *fakeSearcher) SearchAccounts(ctx context.Context, queryText string, limit int) ([]*models.AccountDocument, error) {
	f.lastQ = queryText
	f.lastN = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

type fakeBankLookup struct {
	results []models.VPALookupResult
	refID   string
	err     error
	lastMob string
}

func (f *fakeBankLookup) LookupByMobile(ctx context.Context, mobile string) ([]models.VPALookupResult, string, error) {
	f.lastMob = mobile
	if f.err != nil {
		return nil, f.refID, f.err
	}
	return f.results, f.refID, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "development",
		Hashing: config.HashingConfig{
			Argon2MemoryCost:   1024,
			Argon2TimeCost:     1,
			Argon2Parallelism:  1,
			PepperRotationDays: 30,
		},
		Bucketing: config.BucketingConfig{
			UserBuckets:  16,
			EventBuckets: 16,
		},
	}
}

type serviceFixture struct {
	accounts *AccountService
	ledger   *LedgerService
	kyc      *KYCService
	referral *ReferralService

	accountRepo *fakeAccountRepo
	profileRepo *fakeProfileRepo
	ledgerRepo  *fakeLedgerRepo
	kycRepo     *fakeKYCRepo
	sessions    *fakeSessionStore
	otps        *fakeOTPStore
	limiter     *fakeRateLimiter
	search      *fakeSearcher
	bankLookup  *fakeBankLookup
	hasher      *hashing.Hasher
}

func newServiceFixture() *serviceFixture {
	cfg := testConfig()
	profileRepo := newFakeProfileRepo()
	accountRepo := newFakeAccountRepo(profileRepo)
	ledgerRepo := newFakeLedgerRepo()
	kycRepo := newFakeKYCRepo()
	sessions := newFakeSessionStore()
	otps := newFakeOTPStore()
	limiter := newFakeRateLimiter()
	search := &fakeSearcher{}
	bankLookup := &fakeBankLookup{}

	hasher := hashing.NewHasher(cfg)
	buckets := bucketing.NewBucketingManager(cfg)
	enc := encryption.NewEncryptionManager(cfg, nil)

	referral := NewReferralService(profileRepo, nil)
	accounts := NewAccountService(accountRepo, ledgerRepo, referral, hasher, buckets,
		sessions, otps, limiter, nil, search)
	ledger := NewLedgerService(ledgerRepo, accounts, nil)
	kyc := NewKYCService(kycRepo, accounts, enc, bankLookup, limiter, nil)

	return &serviceFixture{
		accounts:    accounts,
		ledger:      ledger,
		kyc:         kyc,
		referral:    referral,
		accountRepo: accountRepo,
		profileRepo: profileRepo,
		ledgerRepo:  ledgerRepo,
		kycRepo:     kycRepo,
		sessions:    sessions,
		otps:        otps,
		limiter:     limiter,
		search:      search,
		bankLookup:  bankLookup,
		hasher:      hasher,
	}
}

func (fx *serviceFixture) mustCreateAccount(t testingT, handle, email string) *models.Account {
	account, _, err := fx.accounts.CreateAccount(context.Background(), &AccountCreateRequest{
		Handle:   handle,
		Name:     "Test Account",
		Email:    email,
		Password: "correct-horse",
	})
	if err != nil {
		t.Fatalf("failed to create account: %v", err)
	}
	return account
}

// testingT is the slice of *testing.T the fixture helpers need.
type testingT interface {
	Fatalf(format string, args ...interface{})
}

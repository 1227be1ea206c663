package service

import (
	"accounts-service/internal/bucketing"
	"accounts-service/internal/encryption"
	"accounts-service/internal/hashing"
	"accounts-service/internal/repository/scylla"
)

// ServiceFactory wires the services over the repositories and clients. Each
// service is built once and shared.
type ServiceFactory struct {
	accountRepo scylla.AccountRepository
	profileRepo scylla.ProfileRepository
	ledgerRepo  scylla.LedgerRepository
	kycRepo     scylla.KYCRepository

	sessions SessionStore
	otps     OTPStore
	limiter  RateLimiter

	hasher  *hashing.Hasher
	enc     *encryption.EncryptionManager
	buckets *bucketing.BucketingManager
	vpa     BankLookup
	search  AccountSearcher

	recorder *Recorder

	referralService *ReferralService
	accountService  *AccountService
	ledgerService   *LedgerService
	kycService      *KYCService
}

type ServiceFactoryDeps struct {
	AccountRepo scylla.AccountRepository
	ProfileRepo scylla.ProfileRepository
	LedgerRepo  scylla.LedgerRepository
	KYCRepo     scylla.KYCRepository

	Sessions SessionStore
	OTPs     OTPStore
	Limiter  RateLimiter

	Hasher  *hashing.Hasher
	Enc     *encryption.EncryptionManager
	Buckets *bucketing.BucketingManager
	VPA     BankLookup
	Search  AccountSearcher

	Recorder *Recorder
}

func NewServiceFactory(deps ServiceFactoryDeps) *ServiceFactory {
	return &ServiceFactory{
		accountRepo: deps.AccountRepo,
		profileRepo: deps.ProfileRepo,
		ledgerRepo:  deps.LedgerRepo,
		kycRepo:     deps.KYCRepo,
		sessions:    deps.Sessions,
		otps:        deps.OTPs,
		limiter:     deps.Limiter,
		hasher:      deps.Hasher,
		enc:         deps.Enc,
		buckets:     deps.Buckets,
		vpa:         deps.VPA,
		search:      deps.Search,
		recorder:    deps.Recorder,
	}
}

func (f *ServiceFactory) ReferralService() *ReferralService {
	if f.referralService == nil {
		f.referralService = NewReferralService(f.profileRepo, f.recorder)
	}
	return f.referralService
}

func (f *ServiceFactory) AccountService() *AccountService {
	if f.accountService == nil {
		f.accountService = NewAccountService(
			f.accountRepo,
			f.ledgerRepo,
			f.ReferralService(),
			f.hasher,
			f.buckets,
			f.sessions,
			f.otps,
			f.limiter,
			f.recorder,
			f.search,
		)
	}
	return f.accountService
}

func (f *ServiceFactory) LedgerService() *LedgerService {
	if f.ledgerService == nil {
		f.ledgerService = NewLedgerService(f.ledgerRepo, f.AccountService(), f.recorder)
	}
	return f.ledgerService
}

func (f *ServiceFactory) KYCService() *KYCService {
	if f.kycService == nil {
		f.kycService = NewKYCService(
			f.kycRepo,
			f.AccountService(),
			f.enc,
			f.vpa,
			f.limiter,
			f.recorder,
		)
	}
	return f.kycService
}

package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"accounts-service/internal/client"
	"accounts-service/internal/encryption"
	"accounts-service/internal/models"
	"accounts-service/internal/repository/scylla"
	"accounts-service/internal/util"
)

const (
	maxDocumentImageBytes = 5 << 20

	vpaLookupRateLimit  = 10
	vpaLookupRateWindow = time.Hour
)

// KYCService handles PAN submission, document images, bank details fetched
// from the VPA provider, and addresses.
type KYCService struct {
	kyc      scylla.KYCRepository
	accounts *AccountService
	enc      *encryption.EncryptionManager
	vpa      BankLookup
	limiter  RateLimiter
	recorder *Recorder
}

type AddressCreateRequest struct {
	HouseFlat   string `json:"house_flat_apartment"`
	RoadStreet  string `json:"road_street"`
	Landmark    string `json:"landmark,omitempty"`
	City        string `json:"city"`
	Pincode     string `json:"pincode"`
	State       string `json:"state"`
	AddressType string `json:"address_type"`
}

// KYCView is the outward shape of a KYC record; the PAN appears masked, never
// in full.
type KYCView struct {
	AccountID    string     `json:"account_id"`
	MaskedPAN    string     `json:"masked_pan"`
	DocumentName string     `json:"document_name,omitempty"`
	HasDocument  bool       `json:"has_document"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

func NewKYCService(
	kyc scylla.KYCRepository,
	accounts *AccountService,
	enc *encryption.EncryptionManager,
	vpa BankLookup,
	limiter RateLimiter,
	recorder *Recorder,
) *KYCService {
	return &KYCService{
		kyc:      kyc,
		accounts: accounts,
		enc:      enc,
		vpa:      vpa,
		limiter:  limiter,
		recorder: recorder,
	}
}

func panFingerprint(pan string) string {
	sum := sha256.Sum256([]byte(pan))
	return hex.EncodeToString(sum[:])
}

// SubmitPAN records the account's PAN. The number is claimed globally by its
// SHA-256 fingerprint and stored only envelope-encrypted; a failed record
// write releases the claim.
func (s *KYCService) SubmitPAN(ctx context.Context, accountID, pan, documentName string) (*KYCView, error) {
	if _, err := s.accounts.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}

	normalized, err := normalizePAN(pan)
	if err != nil {
		return nil, err
	}

	if _, err := s.kyc.GetKYCRecord(ctx, accountID); err == nil {
		return nil, ErrDuplicatePAN
	} else if !errors.Is(err, scylla.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing KYC record: %w", err)
	}

	fingerprint := panFingerprint(normalized)
	if err := s.kyc.ClaimPAN(ctx, fingerprint, accountID); err != nil {
		if errors.Is(err, scylla.ErrPANTaken) {
			s.recorder.Audit(accountID, "kyc.submit", "failure", "pan already registered")
			return nil, ErrDuplicatePAN
		}
		return nil, fmt.Errorf("failed to claim pan: %w", err)
	}

	encrypted, err := s.enc.EncryptField(ctx, normalized, "pan")
	if err != nil {
		s.releasePANClaim(ctx, fingerprint)
		return nil, fmt.Errorf("failed to encrypt pan: %w", err)
	}

	record := &models.KYCRecord{
		AccountID:      accountID,
		PANEncrypted:   []byte(encrypted.EncryptedValue),
		PANDEK:         encrypted.EncryptedDEK,
		PANKeyID:       encrypted.KeyID,
		PANFingerprint: fingerprint,
		DocumentName:   documentName,
	}

	if err := s.kyc.CreateKYCRecord(ctx, record); err != nil {
		s.releasePANClaim(ctx, fingerprint)
		return nil, fmt.Errorf("failed to create KYC record: %w", err)
	}

	s.recorder.PublishAccountEvent(models.EventKYCSubmitted, accountID, nil)
	s.recorder.Audit(accountID, "kyc.submit", "success", "")

	return s.viewOf(record, normalized), nil
}

func (s *KYCService) releasePANClaim(ctx context.Context, fingerprint string) {
	if err := s.kyc.ReleasePAN(ctx, fingerprint); err != nil {
		util.Warn("Failed to release pan claim after failed submission", zap.Error(err))
	}
}

func (s *KYCService) GetKYC(ctx context.Context, accountID string) (*KYCView, error) {
	record, err := s.kyc.GetKYCRecord(ctx, accountID)
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return nil, ErrKYCNotFound
		}
		return nil, fmt.Errorf("failed to load KYC record: %w", err)
	}

	pan, err := s.enc.DecryptField(ctx, &encryption.EncryptedData{
		EncryptedValue: string(record.PANEncrypted),
		EncryptedDEK:   record.PANDEK,
		KeyID:          record.PANKeyID,
		Version:        "v1",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt pan: %w", err)
	}

	return s.viewOf(record, pan), nil
}

func (s *KYCService) viewOf(record *models.KYCRecord, pan string) *KYCView {
	return &KYCView{
		AccountID:    record.AccountID,
		MaskedPAN:    maskPAN(pan),
		DocumentName: record.DocumentName,
		HasDocument:  len(record.DocumentImage) > 0,
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
	}
}

func maskPAN(pan string) string {
	if len(pan) != 10 {
		return "**********"
	}
	return pan[:2] + "******" + pan[8:]
}

// AttachDocumentImage stores the uploaded identity document against an
// existing KYC record.
func (s *KYCService) AttachDocumentImage(ctx context.Context, accountID, documentName string, image []byte) error {
	if strings.TrimSpace(documentName) == "" {
		return fmt.Errorf("%w: document name is required", ErrInvalidInput)
	}
	if len(image) == 0 {
		return fmt.Errorf("%w: document image is required", ErrInvalidInput)
	}
	if len(image) > maxDocumentImageBytes {
		return fmt.Errorf("%w: document image exceeds %d bytes", ErrInvalidInput, maxDocumentImageBytes)
	}

	if _, err := s.kyc.GetKYCRecord(ctx, accountID); err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return ErrKYCNotFound
		}
		return fmt.Errorf("failed to load KYC record: %w", err)
	}

	if err := s.kyc.AttachDocumentImage(ctx, accountID, documentName, image); err != nil {
		return err
	}

	s.recorder.Audit(accountID, "kyc.document_attach", "success", documentName)
	return nil
}

// FetchBankDetails asks the VPA provider for the account's UPI handles and
// upserts each result; a VPA seen before just refreshes its non-key fields.
// An empty result set is a valid answer, not an error.
func (s *KYCService) FetchBankDetails(ctx context.Context, accountID string) ([]models.BankDetail, error) {
	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	allowed, err := s.limiter.Allow("vpa_lookup", accountID, vpaLookupRateLimit, vpaLookupRateWindow)
	if err != nil {
		util.Warn("VPA lookup rate limit check failed, allowing", zap.Error(err))
	} else if !allowed {
		return nil, ErrRateLimited
	}

	results, referenceID, err := s.vpa.LookupByMobile(ctx, strings.TrimPrefix(account.Handle, "+"))
	if err != nil {
		s.recorder.Audit(accountID, "kyc.bank_lookup", "failure", referenceID)
		if errors.Is(err, client.ErrLookupUnavailable) {
			return nil, ErrLookupUnavailable
		}
		return nil, fmt.Errorf("vpa lookup failed: %w", err)
	}

	details := make([]models.BankDetail, 0, len(results))
	for _, result := range results {
		detail := models.BankDetail{
			AccountID:    accountID,
			VPA:          result.VPA,
			Name:         result.Name,
			MerchantIFSC: result.MerchantIFSC,
			TPAP:         result.TPAP,
		}
		if err := s.kyc.UpsertBankDetail(ctx, &detail); err != nil {
			return nil, fmt.Errorf("failed to store bank detail: %w", err)
		}
		details = append(details, detail)
	}

	s.recorder.Audit(accountID, "kyc.bank_lookup", "success", referenceID)
	util.Info("Bank details fetched",
		zap.String("account_id", accountID),
		zap.String("reference_id", referenceID),
		zap.Int("results", len(details)))

	return details, nil
}

func (s *KYCService) ListBankDetails(ctx context.Context, accountID string) ([]models.BankDetail, error) {
	if _, err := s.accounts.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.kyc.ListBankDetails(ctx, accountID)
}

func (s *KYCService) CreateAddress(ctx context.Context, accountID string, req *AddressCreateRequest) (*models.Address, error) {
	if _, err := s.accounts.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}

	// Free-text fields are sanitized before storage.
	address := &models.Address{
		AccountID:   accountID,
		HouseFlat:   util.SanitizeInput(req.HouseFlat),
		RoadStreet:  util.SanitizeInput(req.RoadStreet),
		Landmark:    util.SanitizeInput(req.Landmark),
		City:        util.SanitizeInput(req.City),
		Pincode:     strings.TrimSpace(req.Pincode),
		State:       util.SanitizeInput(req.State),
		AddressType: strings.ToLower(strings.TrimSpace(req.AddressType)),
	}
	if err := validateAddress(address); err != nil {
		return nil, err
	}

	if err := s.kyc.CreateAddress(ctx, address); err != nil {
		return nil, err
	}

	s.recorder.Audit(accountID, "kyc.address_create", "success", address.AddressID)
	return address, nil
}

func (s *KYCService) ListAddresses(ctx context.Context, accountID string) ([]models.Address, error) {
	if _, err := s.accounts.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.kyc.ListAddresses(ctx, accountID)
}

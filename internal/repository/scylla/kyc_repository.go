package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"accounts-service/internal/models"
	"accounts-service/internal/util"
)

type kycRepository struct {
	client *ScyllaClient
}

func NewKYCRepository(client *ScyllaClient) KYCRepository {
	return &kycRepository{client: client}
}

// ClaimPAN reserves a PAN fingerprint with an LWT insert. Only the SHA-256
// fingerprint ever reaches this table; the PAN itself is stored encrypted in
// kyc_records.
func (r *kycRepository) ClaimPAN(ctx context.Context, fingerprint, accountID string) error {
	applied, err := r.client.Session.Query(`
		INSERT INTO pan_numbers (pan_fingerprint, account_id, created_at)
		VALUES (?, ?, ?) IF NOT EXISTS`,
		fingerprint, accountID, time.Now().UTC()).
		WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("failed to claim pan: %w", err)
	}
	if !applied {
		return ErrPANTaken
	}
	return nil
}

func (r *kycRepository) ReleasePAN(ctx context.Context, fingerprint string) error {
	if err := r.client.Session.Query(`DELETE FROM pan_numbers WHERE pan_fingerprint = ?`, fingerprint).
		WithContext(ctx).Exec(); err != nil {
		util.Warn("Failed to release pan claim", zap.Error(err))
		return fmt.Errorf("failed to release pan claim: %w", err)
	}
	return nil
}

func (r *kycRepository) CreateKYCRecord(ctx context.Context, record *models.KYCRecord) error {
	record.CreatedAt = time.Now().UTC()

	query := r.client.Session.Query(`
		INSERT INTO kyc_records (account_id, pan_encrypted, pan_dek, pan_key_id, pan_fingerprint,
			document_name, document_image, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.AccountID, record.PANEncrypted, record.PANDEK, record.PANKeyID,
		record.PANFingerprint, record.DocumentName, record.DocumentImage,
		record.CreatedAt, record.UpdatedAt).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to create KYC record",
			zap.String("account_id", record.AccountID),
			zap.Error(err))
		return fmt.Errorf("failed to create KYC record: %w", err)
	}

	util.Info("KYC record created", zap.String("account_id", record.AccountID))
	return nil
}

func (r *kycRepository) GetKYCRecord(ctx context.Context, accountID string) (*models.KYCRecord, error) {
	record := &models.KYCRecord{}
	var updatedAt time.Time

	query := r.client.Prepared.GetKYCRecord.Bind(accountID).WithContext(ctx)
	err := r.client.ScanWithRetry(query,
		&record.AccountID, &record.PANEncrypted, &record.PANDEK, &record.PANKeyID,
		&record.PANFingerprint, &record.DocumentName, &record.DocumentImage,
		&record.CreatedAt, &updatedAt)

	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrNotFound
		}
		util.Error("Failed to get KYC record",
			zap.String("account_id", accountID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get KYC record: %w", err)
	}

	if !updatedAt.IsZero() {
		record.UpdatedAt = &updatedAt
	}
	return record, nil
}

func (r *kycRepository) AttachDocumentImage(ctx context.Context, accountID, documentName string, image []byte) error {
	now := time.Now().UTC()

	query := r.client.Prepared.AttachKYCImage.Bind(documentName, image, now, accountID).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to attach document image",
			zap.String("account_id", accountID),
			zap.String("document_name", documentName),
			zap.Error(err))
		return fmt.Errorf("failed to attach document image: %w", err)
	}

	util.Info("Document image attached",
		zap.String("account_id", accountID),
		zap.String("document_name", documentName),
		zap.Int("image_bytes", len(image)))

	return nil
}

// UpsertBankDetail relies on (account_id, vpa) being the primary key: a repeat
// lookup for the same VPA overwrites the non-key columns in place.
func (r *kycRepository) UpsertBankDetail(ctx context.Context, detail *models.BankDetail) error {
	now := time.Now().UTC()
	if detail.CreatedAt.IsZero() {
		detail.CreatedAt = now
	}
	detail.UpdatedAt = &now

	query := r.client.Prepared.UpsertBankDetail.Bind(
		detail.AccountID, detail.VPA, detail.Name, detail.MerchantIFSC,
		detail.TPAP, detail.CreatedAt, detail.UpdatedAt).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to upsert bank detail",
			zap.String("account_id", detail.AccountID),
			zap.String("vpa", detail.VPA),
			zap.Error(err))
		return fmt.Errorf("failed to upsert bank detail: %w", err)
	}

	return nil
}

func (r *kycRepository) ListBankDetails(ctx context.Context, accountID string) ([]models.BankDetail, error) {
	iter := r.client.Prepared.ListBankDetails.Bind(accountID).WithContext(ctx).Iter()

	details := []models.BankDetail{}
	for {
		d := models.BankDetail{}
		var updatedAt time.Time
		if !iter.Scan(&d.AccountID, &d.VPA, &d.Name, &d.MerchantIFSC, &d.TPAP,
			&d.CreatedAt, &updatedAt) {
			break
		}
		if !updatedAt.IsZero() {
			t := updatedAt
			d.UpdatedAt = &t
		}
		details = append(details, d)
	}

	if err := iter.Close(); err != nil {
		util.Error("Failed to list bank details",
			zap.String("account_id", accountID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list bank details: %w", err)
	}

	return details, nil
}

func (r *kycRepository) CreateAddress(ctx context.Context, address *models.Address) error {
	if address.AddressID == "" {
		address.AddressID = gocql.TimeUUID().String()
	}
	address.CreatedAt = time.Now().UTC()

	query := r.client.Prepared.InsertAddress.Bind(
		address.AccountID, address.AddressID, address.HouseFlat, address.RoadStreet,
		address.Landmark, address.City, address.Pincode, address.State,
		address.AddressType, address.CreatedAt, address.UpdatedAt).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to create address",
			zap.String("account_id", address.AccountID),
			zap.Error(err))
		return fmt.Errorf("failed to create address: %w", err)
	}

	util.Info("Address created",
		zap.String("account_id", address.AccountID),
		zap.String("address_id", address.AddressID),
		zap.String("address_type", address.AddressType))

	return nil
}

func (r *kycRepository) ListAddresses(ctx context.Context, accountID string) ([]models.Address, error) {
	iter := r.client.Prepared.ListAddresses.Bind(accountID).WithContext(ctx).Iter()

	addresses := []models.Address{}
	for {
		a := models.Address{}
		var updatedAt time.Time
		if !iter.Scan(&a.AccountID, &a.AddressID, &a.HouseFlat, &a.RoadStreet,
			&a.Landmark, &a.City, &a.Pincode, &a.State, &a.AddressType,
			&a.CreatedAt, &updatedAt) {
			break
		}
		if !updatedAt.IsZero() {
			t := updatedAt
			a.UpdatedAt = &t
		}
		addresses = append(addresses, a)
	}

	if err := iter.Close(); err != nil {
		util.Error("Failed to list addresses",
			zap.String("account_id", accountID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list addresses: %w", err)
	}

	return addresses, nil
}

package models

import "time"

// KYCRecord is one-to-one with an account. The PAN is envelope-encrypted at
// rest; PANFingerprint is the SHA-256 of the normalized PAN and backs the
// global uniqueness claim.
type KYCRecord struct {
	AccountID      string     `json:"account_id" db:"account_id"`
	PANEncrypted   []byte     `json:"-" db:"pan_encrypted"`
	PANDEK         string     `json:"-" db:"pan_dek"`
	PANKeyID       string     `json:"-" db:"pan_key_id"`
	PANFingerprint string     `json:"-" db:"pan_fingerprint"`
	DocumentName   string     `json:"document_name,omitempty" db:"document_name"`
	DocumentImage  []byte     `json:"-" db:"document_image"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// BankDetail is keyed on (account, vpa); repeated lookups overwrite the
// non-key fields. Several VPAs may coexist for one account.
type BankDetail struct {
	AccountID    string     `json:"account_id" db:"account_id"`
	VPA          string     `json:"vpa" db:"vpa"`
	Name         string     `json:"name" db:"name"`
	MerchantIFSC string     `json:"merchant_ifsc" db:"merchant_ifsc"`
	TPAP         []string   `json:"tpap" db:"tpap"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// VPALookupResult is one row returned by the external mobile-to-VPA provider.
type VPALookupResult struct {
	Name         string   `json:"name"`
	VPA          string   `json:"vpa"`
	MerchantIFSC string   `json:"merchantIfsc"`
	TPAP         []string `json:"tpap"`
}

type Address struct {
	AccountID   string     `json:"account_id" db:"account_id"`
	AddressID   string     `json:"address_id" db:"address_id"`
	HouseFlat   string     `json:"house_flat_apartment" db:"house_flat"`
	RoadStreet  string     `json:"road_street" db:"road_street"`
	Landmark    string     `json:"landmark,omitempty" db:"landmark"`
	City        string     `json:"city" db:"city"`
	Pincode     string     `json:"pincode" db:"pincode"`
	State       string     `json:"state" db:"state"`
	AddressType string     `json:"address_type" db:"address_type"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

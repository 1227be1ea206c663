package service

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"accounts-service/internal/models"
	"accounts-service/internal/util"
)

// The handle doubles as the login phone number, so it carries the phone
// format rules.
var (
	handleRegex  = regexp.MustCompile(`^\+?\d{10,15}$`)
	emailRegex   = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	panRegex     = regexp.MustCompile(`^[A-Z]{5}[0-9]{4}[A-Z]$`)
	pincodeRegex = regexp.MustCompile(`^\d{6}$`)
	walletRegex  = regexp.MustCompile(`^[a-zA-Z0-9]{10,255}$`)
	codeRegex    = regexp.MustCompile(`^\d{6}$`)
)

var addressTypes = map[string]bool{
	"home":  true,
	"work":  true,
	"other": true,
}

func validateHandle(handle string) error {
	if !handleRegex.MatchString(handle) {
		return fmt.Errorf("%w: handle must be a phone number of 10 to 15 digits", ErrInvalidInput)
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" || len(email) > 254 || !emailRegex.MatchString(email) {
		return fmt.Errorf("%w: malformed email address", ErrInvalidInput)
	}
	return nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" || len(name) > 150 {
		return fmt.Errorf("%w: name must be non-empty and at most 150 characters", ErrInvalidInput)
	}
	if util.ContainsSuspicious(name) {
		return fmt.Errorf("%w: name contains disallowed characters", ErrInvalidInput)
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 8 || len(password) > 128 {
		return fmt.Errorf("%w: password must be between 8 and 128 characters", ErrInvalidInput)
	}
	return nil
}

// normalizePAN uppercases and strips surrounding whitespace before the format
// check, so the same PAN always produces the same fingerprint.
func normalizePAN(pan string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(pan))
	if !panRegex.MatchString(normalized) {
		return "", fmt.Errorf("%w: pan must match AAAAA9999A", ErrInvalidInput)
	}
	return normalized, nil
}

func validateWalletAddress(address string) error {
	if !walletRegex.MatchString(address) {
		return fmt.Errorf("%w: wallet address must be 10 to 255 alphanumeric characters", ErrInvalidInput)
	}
	return nil
}

// validateVerificationCode checks shape only; the code is stored verbatim and
// never checked against an issuing store here.
func validateVerificationCode(code string) error {
	if !codeRegex.MatchString(code) {
		return fmt.Errorf("%w: verification code must be 6 digits", ErrInvalidInput)
	}
	return nil
}

// validateAmount enforces the ledger's fixed-point contract: strictly
// positive, at most 8 decimal places, at most 20 digits overall.
func validateAmount(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	if amount.Exponent() < -models.AmountScale {
		return fmt.Errorf("%w: amount allows at most %d decimal places", ErrInvalidAmount, models.AmountScale)
	}
	// A positive exponent widens the value beyond its coefficient, so it
	// counts toward the digit cap too.
	digits := len(amount.Coefficient().String())
	if exp := int(amount.Exponent()); exp > 0 {
		digits += exp
	}
	if digits > models.AmountMaxDigits {
		return fmt.Errorf("%w: amount allows at most %d digits", ErrInvalidAmount, models.AmountMaxDigits)
	}
	return nil
}

func validateAddress(address *models.Address) error {
	if strings.TrimSpace(address.HouseFlat) == "" {
		return fmt.Errorf("%w: house/flat is required", ErrInvalidAddress)
	}
	if strings.TrimSpace(address.RoadStreet) == "" {
		return fmt.Errorf("%w: road/street is required", ErrInvalidAddress)
	}
	if strings.TrimSpace(address.City) == "" {
		return fmt.Errorf("%w: city is required", ErrInvalidAddress)
	}
	if strings.TrimSpace(address.State) == "" {
		return fmt.Errorf("%w: state is required", ErrInvalidAddress)
	}
	if !pincodeRegex.MatchString(address.Pincode) {
		return fmt.Errorf("%w: pincode must be 6 digits", ErrInvalidAddress)
	}
	if !addressTypes[address.AddressType] {
		return fmt.Errorf("%w: address type must be home, work or other", ErrInvalidAddress)
	}
	return nil
}

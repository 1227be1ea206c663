package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"accounts-service/internal/config"
	"accounts-service/internal/models"
	"accounts-service/internal/util"
)

// ErrLookupUnavailable marks a transport or provider failure. Callers surface
// it as a retryable dependency error, never as a validation problem.
var ErrLookupUnavailable = errors.New("vpa lookup provider unavailable")

// VPALookupClient calls the external mobile-to-VPA provider. The provider is
// a black box; this client only shapes the request and tolerates an empty
// result list.
type VPALookupClient struct {
	config     *config.DecentroConfig
	httpClient *http.Client
	logger     *zap.Logger
}

type vpaLookupRequest struct {
	ReferenceID string `json:"reference_id"`
	Consent     bool   `json:"consent"`
	Purpose     string `json:"purpose"`
	Mobile      string `json:"mobile"`
}

type vpaLookupResponse struct {
	Data struct {
		Results []models.VPALookupResult `json:"results"`
	} `json:"data"`
}

func NewVPALookupClient(cfg *config.Config, logger *zap.Logger) *VPALookupClient {
	return &VPALookupClient{
		config: &cfg.Decentro,
		httpClient: &http.Client{
			Timeout: cfg.Decentro.Timeout,
		},
		logger: logger,
	}
}

// LookupByMobile resolves the VPAs registered against a mobile number. An
// empty result list is a valid answer, not an error.
func (c *VPALookupClient) LookupByMobile(ctx context.Context, mobile string) ([]models.VPALookupResult, string, error) {
	referenceID := uuid.New().String()

	payload := vpaLookupRequest{
		ReferenceID: referenceID,
		Consent:     true,
		Purpose:     "Fetch user VPA from mobile number",
		Mobile:      mobile,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, referenceID, fmt.Errorf("failed to marshal lookup request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, referenceID, fmt.Errorf("failed to create lookup request: %w", err)
	}

	req.Header.Set("client_id", c.config.ClientID)
	req.Header.Set("client_secret", c.config.ClientSecret)
	req.Header.Set("module_secret", c.config.ModuleSecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		util.Error("VPA lookup request failed",
			zap.String("reference_id", referenceID),
			zap.Error(err))
		return nil, referenceID, fmt.Errorf("%w: %v", ErrLookupUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		util.Error("VPA lookup provider returned error status",
			zap.String("reference_id", referenceID),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", raw))
		return nil, referenceID, fmt.Errorf("%w: status %d", ErrLookupUnavailable, resp.StatusCode)
	}

	var parsed vpaLookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, referenceID, fmt.Errorf("%w: malformed response: %v", ErrLookupUnavailable, err)
	}

	util.Debug("VPA lookup completed",
		zap.String("reference_id", referenceID),
		zap.Int("result_count", len(parsed.Data.Results)))

	return parsed.Data.Results, referenceID, nil
}

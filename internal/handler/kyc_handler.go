package handler

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"accounts-service/internal/service"
	"accounts-service/internal/util"
)

// KYCHandler serves PAN submission, document upload, bank-detail lookup and
// address endpoints. All routes require an authenticated session.
type KYCHandler struct {
	kyc    *service.KYCService
	logger *zap.Logger
}

func NewKYCHandler(kyc *service.KYCService, logger *zap.Logger) *KYCHandler {
	return &KYCHandler{
		kyc:    kyc,
		logger: logger,
	}
}

func (h *KYCHandler) RegisterRoutes(router chi.Router, auth func(http.Handler) http.Handler) {
	router.Route("/kyc", func(r chi.Router) {
		r.Use(auth)
		r.Post("/pan", h.SubmitPAN)
		r.Get("/", h.GetKYC)
		r.Post("/document", h.AttachDocument)
		r.Post("/bank-details/fetch", h.FetchBankDetails)
		r.Get("/bank-details", h.ListBankDetails)
	})

	router.Route("/addresses", func(r chi.Router) {
		r.Use(auth)
		r.Post("/", h.CreateAddress)
		r.Get("/", h.ListAddresses)
	})
}

func (h *KYCHandler) SubmitPAN(w http.ResponseWriter, r *http.Request) {
	accountID := accountIDFromContext(r.Context())
	startTime := time.Now()

	var req struct {
		PAN          string `json:"pan"`
		DocumentName string `json:"document_name,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	view, err := h.kyc.SubmitPAN(r.Context(), accountID, req.PAN, req.DocumentName)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to submit PAN")
		return
	}

	respondWithJSON(w, http.StatusCreated, successResponse(view, "PAN submitted successfully"))

	h.logger.Info("PAN submitted via HTTP",
		util.String("account_id", accountID),
		util.Duration("duration", time.Since(startTime)),
	)
}

func (h *KYCHandler) GetKYC(w http.ResponseWriter, r *http.Request) {
	accountID := accountIDFromContext(r.Context())

	view, err := h.kyc.GetKYC(r.Context(), accountID)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to get KYC record")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(view, "KYC record retrieved successfully"))
}

func (h *KYCHandler) AttachDocument(w http.ResponseWriter, r *http.Request) {
	accountID := accountIDFromContext(r.Context())

	var req struct {
		DocumentName string `json:"document_name"`
		ImageBase64  string `json:"image_base64"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	image, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Document image must be base64 encoded")
		return
	}

	if err := h.kyc.AttachDocumentImage(r.Context(), accountID, req.DocumentName, image); err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to attach document")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "Document attached successfully"))
}

func (h *KYCHandler) FetchBankDetails(w http.ResponseWriter, r *http.Request) {
	accountID := accountIDFromContext(r.Context())
	startTime := time.Now()

	details, err := h.kyc.FetchBankDetails(r.Context(), accountID)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to fetch bank details")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(details, "Bank details fetched successfully"))

	h.logger.Info("Bank details fetched via HTTP",
		util.String("account_id", accountID),
		util.Int("results", len(details)),
		util.Duration("duration", time.Since(startTime)),
	)
}

func (h *KYCHandler) ListBankDetails(w http.ResponseWriter, r *http.Request) {
	accountID := accountIDFromContext(r.Context())

	details, err := h.kyc.ListBankDetails(r.Context(), accountID)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to list bank details")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(details, "Bank details retrieved successfully"))
}

func (h *KYCHandler) CreateAddress(w http.ResponseWriter, r *http.Request) {
	accountID := accountIDFromContext(r.Context())

	var req service.AddressCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	address, err := h.kyc.CreateAddress(r.Context(), accountID, &req)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to create address")
		return
	}

	respondWithJSON(w, http.StatusCreated, successResponse(address, "Address created successfully"))
}

func (h *KYCHandler) ListAddresses(w http.ResponseWriter, r *http.Request) {
	accountID := accountIDFromContext(r.Context())

	addresses, err := h.kyc.ListAddresses(r.Context(), accountID)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to list addresses")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(addresses, "Addresses retrieved successfully"))
}

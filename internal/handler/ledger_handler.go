package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"accounts-service/internal/service"
	"accounts-service/internal/util"
)

// LedgerHandler serves the fund-movement endpoints. All routes require an
// authenticated session.
type LedgerHandler struct {
	ledger *service.LedgerService
	logger *zap.Logger
}

func NewLedgerHandler(ledger *service.LedgerService, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{
		ledger: ledger,
		logger: logger,
	}
}

func (h *LedgerHandler) RegisterRoutes(router chi.Router, auth func(http.Handler) http.Handler) {
	router.Route("/ledger", func(r chi.Router) {
		r.Use(auth)
		r.Post("/deposits", h.RecordDeposit)
		r.Get("/deposits", h.ListDeposits)
		r.Post("/withdrawals", h.RecordWithdrawal)
		r.Get("/withdrawals", h.ListWithdrawals)
		r.Get("/balance", h.GetBalance)
	})
}

func (h *LedgerHandler) RecordDeposit(w http.ResponseWriter, r *http.Request) {
	accountID := accountIDFromContext(r.Context())
	startTime := time.Now()

	var req service.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	deposit, err := h.ledger.RecordDeposit(r.Context(), accountID, &req)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to record deposit")
		return
	}

	respondWithJSON(w, http.StatusCreated, successResponse(deposit, "Deposit recorded successfully"))

	h.logger.Info("Deposit recorded via HTTP",
		util.String("account_id", accountID),
		util.String("entry_id", deposit.EntryID),
		util.Duration("duration", time.Since(startTime)),
	)
}

func (h *LedgerHandler) RecordWithdrawal(w http.ResponseWriter, r *http.Request) {
	accountID := accountIDFromContext(r.Context())
	startTime := time.Now()

	var req service.WithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	withdrawal, err := h.ledger.RecordWithdrawal(r.Context(), accountID, &req)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to record withdrawal")
		return
	}

	respondWithJSON(w, http.StatusCreated, successResponse(withdrawal, "Withdrawal recorded successfully"))

	h.logger.Info("Withdrawal recorded via HTTP",
		util.String("account_id", accountID),
		util.String("entry_id", withdrawal.EntryID),
		util.Duration("duration", time.Since(startTime)),
	)
}

func (h *LedgerHandler) ListDeposits(w http.ResponseWriter, r *http.Request) {
	accountID := accountIDFromContext(r.Context())

	limit, err := parseLimit(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Limit must be between 1 and 1000")
		return
	}

	deposits, err := h.ledger.ListDeposits(r.Context(), accountID, limit)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to list deposits")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(deposits, "Deposits retrieved successfully"))
}

func (h *LedgerHandler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	accountID := accountIDFromContext(r.Context())

	limit, err := parseLimit(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Limit must be between 1 and 1000")
		return
	}

	withdrawals, err := h.ledger.ListWithdrawals(r.Context(), accountID, limit)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to list withdrawals")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(withdrawals, "Withdrawals retrieved successfully"))
}

func (h *LedgerHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID := accountIDFromContext(r.Context())
	startTime := time.Now()

	balance, err := h.ledger.ComputeBalance(r.Context(), accountID)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to compute balance")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(balance, "Balance computed successfully"))

	h.logger.Debug("Balance computed via HTTP",
		util.String("account_id", accountID),
		util.Duration("duration", time.Since(startTime)),
	)
}

func parseLimit(r *http.Request) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return 0, nil
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 || limit > 1000 {
		return 0, errors.New("invalid limit")
	}
	return limit, nil
}

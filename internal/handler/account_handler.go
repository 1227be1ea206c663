package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"accounts-service/internal/models"
	"accounts-service/internal/service"
	"accounts-service/internal/util"
)

// AccountHandler serves registration, authentication and account lifecycle
// endpoints.
type AccountHandler struct {
	accounts  *service.AccountService
	referrals *service.ReferralService
	logger    *zap.Logger
	devMode   bool
}

func NewAccountHandler(accounts *service.AccountService, referrals *service.ReferralService, logger *zap.Logger, devMode bool) *AccountHandler {
	return &AccountHandler{
		accounts:  accounts,
		referrals: referrals,
		logger:    logger,
		devMode:   devMode,
	}
}

type loginResponse struct {
	Account *models.Account `json:"account"`
	Token   string          `json:"token"`
}

type registerResponse struct {
	Account *models.Account `json:"account"`
	Profile *models.Profile `json:"profile"`
}

func (h *AccountHandler) RegisterRoutes(router chi.Router, auth func(http.Handler) http.Handler) {
	router.Route("/accounts", func(r chi.Router) {
		r.Post("/", h.CreateAccount)
		r.Get("/referrals/{code}", h.ResolveReferralCode)

		r.Group(func(r chi.Router) {
			r.Use(auth)
			r.Get("/me", h.GetAccount)
			r.Patch("/me", h.UpdateProfile)
			r.Delete("/me", h.DeleteAccount)
			r.Put("/me/password", h.UpdatePassword)
			r.Get("/me/totals", h.GetTotals)
			r.Get("/me/referrals", h.GetReferralStats)
			r.Get("/search", h.SearchAccounts)
		})
	})

	router.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/otp/request", h.RequestOTP)
		r.Post("/verify", h.VerifyPhone)
		r.Post("/password/forgot", h.ForgotPassword)
		r.Post("/password/reset", h.ResetPassword)

		r.Group(func(r chi.Router) {
			r.Use(auth)
			r.Post("/logout", h.Logout)
		})
	})
}

func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var req service.AccountCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	account, profile, err := h.accounts.CreateAccount(r.Context(), &req)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to create account")
		return
	}

	respondWithJSON(w, http.StatusCreated, successResponse(registerResponse{
		Account: account,
		Profile: profile,
	}, "Account created successfully"))

	h.logger.Info("Account created via HTTP",
		util.String("account_id", account.AccountID),
		util.Duration("duration", time.Since(startTime)),
	)
}

func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req service.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	account, token, err := h.accounts.Authenticate(r.Context(), &req)
	if err != nil {
		message := "Invalid credentials."
		if errors.Is(err, service.ErrNotVerified) {
			message = "Phone number is not verified."
		}
		respondWithError(w, getStatusCode(err), err, message)
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(loginResponse{
		Account: account,
		Token:   token,
	}, "Login successful"))
}

func (h *AccountHandler) Logout(w http.ResponseWriter, r *http.Request) {
	accountID := accountIDFromContext(r.Context())

	if err := h.accounts.Logout(r.Context(), accountID); err != nil {
		respondWithError(w, http.StatusInternalServerError, err, "Failed to log out")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "Logged out"))
}

func (h *AccountHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Handle string `json:"handle"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	otp, err := h.accounts.RequestVerificationOTP(r.Context(), req.Handle)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to request verification code")
		return
	}

	// Outside development the code travels only through the SMS pipeline.
	var data interface{}
	if h.devMode {
		data = map[string]string{"otp": otp}
	}

	respondWithJSON(w, http.StatusAccepted, successResponse(data, "Verification code sent"))
}

func (h *AccountHandler) VerifyPhone(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Handle string `json:"handle"`
		OTP    string `json:"otp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.accounts.VerifyPhone(r.Context(), req.Handle, req.OTP); err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to verify phone number")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "Phone number verified"))
}

func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID := accountIDFromContext(r.Context())

	account, err := h.accounts.GetAccount(r.Context(), accountID)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to get account")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(account, "Account retrieved successfully"))
}

func (h *AccountHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	accountID := accountIDFromContext(r.Context())

	var req service.AccountUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	account, err := h.accounts.UpdateProfile(r.Context(), accountID, &req)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to update account")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(account, "Account updated successfully"))
}

func (h *AccountHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	accountID := accountIDFromContext(r.Context())

	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.accounts.UpdatePassword(r.Context(), accountID, req.CurrentPassword, req.NewPassword); err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to change password")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "Password changed"))
}

// ForgotPassword always reports success for a well-formed email, so the
// endpoint cannot be used to enumerate registered addresses.
func (h *AccountHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	token, err := h.accounts.ForgotPassword(r.Context(), req.Email)
	if err != nil && !errors.Is(err, service.ErrAccountNotFound) {
		respondWithError(w, getStatusCode(err), err, "Failed to request password reset")
		return
	}

	var data interface{}
	if h.devMode && token != "" {
		data = map[string]string{"reset_token": token}
	}

	respondWithJSON(w, http.StatusAccepted, successResponse(data, "If the email is registered, a reset link has been sent"))
}

func (h *AccountHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.accounts.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to reset password")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "Password reset"))
}

func (h *AccountHandler) GetTotals(w http.ResponseWriter, r *http.Request) {
	accountID := accountIDFromContext(r.Context())

	totals, err := h.accounts.GetTotals(r.Context(), accountID)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to compute totals")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(totals, "Totals computed successfully"))
}

func (h *AccountHandler) GetReferralStats(w http.ResponseWriter, r *http.Request) {
	accountID := accountIDFromContext(r.Context())

	stats, err := h.referrals.GetReferralStats(r.Context(), accountID)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to get referral stats")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(stats, "Referral stats retrieved successfully"))
}

func (h *AccountHandler) ResolveReferralCode(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	stats, err := h.referrals.ResolveReferralCode(r.Context(), code)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to resolve referral code")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(stats, "Referral code resolved"))
}

func (h *AccountHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	accountID := accountIDFromContext(r.Context())

	if err := h.accounts.DeleteAccount(r.Context(), accountID); err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to delete account")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "Account deleted"))
}

func (h *AccountHandler) SearchAccounts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 || parsed > 100 {
			respondWithError(w, http.StatusBadRequest, errors.New("invalid limit"), "Limit must be between 1 and 100")
			return
		}
		limit = parsed
	}

	docs, err := h.accounts.SearchAccounts(r.Context(), query, limit)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to search accounts")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(docs, "Accounts retrieved successfully"))
}

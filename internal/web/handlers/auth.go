package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/auth"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/database"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/logging"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/mail"
)

// loginOrder is the order account tables are searched on login.
var loginOrder = []database.Role{database.RoleSuperAdmin, database.RoleAdmin, database.RoleUser}

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	stores database.Stores
	tokens *auth.TokenManager
	mailer Notifier
	audit  *Auditor
	now    func() time.Time
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(stores database.Stores, tokens *auth.TokenManager, mailer Notifier, audit *Auditor) *AuthHandler {
	return &AuthHandler{
		stores: stores,
		tokens: tokens,
		mailer: mailer,
		audit:  audit,
		now:    time.Now,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned by a successful login.
type LoginResponse struct {
	AccessToken string            `json:"access_token"`
	User        *database.Account `json:"user"`
	UserType    database.Role     `json:"user_type"`
}

// Login checks super admins, then admins, then users.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = normalizeEmail(req.Email)
	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "Email and password required")
		return
	}

	for _, role := range loginOrder {
		acc, err := h.stores.Accounts.FindByEmail(r.Context(), role, req.Email)
		if err != nil {
			respondInternal(w, r, "login lookup failed", err)
			return
		}
		if acc == nil || !auth.CheckPassword(acc.PasswordHash, req.Password) {
			continue
		}
		if !acc.IsActive {
			respondError(w, http.StatusForbidden, "Account is inactive")
			return
		}

		id := &auth.Identity{ID: acc.ID, Type: role, Email: acc.Email}
		token, err := h.tokens.Issue(*id)
		if err != nil {
			respondInternal(w, r, "issuing token failed", err)
			return
		}
		if err := h.stores.Accounts.TouchLastLogin(r.Context(), role, acc.ID); err != nil {
			logging.Warn("failed to update last login", "email", acc.Email, "error", err)
		}
		h.audit.RecordFor(r, id, "login", "Logged in as "+string(role))

		respondJSON(w, http.StatusOK, LoginResponse{AccessToken: token, User: acc, UserType: role})
		return
	}

	logging.Info("failed login", "email", sanitizeForLog(req.Email))
	respondError(w, http.StatusUnauthorized, "Invalid credentials")
}

type registerRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	Phone      string `json:"phone"`
	Department string `json:"department"`
}

// Register creates an active user account directly.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = normalizeEmail(req.Email)
	if req.Name == "" || req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "Name, email and password required")
		return
	}

	exists, err := h.stores.Accounts.EmailExists(r.Context(), req.Email)
	if err != nil {
		respondInternal(w, r, "email lookup failed", err)
		return
	}
	if exists {
		respondError(w, http.StatusBadRequest, "Email already registered")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondHashError(w, r, err)
		return
	}
	acc := &database.Account{
		Role:         database.RoleUser,
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		Phone:        req.Phone,
		Department:   req.Department,
		Status:       database.StatusActive,
		IsActive:     true,
	}
	if err := h.stores.Accounts.Create(r.Context(), acc); err != nil {
		if errors.Is(err, database.ErrEmailTaken) {
			respondError(w, http.StatusBadRequest, "Email already registered")
			return
		}
		respondInternal(w, r, "creating user failed", err)
		return
	}

	sendVerification(r.Context(), h.stores.Accounts, h.mailer, acc, h.now())
	h.audit.RecordFor(r, &auth.Identity{ID: acc.ID, Type: database.RoleUser, Email: acc.Email},
		"register", "User registered")

	respondJSON(w, http.StatusCreated, map[string]any{
		"message": "Registration successful",
		"user":    acc,
	})
}

type signupRequest struct {
	registerRequest
	ProfileImage string   `json:"profile_image"`
	Documents    []string `json:"documents"`
}

// Signup files a request that an admin must approve before the account exists.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = normalizeEmail(req.Email)
	if req.Name == "" || req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "Name, email and password required")
		return
	}

	ctx := r.Context()
	exists, err := h.stores.Accounts.EmailExists(ctx, req.Email)
	if err != nil {
		respondInternal(w, r, "email lookup failed", err)
		return
	}
	pending, err := h.stores.Signups.PendingEmailExists(ctx, req.Email)
	if err != nil {
		respondInternal(w, r, "signup lookup failed", err)
		return
	}
	if exists || pending {
		respondError(w, http.StatusBadRequest, "Email already registered")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondHashError(w, r, err)
		return
	}
	signup := &database.SignupRequest{
		Name:         req.Name,
		Email:        req.Email,
		Phone:        req.Phone,
		Department:   req.Department,
		ProfileImage: req.ProfileImage,
		PasswordHash: hash,
		Documents:    req.Documents,
		Status:       database.StatusPending,
	}
	if err := h.stores.Signups.Create(ctx, signup); err != nil {
		respondInternal(w, r, "creating signup request failed", err)
		return
	}
	h.audit.RecordAs(r, "guest", nil, req.Email, "signup_request", "Signup requested by "+req.Name)

	respondJSON(w, http.StatusCreated, map[string]any{
		"message":    "Signup request submitted. You will be notified once an admin reviews it.",
		"request_id": signup.ID,
	})
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// VerifyEmail confirms a user's address with the emailed code.
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = normalizeEmail(req.Email)
	req.Code = strings.TrimSpace(req.Code)
	if req.Email == "" || req.Code == "" {
		respondError(w, http.StatusBadRequest, "Email and code required")
		return
	}

	ok, err := h.stores.Accounts.VerifyEmail(r.Context(), req.Email, req.Code, h.now())
	if err != nil {
		respondInternal(w, r, "verifying email failed", err)
		return
	}
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid or expired verification code")
		return
	}
	h.audit.RecordAs(r, string(database.RoleUser), nil, req.Email, "verify_email", "Email verified")
	respondJSON(w, http.StatusOK, map[string]string{"message": "Email verified successfully"})
}

// Me returns the caller's account.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	acc, err := h.stores.Accounts.Get(r.Context(), id.Type, id.ID)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		respondInternal(w, r, "loading account failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"user": acc, "user_type": id.Type})
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// ChangePassword replaces the caller's password after checking the old one.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.OldPassword == "" || req.NewPassword == "" {
		respondError(w, http.StatusBadRequest, "Old and new password required")
		return
	}

	id := identity(r)
	acc, err := h.stores.Accounts.Get(r.Context(), id.Type, id.ID)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		respondInternal(w, r, "loading account failed", err)
		return
	}
	if !auth.CheckPassword(acc.PasswordHash, req.OldPassword) {
		respondError(w, http.StatusUnauthorized, "Invalid old password")
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		respondHashError(w, r, err)
		return
	}
	if _, err := h.stores.Accounts.Update(r.Context(), id.Type, id.ID, database.AccountUpdate{PasswordHash: &hash}); err != nil {
		respondInternal(w, r, "updating password failed", err)
		return
	}
	h.audit.Record(r, "password_change", "Password changed")
	respondJSON(w, http.StatusOK, map[string]string{"message": "Password changed successfully"})
}

// sendVerification stores a fresh code for acc and mails it. Failures are
// logged; the account stays usable and the code can be re-sent.
func sendVerification(ctx context.Context, accounts database.AccountStore, mailer Notifier, acc *database.Account, now time.Time) {
	code, err := mail.GenerateVerificationCode(6)
	if err != nil {
		logging.Error("failed to generate verification code", "error", err)
		return
	}
	if err := accounts.SaveVerificationCode(ctx, acc.ID, code, now.Add(mail.CodeTTL)); err != nil {
		logging.Error("failed to store verification code", "user_id", acc.ID, "error", err)
		return
	}
	if mailer == nil {
		return
	}
	if err := mailer.SendVerificationCode(ctx, acc.Email, code, acc.Name); err != nil {
		logging.Warn("failed to send verification email", "email", acc.Email, "error", err)
	}
}

package httpapi

import (
	"net/http"
	"time"

	"huddle.org/internal/audit"
	"huddle.org/internal/auth"
	"huddle.org/internal/challenge"
	"huddle.org/internal/obs"
)

func (a *API) routes() {
	public := auth.RouteRule{}
	loggedIn := auth.RouteRule{RequiresLogin: true}

	a.handle("POST /v1/user/register", public, a.handleRegister)
	a.handle("GET /v1/user/register-captcha", public, a.challengeHandler(challenge.PurposeRegister))
	a.handle("POST /v1/user/login", public, a.loginHandler(false))
	a.handle("POST /v1/user/admin/login", public, a.loginHandler(true))
	a.handle("GET /v1/user/refresh", public, a.handleRefresh)
	a.handle("GET /v1/user/admin/refresh", public, a.handleRefresh)
	a.handle("GET /v1/user/info", loggedIn, a.handleUserInfo)
	a.handle("GET /v1/user/update-password/captcha", public, a.challengeHandler(challenge.PurposePasswordUpdate))
	a.handle("POST /v1/user/update-password", loggedIn, a.handleUpdatePassword)
	a.handle("GET /v1/user/update/captcha", loggedIn, a.challengeHandler(challenge.PurposeProfileUpdate))
	a.handle("POST /v1/user/update", loggedIn, a.handleUpdateProfile)
	a.handle("GET /v1/user/freeze", auth.RouteRule{
		RequiresLogin:       true,
		RequiredPermissions: []string{auth.PermUserFreeze},
	}, a.handleFreeze)
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Nickname string `json:"nickname"`
	Email    string `json:"email"`
	Code     string `json:"code"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, err := a.svc.Register(r.Context(), auth.RegisterInput{
		Username: req.Username,
		Password: req.Password,
		Nickname: req.Nickname,
		Email:    req.Email,
		Code:     req.Code,
	})
	if err != nil {
		writeAuthError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.registered", map[string]any{
		"user_id":  user.ID,
		"username": user.Username,
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "registration successful"})
}

// challengeHandler issues a code for the purpose and mails it to the address
// in the query. Delivery failures propagate as a generic error; the code
// itself never appears in the response.
func (a *API) challengeHandler(purpose challenge.Purpose) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		address := r.URL.Query().Get("address")
		if address == "" {
			writeError(w, http.StatusBadRequest, "address is required")
			return
		}
		if err := a.svc.RequestChallenge(r.Context(), purpose, address); err != nil {
			writeAuthError(w, err)
			return
		}
		obs.ObserveChallengeIssued(string(purpose))
		_ = audit.LogEvent(r.Context(), "challenge.issued", map[string]any{
			"purpose": string(purpose),
			"address": address,
		})
		writeJSON(w, http.StatusOK, map[string]string{"message": "verification code sent"})
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userView struct {
	ID          string            `json:"id"`
	Username    string            `json:"username"`
	IsAdmin     bool              `json:"is_admin"`
	Roles       []string          `json:"roles"`
	Permissions []auth.Permission `json:"permissions"`
}

type loginResponse struct {
	User   userView       `json:"user"`
	Tokens auth.TokenPair `json:"tokens"`
}

func (a *API) loginHandler(isAdmin bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		pair, snap, err := a.svc.Login(r.Context(), req.Username, req.Password, isAdmin)
		if err != nil {
			obs.ObserveLogin("rejected")
			writeAuthError(w, err)
			return
		}
		obs.ObserveLogin("ok")
		_ = audit.LogEvent(r.Context(), "user.login", map[string]any{
			"user_id":  snap.ID,
			"username": snap.Username,
			"is_admin": snap.IsAdmin,
		})
		writeJSON(w, http.StatusOK, loginResponse{
			User: userView{
				ID:          snap.ID,
				Username:    snap.Username,
				IsAdmin:     snap.IsAdmin,
				Roles:       snap.Roles,
				Permissions: snap.Permissions,
			},
			Tokens: pair,
		})
	}
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("refreshToken")
	if token == "" {
		writeError(w, http.StatusBadRequest, "refreshToken is required")
		return
	}
	pair, err := a.svc.Refresh(r.Context(), token)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

type userDetailView struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Nickname  string    `json:"nickname"`
	AvatarURL string    `json:"avatar_url"`
	Phone     string    `json:"phone"`
	IsAdmin   bool      `json:"is_admin"`
	IsFrozen  bool      `json:"is_frozen"`
	CreatedAt time.Time `json:"created_at"`
}

func (a *API) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	snap, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "login required")
		return
	}
	user, err := a.svc.UserDetail(r.Context(), snap.ID)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userDetailView{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		Nickname:  user.Nickname,
		AvatarURL: user.AvatarURL,
		Phone:     user.Phone,
		IsAdmin:   user.IsAdmin,
		IsFrozen:  user.IsFrozen,
		CreatedAt: user.CreatedAt,
	})
}

type updatePasswordRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Code     string `json:"code"`
}

func (a *API) handleUpdatePassword(w http.ResponseWriter, r *http.Request) {
	snap, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "login required")
		return
	}
	var req updatePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := a.svc.UpdatePassword(r.Context(), snap.ID, auth.UpdatePasswordInput{
		Email:    req.Email,
		Password: req.Password,
		Code:     req.Code,
	})
	if err != nil {
		writeAuthError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.password_updated", nil)
	writeJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

type updateProfileRequest struct {
	Email     string `json:"email"`
	Code      string `json:"code"`
	Nickname  string `json:"nickname"`
	AvatarURL string `json:"avatar_url"`
	Phone     string `json:"phone"`
}

func (a *API) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	snap, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "login required")
		return
	}
	var req updateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := a.svc.UpdateProfile(r.Context(), snap.ID, auth.UpdateProfileInput{
		Email:     req.Email,
		Code:      req.Code,
		Nickname:  req.Nickname,
		AvatarURL: req.AvatarURL,
		Phone:     req.Phone,
	})
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "profile updated"})
}

func (a *API) handleFreeze(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if err := a.svc.Freeze(r.Context(), id); err != nil {
		writeAuthError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.frozen", map[string]any{"target_user_id": id})
	writeJSON(w, http.StatusOK, map[string]string{"message": "success"})
}

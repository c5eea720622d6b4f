package handlers

import (
	"errors"
	"net/http"

	"github.com/Coworker2000/acr/middleware"
	"github.com/Coworker2000/acr/services"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

type AuthHandler struct {
	authService  *services.AuthService
	oauthService *services.OAuthService
	clientURL    string
}

func NewAuthHandler(authService *services.AuthService, oauthService *services.OAuthService, clientURL string) *AuthHandler {
	return &AuthHandler{
		authService:  authService,
		oauthService: oauthService,
		clientURL:    clientURL,
	}
}

// 注册必填字段，缺哪个就报哪个
var requiredRegisterFields = []struct {
	name  string
	value func(services.RegisterInput) string
}{
	{"firstName", func(r services.RegisterInput) string { return r.FirstName }},
	{"lastName", func(r services.RegisterInput) string { return r.LastName }},
	{"email", func(r services.RegisterInput) string { return r.Email }},
	{"phone", func(r services.RegisterInput) string { return r.Phone }},
	{"password", func(r services.RegisterInput) string { return r.Password }},
	{"address", func(r services.RegisterInput) string { return r.Address }},
	{"city", func(r services.RegisterInput) string { return r.City }},
	{"state", func(r services.RegisterInput) string { return r.State }},
	{"zipCode", func(r services.RegisterInput) string { return r.ZipCode }},
	{"creditGoals", func(r services.RegisterInput) string { return r.CreditGoals }},
	{"hearAboutUs", func(r services.RegisterInput) string { return r.HearAboutUs }},
}

func (h *AuthHandler) Register(c echo.Context) error {
	var input services.RegisterInput
	if err := c.Bind(&input); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"msg": "invalid request"})
	}
	for _, field := range requiredRegisterFields {
		if field.value(input) == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"msg": "Missing required field: " + field.name,
			})
		}
	}

	user, err := h.authService.Register(c.Request().Context(), input)
	if err != nil {
		if errors.Is(err, services.ErrEmailInUse) {
			return c.JSON(http.StatusBadRequest, map[string]string{"msg": "Email already in use"})
		}
		log.Errorf("Error registering user: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"msg": "Error registering user"})
	}

	token, err := h.authService.GenerateToken(user)
	if err != nil {
		log.Errorf("Error generating token: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"msg": "Error registering user"})
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"msg":   "User registered successfully",
		"token": token,
		"user":  user.Summary(),
	})
}

func (h *AuthHandler) Login(c echo.Context) error {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"msg": "invalid request"})
	}

	user, err := h.authService.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			return c.JSON(http.StatusUnauthorized, map[string]string{"msg": "Invalid credentials"})
		}
		log.Errorf("Login error: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"msg": "Server error"})
	}

	token, err := h.authService.GenerateToken(user)
	if err != nil {
		log.Errorf("Error generating token: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"msg": "Server error"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"token": token,
		"user":  user.Summary(),
	})
}

func (h *AuthHandler) GetProviders(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"providers": h.oauthService.Providers(),
	})
}

const oauthStateCookie = "oauth_state"

func (h *AuthHandler) OAuthLogin(c echo.Context) error {
	provider := c.Param("provider")
	state := uuid.New().String()
	url, err := h.oauthService.GetAuthURL(provider, state)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	c.SetCookie(&http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		MaxAge:   600,
	})
	return c.Redirect(http.StatusTemporaryRedirect, url)
}

func (h *AuthHandler) OAuthCallback(c echo.Context) error {
	provider := c.Param("provider")
	cookie, err := c.Cookie(oauthStateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != c.QueryParam("state") {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid oauth state"})
	}

	ctx := c.Request().Context()
	oauthToken, err := h.oauthService.ExchangeCode(ctx, provider, c.QueryParam("code"))
	if err != nil {
		log.Errorf("OAuth code exchange failed: %v", err)
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "oauth exchange failed"})
	}
	info, err := h.oauthService.GetUserInfo(provider, oauthToken)
	if err != nil {
		log.Errorf("OAuth userinfo failed: %v", err)
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "failed to fetch user info"})
	}

	user, err := h.authService.FindOrCreateOAuthUser(ctx, info.Provider, info.ID, info.Email, info.Name)
	if err != nil {
		log.Errorf("OAuth user lookup failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "server error"})
	}
	token, err := h.authService.GenerateToken(user)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "server error"})
	}
	// 带 token 回跳前端选套餐页，和本地登录走同一套 token
	return c.Redirect(http.StatusTemporaryRedirect, h.clientURL+"/plans?token="+token)
}

func (h *AuthHandler) GetCurrentUser(c echo.Context) error {
	identity := middleware.Identity(c)
	if identity == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"id":    identity.UserID,
		"email": identity.Email,
		"name":  identity.Name,
	})
}

package social

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/goliatone/go-router"

	"github.com/inkpress/go-accounts"
)

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// HTTPController handles social auth HTTP routes.
type HTTPController struct {
	registry *Registry
	states   StateManager
	linker   *Linker
	auther   accounts.HTTPAuthenticator
	logger   accounts.Logger
	config   HTTPConfig
}

// HTTPConfig configures the HTTP controller.
type HTTPConfig struct {
	// PathPrefix for routes (default: "/auth/social")
	PathPrefix string

	// SuccessRedirect is the default redirect after successful auth
	SuccessRedirect string

	// ErrorRedirect is the redirect for auth errors
	ErrorRedirect string

	// ErrorHandler handles errors (optional)
	ErrorHandler func(ctx router.Context, err error) error
}

// NewHTTPController creates a new social auth HTTP controller.
func NewHTTPController(registry *Registry, states StateManager, linker *Linker, auther accounts.HTTPAuthenticator, cfg HTTPConfig) *HTTPController {
	if cfg.PathPrefix == "" {
		cfg.PathPrefix = "/auth/social"
	}
	if cfg.SuccessRedirect == "" {
		cfg.SuccessRedirect = "/"
	}
	if cfg.ErrorRedirect == "" {
		cfg.ErrorRedirect = "/login?error=auth_failed"
	}

	return &HTTPController{
		registry: registry,
		states:   states,
		linker:   linker,
		auther:   auther,
		logger:   accounts.NewDefaultLogger(),
		config:   cfg,
	}
}

func (c *HTTPController) WithLogger(logger accounts.Logger) *HTTPController {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// RegisterRoutes registers social auth routes.
func (c *HTTPController) RegisterRoutes(group RouteRegistrar) {
	group.Get("/providers", c.ListProviders)
	group.Get("/:provider/callback", c.Callback)
	group.Get("/:provider", c.BeginAuth)
}

// ListProviders returns available social providers.
func (c *HTTPController) ListProviders(ctx router.Context) error {
	return ctx.JSON(router.StatusOK, map[string]any{
		"providers": c.registry.Names(),
	})
}

// BeginAuth starts the OAuth flow by redirecting to the provider.
func (c *HTTPController) BeginAuth(ctx router.Context) error {
	providerName := ctx.Param("provider")

	provider, err := c.registry.Lookup(providerName)
	if err != nil {
		return c.handleError(ctx, err)
	}

	redirectURL := ctx.Query("redirect_url")
	if redirectURL == "" {
		redirectURL = c.config.SuccessRedirect
	}

	state, err := c.states.Encode(&OAuthState{
		Provider:    providerName,
		RedirectURL: redirectURL,
	})
	if err != nil {
		return c.handleError(ctx, err)
	}

	return ctx.Redirect(provider.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// Callback handles the OAuth callback: verify state, exchange the code,
// fetch the profile, resolve it to a user, and mint a session cookie.
func (c *HTTPController) Callback(ctx router.Context) error {
	providerName := ctx.Param("provider")
	code := ctx.Query("code")
	rawState := ctx.Query("state")

	if errCode := ctx.Query("error"); errCode != "" {
		errDesc := ctx.Query("error_description")
		redirectURL := appendQueryParam(c.config.ErrorRedirect, "oauth_error", errCode)
		if errDesc != "" {
			redirectURL = appendQueryParam(redirectURL, "desc", errDesc)
		}
		return ctx.Redirect(redirectURL, http.StatusTemporaryRedirect)
	}

	if code == "" || rawState == "" {
		redirectURL := appendQueryParam(c.config.ErrorRedirect, "error", "missing_params")
		return ctx.Redirect(redirectURL, http.StatusTemporaryRedirect)
	}

	state, err := c.states.Decode(rawState)
	if err != nil {
		return c.handleError(ctx, err)
	}

	if state.Provider != providerName {
		return c.handleError(ctx, ErrInvalidState)
	}

	provider, err := c.registry.Lookup(providerName)
	if err != nil {
		return c.handleError(ctx, err)
	}

	token, err := provider.Exchange(ctx.Context(), code)
	if err != nil {
		c.logger.Error("social token exchange failed", "provider", providerName, "error", err)
		return c.handleError(ctx, ErrTokenExchangeFailed)
	}

	profile, err := provider.UserInfo(ctx.Context(), token)
	if err != nil {
		c.logger.Error("social user info failed", "provider", providerName, "error", err)
		return c.handleError(ctx, ErrUserInfoFailed)
	}

	result, err := c.linker.Resolve(ctx.Context(), profile)
	if err != nil {
		return c.handleError(ctx, err)
	}

	// The linker already authenticated the user with the provider, so
	// the session is minted without a password check.
	if err := c.auther.Impersonate(ctx, result.User.ID.String()); err != nil {
		return c.handleError(ctx, err)
	}

	redirectURL := state.RedirectURL
	if redirectURL == "" {
		redirectURL = c.config.SuccessRedirect
	}

	if result.IsNewUser {
		redirectURL = appendQueryParam(redirectURL, "new_user", "true")
	}

	return ctx.Redirect(redirectURL, http.StatusTemporaryRedirect)
}

func (c *HTTPController) handleError(ctx router.Context, err error) error {
	if c.config.ErrorHandler != nil {
		return c.config.ErrorHandler(ctx, err)
	}

	redirectURL := appendQueryParam(c.config.ErrorRedirect, "error", err.Error())
	return ctx.Redirect(redirectURL, http.StatusTemporaryRedirect)
}

func appendQueryParam(rawURL, key, value string) string {
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err == nil {
		query := parsed.Query()
		query.Set(key, value)
		parsed.RawQuery = query.Encode()
		return parsed.String()
	}

	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + url.QueryEscape(key) + "=" + url.QueryEscape(value)
}

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/render"
	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/ved-shetye/SyncScript/core"
)

var (
	jwtSecret []byte

	oidcOauthConfig *oauth2.Config
	oidcProvider    *oidc.Provider
	verifier        *oidc.IDTokenVerifier
)

const tokenTTL = time.Hour * 24 * 7

type contextKey string

const claimsContextKey = contextKey("claims")

// NewContext returns a context carrying verified claims. Used by the HTTP
// auth middleware.
func NewContext(ctx context.Context, claims *AppClaims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// ClaimsFromContext extracts the verified claims placed by the middleware.
func ClaimsFromContext(ctx context.Context) (*AppClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*AppClaims)
	return claims, ok
}

// AppClaims represents the custom claims for the JWT. Subject is the user's
// stable identifier and is what documents reference as owner/collaborator.
type AppClaims struct {
	jwt.RegisteredClaims
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// OIDCClaims represents the claims from an OIDC ID token.
type OIDCClaims struct {
	Email             string `json:"email"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	Sub               string `json:"sub"`
}

// InitAuth loads the JWT secret and, when configured, the OIDC provider.
// Password signup/signin works with just JWT_SECRET set.
func InitAuth() {
	jwtSecret = []byte(os.Getenv("JWT_SECRET"))
	if len(jwtSecret) == 0 {
		logrus.Warn("JWT_SECRET is not set. Authentication will not work.")
	}

	if os.Getenv("OIDC_ISSUER_URL") != "" && os.Getenv("OIDC_CLIENT_ID") != "" {
		logrus.Info("Initializing OIDC authentication provider.")
		initOIDC()
	}
}

func initOIDC() {
	providerURL := os.Getenv("OIDC_ISSUER_URL")
	clientID := os.Getenv("OIDC_CLIENT_ID")
	clientSecret := os.Getenv("OIDC_CLIENT_SECRET")
	redirectURL := os.Getenv("OIDC_REDIRECT_URL")

	if clientSecret == "" || redirectURL == "" {
		logrus.Warn("OIDC credentials are not fully set. OIDC authentication routes will not work.")
		return
	}

	var err error
	oidcProvider, err = oidc.NewProvider(context.Background(), providerURL)
	if err != nil {
		logrus.Errorf("Failed to create OIDC provider: %s", err.Error())
		return
	}

	oidcOauthConfig = &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		Endpoint:     oidcProvider.Endpoint(),
	}

	verifier = oidcProvider.Verifier(&oidc.Config{
		ClientID: clientID,
	})

	logrus.Info("OIDC provider initialized")
}

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string     `json:"token"`
	User  *core.User `json:"user"`
}

// HandleSignup registers a new account and returns a signed token.
func HandleSignup(users core.UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req signupRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}

		req.Email = strings.TrimSpace(strings.ToLower(req.Email))
		if req.Email == "" || req.Password == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Email and password are required"})
			return
		}

		if _, err := users.FindUserByEmail(r.Context(), req.Email); err == nil {
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, map[string]string{"error": "Email is already registered"})
			return
		} else if !errors.Is(err, core.ErrNotFound) {
			logrus.WithError(err).Error("Failed to look up user by email")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Server error"})
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			logrus.WithError(err).Error("Failed to hash password")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Server error"})
			return
		}

		user := &core.User{
			Subject:      ulid.Make().String(),
			Name:         req.Name,
			Email:        req.Email,
			PasswordHash: string(hash),
		}
		if err := users.CreateUser(r.Context(), user); err != nil {
			logrus.WithError(err).Error("Failed to create user")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Server error"})
			return
		}

		token, err := CreateJWT(user)
		if err != nil {
			logrus.WithError(err).Error("Failed to create JWT")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Server error"})
			return
		}

		logrus.WithField("subject", user.Subject).Info("User signed up")
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, tokenResponse{Token: token, User: user})
	}
}

// HandleSignin verifies credentials and returns a signed token. Wrong email
// and wrong password produce the same response.
func HandleSignin(users core.UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req signinRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}

		req.Email = strings.TrimSpace(strings.ToLower(req.Email))
		user, err := users.FindUserByEmail(r.Context(), req.Email)
		if err != nil {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "Invalid credentials"})
			return
		}

		if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "Invalid credentials"})
			return
		}

		token, err := CreateJWT(user)
		if err != nil {
			logrus.WithError(err).Error("Failed to create JWT")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Server error"})
			return
		}

		logrus.WithField("subject", user.Subject).Info("User signed in")
		render.JSON(w, r, tokenResponse{Token: token, User: user})
	}
}

// HandleProfile returns the account behind the presented token.
func HandleProfile(users core.UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		user, err := users.FindUserBySubject(r.Context(), claims.Subject)
		if err != nil {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, map[string]string{"error": "User not found"})
			return
		}
		render.JSON(w, r, user)
	}
}

// HandleOIDCLogin starts the SSO flow. Returns 500 when OIDC is not
// configured.
func HandleOIDCLogin(w http.ResponseWriter, r *http.Request) {
	if oidcOauthConfig == nil {
		http.Error(w, "OIDC is not configured", http.StatusInternalServerError)
		return
	}

	stateBytes := make([]byte, 16)
	if _, err := rand.Read(stateBytes); err != nil {
		http.Error(w, "Failed to generate state for OIDC login", http.StatusInternalServerError)
		return
	}
	state := hex.EncodeToString(stateBytes)

	http.SetCookie(w, &http.Cookie{
		Name:     "oidc_state",
		Value:    state,
		Path:     "/",
		Expires:  time.Now().Add(10 * time.Minute),
		HttpOnly: true,
		Secure:   r.Header.Get("X-Forwarded-Proto") == "https",
		SameSite: http.SameSiteLaxMode,
	})

	url := oidcOauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline)
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// HandleOIDCCallback finishes the SSO flow: it verifies the ID token,
// provisions an account for the subject if one does not exist yet, and
// redirects to the frontend with a signed token.
func HandleOIDCCallback(users core.UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if oidcOauthConfig == nil {
			http.Error(w, "OIDC is not configured", http.StatusInternalServerError)
			return
		}

		code := r.FormValue("code")
		if code == "" {
			logrus.Error("no code in callback")
			http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
			return
		}

		stateCookie, err := r.Cookie("oidc_state")
		if err != nil || stateCookie.Value == "" || stateCookie.Value != r.FormValue("state") {
			logrus.Error("OIDC state mismatch")
			http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
			return
		}

		token, err := oidcOauthConfig.Exchange(r.Context(), code)
		if err != nil {
			logrus.Errorf("failed to exchange token: %s", err.Error())
			http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
			return
		}

		rawIDToken, ok := token.Extra("id_token").(string)
		if !ok {
			logrus.Error("no id_token in token response")
			http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
			return
		}

		idToken, err := verifier.Verify(r.Context(), rawIDToken)
		if err != nil {
			logrus.Errorf("failed to verify ID token: %s", err.Error())
			http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
			return
		}

		var claims OIDCClaims
		if err := idToken.Claims(&claims); err != nil {
			logrus.Errorf("failed to extract claims from ID token: %s", err.Error())
			http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
			return
		}

		user, err := users.FindUserBySubject(r.Context(), claims.Sub)
		if errors.Is(err, core.ErrNotFound) {
			name := claims.Name
			if name == "" {
				name = claims.PreferredUsername
			}
			user = &core.User{
				Subject: claims.Sub,
				Name:    name,
				Email:   claims.Email,
			}
			if err := users.CreateUser(r.Context(), user); err != nil {
				logrus.Errorf("failed to provision SSO user: %s", err.Error())
				http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
				return
			}
		} else if err != nil {
			logrus.Errorf("failed to look up SSO user: %s", err.Error())
			http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
			return
		}

		jwtToken, err := CreateJWT(user)
		if err != nil {
			logrus.Errorf("failed to create JWT: %s", err.Error())
			http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
			return
		}

		http.Redirect(w, r, fmt.Sprintf("/?token=%s", jwtToken), http.StatusTemporaryRedirect)
	}
}

// CreateJWT signs a token for the user with the configured secret.
func CreateJWT(user *core.User) (string, error) {
	claims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Name:  user.Name,
		Email: user.Email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

// ParseJWT validates a token and returns its claims. This is the single
// credential-verification path used by both the HTTP middleware and the
// realtime session gateway.
func ParseJWT(tokenString string) (*AppClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtSecret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*AppClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}

// SetJWTSecretForTesting overrides the signing secret. Tests only.
func SetJWTSecretForTesting(secret []byte) {
	jwtSecret = secret
}

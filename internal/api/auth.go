package api

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"trading-core/pkg/db"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const userContextKey = "UserID"

// Token kinds carried in UserClaims.Type. An access token authenticates API
// calls; a refresh token only authenticates a call to /auth/refresh and is
// tracked server-side in refresh_tokens so it can be revoked on rotation.
const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// UserClaims represents JWT claims for authenticated users.
type UserClaims struct {
	UserID string `json:"uid"`
	Type   string `json:"type"`
	jwt.RegisteredClaims
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func checkPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

func generateToken(userID, tokenType, jti, secret string, expiresAt time.Time) (string, error) {
	claims := UserClaims{
		UserID: userID,
		Type:   tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        jti,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// parseToken validates a token and checks it carries the expected type
// (access vs. refresh), so a stolen refresh token can't be replayed as an
// access token and vice versa.
func parseToken(tokenStr, secret, wantType string) (*UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.Type != wantType {
		return nil, errors.New("unexpected token type")
	}
	return claims, nil
}

// tokenPair is the access/refresh pair returned on login and refresh.
type tokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// issueTokenPair mints a fresh access token and a fresh refresh token, and
// persists the refresh token's jti so it can be revoked on next rotation.
func (s *Server) issueTokenPair(ctx *gin.Context, userID string) (tokenPair, error) {
	accessTTL := time.Duration(s.AccessTokenTTLMins) * time.Minute
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	refreshTTL := time.Duration(s.RefreshTokenTTLDays) * 24 * time.Hour
	if refreshTTL <= 0 {
		refreshTTL = 30 * 24 * time.Hour
	}

	accessExpiresAt := time.Now().Add(accessTTL)
	accessToken, err := generateToken(userID, tokenTypeAccess, uuid.NewString(), s.JWTSecret, accessExpiresAt)
	if err != nil {
		return tokenPair{}, err
	}

	refreshJTI := uuid.NewString()
	refreshExpiresAt := time.Now().Add(refreshTTL)
	refreshToken, err := generateToken(userID, tokenTypeRefresh, refreshJTI, s.JWTSecret, refreshExpiresAt)
	if err != nil {
		return tokenPair{}, err
	}
	if s.DB != nil {
		if err := s.DB.CreateRefreshToken(ctx.Request.Context(), refreshJTI, userID, refreshExpiresAt); err != nil {
			return tokenPair{}, err
		}
	}

	return tokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExpiresAt,
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}

// AuthMiddleware enforces JWT auth for protected routes.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "MISSING_TOKEN",
				"error": "missing Authorization header",
			})
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_AUTH_HEADER",
				"error": "invalid Authorization header",
			})
			return
		}

		claims, err := parseToken(parts[1], secret, tokenTypeAccess)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_TOKEN",
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(userContextKey, claims.UserID)
		c.Next()
	}
}

// CurrentUserID returns the authenticated user ID from context.
func CurrentUserID(c *gin.Context) string {
	if v, ok := c.Get(userContextKey); ok {
		if id, okCast := v.(string); okCast {
			return id
		}
	}
	return ""
}

// registerUser handles user registration.
func (s *Server) registerUser(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.Username = strings.TrimSpace(req.Username)
	if req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "MISSING_CREDENTIALS",
			"error": "email and password are required",
		})
		return
	}

	if _, err := mail.ParseAddress(req.Email); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_EMAIL",
			"error": "invalid email format",
		})
		return
	}

	ctx := c.Request.Context()
	existing, err := s.DB.GetUserByEmail(ctx, req.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	if existing != nil {
		c.JSON(http.StatusConflict, gin.H{
			"code":  "EMAIL_ALREADY_REGISTERED",
			"error": "email already registered",
		})
		return
	}

	pwHash, err := hashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": "failed to hash password",
		})
		return
	}

	now := time.Now()
	user := db.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: pwHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.DB.CreateUser(ctx, user); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"user_id":  user.ID,
		"username": req.Username,
	})
}

// loginUser handles user login.
func (s *Server) loginUser(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "MISSING_CREDENTIALS",
			"error": "email and password are required",
		})
		return
	}

	ctx := c.Request.Context()
	user, err := s.DB.GetUserByEmail(ctx, req.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":  "INVALID_CREDENTIALS",
			"error": "invalid credentials",
		})
		return
	}

	if err := checkPassword(user.PasswordHash, req.Password); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":  "INVALID_CREDENTIALS",
			"error": "invalid credentials",
		})
		return
	}

	pair, err := s.issueTokenPair(c, user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": "failed to generate token",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":              pair.AccessToken,
		"access_token":       pair.AccessToken,
		"refresh_token":      pair.RefreshToken,
		"expires_at":         pair.AccessExpiresAt.UTC().Format(time.RFC3339),
		"refresh_expires_at": pair.RefreshExpiresAt.UTC().Format(time.RFC3339),
		"user_id":            user.ID,
		"user_email":         user.Email,
	})
}

// refreshToken rotates a refresh token: the presented refresh token is
// validated, checked against refresh_tokens for revocation/expiry, revoked,
// and a brand new access/refresh pair is issued in its place. Rotation
// means a leaked refresh token is only usable once before the legitimate
// client's next refresh call invalidates it.
func (s *Server) refreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "refresh_token is required",
		})
		return
	}

	claims, err := parseToken(req.RefreshToken, s.JWTSecret, tokenTypeRefresh)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":  "INVALID_REFRESH_TOKEN",
			"error": "invalid or expired refresh token",
		})
		return
	}

	ctx := c.Request.Context()
	row, err := s.DB.GetRefreshToken(ctx, claims.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	if row == nil || row.RevokedAt.Valid || row.UserID != claims.UserID {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":  "INVALID_REFRESH_TOKEN",
			"error": "refresh token has been revoked or is unknown",
		})
		return
	}
	if time.Now().After(row.ExpiresAt) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":  "REFRESH_TOKEN_EXPIRED",
			"error": "refresh token expired",
		})
		return
	}

	if err := s.DB.RevokeRefreshToken(ctx, claims.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	pair, err := s.issueTokenPair(c, claims.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": "failed to generate token",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token":       pair.AccessToken,
		"refresh_token":      pair.RefreshToken,
		"expires_at":         pair.AccessExpiresAt.UTC().Format(time.RFC3339),
		"refresh_expires_at": pair.RefreshExpiresAt.UTC().Format(time.RFC3339),
		"user_id":            claims.UserID,
	})
}

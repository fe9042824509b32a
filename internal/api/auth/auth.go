package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"meshforge/internal/api/middleware"
	"meshforge/internal/model"
	"meshforge/internal/pkg/metrics"
	"meshforge/internal/pkg/notify"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// bcrypt 工作因子，与历史数据保持一致，不要随意调低。
const saltCost = 12

// Handler 提供注册、登录、注销与密码重置接口。
type Handler struct {
	users       UserStore
	resets      ResetStore
	mailer      notify.Mailer
	jwtSecret   []byte
	tokenTTL    time.Duration
	initTokens  int
	frontendURL string
	logger      *slog.Logger
}

// NewHandler 创建 Auth Handler。
func NewHandler(users UserStore, resets ResetStore, mailer notify.Mailer, jwtSecret string, tokenTTL time.Duration, initialTokens int, frontendURL string, logger *slog.Logger) *Handler {
	if tokenTTL <= 0 {
		tokenTTL = time.Hour
	}
	return &Handler{
		users:       users,
		resets:      resets,
		mailer:      mailer,
		jwtSecret:   []byte(jwtSecret),
		tokenTTL:    tokenTTL,
		initTokens:  initialTokens,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		logger:      logger,
	}
}

type signupRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=3,max=20"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// authResponse 登录/注册成功的统一响应。
type authResponse struct {
	Message     string `json:"message"`
	RedirectURL string `json:"redirectUrl"`
	UserType    string `json:"userType"`
	UserID      uint   `json:"userId"`
	UserEmail   string `json:"userEmail"`
}

type customClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Signup 创建新用户并签发凭证。
//
// POST /auth/signupSubmit
func (h *Handler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errorMessage": err.Error()})
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), saltCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"errorMessage": "Error creating your account."})
		return
	}

	user, err := h.users.CreateUser(c.Request.Context(), email, string(hash), h.initTokens)
	if err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			c.JSON(http.StatusUnauthorized, gin.H{"errorMessage": "Email already in use"})
			return
		}
		h.logger.Error("create user failed", slog.String("email", email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"errorMessage": "Error creating your account."})
		return
	}

	if err := h.issueCookie(c, user.ID, user.Email, user.Role); err != nil {
		h.logger.Error("sign token failed", slog.String("email", email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"errorMessage": "Error creating your account."})
		return
	}

	h.logger.Info("user registered", slog.String("email", email), slog.Uint64("user_id", uint64(user.ID)))
	c.JSON(http.StatusOK, authResponse{
		Message:     "Signup successful",
		RedirectURL: "/profile.html",
		UserType:    user.Role,
		UserID:      user.ID,
		UserEmail:   user.Email,
	})
}

// Login 校验凭证并签发 JWT Cookie。
//
// POST /auth/loginSubmit
//
// 用户不存在和密码错误返回同一个 401，不泄露具体原因。
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errorMessage": err.Error()})
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))

	user, err := h.users.GetUserByEmail(c.Request.Context(), email)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			h.logger.Error("query user failed", slog.String("email", email), slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"errorMessage": "Internal server error"})
			return
		}
		metrics.LoginTotal.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"errorMessage": "Incorrect email or password"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		metrics.LoginTotal.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"errorMessage": "Incorrect email or password"})
		return
	}

	if err := h.issueCookie(c, user.ID, user.Email, user.Role); err != nil {
		h.logger.Error("sign token failed", slog.String("email", email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"errorMessage": "Internal server error"})
		return
	}

	redirectURL := "/index.html"
	if user.Role == model.RoleAdmin {
		redirectURL = "/admin.html"
	}

	metrics.LoginTotal.WithLabelValues("ok").Inc()
	h.logger.Info("user logged in", slog.String("email", email), slog.String("role", user.Role))
	c.JSON(http.StatusOK, authResponse{
		Message:     "Login successful",
		RedirectURL: redirectURL,
		UserType:    user.Role,
		UserID:      user.ID,
		UserEmail:   user.Email,
	})
}

// Logout 清除客户端 Cookie。
//
// GET /auth/logout
//
// 无状态令牌没有服务端吊销：已签发的 JWT 在过期前依然有效，
// 这里只是让浏览器不再携带它。
func (h *Handler) Logout(c *gin.Context) {
	c.SetCookie(middleware.CookieName, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// DeleteAccount 注销当前账户并清理关联数据。
//
// DELETE /auth/deleteAccount
func (h *Handler) DeleteAccount(c *gin.Context) {
	userID := uint(c.GetInt("userID"))

	if err := h.users.DeleteUser(c.Request.Context(), userID); err != nil {
		h.logger.Error("delete account failed", slog.Uint64("user_id", uint64(userID)), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"errorMessage": "Error deleting account"})
		return
	}

	c.SetCookie(middleware.CookieName, "", -1, "/", "", false, true)
	h.logger.Info("account deleted", slog.Uint64("user_id", uint64(userID)))
	c.JSON(http.StatusOK, gin.H{"message": "Account deleted successfully"})
}

// issueCookie 签发 JWT 并写入 HTTP-only Cookie。
func (h *Handler) issueCookie(c *gin.Context, userID uint, email, role string) error {
	claims := customClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(h.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Email: email,
		Role:  role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(h.jwtSecret)
	if err != nil {
		return err
	}
	c.SetCookie(middleware.CookieName, signed, int(h.tokenTTL.Seconds()), "/", "", false, true)
	return nil
}

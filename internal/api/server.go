package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"meshforge/internal/api/auth"
	"meshforge/internal/api/middleware"
	"meshforge/internal/config"
	"meshforge/internal/convert"
	"meshforge/internal/model"
	"meshforge/internal/pkg/metrics"
	"meshforge/internal/pkg/notify"
	"meshforge/internal/pkg/ratelimit"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有数据库连接、Redis 客户端、外部转换服务客户端以及 Gin 路由引擎。
type Server struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *gorm.DB
	rdb       *redis.Client
	router    *gin.Engine
	auth      *auth.Handler
	directory UserDirectory
	credits   CreditStore
	converter convert.Converter
}

// UserWithTokens 管理端用户列表中的一行。
type UserWithTokens struct {
	UserID          uint   `json:"user_id" gorm:"column:user_id"`
	Email           string `json:"email" gorm:"column:email"`
	AvailableTokens int    `json:"available_tokens" gorm:"column:available_tokens"`
	TokensUsed      int    `json:"tokens_used" gorm:"column:tokens_used"`
}

// UserDirectory 定义用户查询与管理端额度覆写。
type UserDirectory interface {
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserTokens(ctx context.Context, userID uint) (*model.APIToken, error)
	ListUsersWithTokens(ctx context.Context, role string) ([]UserWithTokens, error)
	// SetAvailableTokens 直接覆写剩余额度，用户不存在返回 ErrUserNotFound。
	SetAvailableTokens(ctx context.Context, userID uint, tokens int) error
}

// CreditStore 定义转换额度的扣减操作。
type CreditStore interface {
	GetAvailableTokens(ctx context.Context, userID uint) (int, error)
	// Debit 原子条件扣减：余额不足或用户不存在返回 ErrInsufficientTokens。
	Debit(ctx context.Context, userID uint, cost int) error
}

// ErrInsufficientTokens 余额不足（或用户不存在，单条 UPDATE 无法区分）。
var ErrInsufficientTokens = errors.New("insufficient tokens or user not found")

type dbDirectory struct {
	db *gorm.DB
}

func (s dbDirectory) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, auth.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s dbDirectory) GetUserTokens(ctx context.Context, userID uint) (*model.APIToken, error) {
	var token model.APIToken
	err := s.db.WithContext(ctx).
		Joins("JOIN users ON users.api_token_id = api_tokens.id").
		Where("users.id = ?", userID).
		First(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, auth.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (s dbDirectory) ListUsersWithTokens(ctx context.Context, role string) ([]UserWithTokens, error) {
	users := []UserWithTokens{}
	err := s.db.WithContext(ctx).Table("users").
		Select("users.id AS user_id, users.email, api_tokens.available_tokens, api_tokens.tokens_used").
		Joins("JOIN api_tokens ON api_tokens.id = users.api_token_id").
		Where("users.role = ?", role).
		Order("users.id").
		Scan(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (s dbDirectory) SetAvailableTokens(ctx context.Context, userID uint, tokens int) error {
	res := s.db.WithContext(ctx).Exec(
		"UPDATE api_tokens JOIN users ON api_tokens.id = users.api_token_id SET api_tokens.available_tokens = ? WHERE users.id = ?",
		tokens, userID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// 也可能是覆写值与当前值相同，用存在性检查兜底
		var count int64
		if err := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return auth.ErrUserNotFound
		}
	}
	return nil
}

type dbCreditStore struct {
	db *gorm.DB
}

func (s dbCreditStore) GetAvailableTokens(ctx context.Context, userID uint) (int, error) {
	var token model.APIToken
	err := s.db.WithContext(ctx).
		Joins("JOIN users ON users.api_token_id = api_tokens.id").
		Where("users.id = ?", userID).
		First(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, auth.ErrUserNotFound
	}
	if err != nil {
		return 0, err
	}
	return token.AvailableTokens, nil
}

func (s dbCreditStore) Debit(ctx context.Context, userID uint, cost int) error {
	res := s.db.WithContext(ctx).Exec(
		"UPDATE api_tokens SET available_tokens = available_tokens - ?, tokens_used = tokens_used + ? "+
			"WHERE id = (SELECT api_token_id FROM users WHERE id = ?) AND available_tokens >= ?",
		cost, cost, userID, cost,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientTokens
	}
	return nil
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接 MySQL 数据库并执行自动迁移
// 2. 连接 Redis
// 3. 初始化 Gin 路由引擎和各个 Handler
//
// 参数:
//
//	ctx: 上下文
//	cfg: 配置对象
//	logger: 日志记录器
//
// 返回值:
//
//	*Server: 初始化完成的服务器实例
//	error: 初始化失败返回错误
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent), // 关闭GORM调试日志
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&model.APIToken{}, &model.User{}, &model.PasswordReset{}); err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.App.UploadDir, 0o755); err != nil {
		return nil, err
	}

	metrics.InitMetrics()

	mailer := notify.NewEmailNotifier(&cfg.Email, logger)
	store := auth.NewGormStore(db)
	converter := convert.NewClient(&cfg.Conversion, cfg.App.UploadDir, logger)
	limiter := ratelimit.NewRedisLimiter(rdb, "meshforge:ratelimit:auth:", cfg.App.RateLimit, cfg.App.RateBurst)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		rdb:       rdb,
		router:    r,
		auth:      auth.NewHandler(store, store, mailer, cfg.Security.JWTSecret, cfg.App.TokenTTL, cfg.App.InitialTokens, cfg.App.FrontendURL, logger),
		directory: dbDirectory{db: db},
		credits:   dbCreditStore{db: db},
		converter: converter,
	}
	s.registerRoutes(limiter)
	return s, nil
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// DB 返回数据库连接（后台清理任务复用）。
func (s *Server) DB() *gorm.DB {
	return s.db
}

// Close 关闭数据库与缓存连接。
func (s *Server) Close() error {
	var firstErr error
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else {
			if closeErr := sqlDB.Close(); closeErr != nil {
				if firstErr == nil {
					firstErr = closeErr
				}
			}
		}
	}
	return firstErr
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes(limiter *ratelimit.Limiter) {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	authMW := middleware.AuthMiddleware(s.cfg.Security.JWTSecret)
	limited := middleware.RateLimit(limiter, s.logger)

	authGroup := s.router.Group("/auth")
	authGroup.POST("/signupSubmit", s.auth.Signup)
	authGroup.POST("/loginSubmit", limited, s.auth.Login)
	authGroup.GET("/logout", s.auth.Logout)
	authGroup.POST("/forgot-password", limited, s.auth.ForgotPassword)
	authGroup.POST("/reset-password", s.auth.ResetPassword)
	authGroup.DELETE("/deleteAccount", authMW, s.auth.DeleteAccount)

	authed := s.router.Group("/")
	authed.Use(authMW)
	authed.GET("/user/:email", s.handleGetUser)
	authed.GET("/user/tokens/:userId", s.handleGetUserTokens)
	authed.POST("/home/upload", s.handleUpload)

	admin := authed.Group("/admin")
	admin.Use(middleware.RequireAdmin())
	admin.GET("", s.handleAdminListUsers)
	admin.PATCH("/manageAPI/:user_id", s.handleAdminManageTokens)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil || s.rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	var one int
	if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func getUserID(c *gin.Context) uint {
	return uint(c.GetInt("userID"))
}

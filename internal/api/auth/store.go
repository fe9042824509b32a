package auth

import (
	"context"
	"errors"
	"fmt"

	"meshforge/internal/model"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// 存储层错误。Handler 据此映射 HTTP 状态码。
var (
	ErrDuplicateEmail = errors.New("email already in use")
	ErrUserNotFound   = errors.New("user not found")
	ErrResetNotFound  = errors.New("reset record not found")
)

// UserStore 定义用户相关的持久化操作。
type UserStore interface {
	// CreateUser 创建额度账户和用户（同一事务，邮箱冲突返回 ErrDuplicateEmail）。
	CreateUser(ctx context.Context, email, passwordHash string, initialTokens int) (*model.User, error)
	// GetUserByEmail 按邮箱查询用户。
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	// DeleteUser 删除用户及其额度账户、重置记录（同一事务）。
	DeleteUser(ctx context.Context, userID uint) error
	// ResetPassword 更新密码并删除重置记录（同一事务）。
	//
	// 重置记录已被并发兑换走时整体回滚并返回 ErrResetNotFound，
	// 保证一个令牌最多兑换一次。
	ResetPassword(ctx context.Context, userID uint, passwordHash, resetToken string) error
}

// ResetStore 定义密码重置记录的持久化操作。
type ResetStore interface {
	CreateReset(ctx context.Context, reset *model.PasswordReset) error
	// GetResetByToken 按令牌查询，未命中返回 ErrResetNotFound。
	GetResetByToken(ctx context.Context, token string) (*model.PasswordReset, error)
}

const mysqlDuplicateEntry = 1062

// GormStore 是 UserStore 和 ResetStore 的 GORM 实现。
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建 GORM 存储。
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) CreateUser(ctx context.Context, email, passwordHash string, initialTokens int) (*model.User, error) {
	user := &model.User{
		Email:    email,
		Password: passwordHash,
		Role:     model.RoleRegular,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		apiToken := model.APIToken{AvailableTokens: initialTokens, TokensUsed: 0}
		if err := tx.Create(&apiToken).Error; err != nil {
			return fmt.Errorf("create api token: %w", err)
		}
		user.APITokenID = apiToken.ID
		if err := tx.Create(user).Error; err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		return nil
	})
	if err != nil {
		if isDuplicateEntry(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return user, nil
}

func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *GormStore) DeleteUser(ctx context.Context, userID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user model.User
		if err := tx.Where("id = ?", userID).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		if err := tx.Where("user_id = ?", userID).Delete(&model.PasswordReset{}).Error; err != nil {
			return fmt.Errorf("delete reset records: %w", err)
		}
		if err := tx.Delete(&model.User{}, userID).Error; err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		if err := tx.Delete(&model.APIToken{}, user.APITokenID).Error; err != nil {
			return fmt.Errorf("delete api token: %w", err)
		}
		return nil
	})
}

func (s *GormStore) ResetPassword(ctx context.Context, userID uint, passwordHash, resetToken string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.User{}).Where("id = ?", userID).
			Update("password", passwordHash).Error; err != nil {
			return fmt.Errorf("update password: %w", err)
		}
		res := tx.Where("reset_token = ?", resetToken).Delete(&model.PasswordReset{})
		if res.Error != nil {
			return fmt.Errorf("delete reset record: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrResetNotFound
		}
		return nil
	})
}

func (s *GormStore) CreateReset(ctx context.Context, reset *model.PasswordReset) error {
	return s.db.WithContext(ctx).Create(reset).Error
}

func (s *GormStore) GetResetByToken(ctx context.Context, token string) (*model.PasswordReset, error) {
	var reset model.PasswordReset
	err := s.db.WithContext(ctx).Where("reset_token = ?", token).First(&reset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrResetNotFound
	}
	if err != nil {
		return nil, err
	}
	return &reset, nil
}

func isDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}

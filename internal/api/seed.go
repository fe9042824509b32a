package api

import (
	"context"
	"errors"
	"log/slog"

	"meshforge/internal/model"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// EnsureAdmin 保证配置的管理员账号存在。
//
// 管理员只能通过配置预置，不能从注册接口产生。邮箱已存在时
// 只校正角色，不会覆盖密码。未配置管理员邮箱时跳过。
func (s *Server) EnsureAdmin(ctx context.Context) error {
	email := s.cfg.Security.AdminEmail
	if email == "" {
		s.logger.Warn("admin email not configured, skipping admin seed")
		return nil
	}

	var existing model.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&existing).Error
	if err == nil {
		if existing.Role != model.RoleAdmin {
			if err := s.db.WithContext(ctx).Model(&existing).Update("role", model.RoleAdmin).Error; err != nil {
				return err
			}
			s.logger.Info("promoted existing account to admin", slog.String("email", email))
		}
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	if s.cfg.Security.AdminPassword == "" {
		return errors.New("admin password not configured")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(s.cfg.Security.AdminPassword), 12)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		token := model.APIToken{AvailableTokens: s.cfg.App.InitialTokens}
		if err := tx.Create(&token).Error; err != nil {
			return err
		}
		admin := model.User{
			Email:      email,
			Password:   string(hash),
			Role:       model.RoleAdmin,
			APITokenID: token.ID,
		}
		if err := tx.Create(&admin).Error; err != nil {
			return err
		}
		s.logger.Info("admin account created", slog.String("email", email), slog.Uint64("user_id", uint64(admin.ID)))
		return nil
	})
}

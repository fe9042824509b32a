package model

import "time"

// 用户角色。
const (
	RoleRegular = "regular" // 普通用户
	RoleAdmin   = "admin"   // 管理员
)

// User 表示系统用户。
type User struct {
	ID         uint      `gorm:"primaryKey"`                       // 用户 ID
	Email      string    `gorm:"type:varchar(191);uniqueIndex"`    // 邮箱（唯一）
	Password   string    `gorm:"not null"`                         // bcrypt 哈希
	Role       string    `gorm:"type:varchar(16);default:regular"` // 角色: regular / admin
	APITokenID uint      `gorm:"not null"`                         // 关联的额度账户 ID
	CreatedAt  time.Time // 创建时间

	APIToken APIToken `gorm:"foreignKey:APITokenID"` // 额度账户（1:1，先建账户后建用户）
}

// APIToken 表示用户的转换额度账户。
//
// 每次上传转换消耗 1 个额度。AvailableTokens 由管理员直接覆写，
// TokensUsed 只增不减，用于统计。
type APIToken struct {
	ID              uint `gorm:"primaryKey"` // 额度账户 ID
	AvailableTokens int  `gorm:"default:20"` // 剩余额度
	TokensUsed      int  `gorm:"default:0"`  // 已消耗额度
}

// PasswordReset 表示一次性密码重置记录。
//
// ResetToken 是 256 位随机 hex 字符串，兑换成功后立即删除（一次性），
// 过期记录由后台清理任务周期删除。同一用户可以同时存在多条记录。
type PasswordReset struct {
	ID         uint      `gorm:"primaryKey"`                            // 记录 ID
	UserID     uint      `gorm:"not null;index"`                        // 所属用户 ID
	ResetToken string    `gorm:"type:varchar(64);uniqueIndex;not null"` // 重置令牌（唯一）
	ExpiryDate time.Time `gorm:"not null"`                              // 过期时间
	CreatedAt  time.Time // 创建时间
}

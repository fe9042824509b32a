package notify

import (
	"fmt"
	"log/slog"
	"strings"

	"meshforge/internal/config"

	"gopkg.in/gomail.v2"
)

// EmailNotifier 通过 SMTP 发送邮件。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
}

// SendPasswordReset 发送密码重置邮件。
//
// 重置记录在调用前已落库：发送失败时令牌仍然有效，
// 调用方据此返回独立的错误让用户重试发送。
func (n *EmailNotifier) SendPasswordReset(toEmail string, resetURL string) error {
	if n.cfg.SMTPHost == "" || n.cfg.SMTPUser == "" || n.cfg.FromEmail == "" {
		return fmt.Errorf("email config missing")
	}
	if strings.TrimSpace(toEmail) == "" {
		return fmt.Errorf("empty recipient")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", "[MeshForge] 密码重置")

	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 520px; margin: 0 auto; padding: 16px;">
    <h2>MeshForge 密码重置</h2>
    <p>点击下面的链接重置你的密码：</p>
    <p><a href="%s">%s</a></p>
    <p>链接有效期 1 小时，且只能使用一次。</p>
    <p style="color: #6b7280; font-size: 12px;">如果这不是你本人的操作，请忽略此邮件。</p>
  </div>
</body>
</html>`, resetURL, resetURL)
	m.SetBody("text/html", body)

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("password reset email sent", slog.String("to", toEmail))
	return nil
}

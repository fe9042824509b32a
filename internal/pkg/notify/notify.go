package notify

// Mailer 定义邮件发送接口。
type Mailer interface {
	// SendPasswordReset 发送密码重置邮件。
	//
	// 参数:
	//   toEmail: 接收邮箱
	//   resetURL: 含重置令牌的兑换链接
	SendPasswordReset(toEmail string, resetURL string) error
}

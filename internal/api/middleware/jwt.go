package middleware

import (
	"net/http"
	"strconv"

	"meshforge/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// CookieName 携带凭证的 HTTP-only Cookie 名称。
const CookieName = "token"

type customClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// AuthMiddleware 校验 Cookie 中的 JWT 并将身份写入上下文。
//
// Cookie 缺失和令牌非法/过期都返回 401，但响应体区分两种情况；
// 非法令牌会顺带清掉客户端的 Cookie。
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	secret := []byte(jwtSecret)
	return func(c *gin.Context) {
		tokenStr, err := c.Cookie(CookieName)
		if err != nil || tokenStr == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			c.Abort()
			return
		}

		claims := &customClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
			return secret, nil
		})
		if err != nil || !token.Valid {
			c.SetCookie(CookieName, "", -1, "/", "", false, true)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		uid, err := strconv.ParseUint(claims.Subject, 10, 64)
		if err != nil {
			c.SetCookie(CookieName, "", -1, "/", "", false, true)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		c.Set("userID", int(uid))
		c.Set("email", claims.Email)
		role := claims.Role
		if role == "" {
			role = model.RoleRegular
		}
		c.Set("role", role)
		c.Next()
	}
}

// RequireAdmin 只放行 role 为 admin 的请求。
//
// 必须挂在 AuthMiddleware 之后，仅检查已解析的 claims，不查库。
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := c.Get("role")
		if !ok || role != model.RoleAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

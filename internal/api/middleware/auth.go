package middleware

import (
	"context"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"campus-portal/internal/api/handler"
	"campus-portal/pkg/jwt"
	"campus-portal/pkg/response"
)

// RevocationChecker Token 注销检查（AuthService 满足该接口）
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// JWTAuth JWT 认证中间件
// 从 Authorization: Bearer <token> 中提取并验证 Token，只接受 tokenTypes 中的类型
// 黑名单查询出错时降级放行（与 RateLimit 策略一致）
func JWTAuth(jwtMgr *jwt.Manager, revocation RevocationChecker, tokenTypes ...string) gin.HandlerFunc {
	if len(tokenTypes) == 0 {
		tokenTypes = []string{jwt.TokenTypeAccess}
	}

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, 10002, "缺少认证头")
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, 10002, "认证头格式无效")
			c.Abort()
			return
		}

		claims, err := jwtMgr.ParseToken(parts[1])
		if err != nil {
			response.Unauthorized(c, 10002, "Token 无效或已过期")
			c.Abort()
			return
		}

		if !slices.Contains(tokenTypes, claims.TokenType) {
			response.Unauthorized(c, 10002, "Token 类型无效")
			c.Abort()
			return
		}

		if revocation != nil {
			if revoked, err := revocation.IsRevoked(c.Request.Context(), claims.ID); err == nil && revoked {
				response.Unauthorized(c, 10002, "Token 已注销")
				c.Abort()
				return
			}
		}

		// 将用户信息注入上下文
		c.Set(handler.ContextUserID, claims.UserID)
		c.Set(handler.ContextClaims, claims)

		c.Next()
	}
}

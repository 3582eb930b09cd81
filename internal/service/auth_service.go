package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"campus-portal/pkg/jwt"
)

// ── 认证模块业务错误 ──

var (
	ErrTokenRevoked = errors.New("Token 已注销")
)

// TokenBlacklist Token 黑名单存储；pkg/redis.Client 满足该接口
type TokenBlacklist interface {
	BlacklistToken(ctx context.Context, jti string, ttl time.Duration) error
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
}

// AuthService 认证业务接口
//
// 身份由门户签发的 Token 提供，本服务只负责注销与注销检查。
type AuthService interface {
	// Logout 将 Token 加入黑名单直到其过期
	Logout(ctx context.Context, claims *jwt.Claims) error
	// IsRevoked 检查 Token 是否已注销
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type authService struct {
	blacklist TokenBlacklist
	logger    *zap.Logger
	now       func() time.Time
}

// NewAuthService 创建 AuthService 实例
func NewAuthService(blacklist TokenBlacklist, logger *zap.Logger) AuthService {
	return &authService{blacklist: blacklist, logger: logger, now: time.Now}
}

func (s *authService) Logout(ctx context.Context, claims *jwt.Claims) error {
	if claims.ID == "" || claims.ExpiresAt == nil {
		return nil
	}
	ttl := claims.ExpiresAt.Time.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.blacklist.BlacklistToken(ctx, claims.ID, ttl); err != nil {
		s.logger.Error("Token 加入黑名单失败", zap.String("user_id", claims.UserID), zap.Error(err))
		return err
	}
	return nil
}

func (s *authService) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	return s.blacklist.IsBlacklisted(ctx, jti)
}

// ── 进程内黑名单（未配置 Redis 时使用） ──

type memoryBlacklist struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryBlacklist 创建进程内黑名单，过期条目在查询时清理
func NewMemoryBlacklist() TokenBlacklist {
	return &memoryBlacklist{entries: make(map[string]time.Time), now: time.Now}
}

func (b *memoryBlacklist) BlacklistToken(_ context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[jti] = b.now().Add(ttl)
	return nil
}

func (b *memoryBlacklist) IsBlacklisted(_ context.Context, jti string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	exp, ok := b.entries[jti]
	if !ok {
		return false, nil
	}
	if !b.now().Before(exp) {
		delete(b.entries, jti)
		return false, nil
	}
	return true, nil
}

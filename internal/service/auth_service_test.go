package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"regulus-go/internal/config"
	"regulus-go/internal/model"
	"regulus-go/internal/repository"
	"regulus-go/pkg/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// authFixture 把一套完整的认证依赖组装在一起，数据库是真实的内存库，
// 验证码存储和邮件发布用内存桩替代。
type authFixture struct {
	svc         AuthService
	db          *gorm.DB
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	codeStore   *fakeCodeStore
	publisher   *fakePublisher
	jwtManager  *token.JWTManager
}

func newAuthFixture(t *testing.T, accessTTL time.Duration) *authFixture {
	t.Helper()

	db := newTestDB(t)
	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	codeStore := newFakeCodeStore()
	publisher := &fakePublisher{}
	jwtManager := token.NewJWTManager("test-access-secret", "test-refresh-secret", accessTTL, 7*24*time.Hour)

	svc := NewAuthService(userRepo, sessionRepo, codeStore, jwtManager, publisher, config.AuthConfig{
		VerificationCodeTTLMinutes: 15,
	})

	return &authFixture{
		svc:         svc,
		db:          db,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		codeStore:   codeStore,
		publisher:   publisher,
		jwtManager:  jwtManager,
	}
}

func TestAuthService_RegisterAndLogin(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, 15*time.Minute)
	ctx := context.Background()

	user, err := f.svc.Register(ctx, "alice", "password123", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "USER", user.Role)
	assert.False(t, user.EmailVerified)

	// 注册触发一封验证邮件，正文携带存储中的验证码
	published := f.publisher.published()
	require.Len(t, published, 1)
	assert.Equal(t, "alice@example.com", published[0].To)
	code, err := f.codeStore.GetCode(ctx, "verify", "alice@example.com")
	require.NoError(t, err)
	assert.Contains(t, published[0].Body, code)

	// 重复用户名注册被拒绝
	_, err = f.svc.Register(ctx, "alice", "password456", "")
	assert.Error(t, err)

	// 错误密码
	_, err = f.svc.Login(ctx, "alice", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// 不存在的用户
	_, err = f.svc.Login(ctx, "nobody", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// 正确凭证换取 token 对，access token 可直接通过 Authorize
	pair, err := f.svc.Login(ctx, "alice", "password123")
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	claims, err := f.svc.Authorize(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.NotEmpty(t, claims.FamilyID)
}

func TestAuthService_RegisterSucceedsWhenEmailPipelineFails(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, 15*time.Minute)
	f.publisher.err = errors.New("kafka 不可达")

	user, err := f.svc.Register(context.Background(), "bob", "password123", "bob@example.com")
	require.NoError(t, err)
	assert.False(t, user.EmailVerified)
}

func TestAuthService_LoginDisabledUser(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, 15*time.Minute)
	ctx := context.Background()

	user, err := f.svc.Register(ctx, "carol", "password123", "")
	require.NoError(t, err)

	require.NoError(t, f.userRepo.Disable(user.ID))

	_, err = f.svc.Login(ctx, "carol", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthService_VerifyEmail(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, 15*time.Minute)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "dave", "password123", "dave@example.com")
	require.NoError(t, err)

	// 错误的验证码
	err = f.svc.VerifyEmail(ctx, "dave@example.com", "ffffffff")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	code, err := f.codeStore.GetCode(ctx, "verify", "dave@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, code)

	require.NoError(t, f.svc.VerifyEmail(ctx, "dave@example.com", code))

	user, err := f.userRepo.FindByEmail("dave@example.com")
	require.NoError(t, err)
	assert.True(t, user.EmailVerified)

	// 验证码一次性消费，不能重复使用
	err = f.svc.VerifyEmail(ctx, "dave@example.com", code)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// 未知邮箱
	err = f.svc.VerifyEmail(ctx, "nobody@example.com", code)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuthService_RefreshRotation(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, 15*time.Minute)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "erin", "password123", "")
	require.NoError(t, err)
	pair1, err := f.svc.Login(ctx, "erin", "password123")
	require.NoError(t, err)

	// 正常轮换产生一个新的 token 对
	pair2, err := f.svc.Refresh(ctx, pair1.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair1.RefreshToken, pair2.RefreshToken)

	// 新 token 可以继续轮换
	pair3, err := f.svc.Refresh(ctx, pair2.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair2.RefreshToken, pair3.RefreshToken)
}

func TestAuthService_RefreshReuseRevokesFamily(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, 15*time.Minute)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "frank", "password123", "")
	require.NoError(t, err)
	pair1, err := f.svc.Login(ctx, "frank", "password123")
	require.NoError(t, err)

	pair2, err := f.svc.Refresh(ctx, pair1.RefreshToken)
	require.NoError(t, err)

	// 重放已被轮换掉的旧 token：触发家族级撤销
	_, err = f.svc.Refresh(ctx, pair1.RefreshToken)
	assert.ErrorIs(t, err, ErrReuseDetected)

	// 家族已整体撤销，连"合法"的最新 token 也不能再用
	_, err = f.svc.Refresh(ctx, pair2.RefreshToken)
	assert.ErrorIs(t, err, ErrReuseDetected)

	// 重新登录开启新家族，不受旧家族撤销影响
	pair4, err := f.svc.Login(ctx, "frank", "password123")
	require.NoError(t, err)
	_, err = f.svc.Refresh(ctx, pair4.RefreshToken)
	require.NoError(t, err)
}

func TestAuthService_ReuseDetectionInvalidatesAccessTokens(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, 15*time.Minute)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "gary", "password123", "")
	require.NoError(t, err)
	pair1, err := f.svc.Login(ctx, "gary", "password123")
	require.NoError(t, err)
	pair2, err := f.svc.Refresh(ctx, pair1.RefreshToken)
	require.NoError(t, err)

	// 撤销前，两代 access token 都有效
	_, err = f.svc.Authorize(ctx, pair1.AccessToken)
	require.NoError(t, err)
	_, err = f.svc.Authorize(ctx, pair2.AccessToken)
	require.NoError(t, err)

	// 重放旧 refresh token 触发家族级撤销
	_, err = f.svc.Refresh(ctx, pair1.RefreshToken)
	require.ErrorIs(t, err, ErrReuseDetected)

	// 该家族签发的全部 access token 立即失效，不等自然过期
	_, err = f.svc.Authorize(ctx, pair1.AccessToken)
	assert.ErrorIs(t, err, ErrSessionRevoked)
	_, err = f.svc.Authorize(ctx, pair2.AccessToken)
	assert.ErrorIs(t, err, ErrSessionRevoked)

	// 重新登录开启的新家族不受影响
	pair3, err := f.svc.Login(ctx, "gary", "password123")
	require.NoError(t, err)
	_, err = f.svc.Authorize(ctx, pair3.AccessToken)
	require.NoError(t, err)
}

func TestAuthService_RefreshRejectsAccessToken(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, 15*time.Minute)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "grace", "password123", "")
	require.NoError(t, err)
	pair, err := f.svc.Login(ctx, "grace", "password123")
	require.NoError(t, err)

	// access token 不能冒充 refresh token
	_, err = f.svc.Refresh(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = f.svc.Refresh(ctx, "not-a-jwt")
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestAuthService_AuthorizeExpired(t *testing.T) {
	t.Parallel()

	// access token 立即过期
	f := newAuthFixture(t, -time.Minute)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "heidi", "password123", "")
	require.NoError(t, err)
	pair, err := f.svc.Login(ctx, "heidi", "password123")
	require.NoError(t, err)

	_, err = f.svc.Authorize(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestAuthService_RevokeIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, 15*time.Minute)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "ivan", "password123", "")
	require.NoError(t, err)
	pair, err := f.svc.Login(ctx, "ivan", "password123")
	require.NoError(t, err)

	require.NoError(t, f.svc.Revoke(ctx, pair.AccessToken, pair.RefreshToken))

	// access token 进入黑名单
	blacklisted, err := f.codeStore.IsTokenBlacklisted(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.True(t, blacklisted)

	// 重复登出幂等成功
	require.NoError(t, f.svc.Revoke(ctx, pair.AccessToken, pair.RefreshToken))

	// 已登出的 refresh token 无法再轮换
	_, err = f.svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrReuseDetected)
}

func TestAuthService_ResetPasswordRevokesAllSessions(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, 15*time.Minute)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "judy", "password123", "judy@example.com")
	require.NoError(t, err)
	pair, err := f.svc.Login(ctx, "judy", "password123")
	require.NoError(t, err)

	require.NoError(t, f.svc.RequestPasswordReset(ctx, "judy@example.com"))
	code, err := f.codeStore.GetCode(ctx, "reset", "judy@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, code)

	// 错误的重置码被拒绝
	err = f.svc.ResetPassword(ctx, "judy@example.com", "ffffffff", "newpassword")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, f.svc.ResetPassword(ctx, "judy@example.com", code, "newpassword"))

	// 旧会话全部作废
	_, err = f.svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrReuseDetected)

	// 旧密码失效，新密码生效
	_, err = f.svc.Login(ctx, "judy", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, "judy", "newpassword")
	require.NoError(t, err)
}

func TestAuthService_RequestPasswordResetUnknownEmail(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, 15*time.Minute)

	err := f.svc.RequestPasswordReset(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuthService_SweepExpiredSessions(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, 15*time.Minute)
	ctx := context.Background()

	user, err := f.svc.Register(ctx, "kate", "password123", "")
	require.NoError(t, err)
	_, err = f.svc.Login(ctx, "kate", "password123")
	require.NoError(t, err)

	// 手工插入一条已过期的会话
	expired := &model.Session{
		UserID:    user.ID,
		TokenID:   "expired-token-id",
		FamilyID:  "expired-family",
		ExpiresAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, f.sessionRepo.Create(expired))

	count, err := f.svc.SweepExpiredSessions(time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

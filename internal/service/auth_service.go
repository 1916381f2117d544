// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"time"

	"regulus-go/internal/config"
	"regulus-go/internal/model"
	"regulus-go/internal/repository"
	"regulus-go/pkg/hash"
	"regulus-go/pkg/log"
	"regulus-go/pkg/tasks"
	"regulus-go/pkg/token"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// dummyHash 是一个固定的 bcrypt 哈希。用户不存在时也执行一次比较，
// 使"用户不存在"和"密码错误"两条路径耗时一致。
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// 验证码在 CodeStore 中的分类前缀。
const (
	codeKindVerify = "verify"
	codeKindReset  = "reset"
)

// TokenPair 是一次签发产生的 access/refresh token 对。
type TokenPair struct {
	AccessToken  string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// EmailPublisher 定义了外发邮件任务的发布接口。
// 生产实现把任务写入 Kafka，由后台消费者投递；测试中可以用内存桩替换。
type EmailPublisher interface {
	Publish(task tasks.EmailTask) error
}

// AuthService 接口定义了所有与认证相关的业务操作。
type AuthService interface {
	Register(ctx context.Context, username, password, email string) (*model.User, error)
	VerifyEmail(ctx context.Context, email, code string) error
	Login(ctx context.Context, username, password string) (*TokenPair, error)
	// Refresh 校验并轮换 refresh token。检测到已轮换 token 被重放时，
	// 撤销整个令牌家族并返回 ErrReuseDetected。
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
	// Revoke 撤销 refresh token 对应的会话（登出），并把同请求携带的
	// access token 加入黑名单直至其自然过期。
	Revoke(ctx context.Context, accessToken, refreshToken string) error
	// Authorize 是认证热路径：验证签名与有效期，并检查令牌家族
	// 是否已被整体撤销。不触达会话存储，家族检查只走 Redis。
	Authorize(ctx context.Context, accessToken string) (*token.CustomClaims, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email, code, newPassword string) error
	GetProfile(username string) (*model.User, error)
	SweepExpiredSessions(now time.Time) (int64, error)
}

// authService 是 AuthService 接口的实现。
type authService struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	codeStore   repository.CodeStore
	jwtManager  *token.JWTManager
	mail        EmailPublisher
	authCfg     config.AuthConfig
}

// NewAuthService 创建一个新的 AuthService 实例。
func NewAuthService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	codeStore repository.CodeStore,
	jwtManager *token.JWTManager,
	mail EmailPublisher,
	authCfg config.AuthConfig,
) AuthService {
	return &authService{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		codeStore:   codeStore,
		jwtManager:  jwtManager,
		mail:        mail,
		authCfg:     authCfg,
	}
}

// Register 处理用户注册的业务逻辑。
// 注册成功后向用户邮箱发送验证码；邮件链路失败只记录日志，
// 注册本身仍然成功，账号保持未验证状态。
func (s *authService) Register(ctx context.Context, username, password, email string) (*model.User, error) {
	// 1. 检查用户名是否已存在
	_, err := s.userRepo.FindByUsername(username)
	if err == nil {
		return nil, errors.New("用户名已存在")
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// 2. 对密码进行哈希处理
	hashedPassword, err := hash.HashPassword(password)
	if err != nil {
		return nil, err
	}

	// 3. 创建新用户
	newUser := &model.User{
		Username: username,
		Password: hashedPassword,
		Email:    email,
		Role:     "USER", // 默认角色
	}
	if err := s.userRepo.Create(newUser); err != nil {
		return nil, err
	}

	// 4. 生成验证码并触发验证邮件（非致命步骤）
	if email != "" {
		s.sendCode(ctx, codeKindVerify, email, "注册验证", "您的邮箱验证码是: ")
	}

	return newUser, nil
}

// sendCode 生成一个 8 位十六进制验证码，写入验证码存储并发布邮件任务。
// 任一环节失败只记录日志，不影响触发它的主操作。
func (s *authService) sendCode(ctx context.Context, kind, email, subject, bodyPrefix string) {
	code, err := token.GenerateRandomString(4)
	if err != nil {
		log.Errorf("[AuthService] 生成 %s 验证码失败, email: %s, error: %v", kind, email, err)
		return
	}
	ttl := time.Duration(s.authCfg.VerificationCodeTTLMinutes) * time.Minute
	if err := s.codeStore.SetCode(ctx, kind, email, code, ttl); err != nil {
		log.Errorf("[AuthService] 保存 %s 验证码失败, email: %s, error: %v", kind, email, err)
		return
	}
	if err := s.mail.Publish(tasks.EmailTask{
		To:      email,
		Subject: subject,
		Body:    bodyPrefix + code,
	}); err != nil {
		log.Errorf("[AuthService] 发布 %s 邮件任务失败, email: %s, error: %v", kind, email, err)
	}
}

// VerifyEmail 校验邮箱验证码并将账号标记为已验证。
func (s *authService) VerifyEmail(ctx context.Context, email, code string) error {
	user, err := s.userRepo.FindByEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}

	stored, err := s.codeStore.GetCode(ctx, codeKindVerify, email)
	if err != nil {
		return err
	}
	if stored == "" || stored != code {
		return ErrInvalidCredentials
	}

	user.EmailVerified = true
	if err := s.userRepo.Update(user); err != nil {
		return err
	}
	_ = s.codeStore.DeleteCode(ctx, codeKindVerify, email)
	return nil
}

// Login 处理用户登录：验证凭证，开启一个新的令牌家族，
// 创建会话行并签发 access/refresh token 对。
func (s *authService) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	user, err := s.userRepo.FindByUsername(username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 维持与正常路径一致的耗时
			hash.CheckPasswordHash(password, dummyHash)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !hash.CheckPasswordHash(password, user.Password) {
		return nil, ErrInvalidCredentials
	}
	if user.Disabled {
		return nil, ErrInvalidCredentials
	}

	familyID := uuid.NewString()
	return s.issuePair(ctx, user, familyID, nil)
}

// issuePair 创建新的会话行并签发与之绑定的 token 对。
// parentID 非空表示这是一次轮换，新会话挂在轮换链上。
func (s *authService) issuePair(ctx context.Context, user *model.User, familyID string, parentID *uint) (*TokenPair, error) {
	session := &model.Session{
		UserID:    user.ID,
		TokenID:   uuid.NewString(),
		FamilyID:  familyID,
		ParentID:  parentID,
		ExpiresAt: time.Now().Add(s.jwtManager.RefreshTokenTTL()),
	}

	if parentID == nil {
		if err := s.sessionRepo.Create(session); err != nil {
			return nil, err
		}
	} else {
		// 原子轮换：老会话撤销与新会话创建在同一个事务内完成
		if err := s.sessionRepo.Rotate(*parentID, session); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// 老会话已被并发请求消费，按重用处理
				return nil, s.handleReuse(ctx, familyID, user.ID)
			}
			return nil, err
		}
	}

	accessToken, err := s.jwtManager.GenerateAccessToken(user.ID, user.Username, user.Role, familyID)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.jwtManager.GenerateRefreshToken(user.ID, user.Username, user.Role, familyID, session.TokenID)
	if err != nil {
		return nil, err
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// Refresh 校验 refresh token 并执行单次使用的轮换。
// 已轮换 token 的再次使用被视为失窃信号：整个家族立即撤销。
func (s *authService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.jwtManager.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, mapTokenError(err)
	}
	if claims.FamilyID == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}

	active, err := s.sessionRepo.FindActiveByFamily(claims.FamilyID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 家族中已无有效会话：token 本身仍在有效期内却无处落点，
			// 说明家族已被撤销，属于重放
			return nil, s.handleReuse(ctx, claims.FamilyID, claims.UserID)
		}
		return nil, err
	}

	// 家族中有效的会话不是该 token 对应的那一环：
	// 这是一个已被轮换掉的旧 token，链上出现分叉，按失窃处理
	if active.TokenID != claims.ID {
		return nil, s.handleReuse(ctx, claims.FamilyID, claims.UserID)
	}
	if active.UserID != claims.UserID {
		return nil, ErrInvalidToken
	}

	user, err := s.userRepo.FindByID(claims.UserID)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if user.Disabled {
		return nil, ErrSessionRevoked
	}

	return s.issuePair(ctx, user, claims.FamilyID, &active.ID)
}

// handleReuse 执行家族级撤销并返回 ErrReuseDetected。
// 会话行撤销后还会在 Redis 中标记该家族，使已签发的 access token
// 在下一次 Authorize 时立即被拒绝，而不是等到自然过期。
// 这是安全敏感事件，按告警级别记录。
func (s *authService) handleReuse(ctx context.Context, familyID string, userID uint) error {
	log.Errorf("[SECURITY] 检测到 refresh token 重放，撤销整个令牌家族, userId: %d, familyId: %s", userID, familyID)
	if err := s.sessionRepo.RevokeFamily(familyID); err != nil {
		log.Errorf("[AuthService] 家族撤销失败, familyId: %s, error: %v", familyID, err)
		return err
	}
	if err := s.codeStore.MarkFamilyRevoked(ctx, familyID, s.jwtManager.AccessTokenTTL()); err != nil {
		log.Errorf("[AuthService] 标记家族撤销失败, familyId: %s, error: %v", familyID, err)
	}
	return ErrReuseDetected
}

// Revoke 处理登出：撤销 refresh token 对应的会话，
// 并将本次请求携带的 access token 加入黑名单。
func (s *authService) Revoke(ctx context.Context, accessToken, refreshToken string) error {
	claims, err := s.jwtManager.VerifyRefreshToken(refreshToken)
	if err != nil {
		return mapTokenError(err)
	}

	active, err := s.sessionRepo.FindActiveByFamily(claims.FamilyID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil // 已经没有有效会话，登出幂等成功
		}
		return err
	}
	if active.TokenID != claims.ID {
		return ErrInvalidToken
	}
	if err := s.sessionRepo.MarkRevoked(active.ID); err != nil {
		return err
	}

	// access token 无状态，依靠黑名单令其立即失效
	if accessToken != "" {
		if ac, verr := s.jwtManager.VerifyAccessToken(accessToken); verr == nil {
			ttl := time.Until(ac.ExpiresAt.Time)
			if berr := s.codeStore.BlacklistToken(ctx, accessToken, ttl); berr != nil {
				log.Errorf("[AuthService] access token 入黑名单失败: %v", berr)
			}
		}
	}
	return nil
}

// Authorize 校验 access token。
// 这是每个请求都要走的热路径：签名与有效期的校验是无状态的，
// 唯一的存储访问是 Redis 上的家族撤销标记——重用检测触发家族撤销后，
// 该家族已签发的 access token 必须立即失效，不能等到自然过期。
func (s *authService) Authorize(ctx context.Context, accessToken string) (*token.CustomClaims, error) {
	claims, err := s.jwtManager.VerifyAccessToken(accessToken)
	if err != nil {
		return nil, mapTokenError(err)
	}
	if claims.FamilyID != "" {
		revoked, err := s.codeStore.IsFamilyRevoked(ctx, claims.FamilyID)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, ErrSessionRevoked
		}
	}
	return claims, nil
}

// RequestPasswordReset 生成密码重置码并发送通知邮件。
func (s *authService) RequestPasswordReset(ctx context.Context, email string) error {
	if _, err := s.userRepo.FindByEmail(email); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	s.sendCode(ctx, codeKindReset, email, "密码重置", "您的密码重置码是: ")
	return nil
}

// ResetPassword 校验重置码并更新密码，随后强制撤销该用户的全部会话。
func (s *authService) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	user, err := s.userRepo.FindByEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}

	stored, err := s.codeStore.GetCode(ctx, codeKindReset, email)
	if err != nil {
		return err
	}
	if stored == "" || stored != code {
		return ErrInvalidCredentials
	}

	hashedPassword, err := hash.HashPassword(newPassword)
	if err != nil {
		return err
	}
	user.Password = hashedPassword
	if err := s.userRepo.Update(user); err != nil {
		return err
	}
	_ = s.codeStore.DeleteCode(ctx, codeKindReset, email)

	// 密码已变更，旧会话一律作废
	return s.sessionRepo.RevokeAllByUser(user.ID)
}

// GetProfile 根据用户名获取用户详细信息。
func (s *authService) GetProfile(username string) (*model.User, error) {
	user, err := s.userRepo.FindByUsername(username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return user, nil
}

// SweepExpiredSessions 清理已过期的会话行，由后台定时任务调用。
func (s *authService) SweepExpiredSessions(now time.Time) (int64, error) {
	return s.sessionRepo.SweepExpired(now)
}

// mapTokenError 把编解码层的错误映射到业务错误分类。
func mapTokenError(err error) error {
	switch {
	case errors.Is(err, token.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, token.ErrMalformed):
		return ErrMalformedToken
	default:
		return ErrInvalidToken
	}
}

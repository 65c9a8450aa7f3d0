// Package auth はOAuth認証フロー、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/smartmark/internal/model"
	"github.com/hitoshi/smartmark/internal/repository"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	Provider       string // "google" 等
	Metadata       map[string]string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service はユーザー・セッションの永続化とOAuthコード交換を束ねる。
// セッションのキャッシュやイベント通知は session.Client が担う。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		config:      config,
		now:         time.Now,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// SessionMaxAge はセッションの有効期間を返す。
func (s *Service) SessionMaxAge() time.Duration {
	return time.Duration(s.config.SessionMaxAge) * time.Second
}

// ExchangeCodeForSession は認可コードを交換し、セッションを発行する。
// 未登録ユーザーの場合はusersレコードとidentitiesレコードを同時に自動作成する。
// 登録済みユーザーの場合はIdPの最新プロフィールでemail・metadataを更新する。
func (s *Service) ExchangeCodeForSession(ctx context.Context, code string) (*model.Session, error) {
	if code == "" {
		return nil, fmt.Errorf("authorization code is required")
	}

	userInfo, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, userInfo.Provider, userInfo.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	var userID string
	if identity != nil {
		userID = identity.UserID
		if err := s.refreshProfile(ctx, userID, userInfo); err != nil {
			// プロフィール更新の失敗はログインを妨げない
			slog.Warn("failed to refresh user profile",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
		slog.Info("existing user logged in",
			slog.String("user_id", userID),
			slog.String("provider", userInfo.Provider),
		)
	} else {
		userID, err = s.registerUser(ctx, userInfo)
		if err != nil {
			return nil, err
		}
	}

	session, err := s.createSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, nil
}

// registerUser は新規ユーザーとidentityを作成し、ユーザーIDを返す。
func (s *Service) registerUser(ctx context.Context, info *OAuthUserInfo) (string, error) {
	now := s.now()
	user := &model.User{
		ID:        uuid.New().String(),
		Email:     info.Email,
		Name:      info.Name,
		Metadata:  maps.Clone(info.Metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}
	identity := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         user.ID,
		Provider:       info.Provider,
		ProviderUserID: info.ProviderUserID,
		CreatedAt:      now,
	}

	if err := s.userRepo.CreateWithIdentity(ctx, user, identity); err != nil {
		return "", fmt.Errorf("failed to create user and identity: %w", err)
	}

	slog.Info("new user created",
		slog.String("user_id", user.ID),
		slog.String("provider", info.Provider),
	)
	return user.ID, nil
}

func (s *Service) refreshProfile(ctx context.Context, userID string, info *OAuthUserInfo) error {
	return s.userRepo.UpdateProfile(ctx, &model.User{
		ID:       userID,
		Email:    info.Email,
		Name:     info.Name,
		Metadata: maps.Clone(info.Metadata),
	})
}

// FindSession は有効なセッションを返す。存在しない・期限切れの場合はnilを返す。
func (s *Service) FindSession(ctx context.Context, sessionID string) (*model.Session, error) {
	if sessionID == "" {
		return nil, nil
	}
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return session, nil
}

// FindUser は指定IDのユーザーを返す。存在しない場合はnilを返す。
func (s *Service) FindUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// ExtendSession はセッションの有効期限をSessionMaxAge分延長する。
// 延長できなかった場合（既に失効・削除済み）はnilを返す。
func (s *Service) ExtendSession(ctx context.Context, session *model.Session) (*model.Session, error) {
	now := s.now()
	extended := *session
	extended.ExpiresAt = now.Add(s.SessionMaxAge())
	extended.RefreshedAt = now

	ok, err := s.sessionRepo.Extend(ctx, session.ID, extended.ExpiresAt, extended.RefreshedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to extend session: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &extended, nil
}

// DeleteSession はセッションを破棄する。存在しないセッションの場合も成功する。
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteUserSessions はユーザーの全セッションを破棄し、破棄したセッションIDを返す。
func (s *Service) DeleteUserSessions(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.sessionRepo.DeleteByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return ids, nil
}

// ListIdentities はユーザーに紐付くIdP情報を返す。
func (s *Service) ListIdentities(ctx context.Context, userID string) ([]*model.Identity, error) {
	identities, err := s.identRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	return identities, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:          sessionID,
		UserID:      userID,
		ExpiresAt:   now.Add(s.SessionMaxAge()),
		CreatedAt:   now,
		RefreshedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

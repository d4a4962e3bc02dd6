// Package session is the process-wide "who am I" handle the chat managers are
// constructed with. It is initialised on sign-in and torn down on sign-out;
// every manager operation fails with errs.ErrNoSession while it is empty.
package session

import (
	"sync"
	"time"

	"PPChatSync/logger"
	"PPChatSync/tools/errs"
	"PPChatSync/tools/security"

	"go.uber.org/zap"
)

// Identity 当前登录用户的来源；managers 只依赖这个接口
type Identity interface {
	CurrentUserID() (string, error)
}

type Session struct {
	opts security.Options

	mu       sync.RWMutex
	userID   string
	token    string
	expireAt time.Time
	now      func() time.Time
}

var _ Identity = (*Session)(nil)

func New(opts security.Options) *Session {
	return &Session{opts: opts, now: time.Now}
}

// SignIn 以 userID 建立会话并签发令牌（身份已由外部 IdP 验证过）
func (s *Session) SignIn(userID string) (string, error) {
	token, exp, err := security.Issue(s.opts, userID)
	if err != nil {
		return "", err
	}
	s.set(userID, token, exp)
	logger.Info("[session] signed in", zap.String("user_id", userID), zap.Time("expire_at", exp))
	return token, nil
}

// SignInWithToken 用已有令牌恢复会话
func (s *Session) SignInWithToken(token string) error {
	claims, err := security.Verify(s.opts, token)
	if err != nil {
		return err
	}
	s.set(claims.UserID, token, claims.ExpireAt)
	return nil
}

func (s *Session) SignOut() {
	s.mu.Lock()
	uid := s.userID
	s.userID, s.token, s.expireAt = "", "", time.Time{}
	s.mu.Unlock()
	if uid != "" {
		logger.Info("[session] signed out", zap.String("user_id", uid))
	}
}

func (s *Session) CurrentUserID() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.userID == "" {
		return "", errs.ErrNoSession.Wrap()
	}
	if !s.expireAt.IsZero() && s.now().After(s.expireAt) {
		return "", errs.ErrNoSession.WrapMsg("session expired", "user_id", s.userID)
	}
	return s.userID, nil
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) set(userID, token string, exp time.Time) {
	s.mu.Lock()
	s.userID, s.token, s.expireAt = userID, token, exp
	s.mu.Unlock()
}

// Static 固定身份，用于按请求已鉴权的场景（HTTP 中间件解析完令牌后）和测试
type Static string

func (u Static) CurrentUserID() (string, error) {
	if u == "" {
		return "", errs.ErrNoSession.Wrap()
	}
	return string(u), nil
}

// Require 取当前用户，并要求它就是 actor（不能替别人操作）
func Require(id Identity, actor string) (string, error) {
	if id == nil {
		return "", errs.ErrNoSession.Wrap()
	}
	uid, err := id.CurrentUserID()
	if err != nil {
		return "", err
	}
	if actor != "" && actor != uid {
		return "", errs.ErrPermissionDenied.WrapMsg("actor is not the signed-in user", "actor", actor, "current", uid)
	}
	return uid, nil
}

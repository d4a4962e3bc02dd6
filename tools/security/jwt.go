package security

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"PPChatSync/tools/errs"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Options 控制签名与TTL等参数。
type Options struct {
	Secret []byte        // HMAC 密钥（生产用ENV/KMS）
	Alg    string        // HS256/HS384/HS512（默认 HS256）
	TTL    time.Duration // 令牌有效期（默认 2h）
	Issuer string        // 可选，写入/校验 iss
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: 2 * time.Hour}
}

// Claims 会话令牌里携带的身份
type Claims struct {
	UserID   string
	ExpireAt time.Time
	jwtlib.RegisteredClaims
}

func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Issue 为 userID 签发令牌
func Issue(opts Options, userID string) (token string, expireAt time.Time, err error) {
	if userID == "" {
		return "", time.Time{}, errs.ErrValidation.WrapMsg("empty subject")
	}
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	if len(opts.Secret) == 0 {
		return "", time.Time{}, errs.ErrInternalServer.WrapMsg("jwt secret not configured")
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Hour
	}
	now := time.Now()
	exp := now.Add(opts.TTL)

	claims := jwtlib.RegisteredClaims{
		Subject:   userID,
		Issuer:    opts.Issuer,
		IssuedAt:  jwtlib.NewNumericDate(now),
		NotBefore: jwtlib.NewNumericDate(now),
		ExpiresAt: jwtlib.NewNumericDate(exp),
	}
	signed, err := jwtlib.NewWithClaims(method, claims).SignedString(opts.Secret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "jwt sign")
	}
	return signed, exp, nil
}

// Verify 校验签名/有效期，返回令牌里的用户；任何失败都归为 NoSession
func Verify(opts Options, token string) (*Claims, error) {
	if _, err := signingMethod(opts.Alg); err != nil { // 校验 alg 合法
		return nil, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errs.ErrNoSession.WrapMsg("empty token")
	}
	var rc jwtlib.RegisteredClaims
	parserOpts := []jwtlib.ParserOption{jwtlib.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwtlib.WithIssuer(opts.Issuer))
	}
	parsed, err := jwtlib.ParseWithClaims(token, &rc, func(t *jwtlib.Token) (interface{}, error) {
		return opts.Secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, errs.ErrNoSession.WrapErr(err, "invalid token")
	}
	if !parsed.Valid || rc.Subject == "" {
		return nil, errs.ErrNoSession.WrapMsg("invalid token")
	}
	out := &Claims{UserID: rc.Subject, RegisteredClaims: rc}
	if rc.ExpiresAt != nil {
		out.ExpireAt = rc.ExpiresAt.Time
	}
	return out, nil
}

// BearerToken 兼容 "Bearer xxx" 与裸 token
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, errs.ErrValidation.WrapMsg("unsupported alg (use HS256/HS384/HS512)", "alg", alg)
	}
}

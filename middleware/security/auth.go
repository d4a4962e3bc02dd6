package security

import (
	"net/http"
	"strings"

	"PPChatSync/tools/errs"
	tokens "PPChatSync/tools/security"

	"github.com/gin-gonic/gin"
)

// —— context key ——
const (
	PPCtxAuthKey   = "authorization" // string 原始令牌
	PPCtxUserIDKey = "userID"        // string 已验证的用户
)

type Options struct {
	HeaderToken               string // 默认 "authorization"
	EnableAuthorizationBearer bool   // 默认 true
	QueryToken                string // 浏览器 WebSocket 无法带头，默认 "access_token"
}

func DefaultOptions() *Options {
	return &Options{
		HeaderToken:               PPCtxAuthKey,
		EnableAuthorizationBearer: true,
		QueryToken:                "access_token",
	}
}

// Middleware 校验会话令牌；通过后把 userID 写入 context
func Middleware(jwt tokens.Options, opts *Options) gin.HandlerFunc {
	if opts == nil {
		opts = DefaultOptions()
	}
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader(opts.HeaderToken))
		if token == "" {
			token = strings.TrimSpace(c.GetHeader("Authorization"))
		}
		// 兼容 Authorization: Bearer xxx
		if opts.EnableAuthorizationBearer {
			token = tokens.BearerToken(token)
		}
		if token == "" && opts.QueryToken != "" {
			token = strings.TrimSpace(c.Query(opts.QueryToken))
		}
		if token == "" {
			abort(c, errs.ErrNoSession.WrapMsg("missing token"))
			return
		}

		claims, err := tokens.Verify(jwt, token)
		if err != nil {
			abort(c, err)
			return
		}
		c.Set(PPCtxAuthKey, token)
		c.Set(PPCtxUserIDKey, claims.UserID)
		c.Next()
	}
}

// UserID 取已验证的用户；未经过 Middleware 时为空
func UserID(c *gin.Context) string {
	return c.GetString(PPCtxUserIDKey)
}

func abort(c *gin.Context, err error) {
	body := gin.H{"code": errs.NoSessionError, "msg": "NoSession"}
	if ce, ok := errs.AsCodeError(err); ok {
		body["code"], body["msg"] = ce.Code, ce.Msg
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, body)
}

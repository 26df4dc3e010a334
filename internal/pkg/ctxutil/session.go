package ctxutil

import "context"

// 使用私有类型避免与其他 context key 冲突
type userIDKeyType struct{}
type authTokenKeyType struct{}

var (
	userIDKey    = userIDKeyType{}
	authTokenKey = authTokenKeyType{}
)

// WithUserID 将 userID 注入到 context 中
// 说明：在认证中间件中解析 JWT 成功后调用：
//
//	ctx := ctxutil.WithUserID(c.Request.Context(), claims.UserID)
//	c.Request = c.Request.WithContext(ctx)
func WithUserID(ctx context.Context, userID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserID 从 context 中解析 userID
func GetUserID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v := ctx.Value(userIDKey)
	id, ok := v.(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// WithAuthToken 将原始 Bearer token 注入到 context 中
// 配额端点需要透传调用方的凭证
func WithAuthToken(ctx context.Context, token string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, authTokenKey, token)
}

// GetAuthToken 从 context 中解析原始 Bearer token
func GetAuthToken(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v := ctx.Value(authTokenKey)
	token, ok := v.(string)
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

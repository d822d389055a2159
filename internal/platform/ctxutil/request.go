package ctxutil

import (
	"context"
	"strings"
)

// AnonymousUser is recorded when a request carries no acting user.
const AnonymousUser = "anonymous"

type requestDataKey struct{}

type RequestData struct {
	User string
}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	if ctx == nil {
		return nil
	}
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		return rd
	}
	return nil
}

// User returns the acting user for ctx, defaulting to AnonymousUser.
func User(ctx context.Context) string {
	if rd := GetRequestData(ctx); rd != nil && strings.TrimSpace(rd.User) != "" {
		return strings.TrimSpace(rd.User)
	}
	return AnonymousUser
}

// Default returns context.Background() when ctx is nil.
func Default(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

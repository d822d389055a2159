package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/panelapp-backend/internal/platform/ctxutil"
)

// HeaderUser names the acting curator. Requests without it run as
// ctxutil.AnonymousUser.
const HeaderUser = "X-PanelApp-User"

func AttachRequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := strings.TrimSpace(c.GetHeader(HeaderUser))
		if user == "" {
			user = ctxutil.AnonymousUser
		}
		ctx := ctxutil.WithRequestData(c.Request.Context(), &ctxutil.RequestData{User: user})
		c.Request = c.Request.WithContext(ctx)
		c.Set("user", user)
		c.Next()
	}
}

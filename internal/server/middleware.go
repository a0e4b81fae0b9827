package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	"github.com/paperstreamhq/paperstream/internal/orgcontext"
)

// OrgMiddleware resolves the acting organization from the X-Org-ID
// header. The gateway in front of this service authenticates the caller
// and stamps the header; a request without it never reaches billing
// state.
func OrgMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader("X-Org-ID"))
		if raw == "" {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		orgID, err := snowflake.ParseString(raw)
		if err != nil || orgID == 0 {
			AbortWithError(c, ErrInvalidRequest)
			return
		}

		ctx := orgcontext.WithOrgID(c.Request.Context(), orgID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

package common

import "github.com/gin-gonic/gin"

// SetSSEHeaders prepares the response for server-sent events. The
// X-Accel-Buffering header keeps reverse proxies from buffering the stream.
func SetSSEHeaders(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeaderNow()
}

// Package node names the runnable units of a meshlink deployment.
package node

import "github.com/gin-gonic/gin"

const (
	KindRelay = "relay"
	KindTap   = "tap"
)

// Node is anything that serves an admin surface. The relay service is
// the primary implementation; taps run headless and do not implement
// it.
type Node interface {
	NodeID() string
	Kind() string
	HTTPRouter() *gin.Engine
}

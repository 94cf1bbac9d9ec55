package upstream

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCPHealthChecker_ReachableHostSucceeds(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	checker := NewTCPHealthChecker("http://"+ln.Addr().String(), "tiles")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, checker.HealthCheck(ctx))
}

func TestTCPHealthChecker_UnreachableHostErrors(t *testing.T) {
	checker := NewTCPHealthChecker("127.0.0.1:1", "tiles")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := checker.HealthCheck(ctx)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "tiles unreachable")
}

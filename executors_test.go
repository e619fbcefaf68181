package aiotls_test

import (
	"context"
	"testing"

	"github.com/brickingsoft/aiotls"
	"github.com/stretchr/testify/require"
)

func TestStartup(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, aiotls.Startup())
	done := make(chan struct{})
	err := aiotls.Executors().Execute(ctx, func() {
		close(done)
	})
	require.NoError(t, err)
	<-done
	require.NoError(t, aiotls.ShutdownGracefully())
}

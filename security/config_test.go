package security_test

import (
	"crypto/tls"
	"testing"

	"github.com/brickingsoft/aiotls/security"
	"github.com/brickingsoft/aiotls/security/securitytest"
	"github.com/brickingsoft/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewContext(t *testing.T) {
	clientConfig, serverConfig := securitytest.Configs(t)

	ctx, err := security.NewContext(security.ClientMethod, clientConfig)
	require.NoError(t, err)
	assert.Equal(t, security.ClientMethod, ctx.Method())
	assert.Equal(t, 16384, ctx.MaxFragment())

	_, err = security.NewContext(security.ClientMethod, &tls.Config{})
	assert.True(t, errors.Is(err, security.ErrInvalidContext))

	_, err = security.NewContext(security.ServerMethod, &tls.Config{})
	assert.True(t, errors.Is(err, security.ErrInvalidContext))

	legacy := serverConfig.Clone()
	legacy.MaxVersion = tls.VersionTLS12
	_, err = security.NewContext(security.ServerMethod, legacy)
	assert.True(t, errors.Is(err, security.ErrInvalidContext))

	_, err = security.NewContext(security.ServerMethod, serverConfig, security.WithMaxFragment(100))
	assert.True(t, errors.Is(err, security.ErrInvalidContext))

	_, err = security.NewContext(security.ServerMethod, nil)
	assert.True(t, errors.Is(err, security.ErrInvalidContext))
}

func TestNewContext_DoesNotMutateConfig(t *testing.T) {
	clientConfig, _ := securitytest.Configs(t)
	clientConfig.MinVersion = 0
	_, err := security.NewContext(security.ClientMethod, clientConfig)
	require.NoError(t, err)
	assert.Zero(t, clientConfig.MinVersion)
}

func TestContext_SharedBySessions(t *testing.T) {
	cctx, sctx := securitytest.Contexts(t)
	for i := 0; i < 3; i++ {
		p := &pair{clientIO: &memIO{}, serverIO: &memIO{}}
		var err error
		p.client, err = cctx.NewSession()
		require.NoError(t, err)
		p.server, err = sctx.NewSession()
		require.NoError(t, err)
		p.client.SetIO(p.clientIO)
		p.server.SetIO(p.serverIO)
		p.handshake(t)
		_ = p.client.Close()
		_ = p.server.Close()
	}
}

func TestMethod_String(t *testing.T) {
	assert.Equal(t, "client", security.ClientMethod.String())
	assert.Equal(t, "server", security.ServerMethod.String())
}

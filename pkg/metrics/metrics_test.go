package metrics_test

import (
	"testing"

	"github.com/brickingsoft/aiotls/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.New("aiotls")
	require.NoError(t, c.Register(reg))

	c.CiphertextIn(10)
	c.CiphertextOut(7)
	c.CiphertextOut(3)
	c.PlaintextIn(4)
	c.PlaintextOut(0)
	c.Suspended("read")
	c.Suspended("read")
	c.Failed("protocol")
	c.Handshake()

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 6, count)

	require.Error(t, c.Register(reg))
}

func TestCollector_Nil(t *testing.T) {
	var c *metrics.Collector
	assert.NotPanics(t, func() {
		c.CiphertextIn(1)
		c.CiphertextOut(1)
		c.PlaintextIn(1)
		c.PlaintextOut(1)
		c.Suspended("write")
		c.Failed("transport")
		c.Handshake()
	})
}

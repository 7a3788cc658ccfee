package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rigado/fpstorage"
	"github.com/rigado/fpstorage/accountkey"
	"github.com/rigado/fpstorage/settings/memory"
)

var _ accountkey.Observer = (*Collector)(nil)

func TestCollectorFedByStore(t *testing.T) {
	c := New()
	reg := prometheus.NewRegistry()
	require.NoError(t, c.Register(reg))

	settings := memory.New()
	s, err := accountkey.New(settings, accountkey.OptCapacity(2), accountkey.OptObserver(c))
	require.NoError(t, err)
	require.NoError(t, s.Enable())

	for i := byte(1); i <= 3; i++ {
		var k fpstorage.AccountKey
		k[0] = i
		if i == 3 {
			settings.FailOn(memory.OpSave, "fp/ak_order")
		}
		require.NoError(t, s.Save(k, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(c.keys))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.saves.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.saves.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.bestEffort.WithLabelValues("fp/ak_order")))
}

package tracing_test

import (
	"testing"

	"github.com/CZERTAINLY/vcgencmd-node/internal/model"
	"github.com/CZERTAINLY/vcgencmd-node/internal/tracing"

	"github.com/stretchr/testify/require"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := tracing.Setup(t.Context(), nil, "test")
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	require.NoError(t, shutdown(t.Context()))
}

func TestSetupNoEndpoint(t *testing.T) {
	_, err := tracing.Setup(t.Context(), &model.Tracing{}, "test")
	require.Error(t, err)
}

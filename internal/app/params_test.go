package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParamInt_DecimalOnly(t *testing.T) {
	for raw, want := range map[string]int{"08": 8, "09": 9, " 10 ": 10, "": 0, "0012": 12} {
		got, err := ParamInt(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got, raw)
	}
	for _, raw := range []string{"abc", "0x10", "1.5"} {
		_, err := ParamInt(raw)
		require.Error(t, err, raw)
	}

	n, err := ParamInt(nil)
	require.NoError(t, err)
	require.Zero(t, n)
	n, err = ParamInt(float64(3))
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

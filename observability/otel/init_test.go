package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" authorization = Bearer x ,broken,=skip, tenant=acme")
	require.Equal(t, map[string]string{
		"authorization": "Bearer x",
		"tenant":        "acme",
	}, headers)
}

func TestInitWithoutExportersIsNoop(t *testing.T) {
	_, err := Init(context.Background(), Config{})
	require.Error(t, err)

	shutdown, err := Init(context.Background(), Config{ServiceName: "feepools-test"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

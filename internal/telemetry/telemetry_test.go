package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), Settings{ServiceName: "mensetsu"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestMeterAndTracerAreUsableWithoutInit(t *testing.T) {
	c, err := Meter("mensetsu/test").Int64Counter("test.counter")
	require.NoError(t, err)
	c.Add(context.Background(), 1)

	_, span := Tracer("mensetsu/test").Start(context.Background(), "op")
	span.End()
}

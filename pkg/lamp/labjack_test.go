package lamp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapterReadWrite(t *testing.T) {
	ctx := context.Background()
	mock := NewMockConn()
	adapter := NewAdapter(mock)
	defer adapter.Close()

	_, err := adapter.Read(ctx)
	require.ErrorIs(t, err, ErrNotConnected)
	err = adapter.Write(ctx, map[string]float64{ChannelLampSetVoltage: 0})
	require.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, adapter.Connect(ctx, time.Second))
	require.True(t, adapter.Connected())

	sample, err := adapter.Read(ctx)
	require.NoError(t, err)
	assert.True(t, sample.ShutterClosedSwitch)
	assert.False(t, sample.ShutterOpenSwitch)
	assert.True(t, sample.StandbyOrOn)
	assert.False(t, sample.ErrorExists)
	assert.Less(t, sample.PhotosensorVoltage, lightThreshold)
	assert.Zero(t, sample.SetVoltage)

	require.NoError(t, adapter.Write(ctx, map[string]float64{ChannelLampSetVoltage: 3}))
	sample, err = adapter.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3.0, sample.SetVoltage)

	require.NoError(t, adapter.Disconnect(ctx, time.Second))
	_, err = adapter.Read(ctx)
	require.ErrorIs(t, err, ErrNotConnected)

	// Disconnecting again is a no-op.
	require.NoError(t, adapter.Disconnect(ctx, time.Second))
}

func TestAdapterWriteValidation(t *testing.T) {
	ctx := context.Background()
	adapter := NewAdapter(NewMockConn())
	defer adapter.Close()
	require.NoError(t, adapter.Connect(ctx, time.Second))

	err := adapter.Write(ctx, map[string]float64{"no_such_channel": 1})
	require.ErrorIs(t, err, ErrUnknownChannel)

	// Read-only channels are not writable.
	err = adapter.Write(ctx, map[string]float64{ChannelPhotosensor: 1})
	require.ErrorIs(t, err, ErrUnknownChannel)

	for _, voltage := range []float64{-1, 0.5, 1.9, 5.1} {
		err = adapter.Write(ctx, map[string]float64{ChannelLampSetVoltage: voltage})
		assert.ErrorIs(t, err, ErrVoltageOutOfRange, "voltage %v", voltage)
	}
	require.NoError(t, adapter.Write(ctx, map[string]float64{ChannelLampSetVoltage: 0}))
	require.NoError(t, adapter.Write(ctx, map[string]float64{ChannelLampSetVoltage: VoltsAtMaxPower}))
}

// blockingConn wedges on Open until unblocked, to exercise the
// adapter's call timeout.
type blockingConn struct {
	unblock chan struct{}
}

func (c *blockingConn) Open() error {
	<-c.unblock
	return nil
}

func (c *blockingConn) Close() error { return nil }

func (c *blockingConn) ReadNames(names []string) ([]float64, error) {
	return nil, errors.New("not implemented")
}

func (c *blockingConn) WriteNames(names []string, values []float64) error {
	return errors.New("not implemented")
}

func TestAdapterCallTimeout(t *testing.T) {
	conn := &blockingConn{unblock: make(chan struct{})}
	adapter := NewAdapter(conn)
	defer adapter.Close()
	defer close(conn.unblock)

	err := adapter.Connect(context.Background(), 50*time.Millisecond)
	require.ErrorIs(t, err, ErrIOTimeout)
	assert.False(t, adapter.Connected())
}

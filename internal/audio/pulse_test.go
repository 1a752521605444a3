package audio

import (
	"context"
	"reflect"
	"testing"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
	"github.com/stretchr/testify/require"
)

func TestSelectDeviceFromListPrimaryDefault(t *testing.T) {
	devices := []Device{
		{ID: "monitors", Description: "Studio Monitors", Available: true, Default: true},
		{ID: "speaker", Description: "Kiosk Speaker", Available: true},
	}

	selection, err := selectDeviceFromList(devices, "default", "default")
	require.NoError(t, err)
	require.Equal(t, "monitors", selection.Device.ID)
	require.Empty(t, selection.Warning)
}

func TestSelectDeviceFromListMutedPrimaryUsesFallback(t *testing.T) {
	devices := []Device{
		{ID: "monitors", Description: "Studio Monitors", Available: true, Muted: true, Default: true},
		{ID: "speaker", Description: "Kiosk Speaker", Available: true},
	}

	selection, err := selectDeviceFromList(devices, "monitors", "speaker")
	require.NoError(t, err)
	require.Equal(t, "speaker", selection.Device.ID)
	require.Contains(t, selection.Warning, "muted")
	require.True(t, selection.Fallback)
}

func TestSelectDeviceFromListFailsWhenSelectedAndFallbackMuted(t *testing.T) {
	devices := []Device{
		{ID: "monitors", Description: "Studio Monitors", Available: true, Muted: true, Default: true},
	}

	_, err := selectDeviceFromList(devices, "default", "default")
	require.Error(t, err)
	require.Contains(t, err.Error(), "muted")
}

func TestSelectDeviceFromListUnknownSink(t *testing.T) {
	devices := []Device{{ID: "monitors", Description: "Studio Monitors", Available: true, Default: true}}

	_, err := selectDeviceFromList(devices, "missing", "default")
	require.Error(t, err)
	require.Contains(t, err.Error(), "did not match")
}

func TestDeviceMatchesByIDAndDescription(t *testing.T) {
	dev := Device{ID: "alsa_output.usb-monitors", Description: "Studio Monitors"}
	require.True(t, deviceMatches(dev, "monitors"))
	require.True(t, deviceMatches(dev, "studio"))
	require.False(t, deviceMatches(dev, "missing"))
}

func TestListDevicesFailsWhenPulseUnavailable(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	_, err := ListDevices(context.Background())
	require.Error(t, err)
}

func TestSelectDeviceFailsWhenPulseUnavailable(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	_, err := SelectDevice(context.Background(), "default", "default")
	require.Error(t, err)
}

func TestSinkStateString(t *testing.T) {
	require.Equal(t, "running", sinkStateString(0))
	require.Equal(t, "idle", sinkStateString(1))
	require.Equal(t, "suspended", sinkStateString(2))
	require.Equal(t, "unknown(99)", sinkStateString(99))
}

func TestSinkAvailable(t *testing.T) {
	require.False(t, sinkAvailable(nil))
	require.True(t, sinkAvailable(&pulseproto.GetSinkInfoReply{})) // no ports => available

	available := &pulseproto.GetSinkInfoReply{ActivePortName: "speaker"}
	setSinkPorts(t, available, []sinkPort{{name: "speaker", available: 2}})
	require.True(t, sinkAvailable(available))

	notAvailable := &pulseproto.GetSinkInfoReply{ActivePortName: "speaker"}
	setSinkPorts(t, notAvailable, []sinkPort{{name: "speaker", available: 1}})
	require.False(t, sinkAvailable(notAvailable))
}

func TestPlayEmptySamplesIsNoop(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	require.NoError(t, Play(context.Background(), "", nil, "test"))
}

func TestPlayRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Play(ctx, "", []int16{1, 2, 3}, "test")
	require.ErrorIs(t, err, context.Canceled)
}

func TestPlayFailsWhenPulseUnavailable(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	require.Error(t, Play(context.Background(), "", []int16{1, 2, 3}, "test"))
}

func TestSamplesReaderEndsAfterOnePass(t *testing.T) {
	reader := samplesReader([]int16{1, 2, 3, 4, 5})
	buf := make([]byte, 6)

	n, err := reader.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 6, n)

	n, err = reader.Read(buf)
	require.ErrorIs(t, err, pulse.EndOfData)
	require.Equal(t, 4, n)
}

type sinkPort struct {
	name      string
	available uint32
}

func setSinkPorts(t *testing.T, reply *pulseproto.GetSinkInfoReply, ports []sinkPort) {
	t.Helper()

	sliceType := reflect.TypeOf(reply.Ports)
	sliceValue := reflect.MakeSlice(sliceType, len(ports), len(ports))

	for i, port := range ports {
		item := sliceValue.Index(i)
		item.FieldByName("Name").SetString(port.name)
		item.FieldByName("Available").SetUint(uint64(port.available))
	}

	replyValue := reflect.ValueOf(reply).Elem().FieldByName("Ports")
	replyValue.Set(sliceValue)
}

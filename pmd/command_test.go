package pmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeCommand_GetSettings(t *testing.T) {
	buf, err := EncodeCommand(SettingsCommand(Ecg))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x00}, buf)

	buf, err = EncodeCommand(SettingsCommand(Accelerometer))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, buf)
}

func TestEncodeCommand_Stop(t *testing.T) {
	buf, err := EncodeCommand(StopCommand(Gyroscope))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03, 0x05}, buf)
}

func TestEncodeCommand_Start(t *testing.T) {
	cmd := StartCommand(Ecg, []Setting{
		{Kind: SampleRate, Values: []uint16{130}},
		{Kind: Resolution, Values: []uint16{14}},
	})
	buf, err := EncodeCommand(cmd)
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x02, 0x00, // start ecg
		0x00, 0x01, 0x82, 0x00, // sample rate 130
		0x01, 0x01, 0x0e, 0x00, // resolution 14
	}, buf)
}

func TestEncodeCommand_StartMultiValueSetting(t *testing.T) {
	cmd := StartCommand(Accelerometer, []Setting{
		{Kind: Range, Values: []uint16{2, 4, 8}},
	})
	buf, err := EncodeCommand(cmd)
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x02, 0x02,
		0x02, 0x03, 0x02, 0x00, 0x04, 0x00, 0x08, 0x00,
	}, buf)
}

func TestEncodeCommand_StartWithoutSettings(t *testing.T) {
	_, err := EncodeCommand(StartCommand(Ecg, nil))
	assert.ErrorIs(t, err, ErrEmptySettingList)
}

// PPI is event driven and starts without any settings.
func TestEncodeCommand_StartPpiWithoutSettings(t *testing.T) {
	buf, err := EncodeCommand(StartCommand(Ppi, nil))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x03}, buf)
}

// A request's echo fields in a hand-built matching response must decode
// back to the request's opcode and measurement type.
func TestEncodeCommand_ResponseEchoRoundTrip(t *testing.T) {
	cmd := StopCommand(Magnetometer)
	buf, err := EncodeCommand(cmd)
	require.NoError(t, err)

	reply := []byte{0xf0, buf[0], buf[1], 0x00, 0x00}
	resp, err := DecodeControlResponse(reply)
	require.NoError(t, err)
	assert.Equal(t, cmd.Op, resp.Op)
	assert.Equal(t, cmd.Measurement, resp.Measurement)
	assert.True(t, resp.Matches(cmd))
}

package serial

import (
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/groundstation/log2"
)

func testManager(t testing.TB) (*Manager, *MockOpener) {
	opener := NewMockOpener()
	m := NewManager(opener, &Config{SysfsRoot: t.TempDir()}, log2.NewTest(t, log2.LDebug))
	return m, opener
}

func TestConnectDisconnect(t *testing.T) {
	t.Parallel()
	m, opener := testManager(t)
	s := opener.Add("/dev/ttyUSB0")

	assert.False(t, m.IsConnected(ChannelVehicle))
	require.NoError(t, m.Connect("/dev/ttyUSB0", 9600, ChannelVehicle))
	assert.True(t, m.IsConnected(ChannelVehicle))
	assert.False(t, m.IsConnected(ChannelPayload))
	assert.Equal(t, 9600, s.Baud())

	require.NoError(t, m.Disconnect(ChannelVehicle))
	assert.False(t, m.IsConnected(ChannelVehicle))
	assert.True(t, s.Closed())
	// already closed is success
	require.NoError(t, m.Disconnect(ChannelVehicle))
}

func TestStatConnectedAt(t *testing.T) {
	t.Parallel()
	m, opener := testManager(t)
	opener.Add("/dev/ttyUSB1")

	st, err := m.Stat(ChannelPayload)
	require.NoError(t, err)
	assert.True(t, st.ConnectedAt.IsZero())

	require.NoError(t, m.Connect("/dev/ttyUSB1", 9600, ChannelPayload))
	st, err = m.Stat(ChannelPayload)
	require.NoError(t, err)
	assert.True(t, st.Connected)
	assert.WithinDuration(t, time.Now(), st.ConnectedAt, time.Second)

	require.NoError(t, m.Disconnect(ChannelPayload))
	st, err = m.Stat(ChannelPayload)
	require.NoError(t, err)
	assert.True(t, st.ConnectedAt.IsZero())
}

func TestConnectClosesPrevious(t *testing.T) {
	t.Parallel()
	m, opener := testManager(t)
	a := opener.Add("/dev/ttyUSB0")
	b := opener.Add("/dev/ttyUSB1")
	require.NoError(t, m.Connect("/dev/ttyUSB0", 9600, ChannelPayload))
	require.NoError(t, m.Connect("/dev/ttyUSB1", 115200, ChannelPayload))
	assert.True(t, a.Closed())
	assert.False(t, b.Closed())
	st, err := m.Stat(ChannelPayload)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB1", st.Port)
	assert.Equal(t, 115200, st.Baud)
}

func TestConnectFailure(t *testing.T) {
	t.Parallel()
	m, opener := testManager(t)
	a := opener.Add("/dev/ttyUSB0")
	require.NoError(t, m.Connect("/dev/ttyUSB0", 9600, ChannelVehicle))

	err := m.Connect("/dev/missing", 9600, ChannelVehicle)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err), errors.ErrorStack(err))
	assert.Contains(t, err.Error(), "channel=vehicle")
	assert.False(t, m.IsConnected(ChannelVehicle), "failed connect must leave channel unbound")
	assert.True(t, a.Closed())

	require.Error(t, m.Connect("/dev/ttyUSB0", 0, ChannelVehicle))
	require.Error(t, m.Connect("", 9600, ChannelVehicle))
	err = m.Connect("/dev/ttyUSB0", 9600, ChannelName("radar"))
	require.Error(t, err)
	assert.True(t, errors.IsNotValid(err))
}

func TestReadLine(t *testing.T) {
	t.Parallel()
	m, opener := testManager(t)
	s := opener.Add("/dev/ttyUSB0")

	line, ok := m.ReadLine(ChannelVehicle)
	assert.False(t, ok, "closed channel")
	assert.Equal(t, "", line)

	require.NoError(t, m.Connect("/dev/ttyUSB0", 9600, ChannelVehicle))
	_, ok = m.ReadLine(ChannelVehicle)
	assert.False(t, ok, "nothing buffered")

	s.Feed("1,2,3\r\n4,5")
	line, ok = m.ReadLine(ChannelVehicle)
	require.True(t, ok)
	assert.Equal(t, "1,2,3", line)
	_, ok = m.ReadLine(ChannelVehicle)
	assert.False(t, ok, "partial line must not be returned")

	s.Feed(",6\n\n\n7\n")
	line, ok = m.ReadLine(ChannelVehicle)
	require.True(t, ok)
	assert.Equal(t, "4,5,6", line)
	line, ok = m.ReadLine(ChannelVehicle)
	require.True(t, ok, "blank lines skipped")
	assert.Equal(t, "7", line)
	_, ok = m.ReadLine(ChannelVehicle)
	assert.False(t, ok)

	st, err := m.Stat(ChannelVehicle)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), st.Lines)
	assert.Equal(t, uint64(len("1,2,3\r\n4,5,6\n\n\n7\n")), st.BytesIn)
}

func TestReadLineDecodeError(t *testing.T) {
	t.Parallel()
	m, opener := testManager(t)
	s := opener.Add("/dev/ttyUSB0")
	require.NoError(t, m.Connect("/dev/ttyUSB0", 9600, ChannelPayload))

	s.Feed("\xff\xfe\xfd\nok\n")
	_, ok := m.ReadLine(ChannelPayload)
	assert.False(t, ok, "invalid UTF-8 is no data")
	line, ok := m.ReadLine(ChannelPayload)
	require.True(t, ok)
	assert.Equal(t, "ok", line)

	st, _ := m.Stat(ChannelPayload)
	assert.Equal(t, uint64(1), st.DecodeErrors)
}

func TestReadLineOversize(t *testing.T) {
	t.Parallel()
	m, opener := testManager(t)
	s := opener.Add("/dev/ttyUSB0")
	require.NoError(t, m.Connect("/dev/ttyUSB0", 9600, ChannelVehicle))

	s.Feed(strings.Repeat("x", MaxLineLength+10))
	for i := 0; i < 4; i++ {
		_, ok := m.ReadLine(ChannelVehicle)
		assert.False(t, ok)
	}
	s.Feed("tail-of-long-line\nnext\n")
	line, ok := m.ReadLine(ChannelVehicle)
	require.True(t, ok)
	assert.Equal(t, "next", line)
	st, _ := m.Stat(ChannelVehicle)
	assert.Equal(t, uint64(1), st.DecodeErrors)
}

func TestReadLineCodepage(t *testing.T) {
	t.Parallel()
	m, opener := testManager(t)
	s := opener.Add("/dev/ttyUSB0")
	require.NoError(t, m.SetCodepage(ChannelVehicle, "windows-1251"))
	require.NoError(t, m.Connect("/dev/ttyUSB0", 9600, ChannelVehicle))

	s.Feed("\xcf\xf0\xe8\xe2\xe5\xf2\r\n")
	line, ok := m.ReadLine(ChannelVehicle)
	require.True(t, ok)
	assert.Equal(t, "Привет", line)
	st, _ := m.Stat(ChannelVehicle)
	assert.Equal(t, "windows-1251", st.Codepage)

	require.Error(t, m.SetCodepage(ChannelVehicle, "no-such-codepage"))
}

func TestWriteBytes(t *testing.T) {
	t.Parallel()
	m, opener := testManager(t)
	s := opener.Add("/dev/ttyUSB2")

	err := m.WriteBytes(ChannelUplink, []byte{1, 2, 3})
	require.Error(t, err)
	assert.Equal(t, ErrNotConnected, errors.Cause(err))

	require.NoError(t, m.Connect("/dev/ttyUSB2", 19200, ChannelUplink))
	require.NoError(t, m.WriteBytes(ChannelUplink, []byte{1, 2, 3}))
	assert.Equal(t, []byte{1, 2, 3}, s.Written())

	s.WriteErr = errors.New("cable cut")
	err = m.WriteBytes(ChannelUplink, []byte{4})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cable cut")
	st, _ := m.Stat(ChannelUplink)
	assert.Equal(t, uint64(3), st.BytesOut)
}

func TestCloseAll(t *testing.T) {
	t.Parallel()
	m, opener := testManager(t)
	require.NoError(t, m.CloseAll(), "nothing connected")

	a := opener.Add("/dev/a")
	b := opener.Add("/dev/b")
	require.NoError(t, m.Connect("/dev/a", 9600, ChannelVehicle))
	require.NoError(t, m.Connect("/dev/b", 9600, ChannelUplink))
	require.NoError(t, m.CloseAll())
	assert.True(t, a.Closed())
	assert.True(t, b.Closed())
	for _, name := range Channels {
		assert.False(t, m.IsConnected(name))
	}
}

func TestParseChannelName(t *testing.T) {
	t.Parallel()
	for _, c := range Channels {
		got, err := ParseChannelName(" " + strings.ToUpper(string(c)))
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := ParseChannelName("rocket")
	require.Error(t, err)
}

package laser

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quadi/qsa-engrave/models"
)

// udpListener binds an ephemeral loopback port and returns its port number.
func udpListener(t *testing.T) (*net.UDPConn, int) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, conn.LocalAddr().(*net.UDPAddr).Port
}

func testSettings(sendPort, recvPort int) Settings {
	return Settings{Host: "127.0.0.1", SendPort: sendPort, RecvPort: recvPort, TimeoutSeconds: 1, Enabled: true}
}

func TestSettingsCheck(t *testing.T) {
	require.NoError(t, testSettings(19840, 19841).Check())

	s := testSettings(19840, 19841)
	s.Host = "laser.local"
	assert.True(t, models.IsCode(s.Check(), models.CodeInvalidIP))

	s = testSettings(0, 19841)
	assert.True(t, models.IsCode(s.Check(), models.CodeInvalidPort))
	s = testSettings(19840, 70000)
	assert.True(t, models.IsCode(s.Check(), models.CodeInvalidPort))

	s = testSettings(19840, 19841)
	s.TimeoutSeconds = 0
	assert.True(t, models.IsCode(s.Check(), models.CodeInvalidParams))
	s.TimeoutSeconds = 31
	assert.True(t, models.IsCode(s.Check(), models.CodeInvalidParams))
}

func TestNewCouplerRejectsBadSettings(t *testing.T) {
	s := testSettings(19840, 19841)
	s.Host = "not-an-ip"
	_, err := NewCoupler(s, testLog())
	require.Error(t, err)
}

func TestLoadFileSendsDatagram(t *testing.T) {
	listener, port := udpListener(t)
	c, err := NewCoupler(testSettings(port, port), testLog())
	require.NoError(t, err)

	require.NoError(t, c.LoadFile(context.Background(), `\\LASER-PC\share\1-1.svg`))

	require.NoError(t, listener.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 512)
	n, _, err := listener.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, `LOADFILE:\\LASER-PC\share\1-1.svg`, string(buf[:n]))
}

func TestLoadFileGuards(t *testing.T) {
	s := testSettings(19840, 19841)
	s.Enabled = false
	c, err := NewCoupler(s, testLog())
	require.NoError(t, err)
	err = c.LoadFile(context.Background(), "x.svg")
	assert.True(t, models.IsCode(err, models.CodeDeviceDisabled))

	require.NoError(t, c.Update(testSettings(19840, 19841)))
	err = c.LoadFile(context.Background(), "")
	assert.True(t, models.IsCode(err, models.CodeInvalidPath))
}

func TestProbeRoundTrip(t *testing.T) {
	listener, port := udpListener(t)
	go func() {
		buf := make([]byte, 64)
		n, addr, err := listener.ReadFromUDP(buf)
		if err != nil || string(buf[:n]) != "HELLO" {
			return
		}
		listener.WriteToUDP([]byte("HI"), addr)
	}()

	c, err := NewCoupler(testSettings(port, port), testLog())
	require.NoError(t, err)
	rtt, err := c.Probe(context.Background())
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))
}

func TestProbeTimesOut(t *testing.T) {
	// A listener that never replies.
	_, port := udpListener(t)
	c, err := NewCoupler(testSettings(port, port), testLog())
	require.NoError(t, err)

	_, err = c.Probe(context.Background())
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.CodeConnectionFailed))
	assert.True(t, models.AsFault(err).Retryable)
}

func TestUpdateSwapsSettings(t *testing.T) {
	c, err := NewCoupler(testSettings(19840, 19841), testLog())
	require.NoError(t, err)

	next := testSettings(20000, 20001)
	require.NoError(t, c.Update(next))
	assert.Equal(t, next, c.Settings())

	bad := testSettings(0, 20001)
	require.Error(t, c.Update(bad))
	assert.Equal(t, next, c.Settings())
}

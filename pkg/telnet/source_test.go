package telnet

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tcpPair returns a connected client/server socket pair on loopback.
func tcpPair(t *testing.T) (client net.Conn, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		server, err = ln.Accept()
		assert.NoError(t, err)
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	<-done
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestConnSource_NoByteAvailable(t *testing.T) {
	client, _ := tcpPair(t)
	src := newConnSource(client)

	_, ok, err := src.TryReadByte()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConnSource_DeliversBytes(t *testing.T) {
	client, server := tcpPair(t)
	src := newConnSource(client)

	_, err := server.Write([]byte("xy"))
	require.NoError(t, err)

	var got []byte
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < 2 {
		b, ok, err := src.TryReadByte()
		require.NoError(t, err)
		if ok {
			got = append(got, b)
			continue
		}
		require.True(t, time.Now().Before(deadline), "bytes never arrived")
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, []byte("xy"), got)
}

func TestConnSource_Write(t *testing.T) {
	client, server := tcpPair(t)
	src := newConnSource(client)

	require.NoError(t, src.Write([]byte("hello")))

	buf := make([]byte, 16)
	require.NoError(t, server.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := server.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), buf[:n])
}

func TestConnSource_ReadAfterClose(t *testing.T) {
	client, _ := tcpPair(t)
	src := newConnSource(client)
	require.NoError(t, client.Close())

	_, _, err := src.TryReadByte()
	assert.ErrorIs(t, err, ErrConnection)
}

func TestConnSource_WriteAfterClose(t *testing.T) {
	client, _ := tcpPair(t)
	src := newConnSource(client)
	require.NoError(t, client.Close())

	assert.ErrorIs(t, src.Write([]byte("x")), ErrConnection)
}

func TestConnSource_PeerClosed(t *testing.T) {
	client, server := tcpPair(t)
	src := newConnSource(client)
	require.NoError(t, server.Close())

	// The close takes a moment to propagate; poll until the error shows.
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, ok, err := src.TryReadByte()
		if err != nil {
			assert.ErrorIs(t, err, ErrConnection)
			return
		}
		assert.False(t, ok)
		require.True(t, time.Now().Before(deadline), "peer close never surfaced")
		time.Sleep(time.Millisecond)
	}
}

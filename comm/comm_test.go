package comm_test

import (
	"bufio"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bragglab/braggcal/comm"
)

// tcpEchoServer starts a line echo server on a free port and returns its address
func tcpEchoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() { io.Copy(conn, conn) }() // use goroutines to handle multiple connections
		}
	}()
	return ln.Addr().String()
}

func TestPoolFillsToCapacity(t *testing.T) {
	addr := tcpEchoServer(t)
	pool := comm.NewPool(3, time.Second, comm.TCPMaker(addr, time.Second))
	for i := 0; i < 3; i++ {
		_, err := pool.Get()
		require.NoError(t, err)
	}
	assert.Equal(t, 3, pool.Active())
	assert.Equal(t, 3, pool.Size())
}

func TestPoolReusesReturnedConnections(t *testing.T) {
	addr := tcpEchoServer(t)
	made := 0
	maker := func() (io.ReadWriteCloser, error) {
		made++
		return net.Dial("tcp", addr)
	}
	pool := comm.NewPool(2, time.Second, maker)
	for i := 0; i < 5; i++ {
		conn, err := pool.Get()
		require.NoError(t, err)
		pool.Put(conn)
	}
	assert.Equal(t, 1, made)
	assert.Equal(t, 0, pool.Active())
	assert.Equal(t, 1, pool.Size())
}

func TestPoolGetBlocksUntilPut(t *testing.T) {
	addr := tcpEchoServer(t)
	pool := comm.NewPool(1, time.Second, comm.TCPMaker(addr, time.Second))
	first, err := pool.Get()
	require.NoError(t, err)

	got := make(chan io.ReadWriter)
	go func() {
		c, _ := pool.Get()
		got <- c
	}()
	select {
	case <-got:
		t.Fatal("Get returned while the only connection was leased")
	case <-time.After(50 * time.Millisecond):
	}
	pool.Put(first)
	select {
	case c := <-got:
		assert.Equal(t, first, c)
	case <-time.After(time.Second):
		t.Fatal("Get did not return after Put")
	}
}

func TestPoolGetRedialsAfterDestroy(t *testing.T) {
	addr := tcpEchoServer(t)
	pool := comm.NewPool(1, time.Second, comm.TCPMaker(addr, time.Second))
	first, err := pool.Get()
	require.NoError(t, err)

	got := make(chan error)
	go func() {
		c, err := pool.Get()
		if err == nil {
			pool.Put(c)
		}
		got <- err
	}()
	time.Sleep(50 * time.Millisecond)
	pool.ReturnWithError(first, io.ErrUnexpectedEOF)
	select {
	case err := <-got:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Get stayed blocked after the only connection was destroyed")
	}
	assert.Equal(t, 1, pool.Size())
}

func TestReturnWithErrorDestroys(t *testing.T) {
	addr := tcpEchoServer(t)
	pool := comm.NewPool(2, time.Second, comm.TCPMaker(addr, time.Second))
	conn, err := pool.Get()
	require.NoError(t, err)
	pool.ReturnWithError(conn, io.ErrUnexpectedEOF)
	assert.Equal(t, 0, pool.Size())

	conn, err = pool.Get()
	require.NoError(t, err)
	pool.ReturnWithError(conn, nil)
	assert.Equal(t, 1, pool.Size())
}

func TestPoolReclaimsIdleConnections(t *testing.T) {
	addr := tcpEchoServer(t)
	pool := comm.NewPool(2, 20*time.Millisecond, comm.TCPMaker(addr, time.Second))
	conn, err := pool.Get()
	require.NoError(t, err)
	pool.Put(conn)
	assert.Eventually(t, func() bool { return pool.Size() == 0 }, time.Second, 5*time.Millisecond)
}

func TestTCPMakerRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	_, err = comm.TCPMaker(addr, 100*time.Millisecond)()
	assert.Error(t, err)
}

func TestSerialMakerNeedsConfig(t *testing.T) {
	_, err := comm.SerialMaker(nil)()
	assert.ErrorIs(t, err, comm.ErrNoSerialConf)
}

func TestTerminatorRoundTrip(t *testing.T) {
	addr := tcpEchoServer(t)
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	rw := comm.NewTerminator(comm.NewTimeout(conn, time.Second), "\r\n", '\n')
	n, err := io.WriteString(rw, "SOUR2:VOLT?")
	require.NoError(t, err)
	assert.Equal(t, len("SOUR2:VOLT?"), n)

	msg, err := rw.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "SOUR2:VOLT?", string(msg))
}

func TestTerminatorMissing(t *testing.T) {
	rw := comm.NewTerminator(struct {
		io.Reader
		io.Writer
	}{strings.NewReader("no newline here"), io.Discard}, "\n", '\n')
	_, err := rw.ReadMessage()
	assert.ErrorIs(t, err, comm.ErrTerminatorNotFound)
}

func TestTimeoutExpires(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			bufio.NewReader(c).ReadString('\x00') // never answers
		}
	}()
	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	rw := comm.NewTimeout(conn, 20*time.Millisecond)
	_, err = rw.Read(make([]byte, 8))
	var nerr net.Error
	require.ErrorAs(t, err, &nerr)
	assert.True(t, nerr.Timeout())
}

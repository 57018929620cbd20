package sip2

import (
	"bufio"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libbridge/sip2go/common"
)

// mockLMS is a minimal SIP2 endpoint: it reads \r-terminated frames and hands
// each to the handler along with the raw connection.
type mockLMS struct {
	t       *testing.T
	ln      net.Listener
	accepts int
	mu      sync.Mutex
}

func startMockLMS(t *testing.T, handle func(conn net.Conn, req string)) *mockLMS {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	m := &mockLMS{t: t, ln: ln}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			m.mu.Lock()
			m.accepts++
			m.mu.Unlock()
			go func(c net.Conn) {
				defer c.Close()
				reader := bufio.NewReader(c)
				for {
					req, err := reader.ReadString('\r')
					if err != nil {
						return
					}
					handle(c, req)
				}
			}(conn)
		}
	}()
	return m
}

func (m *mockLMS) hostPort() (string, int) {
	addr := m.ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func (m *mockLMS) acceptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accepts
}

func newTestClient(t *testing.T, m *mockLMS, mutate func(*ClientConfig)) *Client {
	t.Helper()
	host, port := m.hostPort()
	cfg := ClientConfig{
		Host:        host,
		Port:        port,
		Timeout:     2 * time.Second,
		Institution: "MAIN",
		Logger:      common.NopLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c := NewClient(cfg)
	t.Cleanup(c.Disconnect)
	return c
}

func patronStatusBody(barcode string) string {
	return "24" + patronStatusHeader + "AOMAIN|AA" + barcode + "|AETest Patron|BLY|"
}

func reply(t *testing.T, conn net.Conn, body string, seq int) {
	t.Helper()
	f, err := AppendTrailer(body, seq)
	require.NoError(t, err)
	_, err = conn.Write([]byte(f))
	require.NoError(t, err)
}

func TestClientRoundTrip(t *testing.T) {
	lms := startMockLMS(t, func(conn net.Conn, req string) {
		reply(t, conn, patronStatusBody("P1"), extractSeq(req))
	})
	c := newTestClient(t, lms, nil)

	r, err := c.PatronStatus("P1", "")
	require.NoError(t, err)
	assert.Equal(t, "P1", r.PatronBarcode)
	assert.True(t, r.ValidPatron)
	assert.Equal(t, 0, c.PendingCount())
}

func TestClientFragmentedDelivery(t *testing.T) {
	lms := startMockLMS(t, func(conn net.Conn, req string) {
		f, err := AppendTrailer(patronStatusBody("FRAG1"), extractSeq(req))
		require.NoError(t, err)
		for _, piece := range []string{f[:7], f[7:20], f[20:]} {
			_, _ = conn.Write([]byte(piece))
			time.Sleep(10 * time.Millisecond)
		}
	})
	c := newTestClient(t, lms, nil)

	r, err := c.PatronStatus("FRAG1", "")
	require.NoError(t, err)
	assert.Equal(t, "FRAG1", r.PatronBarcode)
}

func TestClientPipelinedDelivery(t *testing.T) {
	var mu sync.Mutex
	var seqs []int
	var bodies []string
	var conn0 net.Conn
	lms := startMockLMS(t, func(conn net.Conn, req string) {
		mu.Lock()
		defer mu.Unlock()
		seqs = append(seqs, extractSeq(req))
		item := "I-B"
		if strings.Contains(req, "ABI-A") {
			item = "I-A"
		}
		bodies = append(bodies, "1803000220240315    093045AB"+item+"|")
		conn0 = conn
		if len(seqs) == 2 {
			// Two responses concatenated into a single write, each echoing the
			// item of the request that carried its sequence number.
			f1, _ := AppendTrailer(bodies[0], seqs[0])
			f2, _ := AppendTrailer(bodies[1], seqs[1])
			_, _ = conn0.Write([]byte(f1 + f2))
		}
	})
	c := newTestClient(t, lms, nil)
	require.NoError(t, c.Connect())

	fa, err := BuildItemInformation("MAIN", "I-A", 0)
	require.NoError(t, err)
	fb, err := BuildItemInformation("MAIN", "I-B", 1)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]string, 2)
	errs := make([]error, 2)
	wg.Add(2)
	go func() { defer wg.Done(); results[0], errs[0] = c.SendRaw(fa, 0) }()
	go func() { defer wg.Done(); results[1], errs[1] = c.SendRaw(fb, 1) }()
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 0, extractSeq(results[0]))
	assert.Equal(t, 1, extractSeq(results[1]))
	assert.Contains(t, results[0], "ABI-A")
	assert.Contains(t, results[1], "ABI-B")
}

func TestClientRequestTimeout(t *testing.T) {
	lms := startMockLMS(t, func(net.Conn, string) {
		// Never answer.
	})
	c := newTestClient(t, lms, func(cfg *ClientConfig) { cfg.Timeout = 200 * time.Millisecond })

	start := time.Now()
	_, err := c.PatronStatus("P1", "")
	elapsed := time.Since(start)

	require.True(t, errors.Is(err, ErrRequestTimeout), "err = %v", err)
	assert.Greater(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 400*time.Millisecond)
	// The socket is destroyed so the next call starts fresh.
	assert.False(t, c.Connected())
	assert.Equal(t, 0, c.PendingCount())
}

func TestClientConnectTimeout(t *testing.T) {
	// 198.51.100.0/24 is TEST-NET-2: packets go nowhere, so the dial hangs
	// until the timeout.
	c := NewClient(ClientConfig{
		Host:    "198.51.100.1",
		Port:    6001,
		Timeout: 150 * time.Millisecond,
	})
	err := c.Connect()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnectTimeout), "err = %v", err)
}

func corruptChecksum(f string) string {
	trimmed := strings.TrimSuffix(f, "\r")
	return trimmed[:len(trimmed)-4] + "0000" + "\r"
}

func TestClientChecksumRequiredRejects(t *testing.T) {
	lms := startMockLMS(t, func(conn net.Conn, req string) {
		f, _ := AppendTrailer(patronStatusBody("P1"), extractSeq(req))
		_, _ = conn.Write([]byte(corruptChecksum(f)))
	})

	var mu sync.Mutex
	var events []string
	c := newTestClient(t, lms, func(cfg *ClientConfig) {
		cfg.ChecksumRequired = true
		cfg.Dashboard = func(level, message string, _ map[string]interface{}) {
			mu.Lock()
			events = append(events, level+":"+message)
			mu.Unlock()
		}
	})

	_, err := c.PatronStatus("P1", "")
	require.True(t, errors.Is(err, ErrChecksumMismatch), "err = %v", err)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, events, "error:SIP2 checksum verification failed")
}

func TestClientChecksumTolerated(t *testing.T) {
	lms := startMockLMS(t, func(conn net.Conn, req string) {
		f, _ := AppendTrailer(patronStatusBody("P1"), extractSeq(req))
		_, _ = conn.Write([]byte(corruptChecksum(f)))
	})

	var mu sync.Mutex
	var warns int
	c := newTestClient(t, lms, func(cfg *ClientConfig) {
		cfg.ChecksumRequired = false
		cfg.Dashboard = func(level, message string, _ map[string]interface{}) {
			if level == "warn" {
				mu.Lock()
				warns++
				mu.Unlock()
			}
		}
	})

	r, err := c.PatronStatus("P1", "")
	require.NoError(t, err)
	assert.Equal(t, "P1", r.PatronBarcode)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, warns)
}

func TestClientLegacyResponseWithoutTrailer(t *testing.T) {
	lms := startMockLMS(t, func(conn net.Conn, _ string) {
		_, _ = conn.Write([]byte(patronStatusBody("LEGACY") + "\r"))
	})
	c := newTestClient(t, lms, nil)

	r, err := c.PatronStatus("LEGACY", "")
	require.NoError(t, err)
	assert.Equal(t, "LEGACY", r.PatronBarcode)
	assert.Equal(t, -1, r.SequenceNumber)
}

func TestClientSequenceAllocation(t *testing.T) {
	c := NewClient(ClientConfig{Host: "127.0.0.1", Port: 1})
	for want := 0; want < 10; want++ {
		got, err := c.AllocateSeq()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// With all ten sequence numbers outstanding the client is at capacity.
	c.mu.Lock()
	for i := 0; i < 10; i++ {
		c.pending[i] = &pendingRequest{done: make(chan pendingResult, 1)}
	}
	c.mu.Unlock()
	_, err := c.AllocateSeq()
	assert.True(t, errors.Is(err, ErrClientAtCapacity), "err = %v", err)
}

func TestClientSequenceInUse(t *testing.T) {
	lms := startMockLMS(t, func(net.Conn, string) {})
	c := newTestClient(t, lms, nil)
	require.NoError(t, c.Connect())

	c.mu.Lock()
	c.pending[4] = &pendingRequest{done: make(chan pendingResult, 1)}
	c.mu.Unlock()

	f, err := BuildSCStatus(4)
	require.NoError(t, err)
	_, err = c.SendRaw(f, 4)
	assert.True(t, errors.Is(err, ErrSequenceInUse), "err = %v", err)
}

func TestClientConnectIsIdempotent(t *testing.T) {
	lms := startMockLMS(t, func(net.Conn, string) {})
	c := newTestClient(t, lms, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Connect())
		}()
	}
	wg.Wait()
	assert.True(t, c.Connected())
	// Give the accept loop a beat, then confirm a single connection.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, lms.acceptCount())
}

func TestClientDisconnectRejectsPending(t *testing.T) {
	release := make(chan struct{})
	lms := startMockLMS(t, func(conn net.Conn, req string) {
		<-release
	})
	c := newTestClient(t, lms, nil)

	done := make(chan error, 1)
	go func() {
		_, err := c.PatronStatus("P1", "")
		done <- err
	}()

	// Wait for the request to be in flight, then kill the socket.
	require.Eventually(t, func() bool { return c.PendingCount() == 1 }, time.Second, 5*time.Millisecond)
	c.Disconnect()
	close(release)

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNotConnected), "err = %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("pending request not rejected after disconnect")
	}
	assert.Equal(t, 0, c.PendingCount())
}

func TestClientBlockPatronFireAndForget(t *testing.T) {
	var mu sync.Mutex
	var got string
	lms := startMockLMS(t, func(_ net.Conn, req string) {
		mu.Lock()
		got = req
		mu.Unlock()
	})
	c := newTestClient(t, lms, nil)

	require.NoError(t, c.BlockPatron("P1", true, "card retained"))
	assert.Equal(t, 0, c.PendingCount())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return strings.HasPrefix(got, "01Y")
	}, time.Second, 5*time.Millisecond)
}

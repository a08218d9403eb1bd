//go:build linux || darwin

package main

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (x *syncBuffer) Write(p []byte) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.buf.Write(p)
}

func (x *syncBuffer) String() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.buf.String()
}

type harness struct {
	addr string
	logs *syncBuffer
}

func startServer(t *testing.T, extra ...string) *harness {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, `index.html`), []byte(`<h1>hello</h1>`), 0o644))

	var (
		logs        = new(syncBuffer)
		ready       = make(chan *server, 1)
		exit        = make(chan int, 1)
		ctx, cancel = context.WithCancel(context.Background())
		args        = append([]string{
			`-listen`, `127.0.0.1:0`,
			`-root`, root,
			`-workers`, `2`,
			`-stats-interval`, `50ms`,
			`-log-level`, `debug`,
		}, extra...)
	)
	go func() { exit <- run(ctx, args, io.Discard, logs, ready) }()

	var s *server
	select {
	case s = <-ready:
	case code := <-exit:
		cancel()
		t.Fatalf("exited with %d: %s", code, logs.String())
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal(`timed out waiting for the server`)
	}

	t.Cleanup(func() {
		cancel()
		select {
		case code := <-exit:
			assert.Equal(t, 0, code, logs.String())
		case <-time.After(10 * time.Second):
			t.Error(`timed out waiting for shutdown`)
		}
	})

	return &harness{addr: s.Addr().String(), logs: logs}
}

func (h *harness) dial(t *testing.T) net.Conn {
	t.Helper()
	c, err := net.DialTimeout(`tcp`, h.addr, 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.SetDeadline(time.Now().Add(5*time.Second)))
	return c
}

func readResponse(t *testing.T, r *bufio.Reader, method string) (*http.Response, string) {
	t.Helper()
	res, err := http.ReadResponse(r, &http.Request{Method: method})
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.NoError(t, res.Body.Close())
	return res, string(body)
}

func TestServer_httpClient(t *testing.T) {
	h := startServer(t)
	client := &http.Client{Timeout: 5 * time.Second}
	defer client.CloseIdleConnections()

	res, err := client.Get(`http://` + h.addr + `/`)
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.NoError(t, res.Body.Close())
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, `<h1>hello</h1>`, string(body))
	assert.Equal(t, `text/html; charset=utf-8`, res.Header.Get(`Content-Type`))

	res, err = client.Get(`http://` + h.addr + `/missing.txt`)
	require.NoError(t, err)
	_ = res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, err = client.Post(`http://`+h.addr+`/form`, `text/plain`, strings.NewReader(`payload`))
	require.NoError(t, err)
	body, err = io.ReadAll(res.Body)
	require.NoError(t, err)
	_ = res.Body.Close()
	assert.Equal(t, `I have recv this!`, string(body))

	require.Eventually(t, func() bool {
		return strings.Contains(h.logs.String(), `"msg":"stats"`)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestServer_keepAlivePipelined(t *testing.T) {
	h := startServer(t)
	c := h.dial(t)

	_, err := c.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n" +
		"HEAD / HTTP/1.1\r\nHost: x\r\n\r\n" +
		"GET /nope HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)

	r := bufio.NewReader(c)
	res, body := readResponse(t, r, http.MethodGet)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, `<h1>hello</h1>`, body)
	assert.Equal(t, `keep-alive`, res.Header.Get(`Connection`))

	res, body = readResponse(t, r, http.MethodHead)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, int64(len(`<h1>hello</h1>`)), res.ContentLength)
	assert.Empty(t, body)

	res, _ = readResponse(t, r, http.MethodGet)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.True(t, res.Close)

	_, err = r.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
}

func TestServer_splitRequest(t *testing.T) {
	h := startServer(t)
	c := h.dial(t)

	_, err := c.Write([]byte("GET / HTTP/1.0\r\nHo"))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = c.Write([]byte("st: x\r\n\r\n"))
	require.NoError(t, err)

	res, body := readResponse(t, bufio.NewReader(c), http.MethodGet)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, `<h1>hello</h1>`, body)
	assert.True(t, res.Close)
}

func TestServer_halfClose(t *testing.T) {
	h := startServer(t)
	c := h.dial(t)

	_, err := c.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)
	require.NoError(t, c.(*net.TCPConn).CloseWrite())

	r := bufio.NewReader(c)
	res, body := readResponse(t, r, http.MethodGet)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, `<h1>hello</h1>`, body)
	_, err = r.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
}

func TestServer_malformedRequest(t *testing.T) {
	h := startServer(t)
	c := h.dial(t)

	_, err := c.Write([]byte("BROKEN\r\n\r\n"))
	require.NoError(t, err)

	r := bufio.NewReader(c)
	res, _ := readResponse(t, r, http.MethodGet)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	_, err = r.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
}

func TestServer_idleTimeout(t *testing.T) {
	h := startServer(t, `-idle-timeout`, `100ms`)
	c := h.dial(t)

	start := time.Now()
	_, err := c.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestRun_flags(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, run(context.Background(), []string{`-v`}, &stdout, &stderr, nil))
	assert.Contains(t, stdout.String(), `reactord`)

	assert.Equal(t, 2, run(context.Background(), []string{`-nope`}, &stdout, &stderr, nil))
	assert.Equal(t, 2, run(context.Background(), []string{`-workers`, `0`}, &stdout, &stderr, nil))
}

func TestRun_listenFailure(t *testing.T) {
	l, err := net.Listen(`tcp4`, `127.0.0.1:0`)
	require.NoError(t, err)
	defer l.Close()

	var stderr syncBuffer
	assert.Equal(t, 1, run(context.Background(), []string{`-listen`, l.Addr().String()}, io.Discard, &stderr, nil))
	assert.Contains(t, stderr.String(), `failed to start`)
}

package httpconn

import (
	"bytes"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, raw string) *Request {
	t.Helper()
	req := new(Request)
	_, complete, err := req.Append([]byte(raw))
	require.NoError(t, err)
	require.True(t, complete)
	return req
}

func render(res *Response) string {
	return string(bytes.Join(res.Buffers(), nil))
}

func TestResponse_buffers(t *testing.T) {
	res := &Response{
		Header:           [][2]string{{`Content-Type`, `text/plain`}},
		Body:             []byte(`hi`),
		KeepAlive:        true,
		KeepAliveTimeout: 30 * time.Second,
	}
	bufs := res.Buffers()
	require.Len(t, bufs, 2)
	assert.Equal(t, "HTTP/1.1 200 OK\r\n"+
		"Connection: keep-alive\r\n"+
		"Keep-Alive: timeout=30\r\n"+
		"Content-Type: text/plain\r\n"+
		"Content-Length: 2\r\n\r\n", string(bufs[0]))
	assert.Equal(t, `hi`, string(bufs[1]))

	res.OmitBody = true
	res.KeepAlive = false
	assert.Equal(t, "HTTP/1.1 200 OK\r\nConnection: close\r\nContent-Type: text/plain\r\nContent-Length: 2\r\n\r\n", render(res))
}

func TestErrorResponse(t *testing.T) {
	out := render(ErrorResponse(http.StatusNotFound))
	assert.Contains(t, out, "HTTP/1.1 404 Not Found\r\nConnection: close\r\n")
	assert.Contains(t, out, `<h1>404 Not Found</h1>`)
}

func TestFileHandler(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, `index.html`), []byte(`<p>home</p>`), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, `sub`), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, `sub`, `data.txt`), []byte(`data`), 0o644))

	h := &FileHandler{Root: root, KeepAliveTimeout: 5 * time.Second}

	res := h.Serve(parse(t, "GET / HTTP/1.1\r\n\r\n"))
	assert.Equal(t, `<p>home</p>`, string(res.Body))
	assert.True(t, res.KeepAlive)
	assert.Contains(t, render(res), "Content-Type: text/html; charset=utf-8\r\n")
	assert.Contains(t, render(res), "Keep-Alive: timeout=5\r\n")

	res = h.Serve(parse(t, "GET /sub HTTP/1.0\r\n\r\n"))
	assert.Equal(t, http.StatusNotFound, res.Status)

	res = h.Serve(parse(t, "GET /sub/data.txt?q HTTP/1.0\r\n\r\n"))
	assert.Equal(t, `data`, string(res.Body))
	assert.False(t, res.KeepAlive)

	res = h.Serve(parse(t, "HEAD /sub/data.txt HTTP/1.1\r\n\r\n"))
	assert.Nil(t, res.Body)
	assert.Contains(t, render(res), "Content-Length: 4\r\n\r\n")
	assert.Len(t, res.Buffers(), 1)

	// cannot escape the root
	res = h.Serve(parse(t, "GET /../../../etc/passwd HTTP/1.1\r\n\r\n"))
	assert.Equal(t, http.StatusNotFound, res.Status)
	assert.False(t, res.KeepAlive)

	res = h.Serve(parse(t, "POST /form HTTP/1.1\r\nContent-Length: 3\r\n\r\nabc"))
	assert.Equal(t, postReply, string(res.Body))
	assert.True(t, res.KeepAlive)

	res = h.Serve(parse(t, "DELETE / HTTP/1.1\r\n\r\n"))
	assert.Equal(t, http.StatusNotImplemented, res.Status)
}

package httpconn

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Response is a minimal HTTP/1.1 response.
type Response struct {
	Header [][2]string
	Body   []byte
	// ContentLength overrides len(Body), if positive, e.g. for HEAD.
	ContentLength int64
	// KeepAliveTimeout is advertised if KeepAlive is set, and positive.
	KeepAliveTimeout time.Duration
	Status           int
	KeepAlive        bool
	// OmitBody renders headers only, e.g. for HEAD.
	OmitBody bool
}

// Buffers renders x, returning the buffers for a gathered write. The body
// is not copied.
func (x *Response) Buffers() [][]byte {
	var b strings.Builder
	b.Grow(128)

	status := x.Status
	if status == 0 {
		status = http.StatusOK
	}
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	if x.KeepAlive {
		b.WriteString("Connection: keep-alive\r\n")
		if secs := int64(x.KeepAliveTimeout / time.Second); secs > 0 {
			b.WriteString("Keep-Alive: timeout=" + strconv.FormatInt(secs, 10) + "\r\n")
		}
	} else {
		b.WriteString("Connection: close\r\n")
	}
	for _, kv := range x.Header {
		b.WriteString(kv[0] + ": " + kv[1] + "\r\n")
	}
	length := int64(len(x.Body))
	if x.ContentLength > 0 {
		length = x.ContentLength
	}
	b.WriteString("Content-Length: " + strconv.FormatInt(length, 10) + "\r\n\r\n")

	bufs := [][]byte{[]byte(b.String())}
	if !x.OmitBody && len(x.Body) != 0 {
		bufs = append(bufs, x.Body)
	}
	return bufs
}

// ErrorResponse renders a short HTML error page. Error responses always
// close the connection.
func ErrorResponse(status int) *Response {
	text := strconv.Itoa(status) + ` ` + http.StatusText(status)
	return &Response{
		Status: status,
		Header: [][2]string{{`Content-Type`, `text/html; charset=utf-8`}},
		Body: []byte(`<html><head><title>Error</title></head><body><h1>` + text +
			`</h1><hr><em>reactord</em></body></html>`),
	}
}

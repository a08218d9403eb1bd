package httpconn

import (
	"errors"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// postReply is the fixed body for POST requests.
const postReply = `I have recv this!`

// FileHandler serves static files from Root, and acknowledges POSTs.
type FileHandler struct {
	Root string
	// KeepAliveTimeout is advertised on keep-alive responses.
	KeepAliveTimeout time.Duration
}

// Serve builds the response for req. It performs blocking file I/O, and is
// intended to be run off the reactor loop.
func (x *FileHandler) Serve(req *Request) *Response {
	var res *Response
	switch req.Method {
	case http.MethodGet, http.MethodHead:
		res = x.serveFile(req)
	case http.MethodPost:
		res = &Response{
			Header: [][2]string{{`Content-Type`, `text/plain`}},
			Body:   []byte(postReply),
		}
	default:
		res = ErrorResponse(http.StatusNotImplemented)
	}
	if res.Status == 0 || res.Status < http.StatusBadRequest {
		res.KeepAlive = req.KeepAlive()
		res.KeepAliveTimeout = x.KeepAliveTimeout
	}
	res.OmitBody = req.Method == http.MethodHead
	return res
}

func (x *FileHandler) serveFile(req *Request) *Response {
	name := path.Clean(`/` + req.Path())
	if strings.HasSuffix(req.Path(), `/`) {
		name = path.Join(name, `index.html`)
	}
	file := filepath.Join(x.Root, filepath.FromSlash(name))

	info, err := os.Stat(file)
	if err == nil && info.IsDir() {
		file = filepath.Join(file, `index.html`)
		info, err = os.Stat(file)
	}
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrorResponse(http.StatusNotFound)
		}
		return ErrorResponse(http.StatusForbidden)
	}

	res := &Response{
		Header:        [][2]string{{`Content-Type`, contentType(file)}},
		ContentLength: info.Size(),
	}
	if req.Method == http.MethodGet {
		if res.Body, err = os.ReadFile(file); err != nil {
			return ErrorResponse(http.StatusInternalServerError)
		}
	}
	return res
}

func contentType(file string) string {
	if t := mime.TypeByExtension(filepath.Ext(file)); t != `` {
		return t
	}
	return `text/plain; charset=utf-8`
}

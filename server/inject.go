package server

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"
)

// maxInjectSize bounds how much of an HTML response is buffered looking for
// </body>; larger pages are served untouched.
const maxInjectSize = 512 * 1024

var scriptTag = []byte(`<script async src="` + ClientScriptPath + `"></script>`)

// injectScript adds the reload client to HTML pages.
func injectScript(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.Path
		isHTMLPage := p == "" || strings.HasSuffix(p, "/") || strings.HasSuffix(p, ".html") || strings.HasSuffix(p, ".htm")
		if !isHTMLPage || (r.Method != http.MethodGet && r.Method != http.MethodHead) {
			next.ServeHTTP(w, r)
			return
		}

		// Cached copies may predate the script, so always serve fresh.
		r.Header.Del("If-Modified-Since")
		r.Header.Del("If-None-Match")
		w.Header().Set("Cache-Control", "no-cache")

		// HEAD is answered from the page GET would serve, so that its
		// Content-Length counts the script.
		injector := &injector{ResponseWriter: w, status: http.StatusOK, head: r.Method == http.MethodHead}
		if injector.head {
			r = r.Clone(r.Context())
			r.Method = http.MethodGet
		}
		next.ServeHTTP(injector, r)
		injector.finalize()
	})
}

// injector buffers an HTML response so the client script can be inserted
// before </body>. It falls back to passthrough for non-HTML content and for
// responses over maxInjectSize.
type injector struct {
	http.ResponseWriter
	status        int
	head          bool
	buf           bytes.Buffer
	decided       bool
	passthrough   bool
	headerWritten bool
}

func (in *injector) WriteHeader(code int) {
	in.status = code
	if in.passthrough {
		in.ResponseWriter.WriteHeader(code)
		in.headerWritten = true
	}
}

func (in *injector) Write(data []byte) (int, error) {
	if !in.decided {
		in.decided = true
		ct := in.Header().Get("Content-Type")
		if in.status != http.StatusOK || (ct != "" && !strings.Contains(ct, "text/html")) {
			in.startPassthrough()
		}
	}
	if in.passthrough {
		return in.ResponseWriter.Write(data)
	}

	if in.buf.Len()+len(data) > maxInjectSize {
		in.startPassthrough()
		if in.buf.Len() > 0 {
			if _, err := in.ResponseWriter.Write(in.buf.Bytes()); err != nil {
				return 0, err
			}
			in.buf.Reset()
		}
		return in.ResponseWriter.Write(data)
	}
	return in.buf.Write(data)
}

func (in *injector) startPassthrough() {
	in.passthrough = true
	if !in.headerWritten {
		in.Header().Del("Content-Length")
		in.ResponseWriter.WriteHeader(in.status)
		in.headerWritten = true
	}
}

func (in *injector) finalize() {
	if in.passthrough {
		return
	}
	if in.headerWritten {
		return
	}
	if !in.decided {
		in.ResponseWriter.WriteHeader(in.status)
		return
	}

	body := in.buf.Bytes()
	if i := bytes.LastIndex(body, []byte("</body>")); i >= 0 {
		body = append(append(append([]byte{}, body[:i]...), scriptTag...), body[i:]...)
	}
	in.Header().Set("Content-Length", strconv.Itoa(len(body)))
	in.ResponseWriter.WriteHeader(in.status)
	if !in.head {
		in.ResponseWriter.Write(body)
	}
}

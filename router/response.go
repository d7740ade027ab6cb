package router

import (
	"bufio"
	"io"
	"net/http"
	"strconv"

	"github.com/gobwas/pool/pbufio"
)

const (
	crlf        = "\r\n"
	colonSpace  = ": "
	contentType = "text/html; charset=UTF-8"
)

// writeResponse writes a complete HTTP/1.1 response. Every response closes
// the connection; 204 responses carry no body and no entity headers.
func writeResponse(w io.Writer, resp response) error {
	bw := pbufio.GetWriter(w, 4096)
	defer pbufio.PutWriter(bw)

	bw.WriteString("HTTP/1.1 ")
	bw.WriteString(strconv.Itoa(resp.status))
	bw.WriteByte(' ')
	bw.WriteString(http.StatusText(resp.status))
	bw.WriteString(crlf)

	if resp.status != http.StatusNoContent {
		writeHeader(bw, "Content-Type", contentType)
		writeHeader(bw, "Content-Length", strconv.Itoa(len(resp.body)))
	}
	writeHeader(bw, "Connection", "close")
	bw.WriteString(crlf)

	if resp.status != http.StatusNoContent {
		bw.Write(resp.body)
	}
	return bw.Flush()
}

func writeHeader(bw *bufio.Writer, key, value string) {
	bw.WriteString(key)
	bw.WriteString(colonSpace)
	bw.WriteString(value)
	bw.WriteString(crlf)
}

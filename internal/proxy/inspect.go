package proxy

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// maxDecompressed bounds how much of a tee'd response prefix is decompressed
// for auth-error sniffing, regardless of how much the prefix cap allows —
// a malicious or misconfigured upstream sending a highly compressible body
// shouldn't be able to inflate a bounded prefix into an unbounded read.
const maxDecompressed = 1 << 20 // 1 MiB

// errorCodeRE matches an ArcGIS-style error envelope's numeric code:
// {"error":{"code":498,...}}.
var errorCodeRE = regexp.MustCompile(`"error"\s*:\s*\{[^}]*"code"\s*:\s*(\d+)`)

// authErrorCodes are the error codes that indicate an expired or invalid
// upstream token, warranting exactly one retry with a fresh token (§4.4).
var authErrorCodes = map[int]bool{403: true, 498: true, 499: true}

// decompressPrefix best-effort decompresses a (possibly truncated) response
// prefix according to contentEncoding. A truncated gzip/deflate stream
// yields a read error after some bytes decode successfully; those bytes are
// still returned since the error envelope is usually near the start of the
// body.
func decompressPrefix(prefix []byte, contentEncoding string) []byte {
	var r io.Reader
	switch strings.ToLower(contentEncoding) {
	case "gzip":
		gz, err := gzip.NewReader(bytes.NewReader(prefix))
		if err != nil {
			return prefix
		}
		defer gz.Close()
		r = gz
	case "deflate":
		r = flate.NewReader(bytes.NewReader(prefix))
	default:
		return prefix
	}

	out, _ := io.ReadAll(io.LimitReader(r, maxDecompressed))
	if len(out) == 0 {
		return prefix
	}
	return out
}

// sniffAuthErrorCode inspects a (possibly compressed) response prefix for an
// ArcGIS-style error envelope and returns its numeric code, if any (§4.4).
func sniffAuthErrorCode(prefix []byte, contentEncoding string) (int, bool) {
	body := decompressPrefix(prefix, contentEncoding)
	m := errorCodeRE.FindSubmatch(body)
	if m == nil {
		return 0, false
	}
	code, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return 0, false
	}
	return code, true
}

// isAuthError reports whether code is one of the upstream-token-expired
// codes that warrants a retry.
func isAuthError(code int) bool {
	return authErrorCodes[code]
}

// Package proxy implements the Proxy Forwarder (§4.4): parameter merging,
// host-redirect resolution, upstream dispatch, response inspection with a
// one-shot retry on a detected expired token, and the content-type rewrite
// for legacy OGC WMS XML responses.
package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/arcrelay/arcrelay/internal/broker"
	"github.com/arcrelay/arcrelay/internal/domain"
)

// DefaultBodyCap is the default size of the response-body prefix teed off
// for inspection (§4.4).
const DefaultBodyCap = 64 * 1024

// hopByHopHeaders are stripped from both the inbound request and the
// upstream response — standard reverse-proxy hygiene (RFC 7230 §6.1).
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// Forwarder dispatches matched requests to their upstream Resource,
// injecting credentials and retrying once on a detected auth failure.
type Forwarder struct {
	client  *http.Client
	broker  *broker.Broker
	bodyCap int
}

// New creates a Forwarder. bodyCap <= 0 uses DefaultBodyCap.
func New(client *http.Client, br *broker.Broker, bodyCap int) *Forwarder {
	if bodyCap <= 0 {
		bodyCap = DefaultBodyCap
	}
	return &Forwarder{client: client, broker: br, bodyCap: bodyCap}
}

// Forward builds the upstream request for r, dispatches it, and streams the
// result to w. referrer is the raw Referer header of the inbound request,
// passed through to the Broker for any token acquisition it triggers.
func (f *Forwarder) Forward(ctx context.Context, w http.ResponseWriter, inbound *http.Request, r *domain.Resource, target domain.URLTuple, referrer string) error {
	inspect := r.Credential == domain.CredentialUser || r.Credential == domain.CredentialApp

	// Buffer the inbound body once so a retry can replay it — inbound.Body
	// is a single-use stream and the first dispatch attempt would otherwise
	// drain it before a retry ever got a chance to resend it.
	var bodyBytes []byte
	if inbound.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(inbound.Body)
		if err != nil {
			return domain.BadRequest("could not read request body", err)
		}
	}

	resp, err := f.dispatch(ctx, inbound, bodyBytes, r, target, referrer)
	if err != nil {
		return domain.UpstreamError(http.StatusBadGateway, err.Error())
	}

	if !inspect {
		return f.stream(w, resp)
	}

	prefix, rest, err := peekBody(resp.Body, f.bodyCap)
	if err != nil {
		resp.Body.Close()
		return domain.UpstreamError(http.StatusBadGateway, fmt.Sprintf("read upstream response: %v", err))
	}

	if code, found := sniffAuthErrorCode(prefix, resp.Header.Get("Content-Encoding")); found && isAuthError(code) {
		resp.Body.Close()
		f.broker.Invalidate(r)

		retryResp, retryErr := f.dispatch(ctx, inbound, bodyBytes, r, target, referrer)
		if retryErr != nil {
			return domain.UpstreamError(http.StatusBadGateway, retryErr.Error())
		}
		return f.stream(w, retryResp)
	}

	return f.streamPrefixed(w, resp, prefix, rest)
}

// dispatch builds and issues one upstream request attempt.
func (f *Forwarder) dispatch(ctx context.Context, inbound *http.Request, bodyBytes []byte, r *domain.Resource, target domain.URLTuple, referrer string) (*http.Response, error) {
	upstreamURL, err := BuildUpstreamURL(r, target)
	if err != nil {
		return nil, err
	}

	merged := MergeParams(r.Query, target.Query)
	if err := f.injectCredential(ctx, r, referrer, &merged); err != nil {
		return nil, err
	}
	upstreamURL.RawQuery = EncodeQuery(merged)

	var body io.Reader
	if bodyBytes != nil {
		body = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, inbound.Method, upstreamURL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	copyHeaders(req.Header, inbound.Header)
	req.Host = upstreamURL.Host
	req.ContentLength = int64(len(bodyBytes))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	return resp, nil
}

// injectCredential adds the Resource's static token or, for live-credential
// Resources, a Broker-acquired token, to merged if it doesn't already carry
// a token parameter.
func (f *Forwarder) injectCredential(ctx context.Context, r *domain.Resource, referrer string, merged *[]domain.QueryParam) error {
	paramName := TokenParamName(r)

	switch r.Credential {
	case domain.CredentialStaticToken:
		*merged = InjectToken(*merged, paramName, r.StaticToken)
	case domain.CredentialUser, domain.CredentialApp:
		token, err := f.broker.Token(ctx, r, referrer)
		if err != nil {
			return domain.TokenAcquisitionFailed("forwarder: could not acquire upstream token", err)
		}
		*merged = InjectToken(*merged, paramName, token)
	}
	return nil
}

// stream writes resp's headers (with the content-type rewrite applied) and
// copies its full body to w.
func (f *Forwarder) stream(w http.ResponseWriter, resp *http.Response) error {
	defer resp.Body.Close()
	writeHeaders(w, resp)
	_, err := io.Copy(w, resp.Body)
	return err
}

// streamPrefixed writes resp's headers and the already-read prefix, then
// copies whatever remains of the body.
func (f *Forwarder) streamPrefixed(w http.ResponseWriter, resp *http.Response, prefix []byte, rest io.ReadCloser) error {
	defer rest.Close()
	writeHeaders(w, resp)
	if _, err := w.Write(prefix); err != nil {
		return err
	}
	_, err := io.Copy(w, rest)
	return err
}

func writeHeaders(w http.ResponseWriter, resp *http.Response) {
	dst := w.Header()
	for k, values := range resp.Header {
		if isHopByHop(k) {
			continue
		}
		for _, v := range values {
			if k == "Content-Type" {
				v = RewriteContentType(v)
			}
			dst.Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
}

func copyHeaders(dst, src http.Header) {
	for k, values := range src {
		if isHopByHop(k) || k == "Host" {
			continue
		}
		for _, v := range values {
			dst.Add(k, v)
		}
	}
}

func isHopByHop(header string) bool {
	for _, h := range hopByHopHeaders {
		if h == header {
			return true
		}
	}
	return false
}

// peekBody reads up to cap bytes from body into a prefix, then returns a
// ReadCloser that replays the unread remainder followed by whatever's left
// on body — so the full response is still available to stream even though
// a bounded prefix was teed off for inspection (§4.4).
func peekBody(body io.ReadCloser, prefixCap int) (prefix []byte, rest io.ReadCloser, err error) {
	buf := make([]byte, prefixCap)
	n, readErr := io.ReadFull(body, buf)
	if readErr != nil && readErr != io.ErrUnexpectedEOF && readErr != io.EOF {
		body.Close()
		return nil, nil, readErr
	}
	prefix = buf[:n]
	rest = readCloser{Reader: body, Closer: body}
	return prefix, rest, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

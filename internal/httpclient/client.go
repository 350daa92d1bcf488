// Package httpclient performs single HTTP exchanges for realized request
// specs over a shared pooled transport.
package httpclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/studiowebux/flux/internal/types"
)

const (
	TCPDialTimeout        = 5 * time.Second
	TCPKeepAliveInterval  = 30 * time.Second
	TLSHandshakeTimeout   = 5 * time.Second
	IdleConnTimeout       = 90 * time.Second
	ExpectContinueTimeout = 1 * time.Second

	// DefaultRequestTimeout bounds one full HTTP exchange end-to-end
	DefaultRequestTimeout = 30 * time.Second

	// minIdlePerHost keeps the pool useful at low worker counts
	minIdlePerHost = 64
)

// Options configures the shared transport
type Options struct {
	Concurrency    int
	RequestTimeout time.Duration
	Insecure       bool

	// DisableHTTP2 forces one connection per in-flight request instead of
	// stream multiplexing. Used by sync mode so each worker thread owns a
	// blocking connection.
	DisableHTTP2 bool
}

// Client wraps a pooled http.Client and classifies transport failures
type Client struct {
	http    *http.Client
	timeout time.Duration
	logger  *zap.Logger
}

// New builds a client whose connection pool scales with worker concurrency
func New(logger *zap.Logger, opts Options) *Client {
	idle := opts.Concurrency
	if idle < minIdlePerHost {
		idle = minIdlePerHost
	}

	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	transport := &http.Transport{
		MaxIdleConns:        idle * 2,
		MaxIdleConnsPerHost: idle,
		IdleConnTimeout:     IdleConnTimeout,
		DisableKeepAlives:   false,
		ForceAttemptHTTP2:   !opts.DisableHTTP2,

		DialContext: (&net.Dialer{
			Timeout:   TCPDialTimeout,
			KeepAlive: TCPKeepAliveInterval,
		}).DialContext,

		TLSHandshakeTimeout:   TLSHandshakeTimeout,
		ExpectContinueTimeout: ExpectContinueTimeout,
	}

	if opts.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		// The per-request deadline is carried by the request context so it
		// composes with run cancellation; the client itself has no timeout.
		http:    &http.Client{Transport: transport},
		timeout: timeout,
		logger:  logger,
	}
}

// Timeout returns the per-request wall-clock timeout
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Close releases pooled connections
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// Do performs one HTTP exchange. A received response, whatever its status,
// is returned as *types.Response; failures before or during the exchange are
// returned as *types.TransportError.
func (c *Client) Do(ctx context.Context, req *types.Request) (*types.Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var bodyReader io.Reader
	contentType := ""

	if len(req.Parts) > 0 {
		if req.Body != "" {
			c.logger.Warn("request has both multipart parts and a raw body, ignoring raw body",
				zap.String("url", req.URL))
		}
		pr, ct, err := multipartBody(req.Parts)
		if err != nil {
			return nil, &types.TransportError{Kind: types.ErrKindIO, Err: err}
		}
		bodyReader = pr
		contentType = ct
	} else if req.Body != "" {
		bodyReader = strings.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, req.Method, req.URL, bodyReader)
	if err != nil {
		return nil, &types.TransportError{Kind: types.ErrKindIO, Err: err}
	}

	for _, h := range req.Headers {
		if contentType != "" && strings.EqualFold(h.Name, "Content-Type") {
			c.logger.Warn("user Content-Type ignored for multipart request",
				zap.String("url", req.URL),
				zap.String("ignored", h.Value))
			continue
		}
		httpReq.Header.Set(h.Name, h.Value)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &types.TransportError{Kind: Classify(err), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		kind := types.ErrKindBodyRead
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			kind = types.ErrKindTransportTimeout
		}
		return nil, &types.TransportError{Kind: kind, Err: err}
	}

	headers := make(map[string]string)
	for key, values := range resp.Header {
		headers[key] = strings.Join(values, ", ")
	}

	return &types.Response{
		Status:        resp.StatusCode,
		Headers:       headers,
		Body:          body,
		BytesReceived: len(body),
	}, nil
}

// multipartBody streams parts through a pipe. File parts are opened up
// front so a missing file fails the request before any bytes are sent; the
// writer goroutine closes every handle on all exit paths.
func multipartBody(parts []types.Part) (io.ReadCloser, string, error) {
	files := make(map[string]*os.File, len(parts))
	for _, p := range parts {
		if !p.IsFile() {
			continue
		}
		f, err := os.Open(p.Path)
		if err != nil {
			for _, opened := range files {
				opened.Close()
			}
			return nil, "", err
		}
		files[p.Path] = f
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		defer func() {
			for _, f := range files {
				f.Close()
			}
		}()

		for _, p := range parts {
			var err error
			if p.IsFile() {
				var fw io.Writer
				fw, err = mw.CreateFormFile(p.Name, filepath.Base(p.Path))
				if err == nil {
					_, err = io.Copy(fw, files[p.Path])
				}
			} else {
				err = mw.WriteField(p.Name, p.Value)
			}
			if err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		pw.CloseWithError(mw.Close())
	}()

	return pr, mw.FormDataContentType(), nil
}

// Classify maps a transport failure to its error kind
func Classify(err error) types.ErrorKind {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return types.ErrKindDNS
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return types.ErrKindTransportTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.ErrKindTransportTimeout
	}

	var verifyErr *tls.CertificateVerificationError
	var recordErr tls.RecordHeaderError
	var authorityErr x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var certErr x509.CertificateInvalidError
	if errors.As(err, &verifyErr) || errors.As(err, &recordErr) ||
		errors.As(err, &authorityErr) || errors.As(err, &hostnameErr) ||
		errors.As(err, &certErr) {
		return types.ErrKindTLS
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return types.ErrKindConnect
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return types.ErrKindConnect
	}

	return types.ErrKindIO
}

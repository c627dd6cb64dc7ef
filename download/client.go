package download

import (
	"net/http"
	"time"

	fhttp "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
	"github.com/pkg/errors"
)

// HTTPClient is the subset of *http.Client used to fetch media streams.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// browserClient adapts a tls-client session to the net/http request and
// response types so callers never see fhttp.
type browserClient struct {
	inner tls_client.HttpClient
}

func (c *browserClient) Do(req *http.Request) (*http.Response, error) {
	fReq := &fhttp.Request{
		Method:        req.Method,
		URL:           req.URL,
		Proto:         req.Proto,
		ProtoMajor:    req.ProtoMajor,
		ProtoMinor:    req.ProtoMinor,
		Header:        make(fhttp.Header, len(req.Header)),
		Body:          req.Body,
		ContentLength: req.ContentLength,
		Host:          req.Host,
	}
	for k, v := range req.Header {
		fReq.Header[k] = v
	}
	fReq = fReq.WithContext(req.Context())

	resp, err := c.inner.Do(fReq)
	if err != nil {
		return nil, err
	}

	out := &http.Response{
		Status:           resp.Status,
		StatusCode:       resp.StatusCode,
		Proto:            resp.Proto,
		ProtoMajor:       resp.ProtoMajor,
		ProtoMinor:       resp.ProtoMinor,
		ContentLength:    resp.ContentLength,
		Body:             resp.Body,
		Header:           make(http.Header, len(resp.Header)),
		Uncompressed:     resp.Uncompressed,
		TransferEncoding: resp.TransferEncoding,
		Request:          req,
	}
	for k, v := range resp.Header {
		out.Header[k] = v
	}
	return out, nil
}

// NewBrowserClient returns an HTTPClient that presents a browser TLS
// fingerprint. timeout bounds a whole media transfer.
func NewBrowserClient(timeout time.Duration) (HTTPClient, error) {
	seconds := int(timeout / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	options := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(seconds),
		tls_client.WithClientProfile(profiles.DefaultClientProfile),
		tls_client.WithRandomTLSExtensionOrder(),
		tls_client.WithCookieJar(tls_client.NewCookieJar()),
	}

	c, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(), options...)
	if err != nil {
		return nil, errors.Wrap(err, "creating tls client")
	}
	return &browserClient{inner: c}, nil
}

// Package http provides a read-only efs.Device backed by HTTP range requests.
package http

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	nethttp "net/http"
	"strconv"
	"strings"

	"github.com/meigma/efs"
)

// ErrReadOnly is returned by WriteAt. It matches fs.ErrPermission.
var ErrReadOnly = fmt.Errorf("http: device is read-only: %w", fs.ErrPermission)

// Device reads an image served over HTTP with range requests.
//
// The remote content is pinned to the ETag, or failing that the
// Last-Modified time, seen when the device was opened. Reads fail once the
// server content changes.
type Device struct {
	url          string
	client       *nethttp.Client
	headers      nethttp.Header
	size         int64
	etag         string
	lastModified string
}

// Option configures a Device.
type Option func(*Device)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(d *Device) {
		d.client = client
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) Option {
	return func(d *Device) {
		if headers == nil {
			return
		}
		d.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(d *Device) {
		if d.headers == nil {
			d.headers = make(nethttp.Header)
		}
		d.headers.Set(key, value)
	}
}

// NewDevice probes url and returns a Device for it. The probe is a one-byte
// range request; its Content-Range gives the size and its validators pin
// the content for later reads.
func NewDevice(url string, opts ...Option) (*Device, error) {
	d := &Device{
		url:    url,
		client: nethttp.DefaultClient,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.client == nil {
		d.client = nethttp.DefaultClient
	}

	resp, err := d.get(0, 0)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", url, err)
	}
	defer drain(resp)

	d.size, err = parseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", url, err)
	}
	d.etag = resp.Header.Get("ETag")
	d.lastModified = resp.Header.Get("Last-Modified")
	return d, nil
}

// IsURL reports whether name should be opened with NewDevice.
func IsURL(name string) bool {
	return strings.HasPrefix(name, "http://") || strings.HasPrefix(name, "https://")
}

// Size returns the size of the remote content.
func (d *Device) Size() int64 {
	return d.size
}

// ReadAt reads len(p) bytes at off with a single range request.
func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if off >= d.size {
		return 0, io.EOF
	}

	want := min(int64(len(p)), d.size-off)
	resp, err := d.get(off, off+want-1)
	if err != nil {
		return 0, err
	}
	defer drain(resp)

	n, err := io.ReadFull(resp.Body, p[:want])
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt always fails with ErrReadOnly.
func (d *Device) WriteAt(p []byte, off int64) (int, error) {
	return 0, ErrReadOnly
}

// get requests bytes [first, last]. Only a 206 response is returned; the
// caller must drain it.
func (d *Device) get(first, last int64) (*nethttp.Response, error) {
	req, err := nethttp.NewRequest(nethttp.MethodGet, d.url, nil)
	if err != nil {
		return nil, err
	}
	for key, values := range d.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}
	if d.etag != "" {
		req.Header.Set("If-Match", d.etag)
	} else if d.lastModified != "" {
		req.Header.Set("If-Unmodified-Since", d.lastModified)
	}
	req.Header.Set("Range", "bytes="+strconv.FormatInt(first, 10)+"-"+strconv.FormatInt(last, 10))

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
		return resp, nil
	case nethttp.StatusRequestedRangeNotSatisfiable:
		err = io.EOF
	case nethttp.StatusOK:
		err = errors.New("range requests not supported")
	case nethttp.StatusPreconditionFailed:
		err = errors.New("remote content changed")
	default:
		err = fmt.Errorf("range request failed: %s", resp.Status)
	}
	drain(resp)
	return nil, err
}

func drain(resp *nethttp.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// parseContentRange returns the complete length from a "bytes a-b/n" value.
func parseContentRange(value string) (int64, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(value), "bytes ")
	if !ok {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	_, total, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	size, err := strconv.ParseInt(total, 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	return size, nil
}

// Interface compliance.
var _ efs.Device = (*Device)(nil)

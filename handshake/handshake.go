// Package handshake performs the one-time GWT-RPC login against kekeke.cc and
// extracts the session credentials from its array-serialized response.
//
// The response layout is undocumented. Fields are located by negative offset
// from the end of the top-level array; string fields are 1-based indexes into
// a string table stored near the end. Everything about that layout lives in
// ExtractCredentials so the rest of the module never depends on it.
package handshake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/tidwall/gjson"
)

const (
	DefaultServiceURL = "https://kekeke.cc/com.liquable.hiroba.gwt.server.GWTHandler/squareService"
	DefaultModuleBase = "https://kekeke.cc/com.liquable.hiroba.square.gwt.SquareModule/"
	DefaultOrigin     = "https://kekeke.cc"
)

var (
	// ErrShortResponse means the response array is too short to hold the credentials.
	ErrShortResponse = errors.New("handshake: response too short")
	// ErrMalformedResponse means the response could not be interpreted.
	ErrMalformedResponse = errors.New("handshake: malformed response")
)

// Credentials are the values the login yields.
type Credentials struct {
	AccessToken string
	PublicID    string
	ColorToken  string
	Kerma       int64
}

// Offsets from the end of the response array.
const (
	offStringTable = -3
	offAccessToken = -7
	offColorToken  = -9
	offKerma       = -13
	offPublicID    = -18

	minResponseLen = -offPublicID
)

// rpcPrefix matches the "//OK" style marker before the JSON array.
var rpcPrefix = regexp.MustCompile(`^//[^\[]+`)

// ExtractCredentials decodes a raw squareService response.
func ExtractCredentials(raw []byte) (Credentials, error) {
	body := rpcPrefix.ReplaceAll(bytes.TrimSpace(raw), nil)
	if !gjson.ValidBytes(body) {
		return Credentials{}, fmt.Errorf("%w: not JSON", ErrMalformedResponse)
	}
	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return Credentials{}, fmt.Errorf("%w: not an array", ErrMalformedResponse)
	}

	arr := root.Array()
	n := len(arr)
	if n < minResponseLen {
		return Credentials{}, fmt.Errorf("%w: %d elements, need %d", ErrShortResponse, n, minResponseLen)
	}
	at := func(off int) gjson.Result { return arr[n+off] }

	table := at(offStringTable)
	if !table.IsArray() {
		return Credentials{}, fmt.Errorf("%w: string table missing", ErrMalformedResponse)
	}
	strs := table.Array()
	lookup := func(name string, off int) (string, error) {
		idx := int(at(off).Int())
		if idx < 1 || idx > len(strs) {
			return "", fmt.Errorf("%w: %s index %d out of range", ErrMalformedResponse, name, idx)
		}
		return strs[idx-1].String(), nil
	}

	var (
		c   Credentials
		err error
	)
	if c.AccessToken, err = lookup("accessToken", offAccessToken); err != nil {
		return Credentials{}, err
	}
	if c.PublicID, err = lookup("publicId", offPublicID); err != nil {
		return Credentials{}, err
	}
	if c.ColorToken, err = lookup("colorToken", offColorToken); err != nil {
		return Credentials{}, err
	}
	c.Kerma = at(offKerma).Int()
	return c, nil
}

// --------------------------------------------------------------------------
// Client
// --------------------------------------------------------------------------

// Client performs the login request.
type Client struct {
	ServiceURL string
	ModuleBase string
	HTTPClient *http.Client
}

// NewClient returns a client for the public service.
func NewClient() *Client {
	return &Client{
		ServiceURL: DefaultServiceURL,
		ModuleBase: DefaultModuleBase,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// requestBody builds the GWT-RPC startSquare call.
func (c *Client) requestBody(anonymousID, topic string) string {
	return "7|0|8|" + c.ModuleBase + "|53263EDF7F9313FDD5BD38B49D3A7A77|" +
		"com.liquable.hiroba.gwt.client.square.IGwtSquareService|startSquare|" +
		"com.liquable.hiroba.gwt.client.square.StartSquareRequest/2186526774|" +
		anonymousID + "|" +
		"com.liquable.gwt.transport.client.Destination/2061503238|" +
		"/topic/" + topic + "|1|2|3|4|1|5|5|6|0|7|8|"
}

// newRequest creates the POST with the headers the GWT endpoint expects.
func (c *Client) newRequest(ctx context.Context, anonymousID, topic string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ServiceURL, strings.NewReader(c.requestBody(anonymousID, topic)))
	if err != nil {
		return nil, err
	}
	origin := DefaultOrigin
	if u, err := url.Parse(c.ServiceURL); err == nil && u.Host != "" {
		origin = u.Scheme + "://" + u.Host
	}
	req.Header.Set("Content-Type", "text/x-gwt-rpc; charset=UTF-8")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("Origin", origin)
	req.Header.Set("Referer", origin+"/"+url.PathEscape(topic))
	req.Header.Set("X-GWT-Module-Base", c.ModuleBase)
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	return req, nil
}

// Authenticate logs in anonymously to topic and returns the credentials.
func (c *Client) Authenticate(ctx context.Context, anonymousID, topic string) (Credentials, error) {
	req, err := c.newRequest(ctx, anonymousID, topic)
	if err != nil {
		return Credentials{}, err
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return Credentials{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var body io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return Credentials{}, fmt.Errorf("gzip: %w", err)
		}
		defer zr.Close()
		body = zr
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return Credentials{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Credentials{}, fmt.Errorf("square service returned %d: %s", resp.StatusCode, string(data))
	}
	return ExtractCredentials(data)
}

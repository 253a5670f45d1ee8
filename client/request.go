package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/pqrdesk/pqrclient/auth"
	"github.com/pqrdesk/pqrclient/common"
	"golang.org/x/net/http2"
)

// APIError is returned when the backend answers with a non-2xx status
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	// Body is the response body text, possibly empty
	Body string
}

// Error the response body text, or the status text when the body is empty
func (e *APIError) Error() string {
	if e.Body != "" {
		return e.Body
	}
	return http.StatusText(e.StatusCode)
}

// IsUnauthorized whether the error is a backend rejection of the credentials
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusUnauthorized ||
			apiErr.StatusCode == http.StatusForbidden
	}
	return false
}

// RequestClient issues authenticated requests against the PQR backend
type RequestClient struct {
	common.Component
	baseURL     string
	credentials auth.CredentialStore
	// client is used for request / response calls
	client *http.Client
	// streamClient shares the transport but has no overall timeout
	streamClient *http.Client
	// wsDialer opens websocket event streams
	wsDialer *websocket.Dialer
	validate *validator.Validate
}

// NewRequestClient define a new RequestClient
func NewRequestClient(
	config common.BackendConfig, credentials auth.CredentialStore,
) (*RequestClient, error) {
	logTags := log.Fields{
		"module": "client", "component": "request-client", "instance": config.BaseURL,
	}
	validate := validator.New()
	if err := validate.Struct(&config); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid backend config")
		return nil, err
	}
	if credentials == nil {
		return nil, fmt.Errorf("no credential store provided")
	}
	var transport http.RoundTripper = http.DefaultTransport
	if config.UseH2C {
		transport = &http2.Transport{
			AllowHTTP: true,
			DialTLS: func(network, addr string, _ *tls.Config) (net.Conn, error) {
				return net.Dial(network, addr)
			},
		}
	}
	return &RequestClient{
		Component:   common.Component{LogTags: logTags},
		baseURL:     strings.TrimRight(config.BaseURL, "/") + config.APIPrefix,
		credentials: credentials,
		client: &http.Client{
			Transport: transport,
			Timeout:   time.Second * time.Duration(config.RequestTimeout),
		},
		streamClient: &http.Client{Transport: transport},
		wsDialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: time.Second * time.Duration(config.RequestTimeout),
		},
		validate: validate,
	}, nil
}

// Credentials the credential store the client reads its token from
func (c *RequestClient) Credentials() auth.CredentialStore {
	return c.credentials
}

// URL the full URL of an API path
func (c *RequestClient) URL(path string) string {
	return c.baseURL + path
}

// newRequest define a request with the bearer token attached
func (c *RequestClient) newRequest(
	ctxt context.Context, method, path string, body io.Reader,
) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctxt, method, c.URL(path), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.credentials.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// checkResponse convert a non-2xx response into an APIError
func checkResponse(method, path string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	return &APIError{
		StatusCode: resp.StatusCode,
		Method:     method,
		Path:       path,
		Body:       strings.TrimSpace(string(body)),
	}
}

// validateBody validate a request body if it is a struct
func (c *RequestClient) validateBody(body interface{}) error {
	if body == nil {
		return nil
	}
	value := reflect.ValueOf(body)
	for value.Kind() == reflect.Ptr {
		if value.IsNil() {
			return nil
		}
		value = value.Elem()
	}
	if value.Kind() != reflect.Struct {
		return nil
	}
	return c.validate.Struct(value.Interface())
}

// Do perform a request. "body" is JSON encoded when not nil; the response is JSON
// decoded into "out" when not nil.
func (c *RequestClient) Do(
	ctxt context.Context, method, path string, body interface{}, out interface{},
) error {
	localLogTags := c.CopyLogTags()
	localLogTags["method"] = method
	localLogTags["path"] = path

	if err := c.validateBody(body); err != nil {
		log.WithError(err).WithFields(localLogTags).Debug("Invalid request body")
		return err
	}
	var payload io.Reader
	if body != nil {
		serialized, err := json.Marshal(body)
		if err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Unable to serialize request")
			return err
		}
		payload = bytes.NewReader(serialized)
	}
	req, err := c.newRequest(ctxt, method, path, payload)
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Unable to define request")
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Debug("Request failed")
		return err
	}
	defer resp.Body.Close()
	if err := checkResponse(method, path, resp); err != nil {
		log.WithError(err).WithFields(localLogTags).Debugf("Request rejected with %d", resp.StatusCode)
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		log.WithError(err).WithFields(localLogTags).Error("Unable to parse response")
		return err
	}
	return nil
}

// Fetch perform a GET and return the raw response body
func (c *RequestClient) Fetch(ctxt context.Context, path string) ([]byte, error) {
	req, err := c.newRequest(ctxt, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkResponse(http.MethodGet, path, resp); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

// OpenStream perform a GET for a long lived event stream. The caller closes the
// response body.
func (c *RequestClient) OpenStream(ctxt context.Context, path string) (*http.Response, error) {
	req, err := c.newRequest(ctxt, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, err
	}
	if err := checkResponse(http.MethodGet, path, resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// DialWebSocket open a websocket event stream. The caller closes the connection.
func (c *RequestClient) DialWebSocket(ctxt context.Context, path string) (*websocket.Conn, error) {
	target := c.URL(path)
	switch {
	case strings.HasPrefix(target, "https://"):
		target = "wss://" + strings.TrimPrefix(target, "https://")
	case strings.HasPrefix(target, "http://"):
		target = "ws://" + strings.TrimPrefix(target, "http://")
	}
	header := http.Header{}
	if token := c.credentials.Token(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := c.wsDialer.DialContext(ctxt, target, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if apiErr := checkResponse(http.MethodGet, path, resp); apiErr != nil {
				return nil, apiErr
			}
		}
		return nil, err
	}
	return conn, nil
}

// Package icatclient is the HTTP transport to the remote catalogue: login, refresh,
// and logout for the session pool, plus query execution and entity writes, against a
// stateful session-bearing endpoint reached over TLS with an optional custom CA.
package icatclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// ErrSessionExpired is returned when the catalogue reports the session id is no
// longer valid. Callers map this to the SessionExpired error kind.
var ErrSessionExpired = fmt.Errorf("icatclient: session expired")

// ErrForbidden is returned when the catalogue denies an operation for an
// authenticated session.
var ErrForbidden = fmt.Errorf("icatclient: forbidden")

// ErrAuthenticationFailed is returned when the catalogue rejects the credentials
// presented at login.
var ErrAuthenticationFailed = fmt.Errorf("icatclient: authentication failed")

// ErrCatalogueUnavailable wraps transport-level failures (connection refused, DNS,
// timeout) so callers can map them to a 503 rather than a generic internal error.
var ErrCatalogueUnavailable = fmt.Errorf("icatclient: catalogue unavailable")

// Session is the opaque handle returned by a successful login, plus the
// process-local bookkeeping the pool needs to decide when to refresh it.
type Session struct {
	ID               string
	IssuedAt         time.Time
	RemainingMinutes int
}

// Client is the transport to the catalogue's session-bearing HTTP endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// New creates a catalogue transport client. checkCert disables TLS verification
// when false (mirrors the source system's catalogue_check_cert option); caCertPath,
// when non-empty, adds a custom CA to the trust pool instead.
func New(baseURL string, checkCert bool, caCertPath string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	transport := &http.Transport{
		MaxIdleConnsPerHost: 16,
	}

	switch {
	case caCertPath != "":
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("loading catalogue CA certificate: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
	case !checkCert:
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator opt-in via catalogue_check_cert=false
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger.With(slog.String("component", "icat_client")),
	}, nil
}

// do issues req, folding transport-level failures into ErrCatalogueUnavailable.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogueUnavailable, err)
	}
	return resp, nil
}

type loginRequest struct {
	Mechanism   string            `json:"mechanism"`
	Credentials map[string]string `json:"credentials"`
}

type loginResponse struct {
	SessionID        string `json:"sessionId"`
	RemainingMinutes int    `json:"remainingMinutes"`
}

// Login authenticates against the catalogue using the given mechanism and
// credentials, returning a fresh Session.
func (c *Client) Login(ctx context.Context, mechanism string, credentials map[string]string) (Session, error) {
	body, err := json.Marshal(loginRequest{Mechanism: mechanism, Credentials: credentials})
	if err != nil {
		return Session{}, fmt.Errorf("encoding login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/session", strings.NewReader(string(body)))
	if err != nil {
		return Session{}, fmt.Errorf("building login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return Session{}, fmt.Errorf("catalogue login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return Session{}, fmt.Errorf("%w: %s", ErrAuthenticationFailed, bodyString(resp))
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Session{}, fmt.Errorf("catalogue login returned status %d: %w", resp.StatusCode, errFromBody(resp))
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return Session{}, fmt.Errorf("decoding login response: %w", err)
	}
	if lr.SessionID == "" {
		return Session{}, fmt.Errorf("catalogue login returned an empty session id")
	}

	return Session{ID: lr.SessionID, IssuedAt: time.Now(), RemainingMinutes: lr.RemainingMinutes}, nil
}

// Refresh asks the catalogue for the session's remaining lifetime, refreshing the
// handle server-side if the catalogue's own policy extends it on access.
func (c *Client) Refresh(ctx context.Context, sessionID string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/session/"+sessionID, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("building refresh request: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return 0, fmt.Errorf("catalogue refresh request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnauthorized {
		return 0, ErrSessionExpired
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("catalogue refresh returned status %d: %w", resp.StatusCode, errFromBody(resp))
	}

	var body struct {
		RemainingMinutes int `json:"remainingMinutes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decoding refresh response: %w", err)
	}
	return body.RemainingMinutes, nil
}

// Logout invalidates the session server-side. Errors are not fatal to the caller;
// the pool drops the session either way.
func (c *Client) Logout(ctx context.Context, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/session/"+sessionID, http.NoBody)
	if err != nil {
		return fmt.Errorf("building logout request: %w", err)
	}
	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("catalogue logout request: %w", err)
	}
	defer resp.Body.Close()
	return nil
}

// Row is one result row returned by the catalogue for an executed query, decoded
// generically since its shape depends on the query's projection.
type Row = map[string]any

// Execute runs a rendered query string under sessionID and returns the decoded rows.
// distinctFields is the Query.DistinctFields of the query being run: when non-empty
// the catalogue's response is positional tuples rather than entity objects, and this
// remaps them back onto field names (see remapDistinctRows).
func (c *Client) Execute(ctx context.Context, sessionID, query string, distinctFields []string) ([]Row, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/entityManager", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("building query request: %w", err)
	}
	q := req.URL.Query()
	q.Set("sessionId", sessionID)
	q.Set("query", query)
	req.URL.RawQuery = q.Encode()

	resp, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("catalogue query request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		if resp.StatusCode == http.StatusForbidden {
			return nil, fmt.Errorf("%w: %s", ErrForbidden, bodyString(resp))
		}
		return nil, ErrSessionExpired
	default:
		return nil, fmt.Errorf("catalogue query returned status %d: %w", resp.StatusCode, errFromBody(resp))
	}

	if len(distinctFields) > 0 {
		return decodeDistinctRows(resp.Body, distinctFields)
	}

	var rows []Row
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decoding query response: %w", err)
	}
	return rows, nil
}

// decodeDistinctRows decodes a DISTINCT projection's response and remaps each result
// back onto distinctFields' dotted paths, mirroring Python ICAT's distinct-query
// result shape: selecting one attribute returns a flat list of scalars, selecting more
// than one returns a list of tuples (get_distinct_attributes /
// map_distinct_attributes_to_results in the original datagateway-api). Either shape is
// rebuilt into the same nested-map form a whole-entity projection would have produced,
// so the projection engine's path traversal works the same regardless of which kind of
// query produced a row.
func decodeDistinctRows(body io.Reader, distinctFields []string) ([]Row, error) {
	if len(distinctFields) == 1 {
		var values []any
		if err := json.NewDecoder(body).Decode(&values); err != nil {
			return nil, fmt.Errorf("decoding distinct query response: %w", err)
		}
		rows := make([]Row, len(values))
		for i, v := range values {
			rows[i] = nestedRow(distinctFields[0], v)
		}
		return rows, nil
	}

	var tuples [][]any
	if err := json.NewDecoder(body).Decode(&tuples); err != nil {
		return nil, fmt.Errorf("decoding distinct query response: %w", err)
	}
	rows := make([]Row, len(tuples))
	for i, tuple := range tuples {
		if len(tuple) != len(distinctFields) {
			return nil, fmt.Errorf("distinct query returned a %d-element tuple for %d requested fields", len(tuple), len(distinctFields))
		}
		row := Row{}
		for j, path := range distinctFields {
			mergeRow(row, nestedRow(path, tuple[j]))
		}
		rows[i] = row
	}
	return rows, nil
}

// nestedRow builds the single-field Row a dotted path/value pair would occupy inside
// a whole-entity projection, e.g. "investigation.title" -> {"investigation": {"title": v}}.
func nestedRow(path string, value any) Row {
	segments := strings.Split(path, ".")
	row := Row{}
	cursor := row
	for i, seg := range segments {
		if i == len(segments)-1 {
			cursor[seg] = value
			break
		}
		next := Row{}
		cursor[seg] = next
		cursor = next
	}
	return row
}

// mergeRow deep-merges src into dst, combining nested maps produced by distinct
// fields that share a common relation prefix (e.g. "investigation.title" and
// "investigation.doi" both nesting under "investigation").
func mergeRow(dst, src Row) {
	for k, v := range src {
		existing, ok := dst[k]
		if !ok {
			dst[k] = v
			continue
		}
		existingRow, existingIsRow := existing.(Row)
		srcRow, srcIsRow := v.(Row)
		if existingIsRow && srcIsRow {
			mergeRow(existingRow, srcRow)
			continue
		}
		dst[k] = v
	}
}

// Count runs a rendered "SELECT COUNT(o) FROM ..." query under sessionID. The
// catalogue returns a count result as a one-element JSON array holding a bare
// number, not a row object, so it is decoded separately from Execute.
func (c *Client) Count(ctx context.Context, sessionID, query string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/entityManager", http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("building count request: %w", err)
	}
	q := req.URL.Query()
	q.Set("sessionId", sessionID)
	q.Set("query", query)
	req.URL.RawQuery = q.Encode()

	resp, err := c.do(req)
	if err != nil {
		return 0, fmt.Errorf("catalogue count request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		if resp.StatusCode == http.StatusForbidden {
			return 0, fmt.Errorf("%w: %s", ErrForbidden, bodyString(resp))
		}
		return 0, ErrSessionExpired
	default:
		return 0, fmt.Errorf("catalogue count returned status %d: %w", resp.StatusCode, errFromBody(resp))
	}

	var counts []int64
	if err := json.NewDecoder(resp.Body).Decode(&counts); err != nil {
		return 0, fmt.Errorf("decoding count response: %w", err)
	}
	if len(counts) == 0 {
		return 0, fmt.Errorf("catalogue count response was empty")
	}
	return counts[0], nil
}

// Create submits newly constructed entities of entityType under sessionID, returning
// the ids the catalogue assigned them.
func (c *Client) Create(ctx context.Context, sessionID, entityType string, entities json.RawMessage) ([]int64, error) {
	var ids []int64
	err := c.writeRequest(ctx, http.MethodPost, sessionID, entityType, entities, &ids)
	return ids, err
}

// Update applies in-place modifications to existing entities of entityType under
// sessionID; the catalogue returns nothing on success.
func (c *Client) Update(ctx context.Context, sessionID, entityType string, entities json.RawMessage) error {
	return c.writeRequest(ctx, http.MethodPut, sessionID, entityType, entities, nil)
}

// DeleteByID removes the single entity of entityType identified by id under sessionID.
func (c *Client) DeleteByID(ctx context.Context, sessionID, entityType string, id int64) error {
	entities, err := json.Marshal([]map[string]any{{"id": id}})
	if err != nil {
		return fmt.Errorf("encoding delete request: %w", err)
	}
	return c.writeRequest(ctx, http.MethodDelete, sessionID, entityType, entities, nil)
}

// writeRequest issues a create/update/delete call against /entityManager: the
// catalogue's one write endpoint, distinguished by HTTP method, mirroring how
// Execute's GET reuses that same endpoint for queries.
func (c *Client) writeRequest(ctx context.Context, method, sessionID, entityType string, entities json.RawMessage, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/entityManager", strings.NewReader(string(entities)))
	if err != nil {
		return fmt.Errorf("building %s entityManager request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	q := req.URL.Query()
	q.Set("sessionId", sessionID)
	q.Set("entityType", entityType)
	req.URL.RawQuery = q.Encode()

	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("catalogue %s entityManager request: %w", method, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
	case http.StatusUnauthorized:
		return ErrSessionExpired
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, bodyString(resp))
	default:
		return fmt.Errorf("catalogue %s entityManager returned status %d: %w", method, resp.StatusCode, errFromBody(resp))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s entityManager response: %w", method, err)
	}
	return nil
}

// Ping performs a cheap reachability call used by the dependency health monitor.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ping", http.NoBody)
	if err != nil {
		return fmt.Errorf("building ping request: %w", err)
	}
	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("catalogue ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("catalogue ping returned status %d", resp.StatusCode)
	}
	return nil
}

func errFromBody(resp *http.Response) error {
	return fmt.Errorf("%s", bodyString(resp))
}

func bodyString(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return string(body)
}

func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("reading CA certificate: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	pool.AppendCertsFromPEM(caCert)
	return &tls.Config{RootCAs: pool}, nil
}

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/iancoleman/strcase"

	shiperrors "shipment/internal/errors"
	"shipment/internal/httpclient"
	"shipment/internal/observability"
	"shipment/internal/tracker"
)

const maxManifestBytes = 1 << 20

// Manifest is the introspection document served at the endpoint root.
type Manifest struct {
	App struct {
		Name    string                     `json:"name"`
		Actions map[string]json.RawMessage `json:"actions"`
	} `json:"app"`
}

// AppMismatchError reports that the endpoint serves a different app than expected.
type AppMismatchError struct {
	Expected string
	Actual   string
}

func (e *AppMismatchError) Error() string {
	return fmt.Sprintf("app name %q does not match expected name %q", e.Actual, e.Expected)
}

// Action describes one discovered action.
type Action struct {
	Name string
	// Alias is the lowerCamel form of Name ("to-upper" -> "toUpper").
	Alias string
	// Info is the server-provided action description, verbatim.
	Info json.RawMessage
}

type tableEntry struct {
	table    *ActionTable
	storedAt time.Time
}

// Discover fetches the endpoint manifest and builds the action table. When
// expectedName is not empty the remote app name must match it. Tables are
// cached per endpoint for the configured TTL; transient failures are
// retried.
func (c *Client) Discover(ctx context.Context, expectedName string) (*ActionTable, error) {
	key := c.endpoint
	if entry, ok := c.tables.Get(key); ok {
		if time.Since(entry.storedAt) < c.cfg.DiscoveryCacheTTL {
			c.metrics.RecordDiscovery(ctx, "cache_hit")
			if err := checkAppName(entry.table, expectedName); err != nil {
				return nil, err
			}
			return entry.table, nil
		}
		c.tables.Remove(key)
	}

	ctx, span := c.tracer.StartSpan(ctx, observability.SpanClientDiscover, observability.ActionAttrs(c.endpoint, "")...)
	manifest, err := shiperrors.RetryWithResult(ctx, c.cfg.Retry, c.fetchManifest, c.logger)
	if err != nil {
		c.metrics.RecordDiscovery(ctx, "error")
		observability.EndSpan(span, "error", err)
		return nil, err
	}

	table := newActionTable(c, manifest)
	c.tables.Add(key, tableEntry{table: table, storedAt: time.Now()})
	c.metrics.RecordDiscovery(ctx, "success")
	observability.EndSpan(span, "success", nil)
	c.logger.Debug("Discovered %d actions on %s (app %q)", len(table.names), c.endpoint, table.app)

	if err := checkAppName(table, expectedName); err != nil {
		return nil, err
	}
	return table, nil
}

// InvalidateDiscovery drops the cached action table.
func (c *Client) InvalidateDiscovery() {
	c.tables.Remove(c.endpoint)
}

func checkAppName(table *ActionTable, expected string) error {
	if expected != "" && expected != table.app {
		return &AppMismatchError{Expected: expected, Actual: table.app}
	}
	return nil
}

func (c *Client) fetchManifest(ctx context.Context) (*Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(HeaderClient, c.cfg.ClientName)
	c.tracer.Inject(ctx, req.Header)

	resp, err := c.discoveryClient.Do(req)
	if err != nil {
		return nil, &shiperrors.TransportError{Op: "discover", URL: c.endpoint, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &shiperrors.StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			URL:        c.endpoint,
			Body:       httpclient.ReadSnippet(resp.Body, statusSnippetBytes),
		}
	}

	body, err := httpclient.ReadBody(resp.Body, maxManifestBytes)
	if err != nil {
		return nil, &shiperrors.TransportError{Op: "discover", URL: c.endpoint, Err: err}
	}
	var manifest Manifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		return nil, &shiperrors.ProtocolDecodeError{Payload: string(body), Err: err}
	}
	return &manifest, nil
}

// ActionTable is the immutable set of actions an endpoint declared at
// discovery time.
type ActionTable struct {
	client  *Client
	app     string
	actions map[string]Action
	aliases map[string]string
	names   []string
}

func newActionTable(c *Client, manifest *Manifest) *ActionTable {
	table := &ActionTable{
		client:  c,
		app:     manifest.App.Name,
		actions: make(map[string]Action, len(manifest.App.Actions)),
		aliases: make(map[string]string, len(manifest.App.Actions)),
	}
	for name, info := range manifest.App.Actions {
		alias := CamelCase(name)
		table.actions[name] = Action{Name: name, Alias: alias, Info: info}
		table.names = append(table.names, name)
		if alias != "" && alias != name {
			table.aliases[alias] = name
		}
	}
	sort.Strings(table.names)
	return table
}

// App returns the remote app name.
func (t *ActionTable) App() string {
	return t.app
}

// Names returns the declared action names in sorted order.
func (t *ActionTable) Names() []string {
	return append([]string(nil), t.names...)
}

// Has reports whether name or its alias was declared.
func (t *ActionTable) Has(name string) bool {
	_, ok := t.Lookup(name)
	return ok
}

// Lookup resolves a declared name or its lowerCamel alias.
func (t *ActionTable) Lookup(name string) (Action, bool) {
	if action, ok := t.actions[name]; ok {
		return action, true
	}
	if declared, ok := t.aliases[name]; ok {
		return t.actions[declared], true
	}
	return Action{}, false
}

// Call starts a declared action. Unknown names fail with errors.ErrUnknownAction.
func (t *ActionTable) Call(ctx context.Context, name string, args any, opts ...CallOption) (*tracker.Tracker, error) {
	action, ok := t.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", shiperrors.ErrUnknownAction, name)
	}
	return t.client.Call(ctx, action.Name, args, opts...)
}

// Invoke calls a declared action and waits for its result.
func (t *ActionTable) Invoke(ctx context.Context, name string, args any, opts ...CallOption) (json.RawMessage, error) {
	action, ok := t.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", shiperrors.ErrUnknownAction, name)
	}
	return t.client.Invoke(ctx, action.Name, args, opts...)
}

// CamelCase converts an action name to the lowerCamel alias it can also be
// looked up by. Acronym runs collapse to one word ("HTTPServer" is
// "httpserver") and a digit starts a new word ("foo2bar" is "foo2Bar").
func CamelCase(name string) string {
	return strcase.ToLowerCamel(name)
}

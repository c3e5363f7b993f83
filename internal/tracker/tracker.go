package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/GriffinCanCode/trackerbridge/internal/bridge"
	"github.com/GriffinCanCode/trackerbridge/internal/ipc"
)

// ErrNoAutoImportQuery is returned by FindAutoImportIssues when no query is
// configured.
var ErrNoAutoImportQuery = errors.New("no auto import query defined")

// worklogTimeLayout is the timestamp format the tracker accepts for
// worklog start times.
const worklogTimeLayout = "2006-01-02T15:04:05.000-0700"

const autoImportMaxResults = 100

// Config is one tracker connection as configured by the user.
type Config struct {
	APIToken                   string `json:"apiToken"`
	Host                       string `json:"host"`
	AllowSelfSignedCertificate bool   `json:"allowSelfSignedCertificate"`
	WonkyCookieMode            bool   `json:"wonkyCookieMode"`
	StoryPointFieldID          string `json:"storyPointFieldId,omitempty"`
	AutoImportQuery            string `json:"autoAddBacklogJqlQuery,omitempty"`
}

// Auth returns the per-request configuration the host needs.
func (c Config) Auth() ipc.AuthConfig {
	return ipc.AuthConfig{
		Credential:          c.APIToken,
		Host:                c.Host,
		AllowSelfSignedCert: c.AllowSelfSignedCertificate,
		CookieMode:          c.WonkyCookieMode,
	}
}

// Sender issues bridged requests. *bridge.Bridge satisfies it.
type Sender interface {
	Send(ctx context.Context, req bridge.Request, auth ipc.AuthConfig) *bridge.Future
}

// Client exposes tracker operations over a bridge.
type Client struct {
	sender Sender
	cfg    Config
}

// NewClient creates a client for one tracker configuration.
func NewClient(sender Sender, cfg Config) *Client {
	return &Client{sender: sender, cfg: cfg}
}

// Config returns the client's tracker configuration.
func (c *Client) Config() Config { return c.cfg }

func (c *Client) do(ctx context.Context, req bridge.Request) (any, error) {
	return c.sender.Send(ctx, req, c.cfg.Auth()).Await(ctx)
}

func call[T any](ctx context.Context, c *Client, req bridge.Request) (T, error) {
	var zero T
	v, err := c.do(ctx, req)
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: got %T", ErrUnexpectedShape, v)
	}
	return out, nil
}

// CurrentUser returns the authenticated account. With force set the call
// goes out even when the access guard is tripped, which is how a user
// checks fixed credentials.
func (c *Client) CurrentUser(ctx context.Context, force bool) (User, error) {
	return call[User](ctx, c, bridge.Request{
		Pathname:  "user",
		Transform: mapUser,
		Force:     force,
	})
}

func (c *Client) ListStatuses(ctx context.Context) ([]Status, error) {
	return call[[]Status](ctx, c, bridge.Request{
		Pathname:  "status",
		Transform: mapStatuses,
	})
}

// ListFields returns the tracker's field definitions untouched.
func (c *Client) ListFields(ctx context.Context) (any, error) {
	return c.do(ctx, bridge.Request{Pathname: "field"})
}

// Issue fetches one issue with its changelog.
func (c *Client) Issue(ctx context.Context, issueID string) (Issue, error) {
	return call[Issue](ctx, c, bridge.Request{
		Pathname:  "issue/" + url.PathEscape(issueID),
		Query:     url.Values{"expand": {"changelog,description"}},
		Transform: issueMapper(c.cfg.StoryPointFieldID),
	})
}

func (c *Client) Transitions(ctx context.Context, issueID string) ([]Transition, error) {
	return call[[]Transition](ctx, c, bridge.Request{
		Pathname:  "issue/" + url.PathEscape(issueID) + "/transitions",
		Query:     url.Values{"expand": {"transitions.fields"}},
		Transform: mapTransitions,
	})
}

func (c *Client) TransitionIssue(ctx context.Context, issueID, transitionID string) error {
	_, err := c.do(ctx, bridge.Request{
		Pathname: "issue/" + url.PathEscape(issueID) + "/transitions",
		Method:   http.MethodPost,
		Body:     map[string]any{"transition": map[string]string{"id": transitionID}},
	})
	return err
}

func (c *Client) UpdateAssignee(ctx context.Context, issueID, accountID string) error {
	_, err := c.do(ctx, bridge.Request{
		Pathname: "issue/" + url.PathEscape(issueID) + "/assignee",
		Method:   http.MethodPut,
		Body:     map[string]string{"accountId": accountID},
	})
	return err
}

// AddWorklog books time on an issue. Sub-second durations are truncated.
func (c *Client) AddWorklog(ctx context.Context, w Worklog) error {
	_, err := c.do(ctx, bridge.Request{
		Pathname: "issue/" + url.PathEscape(w.IssueID) + "/worklog",
		Method:   http.MethodPost,
		Body:     worklogBody(w),
	})
	return err
}

func worklogBody(w Worklog) map[string]any {
	return map[string]any{
		"started":          w.Started.Format(worklogTimeLayout),
		"timeSpentSeconds": int64(w.TimeSpent / time.Second),
		"comment":          w.Comment,
	}
}

// SearchIssues runs the issue picker for a free text query.
func (c *Client) SearchIssues(ctx context.Context, query string) ([]SearchResult, error) {
	return call[[]SearchResult](ctx, c, bridge.Request{
		Pathname: "issue/picker",
		Query: url.Values{
			"showSubTasks":      {"true"},
			"showSubTaskParent": {"true"},
			"query":             {strings.TrimSpace(query)},
			"currentJQL":        {""},
		},
		Transform: mapSearchResults,
	})
}

// FindAutoImportIssues runs the configured auto import query.
func (c *Client) FindAutoImportIssues(ctx context.Context) ([]Issue, error) {
	if c.cfg.AutoImportQuery == "" {
		return nil, ErrNoAutoImportQuery
	}
	return call[[]Issue](ctx, c, bridge.Request{
		Pathname: "search",
		Method:   http.MethodPost,
		Body: map[string]any{
			"maxResults": autoImportMaxResults,
			"fields":     []string{"*all"},
			"jql":        c.cfg.AutoImportQuery,
		},
		Transform: mapIssues(c.cfg.StoryPointFieldID),
	})
}

package determiner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pluginpm/internal/constraint"
	"pluginpm/internal/logging"
	"pluginpm/internal/requirement"
)

const userAgent = "pluginpm/1.0"

// Project is the index's answer for a name: its canonical display name
// and the best matching release.
type Project struct {
	Name    string
	Version string
}

// Index looks up the newest release of a project.
type Index interface {
	Latest(ctx context.Context, name string, allowPrereleases bool) (Project, error)
}

// ErrProjectNotFound is returned by an Index for unknown projects.
var ErrProjectNotFound = errors.New("project not found")

// PyPI queries a package index through its JSON API (<base>/<name>/json).
type PyPI struct {
	BaseURL string
	Client  *http.Client
}

func NewPyPI(baseURL string, timeout time.Duration) *PyPI {
	return &PyPI{BaseURL: baseURL, Client: &http.Client{Timeout: timeout}}
}

type projectPayload struct {
	Info struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"info"`
	Releases map[string][]struct {
		Yanked bool `json:"yanked"`
	} `json:"releases"`
}

func (p *PyPI) Latest(ctx context.Context, name string, allowPrereleases bool) (Project, error) {
	endpoint := strings.TrimRight(p.BaseURL, "/") + "/" + url.PathEscape(requirement.Canonical(name)) + "/json"
	logging.FromContext(ctx).Debug("querying index", "url", endpoint)
	status, body, err := p.getRaw(ctx, endpoint)
	if err != nil {
		return Project{}, err
	}
	switch {
	case status == http.StatusNotFound:
		return Project{}, ErrProjectNotFound
	case status != http.StatusOK:
		return Project{}, fmt.Errorf("IDX_HTTP: %s returned %d", endpoint, status)
	}
	var payload projectPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Project{}, fmt.Errorf("IDX_DECODE: %w", err)
	}
	display := payload.Info.Name
	if display == "" {
		display = name
	}
	candidates := make([]string, 0, len(payload.Releases))
	for v, files := range payload.Releases {
		if len(files) == 0 {
			continue
		}
		yanked := true
		for _, f := range files {
			if !f.Yanked {
				yanked = false
				break
			}
		}
		if !yanked {
			candidates = append(candidates, v)
		}
	}
	if len(candidates) == 0 && payload.Info.Version != "" {
		candidates = append(candidates, payload.Info.Version)
	}
	best, ok := chooseLatest(candidates, allowPrereleases)
	if !ok {
		return Project{}, fmt.Errorf("no installable release of %s", display)
	}
	return Project{Name: display, Version: best}, nil
}

// chooseLatest returns the highest stable version, falling back to
// pre-releases only when allowed or when nothing stable exists.
func chooseLatest(versions []string, allowPrereleases bool) (string, bool) {
	var stable, newest *constraint.Version
	for _, raw := range versions {
		v, err := constraint.ParseVersion(raw)
		if err != nil {
			continue
		}
		if newest == nil || constraint.Compare(v, *newest) > 0 {
			cp := v
			newest = &cp
		}
		if !v.IsPrerelease() && (stable == nil || constraint.Compare(v, *stable) > 0) {
			cp := v
			stable = &cp
		}
	}
	switch {
	case allowPrereleases && newest != nil:
		return newest.String(), true
	case stable != nil:
		return stable.String(), true
	case newest != nil:
		return newest.String(), true
	}
	return "", false
}

func (p *PyPI) getRaw(ctx context.Context, fullURL string) (int, []byte, error) {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	attempts := 5
	var lastErr error
	for i := 0; i < attempts; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return 0, nil, ctx.Err()
			case <-time.After(time.Duration(1<<i) * 500 * time.Millisecond):
			}
			continue
		}
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return 0, nil, readErr
		}
		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && i < attempts-1 {
			wait := parseRetryAfter(resp.Header.Get("Retry-After"), i)
			logging.FromContext(ctx).Debug("index busy, retrying", "status", resp.StatusCode, "wait", wait)
			select {
			case <-ctx.Done():
				return 0, nil, ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		return resp.StatusCode, body, nil
	}
	if lastErr != nil {
		return 0, nil, fmt.Errorf("IDX_HTTP: %w", lastErr)
	}
	return 0, nil, errors.New("IDX_HTTP: request failed")
}

func parseRetryAfter(value string, attempt int) time.Duration {
	defaultBackoff := time.Duration(1<<attempt) * 500 * time.Millisecond
	if value == "" {
		return defaultBackoff
	}
	secs, err := strconv.Atoi(value)
	if err != nil || secs < 0 {
		return defaultBackoff
	}
	if secs > 10 {
		secs = 10
	}
	return time.Duration(secs) * time.Second
}

// Package arr provides a client for the Sonarr and Radarr v3 HTTP APIs.
package arr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Entry is a library item (movie or series) owned by the service. The
// client only reads entries and requests mutations; it never creates or
// deletes them.
type Entry struct {
	ID             int64
	Title          string
	Year           int
	TmdbID         int64
	ImdbID         string
	TvdbID         int64
	Path           string
	RootFolderPath string
	Monitored      bool
	HasFile        bool
}

// UpdateOutcome classifies the service's response to a path update.
type UpdateOutcome int

const (
	// UpdateRejected means the service refused the update.
	UpdateRejected UpdateOutcome = iota
	// UpdateSynchronous means the service applied the update before responding.
	UpdateSynchronous
	// UpdateAsyncAccepted means the service accepted the update and will
	// move files in the background.
	UpdateAsyncAccepted
)

// UpdateResult carries the outcome of an update request along with the
// raw status for operator triage on rejection.
type UpdateResult struct {
	Outcome UpdateOutcome
	Status  int
	Detail  string
}

// LogRecord is one entry from the service's operation log.
type LogRecord struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
	Logger  string    `json:"logger"`
}

// Service is the interface the reconciliation engine consumes. Implemented
// by Client for Sonarr and Radarr.
type Service interface {
	// Name returns the configured name of this service instance.
	Name() string

	// Kind returns the kind of service ("radarr" or "sonarr").
	Kind() string

	// TestConnection verifies the service is reachable and the API key works.
	TestConnection(ctx context.Context) error

	// ListEntries returns all entries that have local files, in the order
	// the service reports them.
	ListEntries(ctx context.Context) ([]Entry, error)

	// GetEntry returns the live state of a single entry.
	GetEntry(ctx context.Context, id int64) (Entry, error)

	// NamingTemplate returns the folder naming format the service is
	// configured with. Fetched fresh every run, never cached.
	NamingTemplate(ctx context.Context) (string, error)

	// RootFolders returns the paths of the service's configured root folders.
	RootFolders(ctx context.Context) ([]string, error)

	// UpdateEntryPath requests a move of the entry to newPath. The full
	// current record is resent because the API does not support partial
	// updates.
	UpdateEntryPath(ctx context.Context, id int64, newPath string) (UpdateResult, error)

	// Unmonitor turns off monitoring for the entry.
	Unmonitor(ctx context.Context, id int64) error

	// RecentLog returns one page of the service's operation log, newest first.
	RecentLog(ctx context.Context, page, pageSize int) ([]LogRecord, error)

	// TriggerRescan asks the service to rescan the entry's folder on disk.
	TriggerRescan(ctx context.Context, id int64) error
}

// Config holds connection settings for a service client.
type Config struct {
	URL         string
	APIKey      string
	HTTPTimeout time.Duration
}

// Client implements Service for *arr applications. It is parameterized by
// the few endpoint names that differ between Sonarr and Radarr.
type Client struct {
	name           string
	kind           string
	entityPath     string
	rescanCommand  string
	templateField  string
	moveFilesQuery bool
	baseURL        string
	apiKey         string
	httpClient     *http.Client
	logger         zerolog.Logger
}

// Option is a functional option for configuring a client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func newClient(name, kind, entityPath, rescanCommand, templateField string, moveFiles bool, cfg Config, opts ...Option) *Client {
	c := &Client{
		name:           name,
		kind:           kind,
		entityPath:     entityPath,
		rescanCommand:  rescanCommand,
		templateField:  templateField,
		moveFilesQuery: moveFiles,
		baseURL:        strings.TrimSuffix(cfg.URL, "/"),
		apiKey:         cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		logger: zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// NewRadarr creates a client for a Radarr instance.
func NewRadarr(name string, cfg Config, opts ...Option) Service {
	return newClient(name, "radarr", "movie", "RescanMovie", "movieFolderFormat", true, cfg, opts...)
}

// NewSonarr creates a client for a Sonarr instance.
func NewSonarr(name string, cfg Config, opts ...Option) Service {
	return newClient(name, "sonarr", "series", "RescanSeries", "seriesFolderFormat", false, cfg, opts...)
}

// Name returns the configured name of this service instance.
func (c *Client) Name() string {
	return c.name
}

// Kind returns the kind of service.
func (c *Client) Kind() string {
	return c.kind
}

// entryRecord is the wire shape shared by movie and series responses.
// Fields missing from one kind decode to their zero value.
type entryRecord struct {
	ID             int64  `json:"id"`
	Title          string `json:"title"`
	Year           int    `json:"year"`
	TmdbID         int64  `json:"tmdbId"`
	ImdbID         string `json:"imdbId"`
	TvdbID         int64  `json:"tvdbId"`
	Path           string `json:"path"`
	RootFolderPath string `json:"rootFolderPath"`
	Monitored      bool   `json:"monitored"`
	HasFile        bool   `json:"hasFile"`
	FirstAired     string `json:"firstAired"`
	Statistics     struct {
		EpisodeFileCount int `json:"episodeFileCount"`
	} `json:"statistics"`
}

func (r entryRecord) toEntry(kind string) Entry {
	e := Entry{
		ID:             r.ID,
		Title:          r.Title,
		Year:           r.Year,
		TmdbID:         r.TmdbID,
		ImdbID:         r.ImdbID,
		TvdbID:         r.TvdbID,
		Path:           r.Path,
		RootFolderPath: r.RootFolderPath,
		Monitored:      r.Monitored,
		HasFile:        r.HasFile,
	}

	if kind == "sonarr" {
		e.HasFile = r.Statistics.EpisodeFileCount > 0
		// Sonarr sometimes reports year 0 for a series whose first air
		// date is known.
		if e.Year == 0 && len(r.FirstAired) >= 4 {
			if y, err := strconv.Atoi(r.FirstAired[:4]); err == nil {
				e.Year = y
			}
		}
	}

	return e
}

// arrSystemStatus is the response from the system/status endpoint.
type arrSystemStatus struct {
	Version string `json:"version"`
	AppName string `json:"appName"`
}

// TestConnection verifies the service is reachable and the API key works.
func (c *Client) TestConnection(ctx context.Context) error {
	var status arrSystemStatus
	if err := c.getJSON(ctx, "/api/v3/system/status", &status); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.kind, err)
	}

	c.logger.Debug().
		Str("name", c.name).
		Str("version", status.Version).
		Str("app", status.AppName).
		Msgf("%s connection test successful", c.kind)

	return nil
}

// ListEntries returns all entries that have local files, in service order.
func (c *Client) ListEntries(ctx context.Context) ([]Entry, error) {
	path := "/api/v3/" + c.entityPath
	if c.kind == "sonarr" {
		path += "?includeEpisodeFileCount=true"
	}

	var records []entryRecord
	if err := c.getJSON(ctx, path, &records); err != nil {
		return nil, fmt.Errorf("failed to list %s entries: %w", c.kind, err)
	}

	entries := make([]Entry, 0, len(records))
	for _, r := range records {
		e := r.toEntry(c.kind)
		if !e.HasFile {
			continue
		}
		entries = append(entries, e)
	}

	c.logger.Debug().
		Str("name", c.name).
		Int("total", len(records)).
		Int("with_files", len(entries)).
		Msg("listed entries")

	return entries, nil
}

// GetEntry returns the live state of a single entry.
func (c *Client) GetEntry(ctx context.Context, id int64) (Entry, error) {
	var record entryRecord
	if err := c.getJSON(ctx, c.entityURL(id), &record); err != nil {
		return Entry{}, fmt.Errorf("failed to get %s %d: %w", c.entityPath, id, err)
	}
	return record.toEntry(c.kind), nil
}

// NamingTemplate returns the folder naming format the service is configured with.
func (c *Client) NamingTemplate(ctx context.Context) (string, error) {
	var naming map[string]any
	if err := c.getJSON(ctx, "/api/v3/config/naming", &naming); err != nil {
		return "", fmt.Errorf("failed to get naming config: %w", err)
	}

	format, _ := naming[c.templateField].(string)
	if format == "" {
		return "", fmt.Errorf("%s naming config has no %s", c.kind, c.templateField)
	}

	c.logger.Debug().
		Str("name", c.name).
		Str("format", format).
		Msg("fetched folder format")

	return format, nil
}

// rootFolderRecord is one entry from the rootfolder endpoint.
type rootFolderRecord struct {
	Path string `json:"path"`
}

// RootFolders returns the paths of the service's configured root folders.
func (c *Client) RootFolders(ctx context.Context) ([]string, error) {
	var records []rootFolderRecord
	if err := c.getJSON(ctx, "/api/v3/rootfolder", &records); err != nil {
		return nil, fmt.Errorf("failed to list root folders: %w", err)
	}

	paths := make([]string, 0, len(records))
	for _, r := range records {
		paths = append(paths, r.Path)
	}
	return paths, nil
}

// UpdateEntryPath requests a move of the entry to newPath. The service's
// update endpoint replaces the whole record, so the current record is
// fetched and resent with only the path changed to avoid clearing fields.
func (c *Client) UpdateEntryPath(ctx context.Context, id int64, newPath string) (UpdateResult, error) {
	record, err := c.getRawEntry(ctx, id)
	if err != nil {
		return UpdateResult{}, err
	}

	record["path"] = newPath

	url := c.entityURL(id)
	if c.moveFilesQuery {
		url += "?moveFiles=true"
	}

	return c.putRecord(ctx, url, record)
}

// Unmonitor turns off monitoring for the entry, leaving its path alone.
func (c *Client) Unmonitor(ctx context.Context, id int64) error {
	record, err := c.getRawEntry(ctx, id)
	if err != nil {
		return err
	}

	record["monitored"] = false

	result, err := c.putRecord(ctx, c.entityURL(id), record)
	if err != nil {
		return err
	}
	if result.Outcome == UpdateRejected {
		return fmt.Errorf("%s rejected unmonitor of %s %d: status %d: %s",
			c.kind, c.entityPath, id, result.Status, result.Detail)
	}
	return nil
}

// logPage is the paged response from the log endpoint.
type logPage struct {
	Records []LogRecord `json:"records"`
}

// RecentLog returns one page of the service's operation log, newest first.
func (c *Client) RecentLog(ctx context.Context, page, pageSize int) ([]LogRecord, error) {
	path := fmt.Sprintf("/api/v3/log?page=%d&pageSize=%d&sortKey=time&sortDirection=descending", page, pageSize)

	var result logPage
	if err := c.getJSON(ctx, path, &result); err != nil {
		return nil, fmt.Errorf("failed to get log page %d: %w", page, err)
	}
	return result.Records, nil
}

// commandRequest is a command request to the *arr API.
type commandRequest struct {
	Name     string `json:"name"`
	MovieID  int64  `json:"movieId,omitempty"`
	SeriesID int64  `json:"seriesId,omitempty"`
}

// TriggerRescan asks the service to rescan the entry's folder on disk.
func (c *Client) TriggerRescan(ctx context.Context, id int64) error {
	cmd := commandRequest{Name: c.rescanCommand}
	if c.kind == "sonarr" {
		cmd.SeriesID = id
	} else {
		cmd.MovieID = id
	}

	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v3/command", bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to trigger rescan: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s returned status %d: %s", c.kind, resp.StatusCode, string(respBody))
	}

	c.logger.Info().
		Str("name", c.name).
		Int64("id", id).
		Msgf("triggered %s", c.rescanCommand)

	return nil
}

func (c *Client) entityURL(id int64) string {
	return fmt.Sprintf("/api/v3/%s/%d", c.entityPath, id)
}

// getRawEntry fetches the complete record as the service sent it, so an
// update can resend every field.
func (c *Client) getRawEntry(ctx context.Context, id int64) (map[string]any, error) {
	var record map[string]any
	if err := c.getJSON(ctx, c.entityURL(id), &record); err != nil {
		return nil, fmt.Errorf("failed to get %s %d: %w", c.entityPath, id, err)
	}
	return record, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s returned status %d: %s", c.kind, resp.StatusCode, string(respBody))
	}

	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) putRecord(ctx context.Context, url string, record map[string]any) (UpdateResult, error) {
	body, err := json.Marshal(record)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("failed to marshal record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+url, bytes.NewReader(body))
	if err != nil {
		return UpdateResult{}, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("update request failed: %w", err)
	}
	defer resp.Body.Close()

	result := UpdateResult{Status: resp.StatusCode}
	switch {
	case resp.StatusCode == http.StatusAccepted:
		result.Outcome = UpdateAsyncAccepted
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		result.Outcome = UpdateSynchronous
	default:
		result.Outcome = UpdateRejected
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		result.Detail = string(respBody)
	}

	return result, nil
}

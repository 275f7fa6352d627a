package testing

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// ArrCommand represents a command received by the mock Arr server.
type ArrCommand struct {
	Name      string
	Timestamp time.Time
}

// ArrUpdate represents a PUT to an entry received by the mock Arr server.
type ArrUpdate struct {
	ID        int64
	Path      string
	MoveFiles bool
	Record    map[string]any
}

// ArrServer is a mock Sonarr/Radarr API server for testing.
type ArrServer struct {
	*httptest.Server

	mu      sync.RWMutex
	appName string
	version string

	entityPath   string // "movie" or "series"
	namingField  string
	namingFormat string
	rootFolders  []string
	records      map[int64]map[string]any
	recordOrder  []int64
	logRecords   []map[string]any
	updateStatus map[int64]int
	applyUpdates bool
	failGets     int
	commands     []ArrCommand
	updates      []ArrUpdate
}

// NewArrServer creates a new mock Arr server.
// appName should be "Sonarr" or "Radarr"; entityPath is "series" or "movie".
func NewArrServer(appName, entityPath string) *ArrServer {
	s := &ArrServer{
		appName:      appName,
		version:      "4.0.0.0",
		entityPath:   entityPath,
		records:      make(map[int64]map[string]any),
		updateStatus: make(map[int64]int),
		applyUpdates: true,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/system/status", s.handleSystemStatus)
	mux.HandleFunc("GET /api/v3/"+entityPath, s.handleList)
	mux.HandleFunc("GET /api/v3/"+entityPath+"/{id}", s.handleGet)
	mux.HandleFunc("PUT /api/v3/"+entityPath+"/{id}", s.handlePut)
	mux.HandleFunc("GET /api/v3/config/naming", s.handleNaming)
	mux.HandleFunc("GET /api/v3/rootfolder", s.handleRootFolders)
	mux.HandleFunc("GET /api/v3/log", s.handleLog)
	mux.HandleFunc("POST /api/v3/command", s.handleCommand)

	s.Server = httptest.NewServer(mux)
	return s
}

// SetNaming configures the folder format returned by the naming endpoint.
// field should match the service under test, e.g. "movieFolderFormat".
func (s *ArrServer) SetNaming(field, format string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.namingField = field
	s.namingFormat = format
}

// SetRootFolders configures the root folder paths the server reports.
func (s *ArrServer) SetRootFolders(paths ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rootFolders = paths
}

// AddRecord adds an entry record. The record must contain an "id" field.
func (s *ArrServer) AddRecord(record map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := toInt64(record["id"])
	if _, exists := s.records[id]; !exists {
		s.recordOrder = append(s.recordOrder, id)
	}
	s.records[id] = record
}

// SetUpdateStatus overrides the HTTP status returned for PUTs to the
// given entry. The default is 202 Accepted.
func (s *ArrServer) SetUpdateStatus(id int64, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateStatus[id] = status
}

// SetApplyUpdates controls whether an accepted PUT mutates the stored
// record's path. Disable to simulate a move that never completes.
func (s *ArrServer) SetApplyUpdates(apply bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyUpdates = apply
}

// FailEntityGets makes the next n GETs of a single entry fail with a
// 500, simulating a transient outage that later requests recover from.
func (s *ArrServer) FailEntityGets(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failGets = n
}

// AddLogRecord appends a record to the log endpoint's newest-first feed.
func (s *ArrServer) AddLogRecord(t time.Time, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logRecords = append([]map[string]any{{
		"time":    t.UTC().Format(time.RFC3339),
		"message": message,
		"logger":  "MoveMediaService",
	}}, s.logRecords...)
}

// Updates returns all entry updates received by the server.
func (s *ArrServer) Updates() []ArrUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]ArrUpdate, len(s.updates))
	copy(result, s.updates)
	return result
}

// Commands returns all commands received by the server.
func (s *ArrServer) Commands() []ArrCommand {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]ArrCommand, len(s.commands))
	copy(result, s.commands)
	return result
}

// CommandsByName returns commands with the specified name.
func (s *ArrServer) CommandsByName(name string) []ArrCommand {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []ArrCommand
	for _, cmd := range s.commands {
		if cmd.Name == name {
			result = append(result, cmd)
		}
	}
	return result
}

// Record returns a copy of the stored record for id, or nil.
func (s *ArrServer) Record(id int64) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(record))
	for k, v := range record {
		out[k] = v
	}
	return out
}

// handleSystemStatus handles GET /api/v3/system/status.
func (s *ArrServer) handleSystemStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	resp := map[string]any{
		"version": s.version,
		"appName": s.appName,
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, resp)
}

// handleList handles GET /api/v3/{movie,series}.
func (s *ArrServer) handleList(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	list := make([]map[string]any, 0, len(s.recordOrder))
	for _, id := range s.recordOrder {
		list = append(list, s.records[id])
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, list)
}

// handleGet handles GET /api/v3/{movie,series}/{id}.
func (s *ArrServer) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if s.failGets > 0 {
		s.failGets--
		s.mu.Unlock()
		http.Error(w, "temporarily unavailable", http.StatusInternalServerError)
		return
	}
	record, ok := s.records[id]
	s.mu.Unlock()

	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// handlePut handles PUT /api/v3/{movie,series}/{id}.
func (s *ArrServer) handlePut(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var record map[string]any
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	path, _ := record["path"].(string)

	s.mu.Lock()
	status, ok := s.updateStatus[id]
	if !ok {
		status = http.StatusAccepted
	}

	s.updates = append(s.updates, ArrUpdate{
		ID:        id,
		Path:      path,
		MoveFiles: r.URL.Query().Get("moveFiles") == "true",
		Record:    record,
	})

	if status < 300 && s.applyUpdates {
		if stored, exists := s.records[id]; exists {
			stored["path"] = path
		}
	}
	s.mu.Unlock()

	if status >= 300 {
		http.Error(w, "update rejected", status)
		return
	}

	writeJSON(w, status, record)
}

// handleNaming handles GET /api/v3/config/naming.
func (s *ArrServer) handleNaming(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	resp := map[string]any{
		"renameEpisodes": true,
		s.namingField:    s.namingFormat,
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, resp)
}

// handleRootFolders handles GET /api/v3/rootfolder.
func (s *ArrServer) handleRootFolders(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	list := make([]map[string]any, 0, len(s.rootFolders))
	for i, path := range s.rootFolders {
		list = append(list, map[string]any{"id": i + 1, "path": path})
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, list)
}

// handleLog handles GET /api/v3/log with page/pageSize slicing.
func (s *ArrServer) handleLog(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if pageSize < 1 {
		pageSize = 10
	}

	s.mu.RLock()
	start := (page - 1) * pageSize
	end := start + pageSize
	if start > len(s.logRecords) {
		start = len(s.logRecords)
	}
	if end > len(s.logRecords) {
		end = len(s.logRecords)
	}
	records := make([]map[string]any, end-start)
	copy(records, s.logRecords[start:end])
	total := len(s.logRecords)
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"page":         page,
		"pageSize":     pageSize,
		"totalRecords": total,
		"records":      records,
	})
}

// handleCommand handles POST /api/v3/command.
func (s *ArrServer) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	cmd := ArrCommand{Name: req.Name, Timestamp: time.Now()}

	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	count := len(s.commands)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":     count,
		"name":   req.Name,
		"status": "queued",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		panic(fmt.Sprintf("unsupported id type %T", v))
	}
}

// MovieRecord builds a minimal Radarr movie record for tests.
func MovieRecord(id int64, title string, year int, path string) map[string]any {
	return map[string]any{
		"id":               id,
		"title":            title,
		"year":             year,
		"tmdbId":           id * 100,
		"imdbId":           fmt.Sprintf("tt%07d", id),
		"path":             path,
		"rootFolderPath":   "",
		"monitored":        true,
		"hasFile":          true,
		"qualityProfileId": 1,
	}
}

// SeriesRecord builds a minimal Sonarr series record for tests.
func SeriesRecord(id int64, title string, year int, path string) map[string]any {
	return map[string]any{
		"id":               id,
		"title":            title,
		"year":             year,
		"tvdbId":           id * 100,
		"path":             path,
		"rootFolderPath":   "",
		"monitored":        true,
		"qualityProfileId": 1,
		"statistics":       map[string]any{"episodeFileCount": 1},
	}
}

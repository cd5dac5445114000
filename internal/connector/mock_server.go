// SPDX-License-Identifier: MIT
package connector

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockServer provides a configurable upstream mock for testing clients,
// sweeps and trackers without a live Sonarr/Radarr instance.
type MockServer struct {
	*httptest.Server
	mu sync.RWMutex

	appName string
	apiKey  string
	apiBase string

	series   []MockSeries
	episodes []MockEpisode
	movies   []MockMovie
	cutoff   map[int64]bool
	queue    []QueueItem

	commands      map[int64]*mockCommand
	nextCommandID int64

	delay    map[string]time.Duration // artificial delay per path
	failures map[string]*failureSpec  // forced failures per path
}

// MockSeries seeds the /series endpoint.
type MockSeries struct {
	ID      int64        `json:"id"`
	Title   string       `json:"title"`
	Year    int          `json:"year"`
	Seasons []MockSeason `json:"seasons"`
}

// MockSeason seeds per-season statistics.
type MockSeason struct {
	SeasonNumber      int        `json:"seasonNumber"`
	Monitored         bool       `json:"monitored"`
	EpisodeCount      int        `json:"-"`
	EpisodeFileCount  int        `json:"-"`
	TotalEpisodeCount int        `json:"-"`
	NextAiring        *time.Time `json:"-"`
}

// MarshalJSON renders the season the way the upstream does, with the
// statistics object nested.
func (s MockSeason) MarshalJSON() ([]byte, error) {
	type stats struct {
		EpisodeCount      int        `json:"episodeCount"`
		EpisodeFileCount  int        `json:"episodeFileCount"`
		TotalEpisodeCount int        `json:"totalEpisodeCount"`
		NextAiring        *time.Time `json:"nextAiring,omitempty"`
	}
	return json.Marshal(struct {
		SeasonNumber int   `json:"seasonNumber"`
		Monitored    bool  `json:"monitored"`
		Statistics   stats `json:"statistics"`
	}{
		SeasonNumber: s.SeasonNumber,
		Monitored:    s.Monitored,
		Statistics: stats{
			EpisodeCount:      s.EpisodeCount,
			EpisodeFileCount:  s.EpisodeFileCount,
			TotalEpisodeCount: s.TotalEpisodeCount,
			NextAiring:        s.NextAiring,
		},
	})
}

// MockEpisode seeds the /episode and /wanted endpoints.
type MockEpisode struct {
	ID            int64      `json:"id"`
	SeriesID      int64      `json:"seriesId"`
	SeasonNumber  int        `json:"seasonNumber"`
	EpisodeNumber int        `json:"episodeNumber"`
	Title         string     `json:"title"`
	AirDateUTC    *time.Time `json:"airDateUtc,omitempty"`
	Monitored     bool       `json:"monitored"`
	HasFile       bool       `json:"hasFile"`
}

// MockMovie seeds the /movie and /wanted endpoints.
type MockMovie struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Year      int    `json:"year"`
	Monitored bool   `json:"monitored"`
	HasFile   bool   `json:"hasFile"`
}

// ReceivedCommand records a POST /command for assertions.
type ReceivedCommand struct {
	ID           int64
	Name         string
	EpisodeIDs   []int64
	SeriesID     int64
	SeasonNumber int
	MovieIDs     []int64
}

type mockCommand struct {
	received ReceivedCommand
	status   string
}

type failureSpec struct {
	status     int
	times      int // -1 means forever
	retryAfter int // seconds; 0 omits the header
}

// NewMockServer starts a mock upstream identifying itself as appName
// ("Sonarr", "Radarr", "Whisparr" or "Prowlarr").
func NewMockServer(appName string) *MockServer {
	m := &MockServer{
		appName:  appName,
		apiBase:  "/api/v3",
		cutoff:   make(map[int64]bool),
		commands: make(map[int64]*mockCommand),
		delay:    make(map[string]time.Duration),
		failures: make(map[string]*failureSpec),
	}
	if strings.EqualFold(appName, "Prowlarr") {
		m.apiBase = "/api/v1"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ping", m.wrap(m.handlePing))
	mux.HandleFunc(m.apiBase+"/system/status", m.wrap(m.handleStatus))
	mux.HandleFunc(m.apiBase+"/series", m.wrap(m.handleSeries))
	mux.HandleFunc(m.apiBase+"/episode", m.wrap(m.handleEpisodes))
	mux.HandleFunc(m.apiBase+"/movie", m.wrap(m.handleMovies))
	mux.HandleFunc(m.apiBase+"/wanted/missing", m.wrap(m.handleWantedMissing))
	mux.HandleFunc(m.apiBase+"/wanted/cutoff", m.wrap(m.handleWantedCutoff))
	mux.HandleFunc(m.apiBase+"/command", m.wrap(m.handleCommandPost))
	mux.HandleFunc(m.apiBase+"/command/", m.wrap(m.handleCommandGet))
	mux.HandleFunc(m.apiBase+"/queue", m.wrap(m.handleQueue))

	m.Server = httptest.NewServer(mux)
	return m
}

// RequireAPIKey makes every endpoint demand the given X-Api-Key.
func (m *MockServer) RequireAPIKey(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apiKey = key
}

// SetDelay adds an artificial delay before answering the given path.
func (m *MockServer) SetDelay(path string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay[path] = d
}

// FailWith forces the path to answer with the status for the next n calls
// (n < 0 means until cleared). retryAfterSeconds > 0 adds a Retry-After
// header.
func (m *MockServer) FailWith(path string, status, n, retryAfterSeconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[path] = &failureSpec{status: status, times: n, retryAfter: retryAfterSeconds}
}

// ClearFailures removes all forced failures.
func (m *MockServer) ClearFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = make(map[string]*failureSpec)
}

// AddSeries seeds a series row.
func (m *MockServer) AddSeries(s MockSeries) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.series = append(m.series, s)
}

// AddEpisode seeds an episode row.
func (m *MockServer) AddEpisode(e MockEpisode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.episodes = append(m.episodes, e)
}

// AddMovie seeds a movie row.
func (m *MockServer) AddMovie(mv MockMovie) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.movies = append(m.movies, mv)
}

// MarkCutoffUnmet flags an item for the wanted/cutoff listing.
func (m *MockServer) MarkCutoffUnmet(upstreamID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cutoff[upstreamID] = true
}

// SetQueue replaces the download queue contents.
func (m *MockServer) SetQueue(items []QueueItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = items
}

// SetEpisodeHasFile toggles an episode's hasFile flag, simulating a grab.
func (m *MockServer) SetEpisodeHasFile(id int64, hasFile bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.episodes {
		if m.episodes[i].ID == id {
			m.episodes[i].HasFile = hasFile
		}
	}
}

// SetMovieHasFile toggles a movie's hasFile flag.
func (m *MockServer) SetMovieHasFile(id int64, hasFile bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.movies {
		if m.movies[i].ID == id {
			m.movies[i].HasFile = hasFile
		}
	}
}

// SetCommandStatus moves a dispatched command to the given upstream status.
func (m *MockServer) SetCommandStatus(id int64, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cmd, ok := m.commands[id]; ok {
		cmd.status = status
	}
}

// Commands returns every command received so far, in dispatch order.
func (m *MockServer) Commands() []ReceivedCommand {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ReceivedCommand, 0, len(m.commands))
	for id := int64(1); id <= m.nextCommandID; id++ {
		if cmd, ok := m.commands[id]; ok {
			out = append(out, cmd.received)
		}
	}
	return out
}

func (m *MockServer) wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		if d, ok := m.delay[r.URL.Path]; ok && d > 0 {
			m.mu.Unlock()
			time.Sleep(d)
			m.mu.Lock()
		}
		if spec, ok := m.failures[r.URL.Path]; ok && spec.times != 0 {
			if spec.times > 0 {
				spec.times--
			}
			status := spec.status
			retryAfter := spec.retryAfter
			m.mu.Unlock()
			if retryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": http.StatusText(status)})
			return
		}
		key := m.apiKey
		m.mu.Unlock()

		if key != "" && r.URL.Path != "/ping" && r.Header.Get("X-Api-Key") != key {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (m *MockServer) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "OK"})
}

func (m *MockServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	writeJSON(w, map[string]string{
		"appName":      m.appName,
		"instanceName": m.appName,
		"version":      "4.0.0.0",
		"branch":       "main",
	})
}

func (m *MockServer) handleSeries(w http.ResponseWriter, _ *http.Request) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	writeJSON(w, m.series)
}

func (m *MockServer) handleEpisodes(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seriesID, _ := strconv.ParseInt(r.URL.Query().Get("seriesId"), 10, 64)
	out := make([]MockEpisode, 0)
	for _, e := range m.episodes {
		if seriesID == 0 || e.SeriesID == seriesID {
			out = append(out, e)
		}
	}
	writeJSON(w, out)
}

func (m *MockServer) handleMovies(w http.ResponseWriter, _ *http.Request) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	writeJSON(w, m.movies)
}

func paginate[T any](r *http.Request, all []T) map[string]interface{} {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	size, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if size < 1 {
		size = 10
	}
	start := (page - 1) * size
	end := start + size
	records := []T{}
	if start < len(all) {
		if end > len(all) {
			end = len(all)
		}
		records = all[start:end]
	}
	return map[string]interface{}{
		"page":         page,
		"pageSize":     size,
		"totalRecords": len(all),
		"records":      records,
	}
}

func (m *MockServer) handleWantedMissing(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.movies) > 0 {
		var missing []MockMovie
		for _, mv := range m.movies {
			if mv.Monitored && !mv.HasFile {
				missing = append(missing, mv)
			}
		}
		writeJSON(w, paginate(r, missing))
		return
	}
	var missing []MockEpisode
	for _, e := range m.episodes {
		if e.Monitored && !e.HasFile {
			missing = append(missing, e)
		}
	}
	writeJSON(w, paginate(r, missing))
}

func (m *MockServer) handleWantedCutoff(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.movies) > 0 {
		var unmet []MockMovie
		for _, mv := range m.movies {
			if m.cutoff[mv.ID] {
				unmet = append(unmet, mv)
			}
		}
		writeJSON(w, paginate(r, unmet))
		return
	}
	var unmet []MockEpisode
	for _, e := range m.episodes {
		if m.cutoff[e.ID] {
			unmet = append(unmet, e)
		}
	}
	writeJSON(w, paginate(r, unmet))
}

func (m *MockServer) handleCommandPost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Name         string  `json:"name"`
		EpisodeIDs   []int64 `json:"episodeIds"`
		SeriesID     int64   `json:"seriesId"`
		SeasonNumber int     `json:"seasonNumber"`
		MovieIDs     []int64 `json:"movieIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.nextCommandID++
	id := m.nextCommandID
	m.commands[id] = &mockCommand{
		received: ReceivedCommand{
			ID:           id,
			Name:         body.Name,
			EpisodeIDs:   body.EpisodeIDs,
			SeriesID:     body.SeriesID,
			SeasonNumber: body.SeasonNumber,
			MovieIDs:     body.MovieIDs,
		},
		status: "queued",
	}
	m.mu.Unlock()

	w.WriteHeader(http.StatusCreated)
	writeJSON(w, map[string]interface{}{"id": id, "name": body.Name, "status": "queued"})
}

func (m *MockServer) handleCommandGet(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, m.apiBase+"/command/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	m.mu.RLock()
	cmd, ok := m.commands[id]
	m.mu.RUnlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]string{"message": "NotFound"})
		return
	}
	writeJSON(w, map[string]interface{}{"id": id, "name": cmd.received.Name, "status": cmd.status})
}

func (m *MockServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := make([]map[string]interface{}, 0, len(m.queue))
	for _, q := range m.queue {
		records = append(records, map[string]interface{}{
			"id":        q.ID,
			"episodeId": q.EpisodeID,
			"movieId":   q.MovieID,
			"status":    q.Status,
		})
	}
	writeJSON(w, paginate(r, records))
}

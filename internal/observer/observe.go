// Package observer reads a running simulation through its HTTP API.
// It backs the watch command.
package observer

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/talgya/citynet/internal/engine"
)

// Observation holds everything collected in one poll.
type Observation struct {
	Status  StatusResponse
	Events  []engine.Event
	TakenAt time.Time
}

// StatusResponse mirrors GET /api/v1/status.
type StatusResponse struct {
	Status  engine.Status `json:"status"`
	SimTime string        `json:"sim_time"`
	Speed   float64       `json:"speed"`
	Frames  uint64        `json:"frames"`
	Running bool          `json:"running"`
}

// Observer fetches network state from the API.
type Observer struct {
	BaseURL    string
	HTTPClient *http.Client
	EventLimit int
}

// NewObserver creates an Observer targeting the given API base URL.
func NewObserver(baseURL string) *Observer {
	return &Observer{
		BaseURL:    baseURL,
		EventLimit: 10,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Observe fetches status and recent events.
func (o *Observer) Observe() (*Observation, error) {
	obs := &Observation{TakenAt: time.Now()}

	if err := o.fetchJSON("/api/v1/status", &obs.Status); err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	if o.EventLimit > 0 {
		path := "/api/v1/events?limit=" + strconv.Itoa(o.EventLimit)
		if err := o.fetchJSON(path, &obs.Events); err != nil {
			return nil, fmt.Errorf("fetch events: %w", err)
		}
	}

	return obs, nil
}

// NewEvents returns the events in cur that prev had not seen.
func NewEvents(prev, cur *Observation) []engine.Event {
	if prev == nil || len(prev.Events) == 0 {
		return cur.Events
	}
	last := prev.Events[len(prev.Events)-1]
	for i := len(cur.Events) - 1; i >= 0; i-- {
		if cur.Events[i] == last {
			return cur.Events[i+1:]
		}
	}
	return cur.Events
}

// fetchJSON GETs a path and decodes the JSON response into target.
func (o *Observer) fetchJSON(path string, target any) error {
	resp, err := o.HTTPClient.Get(o.BaseURL + path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s returned %d: %s", path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

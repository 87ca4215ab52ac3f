package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// DefaultNominatimURL is the public OpenStreetMap geocoding endpoint.
const DefaultNominatimURL = "https://nominatim.openstreetmap.org"

// nominatimMinInterval honors the public Nominatim usage policy of at most
// one request per second, with margin.
const nominatimMinInterval = 1100 * time.Millisecond

const geocodeUserAgent = "appbridge/1.0"

// BoundingBox is a geographic extent in degrees.
type BoundingBox struct {
	South float64 `json:"south"`
	North float64 `json:"north"`
	West  float64 `json:"west"`
	East  float64 `json:"east"`
}

// Place is one geocoding match.
type Place struct {
	DisplayName string      `json:"displayName"`
	Lat         float64     `json:"lat"`
	Lon         float64     `json:"lon"`
	BoundingBox BoundingBox `json:"boundingBox"`
	Type        string      `json:"type"`
	Importance  float64     `json:"importance"`
}

// Geocoder queries Nominatim with self-imposed rate limiting. Concurrent
// callers serialize on the limiter, so the upstream never sees more than one
// request per interval regardless of load.
type Geocoder struct {
	baseURL     string
	client      *http.Client
	minInterval time.Duration

	mu   sync.Mutex
	last time.Time
}

// NewGeocoder returns a geocoder against baseURL; empty means the public
// endpoint. A nil client falls back to a timeout-bounded default.
func NewGeocoder(baseURL string, client *http.Client) *Geocoder {
	if baseURL == "" {
		baseURL = DefaultNominatimURL
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Geocoder{baseURL: baseURL, client: client, minInterval: nominatimMinInterval}
}

// Search returns up to five matches for query.
func (g *Geocoder) Search(ctx context.Context, query string) ([]Place, error) {
	if err := g.waitTurn(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("limit", "5")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", geocodeUserAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nominatim: status %d", resp.StatusCode)
	}

	var raw []struct {
		DisplayName string    `json:"display_name"`
		Lat         string    `json:"lat"`
		Lon         string    `json:"lon"`
		BoundingBox [4]string `json:"boundingbox"`
		Type        string    `json:"type"`
		Importance  float64   `json:"importance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("nominatim: decoding response: %w", err)
	}

	out := make([]Place, 0, len(raw))
	for _, r := range raw {
		lat, _ := strconv.ParseFloat(r.Lat, 64)
		lon, _ := strconv.ParseFloat(r.Lon, 64)
		south, _ := strconv.ParseFloat(r.BoundingBox[0], 64)
		north, _ := strconv.ParseFloat(r.BoundingBox[1], 64)
		west, _ := strconv.ParseFloat(r.BoundingBox[2], 64)
		east, _ := strconv.ParseFloat(r.BoundingBox[3], 64)
		out = append(out, Place{
			DisplayName: r.DisplayName,
			Lat:         lat,
			Lon:         lon,
			BoundingBox: BoundingBox{South: south, North: north, West: west, East: east},
			Type:        r.Type,
			Importance:  r.Importance,
		})
	}
	return out, nil
}

// waitTurn blocks until the rate limit allows another request. The slot is
// claimed before sleeping so concurrent callers queue rather than stampede.
func (g *Geocoder) waitTurn(ctx context.Context) error {
	g.mu.Lock()
	now := time.Now()
	next := g.last.Add(g.minInterval)
	if next.Before(now) {
		next = now
	}
	g.last = next
	g.mu.Unlock()

	wait := time.Until(next)
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Package entropy provides the random capability the simulation draws from.
// Every stochastic decision goes through a Source so tests can replay exact sequences.
package entropy

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	mrand "math/rand"
	"net/http"
	"sync"
	"time"
)

// Source yields uniform floats in [0, 1). *math/rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// NewSeeded returns a deterministic source. A zero seed picks one from the clock.
func NewSeeded(seed int64) Source {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return mrand.New(mrand.NewSource(seed))
}

// Crypto draws from crypto/rand.
type Crypto struct{}

// Float64 implements Source.
func (Crypto) Float64() float64 {
	return cryptoRandFloat()
}

// Client provides true random numbers from random.org with a local pool.
// Draws never wait on the network: the pool is refilled in the background and
// Fallback serves draws while it is empty or random.org is failing.
type Client struct {
	apiKey   string
	endpoint string
	client   *http.Client

	Fallback Source        // Used while the pool is empty (default Crypto)
	Backoff  time.Duration // Pause after a failed refill
	now      func() time.Time

	mu           sync.Mutex
	pool         []float64
	refilling    bool
	backoffUntil time.Time
	wg           sync.WaitGroup
}

const (
	randomOrgEndpoint = "https://api.random.org/json-rpc/4/invoke"
	lowWater          = 50
)

// NewClient creates a random.org client. Returns nil if apiKey is empty.
func NewClient(apiKey string) *Client {
	if apiKey == "" {
		return nil
	}
	return &Client{
		apiKey:   apiKey,
		endpoint: randomOrgEndpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
		Fallback: Crypto{},
		Backoff:  time.Minute,
		now:      time.Now,
	}
}

// Float64 returns a random float64 in [0, 1) from the pool, or from Fallback
// when the pool is empty. A low pool schedules a background refill.
func (c *Client) Float64() float64 {
	if c == nil {
		return Crypto{}.Float64()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pool) < lowWater && !c.refilling && !c.now().Before(c.backoffUntil) {
		c.refilling = true
		c.wg.Add(1)
		go c.refill()
	}

	if len(c.pool) == 0 {
		return c.Fallback.Float64()
	}

	val := c.pool[0]
	c.pool = c.pool[1:]
	return val
}

// Wait blocks until any in-flight refill has finished.
func (c *Client) Wait() {
	c.wg.Wait()
}

func (c *Client) refill() {
	defer c.wg.Done()

	vals, err := c.fetch()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.refilling = false
	if err != nil {
		c.backoffUntil = c.now().Add(c.Backoff)
		slog.Warn("random.org refill failed, using fallback", "error", err, "retry_in", c.Backoff)
		return
	}
	c.pool = append(c.pool, vals...)
	slog.Debug("random.org pool refilled", "count", len(vals), "pool", len(c.pool))
}

// fetch asks random.org for a batch of fractions, keeping those in [0, 1).
func (c *Client) fetch() ([]float64, error) {
	req := map[string]any{
		"jsonrpc": "2.0",
		"method":  "generateDecimalFractions",
		"params": map[string]any{
			"apiKey":        c.apiKey,
			"n":             100,
			"decimalPlaces": 6,
		},
		"id": 1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	resp, err := c.client.Post(c.endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	var result struct {
		Result struct {
			Random struct {
				Data []float64 `json:"data"`
			} `json:"random"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	if result.Error != nil {
		return nil, fmt.Errorf("api: %s", result.Error.Message)
	}

	vals := make([]float64, 0, len(result.Result.Random.Data))
	for _, v := range result.Result.Random.Data {
		if v >= 0 && v < 1 {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return nil, errors.New("empty batch")
	}
	return vals, nil
}

// cryptoRandFloat generates a random float64 using crypto/rand.
func cryptoRandFloat() float64 {
	var buf [8]byte
	_, err := rand.Read(buf[:])
	if err != nil {
		return 0.5
	}
	// 53 bits for a uniform float64 in [0, 1).
	n := binary.LittleEndian.Uint64(buf[:]) >> 11
	return float64(n) / float64(1<<53)
}

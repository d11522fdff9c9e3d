// Package weather looks up current conditions from the US National Weather
// Service. A lookup is two calls: the grid point for a coordinate, then the
// forecast linked from it.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/keithlinneman/diary/internal/xerrors"
)

const (
	DefaultBaseURL = "https://api.weather.gov"

	maxBodyBytes    = 2 << 20
	breakerFailures = 5
	breakerCooldown = 30 * time.Second
)

// ErrNoForecast means NWS answered but had nothing usable for the point
var ErrNoForecast = errors.New("weather: no forecast available")

type Weather struct {
	City        string   `json:"city"`
	State       string   `json:"state"`
	Temperature *float64 `json:"temperature"`
	Condition   string   `json:"condition"`
	Description string   `json:"description"`
	Humidity    *float64 `json:"humidity"`
	WindSpeed   *string  `json:"windSpeed"`
}

type Options struct {
	// UserAgent is required by api.weather.gov
	UserAgent  string
	HTTPClient *http.Client
	BaseURL    string
	// RPS caps outbound requests per second, 0 means unlimited
	RPS float64

	Observe func(outcome string)
}

type Client struct {
	http    *http.Client
	baseURL string
	agent   string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	observe func(outcome string)
}

func New(opts Options) *Client {
	c := &Client{
		http:    opts.HTTPClient,
		baseURL: opts.BaseURL,
		agent:   opts.UserAgent,
		limiter: rate.NewLimiter(rate.Inf, 0),
		observe: opts.Observe,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "nws",
			MaxRequests: 1,
			Timeout:     breakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerFailures
			},
			// a point outside NWS coverage is the caller's problem, not an outage
			IsSuccessful: func(err error) bool {
				var se *statusError
				return err == nil || errors.As(err, &se) && se.code == http.StatusNotFound
			},
		}),
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 10 * time.Second}
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if opts.RPS > 0 {
		burst := int(opts.RPS)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	return c
}

type pointsResponse struct {
	Properties struct {
		Forecast         string `json:"forecast"`
		RelativeLocation struct {
			Properties struct {
				City  string `json:"city"`
				State string `json:"state"`
			} `json:"properties"`
		} `json:"relativeLocation"`
	} `json:"properties"`
}

type forecastResponse struct {
	Properties struct {
		Periods []struct {
			Temperature      *float64 `json:"temperature"`
			ShortForecast    string   `json:"shortForecast"`
			DetailedForecast string   `json:"detailedForecast"`
			WindSpeed        string   `json:"windSpeed"`
			RelativeHumidity struct {
				Value *float64 `json:"value"`
			} `json:"relativeHumidity"`
		} `json:"periods"`
	} `json:"properties"`
}

// Lookup returns the current forecast period for a coordinate
func (c *Client) Lookup(ctx context.Context, lat, lng float64) (*Weather, error) {
	w, err := c.lookup(ctx, lat, lng)
	if c.observe != nil {
		if err != nil {
			c.observe("error")
		} else {
			c.observe("ok")
		}
	}
	return w, err
}

func (c *Client) lookup(ctx context.Context, lat, lng float64) (*Weather, error) {
	var pts pointsResponse
	if err := c.getJSON(ctx, fmt.Sprintf("%s/points/%.4f,%.4f", c.baseURL, lat, lng), &pts); err != nil {
		return nil, xerrors.Wrap(err, "nws points")
	}
	if pts.Properties.Forecast == "" {
		return nil, xerrors.Wrap(ErrNoForecast, "nws points: no forecast url")
	}

	var fc forecastResponse
	if err := c.getJSON(ctx, pts.Properties.Forecast, &fc); err != nil {
		return nil, xerrors.Wrap(err, "nws forecast")
	}
	if len(fc.Properties.Periods) == 0 {
		return nil, xerrors.Wrap(ErrNoForecast, "nws forecast: no periods")
	}
	p := fc.Properties.Periods[0]

	w := &Weather{
		City:        pts.Properties.RelativeLocation.Properties.City,
		State:       pts.Properties.RelativeLocation.Properties.State,
		Temperature: p.Temperature,
		Condition:   p.ShortForecast,
		Description: p.DetailedForecast,
		Humidity:    p.RelativeHumidity.Value,
	}
	if w.City == "" {
		w.City = "Unknown"
	}
	if w.Condition == "" {
		w.Condition = "Unknown"
	}
	if w.Description == "" {
		w.Description = p.ShortForecast
	}
	if p.WindSpeed != "" {
		ws := p.WindSpeed
		w.WindSpeed = &ws
	}
	return w, nil
}

type statusError struct {
	url  string
	code int
}

func (e *statusError) Error() string { return fmt.Sprintf("GET %s: status %d", e.url, e.code) }

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", c.agent)
		req.Header.Set("Accept", "application/geo+json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return nil, &statusError{url: url, code: resp.StatusCode}
		}
		return nil, json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out)
	})
	if err != nil {
		return fmt.Errorf("breaker (%s): %w", c.breaker.Name(), err)
	}
	return nil
}

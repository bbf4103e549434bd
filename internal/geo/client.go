// Package geo resolves location strings through the Google Maps geocoding
// API. It is a direct passthrough with one fallback: a trailing two-letter
// state abbreviation is expanded to the full state name when the first
// attempt returns no results.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"props2mcp/internal/model"
)

const defaultBaseURL = "https://maps.googleapis.com/maps/api/geocode/json"

// ErrNoResults aliases the shared sentinel so callers can match on either.
var ErrNoResults = model.ErrNoGeocodeResults

var stateAbbrevPattern = regexp.MustCompile(`, ([A-Z]{2})(?:\s|$)`)

var stateNames = map[string]string{
	"AL": "Alabama", "AK": "Alaska", "AZ": "Arizona", "AR": "Arkansas",
	"CA": "California", "CO": "Colorado", "CT": "Connecticut", "DE": "Delaware",
	"FL": "Florida", "GA": "Georgia", "HI": "Hawaii", "ID": "Idaho",
	"IL": "Illinois", "IN": "Indiana", "IA": "Iowa", "KS": "Kansas",
	"KY": "Kentucky", "LA": "Louisiana", "ME": "Maine", "MD": "Maryland",
	"MA": "Massachusetts", "MI": "Michigan", "MN": "Minnesota", "MS": "Mississippi",
	"MO": "Missouri", "MT": "Montana", "NE": "Nebraska", "NV": "Nevada",
	"NH": "New Hampshire", "NJ": "New Jersey", "NM": "New Mexico", "NY": "New York",
	"NC": "North Carolina", "ND": "North Dakota", "OH": "Ohio", "OK": "Oklahoma",
	"OR": "Oregon", "PA": "Pennsylvania", "RI": "Rhode Island", "SC": "South Carolina",
	"SD": "South Dakota", "TN": "Tennessee", "TX": "Texas", "UT": "Utah",
	"VT": "Vermont", "VA": "Virginia", "WA": "Washington", "WV": "West Virginia",
	"WI": "Wisconsin", "WY": "Wyoming", "DC": "District of Columbia",
}

type Client struct {
	APIKey  string
	BaseURL string
	HTTP    *http.Client
}

func NewClient(apiKey string) *Client {
	return &Client{
		APIKey:  apiKey,
		BaseURL: defaultBaseURL,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

type geocodeResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

func (c *Client) Geocode(ctx context.Context, location string) (model.GeoPoint, error) {
	if c.APIKey == "" {
		return model.GeoPoint{}, errors.New("geocoding API key not configured")
	}

	point, err := c.lookup(ctx, location)
	if err == nil {
		return point, nil
	}
	if !errors.Is(err, ErrNoResults) {
		return model.GeoPoint{}, err
	}

	// fallback: ", TX" → ", Texas"
	match := stateAbbrevPattern.FindStringSubmatch(location)
	if match == nil {
		return model.GeoPoint{}, err
	}
	fullName, ok := stateNames[match[1]]
	if !ok {
		return model.GeoPoint{}, err
	}
	fallback := strings.Replace(location, ", "+match[1], ", "+fullName, 1)
	return c.lookup(ctx, fallback)
}

func (c *Client) lookup(ctx context.Context, location string) (model.GeoPoint, error) {
	base := c.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	params := url.Values{}
	params.Set("address", location)
	params.Set("region", "us")
	params.Set("key", c.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+params.Encode(), nil)
	if err != nil {
		return model.GeoPoint{}, err
	}
	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return model.GeoPoint{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	var body geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return model.GeoPoint{}, err
	}

	switch body.Status {
	case "OK":
	case "ZERO_RESULTS":
		return model.GeoPoint{}, fmt.Errorf("%w for %q", ErrNoResults, location)
	default:
		if body.ErrorMessage != "" {
			return model.GeoPoint{}, fmt.Errorf("geocoding failed: %s: %s", body.Status, body.ErrorMessage)
		}
		return model.GeoPoint{}, fmt.Errorf("geocoding failed: %s", body.Status)
	}
	if len(body.Results) == 0 {
		return model.GeoPoint{}, fmt.Errorf("%w for %q", ErrNoResults, location)
	}

	loc := body.Results[0].Geometry.Location
	return model.GeoPoint{Latitude: loc.Lat, Longitude: loc.Lng}, nil
}

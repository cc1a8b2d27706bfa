package marketdata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"huginn/internal/common"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const defaultAlphaVantageURL = "https://www.alphavantage.co"

var ErrProvider = errors.New("market data provider error")

// AlphaVantageSource downloads daily or intraday bars over the Alpha
// Vantage REST API. The API key comes from the credential collaborator
// and is never seen by the backtest core.
type AlphaVantageSource struct {
	apiKey   string
	baseURL  string
	interval string
	client   *http.Client
}

// NewAlphaVantageSource builds a source for interval ("1d" or one of
// "1min", "5min", "15min", "30min", "60min").
func NewAlphaVantageSource(apiKey, baseURL, interval string) (*AlphaVantageSource, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, common.NewConfigurationError("alphavantage_api_key", "must be set")
	}
	if baseURL == "" {
		baseURL = defaultAlphaVantageURL
	}
	if interval == "" {
		interval = "1d"
	}
	return &AlphaVantageSource{
		apiKey:   apiKey,
		baseURL:  strings.TrimRight(baseURL, "/"),
		interval: interval,
		client:   &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (s *AlphaVantageSource) Name() string { return "alphavantage" }

func (s *AlphaVantageSource) GetHistory(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	u, err := url.Parse(s.baseURL + "/query")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("outputsize", "full")
	q.Set("apikey", s.apiKey)
	if s.interval == "1d" {
		q.Set("function", "TIME_SERIES_DAILY")
	} else {
		q.Set("function", "TIME_SERIES_INTRADAY")
		q.Set("interval", s.interval)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	log.Info().Str("symbol", symbol).Str("interval", s.interval).Msg("downloading history")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrProvider, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	bars, err := parseAlphaVantage(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", symbol, err)
	}
	out := bars[:0]
	for _, bar := range bars {
		if within(bar.Time, start, end) {
			out = append(out, bar)
		}
	}
	return out, nil
}

func parseAlphaVantage(body []byte) ([]Bar, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid json", ErrProvider)
	}
	doc := gjson.ParseBytes(body)
	for _, key := range []string{"Error Message", "Note", "Information"} {
		if msg := doc.Get(key); msg.Exists() {
			return nil, fmt.Errorf("%w: %s", ErrProvider, msg.String())
		}
	}

	var series gjson.Result
	doc.ForEach(func(key, value gjson.Result) bool {
		if strings.HasPrefix(key.String(), "Time Series") {
			series = value
			return false
		}
		return true
	})
	if !series.Exists() {
		return nil, fmt.Errorf("%w: no time series in response", ErrProvider)
	}

	var bars []Bar
	var parseErr error
	series.ForEach(func(key, value gjson.Result) bool {
		ts, err := parseTime(key.String())
		if err != nil {
			parseErr = err
			return false
		}
		bar := Bar{Time: ts}
		for field, dst := range map[string]*decimal.Decimal{
			`1\. open`: &bar.Open, `2\. high`: &bar.High, `3\. low`: &bar.Low, `4\. close`: &bar.Last, `5\. volume`: &bar.Volume,
		} {
			v, err := decimal.NewFromString(value.Get(field).String())
			if err != nil {
				parseErr = fmt.Errorf("%w: %s %s: %v", ErrMalformedRow, key.String(), field, err)
				return false
			}
			*dst = v
		}
		bars = append(bars, bar)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}

	slices.SortFunc(bars, func(a, b Bar) int { return a.Time.Compare(b.Time) })
	return bars, nil
}

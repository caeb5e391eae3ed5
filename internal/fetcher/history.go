package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"deviation-screener/internal/market"
)

const (
	defaultHistoryTemplate = "https://www.isyatirim.com.tr/_Layouts/15/IsYatirim.Website/Common/ChartData.aspx/IndexHistoricalAll?period=1440&from={from}&to={to}&endeks={code}"
	defaultUserAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36"
	maxPayloadBytes        = 16 << 20
)

// HistoryOptions parameterise the HTTP history source.
type HistoryOptions struct {
	URLTemplate string
	From        string
	To          string
	Timeout     time.Duration
	UserAgent   string
}

// HTTPHistory fetches daily price history over a fixed date range.
type HTTPHistory struct {
	opts   HistoryOptions
	logger zerolog.Logger
	client *http.Client
}

// NewHTTPHistory constructs a history source.
func NewHTTPHistory(opts HistoryOptions, logger zerolog.Logger) *HTTPHistory {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if strings.TrimSpace(opts.URLTemplate) == "" {
		opts.URLTemplate = defaultHistoryTemplate
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = defaultUserAgent
	}

	return &HTTPHistory{
		opts:   opts,
		logger: logger.With().Str("component", "history_fetcher").Logger(),
		client: &http.Client{Timeout: timeout},
	}
}

// FetchHistory downloads and decodes the `data` array for one instrument.
func (h *HTTPHistory) FetchHistory(ctx context.Context, inst market.Instrument) ([]market.RawSample, error) {
	endpoint := h.endpoint(inst)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create history request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", h.opts.UserAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send history request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return nil, fmt.Errorf("read history body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	return decodeHistory(payload)
}

func (h *HTTPHistory) endpoint(inst market.Instrument) string {
	r := strings.NewReplacer(
		"{from}", url.QueryEscape(h.opts.From),
		"{to}", url.QueryEscape(h.opts.To),
		"{code}", url.QueryEscape(string(inst)),
	)
	return r.Replace(h.opts.URLTemplate)
}

type historyResponse struct {
	Data [][]*float64 `json:"data"`
}

func decodeHistory(payload []byte) ([]market.RawSample, error) {
	var res historyResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode history payload: %w", err)
	}
	if len(res.Data) == 0 {
		return nil, ErrEmptyPayload
	}

	samples := make([]market.RawSample, 0, len(res.Data))
	for i, pair := range res.Data {
		if len(pair) < 2 || pair[0] == nil {
			return nil, fmt.Errorf("decode history payload: malformed pair at index %d", i)
		}
		price := 0.0
		if pair[1] != nil {
			price = *pair[1]
		}
		samples = append(samples, market.RawSample{
			Time:  time.UnixMilli(int64(*pair[0])).UTC(),
			Price: price,
		})
	}
	return samples, nil
}

func parseHTTPError(status int, payload []byte) error {
	body := strings.TrimSpace(string(payload))
	if len(body) > 256 {
		body = body[:256]
	}
	if body != "" {
		return fmt.Errorf("history api error (%d): %s", status, body)
	}
	return fmt.Errorf("history api error (%d)", status)
}

var _ HistorySource = (*HTTPHistory)(nil)

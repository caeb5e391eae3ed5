package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"deviation-screener/internal/market"
)

const defaultDiscoveryURL = "https://www.isyatirim.com.tr/tr-tr/analiz/hisse/Sayfalar/default.aspx"

// DiscoveryOptions parameterise the HTML scraper.
type DiscoveryOptions struct {
	URL       string
	Timeout   time.Duration
	UserAgent string
	// TableClass is the class of the div wrapping the instrument table.
	TableClass string
}

// HTMLDiscovery scrapes instrument codes from the first link of every table body row.
type HTMLDiscovery struct {
	opts   DiscoveryOptions
	logger zerolog.Logger
	client *http.Client
}

// NewHTMLDiscovery constructs the scraper.
func NewHTMLDiscovery(opts DiscoveryOptions, logger zerolog.Logger) *HTMLDiscovery {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if opts.URL == "" {
		opts.URL = defaultDiscoveryURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.TableClass == "" {
		opts.TableClass = "single-table"
	}
	return &HTMLDiscovery{
		opts:   opts,
		logger: logger.With().Str("component", "discovery").Logger(),
		client: &http.Client{Timeout: timeout},
	}
}

// Instruments downloads the listing page and extracts codes.
func (d *HTMLDiscovery) Instruments(ctx context.Context) ([]market.Instrument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create discovery request: %w", err)
	}
	req.Header.Set("User-Agent", d.opts.UserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send discovery request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("discovery page error (%d)", resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return nil, fmt.Errorf("parse discovery page: %w", err)
	}

	codes := extractCodes(doc, d.opts.TableClass)
	if len(codes) == 0 {
		return nil, ErrNoInstruments
	}
	d.logger.Debug().Int("count", len(codes)).Msg("instruments discovered")
	return market.Instruments(codes), nil
}

func extractCodes(doc *html.Node, class string) []string {
	container := findFirst(doc, func(n *html.Node) bool {
		return n.DataAtom == atom.Div && hasClass(n, class)
	})
	if container == nil {
		return nil
	}
	tbody := findFirst(container, func(n *html.Node) bool { return n.DataAtom == atom.Tbody })
	if tbody == nil {
		return nil
	}

	var codes []string
	for row := tbody.FirstChild; row != nil; row = row.NextSibling {
		if row.DataAtom != atom.Tr {
			continue
		}
		link := findFirst(row, func(n *html.Node) bool { return n.DataAtom == atom.A })
		if link == nil {
			continue
		}
		if code := strings.TrimSpace(textContent(link)); code != "" {
			codes = append(codes, code)
		}
	}
	return codes
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func hasClass(n *html.Node, class string) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(attr.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
	}
	return b.String()
}

// StaticDiscovery returns a fixed instrument list.
type StaticDiscovery struct {
	codes []market.Instrument
}

// NewStaticDiscovery wraps a configured list.
func NewStaticDiscovery(codes []string) *StaticDiscovery {
	return &StaticDiscovery{codes: market.Instruments(codes)}
}

// Instruments returns the configured list.
func (s *StaticDiscovery) Instruments(context.Context) ([]market.Instrument, error) {
	if len(s.codes) == 0 {
		return nil, ErrNoInstruments
	}
	return append([]market.Instrument(nil), s.codes...), nil
}

var (
	_ Discovery = (*HTMLDiscovery)(nil)
	_ Discovery = (*StaticDiscovery)(nil)
)

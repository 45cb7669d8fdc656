package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/gazette-archiver/internal/gazette"
)

const (
	inspectLinkLimit  = 20
	inspectTextSample = 500
)

// Link is an anchor reported by Inspect.
type Link struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

// Inspection summarises an arbitrary page.
type Inspection struct {
	URL        string `json:"url"`
	StatusCode int    `json:"status_code"`
	Title      string `json:"title"`
	LinkCount  int    `json:"link_count"`
	ImageCount int    `json:"image_count"`
	FormCount  int    `json:"form_count"`
	Links      []Link `json:"links"`
	TextSample string `json:"text_sample"`
}

// Inspector fetches a page and reports its general structure.
type Inspector struct {
	fetcher gazette.Fetcher
	headers gazette.HeaderSource
	timeout time.Duration
}

// NewInspector constructs an Inspector. A zero timeout uses the listing default.
func NewInspector(fetcher gazette.Fetcher, headers gazette.HeaderSource, timeout time.Duration) *Inspector {
	if timeout <= 0 {
		timeout = defaultListingTimeout
	}
	return &Inspector{fetcher: fetcher, headers: headers, timeout: timeout}
}

// Inspect fetches pageURL and counts its links, images and forms.
func (i *Inspector) Inspect(ctx context.Context, pageURL string) (Inspection, error) {
	var hdr http.Header
	if i.headers != nil {
		hdr = i.headers.Headers(gazette.RequestListing)
	}
	resp, err := i.fetcher.Fetch(ctx, gazette.FetchRequest{URL: pageURL, Headers: hdr, Timeout: i.timeout})
	if err != nil {
		return Inspection{}, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return Inspection{}, fmt.Errorf("parse %s: %w", pageURL, err)
	}

	anchors := doc.Find("a")
	out := Inspection{
		URL:        pageURL,
		StatusCode: resp.StatusCode,
		Title:      strings.TrimSpace(doc.Find("title").First().Text()),
		LinkCount:  anchors.Length(),
		ImageCount: doc.Find("img").Length(),
		FormCount:  doc.Find("form").Length(),
		Links:      []Link{},
	}
	anchors.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		out.Links = append(out.Links, Link{Text: strings.TrimSpace(s.Text()), Href: href})
		return len(out.Links) < inspectLinkLimit
	})

	doc.Find("script, style, noscript").Remove()
	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	if r := []rune(text); len(r) > inspectTextSample {
		text = string(r[:inspectTextSample])
	}
	out.TextSample = text
	return out, nil
}

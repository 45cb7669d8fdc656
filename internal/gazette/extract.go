package gazette

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractCandidates returns the anchors in html whose text contains marker and whose
// href ends with suffix, in document order. Relative hrefs are resolved against pageURL.
// Anchors that fail either filter are skipped; nothing in the markup is treated as an error.
func ExtractCandidates(html string, pageURL string, marker string, suffix string) ([]Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}

	base, err := url.Parse(pageURL)
	if err != nil || base.Host == "" {
		base = nil
	}

	candidates := []Candidate{}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		text := s.Text()
		if !strings.Contains(text, marker) || !strings.HasSuffix(href, suffix) {
			return
		}
		resolved := ResolveURL(base, href)
		candidates = append(candidates, Candidate{
			Filename: FilenameFromURL(resolved),
			URL:      resolved,
			LinkText: strings.TrimSpace(text),
		})
	})
	return candidates, nil
}

// ResolveURL makes href absolute. Absolute http(s) hrefs are returned unchanged,
// root-relative hrefs get the origin of base, and anything else is resolved against base.
func ResolveURL(base *url.URL, href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	if base == nil {
		return href
	}
	if strings.HasPrefix(href, "/") && !strings.HasPrefix(href, "//") {
		return base.Scheme + "://" + base.Host + href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return base.Scheme + "://" + base.Host + "/" + href
	}
	return base.ResolveReference(ref).String()
}

// FilenameFromURL returns the substring after the last slash.
func FilenameFromURL(raw string) string {
	if i := strings.LastIndex(raw, "/"); i >= 0 {
		return raw[i+1:]
	}
	return raw
}

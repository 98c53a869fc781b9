// Package source implements the content-source collaborator: it
// enumerates item descriptors from a remote listing page.
package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/amvg/harvester/internal/model"
)

// itemSelector matches the listing entries on a category page
const itemSelector = "li.videoBox, li.pcVideoListItem, article.video-item, div.video-item"

// HTMLSource enumerates items by fetching a listing page and extracting
// item descriptors with goquery.
type HTMLSource struct {
	logger  *zap.Logger
	client  *http.Client
	headers map[string]string
}

// NewHTMLSource creates an HTML-backed content source.
func NewHTMLSource(logger *zap.Logger) *HTMLSource {
	return &HTMLSource{
		logger: logger.Named("source"),
		client: &http.Client{Timeout: 30 * time.Second},
		headers: map[string]string{
			"User-Agent":      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
			"Accept-Language": "en-US,en;q=0.9",
		},
	}
}

// Items fetches the listing at the locator and returns the item
// descriptors found on it, in page order, advertisements excluded.
func (s *HTMLSource) Items(ctx context.Context, locator string) ([]model.Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch listing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing: %w", err)
	}

	base, err := url.Parse(locator)
	if err != nil {
		return nil, fmt.Errorf("invalid locator: %w", err)
	}

	var items []model.Item
	doc.Find(itemSelector).Each(func(_ int, sel *goquery.Selection) {
		if isAdvertisement(sel) {
			return
		}
		item, ok := extractItem(sel, base)
		if !ok {
			return
		}
		items = append(items, item)
	})

	s.logger.Info("Enumerated items",
		zap.String("locator", locator),
		zap.Int("count", len(items)))
	return items, nil
}

// isAdvertisement reports whether a listing entry is a sponsored block
// rather than real content.
func isAdvertisement(sel *goquery.Selection) bool {
	class, _ := sel.Attr("class")
	class = strings.ToLower(class)
	for _, marker := range []string{"sponsor", "promo", "advert", " ad ", "ad-"} {
		if strings.Contains(class, marker) {
			return true
		}
	}
	if _, exists := sel.Attr("data-ad"); exists {
		return true
	}
	return false
}

// extractItem pulls the descriptor fields out of one listing entry.
func extractItem(sel *goquery.Selection, base *url.URL) (model.Item, bool) {
	link := sel.Find("a[href]").First()
	href, exists := link.Attr("href")
	if !exists || href == "" {
		return model.Item{}, false
	}

	ref, err := base.Parse(href)
	if err != nil {
		return model.Item{}, false
	}

	item := model.Item{Ref: ref.String()}

	if title, ok := link.Attr("title"); ok {
		item.Title = strings.TrimSpace(title)
	}
	if item.Title == "" {
		item.Title = strings.TrimSpace(sel.Find(".title, .video-title").First().Text())
	}
	if item.Title == "" {
		item.Title = strings.TrimSpace(link.Text())
	}

	img := sel.Find("img").First()
	if src, ok := img.Attr("data-src"); ok && src != "" {
		item.Thumbnail = src
	} else if src, ok := img.Attr("src"); ok {
		item.Thumbnail = src
	}

	item.Duration = strings.TrimSpace(sel.Find(".duration").First().Text())
	item.Uploader = strings.TrimSpace(sel.Find(".uploader a, .uploader, .username").First().Text())

	return item, true
}

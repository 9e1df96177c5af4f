package provider

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/starford/sensorhub/internal/apperr"
	"github.com/starford/sensorhub/internal/models"
)

const feedSummaryLimit = 300

// Feed turns any RSS or Atom feed into records. The feed URL is the
// service_url setting.
type Feed struct {
	named
}

// NewFeed creates a feed provider. Feed sensors have no default name.
func NewFeed(name string) *Feed {
	return &Feed{named: named{name: name}}
}

func (f *Feed) NewRequest(ctx context.Context, cfg models.Settings, _ time.Time) (*http.Request, error) {
	req, err := newGet(ctx, cfg.String(models.KeyServiceURL))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")
	return req, nil
}

func (f *Feed) Decode(body []byte, cfg models.Settings, _ time.Time) ([]models.Record, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("feed: %w", err)
	}

	records := make([]models.Record, 0, len(feed.Items))
	times := make([]int64, 0, len(feed.Items))
	for _, item := range feed.Items {
		k := item.GUID
		if k == "" {
			k = item.Link
		}
		if k == "" {
			continue
		}
		at := itemTime(item)
		rec := models.Record{
			K:       models.Key(k),
			Caption: strings.TrimSpace(item.Title),
			Summary: models.Truncate(htmlText(item.Description), feedSummaryLimit),
			Story:   item.Content,
			Img:     itemImage(item),
			Origin:  item.Link,
		}
		if rec.Story == "" {
			rec.Story = item.Description
		}
		if rec.Summary == "" {
			rec.Summary = models.Truncate(htmlText(item.Content), feedSummaryLimit)
		}
		if !at.IsZero() {
			rec.Date = at.UTC().Format(time.RFC3339)
		}
		records = append(records, rec)
		times = append(times, at.Unix())
	}
	if len(records) == 0 {
		return nil, apperr.ErrNoContent
	}
	// Feeds are usually newest first.
	sortByTime(records, times)
	return records, nil
}

func (f *Feed) FeaturedImage(cfg models.Settings) string {
	return cfg.String(models.KeyFeaturedImage)
}

func itemTime(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	return time.Time{}
}

func itemImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	return ""
}

// htmlText flattens an HTML fragment to whitespace-normalized text.
func htmlText(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

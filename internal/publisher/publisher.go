package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/gosimple/slug"

	"github.com/starford/sensorhub/internal/apperr"
	"github.com/starford/sensorhub/internal/ledger"
	"github.com/starford/sensorhub/internal/models"
	"github.com/starford/sensorhub/internal/parser"
	"github.com/starford/sensorhub/internal/storage"
)

// Ghost field limits.
const (
	maxTitle       = 255
	maxExcerpt     = 300
	maxDescription = 500
	maxImageBytes  = 20 << 20
)

var htmlTagRe = regexp.MustCompile(`<[a-zA-Z][^>]*>`)

// Source is the sensor-side view the publisher needs.
type Source interface {
	Name() string
	Settings() models.Settings
	GetFeaturedImage() string
}

// Publications is the dedup history kept in the ledger.
type Publications interface {
	Publication(sensor string, k models.Key) (*ledger.Publication, error)
	MarkPublished(sensor string, k models.Key, postID, postURL string) (*ledger.Publication, error)
	DeletePublications(sensor string) error
}

// Publisher turns records into Ghost posts, one tag per sensor.
type Publisher struct {
	client *Client
	pubs   Publications
	files  storage.Provider
	conv   *md.Converter
	logger *slog.Logger
}

// New creates a Publisher. files resolves local image paths and about
// documents; it may be nil.
func New(client *Client, pubs Publications, files storage.Provider, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client: client,
		pubs:   pubs,
		files:  files,
		conv:   md.NewConverter("", true, nil),
		logger: logger,
	}
}

// Publish creates a published post for rec under the sensor's tag.
// Records without k, caption, or summary fail with apperr.ErrIncomplete;
// records already published fail with apperr.ErrAlreadyExists.
func (p *Publisher) Publish(ctx context.Context, src Source, rec models.Record) (*ledger.Publication, error) {
	name := src.Name()
	if !rec.Publishable() {
		p.logger.Info("publisher: incomplete record, won't be published",
			slog.String("sensor", name),
			slog.String("k", string(rec.K)))
		return nil, fmt.Errorf("publisher: %s/%s: %w", name, rec.K, apperr.ErrIncomplete)
	}
	if _, err := p.pubs.Publication(name, rec.K); err == nil {
		return nil, fmt.Errorf("publisher: %s/%s: %w", name, rec.K, apperr.ErrAlreadyExists)
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	about := p.about(name)
	tag, err := p.ensureTag(ctx, src, about)
	if err != nil {
		return nil, err
	}

	story, err := p.storyMarkdown(rec)
	if err != nil {
		return nil, err
	}
	doc, err := mobiledoc(story)
	if err != nil {
		return nil, fmt.Errorf("publisher: encode story: %w", err)
	}

	tags := []Tag{{ID: tag.ID, Name: tag.Name}}
	if about != nil {
		for _, t := range about.Tags {
			if t != tag.Name {
				tags = append(tags, Tag{Name: t})
			}
		}
	}

	post, err := p.client.CreatePost(ctx, Post{
		Title:         models.Truncate(rec.Caption, maxTitle),
		CustomExcerpt: models.Truncate(rec.Summary, maxExcerpt),
		Mobiledoc:     doc,
		Tags:          tags,
		FeatureImage:  p.uploadImage(ctx, rec.Img),
		Status:        "published",
		Featured:      false,
		Visibility:    "public",
	})
	if err != nil {
		return nil, err
	}

	pub, err := p.pubs.MarkPublished(name, rec.K, post.ID, post.URL)
	if err != nil {
		return nil, fmt.Errorf("publisher: record publication: %w", err)
	}
	p.logger.Info("publisher: published",
		slog.String("sensor", name),
		slog.String("k", string(rec.K)),
		slog.String("post_id", post.ID))
	return pub, nil
}

// DeletePosts removes every post tagged with the sensor's tag, or every
// post on the site when all is true.
func (p *Publisher) DeletePosts(ctx context.Context, sensor string, all bool) (int, error) {
	filter := ""
	if !all {
		tag, err := p.client.FindTag(ctx, sensor)
		if err != nil {
			return 0, err
		}
		if tag == nil {
			return 0, nil
		}
		filter = "tag:" + tag.Slug
	}

	ids, err := p.client.PostIDs(ctx, filter)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, id := range ids {
		if err := p.client.DeletePost(ctx, id); err != nil {
			return deleted, err
		}
		deleted++
	}
	if !all && sensor != "" {
		if err := p.pubs.DeletePublications(sensor); err != nil {
			return deleted, err
		}
	}
	p.logger.Info("publisher: deleted posts", slog.String("sensor", sensor), slog.Int("count", deleted))
	return deleted, nil
}

// Purge deletes the sensor's posts and then its tag.
func (p *Publisher) Purge(ctx context.Context, sensor string) error {
	if _, err := p.DeletePosts(ctx, sensor, false); err != nil {
		return err
	}
	tag, err := p.client.FindTag(ctx, sensor)
	if err != nil {
		return err
	}
	if tag != nil {
		if err := p.client.DeleteTag(ctx, tag.ID); err != nil {
			return err
		}
	}
	p.logger.Info("publisher: purged", slog.String("sensor", sensor))
	return nil
}

// ensureTag finds or creates the tag named after the sensor.
func (p *Publisher) ensureTag(ctx context.Context, src Source, about *parser.About) (*Tag, error) {
	name := src.Name()
	tag, err := p.client.FindTag(ctx, name)
	if err != nil {
		return nil, err
	}
	if tag != nil {
		return tag, nil
	}

	description := models.Truncate(src.Settings().String(models.KeyAbout), maxDescription)
	image := src.GetFeaturedImage()
	if about != nil {
		if d := about.Description(maxDescription); d != "" {
			description = d
		}
		if about.FeaturedImage != "" {
			image = about.FeaturedImage
		}
	}
	return p.client.CreateTag(ctx, Tag{
		Name:         name,
		Slug:         slug.Make(name),
		Description:  description,
		FeatureImage: p.uploadImage(ctx, image),
	})
}

// storyMarkdown falls back to the summary, converts HTML stories to
// Markdown, and appends the origin link.
func (p *Publisher) storyMarkdown(rec models.Record) (string, error) {
	story := rec.Story
	if story == "" {
		story = rec.Summary
	}
	if htmlTagRe.MatchString(story) {
		converted, err := p.conv.ConvertString(story)
		if err != nil {
			return "", fmt.Errorf("publisher: convert story: %w", err)
		}
		story = converted
	}
	if rec.Origin != "" {
		story += "\n\n[Original Source](" + rec.Origin + ")"
	}
	return story, nil
}

// about loads the sensor's about document, nil when absent or unreadable.
func (p *Publisher) about(sensor string) *parser.About {
	if p.files == nil {
		return nil
	}
	a, err := parser.Load(p.files, sensor)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			p.logger.Warn("publisher: about document unreadable",
				slog.String("sensor", sensor),
				slog.String("error", err.Error()))
		}
		return nil
	}
	return a
}

// uploadImage uploads a remote or local image and returns its Ghost URL.
// Failures are logged and yield "" so the post is created without an image.
func (p *Publisher) uploadImage(ctx context.Context, src string) string {
	if src == "" {
		return ""
	}
	data, err := p.readImage(ctx, src)
	if err != nil {
		p.logger.Warn("publisher: image unavailable",
			slog.String("img", src),
			slog.String("error", err.Error()))
		return ""
	}
	name := path.Base(strings.SplitN(src, "?", 2)[0])
	if name == "" || name == "." || name == "/" {
		name = "image"
	}
	u, err := p.client.UploadImage(ctx, name, data)
	if err != nil {
		p.logger.Warn("publisher: image upload failed",
			slog.String("img", src),
			slog.String("error", err.Error()))
		return ""
	}
	return u
}

func (p *Publisher) readImage(ctx context.Context, src string) ([]byte, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
		if err != nil {
			return nil, err
		}
		resp, err := p.client.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("status %d", resp.StatusCode)
		}
		return io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	}
	if p.files == nil {
		return nil, fmt.Errorf("local image %q: no data directory", src)
	}
	return p.files.Read(src)
}

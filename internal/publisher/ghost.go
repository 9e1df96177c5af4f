package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strconv"
)

const pageSize = 100

// Tag is a Ghost tag.
type Tag struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name"`
	Slug         string `json:"slug,omitempty"`
	Description  string `json:"description,omitempty"`
	FeatureImage string `json:"feature_image,omitempty"`
}

// Post is the subset of a Ghost post sensorhub writes and reads.
type Post struct {
	ID            string `json:"id,omitempty"`
	URL           string `json:"url,omitempty"`
	Title         string `json:"title"`
	CustomExcerpt string `json:"custom_excerpt,omitempty"`
	Mobiledoc     string `json:"mobiledoc,omitempty"`
	Tags          []Tag  `json:"tags,omitempty"`
	FeatureImage  string `json:"feature_image,omitempty"`
	Status        string `json:"status,omitempty"`
	Featured      bool   `json:"featured"`
	Visibility    string `json:"visibility,omitempty"`
}

type pagination struct {
	Page  int  `json:"page"`
	Pages int  `json:"pages"`
	Next  *int `json:"next"`
}

// Tags lists every tag on the site.
func (c *Client) Tags(ctx context.Context) ([]Tag, error) {
	var out struct {
		Tags []Tag `json:"tags"`
	}
	q := url.Values{"limit": {"all"}, "fields": {"id,name,slug"}}
	if err := c.do(ctx, http.MethodGet, "tags/", q, nil, "", &out); err != nil {
		return nil, fmt.Errorf("publisher: list tags: %w", err)
	}
	return out.Tags, nil
}

// FindTag returns the tag called name, or nil when it does not exist.
func (c *Client) FindTag(ctx context.Context, name string) (*Tag, error) {
	tags, err := c.Tags(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tags {
		if t.Name == name {
			return &t, nil
		}
	}
	return nil, nil
}

// CreateTag creates t and returns the stored tag.
func (c *Client) CreateTag(ctx context.Context, t Tag) (*Tag, error) {
	body, err := jsonBody(map[string][]Tag{"tags": {t}})
	if err != nil {
		return nil, err
	}
	var out struct {
		Tags []Tag `json:"tags"`
	}
	if err := c.do(ctx, http.MethodPost, "tags/", nil, body, "application/json", &out); err != nil {
		return nil, fmt.Errorf("publisher: create tag %q: %w", t.Name, err)
	}
	if len(out.Tags) == 0 {
		return nil, fmt.Errorf("publisher: create tag %q: empty response", t.Name)
	}
	return &out.Tags[0], nil
}

// DeleteTag removes the tag with id.
func (c *Client) DeleteTag(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "tags/"+url.PathEscape(id)+"/", nil, nil, "", nil); err != nil {
		return fmt.Errorf("publisher: delete tag %s: %w", id, err)
	}
	return nil
}

// UploadImage stores data under name and returns the public image URL.
func (c *Client) UploadImage(ctx context.Context, name string, data []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", path.Base(name))
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(data); err != nil {
		return "", err
	}
	if err := mw.WriteField("ref", name); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	var out struct {
		Images []struct {
			URL string `json:"url"`
		} `json:"images"`
	}
	if err := c.do(ctx, http.MethodPost, "images/upload/", nil, &buf, mw.FormDataContentType(), &out); err != nil {
		return "", fmt.Errorf("publisher: upload %s: %w", name, err)
	}
	if len(out.Images) == 0 || out.Images[0].URL == "" {
		return "", fmt.Errorf("publisher: upload %s: empty response", name)
	}
	return out.Images[0].URL, nil
}

// CreatePost creates p and returns the stored post.
func (c *Client) CreatePost(ctx context.Context, p Post) (*Post, error) {
	body, err := jsonBody(map[string][]Post{"posts": {p}})
	if err != nil {
		return nil, err
	}
	var out struct {
		Posts []Post `json:"posts"`
	}
	if err := c.do(ctx, http.MethodPost, "posts/", nil, body, "application/json", &out); err != nil {
		return nil, fmt.Errorf("publisher: create post: %w", err)
	}
	if len(out.Posts) == 0 {
		return nil, fmt.Errorf("publisher: create post: empty response")
	}
	return &out.Posts[0], nil
}

// PostIDs lists the ids of every post, across all statuses, matching an
// NQL filter ("" for all posts).
func (c *Client) PostIDs(ctx context.Context, filter string) ([]string, error) {
	var ids []string
	for page := 1; ; page++ {
		q := url.Values{
			"limit":  {strconv.Itoa(pageSize)},
			"page":   {strconv.Itoa(page)},
			"fields": {"id"},
		}
		if filter != "" {
			q.Set("filter", filter)
		}
		var out struct {
			Posts []Post `json:"posts"`
			Meta  struct {
				Pagination pagination `json:"pagination"`
			} `json:"meta"`
		}
		if err := c.do(ctx, http.MethodGet, "posts/", q, nil, "", &out); err != nil {
			return nil, fmt.Errorf("publisher: list posts: %w", err)
		}
		for _, p := range out.Posts {
			ids = append(ids, p.ID)
		}
		if out.Meta.Pagination.Next == nil || len(out.Posts) == 0 {
			return ids, nil
		}
	}
}

// DeletePost removes the post with id.
func (c *Client) DeletePost(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "posts/"+url.PathEscape(id)+"/", nil, nil, "", nil); err != nil {
		return fmt.Errorf("publisher: delete post %s: %w", id, err)
	}
	return nil
}

// mobiledoc wraps markdown in a single markdown card.
func mobiledoc(markdown string) (string, error) {
	doc := map[string]any{
		"version": "0.3.1",
		"atoms":   []any{},
		"markups": []any{},
		"cards":   []any{[]any{"markdown", map[string]string{"markdown": markdown}}},
		"sections": []any{
			[]int{10, 0},
		},
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

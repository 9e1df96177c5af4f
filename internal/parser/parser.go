// Package parser reads sensor about documents: optional "<Sensor>.md" files
// in the data directory with YAML frontmatter and a Markdown body that
// describe a sensor to readers of the published site.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/sensorhub/internal/apperr"
	"github.com/starford/sensorhub/internal/storage"
)

// Ext is the file extension of an about document.
const Ext = ".md"

var tagRe = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)

// About holds the parsed content of an about document.
type About struct {
	Title         string
	Tags          []string
	FeaturedImage string
	Body          string
}

type frontmatter struct {
	Title         string   `yaml:"title"`
	Tags          []string `yaml:"tags"`
	FeaturedImage string   `yaml:"featured_image"`
}

// FileName returns the about document name for a sensor id.
func FileName(sensor string) string {
	return sensor + Ext
}

// Load reads and parses the about document of sensor. A missing document
// yields apperr.ErrNotFound.
func Load(files storage.Provider, sensor string) (*About, error) {
	data, err := files.Read(FileName(sensor))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("parser: about %s: %w", sensor, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("parser: about %s: %w", sensor, err)
	}
	return Parse(data)
}

// Parse extracts frontmatter, body, and tags from raw Markdown bytes.
func Parse(data []byte) (*About, error) {
	fm, body := splitFrontmatter(data)
	return &About{
		Title:         deriveTitle(fm, body),
		Tags:          extractTags(body, fm),
		FeaturedImage: strings.TrimSpace(fm.FeaturedImage),
		Body:          body,
	}, nil
}

// Description returns the body with headings and Markdown emphasis removed,
// whitespace collapsed, cut to at most n runes.
func (a *About) Description(n int) string {
	var lines []string
	for _, line := range strings.Split(a.Body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	text := strings.Join(strings.Fields(strings.Join(lines, " ")), " ")
	text = strings.NewReplacer("**", "", "__", "", "`", "").Replace(text)
	r := []rune(text)
	if n >= 0 && len(r) > n {
		return string(r[:n])
	}
	return text
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the Markdown body. If no frontmatter is found the entire content is body.
func splitFrontmatter(data []byte) (frontmatter, string) {
	const delim = "---"
	var fm frontmatter
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return fm, string(data)
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return fm, string(data)
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		// Invalid YAML: treat the whole file as body.
		return frontmatter{}, string(data)
	}
	return fm, body
}

// extractTags collects frontmatter tags followed by inline #tags from body.
func extractTags(body string, fm frontmatter) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	for _, t := range fm.Tags {
		add(t)
	}
	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		add(m[1])
	}
	return out
}

// deriveTitle returns the frontmatter title if present, otherwise the first
// H1 heading, otherwise "".
func deriveTitle(fm frontmatter, body string) string {
	if fm.Title != "" {
		return fm.Title
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}

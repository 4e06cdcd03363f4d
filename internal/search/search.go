// Package search indexes approved projects so the catalog can be queried by
// name, description, author, category or platform.
package search

import (
	"encoding/hex"
	"strings"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Title     string `json:"title"`
	Snippet   string `json:"snippet"`
	Category  string `json:"category"`
	Platform  string `json:"platform"`
	ForumLink string `json:"forumLink,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text     string
	Category string
	Platform string
	Limit    int
	Offset   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// ProjectRecord is the data we index for the latest approved version of a
// project.
type ProjectRecord struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Version          string   `json:"version"`
	DescriptionShort string   `json:"description_short"`
	DescriptionLong  string   `json:"description_long"`
	Authors          []string `json:"authors"`
	Category         string   `json:"category"`
	Platform         string   `json:"platform"`
	ForumLink        string   `json:"forum_link,omitempty"`
	Timestamp        int64    `json:"timestamp"`
}

// RecordID derives the index primary key from a project name. Meilisearch
// keys only allow [A-Za-z0-9_-], so the raw name is hex encoded.
func RecordID(name string) string {
	return "p" + hex.EncodeToString([]byte(name))
}

func (r ProjectRecord) result() Result {
	return Result{
		Name:      r.Name,
		Version:   r.Version,
		Title:     r.Name,
		Snippet:   r.DescriptionShort,
		Category:  r.Category,
		Platform:  r.Platform,
		ForumLink: r.ForumLink,
	}
}

// matches is the substring test used when Meilisearch is not available.
func (r ProjectRecord) matches(q Query) bool {
	if q.Category != "" && !strings.EqualFold(q.Category, r.Category) {
		return false
	}
	if q.Platform != "" && !strings.EqualFold(q.Platform, r.Platform) {
		return false
	}
	text := strings.ToLower(strings.TrimSpace(q.Text))
	if text == "" {
		return true
	}
	fields := append([]string{r.Name, r.DescriptionShort, r.DescriptionLong}, r.Authors...)
	for _, field := range fields {
		if strings.Contains(strings.ToLower(field), text) {
			return true
		}
	}
	return false
}

package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"moonbase/api/internal/manifest"
)

// Catalog reads approved projects straight from the public manifest and the
// per-version metadata files. It backs search when Meilisearch is down and
// feeds full reindexes.
type Catalog struct {
	repoDir   string
	manifests *manifest.Store
}

func NewCatalog(repoDir string, manifests *manifest.Store) *Catalog {
	return &Catalog{repoDir: repoDir, manifests: manifests}
}

// Load returns one record per public project, describing its most recently
// approved version. Projects whose metadata file is missing are skipped.
func (c *Catalog) Load() ([]ProjectRecord, error) {
	doc, err := c.manifests.Read(manifest.Public)
	if err != nil {
		return nil, fmt.Errorf("read public manifest: %w", err)
	}

	records := make([]ProjectRecord, 0, len(doc))
	for _, name := range doc.Projects() {
		entry := doc[name]
		if len(entry.Versions) == 0 {
			continue
		}
		version := entry.Versions[len(entry.Versions)-1].ID
		record, err := c.LoadVersion(name, version)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// LoadVersion reads <repo>/<name>/<version>/metadata.json into a record.
func (c *Catalog) LoadVersion(name, version string) (ProjectRecord, error) {
	raw, err := os.ReadFile(filepath.Join(c.repoDir, name, version, "metadata.json"))
	if err != nil {
		return ProjectRecord{}, fmt.Errorf("read metadata for %s %s: %w", name, version, err)
	}
	var record ProjectRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return ProjectRecord{}, fmt.Errorf("decode metadata for %s %s: %w", name, version, err)
	}
	record.ID = RecordID(name)
	record.Name = name
	record.Version = version
	return record, nil
}

// Search runs a case-insensitive substring match over the catalog.
func (c *Catalog) Search(q Query) ([]Result, int, error) {
	records, err := c.Load()
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Timestamp > records[j].Timestamp })

	var matched []Result
	for _, record := range records {
		if record.matches(q) {
			matched = append(matched, record.result())
		}
	}
	total := len(matched)

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	start := q.Offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

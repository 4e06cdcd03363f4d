package search

import (
	"log"
)

// Service tries Meilisearch first and falls back to scanning the catalog.
type Service struct {
	meili   *Meili
	catalog *Catalog
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, catalog *Catalog) *Service {
	return &Service{meili: meili, catalog: catalog}
}

func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to catalog scan: %v", err)
	}

	if s.catalog == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.catalog.Search(q)
	if err != nil {
		log.Printf("search: catalog scan error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexApproved pushes the newly approved version of a project to
// Meilisearch (fire-and-forget).
func (s *Service) IndexApproved(name, version string) {
	if s.meili == nil || !s.meili.Healthy() || s.catalog == nil {
		return
	}
	record, err := s.catalog.LoadVersion(name, version)
	if err != nil {
		log.Printf("search: load %s %s for indexing: %v", name, version, err)
		return
	}
	go func() {
		if err := s.meili.IndexProject(record); err != nil {
			log.Printf("search: index project %s: %v", name, err)
		}
	}()
}

// ReindexAll pushes every public project to Meilisearch. Called at startup.
func (s *Service) ReindexAll() {
	if s.meili == nil || !s.meili.Healthy() || s.catalog == nil {
		return
	}
	records, err := s.catalog.Load()
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexProjects(records); err != nil {
		log.Printf("search: reindex projects: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

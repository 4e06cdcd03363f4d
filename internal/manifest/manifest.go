// Package manifest persists the review and public manifests: JSON documents
// mapping a project name to its forum topic and submitted versions.
package manifest

import (
	"sort"
)

// Name selects one of the two manifest documents.
type Name string

const (
	Review Name = "review"
	Public Name = "public"
)

// VersionRecord identifies one submitted version and the forum post that
// tracks it. Revision is only set while the version is under review.
type VersionRecord struct {
	ID       string `json:"id"`
	PostID   int64  `json:"postId"`
	Revision *int   `json:"revision,omitempty"`
}

// Entry is a project's slot in a manifest.
type Entry struct {
	TopicID  int64           `json:"topicId"`
	Versions []VersionRecord `json:"versions"`
}

// Document maps project name to entry. Entries never have an empty version
// list once written; RemoveVersion and Prune drop them.
type Document map[string]*Entry

// TopicID returns the project's topic id, or 0 when the project is unknown.
func (d Document) TopicID(project string) int64 {
	entry, ok := d[project]
	if !ok || entry == nil {
		return 0
	}
	return entry.TopicID
}

// FindVersion returns a pointer into the document so callers can mutate the
// record in place.
func (d Document) FindVersion(project, version string) *VersionRecord {
	entry, ok := d[project]
	if !ok || entry == nil {
		return nil
	}
	for i := range entry.Versions {
		if entry.Versions[i].ID == version {
			return &entry.Versions[i]
		}
	}
	return nil
}

// HasVersion reports whether (project, version) is present.
func (d Document) HasVersion(project, version string) bool {
	return d.FindVersion(project, version) != nil
}

// AddVersion appends record to the project's entry, creating the entry with
// topicID when absent. An existing record with the same id is replaced so ids
// stay unique within an entry.
func (d Document) AddVersion(project string, topicID int64, record VersionRecord) {
	entry, ok := d[project]
	if !ok || entry == nil {
		entry = &Entry{TopicID: topicID}
		d[project] = entry
	}
	if entry.TopicID == 0 {
		entry.TopicID = topicID
	}
	for i := range entry.Versions {
		if entry.Versions[i].ID == record.ID {
			entry.Versions[i] = record
			return
		}
	}
	entry.Versions = append(entry.Versions, record)
}

// RemoveVersion deletes the record and drops the entry when it becomes empty.
func (d Document) RemoveVersion(project, version string) (VersionRecord, bool) {
	entry, ok := d[project]
	if !ok || entry == nil {
		return VersionRecord{}, false
	}
	var removed VersionRecord
	found := false
	kept := entry.Versions[:0]
	for _, record := range entry.Versions {
		if !found && record.ID == version {
			removed = record
			found = true
			continue
		}
		kept = append(kept, record)
	}
	entry.Versions = kept
	if len(entry.Versions) == 0 {
		delete(d, project)
	}
	return removed, found
}

// PostMatch is a review record located from a forum post.
type PostMatch struct {
	Project string
	Entry   *Entry
	Record  VersionRecord
}

// FindPost scans every entry for a record whose post id matches and whose
// entry topic id matches. Records without a post never match. Projects are
// visited in name order so the result is stable.
func (d Document) FindPost(topicID, postID int64) (PostMatch, bool) {
	for _, project := range d.Projects() {
		entry := d[project]
		if entry == nil || entry.TopicID != topicID {
			continue
		}
		for _, record := range entry.Versions {
			if record.PostID != 0 && record.PostID == postID {
				return PostMatch{Project: project, Entry: entry, Record: record}, true
			}
		}
	}
	return PostMatch{}, false
}

// Projects returns the project names in sorted order.
func (d Document) Projects() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Prune removes nil and empty entries.
func (d Document) Prune() {
	for name, entry := range d {
		if entry == nil || len(entry.Versions) == 0 {
			delete(d, name)
		}
	}
}

// IntPtr is a small helper for revision counters.
func IntPtr(value int) *int {
	return &value
}

package app

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"
)

const (
	maxNameLength             = 32
	maxShortDescriptionLength = 40
)

// requiredFields is checked in order; the first missing one is reported.
var requiredFields = []string{
	"name",
	"description_short",
	"description_long",
	"version",
	"authors",
	"icon",
	"category",
	"platform",
	"zip_name",
	"update_notes",
}

// Metadata is the document a submitter describes a project version with.
// It is written to <repo>/<name>/<version>/metadata.json.
type Metadata struct {
	Name             string   `json:"name"`
	Version          string   `json:"version"`
	DescriptionShort string   `json:"description_short"`
	DescriptionLong  string   `json:"description_long"`
	Authors          []string `json:"authors"`
	Icon             string   `json:"icon"`
	Category         string   `json:"category"`
	Platform         string   `json:"platform"`
	ZipName          string   `json:"zip_name,omitempty"`
	MetadataURL      string   `json:"metadata_url,omitempty"`
	UpdateNotes      string   `json:"update_notes"`
	ForumLink        string   `json:"forum_link,omitempty"`
	Timestamp        int64    `json:"timestamp,omitempty"`
	Checksum         string   `json:"checksum,omitempty"`
}

// ValidateMetadata checks a submission's raw fields. It returns nil or a
// *ValidationError describing the first rule broken.
func ValidateMetadata(fields map[string]json.RawMessage) error {
	for _, field := range requiredFields {
		raw, ok := fields[field]
		if !ok || isJSONNull(raw) {
			return &ValidationError{Field: field, Reason: fmt.Sprintf("%s missing.", field)}
		}
	}

	values := make(map[string]string, len(requiredFields))
	for _, field := range requiredFields {
		if field == "authors" {
			continue
		}
		var value string
		if err := json.Unmarshal(fields[field], &value); err != nil {
			return &ValidationError{Field: field, Reason: fmt.Sprintf("%s must be a string.", field)}
		}
		values[field] = value
	}
	var authors []string
	if err := json.Unmarshal(fields["authors"], &authors); err != nil {
		return &ValidationError{Field: "authors", Reason: "authors must be a list of usernames."}
	}
	if len(authors) == 0 {
		return &ValidationError{Field: "authors", Reason: "authors must list at least one username."}
	}

	name := values["name"]
	if utf8.RuneCountInString(name) > maxNameLength {
		return &ValidationError{Field: "name", Reason: fmt.Sprintf("name must be %d characters or fewer.", maxNameLength)}
	}
	if !isASCII(name) {
		return &ValidationError{Field: "name", Reason: "name must contain ascii characters only."}
	}
	version := values["version"]
	if !isASCII(version) {
		return &ValidationError{Field: "version", Reason: "version must contain ascii characters only."}
	}
	if utf8.RuneCountInString(values["description_short"]) > maxShortDescriptionLength {
		return &ValidationError{Field: "description_short", Reason: fmt.Sprintf("description_short must be %d characters or fewer.", maxShortDescriptionLength)}
	}

	// name and version become directories under the repo.
	if !isSafePathSegment(name) {
		return &ValidationError{Field: "name", Reason: "name is not a valid directory name."}
	}
	if !isSafePathSegment(version) {
		return &ValidationError{Field: "version", Reason: "version is not a valid directory name."}
	}
	if isServiceName(name) {
		return &ValidationError{Field: "name", Reason: "name is reserved."}
	}
	if !isIconFile(iconBase(values["icon"])) {
		return &ValidationError{Field: "icon", Reason: "icon must be a png, jpeg or gif image."}
	}
	return nil
}

// DecodeMetadata validates the raw fields and returns the typed document.
func DecodeMetadata(fields map[string]json.RawMessage) (Metadata, error) {
	if err := ValidateMetadata(fields); err != nil {
		return Metadata{}, err
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return Metadata{}, fmt.Errorf("encode metadata: %w", err)
	}
	var metadata Metadata
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return Metadata{}, &ValidationError{Field: "", Reason: "metadata has fields of the wrong type."}
	}
	return metadata, nil
}

func isJSONNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

func isASCII(value string) bool {
	for _, r := range value {
		if r > 127 {
			return false
		}
	}
	return true
}

// isSafePathSegment rejects values that would escape the repo or collide
// with its dot directories.
func isSafePathSegment(value string) bool {
	if strings.TrimSpace(value) == "" || strings.HasPrefix(value, ".") {
		return false
	}
	return !strings.ContainsAny(value, "/\\\x00")
}

// isServiceName reports whether a project directory called name would land
// on a path the service owns in the repo: the upload staging directory or a
// manifest file.
func isServiceName(name string) bool {
	lower := strings.ToLower(name)
	if lower == "uploads" {
		return true
	}
	return strings.HasPrefix(lower, "manifest-") && strings.HasSuffix(lower, ".json")
}

var iconExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
}

// isIconFile reports whether base is an image name that cannot collide with
// project.zip or metadata.json in the version directory.
func isIconFile(base string) bool {
	return iconExtensions[strings.ToLower(path.Ext(base))]
}

var smartQuotes = strings.NewReplacer(
	"‘", "'",
	"’", "'",
	"“", `"`,
	"”", `"`,
)

// displayName is the project name as shown in forum titles and posts.
// Manifest keys and paths always use the raw name.
func displayName(name string) string {
	return smartQuotes.Replace(name)
}

// iconBase is the file name of the icon entry, without its directories
// inside the archive.
func iconBase(icon string) string {
	normalized := strings.ReplaceAll(icon, `\`, "/")
	return path.Base(normalized)
}

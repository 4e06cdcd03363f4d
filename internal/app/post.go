package app

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"text/template"
)

var landingRequestTemplate = template.Must(template.New("landing-request").Parse(
	`## Landing Request (Version: {{.Version}})

![]({{.IconURL}})
---
### Course Corrections (Update notes):
{{.UpdateNotes}}

### Callsign (Short desc.):
{{.DescriptionShort}}

### Ship Manifest (Long desc.):
{{.DescriptionLong}}

### {{.Roster}}
### Cargo (Category & platform):
{{.Category}} for {{.Platform}}.

[Download Zip]({{.DownloadURL}})

---
:satellite: Approach pad #{{.LandingPad}} and await further instruction. :satellite:`))

type landingRequest struct {
	Version          string
	IconURL          string
	UpdateNotes      string
	DescriptionShort string
	DescriptionLong  string
	Roster           string
	Category         string
	Platform         string
	DownloadURL      string
	LandingPad       int
}

func topicTitle(name string) string {
	return fmt.Sprintf("%s (Project Thread)", displayName(name))
}

func revisionMarker(revision int) string {
	return fmt.Sprintf("\n\n---\nrevision #%d", revision)
}

func confirmationMessage(version string) string {
	return fmt.Sprintf(":satellite: Version %s touchdown confirmed. :satellite:", version)
}

// publicURL builds https://<host>/<segments...> with every segment escaped.
func publicURL(host string, segments ...string) string {
	escaped := make([]string, 0, len(segments))
	for _, segment := range segments {
		escaped = append(escaped, url.PathEscape(segment))
	}
	return "https://" + strings.TrimRight(host, "/") + "/" + strings.Join(escaped, "/")
}

// renderLandingRequest builds the review post for a submission. Author
// lookups that fail count as unknown users.
func (s *Service) renderLandingRequest(ctx context.Context, metadata Metadata) (string, error) {
	request := landingRequest{
		Version:          metadata.Version,
		IconURL:          publicURL(s.cfg.PublicHost, metadata.Name, metadata.Version, iconBase(metadata.Icon)),
		UpdateNotes:      metadata.UpdateNotes,
		DescriptionShort: metadata.DescriptionShort,
		DescriptionLong:  metadata.DescriptionLong,
		Roster:           s.authorRoster(ctx, metadata.Authors),
		Category:         metadata.Category,
		Platform:         metadata.Platform,
		DownloadURL:      publicURL(s.cfg.PublicHost, metadata.Name, metadata.Version, "project.zip"),
		LandingPad:       s.landingPad(),
	}
	var buf bytes.Buffer
	if err := landingRequestTemplate.Execute(&buf, request); err != nil {
		return "", fmt.Errorf("render landing request: %w", err)
	}
	return buf.String(), nil
}

func (s *Service) authorRoster(ctx context.Context, authors []string) string {
	var roster strings.Builder
	if len(authors) == 1 {
		roster.WriteString("Pilot:\n")
	} else {
		roster.WriteString("Crew:\n")
	}
	for _, username := range authors {
		_, known, err := s.forum.GetUserInfoByName(ctx, username)
		if err != nil {
			log.Printf("forum: look up author %q: %v", username, err)
		}
		if known {
			roster.WriteString("@")
		}
		roster.WriteString(username)
		roster.WriteString("\n")
	}
	return roster.String()
}

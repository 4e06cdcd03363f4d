// Package email notifies Moonbase maintainers about review activity via SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	// Recipients of review notifications
	NotifyTo []string
}

type sendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

func NewService(config Config) *Service {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured and has recipients.
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != "" && len(s.config.NotifyTo) > 0
}

// SendHTMLEmail sends an HTML email with a plain text fallback part.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-moonbase"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", sanitizeHeader(subject))
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", textBody)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

type Event string

const (
	EventSubmitted Event = "submitted"
	EventRevised   Event = "revised"
	EventApproved  Event = "approved"
	EventRejected  Event = "rejected"
)

// ReviewNotice describes one lifecycle transition.
type ReviewNotice struct {
	Event     Event
	Project   string
	Version   string
	Authors   []string
	Revision  int
	ForumLink string
}

func (n ReviewNotice) subject() string {
	switch n.Event {
	case EventSubmitted:
		return fmt.Sprintf("[Moonbase] %s %s submitted for review", n.Project, n.Version)
	case EventRevised:
		return fmt.Sprintf("[Moonbase] %s %s revised (revision %d)", n.Project, n.Version, n.Revision)
	case EventApproved:
		return fmt.Sprintf("[Moonbase] %s %s approved", n.Project, n.Version)
	case EventRejected:
		return fmt.Sprintf("[Moonbase] %s %s rejected", n.Project, n.Version)
	default:
		return fmt.Sprintf("[Moonbase] %s %s", n.Project, n.Version)
	}
}

func (n ReviewNotice) text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %s\r\n", n.Project, n.Version, n.Event)
	if len(n.Authors) > 0 {
		fmt.Fprintf(&b, "Authors: %s\r\n", strings.Join(n.Authors, ", "))
	}
	if n.ForumLink != "" {
		fmt.Fprintf(&b, "Thread: %s\r\n", n.ForumLink)
	}
	return b.String()
}

// NotifyReview mails the configured maintainers. It is a no-op returning nil
// when SMTP is not configured.
func (s *Service) NotifyReview(notice ReviewNotice) error {
	if !s.IsConfigured() {
		return nil
	}
	html, err := renderTemplate(reviewNoticeTemplate, notice)
	if err != nil {
		return fmt.Errorf("render review notice template: %w", err)
	}
	return s.SendHTMLEmail(s.config.NotifyTo, notice.subject(), notice.text(), html)
}

func sanitizeHeader(value string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(value)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const reviewNoticeTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Project}} {{.Version}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>Moonbase</h1>
    </div>

    <h2>{{.Project}} {{.Version}}</h2>

    {{if eq .Event "submitted"}}<p>A new version was submitted and is waiting for review.</p>{{end}}
    {{if eq .Event "revised"}}<p>The submission was revised. This is revision #{{.Revision}}.</p>{{end}}
    {{if eq .Event "approved"}}<p>The version was approved and is now public.</p>{{end}}
    {{if eq .Event "rejected"}}<p>The version was rejected and its upload discarded.</p>{{end}}

    {{if .Authors}}<p>Authors: {{range $i, $a := .Authors}}{{if $i}}, {{end}}{{$a}}{{end}}</p>{{end}}

    {{if .ForumLink}}<p>
        <a href="{{.ForumLink}}" class="button">Open review thread</a>
    </p>{{end}}

    <div class="footer">
        <p>You receive this because your address is listed in MOONBASE_NOTIFY_TO.</p>
    </div>
</body>
</html>`

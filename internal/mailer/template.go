package mailer

import (
	"fmt"
	"html/template"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"outreach-automation-go/internal/config"
)

// fallbackOutreach keeps outreach working when the configured template file
// is missing.
const fallbackOutreach = `<html><body>
<h2>{{.Subject}}</h2>
<p>Dear {{.Company}},</p>
<div>{{.Body}}</div>
<ul>
{{range .Solutions}}<li>{{.}}</li>
{{end}}</ul>
<p>Best regards,<br>{{.SenderName}}</p>
</body></html>`

const fallbackReply = `<html><body>
<div>{{.Body}}</div>
<p>Best regards,<br>{{.SenderName}}</p>
</body></html>`

// OutreachData fills the outreach template.
type OutreachData struct {
	Subject    string
	Company    string
	Body       template.HTML
	Solutions  []string
	SenderName string
}

// ReplyData fills the reply template.
type ReplyData struct {
	Body       template.HTML
	SenderName string
}

// Templates renders campaign emails.
type Templates struct {
	outreach   *template.Template
	reply      *template.Template
	senderName string
}

// LoadTemplates parses the configured template files, falling back to the
// built-in variants when a file is absent.
func LoadTemplates(cfg *config.MailConfig) (*Templates, error) {
	outreach, err := loadTemplate("outreach", cfg.OutreachTemplatePath, fallbackOutreach)
	if err != nil {
		return nil, err
	}
	reply, err := loadTemplate("reply", cfg.ReplyTemplatePath, fallbackReply)
	if err != nil {
		return nil, err
	}
	return &Templates{
		outreach:   outreach,
		reply:      reply,
		senderName: cfg.SenderName,
	}, nil
}

func loadTemplate(name, path, fallback string) (*template.Template, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logrus.Warnf("Template %s not found at %s, using built-in fallback", name, path)
			raw = []byte(fallback)
		} else {
			return nil, fmt.Errorf("failed to read %s template: %w", name, err)
		}
	}
	tmpl, err := template.New(name).Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s template: %w", name, err)
	}
	return tmpl, nil
}

// RenderOutreach produces the HTML body for a first-touch email. Solutions
// are padded to three entries for templates with fixed slots.
func (t *Templates) RenderOutreach(subject, company, body string, solutions []string) (string, error) {
	for len(solutions) < 3 {
		solutions = append(solutions, "Drive growth")
	}
	data := OutreachData{
		Subject:    subject,
		Company:    company,
		Body:       template.HTML(body),
		Solutions:  solutions[:3],
		SenderName: t.senderName,
	}
	var b strings.Builder
	if err := t.outreach.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render outreach template: %w", err)
	}
	return b.String(), nil
}

// RenderReply produces the HTML body for an auto-reply.
func (t *Templates) RenderReply(body string) (string, error) {
	data := ReplyData{
		Body:       template.HTML(body),
		SenderName: t.senderName,
	}
	var b strings.Builder
	if err := t.reply.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render reply template: %w", err)
	}
	return b.String(), nil
}

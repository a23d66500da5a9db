package core

import (
	"bytes"
	"context"
	"embed"
	"net/mail"
	"path"
	"strings"
	"sync"
	texttmpl "text/template"

	"github.com/pkg/errors"
)

//go:embed assets/templates/email/*.txt
var emailTemplateFS embed.FS

var (
	templates map[string]*texttmpl.Template
	tmplInit  sync.Once
	tmplErr   error
)

type (
	EmailMessage struct {
		To      []mail.Address
		Subject string
		BodyStr string // simple text/plain, non-templated content

		// templated contents
		TemplateName string // without ext
		TemplateData interface{}
		TextContent  string
	}

	// EmailService is any service that can deliver a single email message.
	// Implementations must not panic across this boundary; delivery failure
	// is reported through the returned error.
	EmailService interface {
		SendMessage(ctx context.Context, msg *EmailMessage) error
	}
)

func (m *EmailMessage) Render() error {
	if m.BodyStr != "" {
		m.TextContent = m.BodyStr
		return nil
	}
	if m.TemplateName == "" {
		return nil
	}

	tmplInit.Do(parseTemplates) // only parse once on first use
	if tmplErr != nil {
		return tmplErr
	}

	tmpl, ok := templates[m.TemplateName]
	if !ok {
		return errors.Errorf("unknown email template %q", m.TemplateName)
	}
	var buff bytes.Buffer
	if err := tmpl.Execute(&buff, m.TemplateData); err != nil {
		return errors.Wrap(err, "rendering email template")
	}
	m.TextContent = buff.String()
	return nil
}

func (m *EmailMessage) HasRecipients() bool { return len(m.To) > 0 }
func (m *EmailMessage) HasContent() bool    { return m.TextContent != "" }

func parseTemplates() {
	templates = make(map[string]*texttmpl.Template)

	fps, err := emailTemplateFS.ReadDir(path.Join("assets", "templates", "email"))
	if err != nil {
		tmplErr = errors.Wrap(err, "reading email templates")
		return
	}
	for _, fp := range fps {
		fname := fp.Name()
		if strings.HasPrefix(fname, "_") || !strings.HasSuffix(fname, ".txt") {
			continue
		}
		name := strings.TrimSuffix(fname, ".txt")
		tmpl, err := texttmpl.ParseFS(emailTemplateFS, path.Join("assets", "templates", "email", fname))
		if err != nil {
			tmplErr = errors.Wrapf(err, "parsing email template %q", fname)
			return
		}
		templates[name] = tmpl.Option("missingkey=error")
	}
}

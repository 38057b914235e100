package core

import (
	"bytes"
	"encoding/base64"
	"fmt"
	htmltmpl "html/template"
	"io"
	"net/http"
	"net/mail"
	"path/filepath"
	"strings"
	"sync"
	texttmpl "text/template"
)

const (
	textExt = ".txt"
	htmlExt = ".gohtml"
)

var (
	emailTemplates   = make(map[string]emailTemplate)
	emailTemplatesMu sync.RWMutex
	frontendBaseURL  string
)

type (
	// executor is implemented by both text and html templates.
	executor interface {
		Execute(w io.Writer, data interface{}) error
	}

	// emailTemplate holds the variants of one template name; either may be nil.
	emailTemplate struct {
		text executor
		html executor
	}

	Attachment struct {
		Content     *bytes.Buffer // base64 encoded
		ContentType string
		Filename    string
	}

	EmailMessage struct {
		To          []mail.Address
		Cc          []mail.Address
		Bcc         []mail.Address
		Subject     string
		BodyStr     string // simple text/plain, non-templated content
		Attachments []Attachment

		// templated contents
		TemplateName string // without ext
		TemplateData interface{}
		TextContent  string
		HTMLContent  string
	}

	// ContextData is what templates execute on: {{.FrontendBaseURL}} and {{.Data.X}}.
	ContextData struct {
		FrontendBaseURL string
		Data            interface{}
	}

	// EmailService is any service that can send emails
	EmailService interface {
		// SendMessages sends messages concurrently
		SendMessages(messages ...*EmailMessage)
	}
)

func lookupEmailTemplate(name string) (emailTemplate, ContextData, bool) {
	emailTemplatesMu.RLock()
	defer emailTemplatesMu.RUnlock()
	tmpl, ok := emailTemplates[name]
	return tmpl, ContextData{FrontendBaseURL: frontendBaseURL}, ok
}

func execute(tmpl executor, data ContextData) (string, error) {
	if tmpl == nil {
		return "", nil
	}
	var buff bytes.Buffer
	if err := tmpl.Execute(&buff, data); err != nil {
		return "", err
	}
	return buff.String(), nil
}

// Render fills TextContent and HTMLContent. BodyStr wins over the text template,
// and is also used when the template was never parsed.
func (m *EmailMessage) Render() error {
	if m.TemplateName != "" {
		if tmpl, data, ok := lookupEmailTemplate(m.TemplateName); ok {
			data.Data = m.TemplateData
			var err error
			if m.BodyStr == "" {
				if m.TextContent, err = execute(tmpl.text, data); err != nil {
					return fmt.Errorf("rendering %s%s: %w", m.TemplateName, textExt, err)
				}
			}
			if m.HTMLContent, err = execute(tmpl.html, data); err != nil {
				return fmt.Errorf("rendering %s%s: %w", m.TemplateName, htmlExt, err)
			}
		}
	}
	if m.TextContent == "" && m.BodyStr != "" {
		m.TextContent = m.BodyStr
	}
	return nil
}

// Attach base64 encodes r as filename. The content type is sniffed unless given.
func (m *EmailMessage) Attach(r io.Reader, filename string, ct ...string) error {
	content, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	at := Attachment{
		Content:     bytes.NewBufferString(base64.StdEncoding.EncodeToString(content)),
		ContentType: http.DetectContentType(content),
		Filename:    filename,
	}
	if len(ct) > 0 {
		at.ContentType = ct[0]
	}
	m.Attachments = append(m.Attachments, at)
	return nil
}

func (m *EmailMessage) HasRecipients() bool  { return len(m.To) > 0 }
func (m *EmailMessage) HasContent() bool     { return (m.TextContent != "") || (m.HTMLContent != "") }
func (m *EmailMessage) HasAttachments() bool { return len(m.Attachments) > 0 }

// ParseEmailTemplates loads <WorkDir>/assets/templates/email/*.{txt,gohtml}.
// Files starting with "_" are layouts shared by every template of the same extension.
// A template that fails to parse is logged and skipped.
func ParseEmailTemplates(conf *Config, logger Logger) {
	dir := filepath.Join(conf.WorkDir, "assets", "templates", "email")
	paths, err := filepath.Glob(filepath.Join(dir, "*"))
	if err != nil {
		logger.Error(fmt.Sprintf("parsing email templates: %v", err), err)
		return
	}
	strict := conf.Debug || conf.TestMode

	parsed := make(map[string]emailTemplate)
	for _, path := range paths {
		fname := filepath.Base(path)
		ext := filepath.Ext(fname)
		if strings.HasPrefix(fname, "_") {
			continue
		}
		name := strings.TrimSuffix(fname, ext)
		tmpl := parsed[name]

		switch ext {
		case textExt:
			t, err := texttmpl.ParseFiles(filepath.Join(dir, "_base"+textExt), path)
			if err != nil {
				logger.Error(fmt.Sprintf("parsing email template %q: %v", fname, err), err)
				continue
			}
			if strict {
				t = t.Option("missingkey=error")
			}
			tmpl.text = t
		case htmlExt:
			t, err := htmltmpl.ParseFiles(filepath.Join(dir, "_base"+htmlExt), path)
			if err != nil {
				logger.Error(fmt.Sprintf("parsing email template %q: %v", fname, err), err)
				continue
			}
			if strict {
				t = t.Option("missingkey=error")
			}
			tmpl.html = t
		default:
			continue
		}
		parsed[name] = tmpl
	}

	emailTemplatesMu.Lock()
	emailTemplates = parsed
	frontendBaseURL = conf.FrontendBaseURL
	emailTemplatesMu.Unlock()
}

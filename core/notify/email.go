package notify

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log"
	"strings"

	"utp-reporta/config"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
)

//go:embed templates/*.html
var templateFS embed.FS

func LoadTemplates() (*template.Template, error) {
	return template.ParseFS(templateFS, "templates/*.html")
}

// RenderEmail executes the named template ("reporte-estado" resolves to reporte-estado.html).
func RenderEmail(tpl *template.Template, name string, data map[string]any) (string, error) {
	t := tpl.Lookup(name + ".html")
	if t == nil {
		return "", fmt.Errorf("email template %q not found", name)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ShoutrrrMailer delivers HTML email through a shoutrrr smtp:// service URL.
type ShoutrrrMailer struct {
	sender    *router.ServiceRouter
	templates *template.Template
	from      string
}

func NewShoutrrrMailer(cfg config.NotificationsConfig) (*ShoutrrrMailer, error) {
	if strings.TrimSpace(cfg.SMTPURL) == "" {
		return nil, errors.New("smtp url is required")
	}
	tpl, err := LoadTemplates()
	if err != nil {
		return nil, err
	}
	sender, err := shoutrrr.CreateSender(cfg.SMTPURL)
	if err != nil {
		return nil, fmt.Errorf("smtp sender: %w", sanitize(err, cfg.SMTPURL))
	}
	if cfg.SendTimeout > 0 {
		sender.Timeout = cfg.SendTimeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))
	return &ShoutrrrMailer{sender: sender, templates: tpl, from: strings.TrimSpace(cfg.FromAddress)}, nil
}

func (m *ShoutrrrMailer) Send(ctx context.Context, msg Email) error {
	body, err := RenderEmail(m.templates, msg.Template, msg.Data)
	if err != nil {
		return &DeliveryError{Channel: ChannelEmail, Recipient: msg.To, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return &DeliveryError{Channel: ChannelEmail, Recipient: msg.To, Err: err}
	}
	params := stypes.Params{}
	params.SetTitle(msg.Subject)
	params["toaddresses"] = msg.To
	if m.from != "" {
		params["fromaddress"] = m.from
	}
	for _, e := range m.sender.Send(body, &params) {
		if e != nil {
			return &DeliveryError{Channel: ChannelEmail, Recipient: msg.To, Err: e}
		}
	}
	return nil
}

// sanitize keeps SMTP credentials out of logged errors.
func sanitize(err error, rawURL string) error {
	text := err.Error()
	if at := strings.LastIndex(rawURL, "@"); at > 0 {
		if scheme := strings.Index(rawURL, "://"); scheme >= 0 && scheme+3 < at {
			text = strings.ReplaceAll(text, rawURL[scheme+3:at], "***")
		}
	}
	return errors.New(text)
}

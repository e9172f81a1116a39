package notifications

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"github.com/azure/discussion-pulse/internal/config"
	"github.com/azure/discussion-pulse/internal/models"
)

// Service delivers alerts to Teams and email
type Service struct {
	config *config.Config
	client *resty.Client
	mailer mailSender
}

// Ensure Service implements NotificationInterface
var _ NotificationInterface = (*Service)(nil)

type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// TeamsMessage represents a Microsoft Teams message card
type TeamsMessage struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	ThemeColor string         `json:"themeColor,omitempty"`
	Title      string         `json:"title"`
	Text       string         `json:"text"`
	Sections   []TeamsSection `json:"sections,omitempty"`
}

type TeamsSection struct {
	ActivityTitle string      `json:"activityTitle,omitempty"`
	Facts         []TeamsFact `json:"facts,omitempty"`
	Markdown      bool        `json:"markdown,omitempty"`
}

type TeamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// NewService creates a new notification service
func NewService(cfg *config.Config) *Service {
	s := &Service{
		config: cfg,
		client: resty.New().SetTimeout(30 * time.Second),
	}
	if cfg.NotificationEmail != "" {
		s.mailer = gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
	}
	return s
}

// Enabled reports whether any alert channel is configured
func (s *Service) Enabled() bool {
	return s.config.TeamsWebhookURL != "" || s.config.NotificationEmail != ""
}

// SendAlert sends the alert to every configured channel. Without channels it only logs.
func (s *Service) SendAlert(alert *models.Alert) error {
	if !s.Enabled() {
		logrus.Debugf("No alert channel configured, dropping alert: %s", alert.Title)
		return nil
	}

	var errs []string

	if s.config.TeamsWebhookURL != "" {
		if err := s.sendToTeams(alert); err != nil {
			logrus.Errorf("Failed to send Teams alert: %v", err)
			errs = append(errs, fmt.Sprintf("Teams: %v", err))
		} else {
			logrus.Infof("Sent alert to Teams: %s", alert.Title)
		}
	}

	if s.config.NotificationEmail != "" && s.mailer != nil {
		if err := s.sendEmail(alert); err != nil {
			logrus.Errorf("Failed to send email alert: %v", err)
			errs = append(errs, fmt.Sprintf("Email: %v", err))
		} else {
			logrus.Infof("Sent alert via email: %s", alert.Title)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (s *Service) sendToTeams(alert *models.Alert) error {
	resp, err := s.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(buildTeamsMessage(alert)).
		Post(s.config.TeamsWebhookURL)
	if err != nil {
		return fmt.Errorf("failed to send Teams message: %w", err)
	}

	if resp.IsError() {
		return fmt.Errorf("Teams webhook returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}
	return nil
}

func buildTeamsMessage(alert *models.Alert) *TeamsMessage {
	color := "0078D4"
	if alert.Type == "critical" {
		color = "D13438"
	}

	facts := []TeamsFact{
		{Name: "Type", Value: alert.Type},
		{Name: "Time", Value: alert.CreatedAt.UTC().Format(time.RFC1123)},
	}
	if alert.Keyword != "" {
		facts = append(facts, TeamsFact{Name: "Keyword", Value: alert.Keyword})
	}

	return &TeamsMessage{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		ThemeColor: color,
		Title:      alert.Title,
		Text:       alert.Message,
		Sections: []TeamsSection{{
			ActivityTitle: "Discussion Pulse",
			Facts:         facts,
			Markdown:      true,
		}},
	}
}

var alertTemplate = template.Must(template.New("alert").Parse(`<html><body>
<h2>{{.Title}}</h2>
<p>{{.Message}}</p>
<table>
<tr><td><b>Type</b></td><td>{{.Type}}</td></tr>
{{if .Keyword}}<tr><td><b>Keyword</b></td><td>{{.Keyword}}</td></tr>{{end}}
<tr><td><b>Time</b></td><td>{{.CreatedAt.UTC.Format "2006-01-02 15:04:05 MST"}}</td></tr>
</table>
</body></html>`))

func (s *Service) sendEmail(alert *models.Alert) error {
	var html bytes.Buffer
	if err := alertTemplate.Execute(&html, alert); err != nil {
		return fmt.Errorf("failed to build email HTML: %w", err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.config.SMTPUsername)
	m.SetHeader("To", s.config.NotificationEmail)
	m.SetHeader("Subject", fmt.Sprintf("[%s] %s", strings.ToUpper(alert.Type), alert.Title))
	m.SetBody("text/plain", buildEmailText(alert))
	m.AddAlternative("text/html", html.String())

	if err := s.mailer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func buildEmailText(alert *models.Alert) string {
	var text strings.Builder
	text.WriteString(alert.Title + "\n\n")
	text.WriteString(alert.Message + "\n\n")
	if alert.Keyword != "" {
		text.WriteString("Keyword: " + alert.Keyword + "\n")
	}
	text.WriteString("Time: " + alert.CreatedAt.UTC().Format(time.RFC1123) + "\n")
	text.WriteString("\n---\nThis alert was generated automatically by Discussion Pulse.\n")
	return text.String()
}

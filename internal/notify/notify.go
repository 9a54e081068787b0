package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/jordan-wright/email"
)

// StatusChange is sent to a candidate when a recruiter moves their application.
type StatusChange struct {
	CandidateName  string
	CandidateEmail string
	JobTitle       string
	Company        string
	Status         string
	Note           string
}

type Notifier interface {
	ApplicationStatusChanged(ctx context.Context, c StatusChange) error
}

// Nop drops every notification.
type Nop struct{}

func (Nop) ApplicationStatusChanged(context.Context, StatusChange) error { return nil }

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	AppName  string
}

// EmailNotifier renders notifications as HTML mail and sends them with STARTTLS.
type EmailNotifier struct {
	cfg  SMTPConfig
	tmpl *template.Template
	send func(e *email.Email) error
}

func NewEmailNotifier(cfg SMTPConfig) *EmailNotifier {
	if cfg.AppName == "" {
		cfg.AppName = "Upjob"
	}
	n := &EmailNotifier{
		cfg:  cfg,
		tmpl: template.Must(template.New("status").Parse(statusTemplate)),
	}
	n.send = n.sendSMTP
	return n
}

func (n *EmailNotifier) sendSMTP(e *email.Email) error {
	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}
	return e.SendWithStartTLS(
		fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port),
		auth,
		&tls.Config{ServerName: n.cfg.Host},
	)
}

type statusData struct {
	StatusChange
	AppName string
	Subject string
}

func (n *EmailNotifier) ApplicationStatusChanged(ctx context.Context, c StatusChange) error {
	if strings.TrimSpace(c.CandidateEmail) == "" {
		return fmt.Errorf("candidate has no email address")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data := statusData{
		StatusChange: c,
		AppName:      n.cfg.AppName,
		Subject:      fmt.Sprintf("Your application for %s: %s", c.JobTitle, c.Status),
	}
	var html bytes.Buffer
	if err := n.tmpl.Execute(&html, data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}

	e := email.NewEmail()
	e.From = fmt.Sprintf("%s <%s>", n.cfg.AppName, n.cfg.From)
	e.To = []string{c.CandidateEmail}
	e.Subject = data.Subject
	e.HTML = html.Bytes()
	e.Text = []byte(fmt.Sprintf("Hi %s,\n\nYour application for %s at %s is now %s.\n", c.CandidateName, c.JobTitle, c.Company, c.Status))
	return n.send(e)
}

// Async queues notifications for a worker pool. Notifications that do not
// fit in the queue are dropped and logged.
type Async struct {
	next    Notifier
	queue   chan StatusChange
	timeout time.Duration
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewAsync(next Notifier, workers, queueSize int, timeout time.Duration) *Async {
	if workers <= 0 {
		workers = 1
	}
	a := &Async{next: next, queue: make(chan StatusChange, queueSize), timeout: timeout}
	for i := 0; i < workers; i++ {
		a.wg.Add(1)
		go a.run()
	}
	return a
}

func (a *Async) run() {
	defer a.wg.Done()
	for c := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.ApplicationStatusChanged(ctx, c); err != nil {
			slog.Warn("status notification failed", "job", c.JobTitle, "status", c.Status, "error", err)
		}
		cancel()
	}
}

func (a *Async) ApplicationStatusChanged(_ context.Context, c StatusChange) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return fmt.Errorf("notifier closed")
	}
	select {
	case a.queue <- c:
		return nil
	default:
		slog.Warn("notification queue full, dropping", "job", c.JobTitle, "status", c.Status)
		return nil
	}
}

// Close drains queued notifications and stops the workers.
func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	a.wg.Wait()
}

const statusTemplate = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>{{.Subject}}</title></head>
<body style="font-family:-apple-system,Segoe UI,Roboto,sans-serif;color:#2d3748;background:#f8fafc">
  <div style="max-width:600px;margin:40px auto;background:#fff;border-radius:12px;padding:30px">
    <h1 style="font-size:22px">{{.AppName}}</h1>
    <p>Hi {{.CandidateName}},</p>
    <p>Your application for <strong>{{.JobTitle}}</strong> at {{.Company}} is now <strong>{{.Status}}</strong>.</p>
    {{if .Note}}<p style="color:#4a5568">{{.Note}}</p>{{end}}
    <p style="font-size:13px;color:#718096">Sign in to {{.AppName}} to see the details.</p>
  </div>
</body>
</html>`

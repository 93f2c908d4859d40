// Package email implements an SMTP-based email notifier
package email

import (
	"context"
	"fmt"
	"html"
	"net/smtp"
	"strings"
	"time"

	"github.com/newthinker/tradesim/internal/notifier"
)

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Email implements the Notifier interface for SMTP email
type Email struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       []string

	send sendFunc
}

// New creates a new Email notifier
func New(host string, port int, username, password, from string, to []string) *Email {
	return &Email{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		to:       to,
		send:     smtp.SendMail,
	}
}

func (e *Email) Name() string { return "email" }

func (e *Email) Init(cfg notifier.Config) error {
	if host := cfg.String("host"); host != "" {
		e.host = host
	}
	if port := cfg.Int("port"); port > 0 {
		e.port = port
	}
	if username := cfg.String("username"); username != "" {
		e.username = username
	}
	if password := cfg.String("password"); password != "" {
		e.password = password
	}
	if from := cfg.String("from"); from != "" {
		e.from = from
	}
	if to := cfg.Strings("to"); len(to) > 0 {
		e.to = to
	}
	if e.port == 0 {
		e.port = 587
	}
	if e.send == nil {
		e.send = smtp.SendMail
	}

	if e.host == "" || e.from == "" || len(e.to) == 0 {
		return fmt.Errorf("email: host, from, and to are required")
	}
	return nil
}

// Send mails the summary. net/smtp has no context support, so ctx is only
// checked before dialing.
func (e *Email) Send(ctx context.Context, summary notifier.Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject := fmt.Sprintf("Backtest %s: %.2f%% (%s to %s)",
		summary.Strategy,
		summary.Result.TotalReturn*100,
		summary.Start.Format(time.DateOnly),
		summary.End.Format(time.DateOnly),
	)
	return e.sendEmail(subject, formatSummaryHTML(summary))
}

func formatSummaryHTML(s notifier.Summary) string {
	r := s.Result
	color := "#28a745" // green for a gain
	if r.TotalReturn < 0 {
		color = "#dc3545"
	}

	rows := [][2]string{
		{"Initial capital", fmt.Sprintf("%.2f", r.InitialCapital)},
		{"Final assets", fmt.Sprintf("%.2f", r.FinalAssets)},
		{"Annual return", fmt.Sprintf("%.2f%%", r.AnnualReturn*100)},
		{"Max drawdown", fmt.Sprintf("%.2f%%", r.MaxDrawdown*100)},
		{"Sharpe ratio", fmt.Sprintf("%.2f", r.SharpeRatio)},
		{"Trades", fmt.Sprintf("%d (%d won, %d lost)", r.TotalTrades, r.WinningTrades, r.LosingTrades)},
		{"Win rate", fmt.Sprintf("%.2f%%", r.WinRate*100)},
		{"Trading days", fmt.Sprintf("%d", r.TradingDays)},
	}

	var sb strings.Builder
	sb.WriteString("<html><body>")
	fmt.Fprintf(&sb, "<h2>%s</h2>", html.EscapeString(s.Strategy))
	fmt.Fprintf(&sb, "<p>%s to %s on %d symbols</p>",
		s.Start.Format(time.DateOnly), s.End.Format(time.DateOnly), len(s.Symbols))
	fmt.Fprintf(&sb, `<h3 style="color: %s;">Total return %.2f%%</h3>`, color, r.TotalReturn*100)
	sb.WriteString("<table>")
	for _, row := range rows {
		fmt.Fprintf(&sb, "<tr><td>%s</td><td>%s</td></tr>", row[0], row[1])
	}
	sb.WriteString("</table>")
	if len(s.Alerts) > 0 {
		sb.WriteString("<h3>Alerts</h3><ul>")
		for _, a := range s.Alerts {
			fmt.Fprintf(&sb, "<li>%s</li>", html.EscapeString(a))
		}
		sb.WriteString("</ul>")
	}
	if s.DocumentPath != "" {
		fmt.Fprintf(&sb, "<p><small>Archived at %s</small></p>", html.EscapeString(s.DocumentPath))
	}
	sb.WriteString("</body></html>")
	return sb.String()
}

func (e *Email) sendEmail(subject, body string) error {
	addr := fmt.Sprintf("%s:%d", e.host, e.port)

	var auth smtp.Auth
	if e.username != "" {
		auth = smtp.PlainAuth("", e.username, e.password, e.host)
	}

	contentType := "text/plain"
	if strings.Contains(body, "<html>") {
		contentType = "text/html"
	}

	msg := fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: %s; charset=UTF-8\r\n"+
		"\r\n"+
		"%s",
		e.from,
		strings.Join(e.to, ","),
		subject,
		contentType,
		body,
	)

	send := e.send
	if send == nil {
		send = smtp.SendMail
	}
	if err := send(addr, auth, e.from, e.to, []byte(msg)); err != nil {
		return fmt.Errorf("email: send failed: %w", err)
	}
	return nil
}

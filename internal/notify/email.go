package notify

import (
	"context"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

type sendMailFunc func(addr string, a sasl.Client, from string, to []string, r io.Reader) error

// EmailNotifier delivers alerts over SMTP.
type EmailNotifier struct {
	addr     string
	auth     sasl.Client
	from     string
	to       []string
	sendMail sendMailFunc
}

func NewEmailNotifier(addr, username, password, from string, to []string) *EmailNotifier {
	var auth sasl.Client
	if username != "" {
		auth = sasl.NewPlainClient("", username, password)
	}
	return &EmailNotifier{
		addr:     addr,
		auth:     auth,
		from:     from,
		to:       to,
		sendMail: smtp.SendMail,
	}
}

func (e *EmailNotifier) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(e.to) == 0 {
		return fmt.Errorf("no email recipients configured")
	}

	body := e.render(msg, time.Now())
	err := runWithContext(ctx, func() error {
		return e.sendMail(e.addr, e.auth, e.from, e.to, strings.NewReader(body))
	})
	if err != nil {
		return fmt.Errorf("error sending email: %w", err)
	}
	return nil
}

func (e *EmailNotifier) render(msg Message, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", headerValue(msg.Subject)))
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return b.String()
}

// headerValue folds a value onto one line so it cannot start a new header.
func headerValue(v string) string {
	return strings.Join(strings.Fields(strings.NewReplacer("\r", " ", "\n", " ").Replace(v)), " ")
}

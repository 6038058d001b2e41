package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// Timeout bounds one whole session, dial to QUIT.
	Timeout time.Duration
}

const defaultSMTPTimeout = 30 * time.Second

// SMTP sends through a plain SMTP relay with PLAIN auth.
type SMTP struct {
	cfg  SMTPConfig
	send func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

var _ Transport = (*SMTP)(nil)

func NewSMTP(cfg SMTPConfig) *SMTP {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSMTPTimeout
	}
	s := &SMTP{cfg: cfg}
	s.send = s.sendMail
	return s
}

func (s *SMTP) Name() string { return "smtp" }

func (s *SMTP) Send(ctx context.Context, to, subject, htmlBody string) Result {
	if strings.TrimSpace(s.cfg.Host) == "" || strings.TrimSpace(s.cfg.From) == "" {
		return fail(ConfigurationError, fmt.Errorf("smtp: %w: host and from are required", ErrNotConfigured))
	}
	if err := ctx.Err(); err != nil {
		return fail(TransientError, err)
	}

	if strings.ContainsAny(to, "\r\n") {
		return fail(TransientError, fmt.Errorf("smtp: invalid recipient %q", to))
	}

	id := fmt.Sprintf("<%s@%s>", uuid.NewString(), s.cfg.Host)
	msg := []byte("From: " + s.cfg.From + "\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + encodeSubject(subject) + "\r\n" +
		"Message-ID: " + id + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n\r\n" +
		htmlBody + "\r\n")

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	if err := s.send(ctx, addr, auth, s.cfg.From, []string{to}, msg); err != nil {
		return fail(classifySMTP(err), fmt.Errorf("smtp: %w", err))
	}
	return ok(id)
}

// encodeSubject folds the subject onto one line and RFC 2047 encodes it
// when it is not plain ASCII.
func encodeSubject(subject string) string {
	subject = strings.Join(strings.Fields(subject), " ")
	return mime.QEncoding.Encode("utf-8", subject)
}

// sendMail is smtp.SendMail with the whole session held to cfg.Timeout
// or the context deadline, whichever is sooner.
func (s *SMTP) sendMail(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	deadline := time.Now().Add(s.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	dialer := net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.SetDeadline(deadline); err != nil {
		return err
	}

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return err
	}
	defer c.Close()
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
			return err
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); !ok {
			return errors.New("server does not support AUTH")
		}
		if err := c.Auth(a); err != nil {
			return err
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func classifySMTP(err error) Outcome {
	var te *textproto.Error
	if !errors.As(err, &te) {
		return TransientError
	}
	switch {
	case te.Code == 530 || te.Code == 534 || te.Code == 535:
		return ConfigurationError
	case (te.Code == 421 || te.Code == 450 || te.Code == 451 || te.Code == 452 ||
		te.Code == 550 || te.Code == 554) && quotaWording(te.Msg):
		return RateLimited
	default:
		return TransientError
	}
}

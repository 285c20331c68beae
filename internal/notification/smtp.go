package notification

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/pet-saude/authsvc/internal/config"
)

const implicitTLSPort = 465

// SMTPNotifier delivers messages through an SMTP relay.
type SMTPNotifier struct {
	host      string
	port      int
	user      string
	pass      string
	from      string
	implicit  bool
	tlsConfig *tls.Config
	dialer    *net.Dialer
}

// NewSMTPNotifier builds an SMTP transport. Implicit TLS is used when Secure
// is set or the port is 465; otherwise STARTTLS is negotiated if offered.
func NewSMTPNotifier(cfg config.SMTP) *SMTPNotifier {
	return &SMTPNotifier{
		host:      cfg.Host,
		port:      cfg.Port,
		user:      cfg.User,
		pass:      cfg.Pass,
		from:      cfg.From,
		implicit:  cfg.Secure || cfg.Port == implicitTLSPort,
		tlsConfig: &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12},
		dialer:    &net.Dialer{},
	}
}

// Send delivers message to its destination.
func (n *SMTPNotifier) Send(ctx context.Context, message Message) error {
	addr := net.JoinHostPort(n.host, strconv.Itoa(n.port))
	errb := oops.With("addr", addr).With("kind", message.Kind)

	conn, err := n.dial(ctx, addr)
	if err != nil {
		return errb.With("operation", "dial").Wrap(err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, n.host)
	if err != nil {
		conn.Close()
		return errb.With("operation", "handshake").Wrap(err)
	}
	defer c.Close()

	if !n.implicit {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(n.tlsConfig); err != nil {
				return errb.With("operation", "starttls").Wrap(err)
			}
		}
	}
	if n.user != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(smtp.PlainAuth("", n.user, n.pass, n.host)); err != nil {
				return errb.With("operation", "auth").Wrap(err)
			}
		}
	}
	if err := c.Mail(n.from); err != nil {
		return errb.With("operation", "mail from").Wrap(err)
	}
	if err := c.Rcpt(message.Destination); err != nil {
		return errb.With("operation", "rcpt to").Wrap(err)
	}
	wc, err := c.Data()
	if err != nil {
		return errb.With("operation", "data").Wrap(err)
	}
	if _, err := wc.Write([]byte(buildMessage(n.from, message))); err != nil {
		return errb.With("operation", "write body").Wrap(err)
	}
	if err := wc.Close(); err != nil {
		return errb.With("operation", "close body").Wrap(err)
	}
	if err := c.Quit(); err != nil {
		return errb.With("operation", "quit").Wrap(err)
	}
	return nil
}

func (n *SMTPNotifier) dial(ctx context.Context, addr string) (net.Conn, error) {
	if n.implicit {
		d := &tls.Dialer{NetDialer: n.dialer, Config: n.tlsConfig}
		return d.DialContext(ctx, "tcp", addr)
	}
	return n.dialer.DialContext(ctx, "tcp", addr)
}

// buildMessage renders a multipart/alternative message when HTML is present.
func buildMessage(from string, message Message) string {
	var sb strings.Builder
	sb.WriteString("From: " + from + "\r\n")
	sb.WriteString("To: " + message.Destination + "\r\n")
	sb.WriteString("Subject: " + mime.BEncoding.Encode("UTF-8", message.Subject) + "\r\n")
	sb.WriteString("Date: " + time.Now().UTC().Format(time.RFC1123Z) + "\r\n")
	sb.WriteString("Message-ID: <" + uuid.NewString() + "@" + domainOf(from) + ">\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")

	if message.HTML == "" {
		sb.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		sb.WriteString(message.Body + "\r\n")
		return sb.String()
	}

	boundary := "alt-" + uuid.NewString()
	sb.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary))
	sb.WriteString("--" + boundary + "\r\n")
	sb.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	sb.WriteString(message.Body + "\r\n")
	sb.WriteString("--" + boundary + "\r\n")
	sb.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	sb.WriteString(message.HTML + "\r\n")
	sb.WriteString("--" + boundary + "--\r\n")
	return sb.String()
}

func domainOf(address string) string {
	if at := strings.LastIndex(address, "@"); at >= 0 && at < len(address)-1 {
		return strings.TrimSuffix(address[at+1:], ">")
	}
	return "localhost"
}

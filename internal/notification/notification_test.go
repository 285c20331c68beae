package notification

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/pet-saude/authsvc/internal/config"
	"github.com/pet-saude/authsvc/internal/logging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeRelay accepts a single SMTP session and records the envelope.
type fakeRelay struct {
	addr string
	done chan struct{}

	mu   sync.Mutex
	from string
	rcpt string
	data string
}

func startFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	relay := &fakeRelay{addr: ln.Addr().String(), done: make(chan struct{})}
	go func() {
		defer close(relay.done)
		defer ln.Close()
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		relay.serve(textproto.NewConn(conn))
	}()
	t.Cleanup(func() {
		ln.Close()
		<-relay.done
	})
	return relay
}

func (r *fakeRelay) serve(tp *textproto.Conn) {
	_ = tp.PrintfLine("220 fake ESMTP")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
		switch verb {
		case "EHLO", "HELO":
			_ = tp.PrintfLine("250-fake")
			_ = tp.PrintfLine("250 8BITMIME")
		case "MAIL":
			r.mu.Lock()
			r.from = line
			r.mu.Unlock()
			_ = tp.PrintfLine("250 ok")
		case "RCPT":
			r.mu.Lock()
			r.rcpt = line
			r.mu.Unlock()
			_ = tp.PrintfLine("250 ok")
		case "DATA":
			_ = tp.PrintfLine("354 go ahead")
			body, err := tp.ReadDotBytes()
			if err != nil {
				return
			}
			r.mu.Lock()
			r.data = string(body)
			r.mu.Unlock()
			_ = tp.PrintfLine("250 queued")
		case "QUIT":
			_ = tp.PrintfLine("221 bye")
			return
		default:
			_ = tp.PrintfLine("502 unsupported")
		}
	}
}

func (r *fakeRelay) port(t *testing.T) int {
	t.Helper()
	_, port, err := net.SplitHostPort(r.addr)
	require.NoError(t, err)
	n, err := strconv.Atoi(port)
	require.NoError(t, err)
	return n
}

func TestSMTPNotifierDeliversMessage(t *testing.T) {
	relay := startFakeRelay(t)
	notifier := NewSMTPNotifier(config.SMTP{
		Host: "127.0.0.1",
		Port: relay.port(t),
		User: "mailer",
		From: "noreply@pet-saude.br",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := notifier.Send(ctx, Message{
		Kind:        KindVerificationCode,
		Destination: "Ana@X.com",
		Subject:     "Código",
		Body:        "code 123456",
		HTML:        "<b>123456</b>",
	})
	require.NoError(t, err)
	<-relay.done

	relay.mu.Lock()
	defer relay.mu.Unlock()
	assert.Contains(t, relay.from, "<noreply@pet-saude.br>")
	assert.Contains(t, relay.rcpt, "<Ana@X.com>")
	assert.Contains(t, relay.data, "code 123456")
	assert.Contains(t, relay.data, "<b>123456</b>")
	assert.Contains(t, relay.data, "multipart/alternative")
}

func TestSMTPNotifierDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	notifier := NewSMTPNotifier(config.SMTP{Host: "127.0.0.1", Port: port, User: "mailer", From: "a@b.c"})
	err = notifier.Send(context.Background(), Message{Kind: KindVerificationCode, Destination: "x@y.z"})
	assert.Error(t, err)
}

func TestBuildMessagePlainText(t *testing.T) {
	raw := buildMessage("noreply@pet-saude.br", Message{Destination: "ana@x.com", Subject: "Olá", Body: "hello"})

	assert.Contains(t, raw, "To: ana@x.com\r\n")
	assert.Contains(t, raw, "Content-Type: text/plain; charset=UTF-8")
	assert.Contains(t, raw, "Subject: =?UTF-8?b?")
	assert.Contains(t, raw, "@pet-saude.br>\r\n")
	assert.NotContains(t, raw, "multipart")
}

func TestDomainOf(t *testing.T) {
	assert.Equal(t, "pet-saude.br", domainOf("noreply@pet-saude.br"))
	assert.Equal(t, "x.com", domainOf("Auth <a@x.com>"))
	assert.Equal(t, "localhost", domainOf("nobody"))
}

func TestNewTransportSelection(t *testing.T) {
	logger := logging.Discard()

	_, isLogger := NewTransport(config.SMTP{}, logger, false).(*LoggerNotifier)
	assert.True(t, isLogger)

	_, isLogger = NewTransport(config.SMTP{Host: "smtp.example.com"}, logger, false).(*LoggerNotifier)
	assert.True(t, isLogger, "host without user falls back to logging")

	_, isSMTP := NewTransport(config.SMTP{Host: "smtp.example.com", User: "u", Port: 587}, logger, false).(*SMTPNotifier)
	assert.True(t, isSMTP)
}

func TestLoggerNotifierWritesMessage(t *testing.T) {
	var buf bytes.Buffer
	notifier := NewLoggerNotifier(logging.NewWithWriter("info", &buf), true)

	require.NoError(t, notifier.Send(context.Background(), Message{
		Kind:        KindVerificationCode,
		Destination: "ana@x.com",
		Body:        "code 654321",
	}))
	assert.Contains(t, buf.String(), "ana@x.com")
	assert.Contains(t, buf.String(), "654321")

	var nilNotifier *LoggerNotifier
	assert.NoError(t, nilNotifier.Send(context.Background(), Message{}))
}

func TestLoggerNotifierRedactsBody(t *testing.T) {
	var buf bytes.Buffer
	notifier := NewTransport(config.SMTP{}, logging.NewWithWriter("info", &buf), false)

	require.NoError(t, notifier.Send(context.Background(), Message{
		Kind:        KindVerificationCode,
		Destination: "ana@x.com",
		Body:        "code 654321",
	}))
	assert.Contains(t, buf.String(), "ana@x.com")
	assert.Contains(t, buf.String(), redactedBody)
	assert.NotContains(t, buf.String(), "654321")
}

type captureNotifier struct {
	messages []Message
	err      error
}

func (c *captureNotifier) Send(_ context.Context, message Message) error {
	c.messages = append(c.messages, message)
	return c.err
}

func TestVerificationMailer(t *testing.T) {
	capture := &captureNotifier{}
	mailer := NewVerificationMailer(capture, logging.Discard())

	require.NoError(t, mailer.SendVerificationCode(context.Background(), "Ana@X.com", "123456"))
	require.Len(t, capture.messages, 1)

	msg := capture.messages[0]
	assert.Equal(t, KindVerificationCode, msg.Kind)
	assert.Equal(t, "Ana@X.com", msg.Destination)
	assert.Equal(t, verificationSubject, msg.Subject)
	assert.Contains(t, msg.Body, "123456")
	assert.Contains(t, msg.HTML, "<b>123456</b>")
	assert.NotContains(t, strings.ToLower(msg.Body), "horas")
}

func TestVerificationMailerPropagatesFailure(t *testing.T) {
	boom := errors.New("relay down")
	mailer := NewVerificationMailer(&captureNotifier{err: boom}, nil)

	err := mailer.SendVerificationCode(context.Background(), "ana@x.com", "123456")
	assert.ErrorIs(t, err, boom)
}

type deliveryCounts map[string]int

func (d deliveryCounts) RecordDelivery(kind, result string) {
	d[kind+"/"+result]++
}

func TestInstrumentedRecordsOutcome(t *testing.T) {
	counts := deliveryCounts{}
	capture := &captureNotifier{}
	notifier := NewInstrumented(capture, counts)

	require.NoError(t, notifier.Send(context.Background(), Message{Kind: KindVerificationCode}))
	capture.err = errors.New("nope")
	require.Error(t, notifier.Send(context.Background(), Message{Kind: KindVerificationCode}))

	assert.Equal(t, 1, counts[KindVerificationCode+"/sent"])
	assert.Equal(t, 1, counts[KindVerificationCode+"/failed"])
}

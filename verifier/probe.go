package verifier

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrTimeout          = errors.New("timeout")
	ErrConnectionClosed = errors.New("connection closed")
	ErrUnsafeAddress    = errors.New("address contains line breaks")
)

// ProbeResult is either a reply from the mail server or a failure to get
// one. A failure says nothing about deliverability.
type ProbeResult struct {
	Reply   Reply
	Failure error
}

func (r ProbeResult) Failed() bool { return r.Failure != nil }

func replied(code int, message string) ProbeResult {
	return ProbeResult{Reply: Reply{Code: code, Message: message}}
}

func failed(err error) ProbeResult {
	return ProbeResult{Failure: err}
}

// Prober runs one SMTP dialogue against one mail exchanger.
type Prober interface {
	Probe(ctx context.Context, host, rcpt string) ProbeResult
}

// Dialer opens the TCP connection for a probe.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// SMTPProber talks to mail exchangers over raw TCP.
type SMTPProber struct {
	Dialer     Dialer
	Port       int
	Timeout    time.Duration
	EHLODomain string
	MailFrom   string
	Logger     logrus.FieldLogger
}

func NewSMTPProber(dialer Dialer, port int, timeout time.Duration, ehloDomain, mailFrom string, logger logrus.FieldLogger) *SMTPProber {
	if dialer == nil {
		dialer = &net.Dialer{Timeout: timeout}
	}
	if port == 0 {
		port = 25
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SMTPProber{
		Dialer:     dialer,
		Port:       port,
		Timeout:    timeout,
		EHLODomain: ehloDomain,
		MailFrom:   mailFrom,
		Logger:     logger,
	}
}

// Probe never returns an error: every way the dialogue can go wrong ends
// up as a failed ProbeResult.
func (p *SMTPProber) Probe(ctx context.Context, host, rcpt string) ProbeResult {
	if strings.ContainsAny(rcpt, "\r\n") {
		return failed(ErrUnsafeAddress)
	}

	start := time.Now()
	res, stage := p.probe(ctx, host, rcpt)

	entry := p.Logger.WithFields(logrus.Fields{
		"mx":       host,
		"stage":    stage,
		"duration": time.Since(start).Round(time.Millisecond).String(),
	})
	if res.Failed() {
		probesTotal.WithLabelValues("failure").Inc()
		entry.WithError(res.Failure).Debug("smtp probe failed")
	} else {
		probesTotal.WithLabelValues(strconv.Itoa(res.Reply.Code/100) + "xx").Inc()
		entry.WithField("code", res.Reply.Code).Debug("smtp probe answered")
	}
	return res
}

func (p *SMTPProber) probe(ctx context.Context, host, rcpt string) (ProbeResult, string) {
	d := NewDialogue(p.EHLODomain, p.MailFrom, rcpt)

	dialCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	conn, err := p.Dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(host, strconv.Itoa(p.Port)))
	cancel()
	if err != nil {
		return failed(socketError(err)), "connect"
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, 4096)
	for {
		conn.SetReadDeadline(time.Now().Add(p.Timeout))
		n, rerr := conn.Read(buf)

		if n > 0 {
			step, err := d.Feed(buf[:n])
			for err == nil && (step.Send != "" || step.Done) {
				if step.Send != "" {
					conn.SetWriteDeadline(time.Now().Add(p.Timeout))
					if _, werr := io.WriteString(conn, step.Send); werr != nil && !step.Done {
						return failed(p.ioError(ctx, werr)), d.Stage()
					}
				}
				if step.Done {
					return replied(step.Reply.Code, step.Reply.Message), d.Stage()
				}
				step, err = d.Feed(nil)
			}
			if err != nil {
				return failed(err), d.Stage()
			}
		}

		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return failed(ErrConnectionClosed), d.Stage()
			}
			return failed(p.ioError(ctx, rerr)), d.Stage()
		}
	}
}

// ioError reports a cancelled context as such rather than as the deadline
// that was used to interrupt the socket.
func (p *SMTPProber) ioError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return socketError(err)
}

func socketError(err error) error {
	var ne net.Error
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &ne) && ne.Timeout()) {
		return ErrTimeout
	}
	return err
}

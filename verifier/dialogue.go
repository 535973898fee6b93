package verifier

import (
	"bytes"
	"errors"
	"strings"
)

const (
	maxLineLength  = 4096
	maxReplyLength = 64 << 10
)

var (
	ErrInvalidResponse  = errors.New("invalid response")
	ErrResponseTooLong  = errors.New("response too long")
	errDialogueFinished = errors.New("dialogue already finished")
)

type dialogueState int

const (
	stateGreeting dialogueState = iota
	stateEHLO
	stateMailFrom
	stateRcptTo
	stateDone
)

func (s dialogueState) String() string {
	switch s {
	case stateGreeting:
		return "greeting"
	case stateEHLO:
		return "ehlo"
	case stateMailFrom:
		return "mail_from"
	case stateRcptTo:
		return "rcpt_to"
	default:
		return "done"
	}
}

// Reply is a complete, possibly multi-line, SMTP reply.
type Reply struct {
	Code    int
	Message string
}

// Step tells the transport what to do after a call to Feed. Send, when not
// empty, is a CRLF-terminated command to write. Done means the dialogue is
// over and Reply is its outcome.
type Step struct {
	Send  string
	Done  bool
	Reply Reply
}

// Dialogue is the probe's SMTP client state machine: greeting, EHLO,
// MAIL FROM, RCPT TO, then QUIT. It does no I/O, the transport hands it
// whatever bytes arrive and writes whatever it asks for.
type Dialogue struct {
	ehloDomain string
	mailFrom   string
	rcpt       string

	state    dialogueState
	buf      []byte
	texts    []string
	replyLen int
}

func NewDialogue(ehloDomain, mailFrom, rcpt string) *Dialogue {
	return &Dialogue{
		ehloDomain: ehloDomain,
		mailFrom:   mailFrom,
		rcpt:       rcpt,
		state:      stateGreeting,
	}
}

// Stage names the reply the dialogue is waiting for.
func (d *Dialogue) Stage() string { return d.state.String() }

// Feed buffers p and advances over at most one complete reply. Call it
// again with nil after acting on a non-empty Step, since the server may
// already have sent more. A zero Step means more input is needed.
func (d *Dialogue) Feed(p []byte) (Step, error) {
	if d.state == stateDone {
		return Step{}, errDialogueFinished
	}
	d.buf = append(d.buf, p...)

	for {
		i := bytes.Index(d.buf, []byte("\r\n"))
		if i < 0 {
			if len(d.buf) > maxLineLength {
				return Step{}, ErrResponseTooLong
			}
			return Step{}, nil
		}
		if i > maxLineLength {
			return Step{}, ErrResponseTooLong
		}

		line := string(d.buf[:i])
		d.buf = d.buf[i+2:]

		reply, final, err := d.readLine(line)
		if err != nil {
			return Step{}, err
		}
		if final {
			return d.advance(reply), nil
		}
	}
}

// readLine accumulates one reply line. It reports the whole reply once the
// final (non-continuation) line arrives.
func (d *Dialogue) readLine(line string) (Reply, bool, error) {
	if len(line) < 3 || !isDigits(line[:3]) {
		return Reply{}, false, ErrInvalidResponse
	}

	d.replyLen += len(line)
	if d.replyLen > maxReplyLength {
		return Reply{}, false, ErrResponseTooLong
	}

	var text string
	if len(line) > 4 {
		text = strings.TrimSpace(line[4:])
	}
	if text != "" {
		d.texts = append(d.texts, text)
	}

	if len(line) > 3 && line[3] == '-' {
		return Reply{}, false, nil
	}

	code := int(line[0]-'0')*100 + int(line[1]-'0')*10 + int(line[2]-'0')
	reply := Reply{Code: code, Message: strings.Join(d.texts, " ")}
	d.texts = d.texts[:0]
	d.replyLen = 0
	return reply, true, nil
}

func (d *Dialogue) advance(r Reply) Step {
	if d.state == stateRcptTo {
		d.state = stateDone
		return Step{Send: "QUIT\r\n", Done: true, Reply: r}
	}

	if r.Code < 200 || r.Code >= 300 {
		d.state = stateDone
		return Step{Done: true, Reply: r}
	}

	switch d.state {
	case stateGreeting:
		d.state = stateEHLO
		return Step{Send: "EHLO " + d.ehloDomain + "\r\n"}
	case stateEHLO:
		d.state = stateMailFrom
		return Step{Send: "MAIL FROM:<" + d.mailFrom + ">\r\n"}
	default:
		d.state = stateRcptTo
		return Step{Send: "RCPT TO:<" + d.rcpt + ">\r\n"}
	}
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

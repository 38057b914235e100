package emailsvc

import (
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/mail"
	"net/textproto"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/nithadya/classsync/core"
)

// ConsoleService prints messages instead of sending them. Used in debug mode.
type ConsoleService struct {
	from       mail.Address
	subjPrefix string
	out        io.Writer // nil discards output
	sync       bool

	mu       sync.Mutex
	sent     []core.EmailMessage
	inflight sync.WaitGroup
}

var _ core.EmailService = (*ConsoleService)(nil)

func NewConsoleService(conf *core.Config) *ConsoleService {
	return &ConsoleService{
		from:       conf.DefaultFromEmail,
		subjPrefix: "[" + conf.AppName + "] ",
		out:        os.Stdout,
	}
}

// NewConsoleServiceMock renders and records messages synchronously, without output.
func NewConsoleServiceMock(conf *core.Config) *ConsoleService {
	svc := NewConsoleService(conf)
	svc.out = nil
	svc.sync = true
	return svc
}

func (svc *ConsoleService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		if svc.sync {
			svc.sendMessage(msg)
			continue
		}
		svc.inflight.Add(1)
		go func(msg *core.EmailMessage) {
			defer svc.inflight.Done()
			svc.sendMessage(msg)
		}(msg)
	}
}

// Wait blocks until the messages handed to SendMessages are out.
func (svc *ConsoleService) Wait() {
	svc.inflight.Wait()
}

// Sent returns a copy of the messages sent so far.
func (svc *ConsoleService) Sent() []core.EmailMessage {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	sent := make([]core.EmailMessage, len(svc.sent))
	copy(sent, svc.sent)
	return sent
}

func (svc *ConsoleService) sendMessage(msg *core.EmailMessage) {
	if err := msg.Render(); err != nil {
		log.Printf("%+v", errors.Wrap(err, "rendering email"))
		return
	}
	if !msg.HasRecipients() || !(msg.HasContent() || msg.HasAttachments()) {
		return
	}

	if svc.out != nil {
		body, err := svc.format(*msg)
		if err != nil {
			log.Printf("%+v", errors.Wrap(err, "formatting email"))
			return
		}
		_, _ = fmt.Fprintln(svc.out, body)
	}
	svc.mu.Lock()
	svc.sent = append(svc.sent, *msg)
	svc.mu.Unlock()
}

// format lays msg out as a MIME message.
func (svc *ConsoleService) format(msg core.EmailMessage) (string, error) {
	body := new(strings.Builder)
	headers := [][2]string{
		{"From", svc.from.String()},
		{"MIME-Version", "1.0"},
		{"Date", time.Now().Format(time.RFC1123Z)},
		{"Subject", svc.subjPrefix + msg.Subject},
		{"To", joinAddresses(msg.To)},
		{"CC", joinAddresses(msg.Cc)},
		{"BCC", joinAddresses(msg.Bcc)},
	}
	for _, h := range headers {
		_, _ = fmt.Fprintf(body, "%s: %s\r\n", h[0], h[1])
	}

	altW := multipart.NewWriter(body)
	var mixedW *multipart.Writer
	if msg.HasAttachments() {
		mixedW = multipart.NewWriter(body)
		_, _ = fmt.Fprintf(body, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", mixedW.Boundary())
		if _, err := mixedW.CreatePart(textproto.MIMEHeader{"Content-Type": {"multipart/alternative; boundary=" + altW.Boundary()}}); err != nil {
			return "", errors.Wrap(err, "creating multipart/alternative part")
		}
	} else {
		_, _ = fmt.Fprintf(body, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", altW.Boundary())
	}

	parts := map[string]string{"text/plain": msg.TextContent}
	if msg.HTMLContent != "" {
		parts["text/html"] = msg.HTMLContent
	}
	for _, ct := range []string{"text/plain", "text/html"} {
		content, ok := parts[ct]
		if !ok {
			continue
		}
		w, err := altW.CreatePart(textproto.MIMEHeader{"Content-Type": {ct}})
		if err != nil {
			return "", errors.Wrapf(err, "creating %s part", ct)
		}
		_, _ = fmt.Fprintf(w, "%s\r\n", content)
	}
	_ = altW.Close()

	if mixedW != nil {
		for _, at := range msg.Attachments {
			w, err := mixedW.CreatePart(textproto.MIMEHeader{
				"Content-Type":              {at.ContentType},
				"Content-Transfer-Encoding": {"base64"},
				"Content-Disposition":       {"attachment; filename=" + at.Filename},
			})
			if err != nil {
				return "", errors.Wrapf(err, "creating %s part", at.ContentType)
			}
			_, _ = fmt.Fprintf(w, "%s\r\n", at.Content.String())
		}
		_ = mixedW.Close()
	}
	return body.String(), nil
}

func joinAddresses(addrs []mail.Address) string {
	toJoin := make([]string, 0, len(addrs))
	for _, a := range addrs {
		toJoin = append(toJoin, a.String())
	}
	return strings.Join(toJoin, ", ")
}

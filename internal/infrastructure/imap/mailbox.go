// Package imapinfra reads bounce reports from the dedicated probe mailbox.
package imapinfra

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/go-mail-verifier/internal/config"
	"github.com/go-mail-verifier/internal/domain"
)

const maxPartBytes = 64 << 10

// Mailbox fetches unseen messages and flags them \Seen once yielded.
type Mailbox struct {
	cfg config.IMAPConfig
}

func NewMailbox(cfg config.IMAPConfig) *Mailbox {
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	return &Mailbox{cfg: cfg}
}

// Fetch yields unseen messages one at a time. A connection or protocol error
// is yielded once and ends the sequence. Stopping early is safe: the pending
// fetch is drained before the connection is closed.
func (m *Mailbox) Fetch(ctx context.Context) iter.Seq2[domain.MailMessage, error] {
	return func(yield func(domain.MailMessage, error) bool) {
		c, err := m.connect()
		if err != nil {
			yield(domain.MailMessage{}, err)
			return
		}
		stop := context.AfterFunc(ctx, func() { _ = c.Terminate() })
		defer func() {
			if stop() {
				_ = c.Logout()
			}
		}()

		if _, err := c.Select(m.cfg.Mailbox, false); err != nil {
			yield(domain.MailMessage{}, fmt.Errorf("select mailbox %s: %w", m.cfg.Mailbox, err))
			return
		}
		criteria := imap.NewSearchCriteria()
		criteria.WithoutFlags = []string{imap.SeenFlag}
		uids, err := c.UidSearch(criteria)
		if err != nil {
			yield(domain.MailMessage{}, fmt.Errorf("search unseen: %w", err))
			return
		}
		if len(uids) == 0 {
			return
		}

		seqset := new(imap.SeqSet)
		seqset.AddNum(uids...)
		section := &imap.BodySectionName{Peek: true}
		items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

		messages := make(chan *imap.Message, 10)
		done := make(chan error, 1)
		go func() {
			done <- c.UidFetch(seqset, items, messages)
		}()

		seen := new(imap.SeqSet)
		aborted := false
		for msg := range messages {
			if aborted {
				continue
			}
			parsed, err := parseMessage(msg.Uid, msg.GetBody(section))
			if err != nil {
				slog.Warn("skipping unreadable bounce message", "uid", msg.Uid, "err", err)
				continue
			}
			seen.AddNum(msg.Uid)
			if !yield(parsed, nil) {
				aborted = true
			}
		}
		fetchErr := <-done

		if !seen.Empty() {
			flags := []interface{}{imap.SeenFlag}
			if err := c.UidStore(seen, imap.FormatFlagsOp(imap.AddFlags, true), flags, nil); err != nil {
				slog.Warn("could not flag bounce messages seen", "err", err)
			}
		}
		if fetchErr != nil && !aborted {
			yield(domain.MailMessage{}, fmt.Errorf("fetch messages: %w", fetchErr))
		}
	}
}

func (m *Mailbox) connect() (*client.Client, error) {
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	tlsCfg := &tls.Config{ServerName: m.cfg.Host}

	var c *client.Client
	var err error
	switch strings.ToLower(m.cfg.Encryption) {
	case "tls", "ssl", "":
		c, err = client.DialTLS(addr, tlsCfg)
	case "starttls":
		c, err = client.Dial(addr)
		if err == nil {
			if err = c.StartTLS(tlsCfg); err != nil {
				_ = c.Logout()
			}
		}
	default:
		c, err = client.Dial(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to imap %s: %w", addr, err)
	}
	c.Timeout = m.cfg.Timeout

	if err := c.Login(m.cfg.Username, m.cfg.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("imap login: %w", err)
	}
	return c, nil
}

// parseMessage flattens a message into its text-bearing parts. Delivery
// status and returned-header parts are kept because they name the failed
// recipient and quote the probe headers.
func parseMessage(uid uint32, body io.Reader) (domain.MailMessage, error) {
	if body == nil {
		return domain.MailMessage{}, errors.New("message body not found")
	}
	mr, err := mail.CreateReader(body)
	if mr == nil {
		return domain.MailMessage{}, fmt.Errorf("create message reader: %w", err)
	}
	defer mr.Close()

	out := domain.MailMessage{UID: uid}
	out.Subject, _ = mr.Header.Subject()
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		out.From = from[0].Address
	}

	var b strings.Builder
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if b.Len() > 0 {
				break
			}
			return domain.MailMessage{}, fmt.Errorf("read next part: %w", err)
		}
		var contentType string
		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ = h.ContentType()
		case *mail.AttachmentHeader:
			contentType, _, _ = h.ContentType()
		}
		if !textual(contentType) {
			continue
		}
		data, err := io.ReadAll(io.LimitReader(p.Body, maxPartBytes))
		if err != nil {
			continue
		}
		b.Write(data)
		b.WriteByte('\n')
	}
	out.Body = b.String()
	return out, nil
}

func textual(contentType string) bool {
	ct := strings.ToLower(contentType)
	return ct == "" || strings.HasPrefix(ct, "text/") || strings.HasPrefix(ct, "message/")
}

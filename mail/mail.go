// SPDX-License-Identifier: GPL-3.0-or-later
package mail

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/CrawX/go-imap-indexer/domain"

	"github.com/emersion/go-message"
	"github.com/jaytaylor/html2text"
	_ "github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"
)

const MaxBodySize = 1 << 20

// Parse turns raw RFC 5322 bytes into an InboundMessage. Uid, Account and Folder are left for the
// caller. A message without a sender or a date is rejected with domain.ErrMalformed.
func Parse(rawMail []byte) (*domain.InboundMessage, error) {
	if len(bytes.TrimSpace(rawMail)) == 0 {
		return nil, fmt.Errorf("%w: empty message", domain.ErrMalformed)
	}

	mr, err := gomail.CreateReader(bytes.NewReader(rawMail))
	if mr == nil {
		return nil, fmt.Errorf("%w: could not parse mail: %v", domain.ErrMalformed, err)
	}
	defer mr.Close()

	from := sender(&mr.Header)
	if len(from) == 0 {
		return nil, fmt.Errorf("%w: no sender", domain.ErrMalformed)
	}

	date, err := mr.Header.Date()
	if err != nil || date.IsZero() {
		return nil, fmt.Errorf("%w: no valid date", domain.ErrMalformed)
	}

	subject, err := mr.Header.Subject()
	if err != nil {
		subject = mr.Header.Get("Subject")
	}

	recipients := []string{}
	for _, field := range []string{"To", "Cc"} {
		recipients = append(recipients, addresses(&mr.Header, field)...)
	}

	return &domain.InboundMessage{
		Subject:    strings.TrimSpace(subject),
		From:       from,
		Recipients: recipients,
		Date:       date,
		Body:       body(mr),
	}, nil
}

func sender(h *gomail.Header) string {
	from := addresses(h, "From")
	if len(from) > 0 {
		return from[0]
	}
	return ""
}

func addresses(h *gomail.Header, field string) []string {
	list, err := h.AddressList(field)
	if err != nil || len(list) == 0 {
		// keep unparsable headers verbatim instead of losing them
		text, err := h.Text(field)
		if err != nil {
			text = h.Get(field)
		}
		if text = strings.TrimSpace(text); len(text) > 0 {
			return []string{text}
		}
		return nil
	}

	result := make([]string, 0, len(list))
	for _, a := range list {
		if len(a.Name) > 0 {
			result = append(result, fmt.Sprintf("%s <%s>", a.Name, a.Address))
		} else {
			result = append(result, a.Address)
		}
	}
	return result
}

// body returns the first text/plain part, or the first text/html part reduced to text.
func body(mr *gomail.Reader) string {
	var plain, markup string
	for len(plain) == 0 {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && (p == nil || !message.IsUnknownCharset(err)) {
			break
		}

		var contentType string
		switch h := p.Header.(type) {
		case *gomail.InlineHeader:
			contentType, _, err = h.ContentType()
		case *gomail.AttachmentHeader:
			// untyped parts without a disposition end up here, they are text by default
			disposition, _, _ := h.ContentDisposition()
			if disposition == "attachment" {
				continue
			}
			contentType, _, err = h.ContentType()
			if err == nil && len(contentType) > 0 {
				continue
			}
		}
		if err != nil || len(contentType) == 0 {
			contentType = "text/plain"
		}

		switch contentType {
		case "text/plain":
			b, _ := io.ReadAll(io.LimitReader(p.Body, MaxBodySize))
			plain = strings.TrimSpace(string(b))
		case "text/html":
			if len(markup) == 0 {
				b, _ := io.ReadAll(io.LimitReader(p.Body, MaxBodySize))
				markup = string(b)
			}
		}
	}

	if len(plain) > 0 || len(markup) == 0 {
		return plain
	}
	return HtmlToText(markup)
}

// HtmlToText renders markup as plain text, one non-empty line per block. Links keep only their text.
func HtmlToText(markup string) string {
	text, err := html2text.FromString(markup, html2text.Options{OmitLinks: true})
	if err != nil {
		return ""
	}

	lines := strings.Split(strings.ReplaceAll(text, "\u00a0", " "), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); len(line) > 0 {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func ShortSubject(subject string) string {
	runes := []rune(subject)
	if len(runes) > 30 {
		subject = string(runes[:30]) + "..."
	}
	return subject
}

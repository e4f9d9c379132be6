package service

import (
	"context"
	"fmt"

	mail "github.com/go-mail/mail/v2"

	"github.com/kevinaaaquil/kremlib/models"
)

// BookSender mails an opened ebook to a reading device.
type BookSender interface {
	SendBook(ctx context.Context, to string, book *models.Book, d *Delivery) error
}

// Mailer sends books over SMTP.
type Mailer struct {
	dialer *mail.Dialer
	from   string
}

func NewMailer(host string, port int, username, password, from string) *Mailer {
	d := mail.NewDialer(host, port, username, password)
	d.StartTLSPolicy = mail.OpportunisticStartTLS
	return &Mailer{dialer: d, from: from}
}

func (m *Mailer) SendBook(ctx context.Context, to string, book *models.Book, d *Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := mail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", book.Title)
	msg.SetBody("text/plain", fmt.Sprintf("%s by %s\n\nAttachment: %s", book.Title, book.Author, d.Filename))
	msg.AttachReader(d.Filename, d.Body, mail.SetHeader(map[string][]string{
		"Content-Type": {d.ContentType},
	}))
	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

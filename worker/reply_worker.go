package worker

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"leadflow/engine"
	"leadflow/models"
	"leadflow/utils"
)

// ReplyWorker polls every IMAP-configured sender for unseen messages,
// stores them as inbound emails, and runs each through reply triage.
type ReplyWorker struct {
	db       *gorm.DB
	triage   *engine.Triage
	logger   *logrus.Logger
	interval time.Duration
}

func NewReplyWorker(db *gorm.DB, triage *engine.Triage, logger *logrus.Logger, interval time.Duration) *ReplyWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &ReplyWorker{
		db:       db,
		triage:   triage,
		logger:   logger,
		interval: interval,
	}
}

func (w *ReplyWorker) Start(ctx context.Context) {
	w.logger.Info("Reply worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Reply worker shutting down")
			return
		case <-ticker.C:
			w.fetchAll(ctx)
		}
	}
}

func (w *ReplyWorker) fetchAll(ctx context.Context) {
	var senders []models.Sender
	if err := w.db.
		Where("is_active = ? AND imap_host IS NOT NULL AND imap_host != ''", true).
		Find(&senders).Error; err != nil {
		w.logger.WithError(err).Error("Failed to list IMAP senders")
		return
	}

	for i := range senders {
		if ctx.Err() != nil {
			return
		}
		if err := w.fetchFromSender(ctx, &senders[i]); err != nil {
			w.logger.WithError(err).WithField("sender_id", senders[i].ID).Error("Reply fetch failed")
		}
	}
}

func (w *ReplyWorker) fetchFromSender(ctx context.Context, sender *models.Sender) error {
	password, err := utils.Decrypt(sender.IMAPPassword)
	if err != nil {
		return fmt.Errorf("failed to decrypt IMAP password: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", sender.IMAPHost, sender.IMAPPort)

	var imapClient *client.Client
	switch strings.ToUpper(sender.IMAPEncryption) {
	case "SSL", "TLS":
		imapClient, err = client.DialTLS(addr, &tls.Config{ServerName: sender.IMAPHost})
	case "STARTTLS":
		imapClient, err = client.Dial(addr)
		if err == nil {
			err = imapClient.StartTLS(&tls.Config{ServerName: sender.IMAPHost})
		}
	default:
		imapClient, err = client.Dial(addr)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	defer imapClient.Logout()

	if err := imapClient.Login(sender.IMAPUsername, password); err != nil {
		return fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	mailbox := sender.IMAPMailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := imapClient.Select(mailbox, false); err != nil {
		return fmt.Errorf("failed to select mailbox: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{"\\Seen"}
	ids, err := imapClient.Search(criteria)
	if err != nil {
		return fmt.Errorf("failed to search messages: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- imapClient.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchItem("BODY.PEEK[]")}, messages)
	}()

	for msg := range messages {
		if err := w.processMessage(ctx, msg, sender); err != nil {
			w.logger.WithError(err).WithField("seq", msg.SeqNum).Error("Failed to process inbound message")
		}
	}

	if err := <-done; err != nil {
		return fmt.Errorf("error during fetch: %w", err)
	}
	return nil
}

func (w *ReplyWorker) processMessage(ctx context.Context, msg *imap.Message, sender *models.Sender) error {
	if msg.Envelope == nil || len(msg.Envelope.From) == 0 {
		return fmt.Errorf("message has no envelope")
	}

	from := msg.Envelope.From[0].Address()

	// The sender's own outbound copies are not replies.
	if strings.EqualFold(from, sender.FromEmail) {
		return nil
	}

	messageID := msg.Envelope.MessageId
	if messageID != "" {
		var existing models.InboundEmail
		if err := w.db.Where("user_id = ? AND message_id = ?", sender.UserID, messageID).
			First(&existing).Error; err == nil {
			if existing.Processed {
				return nil
			}
			// Stored on an earlier poll but triage failed; run it again off
			// the stored row instead of dropping the reply.
			if _, terr := w.triage.ProcessInbound(ctx, &existing); terr != nil {
				return fmt.Errorf("triage retry failed: %w", terr)
			}
			return nil
		}
	}

	bodyText, bodyHTML := extractBodies(msg)

	receivedAt := msg.Envelope.Date
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	inbound := models.InboundEmail{
		UserID:      sender.UserID,
		SenderID:    &sender.ID,
		MessageID:   messageID,
		FromAddress: strings.ToLower(from),
		ToAddress:   sender.FromEmail,
		Subject:     msg.Envelope.Subject,
		Body:        bodyText,
		BodyHTML:    bodyHTML,
		ReceivedAt:  receivedAt,
	}
	if err := w.db.Create(&inbound).Error; err != nil {
		return fmt.Errorf("failed to store inbound email: %w", err)
	}

	if _, err := w.triage.ProcessInbound(ctx, &inbound); err != nil {
		return fmt.Errorf("triage failed: %w", err)
	}
	return nil
}

func extractBodies(msg *imap.Message) (string, string) {
	var bodyText, bodyHTML string

	section := imap.BodySectionName{}
	literal := msg.GetBody(&section)
	if literal == nil {
		return "", ""
	}

	mr, err := mail.CreateReader(literal)
	if err != nil {
		return "", ""
	}

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			break
		}

		if h, ok := p.Header.(*mail.InlineHeader); ok {
			contentType, _, _ := h.ContentType()
			b, err := io.ReadAll(p.Body)
			if err != nil {
				continue
			}
			if strings.Contains(contentType, "text/html") {
				bodyHTML = string(b)
			} else if strings.Contains(contentType, "text/plain") {
				bodyText = string(b)
			}
		}
	}

	return bodyText, bodyHTML
}

package notification

import (
	"context"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"inbox_server/core/domain"
	"inbox_server/core/port/out"
	"inbox_server/core/service/auth"
	"inbox_server/pkg/logger"
)

const (
	DefaultMaxResults = 5
	defaultWorkers    = 5
	unreadQuery       = "is:unread"
	bodyPreviewLen    = 200
)

// Processor turns a Gmail push notification into a fetch of the mailbox's
// recent unread messages. Results are logged only.
type Processor struct {
	creds      out.CredentialRepository
	mail       out.MailProvider
	refresher  *auth.Refresher
	maxResults int64
	workers    int
}

type ProcessorConfig struct {
	MaxResults int
	Workers    int
}

func NewProcessor(creds out.CredentialRepository, mail out.MailProvider, refresher *auth.Refresher, cfg ProcessorConfig) *Processor {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	return &Processor{
		creds:      creds,
		mail:       mail,
		refresher:  refresher,
		maxResults: int64(cfg.MaxResults),
		workers:    cfg.Workers,
	}
}

// Result summarizes one processing cycle.
type Result struct {
	EmailAddress string
	UserFound    bool
	Listed       int
	Fetched      []*domain.MessageSummary
	Failed       []string
}

// Process handles one decoded notification. A returned error means the cycle
// stopped early (lookup or list failure); per-message failures only show up in
// Result.Failed.
func (p *Processor) Process(ctx context.Context, n *domain.GmailNotification) (*Result, error) {
	res := &Result{EmailAddress: n.EmailAddress}
	log := logger.WithFields(map[string]any{
		"email":      n.EmailAddress,
		"history_id": n.HistoryID.String(),
	})

	if n.EmailAddress == "" {
		log.Warn("[Processor.Process] notification has no email address")
		return res, nil
	}
	log.Info("[Processor.Process] notification received, expiration=%s", n.Expiration)

	cred, err := p.creds.GetByEmail(ctx, n.EmailAddress)
	if err != nil {
		log.WithError(err).Error("[Processor.Process] credential lookup failed")
		return res, err
	}
	if cred == nil {
		log.Warn("[Processor.Process] no stored credential for address")
		return res, nil
	}
	res.UserFound = true
	log.Info("[Processor.Process] user found: %s", cred.Name)

	list, err := auth.WithAuthRetry(ctx, p.refresher, cred, func(ctx context.Context, token string) (*domain.MessageList, error) {
		return p.mail.ListMessages(ctx, token, &domain.ListQuery{Query: unreadQuery, MaxResults: p.maxResults})
	})
	if err != nil {
		log.WithError(err).Error("[Processor.Process] list unread failed")
		return res, err
	}
	res.Listed = len(list.Messages)
	if res.Listed == 0 {
		log.Info("[Processor.Process] no unread messages")
		return res, nil
	}
	log.Info("[Processor.Process] found %d unread messages", res.Listed)

	// cred carries the refreshed token if the list call renewed it.
	token := cred.AccessToken
	fetched := make([]*domain.MessageSummary, len(list.Messages))
	var (
		mu     sync.Mutex
		failed []string
	)

	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, ref := range list.Messages {
		i, ref := i, ref
		g.Go(func() error {
			msg, err := p.mail.GetMessage(ctx, token, ref.ID)
			if err != nil {
				log.WithError(err).WithField("message_id", ref.ID).Error("[Processor.Process] fetch message failed")
				mu.Lock()
				failed = append(failed, ref.ID)
				mu.Unlock()
				return nil
			}
			fetched[i] = msg
			logMessage(log, msg)
			return nil
		})
	}
	_ = g.Wait()

	for _, msg := range fetched {
		if msg != nil {
			res.Fetched = append(res.Fetched, msg)
		}
	}
	res.Failed = failed

	log.Info("[Processor.Process] processed: fetched=%d failed=%d", len(res.Fetched), len(res.Failed))
	return res, nil
}

func logMessage(log *logger.Logger, msg *domain.MessageSummary) {
	log.WithFields(map[string]any{
		"message_id":   msg.ID,
		"from":         msg.From,
		"subject":      msg.Subject,
		"date":         msg.Date,
		"snippet":      msg.Snippet,
		"body_preview": preview(msg.Body, bodyPreviewLen),
		"starred":      msg.Starred,
	}).Info("[Processor.Process] new email")
}

func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

package notification

import (
	"context"
	"strings"

	"inbox_server/core/domain"
	"inbox_server/core/port/out"
	"inbox_server/core/service/auth"
	"inbox_server/pkg/apperr"
	"inbox_server/pkg/logger"
)

var defaultWatchLabels = []string{"INBOX"}

// WatchService registers Gmail push subscriptions.
type WatchService struct {
	mail      out.MailProvider
	creds     out.CredentialRepository
	refresher *auth.Refresher
	topic     string
}

func NewWatchService(mail out.MailProvider, creds out.CredentialRepository, refresher *auth.Refresher, topic string) *WatchService {
	return &WatchService{mail: mail, creds: creds, refresher: refresher, topic: topic}
}

// Setup calls users.watch with a caller-supplied access token. There is no
// refresh token on this path, so an expired token fails outright.
func (s *WatchService) Setup(ctx context.Context, accessToken, topicName string, labelIDs []string) (*domain.WatchResult, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, apperr.BadRequest("Access token is required")
	}
	if strings.TrimSpace(topicName) == "" {
		return nil, apperr.BadRequest("Topic name is required")
	}
	if s.mail == nil {
		return nil, apperr.ConfigError("Gmail is not configured")
	}

	req := newWatchRequest(topicName, labelIDs)
	logger.Info("[WatchService.Setup] topic=%s labels=%v", req.TopicName, req.LabelIDs)

	res, err := s.mail.Watch(ctx, accessToken, req)
	if err != nil {
		return nil, err
	}
	logger.Info("[WatchService.Setup] subscription created: historyId=%d expiration=%s", res.HistoryID, res.ExpiresAt())
	return res, nil
}

// RenewReport is the outcome of a RenewAll run.
type RenewReport struct {
	Total   int
	Renewed int
	Failed  map[string]error
}

// RenewAll re-registers the watch for every stored credential on the configured
// topic, refreshing expired tokens through the auth retry wrapper. One user's
// failure does not stop the run.
func (s *WatchService) RenewAll(ctx context.Context) (*RenewReport, error) {
	if s.topic == "" {
		return nil, apperr.ConfigError("PUBSUB_TOPIC is not configured")
	}
	if s.creds == nil || s.mail == nil {
		return nil, apperr.ConfigError("credential store or Gmail is not configured")
	}

	creds, err := s.creds.ListAll(ctx)
	if err != nil {
		return nil, apperr.DatabaseError("list credentials", err)
	}

	report := &RenewReport{Total: len(creds), Failed: make(map[string]error)}
	if len(creds) == 0 {
		logger.Info("[WatchService.RenewAll] no users found")
		return report, nil
	}
	logger.Info("[WatchService.RenewAll] renewing watch for %d users", len(creds))

	req := newWatchRequest(s.topic, nil)
	for _, cred := range creds {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		log := logger.WithField("email", cred.Email)
		res, err := auth.WithAuthRetry(ctx, s.refresher, cred, func(ctx context.Context, token string) (*domain.WatchResult, error) {
			return s.mail.Watch(ctx, token, req)
		})
		if err != nil {
			log.WithError(err).Error("[WatchService.RenewAll] watch failed")
			report.Failed[cred.Email] = err
			continue
		}
		report.Renewed++
		log.Info("[WatchService.RenewAll] watch renewed: historyId=%d expiration=%s", res.HistoryID, res.ExpiresAt())
	}

	logger.Info("[WatchService.RenewAll] done: renewed=%d failed=%d", report.Renewed, len(report.Failed))
	return report, nil
}

func newWatchRequest(topic string, labelIDs []string) *domain.WatchRequest {
	if len(labelIDs) == 0 {
		labelIDs = defaultWatchLabels
	}
	return &domain.WatchRequest{
		TopicName:         strings.TrimSpace(topic),
		LabelIDs:          labelIDs,
		LabelFilterAction: "include",
	}
}

package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/viant/scy"

	mrequest "github.com/viant/hitl/model/request"
	"github.com/viant/hitl/service/notify"
)

const defaultAPIURL = "https://slack.com/api/chat.postMessage"

var urgencyEmoji = map[mrequest.Urgency]string{
	mrequest.UrgencyCritical: ":rotating_light:",
	mrequest.UrgencyHigh:     ":warning:",
	mrequest.UrgencyMedium:   ":large_blue_circle:",
	mrequest.UrgencyLow:      ":white_circle:",
}

// Service posts coordination requests to a Slack channel via
// chat.postMessage. The bot token is either supplied directly or loaded
// lazily from an encrypted scy resource so it never sits in plain config.
type Service struct {
	apiURL    string
	tokenURL  string
	tokenKey  string
	portalURL string
	client    *http.Client
	secrets   *scy.Service
	loadToken func(ctx context.Context) (string, error)

	// tokenMux guards token; Notify runs on concurrent routing goroutines
	tokenMux sync.Mutex
	token    string
}

var _ notify.Notifier = (*Service)(nil)

// New creates a Slack notifier.
func New(options ...Option) *Service {
	ret := &Service{
		apiURL:  defaultAPIURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		secrets: scy.New(),
	}
	ret.loadToken = ret.loadSecret
	for _, option := range options {
		option(ret)
	}
	return ret
}

func (s *Service) Channel() string {
	return mrequest.ChannelSlack
}

// Notify posts the request summary with approve/reject call-to-action text.
func (s *Service) Notify(ctx context.Context, aRequest *mrequest.Request) error {
	channelID := aRequest.RoutingHints.SlackChannelID
	if channelID == "" {
		return fmt.Errorf("request %s has no slack_channel_id routing hint", aRequest.RequestID)
	}
	token, err := s.botToken(ctx)
	if err != nil {
		return err
	}

	message := map[string]interface{}{
		"channel": channelID,
		"text": fmt.Sprintf("[hitl] %s request from %s: %s",
			aRequest.Intent, aRequest.AgentID, aRequest.ContextPackage.Summary),
		"blocks": s.buildBlocks(aRequest),
	}
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	httpRequest.Header.Set("Content-Type", "application/json; charset=utf-8")
	httpRequest.Header.Set("Authorization", "Bearer "+token)

	response, err := s.client.Do(httpRequest)
	if err != nil {
		return fmt.Errorf("slack notification failed for request %s: %w", aRequest.RequestID, err)
	}
	defer func() { _ = response.Body.Close() }()

	status := struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}{}
	if err := json.NewDecoder(response.Body).Decode(&status); err != nil {
		return fmt.Errorf("failed to decode slack response: %w", err)
	}
	if !status.OK {
		return fmt.Errorf("slack rejected notification for request %s: %s", aRequest.RequestID, status.Error)
	}
	return nil
}

func (s *Service) botToken(ctx context.Context) (string, error) {
	s.tokenMux.Lock()
	defer s.tokenMux.Unlock()
	if s.token != "" {
		return s.token, nil
	}
	token, err := s.loadToken(ctx)
	if err != nil {
		return "", err
	}
	s.token = token
	return s.token, nil
}

func (s *Service) loadSecret(ctx context.Context) (string, error) {
	if s.tokenURL == "" {
		return "", fmt.Errorf("slack bot token not configured")
	}
	resource := scy.NewResource(nil, s.tokenURL, s.tokenKey)
	secret, err := s.secrets.Load(ctx, resource)
	if err != nil {
		return "", fmt.Errorf("failed to load slack bot token from %s: %w", s.tokenURL, err)
	}
	return secret.String(), nil
}

func (s *Service) buildBlocks(aRequest *mrequest.Request) []map[string]interface{} {
	emoji, ok := urgencyEmoji[aRequest.Urgency]
	if !ok {
		emoji = ":grey_question:"
	}
	blocks := []map[string]interface{}{
		{
			"type": "header",
			"text": map[string]interface{}{"type": "plain_text", "text": fmt.Sprintf("%s Request", aRequest.Intent)},
		},
		{
			"type": "section",
			"text": map[string]interface{}{
				"type": "mrkdwn",
				"text": fmt.Sprintf("%s *Urgency:* %s\n*Agent:* %s\n*ID:* `%s`",
					emoji, aRequest.Urgency, aRequest.AgentID, aRequest.RequestID),
			},
		},
		{
			"type": "section",
			"text": map[string]interface{}{
				"type": "mrkdwn",
				"text": fmt.Sprintf("*Summary:*\n%s", aRequest.ContextPackage.Summary),
			},
		},
	}
	if detail := aRequest.ContextPackage.Detail; detail != "" {
		if len(detail) > 2000 {
			detail = detail[:2000]
		}
		blocks = append(blocks, map[string]interface{}{
			"type": "section",
			"text": map[string]interface{}{"type": "mrkdwn", "text": fmt.Sprintf("*Detail:*\n%s", detail)},
		})
	}
	if aRequest.Intent == mrequest.IntentApproval {
		blocks = append(blocks, map[string]interface{}{
			"type":     "actions",
			"block_id": fmt.Sprintf("hitl_actions_%s", aRequest.RequestID),
			"elements": []map[string]interface{}{
				{
					"type":      "button",
					"text":      map[string]interface{}{"type": "plain_text", "text": "Approve"},
					"style":     "primary",
					"action_id": "hitl_approve",
					"value":     aRequest.RequestID,
				},
				{
					"type":      "button",
					"text":      map[string]interface{}{"type": "plain_text", "text": "Reject"},
					"style":     "danger",
					"action_id": "hitl_reject",
					"value":     aRequest.RequestID,
				},
			},
		})
	}
	if s.portalURL != "" {
		blocks = append(blocks, map[string]interface{}{
			"type": "section",
			"text": map[string]interface{}{
				"type": "mrkdwn",
				"text": fmt.Sprintf("<%s/portal/?responder_id=%s&request_id=%s|View in Portal>",
					s.portalURL, aRequest.ResponderID, aRequest.RequestID),
			},
		})
	}
	return blocks
}

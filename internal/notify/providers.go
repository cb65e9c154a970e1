package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const defaultTwilioBaseURL = "https://api.twilio.com"

// Provider sends one SMS.
type Provider interface {
	Send(ctx context.Context, message, recipient string) error
}

type ProviderConfig struct {
	Kind             string
	WebhookURL       string
	WebhookToken     string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	TwilioBaseURL    string
	Timeout          time.Duration
}

// NewProvider picks the SMS transport. Unknown or incompletely configured
// kinds fall back to logging.
func NewProvider(cfg ProviderConfig, logger *zap.Logger) Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", "log":
		return logProvider{logger: logger}
	case "noop":
		return noopProvider{}
	case "fail":
		return failProvider{}
	case "webhook":
		if cfg.WebhookURL == "" {
			logger.Warn("webhook provider without NOTIF_WEBHOOK_URL, logging instead")
			return logProvider{logger: logger}
		}
		return webhookProvider{
			client: resty.New().SetTimeout(timeout).SetHeader("Content-Type", "application/json"),
			url:    cfg.WebhookURL,
			token:  cfg.WebhookToken,
		}
	case "twilio":
		if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" || cfg.TwilioFrom == "" {
			logger.Warn("twilio provider is missing credentials, logging instead")
			return logProvider{logger: logger}
		}
		baseURL := cfg.TwilioBaseURL
		if baseURL == "" {
			baseURL = defaultTwilioBaseURL
		}
		return twilioProvider{
			client:     resty.New().SetBaseURL(strings.TrimRight(baseURL, "/")).SetTimeout(timeout),
			accountSID: cfg.TwilioAccountSID,
			authToken:  cfg.TwilioAuthToken,
			from:       cfg.TwilioFrom,
		}
	default:
		logger.Warn("unknown notification provider, logging instead", zap.String("provider", cfg.Kind))
		return logProvider{logger: logger}
	}
}

type logProvider struct {
	logger *zap.Logger
}

func (p logProvider) Send(ctx context.Context, message, recipient string) error {
	p.logger.Info("sms", zap.String("recipient", recipient), zap.String("message", message))
	return nil
}

type noopProvider struct{}

func (noopProvider) Send(ctx context.Context, message, recipient string) error {
	return nil
}

type failProvider struct{}

func (failProvider) Send(ctx context.Context, message, recipient string) error {
	return errors.New("provider failure")
}

type webhookProvider struct {
	client *resty.Client
	url    string
	token  string
}

func (p webhookProvider) Send(ctx context.Context, message, recipient string) error {
	req := p.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"channel":   "sms",
			"recipient": recipient,
			"message":   message,
		})
	if p.token != "" {
		req.SetAuthToken(p.token)
	}
	resp, err := req.Post(p.url)
	if err != nil {
		return err
	}
	return statusError(resp.StatusCode())
}

type twilioProvider struct {
	client     *resty.Client
	accountSID string
	authToken  string
	from       string
}

func (p twilioProvider) Send(ctx context.Context, message, recipient string) error {
	resp, err := p.client.R().
		SetContext(ctx).
		SetBasicAuth(p.accountSID, p.authToken).
		SetFormData(map[string]string{
			"To":   recipient,
			"From": p.from,
			"Body": message,
		}).
		Post(fmt.Sprintf("/2010-04-01/Accounts/%s/Messages.json", p.accountSID))
	if err != nil {
		return err
	}
	return statusError(resp.StatusCode())
}

// statusError maps a gateway response code. Client errors other than 429 are
// not retried.
func statusError(code int) error {
	switch {
	case code < http.StatusMultipleChoices:
		return nil
	case code == http.StatusTooManyRequests || code >= http.StatusInternalServerError:
		return fmt.Errorf("provider returned status %d", code)
	default:
		return backoff.Permanent(fmt.Errorf("provider rejected request with status %d", code))
	}
}

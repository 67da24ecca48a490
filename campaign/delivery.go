package campaign

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/internal/httpclient"
	"github.com/teranos/cadence/logger"
)

// Message is one rendered message for one recipient
type Message struct {
	To          string  `json:"to"`
	Channel     Channel `json:"channel"`
	Subject     string  `json:"subject,omitempty"`
	Body        string  `json:"body"`
	CampaignID  string  `json:"campaign_id"`
	InstanceID  string  `json:"instance_id"`
	RecipientID string  `json:"recipient_id"`
}

// Receipt identifies the delivered message in the delivery service
type Receipt struct {
	Reference string `json:"reference"`
}

// Deliverer hands messages to the external send service
type Deliverer interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
}

// LogDeliverer is a dry run: it logs each message and returns a local reference
type LogDeliverer struct {
	log *zap.SugaredLogger
}

// NewLogDeliverer creates a dry-run deliverer
func NewLogDeliverer(log *zap.SugaredLogger) *LogDeliverer {
	if log == nil {
		log = logger.Logger
	}
	return &LogDeliverer{log: logger.AddCampaignSymbol(log.Named("delivery"))}
}

func (d *LogDeliverer) Send(_ context.Context, msg Message) (Receipt, error) {
	ref := "dry-run-" + uuid.New().String()
	d.log.Infow("Dry-run delivery",
		logger.FieldChannel, msg.Channel,
		logger.FieldRecipientID, msg.RecipientID,
		logger.FieldInstanceID, msg.InstanceID,
		"to", msg.To,
		"subject", msg.Subject,
		"reference", ref,
	)
	return Receipt{Reference: ref}, nil
}

// HTTPDeliverer POSTs each message as JSON to the send service and expects
// {"reference": "..."} back.
type HTTPDeliverer struct {
	client   *httpclient.Client
	endpoint string
	apiKey   string
}

// NewHTTPDeliverer creates a deliverer for endpoint. The endpoint is
// validated against the client's target policy up front.
func NewHTTPDeliverer(client *httpclient.Client, endpoint, apiKey string) (*HTTPDeliverer, error) {
	if _, err := client.ValidateURL(endpoint); err != nil {
		return nil, errors.Wrap(err, "invalid delivery endpoint")
	}
	return &HTTPDeliverer{client: client, endpoint: endpoint, apiKey: apiKey}, nil
}

func (d *HTTPDeliverer) Send(ctx context.Context, msg Message) (Receipt, error) {
	headers := map[string]string{"Idempotency-Key": msg.InstanceID + ":" + msg.RecipientID}
	if d.apiKey != "" {
		headers["Authorization"] = "Bearer " + d.apiKey
	}

	var receipt Receipt
	if err := d.client.PostJSON(ctx, d.endpoint, headers, msg, &receipt); err != nil {
		return Receipt{}, errors.Wrapf(err, "delivery to %s failed", msg.To)
	}
	if receipt.Reference == "" {
		return Receipt{}, errors.New("delivery service returned no reference")
	}
	return receipt, nil
}

// ThrottledDeliverer paces sends to at most perSecond, with a burst of one
type ThrottledDeliverer struct {
	next    Deliverer
	limiter *rate.Limiter
}

// NewThrottledDeliverer wraps next. perSecond <= 0 disables throttling.
func NewThrottledDeliverer(next Deliverer, perSecond float64) Deliverer {
	if perSecond <= 0 {
		return next
	}
	return &ThrottledDeliverer{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), 1)}
}

func (d *ThrottledDeliverer) Send(ctx context.Context, msg Message) (Receipt, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return Receipt{}, errors.Wrap(err, "delivery throttle")
	}
	return d.next.Send(ctx, msg)
}

// DeliveryConfig selects and tunes a Deliverer
type DeliveryConfig struct {
	Mode         string // "log" or "http"
	Endpoint     string
	APIKey       string
	Timeout      time.Duration
	AllowPrivate bool
	UserAgent    string
	PerSecond    float64
}

// NewDeliverer builds the configured deliverer, throttled when PerSecond > 0
func NewDeliverer(cfg DeliveryConfig, log *zap.SugaredLogger) (Deliverer, error) {
	var d Deliverer
	switch cfg.Mode {
	case "", "log":
		d = NewLogDeliverer(log)
	case "http":
		client := httpclient.New(httpclient.Options{
			Timeout:      cfg.Timeout,
			AllowPrivate: cfg.AllowPrivate,
			UserAgent:    cfg.UserAgent,
		})
		hd, err := NewHTTPDeliverer(client, cfg.Endpoint, cfg.APIKey)
		if err != nil {
			return nil, err
		}
		d = hd
	default:
		return nil, errors.NewInvalidRequestError("unknown delivery mode %q", cfg.Mode)
	}
	return NewThrottledDeliverer(d, cfg.PerSecond), nil
}

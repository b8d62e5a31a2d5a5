package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/lumenpay/settlement-backend/internal/auditlog"
	"github.com/lumenpay/settlement-backend/internal/consumers/worker"
	"github.com/lumenpay/settlement-backend/pkg/config"
	"github.com/lumenpay/settlement-backend/pkg/db/models"
	"github.com/lumenpay/settlement-backend/pkg/logger"
	"github.com/lumenpay/settlement-backend/pkg/types"
)

// ConsumerName keys the idempotency markers of the webhook consumer.
const ConsumerName = "webhooks"

const (
	outcomeDelivered     = "delivered"
	outcomeFailed        = "failed"
	outcomeQuotaExceeded = "quota_exceeded"

	quotaExceededMessage = "billing event quota exceeded; delivery skipped"
	responseDrainLimit   = 4096
)

type quotaCounter interface {
	QuotaKey(scope ...string) string
	QuotaAllow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type deliveryRecorder interface {
	IncDelivery(outcome string)
}

// DispatcherParams wires the dispatcher.
type DispatcherParams struct {
	Logger     *logger.Logger
	Webhooks   Repository
	Audit      auditlog.Repository
	Quota      quotaCounter
	Config     config.WebhooksConfig
	HTTPClient *http.Client
	Metrics    deliveryRecorder
}

// Dispatcher fans settlement events out to the audit trail and subscriber
// webhooks. Each trigger is delivered at most once; failures end up in the
// WebhookLog and the service log only.
type Dispatcher struct {
	logg         *logger.Logger
	webhooks     Repository
	audit        auditlog.Repository
	quota        quotaCounter
	httpClient   *http.Client
	defaultQuota int64
	userAgent    string
	metrics      deliveryRecorder
	now          func() time.Time
}

func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Webhooks == nil {
		return nil, errors.New("webhook repository required")
	}
	if params.Audit == nil {
		return nil, errors.New("audit repository required")
	}
	if params.Quota == nil {
		return nil, errors.New("quota counter required")
	}
	client := params.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: params.Config.Timeout}
	}
	return &Dispatcher{
		logg:         params.Logger,
		webhooks:     params.Webhooks,
		audit:        params.Audit,
		quota:        params.Quota,
		httpClient:   client,
		defaultQuota: params.Config.DefaultQuota,
		userAgent:    params.Config.UserAgent,
		metrics:      params.Metrics,
		now:          time.Now,
	}, nil
}

// Body is the JSON document POSTed to subscribers.
type Body struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    json.RawMessage `json:"data"`
}

// DeliveryResult is the outcome of a single POST.
type DeliveryResult struct {
	StatusCode   int
	ResponseTime time.Duration
	Err          error
}

// Handle records the audit event and delivers it to every subscribed webhook.
// Only storage errors are returned; subscriber failures are logged.
func (d *Dispatcher) Handle(ctx context.Context, event worker.Event) error {
	created, err := d.recordAudit(ctx, event)
	if err != nil {
		return fmt.Errorf("record audit event: %w", err)
	}
	if !created {
		d.logg.Info(ctx, "audit event already recorded; deliveries skipped")
		return nil
	}

	hooks, err := d.webhooks.ListSubscribed(ctx, event.OrganizationID, event.Environment, string(event.EventType))
	if err != nil {
		return fmt.Errorf("list webhooks: %w", err)
	}
	if len(hooks) == 0 {
		return nil
	}

	allowed := d.withinQuota(ctx, event)
	var errs error
	for _, hook := range hooks {
		hookCtx := d.logg.WithField(ctx, "webhook_id", hook.ID.String())
		if !allowed {
			if err := d.writeLog(hookCtx, hook, event, nil, DeliveryResult{StatusCode: http.StatusTooManyRequests, Err: errors.New(quotaExceededMessage)}); err != nil {
				errs = multierr.Append(errs, err)
			}
			d.record(outcomeQuotaExceeded)
			d.logg.Warn(hookCtx, "webhook skipped: billing event quota exceeded")
			continue
		}
		if _, err := d.Deliver(hookCtx, hook, event); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Deliver signs and POSTs event to hook and always writes a WebhookLog. The
// returned error only reports a failure to write that log.
func (d *Dispatcher) Deliver(ctx context.Context, hook models.Webhook, event worker.Event) (DeliveryResult, error) {
	body, err := json.Marshal(Body{
		ID:      event.EventID.String(),
		Type:    string(event.EventType),
		Created: event.OccurredAt.Unix(),
		Data:    dataOrEmpty(event.Data),
	})
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("encode webhook body: %w", err)
	}

	result := d.post(ctx, hook, event, body)
	if result.Err != nil {
		d.record(outcomeFailed)
		d.logg.Warn(d.logg.WithFields(ctx, map[string]any{
			"status_code": result.StatusCode,
			"error":       result.Err.Error(),
		}), "webhook delivery failed")
	} else {
		d.record(outcomeDelivered)
		d.logg.Info(d.logg.WithField(ctx, "status_code", result.StatusCode), "webhook delivered")
	}
	return result, d.writeLog(ctx, hook, event, body, result)
}

func (d *Dispatcher) post(ctx context.Context, hook models.Webhook, event worker.Event, body []byte) DeliveryResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return DeliveryResult{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}
	req.Header.Set(SignatureHeader, Sign(hook.Secret, body, d.now()))
	req.Header.Set(EventHeader, string(event.EventType))
	req.Header.Set(DeliveryHeader, event.EventID.String())

	start := d.now()
	resp, err := d.httpClient.Do(req)
	elapsed := d.now().Sub(start)
	if err != nil {
		return DeliveryResult{ResponseTime: elapsed, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, responseDrainLimit))

	result := DeliveryResult{StatusCode: resp.StatusCode, ResponseTime: elapsed}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		result.Err = fmt.Errorf("subscriber responded with status %d", resp.StatusCode)
	}
	return result
}

func (d *Dispatcher) recordAudit(ctx context.Context, event worker.Event) (bool, error) {
	aggregateID, err := uuid.Parse(event.AggregateID)
	if err != nil {
		return false, fmt.Errorf("aggregate id: %w", err)
	}
	data := types.JSONMap{}
	if len(event.Data) > 0 {
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return false, fmt.Errorf("decode event data: %w", err)
		}
	}
	return d.audit.Record(ctx, &models.Event{
		ID:             event.EventID,
		OrganizationID: event.OrganizationID,
		Environment:    event.Environment,
		Type:           string(event.EventType),
		AggregateID:    aggregateID,
		Data:           data,
		OccurredAt:     event.OccurredAt,
	})
}

// withinQuota counts the event against the org's monthly window. A quota
// store failure lets the delivery through.
func (d *Dispatcher) withinQuota(ctx context.Context, event worker.Event) bool {
	limit := d.defaultQuota
	custom, err := d.webhooks.BillingEventQuota(ctx, event.OrganizationID)
	if err != nil {
		d.logg.Error(ctx, "load billing event quota", err)
	} else if custom != nil {
		limit = *custom
	}
	if limit <= 0 {
		return true
	}

	now := d.now().UTC()
	key := d.quota.QuotaKey(event.OrganizationID.String(), string(event.Environment), now.Format("2006-01"))
	allowed, count, err := d.quota.QuotaAllow(ctx, key, limit, untilNextMonth(now))
	if err != nil {
		d.logg.Error(ctx, "quota check failed", err)
		return true
	}
	if !allowed {
		d.logg.Warn(d.logg.WithFields(ctx, map[string]any{"quota": limit, "count": count}), "billing event quota exceeded")
	}
	return allowed
}

func (d *Dispatcher) writeLog(ctx context.Context, hook models.Webhook, event worker.Event, body []byte, result DeliveryResult) error {
	request := types.JSONMap{"url": hook.URL}
	if len(body) > 0 {
		request["body"] = json.RawMessage(body)
	}
	log := &models.WebhookLog{
		WebhookID:      hook.ID,
		OrganizationID: event.OrganizationID,
		Environment:    event.Environment,
		EventID:        event.EventID,
		EventType:      string(event.EventType),
		Request:        request,
		ResponseTimeMS: result.ResponseTime.Milliseconds(),
	}
	if result.StatusCode != 0 {
		code := result.StatusCode
		log.StatusCode = &code
	}
	if result.Err != nil {
		msg := result.Err.Error()
		log.Error = &msg
	}
	if err := d.webhooks.CreateLog(ctx, log); err != nil {
		d.logg.Error(ctx, "write webhook log", err)
		return fmt.Errorf("write webhook log: %w", err)
	}
	return nil
}

func (d *Dispatcher) record(outcome string) {
	if d.metrics != nil {
		d.metrics.IncDelivery(outcome)
	}
}

func dataOrEmpty(data json.RawMessage) json.RawMessage {
	if len(data) == 0 {
		return json.RawMessage(`{}`)
	}
	return data
}

// untilNextMonth keeps the counter alive for the rest of the calendar month
// plus a day of slack for clock skew between workers.
func untilNextMonth(now time.Time) time.Duration {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return first.Sub(now) + 24*time.Hour
}

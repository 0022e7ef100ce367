package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	tgotel "github.com/Strob0t/TheraGate/internal/adapter/otel"
	"github.com/Strob0t/TheraGate/internal/domain/audit"
	"github.com/Strob0t/TheraGate/internal/domain/webhook"
	"github.com/Strob0t/TheraGate/internal/metrics"
	"github.com/Strob0t/TheraGate/internal/port/billing"
	"github.com/Strob0t/TheraGate/internal/port/notifier"
)

// Dispatcher routes verified webhook events to the domain services.
// Attempt runs the handler without auditing so that retried attempts are not
// recorded more than once; Record writes the single audit entry for the
// final outcome.
type Dispatcher struct {
	payments billing.PaymentService
	accounts billing.AccountService
	caps     *CapabilityCache
	notify   *NotificationService
	audit    *AuditService
	validate *validator.Validate
	metrics  *metrics.Metrics
	otelMets *tgotel.Metrics
}

// NewDispatcher creates a Dispatcher. caps and notify may be nil.
func NewDispatcher(payments billing.PaymentService, accounts billing.AccountService, caps *CapabilityCache, notify *NotificationService, auditSvc *AuditService) *Dispatcher {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			return ""
		case "":
			return f.Name
		}
		return name
	})
	return &Dispatcher{
		payments: payments,
		accounts: accounts,
		caps:     caps,
		notify:   notify,
		audit:    auditSvc,
		validate: v,
	}
}

// SetMetrics enables dispatch counters.
func (d *Dispatcher) SetMetrics(m *metrics.Metrics) { d.metrics = m }

// SetOTelMetrics enables the OTLP dispatch instruments.
func (d *Dispatcher) SetOTelMetrics(m *tgotel.Metrics) { d.otelMets = m }

// Dispatch handles ev once and records the outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *webhook.Event) webhook.Result {
	ctx, span := tgotel.StartDispatchSpan(ctx, ev.ID, string(ev.Type))
	start := time.Now()
	res := d.Attempt(ctx, ev)
	d.Record(ctx, ev, res)
	d.otelMets.RecordDispatch(ctx, string(ev.Type), string(res.Status), time.Since(start).Seconds())
	tgotel.EndSpan(span, res.Err)
	return res
}

// Attempt routes ev to its handler. Unrecognized types are ignored.
func (d *Dispatcher) Attempt(ctx context.Context, ev *webhook.Event) webhook.Result {
	switch ev.Type.Family() {
	case webhook.FamilyPaymentSuccess:
		return d.handlePayment(ctx, ev, true)
	case webhook.FamilyPaymentFailure:
		return d.handlePayment(ctx, ev, false)
	case webhook.FamilyAccountUpdate:
		return d.handleAccountUpdated(ctx, ev)
	case webhook.FamilyAccountDeauth:
		return d.handleDeauthorized(ctx, ev)
	case webhook.FamilyTransfer, webhook.FamilyPayout:
		return d.handleTransfer(ev)
	case webhook.FamilyDispute:
		return d.handleDispute(ctx, ev)
	case webhook.FamilySubscription:
		return d.handleSubscription(ev)
	default:
		return webhook.Ignored(webhook.ReasonUnrecognized)
	}
}

// decode unmarshals the event object into dst and validates required fields.
func (d *Dispatcher) decode(ev *webhook.Event, dst any) error {
	if len(ev.Data.Object) == 0 {
		return fmt.Errorf("%w: data.object is empty", webhook.ErrMissingRequiredFields)
	}
	if err := json.Unmarshal(ev.Data.Object, dst); err != nil {
		return fmt.Errorf("%w: decode %s object: %v", webhook.ErrMalformedPayload, ev.Type, err)
	}
	return d.check(dst)
}

func (d *Dispatcher) check(v any) error {
	err := d.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", webhook.ErrMissingRequiredFields, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return fmt.Errorf("%w: %s", webhook.ErrMissingRequiredFields, strings.Join(fields, ", "))
}

func (d *Dispatcher) handlePayment(ctx context.Context, ev *webhook.Event, succeeded bool) webhook.Result {
	var obj webhook.PaymentObject
	if err := d.decode(ev, &obj); err != nil {
		return webhook.Failure(err)
	}
	details := map[string]any{
		"payment_id": obj.ID,
		"customer":   obj.Customer,
		"amount":     obj.Amount,
		"currency":   obj.Currency,
	}
	if succeeded {
		if err := d.payments.ConfirmPayment(ctx, obj.ID); err != nil {
			return webhook.Failure(fmt.Errorf("confirm payment %s: %w", obj.ID, err))
		}
		return webhook.Success("payment confirmed", details)
	}
	if err := d.payments.MarkFailed(ctx, obj.ID); err != nil {
		return webhook.Failure(fmt.Errorf("mark payment %s failed: %w", obj.ID, err))
	}
	res := webhook.Success("payment marked failed", details)
	res.Severity = string(audit.SeverityWarning)
	return res
}

func (d *Dispatcher) handleAccountUpdated(ctx context.Context, ev *webhook.Event) webhook.Result {
	var obj webhook.AccountObject
	if err := d.decode(ev, &obj); err != nil {
		return webhook.Failure(err)
	}
	caps, err := d.accounts.RefreshAccount(ctx, obj.ID)
	if err != nil {
		return webhook.Failure(fmt.Errorf("refresh account %s: %w", obj.ID, err))
	}
	if d.caps != nil {
		if err := d.caps.Store(ctx, caps); err != nil {
			slog.Warn("capability cache write failed", "account_id", obj.ID, "error", err)
		}
	}
	return webhook.Success("account refreshed", map[string]any{
		"account_id":        obj.ID,
		"charges_enabled":   caps.ChargesEnabled,
		"payouts_enabled":   caps.PayoutsEnabled,
		"details_submitted": caps.DetailsSubmitted,
	})
}

func (d *Dispatcher) handleDeauthorized(ctx context.Context, ev *webhook.Event) webhook.Result {
	deauth := webhook.Deauthorization{AccountID: ev.Account}
	if len(ev.Data.Object) > 0 {
		var app struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(ev.Data.Object, &app); err == nil {
			deauth.ApplicationID = app.ID
		}
	}
	if err := d.check(deauth); err != nil {
		return webhook.Failure(err)
	}
	if err := d.accounts.DeactivateAccount(ctx, deauth.AccountID); err != nil {
		return webhook.Failure(fmt.Errorf("deactivate account %s: %w", deauth.AccountID, err))
	}
	if d.caps != nil {
		if err := d.caps.Evict(ctx, deauth.AccountID); err != nil {
			slog.Warn("capability cache evict failed", "account_id", deauth.AccountID, "error", err)
		}
	}
	return webhook.Success("account deactivated", map[string]any{
		"account_id":     deauth.AccountID,
		"application_id": deauth.ApplicationID,
	})
}

func (d *Dispatcher) handleTransfer(ev *webhook.Event) webhook.Result {
	var obj webhook.TransferObject
	if err := d.decode(ev, &obj); err != nil {
		return webhook.Failure(err)
	}
	kind, action, _ := strings.Cut(string(ev.Type), ".")
	details := map[string]any{
		kind + "_id":  obj.ID,
		"amount":      obj.Amount,
		"currency":    obj.Currency,
		"destination": obj.Destination,
		"transition":  action,
	}
	if ev.Account != "" {
		details["account_id"] = ev.Account
	}
	res := webhook.Success(kind+" "+action, details)
	if action == "failed" {
		details["failure_code"] = obj.FailureCode
		res.Severity = string(audit.SeverityWarning)
	}
	return res
}

func (d *Dispatcher) handleDispute(ctx context.Context, ev *webhook.Event) webhook.Result {
	var obj webhook.DisputeObject
	if err := d.decode(ev, &obj); err != nil {
		return webhook.Failure(err)
	}
	if d.notify != nil {
		d.notify.Notify(ctx, notifier.Notification{
			Title:   "Payment dispute opened",
			Message: fmt.Sprintf("Dispute %s on charge %s: %d %s (%s)", obj.ID, obj.Charge, obj.Amount, obj.Currency, obj.Reason),
			Level:   "warning",
			Source:  "webhook.dispute",
			Fields: map[string]string{
				"dispute": obj.ID,
				"charge":  obj.Charge,
				"reason":  obj.Reason,
			},
		})
	}
	res := webhook.Success("dispute recorded", map[string]any{
		"dispute_id": obj.ID,
		"charge":     obj.Charge,
		"amount":     obj.Amount,
		"currency":   obj.Currency,
		"reason":     obj.Reason,
	})
	res.Severity = string(audit.SeverityHigh)
	return res
}

func (d *Dispatcher) handleSubscription(ev *webhook.Event) webhook.Result {
	var obj webhook.SubscriptionObject
	if err := d.decode(ev, &obj); err != nil {
		return webhook.Failure(err)
	}
	_, action, _ := strings.Cut(strings.TrimPrefix(string(ev.Type), "customer."), ".")
	return webhook.Success("subscription "+action, map[string]any{
		"subscription_id": obj.ID,
		"customer":        obj.Customer,
		"status":          obj.Status,
		"transition":      action,
	})
}

// Record writes the audit entry for the final outcome of ev.
func (d *Dispatcher) Record(ctx context.Context, ev *webhook.Event, res webhook.Result) audit.Entry {
	details := make(map[string]any, len(res.Details)+6)
	for k, v := range res.Details {
		details[k] = v
	}
	details["event_id"] = ev.ID
	details["event_type"] = string(ev.Type)
	details["livemode"] = ev.Livemode
	details["status"] = string(res.Status)
	if res.Message != "" {
		details["message"] = res.Message
	}
	if res.Attempts > 0 {
		details["attempts"] = res.Attempts
	}

	d.metrics.Dispatch(familyLabel(ev.Type), string(res.Status))

	var opts []AuditOption
	if subject := subjectFor(ev, res); subject != "" {
		opts = append(opts, WithSubject(subject))
	}
	return d.audit.Log(ctx, kindFor(res), details, severityFor(res), opts...)
}

func familyLabel(t webhook.EventType) string {
	if f := t.Family(); f != webhook.FamilyUnknown {
		return string(f)
	}
	return "unknown"
}

func kindFor(res webhook.Result) audit.Kind {
	switch {
	case res.IsDuplicate():
		return audit.KindWebhookDuplicate
	case res.Status == webhook.StatusIgnored:
		return audit.KindWebhookIgnored
	case res.Status == webhook.StatusFailure:
		return audit.KindWebhookFailed
	default:
		return audit.KindWebhookProcessed
	}
}

// severityFor picks the audit severity: the handler's request if any, high
// for exhausted transient failures, medium for permanent ones and info for
// everything else.
func severityFor(res webhook.Result) audit.Severity {
	if res.Severity != "" {
		if sev, err := audit.ParseSeverity(res.Severity); err == nil {
			return sev
		}
	}
	if res.Status != webhook.StatusFailure {
		return audit.SeverityInfo
	}
	if errors.Is(res.Err, webhook.ErrTransient) {
		return audit.SeverityHigh
	}
	return audit.SeverityMedium
}

func subjectFor(ev *webhook.Event, res webhook.Result) string {
	if c, ok := res.Details["customer"].(string); ok && c != "" {
		return c
	}
	if a, ok := res.Details["account_id"].(string); ok && a != "" {
		return a
	}
	return ev.Account
}

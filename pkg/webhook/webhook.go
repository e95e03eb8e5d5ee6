package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"
)

const (
	HeaderSignature  = "X-Signature"
	HeaderEvent      = "X-Event"
	HeaderDeliveryID = "X-Delivery-Id"

	MaxAttempts = 3
)

// Schedule is the wait before the next attempt, indexed by the number of failed attempts minus one.
var Schedule = []time.Duration{10 * time.Second, 60 * time.Second, 300 * time.Second}

type Status string

const (
	StatusPending  Status = "pending"
	StatusRetrying Status = "retrying"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Target is a subscriber endpoint. An empty Events list or "*" subscribes to everything.
type Target struct {
	ID     string
	Name   string
	URL    string
	Secret string
	Events []string
	Active bool
}

func (t Target) Subscribed(event string) bool {
	if !t.Active {
		return false
	}
	if len(t.Events) == 0 {
		return true
	}
	for _, e := range t.Events {
		if e == "*" || e == event {
			return true
		}
	}
	return false
}

type Delivery struct {
	ID             string
	TargetID       string
	Event          string
	Payload        []byte // serialized Envelope, signed as-is
	Status         Status
	Attempts       int
	LastHTTPStatus int
	LastError      string
	ResponseTimeMs int64
	NextAttemptAt  *time.Time
	DeliveredAt    *time.Time
	CreatedAt      time.Time
}

type Envelope struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

func NewEnvelope(event string, data any, now time.Time) ([]byte, error) {
	return json.Marshal(Envelope{Event: event, Timestamp: now.UTC(), Data: data})
}

// Sign returns "sha256=<hex hmac>" of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func Verify(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

// Backoff is the delay scheduled after the given failed attempt (1-based).
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(Schedule) {
		attempt = len(Schedule)
	}
	return Schedule[attempt-1]
}

// AttemptResult is what one HTTP try produced.
type AttemptResult struct {
	StatusCode int
	Duration   time.Duration
	Err        error
}

func (r AttemptResult) OK() bool {
	return r.Err == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Outcome tells the caller what to do after an attempt was recorded.
type Outcome struct {
	Status Status
	Retry  bool
	Delay  time.Duration
}

// Advance records an attempt on d and moves it through pending/retrying to success or failed.
func Advance(d *Delivery, r AttemptResult, now time.Time) Outcome {
	d.Attempts++
	d.LastHTTPStatus = r.StatusCode
	d.ResponseTimeMs = r.Duration.Milliseconds()
	d.NextAttemptAt = nil

	switch {
	case r.OK():
		d.Status = StatusSuccess
		d.LastError = ""
		delivered := now
		d.DeliveredAt = &delivered
		return Outcome{Status: StatusSuccess}
	case r.Err != nil:
		d.LastError = r.Err.Error()
	default:
		d.LastError = "unexpected HTTP status " + strconv.Itoa(r.StatusCode)
	}

	if d.Attempts >= MaxAttempts {
		d.Status = StatusFailed
		return Outcome{Status: StatusFailed}
	}
	delay := Backoff(d.Attempts)
	next := now.Add(delay)
	d.Status = StatusRetrying
	d.NextAttemptAt = &next
	return Outcome{Status: StatusRetrying, Retry: true, Delay: delay}
}

// internal/signals/signals.go
package signals

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// Kind is the discriminated tag of a message from the embedded payment surface.
type Kind int

const (
	KindUnknown Kind = iota
	KindSubmitStarted
	KindCompletion
)

func (k Kind) String() string {
	switch k {
	case KindSubmitStarted:
		return "submit_started"
	case KindCompletion:
		return "completion"
	}
	return "unknown"
}

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusCancel  Status = "cancel"
)

// Message is a decoded surface message. Only the fields for its Kind are set.
type Message struct {
	Kind                  Kind
	Status                Status
	ProviderTransactionID string
	ProviderSessionID     string
}

// Decode recognizes the two message shapes the surface sends:
//
//	{"event": "submit_process", "value": true}
//	{"type": "payment_complete", "status": "success|failure|cancel", ...}
//
// Anything else, including malformed JSON, reports false.
func Decode(raw []byte) (Message, bool) {
	if !gjson.ValidBytes(raw) {
		return Message{}, false
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return Message{}, false
	}

	if ev := doc.Get("event"); ev.Type == gjson.String && ev.Str == "submit_process" {
		if v := doc.Get("value"); v.Type == gjson.True {
			return Message{Kind: KindSubmitStarted}, true
		}
		return Message{}, false
	}

	if typ := doc.Get("type"); typ.Type == gjson.String && typ.Str == "payment_complete" {
		status := Status(doc.Get("status").Str)
		switch status {
		case StatusSuccess, StatusFailure, StatusCancel:
		default:
			return Message{}, false
		}
		return Message{
			Kind:                  KindCompletion,
			Status:                status,
			ProviderTransactionID: doc.Get("providerTransactionId").Str,
			ProviderSessionID:     doc.Get("providerSessionId").Str,
		}, true
	}

	return Message{}, false
}

// Handler consumes decoded messages for one transaction.
type Handler interface {
	SubmissionStarted(ctx context.Context, transactionID string) error
	Completed(ctx context.Context, transactionID string, msg Message) error
}

// Dispatcher is the single consumer of surface messages. It pattern
// matches on the decoded kind and drops anything else.
type Dispatcher struct {
	handler Handler
	log     logrus.FieldLogger
}

func NewDispatcher(handler Handler, log logrus.FieldLogger) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{handler: handler, log: log}
}

// Dispatch decodes and routes one raw message. Unrecognized messages are
// ignored and report handled=false with no error.
func (d *Dispatcher) Dispatch(ctx context.Context, transactionID string, raw []byte) (bool, error) {
	msg, ok := Decode(raw)
	if !ok {
		d.log.WithField("transaction_id", transactionID).Debug("Ignoring unrecognized surface message")
		return false, nil
	}

	switch msg.Kind {
	case KindSubmitStarted:
		return true, d.handler.SubmissionStarted(ctx, transactionID)
	case KindCompletion:
		return true, d.handler.Completed(ctx, transactionID, msg)
	}
	return false, nil
}

// Summary counts what a Listen call saw.
type Summary struct {
	Handled int
	Ignored int
	Err     error
}

// Listen consumes in until it is closed or ctx ends. The subscription is
// torn down on return either way; messages still buffered after ctx ends
// are not processed. Handler errors are joined into Summary.Err and do
// not stop the loop.
func (d *Dispatcher) Listen(ctx context.Context, transactionID string, in <-chan []byte) Summary {
	var s Summary
	var errs []error
	for {
		select {
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
			s.Err = errors.Join(errs...)
			return s
		case raw, ok := <-in:
			if !ok {
				s.Err = errors.Join(errs...)
				return s
			}
			handled, err := d.Dispatch(ctx, transactionID, raw)
			if err != nil {
				d.log.WithError(err).WithField("transaction_id", transactionID).Warn("Surface message handling failed")
				errs = append(errs, err)
			}
			if handled {
				s.Handled++
			} else {
				s.Ignored++
			}
		}
	}
}

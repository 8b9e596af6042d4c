package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTopic   = "checkout-outbox"
	DefaultGroupID = "marketplace-cart-consumer"
)

var errMissingUserID = errors.New("missing or invalid user_id")

// Purger empties a user's cart once their checkout completed.
type Purger interface {
	Purge(ctx context.Context, userID string) error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Poller struct {
	purger  Purger
	reader  messageReader
	log     logrus.FieldLogger
	backoff time.Duration
}

func NewPoller(purger Purger, log logrus.FieldLogger, topic string, brokers ...string) *Poller {
	if topic == "" {
		topic = DefaultTopic
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  DefaultGroupID,
		MaxBytes: 10e6, // 10MB
	})
	return newPoller(purger, reader, log)
}

func newPoller(purger Purger, reader messageReader, log logrus.FieldLogger) *Poller {
	return &Poller{
		purger:  purger,
		reader:  reader,
		log:     log,
		backoff: time.Second,
	}
}

// Run consumes messages until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		p.getMessageAndEmptyCart(ctx)
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.log.WithError(err).Warn("error closing checkout reader")
	}
}

func (p *Poller) getMessageAndEmptyCart(ctx context.Context) {
	m, err := p.reader.ReadMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.log.WithError(err).Warn("error reading checkout message")
		select {
		case <-ctx.Done():
		case <-time.After(p.backoff):
		}
		return
	}

	userID, err := parseUserID(m.Value)
	if err != nil {
		p.log.WithError(err).WithFields(logrus.Fields{
			"partition": m.Partition,
			"offset":    m.Offset,
		}).Warn("skipping malformed checkout message")
		return
	}

	if err := p.purger.Purge(ctx, userID); err != nil {
		p.log.WithError(err).WithField("user_id", userID).Error("failed to empty cart after checkout")
		return
	}
	p.log.WithField("user_id", userID).Info("cart emptied after checkout")
}

// parseUserID accepts user_id as a JSON string or number.
func parseUserID(value []byte) (string, error) {
	var payload struct {
		UserID json.RawMessage `json:"user_id"`
	}
	if err := json.Unmarshal(value, &payload); err != nil {
		return "", fmt.Errorf("error parsing message: %w", err)
	}
	if len(payload.UserID) == 0 {
		return "", errMissingUserID
	}

	var s string
	if err := json.Unmarshal(payload.UserID, &s); err == nil {
		if s == "" {
			return "", errMissingUserID
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(payload.UserID, &n); err == nil {
		if _, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return n.String(), nil
		}
	}
	return "", errMissingUserID
}

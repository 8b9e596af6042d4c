package poller

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type readResult struct {
	msg kafka.Message
	err error
}

type fakeReader struct {
	m       sync.Mutex
	results []readResult
	closed  bool
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	r.m.Lock()
	if len(r.results) > 0 {
		next := r.results[0]
		r.results = r.results[1:]
		r.m.Unlock()
		return next.msg, next.err
	}
	r.m.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) Close() error {
	r.m.Lock()
	defer r.m.Unlock()
	r.closed = true
	return nil
}

type fakePurger struct {
	m      sync.Mutex
	purged []string
	err    error
}

func (p *fakePurger) Purge(_ context.Context, userID string) error {
	p.m.Lock()
	defer p.m.Unlock()
	if p.err != nil {
		return p.err
	}
	p.purged = append(p.purged, userID)
	return nil
}

func (p *fakePurger) users() []string {
	p.m.Lock()
	defer p.m.Unlock()
	return append([]string(nil), p.purged...)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func message(value string) readResult {
	return readResult{msg: kafka.Message{Value: []byte(value)}}
}

func TestPoller_PurgesCartsFromCheckoutEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{results: []readResult{
		message(`{"checkout_id":"ch1","user_id":"u1","total_amount":"1"}`),
		message(`not json`),
		message(`{"checkout_id":"ch2"}`),
		{err: errors.New("broker not available")},
		message(`{"user_id":42}`),
	}}
	purger := &fakePurger{}
	p := newPoller(purger, reader, quietLogger())
	p.backoff = time.Millisecond

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(purger.users()) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"u1", "42"}, purger.users())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}

	p.Close()
	assert.True(t, reader.closed)
}

func TestPoller_PurgeFailureDoesNotStopLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{results: []readResult{message(`{"user_id":"u1"}`)}}
	purger := &fakePurger{err: errors.New("store down")}
	p := newPoller(purger, reader, quietLogger())

	p.getMessageAndEmptyCart(ctx)
	assert.Empty(t, purger.users())

	cancel()
	p.Run(ctx)
}

func TestParseUserID(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
		wantErr bool
	}{
		{"string", `{"user_id":"u1"}`, "u1", false},
		{"number", `{"user_id":123}`, "123", false},
		{"missing", `{"checkout_id":"x"}`, "", true},
		{"empty", `{"user_id":""}`, "", true},
		{"null", `{"user_id":null}`, "", true},
		{"fraction", `{"user_id":1.5}`, "", true},
		{"object", `{"user_id":{"id":1}}`, "", true},
		{"malformed", `{`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseUserID([]byte(tt.payload))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

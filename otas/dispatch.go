package otas

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Dispatcher delivers assembled events to the ingest endpoint from a pool of
// background senders. Enqueue never blocks the request goroutine: when the
// bounded queue is full the event is dropped and the drop is logged. Every
// delivery failure is swallowed here; nothing propagates to the application.
type Dispatcher struct {
	endpoint string
	sdkKey   string
	client   *http.Client
	logger   zerolog.Logger

	events  chan EventRecord
	sem     chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	closeCh chan struct{}
}

func newDispatcher(cfg Config, logger zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		endpoint: cfg.IngestEndpoint,
		sdkKey:   cfg.SDKKey,
		client:   cfg.HTTPClient,
		logger:   logger,
		events:   make(chan EventRecord, cfg.QueueSize),
		sem:      make(chan struct{}, cfg.MaxConcurrentSends),
		closeCh:  make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()
	return d
}

// Enqueue hands the record to the background senders. Exactly one delivery
// attempt is made per accepted record; full-queue and post-shutdown records
// are dropped. The events channel is never closed, so a Record racing a
// Shutdown can never panic the request goroutine.
func (d *Dispatcher) Enqueue(record EventRecord) {
	select {
	case <-d.closeCh:
		return
	default:
	}

	select {
	case d.events <- record:
	case <-d.closeCh:
	default:
		eventsDropped.Inc()
		d.logger.Warn().
			Str("path", record.Path).
			Msg("otas dispatch queue is full; dropping event")
	}
}

// Shutdown stops accepting events, drains the queued backlog, and waits for
// in-flight sends, up to the context deadline.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.once.Do(func() {
		close(d.closeCh)
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case record := <-d.events:
			d.dispatchAsync(record)
		case <-d.closeCh:
			// Drain whatever was queued before shutdown.
			for {
				select {
				case record := <-d.events:
					d.dispatchAsync(record)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) dispatchAsync(record EventRecord) {
	d.sem <- struct{}{}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() { <-d.sem }()
		d.send(record)
	}()
}

// send performs the single delivery attempt. The event id only exists so a
// failure and its context line up in operator logs.
func (d *Dispatcher) send(record EventRecord) {
	eventID := uuid.New().String()

	payload, err := json.Marshal(record)
	if err != nil {
		eventsFailed.WithLabelValues("encode").Inc()
		d.logger.Warn().Err(err).Str("event_id", eventID).Msg("otas event encode failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(payload))
	if err != nil {
		eventsFailed.WithLabelValues("request").Inc()
		d.logger.Warn().Err(err).Str("event_id", eventID).Msg("otas event request build failed")
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SDKKeyHeader, d.sdkKey)
	req.Header.Set("User-Agent", userAgent())
	if record.AgentToken != "" {
		req.Header.Set(AgentTokenHeader, record.AgentToken)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		eventsFailed.WithLabelValues("transport").Inc()
		d.logger.Warn().Err(err).Str("event_id", eventID).Msg("otas event delivery failed")
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		eventsFailed.WithLabelValues("status").Inc()
		d.logger.Warn().
			Int("status", resp.StatusCode).
			Str("event_id", eventID).
			Msg("otas ingest endpoint rejected event")
		return
	}

	eventsDispatched.Inc()
}

package events

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	JobCreatedKind   string = "cvbuilder.jobs.created"
	JobStartedKind   string = "cvbuilder.jobs.started"
	JobSucceededKind string = "cvbuilder.jobs.succeeded"
	JobFailedKind    string = "cvbuilder.jobs.failed"
	JobCanceledKind  string = "cvbuilder.jobs.canceled"
	JobRetriedKind   string = "cvbuilder.jobs.retried"
	JobDeletedKind   string = "cvbuilder.jobs.deleted"
	defaultTopic     string = "cvbuilder.jobs"
	eventSource      string = "cvbuilder.api"
)

// Writer is the interface to be implemented by the underlying writer.
type Writer interface {
	Write(ctx context.Context, topic string, e cloudevents.Event) error
	Close(ctx context.Context) error
}

// EventProducer is a wrapper around a Writer with the buffer.
// Write never waits for the underlying writer: events are queued and sent by a background goroutine.
type EventProducer struct {
	buffer           *buffer
	startConsumingCh chan struct{}
	doneCh           chan struct{}
	stoppedCh        chan struct{}
	writer           Writer
	topic            string
	writeTimeout     time.Duration
	bufferCapacity   int
	closeOnce        sync.Once
	closeErr         error
}

func NewEventProducer(w Writer, opts ...ProducerOptions) *EventProducer {
	ep := &EventProducer{
		startConsumingCh: make(chan struct{}, 1),
		doneCh:           make(chan struct{}),
		stoppedCh:        make(chan struct{}),
		writer:           w,
		topic:            defaultTopic,
		writeTimeout:     10 * time.Second,
		bufferCapacity:   DefaultBufferCapacity,
	}

	for _, o := range opts {
		o(ep)
	}
	ep.buffer = newBuffer(ep.bufferCapacity)

	go ep.run()
	return ep
}

func (ep *EventProducer) Write(ctx context.Context, kind string, body io.Reader) error {
	d, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	return ep.push(&message{Kind: kind, Data: d})
}

// WriteJobEvent marshals a job lifecycle event and queues it. The job id is used as the event subject.
func (ep *EventProducer) WriteJobEvent(ctx context.Context, kind string, event JobEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return ep.push(&message{Kind: kind, Subject: event.JobID, Data: data})
}

func (ep *EventProducer) push(msg *message) error {
	if evicted := ep.buffer.PushBack(msg); evicted != nil {
		zap.S().Named("event_producer").Warnw("event buffer full, dropped oldest event",
			"kind", evicted.Kind, "job_id", evicted.Subject, "dropped_total", ep.buffer.Dropped())
	}

	// wake up the consumer if it sleeps
	select {
	case ep.startConsumingCh <- struct{}{}:
	default:
	}

	return nil
}

// Close drains the pending events and closes the writer. Later calls return the first result.
func (ep *EventProducer) Close() error {
	ep.closeOnce.Do(func() {
		ep.closeErr = ep.close()
	})
	return ep.closeErr
}

func (ep *EventProducer) close() error {
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	g, ctx := errgroup.WithContext(closeCtx)
	g.Go(func() error {
		close(ep.doneCh)
		select {
		case <-ep.stoppedCh:
		case <-ctx.Done():
		}
		return ep.writer.Close(ctx)
	})
	if err := g.Wait(); err != nil {
		zap.S().Named("event_producer").Errorf("event producer closed with error: %s", err)
		return err
	}

	zap.S().Named("event_producer").Info("event producer closed")

	return nil
}

func (ep *EventProducer) run() {
	defer close(ep.stoppedCh)

	for {
		msg := ep.buffer.Pop()
		if msg == nil {
			select {
			case <-ep.startConsumingCh:
				continue
			case <-ep.doneCh:
				return
			}
		}

		ep.send(msg)
	}
}

func (ep *EventProducer) send(msg *message) {
	e := cloudevents.NewEvent()
	e.SetID(uuid.NewString())
	e.SetSource(eventSource)
	e.SetType(msg.Kind)
	if msg.Subject != "" {
		e.SetSubject(msg.Subject)
	}
	e.SetTime(time.Now().UTC())
	_ = e.SetData(*cloudevents.StringOfApplicationJSON(), msg.Data)

	ctx, cancel := context.WithTimeout(context.Background(), ep.writeTimeout)
	defer cancel()

	if err := ep.writer.Write(ctx, ep.topic, e); err != nil {
		zap.S().Named("event_producer").Errorw("failed to send message", "error", err, "event", e)
	}
}

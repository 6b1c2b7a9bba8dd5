package events

import "time"

type ProducerOptions func(e *EventProducer)

func WithOutputTopic(topic string) ProducerOptions {
	return func(e *EventProducer) {
		if topic != "" {
			e.topic = topic
		}
	}
}

func WithWriteTimeout(timeout time.Duration) ProducerOptions {
	return func(e *EventProducer) {
		if timeout > 0 {
			e.writeTimeout = timeout
		}
	}
}

// WithBufferCapacity bounds the events queued for the writer.
func WithBufferCapacity(capacity int) ProducerOptions {
	return func(e *EventProducer) {
		if capacity > 0 {
			e.bufferCapacity = capacity
		}
	}
}

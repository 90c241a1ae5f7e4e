package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/snarg/klaxon/internal/metrics"
	"github.com/snarg/klaxon/internal/mqttclient"
)

// MQTT is a broker-backed Queue: jobs are published to a topic and consumed
// from the same topic's subscription. Delivery is at-most-once; a full local
// buffer drops the frame rather than stalling the broker callback.
type MQTT struct {
	client *mqttclient.Client
	topic  string
	buf    chan Job
	done   chan struct{}
	log    zerolog.Logger
}

// NewMQTT wires the queue onto an already-connected client. The client must
// be subscribed to topic for Dequeue to see traffic; publish-only producers
// skip the subscription.
func NewMQTT(client *mqttclient.Client, topic string, size int, log zerolog.Logger) *MQTT {
	q := &MQTT{
		client: client,
		topic:  topic,
		buf:    make(chan Job, size),
		done:   make(chan struct{}),
		log:    log,
	}
	client.SetMessageHandler(q.onMessage)
	return q
}

func (q *MQTT) onMessage(topic string, payload []byte) {
	metrics.MQTTMessagesTotal.Inc()

	var j Job
	if err := json.Unmarshal(payload, &j); err != nil {
		q.log.Warn().Err(err).Str("topic", topic).Msg("undecodable dial job dropped")
		return
	}
	select {
	case q.buf <- j:
	default:
		q.log.Warn().Str("phone", j.Phone).Msg("local buffer full, dial job dropped")
	}
}

func (q *MQTT) Enqueue(ctx context.Context, j Job) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	payload, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("encode dial job: %w", err)
	}
	if err := q.client.Publish(q.topic, payload); err != nil {
		return err
	}
	metrics.QueuePublishedTotal.WithLabelValues("mqtt").Inc()
	return nil
}

func (q *MQTT) Dequeue(ctx context.Context) (Job, error) {
	select {
	case <-q.done:
		return Job{}, ErrClosed
	case <-ctx.Done():
		return Job{}, ctx.Err()
	case j := <-q.buf:
		return j, nil
	}
}

func (q *MQTT) Len() int {
	return len(q.buf)
}

func (q *MQTT) Close() error {
	close(q.done)
	return nil
}

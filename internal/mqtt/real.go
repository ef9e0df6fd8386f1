package mqtt

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/boxing-sensor/internal/logic"
)

// ErrNotConnected is returned for unbuffered publishes while offline.
var ErrNotConnected = errors.New("mqtt: not connected")

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	Topics     Topics
	BufferSize int // messages kept while the broker is unreachable
	Logger     *slog.Logger
}

// RealPublisher publishes to an actual MQTT broker. Punch and system
// messages published while offline are buffered and replayed in order
// once the client reconnects.
type RealPublisher struct {
	client paho.Client
	topics Topics
	logger *slog.Logger

	mu       sync.Mutex
	buffer   *ringBuffer
	flushing bool
}

// NewRealPublisher creates a publisher for the given broker. If the broker
// is unreachable at startup the client keeps retrying in the background
// and messages are buffered meanwhile.
func NewRealPublisher(opts Options) *RealPublisher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Topics == (Topics{}) {
		opts.Topics = NewTopics("")
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1000
	}

	p := &RealPublisher{
		topics: opts.Topics,
		logger: opts.Logger,
		buffer: newRingBuffer(opts.BufferSize, opts.Logger),
	}

	will, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: EventOffline, Reason: "lwt"})
	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(opts.Topics.System, string(will), 1, true).
		SetOnConnectHandler(func(paho.Client) {
			p.logger.Info("mqtt: connected", "broker", opts.Broker)
			go p.flush()
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.logger.Warn("mqtt: connection lost", "broker", opts.Broker, "error", err)
		})

	p.client = paho.NewClient(clientOpts)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		p.logger.Warn("mqtt: broker not reachable yet, buffering", "broker", opts.Broker)
	} else if err := token.Error(); err != nil {
		p.logger.Warn("mqtt: connect failed, buffering", "broker", opts.Broker, "error", err)
	}
	return p
}

// PublishTelemetry sends the snapshot at QoS 0. It is dropped while offline.
func (p *RealPublisher) PublishTelemetry(snap logic.TelemetrySnapshot, at time.Time) error {
	payload, err := FormatTelemetryPayload(snap, at)
	if err != nil {
		return fmt.Errorf("format telemetry payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: p.topics.Telemetry, payload: payload, qos: 0}, false)
}

// PublishPunch sends a punch at QoS 1.
func (p *RealPublisher) PublishPunch(punch PunchEvent) error {
	payload, err := FormatPunchPayload(punch)
	if err != nil {
		return fmt.Errorf("format punch payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: p.topics.Punches, payload: payload, qos: 1}, true)
}

// PublishSystem sends a system lifecycle event at QoS 1.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: p.topics.System, payload: payload, qos: 1, retained: event.Retained}, true)
}

// IsConnected reports whether the client currently has a broker connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Buffered returns the number of messages waiting for replay.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	if n := p.Buffered(); n > 0 {
		p.logger.Warn("mqtt: closing with undelivered messages", "count", n)
	}
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}

func (p *RealPublisher) publish(msg bufferedMsg, buffer bool) error {
	p.mu.Lock()
	if !p.client.IsConnectionOpen() || p.flushing {
		if !buffer {
			p.mu.Unlock()
			return ErrNotConnected
		}
		p.buffer.push(msg)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.send(msg); err != nil {
		if buffer {
			p.mu.Lock()
			p.buffer.push(msg)
			p.mu.Unlock()
		}
		return err
	}
	return nil
}

func (p *RealPublisher) send(msg bufferedMsg) error {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	return nil
}

// flush replays buffered messages. New publishes queue behind the replay
// so ordering is kept.
func (p *RealPublisher) flush() {
	p.mu.Lock()
	if p.flushing {
		p.mu.Unlock()
		return
	}
	p.flushing = true
	p.mu.Unlock()

	replayed := 0
	for {
		p.mu.Lock()
		msgs := p.buffer.drainAll()
		if len(msgs) == 0 {
			p.flushing = false
			p.mu.Unlock()
			if replayed > 0 {
				p.logger.Info("mqtt: replayed buffered messages", "count", replayed)
			}
			return
		}
		p.mu.Unlock()

		for i, m := range msgs {
			if err := p.send(m); err != nil {
				p.logger.Warn("mqtt: replay interrupted", "remaining", len(msgs)-i, "error", err)
				p.mu.Lock()
				p.buffer.unshift(msgs[i:])
				p.flushing = false
				p.mu.Unlock()
				return
			}
			replayed++
		}
	}
}

package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/mvolli/growatt-bridge/internal/pkg/errs"
	"github.com/mvolli/growatt-bridge/internal/pkg/model"
)

const connectTimeout = time.Second * 5

// subTopics is also the merge order of FetchRaw: later topics overwrite
// earlier ones on key collision.
var subTopics = []string{"status", "battery", "solar", "grid", "load"}

// service is the subscriber transport: it keeps the last JSON payload seen
// per topic and merges them on fetch. Entries never expire; the device
// publishes on change and the last value stands until overwritten.
type service struct {
	client paho_mqtt.Client
	prefix string
	logger *zap.Logger
	// graceDelay gives the broker a beat to deliver retained/fresh messages
	// before the first merge.
	graceDelay time.Duration

	mu     sync.Mutex
	topics map[string]map[string]any
}

func New(client paho_mqtt.Client, topicPrefix string) *service {
	return &service{
		client:     client,
		prefix:     topicPrefix,
		logger:     zap.L(),
		graceDelay: time.Second,
		topics:     make(map[string]map[string]any),
	}
}

// NewClientOptions builds the paho options for the configured broker. Broker
// may be a bare host, host:port or a full tcp:// URL.
func NewClientOptions(broker, username, password, clientID string) *paho_mqtt.ClientOptions {
	if !strings.Contains(broker, "://") {
		if !strings.Contains(broker, ":") {
			broker += ":1883"
		}
		broker = "tcp://" + broker
	}
	opts := paho_mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetUsername(username).
		SetPassword(password).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout)
	return opts
}

func (s *service) Connect(ctx context.Context) error {
	token := s.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt connect timed out: %w", errs.ErrTransient)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %v: %w", err, errs.ErrTransient)
	}
	return s.subscribe()
}

func (s *service) subscribe() error {
	for _, t := range subTopics {
		topic := fmt.Sprintf("%s/%s", s.prefix, t)
		token := s.client.Subscribe(topic, 0, s.onMessage)
		if !token.WaitTimeout(connectTimeout) {
			return fmt.Errorf("subscribe to %s timed out: %w", topic, errs.ErrTransient)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("subscribe to %s: %v: %w", topic, err, errs.ErrTransient)
		}
		s.logger.Debug("subscribed", zap.String("topic", topic))
	}
	return nil
}

// onMessage caches the decoded payload under the topic's last segment. A
// malformed payload is logged and dropped; it never tears down the
// subscription.
func (s *service) onMessage(_ paho_mqtt.Client, msg paho_mqtt.Message) {
	parts := strings.Split(msg.Topic(), "/")
	key := parts[len(parts)-1]

	payload := map[string]any{}
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		s.logger.Warn("dropping malformed mqtt payload",
			zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}

	s.mu.Lock()
	s.topics[key] = payload
	s.mu.Unlock()
}

// FetchRaw merges the per-topic caches into one flat record after a short
// grace delay so that at least one message per topic has had a chance to
// arrive.
func (s *service) FetchRaw(ctx context.Context) (model.RawTelemetry, error) {
	select {
	case <-time.After(s.graceDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	merged := model.RawTelemetry{}
	for _, t := range subTopics {
		for k, v := range s.topics[t] {
			merged[k] = v
		}
	}
	return merged, nil
}

func (s *service) TestConnection(ctx context.Context) bool {
	if s.client.IsConnected() {
		return true
	}
	return s.Connect(ctx) == nil
}

func (s *service) Close() error {
	if s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	return nil
}

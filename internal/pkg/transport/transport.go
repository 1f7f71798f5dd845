// Package transport selects the configured acquisition backend. Every
// backend yields raw telemetry in its own vocabulary; the normalizer is the
// only consumer that understands the difference.
package transport

import (
	"context"
	"fmt"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mvolli/growatt-bridge/internal/pkg/config"
	"github.com/mvolli/growatt-bridge/internal/pkg/growatt"
	"github.com/mvolli/growatt-bridge/internal/pkg/modbus"
	"github.com/mvolli/growatt-bridge/internal/pkg/model"
	"github.com/mvolli/growatt-bridge/internal/pkg/mqtt"
	"github.com/mvolli/growatt-bridge/internal/pkg/tokencache"
)

// Transport is a single device data source. FetchRaw blocks until a reading
// is available or ctx expires; TestConnection is a cheap liveness probe used
// at startup and by health checks.
type Transport interface {
	TestConnection(ctx context.Context) bool
	FetchRaw(ctx context.Context) (model.RawTelemetry, error)
	Close() error
}

// ConfigFetcher is implemented by transports that can read device settings
// in addition to live telemetry. Only the cloud backend does today.
type ConfigFetcher interface {
	FetchConfig(ctx context.Context) (model.RawTelemetry, error)
}

// Rediscoverer is implemented by transports whose device binding can go
// stale and needs a periodic refresh.
type Rediscoverer interface {
	Rediscover()
}

// New builds the transport selected by cfg.ConnectionType. MQTT connects and
// subscribes before returning so the first poll has a chance of seeing data.
func New(ctx context.Context, cfg *config.BridgeConfig) (Transport, error) {
	switch cfg.ConnectionType {
	case model.ConnectionAPI:
		return growatt.New(cfg, tokencache.New(cfg.TokenCachePath)), nil
	case model.ConnectionMQTT:
		opts := mqtt.NewClientOptions(cfg.MqttBroker, cfg.MqttUsername, cfg.MqttPassword, "growatt-bridge-sub")
		svc := mqtt.New(paho_mqtt.NewClient(opts), cfg.MqttTopic)
		if err := svc.Connect(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect mqtt transport: %w", err)
		}
		return svc, nil
	case model.ConnectionModbusTCP, model.ConnectionModbusRTU:
		return modbus.New(cfg)
	default:
		return nil, fmt.Errorf("unknown connection type: %q", cfg.ConnectionType)
	}
}

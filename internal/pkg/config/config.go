package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/mvolli/growatt-bridge/internal/pkg/model"
)

// BridgeConfig carries everything the transports and the coordinator need.
// Exactly one connection type is active per running instance.
type BridgeConfig struct {
	ConnectionType model.ConnectionType `env:"CONNECTION_TYPE" envDefault:"api"`
	DeviceType     model.DeviceVariant  `env:"DEVICE_TYPE" envDefault:"noah_2000"`

	Username string `env:"GROWATT_USERNAME"`
	Password string `env:"GROWATT_PASSWORD"`
	// DeviceID optionally pins discovery to a plant id/name or device serial.
	DeviceID  string `env:"GROWATT_DEVICE_ID"`
	ServerURL string `env:"GROWATT_SERVER_URL" envDefault:"https://openapi.growatt.com"`

	Host       string `env:"MODBUS_HOST"`
	Port       int    `env:"MODBUS_PORT" envDefault:"502"`
	SerialPort string `env:"MODBUS_SERIAL_PORT"`
	Baudrate   int    `env:"MODBUS_BAUDRATE" envDefault:"9600"`
	// RegisterMapFile optionally overrides the built-in register map.
	RegisterMapFile string `env:"MODBUS_REGISTER_MAP"`

	MqttBroker   string `env:"MQTT_BROKER"`
	MqttTopic    string `env:"MQTT_TOPIC" envDefault:"noah"`
	MqttUsername string `env:"MQTT_USER"`
	MqttPassword string `env:"MQTT_PASS"`

	// PublishBroker enables the Home Assistant publishing sink when set.
	PublishBroker string `env:"PUBLISH_BROKER"`
	MetricsAddr   string `env:"METRICS_ADDR" envDefault:":9100"`

	ScanInterval   time.Duration `env:"SCAN_INTERVAL" envDefault:"30s"`
	Timeout        time.Duration `env:"TIMEOUT" envDefault:"10s"`
	TokenCachePath string        `env:"TOKEN_CACHE_PATH"`
}

// FromEnv builds a BridgeConfig from environment variables. The CLI flags in
// main override individual fields afterwards.
func FromEnv() (*BridgeConfig, error) {
	cfg := &BridgeConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields the active connection type requires.
func (c *BridgeConfig) Validate() error {
	switch c.ConnectionType {
	case model.ConnectionAPI:
		if c.Username == "" || c.Password == "" {
			return errors.New("api connection requires username and password")
		}
	case model.ConnectionMQTT:
		if c.MqttBroker == "" {
			return errors.New("mqtt connection requires a broker address")
		}
	case model.ConnectionModbusTCP:
		if c.Host == "" {
			return errors.New("modbus_tcp connection requires a host")
		}
	case model.ConnectionModbusRTU:
		if c.SerialPort == "" {
			return errors.New("modbus_rtu connection requires a serial port")
		}
	default:
		return fmt.Errorf("unknown connection type: %q", c.ConnectionType)
	}

	switch c.DeviceType {
	case model.VariantNoah2000, model.VariantNeo800:
	default:
		return fmt.Errorf("unknown device type: %q", c.DeviceType)
	}

	if c.ScanInterval <= 0 {
		return errors.New("scan interval must be positive")
	}
	return nil
}

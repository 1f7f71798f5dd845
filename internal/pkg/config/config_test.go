package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvolli/growatt-bridge/internal/pkg/model"
)

func validConfig() *BridgeConfig {
	return &BridgeConfig{
		ConnectionType: model.ConnectionAPI,
		DeviceType:     model.VariantNoah2000,
		Username:       "mvolli",
		Password:       "123456",
		ScanInterval:   30 * time.Second,
	}
}

func TestValidateAPI(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	cfg.Password = ""
	assert.Error(t, cfg.Validate())
}

func TestValidatePerConnectionType(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*BridgeConfig)
		wantErr bool
	}{
		{"mqtt missing broker", func(c *BridgeConfig) {
			c.ConnectionType = model.ConnectionMQTT
		}, true},
		{"mqtt with broker", func(c *BridgeConfig) {
			c.ConnectionType = model.ConnectionMQTT
			c.MqttBroker = "tcp://localhost:1883"
		}, false},
		{"modbus tcp missing host", func(c *BridgeConfig) {
			c.ConnectionType = model.ConnectionModbusTCP
		}, true},
		{"modbus rtu with port", func(c *BridgeConfig) {
			c.ConnectionType = model.ConnectionModbusRTU
			c.SerialPort = "/dev/ttyUSB0"
		}, false},
		{"unknown connection", func(c *BridgeConfig) {
			c.ConnectionType = "serial_over_pigeon"
		}, true},
		{"unknown device type", func(c *BridgeConfig) {
			c.DeviceType = "noah_9000"
		}, true},
		{"zero interval", func(c *BridgeConfig) {
			c.ScanInterval = 0
		}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("CONNECTION_TYPE", "modbus_tcp")
	t.Setenv("MODBUS_HOST", "192.168.1.117")
	t.Setenv("SCAN_INTERVAL", "45s")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, model.ConnectionModbusTCP, cfg.ConnectionType)
	assert.Equal(t, "192.168.1.117", cfg.Host)
	assert.Equal(t, 502, cfg.Port)
	assert.Equal(t, 45*time.Second, cfg.ScanInterval)
	assert.Equal(t, "noah", cfg.MqttTopic)
}

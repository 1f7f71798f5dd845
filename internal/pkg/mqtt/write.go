package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/mvolli/growatt-bridge/internal/pkg/model"
)

// Sink publishes normalized datapoints to Home Assistant style topics. It is
// the write half of the bridge and entirely optional; the subscriber
// transport above never goes through it.
type Sink struct {
	client            paho_mqtt.Client
	logger            *zap.Logger
	configuredDevices map[string]struct{}
}

func NewSink(client paho_mqtt.Client) *Sink {
	return &Sink{
		client:            client,
		logger:            zap.L(),
		configuredDevices: make(map[string]struct{}),
	}
}

func (s *Sink) Connect() error {
	token := s.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("publish sink connect timed out")
	}
	return token.Error()
}

func (s *Sink) RegisterDevice(device *model.Device) error {
	slugIdentifier := identifier(device)
	if _, exists := s.configuredDevices[slugIdentifier]; exists {
		return nil
	}

	topic := fmt.Sprintf("homeassistant/sensor/%s/config", slugIdentifier)
	payload, err := json.Marshal(defaultRegisterMsg(device))
	if err != nil {
		return err
	}

	token := s.client.Publish(topic, 1, true, payload)
	if !token.WaitTimeout(time.Second * 5) {
		return fmt.Errorf("discovery publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return err
	}
	s.configuredDevices[slugIdentifier] = struct{}{}
	return nil
}

func (s *Sink) Write(device *model.Device, datapoints []model.Datapoint) error {
	slugIdentifier := identifier(device)
	for _, dp := range datapoints {
		topic := fmt.Sprintf("homeassistant/sensor/%s/%s/state", slugIdentifier, dp.Slug)

		payload := map[string]string{"value": dp.Value}
		if dp.Unit != "" {
			payload["unit_of_measurement"] = dp.Unit
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}

		token := s.client.Publish(topic, 0, false, data)
		if !token.WaitTimeout(time.Second * 10) {
			s.logger.Warn("state publish timed out", zap.String("topic", topic))
			continue
		}
		if err := token.Error(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Close() error {
	if s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	return nil
}

func identifier(device *model.Device) string {
	return fmt.Sprintf("%s_%s", strings.ReplaceAll(device.Model, ".", ""), device.SerialNumber)
}

func defaultRegisterMsg(device *model.Device) model.RegisterMessage {
	name := fmt.Sprintf("%s %s", device.Model, device.SerialNumber)
	slugIdentifier := identifier(device)

	return model.RegisterMessage{
		Tilda:      fmt.Sprintf("homeassistant/sensor/%s", slugIdentifier),
		Name:       name,
		ID:         strings.ToLower(slugIdentifier),
		StateTopic: "~/state",
		Device: model.RegisterDevice{
			Name:         name,
			Identifiers:  []string{slugIdentifier},
			Model:        device.Model,
			Manufacturer: "Growatt",
		},
	}
}

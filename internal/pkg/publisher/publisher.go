// Package publisher fans normalized snapshots out to registered sinks. It
// flattens each snapshot into named datapoints and suppresses publishes for
// values that have not changed since the last cycle.
package publisher

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"github.com/mvolli/growatt-bridge/internal/pkg/model"
)

var errAlreadyRegistered = errors.New("publisher already registered")

type sink interface {
	RegisterDevice(device *model.Device) error
	Write(device *model.Device, datapoints []model.Datapoint) error
}

type Registry struct {
	mu      sync.Mutex
	sinks   map[string]sink
	sensors sync.Map
	logger  *zap.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		sinks:  make(map[string]sink),
		logger: zap.L(),
	}
}

func (r *Registry) Register(name string, s sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sinks[name]; ok {
		return errAlreadyRegistered
	}
	r.sinks[name] = s
	return nil
}

// Publish flattens the snapshot and writes the changed datapoints to every
// sink. A failing sink is logged and skipped; the others still receive the
// cycle.
func (r *Registry) Publish(snap model.DeviceSnapshot) error {
	device := deviceFor(snap)
	datapoints := r.changed(device, Flatten(snap))
	if len(datapoints) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for name, s := range r.sinks {
		if err := s.RegisterDevice(device); err != nil {
			r.logger.Error("failed to register device", zap.Error(err), zap.String("publisher", name))
			continue
		}
		if err := s.Write(device, datapoints); err != nil {
			r.logger.Error("failed to publish data", zap.Error(err), zap.String("publisher", name))
			continue
		}
		r.logger.Debug("updated sensors", zap.Int("count", len(datapoints)), zap.String("publisher", name))
	}
	return nil
}

// changed keeps only the datapoints whose value differs from the previously
// published one and records the new values.
func (r *Registry) changed(device *model.Device, datapoints []model.Datapoint) []model.Datapoint {
	out := make([]model.Datapoint, 0, len(datapoints))
	for _, dp := range datapoints {
		key := fmt.Sprintf("%s_%s_%s", device.Model, device.SerialNumber, dp.Slug)
		old, exists := r.sensors.Load(key)
		if exists && strings.EqualFold(dp.Value, old.(string)) {
			continue
		}
		if !exists {
			r.logger.Info("configured sensor", zap.String("sensor", dp.Slug), zap.String("value", dp.Value))
		}
		r.sensors.Store(key, dp.Value)
		out = append(out, dp)
	}
	return out
}

func deviceFor(snap model.DeviceSnapshot) *model.Device {
	return &model.Device{
		Model:        snap.System.Model,
		SerialNumber: snap.System.SerialNumber,
	}
}

// Flatten turns a snapshot into the datapoint list the sinks publish. Slugs
// are stable across runs; Home Assistant entity ids derive from them.
func Flatten(snap model.DeviceSnapshot) []model.Datapoint {
	points := []model.Datapoint{
		num("Battery SOC", snap.Battery.SOC, "%"),
		num("Battery Voltage", snap.Battery.Voltage, "V"),
		num("Battery Current", snap.Battery.Current, "A"),
		num("Battery Power", snap.Battery.Power, "W"),
		num("Battery Temperature", snap.Battery.Temperature, "°C"),
		text("Battery Status", snap.Battery.Status),
		num("Battery Energy Charged Today", snap.Battery.EnergyChargedToday, "kWh"),
		num("Battery Energy Discharged Today", snap.Battery.EnergyDischargedToday, "kWh"),
		num("Solar Power", snap.Solar.Power, "W"),
		num("Solar Energy Today", snap.Solar.EnergyToday, "kWh"),
		num("Solar Energy Total", snap.Solar.EnergyTotal, "kWh"),
		num("Grid Power", snap.Grid.Power, "W"),
		num("Grid Voltage", snap.Grid.Voltage, "V"),
		num("Grid Frequency", snap.Grid.Frequency, "Hz"),
		text("Grid Connected", strconv.FormatBool(snap.Grid.Connected)),
		num("Load Power", snap.Load.Power, "W"),
		text("System Status", snap.System.Status),
		text("System Mode", snap.System.Mode),
	}
	if snap.Solar.PV1Power != 0 || snap.Solar.PV2Power != 0 {
		points = append(points,
			num("PV1 Power", snap.Solar.PV1Power, "W"),
			num("PV2 Power", snap.Solar.PV2Power, "W"),
		)
	}
	return points
}

func num(name string, value float64, unit string) model.Datapoint {
	return model.Datapoint{
		Name:  name,
		Slug:  slug.Make(name),
		Value: strconv.FormatFloat(value, 'f', -1, 64),
		Unit:  unit,
	}
}

func text(name, value string) model.Datapoint {
	return model.Datapoint{
		Name:  name,
		Slug:  slug.Make(name),
		Value: value,
	}
}

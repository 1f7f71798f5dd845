// Package metrics exposes the latest snapshot as Prometheus gauges. The
// collector reads whatever the coordinator holds; scrapes never trigger a
// device fetch of their own.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mvolli/growatt-bridge/internal/pkg/model"
	"github.com/mvolli/growatt-bridge/internal/pkg/poller"
)

type coordinator interface {
	Latest() (model.DeviceSnapshot, poller.State)
}

type Collector struct {
	source coordinator

	batterySOC         *prometheus.Desc
	batteryPower       *prometheus.Desc
	batteryVoltage     *prometheus.Desc
	batteryTemperature *prometheus.Desc
	solarPower         *prometheus.Desc
	solarEnergyToday   *prometheus.Desc
	gridPower          *prometheus.Desc
	gridVoltage        *prometheus.Desc
	gridFrequency      *prometheus.Desc
	gridConnected      *prometheus.Desc
	loadPower          *prometheus.Desc
	info               *prometheus.Desc
	pollSuccess        *prometheus.Desc
}

func NewCollector(source coordinator) *Collector {
	labels := []string{"serial_number"}
	return &Collector{
		source: source,
		batterySOC: prometheus.NewDesc(
			"growatt_battery_soc_percent",
			"Battery state of charge in percent",
			labels, nil,
		),
		batteryPower: prometheus.NewDesc(
			"growatt_battery_power_watts",
			"Battery power in watts (positive=charging, negative=discharging)",
			labels, nil,
		),
		batteryVoltage: prometheus.NewDesc(
			"growatt_battery_voltage_volts",
			"Battery voltage in volts",
			labels, nil,
		),
		batteryTemperature: prometheus.NewDesc(
			"growatt_battery_temperature_celsius",
			"Battery temperature in degrees celsius",
			labels, nil,
		),
		solarPower: prometheus.NewDesc(
			"growatt_solar_power_watts",
			"Current solar production in watts",
			labels, nil,
		),
		solarEnergyToday: prometheus.NewDesc(
			"growatt_solar_energy_today_kwh",
			"Solar energy produced today in kilowatt-hours",
			labels, nil,
		),
		gridPower: prometheus.NewDesc(
			"growatt_grid_power_watts",
			"Grid power in watts (sign convention depends on the transport)",
			labels, nil,
		),
		gridVoltage: prometheus.NewDesc(
			"growatt_grid_voltage_volts",
			"Grid voltage in volts",
			labels, nil,
		),
		gridFrequency: prometheus.NewDesc(
			"growatt_grid_frequency_hertz",
			"Grid frequency in hertz",
			labels, nil,
		),
		gridConnected: prometheus.NewDesc(
			"growatt_grid_connected",
			"Grid connection state (1=connected, 0=islanded)",
			labels, nil,
		),
		loadPower: prometheus.NewDesc(
			"growatt_load_power_watts",
			"Estimated household load in watts",
			labels, nil,
		),
		info: prometheus.NewDesc(
			"growatt_device_info",
			"Device identity and operating state",
			[]string{"serial_number", "device_model", "firmware_version", "status", "mode"}, nil,
		),
		pollSuccess: prometheus.NewDesc(
			"growatt_poll_success",
			"Whether the most recent device poll was successful",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.batterySOC
	ch <- c.batteryPower
	ch <- c.batteryVoltage
	ch <- c.batteryTemperature
	ch <- c.solarPower
	ch <- c.solarEnergyToday
	ch <- c.gridPower
	ch <- c.gridVoltage
	ch <- c.gridFrequency
	ch <- c.gridConnected
	ch <- c.loadPower
	ch <- c.info
	ch <- c.pollSuccess
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap, state := c.source.Latest()

	success := 0.0
	if state == poller.StateReady {
		success = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.pollSuccess, prometheus.GaugeValue, success)

	// Nothing to report until the first poll lands.
	if state == poller.StateIdle || state == poller.StateFetching {
		return
	}

	labels := []string{snap.System.SerialNumber}
	ch <- prometheus.MustNewConstMetric(c.batterySOC, prometheus.GaugeValue, snap.Battery.SOC, labels...)
	ch <- prometheus.MustNewConstMetric(c.batteryPower, prometheus.GaugeValue, snap.Battery.Power, labels...)
	ch <- prometheus.MustNewConstMetric(c.batteryVoltage, prometheus.GaugeValue, snap.Battery.Voltage, labels...)
	ch <- prometheus.MustNewConstMetric(c.batteryTemperature, prometheus.GaugeValue, snap.Battery.Temperature, labels...)
	ch <- prometheus.MustNewConstMetric(c.solarPower, prometheus.GaugeValue, snap.Solar.Power, labels...)
	ch <- prometheus.MustNewConstMetric(c.solarEnergyToday, prometheus.GaugeValue, snap.Solar.EnergyToday, labels...)
	ch <- prometheus.MustNewConstMetric(c.gridPower, prometheus.GaugeValue, snap.Grid.Power, labels...)
	ch <- prometheus.MustNewConstMetric(c.gridVoltage, prometheus.GaugeValue, snap.Grid.Voltage, labels...)
	ch <- prometheus.MustNewConstMetric(c.gridFrequency, prometheus.GaugeValue, snap.Grid.Frequency, labels...)

	connected := 0.0
	if snap.Grid.Connected {
		connected = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.gridConnected, prometheus.GaugeValue, connected, labels...)
	ch <- prometheus.MustNewConstMetric(c.loadPower, prometheus.GaugeValue, snap.Load.Power, labels...)

	ch <- prometheus.MustNewConstMetric(c.info, prometheus.GaugeValue, 1,
		snap.System.SerialNumber,
		snap.System.Model,
		snap.System.FirmwareVersion,
		snap.System.Status,
		snap.System.Mode,
	)
}

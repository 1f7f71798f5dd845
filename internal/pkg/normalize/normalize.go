// Package normalize maps each transport's raw key vocabulary onto the
// canonical DeviceSnapshot. Normalization is pure: identical input and clock
// yield identical output, and nothing outside the returned snapshot is
// touched.
package normalize

import (
	"math"
	"strconv"
	"time"

	"github.com/mvolli/growatt-bridge/internal/pkg/model"
)

type Normalizer struct {
	now func() time.Time
}

func New() *Normalizer {
	return &Normalizer{now: time.Now}
}

// NewWithClock injects the timestamp source; tests pin it.
func NewWithClock(now func() time.Time) *Normalizer {
	return &Normalizer{now: now}
}

// Normalize builds a fully-populated snapshot from raw telemetry. Absent
// fields keep the zero/"Unknown" defaults of NewDeviceSnapshot; no field is
// ever left unconstructed.
func (n *Normalizer) Normalize(raw model.RawTelemetry, kind model.ConnectionType) model.DeviceSnapshot {
	snap := model.NewDeviceSnapshot()
	if kind == model.ConnectionAPI {
		n.fromCloud(raw, &snap)
	} else {
		n.fromFlat(raw, &snap)
	}
	snap.System.LastUpdate = n.now()
	return snap
}

// fromCloud consumes the Growatt status record (camelCase vendor fields,
// values mostly string-typed). Charge and discharge power arrive separately;
// the signed battery power and the load estimate are derived here.
func (n *Normalizer) fromCloud(raw model.RawTelemetry, snap *model.DeviceSnapshot) {
	charge := raw.Float("chargePower")
	discharge := raw.Float("disChargePower")
	solar := raw.Float("ppv")
	export := raw.Float("pac")

	snap.Battery.SOC = raw.Float("soc")
	snap.Battery.Voltage = raw.Float("vBat")
	snap.Battery.Current = raw.Float("iBat")
	snap.Battery.Temperature = raw.Float("tempBat")
	snap.Battery.Power = charge - discharge
	if raw.Has("chargePower") || raw.Has("disChargePower") {
		snap.Battery.Status = batteryStatus(snap.Battery.Power)
	}
	snap.Battery.Health = raw.Float("health")
	snap.Battery.Capacity = raw.Float("capacity")
	snap.Battery.EnergyChargedToday = raw.Float("eChargeToday")
	snap.Battery.EnergyDischargedToday = raw.Float("eDischargeToday")

	snap.Solar.Power = solar
	snap.Solar.Voltage = raw.Float("vpv")
	snap.Solar.Current = raw.Float("ipv")
	snap.Solar.EnergyToday = raw.Float("eacToday")
	snap.Solar.EnergyTotal = raw.Float("eacTotal")
	snap.Solar.PV1Voltage = raw.Float("vpv1")
	snap.Solar.PV1Current = raw.Float("ipv1")
	snap.Solar.PV1Power = raw.Float("ppv1")
	snap.Solar.PV2Voltage = raw.Float("vpv2")
	snap.Solar.PV2Current = raw.Float("ipv2")
	snap.Solar.PV2Power = raw.Float("ppv2")
	snap.Solar.Temperature = raw.Float("temperature")

	// pac is export power on this API
	snap.Grid.Power = export
	snap.Grid.Voltage = raw.Float("vac")
	snap.Grid.Frequency = raw.Float("fac")
	snap.Grid.EnergyExportedToday = raw.Float("eacToday")
	snap.Grid.EnergyExportedTotal = raw.Float("eacTotal")

	if raw.Has("status") {
		snap.System.Status = model.StatusText(raw.Int("status"))
	}
	if raw.Has("workMode") {
		snap.System.Mode = model.WorkModeText(raw.Int("workMode"))
	}
	snap.Grid.Connected = snap.System.Status == model.StatusOnline

	setIfPresent(raw, "deviceSn", &snap.System.SerialNumber)
	setIfPresent(raw, "alias", &snap.System.Model)
	setIfPresent(raw, "model", &snap.System.Model)
	setIfPresent(raw, "version", &snap.System.FirmwareVersion)

	snap.Load.Power = clampLoad(solar + discharge - charge - export + raw.Float("groplugPower"))
}

// fromFlat consumes the snake_case vocabulary shared by the MQTT topics and
// the register maps (both Noah and Neo layouts).
func (n *Normalizer) fromFlat(raw model.RawTelemetry, snap *model.DeviceSnapshot) {
	snap.Battery.SOC = raw.Float("battery_soc")
	snap.Battery.Voltage = raw.Float("battery_voltage")
	snap.Battery.Current = raw.Float("battery_current")
	snap.Battery.Power = raw.Float("battery_power")
	snap.Battery.Temperature = raw.Float("battery_temperature")
	snap.Battery.Health = raw.Float("battery_health")
	snap.Battery.Capacity = raw.Float("battery_capacity")
	snap.Battery.EnergyChargedToday = raw.Float("battery_energy_charged_today")
	snap.Battery.EnergyDischargedToday = raw.Float("battery_energy_discharged_today")
	if s := raw.String("battery_status"); s != "" {
		snap.Battery.Status = s
	} else if raw.Has("battery_power") {
		snap.Battery.Status = batteryStatus(snap.Battery.Power)
	}

	solar := raw.Float("solar_power")
	if !raw.Has("solar_power") {
		solar = raw.Float("output_power") // Neo 800 register name
	}
	snap.Solar.Power = solar
	snap.Solar.Voltage = raw.Float("solar_voltage")
	snap.Solar.Current = raw.Float("solar_current")
	snap.Solar.EnergyToday = firstFloat(raw, "solar_energy_today", "energy_today")
	snap.Solar.EnergyTotal = firstFloat(raw, "solar_energy_total", "energy_total")
	snap.Solar.PV1Voltage = raw.Float("pv1_voltage")
	snap.Solar.PV1Current = raw.Float("pv1_current")
	snap.Solar.PV1Power = raw.Float("pv1_power")
	snap.Solar.PV2Voltage = raw.Float("pv2_voltage")
	snap.Solar.PV2Current = raw.Float("pv2_current")
	snap.Solar.PV2Power = raw.Float("pv2_power")
	snap.Solar.Temperature = firstFloat(raw, "inverter_temperature", "temperature")

	grid := raw.Float("grid_power")
	snap.Grid.Power = grid
	snap.Grid.Voltage = raw.Float("grid_voltage")
	snap.Grid.Frequency = raw.Float("grid_frequency")
	snap.Grid.EnergyImportedToday = raw.Float("grid_energy_imported_today")
	snap.Grid.EnergyExportedToday = raw.Float("grid_energy_exported_today")
	snap.Grid.EnergyImportedTotal = raw.Float("grid_energy_imported_total")
	snap.Grid.EnergyExportedTotal = raw.Float("grid_energy_exported_total")
	if raw.Has("grid_connected") {
		snap.Grid.Connected = raw.Bool("grid_connected")
	} else {
		snap.Grid.Connected = snap.Grid.Voltage > 0
	}

	if raw.Has("load_power") {
		snap.Load.Power = clampLoad(raw.Float("load_power"))
	} else {
		charge := math.Max(0, snap.Battery.Power)
		discharge := math.Max(0, -snap.Battery.Power)
		snap.Load.Power = clampLoad(solar + discharge - charge - grid)
	}
	snap.Load.EnergyToday = raw.Float("load_energy_today")
	snap.Load.EnergyTotal = raw.Float("load_energy_total")

	n.flatSystem(raw, snap)
}

func (n *Normalizer) flatSystem(raw model.RawTelemetry, snap *model.DeviceSnapshot) {
	statusKey := "system_status"
	if !raw.Has(statusKey) && raw.Has("inverter_status") {
		statusKey = "inverter_status"
	}
	if raw.Has(statusKey) {
		if code, err := strconv.Atoi(raw.String(statusKey)); err == nil {
			snap.System.Status = model.StatusText(code)
		} else if f, ok := raw[statusKey].(float64); ok {
			snap.System.Status = model.StatusText(int(f))
		} else {
			snap.System.Status = raw.String(statusKey)
		}
	}
	if raw.Has("work_mode") {
		snap.System.Mode = model.WorkModeText(raw.Int("work_mode"))
	} else if s := raw.String("system_mode"); s != "" {
		snap.System.Mode = s
	}

	setIfPresent(raw, "serial_number", &snap.System.SerialNumber)
	setIfPresent(raw, "model", &snap.System.Model)
	setIfPresent(raw, "firmware_version", &snap.System.FirmwareVersion)
	if code := raw.Int("error_code"); code != 0 {
		snap.System.ErrorCode = code
	}
	setIfPresent(raw, "error_message", &snap.System.ErrorMessage)

	if code := raw.Int("fault_code"); code != 0 {
		snap.System.FaultCodes = append(snap.System.FaultCodes, strconv.Itoa(code))
	}
	if code := raw.Int("warning_code"); code != 0 {
		snap.System.WarningCodes = append(snap.System.WarningCodes, strconv.Itoa(code))
	}
}

func batteryStatus(power float64) string {
	switch {
	case power > 0:
		return model.BatteryCharging
	case power < 0:
		return model.BatteryDischarging
	default:
		return model.BatteryIdle
	}
}

// clampLoad keeps the derived load estimate physical: consumption is never
// negative, whatever the input combination.
func clampLoad(power float64) float64 {
	return math.Max(0, power)
}

func firstFloat(raw model.RawTelemetry, keys ...string) float64 {
	for _, k := range keys {
		if raw.Has(k) {
			return raw.Float(k)
		}
	}
	return 0
}

func setIfPresent(raw model.RawTelemetry, key string, dst *string) {
	if s := raw.String(key); s != "" {
		*dst = s
	}
}

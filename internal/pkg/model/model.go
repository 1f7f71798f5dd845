package model

import "time"

// BatteryState holds the battery-pack portion of a snapshot. Power is signed,
// positive while charging.
type BatteryState struct {
	SOC                   float64 `json:"soc"`
	Voltage               float64 `json:"voltage"`
	Current               float64 `json:"current"`
	Power                 float64 `json:"power"`
	Temperature           float64 `json:"temperature"`
	Status                string  `json:"status"`
	Health                float64 `json:"health"`
	Capacity              float64 `json:"capacity"`
	EnergyChargedToday    float64 `json:"energy_charged_today"`
	EnergyDischargedToday float64 `json:"energy_discharged_today"`
}

type SolarState struct {
	Power       float64 `json:"power"`
	Voltage     float64 `json:"voltage"`
	Current     float64 `json:"current"`
	EnergyToday float64 `json:"energy_today"`
	EnergyTotal float64 `json:"energy_total"`
	PV1Voltage  float64 `json:"pv1_voltage"`
	PV1Current  float64 `json:"pv1_current"`
	PV1Power    float64 `json:"pv1_power"`
	PV2Voltage  float64 `json:"pv2_voltage"`
	PV2Current  float64 `json:"pv2_current"`
	PV2Power    float64 `json:"pv2_power"`
	Temperature float64 `json:"temperature"`
}

// GridState power sign convention depends on the transport: the cloud API
// reports export power, Modbus reports signed import.
type GridState struct {
	Power               float64 `json:"power"`
	Voltage             float64 `json:"voltage"`
	Frequency           float64 `json:"frequency"`
	EnergyImportedToday float64 `json:"energy_imported_today"`
	EnergyExportedToday float64 `json:"energy_exported_today"`
	EnergyImportedTotal float64 `json:"energy_imported_total"`
	EnergyExportedTotal float64 `json:"energy_exported_total"`
	Connected           bool    `json:"connected"`
}

type LoadState struct {
	Power       float64 `json:"power"`
	EnergyToday float64 `json:"energy_today"`
	EnergyTotal float64 `json:"energy_total"`
}

type SystemState struct {
	Status          string    `json:"status"`
	Mode            string    `json:"mode"`
	ErrorCode       int       `json:"error_code"`
	ErrorMessage    string    `json:"error_message"`
	FirmwareVersion string    `json:"firmware_version"`
	SerialNumber    string    `json:"serial_number"`
	Model           string    `json:"model"`
	FaultCodes      []string  `json:"fault_codes"`
	WarningCodes    []string  `json:"warning_codes"`
	LastUpdate      time.Time `json:"last_update"`
}

// DeviceSnapshot is the canonical, transport-agnostic device state. It is
// always fully constructed: use NewDeviceSnapshot so that absent source
// fields read as 0 / "Unknown" rather than as a partially built value.
type DeviceSnapshot struct {
	Battery BatteryState `json:"battery"`
	Solar   SolarState   `json:"solar"`
	Grid    GridState    `json:"grid"`
	Load    LoadState    `json:"load"`
	System  SystemState  `json:"system"`
}

const Unknown = "Unknown"

func NewDeviceSnapshot() DeviceSnapshot {
	return DeviceSnapshot{
		Battery: BatteryState{Status: Unknown},
		System: SystemState{
			Status:          Unknown,
			Mode:            Unknown,
			ErrorMessage:    Unknown,
			FirmwareVersion: Unknown,
			SerialNumber:    Unknown,
			Model:           Unknown,
			FaultCodes:      []string{},
			WarningCodes:    []string{},
		},
	}
}

// PlantDeviceRef identifies the resolved device within a cloud account.
type PlantDeviceRef struct {
	PlantID      string
	DeviceSerial string
	DeviceType   string
}

// AuthSession is the cloud login state. Cookies live on the HTTP client's
// jar; only the token and the identity it was issued for are carried here
// (and persisted by the token cache).
type AuthSession struct {
	Token    string `json:"token"`
	Identity string `json:"identity"`
}

func (s AuthSession) Valid() bool {
	return s.Token != ""
}

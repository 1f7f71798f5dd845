package model

import (
	"fmt"
	"strconv"
	"strings"
)

type ConnectionType string

func (c ConnectionType) String() string {
	return string(c)
}

const (
	ConnectionAPI       ConnectionType = "api"
	ConnectionMQTT      ConnectionType = "mqtt"
	ConnectionModbusTCP ConnectionType = "modbus_tcp"
	ConnectionModbusRTU ConnectionType = "modbus_rtu"
)

var ConnectionTypes = []ConnectionType{
	ConnectionAPI,
	ConnectionMQTT,
	ConnectionModbusTCP,
	ConnectionModbusRTU,
}

type DeviceVariant string

func (d DeviceVariant) String() string {
	return string(d)
}

const (
	VariantNoah2000 DeviceVariant = "noah_2000"
	VariantNeo800   DeviceVariant = "neo_800"
)

// Battery operating states derived from the charge/discharge balance.
const (
	BatteryCharging    = "Charging"
	BatteryDischarging = "Discharging"
	BatteryIdle        = "Idle"
)

// System status strings for the Growatt numeric status codes.
const (
	StatusOffline  = "Offline"
	StatusOnline   = "Online"
	StatusFault    = "Fault"
	StatusChecking = "Checking"
)

var statusCodes = map[int]string{
	0: StatusOffline,
	1: StatusOnline,
	2: StatusFault,
	3: StatusChecking,
}

// StatusText renders a Growatt status code. Unknown codes keep the raw code
// visible rather than collapsing to a bare "Unknown".
func StatusText(code int) string {
	if s, ok := statusCodes[code]; ok {
		return s
	}
	return fmt.Sprintf("Unknown (%d)", code)
}

// workModes follows the mapping observed on live Noah hardware. The Growatt
// apps disagree on codes 0-2 (one table starts at 0 = "No Response"); both
// probe runs against real units reported 0 = Load First, so that variant is
// canonical here. Newer firmware reports 3 for Grid First as well.
var workModes = map[int]string{
	0: "Load First",
	1: "Battery First",
	2: "Grid First",
	3: "Grid First",
	4: "Backup Mode",
}

func WorkModeText(code int) string {
	if m, ok := workModes[code]; ok {
		return m
	}
	return fmt.Sprintf("Unknown (%d)", code)
}

// RawTelemetry is a transport-specific field->value map. Keys are cloud field
// names, MQTT payload keys or register names; it never crosses the
// normalizer boundary.
type RawTelemetry map[string]any

// Float coerces a raw value to float64. Growatt returns numerics as strings
// half the time; anything unparseable reads as 0.
func (r RawTelemetry) Float(key string) float64 {
	v, ok := r[key]
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case uint16:
		return float64(t)
	case bool:
		if t {
			return 1
		}
		return 0
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func (r RawTelemetry) Int(key string) int {
	return int(r.Float(key))
}

func (r RawTelemetry) String(key string) string {
	v, ok := r[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func (r RawTelemetry) Bool(key string) bool {
	switch t := r[key].(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(t)
		return err == nil && b
	case float64:
		return t != 0
	default:
		return false
	}
}

func (r RawTelemetry) Has(key string) bool {
	_, ok := r[key]
	return ok
}

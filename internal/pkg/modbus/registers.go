package modbus

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mvolli/growatt-bridge/internal/pkg/model"
)

// Register describes one holding register: the key it decodes into, its
// address and the divisor converting the raw 16-bit value to physical units.
type Register struct {
	Name    string  `yaml:"name"`
	Address uint16  `yaml:"address"`
	Divisor float64 `yaml:"divisor"`
	Signed  bool    `yaml:"signed"`
}

// The two variants expose disjoint layouts: the Noah 2000 maps its battery,
// solar, grid, load and system registers into 1000-1042, the Neo 800 is an
// inverter-only block at 0-106. No register is compatible across variants.

var noah2000Registers = []Register{
	{Name: "battery_soc", Address: 1000, Divisor: 1},
	{Name: "battery_voltage", Address: 1002, Divisor: 100},
	{Name: "battery_current", Address: 1004, Divisor: 100, Signed: true},
	{Name: "battery_power", Address: 1006, Divisor: 1, Signed: true},
	{Name: "battery_temperature", Address: 1008, Divisor: 10},
	{Name: "solar_power", Address: 1010, Divisor: 1},
	{Name: "solar_voltage", Address: 1012, Divisor: 100},
	{Name: "solar_current", Address: 1014, Divisor: 100},
	{Name: "grid_power", Address: 1016, Divisor: 1, Signed: true},
	{Name: "grid_voltage", Address: 1018, Divisor: 100},
	{Name: "grid_frequency", Address: 1020, Divisor: 100},
	{Name: "load_power", Address: 1022, Divisor: 1},
	{Name: "solar_energy_today", Address: 1024, Divisor: 10},
	{Name: "solar_energy_total", Address: 1026, Divisor: 10},
	{Name: "battery_energy_charged_today", Address: 1028, Divisor: 10},
	{Name: "battery_energy_discharged_today", Address: 1030, Divisor: 10},
	{Name: "system_status", Address: 1040, Divisor: 1},
	{Name: "work_mode", Address: 1041, Divisor: 1},
	{Name: "fault_code", Address: 1042, Divisor: 1},
}

var neo800Registers = []Register{
	{Name: "inverter_status", Address: 0, Divisor: 1},
	{Name: "pv1_voltage", Address: 3, Divisor: 10},
	{Name: "pv1_current", Address: 4, Divisor: 10},
	{Name: "pv1_power", Address: 5, Divisor: 10},
	{Name: "pv2_voltage", Address: 7, Divisor: 10},
	{Name: "pv2_current", Address: 8, Divisor: 10},
	{Name: "pv2_power", Address: 9, Divisor: 10},
	{Name: "output_power", Address: 35, Divisor: 10},
	{Name: "grid_frequency", Address: 37, Divisor: 100},
	{Name: "grid_voltage", Address: 38, Divisor: 10},
	{Name: "energy_today", Address: 53, Divisor: 10},
	{Name: "energy_total", Address: 55, Divisor: 10},
	{Name: "temperature", Address: 93, Divisor: 10},
	{Name: "power_factor", Address: 100, Divisor: 1000},
	{Name: "fault_code", Address: 105, Divisor: 1},
	{Name: "warning_code", Address: 106, Divisor: 1},
}

// RegistersFor returns the built-in map for a device variant.
func RegistersFor(variant model.DeviceVariant) ([]Register, error) {
	switch variant {
	case model.VariantNoah2000:
		return noah2000Registers, nil
	case model.VariantNeo800:
		return neo800Registers, nil
	default:
		return nil, fmt.Errorf("no register map for device variant %q", variant)
	}
}

type registerMapFile struct {
	Registers []Register `yaml:"registers"`
}

// LoadRegisterMap reads a YAML register-map override. Divisor defaults to 1
// per entry.
func LoadRegisterMap(path string) ([]Register, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file registerMapFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing register map %s: %w", path, err)
	}
	if len(file.Registers) == 0 {
		return nil, fmt.Errorf("register map %s defines no registers", path)
	}
	for i := range file.Registers {
		if file.Registers[i].Name == "" {
			return nil, fmt.Errorf("register map %s: entry %d has no name", path, i)
		}
		if file.Registers[i].Divisor == 0 {
			file.Registers[i].Divisor = 1
		}
	}
	return file.Registers, nil
}

// Decode converts a raw register value to its physical quantity.
func (r Register) Decode(raw uint16) float64 {
	v := float64(raw)
	if r.Signed {
		v = float64(int16(raw))
	}
	return v / r.Divisor
}

// Package modbus implements the register-polling transport for locally
// reachable devices, over TCP or RTU serial.
package modbus

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/goburrow/modbus"
	"go.uber.org/zap"

	"github.com/mvolli/growatt-bridge/internal/pkg/config"
	"github.com/mvolli/growatt-bridge/internal/pkg/errs"
	"github.com/mvolli/growatt-bridge/internal/pkg/model"
)

const slaveID = 1

// clientHandler is the slice of goburrow handler behavior both the TCP and
// RTU variants share.
type clientHandler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

type service struct {
	cfg       *config.BridgeConfig
	handler   clientHandler
	client    modbus.Client
	registers []Register
	logger    *zap.Logger
	connected bool
}

func New(cfg *config.BridgeConfig) (*service, error) {
	registers, err := registersFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	var handler clientHandler
	switch cfg.ConnectionType {
	case model.ConnectionModbusTCP:
		h := modbus.NewTCPClientHandler(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
		h.Timeout = cfg.Timeout
		h.SlaveId = slaveID
		handler = h
	case model.ConnectionModbusRTU:
		h := modbus.NewRTUClientHandler(cfg.SerialPort)
		h.BaudRate = cfg.Baudrate
		h.DataBits = 8
		h.Parity = "N"
		h.StopBits = 1
		h.Timeout = cfg.Timeout
		h.SlaveId = slaveID
		handler = h
	default:
		return nil, fmt.Errorf("connection type %q is not a modbus variant", cfg.ConnectionType)
	}

	return &service{
		cfg:       cfg,
		handler:   handler,
		client:    modbus.NewClient(handler),
		registers: registers,
		logger:    zap.L(),
	}, nil
}

func registersFromConfig(cfg *config.BridgeConfig) ([]Register, error) {
	if cfg.RegisterMapFile != "" {
		return LoadRegisterMap(cfg.RegisterMapFile)
	}
	return RegistersFor(cfg.DeviceType)
}

func (s *service) connect() error {
	if s.connected {
		return nil
	}
	if err := s.handler.Connect(); err != nil {
		return fmt.Errorf("modbus connect: %v: %w", err, errs.ErrTransient)
	}
	s.connected = true
	return nil
}

// FetchRaw reads every mapped register independently. A failing register is
// logged and omitted so one dead address never costs the whole poll; only a
// fully empty result is an error.
func (s *service) FetchRaw(ctx context.Context) (model.RawTelemetry, error) {
	if err := s.connect(); err != nil {
		return nil, err
	}

	raw := model.RawTelemetry{}
	var lastErr error
	for _, reg := range s.registers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results, err := s.client.ReadHoldingRegisters(reg.Address, 1)
		if err != nil {
			s.logger.Warn("register read failed",
				zap.String("register", reg.Name),
				zap.Uint16("address", reg.Address),
				zap.Error(err))
			lastErr = err
			continue
		}
		if len(results) < 2 {
			s.logger.Warn("short register response",
				zap.String("register", reg.Name),
				zap.Int("bytes", len(results)))
			continue
		}
		raw[reg.Name] = reg.Decode(binary.BigEndian.Uint16(results))
	}

	if len(raw) == 0 {
		// a connection that answers nothing is likely gone, force a redial
		s.reset()
		if lastErr == nil {
			lastErr = fmt.Errorf("no registers configured")
		}
		return nil, fmt.Errorf("all register reads failed: %v: %w", lastErr, errs.ErrTransient)
	}
	if lastErr != nil {
		s.logger.Info("partial telemetry",
			zap.Int("read", len(raw)),
			zap.Int("mapped", len(s.registers)))
	}
	return raw, nil
}

func (s *service) TestConnection(ctx context.Context) bool {
	if err := s.connect(); err != nil {
		s.logger.Debug("connection test failed", zap.Error(err))
		return false
	}
	_, err := s.client.ReadHoldingRegisters(s.registers[0].Address, 1)
	return err == nil
}

func (s *service) reset() {
	_ = s.handler.Close()
	s.connected = false
}

func (s *service) Close() error {
	if !s.connected {
		return nil
	}
	s.connected = false
	return s.handler.Close()
}

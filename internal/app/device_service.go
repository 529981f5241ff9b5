package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/netdevd/internal/config"
	"github.com/dokzlo13/netdevd/internal/device"
	"github.com/dokzlo13/netdevd/internal/eapi"
	"github.com/dokzlo13/netdevd/internal/metrics"
)

// pinger is implemented by gateways that can check reachability.
type pinger interface {
	Ping(ctx context.Context) error
}

// DeviceService owns the connection to the managed switch. Gateway is the
// full call chain used by the engines: driver, rate limiter, metrics.
type DeviceService struct {
	cfg *config.Config

	Client  *eapi.Client
	Memory  *device.MemoryGateway
	Gateway device.Gateway
	pinger  pinger
}

// NewDeviceService builds the gateway chain for the configured driver.
func NewDeviceService(cfg *config.Config, m *metrics.Metrics) (*DeviceService, error) {
	s := &DeviceService{cfg: cfg}

	var driver device.Gateway
	switch cfg.Device.Driver {
	case config.DriverEAPI:
		s.Client = eapi.NewClient(eapi.Options{
			Host:      cfg.Device.Host,
			Port:      cfg.Device.Port,
			Transport: cfg.Device.Transport,
			Username:  cfg.Device.Username,
			Password:  cfg.Device.Password,
			Timeout:   cfg.Device.Timeout.Duration(),
			Insecure:  cfg.Device.Insecure,
		})
		gw := eapi.NewGateway(s.Client)
		driver, s.pinger = gw, gw
	case config.DriverMemory:
		s.Memory = device.NewMemoryGateway()
		driver, s.pinger = s.Memory, s.Memory
	default:
		return nil, fmt.Errorf("unknown device driver %q", cfg.Device.Driver)
	}

	var gw device.Gateway = device.NewRateLimited(driver, cfg.Device.RateLimitRPS)
	if m != nil {
		gw = m.InstrumentGateway(gw)
	}
	s.Gateway = gw
	return s, nil
}

// Ping checks that the switch answers.
func (s *DeviceService) Ping(ctx context.Context) error {
	return s.pinger.Ping(ctx)
}

// Start verifies connectivity. An unreachable switch is logged, not fatal:
// every cycle reports its own discovery failures.
func (s *DeviceService) Start(ctx context.Context) {
	if err := s.Ping(ctx); err != nil {
		log.Warn().Err(err).Str("driver", s.cfg.Device.Driver).Msg("Device not reachable yet")
		return
	}
	if s.Client != nil {
		log.Info().Str("endpoint", s.Client.Endpoint()).Msg("Connected to switch")
	} else {
		log.Info().Str("driver", s.cfg.Device.Driver).Msg("Using simulated switch")
	}
}

// Close releases all resources.
func (s *DeviceService) Close() {
	if s.Client != nil {
		s.Client.Close()
	}
}

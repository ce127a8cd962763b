// Package laser talks to the engraving workstation over UDP and manages the
// SVG files it loads.
//
// The workstation normally lives on an isolated production network, so the
// LOADFILE command is fire-and-forget: once the datagram leaves, the send is
// reported successful. Only the explicit connectivity probe waits for a
// reply.
package laser

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quadi/qsa-engrave/models"
)

// Probe timeout bounds, seconds.
const (
	MinProbeTimeout = 1
	MaxProbeTimeout = 30
)

// Settings is the mutable device configuration. Ports and host are validated
// before a Coupler accepts them.
type Settings struct {
	Host           string `json:"host"`
	SendPort       int    `json:"sendPort"`
	RecvPort       int    `json:"recvPort"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
	Enabled        bool   `json:"enabled"`
}

// Check validates the settings without touching the network.
func (s Settings) Check() error {
	if net.ParseIP(s.Host) == nil {
		return models.Faultf(models.CodeInvalidIP, "host %q is not a valid IP address", s.Host)
	}
	for _, p := range []int{s.SendPort, s.RecvPort} {
		if p < 1 || p > 65535 {
			return models.Faultf(models.CodeInvalidPort, "port %d out of range", p)
		}
	}
	if s.TimeoutSeconds < MinProbeTimeout || s.TimeoutSeconds > MaxProbeTimeout {
		return models.Faultf(models.CodeInvalidParams,
			"timeout %d out of range %d-%d seconds", s.TimeoutSeconds, MinProbeTimeout, MaxProbeTimeout)
	}
	return nil
}

// Coupler sends workstation commands. Safe for concurrent use; settings
// updates swap atomically under the mutex.
type Coupler struct {
	mu       sync.Mutex
	settings Settings
	log      *logrus.Entry
}

func NewCoupler(settings Settings, log *logrus.Logger) (*Coupler, error) {
	if err := settings.Check(); err != nil {
		return nil, err
	}
	return &Coupler{settings: settings, log: log.WithField("component", "laser")}, nil
}

// Settings returns a copy of the current device settings.
func (c *Coupler) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// Update replaces the device settings after validation.
func (c *Coupler) Update(settings Settings) error {
	if err := settings.Check(); err != nil {
		return err
	}
	c.mu.Lock()
	c.settings = settings
	c.mu.Unlock()
	return nil
}

// LoadFile ships a LOADFILE command for path to the workstation. path must
// already be in the workstation's frame (see FileManager.RemotePath). The
// send is fire-and-forget; a nil return means the datagram left this host.
func (c *Coupler) LoadFile(ctx context.Context, path string) error {
	s := c.Settings()
	if !s.Enabled {
		return models.NewFault(models.CodeDeviceDisabled, "device coupling is disabled")
	}
	if path == "" {
		return models.NewFault(models.CodeInvalidPath, "empty file path")
	}

	addr := net.JoinHostPort(s.Host, fmt.Sprint(s.SendPort))
	conn, err := (&net.Dialer{}).DialContext(ctx, "udp", addr)
	if err != nil {
		return models.WrapFault(models.CodeConnectionFailed, "dialing workstation", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("LOADFILE:" + path)); err != nil {
		return models.WrapFault(models.CodeLoadFailed, "sending LOADFILE", err)
	}
	c.log.WithFields(logrus.Fields{"addr": addr, "path": path}).Info("sent LOADFILE")
	return nil
}

// Probe sends HELLO to the workstation's receive port and waits for any
// reply within the configured timeout. Used by the explicit connectivity
// test only; the engraving path never blocks on the device.
func (c *Coupler) Probe(ctx context.Context) (time.Duration, error) {
	s := c.Settings()
	if !s.Enabled {
		return 0, models.NewFault(models.CodeDeviceDisabled, "device coupling is disabled")
	}

	addr := net.JoinHostPort(s.Host, fmt.Sprint(s.RecvPort))
	conn, err := (&net.Dialer{}).DialContext(ctx, "udp", addr)
	if err != nil {
		return 0, models.WrapFault(models.CodeConnectionFailed, "dialing workstation", err)
	}
	defer conn.Close()

	start := time.Now()
	if _, err := conn.Write([]byte("HELLO")); err != nil {
		return 0, models.WrapFault(models.CodeConnectionFailed, "sending probe", err)
	}

	deadline := start.Add(time.Duration(s.TimeoutSeconds) * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return 0, models.WrapFault(models.CodeConnectionFailed, "setting probe deadline", err)
	}

	buf := make([]byte, 256)
	if _, err := conn.Read(buf); err != nil {
		return 0, models.Retryablef(models.CodeConnectionFailed,
			"no reply from %s within %d seconds", addr, s.TimeoutSeconds)
	}
	rtt := time.Since(start)
	c.log.WithFields(logrus.Fields{"addr": addr, "rtt": rtt}).Info("probe reply received")
	return rtt, nil
}

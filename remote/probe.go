package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
	"go.bug.st/serial"

	"github.com/timzifer/mbusdconf/config"
	"github.com/timzifer/mbusdconf/internal/logging"
)

// Result is the probe outcome of one port, reported at the port's index.
type Result struct {
	Index   int    `json:"index"`
	Name    string `json:"name,omitempty"`
	Device  string `json:"device"`
	Address string `json:"address"`
	Skipped bool   `json:"skipped,omitempty"`
	TCP     string `json:"tcp"`
	Serial  string `json:"serial,omitempty"`
}

// Reachable reports whether every executed probe succeeded.
func (r Result) Reachable() bool {
	return !r.Skipped && r.TCP == StatusOK && (r.Serial == "" || r.Serial == StatusOK)
}

// StatusOK marks a successful probe.
const StatusOK = "ok"

// Prober runs reachability probes on a bounded worker pool.
type Prober struct {
	Workers int
	Timeout time.Duration
	// Serial enables opening the serial devices. The device is busy while
	// mbusd runs, so this is only useful when the daemon is stopped.
	Serial bool

	ConnectTCP TCPConnector
	OpenSerial SerialOpener
	Logger     zerolog.Logger
}

// NewProber creates a prober using Modbus TCP and the system serial driver.
func NewProber(workers int, timeout time.Duration, probeSerial bool, logger zerolog.Logger) *Prober {
	return &Prober{
		Workers:    workers,
		Timeout:    timeout,
		Serial:     probeSerial,
		ConnectTCP: ConnectModbusTCP,
		OpenSerial: serial.Open,
		Logger:     logging.Component(logger, "probe"),
	}
}

// submitter runs tasks on a worker pool; *ants.Pool implements it.
type submitter interface {
	Submit(task func()) error
}

// ProbeAll probes every enabled port. The result slice has one entry per
// input port in input order; disabled ports are marked as skipped.
func (p *Prober) ProbeAll(ctx context.Context, ports []config.PortSection) ([]Result, error) {
	workers := p.Workers
	if workers <= 0 {
		workers = 4
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("create probe pool: %w", err)
	}
	defer pool.Release()
	return p.probeOn(ctx, pool, ports)
}

// probeOn returns only after every submitted probe has finished, also when a
// later submission fails.
func (p *Prober) probeOn(ctx context.Context, pool submitter, ports []config.PortSection) ([]Result, error) {
	results := make([]Result, len(ports))
	var wg sync.WaitGroup
	for i, port := range ports {
		results[i] = Result{
			Index:   i,
			Name:    port.Name,
			Device:  port.Device,
			Address: DialAddress(port.Bind, port.Port),
		}
		if !port.Enable {
			results[i].Skipped = true
			continue
		}
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			results[i] = p.probe(ctx, results[i], port)
		}); err != nil {
			wg.Done()
			wg.Wait()
			return nil, fmt.Errorf("submit probe %d: %w", i, err)
		}
	}
	wg.Wait()
	return results, ctx.Err()
}

func (p *Prober) probe(ctx context.Context, result Result, port config.PortSection) Result {
	if err := ctx.Err(); err != nil {
		result.TCP = err.Error()
		return result
	}
	connect := p.ConnectTCP
	if connect == nil {
		connect = ConnectModbusTCP
	}
	result.TCP = status(connect(result.Address, p.Timeout))
	if p.Serial {
		open := p.OpenSerial
		if open == nil {
			open = serial.Open
		}
		result.Serial = status(probeSerial(open, port))
	}
	p.Logger.Debug().
		Int("index", result.Index).
		Str("address", result.Address).
		Str("tcp", result.TCP).
		Str("serial", result.Serial).
		Msg("probe finished")
	return result
}

func status(err error) string {
	if err != nil {
		return err.Error()
	}
	return StatusOK
}

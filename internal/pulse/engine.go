package pulse

import (
	"context"
	"sync"

	"github.com/HerbHall/netpulse/pkg/models"
	"go.uber.org/zap"
)

// Prober reports whether ip:port accepts a TCP connection. Implementations
// must never block past ctx and must normalize every failure to false.
type Prober interface {
	Probe(ctx context.Context, ip string, port int) bool
}

// Fan-out levels, used as the label on unit failure metrics.
const (
	levelIP     = "ip"
	levelCheck  = "check"
	levelDevice = "device"
)

// Verdict is a device's outcome for one round.
type Verdict struct {
	DeviceID string                `json:"device_id"`
	Healthy  bool                  `json:"healthy"`
	Failures []models.CheckFailure `json:"failures,omitempty"`
}

// Engine evaluates the fleet with three nested fan-out stages:
// devices, then check items per device, then addresses per check item.
// Every stage waits for all of its units and folds their results with an
// order-independent combinator. The only throttle is the Prober's own
// admission control; spawning goroutines is unbounded.
type Engine struct {
	prober  Prober
	policy  string
	metrics *Metrics
	logger  *zap.Logger

	// Stage functions, replaceable in tests.
	evalCheck  func(ctx context.Context, ips []string, check models.CheckItem) (bool, []string)
	evalDevice func(ctx context.Context, d models.Device) Verdict
}

// NewEngine creates an engine. policy is FailOpen or FailClosed and decides
// how a panicking evaluation unit contributes to its parent.
func NewEngine(prober Prober, policy string, metrics *Metrics, logger *zap.Logger) *Engine {
	if policy != FailClosed {
		policy = FailOpen
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		prober:  prober,
		policy:  policy,
		metrics: metrics,
		logger:  logger,
	}
	e.evalCheck = e.EvaluateCheck
	e.evalDevice = e.EvaluateDevice
	return e
}

type ipOutcome struct {
	index int
	ok    bool
}

// EvaluateCheck probes one check item on every address concurrently. The
// check is healthy if at least one address accepted the connection.
// failedIPs lists every address that failed, in configured order, even when
// the check is healthy overall.
func (e *Engine) EvaluateCheck(ctx context.Context, ips []string, check models.CheckItem) (healthy bool, failedIPs []string) {
	outcomes := make(chan ipOutcome, len(ips))
	var wg sync.WaitGroup

	for i, ip := range ips {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer e.recoverUnit(levelIP, func() {
				outcomes <- ipOutcome{index: i, ok: false}
			}, zap.String("ip", ip), zap.Int("port", check.Port))

			outcomes <- ipOutcome{index: i, ok: e.prober.Probe(ctx, ip, check.Port)}
		}()
	}
	wg.Wait()
	close(outcomes)

	failed := make([]bool, len(ips))
	for o := range outcomes {
		if o.ok {
			healthy = true
		} else {
			failed[o.index] = true
		}
	}
	for i, ip := range ips {
		if failed[i] {
			failedIPs = append(failedIPs, ip)
		}
	}
	return healthy, failedIPs
}

type checkOutcome struct {
	index   int
	failure *models.CheckFailure
}

// EvaluateDevice runs every check item of d concurrently. The device is
// healthy only if no check item failed.
func (e *Engine) EvaluateDevice(ctx context.Context, d models.Device) Verdict {
	outcomes := make(chan checkOutcome, len(d.Checks))
	var wg sync.WaitGroup

	for i, check := range d.Checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer e.recoverUnit(levelCheck, func() {
				outcomes <- checkOutcome{index: i, failure: allFailed(d, check)}
			}, zap.String("device_id", d.ID), zap.String("check", check.Label()))

			healthy, failedIPs := e.evalCheck(ctx, d.IPs, check)
			if healthy {
				outcomes <- checkOutcome{index: i}
				return
			}
			outcomes <- checkOutcome{index: i, failure: &models.CheckFailure{
				CheckName:    check.Label(),
				Port:         check.Port,
				AttemptedIPs: failedIPs,
			}}
		}()
	}
	wg.Wait()
	close(outcomes)

	byIndex := make([]*models.CheckFailure, len(d.Checks))
	for o := range outcomes {
		byIndex[o.index] = o.failure
	}

	v := Verdict{DeviceID: d.ID}
	for _, f := range byIndex {
		if f != nil {
			v.Failures = append(v.Failures, *f)
		}
	}
	v.Healthy = len(v.Failures) == 0
	return v
}

// EvaluateFleet evaluates every device concurrently and returns verdicts
// keyed by device ID. A device whose evaluation was dropped under the open
// failure policy has no entry.
func (e *Engine) EvaluateFleet(ctx context.Context, devices []models.Device) map[string]Verdict {
	outcomes := make(chan Verdict, len(devices))
	var wg sync.WaitGroup

	for _, d := range devices {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer e.recoverUnit(levelDevice, func() {
				v := Verdict{DeviceID: d.ID}
				for _, check := range d.Checks {
					v.Failures = append(v.Failures, *allFailed(d, check))
				}
				outcomes <- v
			}, zap.String("device_id", d.ID))

			outcomes <- e.evalDevice(ctx, d)
		}()
	}
	wg.Wait()
	close(outcomes)

	verdicts := make(map[string]Verdict, len(devices))
	for v := range outcomes {
		verdicts[v.DeviceID] = v
	}
	return verdicts
}

// recoverUnit must be deferred directly. It turns a panic in an evaluation
// unit into either nothing (FailOpen) or the unit's failing contribution
// (FailClosed).
func (e *Engine) recoverUnit(level string, failClosed func(), fields ...zap.Field) {
	r := recover()
	if r == nil {
		return
	}
	e.metrics.unitFailed(level)
	e.logger.Error("evaluation unit terminated abnormally",
		append(fields,
			zap.String("level", level),
			zap.String("policy", e.policy),
			zap.Any("panic", r),
		)...,
	)
	if e.policy == FailClosed {
		failClosed()
	}
}

// allFailed is the contribution of a check whose evaluation crashed under
// FailClosed: every address is reported as unreachable.
func allFailed(d models.Device, check models.CheckItem) *models.CheckFailure {
	ips := make([]string, len(d.IPs))
	copy(ips, d.IPs)
	return &models.CheckFailure{
		CheckName:    check.Label(),
		Port:         check.Port,
		AttemptedIPs: ips,
	}
}

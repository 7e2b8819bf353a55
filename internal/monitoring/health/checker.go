package health

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/theblitlabs/parity-flsim/pkg/logger"
)

// Status represents the health status of a component
type Status string

const (
	StatusOK      Status = "OK"
	StatusWarning Status = "WARNING"
	StatusError   Status = "ERROR"
)

// ErrDegraded marks a component that still works but needs attention
var ErrDegraded = errors.New("degraded")

// Check inspects one component and describes its state
type Check func(ctx context.Context) (string, error)

// ComponentHealth represents the health status of a system component
type ComponentHealth struct {
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	Message     string    `json:"message"`
	LastChecked time.Time `json:"last_checked"`
}

// HealthChecker periodically runs the registered checks and caches the
// results for the health endpoint
type HealthChecker struct {
	checks     map[string]Check
	components map[string]*ComponentHealth
	mu         sync.RWMutex
	checkFreq  time.Duration
	timeout    time.Duration
	cancel     context.CancelFunc
	done       chan struct{}
}

func NewHealthChecker(checkFreq time.Duration) *HealthChecker {
	if checkFreq == 0 {
		checkFreq = 30 * time.Second
	}
	return &HealthChecker{
		checks:     make(map[string]Check),
		components: make(map[string]*ComponentHealth),
		checkFreq:  checkFreq,
		timeout:    5 * time.Second,
	}
}

// Register adds a named check. Registering a name twice replaces the check.
func (hc *HealthChecker) Register(name string, check Check) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = check
}

// Start begins periodic health checks
func (hc *HealthChecker) Start(ctx context.Context) {
	log := logger.WithComponent("health_checker")
	log.Info().Dur("frequency", hc.checkFreq).Msg("Starting health checker")

	ctx, hc.cancel = context.WithCancel(ctx)
	hc.done = make(chan struct{})

	ticker := time.NewTicker(hc.checkFreq)
	go func() {
		defer close(hc.done)
		defer ticker.Stop()

		hc.CheckAll(ctx)
		for {
			select {
			case <-ticker.C:
				hc.CheckAll(ctx)
			case <-ctx.Done():
				log.Info().Msg("Health checker stopped")
				return
			}
		}
	}()
}

// Stop halts the health checker and waits for a running check to finish
func (hc *HealthChecker) Stop() {
	if hc.cancel != nil {
		hc.cancel()
		<-hc.done
	}
}

// CheckAll runs every registered check once
func (hc *HealthChecker) CheckAll(ctx context.Context) {
	log := logger.WithComponent("health_checker")

	hc.mu.RLock()
	checks := make(map[string]Check, len(hc.checks))
	for name, check := range hc.checks {
		checks[name] = check
	}
	hc.mu.RUnlock()

	for name, check := range checks {
		cctx, cancel := context.WithTimeout(ctx, hc.timeout)
		msg, err := check(cctx)
		cancel()

		health := &ComponentHealth{
			Name:        name,
			Status:      StatusOK,
			Message:     msg,
			LastChecked: time.Now(),
		}
		switch {
		case errors.Is(err, ErrDegraded):
			health.Status = StatusWarning
			health.Message = err.Error()
			log.Warn().Str("component", name).Msg(health.Message)
		case err != nil:
			health.Status = StatusError
			health.Message = err.Error()
			log.Error().Err(err).Str("component", name).Msg("Health check failed")
		}

		hc.mu.Lock()
		hc.components[name] = health
		hc.mu.Unlock()
	}
}

// GetAllHealth returns copies of the latest results ordered by name
func (hc *HealthChecker) GetAllHealth() []ComponentHealth {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	result := make([]ComponentHealth, 0, len(hc.components))
	for _, v := range hc.components {
		result = append(result, *v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// GetComponentHealth returns the latest result of one component
func (hc *HealthChecker) GetComponentHealth(name string) (ComponentHealth, bool) {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	if component, exists := hc.components[name]; exists {
		return *component, true
	}
	return ComponentHealth{}, false
}

// Overall is the worst status over all components, OK when nothing ran yet
func (hc *HealthChecker) Overall() Status {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	overall := StatusOK
	for _, c := range hc.components {
		switch c.Status {
		case StatusError:
			return StatusError
		case StatusWarning:
			overall = StatusWarning
		}
	}
	return overall
}

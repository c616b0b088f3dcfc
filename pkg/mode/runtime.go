// Package mode wires the building blocks into the commands the binary runs:
// install, serve and fetch.
package mode

import (
	"errors"
	"fmt"

	"github.com/go-localmodel/pkg/config"
	"github.com/go-localmodel/pkg/events"
	"github.com/go-localmodel/pkg/metrics"
	"github.com/go-localmodel/pkg/procgroup"
	"github.com/go-localmodel/pkg/utils"
)

// Runtime holds what every mode shares: configuration, the event stream,
// metrics and the process group owning spawned children.
type Runtime struct {
	Config  *config.Config
	Logger  *utils.Logger
	Events  *events.Emitter
	Metrics metrics.Collector
	Group   procgroup.Group

	unsubscribe func()
}

// NewRuntime builds a runtime. A nil collector means no metrics.
// On platforms without process groups, children are left unmanaged.
func NewRuntime(cfg *config.Config, logger *utils.Logger, collector metrics.Collector) (*Runtime, error) {
	if collector == nil {
		collector = metrics.NewNoop()
	}

	group, err := procgroup.New(logger.Named("procgroup"))
	if err != nil {
		if !errors.Is(err, procgroup.ErrPlatformUnsupported) {
			return nil, fmt.Errorf("failed to create process group: %w", err)
		}
		logger.Info("⚠️  Process groups unsupported here; child processes will not be torn down automatically")
		group = nil
	}

	rt := &Runtime{
		Config:  cfg,
		Logger:  logger,
		Events:  events.NewEmitter(256, logger),
		Metrics: collector,
		Group:   group,
	}
	rt.unsubscribe = rt.Events.Subscribe(rt.logEvent)
	return rt, nil
}

// Sink returns the event sink for one source
func (rt *Runtime) Sink(source string) events.Sink {
	return events.WithSource(rt.Events, source)
}

// Close flushes pending events and kills any child still attached to the group
func (rt *Runtime) Close() {
	rt.Events.Close()
	rt.unsubscribe()
	if rt.Group != nil {
		if err := rt.Group.Teardown(); err != nil {
			rt.Logger.Error("Process group teardown: %v", err)
		}
	}
}

func (rt *Runtime) logEvent(ev events.Event) {
	source := ev.Source
	if source == "" {
		source = "-"
	}
	if ev.HasFraction {
		rt.Logger.Verbose("[%s] %s %.0f%%", source, ev.Message, ev.Fraction*100)
		return
	}
	rt.Logger.Debug("[%s] %s", source, ev.Message)
}

package trigger

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/GoCodeAlone/modhost"
)

// SignalTrigger requests a reload whenever the process receives one of its
// signals, SIGHUP by default.
type SignalTrigger struct {
	target  Reloader
	logger  modhost.Logger
	signals []os.Signal

	ch       chan os.Signal
	stopOnce sync.Once
	done     chan struct{}
}

// NewSignalTrigger creates a trigger for sigs, or SIGHUP when none given.
func NewSignalTrigger(target Reloader, logger modhost.Logger, sigs ...os.Signal) *SignalTrigger {
	if logger == nil {
		logger = discardLogger()
	}
	if len(sigs) == 0 {
		sigs = []os.Signal{syscall.SIGHUP}
	}
	return &SignalTrigger{
		target:  target,
		logger:  logger,
		signals: sigs,
		ch:      make(chan os.Signal, 1),
		done:    make(chan struct{}),
	}
}

// Start subscribes to the signals and forwards them until Stop.
func (s *SignalTrigger) Start() {
	signal.Notify(s.ch, s.signals...)
	go func() {
		for {
			select {
			case sig := <-s.ch:
				s.logger.Info("Reload requested by signal", "signal", sig.String())
				s.target.Trigger(modhost.ReloadTriggerSignal)
			case <-s.done:
				return
			}
		}
	}()
}

// Stop unsubscribes.
func (s *SignalTrigger) Stop() {
	s.stopOnce.Do(func() {
		signal.Stop(s.ch)
		close(s.done)
	})
}

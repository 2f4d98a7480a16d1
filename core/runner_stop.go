package core

import (
	"context"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/webbox/internal/logx"
)

// stopWait blocks until done is closed or grace elapses.
var stopWait = func(done <-chan struct{}, grace time.Duration) {
	if done == nil {
		time.Sleep(grace)
		return
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
	}
}

// stopProcess runs the TERM, grace, KILL sequence against proc and cancels
// the run context afterwards.
func stopProcess(log pslog.Logger, proc Process, grace time.Duration, cancel context.CancelFunc) {
	signalCtx := context.Background()
	if log != nil {
		signalCtx = pslog.ContextWithLogger(signalCtx, log)
	}
	if proc != nil && !isDone(handleDone(proc)) {
		if err := proc.Signal(signalCtx, ProcessSignalTERM); err != nil && log != nil {
			log.Warn("runner stop signal failed", "signal", ProcessSignalTERM, "err", err)
		}
		stopWait(handleDone(proc), grace)
		if !isDone(handleDone(proc)) {
			if err := proc.Signal(signalCtx, ProcessSignalKILL); err != nil && log != nil {
				log.Warn("runner stop signal failed", "signal", ProcessSignalKILL, "err", err)
			}
		}
	}
	if cancel != nil {
		cancel()
	}
	if log != nil {
		log.Info("runner stop signal sequence complete")
	}
}

func handleDone(h any) <-chan struct{} {
	if h == nil {
		return nil
	}
	if done, ok := h.(interface{ Done() <-chan struct{} }); ok {
		return done.Done()
	}
	return nil
}

func isDone(ch <-chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// detachRunContext returns a cancelable context that survives the caller
// but keeps its logger and log fields.
func detachRunContext(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.Background()
	if ctx != nil {
		if logger := pslog.Ctx(ctx); logger != nil {
			base = logx.CopyContextFields(pslog.ContextWithLogger(base, logger), ctx)
		}
	}
	return context.WithCancel(base)
}

package kernel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"termsguard/pkg/termsguard"
)

// Run starts every module, supervises the drivers and blocks until ctx ends,
// a driver fails, or all drivers return. Teardown always runs afterwards.
func (k *Kernel) Run(ctx context.Context) error {
	if err := k.claimRun(); err != nil {
		return err
	}
	defer k.releaseRun()

	k.mu.RLock()
	modules := k.modules.snapshot()
	drivers := k.drivers.snapshot()
	k.mu.RUnlock()

	if err := k.startModules(ctx, modules); err != nil {
		return err
	}

	runErr := k.superviseDrivers(ctx, drivers)
	if isContextCancellation(runErr) {
		runErr = nil
	}

	return errors.Join(runErr, k.shutdown(ctx, modules, drivers))
}

func (k *Kernel) claimRun() error {
	k.runMu.Lock()
	defer k.runMu.Unlock()

	if k.running {
		return fmt.Errorf("kernel run: already running")
	}
	k.running = true

	return nil
}

func (k *Kernel) releaseRun() {
	k.runMu.Lock()
	k.running = false
	k.runMu.Unlock()
}

func (k *Kernel) startModules(ctx context.Context, modules []named[*moduleRecord]) error {
	for _, entry := range modules {
		record := entry.value
		hookCtx, cancel := context.WithTimeout(ctx, k.cfg.hookTimeout)
		err := runSafely("module "+entry.name+" OnStart", func() error {
			return record.module.OnStart(hookCtx)
		})
		cancel()
		if err != nil {
			return fmt.Errorf("start module %s: %w", entry.name, err)
		}
	}

	return nil
}

// superviseDrivers runs drivers in one errgroup. The first fatal error cancels
// the rest; stragglers get shutdownTimeout to return before Run moves on.
func (k *Kernel) superviseDrivers(ctx context.Context, drivers []named[termsguard.Driver]) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, entry := range drivers {
		group.Go(func() error {
			err := runSafely("driver "+entry.name+" Start", func() error {
				return entry.value.Start(groupCtx, k)
			})
			if err == nil || isContextCancellation(err) {
				return nil
			}
			return fmt.Errorf("run driver %s: %w", entry.name, err)
		})
	}

	finished := make(chan error, 1)
	go func() {
		finished <- group.Wait()
	}()

	select {
	case err := <-finished:
		if err != nil {
			return err
		}
		return ctx.Err()
	case <-groupCtx.Done():
	}

	timer := time.NewTimer(k.cfg.shutdownTimeout)
	defer timer.Stop()
	select {
	case err := <-finished:
		if err != nil {
			return err
		}
	case <-timer.C:
		k.cfg.logger.WarnContext(ctx, "drivers still running after shutdown timeout",
			"timeout", k.cfg.shutdownTimeout,
		)
	}

	return context.Cause(groupCtx)
}

// shutdown stops drivers, then modules, then the bus, all in reverse
// registration order under one shutdownTimeout budget detached from ctx.
func (k *Kernel) shutdown(
	ctx context.Context,
	modules []named[*moduleRecord],
	drivers []named[termsguard.Driver],
) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.shutdownTimeout)
	defer cancel()

	var errs []error
	for _, entry := range backwards(drivers) {
		if err := runSafely("driver "+entry.name+" Shutdown", func() error {
			return entry.value.Shutdown(shutdownCtx)
		}); err != nil {
			errs = append(errs, fmt.Errorf("shutdown driver %s: %w", entry.name, err))
		}
	}

	k.logBusStats(shutdownCtx)
	for _, entry := range backwards(modules) {
		errs = append(errs, k.stopModule(shutdownCtx, entry.name, entry.value))
	}

	if err := k.bus.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("kernel shutdown: %w", err)
	}

	return nil
}

// stopModule closes the module's subscriptions before calling OnShutdown.
func (k *Kernel) stopModule(ctx context.Context, name string, record *moduleRecord) error {
	var errs []error
	if err := record.closeSubscriptions(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown module %s subscriptions: %w", name, err))
	}

	hookCtx, cancel := context.WithTimeout(ctx, k.cfg.hookTimeout)
	defer cancel()
	if err := runSafely("module "+name+" OnShutdown", func() error {
		return record.module.OnShutdown(hookCtx)
	}); err != nil {
		errs = append(errs, fmt.Errorf("shutdown module %s: %w", name, err))
	}

	return errors.Join(errs...)
}

// logBusStats reports subscriptions that lost or failed events during the run.
func (k *Kernel) logBusStats(ctx context.Context) {
	for _, stats := range k.bus.Stats() {
		if stats.Dropped == 0 && stats.Failed == 0 {
			continue
		}
		k.cfg.logger.WarnContext(ctx, "subscription lost events",
			"subscription", stats.Name,
			"delivered", stats.Delivered,
			"dropped", stats.Dropped,
			"failed", stats.Failed,
		)
	}
}

func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

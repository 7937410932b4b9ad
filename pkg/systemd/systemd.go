// Package systemd reports service state to systemd through the sd_notify
// protocol. Every call is a no-op when the process is not started by a
// unit with NOTIFY_SOCKET set.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "taskbot/pkg/logx"
)

// notify is swapped in tests.
var notify = daemon.SdNotify

// Ready tells systemd that startup finished (Type=notify units).
func Ready() bool { return send(daemon.SdNotifyReady) }

// Stopping tells systemd that shutdown began.
func Stopping() bool { return send(daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func Status(s string) bool { return send("STATUS=" + s) }

func send(state string) bool {
	ok, err := notify(false, state)
	return ok && err == nil
}

// Watchdog pings systemd at half the unit's WatchdogSec until ctx ends.
// It returns at once when the watchdog is not enabled for this process.
func Watchdog(ctx context.Context, log logx.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("systemd watchdog check failed", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	watchdogLoop(ctx, interval/2, log)
}

func watchdogLoop(ctx context.Context, every time.Duration, log logx.Logger) {
	log.Info("systemd watchdog enabled", logx.Duration("every", every))
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := notify(false, daemon.SdNotifyWatchdog); err != nil {
				log.Warn("systemd watchdog ping failed", logx.Err(err))
			}
		}
	}
}

// Package systemd reports service state to systemd through sd_notify.
//
// All calls are no-ops when the process is not started by systemd
// (NOTIFY_SOCKET unset).
package systemd

import (
	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends state updates to the service manager.
type Notifier struct {
	// unsetEnv clears NOTIFY_SOCKET after the first send, for one-shot units.
	unsetEnv bool

	send func(unsetEnv bool, state string) (bool, error)
}

func New() *Notifier {
	return &Notifier{send: daemon.SdNotify}
}

// Ready tells systemd that startup finished (Type=notify units).
func (n *Notifier) Ready() error { return n.notify(daemon.SdNotifyReady) }

// Stopping tells systemd that a clean shutdown began.
func (n *Notifier) Stopping() error { return n.notify(daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by `systemctl status`.
func (n *Notifier) Status(msg string) error { return n.notify("STATUS=" + msg) }

func (n *Notifier) notify(state string) error {
	if n == nil || n.send == nil {
		return nil
	}
	_, err := n.send(n.unsetEnv, state)
	return err
}

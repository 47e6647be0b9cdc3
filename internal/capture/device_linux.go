//go:build linux

package capture

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"autorec/internal/logging"
)

// DeviceWatcher listens for udev sound device removals and marks microphone
// streams as no longer live.
type DeviceWatcher struct {
	adapter *Adapter
	logger  *slog.Logger

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

// NewDeviceWatcher constructs a watcher feeding adapter.
func NewDeviceWatcher(adapter *Adapter, logger *slog.Logger) *DeviceWatcher {
	return &DeviceWatcher{adapter: adapter, logger: logging.NewComponentLogger(logger, "capture.devices")}
}

// Start connects to the udev netlink socket. Failure to connect is logged and
// leaves liveness to process exit detection.
func (w *DeviceWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		logging.WarnWithContext(w.logger, "failed to connect to udev netlink socket", "udev_connect_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "device unplug is still detected when capture stops delivering audio"),
			logging.String(logging.FieldImpact, "microphone removal detected later"),
		)
		return nil
	}
	w.conn = conn
	w.quit = make(chan struct{})
	w.running = true
	go w.loop(ctx, conn, w.quit)
	w.logger.Debug("udev device watcher started")
	return nil
}

// Stop closes the netlink connection.
func (w *DeviceWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	close(w.quit)
	_ = w.conn.Close()
	w.conn = nil
	w.quit = nil
	w.running = false
}

func (w *DeviceWatcher) loop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, soundRemovalMatcher())
	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			w.handle(uevent)
		case err := <-errs:
			w.logger.Debug("udev monitor error", logging.Error(err))
		}
	}
}

func soundRemovalMatcher() netlink.Matcher {
	action := "remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env:    map[string]string{"SUBSYSTEM": "sound"},
	})
	return rules
}

func (w *DeviceWatcher) handle(uevent netlink.UEvent) {
	device := uevent.Env["DEVNAME"]
	if device == "" {
		device = uevent.Env["DEVPATH"]
	}
	// Each card emits one event per PCM node; the control node marks the card itself.
	if uevent.Env["DEVNAME"] != "" && !isControlNode(device) {
		return
	}
	w.logger.Info("sound device removed", logging.String("device", device))
	w.adapter.EndDevice(Microphone, "sound device removed: "+device)
}

func isControlNode(device string) bool {
	for i := len(device) - 1; i >= 0; i-- {
		if device[i] == '/' {
			device = device[i+1:]
			break
		}
	}
	return len(device) > len("controlC") && device[:len("controlC")] == "controlC"
}

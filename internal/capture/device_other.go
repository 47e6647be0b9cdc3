//go:build !linux

package capture

import (
	"context"
	"log/slog"
)

// DeviceWatcher is inert on platforms without udev.
type DeviceWatcher struct{}

// NewDeviceWatcher returns an inert watcher.
func NewDeviceWatcher(*Adapter, *slog.Logger) *DeviceWatcher { return &DeviceWatcher{} }

// Start does nothing.
func (*DeviceWatcher) Start(context.Context) error { return nil }

// Stop does nothing.
func (*DeviceWatcher) Stop() {}

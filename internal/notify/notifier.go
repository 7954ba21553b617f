package notify

import (
	"log/slog"
	"os/exec"
)

const defaultSoundFile = "/usr/share/sounds/freedesktop/stereo/complete.oga"

// DesktopNotifier raises a sound and a desktop alert for events that need
// human attention (confirmation challenges, manual-review escalations).
// Strictly fire-and-forget: a missing sound daemon or notification service is
// logged and ignored, never propagated.
type DesktopNotifier struct {
	logger  *slog.Logger
	sound   bool
	desktop bool
}

func NewDesktopNotifier(logger *slog.Logger, sound, desktop bool) *DesktopNotifier {
	return &DesktopNotifier{logger: logger, sound: sound, desktop: desktop}
}

func (n *DesktopNotifier) Notify(title, message string) {
	if n.sound {
		n.spawn(exec.Command("paplay", defaultSoundFile))
	}
	if n.desktop {
		n.spawn(exec.Command("notify-send", title, message))
	}
}

func (n *DesktopNotifier) spawn(cmd *exec.Cmd) {
	if err := cmd.Start(); err != nil {
		n.logger.Debug("notification command failed", "command", cmd.Path, "error", err)
		return
	}
	// Reap the child; the outcome is irrelevant.
	go func() { _ = cmd.Wait() }()
}

// NopNotifier is used in tests and headless deployments.
type NopNotifier struct{}

func (NopNotifier) Notify(string, string) {}

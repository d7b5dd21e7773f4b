package main

import (
	"os/exec"
	"runtime"

	"go.uber.org/zap"
)

// openBrowser launches the OS default browser at url, best-effort: a
// failure here (headless box, missing xdg-open) just gets logged, never
// treated as fatal since the server is already up without it.
func openBrowser(url string, log *zap.Logger) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		log.Debug("auto-open browser failed, continuing without it", zap.Error(err))
	}
}

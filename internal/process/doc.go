// Package process supervises a long-running helper daemon.
//
// The relay uses it to keep wpa_supplicant alive when it owns the WiFi
// association itself.
//
// Features:
//   - Launch with output forwarded to the structured logger
//   - Relaunch after unexpected exits with a fixed delay and restart budget
//   - SIGTERM then SIGKILL shutdown of the whole process group
//
// Example usage:
//
//	mgr := process.NewManager(process.Config{
//	    Name:         "wpa_supplicant",
//	    Binary:       "/usr/sbin/wpa_supplicant",
//	    Args:         []string{"-i", "wlan0", "-c", "/run/wpa.conf"},
//	    RestartDelay: 5 * time.Second,
//	}, logger)
//
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
package process

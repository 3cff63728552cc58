package link

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"net/netip"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-relay/internal/process"
)

const nmcliTimeout = 15 * time.Second

// AddressLookup returns the usable IPv4 address of iface, or of any
// interface when iface is empty.
type AddressLookup func(iface string) (netip.Addr, bool)

// InterfaceAddress is the default AddressLookup. It accepts the first
// global unicast IPv4 address on an interface that is up.
func InterfaceAddress(iface string) (netip.Addr, bool) {
	var ifaces []net.Interface
	if iface != "" {
		ifi, err := net.InterfaceByName(iface)
		if err != nil {
			return netip.Addr{}, false
		}
		ifaces = []net.Interface{*ifi}
	} else {
		all, err := net.Interfaces()
		if err != nil {
			return netip.Addr{}, false
		}
		ifaces = all
	}

	for _, ifi := range ifaces {
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			prefix, err := netip.ParsePrefix(a.String())
			if err != nil {
				continue
			}
			addr := prefix.Addr()
			if addr.Is4() && addr.IsGlobalUnicast() {
				return addr, true
			}
		}
	}
	return netip.Addr{}, false
}

// HostTransport leaves association to the operating system and only
// watches for an address.
type HostTransport struct {
	Interface string
	Lookup    AddressLookup
}

// Begin does nothing; the host network stack owns association.
func (t *HostTransport) Begin(string, string) error { return nil }

// IsConnected reports whether the interface has an address.
func (t *HostTransport) IsConnected() bool {
	_, ok := t.lookup()(t.Interface)
	return ok
}

// LocalAddress returns the interface address, or the zero Addr.
func (t *HostTransport) LocalAddress() netip.Addr {
	addr, _ := t.lookup()(t.Interface)
	return addr
}

func (t *HostTransport) lookup() AddressLookup {
	if t.Lookup != nil {
		return t.Lookup
	}
	return InterfaceAddress
}

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput() //nolint:gosec // binary comes from operator config
}

// NMCLITransport asks NetworkManager to join the network.
type NMCLITransport struct {
	HostTransport
	Binary string
	Run    Runner
}

// Begin requests a connection without waiting for it to complete.
func (t *NMCLITransport) Begin(ssid, password string) error {
	args := []string{"-w", "0", "device", "wifi", "connect", ssid}
	if password != "" {
		args = append(args, "password", password)
	}
	if t.Interface != "" {
		args = append(args, "ifname", t.Interface)
	}

	run := t.Run
	if run == nil {
		run = execRunner
	}

	ctx, cancel := context.WithTimeout(context.Background(), nmcliTimeout)
	defer cancel()

	out, err := run(ctx, t.Binary, args...)
	if err != nil {
		return fmt.Errorf("nmcli connect %q: %w: %s", ssid, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// SupplicantTransport runs its own wpa_supplicant for the interface.
// An address still has to come from the host's DHCP client.
type SupplicantTransport struct {
	HostTransport
	cfg    config.SupplicantConfig
	daemon *process.Manager
}

// NewSupplicantTransport creates a transport managing wpa_supplicant on iface.
func NewSupplicantTransport(iface string, cfg config.SupplicantConfig, logger process.Logger) *SupplicantTransport {
	args := []string{"-i", iface, "-c", cfg.ConfigPath}
	if cfg.Driver != "" {
		args = append(args, "-D", cfg.Driver)
	}
	return &SupplicantTransport{
		HostTransport: HostTransport{Interface: iface},
		cfg:           cfg,
		daemon: process.NewManager(process.Config{
			Name:         "wpa_supplicant",
			Binary:       cfg.Binary,
			Args:         args,
			RestartDelay: cfg.RestartDelay,
			MaxRestarts:  cfg.MaxRestartAttempts,
		}, logger),
	}
}

// Begin writes the network block and starts the daemon if it is not running.
// A running daemon keeps retrying association on its own.
func (t *SupplicantTransport) Begin(ssid, password string) error {
	if err := os.MkdirAll(filepath.Dir(t.cfg.ConfigPath), 0o700); err != nil {
		return fmt.Errorf("creating wpa_supplicant config dir: %w", err)
	}
	if err := os.WriteFile(t.cfg.ConfigPath, []byte(SupplicantConfig(ssid, password)), 0o600); err != nil {
		return fmt.Errorf("writing wpa_supplicant config: %w", err)
	}

	if t.daemon.IsRunning() {
		return nil
	}
	return t.daemon.Start(context.Background())
}

// Stats returns the daemon's statistics.
func (t *SupplicantTransport) Stats() process.Stats {
	return t.daemon.Stats()
}

// Close stops the daemon.
func (t *SupplicantTransport) Close() error {
	return t.daemon.Stop()
}

// SupplicantConfig renders a wpa_supplicant configuration with a single
// network. The SSID is hex encoded so any byte sequence is accepted.
func SupplicantConfig(ssid, password string) string {
	var b strings.Builder
	b.WriteString("ctrl_interface=/run/wpa_supplicant\n")
	b.WriteString("update_config=0\n\n")
	b.WriteString("network={\n")
	fmt.Fprintf(&b, "\tssid=%s\n", hex.EncodeToString([]byte(ssid)))
	if password == "" {
		b.WriteString("\tkey_mgmt=NONE\n")
	} else {
		fmt.Fprintf(&b, "\tpsk=\"%s\"\n", password)
	}
	b.WriteString("}\n")
	return b.String()
}

// NewTransport builds the transport selected by cfg.Backend.
func NewTransport(cfg config.WiFiConfig, logger process.Logger) (Transport, error) {
	switch cfg.Backend {
	case config.BackendHost:
		return &HostTransport{Interface: cfg.Interface}, nil
	case config.BackendNMCLI:
		return &NMCLITransport{
			HostTransport: HostTransport{Interface: cfg.Interface},
			Binary:        cfg.NMCLI.Binary,
		}, nil
	case config.BackendWPASupplicant:
		return NewSupplicantTransport(cfg.Interface, cfg.Supplicant, logger), nil
	default:
		return nil, fmt.Errorf("link: unknown backend %q", cfg.Backend)
	}
}

// Package link keeps the node's WiFi connection up.
//
// Manager.Ensure is the single entry point: a no-op when connected,
// otherwise it starts association and polls the transport every
// PollInterval until an address appears. By default it waits forever,
// matching a device with nothing useful to do while offline; a Timeout
// or a cancelled context ends the wait with ErrLinkUnavailable.
//
// Three transports are provided:
//   - HostTransport: the OS owns the link, the relay only watches it
//   - NMCLITransport: joins through NetworkManager's nmcli
//   - SupplicantTransport: runs a supervised wpa_supplicant
package link

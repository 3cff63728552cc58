package link

import (
	"context"
	"errors"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/events"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/config"
)

// fakeTransport connects after a number of status polls following Begin.
type fakeTransport struct {
	connected    bool
	pollsToUp    int
	polls        int
	begins       int
	beginErr     error
	lastSSID     string
	lastPass     string
	address      netip.Addr
	neverConnect bool
	addrMisses   int // LocalAddress calls that return no address while connected
}

func (f *fakeTransport) Begin(ssid, password string) error {
	f.begins++
	f.lastSSID = ssid
	f.lastPass = password
	return f.beginErr
}

func (f *fakeTransport) IsConnected() bool {
	if f.connected {
		return true
	}
	if f.begins == 0 || f.neverConnect {
		return false
	}
	f.polls++
	if f.polls > f.pollsToUp {
		f.connected = true
	}
	return f.connected
}

func (f *fakeTransport) LocalAddress() netip.Addr {
	if !f.connected {
		return netip.Addr{}
	}
	if f.addrMisses > 0 {
		f.addrMisses--
		return netip.Addr{}
	}
	return f.address
}

type recordingPublisher struct {
	events []events.Event
}

func (r *recordingPublisher) Publish(e events.Event) {
	r.events = append(r.events, e)
}

// countingSleep counts waits and honours ctx without blocking.
type countingSleep struct {
	calls  int
	delays []time.Duration
	cancel context.CancelFunc
	after  int
}

func (c *countingSleep) sleep(ctx context.Context, d time.Duration) error {
	c.calls++
	c.delays = append(c.delays, d)
	if c.cancel != nil && c.calls >= c.after {
		c.cancel()
	}
	return ctx.Err()
}

var testAddr = netip.MustParseAddr("192.168.4.20")

func newTestManager(tr *fakeTransport, cfg Config) (*Manager, *countingSleep, *recordingPublisher) {
	pub := &recordingPublisher{}
	m := NewManager(tr, cfg, nil, pub)
	cs := &countingSleep{}
	m.sleep = cs.sleep
	return m, cs, pub
}

func TestManager_Ensure_AlreadyConnected(t *testing.T) {
	tr := &fakeTransport{connected: true, address: testAddr}
	m, cs, pub := newTestManager(tr, Config{SSID: "Wokwi-GUEST"})

	st, err := m.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if !st.Connected || st.Address != testAddr {
		t.Errorf("Ensure() = %+v, want connected at %v", st, testAddr)
	}
	if tr.begins != 0 {
		t.Errorf("begins = %d, want 0", tr.begins)
	}
	if cs.calls != 0 {
		t.Errorf("sleeps = %d, want 0", cs.calls)
	}
	if len(pub.events) != 1 || pub.events[0].Type != events.LinkUp {
		t.Errorf("events = %v, want one link.up", pub.events)
	}

	// A second call with no change publishes nothing new.
	if _, err := m.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if len(pub.events) != 1 {
		t.Errorf("events after repeat = %d, want 1", len(pub.events))
	}
}

func TestManager_Ensure_PollsUntilConnected(t *testing.T) {
	tr := &fakeTransport{pollsToUp: 3, address: testAddr}
	m, cs, _ := newTestManager(tr, Config{SSID: "Wokwi-GUEST", Password: ""})

	st, err := m.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if !st.Connected {
		t.Fatal("Ensure() Connected = false, want true")
	}
	if tr.begins != 1 {
		t.Errorf("begins = %d, want 1", tr.begins)
	}
	if tr.lastSSID != "Wokwi-GUEST" {
		t.Errorf("Begin ssid = %q, want %q", tr.lastSSID, "Wokwi-GUEST")
	}
	if cs.calls != 3 {
		t.Errorf("sleeps = %d, want 3", cs.calls)
	}
	for i, d := range cs.delays {
		if d != 100*time.Millisecond {
			t.Errorf("delay[%d] = %v, want 100ms", i, d)
		}
	}
	if got := m.Current(); got != st {
		t.Errorf("Current() = %+v, want %+v", got, st)
	}
	if m.Begins() != 1 {
		t.Errorf("Begins() = %d, want 1", m.Begins())
	}
}

func TestManager_Ensure_BeginErrorKeepsPolling(t *testing.T) {
	tr := &fakeTransport{pollsToUp: 1, beginErr: errors.New("radio busy"), address: testAddr}
	m, _, _ := newTestManager(tr, Config{SSID: "net"})

	st, err := m.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure() error = %v, want nil", err)
	}
	if !st.Connected {
		t.Error("Ensure() Connected = false, want true")
	}
}

func TestManager_Ensure_Cancelled(t *testing.T) {
	tr := &fakeTransport{neverConnect: true}
	m, cs, _ := newTestManager(tr, Config{SSID: "net"})

	ctx, cancel := context.WithCancel(context.Background())
	cs.cancel = cancel
	cs.after = 5

	st, err := m.Ensure(ctx)
	if !errors.Is(err, ErrLinkUnavailable) {
		t.Fatalf("Ensure() error = %v, want ErrLinkUnavailable", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Ensure() error = %v, want wrapped context.Canceled", err)
	}
	if st.Connected {
		t.Error("Ensure() Connected = true, want false")
	}
	if cs.calls != 5 {
		t.Errorf("sleeps = %d, want 5", cs.calls)
	}
}

func TestManager_Ensure_Timeout(t *testing.T) {
	tr := &fakeTransport{neverConnect: true}
	m := NewManager(tr, Config{SSID: "net", PollInterval: time.Millisecond, Timeout: 20 * time.Millisecond}, nil, nil)

	_, err := m.Ensure(context.Background())
	if !errors.Is(err, ErrLinkUnavailable) {
		t.Fatalf("Ensure() error = %v, want ErrLinkUnavailable", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Ensure() error = %v, want wrapped context.DeadlineExceeded", err)
	}
}

func TestManager_Ensure_LinkLossPublishesDown(t *testing.T) {
	tr := &fakeTransport{connected: true, address: testAddr}
	m, _, pub := newTestManager(tr, Config{SSID: "net"})

	if _, err := m.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	tr.connected = false
	tr.polls = 0
	tr.pollsToUp = 0
	if _, err := m.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	var types []events.Type
	for _, e := range pub.events {
		types = append(types, e.Type)
	}
	want := []events.Type{events.LinkUp, events.LinkDown, events.LinkUp}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("events[%d] = %v, want %v", i, types[i], want[i])
		}
	}
}

func TestManager_Ensure_ConnectedWithoutAddress(t *testing.T) {
	tr := &fakeTransport{connected: true, address: testAddr, addrMisses: 1}
	m, cs, pub := newTestManager(tr, Config{SSID: "Wokwi-GUEST"})

	st, err := m.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if !st.Connected || st.Address != testAddr {
		t.Errorf("Ensure() = %+v, want connected at %v", st, testAddr)
	}
	if tr.begins != 1 {
		t.Errorf("begins = %d, want 1 after the address vanished", tr.begins)
	}
	if cs.calls != 0 {
		t.Errorf("sleeps = %d, want 0", cs.calls)
	}
	if len(pub.events) != 1 || pub.events[0].Data["address"] != testAddr.String() {
		t.Errorf("events = %v, want one link.up with address %v", pub.events, testAddr)
	}
}

func TestManager_Ensure_NeverReportsUpWithoutAddress(t *testing.T) {
	tr := &fakeTransport{connected: true, address: testAddr, addrMisses: 1 << 20}
	m, cs, pub := newTestManager(tr, Config{SSID: "Wokwi-GUEST"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cs.cancel = cancel
	cs.after = 3

	st, err := m.Ensure(ctx)
	if !errors.Is(err, ErrLinkUnavailable) {
		t.Fatalf("Ensure() error = %v, want ErrLinkUnavailable", err)
	}
	if st.Connected {
		t.Errorf("Ensure() = %+v, want disconnected", st)
	}
	if len(pub.events) != 0 {
		t.Errorf("events = %v, want none", pub.events)
	}
}

func TestManager_IsUp(t *testing.T) {
	tr := &fakeTransport{connected: true}
	m := NewManager(tr, Config{}, nil, nil)
	if !m.IsUp() {
		t.Error("IsUp() = false, want true")
	}
	tr.connected = false
	if m.IsUp() {
		t.Error("IsUp() = true, want false")
	}
}

// ===== Transport Tests =====

func TestHostTransport(t *testing.T) {
	up := true
	tr := &HostTransport{
		Interface: "wlan0",
		Lookup: func(iface string) (netip.Addr, bool) {
			if iface != "wlan0" {
				t.Errorf("lookup iface = %q, want wlan0", iface)
			}
			if !up {
				return netip.Addr{}, false
			}
			return testAddr, true
		},
	}

	if err := tr.Begin("x", "y"); err != nil {
		t.Errorf("Begin() error = %v, want nil", err)
	}
	if !tr.IsConnected() || tr.LocalAddress() != testAddr {
		t.Errorf("connected/address = %v/%v, want true/%v", tr.IsConnected(), tr.LocalAddress(), testAddr)
	}

	up = false
	if tr.IsConnected() {
		t.Error("IsConnected() = true, want false")
	}
}

func TestInterfaceAddress_UnknownInterface(t *testing.T) {
	if _, ok := InterfaceAddress("no-such-iface0"); ok {
		t.Error("InterfaceAddress() ok = true for unknown interface")
	}
}

func TestNMCLITransport_Begin(t *testing.T) {
	tests := []struct {
		name     string
		iface    string
		password string
		wantArgs string
	}{
		{
			name:     "open network any interface",
			wantArgs: "-w 0 device wifi connect Wokwi-GUEST",
		},
		{
			name:     "secured network on wlan0",
			iface:    "wlan0",
			password: "secret",
			wantArgs: "-w 0 device wifi connect Wokwi-GUEST password secret ifname wlan0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotName string
			var gotArgs []string
			tr := &NMCLITransport{
				HostTransport: HostTransport{Interface: tt.iface},
				Binary:        "nmcli",
				Run: func(_ context.Context, name string, args ...string) ([]byte, error) {
					gotName = name
					gotArgs = args
					return nil, nil
				},
			}

			if err := tr.Begin("Wokwi-GUEST", tt.password); err != nil {
				t.Fatalf("Begin() error = %v", err)
			}
			if gotName != "nmcli" {
				t.Errorf("binary = %q, want nmcli", gotName)
			}
			if got := strings.Join(gotArgs, " "); got != tt.wantArgs {
				t.Errorf("args = %q, want %q", got, tt.wantArgs)
			}
		})
	}
}

func TestNMCLITransport_BeginError(t *testing.T) {
	tr := &NMCLITransport{
		Binary: "nmcli",
		Run: func(context.Context, string, ...string) ([]byte, error) {
			return []byte("Error: No network with SSID 'x' found.\n"), errors.New("exit status 10")
		},
	}

	err := tr.Begin("x", "")
	if err == nil {
		t.Fatal("Begin() error = nil, want error")
	}
	if !strings.Contains(err.Error(), "No network with SSID") {
		t.Errorf("Begin() error = %v, want nmcli output included", err)
	}
}

func TestSupplicantConfig(t *testing.T) {
	got := SupplicantConfig("Wokwi-GUEST", "")
	if !strings.Contains(got, "ssid=576f6b77692d4755455354\n") {
		t.Errorf("config missing hex ssid:\n%s", got)
	}
	if !strings.Contains(got, "key_mgmt=NONE") {
		t.Errorf("open network config missing key_mgmt=NONE:\n%s", got)
	}

	got = SupplicantConfig("home", "correct horse")
	if !strings.Contains(got, `psk="correct horse"`) {
		t.Errorf("config missing psk:\n%s", got)
	}
	if strings.Contains(got, "key_mgmt=NONE") {
		t.Errorf("secured network config has key_mgmt=NONE:\n%s", got)
	}
}

func TestNewTransport(t *testing.T) {
	tests := []struct {
		backend string
		wantErr bool
	}{
		{backend: config.BackendHost},
		{backend: config.BackendNMCLI},
		{backend: config.BackendWPASupplicant},
		{backend: "bluetooth", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			tr, err := NewTransport(config.WiFiConfig{Backend: tt.backend, Interface: "wlan0"}, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewTransport() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && tr == nil {
				t.Error("NewTransport() returned nil transport")
			}
		})
	}
}

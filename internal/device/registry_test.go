package device

import (
	"errors"
	"sync"
	"testing"
)

func mustDevice(t testing.TB, id, addr string, protocol Protocol) *Device {
	t.Helper()
	d, err := New(id, "", MustParseAddress(addr), protocol)
	if err != nil {
		t.Fatalf("New(%q) error = %v", id, err)
	}
	return d
}

func TestRegistry_RegisterAppends(t *testing.T) {
	reg := NewRegistry()
	sw := mustDevice(t, "pump-switch", "AA:BB:CC:DD:EE:01", ProtocolJDY08)
	temp := mustDevice(t, "pump-temp", "aa:bb:cc:dd:ee:01", ProtocolJDY08)

	if err := reg.Register(sw); err != nil {
		t.Fatalf("Register(switch) error = %v", err)
	}
	if err := reg.Register(temp); err != nil {
		t.Fatalf("Register(temp) error = %v", err)
	}

	got := reg.Lookup(MustParseAddress("aabbccddee01"))
	if len(got) != 2 {
		t.Fatalf("Lookup() returned %d devices, want 2", len(got))
	}
	if got[0] != sw || got[1] != temp {
		t.Error("Lookup() should return devices in registration order")
	}
	if reg.Len() != 2 {
		t.Errorf("Len() = %d, want 2", reg.Len())
	}
	if reg.AddressCount() != 1 {
		t.Errorf("AddressCount() = %d, want 1", reg.AddressCount())
	}
}

func TestRegistry_RegisterDuplicateID(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(mustDevice(t, "pump", "AA:BB:CC:DD:EE:01", ProtocolJDY08)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	err := reg.Register(mustDevice(t, "pump", "AA:BB:CC:DD:EE:02", ProtocolJDY08))
	if !errors.Is(err, ErrDuplicateDevice) {
		t.Errorf("Register(duplicate) error = %v, want ErrDuplicateDevice", err)
	}
	if got := reg.Lookup(MustParseAddress("AA:BB:CC:DD:EE:02")); len(got) != 0 {
		t.Error("rejected device should not be reachable by address")
	}
}

func TestRegistry_RegisterNil(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(nil); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("Register(nil) error = %v, want ErrInvalidDevice", err)
	}
}

func TestRegistry_LookupUnknown(t *testing.T) {
	reg := NewRegistry()
	if got := reg.Lookup(MustParseAddress("AA:BB:CC:DD:EE:FF")); got != nil {
		t.Errorf("Lookup(unknown) = %v, want nil", got)
	}
}

func TestRegistry_LookupReturnsCopy(t *testing.T) {
	reg := NewRegistry()
	d := mustDevice(t, "pump", "AA:BB:CC:DD:EE:01", ProtocolJDY08)
	_ = reg.Register(d)

	got := reg.Lookup(d.Address())
	got[0] = nil

	if again := reg.Lookup(d.Address()); again[0] != d {
		t.Error("mutating a Lookup result must not affect the registry")
	}
}

func TestRegistry_Get(t *testing.T) {
	reg := NewRegistry()
	d := mustDevice(t, "pump", "AA:BB:CC:DD:EE:01", ProtocolJDY08)
	_ = reg.Register(d)

	got, err := reg.Get("pump")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != d {
		t.Error("Get() returned a different device")
	}

	if _, err := reg.Get("missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRegistry_AllSorted(t *testing.T) {
	reg := NewRegistry()
	for _, id := range []string{"c", "a", "b"} {
		_ = reg.Register(mustDevice(t, id, "AA:BB:CC:DD:EE:01", ProtocolJDY08))
	}

	all := reg.All()
	if len(all) != 3 {
		t.Fatalf("All() returned %d devices, want 3", len(all))
	}
	for i, want := range []string{"a", "b", "c"} {
		if all[i].ID() != want {
			t.Errorf("All()[%d].ID() = %q, want %q", i, all[i].ID(), want)
		}
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	addr := MustParseAddress("AA:BB:CC:DD:EE:01")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			d, _ := New(string(rune('a'+i)), "", addr, ProtocolJDY08)
			_ = reg.Register(d)
		}(i)
		go func() {
			defer wg.Done()
			_ = reg.Lookup(addr)
			_ = reg.All()
		}()
	}
	wg.Wait()

	if got := len(reg.Lookup(addr)); got != 20 {
		t.Errorf("Lookup() after concurrent registration = %d devices, want 20", got)
	}
}

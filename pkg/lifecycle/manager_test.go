package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/phinze/arkade/pkg/ports"
	testingclock "k8s.io/utils/clock/testing"
)

// fakeRuntime records calls and keeps container state in memory.
type fakeRuntime struct {
	mu       sync.Mutex
	exists   map[string]bool
	running  map[string]bool
	calls    []string
	startErr error
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{exists: map[string]bool{}, running: map[string]bool{}}
}

func (f *fakeRuntime) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeRuntime) ContainerExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("exists " + name)
	return f.exists[name], nil
}

func (f *fakeRuntime) CreateContainer(_ context.Context, name, image string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create " + name + " " + image)
	f.exists[name] = true
	return "id-" + name, nil
}

func (f *fakeRuntime) StartContainer(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("start " + name)
	if f.startErr != nil {
		return f.startErr
	}
	if !f.exists[name] {
		return errors.New("no such container")
	}
	f.running[name] = true
	return nil
}

func (f *fakeRuntime) StopContainer(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stop " + name)
	f.running[name] = false
	return nil
}

func (f *fakeRuntime) DeleteContainer(_ context.Context, name string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete " + name)
	delete(f.exists, name)
	delete(f.running, name)
	return nil
}

func (f *fakeRuntime) ContainerRunning(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[name], nil
}

func (f *fakeRuntime) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRuntime) IsRunning(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[name]
}

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, rt *fakeRuntime, bindings ...Binding) (*Manager, *testingclock.FakeClock) {
	t.Helper()
	clk := testingclock.NewFakeClock(t0)
	m, err := NewManager(Config{
		Runtime:  rt,
		Bindings: bindings,
		Logger:   testLogger(),
		Clock:    clk,
	})
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}
	return m, clk
}

func activationFor(d ports.Descriptor, at time.Time) activation {
	return activation{id: "test", port: d, at: at}
}

func TestNewManagerValidation(t *testing.T) {
	web := ports.TCPPort(8080)

	tests := []struct {
		name     string
		bindings []Binding
		wantErr  string
	}{
		{
			name:     "empty name",
			bindings: []Binding{{Ports: []ports.Descriptor{web}}},
			wantErr:  "no container name",
		},
		{
			name: "duplicate container",
			bindings: []Binding{
				{Container: "web", Ports: []ports.Descriptor{web}},
				{Container: "web", Ports: []ports.Descriptor{ports.TCPPort(9090)}},
			},
			wantErr: "bound twice",
		},
		{
			name: "port bound twice",
			bindings: []Binding{
				{Container: "web", Ports: []ports.Descriptor{web}},
				{Container: "api", Ports: []ports.Descriptor{web}},
			},
			wantErr: "bound to both web and api",
		},
		{
			name:     "negative idle timeout",
			bindings: []Binding{{Container: "web", IdleTimeout: -time.Second}},
			wantErr:  "negative idle timeout",
		},
		{
			name: "same number different protocol",
			bindings: []Binding{
				{Container: "web", Ports: []ports.Descriptor{web}},
				{Container: "dns", Ports: []ports.Descriptor{ports.UDPPort(8080)}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(Config{Runtime: newFakeRuntime(), Bindings: tt.bindings})
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("NewManager() error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("NewManager() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}

	if _, err := NewManager(Config{}); err == nil {
		t.Error("NewManager() without runtime should fail")
	}
}

func TestPorts(t *testing.T) {
	m, _ := newTestManager(t, newFakeRuntime(),
		Binding{Container: "dns", Ports: ports.MustParse("53/udp")},
		Binding{Container: "web", Ports: ports.MustParse("8080/tcp, 80/tcp")},
	)

	want := ports.MustParse("80/tcp, 8080/tcp, 53/udp")
	if diff := cmp.Diff(want, m.Ports()); diff != "" {
		t.Errorf("Ports() mismatch (-want +got):\n%s", diff)
	}
}

func TestActivationCreatesAndStarts(t *testing.T) {
	rt := newFakeRuntime()
	m, _ := newTestManager(t, rt, Binding{
		Container: "web",
		Image:     "docker.io/library/nginx",
		Ports:     []ports.Descriptor{ports.TCPPort(8080)},
	})

	m.handleActivation(context.Background(), activationFor(ports.TCPPort(8080), t0))

	want := []string{"exists web", "create web docker.io/library/nginx", "start web"}
	if diff := cmp.Diff(want, rt.Calls()); diff != "" {
		t.Errorf("runtime calls mismatch (-want +got):\n%s", diff)
	}

	st := m.Status()[0]
	if !st.Running || st.Starts != 1 || !st.LastSeen.Equal(t0) {
		t.Errorf("Status() = %+v", st)
	}

	// A second activation while running only refreshes lastSeen.
	later := t0.Add(3 * time.Second)
	m.handleActivation(context.Background(), activationFor(ports.TCPPort(8080), later))
	if got := len(rt.Calls()); got != 3 {
		t.Errorf("runtime called %d times, want 3", got)
	}
	if st := m.Status()[0]; !st.LastSeen.Equal(later) {
		t.Errorf("LastSeen = %v, want %v", st.LastSeen, later)
	}
}

func TestActivationWithoutImageSkipsCreate(t *testing.T) {
	rt := newFakeRuntime()
	rt.exists["db"] = true
	m, _ := newTestManager(t, rt, Binding{Container: "db", Ports: ports.MustParse("5432/tcp")})

	m.handleActivation(context.Background(), activationFor(ports.TCPPort(5432), t0))

	if diff := cmp.Diff([]string{"start db"}, rt.Calls()); diff != "" {
		t.Errorf("runtime calls mismatch (-want +got):\n%s", diff)
	}
}

func TestActivationFailureRetries(t *testing.T) {
	rt := newFakeRuntime()
	rt.exists["db"] = true
	rt.startErr = errors.New("cgroup busy")
	m, _ := newTestManager(t, rt, Binding{Container: "db", Ports: ports.MustParse("5432/tcp")})
	d := ports.TCPPort(5432)

	m.handleActivation(context.Background(), activationFor(d, t0))
	st := m.Status()[0]
	if st.Running || st.LastError != "cgroup busy" {
		t.Fatalf("after failure Status() = %+v", st)
	}

	rt.mu.Lock()
	rt.startErr = nil
	rt.mu.Unlock()

	m.handleActivation(context.Background(), activationFor(d, t0.Add(5*time.Second)))
	st = m.Status()[0]
	if !st.Running || st.LastError != "" || st.Starts != 1 {
		t.Errorf("after retry Status() = %+v", st)
	}
}

func TestFailedStartRemovesCreatedContainer(t *testing.T) {
	rt := newFakeRuntime()
	rt.startErr = errors.New("port already allocated")
	m, _ := newTestManager(t, rt, Binding{Container: "web", Image: "docker.io/library/nginx", Ports: ports.MustParse("8080/tcp")})
	d := ports.TCPPort(8080)

	m.handleActivation(context.Background(), activationFor(d, t0))

	want := []string{"exists web", "create web docker.io/library/nginx", "start web", "delete web"}
	if diff := cmp.Diff(want, rt.Calls()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
	if st := m.Status()[0]; st.Running || st.LastError != "port already allocated" {
		t.Errorf("Status() = %+v", st)
	}

	// An existing container is never removed on a failed start.
	rt.mu.Lock()
	rt.calls = nil
	rt.exists["web"] = true
	rt.mu.Unlock()
	m.handleActivation(context.Background(), activationFor(d, t0.Add(time.Second)))
	want = []string{"exists web", "start web"}
	if diff := cmp.Diff(want, rt.Calls()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestReapIdle(t *testing.T) {
	rt := newFakeRuntime()
	rt.exists["web"] = true
	rt.exists["db"] = true
	m, clk := newTestManager(t, rt,
		Binding{Container: "web", Ports: ports.MustParse("8080/tcp"), IdleTimeout: time.Minute},
		Binding{Container: "db", Ports: ports.MustParse("5432/tcp")},
	)
	ctx := context.Background()

	m.handleActivation(ctx, activationFor(ports.TCPPort(8080), t0))
	m.handleActivation(ctx, activationFor(ports.TCPPort(5432), t0))

	clk.SetTime(t0.Add(59 * time.Second))
	m.reapIdle(ctx)
	if !rt.IsRunning("web") {
		t.Fatal("web stopped before its idle timeout")
	}

	clk.SetTime(t0.Add(time.Minute))
	m.reapIdle(ctx)
	if rt.IsRunning("web") {
		t.Error("web still running after idle timeout")
	}
	if !rt.IsRunning("db") {
		t.Error("db has no idle timeout and must keep running")
	}

	st := m.Status()
	if st[0].Running || st[0].Stops != 1 {
		t.Errorf("web Status() = %+v", st[0])
	}

	// The next activation starts it again.
	m.handleActivation(ctx, activationFor(ports.TCPPort(8080), clk.Now()))
	if !rt.IsRunning("web") {
		t.Error("web not restarted by new activity")
	}
}

func TestSyncPicksUpExternalState(t *testing.T) {
	rt := newFakeRuntime()
	rt.exists["web"] = true
	rt.running["web"] = true
	m, clk := newTestManager(t, rt,
		Binding{Container: "web", Ports: ports.MustParse("8080/tcp"), IdleTimeout: time.Minute})
	ctx := context.Background()

	clk.SetTime(t0.Add(10 * time.Second))
	m.sync(ctx)

	st := m.Status()[0]
	if !st.Running || !st.LastSeen.Equal(t0.Add(10*time.Second)) {
		t.Fatalf("Status() after sync = %+v", st)
	}

	// Activity on an already-running container must not call start.
	m.handleActivation(ctx, activationFor(ports.TCPPort(8080), clk.Now()))
	for _, c := range rt.Calls() {
		if c == "start web" {
			t.Error("started a container that was already running")
		}
	}
}

func TestHandleActivityNeverBlocks(t *testing.T) {
	rt := newFakeRuntime()
	m, err := NewManager(Config{
		Runtime:   rt,
		Bindings:  []Binding{{Container: "web", Ports: ports.MustParse("8080/tcp")}},
		QueueSize: 1,
		Logger:    testLogger(),
		Clock:     testingclock.NewFakeClock(t0),
	})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			m.HandleActivity(ports.TCPPort(8080))
		}
		// Unbound ports are ignored without queueing.
		m.HandleActivity(ports.UDPPort(8080))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("HandleActivity blocked on a full queue")
	}

	if got := m.Dropped(); got != 4 {
		t.Errorf("Dropped() = %d, want 4", got)
	}
	if got := len(m.queue); got != 1 {
		t.Errorf("queue length = %d, want 1", got)
	}
}

func TestStartProcessesActivityAndStopsOnShutdown(t *testing.T) {
	rt := newFakeRuntime()
	m, err := NewManager(Config{
		Runtime:        rt,
		Bindings:       []Binding{{Container: "web", Image: "nginx", Ports: ports.MustParse("8080/tcp")}},
		StopOnShutdown: true,
		Logger:         testLogger(),
		Clock:          testingclock.NewFakeClock(t0),
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Start(ctx) }()

	m.HandleActivity(ports.TCPPort(8080))

	deadline := time.Now().Add(5 * time.Second)
	for !rt.IsRunning("web") {
		if time.Now().After(deadline) {
			t.Fatal("container was not started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Start() error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}

	if rt.IsRunning("web") {
		t.Error("container still running after shutdown with StopOnShutdown")
	}
}

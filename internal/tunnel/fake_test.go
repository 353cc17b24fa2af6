package tunnel

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

// fakeProcess is an in-memory agent driven by the test.
type fakeProcess struct {
	pid     int
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter
	done    chan struct{}
	once    sync.Once
	code    int
	killed  atomic.Bool
}

func newFakeProcess(pid int) *fakeProcess {
	p := &fakeProcess{pid: pid, done: make(chan struct{})}
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	return p
}

func (p *fakeProcess) stdout(s string) { _, _ = io.WriteString(p.stdoutW, s) }
func (p *fakeProcess) stderr(s string) { _, _ = io.WriteString(p.stderrW, s) }

func (p *fakeProcess) exit(code int) {
	p.once.Do(func() {
		p.code = code
		p.stdoutW.Close()
		p.stderrW.Close()
		close(p.done)
	})
}

func (p *fakeProcess) Pid() int              { return p.pid }
func (p *fakeProcess) Stdout() io.Reader     { return p.stdoutR }
func (p *fakeProcess) Stderr() io.Reader     { return p.stderrR }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }
func (p *fakeProcess) ExitCode() int         { return p.code }

func (p *fakeProcess) Kill() error {
	p.killed.Store(true)
	p.exit(-1)
	return nil
}

// fakeSpawner hands out fake processes and runs script against each.
type fakeSpawner struct {
	script func(p *fakeProcess)

	mu    sync.Mutex
	specs []SpawnSpec
	procs []*fakeProcess
}

func (f *fakeSpawner) Spawn(spec SpawnSpec) (Process, error) {
	f.mu.Lock()
	p := newFakeProcess(4000 + len(f.procs))
	f.specs = append(f.specs, spec)
	f.procs = append(f.procs, p)
	f.mu.Unlock()

	if f.script != nil {
		go f.script(p)
	}
	return p, nil
}

func (f *fakeSpawner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.procs)
}

func (f *fakeSpawner) last() *fakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.procs[len(f.procs)-1]
}

func (f *fakeSpawner) cleanup() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.procs {
		p.exit(0)
	}
}

// downAgentURL returns an address nothing listens on.
func downAgentURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

type signalRecorder struct {
	mu         sync.Mutex
	terminated []int
	killed     []int
	stayAlive  bool
}

func (r *signalRecorder) terminate(pid int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminated = append(r.terminated, pid)
	return nil
}

func (r *signalRecorder) forceKill(pid int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.killed = append(r.killed, pid)
	return nil
}

func (r *signalRecorder) alive(int) bool { return r.stayAlive }

func newTestSupervisor(t *testing.T, sp *fakeSpawner, agentURL string, opts ...Option) (*Supervisor, *signalRecorder) {
	t.Helper()
	t.Cleanup(sp.cleanup)

	sig := &signalRecorder{}
	base := []Option{
		WithSpawner(sp),
		WithLogger(log.New(io.Discard)),
		WithResolver(func(string, ...string) (string, bool) { return "/opt/ngrok/ngrok", true }),
		WithClock(func() time.Time { return time.UnixMilli(1700000000000) }),
		WithSignals(sig.terminate, sig.forceKill, sig.alive),
	}
	s := NewSupervisor(Config{
		StartTimeout:     2 * time.Second,
		PollInterval:     20 * time.Millisecond,
		StopGrace:        50 * time.Millisecond,
		AgentAPI:         agentURL,
		AgentConfigPaths: []string{},
	}, append(base, opts...)...)
	return s, sig
}

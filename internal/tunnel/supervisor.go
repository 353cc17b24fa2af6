// Package tunnel supervises the ngrok agent: it discovers tunnels already
// served by a running agent, spawns a detached agent when none exists, and
// scrapes the agent's output for the assigned public URL.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/standardbeagle/athena-bridge/internal/command"
)

// Tunnel is a public URL bound to a local port.
type Tunnel struct {
	ID        string `json:"id"`
	PublicURL string `json:"public_url"`
	Port      int    `json:"port"`
	PID       int    `json:"pid,omitempty"`
	// Owned is true when this supervisor spawned the agent.
	Owned bool `json:"owned"`
}

// Status summarizes the tunnel situation for a port.
type Status struct {
	AgentRunning bool    `json:"agentRunning"`
	Running      bool    `json:"running"`
	Tunnel       *Tunnel `json:"tunnel,omitempty"`
}

// Config holds supervisor settings.
type Config struct {
	Binary           string
	ExtraDirs        []string
	StartTimeout     time.Duration
	PollInterval     time.Duration
	StopGrace        time.Duration
	AgentAPI         string
	AgentConfigPaths []string
	// AuthtokenEnv names the variable the authtoken is passed in.
	AuthtokenEnv string
}

// DefaultConfig returns the standard agent settings.
func DefaultConfig() Config {
	return Config{
		Binary:           "ngrok",
		StartTimeout:     30 * time.Second,
		PollInterval:     500 * time.Millisecond,
		StopGrace:        2 * time.Second,
		AgentAPI:         DefaultAgentAPI,
		AgentConfigPaths: AgentConfigPaths(),
		AuthtokenEnv:     "NGROK_AUTHTOKEN",
	}
}

type ownedTunnel struct {
	tunnel Tunnel
	proc   Process
}

func (o *ownedTunnel) alive() bool {
	select {
	case <-o.proc.Done():
		return false
	default:
		return true
	}
}

// Supervisor starts, discovers and stops tunnels.
type Supervisor struct {
	config  Config
	spawner Spawner
	agent   *AgentClient
	logger  *log.Logger

	resolve   func(name string, extraDirs ...string) (string, bool)
	environ   func() []string
	now       func() time.Time
	terminate func(pid int) error
	forceKill func(pid int) error
	alive     func(pid int) bool

	mu    sync.Mutex
	owned map[int]*ownedTunnel // by port

	ensure singleflight.Group
}

// Option configures a Supervisor.
type Option func(*Supervisor)

func WithSpawner(sp Spawner) Option { return func(s *Supervisor) { s.spawner = sp } }

func WithAgentClient(c *AgentClient) Option { return func(s *Supervisor) { s.agent = c } }

func WithLogger(l *log.Logger) Option { return func(s *Supervisor) { s.logger = l } }

// WithResolver replaces the executable lookup.
func WithResolver(fn func(name string, extraDirs ...string) (string, bool)) Option {
	return func(s *Supervisor) { s.resolve = fn }
}

func WithClock(now func() time.Time) Option { return func(s *Supervisor) { s.now = now } }

// WithSignals replaces the functions used by Stop.
func WithSignals(terminate, forceKill func(pid int) error, alive func(pid int) bool) Option {
	return func(s *Supervisor) {
		s.terminate = terminate
		s.forceKill = forceKill
		s.alive = alive
	}
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(cfg Config, opts ...Option) *Supervisor {
	def := DefaultConfig()
	if cfg.Binary == "" {
		cfg.Binary = def.Binary
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = def.StartTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = def.StopGrace
	}
	if cfg.AgentAPI == "" {
		cfg.AgentAPI = def.AgentAPI
	}
	if cfg.AgentConfigPaths == nil {
		cfg.AgentConfigPaths = def.AgentConfigPaths
	}
	if cfg.AuthtokenEnv == "" {
		cfg.AuthtokenEnv = def.AuthtokenEnv
	}

	s := &Supervisor{
		config:    cfg,
		spawner:   ExecSpawner{},
		logger:    log.NewWithOptions(os.Stderr, log.Options{Prefix: "tunnel"}),
		resolve:   command.Resolve,
		environ:   os.Environ,
		now:       time.Now,
		terminate: terminateProcess,
		forceKill: runForceKill,
		alive:     isProcessAlive,
		owned:     make(map[int]*ownedTunnel),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.agent == nil {
		s.agent = NewAgentClient(cfg.AgentAPI)
	}
	return s
}

// Agent returns the control API client.
func (s *Supervisor) Agent() *AgentClient { return s.agent }

// Discover asks a running agent for a tunnel on port. It returns nil
// without error when no agent is running or none matches.
func (s *Supervisor) Discover(ctx context.Context, port int) (*Tunnel, error) {
	if !s.agent.Running(ctx) {
		return nil, nil
	}
	at, err := s.agent.Find(ctx, port)
	if err != nil {
		return nil, err
	}
	if at == nil {
		return nil, nil
	}
	id := at.Name
	if id == "" {
		id = at.PublicURL
	}
	return &Tunnel{ID: id, PublicURL: at.PublicURL, Port: port}, nil
}

type ensureResult struct {
	tunnel  *Tunnel
	started bool
}

// Ensure returns an active tunnel for port, reusing a tunnel this
// supervisor owns or one served by a running agent, and spawning a new
// agent otherwise. started reports whether a new agent was spawned.
// Concurrent calls for the same port share one outcome. The shared work
// is detached from any single caller and bounded by twice StartTimeout;
// a caller whose ctx ends stops waiting without killing the agent the
// others are waiting on.
func (s *Supervisor) Ensure(ctx context.Context, port int, authtoken string) (*Tunnel, bool, error) {
	ch := s.ensure.DoChan(strconv.Itoa(port), func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*s.config.StartTimeout)
		defer cancel()

		if t := s.ownedTunnel(port); t != nil {
			return ensureResult{tunnel: t}, nil
		}

		t, err := s.Discover(shared, port)
		if err != nil {
			s.logger.Warn("agent discovery failed", "port", port, "error", err)
		}
		if t != nil {
			s.logger.Info("reusing existing tunnel", "port", port, "url", t.PublicURL)
			return ensureResult{tunnel: t}, nil
		}

		t, err = s.Start(shared, port, authtoken)
		if err != nil {
			return nil, err
		}
		return ensureResult{tunnel: t, started: true}, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		r := res.Val.(ensureResult)
		return r.tunnel, r.started, nil
	}
}

// Start always spawns a new agent for port and waits for its URL.
func (s *Supervisor) Start(ctx context.Context, port int, authtoken string) (*Tunnel, error) {
	binary, ok := s.resolve(s.config.Binary, s.config.ExtraDirs...)
	if !ok {
		return nil, &StartError{State: StateNotStarted, Err: fmt.Errorf("%w: install ngrok or set tunnel.binary", ErrAgentNotFound)}
	}

	s.ensureAuthtoken(ctx, binary, authtoken)

	proc, err := s.spawner.Spawn(SpawnSpec{
		Binary: binary,
		Args:   []string{"http", strconv.Itoa(port), "--log=stdout"},
		Env:    s.childEnv(authtoken),
	})
	if err != nil {
		return nil, &StartError{State: StateNotStarted, Err: err}
	}
	s.logger.Info("spawned agent", "pid", proc.Pid(), "port", port)

	a := newAttempt(proc)
	url, err := a.wait(ctx, s.config.StartTimeout, s.config.PollInterval)
	if err != nil {
		s.logger.Error("tunnel start failed", "port", port, "state", a.State(), "error", err)
		return nil, err
	}

	t := Tunnel{
		ID:        fmt.Sprintf("mobile-%d", s.now().UnixMilli()),
		PublicURL: url,
		Port:      port,
		PID:       proc.Pid(),
		Owned:     true,
	}

	s.mu.Lock()
	prev := s.owned[port]
	s.owned[port] = &ownedTunnel{tunnel: t, proc: proc}
	s.mu.Unlock()

	if prev != nil && prev.alive() && prev.tunnel.PID != t.PID {
		s.logger.Warn("replacing owned tunnel", "port", port, "old_pid", prev.tunnel.PID)
	}
	s.logger.Info("tunnel established", "port", port, "url", url)
	return &t, nil
}

// Stop terminates the agent with pid: a termination signal, a short grace
// period, then a forced kill. A process that is already gone is not an
// error.
func (s *Supervisor) Stop(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}

	if err := s.terminate(pid); err != nil {
		s.logger.Debug("terminate failed", "pid", pid, "error", err)
	}

	deadline := time.Now().Add(s.config.StopGrace)
	for s.alive(pid) && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if s.alive(pid) {
		if err := s.forceKill(pid); err != nil {
			s.logger.Debug("force kill failed", "pid", pid, "error", err)
		}
	}

	s.mu.Lock()
	for port, o := range s.owned {
		if o.tunnel.PID == pid {
			delete(s.owned, port)
		}
	}
	s.mu.Unlock()

	s.logger.Info("stopped agent", "pid", pid)
	return nil
}

// StopPort stops the tunnel for port. An owned agent is terminated; a
// tunnel served by an external agent is closed through the control API
// and the agent is left running. It reports whether anything was stopped.
func (s *Supervisor) StopPort(ctx context.Context, port int) (bool, error) {
	s.mu.Lock()
	o := s.owned[port]
	s.mu.Unlock()

	if o != nil {
		return true, s.Stop(o.tunnel.PID)
	}

	if !s.agent.Running(ctx) {
		return false, nil
	}
	at, err := s.agent.Find(ctx, port)
	if err != nil {
		return false, err
	}
	if at == nil || at.Name == "" {
		return false, nil
	}
	if err := s.agent.CloseTunnel(ctx, at.Name); err != nil {
		return false, err
	}
	s.logger.Info("closed agent tunnel", "name", at.Name, "port", port)
	return true, nil
}

// Status reports the agent and tunnel state for port.
func (s *Supervisor) Status(ctx context.Context, port int) Status {
	if t := s.ownedTunnel(port); t != nil {
		return Status{AgentRunning: true, Running: true, Tunnel: t}
	}
	st := Status{AgentRunning: s.agent.Running(ctx)}
	if !st.AgentRunning {
		return st
	}
	t, err := s.Discover(ctx, port)
	if err != nil {
		s.logger.Debug("status discovery failed", "port", port, "error", err)
	}
	if t != nil {
		st.Running = true
		st.Tunnel = t
	}
	return st
}

// ownedTunnel returns a live tunnel this supervisor spawned for port.
func (s *Supervisor) ownedTunnel(port int) *Tunnel {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.owned[port]
	if o == nil {
		return nil
	}
	if !o.alive() {
		delete(s.owned, port)
		return nil
	}
	t := o.tunnel
	return &t
}

// childEnv is the inherited environment with the augmented PATH and,
// when set, the authtoken.
func (s *Supervisor) childEnv(authtoken string) []string {
	env := command.SubprocessEnv(s.environ(), s.config.ExtraDirs...)
	if authtoken != "" {
		env = append(env, s.config.AuthtokenEnv+"="+authtoken)
	}
	return env
}

// runForceKill runs the platform kill command.
func runForceKill(pid int) error {
	name, args := forceKillCommand(pid)
	path, ok := command.Resolve(name)
	if !ok {
		return killProcessGroup(pid)
	}
	out, err := exec.Command(path, args...).CombinedOutput()
	if err != nil {
		if !isProcessAlive(pid) {
			return nil
		}
		return errors.New(string(out))
	}
	return nil
}

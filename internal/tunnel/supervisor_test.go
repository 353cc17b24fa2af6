package tunnel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStart_LastURLWins(t *testing.T) {
	sp := &fakeSpawner{script: func(p *fakeProcess) {
		p.stdout("t=1 lvl=info msg=\"started tunnel\" url=https://first-candidate.ngrok-free.app\n" +
			"t=2 lvl=info msg=\"started tunnel\" url=https://abc123.ngrok.app\n")
	}}
	s, _ := newTestSupervisor(t, sp, downAgentURL(t))

	tun, err := s.Start(context.Background(), 3456, "")
	require.NoError(t, err)
	assert.Equal(t, "https://abc123.ngrok.app", tun.PublicURL)
	assert.Equal(t, "mobile-1700000000000", tun.ID)
	assert.Equal(t, 3456, tun.Port)
	assert.True(t, tun.Owned)

	require.Len(t, sp.specs, 1)
	assert.Equal(t, "/opt/ngrok/ngrok", sp.specs[0].Binary)
	assert.Equal(t, []string{"http", "3456", "--log=stdout"}, sp.specs[0].Args)
}

func TestStart_TimeoutKillsAgent(t *testing.T) {
	sp := &fakeSpawner{script: func(p *fakeProcess) {
		p.stderr("WARN: update available\n")
		p.stderr("ERROR: reconnect failed, retrying\n")
	}}
	s, _ := newTestSupervisor(t, sp, downAgentURL(t))
	s.config.StartTimeout = 150 * time.Millisecond

	started := time.Now()
	_, err := s.Start(context.Background(), 3456, "")
	elapsed := time.Since(started)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)

	var se *StartError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StateTimedOut, se.State)
	assert.Contains(t, err.Error(), "Ngrok tunnel start timeout")
	assert.Contains(t, err.Error(), "No tunnel URL found")
	assert.Contains(t, err.Error(), "reconnect failed")
	assert.NotContains(t, err.Error(), "update available")

	assert.True(t, sp.last().killed.Load(), "agent must be killed on timeout")
}

func TestStart_AuthErrorBeforeURL(t *testing.T) {
	sp := &fakeSpawner{script: func(p *fakeProcess) {
		p.stdout("t=1 lvl=eror msg=\"session closing\" err=\"HTTP 401 Unauthorized\"\n")
	}}
	s, _ := newTestSupervisor(t, sp, downAgentURL(t))
	s.config.StartTimeout = 5 * time.Second

	started := time.Now()
	_, err := s.Start(context.Background(), 3456, "")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuth))
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.Less(t, time.Since(started), 5*time.Second)

	var se *StartError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StateAuthError, se.State)
	assert.True(t, sp.last().killed.Load())
}

func TestStart_AuthErrorAfterURL(t *testing.T) {
	sp := &fakeSpawner{script: func(p *fakeProcess) {
		p.stdout("url=https://abc123.ngrok.app authentication failed: 403 Forbidden\n")
	}}
	s, _ := newTestSupervisor(t, sp, downAgentURL(t))

	_, err := s.Start(context.Background(), 3456, "")
	assert.ErrorIs(t, err, ErrAuth)
}

func TestStart_PortInAddrIsNotAuthError(t *testing.T) {
	sp := &fakeSpawner{script: func(p *fakeProcess) {
		p.stdout("t=1 lvl=info msg=\"tunnel session started\" obj=tunnels.session\n")
		time.Sleep(40 * time.Millisecond)
		p.stdout("t=2 lvl=info msg=\"started tunnel\" obj=tunnels name=command_line addr=http://localhost:403 url=https://abc123.ngrok.app\n")
	}}
	s, _ := newTestSupervisor(t, sp, downAgentURL(t))

	tun, err := s.Start(context.Background(), 403, "")
	require.NoError(t, err)
	assert.Equal(t, "https://abc123.ngrok.app", tun.PublicURL)
	assert.False(t, sp.last().killed.Load())
}

func TestStart_CanceledIsNotTimeout(t *testing.T) {
	sp := &fakeSpawner{}
	s, _ := newTestSupervisor(t, sp, downAgentURL(t))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := s.Start(ctx, 3456, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.NotContains(t, strings.ToLower(err.Error()), "timeout")

	var se *StartError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StateCanceled, se.State)
	assert.True(t, sp.last().killed.Load())
}

func TestStart_ProcessExit(t *testing.T) {
	sp := &fakeSpawner{script: func(p *fakeProcess) {
		p.stderr("ERROR: failed to bind port\n")
		p.exit(1)
	}}
	s, _ := newTestSupervisor(t, sp, downAgentURL(t))

	_, err := s.Start(context.Background(), 3456, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExited)

	var se *StartError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StateProcessExited, se.State)
	assert.Equal(t, 1, se.ExitCode)
	assert.Equal(t, "Ngrok exited with code 1: ERROR: failed to bind port", err.Error())
}

func TestStart_AgentNotFound(t *testing.T) {
	sp := &fakeSpawner{}
	s, _ := newTestSupervisor(t, sp, downAgentURL(t),
		WithResolver(func(string, ...string) (string, bool) { return "", false }))

	_, err := s.Start(context.Background(), 3456, "")
	assert.ErrorIs(t, err, ErrAgentNotFound)
	assert.Zero(t, sp.count())
}

func TestStart_PassesAuthtokenInEnvironment(t *testing.T) {
	sp := &fakeSpawner{script: func(p *fakeProcess) { p.stdout("url=https://abc123.ngrok.app\n") }}
	s, _ := newTestSupervisor(t, sp, downAgentURL(t))
	s.environ = func() []string { return []string{"HOME=/home/u", "PATH=/usr/bin"} }
	s.config.AgentConfigPaths = []string{writeAgentConfig(t, "version: \"2\"\nauthtoken: existing\n")}

	_, err := s.Start(context.Background(), 3456, "tok_123")
	require.NoError(t, err)

	env := sp.specs[0].Env
	assert.Contains(t, env, "HOME=/home/u")
	assert.Contains(t, env, "NGROK_AUTHTOKEN=tok_123")
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			assert.Contains(t, kv, "/usr/bin")
		}
	}
}

func TestEnsure_IdempotentForOwnedTunnel(t *testing.T) {
	sp := &fakeSpawner{script: func(p *fakeProcess) { p.stdout("url=https://abc123.ngrok.app\n") }}
	s, _ := newTestSupervisor(t, sp, downAgentURL(t))

	first, started, err := s.Ensure(context.Background(), 3456, "")
	require.NoError(t, err)
	assert.True(t, started)

	second, started, err := s.Ensure(context.Background(), 3456, "")
	require.NoError(t, err)
	assert.False(t, started)

	assert.Equal(t, first.PublicURL, second.PublicURL)
	assert.Equal(t, 1, sp.count(), "second ensure must not spawn")
}

func TestEnsure_ConcurrentCallsSpawnOnce(t *testing.T) {
	sp := &fakeSpawner{script: func(p *fakeProcess) {
		time.Sleep(50 * time.Millisecond)
		p.stdout("url=https://abc123.ngrok.app\n")
	}}
	s, _ := newTestSupervisor(t, sp, downAgentURL(t))

	var wg sync.WaitGroup
	urls := make([]string, 5)
	for i := range urls {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tun, _, err := s.Ensure(context.Background(), 3456, "")
			if err == nil {
				urls[i] = tun.PublicURL
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, sp.count())
	for _, u := range urls {
		assert.Equal(t, "https://abc123.ngrok.app", u)
	}
}

func TestEnsure_LeaderCancelDoesNotAbortSharedStart(t *testing.T) {
	sp := &fakeSpawner{script: func(p *fakeProcess) {
		time.Sleep(150 * time.Millisecond)
		p.stdout("url=https://abc123.ngrok.app\n")
	}}
	s, _ := newTestSupervisor(t, sp, downAgentURL(t))

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := s.Ensure(leaderCtx, 3456, "")
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return sp.count() == 1 }, time.Second, 5*time.Millisecond)

	followerURL := make(chan string, 1)
	go func() {
		tun, _, err := s.Ensure(context.Background(), 3456, "")
		if err != nil {
			followerURL <- err.Error()
			return
		}
		followerURL <- tun.PublicURL
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	assert.Equal(t, "https://abc123.ngrok.app", <-followerURL)
	assert.Equal(t, 1, sp.count())
	assert.False(t, sp.last().killed.Load(), "agent survives the first caller leaving")
}

func TestEnsure_RespawnsAfterOwnedAgentExits(t *testing.T) {
	sp := &fakeSpawner{script: func(p *fakeProcess) { p.stdout("url=https://abc123.ngrok.app\n") }}
	s, _ := newTestSupervisor(t, sp, downAgentURL(t))

	_, _, err := s.Ensure(context.Background(), 3456, "")
	require.NoError(t, err)
	sp.last().exit(0)

	_, started, err := s.Ensure(context.Background(), 3456, "")
	require.NoError(t, err)
	assert.True(t, started)
	assert.Equal(t, 2, sp.count())
}

func agentServer(t *testing.T, tunnels []AgentTunnel, deleted *atomic.Value) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /api/tunnels", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(agentTunnelList{Tunnels: tunnels})
	})
	mux.HandleFunc("DELETE /api/tunnels/{name}", func(w http.ResponseWriter, r *http.Request) {
		if deleted != nil {
			deleted.Store(r.PathValue("name"))
		}
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestEnsure_ReusesRunningAgentTunnel(t *testing.T) {
	srv := agentServer(t, []AgentTunnel{
		{Name: "other", PublicURL: "https://other.ngrok.app", Proto: "https", Addr: "localhost:8080"},
		{Name: "command_line", PublicURL: "https://existing.ngrok.app", Proto: "https", Addr: "localhost:3456"},
	}, nil)
	sp := &fakeSpawner{}
	s, _ := newTestSupervisor(t, sp, srv.URL)

	tun, started, err := s.Ensure(context.Background(), 3456, "")
	require.NoError(t, err)
	assert.False(t, started)
	assert.Equal(t, "https://existing.ngrok.app", tun.PublicURL)
	assert.Equal(t, "command_line", tun.ID)
	assert.False(t, tun.Owned)
	assert.Zero(t, sp.count())
}

func TestStopPort_OwnedAgent(t *testing.T) {
	sp := &fakeSpawner{script: func(p *fakeProcess) { p.stdout("url=https://abc123.ngrok.app\n") }}
	s, sig := newTestSupervisor(t, sp, downAgentURL(t))

	tun, err := s.Start(context.Background(), 3456, "")
	require.NoError(t, err)

	stopped, err := s.StopPort(context.Background(), 3456)
	require.NoError(t, err)
	assert.True(t, stopped)
	assert.Equal(t, []int{tun.PID}, sig.terminated)
	assert.Empty(t, sig.killed, "no force kill once the agent is gone")

	assert.Nil(t, s.ownedTunnel(3456))
}

func TestStop_ForceKillsStubbornAgent(t *testing.T) {
	sp := &fakeSpawner{}
	s, sig := newTestSupervisor(t, sp, downAgentURL(t))
	sig.stayAlive = true

	require.NoError(t, s.Stop(4242))
	assert.Equal(t, []int{4242}, sig.terminated)
	assert.Equal(t, []int{4242}, sig.killed)

	assert.Error(t, s.Stop(0))
}

func TestStopPort_ExternalAgentClosesTunnel(t *testing.T) {
	var deleted atomic.Value
	srv := agentServer(t, []AgentTunnel{
		{Name: "command_line", PublicURL: "https://existing.ngrok.app", Addr: "http://localhost:3456"},
	}, &deleted)
	s, sig := newTestSupervisor(t, &fakeSpawner{}, srv.URL)

	stopped, err := s.StopPort(context.Background(), 3456)
	require.NoError(t, err)
	assert.True(t, stopped)
	assert.Equal(t, "command_line", deleted.Load())
	assert.Empty(t, sig.terminated)

	stopped, err = s.StopPort(context.Background(), 9999)
	require.NoError(t, err)
	assert.False(t, stopped)
}

func TestStatus(t *testing.T) {
	s, _ := newTestSupervisor(t, &fakeSpawner{}, downAgentURL(t))
	st := s.Status(context.Background(), 3456)
	assert.False(t, st.AgentRunning)
	assert.False(t, st.Running)

	srv := agentServer(t, []AgentTunnel{
		{Name: "command_line", PublicURL: "https://existing.ngrok.app", Addr: "localhost:3456"},
	}, nil)
	s, _ = newTestSupervisor(t, &fakeSpawner{}, srv.URL)
	st = s.Status(context.Background(), 3456)
	assert.True(t, st.AgentRunning)
	assert.True(t, st.Running)
	require.NotNil(t, st.Tunnel)
	assert.Equal(t, "https://existing.ngrok.app", st.Tunnel.PublicURL)
}

func writeAgentConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "ngrok.yml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestConfiguredAuthtoken(t *testing.T) {
	v3 := writeAgentConfig(t, "version: \"3\"\nagent:\n  authtoken: v3token\n")
	v2 := writeAgentConfig(t, "authtoken: v2token\nregion: us\n")
	empty := writeAgentConfig(t, "version: \"3\"\n")

	tok, ok := ConfiguredAuthtoken(v3)
	assert.True(t, ok)
	assert.Equal(t, "v3token", tok)

	tok, ok = ConfiguredAuthtoken("/does/not/exist", v2)
	assert.True(t, ok)
	assert.Equal(t, "v2token", tok)

	_, ok = ConfiguredAuthtoken(empty)
	assert.False(t, ok)
}

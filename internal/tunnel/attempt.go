package tunnel

import (
	"bufio"
	"context"
	"io"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// Matches ngrok URLs like https://abc123.ngrok.io, https://abcd-1234.ngrok-free.app
	// or regional hosts such as https://abc.eu.ngrok.io.
	ngrokURLPattern = regexp.MustCompile(`https://[a-z0-9-]+(?:\.[a-z0-9-]+)*\.ngrok(?:-free)?\.(?:io|app|dev)`)

	// Any of these before a URL is seen ends the attempt. A bare 401 or
	// 403 also appears in addr=http://localhost:403, so only status forms
	// and the agent's authtoken error codes count.
	authIndicators = regexp.MustCompile(`(?i)\bauthentication\b|` + authStatus + `|\binvalid\b`)
	// Once a URL is known only unambiguous rejections end the attempt.
	terminalAuthIndicators = regexp.MustCompile(`(?i)\bauthentication\b|` + authStatus)
	// stderr lines worth reporting; everything else is noise.
	errorIndicators = regexp.MustCompile(`(?i)error|failed|` + authStatus)
)

const authStatus = `\bHTTP(?:/\d(?:\.\d)?)? 40[13]\b|\b(?:status|code)[=: ]+"?40[13]\b|\b40[13] (?:unauthorized|forbidden)\b|\bERR_NGROK_(?:105|107|4018)\b`

// maxCaptured bounds how much agent output an attempt keeps.
const maxCaptured = 64 * 1024

// attempt follows one spawned agent from SPAWNED to a terminal state.
// Output readers keep draining the pipes after the attempt settles so the
// agent never blocks on a full pipe.
type attempt struct {
	proc      Process
	state     atomic.Uint32
	publicURL atomic.Pointer[string]
	settled   atomic.Bool

	mu     sync.Mutex
	stdout strings.Builder
	errors []string

	readers sync.WaitGroup
}

func newAttempt(proc Process) *attempt {
	a := &attempt{proc: proc}
	a.setState(StateSpawned)

	a.readers.Add(2)
	go a.read(proc.Stdout(), a.onStdout)
	go a.read(proc.Stderr(), a.onStderr)
	return a
}

func (a *attempt) State() State { return State(a.state.Load()) }

func (a *attempt) setState(s State) { a.state.Store(uint32(s)) }

// PublicURL returns the most recently seen URL.
func (a *attempt) PublicURL() string {
	if ptr := a.publicURL.Load(); ptr != nil {
		return *ptr
	}
	return ""
}

func (a *attempt) read(r io.Reader, onLine func(string)) {
	defer a.readers.Done()
	if r == nil {
		return
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)
	for scanner.Scan() {
		if !a.settled.Load() {
			onLine(scanner.Text())
		}
	}
	// Overlong line or read error: keep the pipe empty.
	_, _ = io.Copy(io.Discard, r)
}

func (a *attempt) onStdout(line string) {
	a.mu.Lock()
	if a.stdout.Len() < maxCaptured {
		a.stdout.WriteString(line)
		a.stdout.WriteByte('\n')
	}
	a.mu.Unlock()

	// Last match wins: the agent may print several candidates while starting.
	if matches := ngrokURLPattern.FindAllString(line, -1); len(matches) > 0 {
		url := matches[len(matches)-1]
		a.publicURL.Store(&url)
	}
}

func (a *attempt) onStderr(line string) {
	line = strings.TrimSpace(line)
	if line == "" || !errorIndicators.MatchString(line) {
		return
	}
	a.mu.Lock()
	if len(a.errors) < 64 {
		a.errors = append(a.errors, line)
	}
	a.mu.Unlock()
}

func (a *attempt) errorText() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return strings.Join(a.errors, "; ")
}

// classify inspects captured output and returns the state it implies.
func (a *attempt) classify() State {
	a.mu.Lock()
	text := a.stdout.String() + "\n" + strings.Join(a.errors, "\n")
	a.mu.Unlock()

	if a.PublicURL() == "" {
		if authIndicators.MatchString(text) {
			return StateAuthError
		}
		return StateSpawned
	}
	if terminalAuthIndicators.MatchString(text) {
		return StateAuthError
	}
	return StateURLDiscovered
}

// authOutput returns the lines that triggered an auth classification.
func (a *attempt) authOutput() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var lines []string
	for _, line := range strings.Split(a.stdout.String(), "\n") {
		if authIndicators.MatchString(line) {
			lines = append(lines, strings.TrimSpace(line))
		}
	}
	lines = append(lines, a.errors...)
	return strings.Join(lines, "; ")
}

// wait polls captured output every poll interval until a URL is found, the
// agent is rejected, the agent exits, timeout elapses or ctx is done. The
// agent is killed unless a URL was found or it already exited.
func (a *attempt) wait(ctx context.Context, timeout, poll time.Duration) (string, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = a.proc.Kill()
			return a.settle(StateCanceled, &StartError{State: StateCanceled, Output: a.errorText(), Err: ctx.Err()})

		case <-deadline.C:
			if st := a.classify(); st == StateURLDiscovered {
				return a.settle(st, nil)
			}
			_ = a.proc.Kill()
			return a.settle(StateTimedOut, &StartError{State: StateTimedOut, Output: a.errorText(), Err: ErrTimeout})

		case <-a.proc.Done():
			a.drain(poll)
			if a.classify() == StateAuthError {
				return a.settle(StateAuthError, &StartError{State: StateAuthError, Output: a.authOutput(), Err: ErrAuth})
			}
			return a.settle(StateProcessExited, &StartError{
				State:    StateProcessExited,
				ExitCode: a.proc.ExitCode(),
				Output:   a.errorText(),
				Err:      ErrExited,
			})

		case <-ticker.C:
			switch a.classify() {
			case StateURLDiscovered:
				return a.settle(StateURLDiscovered, nil)
			case StateAuthError:
				_ = a.proc.Kill()
				return a.settle(StateAuthError, &StartError{State: StateAuthError, Output: a.authOutput(), Err: ErrAuth})
			}
		}
	}
}

// drain gives the readers a bounded moment to consume output written
// just before exit.
func (a *attempt) drain(grace time.Duration) {
	done := make(chan struct{})
	go func() {
		a.readers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
	}
}

func (a *attempt) settle(s State, err error) (string, error) {
	a.setState(s)
	a.settled.Store(true)
	if err != nil {
		return "", err
	}
	return a.PublicURL(), nil
}

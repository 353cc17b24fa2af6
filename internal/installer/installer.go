// Package installer detects the tunneling agent and, when it is missing,
// downloads, extracts and installs it into a per-user bin directory.
package installer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/standardbeagle/athena-bridge/internal/command"
)

// Phase is a step of the install state machine.
type Phase int

const (
	PhaseChecking Phase = iota
	PhaseDownloading
	PhaseExtracting
	PhasePlacing
	PhaseVerifying
	PhaseInstalled
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseChecking:
		return "checking"
	case PhaseDownloading:
		return "downloading"
	case PhaseExtracting:
		return "extracting"
	case PhasePlacing:
		return "placing"
	case PhaseVerifying:
		return "verifying"
	case PhaseInstalled:
		return "installed"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

var (
	ErrNoDownloadURL  = errors.New("no download URL available for this platform")
	ErrDownloadFailed = errors.New("failed to download ngrok from all sources")
	ErrNoExtractor    = errors.New("failed to extract archive: no extraction method available")
	ErrBinaryNotFound = errors.New("ngrok binary not found in extracted archive")
	ErrPlaceFailed    = errors.New("failed to install ngrok binary")
)

// ProgressFunc receives advisory progress updates.
type ProgressFunc func(message string, percent int)

// Options control a single Install call.
type Options struct {
	Platform   string
	Arch       string
	Force      bool
	OnProgress ProgressFunc
}

// Status is the result of a presence check.
type Status struct {
	Installed bool   `json:"installed"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
	Outdated  bool   `json:"outdated,omitempty"`
}

// Result describes the outcome of Install.
type Result struct {
	Success       bool   `json:"success"`
	InstalledPath string `json:"installedPath,omitempty"`
	Version       string `json:"version,omitempty"`
	Error         string `json:"error,omitempty"`
	Phase         Phase  `json:"-"`
}

// Config holds installer settings.
type Config struct {
	BinaryName     string
	BinDir         string
	TempDir        string
	ExtraDirs      []string
	VersionTimeout time.Duration
}

// DefaultConfig installs into the user bin directory.
func DefaultConfig() Config {
	return Config{
		BinaryName:     "ngrok",
		BinDir:         command.UserBinDir(),
		VersionTimeout: 10 * time.Second,
	}
}

// Installer checks for and installs the agent binary.
type Installer struct {
	config     Config
	httpClient *http.Client
	resolve    func(name string, extraDirs ...string) (string, bool)
	sources    func(platform, arch string) []string
	extractors []Extractor
	logger     *log.Logger
}

// Option configures an Installer.
type Option func(*Installer)

func WithHTTPClient(c *http.Client) Option { return func(i *Installer) { i.httpClient = c } }

// WithResolver replaces the command lookup used by Check.
func WithResolver(fn func(name string, extraDirs ...string) (string, bool)) Option {
	return func(i *Installer) { i.resolve = fn }
}

// WithSources replaces the download URL table.
func WithSources(fn func(platform, arch string) []string) Option {
	return func(i *Installer) { i.sources = fn }
}

func WithExtractors(ex ...Extractor) Option { return func(i *Installer) { i.extractors = ex } }

func WithLogger(l *log.Logger) Option { return func(i *Installer) { i.logger = l } }

// New creates an Installer.
func New(cfg Config, opts ...Option) *Installer {
	def := DefaultConfig()
	if cfg.BinaryName == "" {
		cfg.BinaryName = def.BinaryName
	}
	if cfg.BinDir == "" {
		cfg.BinDir = def.BinDir
	}
	if cfg.VersionTimeout <= 0 {
		cfg.VersionTimeout = def.VersionTimeout
	}

	i := &Installer{
		config: cfg,
		// Downloads are bounded by the transport, not a bespoke deadline.
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		resolve:    command.Resolve,
		sources:    Sources,
		extractors: DefaultExtractors(),
		logger:     log.NewWithOptions(os.Stderr, log.Options{Prefix: "installer"}),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// BinDir returns the directory installs are placed in.
func (i *Installer) BinDir() string { return i.config.BinDir }

// Check resolves the agent and probes its version.
func (i *Installer) Check(ctx context.Context) Status {
	dirs := append([]string{i.config.BinDir}, i.config.ExtraDirs...)
	path, ok := i.resolve(i.config.BinaryName, dirs...)
	if !ok {
		return Status{}
	}
	version := i.probeVersion(ctx, path)
	return Status{
		Installed: true,
		Path:      path,
		Version:   version,
		Outdated:  IsOutdated(version),
	}
}

// Install ensures the agent is present. The returned Result is always
// non-nil; err carries the failure class for callers that branch on it.
func (i *Installer) Install(ctx context.Context, opts Options) (*Result, error) {
	report := opts.OnProgress
	if report == nil {
		report = func(string, int) {}
	}

	platform, arch := CurrentPlatform()
	if opts.Platform != "" {
		platform = NormalizePlatform(opts.Platform)
	}
	if opts.Arch != "" {
		arch = NormalizeArch(opts.Arch)
	}

	report("Checking for existing ngrok installation...", 0)
	if !opts.Force {
		if st := i.Check(ctx); st.Installed {
			report(fmt.Sprintf("ngrok already installed at %s", st.Path), 100)
			return &Result{Success: true, InstalledPath: st.Path, Version: st.Version, Phase: PhaseInstalled}, nil
		}
	}

	result, phase, err := i.install(ctx, platform, arch, report)
	if err != nil {
		i.logger.Error("install failed", "phase", phase, "error", err)
		report("Installation failed: "+err.Error(), 100)
		return &Result{Success: false, Error: err.Error(), Phase: PhaseFailed}, err
	}
	return result, nil
}

func (i *Installer) install(ctx context.Context, platform, arch string, report ProgressFunc) (*Result, Phase, error) {
	urls := i.sources(platform, arch)
	if len(urls) == 0 {
		return nil, PhaseDownloading, fmt.Errorf("%w: %s/%s", ErrNoDownloadURL, platform, arch)
	}

	report("Preparing download...", 5)
	workDir, err := os.MkdirTemp(i.config.TempDir, "ngrok-install-*")
	if err != nil {
		return nil, PhaseDownloading, fmt.Errorf("create temp dir: %w", err)
	}
	archive := filepath.Join(workDir, archiveName(urls[0]))
	extractDir := filepath.Join(workDir, "extract")
	defer i.cleanup(archive, extractDir, workDir)

	i.logger.Info("downloading agent", "platform", platform, "arch", arch)
	report("Downloading ngrok...", 10)
	if err := i.downloadAny(ctx, urls, archive, report); err != nil {
		return nil, PhaseDownloading, err
	}

	report("Extracting ngrok...", 90)
	if err := i.extract(ctx, archive, extractDir); err != nil {
		return nil, PhaseExtracting, err
	}

	binName := i.config.BinaryName
	if platform == PlatformWindows && !strings.HasSuffix(strings.ToLower(binName), ".exe") {
		binName += ".exe"
	}
	src, err := findBinary(extractDir, binName)
	if err != nil {
		return nil, PhasePlacing, err
	}

	report("Installing ngrok to user bin directory...", 95)
	installed, err := i.place(src, binName, platform)
	if err != nil {
		return nil, PhasePlacing, err
	}

	report("Verifying installation...", 98)
	version := i.probeVersion(ctx, installed)
	if version == "" {
		i.logger.Warn("installed agent did not report a version", "path", installed)
	}

	i.logger.Info("agent installed", "path", installed, "version", version)
	report("ngrok installation complete!", 100)
	return &Result{Success: true, InstalledPath: installed, Version: version, Phase: PhaseInstalled}, PhaseInstalled, nil
}

// cleanup removes temporary files. Errors are ignored.
func (i *Installer) cleanup(paths ...string) {
	for _, p := range paths {
		if err := os.RemoveAll(p); err != nil {
			i.logger.Debug("cleanup failed", "path", p, "error", err)
		}
	}
}

func archiveName(url string) string {
	name := path.Base(url)
	if name == "" || name == "/" || name == "." {
		return "ngrok.zip"
	}
	return name
}

// findBinary looks for the agent by exact name anywhere under dir, then
// for any file whose name starts with "ngrok".
func findBinary(dir, name string) (string, error) {
	exact := filepath.Join(dir, name)
	if fi, err := os.Stat(exact); err == nil && !fi.IsDir() {
		return exact, nil
	}

	var byName, byPrefix string
	_ = filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		base := d.Name()
		if strings.EqualFold(base, name) && byName == "" {
			byName = p
		} else if strings.HasPrefix(strings.ToLower(base), "ngrok") && byPrefix == "" {
			byPrefix = p
		}
		return nil
	})

	switch {
	case byName != "":
		return byName, nil
	case byPrefix != "":
		return byPrefix, nil
	}
	return "", fmt.Errorf("%w: expected %s", ErrBinaryNotFound, name)
}

// place copies src into the bin directory and marks both executable.
func (i *Installer) place(src, name, platform string) (string, error) {
	if platform != PlatformWindows {
		if err := os.Chmod(src, 0o755); err != nil {
			return "", fmt.Errorf("%w: %v", ErrPlaceFailed, err)
		}
	}
	if err := os.MkdirAll(i.config.BinDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create %s: %v", ErrPlaceFailed, i.config.BinDir, err)
	}

	dest := filepath.Join(i.config.BinDir, name)
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPlaceFailed, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPlaceFailed, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", fmt.Errorf("%w: %v", ErrPlaceFailed, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPlaceFailed, err)
	}

	if platform != PlatformWindows {
		if err := os.Chmod(dest, 0o755); err != nil {
			return "", fmt.Errorf("%w: %v", ErrPlaceFailed, err)
		}
	}
	return dest, nil
}

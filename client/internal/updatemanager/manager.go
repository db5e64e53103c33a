package updatemanager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/tickerdesk/tickerdesk/client/internal/updatemanager/downloader"
	"github.com/tickerdesk/tickerdesk/client/internal/updatemanager/feed"
	"github.com/tickerdesk/tickerdesk/version"
)

// State tracks where the update flow currently is. Terminal states are
// UpToDate, Exited, Cancelled, CheckFailed and DownloadFailed.
type State string

const (
	StateIdle            State = "idle"
	StateChecking        State = "checking"
	StateUpdateAvailable State = "update_available"
	StateDownloading     State = "downloading"
	StateVerifying       State = "verifying"
	StateAwaitingConsent State = "awaiting_consent"
	StateHandingOff      State = "handing_off"
	StateExited          State = "exited"
	StateUpToDate        State = "up_to_date"
	StateCheckFailed     State = "check_failed"
	StateDownloadFailed  State = "download_failed"
	StateCancelled       State = "cancelled"
)

// ErrCancelled reports that the user aborted the update flow.
var ErrCancelled = errors.New("update cancelled")

// Callbacks is the surface a UI implements to follow and steer an update run.
// All methods are called from the goroutine driving Run.
type Callbacks interface {
	OnStateChange(state State)
	OnProgress(percent int)
	// OnCancelRequested is polled during the download; returning true aborts.
	OnCancelRequested() bool
	// OnUnverifiedPackageWarning asks whether to proceed with a package whose
	// hash could not be verified. Returning false cancels the update.
	OnUnverifiedPackageWarning() bool
}

// ConsoleCallbacks is the non-interactive Callbacks used by the CLI.
type ConsoleCallbacks struct {
	// AcceptUnverified skips the confirmation for unverifiable packages.
	AcceptUnverified bool

	lastPercent int
}

func (c *ConsoleCallbacks) OnStateChange(state State) {
	log.Infof("update state: %s", state)
}

func (c *ConsoleCallbacks) OnProgress(percent int) {
	if percent/10 > c.lastPercent/10 {
		log.Infof("downloading update: %d%%", percent)
	}
	c.lastPercent = percent
}

func (c *ConsoleCallbacks) OnCancelRequested() bool {
	return false
}

func (c *ConsoleCallbacks) OnUnverifiedPackageWarning() bool {
	if !c.AcceptUnverified {
		log.Warn("update package could not be verified, refusing to install it (use --allow-unverified to override)")
	}
	return c.AcceptUnverified
}

// UpdateInfo is the result of a feed check.
type UpdateInfo struct {
	Available      bool
	CurrentVersion string
	LatestVersion  string
	Changelog      string

	release *feed.Release
}

// Manager drives the whole update flow on the client side: check the feed,
// download and verify the package, collect consent when needed and hand the
// file swap off to the agent process before exiting.
type Manager struct {
	feedClient     *feed.Client
	currentVersion string
	targetDir      string
	mainExe        string
	mirrorPrefix   string
	callbacks      Callbacks

	mu    sync.Mutex
	state State

	downloadFn func(ctx context.Context, release *feed.Release, opts downloader.Options) (*downloader.Package, error)
	spawnAgent func(desc HandoffDescriptor) error
	exitFn     func()
}

// NewManager creates a Manager for the installation at targetDir whose main
// executable is mainExe.
func NewManager(feedClient *feed.Client, targetDir, mainExe string, callbacks Callbacks) *Manager {
	m := &Manager{
		feedClient:     feedClient,
		currentVersion: version.TickerdeskVersion(),
		targetDir:      targetDir,
		mainExe:        mainExe,
		callbacks:      callbacks,
		state:          StateIdle,
		downloadFn:     downloader.Download,
		exitFn:         func() { os.Exit(0) },
	}
	m.spawnAgent = m.launchAgent
	return m
}

// WithCurrentVersion overrides the running build's version, mainly for tests.
func (m *Manager) WithCurrentVersion(v string) *Manager {
	m.currentVersion = v
	return m
}

// WithMirrorPrefix routes package downloads through a mirror on retry.
func (m *Manager) WithMirrorPrefix(prefix string) *Manager {
	m.mirrorPrefix = prefix
	return m
}

// State returns the current flow state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.callbacks.OnStateChange(s)
}

// Check queries the release feed and compares against the running version.
func (m *Manager) Check(ctx context.Context) (*UpdateInfo, error) {
	m.setState(StateChecking)

	release, err := m.feedClient.FetchLatest(ctx)
	if err != nil {
		m.setState(StateCheckFailed)
		return nil, fmt.Errorf("failed to check for updates: %w", err)
	}

	latest, err := version.ParseTag(release.TagName)
	if err != nil {
		m.setState(StateCheckFailed)
		return nil, fmt.Errorf("release feed returned an invalid version: %w", err)
	}

	cmp, err := version.Compare(m.currentVersion, latest.String())
	if err != nil {
		m.setState(StateCheckFailed)
		return nil, fmt.Errorf("cannot compare the running version %q: %w", m.currentVersion, err)
	}

	info := &UpdateInfo{
		CurrentVersion: m.currentVersion,
		LatestVersion:  latest.String(),
		Changelog:      release.Body,
		release:        release,
	}
	if cmp >= 0 {
		m.setState(StateUpToDate)
		log.Infof("running version %s is up to date (latest %s)", m.currentVersion, latest)
		return info, nil
	}

	info.Available = true
	m.setState(StateUpdateAvailable)
	log.Infof("update available: %s -> %s", m.currentVersion, latest)
	return info, nil
}

// Run executes the full flow: check, download, verify, consent, hand-off.
// When a hand-off happens this call does not return, the process exits so the
// agent can replace its files.
func (m *Manager) Run(ctx context.Context) error {
	info, err := m.Check(ctx)
	if err != nil {
		return err
	}
	if !info.Available {
		return nil
	}
	return m.Apply(ctx, info)
}

// Apply downloads the release from a prior Check and hands it off.
func (m *Manager) Apply(ctx context.Context, info *UpdateInfo) error {
	if info == nil || info.release == nil {
		return errors.New("no release to apply, run a check first")
	}

	m.setState(StateDownloading)
	pkg, err := m.downloadFn(ctx, info.release, downloader.Options{
		OnProgress:    m.callbacks.OnProgress,
		IsCancelled:   m.callbacks.OnCancelRequested,
		MirrorPrefix:  m.mirrorPrefix,
		ClientVersion: m.currentVersion,
	})
	if err != nil {
		if errors.Is(err, downloader.ErrCancelled) {
			m.setState(StateCancelled)
			return ErrCancelled
		}
		m.setState(StateDownloadFailed)
		return fmt.Errorf("failed to download update %s: %w", info.LatestVersion, err)
	}

	m.setState(StateVerifying)
	if pkg.Verified {
		log.Infof("package %s verified against digest %s", pkg.Path, pkg.ExpectedHash)
	} else {
		m.setState(StateAwaitingConsent)
		if !m.callbacks.OnUnverifiedPackageWarning() {
			if err := os.Remove(pkg.Path); err != nil {
				log.Warnf("failed to remove unverified package %s: %v", pkg.Path, err)
			}
			m.setState(StateCancelled)
			return ErrCancelled
		}
		log.Warnf("installing unverified package %s on explicit confirmation", pkg.Path)
	}

	m.setState(StateHandingOff)
	desc := HandoffDescriptor{
		PackagePath: pkg.Path,
		TargetDir:   m.targetDir,
		MainExe:     m.mainExe,
		WatchedPID:  int32(os.Getpid()),
	}
	if err := m.spawnAgent(desc); err != nil {
		m.setState(StateDownloadFailed)
		return fmt.Errorf("failed to start the updater: %w", err)
	}

	log.Infof("updater started for %s, exiting to release file locks", info.LatestVersion)
	m.setState(StateExited)
	m.exitFn()
	return nil
}

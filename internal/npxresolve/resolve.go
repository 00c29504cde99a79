// Package npxresolve turns `npx <pkg>` / `npm exec <pkg>` invocations into
// a direct executable path, so the stdio transport spawns the resolved
// binary instead of paying npx's package-manager startup cost on every
// connect (spec.md §4.3). It keeps its own disk cache, separate from the
// metadata cache, because the two have unrelated keys and TTLs.
package npxresolve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/pi-agent/mcp-core/internal/logging"
)

var resolveLog = logging.ForComponent(logging.CompNPX)

// CacheTTL is the 24-hour validity window of spec.md §4.3.
const CacheTTL = 24 * time.Hour

// ForcePopulateTimeout bounds the only step that may touch the network.
const ForcePopulateTimeout = 30 * time.Second

// Resolved is the rewritten spawn target for the stdio transport.
type Resolved struct {
	Command      string
	Args         []string
	IsJavaScript bool
}

type cacheEntry struct {
	BinPath        string `json:"binPath"`
	IsJS           bool   `json:"isJs"`
	CachedAtMillis int64  `json:"cachedAt"`
}

type cacheFile struct {
	Entries map[string]cacheEntry `json:"entries"`
}

// Clock abstracts time.Now so tests can inject a fixed instant.
type Clock func() time.Time

// Resolver resolves npx/npm-exec invocations against the local
// package-manager cache, with its own TTL'd disk cache at
// <agentDir>/mcp-npx-cache.json.
type Resolver struct {
	agentDir string
	now      Clock

	mu    sync.Mutex
	cache *cacheFile

	forcePopulateGate rate.Sometimes
}

// New builds a Resolver rooted at agentDir. now defaults to time.Now.
func New(agentDir string, now Clock) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{
		agentDir:          agentDir,
		now:               now,
		forcePopulateGate: rate.Sometimes{Interval: ForcePopulateTimeout},
	}
}

func (r *Resolver) path() string {
	return filepath.Join(r.agentDir, "mcp-npx-cache.json")
}

func (r *Resolver) loadLocked() *cacheFile {
	if r.cache != nil {
		return r.cache
	}
	r.cache = &cacheFile{Entries: map[string]cacheEntry{}}
	data, err := os.ReadFile(r.path())
	if err != nil {
		return r.cache
	}
	var f cacheFile
	if err := json.Unmarshal(data, &f); err != nil {
		resolveLog.Warn("npx_cache_undecodable", slog.String("error", err.Error()))
		return r.cache
	}
	if f.Entries == nil {
		f.Entries = map[string]cacheEntry{}
	}
	r.cache = &f
	return r.cache
}

func (r *Resolver) saveLocked() error {
	data, err := json.MarshalIndent(r.cache, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal npx cache: %w", err)
	}
	if err := os.MkdirAll(r.agentDir, 0o755); err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.%d.%s.tmp", r.path(), os.Getpid(), uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, r.path()); err != nil {
		os.Remove(tmp)
		resolveLog.Warn("npx_cache_atomic_write_failed_fallback", slog.String("error", err.Error()))
		return os.WriteFile(r.path(), data, 0o644)
	}
	return nil
}

// parsed is the result of spec.md §4.3's npx/npm-exec argument parsing.
type parsed struct {
	packageSpec string
	binName     string // only set for npm exec's passthrough bin name
	extraArgs   []string
}

// parseArgs implements the flag-consuming rules of spec.md §4.3 for both
// `npx <args>` and `npm exec <args>` forms. isNpmExec selects the npm
// dialect (requires leading "exec", passthrough token is a bin name
// rather than part of extraArgs).
func parseArgs(args []string, isNpmExec bool) (*parsed, error) {
	if isNpmExec {
		if len(args) == 0 || args[0] != "exec" {
			return nil, fmt.Errorf("npm exec: missing leading \"exec\"")
		}
		args = args[1:]
	}

	var packageSpec string
	var havePackage bool
	var passthrough []string
	inPassthrough := false

	for i := 0; i < len(args); i++ {
		a := args[i]
		if inPassthrough {
			passthrough = append(passthrough, a)
			continue
		}
		switch {
		case a == "--":
			inPassthrough = true
		case a == "-y" || a == "--yes":
			// consumed, no value
		case a == "-p" || a == "--package":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("%s: missing value", a)
			}
			i++
			packageSpec = args[i]
			havePackage = true
		case strings.HasPrefix(a, "--package="):
			packageSpec = strings.TrimPrefix(a, "--package=")
			havePackage = true
		case strings.HasPrefix(a, "-"):
			// Unrecognized flag: after npx's package spec it belongs to the
			// spawned binary's extraArgs; otherwise it is ignored, since only
			// the named flags carry meaning here.
			if havePackage && !isNpmExec {
				passthrough = append(passthrough, a)
			}
		default:
			if !havePackage && packageSpec == "" {
				packageSpec = a
				havePackage = true
			} else {
				passthrough = append(passthrough, a)
			}
		}
	}

	p := &parsed{packageSpec: packageSpec}
	if isNpmExec {
		if len(passthrough) > 0 {
			p.binName = passthrough[0]
			p.extraArgs = passthrough[1:]
		}
	} else {
		p.extraArgs = passthrough
	}
	return p, nil
}

// npmCacheRoot returns the package-manager cache directory, honoring
// NPM_CONFIG_CACHE before falling back to ~/.npm (spec.md §4.3/§6.3).
func npmCacheRoot() string {
	if v := os.Getenv("NPM_CONFIG_CACHE"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".npm")
}

// stripVersion implements spec.md §4.3 step 1: scoped packages
// (starting with "@") take their version from the last "@" after the
// "/"; unscoped packages use the last "@" anywhere.
func stripVersion(spec string) string {
	if strings.HasPrefix(spec, "@") {
		slash := strings.Index(spec, "/")
		if slash < 0 {
			return spec
		}
		if at := strings.LastIndex(spec[slash:], "@"); at > 0 {
			return spec[:slash+at]
		}
		return spec
	}
	if at := strings.LastIndex(spec, "@"); at > 0 {
		return spec[:at]
	}
	return spec
}

func shortName(packageName string) string {
	if i := strings.Index(packageName, "/"); i >= 0 && strings.HasPrefix(packageName, "@") {
		return packageName[i+1:]
	}
	return packageName
}

type packageJSON struct {
	Name string          `json:"name"`
	Bin  json.RawMessage `json:"bin"`
}

// binCandidate resolves package.json's bin field per spec.md §4.3 step 2:
// prefer bin[binName], else bin[shortName], else the sole entry if bin
// has exactly one, else any entry; a string bin is the single candidate.
func binCandidate(pkg packageJSON, binName, short string) (string, bool) {
	if len(pkg.Bin) == 0 {
		return "", false
	}
	var asString string
	if err := json.Unmarshal(pkg.Bin, &asString); err == nil {
		return asString, true
	}
	var asMap map[string]string
	if err := json.Unmarshal(pkg.Bin, &asMap); err != nil {
		return "", false
	}
	if binName != "" {
		if v, ok := asMap[binName]; ok {
			return v, true
		}
	}
	if v, ok := asMap[short]; ok {
		return v, true
	}
	if len(asMap) == 1 {
		for _, v := range asMap {
			return v, true
		}
	}
	for _, v := range asMap {
		return v, true
	}
	return "", false
}

// isJavaScriptFile implements spec.md §4.3's JavaScript-file detection:
// extension match, or a shebang in the first 256 bytes mentioning node.
func isJavaScriptFile(path string) bool {
	switch filepath.Ext(path) {
	case ".js", ".mjs", ".cjs":
		return true
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	buf := make([]byte, 256)
	n, _ := f.Read(buf)
	buf = buf[:n]
	return bytes.HasPrefix(buf, []byte("#!")) && bytes.Contains(buf, []byte("node"))
}

// probeLocal implements spec.md §4.3 steps 2-3: enumerate
// <cache>/_npx/*/node_modules/<packageName> and fall back to the
// .bin symlink directory of the same package's peer node_modules.
func probeLocal(packageName string) (binPath string, ok bool) {
	root := npmCacheRoot()
	if root == "" {
		return "", false
	}
	short := shortName(packageName)
	npxDirs, err := filepath.Glob(filepath.Join(root, "_npx", "*", "node_modules", packageName))
	if err != nil {
		return "", false
	}
	for _, dir := range npxDirs {
		pkgPath := filepath.Join(dir, "package.json")
		data, err := os.ReadFile(pkgPath)
		if err != nil {
			continue
		}
		var pkg packageJSON
		if err := json.Unmarshal(data, &pkg); err != nil {
			continue
		}
		if cand, ok := binCandidate(pkg, filepath.Base(packageName), short); ok {
			full := cand
			if !filepath.IsAbs(full) {
				full = filepath.Join(dir, cand)
			}
			if _, err := os.Stat(full); err == nil {
				return full, true
			}
		}
		// .bin symlink directory of the peer node_modules.
		binDir := filepath.Join(filepath.Dir(dir), ".bin", filepath.Base(packageName))
		if _, err := os.Stat(binDir); err == nil {
			return binDir, true
		}
	}
	return "", false
}

// Resolve turns {command, args} into a direct spawn target when command
// is npx or npm, per spec.md §4.3. It returns (nil, nil) when command
// isn't npx/npm — callers should spawn unchanged in that case.
func (r *Resolver) Resolve(ctx context.Context, command string, args []string) (*Resolved, error) {
	isNpmExec := command == "npm"
	if command != "npx" && command != "npm" {
		return nil, nil
	}

	p, err := parseArgs(args, isNpmExec)
	if err != nil {
		return nil, err
	}
	if p.packageSpec == "" {
		return nil, fmt.Errorf("npxresolve: no package spec found in args %v", args)
	}

	if cached := r.fromCache(p.packageSpec); cached != nil {
		return toResolved(*cached, p.extraArgs), nil
	}

	packageName := stripVersion(p.packageSpec)
	if binPath, ok := probeLocal(packageName); ok {
		entry := cacheEntry{BinPath: binPath, IsJS: isJavaScriptFile(binPath), CachedAtMillis: r.now().UnixMilli()}
		r.store(p.packageSpec, entry)
		return toResolved(entry, p.extraArgs), nil
	}

	var populateErr error
	attempted := false
	r.forcePopulateGate.Do(func() {
		attempted = true
		populateErr = r.forcePopulate(ctx, p.packageSpec)
	})
	if !attempted {
		resolveLog.Debug("npx_force_populate_cooldown", slog.String("package", p.packageSpec))
		return nil, nil
	}
	if populateErr != nil {
		resolveLog.Warn("npx_force_populate_failed", slog.String("package", p.packageSpec), slog.String("error", populateErr.Error()))
		return nil, nil
	}
	if binPath, ok := probeLocal(packageName); ok {
		entry := cacheEntry{BinPath: binPath, IsJS: isJavaScriptFile(binPath), CachedAtMillis: r.now().UnixMilli()}
		r.store(p.packageSpec, entry)
		return toResolved(entry, p.extraArgs), nil
	}
	return nil, nil
}

func toResolved(e cacheEntry, extraArgs []string) *Resolved {
	if e.IsJS {
		args := append([]string{e.BinPath}, extraArgs...)
		return &Resolved{Command: "node", Args: args, IsJavaScript: true}
	}
	return &Resolved{Command: e.BinPath, Args: extraArgs, IsJavaScript: false}
}

// fromCache returns a cached entry for packageSpec if present, unexpired,
// and still present on disk; stale or vanished entries are purged.
func (r *Resolver) fromCache(packageSpec string) *cacheEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	f := r.loadLocked()
	entry, ok := f.Entries[packageSpec]
	if !ok {
		return nil
	}
	age := r.now().Sub(time.UnixMilli(entry.CachedAtMillis))
	if age < 0 || age >= CacheTTL {
		delete(f.Entries, packageSpec)
		_ = r.saveLocked()
		return nil
	}
	if _, err := os.Stat(entry.BinPath); err != nil {
		delete(f.Entries, packageSpec)
		_ = r.saveLocked()
		return nil
	}
	return &entry
}

func (r *Resolver) store(packageSpec string, entry cacheEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f := r.loadLocked()
	f.Entries[packageSpec] = entry
	if err := r.saveLocked(); err != nil {
		resolveLog.Warn("npx_cache_save_failed", slog.String("error", err.Error()))
	}
}

// forcePopulate runs spec.md §4.3's network-touching fallback: a
// deadline-bounded `npm exec --yes --package <spec> -- node -e 1`, whose
// sole purpose is to make npm populate its _npx cache so the next probe
// succeeds.
func (r *Resolver) forcePopulate(ctx context.Context, packageSpec string) error {
	ctx, cancel := context.WithTimeout(ctx, ForcePopulateTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "npm", "exec", "--yes", "--package", packageSpec, "--", "node", "-e", "1")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = 2 * time.Second

	resolveLog.Info("npx_force_populate_start", slog.String("package", packageSpec))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("force-populate %s: %w", packageSpec, err)
	}
	resolveLog.Info("npx_force_populate_done", slog.String("package", packageSpec))
	return nil
}

// internal/device/resolver.go
package device

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/droidpilot/droidpilot/internal/config"
)

// commonAliases maps well-known app names onto their packages so the usual
// requests resolve without a device round trip.
var commonAliases = map[string]string{
	"chrome":     "com.android.chrome",
	"settings":   "com.android.settings",
	"camera":     "com.android.camera2",
	"gmail":      "com.google.android.gm",
	"maps":       "com.google.android.apps.maps",
	"youtube":    "com.google.android.youtube",
	"play store": "com.android.vending",
	"photos":     "com.google.android.apps.photos",
	"messages":   "com.google.android.apps.messaging",
	"phone":      "com.google.android.dialer",
	"calendar":   "com.google.android.calendar",
	"clock":      "com.google.android.deskclock",
	"files":      "com.google.android.documentsui",
}

// PackageResolver maps human-facing app names onto installed launchable
// packages. The installed set is fetched lazily, once, by intersecting the
// full package list with the set of launcher activities.
type PackageResolver struct {
	logger *zap.Logger
	cfg    config.DeviceConfig
	runner Runner

	mu       sync.Mutex
	packages []string
	loaded   bool
}

// NewPackageResolver creates a resolver for the configured device.
func NewPackageResolver(cfg config.DeviceConfig, runner Runner, logger *zap.Logger) *PackageResolver {
	if cfg.AdbPath == "" {
		cfg.AdbPath = "adb"
	}
	return &PackageResolver{
		logger: logger.Named("resolver"),
		cfg:    cfg,
		runner: runner,
	}
}

func (r *PackageResolver) args(extra ...string) []string {
	if r.cfg.Serial == "" {
		return extra
	}
	return append([]string{"-s", r.cfg.Serial}, extra...)
}

// Resolve maps a display name to a launchable package. Alias hits are
// validated against the installed set when it is available.
func (r *PackageResolver) Resolve(ctx context.Context, displayName string) (string, bool) {
	name := normalizeAppName(displayName)
	if name == "" {
		return "", false
	}

	packages := r.installedPackages(ctx)

	if target, ok := commonAliases[name]; ok {
		if len(packages) == 0 || contains(packages, target) {
			return target, true
		}
	}

	// An exact package name passes through untouched.
	if strings.Contains(name, ".") && contains(packages, name) {
		return name, true
	}

	best := ""
	bestScore := 0
	for _, pkg := range packages {
		score := matchScore(name, pkg)
		if score > bestScore {
			best, bestScore = pkg, score
		}
	}
	if bestScore == 0 {
		return "", false
	}
	return best, true
}

// SuggestSimilar returns up to limit installed packages ranked by how
// closely they resemble the requested name. Used for failure diagnostics.
func (r *PackageResolver) SuggestSimilar(ctx context.Context, displayName string, limit int) []string {
	name := normalizeAppName(displayName)
	if name == "" || limit <= 0 {
		return nil
	}

	type scored struct {
		pkg   string
		score int
	}
	var candidates []scored
	for _, pkg := range r.installedPackages(ctx) {
		if score := similarityScore(name, pkg); score > 0 {
			candidates = append(candidates, scored{pkg, score})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].pkg < candidates[j].pkg
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.pkg
	}
	return out
}

// installedPackages returns the cached launchable package list, loading it
// on first use. The full package list and the launcher activity list are
// fetched concurrently and intersected; a partial failure degrades to
// whichever list succeeded.
func (r *PackageResolver) installedPackages(ctx context.Context) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return r.packages
	}

	var allPkgs, launchable []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := r.runner.Run(gctx, r.cfg.AdbPath, r.args("shell", "pm", "list", "packages")...)
		if err != nil {
			return fmt.Errorf("listing packages: %w", err)
		}
		allPkgs = parsePackageList(string(out))
		return nil
	})
	g.Go(func() error {
		out, err := r.runner.Run(gctx, r.cfg.AdbPath, r.args("shell", "cmd", "package", "query-activities",
			"-a", "android.intent.action.MAIN", "-c", "android.intent.category.LAUNCHER")...)
		if err != nil {
			return fmt.Errorf("listing launcher activities: %w", err)
		}
		launchable = parseActivityPackages(string(out))
		return nil
	})
	if err := g.Wait(); err != nil {
		r.logger.Warn("Package inventory incomplete", zap.Error(err))
	}

	switch {
	case len(allPkgs) > 0 && len(launchable) > 0:
		r.packages = intersect(allPkgs, launchable)
	case len(launchable) > 0:
		r.packages = launchable
	default:
		r.packages = allPkgs
	}
	r.loaded = true
	r.logger.Info("Package inventory loaded", zap.Int("packages", len(r.packages)))
	return r.packages
}

// parsePackageList extracts package names from `pm list packages` output,
// one "package:<name>" per line.
func parsePackageList(out string) []string {
	var pkgs []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "package:"); ok && rest != "" {
			pkgs = append(pkgs, rest)
		}
	}
	return pkgs
}

// parseActivityPackages extracts the package component from activity lines
// of the form "<package>/<activity>".
func parseActivityPackages(out string) []string {
	seen := map[string]struct{}{}
	var pkgs []string
	for _, field := range strings.Fields(out) {
		slash := strings.IndexByte(field, '/')
		if slash <= 0 {
			continue
		}
		pkg := field[:slash]
		if !isPackageName(pkg) {
			continue
		}
		if _, dup := seen[pkg]; dup {
			continue
		}
		seen[pkg] = struct{}{}
		pkgs = append(pkgs, pkg)
	}
	return pkgs
}

func isPackageName(s string) bool {
	if !strings.Contains(s, ".") {
		return false
	}
	for _, r := range s {
		if r != '.' && r != '_' && !(r >= 'a' && r <= 'z') && !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, s := range b {
		set[s] = struct{}{}
	}
	var out []string
	for _, s := range a {
		if _, ok := set[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func normalizeAppName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// matchScore rates how well a requested name matches a package. Only the
// confident signals count; weak resemblance belongs to SuggestSimilar.
func matchScore(name, pkg string) int {
	lower := strings.ToLower(pkg)
	leaf := lower[strings.LastIndexByte(lower, '.')+1:]
	compact := strings.ReplaceAll(name, " ", "")

	switch {
	case leaf == compact:
		return 100
	case strings.Contains(lower, "."+compact+".") || strings.HasSuffix(lower, "."+compact):
		return 80
	case strings.Contains(leaf, compact):
		return 50
	default:
		return 0
	}
}

// similarityScore is a looser variant of matchScore for suggestions.
func similarityScore(name, pkg string) int {
	if s := matchScore(name, pkg); s > 0 {
		return s
	}
	lower := strings.ToLower(pkg)
	score := 0
	for _, token := range strings.Fields(name) {
		if len(token) >= 3 && strings.Contains(lower, token) {
			score += 10
		}
	}
	return score
}

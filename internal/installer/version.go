package installer

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// MinimumVersion is the oldest agent release still accepted by the
// hosted relay. Older v2 agents start but are refused at connect time.
const MinimumVersion = "3.0.0"

var versionPattern = regexp.MustCompile(`\d+\.\d+\.\d+`)

// ParseVersionOutput extracts the first semantic version token from the
// output of `<agent> version`.
func ParseVersionOutput(out string) string {
	return versionPattern.FindString(out)
}

// probeVersion runs `<path> version` under the configured timeout.
// Failures yield an empty string.
func (i *Installer) probeVersion(ctx context.Context, path string) string {
	ctx, cancel := context.WithTimeout(ctx, i.config.VersionTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "version").Output()
	if err != nil {
		i.logger.Debug("version probe failed", "path", path, "error", err)
		return ""
	}
	return ParseVersionOutput(string(out))
}

// IsOutdated reports whether version is older than MinimumVersion.
// Unparseable versions are not considered outdated.
func IsOutdated(version string) bool {
	older, err := isOlder(version, MinimumVersion)
	return err == nil && older
}

func isOlder(version, than string) (bool, error) {
	aMajor, aMinor, aPatch, err := parseVersion(version)
	if err != nil {
		return false, err
	}
	bMajor, bMinor, bPatch, err := parseVersion(than)
	if err != nil {
		return false, err
	}

	if aMajor != bMajor {
		return aMajor < bMajor, nil
	}
	if aMinor != bMinor {
		return aMinor < bMinor, nil
	}
	return aPatch < bPatch, nil
}

// parseVersion parses a semantic version string
func parseVersion(version string) (major, minor, patch int, err error) {
	version = strings.TrimPrefix(strings.TrimPrefix(version, "v"), "V")

	// Remove pre-release and build metadata
	if idx := strings.IndexAny(version, "-+"); idx > 0 {
		version = version[:idx]
	}

	n, err := fmt.Sscanf(version, "%d.%d.%d", &major, &minor, &patch)
	if err != nil || n != 3 {
		return 0, 0, 0, fmt.Errorf("invalid version format: %s", version)
	}

	return major, minor, patch, nil
}

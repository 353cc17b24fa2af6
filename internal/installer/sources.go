package installer

import (
	"fmt"
	"runtime"
)

// Platform families the agent ships archives for.
const (
	PlatformLinux   = "linux"
	PlatformDarwin  = "darwin"
	PlatformWindows = "windows"
)

// Supported CPU architectures. Anything else falls back to ArchAMD64.
const (
	ArchAMD64 = "amd64"
	ArchARM64 = "arm64"
)

const (
	primaryBase   = "https://bin.equinox.io/c/bNyj1mQVY4c/ngrok-v3-stable-%s-%s.zip"
	secondaryBase = "https://bin.equinox.io/c/4VmDzA7iaHb/ngrok-stable-%s-%s.zip"
)

// primaryArchives are the current (v3) agent builds.
var primaryArchives = map[string]map[string]string{
	PlatformLinux: {
		ArchAMD64: fmt.Sprintf(primaryBase, "linux", "amd64"),
		ArchARM64: fmt.Sprintf(primaryBase, "linux", "arm64"),
	},
	PlatformDarwin: {
		ArchAMD64: fmt.Sprintf(primaryBase, "darwin", "amd64"),
		ArchARM64: fmt.Sprintf(primaryBase, "darwin", "arm64"),
	},
	PlatformWindows: {
		ArchAMD64: fmt.Sprintf(primaryBase, "windows", "amd64"),
		ArchARM64: fmt.Sprintf(primaryBase, "windows", "amd64"),
	},
}

// secondaryArchives are the older, more widely mirrored v2 builds.
var secondaryArchives = map[string]map[string]string{
	PlatformLinux: {
		ArchAMD64: fmt.Sprintf(secondaryBase, "linux", "amd64"),
		ArchARM64: fmt.Sprintf(secondaryBase, "linux", "arm64"),
	},
	PlatformDarwin: {
		ArchAMD64: fmt.Sprintf(secondaryBase, "darwin", "amd64"),
		ArchARM64: fmt.Sprintf(secondaryBase, "darwin", "amd64"),
	},
	PlatformWindows: {
		ArchAMD64: fmt.Sprintf(secondaryBase, "windows", "amd64"),
		ArchARM64: fmt.Sprintf(secondaryBase, "windows", "amd64"),
	},
}

// NormalizePlatform maps GOOS values onto the three supported families.
// Unknown systems are treated as Linux.
func NormalizePlatform(goos string) string {
	switch goos {
	case PlatformDarwin, PlatformWindows:
		return goos
	default:
		return PlatformLinux
	}
}

// NormalizeArch maps GOARCH values onto amd64/arm64.
func NormalizeArch(goarch string) string {
	if goarch == ArchARM64 {
		return ArchARM64
	}
	return ArchAMD64
}

// Sources returns the download URLs for platform/arch, primary first.
func Sources(platform, arch string) []string {
	platform = NormalizePlatform(platform)
	arch = NormalizeArch(arch)

	var urls []string
	for _, table := range []map[string]map[string]string{primaryArchives, secondaryArchives} {
		if u := lookup(table, platform, arch); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

func lookup(table map[string]map[string]string, platform, arch string) string {
	byArch, ok := table[platform]
	if !ok {
		return ""
	}
	if u := byArch[arch]; u != "" {
		return u
	}
	return byArch[ArchAMD64]
}

// CurrentPlatform returns the normalized platform and arch of this host.
func CurrentPlatform() (string, string) {
	return NormalizePlatform(runtime.GOOS), NormalizeArch(runtime.GOARCH)
}

package installer

// Instructions describes a manual install path for the agent.
type Instructions struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

// InstallInstructions returns the package-manager command for platform.
func InstallInstructions(platform string) Instructions {
	switch NormalizePlatform(platform) {
	case PlatformDarwin:
		return Instructions{
			Command:     "brew install ngrok",
			Description: "Install ngrok via Homebrew",
		}
	case PlatformWindows:
		return Instructions{
			Command:     "winget install ngrok.ngrok",
			Description: "Install ngrok via winget",
		}
	default:
		return Instructions{
			Command: "curl -s https://ngrok-agent.s3.amazonaws.com/ngrok.asc | sudo tee /etc/apt/trusted.gpg.d/ngrok.asc >/dev/null && " +
				"echo 'deb https://ngrok-agent.s3.amazonaws.com buster main' | sudo tee /etc/apt/sources.list.d/ngrok.list && " +
				"sudo apt update && sudo apt install ngrok",
			Description: "Install ngrok via apt repository",
		}
	}
}

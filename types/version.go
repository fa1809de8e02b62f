package types

// Version is the canonical project version.
// Reported by the version command, the status surface, and the startup banner.
const Version = "0.3.0"

// AppName is the application name used in logs and notifications.
const AppName = "tgdrop"

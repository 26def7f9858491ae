package version

// Version is the current appsizer release. Overridden at build time via
// -ldflags "-X appsizer/version.Version=...".
var Version = "0.4.1"

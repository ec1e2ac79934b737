package version

// SPVSyncVersion is the semantic version of this build. Overridable by
// the linker for release builds.
var SPVSyncVersion = "0.1.0-dev"

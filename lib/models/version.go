package models

// VersionInfo identifies a build. Two builds are the same only if every field
// matches.
type VersionInfo struct {
	Version        string `json:"version"`
	BuildTimestamp string `json:"build_timestamp"`
	Commit         string `json:"commit"`
	Environment    string `json:"environment"`
}

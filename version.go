package m3api

import "runtime"

// Version is the library version sent in the User-Agent header.
var Version = "0.8.0"

// LibraryUserAgent is the library part of every User-Agent header.
func LibraryUserAgent() string {
	return "m3api-go/" + Version
}

// GetVersionInfo returns version metadata for logs and diagnostics.
func GetVersionInfo() map[string]string {
	return map[string]string{
		"version":    Version,
		"user_agent": LibraryUserAgent(),
		"go_version": runtime.Version(),
	}
}

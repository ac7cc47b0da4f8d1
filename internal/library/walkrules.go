// Package library holds the shared walk rules and the hierarchy builder that
// turns the flat track store into the genre/artist/album tree the
// presentation layer renders.
package library

import "strings"

// AudioSuffix is the file suffix the scanner and fingerprint walks both
// recognize. Matching is by raw suffix, the way the library's files are
// actually named.
const AudioSuffix = ".mp3"

// Sentinel folders that are never descended into: "parking" in any casing
// (staging area for unsorted drops) and "Library" exactly (player-managed
// exports).
func IsSentinelDir(name string) bool {
	return strings.EqualFold(name, "parking") || name == "Library"
}

func IsAudioFile(name string) bool {
	return strings.HasSuffix(name, AudioSuffix)
}

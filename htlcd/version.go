package htlcd

import (
	"fmt"
	"strings"
)

// Commit stores the commit hash of this build. It is set with -ldflags.
var Commit string

// semanticAlphabet holds the characters allowed in pre-release strings.
const semanticAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-"

const (
	appMajor uint = 0
	appMinor uint = 1
	appPatch uint = 0

	// appPreRelease must only contain characters from semanticAlphabet.
	appPreRelease = "alpha"
)

// Version returns the semantic version and the commit of this build.
func Version() string {
	return fmt.Sprintf("%s commit=%s", semanticVersion(), Commit)
}

func semanticVersion() string {
	version := fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)

	// Invalid characters are dropped from the pre-release string.
	preRelease := normalizeVerString(appPreRelease)
	if preRelease != "" {
		version = fmt.Sprintf("%s-%s", version, preRelease)
	}

	return version
}

func normalizeVerString(str string) string {
	var result strings.Builder
	for _, r := range str {
		if strings.ContainsRune(semanticAlphabet, r) {
			result.WriteRune(r)
		}
	}

	return result.String()
}

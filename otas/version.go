package otas

import "fmt"

const sdkLanguage = "go"

// sdkVersion can be overridden via ldflags at build time.
var sdkVersion = "0.1.0"

// SDKVersion returns the current SDK version label.
func SDKVersion() string {
	return sdkVersion
}

// VersionHeaderValue is the x-otas-version annotation added to captured
// request headers.
func VersionHeaderValue() string {
	return fmt.Sprintf("%s:%s", sdkLanguage, sdkVersion)
}

func userAgent() string {
	return fmt.Sprintf("otas-go/%s", sdkVersion)
}

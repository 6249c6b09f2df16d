package main

import (
	"fmt"

	goversion "github.com/hashicorp/go-version"
)

// supportedProtoVersionRange bounds the protocol versions this server
// will complete a handshake with, expressed as a real version range
// rather than raw integer comparison so future point releases can widen
// it without touching the handshake logic.
var (
	minSupportedProtoVersion = goversion.Must(goversion.NewVersion(fmt.Sprintf("%d.0", supportedProtoMajorLo)))
	maxSupportedProtoVersion = goversion.Must(goversion.NewVersion(fmt.Sprintf("%d.999", supportedProtoMajorHi)))
)

// protoVersionOf builds a comparable version from a client's negotiated
// (major, minor) pair.
func protoVersionOf(major, minor uint8) (*goversion.Version, error) {
	return goversion.NewVersion(fmt.Sprintf("%d.%d", major, minor))
}

// isSupportedProtoVersion reports whether (major, minor) falls within
// the server's supported range (spec.md §4.C step 1).
func isSupportedProtoVersion(major, minor uint8) bool {
	v, err := protoVersionOf(major, minor)
	if err != nil {
		return false
	}
	return v.GreaterThanOrEqual(minSupportedProtoVersion) && v.LessThanOrEqual(maxSupportedProtoVersion)
}

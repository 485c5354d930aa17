package engine

import (
	"strings"
	"time"
)

// VersionSeparator joins an agent or block base name to its version
// component: "support-bot__v__20260825-1a2b3c4d".
const VersionSeparator = "__v__"

// ParseVersionedName splits a server name into base name and version.
// Names without the separator are unversioned (empty version). The
// split takes the first separator occurrence; declared base names are
// validated upstream to never contain it.
func ParseVersionedName(name string) (base, version string) {
	i := strings.Index(name, VersionSeparator)
	if i < 0 {
		return name, ""
	}
	return name[:i], name[i+len(VersionSeparator):]
}

// FormatVersionedName joins a base name and version. An empty version
// yields the bare base name.
func FormatVersionedName(base, version string) string {
	if version == "" {
		return base
	}
	return base + VersionSeparator + version
}

// NewVersion formats the version component for a bump at time t from a
// content hash: YYYYMMDD-<8 hex>. Same day and same content always
// produce the same version.
func NewVersion(t time.Time, contentHash string) string {
	h := contentHash
	if len(h) > shortHashLen {
		h = h[:shortHashLen]
	}
	return t.Format("20060102") + "-" + h
}

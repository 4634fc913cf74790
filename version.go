package basthon

import _ "embed"

// Version is the kernel release, read from the VERSION file.
//
//go:embed VERSION
var Version string

package theme

import "fmt"

const banner = `
   __ __  ___  ___  ___  _ _
  | '_ \ / _ \| '__/ __|| '_ \
  | |_) |  __/| | | (__ | | | |
  | .__/ \___||_|  \___||_| |_|
  |_|        timeline mirror
`

// PrintBanner writes the CLI banner to stdout.
func PrintBanner() { fmt.Print(banner) }

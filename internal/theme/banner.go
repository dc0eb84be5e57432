package theme

import (
	"fmt"
	"io"
)

// Banner returns the reactally banner.
func Banner() string {
	const cyan = "\033[36m"
	const yellow = "\033[33m"
	const reset = "\033[0m"

	return "" +
		yellow + "  👍  REACTALLY  🎉\n" + reset +
		cyan + "  ┌─┐┌─┐┌─┐┌─┐┌┬┐┌─┐┬  ┬  ┬ ┬\n" + reset +
		cyan + "  ├┬┘├┤ ├─┤│   │ ├─┤│  │  └┬┘\n" + reset +
		cyan + "  ┴└─└─┘┴ ┴└─┘ ┴ ┴ ┴┴─┘┴─┘ ┴ \n" + reset +
		"  who got the most reactions in your workspace\n"
}

// PrintBanner writes the banner to w.
func PrintBanner(w io.Writer) {
	fmt.Fprint(w, Banner())
}

// internal/retrieval/specs.go
package retrieval

import (
	"fmt"

	"github.com/xkilldash9x/petitionfetch/internal/locator"
)

func searchInputSpec() locator.Spec {
	return locator.Spec{Name: "search_input", Strategies: []locator.Strategy{
		locator.Attribute("input", "placeholder", "search"),
		locator.Role("searchbox", ""),
		locator.Attribute("input", "aria-label", "search"),
		locator.Attribute("input", "name", "search"),
		locator.XPath(`//input[@type="search"]`),
	}}
}

// resultRowSpec finds the entry carrying label, preferring the containing
// row so the download control can be searched inside it.
func resultRowSpec(label string) locator.Spec {
	return locator.Spec{Name: "result_row", Strategies: []locator.Strategy{
		locator.Role("row", label),
		locator.Role("listitem", label),
		locator.XPath(fmt.Sprintf(
			`//*[text()[%s]]/ancestor-or-self::*[self::tr or @role="row" or self::li][1]`,
			locator.ContainsFold("normalize-space(.)", label),
		)),
		locator.Text("", label),
	}}
}

func expandToggleSpec() locator.Spec {
	return locator.Spec{Name: "expand_toggle", Strategies: []locator.Strategy{
		locator.Role("button", "show more"),
		locator.Role("button", "load more"),
		locator.Role("button", "expand"),
		locator.Text("", "show more"),
		locator.Attribute("", "aria-expanded", "false"),
	}}
}

// downloadControlSpec is scoped to a resolved row by the caller. Its last
// entry is the keyboard fallback.
func downloadControlSpec(label string) locator.Spec {
	return locator.Spec{Name: "download_control", Strategies: []locator.Strategy{
		locator.Role("button", "download"),
		locator.Role("link", "download"),
		locator.Attribute("", "aria-label", "download"),
		locator.Attribute("", "title", "download"),
		locator.Attribute("a", "href", ".pdf"),
		locator.Role("link", "pdf"),
		locator.Role("link", label),
		locator.XPath("./ancestor-or-self::a[@href]"),
		locator.Positional(),
	}}
}

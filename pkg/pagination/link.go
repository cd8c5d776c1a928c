package pagination

import (
	"net/url"
	"strings"
)

// NextPageInfo extracts the page_info continuation token from the rel="next"
// entry of a Link response header. It returns "" when the header is absent,
// carries no next relation, or the entry cannot be parsed; all of those
// mean the current page is the last one.
//
// A Link header looks like:
//
//	<https://shop/admin/api/2024-01/customers.json?limit=250&page_info=abc>; rel="next",
//	<...>; rel="previous"
func NextPageInfo(link string) string {
	for _, entry := range strings.Split(link, ",") {
		if !strings.Contains(entry, `rel="next"`) {
			continue
		}

		start := strings.Index(entry, "<")
		end := strings.Index(entry, ">")
		if start < 0 || end <= start {
			continue
		}

		target, err := url.Parse(entry[start+1 : end])
		if err != nil {
			continue
		}
		return target.Query().Get("page_info")
	}
	return ""
}

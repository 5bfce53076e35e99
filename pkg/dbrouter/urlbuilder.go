package dbrouter

import (
	"net/url"
	"strings"
)

// orgPlaceholder is the literal substring a base URL may contain to mark
// where the organization id is substituted.
const orgPlaceholder = "{org}"

// buildURL implements the URL Builder algorithm:
//
//  1. If orgID is empty or the strategy is Shared, return baseURL unchanged.
//  2. If baseURL contains the literal "{org}" placeholder, substitute it.
//  3. Otherwise parse baseURL as prefix/path?query and insert "orgID_"
//     immediately before the final path segment.
//  4. Validate the resulting URL has a known scheme; InvalidUrlError
//     otherwise.
func buildURL(baseURL string, orgID string, strategy Strategy) (string, error) {
	if orgID == "" || strategy == StrategyShared {
		return baseURL, nil
	}

	var built string
	if strings.Contains(baseURL, orgPlaceholder) {
		built = strings.ReplaceAll(baseURL, orgPlaceholder, orgID)
	} else {
		prefixed, err := insertOrgPrefix(baseURL, orgID)
		if err != nil {
			return "", &InvalidUrlError{URL: baseURL}
		}
		built = prefixed
	}

	if _, err := adapterKindFromURL(built); err != nil {
		return "", &InvalidUrlError{URL: built}
	}
	return built, nil
}

// insertOrgPrefix inserts "{orgID}_" immediately before the final path
// segment of a URL, e.g. "postgresql://host/db" with org "acme" becomes
// "postgresql://host/acme_db".
func insertOrgPrefix(baseURL string, orgID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}

	path := u.Path
	idx := strings.LastIndex(path, "/")
	segment := path
	prefix := ""
	if idx != -1 {
		segment = path[idx+1:]
		prefix = path[:idx+1]
	}

	u.Path = prefix + orgID + "_" + segment
	return u.String(), nil
}

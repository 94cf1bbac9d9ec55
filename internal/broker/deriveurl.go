package broker

import "strings"

// deriveInfoURL derives the "rest/info" endpoint used to discover a server's
// token-services URL from a Resource's own configured URL (§4.5 step 1).
func deriveInfoURL(resourceURL string) string {
	if idx := strings.Index(resourceURL, "/rest/"); idx != -1 {
		return resourceURL[:idx] + "/rest/info"
	}
	if idx := strings.Index(resourceURL, "/sharing/"); idx != -1 {
		return resourceURL[:idx] + "/sharing/rest/info"
	}
	return resourceURL + "/arcgis/rest/info"
}

// exchangeURL rewrites an OAuth2 token endpoint into the generateToken
// endpoint used to exchange a portal token for a long-lived server token
// (§4.5 app-credential flow step 2).
func exchangeURL(oauth2Endpoint string) string {
	return strings.Replace(oauth2Endpoint, "/oauth2", "/generateToken", 1)
}

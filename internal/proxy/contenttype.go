package proxy

import "strings"

// wmsXMLContentType is the legacy OGC content type some WMS servers send
// for XML responses; browsers and downstream consumers expect text/xml.
const wmsXMLContentType = "application/vnd.ogc.wms_xml"

// RewriteContentType replaces any occurrence of the legacy OGC WMS XML
// content type with text/xml before the header reaches the client (§4.4).
func RewriteContentType(contentType string) string {
	if !strings.Contains(contentType, wmsXMLContentType) {
		return contentType
	}
	return strings.ReplaceAll(contentType, wmsXMLContentType, "text/xml")
}

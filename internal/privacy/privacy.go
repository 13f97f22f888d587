// Package privacy scrubs host identifying data from telemetry messages.
package privacy

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	urlPattern = regexp.MustCompile(`\b(?:https?|rtsp|rtmp|wss?)://\S+`)

	// user directory segment of unix, macOS and windows home paths
	homePattern = regexp.MustCompile(`(?i)(/home/|/Users/|[A-Z]:\\Users\\)[^/\\\s"']+`)

	ipv4Pattern = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)
)

// ScrubMessage anonymizes URLs and replaces user names in home directory
// paths, such as bank sample files, with a placeholder.
func ScrubMessage(message string) string {
	message = urlPattern.ReplaceAllStringFunc(message, AnonymizeURL)
	return homePattern.ReplaceAllString(message, "${1}<user>")
}

// AnonymizeURL replaces a URL with a stable hash of its scheme, host kind,
// port and path shape. Credentials and host names never reach the hash input.
func AnonymizeURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		hash := sha256.Sum256([]byte(rawURL))
		return fmt.Sprintf("url-hash-%x", hash[:8])
	}

	var parts []string
	if parsed.Scheme != "" {
		parts = append(parts, parsed.Scheme)
	}
	if host := parsed.Hostname(); host != "" {
		parts = append(parts, categorizeHost(host))
	}
	if port := parsed.Port(); port != "" {
		parts = append(parts, "port-"+port)
	}
	if parsed.Path != "" && parsed.Path != "/" {
		parts = append(parts, pathShape(parsed.Path))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return fmt.Sprintf("url-%x", hash[:12])
}

func categorizeHost(host string) string {
	switch {
	case host == "localhost" || strings.HasPrefix(host, "127."):
		return "localhost"
	case ipv4Pattern.MatchString(host):
		if strings.HasPrefix(host, "10.") || strings.HasPrefix(host, "192.168.") || strings.HasPrefix(host, "172.") {
			return "private-ip"
		}
		return "public-ip"
	case strings.Contains(host, ":"):
		return "ipv6"
	case strings.HasSuffix(host, ".local"):
		return "local-domain"
	default:
		return "domain"
	}
}

// pathShape keeps the segment count of a path and drops its contents.
func pathShape(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	return fmt.Sprintf("path-%d", len(segments))
}

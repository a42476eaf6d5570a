package storage

import (
	"net/url"
	"strings"
)

// CollectionSegment turns a collection URL into a filesystem-safe directory
// name, e.g. /api/v1/namespaces/default/pods becomes
// api_v1_namespaces_default_pods.
func CollectionSegment(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	path := strings.Trim(parsed.Path, "/")
	if path == "" {
		return "root", nil
	}
	path = strings.ReplaceAll(path, "/", "_")
	path = strings.ReplaceAll(path, ".", "-")
	return path, nil
}

// ShortRunID returns the first 8 chars of a run identifier.
func ShortRunID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

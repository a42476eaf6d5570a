// Package collection identifies watchable Kubernetes resource collections by
// their API URL.
package collection

import (
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/runtime/schema"
)

// Ref identifies one watched collection. APIBase is the cluster-wide
// collection path (/api/v1/pods, /apis/apps/v1/deployments); Namespace narrows
// it to one namespace when set. Ref is comparable and its URL is the key used
// by the registry, the resource-version cache and the wire protocol.
type Ref struct {
	APIBase   string
	Namespace string
}

// New validates apiBase and returns a Ref for it.
func New(apiBase, namespace string) (Ref, error) {
	gvr, ns, err := parsePath(apiBase)
	if err != nil {
		return Ref{}, err
	}
	if ns != "" {
		return Ref{}, fmt.Errorf("collection: api base %q must not contain a namespace", apiBase)
	}
	return Ref{APIBase: basePath(gvr), Namespace: namespace}, nil
}

// Parse reads a collection URL as produced by Ref.URL.
func Parse(raw string) (Ref, error) {
	gvr, ns, err := parsePath(raw)
	if err != nil {
		return Ref{}, err
	}
	return Ref{APIBase: basePath(gvr), Namespace: ns}, nil
}

// URL returns the collection URL, e.g. /api/v1/namespaces/default/pods.
func (r Ref) URL() string {
	if r.Namespace == "" {
		return r.APIBase
	}
	gvr := r.GroupVersionResource()
	return prefix(gvr) + "/namespaces/" + r.Namespace + "/" + gvr.Resource
}

func (r Ref) String() string { return r.URL() }

// GroupVersionResource returns the resource addressed by the APIBase. It
// returns the zero value for a Ref that was not built by New or Parse.
func (r Ref) GroupVersionResource() schema.GroupVersionResource {
	gvr, _, err := parsePath(r.APIBase)
	if err != nil {
		return schema.GroupVersionResource{}
	}
	return gvr
}

// Matches reports whether an object of the given resource in the given
// namespace belongs to this collection. Cluster-wide collections match every
// namespace.
func (r Ref) Matches(gvr schema.GroupVersionResource, namespace string) bool {
	if r.GroupVersionResource() != gvr {
		return false
	}
	return r.Namespace == "" || r.Namespace == namespace
}

func parsePath(raw string) (schema.GroupVersionResource, string, error) {
	if strings.ContainsAny(raw, "?#") {
		return schema.GroupVersionResource{}, "", fmt.Errorf("collection: %q: query and fragment are not supported", raw)
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	var gvr schema.GroupVersionResource
	var rest []string
	switch {
	case len(parts) >= 3 && parts[0] == "api":
		gvr.Version = parts[1]
		rest = parts[2:]
	case len(parts) >= 4 && parts[0] == "apis":
		gvr.Group = parts[1]
		gvr.Version = parts[2]
		rest = parts[3:]
	default:
		return gvr, "", fmt.Errorf("collection: %q is not an /api or /apis collection path", raw)
	}

	var ns string
	switch len(rest) {
	case 1:
		gvr.Resource = rest[0]
	case 3:
		if rest[0] != "namespaces" {
			return gvr, "", fmt.Errorf("collection: %q: unexpected segment %q", raw, rest[0])
		}
		ns = rest[1]
		gvr.Resource = rest[2]
	default:
		return gvr, "", fmt.Errorf("collection: %q does not name a collection", raw)
	}

	for _, s := range []string{gvr.Version, gvr.Resource, ns} {
		if strings.TrimSpace(s) != s {
			return gvr, "", fmt.Errorf("collection: %q contains whitespace", raw)
		}
	}
	if gvr.Version == "" || gvr.Resource == "" || (len(rest) == 3 && ns == "") {
		return gvr, "", fmt.Errorf("collection: %q has empty segments", raw)
	}
	return gvr, ns, nil
}

func prefix(gvr schema.GroupVersionResource) string {
	if gvr.Group == "" {
		return "/api/" + gvr.Version
	}
	return "/apis/" + gvr.Group + "/" + gvr.Version
}

func basePath(gvr schema.GroupVersionResource) string {
	return prefix(gvr) + "/" + gvr.Resource
}

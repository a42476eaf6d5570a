package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dgnsrekt/watchrelay/internal/collection"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/tools/clientcmd"
)

// Upstream is the credentialed side of the relay: it opens watches on
// collections and answers resource version lookups.
type Upstream interface {
	// Watch opens a watch on ref starting at resourceVersion, or at the
	// latest state when resourceVersion is empty.
	Watch(ctx context.Context, ref collection.Ref, resourceVersion string) (watch.Interface, error)
	// ResourceVersion returns the current resource version of ref.
	ResourceVersion(ctx context.Context, ref collection.Ref) (string, error)
}

// KubeUpstream serves collections from a Kubernetes API server through the
// dynamic client.
type KubeUpstream struct {
	client dynamic.Interface
}

func NewKubeUpstream(client dynamic.Interface) *KubeUpstream {
	return &KubeUpstream{client: client}
}

// NewKubeUpstreamFromKubeconfig builds a KubeUpstream using the standard
// kubeconfig loading rules. An empty path uses $KUBECONFIG or
// ~/.kube/config; an empty kubeContext uses the current context.
func NewKubeUpstreamFromKubeconfig(path, kubeContext string) (*KubeUpstream, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if path != "" {
		rules.ExplicitPath = path
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: kubeContext}
	cfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("load kubeconfig: %w", err)
	}
	client, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("build dynamic client: %w", err)
	}
	return NewKubeUpstream(client), nil
}

func (k *KubeUpstream) resource(ref collection.Ref) dynamic.ResourceInterface {
	res := k.client.Resource(ref.GroupVersionResource())
	if ref.Namespace == "" {
		return res
	}
	return res.Namespace(ref.Namespace)
}

func (k *KubeUpstream) Watch(ctx context.Context, ref collection.Ref, resourceVersion string) (watch.Interface, error) {
	return k.resource(ref).Watch(ctx, metav1.ListOptions{ResourceVersion: resourceVersion})
}

func (k *KubeUpstream) ResourceVersion(ctx context.Context, ref collection.Ref) (string, error) {
	list, err := k.resource(ref).List(ctx, metav1.ListOptions{Limit: 1})
	if err != nil {
		return "", err
	}
	return list.GetResourceVersion(), nil
}

// statusCode extracts the HTTP status carried by an upstream error or an
// upstream watch ERROR object. It returns fallback when none is present.
func statusCode(err error, fallback int) int {
	var status apierrors.APIStatus
	if errors.As(err, &status) {
		if code := int(status.Status().Code); code != 0 {
			return code
		}
	}
	return fallback
}

func objectStatusCode(obj runtime.Object) int {
	if obj == nil {
		return 0
	}
	return statusCode(apierrors.FromObject(obj), 0)
}

// classify maps an upstream error onto a CodedError for the API layer.
func classify(err error, ref collection.Ref) error {
	switch statusCode(err, 0) {
	case http.StatusNotFound:
		return newError(CodeNotFound, ref.URL()+" not found upstream", err)
	case http.StatusForbidden, http.StatusUnauthorized:
		return newError(CodeForbidden, ref.URL()+" not permitted upstream", err)
	default:
		return newError(CodeUpstreamUnavailable, ref.URL()+" upstream request failed", err)
	}
}

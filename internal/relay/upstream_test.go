package relay

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/watch"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	clienttesting "k8s.io/client-go/testing"
)

func newFakeDynamic() *dynamicfake.FakeDynamicClient {
	return dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(), map[schema.GroupVersionResource]string{
		pods.GroupVersionResource(): "PodList",
	})
}

func TestKubeUpstreamWatch(t *testing.T) {
	client := newFakeDynamic()
	up := NewKubeUpstream(client)

	wi, err := up.Watch(context.Background(), pods, "")
	require.NoError(t, err)
	defer wi.Stop()

	_, err = client.Resource(pods.GroupVersionResource()).Namespace("default").
		Create(context.Background(), object("Pod", "web", ""), metav1.CreateOptions{})
	require.NoError(t, err)

	select {
	case ev := <-wi.ResultChan():
		assert.Equal(t, watch.Added, ev.Type)
		u, ok := ev.Object.(*unstructured.Unstructured)
		require.True(t, ok)
		assert.Equal(t, "web", u.GetName())
	case <-time.After(time.Second):
		t.Fatal("no watch event")
	}
}

func TestKubeUpstreamResourceVersion(t *testing.T) {
	client := newFakeDynamic()
	client.PrependReactor("list", "pods", func(clienttesting.Action) (bool, runtime.Object, error) {
		list := &unstructured.UnstructuredList{Object: map[string]interface{}{}}
		list.SetResourceVersion("42")
		return true, list, nil
	})

	rv, err := NewKubeUpstream(client).ResourceVersion(context.Background(), pods)
	require.NoError(t, err)
	assert.Equal(t, "42", rv)
}

func TestStatusCode(t *testing.T) {
	notFound := apierrors.NewNotFound(schema.GroupResource{Resource: "pods"}, "x")
	assert.Equal(t, http.StatusNotFound, statusCode(notFound, 0))
	assert.Equal(t, http.StatusBadGateway, statusCode(errors.New("dial tcp: refused"), http.StatusBadGateway))

	gone := &metav1.Status{Status: metav1.StatusFailure, Code: http.StatusGone, Reason: metav1.StatusReasonExpired}
	assert.Equal(t, http.StatusGone, objectStatusCode(gone))
	assert.Equal(t, 0, objectStatusCode(nil))
}

func TestClassify(t *testing.T) {
	gr := schema.GroupResource{Resource: "pods"}
	cases := []struct {
		err  error
		code string
	}{
		{apierrors.NewNotFound(gr, ""), CodeNotFound},
		{apierrors.NewForbidden(gr, "", errors.New("rbac")), CodeForbidden},
		{apierrors.NewUnauthorized("token expired"), CodeForbidden},
		{errors.New("connection refused"), CodeUpstreamUnavailable},
	}
	for _, tc := range cases {
		err := classify(tc.err, pods)
		var coded *CodedError
		require.ErrorAs(t, err, &coded)
		assert.Equal(t, tc.code, coded.Code, "%v", tc.err)
		assert.ErrorIs(t, err, tc.err)
	}
}

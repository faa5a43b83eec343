package scaling

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/truefoundry/capacity-scheduler/pkg/clusters"
	"github.com/truefoundry/capacity-scheduler/pkg/k8shelper"
	"github.com/truefoundry/capacity-scheduler/pkg/values"
	"go.uber.org/zap"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

func nodePool(name string, cpu interface{}) *unstructured.Unstructured {
	obj := map[string]interface{}{
		"apiVersion": "karpenter.sh/v1",
		"kind":       "NodePool",
		"metadata": map[string]interface{}{
			"name": name,
		},
		"spec": map[string]interface{}{},
	}
	if cpu != nil {
		obj["spec"] = map[string]interface{}{"limits": map[string]interface{}{"cpu": cpu}}
	}
	return &unstructured.Unstructured{Object: obj}
}

func newFakeProvider(t *testing.T, objs ...runtime.Object) (*k8shelper.StaticProvider, *dynamicfake.FakeDynamicClient, *fake.Clientset) {
	t.Helper()
	dyn := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(), map[schema.GroupVersionResource]string{
		values.NodePoolGVR:  "NodePoolList",
		values.NodeClaimGVR: "NodeClaimList",
	}, objs...)
	kube := fake.NewSimpleClientset()
	registry, err := clusters.NewRegistry(
		clusters.Target{Name: "demo"},
		clusters.Target{Name: "gpu-cluster", NodePool: "gpu"},
	)
	require.NoError(t, err)
	return k8shelper.NewStaticProvider(registry, dyn, kube), dyn, kube
}

func cpuOf(t *testing.T, dyn *dynamicfake.FakeDynamicClient, name string) string {
	t.Helper()
	np, err := dyn.Resource(values.NodePoolGVR).Get(context.Background(), name, metav1.GetOptions{})
	require.NoError(t, err)
	cpu, _, err := unstructured.NestedFieldNoCopy(np.Object, "spec", "limits", "cpu")
	require.NoError(t, err)
	return cpu.(string)
}

func countEventCreates(kube *fake.Clientset) int {
	n := 0
	for _, a := range kube.Actions() {
		if a.GetVerb() == "create" && a.GetResource().Resource == "events" {
			n++
		}
	}
	return n
}

func TestNodePoolScaler(t *testing.T) {
	tests := []struct {
		name          string
		cluster       string
		pool          *unstructured.Unstructured
		cpuLimit      int64
		expectedCPU   string
		expectPatch   bool
		expectedError error
	}{
		{name: "scale up from zero", cluster: "demo", pool: nodePool("default", "0"), cpuLimit: 1000, expectedCPU: "1k", expectPatch: true},
		{name: "scale down", cluster: "demo", pool: nodePool("default", int64(1000)), cpuLimit: 0, expectedCPU: "0", expectPatch: true},
		{name: "no limits yet", cluster: "demo", pool: nodePool("default", nil), cpuLimit: 1000, expectedCPU: "1k", expectPatch: true},
		{name: "already scaled", cluster: "demo", pool: nodePool("default", "1k"), cpuLimit: 1000, expectedCPU: "1k"},
		{name: "nodepool from target", cluster: "gpu-cluster", pool: nodePool("gpu", "10"), cpuLimit: 0, expectedCPU: "0", expectPatch: true},
		{name: "missing nodepool", cluster: "demo", pool: nodePool("other", "0"), cpuLimit: 1000, expectedError: k8shelper.ErrNoNodePool},
		{name: "unknown cluster", cluster: "nope", pool: nodePool("default", "0"), cpuLimit: 1000, expectedError: clusters.ErrUnknownCluster},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, dyn, kube := newFakeProvider(t, tt.pool)
			scaler := NewNodePoolScaler(zap.NewNop(), provider)

			err := scaler.SetClusterCapacity(context.Background(), tt.cluster, tt.cpuLimit)
			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
				return
			}
			require.NoError(t, err)

			patched := false
			for _, a := range dyn.Actions() {
				if _, ok := a.(k8stesting.PatchAction); ok {
					patched = true
				}
			}
			assert.Equal(t, tt.expectPatch, patched)
			if tt.expectPatch {
				assert.Equal(t, 1, countEventCreates(kube))
			}
			assert.Equal(t, tt.expectedCPU, cpuOf(t, dyn, tt.pool.GetName()))
		})
	}
}

func TestNodePoolScalerRejectsNegativeLimit(t *testing.T) {
	provider, _, _ := newFakeProvider(t, nodePool("default", "0"))
	err := NewNodePoolScaler(zap.NewNop(), provider).SetClusterCapacity(context.Background(), "demo", -1)
	assert.Error(t, err)
}

func TestEndpointScaler(t *testing.T) {
	var gotCluster, gotLimit string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCluster = r.URL.Query().Get("cluster-name")
		gotLimit = r.URL.Query().Get("cpu-limit")
		if gotCluster == "broken" {
			http.Error(w, "Failed to set cpu limit", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	scaler := NewEndpointScaler(zap.NewNop(), server.URL, 2*time.Second)

	require.NoError(t, scaler.SetClusterCapacity(context.Background(), "demo", 1000))
	assert.Equal(t, "demo", gotCluster)
	assert.Equal(t, "1000", gotLimit)

	require.NoError(t, scaler.SetClusterCapacity(context.Background(), "demo", 0))
	assert.Equal(t, "0", gotLimit)

	err := scaler.SetClusterCapacity(context.Background(), "broken", 0)
	assert.ErrorContains(t, err, "500")
}

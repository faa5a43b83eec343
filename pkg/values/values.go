package values

import (
	"k8s.io/apimachinery/pkg/runtime/schema"
)

const (
	// DefaultNodePool is the Karpenter NodePool patched when a cluster target names none
	DefaultNodePool = "default"
	// DefaultScaleUpCPULimit is the cpu limit set on a start event
	DefaultScaleUpCPULimit int64 = 1000

	// NodePoolLabel is set by Karpenter on every NodeClaim it launches for a NodePool
	NodePoolLabel = "karpenter.sh/nodepool"

	EventComponent = "capacity-scheduler"

	Success = "success"
)

var (
	NodePoolGVR = schema.GroupVersionResource{
		Group:    "karpenter.sh",
		Version:  "v1",
		Resource: "nodepools",
	}

	NodeClaimGVR = schema.GroupVersionResource{
		Group:    "karpenter.sh",
		Version:  "v1",
		Resource: "nodeclaims",
	}
)

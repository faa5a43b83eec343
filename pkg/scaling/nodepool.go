package scaling

import (
	"context"
	"fmt"
	"sync"

	"github.com/truefoundry/capacity-scheduler/pkg/k8shelper"
	"github.com/truefoundry/capacity-scheduler/pkg/values"
	"go.uber.org/zap"
	v1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
)

// NodePoolScaler sets a cluster's capacity through the cpu limit of its Karpenter NodePool
type NodePoolScaler struct {
	clients    k8shelper.Provider
	scaleLocks sync.Map
	logger     *zap.Logger
}

// NewNodePoolScaler creates a new instance of the NodePoolScaler
func NewNodePoolScaler(logger *zap.Logger, clients k8shelper.Provider) *NodePoolScaler {
	return &NodePoolScaler{
		clients: clients,
		logger:  logger.Named("nodePoolScaler"),
	}
}

// getMutexForScale returns a mutex for scaling based on the input key
func (s *NodePoolScaler) getMutexForScale(key string) *sync.Mutex {
	l, _ := s.scaleLocks.LoadOrStore(key, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// SetClusterCapacity patches spec.limits.cpu of the cluster's NodePool to cpuLimit
func (s *NodePoolScaler) SetClusterCapacity(ctx context.Context, cluster string, cpuLimit int64) error {
	if cpuLimit < 0 {
		return fmt.Errorf("SetClusterCapacity - %s: negative cpu limit %d", cluster, cpuLimit)
	}
	mutex := s.getMutexForScale(cluster)
	mutex.Lock()
	defer mutex.Unlock()

	clients, err := s.clients.ForCluster(ctx, cluster)
	if err != nil {
		return fmt.Errorf("SetClusterCapacity - %s: %w", cluster, err)
	}
	nodePool := clients.Target.NodePool

	scaled, err := s.patchCPULimit(ctx, clients, nodePool, cpuLimit)
	if err != nil {
		s.recordEvent(ctx, clients, nodePool, v1.EventTypeWarning, "ScheduledScaleFailed", fmt.Sprintf("Failed to set cpu limit of NodePool %s to %d: %v", nodePool, cpuLimit, err))
		return fmt.Errorf("SetClusterCapacity - %s: %w", cluster, err)
	}
	if !scaled {
		return nil
	}

	reason := "ScheduledScaleUp"
	if cpuLimit == 0 {
		reason = "ScheduledScaleDown"
	}
	s.recordEvent(ctx, clients, nodePool, v1.EventTypeNormal, reason, fmt.Sprintf("Set cpu limit of NodePool %s to %d", nodePool, cpuLimit))
	return nil
}

// patchCPULimit returns false when the NodePool already has the requested limit
func (s *NodePoolScaler) patchCPULimit(ctx context.Context, clients *k8shelper.ClusterClients, nodePool string, cpuLimit int64) (bool, error) {
	nodePools := clients.Dynamic.Resource(values.NodePoolGVR)
	np, err := nodePools.Get(ctx, nodePool, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return false, fmt.Errorf("patchCPULimit - GET %s: %w", nodePool, k8shelper.ErrNoNodePool)
		}
		return false, fmt.Errorf("patchCPULimit - GET: %w", err)
	}

	desired := resource.NewQuantity(cpuLimit, resource.DecimalSI)
	current, found, err := currentCPULimit(np)
	if err != nil {
		s.logger.Warn("NodePool has an unreadable cpu limit, overwriting it", zap.String("nodepool", nodePool), zap.Error(err))
	}
	if found && err == nil && current.Cmp(*desired) == 0 {
		s.logger.Info("NodePool already scaled", zap.String("nodepool", nodePool), zap.String("cpu", current.String()))
		return false, nil
	}

	patchBytes := []byte(fmt.Sprintf(`{"spec":{"limits":{"cpu":"%s"}}}`, desired.String()))
	_, err = nodePools.Patch(ctx, nodePool, types.MergePatchType, patchBytes, metav1.PatchOptions{})
	if err != nil {
		return false, fmt.Errorf("patchCPULimit - Patch: %w", err)
	}
	s.logger.Info("NodePool scaled", zap.String("nodepool", nodePool), zap.String("cpu", desired.String()))
	return true, nil
}

func currentCPULimit(np *unstructured.Unstructured) (resource.Quantity, bool, error) {
	raw, found, err := unstructured.NestedFieldNoCopy(np.Object, "spec", "limits", "cpu")
	if err != nil || !found {
		return resource.Quantity{}, false, err
	}
	q, err := resource.ParseQuantity(fmt.Sprint(raw))
	if err != nil {
		return resource.Quantity{}, true, fmt.Errorf("parse cpu limit %v: %w", raw, err)
	}
	return q, true, nil
}

// recordEvent leaves a Kubernetes event on the NodePool, failures are only logged
func (s *NodePoolScaler) recordEvent(ctx context.Context, clients *k8shelper.ClusterClients, nodePool, eventType, reason, message string) {
	event := &v1.Event{
		ObjectMeta: metav1.ObjectMeta{
			GenerateName: nodePool + "-",
			Namespace:    metav1.NamespaceDefault,
		},
		InvolvedObject: v1.ObjectReference{
			APIVersion: values.NodePoolGVR.GroupVersion().String(),
			Kind:       "NodePool",
			Name:       nodePool,
		},
		Type:    eventType,
		Reason:  reason,
		Message: message,
		Action:  "Scale",
		Source: v1.EventSource{
			Component: values.EventComponent,
		},
	}
	if _, err := clients.Kube.CoreV1().Events(metav1.NamespaceDefault).Create(ctx, event, metav1.CreateOptions{}); err != nil {
		s.logger.Error("Failed to create event", zap.String("reason", reason), zap.Error(err))
	}
}

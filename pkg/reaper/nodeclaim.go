package reaper

import (
	"context"
	"fmt"
	"strings"

	"github.com/truefoundry/capacity-scheduler/pkg/k8shelper"
	"github.com/truefoundry/capacity-scheduler/pkg/values"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
)

// NodeClaimReaper terminates a cluster's workers by deleting the Karpenter NodeClaims
// launched for its NodePool. Karpenter drains the node and terminates the instance.
type NodeClaimReaper struct {
	clients k8shelper.Provider
	logger  *zap.Logger
}

func NewNodeClaimReaper(logger *zap.Logger, clients k8shelper.Provider) *NodeClaimReaper {
	return &NodeClaimReaper{
		clients: clients,
		logger:  logger.Named("nodeClaimReaper"),
	}
}

// nodeClaim is the part of a NodeClaim the reaper reads
type nodeClaim struct {
	metav1.ObjectMeta `json:"metadata"`
	Status            struct {
		ProviderID string `json:"providerID"`
		NodeName   string `json:"nodeName"`
	} `json:"status"`
}

// TerminateWorkers deletes every live NodeClaim of the cluster's NodePool and returns the
// instance ids it asked to terminate. One failed delete does not stop the others.
func (r *NodeClaimReaper) TerminateWorkers(ctx context.Context, cluster string) ([]string, error) {
	clients, err := r.clients.ForCluster(ctx, cluster)
	if err != nil {
		return nil, fmt.Errorf("TerminateWorkers - %s: %w", cluster, err)
	}
	nodeClaims := clients.Dynamic.Resource(values.NodeClaimGVR)

	selector := labels.SelectorFromSet(labels.Set{values.NodePoolLabel: clients.Target.NodePool})
	list, err := nodeClaims.List(ctx, metav1.ListOptions{LabelSelector: selector.String()})
	if err != nil {
		return nil, fmt.Errorf("TerminateWorkers - LIST: %w", err)
	}

	var terminated []string
	var errs error
	for i := range list.Items {
		var claim nodeClaim
		if err := k8shelper.UnstructuredToResource(&list.Items[i], &claim); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("TerminateWorkers - %s: %w", list.Items[i].GetName(), err))
			continue
		}
		if claim.DeletionTimestamp != nil {
			r.logger.Debug("NodeClaim already terminating", zap.String("cluster", cluster), zap.String("nodeclaim", claim.Name))
			continue
		}
		err := nodeClaims.Delete(ctx, claim.Name, metav1.DeleteOptions{})
		if err != nil && !apierrors.IsNotFound(err) {
			errs = multierr.Append(errs, fmt.Errorf("TerminateWorkers - DELETE %s: %w", claim.Name, err))
			continue
		}
		id := InstanceID(claim.Status.ProviderID)
		if id == "" {
			id = claim.Name
		}
		terminated = append(terminated, id)
		r.logger.Info("NodeClaim deleted",
			zap.String("cluster", cluster),
			zap.String("nodeclaim", claim.Name),
			zap.String("node", claim.Status.NodeName),
			zap.String("instance", id))
	}
	return terminated, errs
}

// InstanceID extracts the instance id from a provider id such as
// aws:///us-east-1a/i-0123456789abcdef0
func InstanceID(providerID string) string {
	if providerID == "" {
		return ""
	}
	return providerID[strings.LastIndex(providerID, "/")+1:]
}

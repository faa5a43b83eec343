package k8shelper

import (
	"context"
	"fmt"
	"sync"

	"github.com/truefoundry/capacity-scheduler/pkg/clusters"
	"go.uber.org/zap"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"sigs.k8s.io/controller-runtime/pkg/client/config"
)

// ClusterClients are the API clients for one target cluster
type ClusterClients struct {
	Target  clusters.Target
	Dynamic dynamic.Interface
	Kube    kubernetes.Interface
}

// Provider hands out clients per cluster name
type Provider interface {
	ForCluster(ctx context.Context, cluster string) (*ClusterClients, error)
}

// ContextProvider builds clients from the kubeconfig context of each cluster target
// and caches them for the life of the process
type ContextProvider struct {
	registry   *clusters.Registry
	loadConfig func(kubeContext string) (*rest.Config, error)
	clients    sync.Map
	logger     *zap.Logger
}

// NewContextProvider returns a provider that resolves kubeconfig contexts the same way
// kubectl does (KUBECONFIG, ~/.kube/config, in-cluster)
func NewContextProvider(logger *zap.Logger, registry *clusters.Registry) *ContextProvider {
	return &ContextProvider{
		registry:   registry,
		loadConfig: config.GetConfigWithContext,
		logger:     logger.Named("k8sClients"),
	}
}

func (p *ContextProvider) ForCluster(_ context.Context, cluster string) (*ClusterClients, error) {
	if c, ok := p.clients.Load(cluster); ok {
		return c.(*ClusterClients), nil
	}
	target, err := p.registry.Lookup(cluster)
	if err != nil {
		return nil, fmt.Errorf("ForCluster - %s: %w", cluster, err)
	}
	restConfig, err := p.loadConfig(target.Context)
	if err != nil {
		return nil, fmt.Errorf("ForCluster - kubeconfig context %s: %w", target.Context, err)
	}
	clients, err := NewClusterClients(target, restConfig)
	if err != nil {
		return nil, fmt.Errorf("ForCluster - %s: %w", cluster, err)
	}
	p.logger.Debug("created clients for cluster", zap.String("cluster", cluster), zap.String("context", target.Context), zap.String("host", restConfig.Host))
	actual, _ := p.clients.LoadOrStore(cluster, clients)
	return actual.(*ClusterClients), nil
}

// NewClusterClients builds the typed and dynamic clients for a rest config
func NewClusterClients(target clusters.Target, restConfig *rest.Config) (*ClusterClients, error) {
	kClient, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("NewClusterClients - kubernetes: %w", err)
	}
	kDynamicClient, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("NewClusterClients - dynamic: %w", err)
	}
	return &ClusterClients{Target: target, Dynamic: kDynamicClient, Kube: kClient}, nil
}

// StaticProvider serves the same clients for every cluster, used when the scheduler runs
// inside the one cluster it manages
type StaticProvider struct {
	registry *clusters.Registry
	dynamic  dynamic.Interface
	kube     kubernetes.Interface
}

func NewStaticProvider(registry *clusters.Registry, dynamicClient dynamic.Interface, kubeClient kubernetes.Interface) *StaticProvider {
	return &StaticProvider{registry: registry, dynamic: dynamicClient, kube: kubeClient}
}

// NewInClusterProvider builds a StaticProvider from the pod's service account
func NewInClusterProvider(registry *clusters.Registry) (*StaticProvider, error) {
	restConfig, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("NewInClusterProvider: %w", err)
	}
	clients, err := NewClusterClients(clusters.Target{}, restConfig)
	if err != nil {
		return nil, err
	}
	return NewStaticProvider(registry, clients.Dynamic, clients.Kube), nil
}

func (p *StaticProvider) ForCluster(_ context.Context, cluster string) (*ClusterClients, error) {
	target, err := p.registry.Lookup(cluster)
	if err != nil {
		return nil, fmt.Errorf("ForCluster - %s: %w", cluster, err)
	}
	return &ClusterClients{Target: target, Dynamic: p.dynamic, Kube: p.kube}, nil
}

package cluster

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	policyv1 "k8s.io/api/policy/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/hashicorp/go-hclog"
)

// KubernetesConnector implements ClusterConnector against a live cluster
// via client-go, cordoning and evicting pods the way kubectl drain does:
// taint the node unschedulable, then evict every evictable pod and report
// drained once none remain.
type KubernetesConnector struct {
	log       hclog.Logger
	clientset kubernetes.Interface
}

// NewKubernetesConnector builds a connector bound to clientset.
func NewKubernetesConnector(log hclog.Logger, clientset kubernetes.Interface) *KubernetesConnector {
	return &KubernetesConnector{log: log.Named("k8s_connector"), clientset: clientset}
}

// Agents lists every Node object, converting its name to an agent ID and
// its first InternalIP address to the join key PoolManager uses to match
// it with a cloud instance.
func (c *KubernetesConnector) Agents(ctx context.Context) ([]AgentMetadata, error) {
	nodes, err := c.clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("k8s connector: list nodes: %w", err)
	}

	agents := make([]AgentMetadata, 0, len(nodes.Items))
	for _, n := range nodes.Items {
		agent := AgentMetadata{AgentID: n.Name}
		for _, addr := range n.Status.Addresses {
			if addr.Type == corev1.NodeInternalIP {
				agent.IPAddress = addr.Address
				break
			}
		}

		pods, err := c.clientset.CoreV1().Pods("").List(ctx, metav1.ListOptions{
			FieldSelector: "spec.nodeName=" + n.Name,
		})
		if err == nil {
			agent.TaskCount = len(pods.Items)
		}

		agents = append(agents, agent)
	}
	return agents, nil
}

// Drain cordons agentID (a node name) and evicts every pod on it,
// reporting true once zero evictable pods remain.
func (c *KubernetesConnector) Drain(ctx context.Context, agentID string) (bool, error) {
	node, err := c.clientset.CoreV1().Nodes().Get(ctx, agentID, metav1.GetOptions{})
	if err != nil {
		return false, fmt.Errorf("k8s connector: get node %s: %w", agentID, err)
	}

	if !node.Spec.Unschedulable {
		node.Spec.Unschedulable = true
		if _, err := c.clientset.CoreV1().Nodes().Update(ctx, node, metav1.UpdateOptions{}); err != nil {
			return false, fmt.Errorf("k8s connector: cordon node %s: %w", agentID, err)
		}
	}

	pods, err := c.clientset.CoreV1().Pods("").List(ctx, metav1.ListOptions{
		FieldSelector: "spec.nodeName=" + agentID,
	})
	if err != nil {
		return false, fmt.Errorf("k8s connector: list pods on %s: %w", agentID, err)
	}

	remaining := 0
	for _, pod := range pods.Items {
		if isDaemonSetPod(pod) || isMirrorPod(pod) {
			continue
		}
		remaining++

		err := c.clientset.PolicyV1().Evictions(pod.Namespace).Evict(ctx, &policyv1.Eviction{
			ObjectMeta: metav1.ObjectMeta{Name: pod.Name, Namespace: pod.Namespace},
		})
		if err != nil && !apierrors.IsNotFound(err) && !apierrors.IsTooManyRequests(err) {
			c.log.Warn("eviction failed", "pod", pod.Name, "node", agentID, "error", err)
		}
	}

	return remaining == 0, nil
}

// Uncordon clears the unschedulable taint set by Drain.
func (c *KubernetesConnector) Uncordon(ctx context.Context, agentID string) error {
	node, err := c.clientset.CoreV1().Nodes().Get(ctx, agentID, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("k8s connector: get node %s: %w", agentID, err)
	}
	if !node.Spec.Unschedulable {
		return nil
	}
	node.Spec.Unschedulable = false
	_, err = c.clientset.CoreV1().Nodes().Update(ctx, node, metav1.UpdateOptions{})
	if err != nil {
		return fmt.Errorf("k8s connector: uncordon node %s: %w", agentID, err)
	}
	return nil
}

// UnschedulablePods counts pods across the cluster stuck in Pending with
// no assigned node, the signal monitorPoolHealth polls as its pod-health
// latch.
func (c *KubernetesConnector) UnschedulablePods(ctx context.Context) (int, error) {
	pods, err := c.clientset.CoreV1().Pods("").List(ctx, metav1.ListOptions{})
	if err != nil {
		return 0, fmt.Errorf("k8s connector: list pods: %w", err)
	}

	count := 0
	for _, pod := range pods.Items {
		if pod.Status.Phase == corev1.PodPending && pod.Spec.NodeName == "" {
			count++
		}
	}
	return count, nil
}

func isDaemonSetPod(pod corev1.Pod) bool {
	for _, ref := range pod.OwnerReferences {
		if ref.Kind == "DaemonSet" {
			return true
		}
	}
	return false
}

func isMirrorPod(pod corev1.Pod) bool {
	_, ok := pod.Annotations["kubernetes.io/config.mirror"]
	return ok
}

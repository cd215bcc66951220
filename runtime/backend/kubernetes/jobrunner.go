package kubernetes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	k8s "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
)

const containerName = "worker"

// runLabel carries the Job name on its pods so a NetworkPolicy can select them.
const runLabel = "runtime.run"

// JobRunner runs pod specs as batch/v1 Jobs through client-go.
type JobRunner struct {
	client       k8s.Interface
	pollInterval time.Duration
}

// NewJobRunner returns a JobRunner using client.
func NewJobRunner(client k8s.Interface) *JobRunner {
	return &JobRunner{client: client, pollInterval: 500 * time.Millisecond}
}

// NewClientset builds a clientset from an explicit kubeconfig path,
// $KUBECONFIG, the in-cluster service account, or ~/.kube/config, in that
// order.
func NewClientset(kubeconfig string) (k8s.Interface, error) {
	cfg, err := buildRESTConfig(kubeconfig)
	if err != nil {
		return nil, err
	}
	return k8s.NewForConfig(cfg)
}

func buildRESTConfig(explicitPath string) (*rest.Config, error) {
	if explicitPath != "" {
		return clientcmd.BuildConfigFromFlags("", explicitPath)
	}
	if envPath := os.Getenv("KUBECONFIG"); envPath != "" {
		return clientcmd.BuildConfigFromFlags("", envPath)
	}
	inCluster, err := rest.InClusterConfig()
	if err == nil {
		return inCluster, nil
	}
	if home := homedir.HomeDir(); home != "" {
		path := filepath.Join(home, ".kube", "config")
		if _, statErr := os.Stat(path); statErr == nil {
			return clientcmd.BuildConfigFromFlags("", path)
		}
	}
	return nil, fmt.Errorf("no usable kubeconfig found: %w", err)
}

// Ping asks the API server for its version.
func (r *JobRunner) Ping(_ context.Context) error {
	_, err := r.client.Discovery().ServerVersion()
	return err
}

// Run creates a ConfigMap and a Job for spec, waits for the Job to finish,
// reads the pod's logs and deletes both objects.
func (r *JobRunner) Run(ctx context.Context, spec PodSpec) (PodResult, error) {
	if err := spec.Validate(); err != nil {
		return PodResult{}, err
	}
	start := time.Now()

	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: spec.Name, Namespace: spec.Namespace, Labels: spec.Labels},
		Data:       spec.Files,
	}
	if _, err := r.client.CoreV1().ConfigMaps(spec.Namespace).Create(ctx, cm, metav1.CreateOptions{}); err != nil {
		return PodResult{}, fmt.Errorf("%w: configmap: %v", ErrPodCreationFailed, err)
	}
	defer r.cleanup(ctx, spec)

	if isolated(spec) {
		if _, err := r.client.NetworkingV1().NetworkPolicies(spec.Namespace).Create(ctx, buildNetworkPolicy(spec), metav1.CreateOptions{}); err != nil {
			return PodResult{}, fmt.Errorf("%w: network policy: %v", ErrPodCreationFailed, err)
		}
	}

	if _, err := r.client.BatchV1().Jobs(spec.Namespace).Create(ctx, buildJob(spec), metav1.CreateOptions{}); err != nil {
		return PodResult{}, fmt.Errorf("%w: job: %v", ErrPodCreationFailed, err)
	}

	err := wait.PollUntilContextCancel(ctx, r.pollInterval, true, func(ctx context.Context) (bool, error) {
		job, err := r.client.BatchV1().Jobs(spec.Namespace).Get(ctx, spec.Name, metav1.GetOptions{})
		if err != nil {
			return false, err
		}
		return job.Status.Succeeded > 0 || job.Status.Failed > 0, nil
	})
	if err != nil {
		return PodResult{ExitCode: -1, Duration: time.Since(start)}, err
	}

	pod, err := r.jobPod(ctx, spec)
	if err != nil {
		return PodResult{ExitCode: -1, Duration: time.Since(start)}, err
	}
	result := PodResult{ExitCode: -1}
	for _, status := range pod.Status.ContainerStatuses {
		if status.Name != containerName || status.State.Terminated == nil {
			continue
		}
		result.ExitCode = int(status.State.Terminated.ExitCode)
		result.OOMKilled = status.State.Terminated.Reason == "OOMKilled"
	}

	logs, err := r.logs(ctx, spec.Namespace, pod.Name)
	result.Duration = time.Since(start)
	if err != nil {
		return result, err
	}
	result.Stdout = logs
	return result, nil
}

func (r *JobRunner) jobPod(ctx context.Context, spec PodSpec) (*corev1.Pod, error) {
	pods, err := r.client.CoreV1().Pods(spec.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: "job-name=" + spec.Name,
	})
	if err != nil {
		return nil, err
	}
	if len(pods.Items) == 0 {
		return nil, fmt.Errorf("job %s/%s has no pods", spec.Namespace, spec.Name)
	}
	return &pods.Items[len(pods.Items)-1], nil
}

func (r *JobRunner) logs(ctx context.Context, namespace, pod string) (string, error) {
	stream, err := r.client.CoreV1().Pods(namespace).GetLogs(pod, &corev1.PodLogOptions{Container: containerName}).Stream(ctx)
	if err != nil {
		return "", fmt.Errorf("read logs: %w", err)
	}
	defer stream.Close()
	var b strings.Builder
	if _, err := io.Copy(&b, stream); err != nil && !errors.Is(err, io.EOF) {
		return b.String(), fmt.Errorf("read logs: %w", err)
	}
	return b.String(), nil
}

func (r *JobRunner) cleanup(ctx context.Context, spec PodSpec) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	policy := metav1.DeletePropagationBackground
	opts := metav1.DeleteOptions{PropagationPolicy: &policy}
	_ = r.client.BatchV1().Jobs(spec.Namespace).Delete(ctx, spec.Name, opts)
	_ = r.client.CoreV1().ConfigMaps(spec.Namespace).Delete(ctx, spec.Name, opts)
	if isolated(spec) {
		_ = r.client.NetworkingV1().NetworkPolicies(spec.Namespace).Delete(ctx, spec.Name, opts)
	}
}

func isolated(spec PodSpec) bool {
	return spec.Security.NetworkMode == "none"
}

// buildNetworkPolicy denies all ingress and egress for the Job's pods.
// Enforcement depends on the cluster's network plugin.
func buildNetworkPolicy(spec PodSpec) *networkingv1.NetworkPolicy {
	return &networkingv1.NetworkPolicy{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.Name,
			Namespace: spec.Namespace,
			Labels:    spec.Labels,
		},
		Spec: networkingv1.NetworkPolicySpec{
			PodSelector: metav1.LabelSelector{MatchLabels: map[string]string{runLabel: spec.Name}},
			PolicyTypes: []networkingv1.PolicyType{networkingv1.PolicyTypeIngress, networkingv1.PolicyTypeEgress},
		},
	}
}

func podLabels(spec PodSpec) map[string]string {
	labels := make(map[string]string, len(spec.Labels)+1)
	for k, v := range spec.Labels {
		labels[k] = v
	}
	labels[runLabel] = spec.Name
	return labels
}

func buildJob(spec PodSpec) *batchv1.Job {
	deadline := int64(math.Ceil(spec.Timeout.Seconds()))
	if deadline <= 0 {
		deadline = 60
	}
	backoff := int32(0)
	falseVal := false
	trueVal := true
	uid := spec.Security.UID
	pod := corev1.PodSpec{
		RestartPolicy:                corev1.RestartPolicyNever,
		AutomountServiceAccountToken: &falseVal,
		ServiceAccountName:           spec.ServiceAccount,
		SecurityContext: &corev1.PodSecurityContext{
			RunAsNonRoot:   &trueVal,
			RunAsUser:      &uid,
			RunAsGroup:     &uid,
			SeccompProfile: seccompProfile(spec.Security),
		},
		Containers: []corev1.Container{{
			Name:       containerName,
			Image:      spec.Image,
			Command:    spec.Command,
			Env:        envVars(spec.Env),
			WorkingDir: "/tmp",
			Resources:  resources(spec.Resources),
			SecurityContext: &corev1.SecurityContext{
				ReadOnlyRootFilesystem:   &spec.Security.ReadOnlyRootfs,
				AllowPrivilegeEscalation: &falseVal,
				Privileged:               &falseVal,
				Capabilities:             &corev1.Capabilities{Drop: []corev1.Capability{"ALL"}},
			},
			VolumeMounts: []corev1.VolumeMount{
				{Name: "payload", MountPath: spec.MountPath, ReadOnly: true},
				{Name: "tmp", MountPath: "/tmp"},
			},
		}},
		Volumes: []corev1.Volume{
			{
				Name: "payload",
				VolumeSource: corev1.VolumeSource{
					ConfigMap: &corev1.ConfigMapVolumeSource{
						LocalObjectReference: corev1.LocalObjectReference{Name: spec.Name},
					},
				},
			},
			{
				Name: "tmp",
				VolumeSource: corev1.VolumeSource{
					EmptyDir: &corev1.EmptyDirVolumeSource{
						Medium:    corev1.StorageMediumMemory,
						SizeLimit: resource.NewQuantity(spec.Resources.TmpBytes, resource.BinarySI),
					},
				},
			},
		},
	}
	if spec.RuntimeClassName != "" {
		rc := spec.RuntimeClassName
		pod.RuntimeClassName = &rc
	}

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.Name,
			Namespace: spec.Namespace,
			Labels:    spec.Labels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:          &backoff,
			ActiveDeadlineSeconds: &deadline,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: podLabels(spec)},
				Spec:       pod,
			},
		},
	}
}

func seccompProfile(sec SecuritySpec) *corev1.SeccompProfile {
	if sec.SeccompLocalhost != "" {
		path := sec.SeccompLocalhost
		return &corev1.SeccompProfile{Type: corev1.SeccompProfileTypeLocalhost, LocalhostProfile: &path}
	}
	return &corev1.SeccompProfile{Type: corev1.SeccompProfileTypeRuntimeDefault}
}

func resources(r ResourceSpec) corev1.ResourceRequirements {
	limits := corev1.ResourceList{}
	if r.MemoryBytes > 0 {
		limits[corev1.ResourceMemory] = *resource.NewQuantity(r.MemoryBytes, resource.BinarySI)
	}
	if r.CPUMillis > 0 {
		limits[corev1.ResourceCPU] = *resource.NewMilliQuantity(r.CPUMillis, resource.DecimalSI)
	}
	return corev1.ResourceRequirements{Limits: limits, Requests: limits}
}

func envVars(env []string) []corev1.EnvVar {
	out := make([]corev1.EnvVar, 0, len(env))
	for _, kv := range env {
		name, value, _ := strings.Cut(kv, "=")
		out = append(out, corev1.EnvVar{Name: name, Value: value})
	}
	return out
}

var (
	_ PodRunner     = (*JobRunner)(nil)
	_ HealthChecker = (*JobRunner)(nil)
)

package kubernetes

import (
	"context"
	"errors"
	"testing"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	kruntime "k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

func testPodSpec() PodSpec {
	return PodSpec{
		Name:             "geoexec-test",
		Namespace:        "sandbox",
		Image:            "geoexec-sandbox:latest",
		Command:          []string{"python3", "-I", "-B", "/geoexec/driver.py"},
		Env:              []string{"GEOEXEC_ENVELOPE=/geoexec/envelope.json"},
		RuntimeClassName: "gvisor",
		Files:            map[string]string{envelopeFile: "{}", driverFile: "pass"},
		MountPath:        mountPath,
		Resources:        ResourceSpec{MemoryBytes: 256 << 20, CPUMillis: 500, TmpBytes: 1 << 20},
		Security:         SecuritySpec{UID: nobody, ReadOnlyRootfs: true, NetworkMode: "none"},
		Timeout:          1500 * time.Millisecond,
		Labels:           map[string]string{"runtime.backend": "kubernetes"},
	}
}

func finishedClient(terminated corev1.ContainerStateTerminated) *fake.Clientset {
	spec := testPodSpec()
	kc := fake.NewSimpleClientset(&corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.Name + "-abcde",
			Namespace: spec.Namespace,
			Labels:    map[string]string{"job-name": spec.Name},
		},
		Status: corev1.PodStatus{
			ContainerStatuses: []corev1.ContainerStatus{{
				Name:  containerName,
				State: corev1.ContainerState{Terminated: &terminated},
			}},
		},
	})
	kc.PrependReactor("get", "jobs", func(action k8stesting.Action) (bool, kruntime.Object, error) {
		get := action.(k8stesting.GetAction)
		return true, &batchv1.Job{
			ObjectMeta: metav1.ObjectMeta{Name: get.GetName(), Namespace: get.GetNamespace()},
			Status:     batchv1.JobStatus{Succeeded: 1},
		}, nil
	})
	return kc
}

func TestJobRunnerRun(t *testing.T) {
	kc := finishedClient(corev1.ContainerStateTerminated{ExitCode: 0, Reason: "Completed"})
	r := NewJobRunner(kc)
	r.pollInterval = time.Millisecond

	result, err := r.Run(context.Background(), testPodSpec())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", result.ExitCode)
	}
	if result.Stdout != "fake logs" {
		t.Errorf("Stdout = %q, want fake logs", result.Stdout)
	}

	var created *batchv1.Job
	var policy *networkingv1.NetworkPolicy
	var deletedJob, deletedConfig, deletedPolicy bool
	for _, action := range kc.Actions() {
		switch a := action.(type) {
		case k8stesting.CreateAction:
			switch obj := a.GetObject().(type) {
			case *batchv1.Job:
				created = obj
			case *networkingv1.NetworkPolicy:
				if created != nil {
					t.Error("network policy created after the job")
				}
				policy = obj
			}
		case k8stesting.DeleteAction:
			switch a.GetResource().Resource {
			case "jobs":
				deletedJob = true
			case "configmaps":
				deletedConfig = true
			case "networkpolicies":
				deletedPolicy = true
			}
		}
	}
	if created == nil {
		t.Fatal("no job created")
	}
	if !deletedJob || !deletedConfig || !deletedPolicy {
		t.Errorf("cleanup deleted job=%v configmap=%v policy=%v, want all", deletedJob, deletedConfig, deletedPolicy)
	}

	if policy == nil {
		t.Fatal("no network policy created for an isolated pod")
	}
	if got := policy.Spec.PodSelector.MatchLabels[runLabel]; got != created.Name {
		t.Errorf("policy selects %s=%q, want %q", runLabel, got, created.Name)
	}
	if created.Spec.Template.Labels[runLabel] != created.Name {
		t.Errorf("pod labels = %v, want %s=%s", created.Spec.Template.Labels, runLabel, created.Name)
	}
	if len(policy.Spec.PolicyTypes) != 2 || len(policy.Spec.Ingress) != 0 || len(policy.Spec.Egress) != 0 {
		t.Errorf("policy spec = %+v, want deny-all ingress and egress", policy.Spec)
	}

	pod := created.Spec.Template.Spec
	if *created.Spec.BackoffLimit != 0 {
		t.Errorf("BackoffLimit = %d, want 0", *created.Spec.BackoffLimit)
	}
	if *created.Spec.ActiveDeadlineSeconds != 2 {
		t.Errorf("ActiveDeadlineSeconds = %d, want 2", *created.Spec.ActiveDeadlineSeconds)
	}
	if pod.RuntimeClassName == nil || *pod.RuntimeClassName != "gvisor" {
		t.Errorf("RuntimeClassName = %v, want gvisor", pod.RuntimeClassName)
	}
	if *pod.AutomountServiceAccountToken {
		t.Error("service account token is mounted")
	}
	c := pod.Containers[0]
	if !*c.SecurityContext.ReadOnlyRootFilesystem || *c.SecurityContext.AllowPrivilegeEscalation {
		t.Errorf("container security = %+v", c.SecurityContext)
	}
	if got := c.Resources.Limits.Memory().Value(); got != 256<<20 {
		t.Errorf("memory limit = %d, want %d", got, 256<<20)
	}
	if got := c.Resources.Limits.Cpu().MilliValue(); got != 500 {
		t.Errorf("cpu limit = %dm, want 500m", got)
	}
	if pod.SecurityContext.SeccompProfile.Type != corev1.SeccompProfileTypeRuntimeDefault {
		t.Errorf("seccomp = %v, want RuntimeDefault", pod.SecurityContext.SeccompProfile.Type)
	}
}

func TestJobRunnerReportsOOM(t *testing.T) {
	kc := finishedClient(corev1.ContainerStateTerminated{ExitCode: 137, Reason: "OOMKilled"})
	r := NewJobRunner(kc)
	r.pollInterval = time.Millisecond

	result, err := r.Run(context.Background(), testPodSpec())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.OOMKilled || result.ExitCode != 137 {
		t.Errorf("result = %+v, want OOMKilled with exit 137", result)
	}
}

func TestJobRunnerCanceled(t *testing.T) {
	kc := fake.NewSimpleClientset()
	r := NewJobRunner(kc)
	r.pollInterval = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Run(ctx, testPodSpec())
	if err == nil {
		t.Fatal("Run() error = nil, want context error")
	}
}

func TestJobRunnerPing(t *testing.T) {
	if err := NewJobRunner(fake.NewSimpleClientset()).Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestSeccompLocalhost(t *testing.T) {
	p := seccompProfile(SecuritySpec{SeccompLocalhost: "profiles/geoexec.json"})
	if p.Type != corev1.SeccompProfileTypeLocalhost || *p.LocalhostProfile != "profiles/geoexec.json" {
		t.Errorf("seccompProfile() = %+v", p)
	}
}

func TestJobRunnerSkipsPolicyWithNetwork(t *testing.T) {
	kc := finishedClient(corev1.ContainerStateTerminated{ExitCode: 0, Reason: "Completed"})
	r := NewJobRunner(kc)
	r.pollInterval = time.Millisecond

	spec := testPodSpec()
	spec.Security.NetworkMode = "default"
	if _, err := r.Run(context.Background(), spec); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for _, action := range kc.Actions() {
		if action.GetResource().Resource == "networkpolicies" {
			t.Errorf("unexpected %s on networkpolicies", action.GetVerb())
		}
	}
}

func TestJobRunnerPolicyFailureStopsRun(t *testing.T) {
	kc := finishedClient(corev1.ContainerStateTerminated{ExitCode: 0})
	kc.PrependReactor("create", "networkpolicies", func(k8stesting.Action) (bool, kruntime.Object, error) {
		return true, nil, errors.New("forbidden")
	})
	r := NewJobRunner(kc)
	r.pollInterval = time.Millisecond

	_, err := r.Run(context.Background(), testPodSpec())
	if !errors.Is(err, ErrPodCreationFailed) {
		t.Fatalf("Run() error = %v, want %v", err, ErrPodCreationFailed)
	}
	for _, action := range kc.Actions() {
		if action.GetVerb() == "create" && action.GetResource().Resource == "jobs" {
			t.Error("job created although its network policy failed")
		}
	}
}

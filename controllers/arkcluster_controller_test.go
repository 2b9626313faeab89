package controllers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"

	arkv1beta1 "github.com/AngellusMortis/ark-operator/api/v1beta1"
)

const (
	timeout  = time.Second * 30
	interval = time.Millisecond * 250
)

// cdnBuildID is read by fakeCDNTransport on every round trip, letting a spec
// bump the upstream build id without touching the shared manager's wiring.
var cdnBuildID int64 = 100

// fakeCDNTransport answers the Steam branch-info call the operator issues
// from buildcheck.LatestBuildID with a canned "public" branch buildid, so
// the rolling-update path can be driven without reaching the real network.
type fakeCDNTransport struct{}

func (fakeCDNTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	body := fmt.Sprintf(`{"data":{"2430930":{"depots":{"branches":{"public":{"buildid":"%d"}}}}}}`, atomic.LoadInt64(&cdnBuildID))
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

// completeJob simulates the kubelet/job-controller machinery envtest does
// not run: it marks the named Job succeeded so the reconciler's completion
// poll (job.Status.CompletionTime) observes it.
func completeJob(ctx context.Context, namespace, name string) {
	Eventually(func() error {
		var job batchv1.Job
		if err := k8sClient.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, &job); err != nil {
			return err
		}
		now := metav1.Now()
		job.Status.Succeeded = 1
		job.Status.CompletionTime = &now
		return k8sClient.Status().Update(ctx, &job)
	}, timeout, interval).Should(Succeed())
}

var _ = Describe("ArkCluster Controller", func() {
	Context("When creating a minimal cluster", func() {
		It("provisions PVCs and reaches Running once the init job completes", func() {
			ctx := context.Background()
			name := "minimal-cluster"

			cluster := &arkv1beta1.ArkCluster{
				ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "default"},
				Spec: arkv1beta1.ArkClusterSpec{
					Server: arkv1beta1.ArkServerSpec{
						Size: "2Mi",
						Maps: []string{"BobsMissions_WP"},
					},
					Data: arkv1beta1.ArkDataSpec{Size: "2Mi"},
				},
			}
			Expect(k8sClient.Create(ctx, cluster)).To(Succeed())

			for _, pvcName := range []string{name + "-server-a", name + "-server-b", name + "-data"} {
				Eventually(func() error {
					var pvc corev1.PersistentVolumeClaim
					return k8sClient.Get(ctx, types.NamespacedName{Namespace: "default", Name: pvcName}, &pvc)
				}, timeout, interval).Should(Succeed())
			}

			completeJob(ctx, "default", name+"-init")

			Eventually(func() string {
				var got arkv1beta1.ArkCluster
				if err := k8sClient.Get(ctx, types.NamespacedName{Namespace: "default", Name: name}, &got); err != nil {
					return ""
				}
				return got.Status.State
			}, timeout, interval).Should(Equal("Running"))

			var got arkv1beta1.ArkCluster
			Expect(k8sClient.Get(ctx, types.NamespacedName{Namespace: "default", Name: name}, &got)).To(Succeed())
			Expect(got.Status.Ready).To(BeTrue())
		})
	})

	Context("When the requested PVC size is below the operator floor", func() {
		It("rejects the cluster with a terminal too-small error", func() {
			ctx := context.Background()
			name := "tiny-cluster"

			cluster := &arkv1beta1.ArkCluster{
				ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "default"},
				Spec: arkv1beta1.ArkClusterSpec{
					Server: arkv1beta1.ArkServerSpec{
						Size: "1Ki",
						Maps: []string{"BobsMissions_WP"},
					},
					Data: arkv1beta1.ArkDataSpec{Size: "2Mi"},
				},
			}
			Expect(k8sClient.Create(ctx, cluster)).To(Succeed())

			Eventually(func() string {
				var got arkv1beta1.ArkCluster
				if err := k8sClient.Get(ctx, types.NamespacedName{Namespace: "default", Name: name}, &got); err != nil {
					return ""
				}
				return got.Status.State
			}, timeout, interval).Should(Equal("Error: PVC is too small. Min size is 1Mi"))
		})
	})

	Context("When a newer upstream build id appears", func() {
		It("rolls the active cluster onto the other server volume", func() {
			ctx := context.Background()
			name := "rolling-cluster"
			atomic.StoreInt64(&cdnBuildID, 100)

			cluster := &arkv1beta1.ArkCluster{
				ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "default"},
				Spec: arkv1beta1.ArkClusterSpec{
					Server: arkv1beta1.ArkServerSpec{
						Size: "2Mi",
						Maps: []string{"BobsMissions_WP"},
					},
					Data: arkv1beta1.ArkDataSpec{Size: "2Mi"},
				},
			}
			Expect(k8sClient.Create(ctx, cluster)).To(Succeed())

			completeJob(ctx, "default", name+"-init")

			Eventually(func() bool {
				var got arkv1beta1.ArkCluster
				if err := k8sClient.Get(ctx, types.NamespacedName{Namespace: "default", Name: name}, &got); err != nil {
					return false
				}
				return got.Status.Ready && got.Status.ActiveBuildid == 100
			}, timeout, interval).Should(BeTrue())

			atomic.StoreInt64(&cdnBuildID, 200)

			// Nudge the reconciler onto a fresh pass rather than waiting out
			// BuildCheckInterval: any spec-visible change requeues immediately.
			var toBump arkv1beta1.ArkCluster
			Expect(k8sClient.Get(ctx, types.NamespacedName{Namespace: "default", Name: name}, &toBump)).To(Succeed())
			if toBump.Annotations == nil {
				toBump.Annotations = map[string]string{}
			}
			toBump.Annotations["ark-operator/bump"] = "1"
			Expect(k8sClient.Update(ctx, &toBump)).To(Succeed())

			completeJob(ctx, "default", name+"-update")

			Eventually(func() string {
				var got arkv1beta1.ArkCluster
				if err := k8sClient.Get(ctx, types.NamespacedName{Namespace: "default", Name: name}, &got); err != nil {
					return ""
				}
				return got.Status.ActiveVolume
			}, timeout, interval).Should(Equal("server-b"))

			var got arkv1beta1.ArkCluster
			Expect(k8sClient.Get(ctx, types.NamespacedName{Namespace: "default", Name: name}, &got)).To(Succeed())
			Expect(got.Status.ActiveBuildid).To(Equal(int64(200)))
		})
	})
})

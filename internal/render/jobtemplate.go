package render

import (
	"bytes"
	"fmt"
	"text/template"

	corev1 "k8s.io/api/core/v1"
	"gopkg.in/yaml.v3"

	arkv1beta1 "github.com/AngellusMortis/ark-operator/api/v1beta1"
)

// initJobPodSpecYAML is the one-shot init/update job container, authored as
// YAML and unmarshalled after variable substitution — mirroring the
// teacher's ApplicationInstallReconciler, which parses a manifest string with
// yaml.Unmarshal instead of building the struct directly.
const jobPodSpecYAML = `
securityContext:
  runAsUser: {{ .RunAsUser }}
  runAsGroup: {{ .RunAsGroup }}
  fsGroup: {{ .RunAsGroup }}
containers:
  - name: ark-{{ .Mode }}
    image: ghcr.io/angellusmortis/ark-server:latest
    command: ["ark-operator-init", "--mode", "{{ .Mode }}"]
    env:
      - name: ARK_OPERATOR_SPEC
        value: {{ .SpecJSON | printf "%q" }}
    volumeMounts:
      - name: server-a
        mountPath: /srv/ark/server-a
      - name: server-b
        mountPath: /srv/ark/server-b
      - name: data
        mountPath: /srv/ark/data
restartPolicy: Never
volumes:
  - name: server-a
    persistentVolumeClaim:
      claimName: {{ .ServerAName }}
  - name: server-b
    persistentVolumeClaim:
      claimName: {{ .ServerBName }}
  - name: data
    persistentVolumeClaim:
      claimName: {{ .DataName }}
`

var jobPodSpecTemplate = template.Must(template.New("jobPodSpec").Parse(jobPodSpecYAML))

type jobPodSpecVars struct {
	Mode        string
	SpecJSON    string
	RunAsUser   int64
	RunAsGroup  int64
	ServerAName string
	ServerBName string
	DataName    string
}

func jobPodSpec(c *arkv1beta1.ArkCluster, mode, specJSON string) (corev1.PodSpec, error) {
	vars := jobPodSpecVars{
		Mode:        mode,
		SpecJSON:    specJSON,
		RunAsUser:   c.Spec.RunAsUser,
		RunAsGroup:  c.Spec.RunAsGroup,
		ServerAName: ServerPVCName(c.Name, "a"),
		ServerBName: ServerPVCName(c.Name, "b"),
		DataName:    DataPVCName(c.Name),
	}

	var buf bytes.Buffer
	if err := jobPodSpecTemplate.Execute(&buf, vars); err != nil {
		return corev1.PodSpec{}, fmt.Errorf("render job pod spec template: %w", err)
	}

	var spec corev1.PodSpec
	if err := yaml.Unmarshal(buf.Bytes(), &spec); err != nil {
		return corev1.PodSpec{}, fmt.Errorf("unmarshal job pod spec: %w", err)
	}
	spec.NodeSelector = c.Spec.NodeSelector
	spec.Tolerations = c.Spec.Tolerations
	return spec, nil
}

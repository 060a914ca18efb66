//go:build e2e

/*
Copyright (c) 2026 praefect-ai
SPDX-License-Identifier: MIT
*/

package e2e

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const namespace = "praefect-system"

// run executes a command from the project root and returns its combined output.
func run(cmd *exec.Cmd) ([]byte, error) {
	cmd.Env = append(os.Environ(), "GO111MODULE=on")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("%s failed: %s: %w", strings.Join(cmd.Args, " "), string(output), err)
	}
	return output, nil
}

func kubectlGet(resource, name, jsonpath string) (string, error) {
	cmd := exec.Command("kubectl", "get", resource, name,
		"-n", namespace, "-o", "jsonpath="+jsonpath)
	out, err := run(cmd)
	return string(out), err
}

var _ = Describe("operator", Ordered, func() {
	BeforeAll(func() {
		By("creating operator namespace")
		cmd := exec.Command("kubectl", "create", "ns", namespace)
		_, _ = run(cmd)
	})

	AfterAll(func() {
		By("removing operator namespace")
		cmd := exec.Command("kubectl", "delete", "ns", namespace)
		_, _ = run(cmd)
	})

	Context("Operator", func() {
		It("should run successfully", func() {
			var controllerPodName string
			var err error

			var projectimage = "example.com/praefect:v0.0.1"

			By("building the operator image")
			cmd := exec.Command("make", "docker-build", fmt.Sprintf("IMG=%s", projectimage))
			_, err = run(cmd)
			ExpectWithOffset(1, err).NotTo(HaveOccurred())

			By("loading the operator image on Kind")
			cmd = exec.Command("kind", "load", "docker-image", projectimage)
			_, err = run(cmd)
			ExpectWithOffset(1, err).NotTo(HaveOccurred())

			By("installing CRDs")
			cmd = exec.Command("make", "install")
			_, err = run(cmd)
			ExpectWithOffset(1, err).NotTo(HaveOccurred())

			By("deploying the operator")
			cmd = exec.Command("make", "deploy", fmt.Sprintf("IMG=%s", projectimage))
			_, err = run(cmd)
			ExpectWithOffset(1, err).NotTo(HaveOccurred())

			By("validating that the operator pod is running as expected")
			verifyControllerUp := func() error {
				cmd = exec.Command("kubectl", "get",
					"pods", "-l", "control-plane=controller-manager",
					"-o", "go-template={{ range .items }}"+
						"{{ if not .metadata.deletionTimestamp }}"+
						"{{ .metadata.name }}"+
						"{{ \"\\n\" }}{{ end }}{{ end }}",
					"-n", namespace,
				)
				podOutput, err := run(cmd)
				ExpectWithOffset(2, err).NotTo(HaveOccurred())
				var podNames []string
				for _, line := range strings.Split(string(podOutput), "\n") {
					if strings.TrimSpace(line) != "" {
						podNames = append(podNames, strings.TrimSpace(line))
					}
				}
				if len(podNames) != 1 {
					return fmt.Errorf("expect 1 operator pod running, but got %d", len(podNames))
				}
				controllerPodName = podNames[0]
				ExpectWithOffset(2, controllerPodName).Should(ContainSubstring("controller-manager"))

				status, err := kubectlGet("pods", controllerPodName, "{.status.phase}")
				ExpectWithOffset(2, err).NotTo(HaveOccurred())
				if status != "Running" {
					return fmt.Errorf("operator pod in %s status", status)
				}
				return nil
			}
			EventuallyWithOffset(1, verifyControllerUp, time.Minute, time.Second).Should(Succeed())
		})
	})

	Context("CodeTask lifecycle", func() {
		It("should launch an attempt with its bundle and job", func() {
			By("creating a CodeTask")
			cmd := exec.Command("kubectl", "apply", "-f", "-")
			cmd.Stdin = codeTaskManifest("e2e-code-test", 1)
			_, err := run(cmd)
			Expect(err).NotTo(HaveOccurred())

			By("waiting for the task to start running")
			verifyRunning := func() error {
				phase, err := kubectlGet("codetask", "e2e-code-test", "{.status.phase}")
				if err != nil {
					return err
				}
				if phase != "Running" && phase != "Succeeded" && phase != "Failed" {
					return fmt.Errorf("task phase is %s, waiting for launch", phase)
				}
				return nil
			}
			EventuallyWithOffset(1, verifyRunning, 2*time.Minute, 5*time.Second).Should(Succeed())

			By("checking the attempt bundle exists and is immutable")
			immutable, err := kubectlGet("configmap", "e2e-code-test-a1-bundle", "{.immutable}")
			Expect(err).NotTo(HaveOccurred())
			Expect(immutable).To(Equal("true"))

			By("checking the attempt job exists with backoffLimit 0")
			backoff, err := kubectlGet("job", "e2e-code-test-a1", "{.spec.backoffLimit}")
			Expect(err).NotTo(HaveOccurred())
			Expect(backoff).To(Equal("0"))

			By("checking the workspace claim exists")
			_, err = kubectlGet("pvc", "workspace-e2e-billing", "{.metadata.name}")
			Expect(err).NotTo(HaveOccurred())

			By("checking a session id was minted")
			session, err := kubectlGet("codetask", "e2e-code-test", "{.status.sessionId}")
			Expect(err).NotTo(HaveOccurred())
			Expect(session).NotTo(BeEmpty())

			By("cleaning up")
			cmd = exec.Command("kubectl", "delete", "codetask", "e2e-code-test", "-n", namespace)
			_, _ = run(cmd)
		})

		It("should re-arm a failed task when the context version is bumped", func() {
			By("creating a CodeTask that will fail its deadline")
			cmd := exec.Command("kubectl", "apply", "-f", "-")
			cmd.Stdin = codeTaskManifest("e2e-retry-test", 1)
			_, err := run(cmd)
			Expect(err).NotTo(HaveOccurred())

			By("waiting for a terminal phase")
			verifyTerminal := func() error {
				phase, err := kubectlGet("codetask", "e2e-retry-test", "{.status.phase}")
				if err != nil {
					return err
				}
				if phase != "Succeeded" && phase != "Failed" {
					return fmt.Errorf("task phase is %s, waiting for terminal", phase)
				}
				return nil
			}
			EventuallyWithOffset(1, verifyTerminal, 5*time.Minute, 10*time.Second).Should(Succeed())

			phase, err := kubectlGet("codetask", "e2e-retry-test", "{.status.phase}")
			Expect(err).NotTo(HaveOccurred())
			if phase != "Failed" {
				Skip("task succeeded on the first attempt, retry path not exercised")
			}

			By("bumping the context version")
			cmd = exec.Command("kubectl", "apply", "-f", "-")
			cmd.Stdin = codeTaskManifest("e2e-retry-test", 2)
			_, err = run(cmd)
			Expect(err).NotTo(HaveOccurred())

			By("waiting for the second attempt to launch")
			verifySecondAttempt := func() error {
				attempts, err := kubectlGet("codetask", "e2e-retry-test", "{.status.attempts}")
				if err != nil {
					return err
				}
				if attempts != "2" {
					return fmt.Errorf("attempts = %s, waiting for 2", attempts)
				}
				return nil
			}
			EventuallyWithOffset(1, verifySecondAttempt, 2*time.Minute, 5*time.Second).Should(Succeed())

			By("checking the superseded attempt's job is gone")
			verifySuperseded := func() error {
				out, _ := kubectlGet("job", "e2e-retry-test-a1", "{.metadata.name}")
				if out != "" {
					return fmt.Errorf("first attempt job still present")
				}
				return nil
			}
			EventuallyWithOffset(1, verifySuperseded, time.Minute, 5*time.Second).Should(Succeed())

			By("cleaning up")
			cmd = exec.Command("kubectl", "delete", "codetask", "e2e-retry-test", "-n", namespace)
			_, _ = run(cmd)
		})
	})

	Context("DocTask lifecycle", func() {
		It("should launch a documentation attempt without a workspace claim", func() {
			By("creating a DocTask")
			cmd := exec.Command("kubectl", "apply", "-f", "-")
			cmd.Stdin = docTaskManifest("e2e-doc-test")
			_, err := run(cmd)
			Expect(err).NotTo(HaveOccurred())

			By("waiting for the task to start running")
			verifyRunning := func() error {
				phase, err := kubectlGet("doctask", "e2e-doc-test", "{.status.phase}")
				if err != nil {
					return err
				}
				if phase == "" || phase == "Pending" {
					return fmt.Errorf("task phase is %q, waiting for launch", phase)
				}
				return nil
			}
			EventuallyWithOffset(1, verifyRunning, 2*time.Minute, 5*time.Second).Should(Succeed())

			By("checking the job uses an ephemeral workspace")
			out, err := kubectlGet("job", "e2e-doc-test-a1",
				"{.spec.template.spec.volumes[?(@.name=='workspace')].emptyDir}")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).NotTo(BeEmpty())

			By("cleaning up")
			cmd = exec.Command("kubectl", "delete", "doctask", "e2e-doc-test", "-n", namespace)
			_, _ = run(cmd)
		})
	})
})

func codeTaskManifest(name string, contextVersion int) *strings.Reader {
	manifest := fmt.Sprintf(`apiVersion: tasks.praefect.dev/v1alpha1
kind: CodeTask
metadata:
  name: %s
  namespace: %s
spec:
  service: e2e-billing
  repositoryUrl: https://git.example.com/org/e2e-billing
  gitUser: e2e-bot
  contextVersion: %d
`, name, namespace, contextVersion)
	return strings.NewReader(manifest)
}

func docTaskManifest(name string) *strings.Reader {
	manifest := fmt.Sprintf(`apiVersion: tasks.praefect.dev/v1alpha1
kind: DocTask
metadata:
  name: %s
  namespace: %s
spec:
  service: e2e-billing
  repositoryUrl: https://git.example.com/org/e2e-billing
  gitUser: e2e-bot
  docsProjectDirectory: docs
`, name, namespace)
	return strings.NewReader(manifest)
}

package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// checkToolStatus returns a string indicating the status of required tools.
func checkToolStatus() string {
	var status strings.Builder
	status.WriteString("\nPrerequisites:\n")

	trivy := os.Getenv("TRIVY_BIN")
	if trivy == "" {
		trivy = "trivy"
	}
	if path, err := exec.LookPath(trivy); err == nil {
		fmt.Fprintf(&status, "  [OK] trivy (%s)\n", path)
	} else {
		fmt.Fprintf(&status, "  [MISSING] trivy (%s not found, set TRIVY_BIN)\n", trivy)
	}

	if host := os.Getenv("DOCKER_HOST"); host != "" {
		fmt.Fprintf(&status, "  [OK] docker (DOCKER_HOST=%s)\n", host)
	} else if _, err := os.Stat("/var/run/docker.sock"); err == nil {
		status.WriteString("  [OK] docker (/var/run/docker.sock)\n")
	} else {
		status.WriteString("  [MISSING] docker socket (mount /var/run/docker.sock or set DOCKER_HOST)\n")
	}
	return status.String()
}

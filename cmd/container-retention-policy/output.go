package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/ghcr-tools/container-retention-policy/internal/executor"
)

// writeGithubOutput appends deleted= and failed= key-value lines to the
// file named by GITHUB_OUTPUT, the step-output convention GitHub Actions
// runners expose to their steps (spec §6).
func writeGithubOutput(path string, results executor.Results) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "deleted=%s\n", strings.Join(results.Deleted, ",")); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "failed=%s\n", strings.Join(results.Failed, ",")); err != nil {
		return err
	}
	return nil
}

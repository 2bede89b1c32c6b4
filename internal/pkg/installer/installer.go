// Package installer drives the platform package manager. Unlike a plain
// exec-and-forget, every invocation's exit status and stderr are inspected
// and mapped to explicit errors.
package installer

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/mbferror"
)

// CommandRunner executes one external command synchronously.
type CommandRunner interface {
	Run(name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.Command(name, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err := cmd.Run()
	return outBuf.Bytes(), errBuf.Bytes(), err
}

type Installer struct {
	runner CommandRunner
	apkID  string
}

func New(apkID string) *Installer {
	return &Installer{runner: execRunner{}, apkID: apkID}
}

// NewWithRunner injects a command runner, used by tests.
func NewWithRunner(apkID string, runner CommandRunner) *Installer {
	return &Installer{runner: runner, apkID: apkID}
}

// Uninstall removes the currently installed package.
func (i *Installer) Uninstall() error {
	return i.run("pm", "uninstall", i.apkID)
}

// Install installs the package from the given path.
func (i *Installer) Install(apkPath string) error {
	return i.run("pm", "install", apkPath)
}

// GrantManageStorage grants the elevated storage permission the modded app
// needs to read mods from the shared storage.
func (i *Installer) GrantManageStorage() error {
	return i.run("appops", "set", "--uid", i.apkID, "MANAGE_EXTERNAL_STORAGE", "allow")
}

func (i *Installer) run(name string, args ...string) error {
	log.Debugf("Running %s %s", name, strings.Join(args, " "))
	stdout, stderr, err := i.runner.Run(name, args...)
	if err != nil {
		return fmt.Errorf("%w: `%s %s`: %s (stderr: %s)",
			mbferror.ErrCommandFailed, name, strings.Join(args, " "), err, strings.TrimSpace(string(stderr)))
	}
	// pm reports some failures on stdout with a zero exit status.
	if out := strings.TrimSpace(string(stdout)); strings.Contains(out, "Failure") {
		return fmt.Errorf("%w: `%s %s`: %s", mbferror.ErrCommandFailed, name, strings.Join(args, " "), out)
	}
	return nil
}

package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
)

const (
	EnvConfigFile = "GLS_CONFIG"
	EnvDBFile     = "GLS_DB"
	EnvVerbose    = "GLS_VERBOSE"
)

// ExtensionEnv returns the environment of an extension: the current one and
// the global flags.
func ExtensionEnv() []string {
	return append(os.Environ(),
		EnvConfigFile+"="+*configFile,
		EnvDBFile+"="+*dbFile,
		EnvVerbose+"="+strconv.FormatBool(*Verbose),
	)
}

// RunExtension attempts to find and execute an external gls-<subcommand> binary.
// It returns (true, exitCode) if an extension was found and executed,
// and (false, 0) if no extension was found.
func RunExtension(subcommand string, args []string) (bool, int) {
	name := "gls-" + subcommand
	lp, err := exec.LookPath(name)
	if err != nil {
		logger.Sugar().Debugf("external command %q not found in PATH: %v", name, err)
		return false, 0
	}

	cmd := exec.Command(lp, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = ExtensionEnv()

	if err := cmd.Run(); err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			return true, exitError.ExitCode()
		}
		fmt.Fprintf(os.Stderr, "Error executing external command %q: %v\n", name, err)
		return true, 1
	}
	return true, 0
}

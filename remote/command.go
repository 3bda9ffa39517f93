package remote

import (
	"fmt"
	"io"
)

type Op string

// The closed vocabulary of remote operations. Each runs as one remote
// command with its own checked exit status.
const (
	OpTransfer     Op = "transfer"
	OpStopService  Op = "stop-service"
	OpInstall      Op = "install"
	OpStartService Op = "start-service"
	OpQueryVersion Op = "query-version"
)

// Command is one remote operation. The rendered line never contains
// secret material; credentials travel out of band on the SSH channel.
type Command struct {
	Op    Op
	Line  string
	Stdin io.Reader // payload for transfer, nil otherwise
}

// TransferArtifact streams the artifact to a staging path on the target.
func TransferArtifact(artifact io.Reader, stagingPath string) Command {
	return Command{
		Op:    OpTransfer,
		Line:  fmt.Sprintf("cat > %q && chmod 0755 %q", stagingPath, stagingPath),
		Stdin: artifact,
	}
}

func StopService(service string) Command {
	return Command{
		Op:   OpStopService,
		Line: fmt.Sprintf("sudo systemctl stop %q", service),
	}
}

// InstallArtifact moves the staged artifact into place and records the
// version marker the idempotence check reads back.
func InstallArtifact(stagingPath, installPath, version string) Command {
	return Command{
		Op: OpInstall,
		Line: fmt.Sprintf("sudo install -m 0755 %q %q && echo %q | sudo tee %q >/dev/null",
			stagingPath, installPath, version, versionFile(installPath)),
	}
}

func StartService(service string) Command {
	return Command{
		Op:   OpStartService,
		Line: fmt.Sprintf("sudo systemctl start %q", service),
	}
}

// QueryVersion prints the installed version marker, or nothing when no
// deploy has written one yet.
func QueryVersion(installPath string) Command {
	return Command{
		Op:   OpQueryVersion,
		Line: fmt.Sprintf("cat %q 2>/dev/null || true", versionFile(installPath)),
	}
}

func versionFile(installPath string) string {
	return installPath + ".version"
}

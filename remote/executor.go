package remote

import (
	"bytes"
	"context"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

// Result is the outcome of one remote command.
type Result struct {
	Op       Op     `json:"op"`
	ExitCode int    `json:"exitCode"`
	Output   string `json:"output,omitempty"`
}

// Executor runs an ordered command sequence on a deployment target.
// Commands run strictly in order; execution stops at the first non-zero
// exit. The returned results cover every command that ran, so partial
// execution is reported, not hidden.
type Executor interface {
	Execute(ctx context.Context, addr string, cred *Credential, cmds []Command) ([]Result, error)
}

// SSHExecutor executes commands over a single SSH connection per call,
// one session per command.
type SSHExecutor struct {
	DialTimeout     time.Duration
	HostKeyCallback ssh.HostKeyCallback
}

func NewSSHExecutor() *SSHExecutor {
	return &SSHExecutor{
		DialTimeout: 10 * time.Second,
		// Known-hosts checking is the host operator's concern; targets
		// are declared in target.yaml, not discovered.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
}

func (e *SSHExecutor) Execute(ctx context.Context, addr string, cred *Credential, cmds []Command) ([]Result, error) {
	client, err := e.dial(ctx, addr, cred)
	if err != nil {
		return nil, &ConnectionError{Addr: addr, Err: err}
	}
	defer client.Close()

	// A cancelled context tears the connection down, which unblocks any
	// in-flight session.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			client.Close()
		case <-done:
		}
	}()

	var results []Result
	for _, cmd := range cmds {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := runCommand(client, cmd)
		results = append(results, res)
		if err != nil {
			return results, err
		}
		if res.ExitCode != 0 {
			return results, &CommandError{Op: cmd.Op, ExitCode: res.ExitCode, Output: res.Output}
		}
	}
	return results, nil
}

func (e *SSHExecutor) dial(ctx context.Context, addr string, cred *Credential) (*ssh.Client, error) {
	timeout := e.DialTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}

	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            cred.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(cred.signer)},
		HostKeyCallback: e.HostKeyCallback,
		Timeout:         timeout,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

func runCommand(client *ssh.Client, cmd Command) (Result, error) {
	sess, err := client.NewSession()
	if err != nil {
		return Result{Op: cmd.Op, ExitCode: -1}, &ConnectionError{Addr: client.RemoteAddr().String(), Err: err}
	}
	defer sess.Close()

	var out bytes.Buffer
	sess.Stdout = &out
	sess.Stderr = &out
	if cmd.Stdin != nil {
		sess.Stdin = cmd.Stdin
	}

	err = sess.Run(cmd.Line)
	res := Result{Op: cmd.Op, Output: out.String()}
	if err != nil {
		if exitErr, ok := err.(*ssh.ExitError); ok {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		// Channel broke mid-command: could not finish, outcome unknown.
		res.ExitCode = -1
		return res, &ConnectionError{Addr: client.RemoteAddr().String(), Err: err}
	}
	return res, nil
}

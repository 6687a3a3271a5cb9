package services

import (
	"bytes"
	"context"
	"errors"

	"golang.org/x/crypto/ssh"
)

// Target is a resolved remote endpoint: connection parameters plus the
// decrypted credentials needed to open a session.
type Target struct {
	ID          string
	Name        string
	Host        string
	Port        int
	Credentials Credentials
}

// Runner executes one shell command on a remote target and returns its
// combined output and exit code. The context bounds the whole operation.
type Runner interface {
	Run(ctx context.Context, target Target, command string) (string, int, error)
}

// sshRunner borrows a pooled connection per command.
type sshRunner struct {
	pool *SSHPool
}

func NewSSHRunner(pool *SSHPool) Runner {
	return &sshRunner{pool: pool}
}

func (r *sshRunner) Run(ctx context.Context, target Target, command string) (string, int, error) {
	conn, err := r.pool.Acquire(target.Host, target.Port, target.Credentials)
	if err != nil {
		return "", 0, err
	}

	session, err := conn.Client.NewSession()
	if err != nil {
		// A connection that cannot open sessions is not worth recycling.
		r.pool.Discard(conn)
		return "", 0, wrapError(KindConnection, err, "failed to create SSH session on %s", conn.Key)
	}

	var buf bytes.Buffer
	session.Stdout = &buf
	session.Stderr = &buf

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case err := <-done:
		session.Close()
		if err != nil {
			if exitErr, ok := err.(*ssh.ExitError); ok {
				r.pool.Release(conn)
				return buf.String(), exitErr.ExitStatus(), nil
			}
			r.pool.Discard(conn)
			return buf.String(), 0, wrapError(KindConnection, err, "remote command failed on %s", conn.Key)
		}
		r.pool.Release(conn)
		return buf.String(), 0, nil

	case <-ctx.Done():
		session.Close()
		r.pool.Discard(conn)
		return "", 0, wrapError(timeoutKind(ctx.Err()), ctx.Err(), "remote command timed out on %s", conn.Key)
	}
}

// timeoutKind classifies a context failure observed mid-command. The session
// was already established, so an elapsed deadline means the command ran past
// its window rather than the transport failing to come up.
func timeoutKind(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindExecutionTimeout
	}
	return KindConnectionTimeout
}

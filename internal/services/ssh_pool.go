package services

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

const acquireRetryInterval = 100 * time.Millisecond

// Client is the subset of *ssh.Client the pool and runner depend on.
type Client interface {
	NewSession() (*ssh.Session, error)
	SendRequest(name string, wantReply bool, payload []byte) (bool, []byte, error)
	Close() error
}

// Credentials carry the auth material for one remote user.
type Credentials struct {
	Username   string
	Password   string
	PrivateKey string
	AuthType   string // password or key
}

// Fingerprint identifies the auth material without exposing it.
func (c Credentials) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(c.AuthType))
	h.Write([]byte(c.Username))
	h.Write([]byte(c.Password))
	h.Write([]byte(c.PrivateKey))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// ConnKey identifies one reusable session. Immutable once constructed.
type ConnKey struct {
	Host        string
	Port        int
	User        string
	Fingerprint string
}

func (k ConnKey) String() string {
	return fmt.Sprintf("%s@%s:%d", k.User, k.Host, k.Port)
}

// PooledConn wraps one authenticated session. Owned by the pool; borrowed
// for the duration of a single operation.
type PooledConn struct {
	Key      ConnKey
	Client   Client
	LastUsed time.Time
	inUse    bool
	pooled   bool
}

type dialFunc func(addr string, cfg *ssh.ClientConfig) (Client, error)

type SSHPool struct {
	mu             sync.Mutex
	conns          map[ConnKey]*PooledConn
	maxSize        int
	reuse          bool
	connectTimeout time.Duration

	dial  dialFunc
	probe func(Client) bool
}

func NewSSHPool(maxSize int, reuse bool, connectTimeout time.Duration) *SSHPool {
	if maxSize < 1 {
		maxSize = 1
	}
	return &SSHPool{
		conns:          make(map[ConnKey]*PooledConn),
		maxSize:        maxSize,
		reuse:          reuse,
		connectTimeout: connectTimeout,
		dial:           dialSSH,
		probe:          probeSSH,
	}
}

// Acquire returns a live connection for the given target, reusing a cached
// idle one when possible. When the pool is full and every entry is busy it
// waits, retrying every 100ms, and gives up with ConnectionTimeout once the
// connect timeout elapses.
func (p *SSHPool) Acquire(host string, port int, creds Credentials) (*PooledConn, error) {
	key := ConnKey{Host: host, Port: port, User: creds.Username, Fingerprint: creds.Fingerprint()}

	if !p.reuse {
		client, err := p.dial(fmt.Sprintf("%s:%d", host, port), clientConfig(creds, p.connectTimeout))
		if err != nil {
			return nil, wrapError(dialErrorKind(err), err, "SSH connection to %s failed", key)
		}
		return &PooledConn{Key: key, Client: client, LastUsed: time.Now()}, nil
	}

	deadline := time.Now().Add(p.connectTimeout)
	for {
		conn, dialNeeded, ok := p.claim(key)
		if ok && !dialNeeded {
			return conn, nil
		}
		if ok && dialNeeded {
			return p.establish(conn, key, creds)
		}

		// Pool full or key busy. Bounded wait.
		if time.Now().After(deadline) {
			return nil, newError(KindConnectionTimeout,
				"timed out waiting for a free connection slot for %s", key)
		}
		time.Sleep(acquireRetryInterval)
	}
}

// claim either hands out a cached idle connection, reserves a slot for a new
// dial, or reports that the caller has to wait.
func (p *SSHPool) claim(key ConnKey) (conn *PooledConn, dialNeeded, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cached, exists := p.conns[key]; exists {
		if cached.inUse {
			return nil, false, false
		}
		if cached.Client != nil && p.probe(cached.Client) {
			cached.inUse = true
			cached.LastUsed = time.Now()
			slog.Debug("Reusing SSH connection", "target", key.String())
			return cached, false, true
		}
		// Dead connection, drop it before dialing fresh.
		if cached.Client != nil {
			cached.Client.Close()
		}
		delete(p.conns, key)
	}

	if len(p.conns) >= p.maxSize && !p.evictIdleLocked() {
		return nil, false, false
	}

	// Reserve the slot while dialing happens outside the lock so the pool
	// never exceeds its capacity.
	conn = &PooledConn{Key: key, inUse: true, pooled: true, LastUsed: time.Now()}
	p.conns[key] = conn
	return conn, true, true
}

func (p *SSHPool) establish(conn *PooledConn, key ConnKey, creds Credentials) (*PooledConn, error) {
	client, err := p.dial(fmt.Sprintf("%s:%d", key.Host, key.Port), clientConfig(creds, p.connectTimeout))
	if err != nil {
		p.mu.Lock()
		delete(p.conns, key)
		p.mu.Unlock()
		return nil, wrapError(dialErrorKind(err), err, "SSH connection to %s failed", key)
	}

	p.mu.Lock()
	conn.Client = client
	conn.LastUsed = time.Now()
	p.mu.Unlock()

	slog.Info("SSH connection established", "target", key.String())
	return conn, nil
}

// evictIdleLocked drops the least-recently-used idle entry. Borrowed
// connections are never considered.
func (p *SSHPool) evictIdleLocked() bool {
	var victim *PooledConn
	for _, conn := range p.conns {
		if conn.inUse {
			continue
		}
		if victim == nil || conn.LastUsed.Before(victim.LastUsed) {
			victim = conn
		}
	}
	if victim == nil {
		return false
	}
	if victim.Client != nil {
		victim.Client.Close()
	}
	delete(p.conns, victim.Key)
	slog.Debug("Evicted idle SSH connection", "target", victim.Key.String())
	return true
}

// Release returns a borrowed connection to the pool. With reuse disabled the
// session is closed instead.
func (p *SSHPool) Release(conn *PooledConn) {
	if conn == nil {
		return
	}
	if !conn.pooled {
		if conn.Client != nil {
			conn.Client.Close()
		}
		return
	}
	p.mu.Lock()
	conn.inUse = false
	conn.LastUsed = time.Now()
	p.mu.Unlock()
}

// Discard closes a borrowed connection and removes it from the pool. Used
// when the transport reported a fatal error mid-operation; a failed session
// must never be recycled for a future borrower.
func (p *SSHPool) Discard(conn *PooledConn) {
	if conn == nil {
		return
	}
	if conn.Client != nil {
		conn.Client.Close()
	}
	if !conn.pooled {
		return
	}
	p.mu.Lock()
	if cached, ok := p.conns[conn.Key]; ok && cached == conn {
		delete(p.conns, conn.Key)
	}
	p.mu.Unlock()
	slog.Debug("Discarded failed SSH connection", "target", conn.Key.String())
}

// Size returns the number of cached connections.
func (p *SSHPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

func (p *SSHPool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, conn := range p.conns {
		if conn.Client != nil {
			conn.Client.Close()
		}
		delete(p.conns, key)
	}
	slog.Info("All SSH connections closed")
}

func clientConfig(creds Credentials, timeout time.Duration) *ssh.ClientConfig {
	var authMethods []ssh.AuthMethod
	switch creds.AuthType {
	case "key":
		if signer, err := ssh.ParsePrivateKey([]byte(creds.PrivateKey)); err == nil {
			authMethods = append(authMethods, ssh.PublicKeys(signer))
		}
	default: // password
		authMethods = append(authMethods, ssh.Password(creds.Password))
	}
	return &ssh.ClientConfig{
		User:            creds.Username,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}
}

// dialErrorKind separates an elapsed setup timeout from auth and network
// failures.
func dialErrorKind(err error) Kind {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindConnectionTimeout
	}
	if os.IsTimeout(err) {
		return KindConnectionTimeout
	}
	return KindConnection
}

func dialSSH(addr string, cfg *ssh.ClientConfig) (Client, error) {
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return client, nil
}

func probeSSH(c Client) bool {
	_, _, err := c.SendRequest("keepalive@ferryman", true, nil)
	return err == nil
}

// TestConnection dials without pooling and returns the host key fingerprint.
func TestConnection(host string, port int, creds Credentials, timeout time.Duration) (string, error) {
	var authMethods []ssh.AuthMethod
	switch creds.AuthType {
	case "key":
		signer, err := ssh.ParsePrivateKey([]byte(creds.PrivateKey))
		if err != nil {
			return "", fmt.Errorf("failed to parse private key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	default:
		authMethods = append(authMethods, ssh.Password(creds.Password))
	}

	var fingerprint string
	cfg := &ssh.ClientConfig{
		User: creds.Username,
		Auth: authMethods,
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			fingerprint = ssh.FingerprintSHA256(key)
			return nil
		},
		Timeout: timeout,
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return "", fmt.Errorf("connection failed: %w", err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fingerprint, fmt.Errorf("session failed: %w", err)
	}
	defer session.Close()

	if _, err := session.Output("echo ok"); err != nil {
		return fingerprint, fmt.Errorf("test command failed: %w", err)
	}
	return fingerprint, nil
}

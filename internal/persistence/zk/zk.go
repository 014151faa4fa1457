// Package zk implements spout.PersistenceManager over a ZooKeeper-family
// coordination service, the durable store named in spec.md section 6. Node
// paths and JSON encoding are this package's concern; the core treats
// persisted state as opaque beyond the wire layout it documents.
package zk

import (
	"encoding/json"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/samuel/go-zookeeper/zk"
	"go.uber.org/zap"

	"github.com/UtilityTools/dynamic-spout-go/internal/spout"
)

const (
	consumersDir = "consumers"
	requestsDir  = "requests"
)

// wireOffsetMap is the JSON object persisted at {root}/consumers/{id}: keys
// are "{topic}-{partition}", values are the raw offsets, per spec.md
// section 6.
type wireOffsetMap map[string]int64

// wireSidelineRequest is the JSON object persisted at
// {root}/requests/{id}, per spec.md section 6.
type wireSidelineRequest struct {
	Type             string            `json:"type"`
	SidelineID       string            `json:"sidelineId"`
	StartingState    wireOffsetMap     `json:"startingState,omitempty"`
	EndingState      wireOffsetMap     `json:"endingState,omitempty"`
	FilterChainSteps []byte            `json:"filterChainSteps,omitempty"`
}

// Manager is a ZooKeeper-backed spout.PersistenceManager.
type Manager struct {
	logger *zap.Logger

	mu     sync.Mutex
	opened bool
	root   string
	conn   *zk.Conn
}

// NewManager constructs an unopened Manager. Open must be called before any
// other method, per spec.md section 4.F.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{logger: logger}
}

// Open connects to the configured ZooKeeper ensemble and ensures
// {root}/consumers and {root}/requests exist. Fails with
// spout.ErrPersistenceRootRequired if config.PersistenceZKRoot is empty.
func (m *Manager) Open(config spout.Config) error {
	if config.PersistenceZKRoot == "" {
		return spout.ErrPersistenceRootRequired
	}

	timeout := config.PersistenceZKSessionTimeout
	if timeout <= 0 {
		timeout = 6 * time.Second
	}

	conn, _, err := zk.Connect(config.PersistenceZKServers, timeout)
	if err != nil {
		return errors.Wrap(spout.NewPersistenceError(err), "connect to zookeeper")
	}

	m.mu.Lock()
	m.conn = conn
	m.root = strings.TrimSuffix(config.PersistenceZKRoot, "/")
	m.opened = true
	m.mu.Unlock()

	if err := m.ensureDir(m.consumersPath()); err != nil {
		return err
	}
	if err := m.ensureDir(m.requestsPath()); err != nil {
		return err
	}
	return nil
}

func (m *Manager) consumersPath() string {
	return path.Join(m.root, consumersDir)
}

func (m *Manager) requestsPath() string {
	return path.Join(m.root, requestsDir)
}

// ensureDir recursively creates a persistent ZooKeeper node, in the manner
// of kazoo-go's own recursive mkdir helper used by Financial-Times/kafka's
// consumer group registration.
func (m *Manager) ensureDir(nodePath string) error {
	exists, _, err := m.conn.Exists(nodePath)
	if err != nil {
		return errors.Wrapf(spout.NewPersistenceError(err), "check existence of %s", nodePath)
	}
	if exists {
		return nil
	}
	parent := path.Dir(nodePath)
	if parent != "/" && parent != "." {
		if err := m.ensureDir(parent); err != nil {
			return err
		}
	}
	_, err = m.conn.Create(nodePath, nil, 0, zk.WorldACL(zk.PermAll))
	if err != nil && err != zk.ErrNodeExists {
		return errors.Wrapf(spout.NewPersistenceError(err), "create %s", nodePath)
	}
	return nil
}

func (m *Manager) requireOpen() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.opened {
		return spout.ErrPersistenceNotOpen
	}
	return nil
}

// PersistConsumerState writes state's JSON wire form to
// {root}/consumers/{consumerID}, creating the node if absent.
func (m *Manager) PersistConsumerState(consumerID string, state spout.OffsetMap) error {
	if err := m.requireOpen(); err != nil {
		return err
	}
	raw, err := json.Marshal(wireOffsetMap(state.JSON()))
	if err != nil {
		return errors.Wrap(spout.NewPersistenceError(err), "marshal consumer state")
	}
	return m.writeNode(path.Join(m.consumersPath(), consumerID), raw)
}

// RetrieveConsumerState reads and decodes {root}/consumers/{consumerID},
// returning (nil, nil) if no state has been persisted yet.
func (m *Manager) RetrieveConsumerState(consumerID string) (*spout.OffsetMap, error) {
	if err := m.requireOpen(); err != nil {
		return nil, err
	}
	raw, err := m.readNode(path.Join(m.consumersPath(), consumerID))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var wire wireOffsetMap
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, errors.Wrap(spout.NewPersistenceError(err), "unmarshal consumer state")
	}
	offsetMap, err := spout.OffsetMapFromJSON(wire)
	if err != nil {
		return nil, errors.Wrap(spout.NewPersistenceError(err), "decode consumer state")
	}
	return &offsetMap, nil
}

// ClearConsumerState deletes {root}/consumers/{consumerID}, if present.
func (m *Manager) ClearConsumerState(consumerID string) error {
	if err := m.requireOpen(); err != nil {
		return err
	}
	return m.deleteNode(path.Join(m.consumersPath(), consumerID))
}

// PersistSidelineRequestState writes req's JSON wire form to
// {root}/requests/{req.RequestID}.
func (m *Manager) PersistSidelineRequestState(req spout.SidelineRequest) error {
	if err := m.requireOpen(); err != nil {
		return err
	}
	wire := wireSidelineRequest{
		Type:             req.Type.String(),
		SidelineID:       string(req.SidelineID),
		FilterChainSteps: req.FilterChainSteps,
	}
	if req.StartingOffsets != nil {
		wire.StartingState = req.StartingOffsets.JSON()
	}
	if req.EndingOffsets != nil {
		wire.EndingState = req.EndingOffsets.JSON()
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return errors.Wrap(spout.NewPersistenceError(err), "marshal sideline request")
	}
	return m.writeNode(path.Join(m.requestsPath(), req.RequestID), raw)
}

// RetrieveSidelineRequest reads and decodes {root}/requests/{requestID},
// returning (nil, nil) if no such request has been persisted.
func (m *Manager) RetrieveSidelineRequest(requestID string) (*spout.SidelineRequest, error) {
	if err := m.requireOpen(); err != nil {
		return nil, err
	}
	raw, err := m.readNode(path.Join(m.requestsPath(), requestID))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var wire wireSidelineRequest
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, errors.Wrap(spout.NewPersistenceError(err), "unmarshal sideline request")
	}
	req := &spout.SidelineRequest{
		RequestID:        requestID,
		SidelineID:       spout.SidelineID(wire.SidelineID),
		FilterChainSteps: wire.FilterChainSteps,
		Type:             parseSidelineType(wire.Type),
	}
	if len(wire.StartingState) > 0 {
		offsetMap, err := spout.OffsetMapFromJSON(wire.StartingState)
		if err != nil {
			return nil, errors.Wrap(spout.NewPersistenceError(err), "decode starting offsets")
		}
		req.StartingOffsets = &offsetMap
	}
	if len(wire.EndingState) > 0 {
		offsetMap, err := spout.OffsetMapFromJSON(wire.EndingState)
		if err != nil {
			return nil, errors.Wrap(spout.NewPersistenceError(err), "decode ending offsets")
		}
		req.EndingOffsets = &offsetMap
	}
	return req, nil
}

// ClearSidelineRequest deletes {root}/requests/{requestID}, if present.
func (m *Manager) ClearSidelineRequest(requestID string) error {
	if err := m.requireOpen(); err != nil {
		return err
	}
	return m.deleteNode(path.Join(m.requestsPath(), requestID))
}

// ListSidelineRequestIDs implements spout.SidelineRequestLister via a
// children listing of {root}/requests, supporting Sideline Handler.Resume.
func (m *Manager) ListSidelineRequestIDs() ([]string, error) {
	if err := m.requireOpen(); err != nil {
		return nil, err
	}
	children, _, err := m.conn.Children(m.requestsPath())
	if err != nil {
		return nil, errors.Wrap(spout.NewPersistenceError(err), "list sideline requests")
	}
	return children, nil
}

// Close releases the ZooKeeper connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
	}
	return nil
}

func (m *Manager) writeNode(nodePath string, raw []byte) error {
	exists, stat, err := m.conn.Exists(nodePath)
	if err != nil {
		return errors.Wrapf(spout.NewPersistenceError(err), "check existence of %s", nodePath)
	}
	if !exists {
		_, err := m.conn.Create(nodePath, raw, 0, zk.WorldACL(zk.PermAll))
		if err != nil {
			return errors.Wrapf(spout.NewPersistenceError(err), "create %s", nodePath)
		}
		return nil
	}
	_, err = m.conn.Set(nodePath, raw, stat.Version)
	if err != nil {
		return errors.Wrapf(spout.NewPersistenceError(err), "set %s", nodePath)
	}
	return nil
}

func (m *Manager) readNode(nodePath string) ([]byte, error) {
	raw, _, err := m.conn.Get(nodePath)
	if err != nil {
		if err == zk.ErrNoNode {
			return nil, nil
		}
		return nil, errors.Wrapf(spout.NewPersistenceError(err), "get %s", nodePath)
	}
	return raw, nil
}

func (m *Manager) deleteNode(nodePath string) error {
	exists, stat, err := m.conn.Exists(nodePath)
	if err != nil {
		return errors.Wrapf(spout.NewPersistenceError(err), "check existence of %s", nodePath)
	}
	if !exists {
		return nil
	}
	if err := m.conn.Delete(nodePath, stat.Version); err != nil && err != zk.ErrNoNode {
		return errors.Wrapf(spout.NewPersistenceError(err), "delete %s", nodePath)
	}
	return nil
}

func parseSidelineType(s string) spout.SidelineType {
	switch s {
	case "START":
		return spout.SidelineStart
	case "STOP":
		return spout.SidelineStop
	case "RESUME":
		return spout.SidelineResume
	default:
		return spout.SidelineStart
	}
}

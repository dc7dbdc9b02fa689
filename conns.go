package main

import (
	"net/rpc"
	"sync"
	"time"

	"github.com/ayushmayekar13/exam-proctoring/config"
)

var conns = struct {
	sync.RWMutex
	m map[int]*ReplicaDock
}{
	m: make(map[int]*ReplicaDock),
}

// ReplicaDock is the coordinator's handle on one replica: the RPC client,
// the reachability verdict and the highest commit sequence the replica has
// acknowledged. lastAcked drives replay when the replica comes back.
type ReplicaDock struct {
	mu        sync.Mutex
	nodeID    int
	addr      string
	client    *rpc.Client
	healthy   bool
	lastAcked uint64
}

func (d *ReplicaDock) markUnreachable() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.healthy = false
}

func (d *ReplicaDock) isHealthy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.healthy
}

func (d *ReplicaDock) ackedUpTo(seq uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if seq > d.lastAcked {
		d.lastAcked = seq
	}
}

// establishReplicaConnections creates RPC connections from the coordinator to
// every replica row of the cluster config, with retries so the cluster can
// come up in any order. A replica that never answers starts out Unreachable
// and is left to the probe loop.
func establishReplicaConnections() {
	nodeConfig := config.ParseClusterConfig(numOfNodes, configPath)
	ipIndex := config.NodeIP
	rpcPortIndex := config.NodeRPCListenerPort

	const maxRetries = 10
	const retryDelay = 1 * time.Second

	for id := 1; id < numOfNodes; id++ {
		if nodeConfig[id][config.NodeRole] != config.RoleReplica {
			log.Warnf("Node %d: row %d is not a replica, skipping", myNodeID, id)
			continue
		}

		addr := nodeConfig[id][ipIndex] + ":" + nodeConfig[id][rpcPortIndex]

		var client *rpc.Client
		var err error

		for attempt := 1; attempt <= maxRetries; attempt++ {
			client, err = rpc.Dial("tcp", addr)
			if err == nil {
				log.Infof("Node %d → Replica %d: connected on attempt %d | addr=%s",
					myNodeID, id, attempt, addr)
				break
			}

			if attempt < maxRetries {
				log.Warnf("Node %d → Replica %d: connection attempt %d/%d failed: %v | Retrying in %v...",
					myNodeID, id, attempt, maxRetries, err, retryDelay)
				time.Sleep(retryDelay)
			} else {
				log.Errorf("Node %d → Replica %d: failed after %d attempts: %v | Marking Unreachable",
					myNodeID, id, maxRetries, err)
			}
		}

		conns.Lock()
		conns.m[id] = &ReplicaDock{
			nodeID:  id,
			addr:    addr,
			client:  client,
			healthy: err == nil,
		}
		conns.Unlock()
	}

	conns.RLock()
	connected := 0
	for _, dock := range conns.m {
		if dock.isHealthy() {
			connected++
		}
	}
	total := len(conns.m)
	conns.RUnlock()

	log.Infof("Node %d: connection establishment complete | healthy %d/%d replicas",
		myNodeID, connected, total)
}

// redial replaces a dead RPC client. Called by the probe loop only.
func (d *ReplicaDock) redial() error {
	client, err := rpc.Dial("tcp", d.addr)
	if err != nil {
		return err
	}
	d.mu.Lock()
	if d.client != nil {
		d.client.Close()
	}
	d.client = client
	d.mu.Unlock()
	return nil
}

func cleanupConnections() {
	conns.Lock()
	defer conns.Unlock()

	for id, dock := range conns.m {
		if dock.client != nil {
			dock.client.Close()
		}
		delete(conns.m, id)
	}
}

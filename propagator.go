package main

import (
	"errors"
	"time"

	"github.com/ayushmayekar13/exam-proctoring/exam"
	"github.com/ayushmayekar13/exam-proctoring/mongodb"
	"github.com/ayushmayekar13/exam-proctoring/store"
)

var errDockDisconnected = errors.New("replica dock has no live connection")

// -------------------------------------------------------------------
// Replication RPC structures
// -------------------------------------------------------------------
type DeltaArgs struct {
	Delta exam.Delta
}

type DeltaReply struct {
	Success bool
	Applied []uint64 // sequences the replica applied on this call
	NextSeq uint64   // next sequence the replica expects
	Gap     bool     // delta arrived ahead of the expected sequence
}

type deltaInfo struct {
	NodeID  int
	Reply   DeltaReply
	Err     error
	Latency float64
}

// -------------------------------------------------------------------
// Propagator (coordinator side)
// -------------------------------------------------------------------

// Propagator pushes committed marksheet deltas to the replicas. Master
// availability comes first: the commit is journaled locally and the exam
// proceeds no matter how many replicas acknowledge. Unreachable replicas are
// probed in the background and replayed from the journal once they answer.
type Propagator struct {
	journal   *store.CommitLog
	marksheet *mongodb.MarksheetStore
}

func NewPropagator(journal *store.CommitLog, marksheet *mongodb.MarksheetStore) *Propagator {
	return &Propagator{journal: journal, marksheet: marksheet}
}

// Commit journals one delta durably, mirrors it to the marksheet sink and
// fans it out to the replicas in the background. This is the engine's
// OnCommit hook; it must not block the critical section exit.
func (p *Propagator) Commit(d exam.Delta) {
	if err := p.journal.Append(d); err != nil {
		log.Errorf("[REPL] journal append failed | seq=%d | err=%v", d.Seq, err)
	}
	if p.marksheet != nil {
		if err := p.marksheet.SaveRecord(d.Record); err != nil {
			log.Errorf("[REPL] marksheet save failed | roll=%s | err=%v", d.Record.Roll, err)
		}
	}
	go p.fanOut(d)
}

// fanOut broadcasts one delta to every healthy replica and collects acks
// within the bounded ack window. Non-responders are marked Unreachable; a Gap
// ack triggers an immediate retransmission of the missing range.
func (p *Propagator) fanOut(d exam.Delta) {
	receiver := make(chan deltaInfo, numOfNodes)

	conns.RLock()
	targets := 0
	for _, dock := range conns.m {
		if !dock.isHealthy() {
			continue
		}
		targets++
		go executeDeltaRPC(dock, d, receiver)
	}
	conns.RUnlock()

	if targets == 0 {
		log.Warnf("[REPL] no healthy replicas | seq=%d committed locally only", d.Seq)
		return
	}

	timeout := time.After(ackTimeout)
	acked := 0
	responded := make(map[int]bool)

	for acked < targets {
		select {
		case info := <-receiver:
			responded[info.NodeID] = true
			if info.Err != nil {
				log.Warnf("[REPL] replica %d failed | seq=%d | err=%v", info.NodeID, d.Seq, info.Err)
				p.markUnreachable(info.NodeID)
				acked++
				continue
			}
			if info.Reply.Gap {
				log.Infof("[REPL] replica %d reports gap | has=%d, sent=%d | retransmitting",
					info.NodeID, info.Reply.NextSeq, d.Seq)
				go p.resendRange(info.NodeID, info.Reply.NextSeq)
				acked++
				continue
			}
			p.recordAck(info.NodeID, info.Reply)
			acked++
			log.Debugf("[REPL] replica %d ack | seq=%d | next=%d | latency=%.2fms",
				info.NodeID, d.Seq, info.Reply.NextSeq, info.Latency)

		case <-timeout:
			conns.RLock()
			for id, dock := range conns.m {
				if dock.isHealthy() && !responded[id] {
					log.Warnf("[REPL] replica %d missed ack window | seq=%d | marking Unreachable", id, d.Seq)
					dock.markUnreachable()
				}
			}
			conns.RUnlock()
			return
		}
	}
}

func executeDeltaRPC(dock *ReplicaDock, d exam.Delta, receiver chan deltaInfo) {
	dock.mu.Lock()
	client := dock.client
	dock.mu.Unlock()

	info := deltaInfo{NodeID: dock.nodeID}
	if client == nil {
		info.Err = errDockDisconnected
		receiver <- info
		return
	}

	start := time.Now()
	err := client.Call("ReplicaService.ApplyDelta", &DeltaArgs{Delta: d}, &info.Reply)
	info.Latency = time.Since(start).Seconds() * 1000
	info.Err = err
	receiver <- info
}

// resendRange replays journaled deltas from a given sequence to one replica,
// in order. Used for gap repair and for replay after a replica heals.
func (p *Propagator) resendRange(nodeID int, from uint64) {
	conns.RLock()
	dock := conns.m[nodeID]
	conns.RUnlock()
	if dock == nil {
		return
	}

	deltas, err := p.journal.Range(from)
	if err != nil {
		log.Errorf("[REPL] journal range failed | from=%d | err=%v", from, err)
		return
	}

	for _, d := range deltas {
		dock.mu.Lock()
		client := dock.client
		dock.mu.Unlock()
		if client == nil {
			return
		}

		var reply DeltaReply
		if err := client.Call("ReplicaService.ApplyDelta", &DeltaArgs{Delta: d}, &reply); err != nil {
			log.Warnf("[REPL] replay to replica %d failed at seq=%d | err=%v", nodeID, d.Seq, err)
			dock.markUnreachable()
			return
		}
		p.recordAck(nodeID, reply)
	}
	log.Infof("[REPL] replayed %d deltas to replica %d from seq=%d", len(deltas), nodeID, from)
}

func (p *Propagator) recordAck(nodeID int, reply DeltaReply) {
	conns.RLock()
	dock := conns.m[nodeID]
	conns.RUnlock()
	if dock == nil {
		return
	}
	if reply.NextSeq > 0 {
		dock.ackedUpTo(reply.NextSeq - 1)
	}
}

func (p *Propagator) markUnreachable(nodeID int) {
	conns.RLock()
	dock := conns.m[nodeID]
	conns.RUnlock()
	if dock != nil {
		dock.markUnreachable()
	}
}

// ProbeLoop pings Unreachable replicas on a fixed interval. A replica that
// answers is marked Healthy again and replayed every delta past its last
// acknowledged sequence before new traffic resumes.
func (p *Propagator) ProbeLoop() {
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	for range ticker.C {
		conns.RLock()
		var down []*ReplicaDock
		for _, dock := range conns.m {
			if !dock.isHealthy() {
				down = append(down, dock)
			}
		}
		conns.RUnlock()

		for _, dock := range down {
			p.probe(dock)
		}
	}
}

func (p *Propagator) probe(dock *ReplicaDock) {
	dock.mu.Lock()
	client := dock.client
	dock.mu.Unlock()

	var reply Reply
	var err error
	if client != nil {
		err = client.Call("ReplicaService.Ping", &PingArgs{}, &reply)
	}
	if client == nil || err != nil {
		if err := dock.redial(); err != nil {
			log.Debugf("[PROBE] replica %d still down | err=%v", dock.nodeID, err)
			return
		}
		dock.mu.Lock()
		client = dock.client
		dock.mu.Unlock()
		if err := client.Call("ReplicaService.Ping", &PingArgs{}, &reply); err != nil {
			log.Debugf("[PROBE] replica %d redialed but not answering | err=%v", dock.nodeID, err)
			return
		}
	}

	dock.mu.Lock()
	dock.healthy = true
	from := dock.lastAcked + 1
	dock.mu.Unlock()

	log.Infof("[PROBE] replica %d back | replaying from seq=%d", dock.nodeID, from)
	p.resendRange(dock.nodeID, from)
}

// -------------------------------------------------------------------
// Replica Service (replica side)
// -------------------------------------------------------------------

// ReplicaService applies replicated deltas in commit order against the
// replica's own journal and marksheet sink.
type ReplicaService struct {
	applier   *exam.Applier
	journal   *store.CommitLog
	marksheet *mongodb.MarksheetStore
}

func NewReplicaService(journal *store.CommitLog, marksheet *mongodb.MarksheetStore) *ReplicaService {
	rs := &ReplicaService{journal: journal, marksheet: marksheet}
	rs.applier = exam.NewApplier(rs.sink)
	return rs
}

// sink receives deltas strictly in sequence order from the applier.
func (rs *ReplicaService) sink(d exam.Delta) error {
	if err := rs.journal.Append(d); err != nil {
		return err
	}
	if rs.marksheet != nil {
		if err := rs.marksheet.SaveRecord(d.Record); err != nil {
			return err
		}
	}
	log.Infof("[APPLY] seq=%d | roll=%s | marks=%.1f | kind=%s",
		d.Seq, d.Record.Roll, d.Record.Marks, d.Record.Kind)
	return nil
}

func (rs *ReplicaService) ApplyDelta(args *DeltaArgs, reply *DeltaReply) error {
	res, err := rs.applier.Apply(args.Delta)
	reply.Applied = res.Applied
	reply.NextSeq = res.NextSeq
	reply.Gap = res.Gap
	if err == exam.ErrSequenceGap {
		// Buffered, not applied. The coordinator retransmits from NextSeq;
		// the ack itself is still a success.
		reply.Success = true
		log.Warnf("[APPLY] gap | got seq=%d, expecting %d | buffered", args.Delta.Seq, res.NextSeq)
		return nil
	}
	if err != nil {
		reply.Success = false
		log.Errorf("[APPLY] failed | seq=%d | err=%v", args.Delta.Seq, err)
		return err
	}
	reply.Success = true
	return nil
}

func (rs *ReplicaService) Ping(args *PingArgs, reply *Reply) error {
	reply.Success = true
	reply.Clock = args.Clock
	return nil
}

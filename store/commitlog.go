package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/boltdb/bolt"

	"github.com/ayushmayekar13/exam-proctoring/exam"
)

var commitBucket = []byte("commits")

// CommitLog is the durable journal of marksheet deltas, keyed by commit
// sequence. The propagator replays ranges out of it when a replica reports a
// gap or comes back from Unreachable.
type CommitLog struct {
	db *bolt.DB
}

func Open(path string) (*CommitLog, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(commitBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &CommitLog{db: db}, nil
}

// Append journals one delta under its commit sequence. Re-appending an
// existing sequence overwrites with identical content.
func (cl *CommitLog) Append(d exam.Delta) error {
	buf, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return cl.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(commitBucket).Put(itob(d.Seq), buf)
	})
}

// Get reads one delta by sequence.
func (cl *CommitLog) Get(seq uint64) (exam.Delta, error) {
	var d exam.Delta
	err := cl.db.View(func(tx *bolt.Tx) error {
		buf := tx.Bucket(commitBucket).Get(itob(seq))
		if buf == nil {
			return fmt.Errorf("no delta at seq %d", seq)
		}
		return json.Unmarshal(buf, &d)
	})
	return d, err
}

// Range returns all journaled deltas with from <= seq, in sequence order.
func (cl *CommitLog) Range(from uint64) ([]exam.Delta, error) {
	var out []exam.Delta
	err := cl.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(commitBucket).Cursor()
		for k, v := c.Seek(itob(from)); k != nil; k, v = c.Next() {
			var d exam.Delta
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			out = append(out, d)
		}
		return nil
	})
	return out, err
}

// LastSeq returns the highest journaled sequence, zero when empty.
func (cl *CommitLog) LastSeq() (uint64, error) {
	var last uint64
	err := cl.db.View(func(tx *bolt.Tx) error {
		k, _ := tx.Bucket(commitBucket).Cursor().Last()
		if k != nil {
			last = binary.BigEndian.Uint64(k)
		}
		return nil
	})
	return last, err
}

func (cl *CommitLog) Close() error {
	return cl.db.Close()
}

// itob encodes a sequence big-endian so bolt's byte order matches numeric
// order.
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

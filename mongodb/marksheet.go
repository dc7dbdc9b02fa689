package mongodb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ayushmayekar13/exam-proctoring/exam"
)

var log = logrus.New()

const marksheetTable = "marksheet"

// MarksheetStore persists committed submission records to MongoDB. The
// coordinator and every replica keep their own store; writes arrive already
// serialized in commit order, so no transaction support is needed here.
type MarksheetStore struct {
	dbName string
	client *mongo.Client
}

// NewMarksheetStore connects to MongoDB and binds a database for this node.
// dbID 0 is the coordinator; replicas get a suffixed database so several
// nodes can share one local mongod in localhost runs.
func NewMarksheetStore(dbID int) (*MarksheetStore, error) {
	store := &MarksheetStore{}

	if dbID == 0 {
		store.dbName = "examdb"
	} else {
		store.dbName = "examdb" + strconv.Itoa(dbID)
	}

	uri := os.Getenv("MONGODB_URI")
	log.Debugf("mongodb url: %v", uri)
	if uri == "" {
		uri = "mongodb://localhost:27017/"
	}

	cli, err := mongo.Connect(context.TODO(), options.Client().ApplyURI(uri))
	if err != nil {
		log.Errorf("create MongoDB client failed | err: %v", err)
		return nil, err
	}
	store.client = cli

	return store, nil
}

// SaveRecord upserts one marksheet row keyed by roll number. Re-applied
// deltas overwrite with identical content, so the write is idempotent.
func (ms *MarksheetStore) SaveRecord(rec exam.SubmissionRecord) error {
	if ms == nil || ms.client == nil {
		return errors.New("marksheet store not connected")
	}

	coll := ms.client.Database(ms.dbName).Collection(marksheetTable)

	values := bson.D{
		{Key: "marks", Value: rec.Marks},
		{Key: "commit_seq", Value: int64(rec.CommitSeq)},
		{Key: "timestamp", Value: rec.Timestamp},
		{Key: "kind", Value: rec.Kind.String()},
	}
	for q, a := range rec.Answers {
		values = append(values, bson.E{Key: "answer_" + q, Value: a})
	}

	ctx, cancel := context.WithTimeout(context.TODO(), 5*time.Second)
	defer cancel()

	_, err := coll.UpdateOne(
		ctx,
		bson.D{{Key: "_id", Value: rec.Roll}},
		bson.D{{Key: "$set", Value: values}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		log.Errorf("save record failed | roll: %v | err: %v", rec.Roll, err)
		return err
	}

	return nil
}

// FetchMarks reads one student's committed marks, e.g. for a status query
// served off a replica.
func (ms *MarksheetStore) FetchMarks(roll string) (float64, error) {
	if ms == nil || ms.client == nil {
		return 0, errors.New("marksheet store not connected")
	}

	coll := ms.client.Database(ms.dbName).Collection(marksheetTable)

	var row bson.M
	err := coll.FindOne(context.TODO(), bson.D{{Key: "_id", Value: roll}}).Decode(&row)
	if err != nil {
		return 0, err
	}

	marks, ok := row["marks"].(float64)
	if !ok {
		return 0, fmt.Errorf("marks field has wrong type: %v", row["marks"])
	}
	return marks, nil
}

// ClearMarksheet drops all rows, used before a fresh exam session.
func (ms *MarksheetStore) ClearMarksheet() error {
	if ms == nil || ms.client == nil {
		return errors.New("marksheet store not connected")
	}
	coll := ms.client.Database(ms.dbName).Collection(marksheetTable)
	_, err := coll.DeleteMany(context.TODO(), bson.D{{}})
	return err
}

// CleanUp disconnects the MongoDB client.
func (ms *MarksheetStore) CleanUp() error {
	if ms == nil || ms.client == nil {
		return nil
	}
	return ms.client.Disconnect(context.TODO())
}

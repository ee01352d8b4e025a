package mongo

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/turbolytics/csvimport/internal/catalog"
	"github.com/turbolytics/csvimport/internal/jobs"
)

const DefaultCollection = "import_jobs"

// Store keeps import jobs in a MongoDB collection keyed by job id.
type Store struct {
	client     *mongo.Client
	coll       *mongo.Collection
	database   string
	collection string
	logger     *zap.Logger
}

// NewStore connects using mongodb://host/database?collection=name. The
// collection parameter is consumed here and not passed to the driver.
func NewStore(ctx context.Context, uri *url.URL, logger *zap.Logger) (*Store, error) {
	database := strings.TrimPrefix(uri.Path, "/")
	if database == "" {
		return nil, fmt.Errorf("database must be specified in URL path")
	}

	q := uri.Query()
	collection := q.Get("collection")
	if collection == "" {
		collection = DefaultCollection
	}
	q.Del("collection")

	clientURI := *uri
	clientURI.RawQuery = q.Encode()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(clientURI.String()))
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	logger.Info("Mongo job store connected",
		zap.String("database", database),
		zap.String("collection", collection))

	return &Store{
		client:     client,
		coll:       client.Database(database).Collection(collection),
		database:   database,
		collection: collection,
		logger:     logger,
	}, nil
}

func (s *Store) Put(ctx context.Context, job jobs.Job) error {
	_, err := s.coll.ReplaceOne(ctx,
		bson.M{"_id": job.ID},
		job,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (jobs.Job, error) {
	var job jobs.Job
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&job)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return jobs.Job{}, jobs.ErrNotFound
	}
	if err != nil {
		return jobs.Job{}, fmt.Errorf("load job %s: %w", id, err)
	}

	if job.Result != nil {
		job.Result.RowCounts = catalog.RowCounts(job.Result.ProcessedFiles)
	}
	return job, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

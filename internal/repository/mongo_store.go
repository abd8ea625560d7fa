package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"freelancehub/internal/model"
	"freelancehub/pkg/apperror"
	"freelancehub/pkg/otel"
)

// MongoStore keeps one document per project; the version field is part of the
// replace filter. Events are not persisted here (there is no outbox on this
// backend), so only in-process observers see them.
type MongoStore struct {
	projects *mongo.Collection
	reviews  *mongo.Collection
	logger   *zap.Logger
}

func NewMongoStore(db *mongo.Database, logger *zap.Logger) *MongoStore {
	return &MongoStore{
		projects: db.Collection("projects"),
		reviews:  db.Collection("reviews"),
		logger:   logger,
	}
}

// EnsureIndexes creates the lookup indexes and the (project, reviewer) unique index.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	if _, err := s.projects.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "client_id", Value: 1}}},
		{Keys: bson.D{{Key: "bids.freelancer_id", Value: 1}}},
	}); err != nil {
		return apperror.Wrap(err, apperror.CodeUnavailable, "failed to create project indexes")
	}
	if _, err := s.reviews.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "project_id", Value: 1}, {Key: "reviewer_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "freelancer_id", Value: 1}, {Key: "created_at", Value: -1}}},
	}); err != nil {
		return apperror.Wrap(err, apperror.CodeUnavailable, "failed to create review indexes")
	}
	return nil
}

func (s *MongoStore) CreateProject(ctx context.Context, p model.Project, _ []model.Event) error {
	ctx, span := otel.DBSpan(ctx, "mongodb", "insert", "projects")
	_, err := s.projects.InsertOne(ctx, p)
	otel.EndDBSpan(span, err)
	if mongo.IsDuplicateKeyError(err) {
		return ErrConflict
	}
	if err != nil {
		return apperror.Wrap(err, apperror.CodeUnavailable, "failed to insert project")
	}
	return nil
}

func (s *MongoStore) GetProject(ctx context.Context, id string) (model.Project, error) {
	ctx, span := otel.DBSpan(ctx, "mongodb", "find", "projects")
	var p model.Project
	err := s.projects.FindOne(ctx, bson.M{"_id": id}).Decode(&p)
	otel.EndDBSpan(span, ignoreNoDocuments(err))
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Project{}, ErrProjectNotFound
	}
	if err != nil {
		return model.Project{}, apperror.Wrap(err, apperror.CodeUnavailable, "failed to load project")
	}
	return p, nil
}

func (s *MongoStore) ListProjects(ctx context.Context, f ProjectFilter) ([]model.Project, error) {
	filter := bson.M{}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if f.ClientID != "" {
		filter["client_id"] = f.ClientID
	}
	if f.Participant != "" {
		filter["$or"] = bson.A{
			bson.M{"freelancer_id": f.Participant},
			bson.M{"bids.freelancer_id": f.Participant},
		}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(f.limit()))

	ctx, span := otel.DBSpan(ctx, "mongodb", "find", "projects")
	cur, err := s.projects.Find(ctx, filter, opts)
	if err != nil {
		otel.EndDBSpan(span, err)
		return nil, apperror.Wrap(err, apperror.CodeUnavailable, "failed to list projects")
	}
	var out []model.Project
	err = cur.All(ctx, &out)
	otel.EndDBSpan(span, err)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to decode projects")
	}
	return out, nil
}

func (s *MongoStore) UpdateProject(ctx context.Context, next model.Project, expectedVersion int64, _ []model.Event) error {
	ctx, span := otel.DBSpan(ctx, "mongodb", "replace", "projects")
	res, err := s.projects.ReplaceOne(ctx, bson.M{"_id": next.ID, "version": expectedVersion}, next)
	otel.EndDBSpan(span, err)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeUnavailable, "failed to replace project")
	}
	if res.MatchedCount == 0 {
		n, err := s.projects.CountDocuments(ctx, bson.M{"_id": next.ID})
		if err != nil {
			return apperror.Wrap(err, apperror.CodeUnavailable, "failed to check project")
		}
		if n == 0 {
			return ErrProjectNotFound
		}
		return ErrConflict
	}
	return nil
}

func (s *MongoStore) CreateReview(ctx context.Context, r model.Review, _ []model.Event) error {
	_, err := s.reviews.InsertOne(ctx, r)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateReview
	}
	if err != nil {
		return apperror.Wrap(err, apperror.CodeUnavailable, "failed to insert review")
	}
	return nil
}

func (s *MongoStore) GetReview(ctx context.Context, id string) (model.Review, error) {
	var r model.Review
	err := s.reviews.FindOne(ctx, bson.M{"_id": id}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Review{}, ErrReviewNotFound
	}
	if err != nil {
		return model.Review{}, apperror.Wrap(err, apperror.CodeUnavailable, "failed to load review")
	}
	return r, nil
}

func (s *MongoStore) SetResponse(ctx context.Context, id, response string, at time.Time) (model.Review, error) {
	var r model.Review
	err := s.reviews.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "response": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"response": response, "responded_at": at}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, getErr := s.GetReview(ctx, id); getErr != nil {
			return model.Review{}, getErr
		}
		return model.Review{}, ErrAlreadyResponded
	}
	if err != nil {
		return model.Review{}, apperror.Wrap(err, apperror.CodeUnavailable, "failed to update review")
	}
	return r, nil
}

func (s *MongoStore) ListByFreelancer(ctx context.Context, freelancerID string) ([]model.Review, error) {
	cur, err := s.reviews.Find(ctx, bson.M{"freelancer_id": freelancerID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeUnavailable, "failed to list reviews")
	}
	var out []model.Review
	if err := cur.All(ctx, &out); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to decode reviews")
	}
	return out, nil
}

func (s *MongoStore) RatingsFor(ctx context.Context, freelancerID string) ([]int, error) {
	cur, err := s.reviews.Find(ctx, bson.M{"freelancer_id": freelancerID},
		options.Find().SetProjection(bson.M{"rating": 1}))
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeUnavailable, "failed to load ratings")
	}
	var docs []struct {
		Rating int `bson:"rating"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to decode ratings")
	}
	ratings := make([]int, len(docs))
	for i, d := range docs {
		ratings[i] = d.Rating
	}
	return ratings, nil
}

func ignoreNoDocuments(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}
	return err
}

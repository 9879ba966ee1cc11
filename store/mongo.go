package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"civictrack/logger"
	"civictrack/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersCollection      = "users"
	issuesCollection     = "issues"
	votesCollection      = "votes"
	tombstonesCollection = "issue_tombstones"
)

// MongoStore implements Store on MongoDB. Issue mutations are single
// FindOneAndUpdate calls filtered on _id and version.
type MongoStore struct {
	client     *mongo.Client
	users      *mongo.Collection
	issues     *mongo.Collection
	votes      *mongo.Collection
	tombstones *mongo.Collection
	log        *slog.Logger
}

func NewMongoStore(client *mongo.Client, database string) *MongoStore {
	db := client.Database(database)
	return &MongoStore{
		client:     client,
		users:      db.Collection(usersCollection),
		issues:     db.Collection(issuesCollection),
		votes:      db.Collection(votesCollection),
		tombstones: db.Collection(tombstonesCollection),
		log:        logger.WithComponent("store"),
	}
}

// EnsureIndexes creates the unique and query indexes. It is idempotent.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	if _, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("users index: %w", err)
	}

	// unique compound index for (issue, user)
	if _, err := s.votes.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "issue", Value: 1}, {Key: "user", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("votes index: %w", err)
	}

	if _, err := s.issues.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "createdBy", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "assignedTo", Value: 1}}},
		{Keys: bson.D{{Key: "priorityRank", Value: -1}}},
	}); err != nil {
		return fmt.Errorf("issues index: %w", err)
	}
	return nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	if _, err := s.users.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.M) (*models.User, error) {
	var u models.User
	if err := s.users.FindOne(ctx, filter).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &u, nil
}

func (s *MongoStore) GetUserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	return s.findUser(ctx, bson.M{"_id": id})
}

func (s *MongoStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"email": email})
}

func (s *MongoStore) GetUsersByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]*models.User, error) {
	out := make(map[primitive.ObjectID]*models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cursor, err := s.users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	var users []*models.User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

func (s *MongoStore) ListUsers(ctx context.Context, filter UserFilter) ([]*models.User, error) {
	doc := bson.M{}
	if filter.Role != "" {
		doc["role"] = filter.Role
	}
	if filter.Active != nil {
		doc["isActive"] = *filter.Active
	}
	cursor, err := s.users.Find(ctx, doc, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	users := make([]*models.User, 0)
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return users, nil
}

func (s *MongoStore) UpdateUser(ctx context.Context, u *models.User) error {
	res, err := s.users.ReplaceOne(ctx, bson.M{"_id": u.ID}, u)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("replace user: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) CreateIssue(ctx context.Context, issue *models.Issue) error {
	if issue.ID.IsZero() {
		issue.ID = primitive.NewObjectID()
	}
	issue.Version = 1
	issue.PriorityRank = issue.Priority.Rank()
	if _, err := s.issues.InsertOne(ctx, issue); err != nil {
		return fmt.Errorf("insert issue: %w", err)
	}
	return nil
}

func (s *MongoStore) GetIssue(ctx context.Context, id primitive.ObjectID) (*models.Issue, error) {
	var issue models.Issue
	if err := s.issues.FindOne(ctx, bson.M{"_id": id}).Decode(&issue); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find issue: %w", err)
	}
	return &issue, nil
}

func (s *MongoStore) UpdateIssue(ctx context.Context, id primitive.ObjectID, expectedVersion int64, upd IssueUpdate) (*models.Issue, error) {
	set := bson.M{"updatedAt": upd.UpdatedAt}
	if upd.Status != nil {
		set["status"] = *upd.Status
	}
	if upd.AssignedTo != nil {
		set["assignedTo"] = *upd.AssignedTo
	}
	if upd.ResolvedAt != nil {
		set["resolvedAt"] = *upd.ResolvedAt
	}
	update := bson.M{
		"$set":  set,
		"$push": bson.M{"timeline": bson.M{"$each": upd.Entries}},
		"$inc":  bson.M{"version": 1},
	}
	if upd.ClearResolvedAt {
		update["$unset"] = bson.M{"resolvedAt": ""}
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var issue models.Issue
	err := s.issues.FindOneAndUpdate(ctx, bson.M{"_id": id, "version": expectedVersion}, update, opts).Decode(&issue)
	if err == nil {
		return &issue, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("update issue: %w", err)
	}

	n, err := s.issues.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, fmt.Errorf("count issue: %w", err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return nil, ErrVersionConflict
}

func (s *MongoStore) DeleteIssue(ctx context.Context, id primitive.ObjectID, tomb *models.IssueTombstone) error {
	n, err := s.issues.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("count issue: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	if tomb != nil {
		if tomb.ID.IsZero() {
			tomb.ID = primitive.NewObjectID()
		}
		if _, err := s.tombstones.InsertOne(ctx, tomb); err != nil {
			return fmt.Errorf("insert tombstone: %w", err)
		}
	}
	res, err := s.issues.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil || res.DeletedCount == 0 {
		if tomb != nil {
			if _, rerr := s.tombstones.DeleteOne(ctx, bson.M{"_id": tomb.ID}); rerr != nil {
				s.log.Warn("failed to roll back tombstone", "issue_id", id.Hex(), "error", rerr)
			}
		}
		if err != nil {
			return fmt.Errorf("delete issue: %w", err)
		}
		return ErrNotFound
	}
	removeIssueVotes(ctx, s.votes, id, s.log)
	return nil
}

type voteDeleter interface {
	DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

// removeIssueVotes runs after the issue document is gone, so a failure
// cannot undo the delete. Orphaned votes are unreachable and only logged.
func removeIssueVotes(ctx context.Context, votes voteDeleter, id primitive.ObjectID, log *slog.Logger) {
	res, err := votes.DeleteMany(ctx, bson.M{"issue": id})
	if err != nil {
		log.Warn("failed to remove votes of deleted issue", "issue_id", id.Hex(), "error", err)
		return
	}
	log.Debug("removed votes of deleted issue", "issue_id", id.Hex(), "count", res.DeletedCount)
}

func issueFilterDoc(f IssueFilter) bson.M {
	doc := bson.M{}
	if f.Status != "" {
		doc["status"] = f.Status
	}
	if f.Priority != "" {
		doc["priority"] = f.Priority
	}
	if f.Category != "" {
		doc["category"] = f.Category
	}
	if f.Ward != "" {
		doc["location.ward"] = bson.M{"$regex": "^" + regexp.QuoteMeta(f.Ward) + "$", "$options": "i"}
	}
	if !f.CreatedBy.IsZero() {
		doc["createdBy"] = f.CreatedBy
	}
	if !f.AssignedTo.IsZero() {
		doc["assignedTo"] = f.AssignedTo
	}
	if f.Search != "" {
		term := bson.M{"$regex": regexp.QuoteMeta(f.Search), "$options": "i"}
		doc["$or"] = []bson.M{
			{"title": term},
			{"description": term},
			{"location.address": term},
			{"location.ward": term},
		}
	}
	return doc
}

func issueSortDoc(s IssueSort) bson.D {
	dir := 1
	if s.Desc {
		dir = -1
	}
	key := "createdAt"
	switch s.Field {
	case SortByPriority:
		key = "priorityRank"
	case SortByStatus:
		key = "status"
	}
	return bson.D{{Key: key, Value: dir}, {Key: "_id", Value: 1}}
}

func (s *MongoStore) FindIssues(ctx context.Context, q IssueQuery) ([]*models.Issue, int64, error) {
	filter := issueFilterDoc(q.Filter)

	total, err := s.issues.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count issues: %w", err)
	}

	skip := q.Skip
	if skip < 0 {
		skip = 0
	}
	findOptions := options.Find().
		SetSort(issueSortDoc(q.Sort)).
		SetSkip(skip)
	if q.Limit > 0 {
		findOptions.SetLimit(q.Limit)
	}

	cursor, err := s.issues.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, 0, fmt.Errorf("find issues: %w", err)
	}
	issues := make([]*models.Issue, 0)
	if err := cursor.All(ctx, &issues); err != nil {
		return nil, 0, fmt.Errorf("decode issues: %w", err)
	}
	return issues, total, nil
}

type groupRow struct {
	ID string `bson:"_id"`
	N  int64  `bson:"n"`
}

func groupBy(field string) bson.A {
	return bson.A{bson.M{"$group": bson.M{"_id": "$" + field, "n": bson.M{"$sum": 1}}}}
}

func (s *MongoStore) CountIssues(ctx context.Context, filter IssueFilter, dailySince time.Time) (*IssueCounts, error) {
	facets := bson.M{
		"byStatus":   groupBy("status"),
		"byCategory": groupBy("category"),
		"byPriority": groupBy("priority"),
		"highOpen": bson.A{
			bson.M{"$match": bson.M{
				"priority": bson.M{"$in": bson.A{models.PriorityHigh, models.PriorityCritical}},
				"status":   bson.M{"$ne": models.Resolved},
			}},
			bson.M{"$group": bson.M{"_id": "high", "n": bson.M{"$sum": 1}}},
		},
	}
	if !dailySince.IsZero() {
		facets["daily"] = bson.A{
			bson.M{"$match": bson.M{"createdAt": bson.M{"$gte": dailySince}}},
			bson.M{"$group": bson.M{
				"_id": bson.M{"$dateToString": bson.M{"format": "%Y-%m-%d", "date": "$createdAt"}},
				"n":   bson.M{"$sum": 1},
			}},
		}
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: issueFilterDoc(filter)}},
		{{Key: "$facet", Value: facets}},
	}

	cursor, err := s.issues.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate issues: %w", err)
	}
	var rows []struct {
		ByStatus   []groupRow `bson:"byStatus"`
		ByCategory []groupRow `bson:"byCategory"`
		ByPriority []groupRow `bson:"byPriority"`
		HighOpen   []groupRow `bson:"highOpen"`
		Daily      []groupRow `bson:"daily"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode issue counts: %w", err)
	}

	counts := newIssueCounts()
	if len(rows) == 0 {
		return counts, nil
	}
	r := rows[0]
	for _, g := range r.ByStatus {
		counts.ByStatus[models.IssueStatus(g.ID)] = g.N
	}
	for _, g := range r.ByCategory {
		counts.ByCategory[models.IssueCategory(g.ID)] = g.N
	}
	for _, g := range r.ByPriority {
		counts.ByPriority[models.IssuePriority(g.ID)] = g.N
	}
	for _, g := range r.HighOpen {
		counts.HighPriorityOpen += g.N
	}
	for _, g := range r.Daily {
		counts.Daily[g.ID] = g.N
	}
	return counts, nil
}

func (s *MongoStore) ToggleVote(ctx context.Context, issueID, userID primitive.ObjectID) (bool, error) {
	n, err := s.issues.CountDocuments(ctx, bson.M{"_id": issueID})
	if err != nil {
		return false, fmt.Errorf("count issue: %w", err)
	}
	if n == 0 {
		return false, ErrNotFound
	}

	key := bson.M{"issue": issueID, "user": userID}
	res, err := s.votes.DeleteOne(ctx, key)
	if err != nil {
		return false, fmt.Errorf("delete vote: %w", err)
	}
	if res.DeletedCount > 0 {
		return false, nil
	}

	vote := models.Vote{
		ID:        primitive.NewObjectID(),
		Issue:     issueID,
		User:      userID,
		CreatedAt: time.Now(),
	}
	if _, err := s.votes.InsertOne(ctx, vote); err != nil {
		// a concurrent toggle already inserted it
		if mongo.IsDuplicateKeyError(err) {
			return true, nil
		}
		return false, fmt.Errorf("insert vote: %w", err)
	}
	return true, nil
}

func (s *MongoStore) CountVotes(ctx context.Context, issueIDs []primitive.ObjectID) (map[primitive.ObjectID]int64, error) {
	out := make(map[primitive.ObjectID]int64, len(issueIDs))
	if len(issueIDs) == 0 {
		return out, nil
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"issue": bson.M{"$in": issueIDs}}}},
		{{Key: "$group", Value: bson.M{"_id": "$issue", "n": bson.M{"$sum": 1}}}},
	}
	cursor, err := s.votes.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate votes: %w", err)
	}
	var rows []struct {
		ID primitive.ObjectID `bson:"_id"`
		N  int64              `bson:"n"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode votes: %w", err)
	}
	for _, r := range rows {
		out[r.ID] = r.N
	}
	return out, nil
}

func (s *MongoStore) VotedBy(ctx context.Context, userID primitive.ObjectID, issueIDs []primitive.ObjectID) (map[primitive.ObjectID]bool, error) {
	out := make(map[primitive.ObjectID]bool, len(issueIDs))
	if len(issueIDs) == 0 || userID.IsZero() {
		return out, nil
	}
	cursor, err := s.votes.Find(ctx, bson.M{"user": userID, "issue": bson.M{"$in": issueIDs}})
	if err != nil {
		return nil, fmt.Errorf("find votes: %w", err)
	}
	var votes []models.Vote
	if err := cursor.All(ctx, &votes); err != nil {
		return nil, fmt.Errorf("decode votes: %w", err)
	}
	for _, v := range votes {
		out[v.Issue] = true
	}
	return out, nil
}

var _ Store = (*MongoStore)(nil)

package bookingRepo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"lensbook/models"
)

// reservationDoc adds the derived "active" flag the partial slot index filters
// on. It is always written together with status, so the index membership of a
// reservation follows its state without a separate release step.
type reservationDoc struct {
	models.Reservation `bson:",inline"`
	Active             bool `bson:"active"`
}

// MongoRepo implements Repository using MongoDB. Transactions require a
// replica set deployment.
type MongoRepo struct {
	client          *mongo.Client
	quoteColl       *mongo.Collection
	reservationColl *mongo.Collection
	transactionColl *mongo.Collection
}

// NewMongoRepo constructs a MongoRepo on the given database.
func NewMongoRepo(client *mongo.Client, dbName string) *MongoRepo {
	db := client.Database(dbName)
	return &MongoRepo{
		client:          client,
		quoteColl:       db.Collection("quotes"),
		reservationColl: db.Collection("reservations"),
		transactionColl: db.Collection("transactions"),
	}
}

// WithTransaction runs fn in a multi-document transaction. The session travels
// inside the context handed to fn, so every Store call made with it joins the
// transaction.
func (repo *MongoRepo) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	sess, err := repo.client.StartSession()
	if err != nil {
		return fmt.Errorf("could not start mongo session: %w", err)
	}
	defer sess.EndSession(ctx)

	return mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
		if err := sc.StartTransaction(); err != nil {
			return err
		}
		if err := fn(sc, repo); err != nil {
			_ = sc.AbortTransaction(sc)
			return err
		}
		return sc.CommitTransaction(sc)
	})
}

func (repo *MongoRepo) CreateQuote(ctx context.Context, q *models.Quote) error {
	if _, err := repo.quoteColl.InsertOne(ctx, q); err != nil {
		return fmt.Errorf("error creating quote: %w", err)
	}
	return nil
}

func (repo *MongoRepo) GetQuote(ctx context.Context, id string) (*models.Quote, error) {
	var q models.Quote
	if err := repo.quoteColl.FindOne(ctx, bson.M{"id": id}).Decode(&q); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error fetching quote %s: %w", id, err)
	}
	return &q, nil
}

func (repo *MongoRepo) ListQuotes(ctx context.Context, f QuoteFilter) ([]models.Quote, error) {
	filter := bson.M{}
	if f.ProviderID != "" {
		filter["providerId"] = f.ProviderID
	}
	if f.ClientID != "" {
		filter["clientId"] = f.ClientID
	}
	if f.DemandID != "" {
		filter["demandId"] = f.DemandID
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := repo.quoteColl.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("error listing quotes: %w", err)
	}
	defer cursor.Close(ctx)

	var quotes []models.Quote
	if err := cursor.All(ctx, &quotes); err != nil {
		return nil, fmt.Errorf("error decoding quotes: %w", err)
	}
	return quotes, nil
}

func (repo *MongoRepo) UpdateQuote(ctx context.Context, q *models.Quote, expected models.QuoteStatus) error {
	res, err := repo.quoteColl.ReplaceOne(ctx, bson.M{"id": q.ID, "status": expected}, q)
	if err != nil {
		return fmt.Errorf("error updating quote %s: %w", q.ID, err)
	}
	if res.MatchedCount == 0 {
		return repo.missingOrStale(ctx, repo.quoteColl, q.ID)
	}
	return nil
}

func (repo *MongoRepo) InsertReservation(ctx context.Context, r *models.Reservation) error {
	doc := reservationDoc{Reservation: *r, Active: r.Status.IsActive()}
	if _, err := repo.reservationColl.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if strings.Contains(err.Error(), quoteUniqueIndex) {
				return ErrDuplicateReservation
			}
			return ErrDuplicateSlot
		}
		return fmt.Errorf("error creating reservation: %w", err)
	}
	return nil
}

func (repo *MongoRepo) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	var doc reservationDoc
	if err := repo.reservationColl.FindOne(ctx, bson.M{"id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error fetching reservation %s: %w", id, err)
	}
	return &doc.Reservation, nil
}

func (repo *MongoRepo) ListReservations(ctx context.Context, f ReservationFilter) ([]models.Reservation, error) {
	filter := bson.M{}
	if f.ProviderID != "" {
		filter["providerId"] = f.ProviderID
	}
	if f.ClientID != "" {
		filter["clientId"] = f.ClientID
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	opts := options.Find().SetSort(bson.D{{Key: "serviceDateTime", Value: 1}})
	cursor, err := repo.reservationColl.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("error listing reservations: %w", err)
	}
	defer cursor.Close(ctx)

	var out []models.Reservation
	for cursor.Next(ctx) {
		var doc reservationDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("error decoding reservation: %w", err)
		}
		out = append(out, doc.Reservation)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return out, nil
}

func (repo *MongoRepo) TransitionReservation(ctx context.Context, r *models.Reservation, from models.ReservationStatus) error {
	update := bson.M{
		"$set": bson.M{
			"status":             r.Status,
			"active":             r.Status.IsActive(),
			"cancellationReason": r.CancellationReason,
			"updatedAt":          r.UpdatedAt,
		},
	}
	res, err := repo.reservationColl.UpdateOne(ctx, bson.M{"id": r.ID, "status": from}, update)
	if err != nil {
		return fmt.Errorf("error updating reservation %s: %w", r.ID, err)
	}
	if res.MatchedCount == 0 {
		return repo.missingOrStale(ctx, repo.reservationColl, r.ID)
	}
	return nil
}

func (repo *MongoRepo) AppendTransaction(ctx context.Context, t *models.Transaction) error {
	if _, err := repo.transactionColl.InsertOne(ctx, t); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("error appending transaction: %w", err)
	}
	return nil
}

func (repo *MongoRepo) FindTransactionByEvent(ctx context.Context, externalEventID string) (*models.Transaction, error) {
	var t models.Transaction
	if err := repo.transactionColl.FindOne(ctx, bson.M{"externalEventId": externalEventID}).Decode(&t); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error fetching transaction for event %s: %w", externalEventID, err)
	}
	return &t, nil
}

func (repo *MongoRepo) ListTransactions(ctx context.Context, reservationID string) ([]models.Transaction, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cursor, err := repo.transactionColl.Find(ctx, bson.M{"reservationId": reservationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("error listing transactions for %s: %w", reservationID, err)
	}
	defer cursor.Close(ctx)

	var out []models.Transaction
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("error decoding transactions: %w", err)
	}
	return out, nil
}

func (repo *MongoRepo) SumByReservation(ctx context.Context, reservationID string) (models.Money, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "reservationId", Value: reservationID}}}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: "$grossAmount"}}},
		}}},
	}
	cursor, err := repo.transactionColl.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("error summing transactions for %s: %w", reservationID, err)
	}
	defer cursor.Close(ctx)

	var result struct {
		Total int64 `bson:"total"`
	}
	if cursor.Next(ctx) {
		if err := cursor.Decode(&result); err != nil {
			return 0, fmt.Errorf("error decoding sum: %w", err)
		}
	}
	return models.Money(result.Total), cursor.Err()
}

func (repo *MongoRepo) HasEvent(ctx context.Context, externalEventID string) (bool, error) {
	n, err := repo.transactionColl.CountDocuments(ctx, bson.M{"externalEventId": externalEventID}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("error checking event %s: %w", externalEventID, err)
	}
	return n > 0, nil
}

func (repo *MongoRepo) missingOrStale(ctx context.Context, coll *mongo.Collection, id string) error {
	n, err := coll.CountDocuments(ctx, bson.M{"id": id}, options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("error checking record %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrStaleStatus
}

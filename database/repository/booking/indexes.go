package bookingRepo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes creates the indexes backing the slot, quote and event
// uniqueness guarantees on the mongo collections.
func (repo *MongoRepo) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	specs := []struct {
		coll   *mongo.Collection
		models []mongo.IndexModel
	}{
		{repo.quoteColl, []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "id", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("unique_id"),
			},
			{
				Keys:    bson.D{{Key: "providerId", Value: 1}, {Key: "status", Value: 1}},
				Options: options.Index().SetName("provider_status_idx"),
			},
			{
				Keys:    bson.D{{Key: "demandId", Value: 1}},
				Options: options.Index().SetName("demand_idx"),
			},
		}},
		{repo.reservationColl, []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "id", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("unique_id"),
			},
			// At most one active reservation per slot.
			{
				Keys: bson.D{
					{Key: "providerId", Value: 1},
					{Key: "serviceDateTime", Value: 1},
					{Key: "slotWindow", Value: 1},
				},
				Options: options.Index().
					SetUnique(true).
					SetName(activeSlotIndex).
					SetPartialFilterExpression(bson.M{"active": true}),
			},
			{
				Keys: bson.D{{Key: "quoteId", Value: 1}},
				Options: options.Index().
					SetUnique(true).
					SetName(quoteUniqueIndex).
					SetPartialFilterExpression(bson.M{"quoteId": bson.M{"$gt": ""}}),
			},
			{
				Keys:    bson.D{{Key: "clientId", Value: 1}, {Key: "serviceDateTime", Value: 1}},
				Options: options.Index().SetName("client_date_idx"),
			},
		}},
		{repo.transactionColl, []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "id", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("unique_id"),
			},
			{
				Keys:    bson.D{{Key: "externalEventId", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("unique_external_event"),
			},
			{
				Keys:    bson.D{{Key: "reservationId", Value: 1}, {Key: "createdAt", Value: 1}},
				Options: options.Index().SetName("reservation_created_idx"),
			},
		}},
	}

	for _, spec := range specs {
		if _, err := spec.coll.Indexes().CreateMany(ctx, spec.models); err != nil {
			return fmt.Errorf("failed to create %s indexes: %w", spec.coll.Name(), err)
		}
	}
	return nil
}

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/fjod/go_cart/marketplace-cart/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	entriesCollection    = "cart_entries"
	selectionsCollection = "delivery_selections"
	listingsCollection   = "listings"

	// abandoned carts expire after 90 days without updates
	entryTTL = 90 * 24 * time.Hour
)

type entryDocument struct {
	ID        string            `bson:"_id"`
	UserID    string            `bson:"user_id"`
	ListingID string            `bson:"listing_id"`
	Quantity  int               `bson:"quantity"`
	CreatedAt time.Time         `bson:"created_at"`
	UpdatedAt time.Time         `bson:"updated_at"`
	Listing   []listingDocument `bson:"listing,omitempty"` // filled by $lookup
}

type listingDocument struct {
	ID                string                `bson:"_id"`
	Title             string                `bson:"title"`
	Price             primitive.Decimal128  `bson:"price"`
	Images            []string              `bson:"images,omitempty"`
	OwnerID           string                `bson:"owner_id"`
	ListingType       string                `bson:"listing_type,omitempty"`
	LocationTag       string                `bson:"location_tag,omitempty"`
	CategoryID        string                `bson:"category_id,omitempty"`
	DeliveryMethods   []string              `bson:"delivery_methods"`
	ShippingPrice     *primitive.Decimal128 `bson:"shipping_price,omitempty"`
	OtherDeliveryInfo string                `bson:"other_delivery_info,omitempty"`
}

type selectionDocument struct {
	ID      string `bson:"_id"`
	EntryID string `bson:"entry_id"`
	UserID  string `bson:"user_id"`
	Method  string `bson:"method"`
}

// MongoRepository stores carts in three collections: entries, delivery
// selections and the listing projection entries are joined against.
type MongoRepository struct {
	entries    *mongo.Collection
	selections *mongo.Collection
	listings   *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		entries:    db.Collection(entriesCollection),
		selections: db.Collection(selectionsCollection),
		listings:   db.Collection(listingsCollection),
	}
}

// ConnectMongoDB opens a pooled client and verifies the server is reachable.
func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(50).
		SetMinPoolSize(5)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client.Database(database), nil
}

func (m *MongoRepository) ListCartEntries(ctx context.Context, userID string) ([]domain.CartEntry, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "user_id", Value: userID}}}},
		{{Key: "$sort", Value: bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}}},
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: listingsCollection},
			{Key: "localField", Value: "listing_id"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "listing"},
		}}},
	}

	cur, err := m.entries.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to list cart entries: %w", err)
	}
	var docs []entryDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode cart entries: %w", err)
	}

	entries := make([]domain.CartEntry, 0, len(docs))
	for _, d := range docs {
		entry := domain.CartEntry{
			ID:        d.ID,
			ListingID: d.ListingID,
			Quantity:  d.Quantity,
			AddedAt:   d.CreatedAt,
		}
		if len(d.Listing) > 0 {
			listing, err := d.Listing[0].toDomain()
			if err != nil {
				return nil, fmt.Errorf("failed to decode listing %s: %w", d.ListingID, err)
			}
			entry.Listing = listing
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (m *MongoRepository) ListDeliverySelections(ctx context.Context, userID string) ([]domain.DeliverySelection, error) {
	cur, err := m.selections.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery selections: %w", err)
	}
	var docs []selectionDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode delivery selections: %w", err)
	}

	selections := make([]domain.DeliverySelection, 0, len(docs))
	for _, d := range docs {
		selections = append(selections, d.toDomain())
	}
	return selections, nil
}

func (m *MongoRepository) UpsertDeliverySelection(ctx context.Context, userID, entryID string, method domain.DeliveryMethod) (*domain.DeliverySelection, error) {
	n, err := m.entries.CountDocuments(ctx, bson.M{"_id": entryID, "user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("failed to check cart entry: %w", err)
	}
	if n == 0 {
		return nil, ErrEntryNotFound
	}

	now := time.Now()
	filter := bson.M{"entry_id": entryID, "user_id": userID}
	update := bson.M{
		"$set":         bson.M{"method": string(method), "updated_at": now},
		"$setOnInsert": bson.M{"_id": uuid.NewString(), "created_at": now},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc selectionDocument
	err = m.selections.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if mongo.IsDuplicateKeyError(err) {
		// a concurrent upsert won the insert; the retry takes the update path
		err = m.selections.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upsert delivery selection: %w", err)
	}

	sel := doc.toDomain()
	return &sel, nil
}

func (m *MongoRepository) DeleteDeliverySelection(ctx context.Context, userID, entryID string) error {
	if _, err := m.selections.DeleteOne(ctx, bson.M{"entry_id": entryID, "user_id": userID}); err != nil {
		return fmt.Errorf("failed to delete delivery selection: %w", err)
	}
	return nil
}

func (m *MongoRepository) InsertCartEntry(ctx context.Context, userID, listingID string, quantity int) error {
	now := time.Now()
	doc := entryDocument{
		ID:        uuid.NewString(),
		UserID:    userID,
		ListingID: listingID,
		Quantity:  quantity,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := m.entries.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateEntry
		}
		return fmt.Errorf("failed to insert cart entry: %w", err)
	}
	return nil
}

func (m *MongoRepository) UpdateCartEntryQuantity(ctx context.Context, userID, entryID string, quantity int) error {
	filter := bson.M{"_id": entryID, "user_id": userID}
	update := bson.M{"$set": bson.M{"quantity": quantity, "updated_at": time.Now()}}

	result, err := m.entries.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update cart entry quantity: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (m *MongoRepository) DeleteCartEntry(ctx context.Context, userID, entryID string) error {
	if _, err := m.entries.DeleteOne(ctx, bson.M{"_id": entryID, "user_id": userID}); err != nil {
		return fmt.Errorf("failed to delete cart entry: %w", err)
	}
	if _, err := m.selections.DeleteMany(ctx, bson.M{"entry_id": entryID, "user_id": userID}); err != nil {
		return fmt.Errorf("failed to delete delivery selection of entry: %w", err)
	}
	return nil
}

func (m *MongoRepository) DeleteAllCartEntries(ctx context.Context, userID string) error {
	if _, err := m.entries.DeleteMany(ctx, bson.M{"user_id": userID}); err != nil {
		return fmt.Errorf("failed to delete cart entries: %w", err)
	}
	if _, err := m.selections.DeleteMany(ctx, bson.M{"user_id": userID}); err != nil {
		return fmt.Errorf("failed to delete delivery selections: %w", err)
	}
	return nil
}

// UpsertListing writes the listing projection the cart joins against.
func (m *MongoRepository) UpsertListing(ctx context.Context, l domain.ListingSnapshot) error {
	doc, err := listingFromDomain(l)
	if err != nil {
		return err
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := m.listings.ReplaceOne(ctx, bson.M{"_id": l.ID}, doc, opts); err != nil {
		return fmt.Errorf("failed to upsert listing: %w", err)
	}
	return nil
}

func (m *MongoRepository) DeleteListing(ctx context.Context, listingID string) error {
	result, err := m.listings.DeleteOne(ctx, bson.M{"_id": listingID})
	if err != nil {
		return fmt.Errorf("failed to delete listing: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrListingNotFound
	}
	return nil
}

func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	entryIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "listing_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(entryTTL.Seconds())),
		},
	}
	if _, err := m.entries.Indexes().CreateMany(ctx, entryIndexes); err != nil {
		return fmt.Errorf("failed to create cart entry indexes: %w", err)
	}

	selectionIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "entry_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}},
		},
	}
	if _, err := m.selections.Indexes().CreateMany(ctx, selectionIndexes); err != nil {
		return fmt.Errorf("failed to create delivery selection indexes: %w", err)
	}
	return nil
}

func (d selectionDocument) toDomain() domain.DeliverySelection {
	return domain.DeliverySelection{
		ID:      d.ID,
		EntryID: d.EntryID,
		UserID:  d.UserID,
		Method:  domain.DeliveryMethod(d.Method),
	}
}

func (d listingDocument) toDomain() (*domain.ListingSnapshot, error) {
	price, err := decimal.NewFromString(d.Price.String())
	if err != nil {
		return nil, fmt.Errorf("invalid price: %w", err)
	}

	l := &domain.ListingSnapshot{
		ID:                d.ID,
		Title:             d.Title,
		Price:             price,
		Images:            d.Images,
		OwnerID:           d.OwnerID,
		ListingType:       d.ListingType,
		LocationTag:       d.LocationTag,
		CategoryID:        d.CategoryID,
		DeliveryMethods:   make([]domain.DeliveryMethod, 0, len(d.DeliveryMethods)),
		OtherDeliveryInfo: d.OtherDeliveryInfo,
	}
	for _, raw := range d.DeliveryMethods {
		// methods this service does not know are not offered
		if m, err := domain.ParseDeliveryMethod(raw); err == nil {
			l.DeliveryMethods = append(l.DeliveryMethods, m)
		}
	}
	if d.ShippingPrice != nil {
		sp, err := decimal.NewFromString(d.ShippingPrice.String())
		if err != nil {
			return nil, fmt.Errorf("invalid shipping price: %w", err)
		}
		l.ShippingPrice = &sp
	}
	return l, nil
}

func listingFromDomain(l domain.ListingSnapshot) (listingDocument, error) {
	price, err := primitive.ParseDecimal128(l.Price.String())
	if err != nil {
		return listingDocument{}, fmt.Errorf("invalid price: %w", err)
	}

	doc := listingDocument{
		ID:                l.ID,
		Title:             l.Title,
		Price:             price,
		Images:            l.Images,
		OwnerID:           l.OwnerID,
		ListingType:       l.ListingType,
		LocationTag:       l.LocationTag,
		CategoryID:        l.CategoryID,
		DeliveryMethods:   make([]string, 0, len(l.DeliveryMethods)),
		OtherDeliveryInfo: l.OtherDeliveryInfo,
	}
	for _, m := range l.DeliveryMethods {
		doc.DeliveryMethods = append(doc.DeliveryMethods, string(m))
	}
	if l.ShippingPrice != nil {
		sp, err := primitive.ParseDecimal128(l.ShippingPrice.String())
		if err != nil {
			return listingDocument{}, fmt.Errorf("invalid shipping price: %w", err)
		}
		doc.ShippingPrice = &sp
	}
	return doc, nil
}

var _ CartStore = (*MongoRepository)(nil)

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/marketplace-cart/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const pqUniqueViolation = "23505"

const listEntriesQuery = `
	SELECT e.id, e.listing_id, e.quantity, e.created_at,
	       l.id, l.title, l.price, l.images, l.owner_id, l.listing_type, l.location_tag,
	       l.category_id, l.delivery_methods, l.shipping_price, l.other_delivery_info
	FROM cart_entries e
	LEFT JOIN listings l ON l.id = e.listing_id
	WHERE e.user_id = $1
	ORDER BY e.created_at, e.id`

const upsertSelectionQuery = `
	INSERT INTO delivery_selections (id, entry_id, user_id, method)
	SELECT $1, e.id, e.user_id, $4 FROM cart_entries e WHERE e.id = $2 AND e.user_id = $3
	ON CONFLICT (entry_id) DO UPDATE SET method = EXCLUDED.method, updated_at = NOW()
	RETURNING id, entry_id, user_id, method`

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func OpenPostgres(cred *Credentials) (*sql.DB, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	return db, nil
}

func (r *PostgresRepository) RunMigrations(migrationsDir string) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "cart_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsDir),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListCartEntries(ctx context.Context, userID string) ([]domain.CartEntry, error) {
	rows, err := r.db.QueryContext(ctx, listEntriesQuery, userID)
	if err != nil {
		return nil, fmt.Errorf("query cart entries: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.CartEntry, 0)
	for rows.Next() {
		var (
			entry                                  domain.CartEntry
			listingID, title, ownerID, listingType sql.NullString
			locationTag, categoryID, otherDelivery sql.NullString
			price, shippingPrice                   decimal.NullDecimal
			images, methods                        pq.StringArray
		)
		if err := rows.Scan(
			&entry.ID, &entry.ListingID, &entry.Quantity, &entry.AddedAt,
			&listingID, &title, &price, &images, &ownerID, &listingType, &locationTag,
			&categoryID, &methods, &shippingPrice, &otherDelivery,
		); err != nil {
			return nil, fmt.Errorf("scan cart entry: %w", err)
		}

		if listingID.Valid {
			listing := &domain.ListingSnapshot{
				ID:                listingID.String,
				Title:             title.String,
				Price:             price.Decimal,
				Images:            []string(images),
				OwnerID:           ownerID.String,
				ListingType:       listingType.String,
				LocationTag:       locationTag.String,
				CategoryID:        categoryID.String,
				DeliveryMethods:   make([]domain.DeliveryMethod, 0, len(methods)),
				OtherDeliveryInfo: otherDelivery.String,
			}
			for _, raw := range methods {
				if m, err := domain.ParseDeliveryMethod(raw); err == nil {
					listing.DeliveryMethods = append(listing.DeliveryMethods, m)
				}
			}
			if shippingPrice.Valid {
				sp := shippingPrice.Decimal
				listing.ShippingPrice = &sp
			}
			entry.Listing = listing
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart entries: %w", err)
	}
	return entries, nil
}

func (r *PostgresRepository) ListDeliverySelections(ctx context.Context, userID string) ([]domain.DeliverySelection, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, entry_id, user_id, method FROM delivery_selections WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("query delivery selections: %w", err)
	}
	defer rows.Close()

	selections := make([]domain.DeliverySelection, 0)
	for rows.Next() {
		var sel domain.DeliverySelection
		if err := rows.Scan(&sel.ID, &sel.EntryID, &sel.UserID, &sel.Method); err != nil {
			return nil, fmt.Errorf("scan delivery selection: %w", err)
		}
		selections = append(selections, sel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivery selections: %w", err)
	}
	return selections, nil
}

func (r *PostgresRepository) UpsertDeliverySelection(ctx context.Context, userID, entryID string, method domain.DeliveryMethod) (*domain.DeliverySelection, error) {
	var sel domain.DeliverySelection
	err := r.db.QueryRowContext(ctx, upsertSelectionQuery, uuid.NewString(), entryID, userID, string(method)).
		Scan(&sel.ID, &sel.EntryID, &sel.UserID, &sel.Method)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("upsert delivery selection: %w", err)
	}
	return &sel, nil
}

func (r *PostgresRepository) DeleteDeliverySelection(ctx context.Context, userID, entryID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM delivery_selections WHERE entry_id = $1 AND user_id = $2`, entryID, userID)
	if err != nil {
		return fmt.Errorf("delete delivery selection: %w", err)
	}
	return nil
}

func (r *PostgresRepository) InsertCartEntry(ctx context.Context, userID, listingID string, quantity int) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO cart_entries (id, user_id, listing_id, quantity) VALUES ($1, $2, $3, $4)`,
		uuid.NewString(), userID, listingID, quantity)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return ErrDuplicateEntry
		}
		return fmt.Errorf("insert cart entry: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateCartEntryQuantity(ctx context.Context, userID, entryID string, quantity int) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE cart_entries SET quantity = $1, updated_at = NOW() WHERE id = $2 AND user_id = $3`,
		quantity, entryID, userID)
	if err != nil {
		return fmt.Errorf("update cart entry quantity: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update cart entry quantity: %w", err)
	}
	if n == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// DeleteCartEntry relies on the ON DELETE CASCADE of delivery_selections.
func (r *PostgresRepository) DeleteCartEntry(ctx context.Context, userID, entryID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM cart_entries WHERE id = $1 AND user_id = $2`, entryID, userID)
	if err != nil {
		return fmt.Errorf("delete cart entry: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteAllCartEntries(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM cart_entries WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete cart entries: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

var _ CartStore = (*PostgresRepository)(nil)

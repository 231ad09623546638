package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vendora/bazaar/internal/domain/cart"
)

const (
	getCartByUserSQL    = `SELECT id, user_id, session_key, created_at FROM carts WHERE user_id = $1`
	getCartBySessionSQL = `SELECT id, user_id, session_key, created_at FROM carts WHERE session_key = $1`

	insertCartSQL = `INSERT INTO carts (id, user_id, session_key) VALUES ($1, $2, $3)`

	cartItemsSQL = `SELECT id, cart_id, variant_id, quantity, selections, added_at
		FROM cart_items WHERE cart_id = $1 ORDER BY added_at, id`

	cartItemForUpdateSQL = `SELECT id, cart_id, variant_id, quantity, selections, added_at
		FROM cart_items WHERE cart_id = $1 AND variant_id = $2 FOR UPDATE`

	insertCartItemSQL = `INSERT INTO cart_items (id, cart_id, variant_id, quantity, selections)
		VALUES ($1, $2, $3, $4, $5)`

	updateCartItemQtySQL = `UPDATE cart_items SET quantity = $2 WHERE id = $1`

	deleteCartSQL = `DELETE FROM carts WHERE id = $1`
)

var _ cart.Store = (*CartStore)(nil)

// CartStore implements cart.Store backed by PostgreSQL.
type CartStore struct {
	pool *pgxpool.Pool
}

// NewCartStore returns a CartStore that uses the given pool.
func NewCartStore(pool *pgxpool.Pool) *CartStore {
	return &CartStore{pool: pool}
}

// Get returns the owner's cart, or cart.ErrNotFound.
func (s *CartStore) Get(ctx context.Context, owner cart.Owner) (*cart.Cart, error) {
	query, arg := getCartByUserSQL, owner.UserID
	if owner.UserID == "" {
		query, arg = getCartBySessionSQL, owner.SessionKey
	}

	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("getting cart: %w", err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCart)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, fmt.Errorf("getting cart: %w", err)
	}
	return &c, nil
}

// GetOrCreate returns the owner's cart, creating it lazily on first use.
// A concurrent create by another request is resolved by re-reading.
func (s *CartStore) GetOrCreate(ctx context.Context, owner cart.Owner) (*cart.Cart, error) {
	c, err := s.Get(ctx, owner)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, cart.ErrNotFound) {
		return nil, err
	}

	var userID, sessionKey *string
	if owner.UserID != "" {
		userID = &owner.UserID
	}
	if owner.SessionKey != "" {
		sessionKey = &owner.SessionKey
	}

	id := uuid.New().String()
	_, err = s.pool.Exec(ctx, insertCartSQL, id, userID, sessionKey)
	if err != nil {
		if isUniqueViolation(err) {
			return s.Get(ctx, owner)
		}
		return nil, fmt.Errorf("creating cart: %w", err)
	}
	return s.Get(ctx, owner)
}

// Items returns the cart's lines ordered by add time.
func (s *CartStore) Items(ctx context.Context, cartID string) ([]cart.Item, error) {
	rows, err := s.pool.Query(ctx, cartItemsSQL, cartID)
	if err != nil {
		return nil, fmt.Errorf("listing cart items: %w", err)
	}
	return pgx.CollectRows(rows, scanCartItem)
}

// InTx runs fn inside a single transaction.
func (s *CartStore) InTx(ctx context.Context, fn func(tx cart.Tx) error) error {
	return inTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&cartTx{tx: tx})
	})
}

type cartTx struct {
	tx pgx.Tx
}

func (t *cartTx) ItemForUpdate(ctx context.Context, cartID, variantID string) (*cart.Item, error) {
	rows, err := t.tx.Query(ctx, cartItemForUpdateSQL, cartID, variantID)
	if err != nil {
		return nil, fmt.Errorf("locking cart item: %w", err)
	}
	item, err := pgx.CollectExactlyOneRow(rows, scanCartItem)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("locking cart item: %w", err)
	}
	return &item, nil
}

func (t *cartTx) InsertItem(ctx context.Context, item *cart.Item) error {
	selections, err := marshalSelections(item.Selections)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, insertCartItemSQL,
		item.ID, item.CartID, item.VariantID, item.Quantity, selections)
	if err != nil {
		if isUniqueViolation(err) {
			return cart.ErrItemExists
		}
		return fmt.Errorf("inserting cart item: %w", err)
	}
	return nil
}

func (t *cartTx) UpdateItemQuantity(ctx context.Context, itemID string, quantity int) error {
	_, err := t.tx.Exec(ctx, updateCartItemQtySQL, itemID, quantity)
	if err != nil {
		return fmt.Errorf("updating cart item quantity: %w", err)
	}
	return nil
}

func (t *cartTx) Items(ctx context.Context, cartID string) ([]cart.Item, error) {
	rows, err := t.tx.Query(ctx, cartItemsSQL, cartID)
	if err != nil {
		return nil, fmt.Errorf("listing cart items: %w", err)
	}
	return pgx.CollectRows(rows, scanCartItem)
}

func (t *cartTx) DeleteCart(ctx context.Context, cartID string) error {
	_, err := t.tx.Exec(ctx, deleteCartSQL, cartID)
	if err != nil {
		return fmt.Errorf("deleting cart: %w", err)
	}
	return nil
}

func scanCart(row pgx.CollectableRow) (cart.Cart, error) {
	var (
		c          cart.Cart
		userID     *string
		sessionKey *string
	)
	err := row.Scan(&c.ID, &userID, &sessionKey, &c.CreatedAt)
	if userID != nil {
		c.UserID = *userID
	}
	if sessionKey != nil {
		c.SessionKey = *sessionKey
	}
	return c, err
}

func scanCartItem(row pgx.CollectableRow) (cart.Item, error) {
	var (
		item       cart.Item
		selections []byte
	)
	err := row.Scan(&item.ID, &item.CartID, &item.VariantID, &item.Quantity, &selections, &item.AddedAt)
	if err != nil {
		return item, err
	}
	if len(selections) > 0 {
		if err := unmarshalSelections(selections, &item.Selections); err != nil {
			return item, err
		}
	}
	return item, nil
}

func unmarshalSelections(raw []byte, dst *map[string]string) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decoding selections: %w", err)
	}
	return nil
}

func marshalSelections(selections map[string]string) ([]byte, error) {
	if len(selections) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(selections)
	if err != nil {
		return nil, fmt.Errorf("encoding selections: %w", err)
	}
	return b, nil
}

package invoice

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const (
	invoicesBucket     = "invoices"
	itemsBucket        = "invoice_items"
	invoiceIndexBucket = "invoice_item_index"
)

// Repository is the owner-scoped store used by interactive operations.
// Every method that touches an existing invoice compares its owner with ownerID.
type Repository interface {
	// CreateInvoice inserts a new invoice row
	CreateInvoice(ctx context.Context, inv *Invoice) error

	// GetInvoice returns an invoice owned by ownerID
	GetInvoice(ctx context.Context, ownerID, id string) (*Invoice, error)

	// ListInvoices returns the owner's invoices, newest first
	ListInvoices(ctx context.Context, ownerID string) ([]*Invoice, error)

	// DeleteInvoice removes an invoice and all of its items
	DeleteInvoice(ctx context.Context, ownerID, id string) error

	// ListItems returns the items of one invoice in extraction order
	ListItems(ctx context.Context, ownerID, invoiceID string) ([]*Item, error)

	// UpdateItem applies a manual edit to an item
	UpdateItem(ctx context.Context, ownerID, itemID string, update ItemUpdate) (*Item, error)

	// ListOwnerItems returns every item of the owner joined with its invoice, newest first
	ListOwnerItems(ctx context.Context, ownerID string) ([]*ItemWithInvoice, error)
}

// ExtractionStore is the privileged store handed to the orchestrator.
// It performs no ownership checks; callers verify ownership beforehand.
type ExtractionStore interface {
	// LoadInvoice reads an invoice regardless of owner
	LoadInvoice(ctx context.Context, id string) (*Invoice, error)

	// CompleteExtraction marks the invoice analyzed and writes its items atomically.
	// It fails with ErrAlreadyAnalyzed if the invoice is already analyzed.
	CompleteExtraction(ctx context.Context, id, supplier string, items []*Item) error

	// FailExtraction marks the invoice as error unless it is already analyzed
	FailExtraction(ctx context.Context, id string) error
}

// DB is a complete invoice store
type DB interface {
	Repository
	ExtractionStore

	// Close closes the database connection
	Close() error
}

// BoltDB implements DB on top of bbolt
type BoltDB struct {
	db *bbolt.DB
}

var _ DB = (*BoltDB)(nil)

// NewBoltDB opens (or creates) a bbolt file and its buckets
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{invoicesBucket, itemsBucket, invoiceIndexBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func getInvoice(tx *bbolt.Tx, id string) (*Invoice, error) {
	data := tx.Bucket([]byte(invoicesBucket)).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("invoice %s: %w", id, ErrNotFound)
	}
	var inv Invoice
	if err := json.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("unmarshaling invoice: %w", err)
	}
	return &inv, nil
}

func getOwnedInvoice(tx *bbolt.Tx, ownerID, id string) (*Invoice, error) {
	inv, err := getInvoice(tx, id)
	if err != nil {
		return nil, err
	}
	if inv.OwnerID != ownerID {
		return nil, fmt.Errorf("invoice %s: %w", id, ErrOwnershipViolation)
	}
	return inv, nil
}

func putInvoice(tx *bbolt.Tx, inv *Invoice) error {
	data, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("marshaling invoice: %w", err)
	}
	return tx.Bucket([]byte(invoicesBucket)).Put([]byte(inv.ID), data)
}

func getItem(tx *bbolt.Tx, id string) (*Item, error) {
	data := tx.Bucket([]byte(itemsBucket)).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("unmarshaling item: %w", err)
	}
	return &item, nil
}

func putItem(tx *bbolt.Tx, item *Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshaling item: %w", err)
	}
	return tx.Bucket([]byte(itemsBucket)).Put([]byte(item.ID), data)
}

// invoiceItems loads the items of an invoice through its index bucket
func invoiceItems(tx *bbolt.Tx, invoiceID string) ([]*Item, error) {
	index := tx.Bucket([]byte(invoiceIndexBucket)).Bucket([]byte(invoiceID))
	if index == nil {
		return nil, nil
	}
	var items []*Item
	err := index.ForEach(func(k, _ []byte) error {
		item, err := getItem(tx, string(k))
		if err != nil {
			return err
		}
		items = append(items, item)
		return nil
	})
	return items, err
}

// CreateInvoice inserts a new invoice row
func (b *BoltDB) CreateInvoice(_ context.Context, inv *Invoice) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(invoicesBucket)).Get([]byte(inv.ID)) != nil {
			return fmt.Errorf("invoice %s already exists", inv.ID)
		}
		return putInvoice(tx, inv)
	})
}

// GetInvoice returns an invoice owned by ownerID
func (b *BoltDB) GetInvoice(_ context.Context, ownerID, id string) (*Invoice, error) {
	var inv *Invoice
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		inv, err = getOwnedInvoice(tx, ownerID, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// ListInvoices returns the owner's invoices, newest first
func (b *BoltDB) ListInvoices(_ context.Context, ownerID string) ([]*Invoice, error) {
	invoices := []*Invoice{}
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(invoicesBucket)).ForEach(func(_, v []byte) error {
			var inv Invoice
			if err := json.Unmarshal(v, &inv); err != nil {
				return fmt.Errorf("unmarshaling invoice: %w", err)
			}
			if inv.OwnerID == ownerID {
				invoices = append(invoices, &inv)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortInvoicesNewestFirst(invoices)
	return invoices, nil
}

// DeleteInvoice removes an invoice and all of its items in one transaction
func (b *BoltDB) DeleteInvoice(_ context.Context, ownerID, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if _, err := getOwnedInvoice(tx, ownerID, id); err != nil {
			return err
		}
		indexes := tx.Bucket([]byte(invoiceIndexBucket))
		if index := indexes.Bucket([]byte(id)); index != nil {
			items := tx.Bucket([]byte(itemsBucket))
			err := index.ForEach(func(k, _ []byte) error {
				return items.Delete(k)
			})
			if err != nil {
				return fmt.Errorf("deleting items: %w", err)
			}
			if err := indexes.DeleteBucket([]byte(id)); err != nil {
				return fmt.Errorf("deleting item index: %w", err)
			}
		}
		return tx.Bucket([]byte(invoicesBucket)).Delete([]byte(id))
	})
}

// ListItems returns the items of one invoice in extraction order
func (b *BoltDB) ListItems(_ context.Context, ownerID, invoiceID string) ([]*Item, error) {
	var items []*Item
	err := b.db.View(func(tx *bbolt.Tx) error {
		if _, err := getOwnedInvoice(tx, ownerID, invoiceID); err != nil {
			return err
		}
		var err error
		items, err = invoiceItems(tx, invoiceID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Item{}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

// UpdateItem applies a manual edit after checking the owner of the parent invoice
func (b *BoltDB) UpdateItem(_ context.Context, ownerID, itemID string, update ItemUpdate) (*Item, error) {
	var item *Item
	err := b.db.Update(func(tx *bbolt.Tx) error {
		var err error
		item, err = getItem(tx, itemID)
		if err != nil {
			return err
		}
		if _, err := getOwnedInvoice(tx, ownerID, item.InvoiceID); err != nil {
			return err
		}
		if err := update.Apply(item); err != nil {
			return err
		}
		return putItem(tx, item)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// ListOwnerItems returns every item of the owner joined with its invoice
func (b *BoltDB) ListOwnerItems(_ context.Context, ownerID string) ([]*ItemWithInvoice, error) {
	rows := []*ItemWithInvoice{}
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(invoicesBucket)).ForEach(func(_, v []byte) error {
			var inv Invoice
			if err := json.Unmarshal(v, &inv); err != nil {
				return fmt.Errorf("unmarshaling invoice: %w", err)
			}
			if inv.OwnerID != ownerID {
				return nil
			}
			items, err := invoiceItems(tx, inv.ID)
			if err != nil {
				return err
			}
			for _, item := range items {
				rows = append(rows, joinItem(item, &inv))
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID > rows[j].ID })
	return rows, nil
}

// LoadInvoice reads an invoice regardless of owner
func (b *BoltDB) LoadInvoice(_ context.Context, id string) (*Invoice, error) {
	var inv *Invoice
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		inv, err = getInvoice(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// CompleteExtraction sets the invoice analyzed and writes its items in one transaction
func (b *BoltDB) CompleteExtraction(_ context.Context, id, supplier string, items []*Item) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		inv, err := getInvoice(tx, id)
		if err != nil {
			return err
		}
		if !inv.Status.CanAnalyze() {
			return fmt.Errorf("invoice %s: %w", id, ErrAlreadyAnalyzed)
		}
		inv.Status = StatusAnalyzed
		inv.Supplier = &supplier
		if err := putInvoice(tx, inv); err != nil {
			return err
		}

		index, err := tx.Bucket([]byte(invoiceIndexBucket)).CreateBucketIfNotExists([]byte(id))
		if err != nil {
			return fmt.Errorf("creating item index: %w", err)
		}
		for _, item := range items {
			item.InvoiceID = id
			if err := putItem(tx, item); err != nil {
				return err
			}
			if err := index.Put([]byte(item.ID), []byte(item.ID)); err != nil {
				return fmt.Errorf("indexing item: %w", err)
			}
		}
		return nil
	})
}

// FailExtraction marks the invoice as error unless it is already analyzed
func (b *BoltDB) FailExtraction(_ context.Context, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		inv, err := getInvoice(tx, id)
		if err != nil {
			return err
		}
		if inv.Status == StatusAnalyzed {
			return nil
		}
		inv.Status = StatusError
		return putInvoice(tx, inv)
	})
}

// Close closes the database
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func joinItem(item *Item, inv *Invoice) *ItemWithInvoice {
	return &ItemWithInvoice{
		Item: *item,
		Invoice: InvoiceRef{
			Filename:  inv.Filename,
			FileURL:   inv.FileURL,
			OwnerID:   inv.OwnerID,
			CreatedAt: inv.CreatedAt,
		},
	}
}

func sortInvoicesNewestFirst(invoices []*Invoice) {
	sort.SliceStable(invoices, func(i, j int) bool {
		if !invoices[i].CreatedAt.Equal(invoices[j].CreatedAt) {
			return invoices[i].CreatedAt.After(invoices[j].CreatedAt)
		}
		return invoices[i].ID > invoices[j].ID
	})
}

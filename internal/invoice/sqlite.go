package invoice

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// createdAtLayout is fixed width so that text ordering matches time ordering
const createdAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteDB implements DB on a relational schema: invoices and invoice_items
type SQLiteDB struct {
	db *sqlx.DB
}

var _ DB = (*SQLiteDB)(nil)

type invoiceRow struct {
	ID          string         `db:"id"`
	Filename    string         `db:"filename"`
	FileURL     string         `db:"file_url"`
	StoragePath string         `db:"storage_path"`
	UserID      string         `db:"user_id"`
	Status      string         `db:"status"`
	Supplier    sql.NullString `db:"supplier"`
	CreatedAt   string         `db:"created_at"`
}

func (r *invoiceRow) toInvoice() (*Invoice, error) {
	createdAt, err := time.Parse(createdAtLayout, r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at of invoice %s: %w", r.ID, err)
	}
	inv := &Invoice{
		ID:          r.ID,
		Filename:    r.Filename,
		FileURL:     r.FileURL,
		StoragePath: r.StoragePath,
		OwnerID:     r.UserID,
		Status:      Status(r.Status),
		CreatedAt:   createdAt,
	}
	if r.Supplier.Valid {
		supplier := r.Supplier.String
		inv.Supplier = &supplier
	}
	return inv, nil
}

type itemJoinRow struct {
	Item
	InvoiceFilename  string `db:"inv_filename"`
	InvoiceFileURL   string `db:"inv_file_url"`
	InvoiceUserID    string `db:"inv_user_id"`
	InvoiceCreatedAt string `db:"inv_created_at"`
}

const invoiceColumns = `id, filename, file_url, storage_path, user_id, status, supplier, created_at`

// NewSQLiteDB runs pending migrations and opens the database file
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving database path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	dsn := absPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	if err := runMigrations(dsn); err != nil {
		return nil, err
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &SQLiteDB{db: db}, nil
}

func runMigrations(dsn string) error {
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("connecting for migrations: %w", err)
	}
	defer db.Close()

	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("opening migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("creating migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// withTx runs fn in a transaction, committing on success
func (s *SQLiteDB) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}

func selectInvoice(ctx context.Context, q sqlx.QueryerContext, id string) (*Invoice, error) {
	var row invoiceRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("invoice %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("selecting invoice: %w", err)
	}
	return row.toInvoice()
}

func selectOwnedInvoice(ctx context.Context, q sqlx.QueryerContext, ownerID, id string) (*Invoice, error) {
	inv, err := selectInvoice(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if inv.OwnerID != ownerID {
		return nil, fmt.Errorf("invoice %s: %w", id, ErrOwnershipViolation)
	}
	return inv, nil
}

// CreateInvoice inserts a new invoice row
func (s *SQLiteDB) CreateInvoice(ctx context.Context, inv *Invoice) error {
	var supplier sql.NullString
	if inv.Supplier != nil {
		supplier = sql.NullString{String: *inv.Supplier, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invoices (`+invoiceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.Filename, inv.FileURL, inv.StoragePath, inv.OwnerID, string(inv.Status), supplier,
		inv.CreatedAt.UTC().Format(createdAtLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting invoice: %w", err)
	}
	return nil
}

// GetInvoice returns an invoice owned by ownerID
func (s *SQLiteDB) GetInvoice(ctx context.Context, ownerID, id string) (*Invoice, error) {
	return selectOwnedInvoice(ctx, s.db, ownerID, id)
}

// ListInvoices returns the owner's invoices, newest first
func (s *SQLiteDB) ListInvoices(ctx context.Context, ownerID string) ([]*Invoice, error) {
	var rows []invoiceRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+invoiceColumns+` FROM invoices WHERE user_id = ? ORDER BY created_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing invoices: %w", err)
	}
	invoices := make([]*Invoice, 0, len(rows))
	for i := range rows {
		inv, err := rows[i].toInvoice()
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, nil
}

// DeleteInvoice removes an invoice and its items in one transaction
func (s *SQLiteDB) DeleteInvoice(ctx context.Context, ownerID, id string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := selectOwnedInvoice(ctx, tx, ownerID, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM invoice_items WHERE invoice_id = ?`, id); err != nil {
			return fmt.Errorf("deleting items: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM invoices WHERE id = ? AND user_id = ?`, id, ownerID); err != nil {
			return fmt.Errorf("deleting invoice: %w", err)
		}
		return nil
	})
}

// ListItems returns the items of one invoice in extraction order
func (s *SQLiteDB) ListItems(ctx context.Context, ownerID, invoiceID string) ([]*Item, error) {
	if _, err := selectOwnedInvoice(ctx, s.db, ownerID, invoiceID); err != nil {
		return nil, err
	}
	items := []*Item{}
	err := s.db.SelectContext(ctx, &items,
		`SELECT id, invoice_id, description, quantity, unit_price, total_price
		 FROM invoice_items WHERE invoice_id = ? ORDER BY id ASC`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	return items, nil
}

// UpdateItem applies a manual edit after checking the owner of the parent invoice
func (s *SQLiteDB) UpdateItem(ctx context.Context, ownerID, itemID string, update ItemUpdate) (*Item, error) {
	var item Item
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &item,
			`SELECT id, invoice_id, description, quantity, unit_price, total_price
			 FROM invoice_items WHERE id = ?`, itemID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("item %s: %w", itemID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("selecting item: %w", err)
		}
		if _, err := selectOwnedInvoice(ctx, tx, ownerID, item.InvoiceID); err != nil {
			return err
		}
		if err := update.Apply(&item); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE invoice_items SET description = ?, quantity = ?, unit_price = ?, total_price = ? WHERE id = ?`,
			item.Description, item.Quantity, item.UnitPrice, item.TotalPrice, item.ID)
		if err != nil {
			return fmt.Errorf("updating item: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListOwnerItems returns every item of the owner joined with its invoice, newest first
func (s *SQLiteDB) ListOwnerItems(ctx context.Context, ownerID string) ([]*ItemWithInvoice, error) {
	var rows []itemJoinRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT it.id, it.invoice_id, it.description, it.quantity, it.unit_price, it.total_price,
		        inv.filename AS inv_filename, inv.file_url AS inv_file_url,
		        inv.user_id AS inv_user_id, inv.created_at AS inv_created_at
		 FROM invoice_items it
		 JOIN invoices inv ON inv.id = it.invoice_id
		 WHERE inv.user_id = ?
		 ORDER BY it.id DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing owner items: %w", err)
	}
	result := make([]*ItemWithInvoice, 0, len(rows))
	for _, row := range rows {
		createdAt, err := time.Parse(createdAtLayout, row.InvoiceCreatedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at of invoice %s: %w", row.InvoiceID, err)
		}
		result = append(result, &ItemWithInvoice{
			Item: row.Item,
			Invoice: InvoiceRef{
				Filename:  row.InvoiceFilename,
				FileURL:   row.InvoiceFileURL,
				OwnerID:   row.InvoiceUserID,
				CreatedAt: createdAt,
			},
		})
	}
	return result, nil
}

// LoadInvoice reads an invoice regardless of owner
func (s *SQLiteDB) LoadInvoice(ctx context.Context, id string) (*Invoice, error) {
	return selectInvoice(ctx, s.db, id)
}

// CompleteExtraction sets status and supplier with a conditional update, then inserts items.
// Both happen in one transaction.
func (s *SQLiteDB) CompleteExtraction(ctx context.Context, id, supplier string, items []*Item) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE invoices SET status = ?, supplier = ? WHERE id = ? AND status <> ?`,
			string(StatusAnalyzed), supplier, id, string(StatusAnalyzed))
		if err != nil {
			return fmt.Errorf("updating invoice status: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("reading affected rows: %w", err)
		}
		if n == 0 {
			if _, err := selectInvoice(ctx, tx, id); err != nil {
				return err
			}
			return fmt.Errorf("invoice %s: %w", id, ErrAlreadyAnalyzed)
		}

		for _, item := range items {
			item.InvoiceID = id
			_, err := tx.ExecContext(ctx,
				`INSERT INTO invoice_items (id, invoice_id, description, quantity, unit_price, total_price)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				item.ID, item.InvoiceID, item.Description, item.Quantity, item.UnitPrice, item.TotalPrice)
			if err != nil {
				return fmt.Errorf("inserting item: %w", err)
			}
		}
		return nil
	})
}

// FailExtraction marks the invoice as error unless it is already analyzed
func (s *SQLiteDB) FailExtraction(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE invoices SET status = ? WHERE id = ? AND status <> ?`,
		string(StatusError), id, string(StatusAnalyzed))
	if err != nil {
		return fmt.Errorf("updating invoice status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, err := selectInvoice(ctx, s.db, id); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

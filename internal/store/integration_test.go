// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BidMart Contributors

//go:build integration

package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bidmart/bidmart/internal/access"
	"github.com/bidmart/bidmart/internal/bulk"
	"github.com/bidmart/bidmart/internal/docstore"
	pgdocstore "github.com/bidmart/bidmart/internal/docstore/postgres"
	"github.com/bidmart/bidmart/internal/store"
)

// startPostgres starts a PostgreSQL container and returns its connection string.
func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("bidmart_test"),
		postgres.WithUsername("bidmart"),
		postgres.WithPassword("bidmart"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return "", nil, err
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return "", nil, err
	}
	return connStr, func() { _ = container.Terminate(ctx) }, nil
}

var _ = Describe("PostgreSQL storage", Ordered, func() {
	var (
		ctx       context.Context
		connStr   string
		terminate func()
		pool      *pgxpool.Pool
		docs      *pgdocstore.Store
	)

	BeforeAll(func() {
		ctx = context.Background()
		var err error
		connStr, terminate, err = startPostgres(ctx)
		Expect(err).NotTo(HaveOccurred())

		m, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Up()).To(Succeed())
		Expect(m.Close()).To(Succeed())

		pool, err = store.OpenPool(ctx, connStr)
		Expect(err).NotTo(HaveOccurred())
		docs = pgdocstore.New(pool, pgdocstore.WithMaxAttempts(20))
	})

	AfterAll(func() {
		if pool != nil {
			pool.Close()
		}
		if terminate != nil {
			terminate()
		}
	})

	BeforeEach(func() {
		_, err := pool.Exec(ctx, `TRUNCATE documents, bulk_operations`)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Migrator", func() {
		It("reports no pending migrations after Up", func() {
			m, err := store.NewMigrator(connStr)
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = m.Close() }()

			version, dirty, err := m.Version()
			Expect(err).NotTo(HaveOccurred())
			Expect(dirty).To(BeFalse())
			Expect(version).To(Equal(uint(2)))

			pending, err := m.PendingMigrations()
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(BeEmpty())
		})
	})

	Describe("document store", func() {
		It("round-trips nested documents", func() {
			Expect(docs.Set(ctx, "products", "p1", map[string]any{
				"name":  "lamp",
				"price": map[string]any{"amount": 10.5},
			})).To(Succeed())
			Expect(docs.Update(ctx, "products", "p1", map[string]any{"price.currency": "EUR"})).To(Succeed())

			snap, err := docs.Get(ctx, "products", "p1")
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Exists).To(BeTrue())
			Expect(snap.Data).To(HaveKeyWithValue("price", map[string]any{"amount": 10.5, "currency": "EUR"}))
		})

		It("reports missing documents", func() {
			snap, err := docs.Get(ctx, "products", "ghost")
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Exists).To(BeFalse())

			err = docs.Update(ctx, "products", "ghost", map[string]any{"a": 1})
			Expect(errors.Is(err, docstore.ErrNotFound)).To(BeTrue())
		})

		It("rolls back a failed transaction", func() {
			Expect(docs.Set(ctx, "products", "p1", map[string]any{"stock": 1})).To(Succeed())

			boom := errors.New("Transaction failed")
			err := docs.RunTransaction(ctx, func(ctx context.Context, tx docstore.Txn) error {
				Expect(tx.Delete(ctx, "products", "p1")).To(Succeed())
				return boom
			})
			Expect(err).To(MatchError(boom))

			snap, err := docs.Get(ctx, "products", "p1")
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Exists).To(BeTrue())
		})

		It("serializes concurrent read-modify-write transactions", func() {
			Expect(docs.Set(ctx, "counters", "c", map[string]any{"n": 0})).To(Succeed())

			const workers = 8
			var wg sync.WaitGroup
			errs := make(chan error, workers)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					errs <- docs.RunTransaction(ctx, func(ctx context.Context, tx docstore.Txn) error {
						snap, err := tx.Get(ctx, "counters", "c")
						if err != nil {
							return err
						}
						n, _ := snap.Data["n"].(float64)
						return tx.Update(ctx, "counters", "c", map[string]any{"n": n + 1})
					})
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				Expect(err).NotTo(HaveOccurred())
			}

			snap, err := docs.Get(ctx, "counters", "c")
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Data["n"]).To(Equal(float64(workers)))
		})
	})

	Describe("bulk operations", func() {
		var svc *bulk.Service
		var audit *store.BulkAuditRepository

		BeforeEach(func() {
			Expect(docs.Set(ctx, access.UsersCollection, "seller-1", map[string]any{"role": "seller"})).To(Succeed())
			for i := 1; i <= 3; i++ {
				Expect(docs.Set(ctx, "products", fmt.Sprintf("id%d", i), map[string]any{"status": "draft"})).To(Succeed())
			}
			audit = store.NewBulkAuditRepository(pool)
			svc = bulk.NewService(
				bulk.NewExecutor(docs),
				access.NewGate(access.NewDocumentDirectory(docs)),
				access.DefaultPolicy(),
				bulk.WithAuditLog(audit),
			)
		})

		It("isolates missing items and records the operation", func() {
			got, err := svc.Run(ctx, "seller-1", bulk.Request{
				ResourceCollection: "products",
				Action:             "update",
				IDs:                []string{"id1", "id4", "id3"},
				Data:               map[string]any{"status": "active"},
			}, bulk.RunOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(got.SuccessCount).To(Equal(2))
			Expect(got.Errors).To(Equal([]bulk.ItemError{{ID: "id4", Error: "Item not found"}}))

			entries, err := audit.ListByCaller(ctx, "seller-1", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].FailedCount).To(Equal(1))
		})

		It("commits nothing when a transactional batch fails", func() {
			got, err := svc.Run(ctx, "seller-1", bulk.Request{
				ResourceCollection: "products",
				Action:             "softDelete",
				IDs:                []string{"id1", "id2", "id9"},
			}, bulk.RunOptions{Transactional: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(bulk.Result{Message: "Item not found"}))

			snap, err := docs.Get(ctx, "products", "id1")
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Data).NotTo(HaveKey("deleted"))
		})
	})
})

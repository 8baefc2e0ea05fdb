// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package store_test

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/gatekeeper/internal/store"
)

var _ = Describe("Canonical schema", Ordered, func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		connStr   string
		pool      *pgxpool.Pool
	)

	BeforeAll(func() {
		ctx = context.Background()

		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("gatekeeper_test"),
			postgres.WithUsername("gatekeeper"),
			postgres.WithPassword("gatekeeper"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err = container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		pool, err = store.Connect(ctx, connStr, store.PoolOptions{})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if pool != nil {
			pool.Close()
		}
		if container != nil {
			_ = container.Terminate(ctx)
		}
	})

	It("starts empty with every migration pending", func() {
		m, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		defer m.Close()

		v, dirty, err := m.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(BeZero())
		Expect(dirty).To(BeFalse())

		pending, err := m.Pending()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(Equal([]uint{1, 2}))
	})

	It("applies, steps and rolls back", func() {
		m, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		defer m.Close()

		Expect(m.Up()).To(Succeed())
		Expect(m.Up()).To(Succeed())
		v, _, err := m.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(uint(2)))

		Expect(m.Steps(-1)).To(Succeed())
		v, _, _ = m.Version()
		Expect(v).To(Equal(uint(1)))

		Expect(m.Steps(1)).To(Succeed())
		Expect(m.Down()).To(Succeed())
		v, _, _ = m.Version()
		Expect(v).To(BeZero())

		Expect(m.Up()).To(Succeed())
	})

	It("enforces case-insensitive nickname uniqueness", func() {
		_, err := pool.Exec(ctx, `
			INSERT INTO gatekeeper_users (id, last_nickname) VALUES (gen_random_uuid(), 'Notch')
		`)
		Expect(err).NotTo(HaveOccurred())

		_, err = pool.Exec(ctx, `
			INSERT INTO gatekeeper_users (id, last_nickname) VALUES (gen_random_uuid(), 'NOTCH')
		`)
		Expect(err).To(HaveOccurred())
	})
})

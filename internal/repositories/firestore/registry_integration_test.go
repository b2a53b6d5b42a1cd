//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/medleaf/api/internal/domain"
	pconfig "github.com/medleaf/api/internal/platform/config"
	pfirestore "github.com/medleaf/api/internal/platform/firestore"
	"github.com/medleaf/api/internal/repositories"
)

func TestRegistryIntegration(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	cfg := pconfig.FirestoreConfig{
		ProjectID:    "registry-test",
		EmulatorHost: endpoint,
	}

	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	registry, err := NewRegistry(provider)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("provider client: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	seedMedicine := map[string]any{
		"sellerId":    "slr_1",
		"name":        "Napa Extra",
		"price":       int64(120),
		"stock":       int64(5),
		"isActive":    true,
		"rating":      nil,
		"ratingCount": int64(0),
		"createdAt":   now,
		"updatedAt":   now,
	}
	if _, err := client.Collection(medicinesCollection).Doc("med_1").Set(ctx, seedMedicine); err != nil {
		t.Fatalf("seed medicine: %v", err)
	}

	if err := registry.Carts().Upsert(ctx, domain.CartLine{
		ID:         "crt_1",
		UserID:     "usr_1",
		MedicineID: "med_1",
		Quantity:   3,
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		t.Fatalf("seed cart line: %v", err)
	}

	// Cart-to-order atomic unit: read cart and stock, decrement, insert
	// order, delete cart line, all in one transaction.
	order := domain.Order{
		ID:          "ord_1",
		OrderNumber: "ML-20250506-ABCDEF",
		UserID:      "usr_1",
		Status:      domain.OrderStatusPlaced,
		Items: []domain.OrderItem{
			{MedicineID: "med_1", MedicineName: "Napa Extra", SellerID: "slr_1", Quantity: 3, UnitPrice: 120, LineTotal: 360},
		},
		Totals:    domain.OrderTotals{Subtotal: 360, Total: 360, Currency: "BDT"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = registry.RunInTx(ctx, func(txCtx context.Context) error {
		lines, err := registry.Carts().ListByUser(txCtx, "usr_1")
		if err != nil {
			return err
		}
		if len(lines) != 1 {
			return fmt.Errorf("expected 1 cart line, got %d", len(lines))
		}
		if err := registry.Medicines().ReserveStock(txCtx, repositories.StockMutationRequest{
			Adjustments: []domain.StockAdjustment{{MedicineID: "med_1", Quantity: 3}},
			Now:         now,
		}); err != nil {
			return err
		}
		if err := registry.Orders().Insert(txCtx, order); err != nil {
			return err
		}
		return registry.Carts().DeleteLines(txCtx, "usr_1", []string{"med_1"})
	})
	if err != nil {
		t.Fatalf("order creation transaction: %v", err)
	}

	med, err := registry.Medicines().FindByID(ctx, "med_1")
	if err != nil {
		t.Fatalf("find medicine: %v", err)
	}
	if med.Stock != 2 {
		t.Fatalf("expected stock 2 after reservation, got %d", med.Stock)
	}
	lines, err := registry.Carts().ListByUser(ctx, "usr_1")
	if err != nil {
		t.Fatalf("list cart: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("expected consumed cart, got %d lines", len(lines))
	}

	// Over-reserving fails with a typed stock error and changes nothing.
	err = registry.RunInTx(ctx, func(txCtx context.Context) error {
		return registry.Medicines().ReserveStock(txCtx, repositories.StockMutationRequest{
			Adjustments: []domain.StockAdjustment{{MedicineID: "med_1", Quantity: 10}},
			Now:         now,
		})
	})
	var stockErr *repositories.StockError
	if !errors.As(err, &stockErr) || stockErr.Code != repositories.StockErrorInsufficient {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
	med, err = registry.Medicines().FindByID(ctx, "med_1")
	if err != nil {
		t.Fatalf("find medicine after failed reserve: %v", err)
	}
	if med.Stock != 2 {
		t.Fatalf("failed reserve must leave stock untouched, got %d", med.Stock)
	}

	// Cancellation releases the reserved units and updates the order.
	cancelledAt := now.Add(time.Minute)
	reason := "changed my mind"
	err = registry.RunInTx(ctx, func(txCtx context.Context) error {
		stored, err := registry.Orders().FindByID(txCtx, "ord_1")
		if err != nil {
			return err
		}
		if err := registry.Medicines().ReleaseStock(txCtx, repositories.StockMutationRequest{
			Adjustments: []domain.StockAdjustment{{MedicineID: "med_1", Quantity: 3}},
			Now:         cancelledAt,
		}); err != nil {
			return err
		}
		stored.Status = domain.OrderStatusCancelled
		stored.CanceledAt = &cancelledAt
		stored.CancelReason = &reason
		stored.UpdatedAt = cancelledAt
		return registry.Orders().Update(txCtx, stored)
	})
	if err != nil {
		t.Fatalf("cancellation transaction: %v", err)
	}

	med, err = registry.Medicines().FindByID(ctx, "med_1")
	if err != nil {
		t.Fatalf("find medicine after release: %v", err)
	}
	if med.Stock != 5 {
		t.Fatalf("expected stock restored to 5, got %d", med.Stock)
	}
	cancelled, err := registry.Orders().FindByID(ctx, "ord_1")
	if err != nil {
		t.Fatalf("find cancelled order: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled || cancelled.CancelReason == nil {
		t.Fatalf("unexpected cancelled order %+v", cancelled)
	}

	// Seller listing finds the order through the denormalised sellerIds.
	sellerOrders, err := registry.Orders().ListBySeller(ctx, "slr_1", repositories.OrderListFilter{})
	if err != nil {
		t.Fatalf("list by seller: %v", err)
	}
	if len(sellerOrders) != 1 || sellerOrders[0].ID != "ord_1" {
		t.Fatalf("unexpected seller orders %+v", sellerOrders)
	}

	// Review plus rating aggregate in one transaction.
	err = registry.RunInTx(ctx, func(txCtx context.Context) error {
		review := domain.Review{
			ID:         "rev_1",
			UserID:     "usr_1",
			MedicineID: "med_1",
			OrderID:    "ord_1",
			Rating:     4,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := registry.Reviews().Insert(txCtx, review); err != nil {
			return err
		}
		avg := 4.0
		return registry.Medicines().UpdateRating(txCtx, domain.RatingSummary{
			MedicineID: "med_1",
			Average:    &avg,
			Count:      1,
		}, now)
	})
	if err != nil {
		t.Fatalf("review transaction: %v", err)
	}
	med, err = registry.Medicines().FindByID(ctx, "med_1")
	if err != nil {
		t.Fatalf("find medicine after rating: %v", err)
	}
	if med.Rating == nil || *med.Rating != 4.0 || med.RatingCount != 1 {
		t.Fatalf("unexpected rating aggregate %+v", med)
	}

	if _, err := registry.Reviews().FindByUserAndMedicine(ctx, "usr_1", "med_1"); err != nil {
		t.Fatalf("find review by user and medicine: %v", err)
	}
	_, err = registry.Reviews().FindByUserAndMedicine(ctx, "usr_2", "med_1")
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found for missing review, got %v", err)
	}
}

func TestRegistryIntegrationConcurrentReserve(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	cfg := pconfig.FirestoreConfig{
		ProjectID:    "registry-race-test",
		EmulatorHost: endpoint,
	}

	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	registry, err := NewRegistry(provider)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("provider client: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	seedMedicine := map[string]any{
		"sellerId":    "slr_1",
		"name":        "Seclo 20",
		"price":       int64(80),
		"stock":       int64(1),
		"isActive":    true,
		"rating":      nil,
		"ratingCount": int64(0),
		"createdAt":   now,
		"updatedAt":   now,
	}
	if _, err := client.Collection(medicinesCollection).Doc("med_race").Set(ctx, seedMedicine); err != nil {
		t.Fatalf("seed medicine: %v", err)
	}

	// Two transactions contend for the last unit: the committed one wins, the
	// aborted one retries, re-reads stock 0, and fails with the typed error.
	reserve := func() error {
		return registry.RunInTx(ctx, func(txCtx context.Context) error {
			return registry.Medicines().ReserveStock(txCtx, repositories.StockMutationRequest{
				Adjustments: []domain.StockAdjustment{{MedicineID: "med_race", Quantity: 1}},
				Now:         now,
			})
		})
	}

	results := make(chan error, 2)
	var ready sync.WaitGroup
	ready.Add(2)
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		go func() {
			ready.Done()
			<-start
			results <- reserve()
		}()
	}
	ready.Wait()
	close(start)

	var wins, losses int
	for i := 0; i < 2; i++ {
		err := <-results
		if err == nil {
			wins++
			continue
		}
		var stockErr *repositories.StockError
		if !errors.As(err, &stockErr) || stockErr.Code != repositories.StockErrorInsufficient {
			t.Fatalf("expected insufficient stock error, got %v", err)
		}
		losses++
	}
	if wins != 1 || losses != 1 {
		t.Fatalf("expected exactly one winner and one insufficient-stock loser, got %d/%d", wins, losses)
	}

	med, err := registry.Medicines().FindByID(ctx, "med_race")
	if err != nil {
		t.Fatalf("find medicine: %v", err)
	}
	if med.Stock != 0 {
		t.Fatalf("expected stock 0 after the race, got %d", med.Stock)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}

	cmd := exec.Command("docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "info")
	if err := cmd.Run(); err != nil {
		t.Fatalf("docker daemon not available: %v", err)
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "stop", id)
	_ = cmd.Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/openmind/core-gateway/internal/ledger"
	"github.com/openmind/core-gateway/internal/store/model"
	"github.com/openmind/core-gateway/internal/store/sqlite"
)

// keygen issues a new API key into the account store. The raw key is
// printed exactly once; only its hash is persisted.
func main() {
	dsn := flag.String("dsn", "file:gateway.db?cache=shared&mode=rwc&_journal_mode=WAL&_busy_timeout=5000", "sqlite DSN")
	name := flag.String("name", "", "account display name")
	plan := flag.String("plan", string(ledger.PlanFree), "plan tier (free, standard, builder, pro, enterprise)")
	flag.Parse()

	limits, ok := ledger.LimitsFor(ledger.Plan(*plan))
	if !ok {
		log.Fatalf("unknown plan: %s", *plan)
	}

	repo, err := sqlite.NewSQLiteStorage(*dsn)
	if err != nil {
		log.Fatal(err)
	}
	defer repo.Close()

	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		log.Fatal(err)
	}
	rawKey := "om1_" + hex.EncodeToString(raw)

	hash := sha256.Sum256([]byte(rawKey))
	hashedHex := hex.EncodeToString(hash[:])

	now := time.Now()
	acct := &model.Account{
		ID:             uuid.NewString(),
		Name:           *name,
		KeyHash:        hashedHex,
		KeyPrefix:      rawKey[:12],
		Plan:           *plan,
		Balance:        limits.CycleUnits,
		CycleStartedAt: now,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := repo.Accounts().Create(context.Background(), acct); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Account:   %s\n", acct.ID)
	fmt.Printf("Plan:      %s (%d units/cycle, %.0f req/s)\n", *plan, limits.CycleUnits, limits.RequestsPerSecond)
	fmt.Printf("API Key:   %s\n", rawKey)
	fmt.Println("Store this key now; it cannot be recovered.")
}

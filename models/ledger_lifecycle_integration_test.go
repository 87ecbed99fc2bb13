package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/models"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("decimal %q: %v", s, err)
	}
	return v
}

func setupLedgerStack(t *testing.T) context.Context {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "ledger_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx := utils.SetUserIdInContext(context.Background(), 1)
	return ctx
}

func newTestCompany(t *testing.T, ctx context.Context, name string) (context.Context, *models.Company) {
	t.Helper()
	company, err := models.CreateCompany(ctx, &models.NewCompany{Name: name, Timezone: "UTC"})
	if err != nil {
		t.Fatalf("CreateCompany: %v", err)
	}
	return utils.SetCompanyIdInContext(ctx, company.ID.String()), company
}

type testAccounts struct {
	Cash      *models.Account
	Sales     *models.Account
	Tax       *models.Account
	Inventory *models.Account
	Payable   *models.Account
	Cogs      *models.Account
}

func seedAccounts(t *testing.T, ctx context.Context) testAccounts {
	t.Helper()
	mk := func(code, name string, at models.AccountType) *models.Account {
		a, err := models.CreateAccount(ctx, &models.NewAccount{Code: code, Name: name, AccountType: at})
		if err != nil {
			t.Fatalf("CreateAccount %s: %v", code, err)
		}
		return a
	}
	return testAccounts{
		Cash:      mk("1000", "Cash", models.AccountTypeAsset),
		Inventory: mk("1200", "Inventory", models.AccountTypeAsset),
		Payable:   mk("2000", "Accounts Payable", models.AccountTypeLiability),
		Tax:       mk("2100", "Tax Payable", models.AccountTypeLiability),
		Sales:     mk("4000", "Sales", models.AccountTypeIncome),
		Cogs:      mk("5000", "Cost of Goods Sold", models.AccountTypeExpense),
	}
}

func TestJournalLifecycle(t *testing.T) {
	ctx := setupLedgerStack(t)
	ctx, _ = newTestCompany(t, ctx, "Lifecycle Co")
	acc := seedAccounts(t, ctx)
	db := config.GetDB()

	postDate := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)

	// Tax-exclusive invoice: 100.00 net + 7% tax, grossing to 107.00.
	gross := dec(t, "107.00")
	entry1, err := models.CreateJournalEntry(ctx, &models.NewJournalEntry{
		EntryDate:     postDate,
		Description:   "Invoice 1",
		ExpectedTotal: &gross,
		Lines: []models.NewJournalLine{
			{AccountId: acc.Cash.ID, Debit: dec(t, "107.00")},
			{AccountId: acc.Sales.ID, Credit: dec(t, "100.00")},
			{AccountId: acc.Tax.ID, Credit: utils.CalculateTaxAmount(dec(t, "100.00"), dec(t, "7"), false)},
		},
	})
	if err != nil {
		t.Fatalf("post invoice: %v", err)
	}
	if entry1.EntryNumber != 1 {
		t.Fatalf("entry number = %d, want 1", entry1.EntryNumber)
	}

	// Unbalanced postings are refused and must not burn an entry number.
	_, err = models.CreateJournalEntry(ctx, &models.NewJournalEntry{
		EntryDate:   postDate,
		Description: "bad",
		Lines: []models.NewJournalLine{
			{AccountId: acc.Cash.ID, Debit: dec(t, "10.00")},
			{AccountId: acc.Sales.ID, Credit: dec(t, "9.00")},
		},
	})
	if !errors.Is(err, models.ErrorUnbalancedEntry) {
		t.Fatalf("err = %v, want ErrorUnbalancedEntry", err)
	}

	// ExpectedTotal drift is a rounding mismatch, also refused.
	wrongTotal := dec(t, "107.01")
	_, err = models.CreateJournalEntry(ctx, &models.NewJournalEntry{
		EntryDate:     postDate,
		Description:   "drifted",
		ExpectedTotal: &wrongTotal,
		Lines: []models.NewJournalLine{
			{AccountId: acc.Cash.ID, Debit: dec(t, "107.00")},
			{AccountId: acc.Sales.ID, Credit: dec(t, "107.00")},
		},
	})
	if !errors.Is(err, models.ErrorRoundingMismatch) {
		t.Fatalf("err = %v, want ErrorRoundingMismatch", err)
	}

	entry2, err := models.CreateJournalEntry(ctx, &models.NewJournalEntry{
		EntryDate:   postDate,
		Description: "Invoice 2",
		Lines: []models.NewJournalLine{
			{AccountId: acc.Cash.ID, Debit: dec(t, "50.00")},
			{AccountId: acc.Sales.ID, Credit: dec(t, "50.00")},
		},
	})
	if err != nil {
		t.Fatalf("post invoice 2: %v", err)
	}
	if entry2.EntryNumber != 2 {
		t.Fatalf("entry number = %d after failed posts, want gapless 2", entry2.EntryNumber)
	}

	// Reversal swaps lines and is at-most-once.
	var reversal *models.JournalEntry
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		reversal, err = models.ReverseJournalEntry(ctx, tx, entry1.ID, postDate.AddDate(0, 0, 1), "customer refund")
		return err
	})
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	got, err := models.GetJournalEntry(ctx, reversal.ID)
	if err != nil {
		t.Fatalf("fetch reversal: %v", err)
	}
	var cashCredit decimal.Decimal
	for _, l := range got.Lines {
		if l.AccountId == acc.Cash.ID {
			cashCredit = l.Credit
		}
	}
	if !cashCredit.Equal(dec(t, "107.00")) {
		t.Fatalf("reversal cash credit = %s, want 107.00", cashCredit)
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := models.ReverseJournalEntry(ctx, tx, entry1.ID, postDate.AddDate(0, 0, 1), "again")
		return err
	})
	if !errors.Is(err, models.ErrorAlreadyReversed) {
		t.Fatalf("second reversal err = %v, want ErrorAlreadyReversed", err)
	}

	// Adjustment: restate invoice 2 from 50.00 to 53.00, then supersede with
	// a 55.00 restatement. Exactly one adjustment stays active.
	desired53 := []models.NewJournalLine{
		{AccountId: acc.Cash.ID, Debit: dec(t, "53.00")},
		{AccountId: acc.Sales.ID, Credit: dec(t, "53.00")},
	}
	var adj1 *models.JournalEntry
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		adj1, err = models.AdjustJournalEntry(ctx, tx, entry2.ID, desired53, postDate.AddDate(0, 0, 2), "reprice")
		return err
	})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if adj1 == nil {
		t.Fatal("expected an adjustment entry")
	}

	// Same desired state again is a noop.
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		again, err := models.AdjustJournalEntry(ctx, tx, entry2.ID, desired53, postDate.AddDate(0, 0, 2), "reprice again")
		if err != nil {
			return err
		}
		if again != nil {
			t.Fatalf("identical adjustment should be a noop, got entry %d", again.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("noop adjust: %v", err)
	}

	desired55 := []models.NewJournalLine{
		{AccountId: acc.Cash.ID, Debit: dec(t, "55.00")},
		{AccountId: acc.Sales.ID, Credit: dec(t, "55.00")},
	}
	var adj2 *models.JournalEntry
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		adj2, err = models.AdjustJournalEntry(ctx, tx, entry2.ID, desired55, postDate.AddDate(0, 0, 3), "reprice again")
		return err
	})
	if err != nil {
		t.Fatalf("supersede adjust: %v", err)
	}
	oldAdj, err := models.GetJournalEntry(ctx, adj1.ID)
	if err != nil {
		t.Fatalf("fetch first adjustment: %v", err)
	}
	if oldAdj.SupersededByJournalEntryId == nil || *oldAdj.SupersededByJournalEntryId != adj2.ID {
		t.Fatalf("first adjustment superseded_by = %v, want %d", oldAdj.SupersededByJournalEntryId, adj2.ID)
	}
	if oldAdj.ReversedByJournalEntryId == nil {
		t.Fatal("superseded adjustment must be reversed")
	}
	// The new adjustment carries the full delta against the ORIGINAL: +5.00.
	newAdj, _ := models.GetJournalEntry(ctx, adj2.ID)
	if !newAdj.TotalAmount.Equal(dec(t, "5.00")) {
		t.Fatalf("second adjustment total = %s, want 5.00", newAdj.TotalAmount)
	}

	// Correcting back to the original posting succeeds: the active
	// adjustment is reversed and nothing further posts.
	desired50 := []models.NewJournalLine{
		{AccountId: acc.Cash.ID, Debit: dec(t, "50.00")},
		{AccountId: acc.Sales.ID, Credit: dec(t, "50.00")},
	}
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		back, err := models.AdjustJournalEntry(ctx, tx, entry2.ID, desired50, postDate.AddDate(0, 0, 4), "back to original")
		if err != nil {
			return err
		}
		if back == nil {
			t.Fatal("restoring the original must return the cancelling entry")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("adjust back to original: %v", err)
	}
	adj2After, err := models.GetJournalEntry(ctx, adj2.ID)
	if err != nil {
		t.Fatalf("refetch second adjustment: %v", err)
	}
	if adj2After.ReversedByJournalEntryId == nil {
		t.Fatal("restoring the original must reverse the active adjustment")
	}
	var activeCount int64
	if err := db.Model(&models.JournalEntry{}).
		Where("adjusts_journal_entry_id = ? AND reversed_by_journal_entry_id IS NULL AND superseded_by_journal_entry_id IS NULL AND is_void = 0", entry2.ID).
		Count(&activeCount).Error; err != nil {
		t.Fatalf("count active adjustments: %v", err)
	}
	if activeCount != 0 {
		t.Fatalf("active adjustments = %d, want 0 after restoring the original", activeCount)
	}

	// Close the period through the posting date; backdated entries bounce.
	if _, err := models.ClosePeriod(ctx, postDate.AddDate(0, 0, 5), "month end"); err != nil {
		t.Fatalf("ClosePeriod: %v", err)
	}
	_, err = models.CreateJournalEntry(ctx, &models.NewJournalEntry{
		EntryDate:   postDate,
		Description: "late",
		Lines: []models.NewJournalLine{
			{AccountId: acc.Cash.ID, Debit: dec(t, "1.00")},
			{AccountId: acc.Sales.ID, Credit: dec(t, "1.00")},
		},
	})
	if !errors.Is(err, models.ErrorClosedPeriod) {
		t.Fatalf("err = %v, want ErrorClosedPeriod", err)
	}
	// Day after the close boundary is open.
	if _, err = models.CreateJournalEntry(ctx, &models.NewJournalEntry{
		EntryDate:   postDate.AddDate(0, 0, 6),
		Description: "on time",
		Lines: []models.NewJournalLine{
			{AccountId: acc.Cash.ID, Debit: dec(t, "1.00")},
			{AccountId: acc.Sales.ID, Credit: dec(t, "1.00")},
		},
	}); err != nil {
		t.Fatalf("post after close boundary: %v", err)
	}
}

func TestTenantIsolation(t *testing.T) {
	ctx := setupLedgerStack(t)
	ctxA, _ := newTestCompany(t, ctx, "Company A")
	ctxB, _ := newTestCompany(t, ctx, "Company B")
	accA := seedAccounts(t, ctxA)
	accB := seedAccounts(t, ctxB)

	postDate := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	entryA, err := models.CreateJournalEntry(ctxA, &models.NewJournalEntry{
		EntryDate:   postDate,
		Description: "A's entry",
		Lines: []models.NewJournalLine{
			{AccountId: accA.Cash.ID, Debit: dec(t, "10.00")},
			{AccountId: accA.Sales.ID, Credit: dec(t, "10.00")},
		},
	})
	if err != nil {
		t.Fatalf("post in A: %v", err)
	}

	// B cannot see A's entry or A's accounts.
	if _, err := models.GetJournalEntry(ctxB, entryA.ID); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("cross-tenant read err = %v, want ErrorRecordNotFound", err)
	}
	if _, err := models.GetAccount(ctxB, accA.Cash.ID); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("cross-tenant account read err = %v, want ErrorRecordNotFound", err)
	}

	// B cannot post against A's accounts.
	_, err = models.CreateJournalEntry(ctxB, &models.NewJournalEntry{
		EntryDate:   postDate,
		Description: "cross-tenant accounts",
		Lines: []models.NewJournalLine{
			{AccountId: accA.Cash.ID, Debit: dec(t, "10.00")},
			{AccountId: accB.Sales.ID, Credit: dec(t, "10.00")},
		},
	})
	if err == nil {
		t.Fatal("posting against another company's account must fail")
	}

	// Per-company numbering: B's first entry is 1 regardless of A's activity.
	entryB, err := models.CreateJournalEntry(ctxB, &models.NewJournalEntry{
		EntryDate:   postDate,
		Description: "B's entry",
		Lines: []models.NewJournalLine{
			{AccountId: accB.Cash.ID, Debit: dec(t, "10.00")},
			{AccountId: accB.Sales.ID, Credit: dec(t, "10.00")},
		},
	})
	if err != nil {
		t.Fatalf("post in B: %v", err)
	}
	if entryB.EntryNumber != 1 {
		t.Fatalf("B's entry number = %d, want 1", entryB.EntryNumber)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("ledger-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("ledger-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=ledger_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}

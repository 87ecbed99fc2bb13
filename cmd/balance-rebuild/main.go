package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/models"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"github.com/sirupsen/logrus"
)

// balance-rebuild recomputes StockBalance projections from the move log.
// Run it after manual data surgery or when a projection is suspected to have
// drifted; the move log is the source of truth, the projection is disposable.
func main() {
	companyID := flag.String("company-id", "", "Required: company id (uuid)")
	locationID := flag.Int("location-id", 0, "Optional: limit to one location")
	itemID := flag.Int("item-id", 0, "Optional: limit to one item (requires --location-id)")
	continueOnError := flag.Bool("continue-on-error", false, "Skip failing keys and continue rebuilding others")
	flag.Parse()

	if strings.TrimSpace(*companyID) == "" {
		fmt.Fprintln(os.Stderr, "--company-id is required")
		os.Exit(1)
	}
	if *itemID > 0 && *locationID == 0 {
		fmt.Fprintln(os.Stderr, "--item-id requires --location-id")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()

	ctx := utils.SetCompanyIdInContext(context.Background(), *companyID)

	type key struct {
		LocationId int
		ItemId     int
	}
	var keys []key
	q := db.WithContext(ctx).Model(&models.StockMove{}).
		Select("DISTINCT location_id, item_id").
		Where("company_id = ?", *companyID)
	if *locationID > 0 {
		q = q.Where("location_id = ?", *locationID)
	}
	if *itemID > 0 {
		q = q.Where("item_id = ?", *itemID)
	}
	if err := q.Scan(&keys).Error; err != nil {
		logger.WithError(err).Fatal("listing stock keys failed")
	}

	rebuilt, failed := 0, 0
	for _, k := range keys {
		balance, err := models.RebuildStockBalance(ctx, k.LocationId, k.ItemId)
		if err != nil {
			failed++
			logger.WithFields(logrus.Fields{
				"company_id":  *companyID,
				"location_id": k.LocationId,
				"item_id":     k.ItemId,
			}).WithError(err).Error("rebuild failed")
			if !*continueOnError {
				os.Exit(1)
			}
			continue
		}
		rebuilt++
		logger.WithFields(logrus.Fields{
			"company_id":    *companyID,
			"location_id":   k.LocationId,
			"item_id":       k.ItemId,
			"qty_on_hand":   balance.QtyOnHand.String(),
			"avg_unit_cost": balance.AvgUnitCost.String(),
			"total_value":   balance.TotalValue.String(),
		}).Info("rebuilt")
	}

	logger.WithFields(logrus.Fields{
		"keys":    len(keys),
		"rebuilt": rebuilt,
		"failed":  failed,
	}).Info("balance rebuild done")
	if failed > 0 {
		os.Exit(1)
	}
}

package app

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dapurstok/backend/internal/config"
	"dapurstok/backend/internal/domain"
	"dapurstok/backend/internal/store/memory"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testConfig() config.Config {
	return config.Config{
		StoreID:             "main-store",
		SweepInterval:       time.Minute,
		ValidationChunkSize: 4,
		ShortfallPolicy:     config.ShortfallClamp,
		InventoryCacheTTL:   time.Second,
	}
}

func TestBuildFallsBackToInMemoryStack(t *testing.T) {
	c, err := Build(context.Background(), testConfig(), quietLogger())
	require.NoError(t, err)
	defer c.Close()

	assert.IsType(t, &memory.Store{}, c.Repo)
	assert.Nil(t, c.Metrics, "metrics are off unless enabled")

	resp, err := c.Service.GetSellableProducts(context.Background(), "")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Products)
}

func TestBuildRejectsMissingRulesFile(t *testing.T) {
	cfg := testConfig()
	cfg.RulesFile = t.TempDir() + "/absent.yaml"

	_, err := Build(context.Background(), cfg, quietLogger())
	require.Error(t, err)
}

func TestAssembleWiresSaleAndSweep(t *testing.T) {
	cfg := testConfig()
	cfg.MetricsEnabled = true
	c := Assemble(cfg, Infra{Repo: memory.NewSeeded()}, quietLogger())

	result, err := c.Service.ProcessSale(context.Background(), domain.SaleRequest{
		TransactionID: "txn-app-1",
		Lines:         []domain.SaleLineItem{{ProductID: "prod-iced-latte", Quantity: 1}},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)

	report, ran, err := c.Sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Contains(t, report.Categories, domain.HealthTemplateDrift)
}

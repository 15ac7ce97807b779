package handlers

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"

	"sevapay/internal/fees"
	"sevapay/internal/gateway/cashfree"
	"sevapay/internal/ledger"
	"sevapay/internal/notify"
	"sevapay/internal/requests"
	"sevapay/internal/vendors/pan"
	"sevapay/internal/vendors/recharge"
	"sevapay/pkg/logging"
)

var (
	db             *sql.DB
	logger         logging.Logger
	walletLedger   *ledger.Ledger
	requestService *requests.Service
	feeScheduler   *fees.Scheduler
	gateway        *cashfree.Client
	rechargeClient *recharge.Client
	panClient      *pan.Client
	notifier       *notify.Notifier
	metrics        *BursarMetrics
)

// BursarMetrics holds all Prometheus metrics for Bursar
type BursarMetrics struct {
	WalletOperations *prometheus.CounterVec
	FeeCharges       *prometheus.CounterVec
	GatewayWebhooks  *prometheus.CounterVec
	VendorCalls      *prometheus.CounterVec
	DBQueries        *prometheus.CounterVec
	DBDuration       *prometheus.HistogramVec
	DBConnections    *prometheus.GaugeVec
}

// Services bundles the domain services the handlers dispatch to
type Services struct {
	Ledger   *ledger.Ledger
	Requests *requests.Service
	Fees     *fees.Scheduler
	Gateway  *cashfree.Client
	Recharge *recharge.Client
	PAN      *pan.Client
	Notifier *notify.Notifier
}

// Init initializes the handlers with database, logger, metrics and services
func Init(database *sql.DB, log logging.Logger, bursarMetrics *BursarMetrics, services Services) {
	db = database
	logger = log
	metrics = bursarMetrics
	walletLedger = services.Ledger
	requestService = services.Requests
	feeScheduler = services.Fees
	gateway = services.Gateway
	rechargeClient = services.Recharge
	panClient = services.PAN
	notifier = services.Notifier
}

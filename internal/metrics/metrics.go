// Package metrics содержит prometheus-метрики реестра наград.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Operations считает успешные денежные и административные операции по видам.
	Operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rewardledger_operations_total",
		Help: "Number of successful ledger operations by kind.",
	}, []string{"operation"})

	// DisbursedAmount считает суммарно выплаченные токены в базовых единицах.
	DisbursedAmount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rewardledger_disbursed_amount_total",
		Help: "Cumulative disbursed amount in token base units.",
	})

	// CustodialBalance отражает последний наблюдавшийся кастодиальный баланс.
	CustodialBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rewardledger_custodial_balance",
		Help: "Custodial balance recorded in the ledger, token base units.",
	})

	// BalanceDrift отражает расхождение между балансом в БД и балансом
	// счёта реестра в системе токенов.
	BalanceDrift = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rewardledger_balance_drift",
		Help: "Difference between recorded and live token balance.",
	})
)

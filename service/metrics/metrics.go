package metrics

import (
	"net/http"

	"PPChatSync/tools/errs"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 结果标签：ok / 错误码名
const (
	ResultOK = "ok"
)

var (
	MessageOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ppchat",
			Subsystem: "message",
			Name:      "ops_total",
			Help:      "Message lifecycle operations by op and result.",
		},
		[]string{"op", "result"},
	)

	MembershipOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ppchat",
			Subsystem: "membership",
			Name:      "ops_total",
			Help:      "Membership operations by op and result.",
		},
		[]string{"op", "result"},
	)

	SeenAdvanced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ppchat",
			Subsystem: "message",
			Name:      "seen_advanced_total",
			Help:      "Messages moved from unseen to seen.",
		},
	)

	SnapshotRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ppchat",
			Subsystem: "view",
			Name:      "snapshot_refresh_total",
			Help:      "Snapshots materialized by the conversation view, by source.",
		},
		[]string{"source"},
	)

	ActiveSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ppchat",
			Subsystem: "view",
			Name:      "active_subscriptions",
			Help:      "Open conversation view subscriptions.",
		},
	)

	ReconcileRepairs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ppchat",
			Subsystem: "reconcile",
			Name:      "repairs_total",
			Help:      "Repairs applied by the membership reconciliation sweep.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(MessageOps)
	prometheus.MustRegister(MembershipOps)
	prometheus.MustRegister(SeenAdvanced)
	prometheus.MustRegister(SnapshotRefreshes)
	prometheus.MustRegister(ActiveSubscriptions)
	prometheus.MustRegister(ReconcileRepairs)
}

// Result 把错误折成低基数的标签值
func Result(err error) string {
	if err == nil {
		return ResultOK
	}
	switch errs.CodeOf(err) {
	case errs.ArgsError:
		return "validation"
	case errs.NoPermissionError:
		return "permission_denied"
	case errs.RecordNotFoundError:
		return "not_found"
	case errs.PartialWriteError:
		return "partial_write"
	case errs.NoSessionError:
		return "no_session"
	case errs.StoreUnavailableError:
		return "store_unavailable"
	}
	return "internal"
}

// ObserveMessage / ObserveMembership 在操作返回时调用：defer metrics.ObserveMessage("send", &err)
func ObserveMessage(op string, err *error) {
	MessageOps.WithLabelValues(op, Result(*err)).Inc()
}

func ObserveMembership(op string, err *error) {
	MembershipOps.WithLabelValues(op, Result(*err)).Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}

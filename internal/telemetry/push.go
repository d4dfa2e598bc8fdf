package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus/push"
)

// PushJob — имя job в Pushgateway.
const PushJob = "redeploy"

// GroupingLabel — метка группы в Pushgateway.
const GroupingLabel = "service"

// Push отправляет метрики разовой команды в Pushgateway.
//
// Группа метрик определяется именем сервиса (метка service), поэтому каждая
// следующая попытка заменяет метрики предыдущей. Метка name занята
// redeploy_deployments_total и в группировке недопустима.
func Push(ctx context.Context, url, name string, m *Metrics) error {
	if m == nil || url == "" {
		return nil
	}

	err := push.New(url, PushJob).
		Gatherer(m.registry).
		Grouping(GroupingLabel, name).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

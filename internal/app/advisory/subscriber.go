// Package advisory consumes the durable advisories queue and surfaces
// low-stock and out-of-stock notices to the operator log.
// Advisories are informational; failures here never block order flow.
package advisory

import (
	"context"
	"encoding/json"

	"comanda/internal/common/logger"
	"comanda/internal/common/mq"
	"comanda/internal/domain"
)

func Run(ctx context.Context, client *mq.Client, lg *logger.Logger) error {
	deliveries, err := client.Consume(mq.AdvisoriesQueue, "advisory-subscriber", 10)
	if err != nil {
		return err
	}
	lg = lg.With(map[string]any{"queue": mq.AdvisoriesQueue})

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return nil
			}
			var adv domain.Advisory
			if err := json.Unmarshal(msg.Body, &adv); err != nil {
				lg.Error("advisory_decode_failed", err, map[string]any{"body": string(msg.Body)})
				_ = msg.Nack(false, false)
				continue
			}
			lg.Info("advisory_received", map[string]any{
				"kind": adv.Kind, "ref": adv.RefName, "remaining": adv.Remaining, "message": adv.Message,
			})
			_ = msg.Ack(false)
		}
	}
}

// Package alert avisa o operador sobre falhas que exigem atenção humana:
// erro Fatal do fornecedor ou do broker e circuitos abertos.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Kinds de alerta.
const (
	KindFatal         = "fatal"
	KindCircuitOpen   = "circuit_open"
	KindCircuitClosed = "circuit_closed"
)

// Alert é o payload publicado no canal de alertas.
type Alert struct {
	Kind       string    `json:"kind"`
	Dependency string    `json:"dependency"` // "source" | "sink"
	Message    string    `json:"message"`
	Service    string    `json:"service"`
	At         time.Time `json:"at"`
}

// Notifier entrega alertas ao operador.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// RedisNotifier publica alertas em JSON num canal Pub/Sub.
type RedisNotifier struct {
	r       *redis.Client
	channel string
	log     *zap.Logger
}

func NewRedisNotifier(r *redis.Client, channel string, log *zap.Logger) *RedisNotifier {
	return &RedisNotifier{r: r, channel: channel, log: log}
}

// Notify publica o alerta e também o registra no log; falha de publicação
// não impede o registro.
func (n *RedisNotifier) Notify(ctx context.Context, a Alert) error {
	logAlert(n.log, a)

	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if err := n.r.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish alert on %s: %w", n.channel, err)
	}
	return nil
}

// LogNotifier só registra o alerta.
type LogNotifier struct {
	Log *zap.Logger
}

func (n LogNotifier) Notify(_ context.Context, a Alert) error {
	logAlert(n.Log, a)
	return nil
}

func logAlert(log *zap.Logger, a Alert) {
	if log == nil {
		return
	}
	fields := []zap.Field{
		zap.String("kind", a.Kind),
		zap.String("dependency", a.Dependency),
		zap.String("message", a.Message),
	}
	if a.Kind == KindCircuitClosed {
		log.Info("operator alert", fields...)
		return
	}
	log.Error("operator alert", fields...)
}

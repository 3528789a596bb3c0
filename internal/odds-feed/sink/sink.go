// Package sink entrega atualizações admitidas ao broker.
//
// Um Publish que retorna nil significa entrega at-least-once: o broker confirmou
// a escrita. Erros são classificados via feederr (Transient ou Fatal).
package sink

import (
	"context"
	"strconv"

	"github.com/google/uuid"

	"github.com/radieske/odds-feed-service/pkg/contracts/events"
)

// EventSink é a capacidade consumida pelo worker de publicação.
type EventSink interface {
	Publish(ctx context.Context, u events.OddsUpdate) error
	Close() error
}

// messageNamespace gera IDs estáveis: a mesma atualização republicada após um
// retry recebe o mesmo message_id e o consumidor consegue deduplicar.
var messageNamespace = uuid.MustParse("6f1c2d1e-4b8a-5c3e-9d7f-0a1b2c3d4e5f")

// MessageID é o UUIDv5 de market_id + sequence_number.
func MessageID(u events.OddsUpdate) string {
	return uuid.NewSHA1(messageNamespace, []byte(u.MarketID+"#"+strconv.FormatInt(u.SequenceNumber, 10))).String()
}

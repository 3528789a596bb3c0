package topics

const (
	// Odds
	OddsUpdates = "odds_updates"

	// DLQs
	OddsUpdatesDLQ = "odds_updates_dlq"

	// Redis
	OddsStream = "odds:updates"
)

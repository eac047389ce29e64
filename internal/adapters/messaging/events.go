package messaging

type KafkaEvent = string

const (
	ListingUpsertedEvent = "listing_upserted"
	ListingRemovedEvent  = "listing_removed"
	SyncRunFinishedEvent = "sync_run_finished"
)

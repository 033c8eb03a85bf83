package audit

type Config struct {
	// Collection receiving the append-only trail.
	Collection string `envconfig:"COLLECTION" yaml:"collection"`

	// StreamEnabled mirrors every entry as a JSON line on stdout.
	StreamEnabled bool `envconfig:"STREAM_ENABLED" yaml:"stream_enabled"`

	// BufferSize is the size of the async stream channel.
	BufferSize int `envconfig:"BUFFER_SIZE" yaml:"buffer_size"`

	// BlockOnFull determines the stream strategy when the buffer is full.
	// TRUE blocks the append until the line is queued. FALSE drops the mirror
	// copy; the stored entry is unaffected either way.
	BlockOnFull bool `envconfig:"BLOCK_ON_FULL" yaml:"block_on_full"`

	// KafkaTopic enables the Kafka mirror when non-empty.
	KafkaTopic string `envconfig:"KAFKA_TOPIC" yaml:"kafka_topic"`
}

package vectordb

import "time"

// Config controls the Qdrant client.
type Config struct {
	Host       string
	Port       int
	Collection string
	Timeout    time.Duration
}

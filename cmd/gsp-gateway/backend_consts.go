package main

import "time"

const (
	txQueueSize  = 1024 // capacity of the async TX ring feeding the backend transport
	rxBackoffMin = 20 * time.Millisecond
	rxBackoffMax = 500 * time.Millisecond
)

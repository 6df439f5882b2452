package events

import "errors"

var (
	// ErrConfiguration reports a missing or invalid topic/queue identifier.
	ErrConfiguration = errors.New("configuration_error")
	// ErrPublish reports that the topic transport rejected a publish.
	ErrPublish = errors.New("publish_error")
	// ErrTransport reports a queue receive/delete/send failure at the protocol level.
	ErrTransport = errors.New("transport_error")
	// ErrProcessing reports that a single message's handler failed.
	ErrProcessing = errors.New("processing_error")
	// ErrNotImplemented reports a handler that never overrode Handle.
	ErrNotImplemented = errors.New("not_implemented")
	// ErrEntityPublish is the one error kind returned to callers of an entity mutation.
	ErrEntityPublish = errors.New("entity_publish_error")
)

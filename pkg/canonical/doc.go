// Package canonical defines the backend-independent chat model the relay
// speaks on both sides: requests made of role-tagged messages with text,
// image and file parts, and the ordered delta stream produced for them.
//
// Values in this package are immutable once constructed. Parts expose their
// payload through accessors only, so adapters can share a request across
// retries without copying.
package canonical

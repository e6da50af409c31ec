// Package proxy is the OpenAI-compatible front-end of the relay.
//
// It turns chat completion requests into canonical requests for the
// dispatcher and renders the dispatcher's delta streams back as either a
// single chat.completion object or a Server-Sent Events stream of
// chat.completion.chunk objects terminated by "data: [DONE]".
//
// # Request Flow
//
//  1. ParseChatCompletionRequest reads and validates the body.
//  2. ToCanonical converts messages and content parts. Inline images
//     (data: URIs, base64 image sources) are decoded here; remote image
//     URLs are passed through for the adapter to fetch.
//  3. The handler dispatches the canonical request and writes chunks with a
//     ChunkFormatter, or drains the stream with dispatcher.Collect.
//
// # Errors
//
// HandleError maps request errors, terminal stream failures and adapter
// errors to OpenAI error objects. The failure kind becomes the error code:
//
//	{"error": {"message": "...", "type": "authentication_error", "code": "auth_exhausted"}}
//
// A failure that happens after a stream has started is written as an SSE
// error event followed by [DONE].
//
// # Subpackages
//
//   - types: request and response wire types
//   - handlers: chat, websocket, models and generated-file endpoints
//   - middleware: request IDs, logging, recovery, CORS and timeouts
package proxy

// Package handlers provides the HTTP endpoint handlers of the relay.
//
// # Handler Types
//
//   - ChatHandler: POST /v1/chat/completions, aggregated or SSE
//   - WebSocketHandler: GET /v1/chat/completions/ws, the same chunks as
//     websocket text messages
//   - ModelsHandler: GET /v1/models from the dispatcher registry
//   - FilesHandler: GET /files/{name}, attachments saved by backends
//
// # Request Flow
//
//  1. Parse and validate the body (proxy.ParseChatCompletionRequest)
//  2. Convert to a canonical request (proxy.ToCanonical)
//  3. Dispatch and pull deltas from the stream
//  4. Render chunks with a proxy.ChunkFormatter, or drain with
//     dispatcher.Collect
//
// Streaming handlers read the first delta before committing the status
// line. A failure that ends the stream before any output is returned as a
// regular HTTP error; later failures become an error event.
//
// # SSE Format
//
//	data: {"id":"chatcmpl-...","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant"},"finish_reason":null}]}
//
//	data: {"id":"chatcmpl-...","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"Hello"},"finish_reason":null}]}
//
//	data: {"id":"chatcmpl-...","object":"chat.completion.chunk","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}
//
//	data: [DONE]
package handlers

// Package types defines the OpenAI-compatible wire types of the relay's
// front-end.
//
// Request types:
//   - ChatCompletionRequest: body of POST /v1/chat/completions
//   - Message, MessageContent, ContentPart: text and multimodal turns
//     (image_url with data: or http URLs, Anthropic-style base64 image
//     sources, inline files)
//
// Response types:
//   - ChatCompletionStreamChunk: one SSE chunk
//   - ChatCompletionResponse: the aggregated response
//   - ModelList: GET /v1/models
//   - ErrorResponse: every error, streamed or not
package types
